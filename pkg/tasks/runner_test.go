package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/crateworks/crate-validator/pkg/jobs"
	"github.com/crateworks/crate-validator/pkg/notify"
	"github.com/crateworks/crate-validator/pkg/objectstore"
	"github.com/crateworks/crate-validator/pkg/validator"
)

const validMetadata = `{
  "@context": "https://w3id.org/ro/crate/1.1/context",
  "@graph": [
    {"@id": "ro-crate-metadata.json", "@type": "CreativeWork", "about": {"@id": "./"}},
    {
      "@id": "./",
      "@type": "Dataset",
      "name": "Example",
      "description": "Example crate",
      "datePublished": "2024-01-01",
      "license": "MIT",
      "hasPart": [{"@id": "data.txt"}]
    },
    {"@id": "data.txt", "@type": "File"}
  ]
}`

type mockNotifier struct {
	mock.Mock
}

func (m *mockNotifier) Notify(ctx context.Context, url string, payload any) {
	m.Called(url, payload)
}

// fakeStore serves crate directories prepared on local disk.
type fakeStore struct {
	crates     map[string]map[string]string
	resolveErr error
	uploadErr  error
	uploaded   map[string][]byte
	fetchedTo  string
}

func (f *fakeStore) ResolveCrate(_ context.Context, crateID, rootPath string) (*objectstore.Entry, error) {
	if f.resolveErr != nil {
		return nil, f.resolveErr
	}
	if _, ok := f.crates[crateID]; !ok {
		return nil, fmt.Errorf("crate %q: %w", crateID, objectstore.ErrNotFound)
	}
	return &objectstore.Entry{Key: objectstore.CratePrefix(rootPath, crateID) + "/", IsDir: true}, nil
}

func (f *fakeStore) Fetch(_ context.Context, entry *objectstore.Entry, crateID, destDir string) (string, error) {
	root := filepath.Join(destDir, crateID)
	for name, body := range f.crates[crateID] {
		path := filepath.Join(root, name)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return "", err
		}
		if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
			return "", err
		}
	}
	f.fetchedTo = destDir
	return root, nil
}

func (f *fakeStore) UploadResult(_ context.Context, crateID, rootPath string, result []byte) error {
	if f.uploadErr != nil {
		return f.uploadErr
	}
	if f.uploaded == nil {
		f.uploaded = map[string][]byte{}
	}
	f.uploaded[objectstore.ResultKey(rootPath, crateID)] = result
	return nil
}

func newTestValidator(t *testing.T) *validator.Adapter {
	t.Helper()
	reg, err := validator.NewRegistry("", nil)
	require.NoError(t, err)
	return validator.NewAdapter(validator.NewRuleEngine(reg, t.TempDir(), nil), nil)
}

func factoryFor(store *fakeStore) StoreFactory {
	return func(ctx context.Context, cfg objectstore.Config) (Store, error) {
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
		return store, nil
	}
}

var testStoreConfig = objectstore.Config{Endpoint: "localhost:9000", Bucket: "ro-crates"}

func TestRunReferenceStoresResult(t *testing.T) {
	store := &fakeStore{crates: map[string]map[string]string{
		"crate123": {"ro-crate-metadata.json": validMetadata, "data.txt": "hello"},
	}}
	notifier := &mockNotifier{}
	notifier.On("Notify", "http://hook", mock.MatchedBy(func(p any) bool {
		raw, ok := p.(json.RawMessage)
		return ok && json.Valid(raw)
	})).Once()

	work := t.TempDir()
	r := NewRunner(factoryFor(store), newTestValidator(t), notifier, WithWorkDir(work))
	value, err := r.RunReference(context.Background(), ReferencePayload{
		Store:      testStoreConfig,
		CrateID:    "crate123",
		RootPath:   "base",
		WebhookURL: "http://hook",
	})
	require.NoError(t, err)

	stored := store.uploaded["base/crate123_validation/validation_status.txt"]
	require.NotNil(t, stored)
	var res validator.Result
	require.NoError(t, json.Unmarshal(stored, &res))
	assert.True(t, res.Passed, "issues: %v", res.Issues)
	assert.Equal(t, "ro-crate-1.1", res.ProfileIdentifier)
	assert.JSONEq(t, string(stored), string(value))
	notifier.AssertExpectations(t)

	entries, err := os.ReadDir(work)
	require.NoError(t, err)
	assert.Empty(t, entries, "work directory must be cleaned up")
}

func TestRunReferenceInvalidCrateStillStored(t *testing.T) {
	store := &fakeStore{crates: map[string]map[string]string{
		"crate123": {"ro-crate-metadata.json": validMetadata},
	}}
	r := NewRunner(factoryFor(store), newTestValidator(t), nil, WithWorkDir(t.TempDir()))

	_, err := r.RunReference(context.Background(), ReferencePayload{Store: testStoreConfig, CrateID: "crate123"})
	require.NoError(t, err)

	var res validator.Result
	require.NoError(t, json.Unmarshal(store.uploaded["crate123_validation/validation_status.txt"], &res))
	assert.False(t, res.Passed)
}

func TestRunReferenceFailures(t *testing.T) {
	tests := []struct {
		name    string
		store   *fakeStore
		cfg     objectstore.Config
		payload ReferencePayload
		wantErr string
	}{
		{
			name:    "missing crate",
			store:   &fakeStore{},
			cfg:     testStoreConfig,
			wantErr: "No RO-Crate with prefix: crate123",
		},
		{
			name:    "store error",
			store:   &fakeStore{resolveErr: &objectstore.Error{Kind: objectstore.StoreError, Err: errors.New("denied")}},
			cfg:     testStoreConfig,
			wantErr: "MinIO S3 Error",
		},
		{
			name:    "bad store config",
			store:   &fakeStore{},
			cfg:     objectstore.Config{Endpoint: "localhost:9000"},
			wantErr: "Configuration Error",
		},
		{
			name:    "no metadata in crate",
			store:   &fakeStore{crates: map[string]map[string]string{"crate123": {"readme.txt": "hi"}}},
			cfg:     testStoreConfig,
			wantErr: "Validation failed: could not locate ro-crate-metadata.json",
		},
		{
			name: "upload error",
			store: &fakeStore{
				crates:    map[string]map[string]string{"crate123": {"ro-crate-metadata.json": validMetadata, "data.txt": "x"}},
				uploadErr: &objectstore.Error{Kind: objectstore.StoreError, Err: errors.New("bucket gone")},
			},
			cfg:     testStoreConfig,
			wantErr: "bucket gone",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			notifier := &mockNotifier{}
			notifier.On("Notify", "http://hook", mock.MatchedBy(func(p any) bool {
				n, ok := p.(FailureNotice)
				return ok && n.ProfileName != nil && *n.ProfileName == "ro-crate-1.1" && n.Error != ""
			})).Once()

			r := NewRunner(factoryFor(tc.store), newTestValidator(t), notifier, WithWorkDir(t.TempDir()))
			_, err := r.RunReference(context.Background(), ReferencePayload{
				Store:       tc.cfg,
				CrateID:     "crate123",
				ProfileName: "ro-crate-1.1",
				WebhookURL:  "http://hook",
			})
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.wantErr)
			assert.Empty(t, tc.store.uploaded)
			notifier.AssertExpectations(t)
		})
	}
}

func TestRunMetadata(t *testing.T) {
	notifier := &mockNotifier{}
	notifier.On("Notify", "http://hook", mock.Anything).Once()

	r := NewRunner(nil, newTestValidator(t), notifier, WithWorkDir(t.TempDir()))
	value := r.RunMetadata(context.Background(), MetadataPayload{CrateJSON: validMetadata, WebhookURL: "http://hook"})

	var res validator.Result
	require.NoError(t, json.Unmarshal(value, &res))
	assert.True(t, res.Passed, "the payload check is skipped for metadata-only crates: %v", res.Issues)
	assert.Equal(t, 1, res.Summary.ChecksSkipped)
	notifier.AssertExpectations(t)
}

func TestRunMetadataReturnsFailureReason(t *testing.T) {
	notifier := &mockNotifier{}
	notifier.On("Notify", "http://hook", mock.MatchedBy(func(p any) bool {
		n, ok := p.(FailureNotice)
		return ok && n.ProfileName != nil && *n.ProfileName == "unknown-profile"
	})).Once()

	r := NewRunner(nil, newTestValidator(t), notifier, WithWorkDir(t.TempDir()))
	value := r.RunMetadata(context.Background(), MetadataPayload{
		CrateJSON:   validMetadata,
		ProfileName: "unknown-profile",
		WebhookURL:  "http://hook",
	})
	assert.Contains(t, string(value), "profile not found")
	assert.False(t, json.Valid(value))
	notifier.AssertExpectations(t)
}

func TestFailureNoticeShape(t *testing.T) {
	data, err := json.Marshal(newFailureNotice("", errors.New("boom")))
	require.NoError(t, err)
	assert.JSONEq(t, `{"profile_name": null, "error": "boom"}`, string(data))
}

func TestLookupDecodesPayload(t *testing.T) {
	r := NewRunner(nil, newTestValidator(t), nil, WithWorkDir(t.TempDir()))

	runner, ok := r.Lookup(jobs.KindByMetadata)
	require.True(t, ok)
	payload, err := json.Marshal(MetadataPayload{CrateJSON: validMetadata})
	require.NoError(t, err)
	value, err := runner.Run(context.Background(), &jobs.ValidationJob{Kind: jobs.KindByMetadata, Payload: string(payload)})
	require.NoError(t, err)
	assert.True(t, json.Valid(value))

	runner, ok = r.Lookup(jobs.KindByReference)
	require.True(t, ok)
	_, err = runner.Run(context.Background(), &jobs.ValidationJob{Kind: jobs.KindByReference, Payload: "{"})
	assert.Error(t, err)

	_, ok = r.Lookup(jobs.JobKind("other"))
	assert.False(t, ok)
}

// stuckValidator blocks until the task deadline passes.
type stuckValidator struct{}

func (stuckValidator) Validate(ctx context.Context, _ *validator.Settings) validator.Outcome {
	<-ctx.Done()
	return validator.Outcome{Failure: ctx.Err().Error()}
}

func failureReceiver(t *testing.T, hits *atomic.Int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var notice map[string]any
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&notice))
		assert.Contains(t, notice["error"], "deadline exceeded")
		hits.Add(1)
		w.WriteHeader(http.StatusNoContent)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestFailureNoticeSurvivesTaskTimeout(t *testing.T) {
	var hits atomic.Int32
	srv := failureReceiver(t, &hits)
	sender := notify.NewSender(notify.WithTimeout(5*time.Second), notify.WithRetries(0))

	store := &fakeStore{crates: map[string]map[string]string{
		"crate123": {"ro-crate-metadata.json": validMetadata, "data.txt": "x"},
	}}
	r := NewRunner(factoryFor(store), stuckValidator{}, sender, WithWorkDir(t.TempDir()))

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_, err := r.RunReference(ctx, ReferencePayload{
		Store:      testStoreConfig,
		CrateID:    "crate123",
		WebhookURL: srv.URL,
	})
	require.Error(t, err)
	assert.Equal(t, int32(1), hits.Load())

	ctx, cancel = context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	value := r.RunMetadata(ctx, MetadataPayload{CrateJSON: validMetadata, WebhookURL: srv.URL})
	assert.Contains(t, string(value), "deadline exceeded")
	assert.Equal(t, int32(2), hits.Load())
}
