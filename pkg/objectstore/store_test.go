package objectstore

import (
	"context"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"testing"

	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(api *fakeAPI) *Store {
	return NewWithAPI(api, Config{Endpoint: "localhost:9000", Bucket: "test-bucket"}, nil)
}

func TestCratePrefix(t *testing.T) {
	assert.Equal(t, "crate123", CratePrefix("", "crate123"))
	assert.Equal(t, "my/path/crate123", CratePrefix("my/path", "crate123"))
	assert.Equal(t, "my/path/crate123", CratePrefix("/my/path/", "crate123"))
	assert.Equal(t, "my/storage/crate123_validation/validation_status.txt", ResultKey("my/storage", "crate123"))
	assert.Equal(t, "crate123_validation/validation_status.txt", ResultKey("", "crate123"))
}

func TestConfigValidate(t *testing.T) {
	err := Config{Bucket: "b"}.Validate()
	var se *Error
	require.ErrorAs(t, err, &se)
	assert.Equal(t, ConfigError, se.Kind)
	assert.Contains(t, err.Error(), "Configuration Error")

	err = Config{Endpoint: "localhost:9000"}.Validate()
	require.ErrorAs(t, err, &se)
	assert.Equal(t, ConfigError, se.Kind)

	assert.NoError(t, Config{Endpoint: "localhost:9000", Bucket: "b"}.Validate())
}

func TestConfigBaseURL(t *testing.T) {
	assert.Equal(t, "http://localhost:9000", Config{Endpoint: "localhost:9000"}.BaseURL())
	assert.Equal(t, "https://minio.example.org", Config{Endpoint: "minio.example.org", SSL: true}.BaseURL())
	assert.Equal(t, "http://already:9000", Config{Endpoint: "http://already:9000", SSL: true}.BaseURL())
}

func TestConfigRedacted(t *testing.T) {
	cfg := Config{Endpoint: "e", Secret: "password123", Bucket: "b"}
	assert.Equal(t, "********", cfg.Redacted().Secret)
	assert.Equal(t, "password123", cfg.Secret)
}

func TestListGroupsDirectories(t *testing.T) {
	api := newFakeAPI("path/a.txt", "path/sub/b.txt", "path/sub/c.txt", "other/d.txt")
	s := newTestStore(api)

	entries, err := s.List(context.Background(), "path/", false)
	require.NoError(t, err)
	assert.Equal(t, []Entry{{Key: "path/a.txt"}, {Key: "path/sub/", IsDir: true}}, entries)

	entries, err = s.List(context.Background(), "path/", true)
	require.NoError(t, err)
	assert.Len(t, entries, 3)
}

func TestListErrorsAreTagged(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		kind    ErrorKind
		message string
	}{
		{"api error", &smithy.GenericAPIError{Code: "AccessDenied", Message: "denied"}, StoreError, "MinIO S3 Error"},
		{"deadline", context.DeadlineExceeded, StoreError, "MinIO S3 Error"},
		{"unexpected", errors.New("something went wrong"), UnknownError, "Unknown Error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			api := newFakeAPI()
			api.listErr = tt.err
			_, err := newTestStore(api).List(context.Background(), "path/", true)

			var se *Error
			require.ErrorAs(t, err, &se)
			assert.Equal(t, tt.kind, se.Kind)
			assert.Equal(t, http.StatusInternalServerError, se.StatusCode())
			assert.Contains(t, err.Error(), tt.message)
		})
	}
}

func TestResolveCrate(t *testing.T) {
	tests := []struct {
		name     string
		keys     []string
		crateID  string
		rootPath string
		want     Entry
	}{
		{"directory", []string{"my/path/rocrate123/ro-crate-metadata.json"}, "rocrate123", "my/path", Entry{Key: "my/path/rocrate123/", IsDir: true}},
		{"zip", []string{"my/path/rocrate123.zip"}, "rocrate123", "my/path", Entry{Key: "my/path/rocrate123.zip"}},
		{"no root path", []string{"rocrate123.zip"}, "rocrate123", "", Entry{Key: "rocrate123.zip"}},
		{"zip listed before directory", []string{"rocrate123.zip", "rocrate123/a.txt"}, "rocrate123", "", Entry{Key: "rocrate123.zip"}},
		{"ignores similar names", []string{"rocrate1234.zip", "rocrate123_validation/validation_status.txt", "rocrate123/x"}, "rocrate123", "", Entry{Key: "rocrate123/", IsDir: true}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestStore(newFakeAPI(tt.keys...))
			got, err := s.ResolveCrate(context.Background(), tt.crateID, tt.rootPath)
			require.NoError(t, err)
			assert.Equal(t, tt.want, *got)
		})
	}
}

func TestResolveCrateNotFound(t *testing.T) {
	s := newTestStore(newFakeAPI("something_else", "another_dir/file"))
	_, err := s.ResolveCrate(context.Background(), "rocrate123", "")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestResolveResult(t *testing.T) {
	s := newTestStore(newFakeAPI("my/storage/rocrate123_validation/validation_status.txt"))
	got, err := s.ResolveResult(context.Background(), "rocrate123", "my/storage")
	require.NoError(t, err)
	assert.Equal(t, "my/storage/rocrate123_validation/validation_status.txt", got.Key)

	_, err = s.ResolveResult(context.Background(), "rocrate999", "")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFetchZip(t *testing.T) {
	api := newFakeAPI("some/path/rocrate123.zip")
	s := newTestStore(api)
	dest := t.TempDir()

	local, err := s.Fetch(context.Background(), &Entry{Key: "some/path/rocrate123.zip"}, "rocrate123", dest)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dest, "rocrate123.zip"), local)

	data, err := os.ReadFile(local)
	require.NoError(t, err)
	assert.Equal(t, "content of some/path/rocrate123.zip", string(data))
}

func TestFetchDirectory(t *testing.T) {
	api := newFakeAPI(
		"rocrates/rocrate124/ro-crate-metadata.json",
		"rocrates/rocrate124/data/file1.txt",
		"rocrates/rocrate124/data/",
	)
	s := newTestStore(api)
	dest := t.TempDir()

	local, err := s.Fetch(context.Background(), &Entry{Key: "rocrates/rocrate124", IsDir: true}, "rocrate124", dest)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dest, "rocrate124"), local)

	data, err := os.ReadFile(filepath.Join(local, "data", "file1.txt"))
	require.NoError(t, err)
	assert.Equal(t, "content of rocrates/rocrate124/data/file1.txt", string(data))
	assert.FileExists(t, filepath.Join(local, "ro-crate-metadata.json"))
}

func TestFetchEmptyDirectory(t *testing.T) {
	s := newTestStore(newFakeAPI())
	dest := t.TempDir()

	local, err := s.Fetch(context.Background(), &Entry{Key: "rocrate456/", IsDir: true}, "rocrate456", dest)
	require.NoError(t, err)
	assert.DirExists(t, local)
}

func TestFetchStaysInsideDestination(t *testing.T) {
	api := newFakeAPI("../escaped.zip", "../escaped/ro-crate-metadata.json")
	s := newTestStore(api)
	parent := t.TempDir()
	dest := filepath.Join(parent, "work")
	require.NoError(t, os.Mkdir(dest, 0o755))

	entry, err := s.ResolveCrate(context.Background(), "../escaped", "")
	require.NoError(t, err)

	tests := []struct {
		name  string
		entry *Entry
	}{
		{"zip", entry},
		{"directory", &Entry{Key: "../escaped/", IsDir: true}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.Fetch(context.Background(), tt.entry, "../escaped", dest)
			var se *Error
			require.ErrorAs(t, err, &se)
			assert.Contains(t, err.Error(), "escapes the work directory")
		})
	}
	assert.NoFileExists(t, filepath.Join(parent, "escaped.zip"))
	assert.NoDirExists(t, filepath.Join(parent, "escaped"))
}

func TestDownloadError(t *testing.T) {
	api := newFakeAPI()
	api.getErr = &smithy.GenericAPIError{Code: "InternalError", Message: "boom"}
	err := newTestStore(api).Download(context.Background(), "remote/path.txt", filepath.Join(t.TempDir(), "path.txt"))

	var se *Error
	require.ErrorAs(t, err, &se)
	assert.Equal(t, StoreError, se.Kind)
}

func TestUploadResultCanonicalizes(t *testing.T) {
	api := newFakeAPI()
	s := newTestStore(api)

	pretty := []byte("{\n  \"status\": \"valid\",\n  \"errors\": []\n}")
	require.NoError(t, s.UploadResult(context.Background(), "crate123", "", pretty))

	key := "crate123_validation/validation_status.txt"
	assert.Equal(t, `{"errors":[],"status":"valid"}`, string(api.objects[key]))
	assert.Equal(t, "application/json", api.types[key])
}

func TestUploadResultRejectsInvalidJSON(t *testing.T) {
	api := newFakeAPI()
	err := newTestStore(api).UploadResult(context.Background(), "crate123", "", []byte("{"))

	var se *Error
	require.ErrorAs(t, err, &se)
	assert.Equal(t, UnknownError, se.Kind)
	assert.Empty(t, api.objects)
}

func TestUploadResultStoreError(t *testing.T) {
	api := newFakeAPI()
	api.putErr = &smithy.GenericAPIError{Code: "AccessDenied", Message: "denied"}
	err := newTestStore(api).UploadResult(context.Background(), "crate123", "", []byte(`{"status":"valid"}`))

	var se *Error
	require.ErrorAs(t, err, &se)
	assert.Equal(t, StoreError, se.Kind)
}

func TestReadResultIsStable(t *testing.T) {
	api := newFakeAPI()
	api.objects["base/crate123_validation/validation_status.txt"] = []byte(`{"passed":true}`)
	s := newTestStore(api)

	first, err := s.ReadResult(context.Background(), "crate123", "base")
	require.NoError(t, err)
	second, err := s.ReadResult(context.Background(), "crate123", "base")
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.JSONEq(t, `{"passed":true}`, string(first))
}
