package api

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crateworks/crate-validator/pkg/dispatch"
	"github.com/crateworks/crate-validator/pkg/jobs"
	"github.com/crateworks/crate-validator/pkg/objectstore"
	"github.com/crateworks/crate-validator/pkg/tasks"
	"github.com/crateworks/crate-validator/pkg/validator"
)

// startWorkers runs the real tasks against the in-memory bucket.
func startWorkers(t *testing.T, env *testEnv) {
	t.Helper()
	reg, err := validator.NewRegistry("", nil)
	require.NoError(t, err)
	adapter := validator.NewAdapter(validator.NewRuleEngine(reg, t.TempDir(), nil), nil)
	stores := func(_ context.Context, cfg objectstore.Config) (tasks.Store, error) {
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
		return env.bucket, nil
	}
	runner := tasks.NewRunner(stores, adapter, nil, tasks.WithWorkDir(t.TempDir()))

	cfg := jobs.DefaultJobConfig()
	cfg.PollInterval = 10 * time.Millisecond
	cfg.Concurrency = 2
	cfg.ClaimTimeout = 0
	cfg.RetentionDays = 0
	cfg.TaskTimeout = 5 * time.Second
	pool := jobs.NewWorkerPool(env.queue, env.queue, runner.Lookup, cfg, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		pool.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

func TestValidateByReferenceEndToEnd(t *testing.T) {
	for _, tc := range []struct {
		name  string
		files map[string]string
		pass  bool
	}{
		{"complete crate", map[string]string{"ro-crate-metadata.json": validMetadata, "data.txt": "hello"}, true},
		{"missing data file", map[string]string{"ro-crate-metadata.json": validMetadata}, false},
	} {
		t.Run(tc.name, func(t *testing.T) {
			env := newTestEnv(t, dispatch.Config{})
			env.bucket.put("crate123", tc.files)
			startWorkers(t, env)

			w := env.do(http.MethodPost, "/v1/ro_crates/crate123/validation", `{`+storeBody+`}`)
			require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())

			var body map[string]any
			require.Eventually(t, func() bool {
				w = env.do(http.MethodGet, "/v1/ro_crates/crate123/validation", `{`+storeBody+`}`)
				if w.Code != http.StatusOK {
					return false
				}
				return json.Unmarshal(w.Body.Bytes(), &body) == nil
			}, 5*time.Second, 20*time.Millisecond)

			assert.Equal(t, tc.pass, body["passed"])
			assert.Equal(t, "ro-crate-1.1", body["profile_identifier"])
		})
	}
}

func TestValidateMetadataEndToEnd(t *testing.T) {
	env := newTestEnv(t, dispatch.Config{WaitTimeout: 5 * time.Second})
	startWorkers(t, env)

	w := env.do(http.MethodPost, "/v1/ro_crates/validate_metadata", `{"crate_json": "{\"@context\": \"https://w3id.org/ro/crate/1.1/context\"}"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var body struct {
		Result validator.Result `json:"result"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "ro-crate-1.1", body.Result.ProfileIdentifier)
	assert.False(t, body.Result.Passed)
	assert.NotEmpty(t, body.Result.Issues)
}

func TestValidateMetadataUnknownProfileEndToEnd(t *testing.T) {
	env := newTestEnv(t, dispatch.Config{WaitTimeout: 5 * time.Second})
	startWorkers(t, env)

	w := env.do(http.MethodPost, "/v1/ro_crates/validate_metadata", `{"crate_json": "{\"@graph\": []}", "profile_name": "no-such-profile"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.IsType(t, "", body["result"])
	assert.Contains(t, body["result"], "profile not found")
}
