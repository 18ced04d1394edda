package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(viper.New(), "")
	require.NoError(t, err)

	assert.Equal(t, ":5001", cfg.ListenAddr)
	assert.Equal(t, EnvProduction, cfg.AppEnv)
	assert.False(t, cfg.Development())
	assert.Contains(t, cfg.BrokerURL, "sqlite://")
	assert.Empty(t, cfg.ResultBackendURL)
	assert.Equal(t, 30*time.Second, cfg.Store.Timeout)
	assert.Equal(t, 3, cfg.Jobs.Concurrency)
	assert.Equal(t, 10*time.Minute, cfg.Jobs.TaskTimeout)
	assert.Equal(t, 7, cfg.Jobs.RetentionDays)
	assert.False(t, cfg.Jobs.Deduplicate)
	assert.True(t, cfg.EmbeddedWorker)
	assert.True(t, cfg.Jobs.Enabled)
	assert.Equal(t, 10*time.Second, cfg.WebhookTimeout)
	assert.Equal(t, 2, cfg.WebhookRetries)
	assert.Equal(t, 5*time.Minute, cfg.MetadataWaitTimeout)
	assert.Zero(t, cfg.RateLimitRPS)
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("LISTEN_ADDR", ":8080")
	t.Setenv("APP_ENV", "Development")
	t.Setenv("BROKER_URL", "postgres://user:pw@db:5432/jobs")
	t.Setenv("RESULT_BACKEND_URL", "redis://cache:6379/0")
	t.Setenv("MINIO_ENDPOINT", "minio:9000")
	t.Setenv("MINIO_ACCESS_KEY", "minio")
	t.Setenv("MINIO_SECRET_KEY", "minio123")
	t.Setenv("MINIO_BUCKET_NAME", "ro-crates")
	t.Setenv("MINIO_SSL", "true")
	t.Setenv("STORE_TIMEOUT", "5s")
	t.Setenv("JOB_CONCURRENCY", "8")
	t.Setenv("JOB_TASK_TIMEOUT", "2m")
	t.Setenv("JOB_CLAIM_TIMEOUT", "1m")
	t.Setenv("JOB_DEDUPLICATE", "true")
	t.Setenv("EMBEDDED_WORKER", "false")
	t.Setenv("API_RATE_LIMIT_RPS", "2.5")
	t.Setenv("METADATA_WAIT_TIMEOUT", "45s")

	cfg, err := Load(viper.New(), "")
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.ListenAddr)
	assert.True(t, cfg.Development())
	assert.Equal(t, "postgres://user:pw@db:5432/jobs", cfg.BrokerURL)
	assert.Equal(t, "redis://cache:6379/0", cfg.ResultBackendURL)
	assert.Equal(t, "minio:9000", cfg.Store.Endpoint)
	assert.Equal(t, "minio", cfg.Store.AccessKey)
	assert.Equal(t, "minio123", cfg.Store.Secret)
	assert.Equal(t, "ro-crates", cfg.Store.Bucket)
	assert.True(t, cfg.Store.SSL)
	assert.Equal(t, 5*time.Second, cfg.Store.Timeout)
	assert.Equal(t, 8, cfg.Jobs.Concurrency)
	assert.Equal(t, 2*time.Minute, cfg.Jobs.TaskTimeout)
	assert.Equal(t, 3*time.Minute, cfg.Jobs.ClaimTimeout, "claim timeout is raised above the task timeout")
	assert.True(t, cfg.Jobs.Deduplicate)
	assert.False(t, cfg.EmbeddedWorker)
	assert.False(t, cfg.Jobs.Enabled)
	assert.InDelta(t, 2.5, cfg.RateLimitRPS, 0.0001)
	assert.Equal(t, 45*time.Second, cfg.MetadataWaitTimeout)

	assert.Equal(t, "********", cfg.Redacted().Store.Secret)
	assert.Equal(t, "minio123", cfg.Store.Secret)
}

func TestLoadMinioRootCredentials(t *testing.T) {
	t.Setenv("MINIO_ROOT_USER", "root")
	t.Setenv("MINIO_ROOT_PASSWORD", "rootpw")

	cfg, err := Load(viper.New(), "")
	require.NoError(t, err)
	assert.Equal(t, "root", cfg.Store.AccessKey)
	assert.Equal(t, "rootpw", cfg.Store.Secret)
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
listen_addr: ":9090"
minio_endpoint: "files:9000"
minio_bucket_name: "from-file"
job_poll_interval: 250ms
webhook_retries: 5
`), 0o600))
	t.Setenv("MINIO_BUCKET_NAME", "from-env")

	cfg, err := Load(viper.New(), path)
	require.NoError(t, err)
	assert.Equal(t, ":9090", cfg.ListenAddr)
	assert.Equal(t, "files:9000", cfg.Store.Endpoint)
	assert.Equal(t, "from-env", cfg.Store.Bucket)
	assert.Equal(t, 250*time.Millisecond, cfg.Jobs.PollInterval)
	assert.Equal(t, 5, cfg.WebhookRetries)
}

func TestLoadErrors(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		file string
	}{
		{name: "bad app env", env: map[string]string{"APP_ENV": "staging"}},
		{name: "negative retries", env: map[string]string{"WEBHOOK_RETRIES": "-1"}},
		{name: "zero wait", env: map[string]string{"METADATA_WAIT_TIMEOUT": "0s"}},
		{name: "missing file", file: "does-not-exist.yaml"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			for k, v := range tc.env {
				t.Setenv(k, v)
			}
			file := tc.file
			if file != "" {
				file = filepath.Join(t.TempDir(), file)
			}
			_, err := Load(viper.New(), file)
			assert.Error(t, err)
		})
	}
}
