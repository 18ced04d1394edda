// Package config loads the service configuration from the environment and an
// optional YAML file.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/crateworks/crate-validator/pkg/jobs"
	"github.com/crateworks/crate-validator/pkg/objectstore"
)

const (
	EnvProduction  = "production"
	EnvDevelopment = "development"
)

// Config is the runtime configuration of the server and worker binaries.
type Config struct {
	ListenAddr string
	AppEnv     string

	BrokerURL        string
	ResultBackendURL string
	ResultTTL        time.Duration

	Store        objectstore.Config
	ProfilesPath string
	WorkDir      string

	Jobs jobs.JobConfig

	WebhookTimeout      time.Duration
	WebhookRetries      int
	MetadataWaitTimeout time.Duration

	RateLimitRPS   float64
	RateLimitBurst int
	EmbeddedWorker bool
}

// Development reports whether debug logging should be enabled.
func (c *Config) Development() bool { return c.AppEnv == EnvDevelopment }

// Redacted returns a copy safe to log.
func (c *Config) Redacted() Config {
	out := *c
	out.Store = c.Store.Redacted()
	return out
}

func setDefaults(v *viper.Viper) {
	def := jobs.DefaultJobConfig()

	v.SetDefault("listen_addr", ":5001")
	v.SetDefault("app_env", EnvProduction)
	v.SetDefault("broker_url", "sqlite://file::memory:?cache=shared")
	v.SetDefault("result_backend_url", "")
	v.SetDefault("result_ttl", 24*time.Hour)

	v.SetDefault("minio_endpoint", "")
	v.SetDefault("minio_access_key", "")
	v.SetDefault("minio_secret_key", "")
	v.SetDefault("minio_bucket_name", "")
	v.SetDefault("minio_ssl", false)
	v.SetDefault("store_timeout", 30*time.Second)

	v.SetDefault("profiles_path", "")
	v.SetDefault("work_dir", "")

	v.SetDefault("job_concurrency", def.Concurrency)
	v.SetDefault("job_max_retries", def.MaxRetries)
	v.SetDefault("job_poll_interval", def.PollInterval)
	v.SetDefault("job_claim_timeout", def.ClaimTimeout)
	v.SetDefault("job_retention", def.RetentionDays)
	v.SetDefault("job_task_timeout", def.TaskTimeout)
	v.SetDefault("job_deduplicate", def.Deduplicate)

	v.SetDefault("webhook_timeout", 10*time.Second)
	v.SetDefault("webhook_retries", 2)
	v.SetDefault("metadata_wait_timeout", 5*time.Minute)

	v.SetDefault("api_rate_limit_rps", 0.0)
	v.SetDefault("api_rate_limit_burst", 20)
	v.SetDefault("embedded_worker", true)
}

// Load reads the configuration. Environment variables override values from
// file, which override defaults. An empty file skips the file.
func Load(v *viper.Viper, file string) (*Config, error) {
	if v == nil {
		v = viper.New()
	}
	setDefaults(v)

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// The MinIO server variable names are accepted for the credentials.
	_ = v.BindEnv("minio_access_key", "MINIO_ACCESS_KEY", "MINIO_ROOT_USER")
	_ = v.BindEnv("minio_secret_key", "MINIO_SECRET_KEY", "MINIO_ROOT_PASSWORD")

	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file %s: %w", file, err)
		}
	}

	cfg := &Config{
		ListenAddr:       v.GetString("listen_addr"),
		AppEnv:           strings.ToLower(v.GetString("app_env")),
		BrokerURL:        v.GetString("broker_url"),
		ResultBackendURL: v.GetString("result_backend_url"),
		ResultTTL:        v.GetDuration("result_ttl"),
		Store: objectstore.Config{
			Endpoint:  v.GetString("minio_endpoint"),
			AccessKey: v.GetString("minio_access_key"),
			Secret:    v.GetString("minio_secret_key"),
			Bucket:    v.GetString("minio_bucket_name"),
			SSL:       v.GetBool("minio_ssl"),
			Timeout:   v.GetDuration("store_timeout"),
		},
		ProfilesPath: v.GetString("profiles_path"),
		WorkDir:      v.GetString("work_dir"),
		Jobs: jobs.JobConfig{
			Concurrency:   v.GetInt("job_concurrency"),
			MaxRetries:    v.GetInt("job_max_retries"),
			PollInterval:  v.GetDuration("job_poll_interval"),
			ClaimTimeout:  v.GetDuration("job_claim_timeout"),
			RetentionDays: v.GetInt("job_retention"),
			TaskTimeout:   v.GetDuration("job_task_timeout"),
			Deduplicate:   v.GetBool("job_deduplicate"),
			Enabled:       v.GetBool("embedded_worker"),
		},
		WebhookTimeout:      v.GetDuration("webhook_timeout"),
		WebhookRetries:      v.GetInt("webhook_retries"),
		MetadataWaitTimeout: v.GetDuration("metadata_wait_timeout"),
		RateLimitRPS:        v.GetFloat64("api_rate_limit_rps"),
		RateLimitBurst:      v.GetInt("api_rate_limit_burst"),
		EmbeddedWorker:      v.GetBool("embedded_worker"),
	}
	cfg.Jobs.Normalize()

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.AppEnv {
	case EnvProduction, EnvDevelopment:
	default:
		return fmt.Errorf("invalid APP_ENV %q: expected %s or %s", c.AppEnv, EnvProduction, EnvDevelopment)
	}
	if c.BrokerURL == "" {
		return fmt.Errorf("BROKER_URL must not be empty")
	}
	if c.WebhookRetries < 0 {
		return fmt.Errorf("WEBHOOK_RETRIES must not be negative")
	}
	if c.MetadataWaitTimeout <= 0 {
		return fmt.Errorf("METADATA_WAIT_TIMEOUT must be positive")
	}
	return nil
}
