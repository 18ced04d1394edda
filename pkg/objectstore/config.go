package objectstore

import (
	"errors"
	"strings"
	"time"
)

const defaultRegion = "us-east-1"

// Config locates a bucket on an S3-compatible object store. The JSON shape
// matches the minio_config request field.
type Config struct {
	Endpoint  string `json:"endpoint" yaml:"endpoint" validate:"required"`
	AccessKey string `json:"accesskey" yaml:"accesskey"`
	Secret    string `json:"secret" yaml:"secret"`
	SSL       bool   `json:"ssl" yaml:"ssl"`
	Bucket    string `json:"bucket" yaml:"bucket" validate:"required"`

	Region  string        `json:"region,omitempty" yaml:"region"`
	Timeout time.Duration `json:"-" yaml:"-"`
}

// Validate reports missing fields as a ConfigError.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Endpoint) == "" {
		return newError(ConfigError, "", errors.New("object store endpoint is not set"))
	}
	if strings.TrimSpace(c.Bucket) == "" {
		return newError(ConfigError, "", errors.New("object store bucket name is not set"))
	}
	return nil
}

// BaseURL returns the endpoint with a scheme derived from SSL. Endpoints that
// already carry a scheme are returned unchanged.
func (c Config) BaseURL() string {
	if strings.HasPrefix(c.Endpoint, "http://") || strings.HasPrefix(c.Endpoint, "https://") {
		return c.Endpoint
	}
	if c.SSL {
		return "https://" + c.Endpoint
	}
	return "http://" + c.Endpoint
}

func (c Config) region() string {
	if c.Region == "" {
		return defaultRegion
	}
	return c.Region
}

// Redacted returns a copy safe to log or return to clients.
func (c Config) Redacted() Config {
	out := c
	if out.Secret != "" {
		out.Secret = "********"
	}
	return out
}
