// Package objectstore moves crates and validation results to and from an
// S3-compatible object store such as MinIO.
package objectstore

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// API is the subset of the S3 client used by Store.
type API interface {
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Entry is one item of a listing.
type Entry struct {
	Key   string
	IsDir bool
}

// Store is bound to a single bucket.
type Store struct {
	api    API
	cfg    Config
	logger *slog.Logger
}

// New creates a Store for cfg. The SDK retryer is disabled: failed calls are
// reported to the caller, who decides whether to resubmit.
func New(ctx context.Context, cfg Config, logger *slog.Logger) (*Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(cfg.region()),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.Secret, "")),
		awsconfig.WithRetryer(func() aws.Retryer { return aws.NopRetryer{} }),
	)
	if err != nil {
		return nil, newError(ConfigError, "load client config", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(cfg.BaseURL())
		o.UsePathStyle = true // Required for MinIO
	})

	return NewWithAPI(client, cfg, logger), nil
}

// NewWithAPI wraps an existing client.
func NewWithAPI(api API, cfg Config, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{api: api, cfg: cfg, logger: logger}
}

// Bucket returns the bucket the store is bound to.
func (s *Store) Bucket() string { return s.cfg.Bucket }

func (s *Store) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.cfg.Timeout > 0 {
		return context.WithTimeout(ctx, s.cfg.Timeout)
	}
	return context.WithCancel(ctx)
}

// List returns the entries under prefix in lexical key order. When recursive
// is false, keys are grouped on "/" and the groups are returned as
// directory entries.
func (s *Store) List(ctx context.Context, prefix string, recursive bool) ([]Entry, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	input := &s3.ListObjectsV2Input{
		Bucket: aws.String(s.cfg.Bucket),
		Prefix: aws.String(prefix),
	}
	if !recursive {
		input.Delimiter = aws.String("/")
	}

	var entries []Entry
	pager := s3.NewListObjectsV2Paginator(s.api, input)
	for pager.HasMorePages() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			s.logger.Error("object listing failed", "bucket", s.cfg.Bucket, "prefix", prefix, "error", err)
			return nil, classify("list objects", err)
		}
		for _, obj := range page.Contents {
			key := aws.ToString(obj.Key)
			entries = append(entries, Entry{Key: key, IsDir: strings.HasSuffix(key, "/")})
		}
		for _, cp := range page.CommonPrefixes {
			entries = append(entries, Entry{Key: aws.ToString(cp.Prefix), IsDir: true})
		}
	}

	sort.SliceStable(entries, func(i, j int) bool { return entries[i].Key < entries[j].Key })
	return entries, nil
}

// ResolveCrate finds the crate stored as <prefix>.zip or as the directory
// <prefix>/. The first match in listing order wins.
func (s *Store) ResolveCrate(ctx context.Context, crateID, rootPath string) (*Entry, error) {
	prefix := CratePrefix(rootPath, crateID)
	entries, err := s.List(ctx, prefix, false)
	if err != nil {
		return nil, err
	}

	for _, e := range entries {
		switch {
		case !e.IsDir && e.Key == prefix+".zip":
			return &e, nil
		case e.IsDir && strings.TrimSuffix(e.Key, "/") == prefix:
			return &e, nil
		}
	}
	return nil, fmt.Errorf("crate %q: %w", prefix, ErrNotFound)
}

// ResolveResult finds the stored validation result of a crate.
func (s *Store) ResolveResult(ctx context.Context, crateID, rootPath string) (*Entry, error) {
	key := ResultKey(rootPath, crateID)
	entries, err := s.List(ctx, key, true)
	if err != nil {
		return nil, err
	}

	for _, e := range entries {
		if e.Key == key {
			return &e, nil
		}
	}
	return nil, fmt.Errorf("result %q: %w", key, ErrNotFound)
}
