// Package tasks holds the bodies of the validation jobs run by the worker
// pool.
package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/gowebpki/jcs"

	"github.com/crateworks/crate-validator/pkg/crate"
	"github.com/crateworks/crate-validator/pkg/jobs"
	"github.com/crateworks/crate-validator/pkg/objectstore"
	"github.com/crateworks/crate-validator/pkg/validator"
)

// Store is the part of the object store a task needs.
type Store interface {
	ResolveCrate(ctx context.Context, crateID, rootPath string) (*objectstore.Entry, error)
	Fetch(ctx context.Context, entry *objectstore.Entry, crateID, destDir string) (string, error)
	UploadResult(ctx context.Context, crateID, rootPath string, result []byte) error
}

// StoreFactory builds a store client for the configuration carried by a job.
type StoreFactory func(ctx context.Context, cfg objectstore.Config) (Store, error)

// Validator runs the validation engine. Implementations never fail; errors
// are reported in the outcome.
type Validator interface {
	Validate(ctx context.Context, settings *validator.Settings) validator.Outcome
}

// Notifier delivers webhook payloads on a best-effort basis.
type Notifier interface {
	Notify(ctx context.Context, url string, payload any)
}

// Runner executes validation jobs.
type Runner struct {
	stores    StoreFactory
	validator Validator
	notifier  Notifier
	workDir   string
	logger    *slog.Logger
}

// Option configures a Runner.
type Option func(*Runner)

// WithWorkDir sets the parent of the per-job temporary directories.
func WithWorkDir(dir string) Option {
	return func(r *Runner) { r.workDir = dir }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Runner) {
		if l != nil {
			r.logger = l
		}
	}
}

// NewRunner creates a Runner.
func NewRunner(stores StoreFactory, v Validator, n Notifier, opts ...Option) *Runner {
	r := &Runner{stores: stores, validator: v, notifier: n, logger: slog.Default()}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Lookup returns the job runner for kind. It plugs into jobs.WorkerPool.
func (r *Runner) Lookup(kind jobs.JobKind) (jobs.Runner, bool) {
	switch kind {
	case jobs.KindByReference:
		return jobs.RunnerFunc(func(ctx context.Context, job *jobs.ValidationJob) ([]byte, error) {
			var p ReferencePayload
			if err := json.Unmarshal([]byte(job.Payload), &p); err != nil {
				return nil, fmt.Errorf("decode job payload: %w", err)
			}
			return r.RunReference(ctx, p)
		}), true
	case jobs.KindByMetadata:
		return jobs.RunnerFunc(func(ctx context.Context, job *jobs.ValidationJob) ([]byte, error) {
			var p MetadataPayload
			if err := json.Unmarshal([]byte(job.Payload), &p); err != nil {
				return nil, fmt.Errorf("decode job payload: %w", err)
			}
			return r.RunMetadata(ctx, p), nil
		}), true
	}
	return nil, false
}

// RunReference fetches the crate from the object store, validates it and
// stores the result next to it. Any failure is reported to the webhook and
// returned; nothing is stored in that case.
func (r *Runner) RunReference(ctx context.Context, p ReferencePayload) (result []byte, err error) {
	logger := r.logger.With("crateID", p.CrateID, "bucket", p.Store.Bucket)

	defer func() {
		if err != nil {
			logger.Error("error processing validation task", "error", err)
			r.notify(ctx, p.WebhookURL, newFailureNotice(p.ProfileName, err))
		}
	}()

	store, err := r.stores(ctx, p.Store)
	if err != nil {
		return nil, err
	}
	entry, err := store.ResolveCrate(ctx, p.CrateID, p.RootPath)
	if err != nil {
		if errors.Is(err, objectstore.ErrNotFound) {
			return nil, fmt.Errorf("No RO-Crate with prefix: %s", p.CrateID)
		}
		return nil, err
	}

	dir, err := os.MkdirTemp(r.workDir, "crate-")
	if err != nil {
		return nil, fmt.Errorf("create work directory: %w", err)
	}
	defer r.cleanup(dir)

	local, err := store.Fetch(ctx, entry, p.CrateID, dir)
	if err != nil {
		return nil, err
	}
	logger.Info("processing validation task", "path", local)

	settings := validator.NewSettings().
		WithCratePath(local).
		WithProfile(p.ProfileName).
		WithProfilesPath(p.ProfilesPath)
	outcome := r.validator.Validate(ctx, settings)
	if outcome.Failed() {
		return nil, fmt.Errorf("Validation failed: %s", outcome.Failure)
	}

	if outcome.Result.Passed {
		logger.Info("RO-Crate is valid", "profile", outcome.Result.ProfileIdentifier)
	} else {
		logger.Info("RO-Crate is invalid", "profile", outcome.Result.ProfileIdentifier, "issues", len(outcome.Result.Issues))
	}

	raw, err := outcome.Result.JSON()
	if err != nil {
		return nil, fmt.Errorf("encode validation result: %w", err)
	}
	if err := store.UploadResult(ctx, p.CrateID, p.RootPath, raw); err != nil {
		return nil, err
	}

	r.notify(ctx, p.WebhookURL, json.RawMessage(raw))
	return canonical(raw), nil
}

// RunMetadata validates an inline metadata document. It never fails: when
// validation cannot run, the reason is returned as the value.
func (r *Runner) RunMetadata(ctx context.Context, p MetadataPayload) []byte {
	value, err := r.validateMetadata(ctx, p)
	if err != nil {
		r.logger.Error("error processing metadata validation task", "error", err)
		r.notify(ctx, p.WebhookURL, newFailureNotice(p.ProfileName, err))
		return []byte(err.Error())
	}
	r.notify(ctx, p.WebhookURL, json.RawMessage(value))
	return value
}

func (r *Runner) validateMetadata(ctx context.Context, p MetadataPayload) ([]byte, error) {
	dir, err := crate.WriteMetadataOnly(r.workDir, []byte(p.CrateJSON))
	if err != nil {
		return nil, fmt.Errorf("create metadata-only crate: %w", err)
	}
	defer r.cleanup(dir)

	settings := validator.NewSettings().
		WithCratePath(dir).
		WithProfile(p.ProfileName).
		WithProfilesPath(p.ProfilesPath).
		WithSkipChecks(validator.MetadataOnlySkipChecks...)
	outcome := r.validator.Validate(ctx, settings)
	if outcome.Failed() {
		return nil, errors.New(outcome.Failure)
	}

	raw, err := outcome.Result.JSON()
	if err != nil {
		return nil, fmt.Errorf("encode validation result: %w", err)
	}
	return canonical(raw), nil
}

// notify delivers payload even when ctx has expired; the notifier bounds
// each attempt with its own timeout.
func (r *Runner) notify(ctx context.Context, url string, payload any) {
	if url == "" || r.notifier == nil {
		return
	}
	r.notifier.Notify(context.WithoutCancel(ctx), url, payload)
}

func (r *Runner) cleanup(dir string) {
	if _, err := os.Stat(dir); err != nil {
		return
	}
	if err := os.RemoveAll(dir); err != nil {
		r.logger.Warn("failed to remove work directory", "path", dir, "error", err)
	}
}

func canonical(raw []byte) []byte {
	out, err := jcs.Transform(raw)
	if err != nil {
		return raw
	}
	return out
}
