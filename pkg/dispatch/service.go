// Package dispatch checks validation requests, hands them to the task queue
// and reads stored results back.
package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/crateworks/crate-validator/pkg/jobs"
	"github.com/crateworks/crate-validator/pkg/objectstore"
	"github.com/crateworks/crate-validator/pkg/tasks"
)

// Store is the part of the object store the service reads.
type Store interface {
	ResolveCrate(ctx context.Context, crateID, rootPath string) (*objectstore.Entry, error)
	ResolveResult(ctx context.Context, crateID, rootPath string) (*objectstore.Entry, error)
	ReadResult(ctx context.Context, crateID, rootPath string) ([]byte, error)
}

// StoreFactory builds a store client for a request's configuration.
type StoreFactory func(ctx context.Context, cfg objectstore.Config) (Store, error)

// ReferenceRequest asks for the validation of a crate held in an object store.
type ReferenceRequest struct {
	Store        objectstore.Config
	CrateID      string
	RootPath     string
	ProfileName  string
	WebhookURL   string
	ProfilesPath string
}

// MetadataRequest asks for the validation of an inline metadata document.
type MetadataRequest struct {
	CrateJSON    string
	ProfileName  string
	WebhookURL   string
	ProfilesPath string
}

// ResultRequest locates a stored validation result.
type ResultRequest struct {
	Store    objectstore.Config
	CrateID  string
	RootPath string
}

// MetadataResponse is the outcome of SubmitByMetadata. Result is set when the
// caller waited for the job; Accepted when a webhook will receive it instead.
type MetadataResponse struct {
	JobID    string
	Accepted bool
	Result   any
}

// Config tunes a Service.
type Config struct {
	// DefaultStore is used by requests that carry no store configuration.
	DefaultStore objectstore.Config
	// Deduplicate collapses submissions for a crate that is still queued or
	// running into the existing job.
	Deduplicate bool
	// WaitTimeout bounds the synchronous metadata validation.
	WaitTimeout time.Duration
	// PollInterval is how often a synchronous wait checks the job.
	PollInterval time.Duration
	// ProfilesRoot bounds the profiles_path a request may name. Empty
	// disables per-request profile directories.
	ProfilesRoot string
}

const (
	defaultWaitTimeout  = 5 * time.Minute
	defaultPollInterval = 200 * time.Millisecond
)

// Service is the validation dispatch service.
type Service struct {
	queue   jobs.Queue
	results jobs.ResultBackend
	stores  StoreFactory
	cfg     Config
	logger  *slog.Logger
}

// New creates a Service.
func New(queue jobs.Queue, results jobs.ResultBackend, stores StoreFactory, cfg Config, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.WaitTimeout <= 0 {
		cfg.WaitTimeout = defaultWaitTimeout
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	return &Service{queue: queue, results: results, stores: stores, cfg: cfg, logger: logger}
}

// DefaultStore returns the store configuration of the server.
func (s *Service) DefaultStore() objectstore.Config { return s.cfg.DefaultStore }

// SubmitByReference queues the validation of a crate after checking that it
// exists. It returns the job id.
func (s *Service) SubmitByReference(ctx context.Context, req ReferenceRequest) (string, error) {
	if err := checkCrateID(req.CrateID); err != nil {
		return "", err
	}
	profilesPath, err := s.profilesPath(req.ProfilesPath)
	if err != nil {
		return "", err
	}

	store, err := s.stores(ctx, req.Store)
	if err != nil {
		return "", err
	}
	if _, err := store.ResolveCrate(ctx, req.CrateID, req.RootPath); err != nil {
		if errors.Is(err, objectstore.ErrNotFound) {
			return "", notFound("No RO-Crate with prefix: " + req.CrateID)
		}
		return "", err
	}

	payload, err := json.Marshal(tasks.ReferencePayload{
		Store:        req.Store,
		CrateID:      req.CrateID,
		RootPath:     req.RootPath,
		ProfileName:  req.ProfileName,
		WebhookURL:   req.WebhookURL,
		ProfilesPath: profilesPath,
	})
	if err != nil {
		return "", dispatchFailed("encode task payload", err)
	}

	job := &jobs.ValidationJob{
		ID:      uuid.New().String(),
		Kind:    jobs.KindByReference,
		CrateID: req.CrateID,
		Payload: string(payload),
	}
	if s.cfg.Deduplicate {
		key := req.Store.Bucket + "/" + objectstore.CratePrefix(req.RootPath, req.CrateID)
		job.IdempotencyKey = &key
	}

	queued, err := s.enqueue(ctx, job)
	if err != nil {
		return "", err
	}
	s.logger.Info("validation queued", "jobID", queued.ID, "crateID", req.CrateID, "bucket", req.Store.Bucket)
	return queued.ID, nil
}

// SubmitByMetadata queues the validation of an inline metadata document.
// Without a webhook it waits for the job and returns its value.
func (s *Service) SubmitByMetadata(ctx context.Context, req MetadataRequest) (*MetadataResponse, error) {
	if strings.TrimSpace(req.CrateJSON) == "" {
		return nil, userInput("Missing required parameter: crate_json")
	}
	var doc any
	if err := json.Unmarshal([]byte(req.CrateJSON), &doc); err != nil {
		return nil, userInput("Required parameter crate_json is not valid JSON: " + err.Error())
	}
	if obj, ok := doc.(map[string]any); !ok || len(obj) == 0 {
		return nil, userInput("Required parameter crate_json is empty")
	}
	profilesPath, err := s.profilesPath(req.ProfilesPath)
	if err != nil {
		return nil, err
	}

	payload, err := json.Marshal(tasks.MetadataPayload{
		CrateJSON:    req.CrateJSON,
		ProfileName:  req.ProfileName,
		WebhookURL:   req.WebhookURL,
		ProfilesPath: profilesPath,
	})
	if err != nil {
		return nil, dispatchFailed("encode task payload", err)
	}

	job, err := s.enqueue(ctx, &jobs.ValidationJob{
		ID:      uuid.New().String(),
		Kind:    jobs.KindByMetadata,
		Payload: string(payload),
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("metadata validation queued", "jobID", job.ID, "webhook", req.WebhookURL != "")

	if req.WebhookURL != "" {
		return &MetadataResponse{JobID: job.ID, Accepted: true}, nil
	}

	waitCtx, cancel := context.WithTimeout(ctx, s.cfg.WaitTimeout)
	defer cancel()
	value, err := jobs.Await(waitCtx, s.queue, s.results, job.ID, s.cfg.PollInterval)
	if err != nil {
		s.logger.Error("metadata validation did not complete", "jobID", job.ID, "error", err)
		if errors.Is(err, context.DeadlineExceeded) || waitCtx.Err() != nil {
			return nil, dispatchFailed(fmt.Sprintf("Timed out waiting for validation job %s", job.ID), nil)
		}
		return nil, dispatchFailed("Validation job did not complete", err)
	}
	return &MetadataResponse{JobID: job.ID, Result: jobs.ResultValue(value)}, nil
}

// FetchResult returns the stored result of a crate, byte for byte.
func (s *Service) FetchResult(ctx context.Context, req ResultRequest) ([]byte, error) {
	if err := checkCrateID(req.CrateID); err != nil {
		return nil, err
	}

	store, err := s.stores(ctx, req.Store)
	if err != nil {
		return nil, err
	}
	if _, err := store.ResolveCrate(ctx, req.CrateID, req.RootPath); err != nil {
		if errors.Is(err, objectstore.ErrNotFound) {
			return nil, notFound("No RO-Crate with prefix: " + req.CrateID)
		}
		return nil, err
	}
	if _, err := store.ResolveResult(ctx, req.CrateID, req.RootPath); err != nil {
		if errors.Is(err, objectstore.ErrNotFound) {
			return nil, notFound("No validation result yet for RO-Crate: " + req.CrateID)
		}
		return nil, err
	}
	return store.ReadResult(ctx, req.CrateID, req.RootPath)
}

func (s *Service) enqueue(ctx context.Context, job *jobs.ValidationJob) (*jobs.ValidationJob, error) {
	queued, err := s.queue.Enqueue(ctx, job)
	if err != nil {
		s.logger.Error("failed to enqueue validation", "kind", job.Kind, "crateID", job.CrateID, "error", err)
		return nil, dispatchFailed("Failed to queue validation task", err)
	}
	if queued.ID == job.ID {
		jobs.ObserveEnqueued(job.Kind)
	}
	return queued, nil
}
