// Package notify delivers validation outcomes to caller-supplied webhooks.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
)

const (
	defaultTimeout = 10 * time.Second
	defaultRetries = 2
)

// Sender posts JSON payloads to webhook URLs.
type Sender struct {
	client  *http.Client
	timeout time.Duration
	retries int
	backoff func() backoff.BackOff
	logger  *slog.Logger
}

// Option configures a Sender.
type Option func(*Sender)

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(s *Sender) { s.client = c }
}

// WithTimeout bounds each delivery attempt.
func WithTimeout(d time.Duration) Option {
	return func(s *Sender) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// WithRetries sets how many times a failed delivery is retried.
func WithRetries(n int) Option {
	return func(s *Sender) {
		if n >= 0 {
			s.retries = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Sender) {
		if l != nil {
			s.logger = l
		}
	}
}

func withBackOff(f func() backoff.BackOff) Option {
	return func(s *Sender) { s.backoff = f }
}

// NewSender returns a Sender with a 10s per-attempt timeout and two retries.
func NewSender(opts ...Option) *Sender {
	s := &Sender{
		client:  &http.Client{},
		timeout: defaultTimeout,
		retries: defaultRetries,
		logger:  slog.Default(),
		backoff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 500 * time.Millisecond
			b.MaxElapsedTime = time.Minute
			return b
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Send posts payload to url. A []byte or json.RawMessage payload is sent as
// is; anything else is JSON encoded. Client errors (4xx) are not retried.
func (s *Sender) Send(ctx context.Context, url string, payload any) error {
	body, err := encode(payload)
	if err != nil {
		return err
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(s.backoff(), uint64(s.retries)), ctx)
	attempt := 0
	return backoff.Retry(func() error {
		attempt++
		err := s.post(ctx, url, body)
		if err != nil {
			s.logger.Warn("webhook delivery attempt failed", "url", url, "attempt", attempt, "error", err)
		}
		return err
	}, policy)
}

// Notify delivers payload and only logs failures.
func (s *Sender) Notify(ctx context.Context, url string, payload any) {
	if url == "" {
		return
	}
	if err := s.Send(ctx, url, payload); err != nil {
		s.logger.Error("webhook notification failed", "url", url, "error", err)
		return
	}
	s.logger.Info("webhook notification sent", "url", url)
}

func (s *Sender) post(ctx context.Context, url string, body []byte) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return backoff.Permanent(fmt.Errorf("build webhook request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests:
		return backoff.Permanent(fmt.Errorf("webhook returned %s", resp.Status))
	default:
		return fmt.Errorf("webhook returned %s", resp.Status)
	}
}

func encode(payload any) ([]byte, error) {
	switch p := payload.(type) {
	case json.RawMessage:
		return p, nil
	case []byte:
		return p, nil
	default:
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encode webhook payload: %w", err)
		}
		return data, nil
	}
}
