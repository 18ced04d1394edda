package objectstore

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/aws/smithy-go"
)

// ErrNotFound is returned when no object matches a crate or result lookup.
var ErrNotFound = errors.New("object not found")

// ErrorKind tags an object store failure. The value doubles as the message prefix.
type ErrorKind string

const (
	StoreError   ErrorKind = "MinIO S3 Error"
	ConfigError  ErrorKind = "Configuration Error"
	UnknownError ErrorKind = "Unknown Error"
)

// Error is returned by every Store operation that fails for a reason other
// than a missing object.
type Error struct {
	Kind ErrorKind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Kind, e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// StatusCode is the HTTP status hint for the failure.
func (e *Error) StatusCode() int { return http.StatusInternalServerError }

func newError(kind ErrorKind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// classify tags err according to where it came from. Errors that are already
// tagged pass through unchanged.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	var tagged *Error
	if errors.As(err, &tagged) {
		return err
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return newError(StoreError, op, err)
	}
	var opErr *smithy.OperationError
	if errors.As(err, &opErr) || errors.Is(err, context.DeadlineExceeded) {
		return newError(StoreError, op, err)
	}
	return newError(UnknownError, op, err)
}
