package dispatch

import (
	"errors"
	"net/http"
)

// ErrorKind classifies a dispatch failure for the HTTP layer.
type ErrorKind int

const (
	// UserInputError is a request that can never succeed as sent.
	UserInputError ErrorKind = iota + 1
	// NotFoundError is a crate or result that does not exist (yet).
	NotFoundError
	// DispatchError is a failure to hand the work to the task queue.
	DispatchError
)

func (k ErrorKind) String() string {
	switch k {
	case UserInputError:
		return "user input error"
	case NotFoundError:
		return "not found"
	case DispatchError:
		return "dispatch error"
	}
	return "unknown"
}

// Error is returned by Service operations.
type Error struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Message
	}
	return e.Message + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

// StatusCode is the HTTP status of the failure.
func (e *Error) StatusCode() int {
	switch e.Kind {
	case UserInputError:
		return http.StatusUnprocessableEntity
	case NotFoundError:
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

// IsKind reports whether err is a dispatch Error of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == kind
}

func userInput(msg string) *Error { return &Error{Kind: UserInputError, Message: msg} }

func notFound(msg string) *Error { return &Error{Kind: NotFoundError, Message: msg} }

func dispatchFailed(msg string, err error) *Error {
	return &Error{Kind: DispatchError, Message: msg, Err: err}
}
