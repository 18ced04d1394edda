package validator

import (
	"context"
	"fmt"
	"log/slog"
)

// Outcome is either a result or a failure reason, never both.
type Outcome struct {
	Result  *Result
	Failure string
}

// Failed reports whether validation could not produce a result.
func (o Outcome) Failed() bool { return o.Result == nil }

// Adapter is the only entry point the rest of the service uses to reach the
// engine. It never returns an error and never panics.
type Adapter struct {
	engine Engine
	logger *slog.Logger
}

func NewAdapter(engine Engine, logger *slog.Logger) *Adapter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Adapter{engine: engine, logger: logger}
}

// Validate runs the engine and folds every error into the outcome.
func (a *Adapter) Validate(ctx context.Context, settings *Settings) (out Outcome) {
	defer func() {
		if r := recover(); r != nil {
			a.logger.Error("validation engine panicked", "panic", r)
			out = Outcome{Failure: fmt.Sprintf("validation engine panic: %v", r)}
		}
	}()

	result, err := a.engine.Validate(ctx, settings)
	if err != nil {
		a.logger.Error("unexpected error during validation", "error", err)
		return Outcome{Failure: err.Error()}
	}
	if result == nil {
		return Outcome{Failure: "validation engine returned no result"}
	}
	return Outcome{Result: result}
}
