// Package worker executes queued job runs: resolving handlers, driving the
// job run state machine, and coordinating pipeline graphs after every
// delivery.
package worker

import (
	"context"
	"log/slog"

	"github.com/VariantEffect/mavedb-api-sub004/internal/domain"
)

// Invocation is the per-delivery execution context handed to a handler.
type Invocation struct {
	Job    *domain.JobRun
	Logger *slog.Logger

	progress func(ctx context.Context, current, total int, message string) error
}

// ReportProgress records partial completion on the backing job run. Failures
// here are recorded but never abort the handler.
func (inv *Invocation) ReportProgress(ctx context.Context, current, total int, message string) {
	if inv.progress == nil {
		return
	}
	if err := inv.progress(ctx, current, total, message); err != nil {
		inv.Logger.Warn("progress update failed", "error", err)
	}
}

// HandlerFunc is the unit of executable work. It receives the persisted job
// run and returns a result summary; a non-nil error drives the retry and
// failure machinery.
type HandlerFunc func(ctx context.Context, inv *Invocation) (domain.JobResult, error)

// Registry maps job function names to handlers. Registration happens once at
// startup; lookups afterward are read-only and safe for concurrent use.
type Registry struct {
	handlers map[string]HandlerFunc
}

// NewRegistry creates an empty handler registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]HandlerFunc)}
}

// Register binds a function name to a handler. Empty names and duplicate
// registrations are rejected.
func (r *Registry) Register(name string, h HandlerFunc) error {
	if name == "" {
		return domain.ErrValidation("handler name must not be empty")
	}
	if h == nil {
		return domain.ErrValidation("handler for %q must not be nil", name)
	}
	if _, ok := r.handlers[name]; ok {
		return domain.ErrConflict("handler %q already registered", name)
	}
	r.handlers[name] = h
	return nil
}

// MustRegister is Register that panics on error, for static startup wiring.
func (r *Registry) MustRegister(name string, h HandlerFunc) {
	if err := r.Register(name, h); err != nil {
		panic(err)
	}
}

// Resolve returns the handler for name.
func (r *Registry) Resolve(name string) (HandlerFunc, error) {
	h, ok := r.handlers[name]
	if !ok {
		return nil, domain.ErrNotFound("no handler registered for function %q", name)
	}
	return h, nil
}
