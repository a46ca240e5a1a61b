package natsapi

import (
	"context"
	"time"
)

// OnDispatchFunc is called just before a resolved endpoint's handler runs.
type OnDispatchFunc func(ctx context.Context, subject string)

// OnSuccessFunc is called after a handler completes successfully.
type OnSuccessFunc func(ctx context.Context, subject string, duration time.Duration)

// OnFailureFunc is called after a handler (or an earlier pipeline step,
// such as validation) fails.
type OnFailureFunc func(ctx context.Context, subject string, err error, duration time.Duration)

// hooks holds every configured observability hook. These sit alongside the
// error handler registry (C4) rather than replacing it: C4 decides what
// goes on the wire, hooks exist purely for metrics/tracing side effects.
type hooks struct {
	onDispatch []OnDispatchFunc
	onSuccess  []OnSuccessFunc
	onFailure  []OnFailureFunc
}

// HookOption configures a Dispatcher's observability hooks.
type HookOption func(*hooks)

// WithOnDispatch adds a hook called just before the handler executes.
// Multiple hooks run in registration order.
func WithOnDispatch(fn OnDispatchFunc) HookOption {
	return func(h *hooks) { h.onDispatch = append(h.onDispatch, fn) }
}

// WithOnSuccess adds a hook called after the handler completes
// successfully. Multiple hooks run in registration order.
func WithOnSuccess(fn OnSuccessFunc) HookOption {
	return func(h *hooks) { h.onSuccess = append(h.onSuccess, fn) }
}

// WithOnFailure adds a hook called after dispatch fails, whether from
// routing, validation, or the handler itself. Multiple hooks run in
// registration order.
func WithOnFailure(fn OnFailureFunc) HookOption {
	return func(h *hooks) { h.onFailure = append(h.onFailure, fn) }
}

func (h *hooks) dispatch(ctx context.Context, subject string) {
	for _, fn := range h.onDispatch {
		fn(ctx, subject)
	}
}

func (h *hooks) success(ctx context.Context, subject string, d time.Duration) {
	for _, fn := range h.onSuccess {
		fn(ctx, subject, d)
	}
}

func (h *hooks) failure(ctx context.Context, subject string, err error, d time.Duration) {
	for _, fn := range h.onFailure {
		fn(ctx, subject, err, d)
	}
}
