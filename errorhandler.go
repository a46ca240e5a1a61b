package natsapi

import (
	"context"
	"errors"
	"log/slog"
	"reflect"
	"time"

	"github.com/google/uuid"
)

// ErrorHandlerFunc renders an error raised while handling a request into the
// wire {code, message, data} triple (§4.3).
type ErrorHandlerFunc func(ctx context.Context, err error, subject string, req *Request) *ErrorBody

// ErrorHandlerRegistry is the type -> handler mapping of §4.3 (C4), kept in
// an unordered map; registration order has no effect on lookup. Go has no runtime exception hierarchy to walk, so lookup
// instead follows the chain errors.Unwrap exposes: the original error's own
// concrete type is tried first (most derived), then each error it wraps, in
// order, until a registered type matches or the chain is exhausted — the
// same "most-derived-first" contract, expressed through Go's native
// wrapping idiom rather than Python's type(exc).__mro__ (§9 design note).
type ErrorHandlerRegistry struct {
	handlers map[reflect.Type]ErrorHandlerFunc
	root     ErrorHandlerFunc
	logger   *slog.Logger
}

// NewErrorHandlerRegistry seeds the registry with the three default handlers
// described in §4.3: a generic JSON-RPC handler, a validation handler, and
// the root (catch-all) handler. User registrations made afterwards with
// OnError override these for their specific type.
func NewErrorHandlerRegistry(logger *slog.Logger) *ErrorHandlerRegistry {
	if logger == nil {
		logger = slog.Default()
	}
	r := &ErrorHandlerRegistry{
		handlers: make(map[reflect.Type]ErrorHandlerFunc),
		logger:   logger,
	}
	r.handlers[reflect.TypeOf(&RPCError{})] = r.handleRPCError
	r.handlers[reflect.TypeOf(&ValidationError{})] = r.handleValidationError
	r.root = r.handleGeneric
	return r
}

// On registers (or overrides) the handler used for errors of exactly
// sample's concrete type.
func (r *ErrorHandlerRegistry) On(sample error, handler ErrorHandlerFunc) {
	r.handlers[reflect.TypeOf(sample)] = handler
}

// Lookup finds the handler for err by walking its unwrap chain from most to
// least derived, falling back to the root handler (§4.3 "Lookup").
func (r *ErrorHandlerRegistry) Lookup(err error) ErrorHandlerFunc {
	for current := err; current != nil; current = errors.Unwrap(current) {
		if h, ok := r.handlers[reflect.TypeOf(current)]; ok {
			return h
		}
	}
	return r.root
}

// Render produces a Reply for err, logging it the way the Python original's
// exception handlers do (one structured ERROR record per failed request).
func (r *ErrorHandlerRegistry) Render(ctx context.Context, err error, subject string, req *Request) *Reply {
	handler := r.Lookup(err)
	body := handler(ctx, err, subject, req)
	id := RequestIDFromContext(ctx)
	if id == uuid.Nil && req != nil {
		id = req.ID
	}
	return newReplyError(id, body)
}

func (r *ErrorHandlerRegistry) handleRPCError(ctx context.Context, err error, subject string, req *Request) *ErrorBody {
	var rpcErr *RPCError
	if !errors.As(err, &rpcErr) {
		return r.handleGeneric(ctx, err, subject, req)
	}
	r.log(ctx, err, subject, req, rpcErr.Code)
	return &ErrorBody{
		Code:      rpcErr.Code,
		Message:   rpcErr.Message,
		Timestamp: time.Now().Unix(),
		Data:      &ErrorData{Type: typeName(rpcErr), Errors: []ErrorDataEntry{}},
	}
}

func (r *ErrorHandlerRegistry) handleValidationError(ctx context.Context, err error, subject string, req *Request) *ErrorBody {
	var verr *ValidationError
	if !errors.As(err, &verr) {
		return r.handleGeneric(ctx, err, subject, req)
	}
	r.log(ctx, err, subject, req, CodeValidationError)

	entries := make([]ErrorDataEntry, 0, len(verr.Errors))
	for _, issue := range verr.Errors {
		entries = append(entries, ErrorDataEntry{
			Type:    typeName(verr),
			Target:  issue.Target,
			Message: issue.Message,
		})
	}
	return &ErrorBody{
		Code:      CodeValidationError,
		Message:   "Invalid data was provided or some data is missing.",
		Timestamp: time.Now().Unix(),
		Data:      &ErrorData{Type: typeName(verr), Errors: entries},
	}
}

// handleGeneric is the root handler (§4.3): code -40000, message = err's
// string form, unless the error exposes a (rpc_code, msg, detail)-shaped
// pair of methods, honored for backward compatibility with hand-rolled
// domain errors that don't wrap *RPCError.
func (r *ErrorHandlerRegistry) handleGeneric(ctx context.Context, err error, subject string, req *Request) *ErrorBody {
	code := CodeGenericError
	message := err.Error()

	if formatted, ok := err.(interface {
		RPCCode() int
		Msg() string
		Detail() string
	}); ok {
		code = formatted.RPCCode()
		message = formatted.Msg() + ": " + formatted.Detail()
	}

	r.log(ctx, err, subject, req, code)
	return &ErrorBody{
		Code:      code,
		Message:   message,
		Timestamp: time.Now().Unix(),
		Data:      &ErrorData{Type: typeName(err), Errors: []ErrorDataEntry{}},
	}
}

func (r *ErrorHandlerRegistry) log(ctx context.Context, err error, subject string, req *Request, code int) {
	id := RequestIDFromContext(ctx)
	attrs := []any{
		slog.String("subject", subject),
		slog.Int("code", code),
		slog.Any("json_rpc_id", id),
		slog.Bool("nats", true),
	}
	if req != nil {
		attrs = append(attrs, slog.Any("json_rpc_id", req.ID))
	}
	r.logger.ErrorContext(ctx, err.Error(), attrs...)
}

func typeName(v any) string {
	t := reflect.TypeOf(v)
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	return t.Name()
}
