package natsapi

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// InboundMessage is the shape the bus adapter (C6) delivers to the
// dispatcher for every message received on a subscribed subject: subject,
// the reply-to inbox (empty for fire-and-forget publishes), and the raw
// payload bytes.
type InboundMessage struct {
	Subject string
	Reply   string
	Data    []byte
}

// isRequest classifies a message per §4.4 step 1: it's a request (must
// produce a reply) when Reply is non-empty and not the literal sentinel
// "None" — preserved verbatim from the Python original since a permissive
// reinterpretation would silently change observable behavior.
func (m InboundMessage) isRequest() bool {
	return m.Reply != "" && m.Reply != "None"
}

// Publisher is the minimal bus capability the Dispatcher needs to deliver
// replies; satisfied by *Bus (bus.go).
type Publisher interface {
	Publish(subject string, data []byte) error
}

// Dispatcher decodes inbound messages, looks up the endpoint, validates
// parameters, invokes the handler, and produces a reply (C5). It holds only
// read-only references to the RouteTable, SchemaRegistry, and
// ErrorHandlerRegistry once the application has finished registering routes.
type Dispatcher struct {
	app     *App
	table   *RouteTable
	schemas *SchemaRegistry
	errors  *ErrorHandlerRegistry
	bus     Publisher
	logger  *slog.Logger
	hooks   hooks

	tasks sync.WaitGroup
}

// NewDispatcher wires a Dispatcher to its collaborators.
func NewDispatcher(app *App, table *RouteTable, schemas *SchemaRegistry, errs *ErrorHandlerRegistry, bus Publisher, logger *slog.Logger, opts ...HookOption) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	d := &Dispatcher{app: app, table: table, schemas: schemas, errors: errs, bus: bus, logger: logger}
	for _, opt := range opts {
		opt(&d.hooks)
	}
	return d
}

type taskTagKey struct{}

// Dispatch launches a fresh goroutine for msg, tagged so shutdown can await
// only dispatcher-spawned work ("await all in-flight dispatcher tasks").
// It returns immediately; the task runs concurrently.
func (d *Dispatcher) Dispatch(ctx context.Context, msg InboundMessage) {
	d.tasks.Add(1)
	go func() {
		defer d.tasks.Done()
		taskID := "natsapi_" + randomHex(16)
		ctx := context.WithValue(ctx, taskTagKey{}, taskID)
		d.handle(ctx, msg)
	}()
}

// Wait blocks until every in-flight task launched by Dispatch has returned,
// used by App.Shutdown.
func (d *Dispatcher) Wait() {
	d.tasks.Wait()
}

// handle runs the pipeline: decode -> route -> validate -> invoke ->
// normalize -> reply, faulting into reply-with-error on any failure along
// the way for request-classified messages.
func (d *Dispatcher) handle(ctx context.Context, msg InboundMessage) {
	req, ok := decodeRequest(msg.Data)
	if req.ID == uuid.Nil {
		req.ID = uuid.New()
	}
	ctx = withRequestID(ctx, req.ID)

	if !ok {
		d.reply(ctx, msg, d.errors.Render(ctx, WrapRPCError(CodeInvalidRequest, "INVALID_REQUEST_FORMAT", nil), msg.Subject, req))
		return
	}

	endpoint, err := d.route(msg.Subject, req)
	if err != nil {
		d.hooks.failure(ctx, msg.Subject, err, 0)
		d.reply(ctx, msg, d.errors.Render(ctx, err, msg.Subject, req))
		return
	}

	d.hooks.dispatch(ctx, msg.Subject)
	started := time.Now()
	result, err := d.invoke(ctx, endpoint, req)
	elapsed := time.Since(started)
	if err != nil {
		d.hooks.failure(ctx, msg.Subject, err, elapsed)
		if msg.isRequest() {
			d.reply(ctx, msg, d.errors.Render(ctx, err, msg.Subject, req))
		} else {
			d.logger.ErrorContext(ctx, "publish handler failed", slog.String("subject", msg.Subject), slog.Any("error", err))
		}
		return
	}
	d.hooks.success(ctx, msg.Subject, elapsed)

	if !msg.isRequest() {
		return
	}
	d.reply(ctx, msg, newReplyResult(req.ID, normalizeResult(result)))
}

// route looks up the endpoint for subject, falling back to
// subject+"."+method exactly once if the request names a method.
func (d *Dispatcher) route(subject string, req *Request) (Endpoint, error) {
	if e, ok := d.table.Lookup(subject); ok {
		return e, nil
	}
	if req.Method != "" {
		if e, ok := d.table.Lookup(subject + "." + req.Method); ok {
			return e, nil
		}
	}
	return nil, ErrUnknownMethod
}

// invoke validates params against the endpoint's schema (unless the
// endpoint opted out) and then calls the handler closure built at
// registration time.
func (d *Dispatcher) invoke(ctx context.Context, endpoint Endpoint, req *Request) (any, error) {
	switch e := endpoint.(type) {
	case *RequestEndpoint:
		if !e.skipValidation {
			if verr, err := d.schemas.Validate(e.paramsType, e.operationID, req.Params); err != nil {
				return nil, err
			} else if verr != nil {
				return nil, verr
			}
		}
		return e.invoke(ctx, d.app, req.Params)
	case *PublishEndpoint:
		if !e.skipValidation {
			if verr, err := d.schemas.Validate(e.paramsType, e.operationID, req.Params); err != nil {
				return nil, err
			} else if verr != nil {
				return nil, verr
			}
		}
		return e.invoke(ctx, d.app, req.Params)
	default:
		return nil, ErrUnknownMethod
	}
}

// dictLike is implemented by result types that know how to render
// themselves as a map, mirroring the first preference the Python original
// gives result normalization (hasattr(result, "dict")).
type dictLike interface {
	AsMap() map[string]any
}

// jsonLike is the second preference (hasattr(result, "json")): a type that
// serializes itself to a JSON string, inspected only when dictLike isn't
// satisfied.
type jsonLike interface {
	AsJSON() (string, error)
}

// normalizeResult passes maps/nil through untouched, otherwise tries
// AsMap() then AsJSON() in that order, before falling back to the value
// as-is so encoding/json can render whatever shape it has.
func normalizeResult(result any) any {
	if result == nil {
		return nil
	}
	if _, ok := result.(map[string]any); ok {
		return result
	}
	if d, ok := result.(dictLike); ok {
		return d.AsMap()
	}
	if j, ok := result.(jsonLike); ok {
		if s, err := j.AsJSON(); err == nil {
			var m map[string]any
			if json.Unmarshal([]byte(s), &m) == nil {
				return m
			}
		}
	}
	return result
}

// reply always publishes for request-classified messages, even when rep
// carries an error body; bus-level publish failures are logged, not
// retried.
func (d *Dispatcher) reply(ctx context.Context, msg InboundMessage, rep *Reply) {
	if !msg.isRequest() {
		return
	}
	data, err := json.Marshal(rep)
	if err != nil {
		d.logger.ErrorContext(ctx, "failed to encode reply", slog.Any("error", err))
		return
	}
	if err := d.bus.Publish(msg.Reply, data); err != nil {
		d.logger.ErrorContext(ctx, "failed to publish reply", slog.String("reply_subject", msg.Reply), slog.Any("error", err))
	}
}

func randomHex(n int) string {
	buf := make([]byte, n/2)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}
