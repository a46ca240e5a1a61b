// Package natsapi exposes application handlers as remote procedures over
// NATS subject-addressed messaging. It maps JSON-RPC 2.0 envelopes onto
// typed handler functions, validates payloads against per-handler JSON
// schemas, dispatches concurrently, translates handler errors into
// JSON-RPC error replies, and publishes an AsyncAPI 2.0.0 document
// describing every subject it serves.
//
// # Quick Start
//
// Define a handler and register it on an App:
//
//	type EchoParams struct {
//	    Foo int `json:"foo"`
//	}
//
//	type EchoResult struct {
//	    Status string `json:"status"`
//	}
//
//	func echo(ctx context.Context, app *natsapi.App, p EchoParams) (EchoResult, error) {
//	    return EchoResult{Status: "OK"}, nil
//	}
//
//	app, err := natsapi.New(natsapi.Config{
//	    Title:     "orders",
//	    Version:   "1.0.0",
//	    RootPaths: []string{"natsapi.development"},
//	    Bus:       natsapi.BusConfig{Servers: []string{"nats://127.0.0.1:4222"}},
//	})
//	natsapi.AddRequest(app, "foo", echo)
//	ctx, err = app.Startup(ctx)
//	defer app.Shutdown(ctx)
//
// # Design Philosophy
//
// The package separates concerns into layers mirroring the components of
// the framework:
//
//   - RouteTable (C2) / RouterBuilder (C3): hold and accumulate endpoint
//     descriptors, keyed by fully-qualified subject.
//   - SchemaRegistry (C1): derives and caches JSON Schema for handler
//     parameter/result types via reflection.
//   - ErrorHandlerRegistry (C4): maps error types to wire error bodies,
//     walking each error's Unwrap chain most-derived-first.
//   - Dispatcher (C5): decodes, routes, validates, invokes, and replies.
//   - Bus (C6): a thin wrapper over a NATS connection.
//   - GenerateAsyncAPI (C7): a pure function from route table to document.
//   - App (C8): owns all of the above and runs the startup/shutdown
//     sequence.
//
// # Endpoints
//
// Four endpoint kinds exist. Request and Publish are dispatchable; Sub and
// Pub are documentation-only descriptors rendered into the AsyncAPI
// document but never invoked directly by the dispatcher.
//
//	natsapi.AddRequest(app, "user.CREATE", createUser)
//	natsapi.AddPublish(app, "user.DELETED", onUserDeleted)
//	app.AddSub(natsapi.NewSubEndpoint("events.>", natsapi.WithSubQueue("workers")))
//	app.AddPub(natsapi.NewPubEndpoint[UserDeletedEvent]("user.DELETED"))
//
// # Router Builder
//
// Group related endpoints under a shared subject prefix and tag set before
// folding them into the application:
//
//	r := natsapi.NewRouterBuilder(natsapi.WithPrefix("orders"), natsapi.WithTags("orders"))
//	e, _ := natsapi.NewRequestEndpoint("CREATE", createOrder)
//	r.AddRequest(e)
//	app.IncludeRouter(r)
//
// # Validation
//
// Parameters are validated against a JSON Schema reflected from the
// handler's params type, unless the endpoint was registered with
// WithSkipValidation (which requires a map[string]any params type so the
// free-form fields still have somewhere to land). Validation failures
// produce a -40001 reply with one entry per offending field.
//
// # Error Handling
//
// Handler errors are routed through the ErrorHandlerRegistry. Returning an
// *RPCError gives full control over the wire code and message; any other
// error falls back to a generic -40000 handler, which also recognizes
// errors exposing RPCCode()/Msg()/Detail() methods for backward
// compatibility with hand-rolled domain errors. Register handlers for your
// own error types with App.OnError; lookup walks errors.Unwrap from most
// to least derived.
//
// # Hooks
//
// Hooks provide observability around dispatch without coupling to a
// specific logging or metrics system:
//
//	natsapi.Config{
//	    Hooks: []natsapi.HookOption{
//	        natsapi.WithOnSuccess(func(ctx context.Context, subject string, d time.Duration) {
//	            metrics.Timing("natsapi.success", d, "subject:"+subject)
//	        }),
//	        natsapi.WithOnFailure(func(ctx context.Context, subject string, err error, d time.Duration) {
//	            metrics.Incr("natsapi.failure", "subject:"+subject)
//	        }),
//	    },
//	}
//
// # Thread Safety
//
// The route table, schema registry, and error handler registry are
// written only during configuration and read concurrently by dispatcher
// tasks afterward. The application State bag is a plain key/value map
// guarded by a mutex; concurrency discipline beyond that is the
// application's responsibility.
package natsapi
