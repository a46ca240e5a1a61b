package natsapi

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/hashicorp/go-multierror"
	"golang.org/x/sync/errgroup"
)

// Config assembles everything an App needs at construction time. It plays
// the role of the Python original's constructor keyword arguments,
// gathered into one struct the way the rest of the ambient stack here
// favors explicit configuration objects over long parameter lists.
type Config struct {
	Title           string
	Version         string
	AsyncAPIVersion string
	Description     string

	// RootPaths is the ordered set of root subjects this application
	// answers under; at least one is required (§3 "Root-path set").
	RootPaths []string
	// Queue, if set, is the queue group every root-path subscription joins,
	// turning multiple app instances into a worker pool.
	Queue string
	// RPCMethods, if non-empty, restricts the trailing token of every
	// Request/Publish subject to this allow-list (§4.2 step 2).
	RPCMethods []string

	Bus          BusConfig
	DomainErrors *DomainErrors
	Servers      map[string]Server
	ExternalDocs *ExternalDocs

	Logger *slog.Logger
	// Hooks registers observability callbacks around dispatch (see hooks.go).
	Hooks []HookOption

	// OnStartup and OnShutdown are the user hooks run at steps 3 and 4 of
	// the startup/shutdown sequences (§4.7).
	OnStartup  func(ctx context.Context, app *App) error
	OnShutdown func(ctx context.Context, app *App) error

	// Standalone selects whether the app owns its own signal handling and
	// scheduler, or is co-hosted inside another event loop that supplies
	// its own context and calls Shutdown directly (§9 "Co-hosting").
	Standalone bool
}

// App is the single owner of a routing table, error registry, schema
// registry, bus connection, and state bag (§9 "Global mutable state": the
// framework itself is stateless; every piece of state lives on one App).
type App struct {
	cfg Config

	bus        *Bus
	table      *RouteTable
	schemas    *SchemaRegistry
	errors     *ErrorHandlerRegistry
	dispatcher *Dispatcher
	state      *State
	logger     *slog.Logger

	subsMu sync.Mutex
	subs   []subscription

	asyncAPIOnce sync.Once
	asyncAPIDoc  map[string]any

	stopSignals context.CancelFunc
}

type subscription struct {
	rootPath string
}

// New builds an App from cfg. The route table, schema registry, and error
// handler registry are created empty; routes are added afterwards via
// AddRequest/AddPublish/AddSub/AddPub/IncludeRouter, then Startup freezes
// them by subscribing.
func New(cfg Config) (*App, error) {
	if len(cfg.RootPaths) == 0 {
		return nil, configErrorf("at least one root path is required")
	}
	if cfg.AsyncAPIVersion == "" {
		cfg.AsyncAPIVersion = "2.0.0"
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	app := &App{
		cfg:     cfg,
		table:   NewRouteTable(cfg.RPCMethods),
		schemas: NewSchemaRegistry(),
		state:   NewState(),
		logger:  logger,
	}
	app.errors = NewErrorHandlerRegistry(logger)
	return app, nil
}

// State returns the application's key/value bag.
func (app *App) State() *State { return app.state }

// Bus returns the application's bus connection, valid only after Startup.
func (app *App) Bus() *Bus { return app.bus }

// OnError registers (or overrides) the error handler for errors of
// sample's concrete type (§4.3 "User-registered handlers override
// defaults").
func (app *App) OnError(sample error, handler ErrorHandlerFunc) {
	app.errors.On(sample, handler)
}

// AddRequest registers a standalone Request endpoint directly on the
// application's root path set, bypassing RouterBuilder. Go has no generic
// methods, so this is a package-level function parameterized over the
// handler's params/result types, mirroring the teacher's own
// package-level Register[T any](r *Router, ...) shape.
func AddRequest[P any, R any](app *App, subject string, handler RequestHandler[P, R], opts ...RequestOption) error {
	e, err := NewRequestEndpoint(subject, handler, opts...)
	if err != nil {
		return err
	}
	return app.addToEveryRoot(e)
}

// AddPublish registers a standalone Publish endpoint on the application's
// root path set.
func AddPublish[P any](app *App, subject string, handler PublishHandler[P], opts ...PublishOption) error {
	e, err := NewPublishEndpoint(subject, handler, opts...)
	if err != nil {
		return err
	}
	return app.addToEveryRoot(e)
}

// AddSub registers a documentation-only Sub descriptor.
func (app *App) AddSub(e *SubEndpoint) {
	app.table.AddSub(e)
}

// AddPub registers a documentation-only Pub descriptor.
func (app *App) AddPub(e *PubEndpoint) {
	app.table.AddPub(e)
}

// IncludeRouter folds every endpoint a RouterBuilder accumulated into the
// application's route table, once per configured root path.
func (app *App) IncludeRouter(b *RouterBuilder) error {
	for _, root := range app.cfg.RootPaths {
		if err := b.Include(app.table, root); err != nil {
			return err
		}
	}
	return nil
}

func (app *App) addToEveryRoot(e Endpoint) error {
	for _, root := range app.cfg.RootPaths {
		if err := app.table.Add(root, e); err != nil {
			return err
		}
	}
	return nil
}

// GenerateAsyncAPI renders the service description once and caches it by
// identity, matching §8's "Schema idempotence: once produced, the cached
// value is returned by identity."
func (app *App) GenerateAsyncAPI() map[string]any {
	app.asyncAPIOnce.Do(func() {
		app.asyncAPIDoc = GenerateAsyncAPI(app.cfg.Title, app.cfg.Version, app.cfg.AsyncAPIVersion, app.schemas, app.table, AsyncAPIOptions{
			Description:  app.cfg.Description,
			DomainErrors: app.cfg.DomainErrors,
			Servers:      app.cfg.Servers,
			ExternalDocs: app.cfg.ExternalDocs,
		})
	})
	return app.asyncAPIDoc
}

// Startup runs the ordered sequence from §4.7: resolve scheduler context,
// connect the bus, run the user startup hook, subscribe every root path,
// and register the built-in schema.RETRIEVE endpoint.
func (app *App) Startup(ctx context.Context) (context.Context, error) {
	if app.cfg.Standalone {
		var cancel context.CancelFunc
		ctx, cancel = context.WithCancel(ctx)
		app.stopSignals = installSignalHandler(cancel, app.logger)
	}

	bus, err := Connect(app.cfg.Bus)
	if err != nil {
		return ctx, fmt.Errorf("opening bus connection: %w", err)
	}
	app.bus = bus
	app.dispatcher = NewDispatcher(app, app.table, app.schemas, app.errors, app.bus, app.logger, app.cfg.Hooks...)

	if app.cfg.OnStartup != nil {
		if err := app.cfg.OnStartup(ctx, app); err != nil {
			return ctx, fmt.Errorf("user startup hook: %w", err)
		}
	}

	if err := app.registerSchemaEndpoint(); err != nil {
		return ctx, err
	}

	// Root paths subscribe independently of one another, so fan them out
	// concurrently rather than paying N sequential round trips to the bus.
	var g errgroup.Group
	for _, root := range app.cfg.RootPaths {
		root := root
		g.Go(func() error {
			if err := app.subscribeRoot(ctx, root); err != nil {
				return fmt.Errorf("subscribing root %q: %w", root, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return ctx, err
	}

	return ctx, nil
}

// registerSchemaEndpoint wires root_path.schema.RETRIEVE — a request
// endpoint with empty params that returns the cached AsyncAPI document, not
// itself listed in channels (§6 "Built-in endpoint").
func (app *App) registerSchemaEndpoint() error {
	handler := func(ctx context.Context, app *App, params map[string]any) (map[string]any, error) {
		return app.GenerateAsyncAPI(), nil
	}
	e, err := NewRequestEndpoint("schema.RETRIEVE", handler, WithSkipValidation(), WithRequestExcludeFromSchema())
	if err != nil {
		return err
	}
	return app.addToEveryRoot(e)
}

func (app *App) subscribeRoot(ctx context.Context, root string) error {
	subject := root + ".>"
	_, err := app.bus.Subscribe(subject, SubscribeOptions{Queue: app.cfg.Queue}, func(msg InboundMessage) {
		app.dispatcher.Dispatch(ctx, msg)
	})
	if err != nil {
		return err
	}
	app.subsMu.Lock()
	app.subs = append(app.subs, subscription{rootPath: root})
	app.subsMu.Unlock()
	return nil
}

// Shutdown runs the ordered sequence from §4.7: await in-flight dispatcher
// tasks, drain the bus, close it, run the user shutdown hook, and (in
// standalone mode) stop the signal-driven scheduler.
func (app *App) Shutdown(ctx context.Context) error {
	var result *multierror.Error

	if app.dispatcher != nil {
		app.dispatcher.Wait()
	}

	if app.bus != nil {
		if err := app.bus.Drain(); err != nil {
			app.logger.Error("draining bus", slog.Any("error", err))
			result = multierror.Append(result, fmt.Errorf("draining bus: %w", err))
		}
		app.bus.Close()
	}

	if app.cfg.OnShutdown != nil {
		if err := app.cfg.OnShutdown(ctx, app); err != nil {
			app.logger.Error("user shutdown hook", slog.Any("error", err))
			result = multierror.Append(result, fmt.Errorf("user shutdown hook: %w", err))
		}
	}

	if app.cfg.Standalone && app.stopSignals != nil {
		app.stopSignals()
	}

	return result.ErrorOrNil()
}

func installSignalHandler(cancel context.CancelFunc, logger *slog.Logger) context.CancelFunc {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGHUP, syscall.SIGTERM, syscall.SIGINT)
	done := make(chan struct{})
	go func() {
		select {
		case sig := <-sigCh:
			logger.Info("received shutdown signal", slog.String("signal", sig.String()))
			cancel()
		case <-done:
		}
	}()
	return func() {
		close(done)
		signal.Stop(sigCh)
		cancel()
	}
}

// marshalIndent is a small convenience for application code that wants to
// log or print the generated AsyncAPI document.
func marshalIndent(doc map[string]any) ([]byte, error) {
	return json.MarshalIndent(doc, "", "  ")
}
