package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/km-arc/go-context/framework/config"
	"github.com/km-arc/go-context/framework/container"
	gohttp "github.com/km-arc/go-context/framework/http"
	"github.com/km-arc/go-context/framework/logging"
	"github.com/km-arc/go-context/framework/providers"
	"github.com/km-arc/go-context/framework/routing"
)

// Version of the framework.
const Version = "0.2.0"

// Application is the root of a running program. It embeds the root Context
// so user code can call app.Bind(), app.GetSync() and friends directly, and
// owns the ProviderRegistry and HTTP server lifecycle.
type Application struct {
	*container.Context
	Providers *container.ProviderRegistry

	config          *config.Config
	registry        *prometheus.Registry
	shutdownTimeout time.Duration
}

type options struct {
	logger          *zap.Logger
	registry        *prometheus.Registry
	shutdownTimeout time.Duration
}

// Option configures New.
type Option func(*options)

// WithLogger replaces the logger built from config#log.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithRegistry uses reg instead of a fresh Prometheus registry.
func WithRegistry(reg *prometheus.Registry) Option {
	return func(o *options) { o.registry = reg }
}

// WithShutdownTimeout bounds graceful shutdown in Run. Default 10s.
func WithShutdownTimeout(d time.Duration) Option {
	return func(o *options) { o.shutdownTimeout = d }
}

// New creates the root Context from cfg and registers the framework
// providers: config, logging, metrics, routing and inspect.
func New(cfg *config.Config, opts ...Option) (*Application, error) {
	o := options{shutdownTimeout: 10 * time.Second}
	for _, opt := range opts {
		opt(&o)
	}

	policy, err := container.ParseChildPolicy(cfg.Context.ChildPolicy)
	if err != nil {
		return nil, fmt.Errorf("app: %w", err)
	}
	if o.logger == nil {
		if o.logger, err = logging.New(cfg.Log, zap.String("app", cfg.App.Name)); err != nil {
			return nil, fmt.Errorf("app: %w", err)
		}
	}
	if o.registry == nil {
		o.registry = prometheus.NewRegistry()
		o.registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}

	ctxOpts := []container.ContextOption{
		container.WithLogger(o.logger),
		container.WithChildPolicy(policy),
	}
	if cfg.Context.MetricsEnabled {
		ctxOpts = append(ctxOpts, container.WithMetrics(container.NewMetrics(o.registry)))
	}
	root := container.NewContext(nil, "application", ctxOpts...)

	a := &Application{
		Context:         root,
		Providers:       container.NewProviderRegistry(root),
		config:          cfg,
		registry:        o.registry,
		shutdownTimeout: o.shutdownTimeout,
	}

	for _, p := range []container.ServiceProvider{
		&providers.ConfigServiceProvider{Config: cfg},
		&providers.LoggingServiceProvider{Logger: o.logger},
		&providers.MetricsServiceProvider{Registry: o.registry},
		&providers.RoutingServiceProvider{},
		&providers.InspectServiceProvider{},
	} {
		if err := a.Providers.Register(p); err != nil {
			return nil, fmt.Errorf("app: %w", err)
		}
	}
	return a, nil
}

// Register adds a ServiceProvider to the application.
func (a *Application) Register(provider container.ServiceProvider) error {
	return a.Providers.Register(provider)
}

// Boot runs the Boot() phase on all providers.
func (a *Application) Boot() error {
	return a.Providers.Boot()
}

// Config returns the configuration the application was created with.
func (a *Application) Config() *config.Config { return a.config }

// Registry returns the Prometheus registry behind /metrics.
func (a *Application) Registry() *prometheus.Registry { return a.registry }

// Router resolves the router.
func (a *Application) Router() (*routing.Router, error) {
	return container.ResolveSync[*routing.Router](a.Context, providers.KeyRouter)
}

// Routes resolves the binding-driven route table.
func (a *Application) Routes() (*routing.Routes, error) {
	return container.ResolveSync[*routing.Routes](a.Context, providers.KeyRoutes)
}

// Handler boots the application if needed and returns its HTTP handler.
func (a *Application) Handler() (http.Handler, error) {
	if !a.Providers.Booted() {
		if err := a.Boot(); err != nil {
			return nil, err
		}
	}
	return a.Router()
}

// Run listens on config#app.port and serves until ctx is cancelled.
func (a *Application) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", a.config.Addr())
	if err != nil {
		return fmt.Errorf("app: %w", err)
	}
	return a.Serve(ctx, ln)
}

// Serve serves on ln until ctx is cancelled, then shuts the server down
// gracefully.
func (a *Application) Serve(ctx context.Context, ln net.Listener) error {
	handler, err := a.Handler()
	if err != nil {
		_ = ln.Close()
		return err
	}

	logger := a.Logger()
	srv := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("starting http server",
			zap.String("addr", ln.Addr().String()),
			zap.String("env", a.config.App.Env),
		)
		if err := srv.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down http server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// Close closes the root Context and flushes the logger.
func (a *Application) Close() error {
	err := a.Context.Close()
	_ = a.Logger().Sync()
	return err
}

// Environment returns APP_ENV value.
func (a *Application) Environment() string { return a.config.App.Env }
func (a *Application) IsLocal() bool       { return a.Environment() == "local" }
func (a *Application) IsProduction() bool  { return a.Environment() == "production" }
func (a *Application) IsTesting() bool     { return a.Environment() == "testing" }
func (a *Application) IsDebug() bool       { return a.config.App.Debug }
func (a *Application) Version() string     { return Version }

// Controller is an embeddable base for HTTP controllers.
type Controller struct{}

// Request wraps r, with its request Context when one is open.
func (c *Controller) Request(r *http.Request) *gohttp.Request {
	if scope := routing.ContextFrom(r); scope != nil {
		if req, err := gohttp.RequestFrom(scope); err == nil {
			return req
		}
	}
	return gohttp.NewRequest(r)
}

func (c *Controller) Response(w http.ResponseWriter) *gohttp.Response {
	return gohttp.NewResponse(w)
}
