package providers

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/km-arc/go-context/framework/config"
	"github.com/km-arc/go-context/framework/container"
	"github.com/km-arc/go-context/framework/routing"
)

// RoutingServiceProvider binds the HTTP router and the binding-driven route
// table.
//
// Bound keys:
//   - "router" → *routing.Router, with a request Context per request
//   - "routes" → *routing.Routes, serving bindings tagged "route"
//
// Boot mounts /metrics and /_context when enabled in config#context and
// hands every unmatched request to the route table.
type RoutingServiceProvider struct {
	container.BaseProvider
}

func (p *RoutingServiceProvider) Register(app *container.Context) {
	app.Bind(KeyRouter).
		ToClass(func(logger *zap.Logger) *routing.Router {
			r := routing.New(logger)
			r.Middleware(routing.RequestContext(app))
			return r
		}, container.InjectOptional(KeyLogger)).
		InScope(container.ScopeSingleton).
		Tag("framework")

	app.Bind(KeyRoutes).ToDynamicValue(func(*container.ResolutionContext) (any, error) {
		return routing.NewRoutes(app), nil
	}).InScope(container.ScopeSingleton).Tag("framework")
}

func (p *RoutingServiceProvider) Boot(app *container.Context) error {
	router, err := container.ResolveSync[*routing.Router](app, KeyRouter)
	if err != nil {
		return err
	}
	routes, err := container.ResolveSync[*routing.Routes](app, KeyRoutes)
	if err != nil {
		return err
	}
	cfg, err := container.ResolveSync[config.ContextConfig](app, container.ConfigKey("context"), container.Optional())
	if err != nil {
		return err
	}

	if cfg.MetricsEnabled {
		h, err := container.ResolveSync[http.Handler](app, KeyMetricsHandler)
		if err != nil {
			return err
		}
		router.Handle(MetricsPath, h)
	}
	if cfg.InspectEnabled {
		h, err := container.ResolveSync[http.Handler](app, KeyInspectHandler)
		if err != nil {
			return err
		}
		router.Mount(InspectPath, h)
	}
	router.Fallback(routes)
	return nil
}
