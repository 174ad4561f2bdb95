package providers

import (
	"github.com/km-arc/go-context/framework/container"
	"github.com/km-arc/go-context/framework/inspect"
)

// InspectServiceProvider binds the introspection handler for the Context
// it is registered on. Deferred.
type InspectServiceProvider struct {
	container.BaseProvider
}

func (p *InspectServiceProvider) Register(app *container.Context) {
	app.Bind(KeyInspectHandler).ToDynamicValue(func(*container.ResolutionContext) (any, error) {
		return inspect.Handler(app), nil
	}).InScope(container.ScopeSingleton).Tag("framework")
}

func (p *InspectServiceProvider) Provides() []string { return []string{KeyInspectHandler} }

func (p *InspectServiceProvider) IsDeferred() bool { return true }
