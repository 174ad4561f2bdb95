package container

import (
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// ── ServiceProvider interface ─────────────────────────────────────────────────

// ServiceProvider groups the bindings of one concern.
//
// Register is called as soon as the provider is added (or, for deferred
// providers, when one of its keys is first resolved). Boot is called after
// ALL eager providers have been registered, making it safe to resolve other
// bindings inside Boot().
//
//	type AppServiceProvider struct{ container.BaseProvider }
//
//	func (p *AppServiceProvider) Register(app *container.Context) {
//	    app.Bind("greeter").ToClass(NewGreeter, container.Inject("currentUser"))
//	}
//
//	func (p *AppServiceProvider) Boot(app *container.Context) error {
//	    _, err := app.GetSync("greeter")
//	    return err
//	}
type ServiceProvider interface {
	// Register binds services into the Context.
	// Do NOT resolve other bindings here, use Boot() for that.
	Register(app *Context)

	// Boot is called after all providers are registered.
	// Safe to resolve and use any binding here.
	Boot(app *Context) error

	// Provides returns the keys this provider registers.
	// Used for deferred (lazy) provider loading.
	// Return nil / empty slice if the provider is always eager.
	Provides() []string

	// IsDeferred returns true if this provider should be loaded lazily,
	// only when one of its Provides() keys is first resolved.
	IsDeferred() bool
}

// ── BaseProvider ──────────────────────────────────────────────────────────────

// BaseProvider is an embeddable struct that provides no-op implementations
// of Boot(), Provides(), and IsDeferred().
// Embed it in your provider and only override what you need.
//
//	type MyProvider struct{ container.BaseProvider }
//	func (p *MyProvider) Register(app *container.Context) { ... }
type BaseProvider struct{}

func (p *BaseProvider) Boot(_ *Context) error { return nil }
func (p *BaseProvider) Provides() []string    { return nil }
func (p *BaseProvider) IsDeferred() bool      { return false }

// ── ProviderRegistry ──────────────────────────────────────────────────────────

// ProviderRegistry manages registration and booting of ServiceProviders,
// including deferred (lazy) providers.
type ProviderRegistry struct {
	app *Context

	mu         sync.Mutex
	eager      []ServiceProvider
	deferred   map[string]*deferredProvider // key → provider
	booted     bool
	registered map[ServiceProvider]bool
}

type deferredProvider struct {
	provider ServiceProvider
	once     sync.Once
	bootErr  error
}

// NewProviderRegistry creates a registry bound to app.
func NewProviderRegistry(app *Context) *ProviderRegistry {
	return &ProviderRegistry{
		app:        app,
		deferred:   make(map[string]*deferredProvider),
		registered: make(map[ServiceProvider]bool),
	}
}

// Register adds a provider and calls its Register() method (unless
// deferred). A provider added after Boot is booted immediately.
func (r *ProviderRegistry) Register(provider ServiceProvider) error {
	r.mu.Lock()
	if r.registered[provider] {
		r.mu.Unlock()
		return nil
	}
	r.registered[provider] = true

	if provider.IsDeferred() {
		dp := &deferredProvider{provider: provider}
		for _, key := range provider.Provides() {
			r.deferred[key] = dp
		}
		r.mu.Unlock()
		r.interceptDeferred(dp)
		return nil
	}

	r.eager = append(r.eager, provider)
	booted := r.booted
	r.mu.Unlock()

	provider.Register(r.app)

	if booted {
		return r.boot(provider)
	}
	return nil
}

// interceptDeferred binds a placeholder for each deferred key. The first
// resolution registers the provider for real, which replaces the
// placeholders, then resolves the key again.
func (r *ProviderRegistry) interceptDeferred(dp *deferredProvider) {
	for _, key := range dp.provider.Provides() {
		r.app.Bind(key).ToDynamicValue(func(rc *ResolutionContext) (any, error) {
			if err := r.load(dp); err != nil {
				return nil, err
			}
			if b, ok := r.app.GetBinding(key); !ok || b == rc.Binding {
				return nil, fmt.Errorf("deferred provider %T did not bind %q", dp.provider, key)
			}
			return rc.Resolve(key)
		}).Tag("deferred")
	}
}

func (r *ProviderRegistry) load(dp *deferredProvider) error {
	dp.once.Do(func() {
		dp.provider.Register(r.app)

		r.mu.Lock()
		for _, key := range dp.provider.Provides() {
			delete(r.deferred, key)
		}
		booted := r.booted
		r.mu.Unlock()

		r.app.Logger().Info("deferred provider registered",
			zap.String("provider", fmt.Sprintf("%T", dp.provider)),
			zap.Strings("provides", dp.provider.Provides()),
		)
		if booted {
			dp.bootErr = r.boot(dp.provider)
		}
	})
	return dp.bootErr
}

// Boot calls Boot() on all eager providers, in registration order.
// Must be called after ALL providers have been registered.
func (r *ProviderRegistry) Boot() error {
	r.mu.Lock()
	if r.booted {
		r.mu.Unlock()
		return nil
	}
	r.booted = true
	providers := append([]ServiceProvider(nil), r.eager...)
	r.mu.Unlock()

	var errs []error
	for _, provider := range providers {
		if err := r.boot(provider); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (r *ProviderRegistry) boot(provider ServiceProvider) error {
	if err := provider.Boot(r.app); err != nil {
		return fmt.Errorf("boot %T: %w", provider, err)
	}
	return nil
}

// Booted returns true if Boot() has been called.
func (r *ProviderRegistry) Booted() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.booted
}

// Providers returns all registered eager providers.
func (r *ProviderRegistry) Providers() []ServiceProvider {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]ServiceProvider(nil), r.eager...)
}

// Deferred returns the keys whose provider has not been loaded yet.
func (r *ProviderRegistry) Deferred() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	keys := make([]string, 0, len(r.deferred))
	for k := range r.deferred {
		keys = append(keys, k)
	}
	return keys
}
