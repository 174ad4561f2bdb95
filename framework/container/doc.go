// Package container provides a hierarchical binding registry: Contexts that
// map keys to Bindings, resolve them through pluggable strategies and notify
// observers of every change.
//
// # Overview
//
// A Context owns Bindings and has at most one parent. Resolution checks the
// Context itself, then walks the ancestor chain. A Binding describes how a
// value is produced (constant, factory, constructor, provider or alias),
// how long it is cached (its Scope) and how it is classified (its tags).
//
// # Context Lifecycle
//
//  1. Create: app := container.NewContext(nil, "app")
//  2. Register providers: registry.Register(&MyProvider{})
//  3. Boot: registry.Boot(), after which any binding may be resolved
//  4. Per request: req := container.NewContext(app, ""); defer req.Close()
//
// # Bindings
//
//	// Constant
//	app.Bind("currentUser").To("John")
//
//	// Factory, re-run on every resolution (ScopeTransient is the default)
//	app.Bind("now").ToDynamicValue(func(rc *container.ResolutionContext) (any, error) {
//	    return time.Now(), nil
//	})
//
//	// Constructor with an injection plan, cached once for the whole tree
//	app.Bind("greeter").
//	    ToClass(NewGreeter, container.Inject("currentUser")).
//	    InScope(container.ScopeSingleton)
//
//	// Alias, optionally into a property of the target
//	app.Bind("dbHost").ToAlias("config#db.host")
//
// # Resolving
//
//	// Awaits promises produced by asynchronous factories
//	v, err := app.Get(ctx, "greeter")
//
//	// Refuses promises with *AsyncResolutionError
//	v, err := app.GetSync("greeter")
//
//	// Generic (preferred, no type assertion required)
//	g, err := container.Resolve[*Greeter](ctx, app, "greeter")
//
// Cycles in the dependency graph fail with *CircularDependencyError whose
// Path lists every key from the top-level request to the repeated one.
//
// # Observing changes
//
//	unsubscribe := app.SubscribeFunc(func(ctx context.Context, ev container.Event) error {
//	    log.Printf("%s %s", ev.Type, ev.Binding.Key())
//	    return nil
//	})
//
//	view := app.CreateView(container.FilterByTag("controller"))
//	view.OnRefresh(func(v *container.View) { rebuild(v.Bindings()) })
//
// Events are delivered in order by one goroutine per Context. WaitUntilIdle
// blocks until every queued event was handled.
//
// # Deferred Providers
//
//	type HeavyProvider struct{ container.BaseProvider }
//
//	func (p *HeavyProvider) IsDeferred() bool   { return true }
//	func (p *HeavyProvider) Provides() []string { return []string{"heavy"} }
//	func (p *HeavyProvider) Register(app *container.Context) {
//	    app.Bind("heavy").ToDynamicValue(heavySetup).InScope(container.ScopeSingleton)
//	}
package container
