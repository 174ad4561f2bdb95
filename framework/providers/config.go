package providers

import (
	"github.com/km-arc/go-context/framework/config"
	"github.com/km-arc/go-context/framework/container"
)

// ConfigServiceProvider binds the application configuration.
//
// Bound keys:
//   - "config"              → *config.Config (singleton, locked)
//   - "app:$config"         → config#app
//   - "log:$config"         → config#log
//   - "context:$config"     → config#context
//
// The section keys make every setting reachable with GetConfig:
//
//	level, _ := app.GetConfigSync("log", "level")
type ConfigServiceProvider struct {
	container.BaseProvider
	// Config is bound as is when set; otherwise EnvFiles are loaded.
	Config   *config.Config
	EnvFiles []string
}

func (p *ConfigServiceProvider) Register(app *container.Context) {
	if p.Config != nil {
		app.Bind(KeyConfig).To(p.Config).Tag("framework").Lock()
	} else {
		envFiles := p.EnvFiles
		app.Bind(KeyConfig).ToDynamicValue(func(*container.ResolutionContext) (any, error) {
			return config.Load(envFiles...), nil
		}).InScope(container.ScopeSingleton).Tag("framework").Lock()
	}

	for _, section := range []string{"app", "log", "context"} {
		app.Configure(section).ToAlias(container.KeyWithPath(KeyConfig, section)).Tag("framework")
	}
}
