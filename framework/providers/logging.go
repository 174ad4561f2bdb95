package providers

import (
	"go.uber.org/zap"

	"github.com/km-arc/go-context/framework/config"
	"github.com/km-arc/go-context/framework/container"
	"github.com/km-arc/go-context/framework/logging"
)

// LoggingServiceProvider binds the application logger at "logger".
// Without an explicit Logger one is built from config#log.
type LoggingServiceProvider struct {
	container.BaseProvider
	Logger *zap.Logger
}

func (p *LoggingServiceProvider) Register(app *container.Context) {
	if p.Logger != nil {
		app.Bind(KeyLogger).To(p.Logger).Tag("framework")
		return
	}
	app.Bind(KeyLogger).
		ToClass(func(cfg config.LogConfig) (*zap.Logger, error) {
			return logging.New(cfg)
		}, container.InjectConfig("log", "")).
		InScope(container.ScopeSingleton).
		Tag("framework")
}
