package providers

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/km-arc/go-context/framework/container"
)

// MetricsServiceProvider binds the Prometheus registry and a scrape handler
// for it. Deferred: nothing is built until "metrics.handler" is resolved.
type MetricsServiceProvider struct {
	container.BaseProvider
	Registry *prometheus.Registry
}

func (p *MetricsServiceProvider) Register(app *container.Context) {
	registry := p.Registry
	if registry == nil {
		registry = prometheus.NewRegistry()
	}
	app.Bind(KeyMetricsRegistry).To(registry).Tag("framework")
	app.Bind(KeyMetricsHandler).
		ToClass(func(reg *prometheus.Registry) http.Handler {
			return promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})
		}, container.Inject(KeyMetricsRegistry)).
		InScope(container.ScopeSingleton).
		Tag("framework")
}

func (p *MetricsServiceProvider) Provides() []string {
	return []string{KeyMetricsRegistry, KeyMetricsHandler}
}

func (p *MetricsServiceProvider) IsDeferred() bool { return true }
