package providers

// Keys bound by the framework providers.
const (
	KeyConfig          = "config"           // *config.Config
	KeyLogger          = "logger"           // *zap.Logger
	KeyMetricsRegistry = "metrics.registry" // *prometheus.Registry
	KeyMetricsHandler  = "metrics.handler"  // http.Handler
	KeyRouter          = "router"           // *routing.Router
	KeyRoutes          = "routes"           // *routing.Routes
	KeyInspectHandler  = "inspect.handler"  // http.Handler
)

// Paths the routing provider mounts framework handlers on.
const (
	MetricsPath = "/metrics"
	InspectPath = "/_context"
)
