package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/DukeRupert/reelstat/internal/metrics"
	"github.com/DukeRupert/reelstat/internal/middleware"
)

// RouterConfig holds everything the router mounts.
type RouterConfig struct {
	Payments *PaymentHandler
	Health   *HealthHandler
	Logger   *slog.Logger

	// Stats serves the usage summary. Nil leaves /stats unmounted.
	Stats *StatsHandler

	// MetricsAuth protects /metrics and /stats. Nil leaves them open.
	MetricsAuth *middleware.MetricsAuthMiddleware

	// NotificationLimit bounds callback traffic per client IP. Optional.
	NotificationLimit *middleware.RateLimitMiddleware

	// IsSecure enables HSTS on the HTML pages.
	IsSecure bool
}

// NewRouter builds the HTTP handler.
func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.NewRequestLoggingMiddleware(cfg.Logger).Handler)
	r.Use(metrics.Middleware)
	r.Use(chimw.Recoverer)

	r.NotFound(func(w http.ResponseWriter, req *http.Request) {
		NotFoundResponse(w, req, cfg.Logger)
	})

	r.Method(http.MethodGet, "/health", cfg.Health)

	metricsHandler := promhttp.Handler()
	if cfg.MetricsAuth != nil {
		metricsHandler = cfg.MetricsAuth.Handler(metricsHandler)
	}
	r.Method(http.MethodGet, "/metrics", metricsHandler)

	if cfg.Stats != nil {
		var statsHandler http.Handler = cfg.Stats
		if cfg.MetricsAuth != nil {
			statsHandler = cfg.MetricsAuth.Handler(statsHandler)
		}
		r.Method(http.MethodGet, "/stats", statsHandler)
	}

	r.Route("/payment", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			if cfg.NotificationLimit != nil {
				r.Use(cfg.NotificationLimit.Limit)
			}
			r.Post("/notification", cfg.Payments.HandleNotification)
		})

		r.Group(func(r chi.Router) {
			r.Use(middleware.NewSecurityHeadersMiddleware(cfg.IsSecure).Handler)
			r.Get("/success", cfg.Payments.Success)
			r.Get("/fail", cfg.Payments.Fail)
		})
	})

	return r
}
