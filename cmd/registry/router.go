package main

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"propledger/internal/platform/metrics"
	"propledger/internal/registry/handler"
	"propledger/pkg/platform/httputil"
	authmw "propledger/pkg/platform/middleware/auth"
	"propledger/pkg/platform/middleware/metadata"
	"propledger/pkg/platform/middleware/ops"
	"propledger/pkg/platform/middleware/request"
	"propledger/pkg/platform/middleware/requesttime"
)

const healthCheckTimeout = 2 * time.Second

type routerDeps struct {
	handler      *handler.Handler
	validator    authmw.JWTValidator
	httpMetrics  *metrics.HTTP
	gatherer     prometheus.Gatherer
	metricsToken string
	checks       []healthCheck
	logger       *slog.Logger
}

func newRouter(d routerDeps) http.Handler {
	r := chi.NewRouter()
	r.Use(request.RequestID)
	r.Use(request.Recover(d.logger))
	r.Use(request.Logger(d.logger))
	r.Use(d.httpMetrics.Middleware)
	r.Use(requesttime.Middleware)
	r.Use(metadata.ClientMetadata)

	r.Get("/healthz", healthHandler(d.checks, d.logger))
	r.With(ops.RequireToken(d.metricsToken, d.logger)).
		Handle("/metrics", promhttp.HandlerFor(d.gatherer, promhttp.HandlerOpts{}))

	d.handler.RegisterPublic(r)
	r.Group(func(r chi.Router) {
		r.Use(authmw.RequireAuth(d.validator, d.logger))
		d.handler.Register(r)
	})
	return r
}

func healthHandler(checks []healthCheck, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
		defer cancel()

		status := http.StatusOK
		results := map[string]string{}
		for _, c := range checks {
			if err := c.check(ctx); err != nil {
				logger.WarnContext(ctx, "health check failed", "component", c.name, "error", err)
				results[c.name] = "down"
				status = http.StatusServiceUnavailable
				continue
			}
			results[c.name] = "up"
		}
		body := map[string]any{"status": "ok", "components": results}
		if status != http.StatusOK {
			body["status"] = "degraded"
		}
		httputil.WriteJSON(w, status, body)
	}
}
