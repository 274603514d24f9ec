package main

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"catalogsync/internal/catalog"
	"catalogsync/internal/config"
	"catalogsync/internal/httpx"
	"catalogsync/internal/syncer"
)

type routerDeps struct {
	HTTP      config.HTTP
	JWTSecret string
	Logger    *slog.Logger
	Sync      *syncer.HTTPHandler
	Catalog   *catalog.HTTPHandler
	Metrics   http.Handler
	Ready     func(ctx context.Context) error
}

func newRouter(d routerDeps) http.Handler {
	rateLimit := httpx.NewRateLimitMiddleware(d.HTTP.RateLimitRPS, d.HTTP.RateLimitBurst)

	r := chi.NewRouter()
	r.Use(httpx.RequestIDMiddleware)
	r.Use(httpx.AccessLogMiddleware(d.Logger))
	r.Use(httpx.RecoveryMiddleware(d.Logger))
	r.Use(httpx.SecurityHeadersMiddleware(d.HTTP.EnableHSTS))
	r.Use(httpx.CORSMiddleware(d.HTTP.CORSOrigins))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 500*time.Millisecond)
		defer cancel()
		if err := d.Ready(ctx); err != nil {
			http.Error(w, "db not ready", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})
	if d.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", d.Metrics)
	}

	r.Route("/api", func(r chi.Router) {
		r.Use(rateLimit.Middleware)
		r.Use(httpx.RequestSizeLimitMiddleware(d.HTTP.MaxBodyBytes))
		r.Use(httpx.AdminMiddleware(d.JWTSecret))
		d.Sync.Routes(r)
		d.Catalog.Routes(r)
	})
	r.Route("/internal", func(r chi.Router) {
		r.Use(rateLimit.Middleware)
		d.Sync.InternalRoutes(r)
	})

	return r
}
