// Package api exposes the metering and billing REST API.
package api

import (
	"database/sql"
	"net/http"
	"time"

	"github.com/bher20/meterbill/internal/api/swagger"
	"github.com/bher20/meterbill/internal/auth"
	"github.com/bher20/meterbill/internal/billing"
	"github.com/bher20/meterbill/internal/logging"
	"github.com/bher20/meterbill/internal/metrics"
	"github.com/bher20/meterbill/internal/seed"
	"github.com/bher20/meterbill/internal/storage"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

// Deps are the services the router serves.
type Deps struct {
	Storage storage.Storage
	Auth    *auth.Service
	Billing *billing.Service
	// Demo may be nil, which disables demo provisioning on login.
	Demo *seed.Provisioner
	// RequestTimeout cancels the request context after the given duration. Zero disables it.
	RequestTimeout time.Duration
	// TariffArchiveDir keeps a copy of every imported tariff sheet when set.
	TariffArchiveDir string
}

// Handler holds the dependencies shared by every endpoint.
type Handler struct {
	st      storage.Storage
	auth    *auth.Service
	billing *billing.Service
	demo    *seed.Provisioner
	archive string
	now     func() time.Time
}

// poolReporter is implemented by SQL backed storages.
type poolReporter interface {
	Driver() string
	PoolStats() (sql.DBStats, error)
}

// NewRouter builds the HTTP handler: ops endpoints at the root and the JSON API under /api.
func NewRouter(d Deps) http.Handler {
	h := &Handler{st: d.Storage, auth: d.Auth, billing: d.Billing, demo: d.Demo, archive: d.TariffArchiveDir, now: time.Now}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(logging.Middleware)
	r.Use(middleware.Recoverer)
	r.Use(middleware.StripSlashes)
	if d.RequestTimeout > 0 {
		r.Use(middleware.Timeout(d.RequestTimeout))
	}
	r.Use(observe)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/livez", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("live"))
	})
	r.Get("/readyz", h.readyz)
	r.Handle("/metrics", h.metricsHandler())
	r.Handle("/swagger", swagger.Handler())
	r.Handle("/swagger/*", swagger.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Post("/auth/register", h.Register)
		r.Post("/auth/login", h.Login)
		r.Post("/auth/refresh", h.RefreshToken)

		r.Group(func(r chi.Router) {
			r.Use(d.Auth.Middleware)

			r.With(d.Auth.RequirePermission(auth.ObjProperties)).Route("/properties", func(r chi.Router) {
				r.Get("/", h.ListProperties)
				r.Post("/", h.CreateProperty)
				r.Get("/{id}", h.GetProperty)
				r.Put("/{id}", h.UpdateProperty)
				r.Patch("/{id}", h.UpdateProperty)
				r.Delete("/{id}", h.DeleteProperty)
			})

			r.With(d.Auth.RequirePermission(auth.ObjMeters)).Route("/meters", func(r chi.Router) {
				r.Get("/", h.ListMeters)
				r.Post("/", h.CreateMeter)
				r.Get("/{id}", h.GetMeter)
				r.Put("/{id}", h.UpdateMeter)
				r.Patch("/{id}", h.UpdateMeter)
				r.Delete("/{id}", h.DeleteMeter)
			})

			r.With(d.Auth.RequirePermission(auth.ObjReadings)).Route("/readings", func(r chi.Router) {
				r.Get("/", h.ListReadings)
				r.Post("/", h.CreateReading)
				r.Get("/{id}", h.GetReading)
				r.Put("/{id}", h.UpdateReading)
				r.Patch("/{id}", h.UpdateReading)
				r.Delete("/{id}", h.DeleteReading)
			})

			r.With(d.Auth.RequirePermission(auth.ObjTariffs)).Route("/tariffs", func(r chi.Router) {
				r.Get("/", h.ListTariffs)
				r.Post("/", h.CreateTariff)
				r.Post("/import", h.ImportTariffs)
				r.Get("/{id}", h.GetTariff)
				r.Put("/{id}", h.UpdateTariff)
				r.Patch("/{id}", h.UpdateTariff)
				r.Delete("/{id}", h.DeleteTariff)
			})

			r.With(d.Auth.RequirePermission(auth.ObjCharges)).Route("/monthly-charges", func(r chi.Router) {
				r.Get("/", h.ListMonthlyCharges)
				r.Get("/{id}", h.GetMonthlyCharge)
			})

			r.With(d.Auth.RequirePermission(auth.ObjPayments)).Route("/payments", func(r chi.Router) {
				r.Get("/", h.ListPayments)
				r.Post("/", h.CreatePayment)
				r.Get("/{id}", h.GetPayment)
				r.Put("/{id}", h.UpdatePayment)
				r.Patch("/{id}", h.UpdatePayment)
				r.Delete("/{id}", h.DeletePayment)
			})

			r.With(d.Auth.RequirePermission(auth.ObjAnalytics)).Route("/analytics", func(r chi.Router) {
				r.Get("/", h.Analytics)
				r.Get("/forecast", h.Forecast)
			})
		})
	})

	return r
}

// NewServer wraps the router in an http.Server listening on addr.
func NewServer(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}
}

func (h *Handler) readyz(w http.ResponseWriter, r *http.Request) {
	if err := h.st.Ping(r.Context()); err != nil {
		log.Warn().Err(err).Msg("readyz: db ping failed")
		http.Error(w, "db not ready", http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}

// metricsHandler refreshes the DB pool gauges before each scrape.
func (h *Handler) metricsHandler() http.Handler {
	prom := promhttp.Handler()
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if pr, ok := h.st.(poolReporter); ok {
			if stats, err := pr.PoolStats(); err == nil {
				metrics.UpdateDBPoolMetrics(pr.Driver(), stats)
			}
		}
		prom.ServeHTTP(w, r)
	})
}

// observe records request metrics labelled by the matched chi route pattern.
func observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if p := rctx.RoutePattern(); p != "" {
				route = p
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		metrics.ObserveRequest(route, r.Method, status, start)
	})
}
