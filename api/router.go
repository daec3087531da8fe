package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// RequestTimeout bounds a single request. Edits wait on the image model for up
// to edit.DefaultTimeout.
const RequestTimeout = 150 * time.Second

// RouterOption configures NewRouter.
type RouterOption func(*routerConfig)

type routerConfig struct {
	allowedOrigins []string
	timeout        time.Duration
	accessLog      bool
}

// WithAllowedOrigins restricts CORS to the given origins.
func WithAllowedOrigins(origins ...string) RouterOption {
	return func(c *routerConfig) {
		if len(origins) > 0 {
			c.allowedOrigins = origins
		}
	}
}

// WithRequestTimeout overrides RequestTimeout.
func WithRequestTimeout(d time.Duration) RouterOption {
	return func(c *routerConfig) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithoutAccessLog disables chi's request logger.
func WithoutAccessLog() RouterOption {
	return func(c *routerConfig) { c.accessLog = false }
}

// NewRouter creates a chi router with the standard middleware stack and the
// paywall routes mounted at the root.
func NewRouter(h *Handler, opts ...RouterOption) *chi.Mux {
	cfg := routerConfig{
		allowedOrigins: []string{"https://*", "http://*"},
		timeout:        RequestTimeout,
		accessLog:      true,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	if cfg.accessLog {
		r.Use(middleware.Logger)
	}
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(cfg.timeout))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: cfg.allowedOrigins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-Id"},
		MaxAge:         300,
	}))

	h.Routes(r)
	return r
}

// Routes registers the paywall endpoints on r without any middleware.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/health", h.handleHealth)

	r.Route("/v1", func(r chi.Router) {
		r.Get("/products", h.handleListProducts)
		r.Get("/entitlements", h.handleGetEntitlement)
		r.Post("/usage/authorize", h.handleAuthorize)
		r.Post("/edit", h.handleEdit)
		r.Post("/iap/verify", h.handleVerifyPurchase)
		r.Get("/transactions", h.handleListTransactions)
	})
}

// Handler returns the routes as a plain http.Handler.
func (h *Handler) Handler() http.Handler {
	r := chi.NewRouter()
	h.Routes(r)
	return r
}
