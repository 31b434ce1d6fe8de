package handlers

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/groupdiscount/api/internal/platform/httpx"
)

// RouteRegistrar registers a set of routes against the provided router.
type RouteRegistrar func(r chi.Router)

const (
	defaultBasePath = "/api/v1/group-discount"
	defaultTimeout  = 60 * time.Second
)

type routerConfig struct {
	basePath    string
	middlewares []func(http.Handler) http.Handler
	health      *HealthHandlers

	discount RouteRegistrar
	sync     RouteRegistrar
	internal RouteRegistrar

	storefrontMiddlewares []func(http.Handler) http.Handler
	internalMiddlewares   []func(http.Handler) http.Handler
}

// Option customises the router configuration before construction.
type Option func(*routerConfig)

// NewRouter constructs the chi router with shared middleware and route groups.
func NewRouter(opts ...Option) chi.Router {
	cfg := routerConfig{
		basePath: defaultBasePath,
		middlewares: []func(http.Handler) http.Handler{
			middleware.RequestID,
			middleware.RealIP,
			middleware.Timeout(defaultTimeout),
		},
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	r := chi.NewRouter()

	if cfg.health == nil {
		cfg.health = NewHealthHandlers()
	}

	for _, mw := range cfg.middlewares {
		if mw != nil {
			r.Use(mw)
		}
	}

	r.NotFound(func(w http.ResponseWriter, req *http.Request) {
		httpx.WriteFailure(req.Context(), w, http.StatusNotFound, fmt.Sprintf("no route for %s", req.URL.Path), nil)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, req *http.Request) {
		httpx.WriteFailure(req.Context(), w, http.StatusMethodNotAllowed, fmt.Sprintf("method %s not allowed on %s", req.Method, req.URL.Path), nil)
	})

	r.Get("/healthz", cfg.health.Healthz)
	r.Get("/readyz", cfg.health.Readyz)

	r.Route(cfg.basePath, func(group chi.Router) {
		for _, mw := range cfg.storefrontMiddlewares {
			if mw != nil {
				group.Use(mw)
			}
		}
		if cfg.sync != nil {
			cfg.sync(group)
		}
		if cfg.discount != nil {
			cfg.discount(group)
		}
	})

	if cfg.internal != nil {
		r.Route("/internal", func(group chi.Router) {
			for _, mw := range cfg.internalMiddlewares {
				if mw != nil {
					group.Use(mw)
				}
			}
			cfg.internal(group)
		})
	}

	return r
}

// WithBasePath overrides the storefront mount point.
func WithBasePath(path string) Option {
	return func(cfg *routerConfig) {
		if path != "" {
			cfg.basePath = path
		}
	}
}

// WithMiddlewares appends additional global middleware to the router.
func WithMiddlewares(mw ...func(http.Handler) http.Handler) Option {
	return func(cfg *routerConfig) {
		cfg.middlewares = append(cfg.middlewares, mw...)
	}
}

// WithHealthHandlers overrides the default probe handlers.
func WithHealthHandlers(h *HealthHandlers) Option {
	return func(cfg *routerConfig) {
		cfg.health = h
	}
}

// WithDiscountRoutes mounts the configuration endpoints under the base path.
func WithDiscountRoutes(registrar RouteRegistrar) Option {
	return func(cfg *routerConfig) {
		cfg.discount = registrar
	}
}

// WithSyncRoutes mounts the sync endpoint under the base path.
func WithSyncRoutes(registrar RouteRegistrar) Option {
	return func(cfg *routerConfig) {
		cfg.sync = registrar
	}
}

// WithStorefrontMiddlewares applies middleware to every base-path route, such
// as app proxy signature verification and idempotent replay.
func WithStorefrontMiddlewares(mw ...func(http.Handler) http.Handler) Option {
	return func(cfg *routerConfig) {
		cfg.storefrontMiddlewares = append(cfg.storefrontMiddlewares, mw...)
	}
}

// WithInternalRoutes mounts operator routes under /internal.
func WithInternalRoutes(registrar RouteRegistrar) Option {
	return func(cfg *routerConfig) {
		cfg.internal = registrar
	}
}

// WithInternalMiddlewares applies middleware, typically OIDC verification, to
// the /internal group.
func WithInternalMiddlewares(mw ...func(http.Handler) http.Handler) Option {
	return func(cfg *routerConfig) {
		cfg.internalMiddlewares = append(cfg.internalMiddlewares, mw...)
	}
}
