package handlers

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/printy-garments/api/internal/platform/httpx"
)

// RouteRegistrar registers a set of routes against the provided router.
type RouteRegistrar func(r chi.Router)

// routeGroup is one mounted section of the API surface. Groups without a
// registrar answer 501 so a partially wired server still routes cleanly.
type routeGroup struct {
	name        string
	path        string
	registrar   RouteRegistrar
	middlewares []func(http.Handler) http.Handler
}

type routerConfig struct {
	basePath    string
	middlewares []func(http.Handler) http.Handler
	health      *HealthHandlers
	groups      [4]routeGroup
}

// Option customises the router configuration before construction.
type Option func(*routerConfig)

const (
	defaultAPIPrefix  = "/api/v1"
	defaultTimeout    = 60 * time.Second
	errorNotFoundCode = "route_not_found"
)

const (
	groupPublic = iota
	groupMe
	groupAdmin
	groupInternal
)

func defaultRouterConfig() routerConfig {
	return routerConfig{
		basePath: defaultAPIPrefix,
		middlewares: []func(http.Handler) http.Handler{
			middleware.RequestID,
			middleware.RealIP,
			middleware.Timeout(defaultTimeout),
		},
		groups: [4]routeGroup{
			groupPublic:   {name: "public", path: "/public"},
			groupMe:       {name: "me", path: "/me"},
			groupAdmin:    {name: "admin", path: "/admin"},
			groupInternal: {name: "internal", path: "/internal"},
		},
	}
}

// NewRouter constructs the chi router with shared middleware and expected route groups.
func NewRouter(opts ...Option) chi.Router {
	cfg := defaultRouterConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.health == nil {
		cfg.health = NewHealthHandlers()
	}

	r := chi.NewRouter()
	useAll(r, cfg.middlewares)

	r.NotFound(routeErrorHandler(errorNotFoundCode, http.StatusNotFound))
	r.MethodNotAllowed(routeErrorHandler("method_not_allowed", http.StatusMethodNotAllowed))

	r.Get("/healthz", cfg.health.Healthz)
	r.Get("/readyz", cfg.health.Readyz)

	r.Route(cfg.basePath, func(api chi.Router) {
		for _, group := range cfg.groups {
			group := group
			api.Route(group.path, func(sub chi.Router) {
				useAll(sub, group.middlewares)
				if group.registrar != nil {
					group.registrar(sub)
					return
				}
				mountNotImplemented(sub, group.name)
			})
		}
	})

	return r
}

func useAll(r chi.Router, middlewares []func(http.Handler) http.Handler) {
	for _, mw := range middlewares {
		if mw != nil {
			r.Use(mw)
		}
	}
}

// routeErrorHandler renders the shared JSON envelope for routing misses.
func routeErrorHandler(code string, status int) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		message := fmt.Sprintf("no route for %s", req.URL.Path)
		if status == http.StatusMethodNotAllowed {
			message = fmt.Sprintf("method %s not allowed on %s", req.Method, req.URL.Path)
		}
		httpx.WriteError(req.Context(), w, httpx.NewError(code, message, status))
	}
}

// WithMiddlewares appends additional global middleware to the router.
func WithMiddlewares(mw ...func(http.Handler) http.Handler) Option {
	return func(cfg *routerConfig) {
		cfg.middlewares = append(cfg.middlewares, mw...)
	}
}

// WithHealthHandlers overrides the handlers used for /healthz and /readyz endpoints.
func WithHealthHandlers(h *HealthHandlers) Option {
	return func(cfg *routerConfig) {
		cfg.health = h
	}
}

// WithPublicRoutes configures the registrar responsible for public catalog endpoints.
func WithPublicRoutes(reg RouteRegistrar) Option {
	return func(cfg *routerConfig) {
		cfg.groups[groupPublic].registrar = reg
	}
}

// WithMeRoutes configures the registrar responsible for client scoped endpoints.
func WithMeRoutes(reg RouteRegistrar) Option {
	return func(cfg *routerConfig) {
		cfg.groups[groupMe].registrar = reg
	}
}

// WithMeMiddlewares configures middlewares applied to the /me group.
func WithMeMiddlewares(mw ...func(http.Handler) http.Handler) Option {
	return func(cfg *routerConfig) {
		cfg.groups[groupMe].middlewares = append(cfg.groups[groupMe].middlewares, mw...)
	}
}

// WithAdminRoutes configures the registrar responsible for staff endpoints.
func WithAdminRoutes(reg RouteRegistrar) Option {
	return func(cfg *routerConfig) {
		cfg.groups[groupAdmin].registrar = reg
	}
}

// WithAdminMiddlewares configures middlewares applied to the /admin group.
func WithAdminMiddlewares(mw ...func(http.Handler) http.Handler) Option {
	return func(cfg *routerConfig) {
		cfg.groups[groupAdmin].middlewares = append(cfg.groups[groupAdmin].middlewares, mw...)
	}
}

// WithInternalRoutes configures the registrar responsible for internal job endpoints.
func WithInternalRoutes(reg RouteRegistrar) Option {
	return func(cfg *routerConfig) {
		cfg.groups[groupInternal].registrar = reg
	}
}

// WithInternalMiddlewares configures middlewares applied to the /internal group.
func WithInternalMiddlewares(mw ...func(http.Handler) http.Handler) Option {
	return func(cfg *routerConfig) {
		cfg.groups[groupInternal].middlewares = append(cfg.groups[groupInternal].middlewares, mw...)
	}
}

func mountNotImplemented(r chi.Router, name string) {
	handler := func(w http.ResponseWriter, req *http.Request) {
		httpx.WriteError(req.Context(), w, httpx.NewError("not_implemented", fmt.Sprintf("%s routes not implemented", name), http.StatusNotImplemented))
	}
	r.HandleFunc("/*", handler)
	r.HandleFunc("/", handler)
	r.NotFound(handler)
	r.MethodNotAllowed(handler)
}
