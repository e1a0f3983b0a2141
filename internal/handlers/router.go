package handlers

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/certified-builder/api/internal/platform/httpx"
)

const (
	apiPrefix          = "/api/v1"
	requestTimeout     = 60 * time.Second
	defaultMetricsPath = "/metrics"
	errorNotFoundCode  = "route_not_found"
)

// RouteRegistrar adds a handler group's routes to r.
type RouteRegistrar func(r chi.Router)

type middlewares []func(http.Handler) http.Handler

func (m middlewares) apply(r chi.Router) {
	for _, mw := range m {
		if mw != nil {
			r.Use(mw)
		}
	}
}

type routes struct {
	global      middlewares
	api         middlewares
	internalMWs middlewares

	health      *HealthHandlers
	metricsPath string
	metrics     http.Handler

	orders   RouteRegistrar
	products RouteRegistrar
	internal RouteRegistrar
}

// Option configures NewRouter.
type Option func(*routes)

// NewRouter lays out the service:
//
//	GET  /healthz, /readyz, metrics path   global middlewares only
//	/api/v1/orders:build, /api/v1/products global + API middlewares
//	/api/v1/internal/...                   global + internal middlewares
//
// A group without a registrar answers 501.
func NewRouter(opts ...Option) chi.Router {
	cfg := &routes{
		global:      middlewares{middleware.RequestID, middleware.RealIP, middleware.Timeout(requestTimeout)},
		metricsPath: defaultMetricsPath,
	}
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.health == nil {
		cfg.health = NewHealthHandlers()
	}

	r := chi.NewRouter()
	cfg.global.apply(r)
	r.NotFound(func(w http.ResponseWriter, req *http.Request) {
		writeRouteError(w, req, errorNotFoundCode, http.StatusNotFound, "no route for %s", req.URL.Path)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, req *http.Request) {
		writeRouteError(w, req, "method_not_allowed", http.StatusMethodNotAllowed, "method %s not allowed on %s", req.Method, req.URL.Path)
	})

	r.Get("/healthz", cfg.health.Healthz)
	r.Get("/readyz", cfg.health.Readyz)
	if cfg.metrics != nil {
		r.Method(http.MethodGet, cfg.metricsPath, cfg.metrics)
	}

	r.Route(apiPrefix, func(v1 chi.Router) {
		v1.Group(func(public chi.Router) {
			cfg.api.apply(public)
			if cfg.orders != nil {
				cfg.orders(public)
			} else {
				public.HandleFunc("/orders:build", notImplemented("orders"))
			}
			public.Route("/products", mountOrStub(cfg.products, "products"))
		})
		v1.Route("/internal", func(group chi.Router) {
			cfg.internalMWs.apply(group)
			mountOrStub(cfg.internal, "internal")(group)
		})
	})
	return r
}

func mountOrStub(reg RouteRegistrar, name string) func(chi.Router) {
	if reg != nil {
		return reg
	}
	return func(r chi.Router) {
		stub := notImplemented(name)
		r.HandleFunc("/", stub)
		r.HandleFunc("/*", stub)
		r.NotFound(stub)
		r.MethodNotAllowed(stub)
	}
}

func notImplemented(name string) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		writeRouteError(w, req, "not_implemented", http.StatusNotImplemented, "%s routes not implemented", name)
	}
}

func writeRouteError(w http.ResponseWriter, req *http.Request, code string, status int, format string, args ...any) {
	httpx.WriteError(req.Context(), w, httpx.NewError(code, fmt.Sprintf(format, args...), status))
}

// WithMiddlewares appends middlewares applied to every route.
func WithMiddlewares(mw ...func(http.Handler) http.Handler) Option {
	return func(c *routes) { c.global = append(c.global, mw...) }
}

func WithHealthHandlers(h *HealthHandlers) Option {
	return func(c *routes) { c.health = h }
}

// WithMetricsHandler mounts handler at path, or at /metrics when path is blank.
func WithMetricsHandler(path string, handler http.Handler) Option {
	return func(c *routes) {
		if path = strings.TrimSpace(path); path != "" {
			c.metricsPath = path
		}
		c.metrics = handler
	}
}

// WithAPIMiddlewares appends middlewares for the public API group, in call order.
func WithAPIMiddlewares(mw ...func(http.Handler) http.Handler) Option {
	return func(c *routes) { c.api = append(c.api, mw...) }
}

// WithInternalMiddlewares appends middlewares for the /internal group.
func WithInternalMiddlewares(mw ...func(http.Handler) http.Handler) Option {
	return func(c *routes) { c.internalMWs = append(c.internalMWs, mw...) }
}

// WithOrderRoutes registers at the API root since orders:build is an action, not a resource.
func WithOrderRoutes(reg RouteRegistrar) Option {
	return func(c *routes) { c.orders = reg }
}

func WithProductRoutes(reg RouteRegistrar) Option {
	return func(c *routes) { c.products = reg }
}

func WithInternalRoutes(reg RouteRegistrar) Option {
	return func(c *routes) { c.internal = reg }
}
