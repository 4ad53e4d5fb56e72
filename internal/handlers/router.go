package handlers

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/repairdesk/api/internal/platform/httpx"
)

// RouteRegistrar registers one group of routes.
type RouteRegistrar func(r chi.Router)

type audience int

const (
	audienceStaff audience = iota
	audienceInternal
)

// routeGroup is a mount point under the API prefix. A group without a registrar answers 501 so
// clients can tell a disabled feature from a wrong path.
type routeGroup struct {
	path      string
	audience  audience
	registrar RouteRegistrar
}

type routerConfig struct {
	basePath    string
	middlewares []func(http.Handler) http.Handler
	health      *HealthHandlers
	groups      map[string]*routeGroup
	guards      map[audience][]func(http.Handler) http.Handler
}

// Option customises NewRouter.
type Option func(*routerConfig)

const (
	defaultAPIPrefix = "/api/v1"
	defaultTimeout   = 60 * time.Second
)

// groupOrder fixes the mount order so route tables print the same way on every start.
var groupOrder = []string{"tickets", "refunds", "inventory", "coupons", "internal"}

// NewRouter builds the HTTP surface: probes at the root and the ticket, inventory and coupon
// groups under /api/v1.
func NewRouter(opts ...Option) chi.Router {
	cfg := routerConfig{
		basePath:    defaultAPIPrefix,
		middlewares: []func(http.Handler) http.Handler{middleware.RequestID, middleware.RealIP, middleware.Timeout(defaultTimeout)},
		groups: map[string]*routeGroup{
			"tickets":   {path: "/tickets", audience: audienceStaff},
			"refunds":   {path: "/refunds", audience: audienceStaff},
			"inventory": {path: "/inventory", audience: audienceStaff},
			"coupons":   {path: "/coupons", audience: audienceStaff},
			"internal":  {path: "/internal", audience: audienceInternal},
		},
		guards: map[audience][]func(http.Handler) http.Handler{},
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.health == nil {
		cfg.health = NewHealthHandlers()
	}

	r := chi.NewRouter()
	for _, mw := range cfg.middlewares {
		if mw != nil {
			r.Use(mw)
		}
	}
	r.NotFound(func(w http.ResponseWriter, req *http.Request) {
		httpx.WriteError(req.Context(), w, httpx.NewError("route_not_found", fmt.Sprintf("no route for %s", req.URL.Path), http.StatusNotFound))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, req *http.Request) {
		httpx.WriteError(req.Context(), w, httpx.NewError("method_not_allowed", fmt.Sprintf("method %s not allowed on %s", req.Method, req.URL.Path), http.StatusMethodNotAllowed))
	})

	r.Get("/healthz", cfg.health.Healthz)
	r.Get("/readyz", cfg.health.Readyz)

	r.Route(cfg.basePath, func(api chi.Router) {
		for _, name := range groupOrder {
			group := cfg.groups[name]
			guards := cfg.guards[group.audience]
			api.Route(group.path, func(sub chi.Router) {
				for _, mw := range guards {
					if mw != nil {
						sub.Use(mw)
					}
				}
				if group.registrar == nil {
					disabledGroup(sub, name)
					return
				}
				group.registrar(sub)
			})
		}
	})
	return r
}

func withGroup(name string, reg RouteRegistrar) Option {
	return func(cfg *routerConfig) {
		cfg.groups[name].registrar = reg
	}
}

// WithMiddlewares appends router-wide middleware.
func WithMiddlewares(mw ...func(http.Handler) http.Handler) Option {
	return func(cfg *routerConfig) {
		cfg.middlewares = append(cfg.middlewares, mw...)
	}
}

// WithHealthHandlers replaces the /healthz and /readyz handlers.
func WithHealthHandlers(h *HealthHandlers) Option {
	return func(cfg *routerConfig) {
		cfg.health = h
	}
}

// WithTicketRoutes mounts the ticket lifecycle endpoints.
func WithTicketRoutes(reg RouteRegistrar) Option { return withGroup("tickets", reg) }

// WithRefundRoutes mounts refund resolution.
func WithRefundRoutes(reg RouteRegistrar) Option { return withGroup("refunds", reg) }

// WithInventoryRoutes mounts the product catalogue and stock ledger.
func WithInventoryRoutes(reg RouteRegistrar) Option { return withGroup("inventory", reg) }

// WithCouponRoutes mounts coupon administration.
func WithCouponRoutes(reg RouteRegistrar) Option { return withGroup("coupons", reg) }

// WithInternalRoutes mounts maintenance endpoints called by schedulers.
func WithInternalRoutes(reg RouteRegistrar) Option { return withGroup("internal", reg) }

// WithStaffMiddlewares guards every staff-facing group.
func WithStaffMiddlewares(mw ...func(http.Handler) http.Handler) Option {
	return func(cfg *routerConfig) {
		cfg.guards[audienceStaff] = append(cfg.guards[audienceStaff], mw...)
	}
}

// WithInternalMiddlewares guards the /internal group.
func WithInternalMiddlewares(mw ...func(http.Handler) http.Handler) Option {
	return func(cfg *routerConfig) {
		cfg.guards[audienceInternal] = append(cfg.guards[audienceInternal], mw...)
	}
}

func disabledGroup(r chi.Router, name string) {
	handler := func(w http.ResponseWriter, req *http.Request) {
		httpx.WriteError(req.Context(), w, httpx.NewError("not_implemented", fmt.Sprintf("%s routes not implemented", name), http.StatusNotImplemented))
	}
	r.HandleFunc("/", handler)
	r.HandleFunc("/*", handler)
	r.NotFound(handler)
	r.MethodNotAllowed(handler)
}
