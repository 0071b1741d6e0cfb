// Package httprouter serves the operational endpoints of a running download.
package httprouter

import (
	"log/slog"
	"net/http"
	"slices"

	"audiofetch/internal/infrastructure/delivery/http/middleware"
	"audiofetch/internal/infrastructure/delivery/http/response"
)

// Readiness reports nil once the process can serve its run.
type Readiness func() error

// Router is a ServeMux with a global middleware chain.
type Router struct {
	*http.ServeMux
	log         *slog.Logger
	globalChain []func(http.Handler) http.Handler
	metrics     http.Handler
	ready       Readiness
}

// New builds the router serving /metrics and /readyz.
func New(log *slog.Logger, metrics http.Handler, ready Readiness) *Router {
	r := &Router{
		ServeMux: http.NewServeMux(),
		log:      log.With(slog.String("package", "httprouter")),
		metrics:  metrics,
		ready:    ready,
	}

	r.SetGlobalMiddlewares()
	r.SetRoutes()

	return r
}

// Use appends middlewares to the global chain.
func (r *Router) Use(middleware ...func(http.Handler) http.Handler) {
	r.globalChain = append(r.globalChain, middleware...)
}

func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	var h http.Handler = r.ServeMux

	for _, mw := range slices.Backward(r.globalChain) {
		h = mw(h)
	}

	h.ServeHTTP(w, req)
}

func (r *Router) SetGlobalMiddlewares() {
	r.Use(
		middleware.Recoverer(r.log),
		middleware.RequestID,
		middleware.Logger(r.log),
	)
}

func (r *Router) SetRoutes() {
	r.Handle("GET /metrics", r.metrics)
	r.HandleFunc("GET /readyz", r.Readyz)
}

// Readyz answers 200 when ready and 503 otherwise.
func (r *Router) Readyz(w http.ResponseWriter, req *http.Request) {
	if r.ready == nil {
		response.OK(w, "ready", nil, nil)

		return
	}

	if err := r.ready(); err != nil {
		r.log.DebugContext(req.Context(), "not ready", slog.Any("error", err))
		response.ServiceUnavailable(w, "not ready", err)

		return
	}

	response.OK(w, "ready", nil, nil)
}
