package router

import (
	"net/http"

	"FlowtrackAPI/internal/auth"
	"FlowtrackAPI/internal/config"
	"FlowtrackAPI/internal/handler"
	"FlowtrackAPI/internal/logger"
	"FlowtrackAPI/internal/resolver"

	"github.com/google/uuid"
)

type route struct {
	method  string
	pattern string
	handler http.HandlerFunc
}

// apiRoutes - таблица маршрутов /api, общая для mux и CORS
func apiRoutes(h *handler.Handler) []route {
	return []route{
		{http.MethodPost, "/api/items", h.List(resolver.ListingItems)},
		{http.MethodPost, "/api/orders", h.List(resolver.ListingOrders)},
		{http.MethodGet, "/api/items/{key}", h.Get(resolver.ListingItems)},
		{http.MethodGet, "/api/orders/{key}", h.Get(resolver.ListingOrders)},
		{http.MethodPatch, "/api/items", h.PatchItems},
	}
}

// New собирает таблицу маршрутов API. validator may be nil when auth is disabled.
func New(cors config.CORSConfig, h *handler.Handler, validator *auth.JWTValidator) http.Handler {
	table := apiRoutes(h)
	api := http.NewServeMux()
	for _, rt := range table {
		api.HandleFunc(rt.method+" "+rt.pattern, rt.handler)
	}

	var protected http.Handler = api
	if validator != nil {
		protected = validator.Middleware(api)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", handler.Health)
	mux.Handle("/api/", protected)

	policy := newCORSPolicy(cors, append(table, route{method: http.MethodGet, pattern: "/healthz"}))
	return policy.wrap(withLogging(mux.ServeHTTP))
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func withLogging(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)
		r = r.WithContext(logger.WithRequestID(r.Context(), id))

		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next(sw, r)
		level := "info"
		if sw.status >= 500 {
			level = "error"
		} else if sw.status >= 400 {
			level = "warn"
		}
		fields := map[string]any{
			"method": r.Method,
			"path":   r.URL.Path,
			"status": sw.status,
		}
		switch level {
		case "error":
			logger.ErrorCtx(r.Context(), "response", fields)
		case "warn":
			logger.WarnCtx(r.Context(), "response", fields)
		default:
			logger.InfoCtx(r.Context(), "response", fields)
		}
	}
}
