package router

import (
	"net/http"
	"slices"
	"strings"

	"FlowtrackAPI/internal/config"
)

const corsAllowHeaders = "Content-Type, Authorization, X-Request-ID"

// corsPolicy разбирается один раз при сборке роутера.
// Методы берутся из таблицы маршрутов, OPTIONS добавляется всегда.
type corsPolicy struct {
	origins     map[string]bool
	wildcard    bool
	credentials bool
	methods     string
}

func newCORSPolicy(cfg config.CORSConfig, routes []route) *corsPolicy {
	p := &corsPolicy{origins: map[string]bool{}, credentials: cfg.AllowCredentials}
	for _, o := range strings.Split(cfg.AllowOrigin, ",") {
		switch o = strings.TrimSpace(o); o {
		case "":
		case "*":
			p.wildcard = true
		default:
			p.origins[o] = true
		}
	}
	if len(p.origins) == 0 {
		p.wildcard = true
	}

	var methods []string
	for _, rt := range routes {
		if !slices.Contains(methods, rt.method) {
			methods = append(methods, rt.method)
		}
	}
	slices.Sort(methods)
	p.methods = strings.Join(append(methods, http.MethodOptions), ", ")
	return p
}

// allowOrigin returns the Access-Control-Allow-Origin value ("" to omit it)
// and whether the answer depends on the request Origin.
func (p *corsPolicy) allowOrigin(requestOrigin string) (string, bool) {
	if p.wildcard {
		// "*" нельзя отдавать вместе с credentials
		if p.credentials && requestOrigin != "" {
			return requestOrigin, true
		}
		return "*", false
	}
	if p.origins[requestOrigin] {
		return requestOrigin, true
	}
	return "", true
}

// wrap adds CORS headers and answers preflight requests itself.
func (p *corsPolicy) wrap(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		header := w.Header()
		value, vary := p.allowOrigin(r.Header.Get("Origin"))
		if value != "" {
			header.Set("Access-Control-Allow-Origin", value)
		}
		if vary {
			header.Add("Vary", "Origin")
		}
		if p.credentials {
			header.Set("Access-Control-Allow-Credentials", "true")
		}
		header.Set("Access-Control-Allow-Methods", p.methods)
		header.Set("Access-Control-Allow-Headers", corsAllowHeaders)
		header.Set("Access-Control-Max-Age", "86400")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		h(w, r)
	}
}
