package router

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"FlowtrackAPI/internal/config"
	"FlowtrackAPI/internal/handler"
)

var testRoutes = []route{
	{method: http.MethodPost, pattern: "/api/items"},
	{method: http.MethodGet, pattern: "/api/items/{key}"},
	{method: http.MethodPost, pattern: "/api/orders"},
}

func corsHandler(cfg config.CORSConfig, called *bool) http.HandlerFunc {
	return newCORSPolicy(cfg, testRoutes).wrap(func(w http.ResponseWriter, r *http.Request) {
		if called != nil {
			*called = true
		}
		w.WriteHeader(http.StatusOK)
	})
}

func serveOrigin(h http.HandlerFunc, method, origin string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, "/api/items", nil)
	if origin != "" {
		req.Header.Set("Origin", origin)
	}
	w := httptest.NewRecorder()
	h(w, req)
	return w
}

func TestCORS_AllowsSingleOrigin(t *testing.T) {
	w := serveOrigin(corsHandler(config.CORSConfig{AllowOrigin: "http://localhost:3000"}, nil), http.MethodGet, "http://localhost:3000")

	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:3000" {
		t.Fatalf("unexpected allow origin: %q", got)
	}
	if got := w.Header().Get("Vary"); got != "Origin" {
		t.Fatalf("unexpected vary: %q", got)
	}
}

func TestCORS_AllowsFromCSVList(t *testing.T) {
	h := corsHandler(config.CORSConfig{AllowOrigin: "http://192.168.0.251:3000, http://cbs:3000"}, nil)

	if got := serveOrigin(h, http.MethodGet, "http://cbs:3000").Header().Get("Access-Control-Allow-Origin"); got != "http://cbs:3000" {
		t.Fatalf("unexpected allow origin: %q", got)
	}
	if got := serveOrigin(h, http.MethodGet, "http://evil.example").Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Fatalf("unexpected allow origin for blocked origin: %q", got)
	}
}

func TestCORS_EmptyConfigIsWildcard(t *testing.T) {
	w := serveOrigin(corsHandler(config.CORSConfig{AllowOrigin: " , "}, nil), http.MethodGet, "http://cbs:3000")
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Fatalf("unexpected allow origin: %q", got)
	}
	if got := w.Header().Get("Vary"); got != "" {
		t.Fatalf("wildcard answer must not vary, got %q", got)
	}
}

func TestCORS_WildcardWithCredentialsEchoesOrigin(t *testing.T) {
	w := serveOrigin(corsHandler(config.CORSConfig{AllowOrigin: "*", AllowCredentials: true}, nil), http.MethodGet, "http://cbs:3000")

	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "http://cbs:3000" {
		t.Fatalf("unexpected allow origin: %q", got)
	}
	if got := w.Header().Get("Access-Control-Allow-Credentials"); got != "true" {
		t.Fatalf("unexpected allow credentials: %q", got)
	}
}

func TestCORS_PreflightMethodsFromRoutes(t *testing.T) {
	called := false
	w := serveOrigin(corsHandler(config.CORSConfig{AllowOrigin: "*"}, &called), http.MethodOptions, "")

	if w.Code != http.StatusNoContent || called {
		t.Fatalf("preflight must short-circuit with 204, got %d called=%v", w.Code, called)
	}
	if got := w.Header().Get("Access-Control-Allow-Methods"); got != "GET, POST, OPTIONS" {
		t.Fatalf("unexpected allow methods: %q", got)
	}
}

func TestRouterPreflightListsRegisteredMethods(t *testing.T) {
	se := &stubEngine{}
	srv := New(config.CORSConfig{AllowOrigin: "*"}, handler.New(se, se, time.Second), nil)

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodOptions, "/api/items", nil))
	if got := rec.Header().Get("Access-Control-Allow-Methods"); got != "GET, PATCH, POST, OPTIONS" {
		t.Fatalf("unexpected allow methods: %q", got)
	}
}
