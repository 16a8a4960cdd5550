package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"spendly/internal/log"
	"spendly/internal/middleware/ratelimit"
)

type pingAPI struct{}

func (pingAPI) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /ping", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"pong": "ok"})
	})
}

func newTestServer(t *testing.T, api API, opts Options) *Server {
	t.Helper()
	if opts.Logger == nil {
		opts.Logger = log.Discard()
	}
	srv, err := NewServer(":0", api, opts)
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	t.Cleanup(func() { _ = srv.Shutdown(context.Background()) })
	return srv
}

func serve(srv *Server, method, path, body string) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	srv.Handler.ServeHTTP(rr, req)
	return rr
}

func TestHealthAndReady(t *testing.T) {
	srv := newTestServer(t, pingAPI{}, Options{})

	for _, path := range []string{"/healthz", "/readyz"} {
		rr := serve(srv, http.MethodGet, path, "")
		if rr.Code != http.StatusOK {
			t.Fatalf("%s status=%d", path, rr.Code)
		}
	}
}

func TestReadyReportsFailingCheck(t *testing.T) {
	srv := newTestServer(t, pingAPI{}, Options{
		Ready: func(context.Context) error { return errors.New("db down") },
	})

	rr := serve(srv, http.MethodGet, "/readyz", "")
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("status=%d, want 503", rr.Code)
	}
}

func TestMiddlewareHeaders(t *testing.T) {
	srv := newTestServer(t, pingAPI{}, Options{})

	rr := serve(srv, http.MethodGet, "/healthz", "")
	if rr.Header().Get("X-Request-ID") == "" {
		t.Fatal("missing X-Request-ID")
	}
	if got := rr.Header().Get("X-Content-Type-Options"); got != "nosniff" {
		t.Fatalf("X-Content-Type-Options = %q", got)
	}

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Request-ID", "abc-123")
	rr = httptest.NewRecorder()
	srv.Handler.ServeHTTP(rr, req)
	if got := rr.Header().Get("X-Request-ID"); got != "abc-123" {
		t.Fatalf("request id not propagated: %q", got)
	}
}

func TestWritesAreRateLimited(t *testing.T) {
	srv := newTestServer(t, pingAPI{}, Options{RateLimit: ratelimit.Config{RequestsPerMinute: 2}})

	for i := 0; i < 2; i++ {
		if rr := serve(srv, http.MethodPost, "/ping", ""); rr.Code != http.StatusOK {
			t.Fatalf("request %d status=%d", i, rr.Code)
		}
	}
	rr := serve(srv, http.MethodPost, "/ping", "")
	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("status=%d, want 429", rr.Code)
	}
	var body errorBody
	if err := json.NewDecoder(rr.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Kind != "rate_limited" {
		t.Fatalf("kind = %q", body.Kind)
	}

	// Reads are never limited.
	if rr := serve(srv, http.MethodGet, "/healthz", ""); rr.Code != http.StatusOK {
		t.Fatalf("GET after limit status=%d", rr.Code)
	}

	var m metricsView
	rr = serve(srv, http.MethodGet, "/metrics", "")
	if err := json.NewDecoder(rr.Body).Decode(&m); err != nil {
		t.Fatalf("decode metrics: %v", err)
	}
	if m.RateLimited != 1 || m.TotalRequests < 4 {
		t.Fatalf("metrics = %+v", m)
	}
}

func TestNewServerRejectsBadProxyCIDR(t *testing.T) {
	if _, err := NewServer(":0", pingAPI{}, Options{Logger: log.Discard(), TrustedProxies: []string{"nope"}}); err == nil {
		t.Fatal("expected error")
	}
}

func TestShutdownIsIdempotent(t *testing.T) {
	srv := newTestServer(t, pingAPI{}, Options{})
	if err := srv.Shutdown(context.Background()); err != nil {
		t.Fatalf("first shutdown: %v", err)
	}
	if err := srv.Shutdown(context.Background()); err != nil {
		t.Fatalf("second shutdown: %v", err)
	}
}
