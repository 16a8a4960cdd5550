// Package http exposes the transaction and goal services over JSON and
// provides the clients each service uses to reach the other.
package http

import (
	"context"
	"net/http"
	"sync"
	"time"

	"spendly/internal/log"
	"spendly/internal/middleware/ratelimit"
	"spendly/internal/middleware/security"
	"spendly/internal/middleware/trace"
)

// API registers a service's routes.
type API interface {
	Register(mux *http.ServeMux)
}

// ReadinessCheck reports whether the service can serve traffic.
type ReadinessCheck func(ctx context.Context) error

type Options struct {
	Logger         *log.Logger
	RateLimit      ratelimit.Config
	TrustedProxies []string
	Ready          ReadinessCheck
}

// Server is an http.Server wired with request tracing, security headers,
// request-scoped logging and write rate limiting.
type Server struct {
	http.Server
	logger  *log.Logger
	limiter *ratelimit.Limiter
	tracer  *trace.Middleware
	ready   ReadinessCheck

	shutdownOnce sync.Once
}

// NewServer builds a ready-to-run server for api on addr.
func NewServer(addr string, api API, opts Options) (*Server, error) {
	if opts.Logger == nil {
		opts.Logger = log.New(log.DefaultConfig())
	}
	clientIP, err := security.NewClientIP(opts.TrustedProxies...)
	if err != nil {
		return nil, err
	}

	s := &Server{
		logger:  opts.Logger.WithComponent(log.ComponentHTTP),
		limiter: ratelimit.NewLimiter(opts.RateLimit),
		tracer:  trace.NewMiddleware(),
		ready:   opts.Ready,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", handleHealth)
	mux.HandleFunc("GET /readyz", s.handleReady)
	mux.HandleFunc("GET /metrics", s.handleMetrics)
	api.Register(mux)

	limited := s.limiter.Middleware(clientIP.Resolve, func(w http.ResponseWriter, r *http.Request) {
		log.FromContext(r.Context()).WarnContext(r.Context(), "Rate limit exceeded", "client_ip", clientIP.Resolve(r))
		writeJSON(w, http.StatusTooManyRequests, errorBody{Error: "rate limit exceeded, try again later", Kind: "rate_limited"})
	}, http.MethodPost, http.MethodPut, http.MethodDelete)

	var handler http.Handler = mux
	handler = limited(handler)
	handler = log.Middleware(s.logger, trace.RequestID)(handler)
	handler = security.Headers(security.APIHeadersConfig())(handler)
	handler = s.tracer.Handler(handler)

	s.Server = http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return s, nil
}

// Shutdown drains the server and stops background work. Only the first
// call has any effect.
func (s *Server) Shutdown(ctx context.Context) error {
	var err error
	s.shutdownOnce.Do(func() {
		s.limiter.Stop()
		err = s.Server.Shutdown(ctx)
	})
	return err
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.ready != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.ready(ctx); err != nil {
			log.FromContext(ctx).WarnContext(ctx, "Readiness check failed", log.FieldError, err)
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("not ready"))
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}

type metricsView struct {
	TotalRequests  int64 `json:"totalRequests"`
	FailedRequests int64 `json:"failedRequests"`
	RateLimited    int64 `json:"rateLimited"`
	TrackedClients int64 `json:"trackedClients"`
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	req := s.tracer.Metrics()
	rl := s.limiter.Metrics()
	writeJSON(w, http.StatusOK, metricsView{
		TotalRequests:  req.TotalRequests,
		FailedRequests: req.FailedRequests,
		RateLimited:    rl.Rejected,
		TrackedClients: rl.ClientCount,
	})
}
