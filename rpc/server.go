package rpc

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tolelom/tolarena/metrics"
)

const maxBodyBytes = 1 << 20

// Options configures the HTTP side of the server.
type Options struct {
	AuthToken string  // empty → no auth required
	RateLimit float64 // sendTx requests per second per IP; 0 disables
	Burst     int
	Metrics   bool // serve /metrics
}

// Server is a JSON-RPC 2.0 HTTP server.
type Server struct {
	handler *Handler
	addr    string
	opts    Options
	limiter *RateLimiter
	log     *slog.Logger
	router  chi.Router
	srv     *http.Server
}

// NewServer creates a Server on addr. If opts.AuthToken is non-empty, every
// RPC request must carry a matching "Authorization: Bearer <token>" header.
func NewServer(addr string, handler *Handler, opts Options, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	s := &Server{
		handler: handler,
		addr:    addr,
		opts:    opts,
		limiter: NewRateLimiter(opts.RateLimit, opts.Burst, handler.clock),
		log:     log.With("component", "rpc"),
	}

	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(metrics.Middleware)
	r.Get("/healthz", s.serveHealth)
	if opts.Metrics {
		r.Handle("/metrics", promhttp.Handler())
	}
	r.Post("/", s.serveRPC)
	s.router = r

	s.srv = &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return s
}

// Router returns the HTTP handler, for tests and embedding.
func (s *Server) Router() http.Handler { return s.router }

// Run binds the port, serves until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	s.log.Info("listening", "addr", ln.Addr().String())

	errCh := make(chan error, 1)
	go func() { errCh <- s.srv.Serve(ln) }()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.srv.Shutdown(shutdownCtx)
}

func (s *Server) serveHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "height": s.handler.bc.Height()})
}

func (s *Server) serveRPC(w http.ResponseWriter, r *http.Request) {
	if s.opts.AuthToken != "" {
		got := []byte(r.Header.Get("Authorization"))
		want := []byte("Bearer " + s.opts.AuthToken)
		if subtle.ConstantTimeCompare(got, want) != 1 {
			writeJSON(w, http.StatusUnauthorized, errResponse(nil, CodeUnauthorized, "unauthorized"))
			return
		}
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)

	var req Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusOK, errResponse(nil, CodeParseError, err.Error()))
		return
	}
	if req.JSONRPC != "2.0" {
		writeJSON(w, http.StatusOK, errResponse(req.ID, CodeInvalidRequest, "jsonrpc must be '2.0'"))
		return
	}

	method := req.Method
	if !s.handler.Has(method) {
		method = "unknown"
	}
	start := time.Now()

	if req.Method == "sendTx" && !s.limiter.Allow(clientIP(r)) {
		metrics.RecordRPC(method, CodeRateLimited, time.Since(start))
		w.Header().Set("Retry-After", "1")
		writeJSON(w, http.StatusTooManyRequests, errResponse(req.ID, CodeRateLimited, "rate limit exceeded"))
		return
	}

	resp := s.handler.Dispatch(req)
	code := 0
	if resp.Error != nil {
		code = resp.Error.Code
		if code == CodeInternalError {
			s.log.Error("rpc failed", "method", req.Method, "error", resp.Error.Message)
		}
	}
	metrics.RecordRPC(method, code, time.Since(start))
	writeJSON(w, http.StatusOK, resp)
}

// clientIP strips the port; RealIP has already applied proxy headers.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
