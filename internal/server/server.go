// Package server exposes the artifact cache over HTTP.
package server

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"time"

	"github.com/charmbracelet/log"
	"github.com/charmbracelet/press/internal/cache"
	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/jmgilman/go/errors"
	"github.com/klauspost/compress/gzhttp"
	"golang.org/x/time/rate"
)

// RequestIDHeader carries the per-request ID.
const RequestIDHeader = "X-Request-Id"

const shutdownTimeout = 5 * time.Second

// Artifacts is the cache surface the server needs.
type Artifacts interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Stats() cache.Stats
}

// Options configures a Server.
type Options struct {
	// Content type of served artifacts
	ContentType string

	// Renders per second; zero disables limiting
	RateLimit float64
	Burst     int
}

// Server serves rendered artifacts.
type Server struct {
	artifacts   Artifacts
	contentType string
	limiter     *rate.Limiter
	started     time.Time
}

// New returns a server backed by artifacts.
func New(artifacts Artifacts, opts Options) *Server {
	s := &Server{
		artifacts:   artifacts,
		contentType: opts.ContentType,
		started:     time.Now(),
	}
	if s.contentType == "" {
		s.contentType = "application/octet-stream"
	}
	if opts.RateLimit > 0 {
		burst := opts.Burst
		if burst < 1 {
			burst = 1
		}
		s.limiter = rate.NewLimiter(rate.Limit(opts.RateLimit), burst)
	}
	return s
}

// Handler returns the HTTP handler with compression and request IDs applied.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.handleIndex)
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /api/render/{key}", s.handleRender)
	mux.HandleFunc("GET /api/stats", s.handleStats)
	return requestID(gzhttp.GzipHandler(mux))
}

// Run listens on addr and serves until ctx is canceled.
func (s *Server) Run(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return errors.Wrapf(err, errors.CodeNetwork, "listen on %s", addr)
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is canceled, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Warn("Server shutdown", "err", err)
		}
	}()

	log.Info("Listening", "addr", ln.Addr().String())
	if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
		return errors.Wrap(err, errors.CodeNetwork, "serve")
	}
	return nil
}

func (s *Server) handleIndex(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte("press: GET /api/render/{key}\n"))
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte("ok\n"))
}

func (s *Server) handleRender(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")
	id := w.Header().Get(RequestIDHeader)

	if s.limiter != nil && !s.limiter.Allow() {
		log.Warn("Rate limited", "key", key, "request", id)
		http.Error(w, "Too many requests", http.StatusTooManyRequests)
		return
	}

	start := time.Now()
	data, found, err := s.artifacts.Get(r.Context(), key)
	if err != nil {
		log.Error("Render request failed", "key", key, "request", id,
			"code", errors.GetCode(err), "err", err)
		http.Error(w, "Error", http.StatusInternalServerError)
		return
	}
	if !found {
		log.Debug("Render request not found", "key", key, "request", id)
		http.Error(w, "Not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", s.contentType)
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(data); err != nil {
		log.Debug("Write response", "key", key, "request", id, "err", err)
		return
	}
	log.Debug("Served", "key", key, "request", id,
		"size", humanize.Bytes(uint64(len(data))),
		"took", time.Since(start).Round(time.Millisecond))
}

type statsResponse struct {
	cache.Stats
	Uptime string `json:"uptime"`
}

func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(statsResponse{
		Stats:  s.artifacts.Stats(),
		Uptime: time.Since(s.started).Round(time.Second).String(),
	})
}

// requestID tags every response with a request ID, reusing the caller's.
func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(RequestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(RequestIDHeader, id)
		log.Debug("Request", "method", r.Method, "path", r.URL.Path, "request", id)
		next.ServeHTTP(w, r)
	})
}
