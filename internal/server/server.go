// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package server exposes the analyze workflow, stored results and the
// marketplace OAuth login over HTTP. Write endpoints sit behind the API-key
// gate and the per-client rate limiter.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"regexp"
	"strconv"
	"time"

	"github.com/pdiddy/review-engine/internal/logging"
	"github.com/pdiddy/review-engine/internal/metrics"
	"github.com/pdiddy/review-engine/internal/oauth"
	"github.com/pdiddy/review-engine/internal/pipeline"
	"github.com/pdiddy/review-engine/internal/ratelimit"
	"github.com/pdiddy/review-engine/internal/store"
	"github.com/pdiddy/review-engine/pkg/types"
)

const (
	// DefaultAddr is the listen address when none is configured.
	DefaultAddr = ":8080"

	serviceName     = "review-engine"
	maxBodyBytes    = 1 << 20
	defaultPageSize = 10
	sweepInterval   = time.Minute
	shutdownTimeout = 10 * time.Second
)

// Server holds the HTTP handlers and their collaborators.
type Server struct {
	cfg         types.ServerConfig
	oauthCfg    types.OAuthConfig
	reviewLimit int

	pipeline   *pipeline.Pipeline
	store      *store.Store
	tokens     *oauth.Refresher
	handshakes *oauth.HandshakeStore
	limiter    *ratelimit.Limiter
	metrics    *metrics.Metrics
	corsMatch  *regexp.Regexp
	log        *slog.Logger
}

// New creates a Server. tokens may be nil when no OAuth application is
// configured; the auth endpoints then answer 503.
func New(cfg types.PipelineConfig, p *pipeline.Pipeline, st *store.Store, tokens *oauth.Refresher, log *slog.Logger) *Server {
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = DefaultAddr
	}
	log = logging.OrDiscard(log)
	var corsMatch *regexp.Regexp
	if cfg.Server.CORSOriginPattern != "" {
		re, err := regexp.Compile(cfg.Server.CORSOriginPattern)
		if err != nil {
			log.Warn("ignoring invalid cors_origin_pattern", "error", err)
		} else {
			corsMatch = re
		}
	}
	return &Server{
		cfg:         cfg.Server,
		oauthCfg:    cfg.OAuth,
		reviewLimit: cfg.Acquisition.ReviewLimit,
		pipeline:    p,
		store:       st,
		tokens:      tokens,
		handshakes:  oauth.NewHandshakeStore(cfg.OAuth.HandshakeTTL),
		limiter:     ratelimit.New(cfg.Server.RateLimit),
		corsMatch:   corsMatch,
		log:         log,
	}
}

// WithMetrics serves m on GET /metrics and counts error responses on it.
func (s *Server) WithMetrics(m *metrics.Metrics) *Server {
	s.metrics = m
	return s
}

// Handler returns the routed handler wrapped in the common middleware.
func (s *Server) Handler() http.Handler {
	guard := func(h http.HandlerFunc) http.Handler {
		return Chain(h, APIKey(s.cfg.APIKey), RateLimit(s.limiter, s.log))
	}
	keyed := func(h http.HandlerFunc) http.Handler {
		return Chain(h, APIKey(s.cfg.APIKey))
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.Handle("GET /metrics", s.metrics.Handler())

	mux.HandleFunc("GET /api/auth/login", s.handleLogin)
	mux.HandleFunc("GET /api/auth/callback", s.handleCallback)
	mux.Handle("POST /api/auth/refresh", guard(s.handleRefresh))

	mux.Handle("POST /api/analysis", guard(s.handleAnalyze))
	mux.Handle("POST /api/sentiment", guard(s.handleSentiment))
	mux.HandleFunc("GET /api/analysis", s.handleListAnalyses)
	mux.HandleFunc("GET /api/analysis/{id}", s.handleGetAnalysis)
	mux.Handle("DELETE /api/analysis/{id}", keyed(s.handleDeleteAnalysis))
	mux.Handle("DELETE /api/analysis", keyed(s.handleClearAnalyses))

	mux.HandleFunc("GET /api/products", s.handleListProducts)
	mux.HandleFunc("GET /api/products/{id}", s.handleGetProduct)
	mux.HandleFunc("GET /api/products/{id}/analysis", s.handleLatestAnalysis)
	mux.Handle("POST /api/products/{id}/analysis", guard(s.handleReanalyze))
	mux.Handle("DELETE /api/products/{id}", keyed(s.handleDeleteProduct))

	return Chain(mux, s.middleware()...)
}

// middleware lists the common wrappers outermost first. The request ID
// is assigned before anything can fail, and Recover sits inside Logger so
// a recovered panic is logged with its 500 status.
func (s *Server) middleware() []Middleware {
	return []Middleware{
		RequestID(),
		CORS(s.cfg.CORSOrigins, s.corsMatch),
		Logger(s.log),
		Recover(s.log),
		OTel(serviceName),
		Metrics(s.metrics),
	}
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go s.sweep(ctx)

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("server listening", "addr", s.cfg.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serving: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	s.log.Info("server shutting down")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down: %w", err)
	}
	return nil
}

// sweep drops expired handshakes and idle rate windows periodically.
func (s *Server) sweep(ctx context.Context) {
	t := time.NewTicker(sweepInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			s.handshakes.Sweep()
			s.limiter.Prune()
		}
	}
}

// errorBody is the JSON shape of every error response.
type errorBody struct {
	Message string `json:"message"`
	Error   string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorBody{Message: message, Error: code})
}

// writeStoreError maps store errors onto 404 or 500.
func (s *Server) writeStoreError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "not_found", err.Error())
		return
	}
	s.log.Error("store failure", "path", r.URL.Path, "error", err, "request_id", RequestIDFrom(r.Context()))
	writeError(w, http.StatusInternalServerError, "internal_error", "Internal server error")
}

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "invalid_request", "id must be a positive integer")
		return 0, false
	}
	return id, true
}
