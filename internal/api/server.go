// Package api exposes the HTTP interface for the cloner service.
package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/site-cloner/internal/cloner"
	"github.com/JakeFAU/site-cloner/internal/config"
	"github.com/JakeFAU/site-cloner/internal/metrics"
)

const (
	defaultRequestTimeout = 60 * time.Second
	submitTimeout         = 5 * time.Second
	maxRequestBytes       = 1 << 20
)

// Cloner admits clone requests. *pipeline.Pipeline satisfies it.
type Cloner interface {
	Start(ctx context.Context, caller, rawURL string, opts cloner.Options) (*cloner.CloneRun, error)
	Abort(ctx context.Context, run *cloner.CloneRun, cause error) *cloner.CloneRun
}

// Submitter hands admitted runs to the worker pool. *dispatcher.Dispatcher satisfies it.
type Submitter interface {
	Submit(ctx context.Context, run *cloner.CloneRun, opts cloner.Options) error
}

// Server wires HTTP handlers to the pipeline, dispatcher and run repository.
type Server struct {
	router    chi.Router
	cloner    Cloner
	submitter Submitter
	runs      cloner.Repository
	cfg       config.Config
	logger    *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(
	c Cloner,
	submitter Submitter,
	runs cloner.Repository,
	cfg config.Config,
	logger *zap.Logger,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		cloner:    c,
		submitter: submitter,
		runs:      runs,
		cfg:       cfg,
		logger:    logger,
	}
	timeout := cfg.RequestTimeout()
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(metrics.Middleware)
	r.Use(timeoutMiddleware(timeout))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		if cfg.Auth.Enabled {
			r.Use(apiKeyMiddleware(cfg.Auth.APIKey))
		}
		r.Route("/clones", func(r chi.Router) {
			r.Post("/", s.createClone)
			r.Get("/", s.listClones)
			r.Route("/{run_id}", func(r chi.Router) {
				r.Get("/", s.getClone)
				r.Delete("/", s.deleteClone)
				r.Get("/document", s.getDocument)
			})
		})
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// readyz reports ready once the run repository answers.
func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	if pinger, ok := s.runs.(interface{ Ping(context.Context) error }); ok {
		if err := pinger.Ping(r.Context()); err != nil {
			s.logger.Warn("readiness check failed", zap.Error(err))
			writeError(w, http.StatusServiceUnavailable, "run store unavailable")
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

type cloneRequest struct {
	URL     string         `json:"url"`
	Mode    string         `json:"mode,omitempty"`
	Options cloner.Options `json:"options"`
}

func (s *Server) createClone(w http.ResponseWriter, r *http.Request) {
	var req cloneRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes))
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	opts := req.Options
	if err := opts.ParseMode(req.Mode); err != nil {
		s.writeRunError(w, err)
		return
	}

	run, err := s.cloner.Start(r.Context(), callerID(r, s.cfg.Auth.Enabled), req.URL, opts)
	if err != nil {
		s.writeRunError(w, err)
		return
	}
	runID := run.ID

	submitCtx, cancel := context.WithTimeout(r.Context(), submitTimeout)
	defer cancel()
	if err := s.submitter.Submit(submitCtx, run, opts); err != nil {
		s.logger.Error("submit clone run failed", zap.String("run_id", runID), zap.Error(err))
		s.cloner.Abort(context.WithoutCancel(r.Context()), run, fmt.Errorf("queue unavailable: %w", err))
		writeError(w, http.StatusServiceUnavailable, "clone queue unavailable")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"run_id": runID})
}

// runSummary is a list entry. Document and asset bodies are left out.
type runSummary struct {
	ID         string           `json:"id"`
	URL        string           `json:"url"`
	Status     cloner.RunStatus `json:"status"`
	Progress   int              `json:"progress"`
	Step       string           `json:"step"`
	CreatedAt  time.Time        `json:"created_at"`
	UpdatedAt  time.Time        `json:"updated_at"`
	AssetCount int              `json:"asset_count"`
	Score      *float64         `json:"score,omitempty"`
	ExportURI  string           `json:"export_uri,omitempty"`
	Error      string           `json:"error,omitempty"`
}

func summarize(run *cloner.CloneRun) runSummary {
	return runSummary{
		ID:         run.ID,
		URL:        run.URL,
		Status:     run.Status,
		Progress:   run.Progress,
		Step:       run.Step,
		CreatedAt:  run.CreatedAt,
		UpdatedAt:  run.UpdatedAt,
		AssetCount: run.Metadata.AssetCount,
		Score:      run.Score,
		ExportURI:  run.ExportURI,
		Error:      run.Error,
	}
}

func (s *Server) listClones(w http.ResponseWriter, r *http.Request) {
	runs, err := s.runs.List(r.Context())
	if err != nil {
		s.writeRunError(w, err)
		return
	}
	out := make([]runSummary, 0, len(runs))
	for _, run := range runs {
		out = append(out, summarize(run))
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": out})
}

func (s *Server) getClone(w http.ResponseWriter, r *http.Request) {
	run, err := s.runs.Get(r.Context(), chi.URLParam(r, "run_id"))
	if err != nil {
		s.writeRunError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func (s *Server) getDocument(w http.ResponseWriter, r *http.Request) {
	run, err := s.runs.Get(r.Context(), chi.URLParam(r, "run_id"))
	if err != nil {
		s.writeRunError(w, err)
		return
	}
	if run.Document == "" {
		writeError(w, http.StatusNotFound, "document not available")
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte(run.Document)); err != nil {
		s.logger.Warn("write document failed", zap.String("run_id", run.ID), zap.Error(err))
	}
}

func (s *Server) deleteClone(w http.ResponseWriter, r *http.Request) {
	if err := s.runs.Delete(r.Context(), chi.URLParam(r, "run_id")); err != nil {
		s.writeRunError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// writeRunError maps domain errors onto status codes.
func (s *Server) writeRunError(w http.ResponseWriter, err error) {
	var (
		validation *cloner.ValidationError
		limited    *cloner.RateLimitError
	)
	switch {
	case errors.As(err, &validation):
		writeError(w, http.StatusBadRequest, validation.Error())
	case errors.As(err, &limited):
		w.Header().Set("Retry-After", "60")
		writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
	case errors.Is(err, cloner.ErrNotFound):
		writeError(w, http.StatusNotFound, "clone run not found")
	case errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusServiceUnavailable, "request timed out")
	default:
		s.logger.Error("request failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

// callerID identifies the rate-limit bucket: the API key when auth is on,
// otherwise the client IP.
func callerID(r *http.Request, authEnabled bool) string {
	if authEnabled {
		if key := apiKey(r); key != "" {
			return "key:" + key
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	if host == "" {
		return "anonymous"
	}
	return "ip:" + host
}

func apiKey(r *http.Request) string {
	if key := r.Header.Get("X-API-Key"); key != "" {
		return key
	}
	return r.URL.Query().Get("api_key")
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get("X-Request-ID")
		if reqID == "" {
			reqID = uuid.NewString()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequestID returns the id assigned to the request carrying ctx.
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

func loggingMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(ww, r)
			logger.Info("request completed",
				zap.String("request_id", RequestID(r.Context())),
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.status),
				zap.Int64("duration_ms", time.Since(start).Milliseconds()),
			)
		})
	}
}

func recoverMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("panic recovered",
						zap.String("request_id", RequestID(r.Context())),
						zap.Any("panic", rec),
					)
					writeError(w, http.StatusInternalServerError, "internal server error")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	if err != nil {
		return n, fmt.Errorf("write response: %w", err)
	}
	return n, nil
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := rw.ResponseWriter.(http.Hijacker); ok {
		conn, buf, err := h.Hijack()
		if err != nil {
			return nil, nil, fmt.Errorf("hijack connection: %w", err)
		}
		return conn, buf, nil
	}
	return nil, nil, errors.New("hijacker not supported")
}

type requestIDKey struct{}

func apiKeyMiddleware(expected string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if apiKey(r) != expected {
				writeError(w, http.StatusForbidden, "unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
