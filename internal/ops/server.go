// Package ops serves the HTTP operations surface: health, metrics, cache
// administration, scheduler state and on-demand resolution.
package ops

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"esg_news/internal/engine"
	"esg_news/internal/model"
	"esg_news/internal/scheduler"
)

const shutdownTimeout = 10 * time.Second

// Engine is the set of operations served over HTTP.
type Engine interface {
	Resolve(ctx context.Context, req engine.Request) (model.AnalysisResult, error)
	ResolveSubject(ctx context.Context, subjectID string) (model.AnalysisResult, error)
	Purge(ctx context.Context, key string) error
	CacheInfo(ctx context.Context) (model.CacheInfo, error)
	Status() []scheduler.Status
	Subjects() []model.WatchedSubject
	RefreshNow(ctx context.Context, subjectID string) (model.RefreshRun, error)
	Runs(ctx context.Context, subjectID string, limit int) ([]model.RefreshRun, error)
}

// Server is the ops HTTP server.
type Server struct {
	engine Engine
	log    *slog.Logger
	router chi.Router
}

// New creates a Server and registers its routes.
func New(eng Engine, log *slog.Logger) *Server {
	s := &Server{engine: eng, log: log}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(s.logRequests)

	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Get("/subjects", s.handleSubjects)
	r.Get("/subjects/{id}/result", s.handleSubjectResult)
	r.Post("/resolve", s.handleResolve)

	r.Route("/cache", func(r chi.Router) {
		r.Get("/info", s.handleCacheInfo)
		r.Delete("/", s.handlePurge)
	})

	r.Route("/scheduler", func(r chi.Router) {
		r.Get("/status", s.handleStatus)
		r.Post("/{id}/refresh", s.handleRefresh)
	})
	r.Get("/runs", s.handleRuns)

	s.router = r
	return s
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("ops server listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("serve ops: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown ops: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serve ops: %w", err)
	}
	return nil
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.log.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleSubjects(w http.ResponseWriter, _ *http.Request) {
	subjects := s.engine.Subjects()
	out := make([]subjectJSON, 0, len(subjects))
	for _, subj := range subjects {
		out = append(out, toSubjectJSON(subj))
	}
	writeJSON(w, http.StatusOK, map[string]any{"subjects": out})
}

func (s *Server) handleSubjectResult(w http.ResponseWriter, r *http.Request) {
	res, err := s.engine.ResolveSubject(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleResolve(w http.ResponseWriter, r *http.Request) {
	var body resolveRequest
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&body); err != nil {
		s.writeError(w, &model.Error{Kind: model.KindInvalidRequest, Err: fmt.Errorf("decode request: %w", err)})
		return
	}

	res, err := s.engine.Resolve(r.Context(), body.toRequest())
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleCacheInfo(w http.ResponseWriter, r *http.Request) {
	info, err := s.engine.CacheInfo(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

// handlePurge drops a key given either as ?key= or as ?subject= (a watched subject ID).
func (s *Server) handlePurge(w http.ResponseWriter, r *http.Request) {
	key := r.URL.Query().Get("key")
	if id := r.URL.Query().Get("subject"); id != "" {
		subj, ok := s.subject(id)
		if !ok {
			s.writeError(w, &model.Error{Kind: model.KindUnknownSubject, Err: fmt.Errorf("no watched subject %q", id)})
			return
		}
		key = subj.Key
	}

	if err := s.engine.Purge(r.Context(), key); err != nil {
		s.writeError(w, err)
		return
	}
	s.log.Info("purged via ops", "subject_key", key)
	writeJSON(w, http.StatusOK, map[string]string{"purged": key})
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	statuses := s.engine.Status()
	out := make([]statusJSON, 0, len(statuses))
	for _, st := range statuses {
		out = append(out, toStatusJSON(st))
	}
	writeJSON(w, http.StatusOK, map[string]any{"subjects": out})
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	run, err := s.engine.RefreshNow(r.Context(), id)
	if err != nil && run.StartedAt.IsZero() {
		s.writeError(w, err)
		return
	}

	body := map[string]any{"run": toRunJSON(run)}
	status := http.StatusOK
	if err != nil {
		kind := model.KindOf(err)
		status = statusFor(kind)
		body["error"] = errorJSON{Kind: kind, Message: err.Error()}
	}
	writeJSON(w, status, body)
}

func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit := 0
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			s.writeError(w, &model.Error{Kind: model.KindInvalidRequest, Err: fmt.Errorf("invalid limit %q", v)})
			return
		}
		limit = n
	}

	runs, err := s.engine.Runs(r.Context(), q.Get("subject"), limit)
	if err != nil {
		s.writeError(w, err)
		return
	}
	out := make([]runJSON, 0, len(runs))
	for _, run := range runs {
		out = append(out, toRunJSON(run))
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": out})
}

func (s *Server) subject(id string) (model.WatchedSubject, bool) {
	for _, subj := range s.engine.Subjects() {
		if subj.ID == id {
			return subj, true
		}
	}
	return model.WatchedSubject{}, false
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	kind := model.KindOf(err)
	status := statusFor(kind)
	if status >= http.StatusInternalServerError {
		s.log.Error("ops request failed", "kind", kind, "error", err)
	}
	writeJSON(w, status, map[string]errorJSON{"error": {Kind: kind, Message: err.Error()}})
}

// statusFor maps an error kind to an HTTP status code.
func statusFor(kind model.ErrorKind) int {
	switch kind {
	case model.KindInvalidRequest:
		return http.StatusBadRequest
	case model.KindUnknownSubject:
		return http.StatusNotFound
	case model.KindAlreadyRunning:
		return http.StatusConflict
	case model.KindRateLimited:
		return http.StatusTooManyRequests
	case model.KindSourceUnavailable, model.KindScoringUnavailable:
		return http.StatusServiceUnavailable
	case model.KindAllQueriesFailed:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
