// Package engine exposes the operations served to the outer surfaces.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"esg_news/internal/filter"
	"esg_news/internal/model"
	"esg_news/internal/pipeline"
	"esg_news/internal/resolver"
	"esg_news/internal/scheduler"
	"esg_news/internal/storage"
)

// Request is an on-demand resolve request. SubjectKey is optional; when empty
// the key is derived from the subject and its query set.
type Request struct {
	SubjectKey  string
	Subject     string
	DomainTerms []string
	IssueTerms  []string
	MaxResults  int
	Rules       []model.Filter
}

func (r Request) validate() error {
	if !hasTerm(r.DomainTerms) || !hasTerm(r.IssueTerms) {
		return errors.New("domain and issue terms must both be non-empty")
	}
	if r.MaxResults < 0 {
		return fmt.Errorf("max_results must not be negative, got %d", r.MaxResults)
	}
	for _, f := range r.Rules {
		if err := filter.Validate(f); err != nil {
			return err
		}
	}
	return nil
}

func hasTerm(terms []string) bool {
	for _, t := range terms {
		if strings.TrimSpace(t) != "" {
			return true
		}
	}
	return false
}

// Engine ties the resolver, the scheduler and the run log together.
type Engine struct {
	resolver  *resolver.Resolver
	scheduler *scheduler.Scheduler
	store     storage.Storage
	log       *slog.Logger
}

// New creates an Engine.
func New(r *resolver.Resolver, s *scheduler.Scheduler, store storage.Storage, log *slog.Logger) *Engine {
	return &Engine{resolver: r, scheduler: s, store: store, log: log}
}

// Resolve returns the analysis result for an on-demand request.
func (e *Engine) Resolve(ctx context.Context, req Request) (model.AnalysisResult, error) {
	if err := req.validate(); err != nil {
		return model.AnalysisResult{}, &model.Error{Kind: model.KindInvalidRequest, SubjectKey: req.SubjectKey, Err: err}
	}
	return e.resolver.Resolve(ctx, pipeline.Params{
		SubjectKey:  req.SubjectKey,
		Subject:     req.Subject,
		DomainTerms: req.DomainTerms,
		IssueTerms:  req.IssueTerms,
		MaxResults:  req.MaxResults,
		Rules:       req.Rules,
	})
}

// ResolveSubject resolves a watched subject by ID using its configured parameters.
func (e *Engine) ResolveSubject(ctx context.Context, subjectID string) (model.AnalysisResult, error) {
	subj, ok := e.scheduler.Subject(subjectID)
	if !ok {
		return model.AnalysisResult{}, unknownSubject(subjectID)
	}
	return e.resolver.Resolve(ctx, pipeline.FromSubject(subj))
}

// Purge removes key from both cache tiers and drops its snapshot.
func (e *Engine) Purge(ctx context.Context, key string) error {
	if strings.TrimSpace(key) == "" {
		return &model.Error{Kind: model.KindInvalidRequest, Err: errors.New("purge: empty subject key")}
	}
	if err := e.resolver.Purge(ctx, key); err != nil {
		return err
	}
	if err := e.store.DeleteSnapshot(ctx, key); err != nil {
		return fmt.Errorf("purge %s: %w", key, err)
	}
	return nil
}

// CacheInfo reports the cache contents per tier.
func (e *Engine) CacheInfo(ctx context.Context) (model.CacheInfo, error) {
	return e.resolver.CacheInfo(ctx)
}

// Status reports the scheduler state of every watched subject.
func (e *Engine) Status() []scheduler.Status {
	return e.scheduler.Status()
}

// Subjects lists the watched subjects.
func (e *Engine) Subjects() []model.WatchedSubject {
	return e.scheduler.Subjects()
}

// RefreshNow runs a watched subject's scheduled job immediately.
func (e *Engine) RefreshNow(ctx context.Context, subjectID string) (model.RefreshRun, error) {
	return e.scheduler.RefreshNow(ctx, subjectID)
}

// Runs lists recent refresh runs, newest first. An empty subjectID lists all subjects.
func (e *Engine) Runs(ctx context.Context, subjectID string, limit int) ([]model.RefreshRun, error) {
	if subjectID != "" {
		if _, ok := e.scheduler.Subject(subjectID); !ok {
			return nil, unknownSubject(subjectID)
		}
	}
	runs, err := e.store.ListRuns(ctx, subjectID, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	return runs, nil
}

func unknownSubject(id string) error {
	return &model.Error{Kind: model.KindUnknownSubject, Err: fmt.Errorf("no watched subject %q", id)}
}
