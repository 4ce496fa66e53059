// Package pipeline implements the fetch, filter, dedup and score step shared
// by the resolver and the scheduler.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"esg_news/internal/dedup"
	"esg_news/internal/fetcher"
	"esg_news/internal/filter"
	"esg_news/internal/metrics"
	"esg_news/internal/model"
	"esg_news/internal/query"
	"esg_news/internal/scoring"
)

// Defaults applied to zero Config fields.
const (
	DefaultMaxResults   = 100
	DefaultSearchLimit  = 100
	DefaultConcurrency  = 4
	DefaultQueryTimeout = 10 * time.Second
	DefaultBackoffMin   = 30 * time.Second
	DefaultBackoffMax   = 10 * time.Minute
)

// Config tunes a Pipeline.
type Config struct {
	Threshold    float64
	MaxQueries   int
	MaxResults   int
	SearchLimit  int
	Concurrency  int
	QueryTimeout time.Duration
	BackoffMin   time.Duration
	BackoffMax   time.Duration
}

func (c Config) withDefaults() Config {
	if c.Threshold <= 0 || c.Threshold > 1 {
		c.Threshold = dedup.DefaultThreshold
	}
	if c.MaxResults <= 0 {
		c.MaxResults = DefaultMaxResults
	}
	if c.SearchLimit <= 0 {
		c.SearchLimit = DefaultSearchLimit
	}
	if c.Concurrency <= 0 {
		c.Concurrency = DefaultConcurrency
	}
	if c.QueryTimeout <= 0 {
		c.QueryTimeout = DefaultQueryTimeout
	}
	if c.BackoffMin <= 0 {
		c.BackoffMin = DefaultBackoffMin
	}
	if c.BackoffMax < c.BackoffMin {
		c.BackoffMax = max(DefaultBackoffMax, c.BackoffMin)
	}
	return c
}

// Params describes one computation request.
type Params struct {
	SubjectKey  string
	Subject     string
	DomainTerms []string
	IssueTerms  []string
	MaxQueries  int
	MaxResults  int
	Rules       []model.Filter
}

// FromSubject builds the parameters of a watched subject.
func FromSubject(s model.WatchedSubject) Params {
	return Params{
		SubjectKey:  s.Key,
		Subject:     s.Subject,
		DomainTerms: s.DomainTerms,
		IssueTerms:  s.IssueTerms,
		MaxQueries:  s.MaxQueries,
		MaxResults:  s.MaxResults,
		Rules:       s.Rules,
	}
}

// Queries builds the query sequence. defaultMax applies when p.MaxQueries is zero.
func (p Params) Queries(defaultMax int) []query.Query {
	limit := p.MaxQueries
	if limit <= 0 {
		limit = defaultMax
	}
	return query.Build(p.DomainTerms, p.IssueTerms, p.Subject, limit)
}

// Key returns the explicit subject key or derives one from the query sequence.
func (p Params) Key(defaultMax int) string {
	if p.SubjectKey != "" {
		return p.SubjectKey
	}
	return query.SubjectKey(p.Subject, p.Queries(defaultMax))
}

type backoff struct {
	until time.Time
	delay time.Duration
}

// Pipeline runs searches for a subject and assembles an AnalysisResult.
type Pipeline struct {
	source fetcher.Searcher
	scorer scoring.Scorer
	cfg    Config
	logger *slog.Logger
	now    func() time.Time

	mu      sync.Mutex
	backoff map[string]backoff
}

// New creates a Pipeline.
func New(source fetcher.Searcher, scorer scoring.Scorer, cfg Config, logger *slog.Logger) *Pipeline {
	if scorer == nil {
		scorer = scoring.Disabled{}
	}
	return &Pipeline{
		source:  source,
		scorer:  scorer,
		cfg:     cfg.withDefaults(),
		logger:  logger,
		now:     time.Now,
		backoff: make(map[string]backoff),
	}
}

// Key returns the cache key for p.
func (pl *Pipeline) Key(p Params) string {
	return p.Key(pl.cfg.MaxQueries)
}

type queryResult struct {
	articles []model.Article
	err      error
	timedOut bool
}

// Run computes a fresh result for p and tags it with tier.
//
// Failed, rate-limited and timed-out queries are omitted from the merge and
// counted in the diagnostics. Only when every query fails does Run return an
// error. Scoring failures leave clusters unscored.
func (pl *Pipeline) Run(ctx context.Context, p Params, tier model.Tier) (model.AnalysisResult, error) {
	queries := p.Queries(pl.cfg.MaxQueries)
	key := p.Key(pl.cfg.MaxQueries)
	if len(queries) == 0 {
		return model.AnalysisResult{}, &model.Error{
			Kind:       model.KindInvalidRequest,
			SubjectKey: key,
			Err:        errors.New("domain and issue terms must both be non-empty"),
		}
	}

	if err := pl.waitBackoff(ctx, key); err != nil {
		return model.AnalysisResult{}, err
	}

	results := pl.search(ctx, queries)
	if err := ctx.Err(); err != nil {
		return model.AnalysisResult{}, fmt.Errorf("compute %s: %w", key, err)
	}

	var diag model.Diagnostics
	diag.Queries = len(queries)
	var merged []model.Article
	for i, r := range results {
		switch {
		case r.err == nil:
			merged = append(merged, r.articles...)
			continue
		case r.timedOut:
			diag.TimedOutQueries++
		case errors.Is(r.err, model.ErrRateLimited):
			diag.RateLimited++
		default:
			diag.FailedQueries++
		}
		pl.logger.Warn("query failed", "subject_key", key, "query", queries[i].String(), "error", r.err)
	}

	if diag.RateLimited > 0 {
		pl.extendBackoff(key)
	} else {
		pl.resetBackoff(key)
	}

	failed := diag.FailedQueries + diag.TimedOutQueries + diag.RateLimited
	if failed == len(queries) {
		kind := model.KindAllQueriesFailed
		if diag.RateLimited == len(queries) {
			kind = model.KindRateLimited
		}
		return model.AnalysisResult{}, &model.Error{
			Kind:       kind,
			SubjectKey: key,
			Err:        fmt.Errorf("all %d queries failed: %w", len(queries), firstErr(results)),
		}
	}

	diag.RawArticles = len(merged)
	kept, filtered := filter.Apply(merged, p.Rules)
	diag.Filtered = filtered

	clustered := dedup.Cluster(kept, pl.cfg.Threshold)
	diag.Dropped = clustered.Dropped
	diag.DuplicateIDs = clustered.DuplicateIDs

	res := model.AnalysisResult{
		SubjectKey: key,
		Status:     model.StatusOK,
		Clusters:   clustered.Clusters,
		Queries:    query.Strings(queries),
		ComputedAt: pl.now(),
		SourceTier: tier,
	}

	if len(res.Clusters) == 0 {
		res.Status = model.StatusNoResults
		res.Clusters = []model.ArticleCluster{}
		diag.Partial = failed > 0
		res.Diagnostics = diag
		metrics.ClusterCount.Observe(0)
		return res, nil
	}

	limit := p.MaxResults
	if limit <= 0 {
		limit = pl.cfg.MaxResults
	}
	if len(res.Clusters) > limit {
		diag.Truncated = len(res.Clusters) - limit
		res.Clusters = res.Clusters[:limit]
	}

	diag.Unscored = pl.score(ctx, key, res.Clusters)
	diag.Partial = failed > 0 || diag.Unscored > 0
	res.Diagnostics = diag
	metrics.ClusterCount.Observe(float64(len(res.Clusters)))
	return res, nil
}

func (pl *Pipeline) search(ctx context.Context, queries []query.Query) []queryResult {
	results := make([]queryResult, len(queries))
	g := new(errgroup.Group)
	g.SetLimit(pl.cfg.Concurrency)
	for i, q := range queries {
		g.Go(func() error {
			qctx, cancel := context.WithTimeout(ctx, pl.cfg.QueryTimeout)
			defer cancel()

			articles, err := pl.source.Search(qctx, q.String(), pl.cfg.SearchLimit)
			r := queryResult{articles: articles, err: err}
			outcome := "ok"
			switch {
			case err == nil:
			case ctx.Err() == nil && (errors.Is(qctx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded)):
				r.timedOut = true
				outcome = "timeout"
			case errors.Is(err, model.ErrRateLimited):
				outcome = "rate_limited"
			default:
				outcome = "error"
			}
			metrics.RecordQuery(pl.source.Name(), outcome)
			results[i] = r
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// score annotates cluster representatives in place and returns how many
// clusters were left unscored. Once the scorer reports itself unavailable the
// remaining clusters are skipped.
func (pl *Pipeline) score(ctx context.Context, key string, clusters []model.ArticleCluster) int {
	var unavailable atomic.Bool
	var unscored atomic.Int64

	g := new(errgroup.Group)
	g.SetLimit(pl.cfg.Concurrency)
	for i := range clusters {
		g.Go(func() error {
			if unavailable.Load() || ctx.Err() != nil {
				unscored.Add(1)
				return nil
			}
			s, err := pl.scorer.Score(ctx, clusters[i].Representative)
			if err != nil {
				unscored.Add(1)
				if errors.Is(err, model.ErrScoringUnavailable) && unavailable.CompareAndSwap(false, true) {
					pl.logger.Warn("scoring unavailable", "subject_key", key, "error", err)
				}
				return nil
			}
			clusters[i].Score = &s
			return nil
		})
	}
	_ = g.Wait()
	return int(unscored.Load())
}

func (pl *Pipeline) waitBackoff(ctx context.Context, key string) error {
	pl.mu.Lock()
	b, ok := pl.backoff[key]
	pl.mu.Unlock()
	if !ok {
		return nil
	}
	wait := b.until.Sub(pl.now())
	if wait <= 0 {
		return nil
	}

	if deadline, ok := ctx.Deadline(); ok && time.Until(deadline) < wait {
		return &model.Error{
			Kind:       model.KindRateLimited,
			SubjectKey: key,
			Err:        fmt.Errorf("backoff until %s outlasts deadline: %w", b.until.Format(time.RFC3339), context.DeadlineExceeded),
		}
	}

	pl.logger.Info("waiting out rate limit backoff", "subject_key", key, "wait", wait)
	t := time.NewTimer(wait)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return &model.Error{
			Kind:       model.KindRateLimited,
			SubjectKey: key,
			Err:        fmt.Errorf("backoff until %s: %w", b.until.Format(time.RFC3339), ctx.Err()),
		}
	}
}

func (pl *Pipeline) extendBackoff(key string) {
	pl.mu.Lock()
	defer pl.mu.Unlock()
	b := pl.backoff[key]
	if b.delay == 0 {
		b.delay = pl.cfg.BackoffMin
	} else {
		b.delay = min(b.delay*2, pl.cfg.BackoffMax)
	}
	b.until = pl.now().Add(b.delay)
	pl.backoff[key] = b
	pl.logger.Warn("rate limited, backing off", "subject_key", key, "delay", b.delay)
}

func (pl *Pipeline) resetBackoff(key string) {
	pl.mu.Lock()
	delete(pl.backoff, key)
	pl.mu.Unlock()
}

// BackoffUntil reports when the rate-limit backoff for key ends.
func (pl *Pipeline) BackoffUntil(key string) (time.Time, bool) {
	pl.mu.Lock()
	defer pl.mu.Unlock()
	b, ok := pl.backoff[key]
	if !ok || !b.until.After(pl.now()) {
		return time.Time{}, false
	}
	return b.until, true
}

func firstErr(results []queryResult) error {
	for _, r := range results {
		if r.err != nil {
			return r.err
		}
	}
	return nil
}
