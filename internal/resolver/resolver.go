// Package resolver implements the tiered read path for analysis results.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"golang.org/x/sync/singleflight"

	"esg_news/internal/cache"
	"esg_news/internal/metrics"
	"esg_news/internal/model"
	"esg_news/internal/pipeline"
)

// DefaultComputeTimeout bounds a live computation when none is configured.
const DefaultComputeTimeout = time.Minute

// Computer runs the shared fetch pipeline.
type Computer interface {
	Key(p pipeline.Params) string
	Run(ctx context.Context, p pipeline.Params, tier model.Tier) (model.AnalysisResult, error)
}

// Resolver serves results from the scheduler tier, then the on-demand tier,
// then a live computation whose result is written to the on-demand tier.
type Resolver struct {
	store          cache.Store
	onDemand       *cache.TierWriter
	compute        Computer
	computeTimeout time.Duration
	logger         *slog.Logger
	group          singleflight.Group
}

// New creates a Resolver. onDemand must own the on-demand tier.
func New(store cache.Store, onDemand *cache.TierWriter, compute Computer, computeTimeout time.Duration, logger *slog.Logger) (*Resolver, error) {
	if onDemand.Tier() != model.TierOnDemand {
		return nil, fmt.Errorf("new resolver: writer owns tier %q, want %q", onDemand.Tier(), model.TierOnDemand)
	}
	if computeTimeout <= 0 {
		computeTimeout = DefaultComputeTimeout
	}
	return &Resolver{
		store:          store,
		onDemand:       onDemand,
		compute:        compute,
		computeTimeout: computeTimeout,
		logger:         logger,
	}, nil
}

// Key returns the cache key Resolve uses for p.
func (r *Resolver) Key(p pipeline.Params) string {
	return r.compute.Key(p)
}

// Resolve returns the result for p.
//
// Concurrent calls for the same key share one live computation. The
// computation is detached from the caller: a caller that gives up still
// leaves the result to be cached for the next one.
func (r *Resolver) Resolve(ctx context.Context, p pipeline.Params) (model.AnalysisResult, error) {
	start := time.Now()
	key := r.compute.Key(p)

	if res, ok := r.lookup(ctx, key); ok {
		r.record(res, start)
		return truncate(res, p.MaxResults), nil
	}

	ch := r.group.DoChan(key, func() (any, error) {
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.computeTimeout)
		defer cancel()

		// A flight that finished just before this one started has already
		// written the on-demand tier.
		if res, ok := r.lookup(fctx, key); ok {
			return res, nil
		}

		metrics.LiveComputations.Inc()
		r.logger.Info("live compute", "subject_key", key)
		res, err := r.compute.Run(fctx, p, model.TierLive)
		if err != nil {
			return nil, err
		}
		if _, err := r.onDemand.Put(fctx, res); err != nil {
			r.logger.Error("failed to cache live result", "subject_key", key, "error", err)
		}
		return res, nil
	})

	select {
	case <-ctx.Done():
		return model.AnalysisResult{}, &model.Error{
			Kind:       model.KindOf(ctx.Err()),
			SubjectKey: key,
			Err:        fmt.Errorf("resolve: %w", ctx.Err()),
		}
	case v := <-ch:
		if v.Err != nil {
			metrics.RecordResolve(string(model.TierLive), "error", time.Since(start).Seconds())
			return model.AnalysisResult{}, asError(key, v.Err)
		}
		res := v.Val.(model.AnalysisResult)
		r.record(res, start)
		return truncate(res, p.MaxResults), nil
	}
}

// lookup checks the scheduler tier, then the on-demand tier. Store failures
// are logged and treated as misses.
func (r *Resolver) lookup(ctx context.Context, key string) (model.AnalysisResult, bool) {
	for _, tier := range []model.Tier{model.TierScheduler, model.TierOnDemand} {
		e, ok, err := r.store.Get(ctx, tier, key)
		if err != nil {
			r.logger.Warn("cache read failed", "subject_key", key, "tier", tier, "error", err)
			continue
		}
		if ok {
			r.logger.Debug("cache hit", "subject_key", key, "tier", tier)
			res := e.Result
			res.SourceTier = tier
			return res, true
		}
	}
	return model.AnalysisResult{}, false
}

func (r *Resolver) record(res model.AnalysisResult, start time.Time) {
	metrics.RecordResolve(string(res.SourceTier), string(res.Status), time.Since(start).Seconds())
}

// Purge removes key from both tiers.
func (r *Resolver) Purge(ctx context.Context, key string) error {
	if err := r.store.Delete(ctx, key); err != nil {
		return fmt.Errorf("purge %s: %w", key, err)
	}
	r.logger.Info("purged", "subject_key", key)
	return nil
}

// CacheInfo reports the number of stored entries per tier.
func (r *Resolver) CacheInfo(ctx context.Context) (model.CacheInfo, error) {
	info, err := r.store.Info(ctx)
	if err != nil {
		return model.CacheInfo{}, fmt.Errorf("cache info: %w", err)
	}
	metrics.SetCacheEntries(info.Tier1Count, info.Tier2Count)
	return info, nil
}

// truncate caps the clusters of res at limit without touching the cached
// slice. A non-positive limit keeps every cluster.
func truncate(res model.AnalysisResult, limit int) model.AnalysisResult {
	if limit <= 0 || len(res.Clusters) <= limit {
		return res
	}
	res.Diagnostics.Truncated += len(res.Clusters) - limit
	res.Clusters = slices.Clone(res.Clusters[:limit])
	return res
}

func asError(key string, err error) error {
	var e *model.Error
	if errors.As(err, &e) {
		return err
	}
	return &model.Error{Kind: model.KindOf(err), SubjectKey: key, Err: err}
}
