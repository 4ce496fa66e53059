// Package cache stores analysis results in two tiers with independent TTLs.
package cache

import (
	"context"
	"fmt"
	"time"

	"esg_news/internal/model"
)

// Store is a tiered key-value store for analysis results.
//
// Get never returns an entry whose expiry has passed; such entries are evicted
// on read. Set replaces any previous entry for the same tier and key.
type Store interface {
	Get(ctx context.Context, tier model.Tier, key string) (model.CacheEntry, bool, error)
	Set(ctx context.Context, entry model.CacheEntry) error
	Delete(ctx context.Context, key string) error
	Info(ctx context.Context) (model.CacheInfo, error)
}

func checkTier(t model.Tier) error {
	switch t {
	case model.TierScheduler, model.TierOnDemand:
		return nil
	}
	return fmt.Errorf("tier %q is not stored", t)
}

// TierWriter writes into exactly one tier of a Store with a fixed TTL.
// The scheduler holds the only scheduler-tier writer and the resolver holds
// the only on-demand writer.
type TierWriter struct {
	store Store
	tier  model.Tier
	ttl   time.Duration
	now   func() time.Time
}

// NewTierWriter creates a TierWriter.
func NewTierWriter(store Store, tier model.Tier, ttl time.Duration) (*TierWriter, error) {
	if err := checkTier(tier); err != nil {
		return nil, fmt.Errorf("new tier writer: %w", err)
	}
	if ttl <= 0 {
		return nil, fmt.Errorf("new tier writer: ttl must be positive, got %s", ttl)
	}
	return &TierWriter{store: store, tier: tier, ttl: ttl, now: time.Now}, nil
}

// Tier returns the tier this writer owns.
func (w *TierWriter) Tier() model.Tier { return w.tier }

// TTL returns the lifetime given to new entries.
func (w *TierWriter) TTL() time.Duration { return w.ttl }

// Put stores res under its subject key, expiring ttl from now.
func (w *TierWriter) Put(ctx context.Context, res model.AnalysisResult) (model.CacheEntry, error) {
	entry := model.CacheEntry{
		Tier:      w.tier,
		ExpiresAt: w.now().Add(w.ttl),
		Result:    res,
	}
	if err := w.PutEntry(ctx, entry); err != nil {
		return model.CacheEntry{}, err
	}
	return entry, nil
}

// PutEntry stores a prepared entry, keeping its expiry. Entries for another
// tier or already expired are rejected.
func (w *TierWriter) PutEntry(ctx context.Context, entry model.CacheEntry) error {
	if entry.Tier != w.tier {
		return fmt.Errorf("put entry: writer owns tier %q, entry is %q", w.tier, entry.Tier)
	}
	if entry.Result.SubjectKey == "" {
		return fmt.Errorf("put entry: empty subject key")
	}
	if !entry.Fresh(w.now()) {
		return fmt.Errorf("put entry %s: already expired at %s", entry.Result.SubjectKey, entry.ExpiresAt.Format(time.RFC3339))
	}
	if err := w.store.Set(ctx, entry); err != nil {
		return fmt.Errorf("put entry %s: %w", entry.Result.SubjectKey, err)
	}
	return nil
}

// approxSize estimates the retained size of an entry in bytes.
func approxSize(e model.CacheEntry) int64 {
	const overhead = 64
	r := e.Result
	n := int64(overhead + len(r.SubjectKey))
	for _, q := range r.Queries {
		n += int64(len(q))
	}
	for _, c := range r.Clusters {
		a := c.Representative
		n += overhead + int64(len(a.ID)+len(a.Title)+len(a.Body)+len(a.NormTitle)+len(a.NormBody)+len(a.Link)+len(a.Source)+len(a.Query))
		for _, id := range c.MemberIDs {
			n += int64(len(id))
		}
	}
	return n
}
