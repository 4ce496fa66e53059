package cache

import (
	"context"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/simplelru"

	"esg_news/internal/model"
)

const shardCount = 16

type stored struct {
	entry model.CacheEntry
	size  int64
}

type shard struct {
	mu  sync.Mutex
	lru *simplelru.LRU[string, stored]
}

// MemoryStore is an in-process Store. Each tier is split into shards with
// their own lock and LRU bound, so writers to different keys rarely contend.
type MemoryStore struct {
	tiers map[model.Tier][]*shard
	now   func() time.Time
}

// NewMemoryStore creates a MemoryStore holding at most maxEntries per tier.
func NewMemoryStore(maxEntries int) (*MemoryStore, error) {
	perShard := max(1, maxEntries/shardCount)
	s := &MemoryStore{
		tiers: make(map[model.Tier][]*shard, 2),
		now:   time.Now,
	}
	for _, t := range []model.Tier{model.TierScheduler, model.TierOnDemand} {
		shards := make([]*shard, shardCount)
		for i := range shards {
			l, err := simplelru.NewLRU[string, stored](perShard, nil)
			if err != nil {
				return nil, fmt.Errorf("new memory store: %w", err)
			}
			shards[i] = &shard{lru: l}
		}
		s.tiers[t] = shards
	}
	return s, nil
}

func (s *MemoryStore) shard(tier model.Tier, key string) (*shard, error) {
	shards, ok := s.tiers[tier]
	if !ok {
		return nil, checkTier(tier)
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return shards[h.Sum32()%shardCount], nil
}

// Get implements Store.
func (s *MemoryStore) Get(_ context.Context, tier model.Tier, key string) (model.CacheEntry, bool, error) {
	sh, err := s.shard(tier, key)
	if err != nil {
		return model.CacheEntry{}, false, err
	}
	sh.mu.Lock()
	defer sh.mu.Unlock()

	v, ok := sh.lru.Get(key)
	if !ok {
		return model.CacheEntry{}, false, nil
	}
	if !v.entry.Fresh(s.now()) {
		sh.lru.Remove(key)
		return model.CacheEntry{}, false, nil
	}
	return v.entry, true, nil
}

// Set implements Store.
func (s *MemoryStore) Set(_ context.Context, entry model.CacheEntry) error {
	sh, err := s.shard(entry.Tier, entry.Result.SubjectKey)
	if err != nil {
		return err
	}
	sh.mu.Lock()
	sh.lru.Add(entry.Result.SubjectKey, stored{entry: entry, size: approxSize(entry)})
	sh.mu.Unlock()
	return nil
}

// Delete implements Store.
func (s *MemoryStore) Delete(_ context.Context, key string) error {
	for _, t := range []model.Tier{model.TierScheduler, model.TierOnDemand} {
		sh, err := s.shard(t, key)
		if err != nil {
			return err
		}
		sh.mu.Lock()
		sh.lru.Remove(key)
		sh.mu.Unlock()
	}
	return nil
}

// Info implements Store. Expired entries found while counting are evicted.
func (s *MemoryStore) Info(_ context.Context) (model.CacheInfo, error) {
	now := s.now()
	var info model.CacheInfo
	for tier, shards := range s.tiers {
		count := 0
		for _, sh := range shards {
			sh.mu.Lock()
			for _, k := range sh.lru.Keys() {
				v, ok := sh.lru.Peek(k)
				if !ok {
					continue
				}
				if !v.entry.Fresh(now) {
					sh.lru.Remove(k)
					continue
				}
				count++
				info.ApproxMemory += v.size
			}
			sh.mu.Unlock()
		}
		switch tier {
		case model.TierScheduler:
			info.Tier1Count = count
		case model.TierOnDemand:
			info.Tier2Count = count
		}
	}
	return info, nil
}
