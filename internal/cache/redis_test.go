package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/go-cmp/cmp"
	"github.com/redis/go-redis/v9"

	"esg_news/internal/model"
)

func newRedisStore(t *testing.T, c *clock) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	s := NewRedisStore(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	s.now = c.Now
	t.Cleanup(func() { _ = s.Close() })
	return s, mr
}

func TestRedisStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	c := &clock{now: baseTime}
	s, mr := newRedisStore(t, c)

	if err := s.Ping(ctx); err != nil {
		t.Fatalf("Ping: %v", err)
	}

	want := entry(model.TierScheduler, 30*time.Minute, result("두산퓨얼셀:abc", "수소 발전소 화재"))
	if err := s.Set(ctx, want); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if !mr.Exists("esgnews:scheduler:두산퓨얼셀:abc") {
		t.Fatal("expected prefixed key in redis")
	}
	if ttl := mr.TTL("esgnews:scheduler:두산퓨얼셀:abc"); ttl != 30*time.Minute {
		t.Errorf("redis ttl = %s, want 30m", ttl)
	}

	got, ok, err := s.Get(ctx, model.TierScheduler, "두산퓨얼셀:abc")
	if err != nil || !ok {
		t.Fatalf("Get = %v, %v", ok, err)
	}
	if !got.ExpiresAt.Equal(want.ExpiresAt) || !got.Result.ComputedAt.Equal(want.Result.ComputedAt) {
		t.Errorf("timestamps changed: %+v", got)
	}
	if diff := cmp.Diff(want.Result.Clusters, got.Result.Clusters); diff != "" {
		t.Errorf("clusters mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff("수소 발전소 화재", got.Result.Clusters[0].Representative.NormTitle); diff != "" {
		t.Errorf("normalized title not restored (-want +got):\n%s", diff)
	}

	if _, ok, _ := s.Get(ctx, model.TierOnDemand, "두산퓨얼셀:abc"); ok {
		t.Error("scheduler entry visible in the on-demand tier")
	}
}

func TestRedisStoreExpiry(t *testing.T) {
	ctx := context.Background()
	c := &clock{now: baseTime}
	s, mr := newRedisStore(t, c)

	if err := s.Set(ctx, entry(model.TierOnDemand, 5*time.Minute, result("acme", "a"))); err != nil {
		t.Fatalf("Set: %v", err)
	}
	mr.FastForward(5*time.Minute + time.Second)
	if _, ok, err := s.Get(ctx, model.TierOnDemand, "acme"); ok || err != nil {
		t.Errorf("Get after redis expiry = %v, %v", ok, err)
	}

	// An entry whose own expiry has passed is evicted even if redis still holds it.
	if err := s.Set(ctx, entry(model.TierOnDemand, 5*time.Minute, result("globex", "b"))); err != nil {
		t.Fatalf("Set: %v", err)
	}
	c.Advance(6 * time.Minute)
	if _, ok, err := s.Get(ctx, model.TierOnDemand, "globex"); ok || err != nil {
		t.Errorf("Get after entry expiry = %v, %v", ok, err)
	}
	if mr.Exists("esgnews:on_demand:globex") {
		t.Error("expired entry not evicted")
	}

	// Already expired entries are not written.
	if err := s.Set(ctx, entry(model.TierOnDemand, time.Minute, result("initech"))); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if mr.Exists("esgnews:on_demand:initech") {
		t.Error("expired entry written")
	}
}

func TestRedisStoreDeleteAndInfo(t *testing.T) {
	ctx := context.Background()
	c := &clock{now: baseTime}
	s, _ := newRedisStore(t, c)

	for _, e := range []model.CacheEntry{
		entry(model.TierScheduler, time.Hour, result("acme", "a")),
		entry(model.TierScheduler, time.Hour, result("globex", "b")),
		entry(model.TierOnDemand, time.Hour, result("acme", "c")),
	} {
		if err := s.Set(ctx, e); err != nil {
			t.Fatalf("Set: %v", err)
		}
	}

	info, err := s.Info(ctx)
	if err != nil {
		t.Fatalf("Info: %v", err)
	}
	if info.Tier1Count != 2 || info.Tier2Count != 1 || info.ApproxMemory <= 0 {
		t.Errorf("unexpected info %+v", info)
	}

	if err := s.Delete(ctx, "acme"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	info, err = s.Info(ctx)
	if err != nil {
		t.Fatalf("Info: %v", err)
	}
	if diff := cmp.Diff(1, info.Tier1Count); diff != "" {
		t.Errorf("tier 1 count mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(0, info.Tier2Count); diff != "" {
		t.Errorf("tier 2 count mismatch (-want +got):\n%s", diff)
	}
}

func TestNewRedisStoreWithURL(t *testing.T) {
	if _, err := NewRedisStoreWithURL("not a url"); err == nil {
		t.Error("expected error for invalid url")
	}
	s, err := NewRedisStoreWithURL("redis://localhost:6379/0")
	if err != nil {
		t.Fatalf("NewRedisStoreWithURL: %v", err)
	}
	_ = s.Close()
}
