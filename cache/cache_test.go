package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// fakeClock lets tests advance time without sleeping.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func TestCache_GetOrSet_ComputesOnceWithinTTL(t *testing.T) {
	clock := newFakeClock()
	c := New(Config{Name: "node_types", Now: clock.Now})

	var computes int32
	compute := func(ctx context.Context) (any, error) {
		atomic.AddInt32(&computes, 1)
		return "v1", nil
	}

	for i := 0; i < 2; i++ {
		got, err := c.GetOrSet(context.Background(), "k", 60*time.Second, compute)
		if err != nil {
			t.Fatalf("GetOrSet() error = %v", err)
		}
		if got != "v1" {
			t.Errorf("GetOrSet() = %v, want v1", got)
		}
	}

	if n := atomic.LoadInt32(&computes); n != 1 {
		t.Errorf("compute calls = %d, want 1", n)
	}
}

func TestCache_GetOrSet_RecomputesAfterExpiry(t *testing.T) {
	clock := newFakeClock()
	c := New(Config{Name: "node_types", Now: clock.Now})

	var computes int32
	compute := func(ctx context.Context) (any, error) {
		return atomic.AddInt32(&computes, 1), nil
	}

	if _, err := c.GetOrSet(context.Background(), "k", 60*time.Second, compute); err != nil {
		t.Fatalf("GetOrSet() error = %v", err)
	}

	clock.Advance(61 * time.Second)

	got, err := c.GetOrSet(context.Background(), "k", 60*time.Second, compute)
	if err != nil {
		t.Fatalf("GetOrSet() after expiry error = %v", err)
	}
	if got != int32(2) {
		t.Errorf("GetOrSet() after expiry = %v, want recomputed value 2", got)
	}
	if n := atomic.LoadInt32(&computes); n != 2 {
		t.Errorf("compute calls = %d, want 2", n)
	}
}

func TestCache_GetOrSet_ZeroTTLNeverExpires(t *testing.T) {
	clock := newFakeClock()
	c := New(Config{Name: "schemas", Now: clock.Now})

	var computes int32
	compute := func(ctx context.Context) (any, error) {
		atomic.AddInt32(&computes, 1)
		return "static", nil
	}

	if _, err := c.GetOrSet(context.Background(), "k", 0, compute); err != nil {
		t.Fatalf("GetOrSet() error = %v", err)
	}

	clock.Advance(1000 * time.Hour)

	if _, err := c.GetOrSet(context.Background(), "k", 0, compute); err != nil {
		t.Fatalf("GetOrSet() error = %v", err)
	}
	if n := atomic.LoadInt32(&computes); n != 1 {
		t.Errorf("compute calls = %d, want 1: zero ttl must never expire", n)
	}
}

func TestCache_GetOrSet_SingleFlight(t *testing.T) {
	c := New(Config{Name: "node_types"})

	var computes int32
	started := make(chan struct{})
	release := make(chan struct{})
	compute := func(ctx context.Context) (any, error) {
		atomic.AddInt32(&computes, 1)
		close(started)
		<-release
		return "shared", nil
	}

	const callers = 10
	var wg sync.WaitGroup
	values := make([]any, callers)
	errs := make([]error, callers)

	wg.Add(1)
	go func() {
		defer wg.Done()
		values[0], errs[0] = c.GetOrSet(context.Background(), "k", time.Minute, compute)
	}()
	<-started

	for i := 1; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			values[i], errs[i] = c.GetOrSet(context.Background(), "k", time.Minute, compute)
		}(i)
	}

	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	if n := atomic.LoadInt32(&computes); n != 1 {
		t.Errorf("compute calls = %d, want 1 under concurrent misses", n)
	}
	for i := 0; i < callers; i++ {
		if errs[i] != nil {
			t.Fatalf("caller %d error = %v", i, errs[i])
		}
		if values[i] != "shared" {
			t.Errorf("caller %d value = %v, want shared", i, values[i])
		}
	}
}

func TestCache_GetOrSet_ComputeErrorNotCached(t *testing.T) {
	c := New(Config{Name: "node_types"})

	var computes int32
	boom := errors.New("remote unavailable")
	failing := func(ctx context.Context) (any, error) {
		atomic.AddInt32(&computes, 1)
		return nil, boom
	}

	if _, err := c.GetOrSet(context.Background(), "k", time.Minute, failing); !errors.Is(err, boom) {
		t.Fatalf("GetOrSet() error = %v, want %v", err, boom)
	}

	ok := func(ctx context.Context) (any, error) {
		atomic.AddInt32(&computes, 1)
		return "recovered", nil
	}
	got, err := c.GetOrSet(context.Background(), "k", time.Minute, ok)
	if err != nil {
		t.Fatalf("GetOrSet() error = %v", err)
	}
	if got != "recovered" {
		t.Errorf("GetOrSet() = %v, want recovered", got)
	}
	if n := atomic.LoadInt32(&computes); n != 2 {
		t.Errorf("compute calls = %d, want 2: failures must not be cached", n)
	}
}

func TestCache_Invalidate(t *testing.T) {
	c := New(Config{Name: "node_types"})

	var computes int32
	compute := func(ctx context.Context) (any, error) {
		atomic.AddInt32(&computes, 1)
		return "v", nil
	}

	if _, err := c.GetOrSet(context.Background(), "k", time.Minute, compute); err != nil {
		t.Fatalf("GetOrSet() error = %v", err)
	}
	if err := c.Invalidate(context.Background(), "k"); err != nil {
		t.Fatalf("Invalidate() error = %v", err)
	}
	if _, err := c.GetOrSet(context.Background(), "k", time.Minute, compute); err != nil {
		t.Fatalf("GetOrSet() error = %v", err)
	}

	if n := atomic.LoadInt32(&computes); n != 2 {
		t.Errorf("compute calls = %d, want 2 after invalidation", n)
	}
}

func TestCache_Stats(t *testing.T) {
	c := New(Config{Name: "node_types"})

	compute := func(ctx context.Context) (any, error) { return "v", nil }

	c.GetOrSet(context.Background(), "k", time.Minute, compute)
	c.GetOrSet(context.Background(), "k", time.Minute, compute)
	c.GetOrSet(context.Background(), "k", time.Minute, compute)
	c.Invalidate(context.Background(), "k")

	stats := c.Stats()
	if stats.Misses != 1 {
		t.Errorf("Stats().Misses = %d, want 1", stats.Misses)
	}
	if stats.Hits != 2 {
		t.Errorf("Stats().Hits = %d, want 2", stats.Hits)
	}
	if stats.Invalidations != 1 {
		t.Errorf("Stats().Invalidations = %d, want 1", stats.Invalidations)
	}
	if rate := stats.HitRate(); rate < 0.66 || rate > 0.67 {
		t.Errorf("Stats().HitRate() = %v, want ~0.667", rate)
	}
}

func TestMemoryStore_Prune(t *testing.T) {
	s := NewMemoryStore()
	now := time.Now()

	s.Set(context.Background(), "live", Entry{Value: 1, StoredAt: now, ExpiresAt: now.Add(time.Hour)})
	s.Set(context.Background(), "stale", Entry{Value: 2, StoredAt: now.Add(-2 * time.Hour), ExpiresAt: now.Add(-time.Hour)})
	s.Set(context.Background(), "pinned", Entry{Value: 3, StoredAt: now})

	pruned, err := s.Prune(context.Background())
	if err != nil {
		t.Fatalf("Prune() error = %v", err)
	}
	if pruned != 1 {
		t.Errorf("Prune() = %d, want 1", pruned)
	}
	if s.Len() != 2 {
		t.Errorf("Len() after prune = %d, want 2", s.Len())
	}
}

func TestKey(t *testing.T) {
	if got := Key("node_types", "localhost", "18811"); got != "node_types:localhost:18811" {
		t.Errorf("Key() = %q, want %q", got, "node_types:localhost:18811")
	}
	if got := Key("categories"); got != "categories" {
		t.Errorf("Key() = %q, want %q", got, "categories")
	}
}
