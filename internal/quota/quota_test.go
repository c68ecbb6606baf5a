package quota

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/gatewarden/gatewarden/internal/model"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newMemoryEnforcer(t *testing.T, cfg Config) *Memory {
	t.Helper()
	m := NewMemory(cfg, discardLogger())
	t.Cleanup(func() { m.Close() })
	return m
}

func newRedisEnforcer(t *testing.T, cfg Config) *Redis {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	r := NewRedisWithClient(client, cfg, discardLogger())
	t.Cleanup(func() { r.Close() })
	return r
}

// enforcers runs the same assertions against both backends.
func enforcers(t *testing.T, cfg Config, fn func(t *testing.T, e Enforcer)) {
	t.Helper()
	t.Run("memory", func(t *testing.T) { fn(t, newMemoryEnforcer(t, cfg)) })
	t.Run("redis", func(t *testing.T) { fn(t, newRedisEnforcer(t, cfg)) })
}

func TestDefaultConfigTables(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.Window != time.Minute {
		t.Errorf("window = %v, want 1m", cfg.Window)
	}

	tests := []struct {
		tier  model.Tier
		class Class
		want  int
	}{
		{model.TierFree, ClassGeneral, 100},
		{model.TierPro, ClassGeneral, 1000},
		{model.TierEnterprise, ClassGeneral, 10000},
		{model.TierFree, ClassCostly, 10},
		{model.TierPro, ClassCostly, 100},
		{model.TierEnterprise, ClassCostly, 1000},
	}
	for _, tt := range tests {
		if got := cfg.limit(tt.tier, tt.class); got != tt.want {
			t.Errorf("limit(%s, %s) = %d, want %d", tt.tier, tt.class, got, tt.want)
		}
	}
}

func TestAcquireSequence(t *testing.T) {
	cfg := Config{Window: time.Hour, General: Limits{model.TierFree: 3}}
	enforcers(t, cfg, func(t *testing.T, e Enforcer) {
		ctx := context.Background()

		for i := 0; i < 3; i++ {
			d, err := e.TryAcquire(ctx, "user_1", model.TierFree, ClassGeneral)
			if err != nil {
				t.Fatalf("TryAcquire #%d: %v", i+1, err)
			}
			if !d.Allowed {
				t.Fatalf("request #%d denied, want allowed", i+1)
			}
			if d.Limit != 3 {
				t.Errorf("limit = %d, want 3", d.Limit)
			}
			if want := 3 - (i + 1); d.Remaining != want {
				t.Errorf("request #%d remaining = %d, want %d", i+1, d.Remaining, want)
			}
		}

		d, err := e.TryAcquire(ctx, "user_1", model.TierFree, ClassGeneral)
		if err != nil {
			t.Fatalf("TryAcquire #4: %v", err)
		}
		if d.Allowed {
			t.Fatal("request #4 allowed, want denied")
		}
		if d.Remaining != 0 {
			t.Errorf("denied remaining = %d, want 0", d.Remaining)
		}
		if d.RetryAfter <= 0 || d.RetryAfter > time.Hour {
			t.Errorf("retry after = %v, want within (0, window]", d.RetryAfter)
		}
	})
}

func TestConcurrentAcquireAdmitsExactlyLimit(t *testing.T) {
	const (
		workers = 50
		limit   = 10
	)
	cfg := Config{Window: time.Hour, Costly: Limits{model.TierPro: limit}}
	enforcers(t, cfg, func(t *testing.T, e Enforcer) {
		ctx := context.Background()

		var wg sync.WaitGroup
		var allowed atomic.Int64
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				d, err := e.TryAcquire(ctx, "user_1", model.TierPro, ClassCostly)
				if err != nil {
					t.Errorf("TryAcquire: %v", err)
					return
				}
				if d.Allowed {
					allowed.Add(1)
				}
			}()
		}
		wg.Wait()

		if got := allowed.Load(); got != limit {
			t.Errorf("admitted %d of %d concurrent requests, want exactly %d", got, workers, limit)
		}
	})
}

func TestWindowRollover(t *testing.T) {
	cfg := Config{Window: 500 * time.Millisecond, General: Limits{model.TierFree: 1}}
	enforcers(t, cfg, func(t *testing.T, e Enforcer) {
		ctx := context.Background()

		d, err := e.TryAcquire(ctx, "user_1", model.TierFree, ClassGeneral)
		if err != nil {
			t.Fatalf("TryAcquire: %v", err)
		}
		if !d.Allowed {
			t.Fatal("first request denied, want allowed")
		}

		d, err = e.TryAcquire(ctx, "user_1", model.TierFree, ClassGeneral)
		if err != nil {
			t.Fatalf("TryAcquire: %v", err)
		}
		if d.Allowed {
			t.Fatal("second request allowed, want denied")
		}

		time.Sleep(600 * time.Millisecond)

		d, err = e.TryAcquire(ctx, "user_1", model.TierFree, ClassGeneral)
		if err != nil {
			t.Fatalf("TryAcquire after rollover: %v", err)
		}
		if !d.Allowed {
			t.Error("request after rollover denied, want allowed")
		}
	})
}

func TestUnthrottledTier(t *testing.T) {
	// No entry for the tier means no throttle.
	cfg := Config{Window: time.Hour, General: Limits{model.TierFree: 1}}
	enforcers(t, cfg, func(t *testing.T, e Enforcer) {
		ctx := context.Background()
		for i := 0; i < 20; i++ {
			d, err := e.TryAcquire(ctx, "user_1", model.TierEnterprise, ClassGeneral)
			if err != nil {
				t.Fatalf("TryAcquire: %v", err)
			}
			if !d.Allowed {
				t.Fatalf("request #%d denied, want unthrottled", i+1)
			}
			if d.Limit != 0 {
				t.Errorf("limit = %d, want 0 for unthrottled tier", d.Limit)
			}
		}
	})
}

func TestSnapshotDoesNotConsume(t *testing.T) {
	cfg := Config{Window: time.Hour, General: Limits{model.TierFree: 2}}
	enforcers(t, cfg, func(t *testing.T, e Enforcer) {
		ctx := context.Background()

		for i := 0; i < 5; i++ {
			d, err := e.Snapshot(ctx, "user_1", model.TierFree, ClassGeneral)
			if err != nil {
				t.Fatalf("Snapshot: %v", err)
			}
			if d.Remaining != 2 {
				t.Fatalf("snapshot #%d remaining = %d, want 2", i+1, d.Remaining)
			}
		}

		if _, err := e.TryAcquire(ctx, "user_1", model.TierFree, ClassGeneral); err != nil {
			t.Fatalf("TryAcquire: %v", err)
		}

		d, err := e.Snapshot(ctx, "user_1", model.TierFree, ClassGeneral)
		if err != nil {
			t.Fatalf("Snapshot: %v", err)
		}
		if d.Remaining != 1 {
			t.Errorf("remaining after one acquire = %d, want 1", d.Remaining)
		}
		if !d.Allowed {
			t.Error("snapshot reports denied with budget left")
		}
	})
}

func TestClassesCountSeparately(t *testing.T) {
	cfg := Config{
		Window:  time.Hour,
		General: Limits{model.TierFree: 1},
		Costly:  Limits{model.TierFree: 1},
	}
	enforcers(t, cfg, func(t *testing.T, e Enforcer) {
		ctx := context.Background()

		d, err := e.TryAcquire(ctx, "user_1", model.TierFree, ClassGeneral)
		if err != nil || !d.Allowed {
			t.Fatalf("general acquire = (%v, %v), want allowed", d.Allowed, err)
		}

		// The exhausted general counter must not bleed into costly.
		d, err = e.TryAcquire(ctx, "user_1", model.TierFree, ClassCostly)
		if err != nil || !d.Allowed {
			t.Fatalf("costly acquire = (%v, %v), want allowed", d.Allowed, err)
		}

		d, err = e.TryAcquire(ctx, "user_1", model.TierFree, ClassGeneral)
		if err != nil {
			t.Fatalf("TryAcquire: %v", err)
		}
		if d.Allowed {
			t.Error("general counter reset by costly acquire")
		}
	})
}

func TestSubjectsCountSeparately(t *testing.T) {
	cfg := Config{Window: time.Hour, General: Limits{model.TierFree: 1}}
	enforcers(t, cfg, func(t *testing.T, e Enforcer) {
		ctx := context.Background()

		if d, err := e.TryAcquire(ctx, "user_a", model.TierFree, ClassGeneral); err != nil || !d.Allowed {
			t.Fatalf("user_a acquire = (%v, %v), want allowed", d.Allowed, err)
		}
		if d, err := e.TryAcquire(ctx, "user_a", model.TierFree, ClassGeneral); err != nil || d.Allowed {
			t.Fatalf("user_a second acquire = (%v, %v), want denied", d.Allowed, err)
		}
		if d, err := e.TryAcquire(ctx, "user_b", model.TierFree, ClassGeneral); err != nil || !d.Allowed {
			t.Fatalf("user_b acquire = (%v, %v), want allowed", d.Allowed, err)
		}
	})
}

func TestMemorySweepDropsStaleCounters(t *testing.T) {
	m := newMemoryEnforcer(t, Config{Window: time.Hour, General: Limits{model.TierFree: 5}})
	ctx := context.Background()

	if _, err := m.TryAcquire(ctx, "user_1", model.TierFree, ClassGeneral); err != nil {
		t.Fatalf("TryAcquire: %v", err)
	}

	// A sweep one window later removes the counter entirely.
	m.sweep(time.Now().Add(2 * time.Hour))

	if _, ok := m.counters.Load("user_1|general"); ok {
		t.Error("stale counter survived sweep")
	}
}

func TestMemorySweepMarksEvictedCounters(t *testing.T) {
	cfg := Config{Window: time.Hour, General: Limits{model.TierFree: 1}}
	m := newMemoryEnforcer(t, cfg)
	ctx := context.Background()

	if _, err := m.TryAcquire(ctx, "user_1", model.TierFree, ClassGeneral); err != nil {
		t.Fatalf("TryAcquire: %v", err)
	}
	v, ok := m.counters.Load("user_1|general")
	if !ok {
		t.Fatal("counter missing after acquire")
	}
	c := v.(*counter)

	// Age the counter a full window so the sweep drops it.
	c.mu.Lock()
	c.windowStart = windowStart(time.Now().Add(-2*cfg.Window), cfg.Window).UnixNano()
	c.mu.Unlock()

	m.sweep(time.Now())

	if _, ok := m.counters.Load("user_1|general"); ok {
		t.Error("stale counter survived sweep")
	}
	c.mu.Lock()
	evicted := c.evicted
	c.mu.Unlock()
	if !evicted {
		t.Error("swept counter not marked evicted; an acquirer holding it would count into an orphan")
	}
}

func TestMemoryAcquireReplacesEvictedCounter(t *testing.T) {
	m := newMemoryEnforcer(t, Config{Window: time.Hour, General: Limits{model.TierFree: 1}})
	ctx := context.Background()

	// An evicted counter still visible in the map is the worst-case
	// interleaving of a sweep and a load. Acquisition must replace it, never
	// count into it.
	orphan := &counter{windowStart: windowStart(time.Now(), time.Hour).UnixNano(), count: 5, evicted: true}
	m.counters.Store("user_1|general", orphan)

	d, err := m.TryAcquire(ctx, "user_1", model.TierFree, ClassGeneral)
	if err != nil || !d.Allowed {
		t.Fatalf("acquire over evicted counter = (%v, %v), want allowed", d.Allowed, err)
	}
	if d, err := m.TryAcquire(ctx, "user_1", model.TierFree, ClassGeneral); err != nil || d.Allowed {
		t.Fatalf("second acquire = (%v, %v), want denied at limit 1", d.Allowed, err)
	}

	orphan.mu.Lock()
	count := orphan.count
	orphan.mu.Unlock()
	if count != 5 {
		t.Errorf("orphan count = %d, want untouched 5", count)
	}
}

func TestMemorySweepRacingAcquireAdmitsExactlyLimit(t *testing.T) {
	cfg := Config{Window: time.Hour, General: Limits{model.TierFree: 1}}
	m := newMemoryEnforcer(t, cfg)
	ctx := context.Background()

	// Seed a counter and age it a full window, the state the janitor races
	// acquisitions over at a window boundary.
	if _, err := m.TryAcquire(ctx, "user_1", model.TierFree, ClassGeneral); err != nil {
		t.Fatalf("TryAcquire: %v", err)
	}
	v, ok := m.counters.Load("user_1|general")
	if !ok {
		t.Fatal("counter missing after acquire")
	}
	c := v.(*counter)

	// Hold the counter lock so a sweep and an acquisition both park on it,
	// then release and let them resume in whichever order the runtime picks.
	// Both orders must end with exactly one admission in the new window.
	c.mu.Lock()
	c.windowStart = windowStart(time.Now().Add(-2*cfg.Window), cfg.Window).UnixNano()

	var wg sync.WaitGroup
	var allowed atomic.Int64
	wg.Add(2)
	go func() {
		defer wg.Done()
		m.sweep(time.Now())
	}()
	go func() {
		defer wg.Done()
		d, err := m.TryAcquire(ctx, "user_1", model.TierFree, ClassGeneral)
		if err != nil {
			t.Errorf("racing TryAcquire: %v", err)
			return
		}
		if d.Allowed {
			allowed.Add(1)
		}
	}()

	time.Sleep(50 * time.Millisecond) // let both goroutines reach the lock
	c.mu.Unlock()
	wg.Wait()

	d, err := m.TryAcquire(ctx, "user_1", model.TierFree, ClassGeneral)
	if err != nil {
		t.Fatalf("follow-up TryAcquire: %v", err)
	}
	if d.Allowed {
		allowed.Add(1)
	}

	if got := allowed.Load(); got != 1 {
		t.Errorf("admitted %d requests in one window with limit 1, want exactly 1", got)
	}
}

func TestRedisPing(t *testing.T) {
	r := newRedisEnforcer(t, DefaultConfig())
	if err := r.Ping(context.Background()); err != nil {
		t.Fatalf("Ping: %v", err)
	}
}
