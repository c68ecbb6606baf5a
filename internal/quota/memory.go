package quota

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/gatewarden/gatewarden/internal/model"
)

// Memory is a process-local Enforcer backed by per-subject counters. It is
// the default backend for single-instance deployments; multi-instance
// deployments should use the Redis backend so all replicas share windows.
type Memory struct {
	cfg    Config
	logger *slog.Logger

	counters  sync.Map // "subject|class" -> *counter
	done      chan struct{}
	closeOnce sync.Once
}

// counter tracks one subject+class window. evicted is set by the janitor,
// under mu, when the counter leaves the map; a counter that was loaded
// before its eviction must not be counted into, or the consumption would be
// invisible to every later acquirer.
type counter struct {
	mu          sync.Mutex
	windowStart int64 // unix nanos
	count       int
	evicted     bool
}

// NewMemory returns a Memory enforcer and starts the janitor that drops
// counters from past windows.
func NewMemory(cfg Config, logger *slog.Logger) *Memory {
	m := &Memory{
		cfg:    cfg.withDefaults(),
		logger: logger,
		done:   make(chan struct{}),
	}
	go m.janitor()
	return m
}

func (m *Memory) TryAcquire(ctx context.Context, subject string, tier model.Tier, class Class) (Decision, error) {
	limit := m.cfg.limit(tier, class)
	if limit <= 0 {
		return Decision{Allowed: true}, nil
	}

	key := subject + "|" + string(class)
	for {
		now := time.Now()
		start := windowStart(now, m.cfg.Window)

		value, _ := m.counters.LoadOrStore(key, &counter{windowStart: start.UnixNano()})
		c := value.(*counter)

		c.mu.Lock()
		if c.evicted {
			// The janitor removed this counter between our load and lock.
			// Take a live one instead of counting into the orphan.
			c.mu.Unlock()
			m.counters.CompareAndDelete(key, value)
			continue
		}

		if c.windowStart != start.UnixNano() {
			c.windowStart = start.UnixNano()
			c.count = 0
		}

		if c.count >= limit {
			c.mu.Unlock()
			return Decision{
				Limit:      limit,
				RetryAfter: retryAfter(now, start, m.cfg.Window),
			}, nil
		}

		c.count++
		remaining := limit - c.count
		c.mu.Unlock()
		return Decision{
			Allowed:   true,
			Limit:     limit,
			Remaining: remaining,
		}, nil
	}
}

func (m *Memory) Snapshot(ctx context.Context, subject string, tier model.Tier, class Class) (Decision, error) {
	limit := m.cfg.limit(tier, class)
	if limit <= 0 {
		return Decision{Allowed: true}, nil
	}

	now := time.Now()
	start := windowStart(now, m.cfg.Window)

	d := Decision{Allowed: true, Limit: limit, Remaining: limit}
	value, ok := m.counters.Load(subject + "|" + string(class))
	if !ok {
		return d, nil
	}

	c := value.(*counter)
	c.mu.Lock()
	defer c.mu.Unlock()

	// A counter from an old window resets on the next acquire; evicted
	// counters are always from an old window.
	if c.evicted || c.windowStart != start.UnixNano() {
		return d, nil
	}

	d.Remaining = limit - c.count
	if d.Remaining < 0 {
		d.Remaining = 0
	}
	d.Allowed = c.count < limit
	if !d.Allowed {
		d.RetryAfter = retryAfter(now, start, m.cfg.Window)
	}
	return d, nil
}

func (m *Memory) Ping(ctx context.Context) error { return nil }

func (m *Memory) Close() error {
	m.closeOnce.Do(func() { close(m.done) })
	return nil
}

func (m *Memory) janitor() {
	ticker := time.NewTicker(m.cfg.Window)
	defer ticker.Stop()
	for {
		select {
		case <-m.done:
			return
		case now := <-ticker.C:
			m.sweep(now)
		}
	}
}

// sweep drops counters from past windows. Eviction happens under the
// counter's own lock so an acquirer that loaded the counter before the
// sweep observes the flag and retries against the live map; removing the
// map entry first would let that acquirer reset and consume a counter no
// later request can see.
func (m *Memory) sweep(now time.Time) {
	start := windowStart(now, m.cfg.Window).UnixNano()
	m.counters.Range(func(key, value any) bool {
		c := value.(*counter)
		c.mu.Lock()
		if c.windowStart < start {
			c.evicted = true
			m.counters.CompareAndDelete(key, value)
		}
		c.mu.Unlock()
		return true
	})
}
