// Package quota enforces per-subject request quotas over fixed windows.
// Windows are aligned to the wall clock, so every subject's window for a
// given class rolls over at the same instant.
package quota

import (
	"context"
	"time"

	"github.com/gatewarden/gatewarden/internal/model"
)

// Class separates cheap read traffic from expensive compute traffic. Each
// class has its own counter per subject.
type Class string

const (
	ClassGeneral Class = "general"
	ClassCostly  Class = "costly"
)

// Limits maps a tier to the number of requests it may make per window.
// A limit of zero or below means the tier is not throttled.
type Limits map[model.Tier]int

// Config holds the per-class limit tables and the window size shared by
// every backend.
type Config struct {
	Window  time.Duration
	General Limits
	Costly  Limits
}

// DefaultConfig returns the stock tier tables with one-minute windows.
func DefaultConfig() Config {
	return Config{
		Window: time.Minute,
		General: Limits{
			model.TierFree:       100,
			model.TierPro:        1000,
			model.TierEnterprise: 10000,
		},
		Costly: Limits{
			model.TierFree:       10,
			model.TierPro:        100,
			model.TierEnterprise: 1000,
		},
	}
}

func (c Config) withDefaults() Config {
	if c.Window <= 0 {
		c.Window = time.Minute
	}
	return c
}

func (c Config) limit(tier model.Tier, class Class) int {
	if class == ClassCostly {
		return c.Costly[tier]
	}
	return c.General[tier]
}

// Decision is the outcome of a quota check. Limit is zero when the subject
// is not throttled; RetryAfter is set only on denial.
type Decision struct {
	Allowed    bool
	Limit      int
	Remaining  int
	RetryAfter time.Duration
}

// Enforcer admits or rejects requests against the configured windows.
// TryAcquire consumes one unit when it admits and consumes nothing when it
// denies. Snapshot reports the current window without consuming.
type Enforcer interface {
	TryAcquire(ctx context.Context, subject string, tier model.Tier, class Class) (Decision, error)
	Snapshot(ctx context.Context, subject string, tier model.Tier, class Class) (Decision, error)
	Ping(ctx context.Context) error
	Close() error
}

func windowStart(now time.Time, window time.Duration) time.Time {
	return now.Truncate(window)
}

func retryAfter(now, start time.Time, window time.Duration) time.Duration {
	d := start.Add(window).Sub(now)
	if d < 0 {
		d = 0
	}
	return d
}
