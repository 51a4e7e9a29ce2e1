// Package quota enforces per-user daily generation limits. The policy is a
// pure tier → limits mapping; the tracker resolves the (owner, UTC day,
// kind) key and delegates the atomic check-and-increment to the usage store.
package quota

import (
	"context"
	"time"

	"github.com/Davide9292/v-try.app-sub001/internal/domain"
	"github.com/Davide9292/v-try.app-sub001/internal/postgres"
)

// Limits holds the per-kind daily allowances of one subscription tier.
type Limits struct {
	ImagesPerDay int
	VideosPerDay int
}

// ForKind returns the limit that applies to jobs of the given kind.
func (l Limits) ForKind(kind domain.Kind) int {
	if kind == domain.KindVideo {
		return l.VideosPerDay
	}
	return l.ImagesPerDay
}

// Policy maps subscription tiers to their limits. Stateless and externally
// configured; never mutated at runtime.
type Policy map[domain.Tier]Limits

// DefaultPolicy returns the built-in tier limits, overridable via config.
func DefaultPolicy() Policy {
	return Policy{
		domain.TierFree: {ImagesPerDay: 10, VideosPerDay: 2},
		domain.TierPro:  {ImagesPerDay: 200, VideosPerDay: 50},
	}
}

// LimitFor resolves the daily limit for a tier and kind. Unknown tiers fall
// back to FREE.
func (p Policy) LimitFor(tier domain.Tier, kind domain.Kind) int {
	limits, ok := p[tier]
	if !ok {
		limits = p[domain.TierFree]
	}
	return limits.ForKind(kind)
}

// Tracker gates admissions against the daily usage counters.
type Tracker struct {
	usage  postgres.UsageStore
	policy Policy
	now    func() time.Time
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithClock overrides the time source, for tests exercising the UTC
// midnight boundary.
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) { t.now = now }
}

// NewTracker constructs a Tracker over the given usage store and policy.
func NewTracker(usage postgres.UsageStore, policy Policy, opts ...Option) *Tracker {
	t := &Tracker{usage: usage, policy: policy, now: time.Now}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// TryConsume atomically consumes one unit of today's quota. On false the
// counter is untouched and the caller must reject the submission; the
// returned used count feeds the admission error response.
//
// The day boundary is UTC midnight: a call at 23:59:59 and one at 00:00:01
// consume different keys.
func (t *Tracker) TryConsume(ctx context.Context, ownerID string, tier domain.Tier, kind domain.Kind) (int, bool, error) {
	limit := t.policy.LimitFor(tier, kind)
	day := t.now().UTC()
	used, ok, err := t.usage.TryConsume(ctx, ownerID, day, kind, limit)
	if err != nil {
		return 0, false, err
	}
	return used, ok, nil
}

// Limit exposes the policy limit for a tier and kind, for error messages
// and response headers.
func (t *Tracker) Limit(tier domain.Tier, kind domain.Kind) int {
	return t.policy.LimitFor(tier, kind)
}
