package matching

import (
	"context"
	"fmt"
	"time"

	"matchbot/internal/repo"
)

// Config holds the quota settings of the engine.
type Config struct {
	DailyLikesLimit    int
	DailyDislikesLimit int
	ReferralBonusLikes int
}

// DefaultConfig mirrors the production defaults.
func DefaultConfig() Config {
	return Config{
		DailyLikesLimit:    10,
		DailyDislikesLimit: 50,
		ReferralBonusLikes: 5,
	}
}

// Decision is the outcome of a quota check. Reason is set when denied.
type Decision struct {
	Allowed bool
	Reason  *QuotaExceededError
}

// Limits gates likes and dislikes by entitlement and daily quota. Counters
// are reset lazily on the first check of a new UTC day.
type Limits struct {
	cfg          Config
	entitlements EntitlementPort
}

// NewLimits builds the quota policy.
func NewLimits(cfg Config, entitlements EntitlementPort) *Limits {
	return &Limits{cfg: cfg, entitlements: entitlements}
}

// CanLike resets stale counters and decides whether p may like now.
func (l *Limits) CanLike(ctx context.Context, s repo.Store, p *repo.Profile, now time.Time) (Decision, error) {
	if err := l.resetIfStale(ctx, s, p, now); err != nil {
		return Decision{}, err
	}
	if l.entitlements != nil && l.entitlements.HasUnlimitedLikes(p, now) {
		return Decision{Allowed: true}, nil
	}
	limit := l.likeLimit(p)
	if p.DailyLikesUsed < limit {
		return Decision{Allowed: true}, nil
	}
	return Decision{Reason: &QuotaExceededError{Action: "like", Limit: limit}}, nil
}

// CanDislike resets stale counters and decides whether p may dislike now.
// Subscriptions do not lift this quota.
func (l *Limits) CanDislike(ctx context.Context, s repo.Store, p *repo.Profile, now time.Time) (Decision, error) {
	if err := l.resetIfStale(ctx, s, p, now); err != nil {
		return Decision{}, err
	}
	if p.DailyDislikesUsed < l.cfg.DailyDislikesLimit {
		return Decision{Allowed: true}, nil
	}
	return Decision{Reason: &QuotaExceededError{Action: "dislike", Limit: l.cfg.DailyDislikesLimit}}, nil
}

// Remaining reports likes and dislikes left today without writing anything.
// A negative like count means unlimited.
func (l *Limits) Remaining(p *repo.Profile, now time.Time) (likes, dislikes int) {
	likesUsed, dislikesUsed := p.DailyLikesUsed, p.DailyDislikesUsed
	if stale(p.LastLimitReset, now) {
		likesUsed, dislikesUsed = 0, 0
	}
	dislikes = max(l.cfg.DailyDislikesLimit-dislikesUsed, 0)
	if l.entitlements != nil && l.entitlements.HasUnlimitedLikes(p, now) {
		return -1, dislikes
	}
	return max(l.likeLimit(p)-likesUsed, 0), dislikes
}

func (l *Limits) likeLimit(p *repo.Profile) int {
	return l.cfg.DailyLikesLimit + p.ReferralBonusLikes
}

func (l *Limits) resetIfStale(ctx context.Context, s repo.Store, p *repo.Profile, now time.Time) error {
	if !stale(p.LastLimitReset, now) {
		return nil
	}
	if err := s.ResetDailyCounters(ctx, p.ID, now); err != nil {
		return fmt.Errorf("reset daily limits: %w", err)
	}
	p.DailyLikesUsed = 0
	p.DailyDislikesUsed = 0
	p.LastLimitReset = now
	return nil
}

// stale reports whether last falls on an earlier UTC date than now.
func stale(last, now time.Time) bool {
	return utcDate(last).Before(utcDate(now))
}

func utcDate(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
