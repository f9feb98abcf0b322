package matching

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"matchbot/internal/repo"
)

// BoostDuration is how long a granted boost lasts.
const BoostDuration = 24 * time.Hour

const boostCacheTTL = 30 * time.Second

// Boosts is the registry of time-bounded visibility grants.
type Boosts struct {
	cache  BoostCache
	logger *slog.Logger
}

// NewBoosts builds the registry. cache may be nil.
func NewBoosts(cache BoostCache, logger *slog.Logger) *Boosts {
	return &Boosts{cache: cache, logger: logger.With("component", "boosts")}
}

// Grant creates a boost for profileID unless an unexpired one exists. It must
// run inside a transaction; call Invalidate after commit.
func (b *Boosts) Grant(ctx context.Context, s repo.Store, profileID int64, now time.Time) (*repo.Boost, error) {
	if err := s.LockProfiles(ctx, profileID); err != nil {
		return nil, fmt.Errorf("grant boost: %w", err)
	}
	active, err := s.FindActiveBoost(ctx, profileID, now)
	switch {
	case err == nil:
		return active, ErrAlreadyBoosted
	case !errors.Is(err, repo.ErrNotFound):
		return nil, fmt.Errorf("grant boost: %w", err)
	}

	boost := &repo.Boost{
		ProfileID: profileID,
		CreatedAt: now,
		ExpiresAt: now.Add(BoostDuration),
	}
	if err := s.CreateBoost(ctx, boost); err != nil {
		return nil, storeErr("grant boost", err)
	}
	return boost, nil
}

// IsBoosted reports whether profileID holds an unexpired boost at now.
func (b *Boosts) IsBoosted(ctx context.Context, s repo.Store, profileID int64, now time.Time) (bool, error) {
	_, err := s.FindActiveBoost(ctx, profileID, now)
	if errors.Is(err, repo.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("is boosted: %w", err)
	}
	return true, nil
}

// ActiveIDs returns the set of profiles boosted at now. Cached windows are
// re-checked against now so an expired boost never counts.
func (b *Boosts) ActiveIDs(ctx context.Context, s repo.Store, now time.Time) (map[int64]struct{}, error) {
	windows, err := b.windows(ctx, s, now)
	if err != nil {
		return nil, err
	}
	ids := make(map[int64]struct{}, len(windows))
	for _, w := range windows {
		if w.ExpiresAt.After(now) {
			ids[w.ProfileID] = struct{}{}
		}
	}
	return ids, nil
}

// Invalidate drops the cached boost set.
func (b *Boosts) Invalidate(ctx context.Context) {
	if b.cache == nil {
		return
	}
	if err := b.cache.InvalidateBoosts(ctx); err != nil {
		b.logger.Warn("failed invalidating boost cache", "error", err)
	}
}

func (b *Boosts) windows(ctx context.Context, s repo.Store, now time.Time) ([]BoostWindow, error) {
	cacheable := false
	var generation int64
	if b.cache != nil {
		var err error
		generation, err = b.cache.BoostsGeneration(ctx)
		if err != nil {
			b.logger.Warn("boost cache read failed", "error", err)
		} else {
			cached, ok, err := b.cache.GetBoosts(ctx, generation)
			switch {
			case err != nil:
				b.logger.Warn("boost cache read failed", "error", err)
			case ok:
				return cached, nil
			default:
				cacheable = true
			}
		}
	}

	boosts, err := s.ListActiveBoosts(ctx, now)
	if err != nil {
		return nil, fmt.Errorf("list active boosts: %w", err)
	}
	windows := make([]BoostWindow, 0, len(boosts))
	for _, bst := range boosts {
		windows = append(windows, BoostWindow{ProfileID: bst.ProfileID, ExpiresAt: bst.ExpiresAt})
	}

	// Generation is read before the query: a grant committed meanwhile moves
	// readers to the next generation and this write is never served.
	if cacheable {
		if err := b.cache.SetBoosts(ctx, generation, windows, boostCacheTTL); err != nil {
			b.logger.Warn("boost cache write failed", "error", err)
		}
	}
	return windows, nil
}
