package matching

import (
	"context"
	"time"

	"matchbot/internal/repo"
)

// Storage is the transactional data access the engine runs on.
type Storage interface {
	repo.Store
	InTx(ctx context.Context, fn func(repo.Store) error) error
}

// EntitlementPort decides whether a profile bypasses the daily like quota.
type EntitlementPort interface {
	HasUnlimitedLikes(p *repo.Profile, now time.Time) bool
}

// EventKind names an outbound notification.
type EventKind string

const (
	EventLikeReceived EventKind = "like_received"
	EventMutualMatch  EventKind = "mutual_match"
	EventSuperLike    EventKind = "super_like"
)

// Notification is the payload handed to a Notifier.
type Notification struct {
	// From is the profile whose action triggered the event.
	From     *repo.Profile
	Message  string
	MediaRef string
}

// Notifier delivers events to a profile. Delivery is best effort.
type Notifier interface {
	Notify(ctx context.Context, externalID string, kind EventKind, n Notification) error
}

// Locker serialises actions of a single profile across processes.
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (release func(), ok bool, err error)
}

// BoostWindow is a cached active boost.
type BoostWindow struct {
	ProfileID int64     `json:"profile_id"`
	ExpiresAt time.Time `json:"expires_at"`
}

// BoostCache stores the active boost set between reads. Entries are keyed by
// a generation that InvalidateBoosts advances, so a set computed before an
// invalidation is never served after it.
type BoostCache interface {
	BoostsGeneration(ctx context.Context) (int64, error)
	GetBoosts(ctx context.Context, generation int64) ([]BoostWindow, bool, error)
	SetBoosts(ctx context.Context, generation int64, boosts []BoostWindow, ttl time.Duration) error
	InvalidateBoosts(ctx context.Context) error
}
