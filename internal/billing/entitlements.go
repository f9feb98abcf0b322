package billing

import (
	"time"

	"matchbot/internal/repo"
)

// Entitlements derives unlimited likes from the subscription columns.
type Entitlements struct{}

// HasUnlimitedLikes is true while an active subscription has not expired.
func (Entitlements) HasUnlimitedLikes(p *repo.Profile, now time.Time) bool {
	if p == nil || p.SubscriptionStatus != repo.SubscriptionActive || p.SubscriptionExpiresAt == nil {
		return false
	}
	return p.SubscriptionExpiresAt.After(now)
}
