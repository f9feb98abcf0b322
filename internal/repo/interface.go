package repo

import (
	"context"
	"errors"
	"io/fs"
	"time"
)

var (
	// ErrNotFound is returned when a lookup matches no row.
	ErrNotFound = errors.New("not found")
	// ErrDuplicate is returned when a write violates a uniqueness constraint.
	ErrDuplicate = errors.New("duplicate")
)

// Store defines the data operations available both on the repository and
// inside a transaction.
type Store interface {
	// Profiles
	GetProfileByID(ctx context.Context, id int64) (*Profile, error)
	GetProfileByExternalID(ctx context.Context, externalID string) (*Profile, error)
	GetProfileByReferralCode(ctx context.Context, code string) (*Profile, error)
	UpsertProfile(ctx context.Context, profile NewProfile) (*Profile, bool, error)
	UpdateProfile(ctx context.Context, id int64, update ProfileUpdate) error
	UpdateSubscription(ctx context.Context, id int64, update SubscriptionUpdate) error
	FindEligibleProfiles(ctx context.Context, filter CandidateFilter) ([]Profile, error)
	LockProfiles(ctx context.Context, ids ...int64) error

	// Counters
	ResetDailyCounters(ctx context.Context, id int64, at time.Time) error
	IncrementLikeCounters(ctx context.Context, sourceID, targetID int64, countDaily bool) error
	IncrementDislikeCounters(ctx context.Context, sourceID int64) error
	AddReferralBonus(ctx context.Context, id int64, likes int) error
	SetReferredBy(ctx context.Context, id, referrerID int64) error
	AddSuperLikeCredits(ctx context.Context, id int64, delta int) error

	// Interactions
	InteractionExists(ctx context.Context, sourceID, targetID int64, kinds ...InteractionKind) (bool, error)
	CreateInteraction(ctx context.Context, in *Interaction) error
	FindLike(ctx context.Context, sourceID, targetID int64) (*Interaction, error)
	SetMutual(ctx context.Context, interactionID int64, mutual bool) error
	ListInteractedTargets(ctx context.Context, sourceID int64) ([]int64, error)

	// Boosts
	FindActiveBoost(ctx context.Context, profileID int64, now time.Time) (*Boost, error)
	CreateBoost(ctx context.Context, boost *Boost) error
	ListActiveBoosts(ctx context.Context, now time.Time) ([]Boost, error)

	// Payments
	GetPaymentByProviderRef(ctx context.Context, ref string) (*Payment, error)
	InsertPayment(ctx context.Context, payment Payment) (*Payment, error)
	MarkPaymentStatus(ctx context.Context, id string, status PaymentStatus, paidAt *time.Time) error

	// Complaints
	InsertComplaint(ctx context.Context, complaint Complaint) (*Complaint, error)
	CountComplaints(ctx context.Context, targetID int64) (int, error)
}

// Repository defines the interface for data persistence.
type Repository interface {
	Store

	// Lifecycle
	Close()
	Ping(ctx context.Context) error
	RunMigrations(ctx context.Context, filesystem fs.FS) error

	// InTx runs fn against a transactional Store. The transaction commits when
	// fn returns nil and rolls back otherwise.
	InTx(ctx context.Context, fn func(Store) error) error
}
