package repo

import (
	"strings"
	"time"
)

// Gender is the declared gender of a profile.
type Gender string

const (
	GenderUnset  Gender = ""
	GenderMale   Gender = "male"
	GenderFemale Gender = "female"
)

// Interest is the gender a profile wants to be shown.
type Interest string

const (
	InterestUnset  Interest = ""
	InterestMale   Interest = "male"
	InterestFemale Interest = "female"
	InterestAll    Interest = "all"
)

// Gender returns the candidate gender implied by the interest, or false when
// the interest does not restrict candidates.
func (i Interest) Gender() (Gender, bool) {
	switch i {
	case InterestMale:
		return GenderMale, true
	case InterestFemale:
		return GenderFemale, true
	default:
		return GenderUnset, false
	}
}

// SubscriptionStatus mirrors the subscription_status column.
type SubscriptionStatus string

const (
	SubscriptionNone      SubscriptionStatus = "none"
	SubscriptionActive    SubscriptionStatus = "active"
	SubscriptionExpired   SubscriptionStatus = "expired"
	SubscriptionCancelled SubscriptionStatus = "cancelled"
)

// Profile represents the profiles table row.
type Profile struct {
	ID          int64
	ExternalID  string
	Name        *string
	Age         *int
	Gender      Gender
	Interest    Interest
	City        string
	Description string
	Instagram   string
	VK          string

	Active    bool
	Banned    bool
	BanReason string
	Hidden    bool
	Verified  bool

	SubscriptionStatus    SubscriptionStatus
	SubscriptionExpiresAt *time.Time

	DailyLikesUsed     int
	DailyDislikesUsed  int
	LastLimitReset     time.Time
	TotalLikes         int
	LikesReceived      int
	TotalDislikes      int
	ReferralBonusLikes int
	SuperLikeCredits   int

	ReferralCode string
	ReferredBy   *int64

	CreatedAt time.Time
	UpdatedAt time.Time
}

// DisplayName returns the profile name or an empty string.
func (p *Profile) DisplayName() string {
	if p.Name == nil {
		return ""
	}
	return *p.Name
}

// Eligible reports whether the profile may be shown as a candidate.
func (p *Profile) Eligible() bool {
	return p.Active && !p.Banned && !p.Hidden && strings.TrimSpace(p.DisplayName()) != ""
}

// NewProfile carries data used to upsert a profile on first contact.
type NewProfile struct {
	ExternalID   string
	Name         *string
	ReferralCode string
}

// ProfileUpdate is a partial edit; nil fields are left unchanged.
type ProfileUpdate struct {
	Name        *string
	Age         *int
	Gender      *Gender
	Interest    *Interest
	City        *string
	Description *string
	Instagram   *string
	VK          *string
	Active      *bool
	Banned      *bool
	BanReason   *string
	Hidden      *bool
	Verified    *bool
}

// SubscriptionUpdate sets the subscription columns of a profile.
type SubscriptionUpdate struct {
	Status    SubscriptionStatus
	ExpiresAt *time.Time
}

// CandidateFilter narrows FindEligibleProfiles. Zero values mean no filter.
type CandidateFilter struct {
	Exclude []int64
	Gender  Gender
	City    string
}

// InteractionKind is the swipe decision recorded in the ledger.
type InteractionKind string

const (
	KindLike      InteractionKind = "like"
	KindSuperLike InteractionKind = "super_like"
	KindDislike   InteractionKind = "dislike"
)

// Category groups kinds that share the uniqueness constraint.
func (k InteractionKind) Category() string {
	if k == KindDislike {
		return "dislike"
	}
	return "like"
}

// Interaction represents the interactions table row.
type Interaction struct {
	ID        int64
	SourceID  int64
	TargetID  int64
	Kind      InteractionKind
	Message   *string
	MediaRef  *string
	Mutual    bool
	CreatedAt time.Time
}

// Boost represents a time-bounded visibility grant.
type Boost struct {
	ID        int64
	ProfileID int64
	ExpiresAt time.Time
	CreatedAt time.Time
}

// PaymentKind is the product a payment buys.
type PaymentKind string

const (
	PaymentSubscription PaymentKind = "subscription"
	PaymentSuperLike    PaymentKind = "super_like"
	PaymentBoost        PaymentKind = "boost"
)

// PaymentStatus tracks settlement of a payment.
type PaymentStatus string

const (
	PaymentPending PaymentStatus = "pending"
	PaymentPaid    PaymentStatus = "paid"
	PaymentFailed  PaymentStatus = "failed"
)

// Payment represents a row in payments table.
type Payment struct {
	ID          string
	ProfileID   int64
	Kind        PaymentKind
	Method      string
	Amount      int64
	Currency    string
	ProviderRef string
	Status      PaymentStatus
	CreatedAt   time.Time
	PaidAt      *time.Time
}

// ComplaintReason classifies a user report.
type ComplaintReason string

const (
	ReasonAdultContent ComplaintReason = "adult_content"
	ReasonSelling      ComplaintReason = "selling"
	ReasonDislike      ComplaintReason = "dislike"
	ReasonOther        ComplaintReason = "other"
)

// Complaint represents a row in complaints table.
type Complaint struct {
	ID         string
	ReporterID int64
	TargetID   int64
	Reason     ComplaintReason
	Comment    string
	CreatedAt  time.Time
}
