package billing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"matchbot/internal/matching"
	"matchbot/internal/metrics"
	"matchbot/internal/repo"

	"github.com/go-playground/validator/v10"
)

// ErrInvalidEvent marks a payment event that failed validation.
var ErrInvalidEvent = errors.New("invalid payment event")

// Event is a settled or pending payment reported by the provider.
type Event struct {
	ProviderRef string `json:"provider_ref" validate:"required,max=128"`
	ExternalID  string `json:"external_id" validate:"required_without=ProfileID,max=64"`
	ProfileID   int64  `json:"profile_id" validate:"min=0"`
	Kind        string `json:"kind" validate:"required,oneof=subscription super_like boost"`
	Method      string `json:"method" validate:"required,oneof=card crypto"`
	Amount      int64  `json:"amount" validate:"min=0"`
	Currency    string `json:"currency" validate:"omitempty,len=3"`
	Status      string `json:"status" validate:"required,oneof=pending paid failed"`
}

// Result describes what Apply did with an event.
type Result struct {
	Payment *repo.Payment
	// Applied is true when the product effect was granted by this call.
	Applied bool
	// Duplicate is true when the provider reference was already settled.
	Duplicate bool
	// BoostActive is true when a paid boost found one already running.
	BoostActive         bool
	SubscriptionExpires *time.Time
}

// Config tunes the product effects.
type Config struct {
	SubscriptionPeriod time.Duration
}

// Service applies payment effects to profiles exactly once per provider reference.
type Service struct {
	store    matching.Storage
	boosts   *matching.Boosts
	cfg      Config
	metrics  *metrics.Metrics
	logger   *slog.Logger
	validate *validator.Validate
	now      func() time.Time
}

// NewService builds the billing service. metricRegistry may be nil.
func NewService(store matching.Storage, boosts *matching.Boosts, cfg Config, metricRegistry *metrics.Metrics, logger *slog.Logger) *Service {
	if cfg.SubscriptionPeriod <= 0 {
		cfg.SubscriptionPeriod = 30 * 24 * time.Hour
	}
	return &Service{
		store:    store,
		boosts:   boosts,
		cfg:      cfg,
		metrics:  metricRegistry,
		logger:   logger.With("component", "billing"),
		validate: validator.New(),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// SetClock overrides the time source.
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

// Apply records ev and, when it is paid, grants the purchased product.
// Repeated deliveries of a paid reference are reported as duplicates.
func (s *Service) Apply(ctx context.Context, ev Event) (*Result, error) {
	ev.ProviderRef = strings.TrimSpace(ev.ProviderRef)
	ev.ExternalID = strings.TrimSpace(ev.ExternalID)
	ev.Currency = strings.ToUpper(strings.TrimSpace(ev.Currency))
	if err := s.validate.Struct(ev); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidEvent, err)
	}

	now := s.now()
	kind := repo.PaymentKind(ev.Kind)
	status := repo.PaymentStatus(ev.Status)
	res := &Result{}

	err := s.store.InTx(ctx, func(st repo.Store) error {
		profile, err := s.resolveProfile(ctx, st, ev)
		if err != nil {
			return err
		}

		existing, err := st.GetPaymentByProviderRef(ctx, ev.ProviderRef)
		switch {
		case err == nil:
			res.Payment = existing
			if existing.Status == repo.PaymentPaid {
				res.Duplicate = true
				return nil
			}
			if existing.ProfileID != profile.ID || existing.Kind != kind {
				return fmt.Errorf("%w: provider ref %s reused for another purchase", ErrInvalidEvent, ev.ProviderRef)
			}
			if status == existing.Status {
				return nil
			}
			var paidAt *time.Time
			if status == repo.PaymentPaid {
				paidAt = &now
			}
			if err := st.MarkPaymentStatus(ctx, existing.ID, status, paidAt); err != nil {
				return fmt.Errorf("mark payment: %w", err)
			}
			existing.Status, existing.PaidAt = status, paidAt
		case errors.Is(err, repo.ErrNotFound):
			payment := repo.Payment{
				ProfileID:   profile.ID,
				Kind:        kind,
				Method:      ev.Method,
				Amount:      ev.Amount,
				Currency:    ev.Currency,
				ProviderRef: ev.ProviderRef,
				Status:      status,
			}
			if status == repo.PaymentPaid {
				payment.PaidAt = &now
			}
			res.Payment, err = st.InsertPayment(ctx, payment)
			if err != nil {
				return fmt.Errorf("insert payment: %w", err)
			}
		default:
			return fmt.Errorf("lookup payment: %w", err)
		}

		if status != repo.PaymentPaid {
			return nil
		}
		return s.grant(ctx, st, profile, kind, now, res)
	})
	if err != nil {
		s.count(ev.Kind, "error")
		return nil, err
	}

	if res.Applied && kind == repo.PaymentBoost {
		s.boosts.Invalidate(ctx)
	}
	switch {
	case res.Duplicate:
		s.count(ev.Kind, "duplicate")
	default:
		s.count(ev.Kind, ev.Status)
	}
	s.logger.Info("payment processed",
		"provider_ref", ev.ProviderRef,
		"kind", ev.Kind,
		"status", ev.Status,
		"applied", res.Applied,
		"duplicate", res.Duplicate,
	)
	return res, nil
}

func (s *Service) resolveProfile(ctx context.Context, st repo.Store, ev Event) (*repo.Profile, error) {
	var (
		profile *repo.Profile
		err     error
	)
	if ev.ProfileID > 0 {
		profile, err = st.GetProfileByID(ctx, ev.ProfileID)
	} else {
		profile, err = st.GetProfileByExternalID(ctx, ev.ExternalID)
	}
	if errors.Is(err, repo.ErrNotFound) {
		return nil, fmt.Errorf("payment for unknown profile: %w", matching.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("load payer: %w", err)
	}
	return profile, nil
}

func (s *Service) grant(ctx context.Context, st repo.Store, p *repo.Profile, kind repo.PaymentKind, now time.Time, res *Result) error {
	switch kind {
	case repo.PaymentSubscription:
		start := now
		if (Entitlements{}).HasUnlimitedLikes(p, now) {
			start = *p.SubscriptionExpiresAt
		}
		expires := start.Add(s.cfg.SubscriptionPeriod)
		if err := st.UpdateSubscription(ctx, p.ID, repo.SubscriptionUpdate{Status: repo.SubscriptionActive, ExpiresAt: &expires}); err != nil {
			return fmt.Errorf("activate subscription: %w", err)
		}
		res.SubscriptionExpires = &expires
	case repo.PaymentSuperLike:
		if err := st.AddSuperLikeCredits(ctx, p.ID, 1); err != nil {
			return fmt.Errorf("add super like credit: %w", err)
		}
	case repo.PaymentBoost:
		_, err := s.boosts.Grant(ctx, st, p.ID, now)
		if errors.Is(err, matching.ErrAlreadyBoosted) {
			res.BoostActive = true
			return nil
		}
		if err != nil {
			return err
		}
	}
	res.Applied = true
	return nil
}

func (s *Service) count(kind, status string) {
	if s.metrics == nil {
		return
	}
	s.metrics.Payments.WithLabelValues(kind, status).Inc()
}
