package matching

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"matchbot/internal/metrics"
	"matchbot/internal/repo"

	"github.com/go-playground/validator/v10"
)

const (
	profileLockTTL     = 10 * time.Second
	maxRegisterRetries = 5
	maxSuperLikeText   = 1000
)

// Deps groups optional collaborators of the Engine.
type Deps struct {
	Entitlements EntitlementPort
	Notifier     Notifier
	Locker       Locker
	BoostCache   BoostCache
	Metrics      *metrics.Metrics
	Clock        func() time.Time
}

// Engine is the entry point for profile matching and swipe decisions.
type Engine struct {
	store    Storage
	cfg      Config
	ledger   Ledger
	limits   *Limits
	boosts   *Boosts
	selector *Selector
	notifier Notifier
	locker   Locker
	metrics  *metrics.Metrics
	logger   *slog.Logger
	validate *validator.Validate
	now      func() time.Time
}

// NewEngine wires the matching components on top of store.
func NewEngine(store Storage, cfg Config, deps Deps, logger *slog.Logger) *Engine {
	clock := deps.Clock
	if clock == nil {
		clock = func() time.Time { return time.Now().UTC() }
	}
	boosts := NewBoosts(deps.BoostCache, logger)
	return &Engine{
		store:    store,
		cfg:      cfg,
		limits:   NewLimits(cfg, deps.Entitlements),
		boosts:   boosts,
		selector: NewSelector(boosts),
		notifier: deps.Notifier,
		locker:   deps.Locker,
		metrics:  deps.Metrics,
		logger:   logger.With("component", "matching"),
		validate: validator.New(),
		now:      clock,
	}
}

// Boosts exposes the boost registry for payment effects.
func (e *Engine) Boosts() *Boosts {
	return e.boosts
}

// Limits exposes the quota policy.
func (e *Engine) Limits() *Limits {
	return e.limits
}

// Register creates the profile on first contact. A referral code of another
// profile grants that profile bonus likes.
func (e *Engine) Register(ctx context.Context, externalID, displayName, referralCode string) (*repo.Profile, bool, error) {
	externalID = strings.TrimSpace(externalID)
	if externalID == "" {
		return nil, false, fmt.Errorf("register: empty external id: %w", ErrInvalidInput)
	}

	var (
		profile *repo.Profile
		created bool
		err     error
	)
	for attempt := 0; attempt < maxRegisterRetries; attempt++ {
		err = e.store.InTx(ctx, func(s repo.Store) error {
			profile, created, err = s.UpsertProfile(ctx, repo.NewProfile{
				ExternalID:   externalID,
				Name:         optional(displayName),
				ReferralCode: NewReferralCode(),
			})
			if err != nil {
				return err
			}
			if !created || strings.TrimSpace(referralCode) == "" {
				return nil
			}
			return e.applyReferral(ctx, s, profile, referralCode)
		})
		if !errors.Is(err, repo.ErrDuplicate) {
			break
		}
		e.logger.Debug("referral code collision, retrying", "attempt", attempt+1)
	}
	if err != nil {
		return nil, false, storeErr("register", err)
	}
	if created {
		e.logger.Info("profile registered", "profile_id", profile.ID)
	}
	return profile, created, nil
}

func (e *Engine) applyReferral(ctx context.Context, s repo.Store, profile *repo.Profile, code string) error {
	referrer, err := s.GetProfileByReferralCode(ctx, strings.TrimSpace(code))
	if errors.Is(err, repo.ErrNotFound) {
		e.logger.Info("unknown referral code", "profile_id", profile.ID)
		return nil
	}
	if err != nil {
		return err
	}
	if referrer.ID == profile.ID {
		return nil
	}
	if err := s.SetReferredBy(ctx, profile.ID, referrer.ID); err != nil {
		return err
	}
	if err := s.AddReferralBonus(ctx, referrer.ID, e.cfg.ReferralBonusLikes); err != nil {
		return err
	}
	profile.ReferredBy = &referrer.ID
	e.logger.Info("referral applied", "profile_id", profile.ID, "referrer_id", referrer.ID)
	return nil
}

// GetProfile returns a profile by internal id.
func (e *Engine) GetProfile(ctx context.Context, id int64) (*repo.Profile, error) {
	p, err := e.store.GetProfileByID(ctx, id)
	if err != nil {
		return nil, storeErr("get profile", err)
	}
	return p, nil
}

// GetProfileByExternalID returns a profile by chat identity.
func (e *Engine) GetProfileByExternalID(ctx context.Context, externalID string) (*repo.Profile, error) {
	p, err := e.store.GetProfileByExternalID(ctx, externalID)
	if err != nil {
		return nil, storeErr("get profile", err)
	}
	return p, nil
}

// ProfileEdit is a user-supplied partial profile change.
type ProfileEdit struct {
	Name        *string `json:"name" validate:"omitempty,min=1,max=64"`
	Age         *int    `json:"age" validate:"omitempty,min=18,max=100"`
	Gender      *string `json:"gender" validate:"omitempty,oneof=male female"`
	Interest    *string `json:"interest" validate:"omitempty,oneof=male female all"`
	City        *string `json:"city" validate:"omitempty,max=64"`
	Description *string `json:"description" validate:"omitempty,max=900"`
	Instagram   *string `json:"instagram" validate:"omitempty,max=64"`
	VK          *string `json:"vk" validate:"omitempty,max=128"`
}

// UpdateProfile validates and applies edit to profile id.
func (e *Engine) UpdateProfile(ctx context.Context, id int64, edit ProfileEdit) (*repo.Profile, error) {
	if err := e.validate.Struct(edit); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	update := repo.ProfileUpdate{
		Name:        edit.Name,
		Age:         edit.Age,
		City:        edit.City,
		Description: edit.Description,
		Instagram:   edit.Instagram,
		VK:          edit.VK,
	}
	if edit.Gender != nil {
		g := repo.Gender(*edit.Gender)
		update.Gender = &g
	}
	if edit.Interest != nil {
		i := repo.Interest(*edit.Interest)
		update.Interest = &i
	}
	return e.applyUpdate(ctx, "update profile", id, update)
}

// SetActive pauses or resumes a profile.
func (e *Engine) SetActive(ctx context.Context, id int64, active bool) (*repo.Profile, error) {
	return e.applyUpdate(ctx, "set active", id, repo.ProfileUpdate{Active: &active})
}

// Ban hides a profile from everyone for moderation reasons.
func (e *Engine) Ban(ctx context.Context, id int64, reason string) (*repo.Profile, error) {
	banned := true
	return e.applyUpdate(ctx, "ban profile", id, repo.ProfileUpdate{Banned: &banned, BanReason: &reason})
}

// Unban lifts a ban.
func (e *Engine) Unban(ctx context.Context, id int64) (*repo.Profile, error) {
	banned, reason := false, ""
	return e.applyUpdate(ctx, "unban profile", id, repo.ProfileUpdate{Banned: &banned, BanReason: &reason})
}

// SetHidden soft-hides or reveals a profile.
func (e *Engine) SetHidden(ctx context.Context, id int64, hidden bool) (*repo.Profile, error) {
	return e.applyUpdate(ctx, "set hidden", id, repo.ProfileUpdate{Hidden: &hidden})
}

func (e *Engine) applyUpdate(ctx context.Context, op string, id int64, update repo.ProfileUpdate) (*repo.Profile, error) {
	if err := e.store.UpdateProfile(ctx, id, update); err != nil {
		return nil, storeErr(op, err)
	}
	return e.GetProfile(ctx, id)
}

// Next returns the next candidate for viewerID.
func (e *Engine) Next(ctx context.Context, viewerID int64) (*repo.Profile, error) {
	start := e.now()
	viewer, err := e.GetProfile(ctx, viewerID)
	if err != nil {
		e.observe("next", start, err)
		return nil, err
	}
	candidate, err := e.selector.Next(ctx, e.store, viewer, e.now())
	e.observe("next", start, err)
	return candidate, err
}

// LikeResult is returned by Like and SuperLike.
type LikeResult struct {
	Interaction *repo.Interaction
	Target      *repo.Profile
	Mutual      bool
}

// Like records a like from viewerID to targetID.
func (e *Engine) Like(ctx context.Context, viewerID, targetID int64) (*LikeResult, error) {
	return e.like(ctx, "like", viewerID, targetID, repo.KindLike, Payload{})
}

// SuperLike records a super-like carrying payload. It spends one credit
// instead of checking the daily quota.
func (e *Engine) SuperLike(ctx context.Context, viewerID, targetID int64, payload Payload) (*LikeResult, error) {
	payload.Message = strings.TrimSpace(payload.Message)
	payload.MediaRef = strings.TrimSpace(payload.MediaRef)
	if payload.Message == "" && payload.MediaRef == "" {
		return nil, fmt.Errorf("super like needs a message or media: %w", ErrInvalidInput)
	}
	if len([]rune(payload.Message)) > maxSuperLikeText {
		return nil, fmt.Errorf("super like message too long: %w", ErrInvalidInput)
	}
	return e.like(ctx, "super_like", viewerID, targetID, repo.KindSuperLike, payload)
}

func (e *Engine) like(ctx context.Context, action string, viewerID, targetID int64, kind repo.InteractionKind, payload Payload) (res *LikeResult, err error) {
	start := e.now()
	defer func() { e.observe(action, start, err) }()

	if viewerID == targetID {
		return nil, ErrSelfAction
	}
	unlock, err := e.lock(ctx, viewerID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	var viewer *repo.Profile
	res = &LikeResult{}
	err = e.store.InTx(ctx, func(s repo.Store) error {
		if err := s.LockProfiles(ctx, viewerID, targetID); err != nil {
			return err
		}
		v, t, err := loadPair(ctx, s, viewerID, targetID)
		if err != nil {
			return err
		}
		viewer, res.Target = v, t

		if kind == repo.KindSuperLike {
			if v.SuperLikeCredits <= 0 {
				return ErrNoSuperLikeCredits
			}
		} else {
			decision, err := e.limits.CanLike(ctx, s, v, e.now())
			if err != nil {
				return err
			}
			if !decision.Allowed {
				return decision.Reason
			}
		}

		in, err := e.ledger.RecordLike(ctx, s, v.ID, t.ID, kind, payload)
		if err != nil {
			return err
		}
		if kind == repo.KindSuperLike {
			if err := s.AddSuperLikeCredits(ctx, v.ID, -1); err != nil {
				return storeErr("spend super like", err)
			}
		}
		res.Interaction, res.Mutual = in, in.Mutual
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.logger.Info("like recorded", "kind", kind, "source_id", viewerID, "target_id", targetID, "mutual", res.Mutual)

	switch {
	case kind == repo.KindSuperLike:
		e.notify(ctx, res.Target.ExternalID, EventSuperLike, Notification{From: viewer, Message: payload.Message, MediaRef: payload.MediaRef})
	case !res.Mutual:
		e.notify(ctx, res.Target.ExternalID, EventLikeReceived, Notification{From: viewer})
	}
	if res.Mutual {
		e.notify(ctx, res.Target.ExternalID, EventMutualMatch, Notification{From: viewer})
		e.notify(ctx, viewer.ExternalID, EventMutualMatch, Notification{From: res.Target})
	}
	return res, nil
}

// Dislike records a dislike from viewerID to targetID. A repeated dislike is
// reported through DislikeResult.AlreadyDisliked.
func (e *Engine) Dislike(ctx context.Context, viewerID, targetID int64) (res DislikeResult, err error) {
	start := e.now()
	defer func() { e.observe("dislike", start, err) }()

	if viewerID == targetID {
		return DislikeResult{}, ErrSelfAction
	}
	unlock, err := e.lock(ctx, viewerID)
	if err != nil {
		return DislikeResult{}, err
	}
	defer unlock()

	err = e.store.InTx(ctx, func(s repo.Store) error {
		v, t, err := loadPair(ctx, s, viewerID, targetID)
		if err != nil {
			return err
		}
		// A repeated dislike writes nothing, so the quota does not apply.
		seen, err := s.InteractionExists(ctx, v.ID, t.ID, repo.KindDislike)
		if err != nil {
			return storeErr("dislike", err)
		}
		if seen {
			res = DislikeResult{AlreadyDisliked: true}
			return nil
		}
		decision, err := e.limits.CanDislike(ctx, s, v, e.now())
		if err != nil {
			return err
		}
		if !decision.Allowed {
			return decision.Reason
		}
		res, err = e.ledger.RecordDislike(ctx, s, v.ID, t.ID)
		return err
	})
	if err != nil {
		return DislikeResult{}, err
	}
	return res, nil
}

// Boost grants a 24 hour boost to profileID.
func (e *Engine) Boost(ctx context.Context, profileID int64) (boost *repo.Boost, err error) {
	start := e.now()
	defer func() { e.observe("boost", start, err) }()

	unlock, err := e.lock(ctx, profileID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	err = e.store.InTx(ctx, func(s repo.Store) error {
		if _, err := s.GetProfileByID(ctx, profileID); err != nil {
			return storeErr("boost", err)
		}
		boost, err = e.boosts.Grant(ctx, s, profileID, e.now())
		return err
	})
	if err != nil {
		return boost, err
	}
	e.boosts.Invalidate(ctx)
	e.logger.Info("boost granted", "profile_id", profileID, "expires_at", boost.ExpiresAt)
	return boost, nil
}

// Report files a complaint and hides the target from the reporter.
func (e *Engine) Report(ctx context.Context, reporterID, targetID int64, reason repo.ComplaintReason, comment string) (*repo.Complaint, error) {
	switch reason {
	case repo.ReasonAdultContent, repo.ReasonSelling, repo.ReasonDislike, repo.ReasonOther:
	default:
		return nil, fmt.Errorf("unknown complaint reason %q: %w", reason, ErrInvalidInput)
	}
	if reporterID == targetID {
		return nil, ErrSelfAction
	}

	var complaint *repo.Complaint
	err := e.store.InTx(ctx, func(s repo.Store) error {
		if _, _, err := loadPair(ctx, s, reporterID, targetID); err != nil {
			return err
		}
		var err error
		complaint, err = s.InsertComplaint(ctx, repo.Complaint{
			ReporterID: reporterID,
			TargetID:   targetID,
			Reason:     reason,
			Comment:    strings.TrimSpace(comment),
		})
		if err != nil {
			return storeErr("report", err)
		}
		_, err = e.ledger.RecordDislike(ctx, s, reporterID, targetID)
		return err
	})
	if err != nil {
		return nil, err
	}
	e.logger.Info("complaint filed", "reporter_id", reporterID, "target_id", targetID, "reason", reason)
	return complaint, nil
}

// Stats summarises usage of a profile.
type Stats struct {
	Profile           *repo.Profile
	LikesLimit        int
	LikesRemaining    int
	DislikesRemaining int
	BoostedUntil      *time.Time
	Unlimited         bool
}

// Stats returns counters and quota state for id.
func (e *Engine) Stats(ctx context.Context, id int64) (*Stats, error) {
	p, err := e.GetProfile(ctx, id)
	if err != nil {
		return nil, err
	}
	now := e.now()
	likes, dislikes := e.limits.Remaining(p, now)
	st := &Stats{
		Profile:           p,
		LikesLimit:        e.limits.likeLimit(p),
		LikesRemaining:    likes,
		DislikesRemaining: dislikes,
		Unlimited:         likes < 0,
	}
	boost, err := e.store.FindActiveBoost(ctx, id, now)
	switch {
	case err == nil:
		st.BoostedUntil = &boost.ExpiresAt
	case !errors.Is(err, repo.ErrNotFound):
		return nil, fmt.Errorf("stats: %w", err)
	}
	return st, nil
}

func loadPair(ctx context.Context, s repo.Store, viewerID, targetID int64) (*repo.Profile, *repo.Profile, error) {
	viewer, err := s.GetProfileByID(ctx, viewerID)
	if err != nil {
		return nil, nil, storeErr("load viewer", err)
	}
	target, err := s.GetProfileByID(ctx, targetID)
	if err != nil {
		return nil, nil, storeErr("load target", err)
	}
	return viewer, target, nil
}

func (e *Engine) lock(ctx context.Context, profileID int64) (func(), error) {
	noop := func() {}
	if e.locker == nil {
		return noop, nil
	}
	key := "matchbot:lock:profile:" + strconv.FormatInt(profileID, 10)
	release, ok, err := e.locker.Acquire(ctx, key, profileLockTTL)
	if err != nil {
		e.logger.Warn("profile lock unavailable, continuing", "profile_id", profileID, "error", err)
		return noop, nil
	}
	if !ok {
		return nil, ErrBusy
	}
	return release, nil
}

func (e *Engine) notify(ctx context.Context, externalID string, kind EventKind, n Notification) {
	if e.notifier == nil {
		return
	}
	status := "sent"
	if err := e.notifier.Notify(ctx, externalID, kind, n); err != nil {
		status = "failed"
		e.logger.Warn("notification failed", "kind", kind, "to", externalID, "error", err)
		if e.metrics != nil {
			e.metrics.Errors.WithLabelValues("notify").Inc()
		}
	}
	if e.metrics != nil {
		e.metrics.Notifications.WithLabelValues(string(kind), status).Inc()
	}
}

func (e *Engine) observe(action string, start time.Time, err error) {
	if e.metrics == nil {
		return
	}
	outcome := Outcome(err)
	e.metrics.Actions.WithLabelValues(action, outcome).Inc()
	e.metrics.ActionLatency.WithLabelValues(action).Observe(e.now().Sub(start).Seconds())
	if outcome == "error" {
		e.metrics.Errors.WithLabelValues("matching").Inc()
	}
}

// Outcome classifies err into a short label for metrics and logs.
func Outcome(err error) string {
	var quota *QuotaExceededError
	switch {
	case err == nil:
		return "ok"
	case errors.As(err, &quota):
		return "quota"
	case errors.Is(err, ErrDuplicateAction):
		return "duplicate"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrNoCandidate):
		return "empty"
	case errors.Is(err, ErrAlreadyBoosted):
		return "already_boosted"
	case errors.Is(err, ErrBusy):
		return "busy"
	case errors.Is(err, ErrSelfAction), errors.Is(err, ErrInvalidInput), errors.Is(err, ErrNoSuperLikeCredits):
		return "rejected"
	default:
		return "error"
	}
}
