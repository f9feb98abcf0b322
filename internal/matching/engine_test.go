package matching

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"matchbot/internal/repo"
	"matchbot/migrations"

	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type sentEvent struct {
	to   string
	kind EventKind
	n    Notification
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []sentEvent
	err    error
}

func (r *recordingNotifier) Notify(_ context.Context, externalID string, kind EventKind, n Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, sentEvent{to: externalID, kind: kind, n: n})
	return r.err
}

func (r *recordingNotifier) kinds(to string) []EventKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []EventKind
	for _, e := range r.events {
		if e.to == to {
			out = append(out, e.kind)
		}
	}
	return out
}

type subscriptionEntitlements struct{}

func (subscriptionEntitlements) HasUnlimitedLikes(p *repo.Profile, now time.Time) bool {
	return p.SubscriptionStatus == repo.SubscriptionActive &&
		p.SubscriptionExpiresAt != nil && p.SubscriptionExpiresAt.After(now)
}

type testEnv struct {
	engine   *Engine
	store    *repo.SQLiteRepository
	clock    *fakeClock
	notifier *recordingNotifier
}

func newTestEnv(t *testing.T, cfg Config, locker Locker) *testEnv {
	t.Helper()
	return newTestEnvWithDeps(t, cfg, Deps{Locker: locker})
}

func newTestEnvWithDeps(t *testing.T, cfg Config, deps Deps) *testEnv {
	t.Helper()
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store, err := repo.NewSQLite(ctx, filepath.Join(t.TempDir(), "matching.db"), logger)
	require.NoError(t, err)
	t.Cleanup(store.Close)
	require.NoError(t, store.RunMigrations(ctx, migrations.SQLite()))

	clock := &fakeClock{now: time.Now().UTC()}
	notifier := &recordingNotifier{}
	deps.Entitlements = subscriptionEntitlements{}
	deps.Notifier = notifier
	deps.Clock = clock.Now
	engine := NewEngine(store, cfg, deps, logger)
	return &testEnv{engine: engine, store: store, clock: clock, notifier: notifier}
}

func (e *testEnv) profile(t *testing.T, ext, name, gender, interest, city string) *repo.Profile {
	t.Helper()
	ctx := context.Background()
	p, created, err := e.engine.Register(ctx, ext, name, "")
	require.NoError(t, err)
	require.True(t, created)

	edit := ProfileEdit{}
	if gender != "" {
		edit.Gender = &gender
	}
	if interest != "" {
		edit.Interest = &interest
	}
	if city != "" {
		edit.City = &city
	}
	p, err = e.engine.UpdateProfile(ctx, p.ID, edit)
	require.NoError(t, err)
	return p
}

func (e *testEnv) reload(t *testing.T, id int64) *repo.Profile {
	t.Helper()
	p, err := e.store.GetProfileByID(context.Background(), id)
	require.NoError(t, err)
	return p
}

func TestLikeBecomesMutualInEitherOrder(t *testing.T) {
	for _, reverse := range []bool{false, true} {
		env := newTestEnv(t, DefaultConfig(), nil)
		ctx := context.Background()
		p := env.profile(t, "p", "Pat", "male", "female", "")
		q := env.profile(t, "q", "Quinn", "female", "male", "")

		first, second := p, q
		if reverse {
			first, second = q, p
		}

		res, err := env.engine.Like(ctx, first.ID, second.ID)
		require.NoError(t, err)
		require.False(t, res.Mutual)

		res, err = env.engine.Like(ctx, second.ID, first.ID)
		require.NoError(t, err)
		require.True(t, res.Mutual)

		forward, err := env.store.FindLike(ctx, p.ID, q.ID)
		require.NoError(t, err)
		backward, err := env.store.FindLike(ctx, q.ID, p.ID)
		require.NoError(t, err)
		require.True(t, forward.Mutual)
		require.True(t, backward.Mutual)

		require.Contains(t, env.notifier.kinds("p"), EventMutualMatch)
		require.Contains(t, env.notifier.kinds("q"), EventMutualMatch)
		require.Contains(t, env.notifier.kinds(second.ExternalID), EventLikeReceived)
	}
}

func TestLikeTwiceIsDuplicate(t *testing.T) {
	env := newTestEnv(t, DefaultConfig(), nil)
	ctx := context.Background()
	p := env.profile(t, "p", "Pat", "", "", "")
	q := env.profile(t, "q", "Quinn", "", "", "")

	_, err := env.engine.Like(ctx, p.ID, q.ID)
	require.NoError(t, err)

	_, err = env.engine.Like(ctx, p.ID, q.ID)
	require.ErrorIs(t, err, ErrDuplicateAction)

	targets, err := env.store.ListInteractedTargets(ctx, p.ID)
	require.NoError(t, err)
	require.Equal(t, []int64{q.ID}, targets)

	require.Equal(t, 1, env.reload(t, p.ID).TotalLikes)
	require.Equal(t, 1, env.reload(t, q.ID).LikesReceived)
}

func TestDislikeTwiceIsSkipSignal(t *testing.T) {
	env := newTestEnv(t, DefaultConfig(), nil)
	ctx := context.Background()
	p := env.profile(t, "p", "Pat", "", "", "")
	q := env.profile(t, "q", "Quinn", "", "", "")

	res, err := env.engine.Dislike(ctx, p.ID, q.ID)
	require.NoError(t, err)
	require.False(t, res.AlreadyDisliked)
	require.NotNil(t, res.Interaction)

	res, err = env.engine.Dislike(ctx, p.ID, q.ID)
	require.NoError(t, err)
	require.True(t, res.AlreadyDisliked)

	stored := env.reload(t, p.ID)
	require.Equal(t, 1, stored.TotalDislikes)
	require.Equal(t, 1, stored.DailyDislikesUsed)
}

func TestSelfActionsRejected(t *testing.T) {
	env := newTestEnv(t, DefaultConfig(), nil)
	ctx := context.Background()
	p := env.profile(t, "p", "Pat", "", "", "")

	_, err := env.engine.Like(ctx, p.ID, p.ID)
	require.ErrorIs(t, err, ErrSelfAction)
	_, err = env.engine.Dislike(ctx, p.ID, p.ID)
	require.ErrorIs(t, err, ErrSelfAction)
}

func TestNextNeverRepeatsHistoryOrSelf(t *testing.T) {
	env := newTestEnv(t, DefaultConfig(), nil)
	ctx := context.Background()
	viewer := env.profile(t, "v", "Val", "", "", "")
	for _, ext := range []string{"a", "b", "c", "d", "e", "f"} {
		env.profile(t, ext, "Name "+ext, "", "", "")
	}

	seen := map[int64]bool{}
	for i := 0; ; i++ {
		require.Less(t, i, 10)
		candidate, err := env.engine.Next(ctx, viewer.ID)
		if errors.Is(err, ErrNoCandidate) {
			break
		}
		require.NoError(t, err)
		require.NotEqual(t, viewer.ID, candidate.ID)
		require.False(t, seen[candidate.ID], "candidate %d shown twice", candidate.ID)
		seen[candidate.ID] = true

		if i%2 == 0 {
			_, err = env.engine.Like(ctx, viewer.ID, candidate.ID)
		} else {
			_, err = env.engine.Dislike(ctx, viewer.ID, candidate.ID)
		}
		require.NoError(t, err)
	}
	require.Len(t, seen, 6)
}

func TestNextSkipsIneligibleProfiles(t *testing.T) {
	env := newTestEnv(t, DefaultConfig(), nil)
	ctx := context.Background()
	viewer := env.profile(t, "v", "Val", "", "", "")
	paused := env.profile(t, "a", "Paused", "", "", "")
	banned := env.profile(t, "b", "Banned", "", "", "")
	hidden := env.profile(t, "c", "Hidden", "", "", "")
	_, _, err := env.engine.Register(ctx, "d", "", "")
	require.NoError(t, err)

	_, err = env.engine.SetActive(ctx, paused.ID, false)
	require.NoError(t, err)
	_, err = env.engine.Ban(ctx, banned.ID, "spam")
	require.NoError(t, err)
	_, err = env.engine.SetHidden(ctx, hidden.ID, true)
	require.NoError(t, err)

	_, err = env.engine.Next(ctx, viewer.ID)
	require.ErrorIs(t, err, ErrNoCandidate)

	_, err = env.engine.Unban(ctx, banned.ID)
	require.NoError(t, err)
	candidate, err := env.engine.Next(ctx, viewer.ID)
	require.NoError(t, err)
	require.Equal(t, banned.ID, candidate.ID)
}

func TestBoostedCandidateFirst(t *testing.T) {
	env := newTestEnv(t, DefaultConfig(), nil)
	ctx := context.Background()
	viewer := env.profile(t, "v", "Val", "male", "female", "Berlin")
	plain := env.profile(t, "a", "Ann", "female", "male", "Berlin")
	boosted := env.profile(t, "b", "Bea", "female", "male", "Berlin")

	_, err := env.engine.Boost(ctx, boosted.ID)
	require.NoError(t, err)

	candidate, err := env.engine.Next(ctx, viewer.ID)
	require.NoError(t, err)
	require.Equal(t, boosted.ID, candidate.ID)

	env.clock.Advance(BoostDuration + time.Minute)
	candidate, err = env.engine.Next(ctx, viewer.ID)
	require.NoError(t, err)
	require.Equal(t, plain.ID, candidate.ID)
}

func TestNextRelaxesCityFilter(t *testing.T) {
	env := newTestEnv(t, DefaultConfig(), nil)
	ctx := context.Background()
	viewer := env.profile(t, "v", "Val", "female", "male", "Berlin")
	env.profile(t, "f", "Fay", "female", "male", "Berlin")
	elsewhere := env.profile(t, "m", "Max", "male", "female", "Munich")

	candidate, err := env.engine.Next(ctx, viewer.ID)
	require.NoError(t, err)
	require.Equal(t, elsewhere.ID, candidate.ID)
	require.Equal(t, repo.GenderMale, candidate.Gender)
}

func TestNextCityMatchIgnoresCaseAndSpace(t *testing.T) {
	env := newTestEnv(t, DefaultConfig(), nil)
	ctx := context.Background()
	viewer := env.profile(t, "v", "Val", "female", "male", "Berlin")
	env.profile(t, "m1", "Max", "male", "", "Munich")
	local := env.profile(t, "m2", "Mo", "male", "", "  berlin ")

	candidate, err := env.engine.Next(ctx, viewer.ID)
	require.NoError(t, err)
	require.Equal(t, local.ID, candidate.ID)
}

func TestNextFullRelaxation(t *testing.T) {
	env := newTestEnv(t, DefaultConfig(), nil)
	ctx := context.Background()
	viewer := env.profile(t, "v", "Val", "female", "male", "Berlin")
	other := env.profile(t, "f", "Fay", "female", "", "Paris")

	candidate, err := env.engine.Next(ctx, viewer.ID)
	require.NoError(t, err)
	require.Equal(t, other.ID, candidate.ID)
}

func TestBoostedScenarioStableOrder(t *testing.T) {
	env := newTestEnv(t, DefaultConfig(), nil)
	ctx := context.Background()
	viewer := env.profile(t, "v", "Val", "", "all", "")
	a := env.profile(t, "a", "Ann", "female", "", "")
	b := env.profile(t, "b", "Bob", "male", "", "")
	c := env.profile(t, "c", "Cid", "male", "", "")

	_, err := env.engine.Boost(ctx, c.ID)
	require.NoError(t, err)

	candidate, err := env.engine.Next(ctx, viewer.ID)
	require.NoError(t, err)
	require.Equal(t, c.ID, candidate.ID)

	_, err = env.engine.Dislike(ctx, viewer.ID, c.ID)
	require.NoError(t, err)

	candidate, err = env.engine.Next(ctx, viewer.ID)
	require.NoError(t, err)
	require.Equal(t, a.ID, candidate.ID)

	_, err = env.engine.Dislike(ctx, viewer.ID, a.ID)
	require.NoError(t, err)

	candidate, err = env.engine.Next(ctx, viewer.ID)
	require.NoError(t, err)
	require.Equal(t, b.ID, candidate.ID)
}

func TestBoostTwiceAlreadyBoosted(t *testing.T) {
	env := newTestEnv(t, DefaultConfig(), nil)
	ctx := context.Background()
	p := env.profile(t, "p", "Pat", "", "", "")

	first, err := env.engine.Boost(ctx, p.ID)
	require.NoError(t, err)
	require.Equal(t, env.clock.Now().Add(BoostDuration), first.ExpiresAt)

	again, err := env.engine.Boost(ctx, p.ID)
	require.ErrorIs(t, err, ErrAlreadyBoosted)
	require.Equal(t, first.ID, again.ID)

	env.clock.Advance(BoostDuration + time.Second)
	_, err = env.engine.Boost(ctx, p.ID)
	require.NoError(t, err)
}

func TestLikeQuotaAndDailyReset(t *testing.T) {
	cfg := Config{DailyLikesLimit: 1, DailyDislikesLimit: 1}
	env := newTestEnv(t, cfg, nil)
	ctx := context.Background()
	p := env.profile(t, "p", "Pat", "", "", "")
	q := env.profile(t, "q", "Quinn", "", "", "")
	r := env.profile(t, "r", "Rae", "", "", "")
	s := env.profile(t, "s", "Sam", "", "", "")

	_, err := env.engine.Like(ctx, p.ID, q.ID)
	require.NoError(t, err)

	_, err = env.engine.Like(ctx, p.ID, r.ID)
	var quota *QuotaExceededError
	require.ErrorAs(t, err, &quota)
	require.Equal(t, "like", quota.Action)
	require.Equal(t, 1, quota.Limit)

	env.clock.Advance(24 * time.Hour)
	_, err = env.engine.Like(ctx, p.ID, r.ID)
	require.NoError(t, err)

	stored := env.reload(t, p.ID)
	require.Equal(t, 1, stored.DailyLikesUsed)
	require.Equal(t, utcDate(env.clock.Now()), utcDate(stored.LastLimitReset))

	// Same day again: the reset already happened, so the quota holds.
	_, err = env.engine.Like(ctx, p.ID, s.ID)
	require.ErrorAs(t, err, &quota)
}

func TestDislikeQuotaIgnoresSubscription(t *testing.T) {
	cfg := Config{DailyLikesLimit: 1, DailyDislikesLimit: 1}
	env := newTestEnv(t, cfg, nil)
	ctx := context.Background()
	p := env.profile(t, "p", "Pat", "", "", "")
	q := env.profile(t, "q", "Quinn", "", "", "")
	r := env.profile(t, "r", "Rae", "", "", "")

	expires := env.clock.Now().Add(48 * time.Hour)
	require.NoError(t, env.store.UpdateSubscription(ctx, p.ID, repo.SubscriptionUpdate{Status: repo.SubscriptionActive, ExpiresAt: &expires}))

	_, err := env.engine.Dislike(ctx, p.ID, q.ID)
	require.NoError(t, err)
	_, err = env.engine.Dislike(ctx, p.ID, r.ID)
	var quota *QuotaExceededError
	require.ErrorAs(t, err, &quota)
	require.Equal(t, "dislike", quota.Action)
}

func TestSubscriptionBypassesLikeQuota(t *testing.T) {
	cfg := Config{DailyLikesLimit: 1, DailyDislikesLimit: 1}
	env := newTestEnv(t, cfg, nil)
	ctx := context.Background()
	p := env.profile(t, "p", "Pat", "", "", "")
	targets := []*repo.Profile{
		env.profile(t, "q", "Quinn", "", "", ""),
		env.profile(t, "r", "Rae", "", "", ""),
		env.profile(t, "s", "Sam", "", "", ""),
	}

	expires := env.clock.Now().Add(30 * 24 * time.Hour)
	require.NoError(t, env.store.UpdateSubscription(ctx, p.ID, repo.SubscriptionUpdate{Status: repo.SubscriptionActive, ExpiresAt: &expires}))

	for _, target := range targets {
		_, err := env.engine.Like(ctx, p.ID, target.ID)
		require.NoError(t, err)
	}
	require.Equal(t, 3, env.reload(t, p.ID).DailyLikesUsed)

	stats, err := env.engine.Stats(ctx, p.ID)
	require.NoError(t, err)
	require.True(t, stats.Unlimited)
}

func TestReferralGrantsBonusLikes(t *testing.T) {
	env := newTestEnv(t, DefaultConfig(), nil)
	ctx := context.Background()
	referrer := env.profile(t, "r", "Ref", "", "", "")

	invited, created, err := env.engine.Register(ctx, "i", "Inv", referrer.ReferralCode)
	require.NoError(t, err)
	require.True(t, created)
	require.NotNil(t, invited.ReferredBy)
	require.Equal(t, referrer.ID, *invited.ReferredBy)

	stored := env.reload(t, referrer.ID)
	require.Equal(t, DefaultConfig().ReferralBonusLikes, stored.ReferralBonusLikes)

	stats, err := env.engine.Stats(ctx, referrer.ID)
	require.NoError(t, err)
	require.Equal(t, DefaultConfig().DailyLikesLimit+DefaultConfig().ReferralBonusLikes, stats.LikesLimit)

	again, created, err := env.engine.Register(ctx, "i", "Inv", referrer.ReferralCode)
	require.NoError(t, err)
	require.False(t, created)
	require.Equal(t, invited.ID, again.ID)
	require.Equal(t, DefaultConfig().ReferralBonusLikes, env.reload(t, referrer.ID).ReferralBonusLikes)
}

func TestSuperLikeSpendsCredit(t *testing.T) {
	env := newTestEnv(t, DefaultConfig(), nil)
	ctx := context.Background()
	p := env.profile(t, "p", "Pat", "", "", "")
	q := env.profile(t, "q", "Quinn", "", "", "")

	_, err := env.engine.SuperLike(ctx, p.ID, q.ID, Payload{})
	require.ErrorIs(t, err, ErrInvalidInput)

	_, err = env.engine.SuperLike(ctx, p.ID, q.ID, Payload{Message: "hi"})
	require.ErrorIs(t, err, ErrNoSuperLikeCredits)

	require.NoError(t, env.store.AddSuperLikeCredits(ctx, p.ID, 1))
	res, err := env.engine.SuperLike(ctx, p.ID, q.ID, Payload{Message: "hi"})
	require.NoError(t, err)
	require.Equal(t, repo.KindSuperLike, res.Interaction.Kind)
	require.Equal(t, 0, env.reload(t, p.ID).SuperLikeCredits)
	require.Equal(t, []EventKind{EventSuperLike}, env.notifier.kinds("q"))

	require.NoError(t, env.store.AddSuperLikeCredits(ctx, p.ID, 1))
	_, err = env.engine.Like(ctx, p.ID, q.ID)
	require.ErrorIs(t, err, ErrDuplicateAction)
}

func TestNotificationFailureKeepsLike(t *testing.T) {
	env := newTestEnv(t, DefaultConfig(), nil)
	env.notifier.err = errors.New("offline")
	ctx := context.Background()
	p := env.profile(t, "p", "Pat", "", "", "")
	q := env.profile(t, "q", "Quinn", "", "", "")

	_, err := env.engine.Like(ctx, p.ID, q.ID)
	require.NoError(t, err)

	exists, err := env.store.InteractionExists(ctx, p.ID, q.ID, repo.KindLike)
	require.NoError(t, err)
	require.True(t, exists)
}

func TestReportHidesTarget(t *testing.T) {
	env := newTestEnv(t, DefaultConfig(), nil)
	ctx := context.Background()
	p := env.profile(t, "p", "Pat", "", "", "")
	q := env.profile(t, "q", "Quinn", "", "", "")

	_, err := env.engine.Report(ctx, p.ID, q.ID, "spam", "")
	require.ErrorIs(t, err, ErrInvalidInput)

	complaint, err := env.engine.Report(ctx, p.ID, q.ID, repo.ReasonSelling, "sells followers")
	require.NoError(t, err)
	require.Equal(t, q.ID, complaint.TargetID)

	count, err := env.store.CountComplaints(ctx, q.ID)
	require.NoError(t, err)
	require.Equal(t, 1, count)

	_, err = env.engine.Next(ctx, p.ID)
	require.ErrorIs(t, err, ErrNoCandidate)
}

func TestUpdateProfileValidates(t *testing.T) {
	env := newTestEnv(t, DefaultConfig(), nil)
	ctx := context.Background()
	p := env.profile(t, "p", "Pat", "", "", "")

	age := 17
	_, err := env.engine.UpdateProfile(ctx, p.ID, ProfileEdit{Age: &age})
	require.ErrorIs(t, err, ErrInvalidInput)

	gender := "other"
	_, err = env.engine.UpdateProfile(ctx, p.ID, ProfileEdit{Gender: &gender})
	require.ErrorIs(t, err, ErrInvalidInput)

	age = 30
	updated, err := env.engine.UpdateProfile(ctx, p.ID, ProfileEdit{Age: &age})
	require.NoError(t, err)
	require.Equal(t, 30, *updated.Age)

	_, err = env.engine.UpdateProfile(ctx, 9999, ProfileEdit{Age: &age})
	require.ErrorIs(t, err, ErrNotFound)
}

type busyLocker struct{}

func (busyLocker) Acquire(context.Context, string, time.Duration) (func(), bool, error) {
	return nil, false, nil
}

func TestLikeBusyWhenLockHeld(t *testing.T) {
	env := newTestEnv(t, DefaultConfig(), busyLocker{})
	ctx := context.Background()
	p := env.profile(t, "p", "Pat", "", "", "")
	q := env.profile(t, "q", "Quinn", "", "", "")

	_, err := env.engine.Like(ctx, p.ID, q.ID)
	require.ErrorIs(t, err, ErrBusy)
	require.Equal(t, "busy", Outcome(err))
}

func TestSuperLikeSkipsDailyQuota(t *testing.T) {
	env := newTestEnv(t, Config{DailyLikesLimit: 1, DailyDislikesLimit: 5}, nil)
	ctx := context.Background()
	p := env.profile(t, "p", "Pat", "", "", "")
	q := env.profile(t, "q", "Quinn", "", "", "")
	r := env.profile(t, "r", "Rae", "", "", "")

	require.NoError(t, env.store.AddSuperLikeCredits(ctx, p.ID, 1))
	_, err := env.engine.SuperLike(ctx, p.ID, q.ID, Payload{Message: "hi"})
	require.NoError(t, err)

	stored := env.reload(t, p.ID)
	require.Zero(t, stored.DailyLikesUsed)
	require.Equal(t, 1, stored.TotalLikes)
	require.Equal(t, 1, env.reload(t, q.ID).LikesReceived)

	_, err = env.engine.Like(ctx, p.ID, r.ID)
	require.NoError(t, err)
	require.Equal(t, 1, env.reload(t, p.ID).DailyLikesUsed)
}

func TestRepeatedDislikeAtQuotaIsSkip(t *testing.T) {
	env := newTestEnv(t, Config{DailyLikesLimit: 5, DailyDislikesLimit: 1}, nil)
	ctx := context.Background()
	p := env.profile(t, "p", "Pat", "", "", "")
	q := env.profile(t, "q", "Quinn", "", "", "")

	_, err := env.engine.Dislike(ctx, p.ID, q.ID)
	require.NoError(t, err)

	res, err := env.engine.Dislike(ctx, p.ID, q.ID)
	require.NoError(t, err)
	require.True(t, res.AlreadyDisliked)
	require.Equal(t, 1, env.reload(t, p.ID).DailyDislikesUsed)
}

func TestConcurrentLikesStayConsistent(t *testing.T) {
	for round := 0; round < 20; round++ {
		env := newTestEnv(t, DefaultConfig(), nil)
		ctx := context.Background()
		p := env.profile(t, "p", "Pat", "", "", "")
		q := env.profile(t, "q", "Quinn", "", "", "")

		pairs := [][2]int64{{p.ID, q.ID}, {q.ID, p.ID}, {p.ID, q.ID}, {q.ID, p.ID}}
		errs := make([]error, len(pairs))
		var wg sync.WaitGroup
		for i, pair := range pairs {
			wg.Add(1)
			go func(i int, viewer, target int64) {
				defer wg.Done()
				_, errs[i] = env.engine.Like(ctx, viewer, target)
			}(i, pair[0], pair[1])
		}
		wg.Wait()

		succeeded := 0
		for _, err := range errs {
			if err == nil {
				succeeded++
				continue
			}
			require.True(t, errors.Is(err, ErrDuplicateAction), "round %d: unexpected error %v", round, err)
		}
		require.Equal(t, 2, succeeded, "round %d", round)

		forward, err := env.store.FindLike(ctx, p.ID, q.ID)
		require.NoError(t, err)
		backward, err := env.store.FindLike(ctx, q.ID, p.ID)
		require.NoError(t, err)
		require.True(t, forward.Mutual, "round %d", round)
		require.True(t, backward.Mutual, "round %d", round)

		require.Equal(t, 1, env.reload(t, p.ID).TotalLikes)
		require.Equal(t, 1, env.reload(t, q.ID).TotalLikes)
	}
}

type memoryBoostCache struct {
	mu         sync.Mutex
	generation int64
	sets       map[int64][]BoostWindow
	beforeSet  func()
}

func (c *memoryBoostCache) BoostsGeneration(context.Context) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.generation, nil
}

func (c *memoryBoostCache) GetBoosts(_ context.Context, generation int64) ([]BoostWindow, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	w, ok := c.sets[generation]
	return w, ok, nil
}

func (c *memoryBoostCache) SetBoosts(_ context.Context, generation int64, boosts []BoostWindow, _ time.Duration) error {
	if hook := c.beforeSet; hook != nil {
		c.beforeSet = nil
		hook()
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sets == nil {
		c.sets = map[int64][]BoostWindow{}
	}
	c.sets[generation] = boosts
	return nil
}

func (c *memoryBoostCache) InvalidateBoosts(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.generation++
	return nil
}

func TestBoostGrantedDuringCacheFillIsVisible(t *testing.T) {
	cache := &memoryBoostCache{}
	env := newTestEnvWithDeps(t, DefaultConfig(), Deps{BoostCache: cache})
	ctx := context.Background()
	p := env.profile(t, "p", "Pat", "", "", "")
	q := env.profile(t, "q", "Quinn", "", "", "")

	// The grant commits after the reader queried boosts but before it
	// stored them in the cache.
	cache.beforeSet = func() {
		_, err := env.engine.Boost(ctx, q.ID)
		require.NoError(t, err)
	}
	ids, err := env.engine.Boosts().ActiveIDs(ctx, env.store, env.clock.Now())
	require.NoError(t, err)
	require.Empty(t, ids)

	ids, err = env.engine.Boosts().ActiveIDs(ctx, env.store, env.clock.Now())
	require.NoError(t, err)
	require.Contains(t, ids, q.ID)

	next, err := env.engine.Next(ctx, p.ID)
	require.NoError(t, err)
	require.Equal(t, q.ID, next.ID)
}
