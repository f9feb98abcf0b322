package repo

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"matchbot/migrations"

	"github.com/stretchr/testify/require"
)

func newTestSQLite(t *testing.T) *SQLiteRepository {
	t.Helper()
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	r, err := NewSQLite(ctx, filepath.Join(t.TempDir(), "test.db"), logger)
	require.NoError(t, err)
	t.Cleanup(r.Close)
	require.NoError(t, r.RunMigrations(ctx, migrations.SQLite()))
	return r
}

func seedProfile(t *testing.T, r *SQLiteRepository, ext, name, code string) *Profile {
	t.Helper()
	p, created, err := r.UpsertProfile(context.Background(), NewProfile{ExternalID: ext, Name: &name, ReferralCode: code})
	require.NoError(t, err)
	require.True(t, created)
	return p
}

func TestUpsertProfileCreatesOnce(t *testing.T) {
	r := newTestSQLite(t)
	ctx := context.Background()

	first := seedProfile(t, r, "6281", "Ana", "AAAA1111")
	require.True(t, first.Active)
	require.Equal(t, SubscriptionNone, first.SubscriptionStatus)

	again, created, err := r.UpsertProfile(ctx, NewProfile{ExternalID: "6281", ReferralCode: "BBBB2222"})
	require.NoError(t, err)
	require.False(t, created)
	require.Equal(t, first.ID, again.ID)
	require.Equal(t, "AAAA1111", again.ReferralCode)

	_, _, err = r.UpsertProfile(ctx, NewProfile{ExternalID: "6282", ReferralCode: "AAAA1111"})
	require.ErrorIs(t, err, ErrDuplicate)
}

func TestGetProfileNotFound(t *testing.T) {
	r := newTestSQLite(t)
	_, err := r.GetProfileByID(context.Background(), 42)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestCreateInteractionUniquePerCategory(t *testing.T) {
	r := newTestSQLite(t)
	ctx := context.Background()
	a := seedProfile(t, r, "a", "A", "CODEA001")
	b := seedProfile(t, r, "b", "B", "CODEB001")

	like := &Interaction{SourceID: a.ID, TargetID: b.ID, Kind: KindLike}
	require.NoError(t, r.CreateInteraction(ctx, like))
	require.NotZero(t, like.ID)

	err := r.CreateInteraction(ctx, &Interaction{SourceID: a.ID, TargetID: b.ID, Kind: KindSuperLike})
	require.ErrorIs(t, err, ErrDuplicate)

	require.NoError(t, r.CreateInteraction(ctx, &Interaction{SourceID: a.ID, TargetID: b.ID, Kind: KindDislike}))

	exists, err := r.InteractionExists(ctx, a.ID, b.ID, KindLike, KindSuperLike)
	require.NoError(t, err)
	require.True(t, exists)

	exists, err = r.InteractionExists(ctx, b.ID, a.ID)
	require.NoError(t, err)
	require.False(t, exists)

	found, err := r.FindLike(ctx, a.ID, b.ID)
	require.NoError(t, err)
	require.Equal(t, like.ID, found.ID)
	require.NoError(t, r.SetMutual(ctx, found.ID, true))

	found, err = r.FindLike(ctx, a.ID, b.ID)
	require.NoError(t, err)
	require.True(t, found.Mutual)

	targets, err := r.ListInteractedTargets(ctx, a.ID)
	require.NoError(t, err)
	require.Equal(t, []int64{b.ID}, targets)
}

func TestFindEligibleProfilesFilters(t *testing.T) {
	r := newTestSQLite(t)
	ctx := context.Background()

	male, female := GenderMale, GenderFemale
	berlin, paris := "Berlin", "Paris"
	yes := true

	a := seedProfile(t, r, "a", "A", "CODEA001")
	b := seedProfile(t, r, "b", "B", "CODEB001")
	c := seedProfile(t, r, "c", "C", "CODEC001")
	d := seedProfile(t, r, "d", "D", "CODED001")
	require.NoError(t, r.UpdateProfile(ctx, a.ID, ProfileUpdate{Gender: &male, City: &berlin}))
	require.NoError(t, r.UpdateProfile(ctx, b.ID, ProfileUpdate{Gender: &male, City: &paris}))
	require.NoError(t, r.UpdateProfile(ctx, c.ID, ProfileUpdate{Gender: &female, City: &berlin}))
	require.NoError(t, r.UpdateProfile(ctx, d.ID, ProfileUpdate{Gender: &male, Banned: &yes}))

	_, _, err := r.UpsertProfile(ctx, NewProfile{ExternalID: "noname", ReferralCode: "CODEE001"})
	require.NoError(t, err)

	all, err := r.FindEligibleProfiles(ctx, CandidateFilter{})
	require.NoError(t, err)
	require.Equal(t, []int64{a.ID, b.ID, c.ID}, profileIDs(all))

	males, err := r.FindEligibleProfiles(ctx, CandidateFilter{Gender: GenderMale, Exclude: []int64{a.ID}})
	require.NoError(t, err)
	require.Equal(t, []int64{b.ID}, profileIDs(males))

	inBerlin, err := r.FindEligibleProfiles(ctx, CandidateFilter{City: "  berlin "})
	require.NoError(t, err)
	require.Equal(t, []int64{a.ID, c.ID}, profileIDs(inBerlin))
}

func TestCountersAndReset(t *testing.T) {
	r := newTestSQLite(t)
	ctx := context.Background()
	a := seedProfile(t, r, "a", "A", "CODEA001")
	b := seedProfile(t, r, "b", "B", "CODEB001")

	require.NoError(t, r.IncrementLikeCounters(ctx, a.ID, b.ID, true))
	require.NoError(t, r.IncrementDislikeCounters(ctx, a.ID))

	got, err := r.GetProfileByID(ctx, a.ID)
	require.NoError(t, err)
	require.Equal(t, 1, got.DailyLikesUsed)
	require.Equal(t, 1, got.TotalLikes)
	require.Equal(t, 1, got.DailyDislikesUsed)
	require.Equal(t, 1, got.TotalDislikes)

	target, err := r.GetProfileByID(ctx, b.ID)
	require.NoError(t, err)
	require.Equal(t, 1, target.LikesReceived)
	require.Zero(t, target.DailyLikesUsed)

	at := time.Date(2030, 1, 2, 3, 4, 5, 0, time.UTC)
	require.NoError(t, r.ResetDailyCounters(ctx, a.ID, at))
	got, err = r.GetProfileByID(ctx, a.ID)
	require.NoError(t, err)
	require.Zero(t, got.DailyLikesUsed)
	require.Equal(t, 1, got.TotalLikes)
	require.True(t, got.LastLimitReset.Equal(at))

	require.ErrorIs(t, r.AddSuperLikeCredits(ctx, a.ID, -1), ErrNotFound)
	require.NoError(t, r.AddSuperLikeCredits(ctx, a.ID, 2))
}

func TestActiveBoostExpiry(t *testing.T) {
	r := newTestSQLite(t)
	ctx := context.Background()
	a := seedProfile(t, r, "a", "A", "CODEA001")

	now := time.Now().UTC()
	require.NoError(t, r.CreateBoost(ctx, &Boost{ProfileID: a.ID, CreatedAt: now, ExpiresAt: now.Add(time.Hour)}))

	b, err := r.FindActiveBoost(ctx, a.ID, now)
	require.NoError(t, err)
	require.Equal(t, a.ID, b.ProfileID)

	active, err := r.ListActiveBoosts(ctx, now)
	require.NoError(t, err)
	require.Len(t, active, 1)
	require.Equal(t, a.ID, active[0].ProfileID)

	_, err = r.FindActiveBoost(ctx, a.ID, now.Add(2*time.Hour))
	require.ErrorIs(t, err, ErrNotFound)

	active, err = r.ListActiveBoosts(ctx, now.Add(2*time.Hour))
	require.NoError(t, err)
	require.Empty(t, active)
}

func TestInTxRollsBackOnError(t *testing.T) {
	r := newTestSQLite(t)
	ctx := context.Background()
	a := seedProfile(t, r, "a", "A", "CODEA001")
	b := seedProfile(t, r, "b", "B", "CODEB001")

	boom := errors.New("boom")
	err := r.InTx(ctx, func(s Store) error {
		if err := s.CreateInteraction(ctx, &Interaction{SourceID: a.ID, TargetID: b.ID, Kind: KindLike}); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	exists, err := r.InteractionExists(ctx, a.ID, b.ID)
	require.NoError(t, err)
	require.False(t, exists)
}

func TestPaymentsByProviderRef(t *testing.T) {
	r := newTestSQLite(t)
	ctx := context.Background()
	a := seedProfile(t, r, "a", "A", "CODEA001")

	p, err := r.InsertPayment(ctx, Payment{ProfileID: a.ID, Kind: PaymentBoost, Method: "card", Amount: 19900, Currency: "RUB", ProviderRef: "inv-1", Status: PaymentPending})
	require.NoError(t, err)
	require.NotEmpty(t, p.ID)

	_, err = r.InsertPayment(ctx, Payment{ProfileID: a.ID, Kind: PaymentBoost, Method: "card", ProviderRef: "inv-1", Status: PaymentPending})
	require.ErrorIs(t, err, ErrDuplicate)

	paidAt := time.Now().UTC()
	require.NoError(t, r.MarkPaymentStatus(ctx, p.ID, PaymentPaid, &paidAt))

	got, err := r.GetPaymentByProviderRef(ctx, "inv-1")
	require.NoError(t, err)
	require.Equal(t, PaymentPaid, got.Status)
	require.NotNil(t, got.PaidAt)
}

func profileIDs(ps []Profile) []int64 {
	ids := make([]int64, len(ps))
	for i, p := range ps {
		ids[i] = p.ID
	}
	return ids
}

func TestLikeCountersWithoutDaily(t *testing.T) {
	r := newTestSQLite(t)
	ctx := context.Background()
	a := seedProfile(t, r, "a", "A", "CODEA001")
	b := seedProfile(t, r, "b", "B", "CODEB001")

	require.NoError(t, r.IncrementLikeCounters(ctx, a.ID, b.ID, false))

	got, err := r.GetProfileByID(ctx, a.ID)
	require.NoError(t, err)
	require.Zero(t, got.DailyLikesUsed)
	require.Equal(t, 1, got.TotalLikes)

	target, err := r.GetProfileByID(ctx, b.ID)
	require.NoError(t, err)
	require.Equal(t, 1, target.LikesReceived)
}
