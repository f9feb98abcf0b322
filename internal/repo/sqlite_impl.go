package repo

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// -- Profiles --

func (s *sqliteStore) GetProfileByID(ctx context.Context, id int64) (*Profile, error) {
	q := `SELECT ` + profileColumns + ` FROM profiles WHERE id = ?`
	p, err := scanProfile(s.q.QueryRowContext(ctx, q, id))
	if err != nil {
		return nil, sqliteErr("get profile by id", err)
	}
	return p, nil
}

func (s *sqliteStore) GetProfileByExternalID(ctx context.Context, externalID string) (*Profile, error) {
	q := `SELECT ` + profileColumns + ` FROM profiles WHERE external_id = ?`
	p, err := scanProfile(s.q.QueryRowContext(ctx, q, externalID))
	if err != nil {
		return nil, sqliteErr("get profile by external id", err)
	}
	return p, nil
}

func (s *sqliteStore) GetProfileByReferralCode(ctx context.Context, code string) (*Profile, error) {
	q := `SELECT ` + profileColumns + ` FROM profiles WHERE referral_code = ?`
	p, err := scanProfile(s.q.QueryRowContext(ctx, q, strings.ToUpper(code)))
	if err != nil {
		return nil, sqliteErr("get profile by referral code", err)
	}
	return p, nil
}

func (s *sqliteStore) UpsertProfile(ctx context.Context, profile NewProfile) (*Profile, bool, error) {
	const q = `
INSERT INTO profiles (external_id, name, referral_code, last_limit_reset, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT (external_id) DO NOTHING;
`
	now := ts(time.Now())
	res, err := s.q.ExecContext(ctx, q, profile.ExternalID, profile.Name, profile.ReferralCode, now, now, now)
	if err != nil {
		return nil, false, sqliteErr("upsert profile", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, false, fmt.Errorf("upsert profile: %w", err)
	}
	p, err := s.GetProfileByExternalID(ctx, profile.ExternalID)
	if err != nil {
		return nil, false, err
	}
	return p, affected == 1, nil
}

func (s *sqliteStore) UpdateProfile(ctx context.Context, id int64, update ProfileUpdate) error {
	cols, args := profileAssignments(update)
	if len(cols) == 0 {
		return nil
	}
	ph := func(int) string { return "?" }
	q := fmt.Sprintf(`UPDATE profiles SET %s, updated_at = ? WHERE id = ?`, buildSet(cols, ph))
	args = append(args, ts(time.Now()), id)
	return s.execOne(ctx, "update profile", q, args...)
}

func (s *sqliteStore) UpdateSubscription(ctx context.Context, id int64, update SubscriptionUpdate) error {
	const q = `
UPDATE profiles
SET subscription_status = ?, subscription_expires_at = ?, updated_at = ?
WHERE id = ?;
`
	return s.execOne(ctx, "update subscription", q, string(update.Status), tsPtr(update.ExpiresAt), ts(time.Now()), id)
}

func (s *sqliteStore) FindEligibleProfiles(ctx context.Context, filter CandidateFilter) ([]Profile, error) {
	var (
		where = []string{
			"is_active = 1", "is_banned = 0", "is_hidden = 0",
			"name IS NOT NULL", "trim(name) <> ''",
		}
		args []any
	)
	if len(filter.Exclude) > 0 {
		where = append(where, fmt.Sprintf("id NOT IN (%s)", placeholders(len(filter.Exclude))))
		for _, id := range filter.Exclude {
			args = append(args, id)
		}
	}
	if filter.Gender != GenderUnset {
		where = append(where, "gender = ?")
		args = append(args, string(filter.Gender))
	}
	if city := strings.TrimSpace(filter.City); city != "" {
		where = append(where, "lower(trim(city)) = ?")
		args = append(args, strings.ToLower(city))
	}

	q := `SELECT ` + profileColumns + ` FROM profiles WHERE ` + strings.Join(where, " AND ") + ` ORDER BY id ASC`
	rows, err := s.q.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("find eligible profiles: %w", err)
	}
	defer rows.Close()

	var out []Profile
	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			return nil, fmt.Errorf("scan eligible profile: %w", err)
		}
		out = append(out, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate eligible profiles: %w", err)
	}
	return out, nil
}

// LockProfiles is a no-op: the single connection already serialises transactions.
func (s *sqliteStore) LockProfiles(ctx context.Context, ids ...int64) error {
	return nil
}

// -- Counters --

func (s *sqliteStore) ResetDailyCounters(ctx context.Context, id int64, at time.Time) error {
	const q = `
UPDATE profiles
SET daily_likes_used = 0, daily_dislikes_used = 0, last_limit_reset = ?, updated_at = ?
WHERE id = ?;
`
	return s.execOne(ctx, "reset daily counters", q, ts(at), ts(time.Now()), id)
}

func (s *sqliteStore) IncrementLikeCounters(ctx context.Context, sourceID, targetID int64, countDaily bool) error {
	const q = `
UPDATE profiles SET
    daily_likes_used = daily_likes_used + CASE WHEN id = ?1 AND ?4 THEN 1 ELSE 0 END,
    total_likes = total_likes + CASE WHEN id = ?1 THEN 1 ELSE 0 END,
    likes_received = likes_received + CASE WHEN id = ?2 THEN 1 ELSE 0 END,
    updated_at = ?3
WHERE id IN (?1, ?2);
`
	res, err := s.q.ExecContext(ctx, q, sourceID, targetID, ts(time.Now()), countDaily)
	if err != nil {
		return sqliteErr("increment like counters", err)
	}
	if n, err := res.RowsAffected(); err != nil || n < 2 {
		return fmt.Errorf("increment like counters: %w", ErrNotFound)
	}
	return nil
}

func (s *sqliteStore) IncrementDislikeCounters(ctx context.Context, sourceID int64) error {
	const q = `
UPDATE profiles
SET daily_dislikes_used = daily_dislikes_used + 1, total_dislikes = total_dislikes + 1, updated_at = ?
WHERE id = ?;
`
	return s.execOne(ctx, "increment dislike counters", q, ts(time.Now()), sourceID)
}

func (s *sqliteStore) AddReferralBonus(ctx context.Context, id int64, likes int) error {
	const q = `UPDATE profiles SET referral_bonus_likes = referral_bonus_likes + ?, updated_at = ? WHERE id = ?`
	return s.execOne(ctx, "add referral bonus", q, likes, ts(time.Now()), id)
}

func (s *sqliteStore) SetReferredBy(ctx context.Context, id, referrerID int64) error {
	const q = `UPDATE profiles SET referred_by = ?, updated_at = ? WHERE id = ? AND referred_by IS NULL`
	return s.execOne(ctx, "set referred by", q, referrerID, ts(time.Now()), id)
}

func (s *sqliteStore) AddSuperLikeCredits(ctx context.Context, id int64, delta int) error {
	const q = `
UPDATE profiles
SET super_like_credits = super_like_credits + ?1, updated_at = ?2
WHERE id = ?3 AND super_like_credits + ?1 >= 0;
`
	return s.execOne(ctx, "add super like credits", q, delta, ts(time.Now()), id)
}

// -- Interactions --

func (s *sqliteStore) InteractionExists(ctx context.Context, sourceID, targetID int64, kinds ...InteractionKind) (bool, error) {
	names := kindStrings(kinds)
	q := fmt.Sprintf(`
SELECT EXISTS (
    SELECT 1 FROM interactions
    WHERE source_id = ? AND target_id = ? AND kind IN (%s)
);`, placeholders(len(names)))
	args := []any{sourceID, targetID}
	for _, n := range names {
		args = append(args, n)
	}
	var exists bool
	if err := s.q.QueryRowContext(ctx, q, args...).Scan(&exists); err != nil {
		return false, fmt.Errorf("interaction exists: %w", err)
	}
	return exists, nil
}

func (s *sqliteStore) CreateInteraction(ctx context.Context, in *Interaction) error {
	const q = `
INSERT INTO interactions (source_id, target_id, kind, category, message, media_ref, is_mutual, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?);
`
	now := time.Now().UTC()
	res, err := s.q.ExecContext(ctx, q,
		in.SourceID,
		in.TargetID,
		string(in.Kind),
		in.Kind.Category(),
		in.Message,
		in.MediaRef,
		in.Mutual,
		ts(now),
	)
	if err != nil {
		return sqliteErr("create interaction", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("create interaction: %w", err)
	}
	in.ID = id
	in.CreatedAt = now
	return nil
}

func (s *sqliteStore) FindLike(ctx context.Context, sourceID, targetID int64) (*Interaction, error) {
	q := `SELECT ` + interactionColumns + ` FROM interactions
WHERE source_id = ? AND target_id = ? AND category = 'like'`
	in, err := scanInteraction(s.q.QueryRowContext(ctx, q, sourceID, targetID))
	if err != nil {
		return nil, sqliteErr("find like", err)
	}
	return in, nil
}

func (s *sqliteStore) SetMutual(ctx context.Context, interactionID int64, mutual bool) error {
	return s.execOne(ctx, "set mutual", `UPDATE interactions SET is_mutual = ? WHERE id = ?`, mutual, interactionID)
}

func (s *sqliteStore) ListInteractedTargets(ctx context.Context, sourceID int64) ([]int64, error) {
	const q = `SELECT DISTINCT target_id FROM interactions WHERE source_id = ? ORDER BY target_id`
	return s.queryIDs(ctx, "list interacted targets", q, sourceID)
}

// -- Boosts --

func (s *sqliteStore) FindActiveBoost(ctx context.Context, profileID int64, now time.Time) (*Boost, error) {
	const q = `
SELECT id, profile_id, expires_at, created_at
FROM boosts
WHERE profile_id = ? AND expires_at > ?
ORDER BY expires_at DESC
LIMIT 1;
`
	var b Boost
	if err := s.q.QueryRowContext(ctx, q, profileID, ts(now)).Scan(&b.ID, &b.ProfileID, &b.ExpiresAt, &b.CreatedAt); err != nil {
		return nil, sqliteErr("find active boost", err)
	}
	return &b, nil
}

func (s *sqliteStore) CreateBoost(ctx context.Context, boost *Boost) error {
	const q = `INSERT INTO boosts (profile_id, expires_at, created_at) VALUES (?, ?, ?)`
	res, err := s.q.ExecContext(ctx, q, boost.ProfileID, ts(boost.ExpiresAt), ts(boost.CreatedAt))
	if err != nil {
		return sqliteErr("create boost", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("create boost: %w", err)
	}
	boost.ID = id
	return nil
}

func (s *sqliteStore) ListActiveBoosts(ctx context.Context, now time.Time) ([]Boost, error) {
	const q = `
SELECT id, profile_id, expires_at, created_at
FROM boosts
WHERE expires_at > ?
ORDER BY profile_id, expires_at DESC;
`
	rows, err := s.q.QueryContext(ctx, q, ts(now))
	if err != nil {
		return nil, fmt.Errorf("list active boosts: %w", err)
	}
	defer rows.Close()

	var boosts []Boost
	for rows.Next() {
		var b Boost
		if err := rows.Scan(&b.ID, &b.ProfileID, &b.ExpiresAt, &b.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan active boost: %w", err)
		}
		boosts = append(boosts, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate active boosts: %w", err)
	}
	return boosts, nil
}

// -- Payments --

func (s *sqliteStore) GetPaymentByProviderRef(ctx context.Context, ref string) (*Payment, error) {
	q := `SELECT ` + paymentColumns + ` FROM payments WHERE provider_ref = ?`
	p, err := scanPayment(s.q.QueryRowContext(ctx, q, ref))
	if err != nil {
		return nil, sqliteErr("get payment by provider ref", err)
	}
	return p, nil
}

func (s *sqliteStore) InsertPayment(ctx context.Context, payment Payment) (*Payment, error) {
	if payment.ID == "" {
		payment.ID = randomUUID()
	}
	payment.CreatedAt = time.Now().UTC()
	const q = `
INSERT INTO payments (id, profile_id, kind, method, amount, currency, provider_ref, status, created_at, paid_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?);
`
	_, err := s.q.ExecContext(ctx, q,
		payment.ID,
		payment.ProfileID,
		string(payment.Kind),
		payment.Method,
		payment.Amount,
		payment.Currency,
		payment.ProviderRef,
		string(payment.Status),
		ts(payment.CreatedAt),
		tsPtr(payment.PaidAt),
	)
	if err != nil {
		return nil, sqliteErr("insert payment", err)
	}
	return &payment, nil
}

func (s *sqliteStore) MarkPaymentStatus(ctx context.Context, id string, status PaymentStatus, paidAt *time.Time) error {
	const q = `UPDATE payments SET status = ?, paid_at = COALESCE(?, paid_at) WHERE id = ?`
	return s.execOne(ctx, "mark payment status", q, string(status), tsPtr(paidAt), id)
}

// -- Complaints --

func (s *sqliteStore) InsertComplaint(ctx context.Context, complaint Complaint) (*Complaint, error) {
	if complaint.ID == "" {
		complaint.ID = randomUUID()
	}
	complaint.CreatedAt = time.Now().UTC()
	const q = `
INSERT INTO complaints (id, reporter_id, target_id, reason, comment, created_at)
VALUES (?, ?, ?, ?, ?, ?);
`
	_, err := s.q.ExecContext(ctx, q,
		complaint.ID,
		complaint.ReporterID,
		complaint.TargetID,
		string(complaint.Reason),
		complaint.Comment,
		ts(complaint.CreatedAt),
	)
	if err != nil {
		return nil, sqliteErr("insert complaint", err)
	}
	return &complaint, nil
}

func (s *sqliteStore) CountComplaints(ctx context.Context, targetID int64) (int, error) {
	var n int
	if err := s.q.QueryRowContext(ctx, `SELECT COUNT(*) FROM complaints WHERE target_id = ?`, targetID).Scan(&n); err != nil {
		return 0, fmt.Errorf("count complaints: %w", err)
	}
	return n, nil
}

// -- helpers --

func (s *sqliteStore) execOne(ctx context.Context, op, q string, args ...any) error {
	res, err := s.q.ExecContext(ctx, q, args...)
	if err != nil {
		return sqliteErr(op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	}
	return nil
}

func (s *sqliteStore) queryIDs(ctx context.Context, op, q string, args ...any) ([]int64, error) {
	rows, err := s.q.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("%s: scan: %w", op, err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: iterate: %w", op, err)
	}
	return ids, nil
}
