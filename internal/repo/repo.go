package repo

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// pgQuerier is satisfied by both *pgxpool.Pool and pgx.Tx.
type pgQuerier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// pgStore implements Store on top of a pool or a transaction.
type pgStore struct {
	q pgQuerier
}

// PostgresRepository provides typed access to Postgres resources.
type PostgresRepository struct {
	*pgStore
	pool   *pgxpool.Pool
	logger *slog.Logger
	schema string
}

var _ Repository = (*PostgresRepository)(nil)

// New opens a new connection pool to the database with the desired search_path.
func New(ctx context.Context, databaseURL, schema string, logger *slog.Logger) (*PostgresRepository, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}

	if cfg.ConnConfig.RuntimeParams == nil {
		cfg.ConnConfig.RuntimeParams = map[string]string{}
	}
	if schema != "" {
		cfg.ConnConfig.RuntimeParams["search_path"] = schema
	}
	cfg.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	r := &PostgresRepository{
		pgStore: &pgStore{q: pool},
		pool:    pool,
		logger:  logger.With("component", "repo"),
		schema:  schema,
	}

	if err := r.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return r, nil
}

// Close releases the connection pool.
func (r *PostgresRepository) Close() {
	if r.pool != nil {
		r.pool.Close()
	}
}

// Ping ensures the database is reachable.
func (r *PostgresRepository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

// RunMigrations applies schema migrations on the connected database.
func (r *PostgresRepository) RunMigrations(ctx context.Context, filesystem fs.FS) error {
	return ApplyMigrations(ctx, r.pool, filesystem)
}

// InTx executes fn within a database transaction.
func (r *PostgresRepository) InTx(ctx context.Context, fn func(Store) error) error {
	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(&pgStore{q: tx})
	})
}

func pgErr(op string, err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	}
	var pe *pgconn.PgError
	if errors.As(err, &pe) && pe.Code == "23505" {
		return fmt.Errorf("%s: %w", op, ErrDuplicate)
	}
	return fmt.Errorf("%s: %w", op, err)
}

// -- Profiles --

func (s *pgStore) GetProfileByID(ctx context.Context, id int64) (*Profile, error) {
	q := `SELECT ` + profileColumns + ` FROM profiles WHERE id = $1`
	p, err := scanProfile(s.q.QueryRow(ctx, q, id))
	if err != nil {
		return nil, pgErr("get profile by id", err)
	}
	return p, nil
}

func (s *pgStore) GetProfileByExternalID(ctx context.Context, externalID string) (*Profile, error) {
	q := `SELECT ` + profileColumns + ` FROM profiles WHERE external_id = $1`
	p, err := scanProfile(s.q.QueryRow(ctx, q, externalID))
	if err != nil {
		return nil, pgErr("get profile by external id", err)
	}
	return p, nil
}

func (s *pgStore) GetProfileByReferralCode(ctx context.Context, code string) (*Profile, error) {
	q := `SELECT ` + profileColumns + ` FROM profiles WHERE referral_code = $1`
	p, err := scanProfile(s.q.QueryRow(ctx, q, strings.ToUpper(code)))
	if err != nil {
		return nil, pgErr("get profile by referral code", err)
	}
	return p, nil
}

// UpsertProfile creates the profile on first contact. The boolean reports
// whether a new row was inserted.
func (s *pgStore) UpsertProfile(ctx context.Context, profile NewProfile) (*Profile, bool, error) {
	const q = `
INSERT INTO profiles (external_id, name, referral_code)
VALUES ($1, $2, $3)
ON CONFLICT (external_id) DO NOTHING;
`
	ct, err := s.q.Exec(ctx, q, profile.ExternalID, profile.Name, profile.ReferralCode)
	if err != nil {
		return nil, false, pgErr("upsert profile", err)
	}
	p, err := s.GetProfileByExternalID(ctx, profile.ExternalID)
	if err != nil {
		return nil, false, err
	}
	return p, ct.RowsAffected() == 1, nil
}

func (s *pgStore) UpdateProfile(ctx context.Context, id int64, update ProfileUpdate) error {
	cols, args := profileAssignments(update)
	if len(cols) == 0 {
		return nil
	}
	ph := func(n int) string { return fmt.Sprintf("$%d", n) }
	q := fmt.Sprintf(`UPDATE profiles SET %s, updated_at = NOW() WHERE id = $%d`, buildSet(cols, ph), len(args)+1)
	args = append(args, id)
	ct, err := s.q.Exec(ctx, q, args...)
	if err != nil {
		return pgErr("update profile", err)
	}
	if ct.RowsAffected() == 0 {
		return fmt.Errorf("update profile %d: %w", id, ErrNotFound)
	}
	return nil
}

func (s *pgStore) UpdateSubscription(ctx context.Context, id int64, update SubscriptionUpdate) error {
	const q = `
UPDATE profiles
SET subscription_status = $2, subscription_expires_at = $3, updated_at = NOW()
WHERE id = $1;
`
	ct, err := s.q.Exec(ctx, q, id, string(update.Status), update.ExpiresAt)
	if err != nil {
		return pgErr("update subscription", err)
	}
	if ct.RowsAffected() == 0 {
		return fmt.Errorf("update subscription %d: %w", id, ErrNotFound)
	}
	return nil
}

// FindEligibleProfiles returns eligible profiles matching filter ordered by id.
func (s *pgStore) FindEligibleProfiles(ctx context.Context, filter CandidateFilter) ([]Profile, error) {
	var (
		where = []string{
			"is_active", "NOT is_banned", "NOT is_hidden",
			"name IS NOT NULL", "btrim(name) <> ''",
		}
		args []any
	)
	if len(filter.Exclude) > 0 {
		args = append(args, filter.Exclude)
		where = append(where, fmt.Sprintf("NOT (id = ANY($%d))", len(args)))
	}
	if filter.Gender != GenderUnset {
		args = append(args, string(filter.Gender))
		where = append(where, fmt.Sprintf("gender = $%d", len(args)))
	}
	if city := strings.TrimSpace(filter.City); city != "" {
		args = append(args, strings.ToLower(city))
		where = append(where, fmt.Sprintf("lower(btrim(city)) = $%d", len(args)))
	}

	q := `SELECT ` + profileColumns + ` FROM profiles WHERE ` + strings.Join(where, " AND ") + ` ORDER BY id ASC`
	rows, err := s.q.Query(ctx, q, args...)
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

// LockProfiles takes row locks in ascending id order. Outside a transaction
// the locks are released immediately.
func (s *pgStore) LockProfiles(ctx context.Context, ids ...int64) error {
	if len(ids) == 0 {
		return nil
	}
	sorted := append([]int64(nil), ids...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	const q = `SELECT id FROM profiles WHERE id = ANY($1) ORDER BY id FOR UPDATE`
	rows, err := s.q.Query(ctx, q, sorted)
	if err != nil {
		return fmt.Errorf("lock profiles: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("lock profiles: %w", err)
	}
	return nil
}

// -- Counters --

func (s *pgStore) ResetDailyCounters(ctx context.Context, id int64, at time.Time) error {
	const q = `
UPDATE profiles
SET daily_likes_used = 0, daily_dislikes_used = 0, last_limit_reset = $2, updated_at = NOW()
WHERE id = $1;
`
	ct, err := s.q.Exec(ctx, q, id, at)
	if err != nil {
		return pgErr("reset daily counters", err)
	}
	if ct.RowsAffected() == 0 {
		return fmt.Errorf("reset daily counters %d: %w", id, ErrNotFound)
	}
	return nil
}

func (s *pgStore) IncrementLikeCounters(ctx context.Context, sourceID, targetID int64, countDaily bool) error {
	const q = `
UPDATE profiles SET
    daily_likes_used = daily_likes_used + CASE WHEN id = $1 AND $3::boolean THEN 1 ELSE 0 END,
    total_likes = total_likes + CASE WHEN id = $1 THEN 1 ELSE 0 END,
    likes_received = likes_received + CASE WHEN id = $2 THEN 1 ELSE 0 END,
    updated_at = NOW()
WHERE id IN ($1, $2);
`
	ct, err := s.q.Exec(ctx, q, sourceID, targetID, countDaily)
	if err != nil {
		return pgErr("increment like counters", err)
	}
	if ct.RowsAffected() < 2 {
		return fmt.Errorf("increment like counters: %w", ErrNotFound)
	}
	return nil
}

func (s *pgStore) IncrementDislikeCounters(ctx context.Context, sourceID int64) error {
	const q = `
UPDATE profiles
SET daily_dislikes_used = daily_dislikes_used + 1, total_dislikes = total_dislikes + 1, updated_at = NOW()
WHERE id = $1;
`
	ct, err := s.q.Exec(ctx, q, sourceID)
	if err != nil {
		return pgErr("increment dislike counters", err)
	}
	if ct.RowsAffected() == 0 {
		return fmt.Errorf("increment dislike counters %d: %w", sourceID, ErrNotFound)
	}
	return nil
}

func (s *pgStore) AddReferralBonus(ctx context.Context, id int64, likes int) error {
	const q = `UPDATE profiles SET referral_bonus_likes = referral_bonus_likes + $2, updated_at = NOW() WHERE id = $1`
	ct, err := s.q.Exec(ctx, q, id, likes)
	if err != nil {
		return pgErr("add referral bonus", err)
	}
	if ct.RowsAffected() == 0 {
		return fmt.Errorf("add referral bonus %d: %w", id, ErrNotFound)
	}
	return nil
}

func (s *pgStore) SetReferredBy(ctx context.Context, id, referrerID int64) error {
	const q = `UPDATE profiles SET referred_by = $2, updated_at = NOW() WHERE id = $1 AND referred_by IS NULL`
	ct, err := s.q.Exec(ctx, q, id, referrerID)
	if err != nil {
		return pgErr("set referred by", err)
	}
	if ct.RowsAffected() == 0 {
		return fmt.Errorf("set referred by %d: %w", id, ErrNotFound)
	}
	return nil
}

func (s *pgStore) AddSuperLikeCredits(ctx context.Context, id int64, delta int) error {
	const q = `
UPDATE profiles
SET super_like_credits = super_like_credits + $2, updated_at = NOW()
WHERE id = $1 AND super_like_credits + $2 >= 0;
`
	ct, err := s.q.Exec(ctx, q, id, delta)
	if err != nil {
		return pgErr("add super like credits", err)
	}
	if ct.RowsAffected() == 0 {
		return fmt.Errorf("add super like credits %d: %w", id, ErrNotFound)
	}
	return nil
}
