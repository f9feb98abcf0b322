package repo

import (
	"context"
	"fmt"
	"time"
)

// -- Interactions --

func (s *pgStore) InteractionExists(ctx context.Context, sourceID, targetID int64, kinds ...InteractionKind) (bool, error) {
	const q = `
SELECT EXISTS (
    SELECT 1 FROM interactions
    WHERE source_id = $1 AND target_id = $2 AND kind = ANY($3)
);
`
	var exists bool
	if err := s.q.QueryRow(ctx, q, sourceID, targetID, kindStrings(kinds)).Scan(&exists); err != nil {
		return false, fmt.Errorf("interaction exists: %w", err)
	}
	return exists, nil
}

// CreateInteraction inserts the record and fills ID and CreatedAt. A second
// record of the same category for the pair yields ErrDuplicate.
func (s *pgStore) CreateInteraction(ctx context.Context, in *Interaction) error {
	const q = `
INSERT INTO interactions (source_id, target_id, kind, category, message, media_ref, is_mutual)
VALUES ($1, $2, $3, $4, $5, $6, $7)
RETURNING id, created_at;
`
	err := s.q.QueryRow(ctx, q,
		in.SourceID,
		in.TargetID,
		string(in.Kind),
		in.Kind.Category(),
		in.Message,
		in.MediaRef,
		in.Mutual,
	).Scan(&in.ID, &in.CreatedAt)
	if err != nil {
		return pgErr("create interaction", err)
	}
	return nil
}

// FindLike returns the like or super-like sent from source to target.
func (s *pgStore) FindLike(ctx context.Context, sourceID, targetID int64) (*Interaction, error) {
	q := `SELECT ` + interactionColumns + ` FROM interactions
WHERE source_id = $1 AND target_id = $2 AND category = 'like'`
	in, err := scanInteraction(s.q.QueryRow(ctx, q, sourceID, targetID))
	if err != nil {
		return nil, pgErr("find like", err)
	}
	return in, nil
}

func (s *pgStore) SetMutual(ctx context.Context, interactionID int64, mutual bool) error {
	const q = `UPDATE interactions SET is_mutual = $2 WHERE id = $1`
	ct, err := s.q.Exec(ctx, q, interactionID, mutual)
	if err != nil {
		return pgErr("set mutual", err)
	}
	if ct.RowsAffected() == 0 {
		return fmt.Errorf("set mutual %d: %w", interactionID, ErrNotFound)
	}
	return nil
}

func (s *pgStore) ListInteractedTargets(ctx context.Context, sourceID int64) ([]int64, error) {
	const q = `SELECT DISTINCT target_id FROM interactions WHERE source_id = $1 ORDER BY target_id`
	rows, err := s.q.Query(ctx, q, sourceID)
	if err != nil {
		return nil, fmt.Errorf("list interacted targets: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan interacted target: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate interacted targets: %w", err)
	}
	return ids, nil
}

// -- Boosts --

func (s *pgStore) FindActiveBoost(ctx context.Context, profileID int64, now time.Time) (*Boost, error) {
	const q = `
SELECT id, profile_id, expires_at, created_at
FROM boosts
WHERE profile_id = $1 AND expires_at > $2
ORDER BY expires_at DESC
LIMIT 1;
`
	var b Boost
	if err := s.q.QueryRow(ctx, q, profileID, now).Scan(&b.ID, &b.ProfileID, &b.ExpiresAt, &b.CreatedAt); err != nil {
		return nil, pgErr("find active boost", err)
	}
	return &b, nil
}

func (s *pgStore) CreateBoost(ctx context.Context, boost *Boost) error {
	const q = `
INSERT INTO boosts (profile_id, expires_at, created_at)
VALUES ($1, $2, $3)
RETURNING id;
`
	if err := s.q.QueryRow(ctx, q, boost.ProfileID, boost.ExpiresAt, boost.CreatedAt).Scan(&boost.ID); err != nil {
		return pgErr("create boost", err)
	}
	return nil
}

// ListActiveBoosts returns unexpired boosts ordered by profile id.
func (s *pgStore) ListActiveBoosts(ctx context.Context, now time.Time) ([]Boost, error) {
	const q = `
SELECT id, profile_id, expires_at, created_at
FROM boosts
WHERE expires_at > $1
ORDER BY profile_id, expires_at DESC;
`
	rows, err := s.q.Query(ctx, q, now)
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
