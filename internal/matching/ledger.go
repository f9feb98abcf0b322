package matching

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"matchbot/internal/repo"
)

// Payload is the optional content attached to a super-like.
type Payload struct {
	Message  string
	MediaRef string
}

// DislikeResult reports the outcome of RecordDislike. AlreadyDisliked is a
// skip signal, not a failure.
type DislikeResult struct {
	Interaction     *repo.Interaction
	AlreadyDisliked bool
}

// Ledger records swipe decisions and maintains the mutual flag. Every method
// expects to run inside the caller's transaction.
type Ledger struct{}

// RecordLike stores a like or super-like from source to target. A second
// like-kind record for the pair is rejected with ErrDuplicateAction. Only plain
// likes count towards the daily quota.
func (Ledger) RecordLike(ctx context.Context, s repo.Store, sourceID, targetID int64, kind repo.InteractionKind, payload Payload) (*repo.Interaction, error) {
	if sourceID == targetID {
		return nil, ErrSelfAction
	}
	if kind != repo.KindLike && kind != repo.KindSuperLike {
		return nil, fmt.Errorf("record like: unexpected kind %q: %w", kind, ErrInvalidInput)
	}
	if err := s.LockProfiles(ctx, sourceID, targetID); err != nil {
		return nil, fmt.Errorf("record like: %w", err)
	}

	exists, err := s.InteractionExists(ctx, sourceID, targetID, repo.KindLike, repo.KindSuperLike)
	if err != nil {
		return nil, fmt.Errorf("record like: %w", err)
	}
	if exists {
		return nil, ErrDuplicateAction
	}

	in := &repo.Interaction{SourceID: sourceID, TargetID: targetID, Kind: kind}
	if kind == repo.KindSuperLike {
		in.Message = optional(payload.Message)
		in.MediaRef = optional(payload.MediaRef)
	}
	if err := s.CreateInteraction(ctx, in); err != nil {
		return nil, storeErr("record like", err)
	}
	if err := s.IncrementLikeCounters(ctx, sourceID, targetID, kind == repo.KindLike); err != nil {
		return nil, storeErr("record like", err)
	}

	reverse, err := s.FindLike(ctx, targetID, sourceID)
	if errors.Is(err, repo.ErrNotFound) {
		return in, nil
	}
	if err != nil {
		return nil, fmt.Errorf("record like: %w", err)
	}

	// Both sides flip together or the transaction fails.
	if err := s.SetMutual(ctx, in.ID, true); err != nil {
		return nil, storeErr("mark mutual", err)
	}
	if err := s.SetMutual(ctx, reverse.ID, true); err != nil {
		return nil, storeErr("mark mutual", err)
	}
	in.Mutual = true
	return in, nil
}

// RecordDislike stores a dislike unless one already exists for the pair.
func (Ledger) RecordDislike(ctx context.Context, s repo.Store, sourceID, targetID int64) (DislikeResult, error) {
	if sourceID == targetID {
		return DislikeResult{}, ErrSelfAction
	}

	exists, err := s.InteractionExists(ctx, sourceID, targetID, repo.KindDislike)
	if err != nil {
		return DislikeResult{}, fmt.Errorf("record dislike: %w", err)
	}
	if exists {
		return DislikeResult{AlreadyDisliked: true}, nil
	}

	in := &repo.Interaction{SourceID: sourceID, TargetID: targetID, Kind: repo.KindDislike}
	if err := s.CreateInteraction(ctx, in); err != nil {
		if errors.Is(err, repo.ErrDuplicate) {
			return DislikeResult{AlreadyDisliked: true}, nil
		}
		return DislikeResult{}, storeErr("record dislike", err)
	}
	if err := s.IncrementDislikeCounters(ctx, sourceID); err != nil {
		return DislikeResult{}, storeErr("record dislike", err)
	}
	return DislikeResult{Interaction: in}, nil
}

// HasMutualLike reports whether a and b liked each other.
func (Ledger) HasMutualLike(ctx context.Context, s repo.Store, a, b int64) (bool, error) {
	forward, err := s.InteractionExists(ctx, a, b, repo.KindLike, repo.KindSuperLike)
	if err != nil || !forward {
		return false, err
	}
	return s.InteractionExists(ctx, b, a, repo.KindLike, repo.KindSuperLike)
}

func optional(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}
