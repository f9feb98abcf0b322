package matching

import (
	"errors"
	"fmt"

	"matchbot/internal/repo"
)

var (
	ErrNotFound           = errors.New("profile not found")
	ErrDuplicateAction    = errors.New("action already recorded")
	ErrAlreadyBoosted     = errors.New("profile already boosted")
	ErrNoCandidate        = errors.New("no candidate available")
	ErrSelfAction         = errors.New("cannot act on own profile")
	ErrNoSuperLikeCredits = errors.New("no super-like credits")
	ErrInvalidInput       = errors.New("invalid input")
	ErrBusy               = errors.New("another action is in progress")
)

// QuotaExceededError reports a daily limit that blocks an action.
type QuotaExceededError struct {
	Action string
	Limit  int
}

func (e *QuotaExceededError) Error() string {
	return fmt.Sprintf("daily %s limit of %d reached", e.Action, e.Limit)
}

// storeErr maps repository sentinels onto engine errors while keeping the
// original message for logs.
func storeErr(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, repo.ErrNotFound):
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	case errors.Is(err, repo.ErrDuplicate):
		return fmt.Errorf("%s: %w", op, ErrDuplicateAction)
	default:
		return fmt.Errorf("%s: %w", op, err)
	}
}
