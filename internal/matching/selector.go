package matching

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"matchbot/internal/repo"
)

// Selector picks the next profile a viewer should see.
type Selector struct {
	boosts *Boosts
}

// NewSelector builds a selector that orders boosted profiles first.
func NewSelector(boosts *Boosts) *Selector {
	return &Selector{boosts: boosts}
}

// Next returns the first ranked candidate or ErrNoCandidate.
func (s *Selector) Next(ctx context.Context, st repo.Store, viewer *repo.Profile, now time.Time) (*repo.Profile, error) {
	ranked, err := s.Rank(ctx, st, viewer, now)
	if err != nil {
		return nil, err
	}
	if len(ranked) == 0 {
		return nil, ErrNoCandidate
	}
	return &ranked[0], nil
}

// Rank returns every candidate from the strictest non-empty filter level,
// boosted profiles first and ascending id within each group.
func (s *Selector) Rank(ctx context.Context, st repo.Store, viewer *repo.Profile, now time.Time) ([]repo.Profile, error) {
	seen, err := st.ListInteractedTargets(ctx, viewer.ID)
	if err != nil {
		return nil, fmt.Errorf("select candidate: %w", err)
	}
	exclude := append([]int64{viewer.ID}, seen...)

	var candidates []repo.Profile
	for _, filter := range relaxations(viewer, exclude) {
		candidates, err = st.FindEligibleProfiles(ctx, filter)
		if err != nil {
			return nil, fmt.Errorf("select candidate: %w", err)
		}
		if len(candidates) > 0 {
			break
		}
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	boosted, err := s.boosts.ActiveIDs(ctx, st, now)
	if err != nil {
		return nil, fmt.Errorf("select candidate: %w", err)
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		_, bi := boosted[candidates[i].ID]
		_, bj := boosted[candidates[j].ID]
		if bi != bj {
			return bi
		}
		return candidates[i].ID < candidates[j].ID
	})
	return candidates, nil
}

// relaxations lists filter levels from strictest to none. Levels that
// collapse into an earlier one are skipped.
func relaxations(viewer *repo.Profile, exclude []int64) []repo.CandidateFilter {
	gender, hasInterest := viewer.Interest.Gender()
	city := strings.TrimSpace(viewer.City)

	levels := []repo.CandidateFilter{
		{Exclude: exclude, Gender: gender, City: city},
		{Exclude: exclude, Gender: gender},
		{Exclude: exclude, City: city},
		{Exclude: exclude},
	}
	if !hasInterest {
		levels[0].Gender, levels[1].Gender = repo.GenderUnset, repo.GenderUnset
	}

	out := make([]repo.CandidateFilter, 0, len(levels))
	for _, lvl := range levels {
		dup := false
		for _, prev := range out {
			if prev.Gender == lvl.Gender && prev.City == lvl.City {
				dup = true
				break
			}
		}
		if !dup {
			out = append(out, lvl)
		}
	}
	return out
}
