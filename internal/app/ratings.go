package app

import (
	"errors"
	"fmt"
	"math"

	"storerate/internal/util"
	"storerate/pkg/domain"
	"storerate/pkg/store"
)

// roundedAverage is the mean score rounded half away from zero to two
// decimals, or 0 when nothing was rated.
func roundedAverage(sum, count int) float64 {
	if count == 0 {
		return 0
	}
	return math.Round(float64(sum)/float64(count)*100) / 100
}

// AverageScore computes the current average of storeID from the ledger.
func (a *App) AverageScore(storeID string) (float64, error) {
	if _, ok, err := a.store.GetStore(storeID); err != nil {
		return 0, fmt.Errorf("fetch store: %w", err)
	} else if !ok {
		return 0, ErrStoreNotFound
	}
	sums, err := a.store.RatingSummaries([]string{storeID})
	if err != nil {
		return 0, fmt.Errorf("summarize ratings: %w", err)
	}
	s := sums[storeID]
	return roundedAverage(s.Sum, s.Count), nil
}

// MyScore returns the score accountID gave storeID, or nil.
func (a *App) MyScore(storeID, accountID string) (*int, error) {
	r, ok, err := a.store.GetRating(accountID, storeID)
	if err != nil {
		return nil, fmt.Errorf("fetch rating: %w", err)
	}
	if !ok {
		return nil, nil
	}
	score := r.Score
	return &score, nil
}

// SubmitRating records p's score for storeID, replacing any earlier score.
// The storage layer resolves concurrent submissions for the same pair.
func (a *App) SubmitRating(p domain.Principal, storeID string, score int) (domain.Rating, error) {
	if err := ValidateScore(score); err != nil {
		a.metrics.RatingSubmitted("rejected")
		return domain.Rating{}, err
	}
	if _, ok, err := a.store.GetStore(storeID); err != nil {
		return domain.Rating{}, fmt.Errorf("fetch store: %w", err)
	} else if !ok {
		a.metrics.RatingSubmitted("rejected")
		return domain.Rating{}, ErrStoreNotFound
	}
	now := a.now()
	candidate := domain.Rating{
		ID:        util.NewID(),
		AccountID: p.ID,
		StoreID:   storeID,
		Score:     score,
		CreatedAt: now,
		UpdatedAt: now,
	}
	stored, err := a.store.UpsertRating(candidate)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.Rating{}, a.missingRatingParent(p.ID)
		}
		return domain.Rating{}, fmt.Errorf("upsert rating: %w", err)
	}
	if stored.ID == candidate.ID {
		a.metrics.RatingSubmitted("created")
	} else {
		a.metrics.RatingSubmitted("updated")
	}
	return stored, nil
}

// missingRatingParent tells a store deleted mid-request apart from a token
// whose account no longer exists.
func (a *App) missingRatingParent(accountID string) error {
	if _, ok, err := a.store.GetAccountByID(accountID); err == nil && !ok {
		return ErrUnauthenticated
	}
	return ErrStoreNotFound
}
