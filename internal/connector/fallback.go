package connector

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"github.com/mixelka/maildash/internal/mailerr"
	"github.com/mixelka/maildash/pkg/models"
)

// FallbackPolicy bounds the per-message fallback that runs when a bulk
// trash fails. Delay is a fixed pause between successive single-message
// calls, not a retry backoff. Threshold caps how many single-message calls
// one batch may make; zero means no cap.
type FallbackPolicy struct {
	Delay     time.Duration
	Threshold int
}

// ErrFallbackLimit marks ids left unprocessed because the fallback cap was hit
var ErrFallbackLimit = errors.New("fallback limit exceeded, resubmit")

// trashEach trashes ids one at a time. Each id is attempted at most once; a
// failure is terminal for that id within this batch.
func trashEach(ctx context.Context, ids []string, policy FallbackPolicy, trash func(context.Context, string) error) models.DeletionResult {
	result := models.DeletionResult{SucceededIDs: []string{}, Failed: []models.FailedItem{}}

	limit := rate.Inf
	if policy.Delay > 0 {
		limit = rate.Every(policy.Delay)
	}
	pacer := rate.NewLimiter(limit, 1)

	for i, id := range ids {
		if policy.Threshold > 0 && i >= policy.Threshold {
			result.Failed = append(result.Failed, failedItem(id, ErrFallbackLimit))
			continue
		}

		if err := pacer.Wait(ctx); err != nil {
			result.Failed = append(result.Failed, failedItem(id, err))
			continue
		}

		if err := trash(ctx, id); err != nil {
			result.Failed = append(result.Failed, failedItem(id, err))
			continue
		}
		result.SucceededIDs = append(result.SucceededIDs, id)
	}

	return result
}

// failAll reports every id as failed with the same cause
func failAll(ids []string, err error) models.DeletionResult {
	result := models.DeletionResult{SucceededIDs: []string{}, Failed: make([]models.FailedItem, 0, len(ids))}
	for _, id := range ids {
		result.Failed = append(result.Failed, failedItem(id, err))
	}
	return result
}

func failedItem(id string, err error) models.FailedItem {
	kind := mailerr.Kind(err)
	if errors.Is(err, ErrFallbackLimit) {
		kind = "fallback_limit"
	}
	return models.FailedItem{ID: id, Reason: err.Error(), Kind: kind}
}

// merge appends other into r
func merge(r *models.DeletionResult, other models.DeletionResult) {
	r.SucceededIDs = append(r.SucceededIDs, other.SucceededIDs...)
	r.Failed = append(r.Failed, other.Failed...)
}

func notConnected(provider models.Provider, accountID string) error {
	return &mailerr.NetworkError{
		Provider: string(provider),
		Account:  accountID,
		Err:      fmt.Errorf("not connected"),
	}
}
