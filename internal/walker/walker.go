// Package walker pages through one partition by following continuation
// tokens until the source signals the end.
package walker

import (
	"context"
	"fmt"
	"time"

	"fab/enumerator/internal/domain"
	"fab/enumerator/internal/metrics"
	"fab/enumerator/internal/registry"
	"fab/enumerator/internal/retry"
	"fab/enumerator/internal/throttle"

	log "github.com/sirupsen/logrus"
)

// Searcher fetches one page of search results. An empty cursor requests the
// first page.
type Searcher interface {
	Search(ctx context.Context, query domain.SearchQuery, cursor string) (*domain.SearchPage, error)
}

// YieldFunc receives every item of a walk in page order. Returning an error
// stops the walk.
type YieldFunc func(item domain.RawItem) error

type Walker struct {
	searcher Searcher
	registry registry.Registry
	pacer    *throttle.Pacer
	policy   retry.Policy
	cap      int
	now      func() time.Time
}

func New(searcher Searcher, reg registry.Registry, pacer *throttle.Pacer, policy retry.Policy, paginationCap int) *Walker {
	return &Walker{
		searcher: searcher,
		registry: reg,
		pacer:    pacer,
		policy:   policy,
		cap:      paginationCap,
		now:      time.Now,
	}
}

// Walk fetches every page of p and passes each item to yield. The partition
// is recorded as complete only once its terminal page has been consumed.
//
// A fetch that keeps failing after retries ends the walk with
// TerminationFetchFailed and a nil error: the partition stays incomplete and
// is picked up again on the next run.
func (w *Walker) Walk(ctx context.Context, p domain.Partition, yield YieldFunc) (*domain.PartitionOutcome, error) {
	started := w.now()
	outcome := &domain.PartitionOutcome{Key: p.Key()}
	logger := log.WithFields(log.Fields{"partition": outcome.Key})

	defer func() {
		metrics.PartitionsWalked.WithLabelValues(string(outcome.Termination)).Inc()
		metrics.WalkDuration.Observe(w.now().Sub(started).Seconds())
	}()

	query := p.Query()
	seen := make(map[string]struct{})
	cursor := ""

	for {
		if outcome.Pages > 0 {
			if err := w.pacer.Wait(ctx, throttle.Short); err != nil {
				outcome.Termination = domain.TerminationCancelled
				return outcome, err
			}
		}

		var page *domain.SearchPage
		err := retry.Do(ctx, w.policy, "search", func(ctx context.Context) error {
			var err error
			page, err = w.searcher.Search(ctx, query, cursor)
			return err
		})
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				outcome.Termination = domain.TerminationCancelled
				return outcome, ctxErr
			}
			outcome.Termination = domain.TerminationFetchFailed
			logger.Errorf("❌ Giving up on partition after %d pages: %v", outcome.Pages, err)
			return outcome, nil
		}

		outcome.Pages++
		metrics.PagesFetched.Inc()

		if len(page.Items) == 0 {
			outcome.Termination = domain.TerminationEmpty
			break
		}

		for _, item := range page.Items {
			if err := yield(item); err != nil {
				outcome.Termination = domain.TerminationSinkFailed
				return outcome, fmt.Errorf("failed to hand off item of %s: %w", outcome.Key, err)
			}
			outcome.Items++
			metrics.ItemsFetched.Inc()
		}

		if page.Next == "" {
			outcome.Termination = domain.TerminationExhausted
			break
		}
		if _, ok := seen[page.Next]; ok || page.Next == cursor {
			logger.Warnf("⚠️ Continuation token repeated on page %d, stopping", outcome.Pages)
			outcome.Termination = domain.TerminationRepeatedCursor
			break
		}
		seen[page.Next] = struct{}{}
		cursor = page.Next
	}

	outcome.Saturated = outcome.Items >= w.cap
	outcome.CompletedAt = w.now()

	if err := w.registry.CompletePartition(ctx, *outcome); err != nil {
		return outcome, fmt.Errorf("failed to record completed partition %s: %w", outcome.Key, err)
	}

	logger.WithFields(log.Fields{
		"pages":       outcome.Pages,
		"items":       outcome.Items,
		"termination": outcome.Termination,
	}).Infof("✅ Partition complete")
	return outcome, nil
}
