package pipeline

import (
	"context"
	"sync"

	"go-pixiv-download/internal/models"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// DefaultConcurrency is the number of items in flight at once.
const DefaultConcurrency = 5

// ItemProcessor runs one item to a terminal outcome.
type ItemProcessor interface {
	ProcessItem(ctx context.Context, itemID string) models.DownloadOutcome
}

// Scheduler fans items out over a bounded pool.
type Scheduler struct {
	processor ItemProcessor
	// OnOutcome is called after each item finishes with the number of
	// finished items so far. Calls are serialized.
	OnOutcome   func(done, total int, outcome models.DownloadOutcome)
	concurrency int
}

// NewScheduler creates a scheduler. Non-positive concurrency means DefaultConcurrency.
func NewScheduler(processor ItemProcessor, concurrency int) *Scheduler {
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	return &Scheduler{processor: processor, concurrency: concurrency}
}

// RunAll processes every id and returns once all of them are terminal. One
// item's failure never stops the others.
func (s *Scheduler) RunAll(ctx context.Context, itemIDs []string) models.Summary {
	outcomes := make([]models.DownloadOutcome, len(itemIDs))

	var (
		mu   sync.Mutex
		done int
	)

	var g errgroup.Group
	g.SetLimit(s.concurrency)
	for i, id := range itemIDs {
		g.Go(func() error {
			outcome := s.processor.ProcessItem(ctx, id)
			outcomes[i] = outcome
			if !outcome.Success {
				log.WithField("item", id).Errorf("Failed to process artwork %s: %s", id, outcome.Reason)
			}

			mu.Lock()
			done++
			if s.OnOutcome != nil {
				s.OnOutcome(done, len(itemIDs), outcome)
			}
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	summary := models.Summary{TotalCount: len(itemIDs)}
	for _, o := range outcomes {
		if o.Success {
			summary.SuccessCount++
		} else {
			summary.Failures = append(summary.Failures, o)
		}
	}
	return summary
}
