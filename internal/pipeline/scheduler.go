package pipeline

import (
	"context"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/lead-ranker/internal/model"
)

// DefaultWorkers is the scheduler's default pool size.
const DefaultWorkers = 5

// rankFunc runs the company pipeline for one claimed entry.
type rankFunc func(ctx context.Context, cl model.CompanyLeads) (*model.CompanyResult, error)

// Scheduler fans a run's companies out over a fixed worker pool. Workers claim
// companies through a shared atomic cursor, so no two workers process the
// same company and no company is skipped.
type Scheduler struct {
	workers int
}

// NewScheduler creates a Scheduler. workers <= 0 falls back to DefaultWorkers.
func NewScheduler(workers int) *Scheduler {
	if workers <= 0 {
		workers = DefaultWorkers
	}
	return &Scheduler{workers: workers}
}

// Run processes every company and returns the collected results. company_start
// and company_result events stream per company as workers progress; completion
// order across companies is first-worker-to-finish. The first company error
// cancels the remaining workers and is returned.
func (s *Scheduler) Run(ctx context.Context, companies []model.CompanyLeads, sink model.EventSink, rank rankFunc) ([]model.CompanyResult, error) {
	if len(companies) == 0 {
		return nil, nil
	}

	workers := s.workers
	if workers > len(companies) {
		workers = len(companies)
	}

	var (
		cursor  atomic.Int64
		mu      sync.Mutex
		results []model.CompanyResult
	)

	emit := func(ev model.ProgressEvent) {
		if sink == nil {
			return
		}
		mu.Lock()
		defer mu.Unlock()
		sink(ev)
	}

	g, gctx := errgroup.WithContext(ctx)
	for w := 0; w < workers; w++ {
		g.Go(func() error {
			for {
				// Cancellation is honored at the claim boundary even when no
				// I/O is pending.
				if err := gctx.Err(); err != nil {
					return err
				}

				idx := int(cursor.Add(1)) - 1
				if idx >= len(companies) {
					return nil
				}
				cl := companies[idx]

				emit(model.ProgressEvent{
					Type:           model.EventCompanyStart,
					CompanyIndex:   idx,
					TotalCompanies: len(companies),
					CompanyID:      cl.Company.ID,
					CompanyName:    cl.Company.Name,
				})

				result, err := rank(gctx, cl)
				if err != nil {
					zap.L().Error("pipeline: company ranking failed",
						zap.String("company_id", cl.Company.ID),
						zap.Error(err),
					)
					return err
				}

				emit(model.ProgressEvent{
					Type:           model.EventCompanyResult,
					CompanyIndex:   idx,
					TotalCompanies: len(companies),
					CompanyID:      cl.Company.ID,
					CompanyName:    cl.Company.Name,
					Result:         result,
				})

				mu.Lock()
				results = append(results, *result)
				mu.Unlock()
			}
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}
