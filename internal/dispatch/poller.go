// internal/dispatch/poller.go
package dispatch

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/unclebandit/prospectpilot-backend/internal/metrics"
	"github.com/unclebandit/prospectpilot-backend/internal/model"
	"github.com/unclebandit/prospectpilot-backend/internal/repository"
)

// Poller periodically claims due queue entries and hands them to a bounded
// worker pool. Parallelism is capped and every send passes the shared rate
// limiter, so the external provider's limits hold no matter how much is due.
type Poller struct {
	Queue      repository.QueueRepositoryInterface
	Executor   *Executor
	Log        *zap.Logger
	Limiter    *rate.Limiter
	Interval   time.Duration
	BatchSize  int
	Workers    int
	StaleAfter time.Duration
}

// Run blocks until ctx is cancelled. The first poll happens immediately.
func (p *Poller) Run(ctx context.Context) {
	jobs := make(chan model.QueueEntry, p.BatchSize)

	var wg sync.WaitGroup
	for i := 0; i < p.Workers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			p.work(ctx, id, jobs)
		}(i)
	}

	ticker := time.NewTicker(p.Interval)
	defer ticker.Stop()

	p.poll(ctx, jobs)
	for {
		select {
		case <-ctx.Done():
			close(jobs)
			wg.Wait()
			p.Log.Info("poller stopped")
			return
		case <-ticker.C:
			p.poll(ctx, jobs)
		}
	}
}

func (p *Poller) poll(ctx context.Context, jobs chan<- model.QueueEntry) {
	if p.StaleAfter > 0 {
		if n, err := p.Queue.RequeueStale(ctx, time.Now().Add(-p.StaleAfter)); err != nil {
			p.Log.Error("stale claim requeue failed", zap.Error(err))
		} else if n > 0 {
			p.Log.Warn("requeued stale claimed entries", zap.Int("count", n))
		}
	}

	entries, err := p.Queue.ClaimDue(ctx, time.Now(), p.BatchSize)
	if err != nil {
		p.Log.Error("claim failed", zap.Error(err))
		return
	}
	if len(entries) == 0 {
		return
	}

	metrics.EntriesClaimed.Add(float64(len(entries)))
	p.Log.Info("claimed due entries", zap.Int("count", len(entries)))

	for _, entry := range entries {
		select {
		case <-ctx.Done():
			return
		case jobs <- entry:
		}
	}
}

func (p *Poller) work(ctx context.Context, id int, jobs <-chan model.QueueEntry) {
	for {
		select {
		case <-ctx.Done():
			return
		case entry, ok := <-jobs:
			if !ok {
				return
			}

			if err := p.Limiter.Wait(ctx); err != nil {
				return
			}

			result, err := p.Executor.ExecuteOne(ctx, &entry)
			if err != nil {
				p.Log.Error("dispatch error",
					zap.Int("worker_id", id),
					zap.String("entry_id", entry.ID),
					zap.Error(err),
				)
				continue
			}
			p.Log.Debug("entry processed",
				zap.Int("worker_id", id),
				zap.String("entry_id", entry.ID),
				zap.String("outcome", string(result.Outcome)),
			)
		}
	}
}
