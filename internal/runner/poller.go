// internal/runner/poller.go
package runner

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/unclebandit/prospectpilot-backend/internal/metrics"
	"github.com/unclebandit/prospectpilot-backend/internal/repository"
)

// Poller claims due queue entries on an interval and hands them to the
// trigger in batches. It is the runner-mode counterpart of the direct
// dispatch poller.
type Poller struct {
	Queue      repository.QueueRepositoryInterface
	Trigger    *Trigger
	Log        *zap.Logger
	Interval   time.Duration
	BatchSize  int
	StaleAfter time.Duration
}

func (p *Poller) Run(ctx context.Context) {
	ticker := time.NewTicker(p.Interval)
	defer ticker.Stop()

	p.poll(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.poll(ctx)
		}
	}
}

func (p *Poller) poll(ctx context.Context) {
	if p.StaleAfter > 0 {
		requeued, err := p.Queue.RequeueStale(ctx, time.Now().UTC().Add(-p.StaleAfter))
		if err != nil {
			p.Log.Error("failed to requeue stale claims", zap.Error(err))
		} else if requeued > 0 {
			p.Log.Warn("requeued stale claims", zap.Int("count", requeued))
		}
	}

	entries, err := p.Queue.ClaimDue(ctx, time.Now().UTC(), p.BatchSize)
	if err != nil {
		p.Log.Error("failed to claim due entries", zap.Error(err))
		return
	}
	if len(entries) == 0 {
		return
	}
	metrics.EntriesClaimed.Add(float64(len(entries)))

	executionID, err := p.Trigger.TriggerBatch(ctx, entries)
	if err != nil {
		p.Log.Error("failed to trigger batch", zap.Error(err))
		return
	}
	p.Log.Info("dispatch batch handed to runner",
		zap.String("execution_id", executionID),
		zap.Int("entries", len(entries)),
	)
}
