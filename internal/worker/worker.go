package worker

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/gsarma/sentinel/internal/metrics"
)

// DefaultInterval is how often expired states are purged.
const DefaultInterval = time.Minute

// Purger deletes OAuth states that expired before a given time.
// store.Querier satisfies it.
type Purger interface {
	DeleteExpiredOAuthStates(ctx context.Context, before time.Time) (int64, error)
}

// Worker periodically purges expired OAuth states. Expired states are
// already unusable; this only keeps the table small.
type Worker struct {
	purger   Purger
	interval time.Duration
	log      *zap.Logger
	metrics  *metrics.Metrics
	now      func() time.Time
}

func New(purger Purger, interval time.Duration, log *zap.Logger, m *metrics.Metrics) *Worker {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Worker{
		purger:   purger,
		interval: interval,
		log:      log.Named("sweeper"),
		metrics:  m,
		now:      time.Now,
	}
}

// Start sweeps every interval. It blocks until ctx is cancelled.
func (w *Worker) Start(ctx context.Context) {
	w.log.Info("sweeper started", zap.Duration("interval", w.interval))
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			w.log.Info("sweeper stopped")
			return
		case <-ticker.C:
			w.sweep(ctx)
		}
	}
}

func (w *Worker) sweep(ctx context.Context) {
	n, err := w.purger.DeleteExpiredOAuthStates(ctx, w.now().UTC())
	if err != nil {
		if ctx.Err() == nil {
			w.log.Error("purge expired states", zap.Error(err))
		}
		return
	}
	w.metrics.StatesSwept(n)
	if n > 0 {
		w.log.Debug("purged expired states", zap.Int64("count", n))
	}
}
