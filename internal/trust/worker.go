package trust

import (
	"context"
	"time"

	"github.com/sujalbistaa/trustdesk/internal/logging"
)

// RecomputeWorker periodically refreshes profiles with new observations.
type RecomputeWorker struct {
	Aggregator *Aggregator
	Interval   time.Duration
	Log        logging.Logger

	// OnRecompute, when set, receives the number of refreshed profiles per tick.
	OnRecompute func(n int)
}

func NewRecomputeWorker(agg *Aggregator, interval time.Duration, log logging.Logger) *RecomputeWorker {
	return &RecomputeWorker{Aggregator: agg, Interval: interval, Log: log}
}

// Run blocks until ctx is cancelled. A non-positive interval disables the worker.
func (w *RecomputeWorker) Run(ctx context.Context) {
	if w.Interval <= 0 {
		w.Log.Info("Trust recompute worker disabled")
		return
	}
	ticker := time.NewTicker(w.Interval)
	defer ticker.Stop()

	w.Log.WithField("interval", w.Interval.String()).Info("Trust recompute worker started")
	for {
		select {
		case <-ctx.Done():
			w.Log.Info("Trust recompute worker stopped")
			return
		case <-ticker.C:
			w.Tick(ctx)
		}
	}
}

// Tick runs one recompute pass.
func (w *RecomputeWorker) Tick(ctx context.Context) {
	n, err := w.Aggregator.RecomputeStale(ctx)
	if err != nil {
		w.Log.WithError(err).Warn("Trust recompute pass failed")
	}
	if n > 0 {
		w.Log.WithField("profiles", n).Info("Recomputed trust profiles")
	}
	if w.OnRecompute != nil {
		w.OnRecompute(n)
	}
}
