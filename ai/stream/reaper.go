package stream

import (
	"context"
	"log/slog"
	"time"
)

// DefaultReapInterval is how often the reaper sweeps.
const DefaultReapInterval = 30 * time.Second

// MessagePruner is the retention surface for persisted message traces.
type MessagePruner interface {
	PruneMessageTraces(ctx context.Context, beforeTs int64) (int, error)
}

// Reaper periodically fails stale streams, deletes old terminal ones,
// and wipes message traces past the retention window.
type Reaper struct {
	tracker       *Tracker
	pruner        MessagePruner
	interval      time.Duration
	retentionDays int
	stopCh        chan struct{}
	doneCh        chan struct{}
}

// NewReaper creates a reaper. retentionDays <= 0 disables the trace
// sweep; interval <= 0 falls back to the default.
func NewReaper(tracker *Tracker, pruner MessagePruner, interval time.Duration, retentionDays int) *Reaper {
	if interval <= 0 {
		interval = DefaultReapInterval
	}
	return &Reaper{
		tracker:       tracker,
		pruner:        pruner,
		interval:      interval,
		retentionDays: retentionDays,
		stopCh:        make(chan struct{}),
		doneCh:        make(chan struct{}),
	}
}

// Start launches the sweep goroutine.
func (r *Reaper) Start() {
	go func() {
		defer close(r.doneCh)
		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()

		for {
			select {
			case <-r.stopCh:
				return
			case <-ticker.C:
				r.sweep(context.Background())
			}
		}
	}()
}

// Stop shuts the reaper down and waits for the current sweep to end.
func (r *Reaper) Stop() {
	close(r.stopCh)
	<-r.doneCh
}

func (r *Reaper) sweep(ctx context.Context) {
	failed, err := r.tracker.CleanupStaleStreams(ctx)
	if err != nil {
		slog.Error("stale stream cleanup failed", "error", err)
	} else if failed > 0 {
		slog.Info("failed stale streams", "count", failed)
	}

	deleted, err := r.tracker.DeleteOldStreams(ctx)
	if err != nil {
		slog.Error("old stream deletion failed", "error", err)
	} else if deleted > 0 {
		slog.Info("deleted old terminal streams", "count", deleted)
	}

	if r.pruner == nil || r.retentionDays <= 0 {
		return
	}
	cutoff := time.Now().AddDate(0, 0, -r.retentionDays).UnixMilli()
	pruned, err := r.pruner.PruneMessageTraces(ctx, cutoff)
	if err != nil {
		slog.Error("trace retention sweep failed", "error", err)
	} else if pruned > 0 {
		slog.Info("pruned message traces", "count", pruned, "retention_days", r.retentionDays)
	}
}
