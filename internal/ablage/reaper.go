package ablage

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"ablage/internal/storage"
)

// Reaper deletes objects past their TTL and reconciles orphaned sidecars on
// a fixed interval. Every per-item error is logged and swallowed: a single
// bad file or transient I/O failure never halts the rest of the cycle, and
// no reaper error ever propagates out of Run.
type Reaper struct {
	engine   storage.Engine
	ttl      time.Duration
	interval time.Duration
	metrics  Metrics
}

func NewReaper(engine storage.Engine, ttl time.Duration, interval time.Duration, metrics Metrics) *Reaper {
	if metrics == nil {
		metrics = NoopMetrics{}
	}
	return &Reaper{engine: engine, ttl: ttl, interval: interval, metrics: metrics}
}

// Run executes reap cycles until ctx is cancelled, starting with an
// immediate cycle. The sleep between cycles is interruptible, so shutdown is
// observed promptly.
func (r *Reaper) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		r.RunCycle(ctx)

		select {
		case <-ctx.Done():
			slog.Info("Reaper stopped")
			return nil
		case <-ticker.C:
		}
	}
}

// RunCycle performs one expiry sweep over both class areas followed by the
// sidecar reconciliation pass.
func (r *Reaper) RunCycle(ctx context.Context) {
	cutoff := time.Now().UTC().Add(-r.ttl)

	for _, class := range []string{ClassImages, ClassFiles} {
		r.expireClass(ctx, class, cutoff)
	}
	r.reconcileSidecars(ctx)
}

// expireClass deletes every object in class older than cutoff. For archive
// blobs the sidecar is deleted first, so no deletion path ever leaves a
// sidecar pointing at a removed blob for longer than the current cycle.
// Deletes are missing-is-ok, which makes racing with concurrent reads and
// other cycles harmless.
func (r *Reaper) expireClass(ctx context.Context, class string, cutoff time.Time) {
	entries, err := r.engine.List(ctx, class)
	if err != nil {
		slog.Error("reaper: list class", "class", class, "err", err)
		return
	}

	for _, entry := range entries {
		if !entry.ModTime.Before(cutoff) {
			continue
		}

		if class == ClassFiles && !strings.HasSuffix(entry.Name, ".json") {
			sidecar := entry.Stem() + ".json"
			if err := r.engine.Remove(ctx, class, sidecar); err != nil {
				slog.Error("reaper: remove sidecar", "name", sidecar, "err", err)
			}
		}

		if err := r.engine.Remove(ctx, class, entry.Name); err != nil {
			slog.Error("reaper: remove object", "class", class, "name", entry.Name, "err", err)
			continue
		}
		r.metrics.IncReaped(class)
		slog.Debug("reaper: removed expired object", "class", class, "name", entry.Name)
	}
}

// reconcileSidecars removes sidecar documents whose blob no longer exists.
// This is a repair action for the transient windows the commit and deletion
// orderings tolerate, not a normal-path guarantee.
func (r *Reaper) reconcileSidecars(ctx context.Context) {
	entries, err := r.engine.List(ctx, ClassFiles)
	if err != nil {
		slog.Error("reaper: list archive area", "err", err)
		return
	}

	blobStems := make(map[string]bool)
	for _, entry := range entries {
		if !strings.HasSuffix(entry.Name, ".json") {
			blobStems[entry.Stem()] = true
		}
	}

	for _, entry := range entries {
		if !strings.HasSuffix(entry.Name, ".json") {
			continue
		}
		stem := strings.TrimSuffix(entry.Name, ".json")
		if blobStems[stem] {
			continue
		}
		if err := r.engine.Remove(ctx, ClassFiles, entry.Name); err != nil {
			slog.Error("reaper: remove orphaned sidecar", "name", entry.Name, "err", err)
			continue
		}
		r.metrics.IncOrphansRemoved()
		slog.Debug("reaper: removed orphaned sidecar", "name", entry.Name)
	}
}
