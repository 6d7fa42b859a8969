// Package watchdog implements the crash-safety / stuck-run detector of
// SPEC_FULL.md §4.8: a periodic scan for non-terminal runs whose age
// exceeds a configurable threshold, each raising a notification rather
// than an automatic state transition (only the Status Manager may
// transition run state). Adapted from the teacher's
// internal/watchdog.Watchdog/CheckStuckRuns: the polling-loop scaffolding
// (Start/Stop/ticker) survives almost unchanged; the pipeline/schedule
// scan body is replaced with a single store.ListStaleRuns query since
// CARROT has one flat run table rather than the teacher's per-pipeline
// per-schedule RunLog model, and the teacher's AlertFn callback becomes an
// AlertFunc over a single StuckRun rather than the teacher's types.Alert.
package watchdog

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/carrotsystems/carrot/internal/lifecycle"
	"github.com/carrotsystems/carrot/internal/metrics"
	"github.com/carrotsystems/carrot/internal/store"
	"github.com/carrotsystems/carrot/pkg/carrottypes"
)

const (
	defaultInterval = 5 * time.Minute
	defaultStuckRunThreshold = 30 * time.Minute
)

// StuckRun records a single detection: a non-terminal run created longer
// ago than the configured threshold. Age is measured from the run's
// created_at; the time of its last status change is not tracked.
type StuckRun struct {
	RunID    string
	Status   carrottypes.RunStatus
	Age      time.Duration
}

// AlertFunc is called once per stuck run found in a scan pass.
type AlertFunc func(ctx context.Context, stuck StuckRun)

// Watchdog runs a stuck-run scan on a regular interval.
type Watchdog struct {
	store     store.Provider
	alertFn   AlertFunc
	logger    *slog.Logger
	interval  time.Duration
	threshold time.Duration

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New constructs a Watchdog from SPEC_FULL.md §4.8's config: interval and
// stuckRunThreshold are parsed here rather than by the caller, following
// the teacher's New(..., interval time.Duration) shape but accepting the
// raw config strings since carrottypes.WatchdogConfig stores them as
// duration strings (spec §6 config format).
func New(st store.Provider, cfg carrottypes.WatchdogConfig, alertFn AlertFunc, logger *slog.Logger) (*Watchdog, error) {
	if logger == nil {
		logger = slog.Default()
	}
	interval := defaultInterval
	if cfg.Interval != "" {
		d, err := time.ParseDuration(cfg.Interval)
		if err != nil {
			return nil, fmt.Errorf("parse watchdog interval %q: %w", cfg.Interval, err)
		}
		interval = d
	}
	threshold := defaultStuckRunThreshold
	if cfg.StuckRunThreshold != "" {
		d, err := time.ParseDuration(cfg.StuckRunThreshold)
		if err != nil {
			return nil, fmt.Errorf("parse watchdog stuck run threshold %q: %w", cfg.StuckRunThreshold, err)
		}
		threshold = d
	}
	return &Watchdog{
		store:     st,
		alertFn:   alertFn,
		logger:    logger,
		interval:  interval,
		threshold: threshold,
	}, nil
}

// Start begins the watchdog polling loop.
func (w *Watchdog) Start(ctx context.Context) {
	ctx, w.cancel = context.WithCancel(ctx)
	w.wg.Add(1)
	go w.loop(ctx)
	w.logger.Info("watchdog started", "interval", w.interval, "stuck_run_threshold", w.threshold)
}

// Stop signals the watchdog to stop and waits for the loop to exit.
func (w *Watchdog) Stop(_ context.Context) {
	if w.cancel != nil {
		w.cancel()
	}
	w.wg.Wait()
	w.logger.Info("watchdog stopped")
}

func (w *Watchdog) loop(ctx context.Context) {
	defer w.wg.Done()
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.scan(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.scan(ctx)
		}
	}
}

func (w *Watchdog) scan(ctx context.Context) {
	stuck, err := w.Check(ctx, time.Now())
	if err != nil {
		w.logger.Error("watchdog scan failed", "error", err)
		return
	}
	metrics.RunsStuck.Add(int64(len(stuck)))
	for _, s := range stuck {
		w.logger.Warn("stuck run detected", "run_id", s.RunID, "status", s.Status, "age", s.Age)
		if w.alertFn != nil {
			w.alertFn(ctx, s)
		}
	}
}

// Check scans for non-terminal runs older than the configured threshold as
// of now, a pure function independent of the polling loop so it can be
// exercised directly in tests (grounded on the teacher's
// CheckStuckRuns(ctx, opts) shape).
func (w *Watchdog) Check(ctx context.Context, now time.Time) ([]StuckRun, error) {
	cutoff := now.Add(-w.threshold)
	runs, err := w.store.ListStaleRuns(ctx, cutoff, lifecycle.NonTerminalRunStatuses())
	if err != nil {
		return nil, fmt.Errorf("list stale runs: %w", err)
	}

	stuck := make([]StuckRun, 0, len(runs))
	for _, r := range runs {
		stuck = append(stuck, StuckRun{
			RunID:  r.RunID,
			Status: r.Status,
			Age:    now.Sub(r.CreatedAt),
		})
	}
	return stuck, nil
}
