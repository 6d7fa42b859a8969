// Package archiver implements the periodic archival pass of SPEC_FULL.md
// §4.9: it rolls terminal run rows older than a retention window into
// partitioned history tables within the same Postgres store. Adapted from
// the teacher's internal/archiver.Archiver, which moved data from a hot
// Redis store into a cold Postgres one on a ticker; CARROT has one store
// (Postgres is both hot and cold), so the per-pipeline Redis-scan body
// collapses into a single store.ArchiveFinishedRuns call per tick, but the
// Start/Stop/ticker scaffolding carries over unchanged.
package archiver

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/carrotsystems/carrot/internal/metrics"
	"github.com/carrotsystems/carrot/internal/store"
	"github.com/carrotsystems/carrot/pkg/carrottypes"
)

const (
	defaultInterval       = 1 * time.Hour
	defaultRetentionAfter = 30 * 24 * time.Hour
	defaultBatchLimit     = 1000
)

// Archiver periodically archives terminal runs older than a retention
// window into the store's history tables.
type Archiver struct {
	store     store.Provider
	interval  time.Duration
	retention time.Duration
	logger    *slog.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New constructs an Archiver from SPEC_FULL.md §4.9's config.
func New(st store.Provider, cfg carrottypes.ArchiverConfig, logger *slog.Logger) (*Archiver, error) {
	if logger == nil {
		logger = slog.Default()
	}
	interval := defaultInterval
	if cfg.Interval != "" {
		d, err := time.ParseDuration(cfg.Interval)
		if err != nil {
			return nil, fmt.Errorf("parse archiver interval %q: %w", cfg.Interval, err)
		}
		interval = d
	}
	retention := defaultRetentionAfter
	if cfg.RetentionAfter != "" {
		d, err := time.ParseDuration(cfg.RetentionAfter)
		if err != nil {
			return nil, fmt.Errorf("parse archiver retentionAfter %q: %w", cfg.RetentionAfter, err)
		}
		retention = d
	}
	return &Archiver{store: st, interval: interval, retention: retention, logger: logger}, nil
}

// Start begins the archiver background loop.
func (a *Archiver) Start(ctx context.Context) {
	ctx, a.cancel = context.WithCancel(ctx)
	a.wg.Add(1)
	go a.loop(ctx)
	a.logger.Info("archiver started", "interval", a.interval, "retention_after", a.retention)
}

// Stop signals the archiver to stop and waits for the loop to exit.
func (a *Archiver) Stop(_ context.Context) {
	if a.cancel != nil {
		a.cancel()
	}
	a.wg.Wait()
	a.logger.Info("archiver stopped")
}

func (a *Archiver) loop(ctx context.Context) {
	defer a.wg.Done()
	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	a.tick(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.tick(ctx)
		}
	}
}

// tick archives one batch at a time until a pass comes up short of the
// batch limit, so a backlog drains within a single tick instead of
// trickling out one batch per interval.
func (a *Archiver) tick(ctx context.Context) {
	olderThan := time.Now().Add(-a.retention)
	total := 0
	for {
		if ctx.Err() != nil {
			return
		}
		archived, err := a.store.ArchiveFinishedRuns(ctx, olderThan, defaultBatchLimit)
		if err != nil {
			a.logger.Error("archiver: archive pass failed", "error", err)
			return
		}
		total += archived
		if archived < defaultBatchLimit {
			break
		}
	}
	if total > 0 {
		metrics.RunsArchived.Add(int64(total))
		a.logger.Info("archiver: archived finished runs", "count", total, "older_than", olderThan)
	}
}
