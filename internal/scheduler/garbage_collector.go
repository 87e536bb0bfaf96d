// Package scheduler runs periodic maintenance on the management registry.
package scheduler

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/katiya-cw/openesb-standalone/internal/logger"
	"github.com/katiya-cw/openesb-standalone/internal/management"
)

const (
	// DefaultGCThreshold is how long a record must have been unloaded before
	// it is deleted.
	DefaultGCThreshold = 24 * time.Hour
)

// GarbageCollector deletes instance records that were left unloaded by a
// clean stop and never reclaimed. Loaded records are never touched; they go
// away through their TTL when the owner dies.
type GarbageCollector struct {
	store     management.RecordStore
	logger    logger.Logger
	interval  time.Duration
	threshold time.Duration
	now       func() time.Time

	stopCh   chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

// NewGarbageCollector creates a new garbage collector
func NewGarbageCollector(
	store management.RecordStore,
	log logger.Logger,
	interval time.Duration,
	threshold time.Duration,
) *GarbageCollector {
	if threshold == 0 {
		threshold = DefaultGCThreshold
	}

	return &GarbageCollector{
		store:     store,
		logger:    log,
		interval:  interval,
		threshold: threshold,
		now:       time.Now,
		stopCh:    make(chan struct{}),
		done:      make(chan struct{}),
	}
}

func (gc *GarbageCollector) Name() string { return "registry-gc" }

// Start runs one collection, then repeats every interval. A zero interval
// only runs the first pass.
func (gc *GarbageCollector) Start(ctx context.Context) error {
	if _, err := gc.Collect(ctx); err != nil {
		gc.logger.Warn("initial garbage collection failed", logger.Error(err))
	}
	if gc.interval <= 0 {
		close(gc.done)
		return nil
	}

	ctx = context.WithoutCancel(ctx)
	ticker := time.NewTicker(gc.interval)
	go func() {
		defer close(gc.done)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if _, err := gc.Collect(ctx); err != nil {
					gc.logger.Error("garbage collection failed", logger.Error(err))
				}
			case <-gc.stopCh:
				return
			}
		}
	}()
	return nil
}

// Stop ends the periodic collection and waits for a running pass.
func (gc *GarbageCollector) Stop(_ context.Context) error {
	gc.stopOnce.Do(func() { close(gc.stopCh) })
	<-gc.done
	return nil
}

// Collect deletes records with Loaded=false not updated for longer than the
// threshold and returns how many went.
func (gc *GarbageCollector) Collect(ctx context.Context) (int, error) {
	records, err := gc.store.List(ctx)
	if err != nil {
		return 0, err
	}

	now := gc.now()
	deleted := 0
	for _, rec := range records {
		loaded, err := strconv.ParseBool(rec.Attributes["Loaded"])
		if err != nil || loaded {
			continue
		}
		if rec.UpdatedAt.IsZero() {
			continue
		}
		age := now.Sub(rec.UpdatedAt)
		if age < gc.threshold {
			continue
		}

		if err := gc.store.Delete(ctx, rec.Name); err != nil {
			gc.logger.Warn("failed to delete stale record",
				logger.String("name", rec.Name.String()),
				logger.Error(err))
			continue
		}
		gc.logger.Info("garbage collected stale record",
			logger.String("name", rec.Name.String()),
			logger.String("owner", rec.Owner),
			logger.String("unloaded_for", age.String()))
		deleted++
	}

	if deleted > 0 {
		gc.logger.Info("garbage collection completed", logger.Int("deleted", deleted))
	} else {
		gc.logger.Debug("no records to garbage collect")
	}
	return deleted, nil
}
