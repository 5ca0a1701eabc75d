package store

import (
	"context"
	"fmt"
	"time"

	"github.com/banshee-data/racecore/internal/monitoring"
)

// TTLSweepWorker periodically deletes rows whose logical TTL has passed.
// Plain sqlite tables have no native per-row expiry, so eviction is driven
// by a ticker: Start launches the loop in a goroutine, Stop requests it to
// exit, and RunOnce is exposed separately so callers (and tests) can drive
// a single sweep without waiting on the ticker.
type TTLSweepWorker struct {
	Store    *Store
	Interval time.Duration
	stopChan chan struct{}
}

// NewTTLSweepWorker builds a sweep worker with the default 15-minute
// cadence.
func NewTTLSweepWorker(s *Store) *TTLSweepWorker {
	return &TTLSweepWorker{
		Store:    s,
		Interval: 15 * time.Minute,
		stopChan: make(chan struct{}),
	}
}

// Start runs the sweep loop in a goroutine until Stop is called.
func (w *TTLSweepWorker) Start() {
	go func() {
		ticker := time.NewTicker(w.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := w.RunOnce(context.Background()); err != nil {
					monitoring.Logf("ttl sweep: run error: %v", err)
				}
			case <-w.stopChan:
				return
			}
		}
	}()
}

// Stop requests the worker to exit its loop.
func (w *TTLSweepWorker) Stop() {
	close(w.stopChan)
}

// RunOnce deletes every row across routes, participant_locations,
// previous_positions, and leaderboard whose expires_unix has passed.
// checkpoint_pass_times and segment_records carry no TTL and are left
// untouched.
func (w *TTLSweepWorker) RunOnce(ctx context.Context) error {
	now := w.Store.now()
	tables := []string{"routes", "participant_locations", "previous_positions", "leaderboard"}

	var total int64
	for _, table := range tables {
		res, err := w.Store.db.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %q WHERE expires_unix <= ?`, table), now)
		if err != nil {
			return fmt.Errorf("ttl sweep: delete from %s: %w", table, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("ttl sweep: rows affected for %s: %w", table, err)
		}
		total += n
	}
	if total > 0 {
		monitoring.Logf("ttl sweep: evicted %d expired rows", total)
	}
	return nil
}
