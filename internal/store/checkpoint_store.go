package store

import (
	"context"
	"database/sql"
	"fmt"
)

// RecordCheckpointPass writes the first-ever pass time for checkpointID, if
// one is not already recorded. It returns the pass time that is now
// canonical for this checkpoint (either passedUnix, if this call won the
// race, or whatever an earlier write recorded), and whether this call's
// write is the one that stuck. Implemented as INSERT OR IGNORE followed by
// a read-back, giving first-crossing-wins semantics under concurrent
// correct calls.
func (s *Store) RecordCheckpointPass(ctx context.Context, eventID, eventDetailID, userID int64, checkpointID string, checkpointIndex int, passedUnix int64) (canonicalUnix int64, recorded bool, err error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO checkpoint_pass_times
			(event_id, event_detail_id, user_id, checkpoint_id, checkpoint_index, passed_unix)
		VALUES (?, ?, ?, ?, ?, ?)
	`, eventID, eventDetailID, userID, checkpointID, checkpointIndex, passedUnix)
	if err != nil {
		return 0, false, fmt.Errorf("store: record checkpoint pass: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return 0, false, fmt.Errorf("store: checkpoint pass rows affected: %w", err)
	}

	if rows > 0 {
		return passedUnix, true, nil
	}

	var existing int64
	err = s.db.QueryRowContext(ctx, `
		SELECT passed_unix FROM checkpoint_pass_times
		WHERE event_detail_id = ? AND user_id = ? AND checkpoint_id = ?
	`, eventDetailID, userID, checkpointID).Scan(&existing)
	if err != nil {
		return 0, false, fmt.Errorf("store: read existing checkpoint pass: %w", err)
	}
	return existing, false, nil
}

// CheckpointPass is one recorded checkpoint pass. The pipeline picks the
// pass with the latest PassedUnix as the most recent prior pass when
// computing a new crossing's segment duration.
type CheckpointPass struct {
	CheckpointID    string
	CheckpointIndex int
	PassedUnix      int64
}

// ListCheckpointPasses returns every checkpoint pass recorded for the
// participant, ordered by CheckpointIndex.
func (s *Store) ListCheckpointPasses(ctx context.Context, eventDetailID, userID int64) ([]CheckpointPass, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT checkpoint_id, checkpoint_index, passed_unix
		FROM checkpoint_pass_times
		WHERE event_detail_id = ? AND user_id = ?
		ORDER BY checkpoint_index ASC
	`, eventDetailID, userID)
	if err != nil {
		return nil, fmt.Errorf("store: list checkpoint passes: %w", err)
	}
	defer rows.Close()

	var out []CheckpointPass
	for rows.Next() {
		var cp CheckpointPass
		if err := rows.Scan(&cp.CheckpointID, &cp.CheckpointIndex, &cp.PassedUnix); err != nil {
			return nil, fmt.Errorf("store: scan checkpoint pass: %w", err)
		}
		out = append(out, cp)
	}
	return out, rows.Err()
}

// WriteSegmentRecord upserts the segment and cumulative duration for one
// checkpoint pass. Either duration may be nil when SegmentTimer rejected it
// as implausible; the pass time itself is still recorded via
// RecordCheckpointPass regardless.
func (s *Store) WriteSegmentRecord(ctx context.Context, eventID, eventDetailID, userID int64, checkpointID string, checkpointIndex int, segmentDurationSec, cumulativeDurationSec *float64) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO segment_records (event_id, event_detail_id, user_id, checkpoint_id,
			checkpoint_index, segment_duration_seconds, cumulative_duration_seconds)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(event_detail_id, user_id, checkpoint_id) DO UPDATE SET
			segment_duration_seconds = excluded.segment_duration_seconds,
			cumulative_duration_seconds = excluded.cumulative_duration_seconds
	`, eventID, eventDetailID, userID, checkpointID, checkpointIndex,
		nullFloat(segmentDurationSec), nullFloat(cumulativeDurationSec))
	if err != nil {
		return fmt.Errorf("store: write segment record: %w", err)
	}
	return nil
}

// SegmentRecord is the stored split/cumulative duration for one checkpoint
// pass. Either duration may be nil (see WriteSegmentRecord).
type SegmentRecord struct {
	CheckpointID          string
	CheckpointIndex       int
	SegmentDurationSec    *float64
	CumulativeDurationSec *float64
}

// GetSegmentRecord returns the stored segment record for one checkpoint, or
// nil if none exists.
func (s *Store) GetSegmentRecord(ctx context.Context, eventDetailID, userID int64, checkpointID string) (*SegmentRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT checkpoint_id, checkpoint_index, segment_duration_seconds, cumulative_duration_seconds
		FROM segment_records
		WHERE event_detail_id = ? AND user_id = ? AND checkpoint_id = ?
	`, eventDetailID, userID, checkpointID)

	var rec SegmentRecord
	var seg, cum sql.NullFloat64
	err := row.Scan(&rec.CheckpointID, &rec.CheckpointIndex, &seg, &cum)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: get segment record: %w", err)
	}
	rec.SegmentDurationSec = floatPtr(seg)
	rec.CumulativeDurationSec = floatPtr(cum)
	return &rec, nil
}
