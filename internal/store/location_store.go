package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/banshee-data/racecore/internal/geo"
)

// DefaultLocationTTL is how long a participant's last-known location
// survives without a refreshing write.
const DefaultLocationTTL = 24 * time.Hour

// ParticipantLocation is the per-participant state the correction pipeline
// maintains: raw sample, corrected position, and derived progress. Written
// only by the correction pipeline.
type ParticipantLocation struct {
	EventID, EventDetailID, UserID int64

	RawLat, RawLng           float64
	RawAlt, RawAccuracy      *float64
	RawSpeed, RawHeading     *float64
	RawTimeSec               int64

	CorrectedLat, CorrectedLng float64
	CorrectedAlt               *float64

	DistanceCovered   float64
	CumulativeTimeSec float64
	LastUpdatedSec    int64
}

// nullFloat converts *float64 to sql.NullFloat64 for scanning/binding.
func nullFloat(f *float64) sql.NullFloat64 {
	if f == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *f, Valid: true}
}

func floatPtr(n sql.NullFloat64) *float64 {
	if !n.Valid {
		return nil
	}
	v := n.Float64
	return &v
}

// ReadLocation returns the participant's last-known location, or nil if
// none is stored or it has expired.
func (s *Store) ReadLocation(ctx context.Context, eventID, eventDetailID, userID int64) (*ParticipantLocation, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT event_id, event_detail_id, user_id, raw_lat, raw_lng, raw_alt, raw_accuracy,
			raw_speed, raw_heading, raw_time_unix, corrected_lat, corrected_lng, corrected_alt,
			distance_covered_meters, cumulative_time_seconds, last_updated_unix
		FROM participant_locations
		WHERE event_id = ? AND event_detail_id = ? AND user_id = ? AND expires_unix > ?
	`, eventID, eventDetailID, userID, s.now())

	var loc ParticipantLocation
	var rawAlt, rawAcc, rawSpd, rawHdg, corrAlt sql.NullFloat64
	err := row.Scan(&loc.EventID, &loc.EventDetailID, &loc.UserID, &loc.RawLat, &loc.RawLng,
		&rawAlt, &rawAcc, &rawSpd, &rawHdg, &loc.RawTimeSec,
		&loc.CorrectedLat, &loc.CorrectedLng, &corrAlt,
		&loc.DistanceCovered, &loc.CumulativeTimeSec, &loc.LastUpdatedSec)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: read location: %w", err)
	}
	loc.RawAlt = floatPtr(rawAlt)
	loc.RawAccuracy = floatPtr(rawAcc)
	loc.RawSpeed = floatPtr(rawSpd)
	loc.RawHeading = floatPtr(rawHdg)
	loc.CorrectedAlt = floatPtr(corrAlt)
	return &loc, nil
}

// WriteLocation persists an incoming raw+corrected fix, deriving
// distanceCovered and cumulativeTimeSec from the previous record:
// distanceCovered accumulates the displacement between
// consecutive corrected positions (or seeds from the match's
// distanceFromStart when there is no previous record), and
// cumulativeTimeSec accumulates max(0, newRawTime - previous.rawTime).
// fallbackDistanceFromStart seeds distanceCovered for a participant's first
// ever fix. WriteLocation refreshes the row's TTL to ttl (DefaultLocationTTL
// if zero) and returns the fully computed record that was stored.
func (s *Store) WriteLocation(ctx context.Context, newLoc ParticipantLocation, fallbackDistanceFromStart float64, ttl time.Duration) (ParticipantLocation, error) {
	if ttl <= 0 {
		ttl = DefaultLocationTTL
	}

	prev, err := s.ReadLocation(ctx, newLoc.EventID, newLoc.EventDetailID, newLoc.UserID)
	if err != nil {
		return ParticipantLocation{}, err
	}

	out := newLoc
	if prev == nil {
		out.DistanceCovered = fallbackDistanceFromStart
		out.CumulativeTimeSec = 0
	} else {
		step, err := geo.Distance(prev.CorrectedLat, prev.CorrectedLng, newLoc.CorrectedLat, newLoc.CorrectedLng)
		if err != nil {
			return ParticipantLocation{}, fmt.Errorf("store: compute distance step: %w", err)
		}
		out.DistanceCovered = prev.DistanceCovered + step

		delta := float64(newLoc.RawTimeSec - prev.RawTimeSec)
		if delta < 0 {
			delta = 0
		}
		out.CumulativeTimeSec = prev.CumulativeTimeSec + delta
	}
	out.LastUpdatedSec = s.now()

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO participant_locations (event_id, event_detail_id, user_id, raw_lat, raw_lng,
			raw_alt, raw_accuracy, raw_speed, raw_heading, raw_time_unix,
			corrected_lat, corrected_lng, corrected_alt,
			distance_covered_meters, cumulative_time_seconds, last_updated_unix, expires_unix)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(event_id, event_detail_id, user_id) DO UPDATE SET
			raw_lat = excluded.raw_lat, raw_lng = excluded.raw_lng, raw_alt = excluded.raw_alt,
			raw_accuracy = excluded.raw_accuracy, raw_speed = excluded.raw_speed,
			raw_heading = excluded.raw_heading, raw_time_unix = excluded.raw_time_unix,
			corrected_lat = excluded.corrected_lat, corrected_lng = excluded.corrected_lng,
			corrected_alt = excluded.corrected_alt,
			distance_covered_meters = excluded.distance_covered_meters,
			cumulative_time_seconds = excluded.cumulative_time_seconds,
			last_updated_unix = excluded.last_updated_unix,
			expires_unix = excluded.expires_unix
	`, out.EventID, out.EventDetailID, out.UserID, out.RawLat, out.RawLng,
		nullFloat(out.RawAlt), nullFloat(out.RawAccuracy), nullFloat(out.RawSpeed), nullFloat(out.RawHeading), out.RawTimeSec,
		out.CorrectedLat, out.CorrectedLng, nullFloat(out.CorrectedAlt),
		out.DistanceCovered, out.CumulativeTimeSec, out.LastUpdatedSec, out.LastUpdatedSec+int64(ttl.Seconds()))
	if err != nil {
		return ParticipantLocation{}, fmt.Errorf("store: write location: %w", err)
	}
	return out, nil
}

// PreviousPosition is the corrected-only position read at the start of
// checkpoint detection and written at the end of the pipeline.
type PreviousPosition struct {
	EventID, EventDetailID, UserID int64
	Lat, Lng                       float64
	Elevation                      *float64
	TimestampSec                   int64
	DistanceFromStart              *float64
}

// DefaultPrevPositionTTL is how long a previous position survives without a
// refreshing write.
const DefaultPrevPositionTTL = 24 * time.Hour

// ReadPreviousPosition returns the participant's previous corrected
// position, or nil if none is stored or it has expired.
func (s *Store) ReadPreviousPosition(ctx context.Context, eventID, eventDetailID, userID int64) (*PreviousPosition, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT event_id, event_detail_id, user_id, latitude, longitude, elevation,
			timestamp_unix, distance_from_start
		FROM previous_positions
		WHERE event_id = ? AND event_detail_id = ? AND user_id = ? AND expires_unix > ?
	`, eventID, eventDetailID, userID, s.now())

	var pp PreviousPosition
	var elev, dist sql.NullFloat64
	err := row.Scan(&pp.EventID, &pp.EventDetailID, &pp.UserID, &pp.Lat, &pp.Lng, &elev, &pp.TimestampSec, &dist)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: read previous position: %w", err)
	}
	pp.Elevation = floatPtr(elev)
	pp.DistanceFromStart = floatPtr(dist)
	return &pp, nil
}

// WritePreviousPosition overwrites the participant's previous position and
// refreshes its TTL.
func (s *Store) WritePreviousPosition(ctx context.Context, pp PreviousPosition, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = DefaultPrevPositionTTL
	}
	expires := s.now() + int64(ttl.Seconds())
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO previous_positions (event_id, event_detail_id, user_id, latitude, longitude,
			elevation, timestamp_unix, distance_from_start, expires_unix)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(event_id, event_detail_id, user_id) DO UPDATE SET
			latitude = excluded.latitude, longitude = excluded.longitude,
			elevation = excluded.elevation, timestamp_unix = excluded.timestamp_unix,
			distance_from_start = excluded.distance_from_start, expires_unix = excluded.expires_unix
	`, pp.EventID, pp.EventDetailID, pp.UserID, pp.Lat, pp.Lng, nullFloat(pp.Elevation),
		pp.TimestampSec, nullFloat(pp.DistanceFromStart), expires)
	if err != nil {
		return fmt.Errorf("store: write previous position: %w", err)
	}
	return nil
}
