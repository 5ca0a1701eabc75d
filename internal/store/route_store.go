package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/racecore/internal/gpx"
	"github.com/banshee-data/racecore/internal/monitoring"
	"github.com/banshee-data/racecore/internal/route"
)

// DefaultRouteTTL is the lifetime a loaded route is kept for before the TTL
// sweep evicts it.
const DefaultRouteTTL = 24 * time.Hour

// RouteSummary is returned by LoadRoute: enough to log and to answer a
// "did my upload take" check without re-fetching the full route.
type RouteSummary struct {
	EventID       int64
	EventDetailID int64
	RevisionID    string
	PointCount    int
	TotalDistance float64
}

// LoadRoute parses gpxBytes, densifies it at cfg.Spacing, classifies
// checkpoints at cfg.CheckpointSpacing, and atomically replaces whatever
// route was previously stored for (eventID, eventDetailID). A fresh
// RevisionID is assigned on every load so a re-upload can be told apart
// from the route it replaced in logs and in the stored record itself.
func (s *Store) LoadRoute(ctx context.Context, eventID, eventDetailID int64, gpxBytes []byte, cfg route.Config, ttl time.Duration) (RouteSummary, error) {
	if ttl <= 0 {
		ttl = DefaultRouteTTL
	}

	waypoints, err := gpx.Parse(gpxBytes)
	if err != nil {
		return RouteSummary{}, fmt.Errorf("store: parse gpx: %w", err)
	}
	r, err := route.Build(eventID, eventDetailID, waypoints, cfg)
	if err != nil {
		return RouteSummary{}, fmt.Errorf("store: build route: %w", err)
	}
	r.RevisionID = uuid.New().String()

	pointsJSON, err := json.Marshal(r.Points)
	if err != nil {
		return RouteSummary{}, fmt.Errorf("store: marshal route points: %w", err)
	}

	now := s.now()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO routes (event_id, event_detail_id, revision_id, total_distance_meters,
			spacing_meters, checkpoint_spacing_meters, points_json, created_unix, expires_unix)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(event_id, event_detail_id) DO UPDATE SET
			revision_id = excluded.revision_id,
			total_distance_meters = excluded.total_distance_meters,
			spacing_meters = excluded.spacing_meters,
			checkpoint_spacing_meters = excluded.checkpoint_spacing_meters,
			points_json = excluded.points_json,
			created_unix = excluded.created_unix,
			expires_unix = excluded.expires_unix
	`, eventID, eventDetailID, r.RevisionID, r.TotalDistance, r.Spacing, r.CheckpointSpacing,
		string(pointsJSON), now, now+int64(ttl.Seconds()))
	if err != nil {
		return RouteSummary{}, fmt.Errorf("store: upsert route: %w", err)
	}

	monitoring.Logf("store: loaded route event=%d detail=%d revision=%s points=%d distance=%.1fm",
		eventID, eventDetailID, r.RevisionID, len(r.Points), r.TotalDistance)

	return RouteSummary{
		EventID:       eventID,
		EventDetailID: eventDetailID,
		RevisionID:    r.RevisionID,
		PointCount:    len(r.Points),
		TotalDistance: r.TotalDistance,
	}, nil
}

func (s *Store) scanRoute(row *sql.Row) (*route.Route, error) {
	var r route.Route
	var pointsJSON string
	err := row.Scan(&r.EventID, &r.EventDetailID, &r.RevisionID, &r.TotalDistance,
		&r.Spacing, &r.CheckpointSpacing, &pointsJSON)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: scan route: %w", err)
	}
	if err := json.Unmarshal([]byte(pointsJSON), &r.Points); err != nil {
		return nil, fmt.Errorf("store: unmarshal route points: %w", err)
	}
	return &r, nil
}

// GetRoute returns the route for (eventID, eventDetailID), or nil if none is
// stored or it has expired past its TTL.
func (s *Store) GetRoute(ctx context.Context, eventID, eventDetailID int64) (*route.Route, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT event_id, event_detail_id, revision_id, total_distance_meters,
			spacing_meters, checkpoint_spacing_meters, points_json
		FROM routes
		WHERE event_id = ? AND event_detail_id = ? AND expires_unix > ?
	`, eventID, eventDetailID, s.now())
	return s.scanRoute(row)
}

// GetRouteByEventID looks a route up via the secondary eventId index,
// returning the most recently created event detail's route if more than one
// exists for the event.
func (s *Store) GetRouteByEventID(ctx context.Context, eventID int64) (*route.Route, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT event_id, event_detail_id, revision_id, total_distance_meters,
			spacing_meters, checkpoint_spacing_meters, points_json
		FROM routes
		WHERE event_id = ? AND expires_unix > ?
		ORDER BY created_unix DESC
		LIMIT 1
	`, eventID, s.now())
	return s.scanRoute(row)
}

// DeleteRoute removes the stored route for (eventID, eventDetailID), if any.
func (s *Store) DeleteRoute(ctx context.Context, eventID, eventDetailID int64) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM routes WHERE event_id = ? AND event_detail_id = ?`, eventID, eventDetailID)
	if err != nil {
		return fmt.Errorf("store: delete route: %w", err)
	}
	return nil
}
