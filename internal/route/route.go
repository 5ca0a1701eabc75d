// Package route builds the densified, checkpoint-classified polyline that
// the map matcher and checkpoint detector operate against. It consumes the
// ordered waypoints produced by internal/gpx and has no knowledge of GPX
// itself, so route construction can be unit tested against plain waypoint
// lists.
package route

import (
	"fmt"

	"github.com/banshee-data/racecore/internal/geo"
	"github.com/banshee-data/racecore/internal/gpx"
)

// PointKind classifies a RoutePoint's role on the course.
type PointKind string

const (
	KindStart        PointKind = "start"
	KindInterpolated PointKind = "interpolated"
	KindCheckpoint   PointKind = "checkpoint"
	KindFinish       PointKind = "finish"
)

// RoutePoint is one point on the densified polyline.
type RoutePoint struct {
	Latitude          float64
	Longitude         float64
	Elevation         *float64
	DistanceFromStart float64
	Sequence          int
	Kind              PointKind
	CheckpointID      string // "" for interpolated points
	CheckpointIndex   int    // only meaningful when Kind != KindInterpolated
}

// Route is the full densified, classified polyline for one (eventId, eventDetailId).
type Route struct {
	EventID           int64
	EventDetailID     int64
	Points            []RoutePoint
	TotalDistance     float64
	Spacing           float64
	CheckpointSpacing float64
	RevisionID        string
}

// Config controls densification and checkpoint spacing.
type Config struct {
	Spacing           float64 // default 100m
	CheckpointSpacing float64 // default 1000m
}

// DefaultConfig returns the default spacing values.
func DefaultConfig() Config {
	return Config{Spacing: 100, CheckpointSpacing: 1000}
}

// BuildError reports a waypoint list that cannot form a valid route.
type BuildError struct {
	Reason string
}

func (e *BuildError) Error() string { return fmt.Sprintf("invalid route: %s", e.Reason) }

// Build densifies the given waypoints at cfg.Spacing and classifies
// checkpoints at cfg.CheckpointSpacing, producing a Route that satisfies the
// invariants in the data model: strictly increasing DistanceFromStart,
// consecutive points no farther apart than Spacing (barring a final
// residual segment), exactly one start at index 0 and one finish at the
// last index, and a monotonically non-decreasing, unique-per-entry
// CheckpointIndex.
func Build(eventID, eventDetailID int64, waypoints []gpx.Waypoint, cfg Config) (*Route, error) {
	if len(waypoints) < 2 {
		return nil, &BuildError{Reason: "fewer than 2 waypoints"}
	}
	if cfg.Spacing <= 0 {
		cfg.Spacing = DefaultConfig().Spacing
	}
	if cfg.CheckpointSpacing <= 0 {
		cfg.CheckpointSpacing = DefaultConfig().CheckpointSpacing
	}

	densified, total, err := densify(waypoints, cfg.Spacing)
	if err != nil {
		return nil, err
	}
	if total < 10 {
		return nil, &BuildError{Reason: fmt.Sprintf("total distance %.2fm below 10m minimum", total)}
	}

	points := classifyCheckpoints(densified, cfg.CheckpointSpacing, cfg.Spacing)

	return &Route{
		EventID:           eventID,
		EventDetailID:     eventDetailID,
		Points:            points,
		TotalDistance:     total,
		Spacing:           cfg.Spacing,
		CheckpointSpacing: cfg.CheckpointSpacing,
	}, nil
}

// densifyPoint is an intermediate point before checkpoint classification.
type densifyPoint struct {
	lat, lng          float64
	elevation         *float64
	distanceFromStart float64
}

// densify inserts linearly interpolated points between any consecutive
// source waypoints farther apart than spacing, so that every emitted pair
// is at most spacing apart except for the final residual segment of each
// source gap. Elevation interpolates linearly alongside position.
func densify(waypoints []gpx.Waypoint, spacing float64) ([]densifyPoint, float64, error) {
	out := make([]densifyPoint, 0, len(waypoints)*2)
	out = append(out, densifyPoint{lat: waypoints[0].Lat, lng: waypoints[0].Lng, elevation: waypoints[0].Elevation, distanceFromStart: 0})

	var cumulative float64
	for i := 0; i < len(waypoints)-1; i++ {
		a := waypoints[i]
		b := waypoints[i+1]

		segDist, err := geo.Distance(a.Lat, a.Lng, b.Lat, b.Lng)
		if err != nil {
			return nil, 0, &BuildError{Reason: err.Error()}
		}

		if segDist > spacing {
			n := int(segDist / spacing)
			for k := 1; k <= n; k++ {
				ratio := float64(k) * spacing / segDist
				if ratio >= 1 {
					break
				}
				gp := geo.Interpolate(
					geo.Point{Lat: a.Lat, Lng: a.Lng, Elevation: a.Elevation},
					geo.Point{Lat: b.Lat, Lng: b.Lng, Elevation: b.Elevation},
					ratio,
				)
				cumulative += spacing
				out = append(out, densifyPoint{lat: gp.Lat, lng: gp.Lng, elevation: gp.Elevation, distanceFromStart: cumulative})
			}
			cumulative = out[len(out)-1].distanceFromStart
			// Add the residual distance to reach b exactly.
			residual, err := geo.Distance(out[len(out)-1].lat, out[len(out)-1].lng, b.Lat, b.Lng)
			if err != nil {
				return nil, 0, &BuildError{Reason: err.Error()}
			}
			cumulative += residual
		} else {
			cumulative += segDist
		}

		out = append(out, densifyPoint{lat: b.Lat, lng: b.Lng, elevation: b.Elevation, distanceFromStart: cumulative})
	}

	return out, cumulative, nil
}

// classifyCheckpoints assigns PointKind, CheckpointID, and CheckpointIndex
// to a densified polyline: index 0 is always start, the last index is
// always finish, and any other point whose distanceFromStart lands within
// `spacing` of a cpSpacing multiple becomes a checkpoint. At most one point
// per cpSpacing bucket is classified (the first to land in the tolerance
// window), so a residual densification step cannot mint a second CP{n} for
// the same n. CheckpointIndex is assigned in increasing order across start,
// checkpoints, and finish.
func classifyCheckpoints(points []densifyPoint, cpSpacing, spacing float64) []RoutePoint {
	out := make([]RoutePoint, len(points))
	cpCounter := 0
	lastBucket := 0

	for i, p := range points {
		rp := RoutePoint{
			Latitude:          p.lat,
			Longitude:         p.lng,
			Elevation:         p.elevation,
			DistanceFromStart: p.distanceFromStart,
			Sequence:          i,
			Kind:              KindInterpolated,
		}

		switch {
		case i == 0:
			rp.Kind = KindStart
			rp.CheckpointID = "START"
			rp.CheckpointIndex = 0
			cpCounter = 1
		case i == len(points)-1:
			rp.Kind = KindFinish
			rp.CheckpointID = "FINISH"
			rp.CheckpointIndex = cpCounter
			cpCounter++
		default:
			n := int(p.distanceFromStart / cpSpacing)
			if n > lastBucket {
				remainder := p.distanceFromStart - float64(n)*cpSpacing
				if remainder < spacing {
					rp.Kind = KindCheckpoint
					rp.CheckpointID = fmt.Sprintf("CP%d", n)
					rp.CheckpointIndex = cpCounter
					cpCounter++
					lastBucket = n
				}
			}
		}

		out[i] = rp
	}

	return out
}

// Checkpoints returns only the start/checkpoint/finish points, in
// CheckpointIndex order (which matches polyline order by construction).
func (r *Route) Checkpoints() []RoutePoint {
	var out []RoutePoint
	for _, p := range r.Points {
		if p.Kind != KindInterpolated {
			out = append(out, p)
		}
	}
	return out
}
