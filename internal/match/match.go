// Package match implements map matching: snapping a corrected GPS fix onto
// the densified route polyline by scanning every segment for the lowest
// combined distance-plus-bearing score.
package match

import (
	"fmt"
	"math"

	"github.com/banshee-data/racecore/internal/geo"
	"github.com/banshee-data/racecore/internal/route"
)

// Config tunes the matcher's bearing penalty and acceptance threshold.
type Config struct {
	// BearingWeight converts a bearing mismatch (degrees) into an
	// equivalent distance penalty (metres per degree).
	BearingWeight float64
	// MatchThreshold is the maximum distance from the route, in metres, for
	// a fix to be considered matched (the bearing penalty does not count
	// toward it).
	MatchThreshold float64
}

// DefaultConfig returns the reference matcher tuning.
func DefaultConfig() Config {
	return Config{BearingWeight: 0.05, MatchThreshold: 50}
}

// Result is the outcome of matching one fix against a route.
type Result struct {
	Matched           bool
	NearestIndex      int // index into route.Points of the segment's start point
	DistanceMeters    float64
	Score             float64
	RouteProgress     float64 // 0..1 fraction of total route distance
	DistanceFromStart float64
	FootLat           float64
	FootLng           float64
	// RouteBearing is the matched segment's own bearing in degrees.
	RouteBearing float64
	// CurrentBearing echoes the sample's bearing as given to Match.
	CurrentBearing float64
	// BearingDifference is the smallest absolute angle, in degrees,
	// between CurrentBearing and RouteBearing.
	BearingDifference float64
}

// NoSegmentsError reports a route with fewer than 2 points, which has no
// segments to match against.
type NoSegmentsError struct{}

func (e *NoSegmentsError) Error() string { return "route has no segments to match against" }

// Match snaps (lat, lng, bearingDeg) onto the nearest segment of r. Ties in
// score are broken by lowest distance, then by lowest segment index, so
// the result is deterministic for a fixed route and input.
func Match(lat, lng, bearingDeg float64, r *route.Route, cfg Config) (Result, error) {
	if r == nil || len(r.Points) < 2 {
		return Result{}, &NoSegmentsError{}
	}
	if cfg.MatchThreshold <= 0 {
		cfg = DefaultConfig()
	}

	fix := geo.Point{Lat: lat, Lng: lng}

	best := Result{}
	bestScore := math.Inf(1)
	bestDist := math.Inf(1)

	for i := 0; i < len(r.Points)-1; i++ {
		a := r.Points[i]
		b := r.Points[i+1]

		proj, err := geo.PointToSegmentDistance(fix,
			geo.Point{Lat: a.Latitude, Lng: a.Longitude},
			geo.Point{Lat: b.Latitude, Lng: b.Longitude},
		)
		if err != nil {
			return Result{}, fmt.Errorf("match: %w", err)
		}

		segBearing, err := geo.Bearing(a.Latitude, a.Longitude, b.Latitude, b.Longitude)
		if err != nil {
			return Result{}, fmt.Errorf("match: %w", err)
		}
		bearingDiff := geo.BearingDifference(bearingDeg, segBearing)

		score := proj.DistanceMeters + cfg.BearingWeight*bearingDiff

		better := score < bestScore ||
			(score == bestScore && proj.DistanceMeters < bestDist) ||
			(score == bestScore && proj.DistanceMeters == bestDist && i < best.NearestIndex)

		if better {
			bestScore = score
			bestDist = proj.DistanceMeters
			distFromStart := a.DistanceFromStart + proj.T*(b.DistanceFromStart-a.DistanceFromStart)
			best = Result{
				NearestIndex:      i,
				DistanceMeters:    proj.DistanceMeters,
				Score:             score,
				DistanceFromStart: distFromStart,
				FootLat:           proj.FootLat,
				FootLng:           proj.FootLng,
				RouteBearing:      segBearing,
				CurrentBearing:    bearingDeg,
				BearingDifference: bearingDiff,
			}
		}
	}

	best.Matched = bestDist <= cfg.MatchThreshold
	if r.TotalDistance > 0 {
		best.RouteProgress = best.DistanceFromStart / r.TotalDistance
	}

	return best, nil
}
