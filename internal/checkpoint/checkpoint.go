// Package checkpoint detects checkpoint crossings from consecutive matched
// positions and turns checkpoint pass times into segment and cumulative
// durations, rejecting gaps too long to be a real split.
package checkpoint

import (
	"fmt"
	"time"

	"github.com/banshee-data/racecore/internal/geo"
	"github.com/banshee-data/racecore/internal/route"
)

// Config tunes checkpoint crossing detection.
type Config struct {
	// RadiusMeters is how close a fix must be to a checkpoint's route
	// location to count as a crossing.
	RadiusMeters float64
}

// DefaultConfig returns the reference crossing radius.
func DefaultConfig() Config {
	return Config{RadiusMeters: 30}
}

// Position is a latitude/longitude pair, used both as the previous and
// current sample for crossing detection.
type Position struct {
	Lat float64
	Lng float64
}

// Crossing reports that a participant entered a checkpoint's radius.
type Crossing struct {
	CheckpointID    string
	CheckpointIndex int
	DistanceMeters  float64
}

// Detect compares the current position against every checkpoint (start,
// CP*, finish) in r and reports each one currently within RadiusMeters that
// the participant was NOT already within at prevPos. When prevPos is nil
// (the participant's first ever fix), any checkpoint the first sample lands
// inside counts as a fresh crossing, since there is no prior position to
// compare against. Crossings are returned in CheckpointIndex order, and at
// most one crossing is reported per checkpoint.
func Detect(prevPos *Position, curPos Position, r *route.Route, cfg Config) ([]Crossing, error) {
	if r == nil {
		return nil, fmt.Errorf("checkpoint: nil route")
	}
	if cfg.RadiusMeters <= 0 {
		cfg = DefaultConfig()
	}

	var crossings []Crossing
	for _, cp := range r.Checkpoints() {
		curDist, err := geo.Distance(curPos.Lat, curPos.Lng, cp.Latitude, cp.Longitude)
		if err != nil {
			return nil, fmt.Errorf("checkpoint: %w", err)
		}
		curInside := curDist <= cfg.RadiusMeters
		if !curInside {
			continue
		}

		wasInside := false
		if prevPos != nil {
			prevDist, err := geo.Distance(prevPos.Lat, prevPos.Lng, cp.Latitude, cp.Longitude)
			if err != nil {
				return nil, fmt.Errorf("checkpoint: %w", err)
			}
			wasInside = prevDist <= cfg.RadiusMeters
		}

		if !wasInside {
			crossings = append(crossings, Crossing{
				CheckpointID:    cp.CheckpointID,
				CheckpointIndex: cp.CheckpointIndex,
				DistanceMeters:  curDist,
			})
		}
	}

	return crossings, nil
}

// ImplausibleDurationError reports a computed segment or cumulative
// duration that exceeds the plausibility ceiling (most likely a clock
// problem or a stale checkpoint-pass record rather than a real elapsed
// time).
type ImplausibleDurationError struct {
	Duration time.Duration
}

func (e *ImplausibleDurationError) Error() string {
	return fmt.Sprintf("implausible duration: %s exceeds ceiling", e.Duration)
}

// MaxPlausibleDuration is the ceiling past which a segment or cumulative
// duration is rejected as implausible.
const MaxPlausibleDuration = 24 * time.Hour

// SegmentTimer turns checkpoint pass timestamps into segment and cumulative
// durations for one participant. EventStart is the configured start time
// for the event detail being timed; callers must supply it rather than
// relying on any fallback derived from wall-clock time, since defaulting to
// "now minus a fixed offset" would silently misreport every participant's
// cumulative time once the event has been running longer than that offset.
type SegmentTimer struct {
	EventStart time.Time
}

// Elapsed is the duration result for one checkpoint pass.
type Elapsed struct {
	SegmentDuration    time.Duration // since the previous checkpoint pass (or EventStart for the first)
	CumulativeDuration time.Duration // since EventStart
}

// Compute returns the segment and cumulative duration for a checkpoint
// crossing at passedAt, given the timestamp of the participant's previous
// checkpoint pass (prevPassedAt is the zero time if this is their first
// pass). Both durations are checked against MaxPlausibleDuration.
func (t SegmentTimer) Compute(prevPassedAt, passedAt time.Time) (Elapsed, error) {
	if passedAt.Before(t.EventStart) {
		return Elapsed{}, fmt.Errorf("checkpoint: pass time %s precedes event start %s", passedAt, t.EventStart)
	}

	cumulative := passedAt.Sub(t.EventStart)
	if cumulative > MaxPlausibleDuration {
		return Elapsed{}, &ImplausibleDurationError{Duration: cumulative}
	}

	segmentFrom := t.EventStart
	if !prevPassedAt.IsZero() {
		segmentFrom = prevPassedAt
	}
	segment := passedAt.Sub(segmentFrom)
	if segment > MaxPlausibleDuration {
		return Elapsed{}, &ImplausibleDurationError{Duration: segment}
	}

	return Elapsed{SegmentDuration: segment, CumulativeDuration: cumulative}, nil
}
