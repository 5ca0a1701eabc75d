package checkpoint

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/racecore/internal/gpx"
	"github.com/banshee-data/racecore/internal/route"
)

func straightRoute(t *testing.T) *route.Route {
	t.Helper()
	waypoints := []gpx.Waypoint{
		{Lat: 37.0, Lng: 127.0},
		{Lat: 37.02, Lng: 127.0},
	}
	r, err := route.Build(1, 1, waypoints, route.Config{Spacing: 100, CheckpointSpacing: 1000})
	require.NoError(t, err)
	return r
}

func TestDetect_FirstSampleInsideRadiusCounts(t *testing.T) {
	r := straightRoute(t)
	start := r.Points[0]

	crossings, err := Detect(nil, Position{Lat: start.Latitude, Lng: start.Longitude}, r, DefaultConfig())
	require.NoError(t, err)
	require.Len(t, crossings, 1)
	assert.Equal(t, "START", crossings[0].CheckpointID)
}

func TestDetect_NoCrossingWhenAlreadyInside(t *testing.T) {
	r := straightRoute(t)
	start := r.Points[0]
	pos := Position{Lat: start.Latitude, Lng: start.Longitude}

	crossings, err := Detect(&pos, pos, r, DefaultConfig())
	require.NoError(t, err)
	assert.Empty(t, crossings)
}

func TestDetect_CrossingOnEntry(t *testing.T) {
	r := straightRoute(t)
	finish := r.Points[len(r.Points)-1]

	// Previous position far from any checkpoint.
	far := Position{Lat: 37.01, Lng: 127.0}
	cur := Position{Lat: finish.Latitude, Lng: finish.Longitude}

	crossings, err := Detect(&far, cur, r, DefaultConfig())
	require.NoError(t, err)
	require.Len(t, crossings, 1)
	assert.Equal(t, "FINISH", crossings[0].CheckpointID)
}

func TestDetect_OutsideRadiusNoCrossing(t *testing.T) {
	r := straightRoute(t)
	far := Position{Lat: 37.01, Lng: 127.0}
	crossings, err := Detect(nil, far, r, DefaultConfig())
	require.NoError(t, err)
	assert.Empty(t, crossings)
}

func TestDetect_NilRouteErrors(t *testing.T) {
	_, err := Detect(nil, Position{}, nil, DefaultConfig())
	require.Error(t, err)
}

func TestDetect_AtMostOneCrossingPerCheckpoint(t *testing.T) {
	r := straightRoute(t)
	start := r.Points[0]
	pos := Position{Lat: start.Latitude, Lng: start.Longitude}

	seen := map[string]int{}
	crossings, err := Detect(nil, pos, r, DefaultConfig())
	require.NoError(t, err)
	for _, c := range crossings {
		seen[c.CheckpointID]++
	}
	for id, count := range seen {
		assert.Equal(t, 1, count, "checkpoint %s reported more than once", id)
	}
}

func TestSegmentTimer_FirstPassSinceEventStart(t *testing.T) {
	start := time.Date(2026, 7, 31, 8, 0, 0, 0, time.UTC)
	timer := SegmentTimer{EventStart: start}

	elapsed, err := timer.Compute(time.Time{}, start.Add(10*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 10*time.Minute, elapsed.SegmentDuration)
	assert.Equal(t, 10*time.Minute, elapsed.CumulativeDuration)
}

func TestSegmentTimer_SubsequentPassSinceLastCheckpoint(t *testing.T) {
	start := time.Date(2026, 7, 31, 8, 0, 0, 0, time.UTC)
	timer := SegmentTimer{EventStart: start}

	prev := start.Add(10 * time.Minute)
	cur := start.Add(25 * time.Minute)

	elapsed, err := timer.Compute(prev, cur)
	require.NoError(t, err)
	assert.Equal(t, 15*time.Minute, elapsed.SegmentDuration)
	assert.Equal(t, 25*time.Minute, elapsed.CumulativeDuration)
}

func TestSegmentTimer_ImplausibleCumulativeRejected(t *testing.T) {
	start := time.Date(2026, 7, 31, 8, 0, 0, 0, time.UTC)
	timer := SegmentTimer{EventStart: start}

	_, err := timer.Compute(time.Time{}, start.Add(25*time.Hour))
	require.Error(t, err)
	var implausible *ImplausibleDurationError
	assert.ErrorAs(t, err, &implausible)
}

func TestSegmentTimer_PassBeforeStartRejected(t *testing.T) {
	start := time.Date(2026, 7, 31, 8, 0, 0, 0, time.UTC)
	timer := SegmentTimer{EventStart: start}

	_, err := timer.Compute(time.Time{}, start.Add(-time.Minute))
	require.Error(t, err)
}
