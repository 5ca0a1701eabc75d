package match

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/racecore/internal/gpx"
	"github.com/banshee-data/racecore/internal/route"
)

func straightRoute(t *testing.T) *route.Route {
	t.Helper()
	waypoints := []gpx.Waypoint{
		{Lat: 37.0, Lng: 127.0},
		{Lat: 37.01, Lng: 127.0},
	}
	r, err := route.Build(1, 1, waypoints, route.DefaultConfig())
	require.NoError(t, err)
	return r
}

func TestMatch_OnRouteIsMatched(t *testing.T) {
	r := straightRoute(t)
	// A point essentially on the line, heading the same direction as the route (north).
	res, err := Match(37.005, 127.0, 0, r, DefaultConfig())
	require.NoError(t, err)
	assert.True(t, res.Matched)
	assert.Less(t, res.DistanceMeters, 1.0)
	assert.InDelta(t, 0.5, res.RouteProgress, 0.05)
}

func TestMatch_FarFromRouteUnmatched(t *testing.T) {
	r := straightRoute(t)
	// Roughly 1 degree of longitude away at this latitude is tens of km off.
	res, err := Match(37.005, 128.0, 0, r, DefaultConfig())
	require.NoError(t, err)
	assert.False(t, res.Matched)
}

func TestMatch_BearingMismatchPenalized(t *testing.T) {
	r := straightRoute(t)
	resAligned, err := Match(37.005, 127.0, 0, r, DefaultConfig())
	require.NoError(t, err)
	resReversed, err := Match(37.005, 127.0, 180, r, DefaultConfig())
	require.NoError(t, err)

	assert.Greater(t, resReversed.Score, resAligned.Score)
	assert.Equal(t, resAligned.DistanceMeters, resReversed.DistanceMeters)
}

func TestMatch_NoSegmentsErrors(t *testing.T) {
	r := &route.Route{Points: nil}
	_, err := Match(1, 1, 0, r, DefaultConfig())
	require.Error(t, err)
}

func TestMatch_NilRouteErrors(t *testing.T) {
	_, err := Match(1, 1, 0, nil, DefaultConfig())
	require.Error(t, err)
}

func TestMatch_DefaultConfigAppliedWhenThresholdZero(t *testing.T) {
	r := straightRoute(t)
	res, err := Match(37.005, 127.0, 0, r, Config{})
	require.NoError(t, err)
	assert.True(t, res.Matched)
}

func TestMatch_BearingFieldsReported(t *testing.T) {
	r := straightRoute(t)
	res, err := Match(37.005, 127.0, 10, r, DefaultConfig())
	require.NoError(t, err)
	assert.InDelta(t, 0, res.RouteBearing, 0.5)
	assert.Equal(t, 10.0, res.CurrentBearing)
	assert.InDelta(t, 10, res.BearingDifference, 0.5)
}

func TestMatch_ProgressMonotonicAlongRoute(t *testing.T) {
	r := straightRoute(t)
	near, err := Match(37.002, 127.0, 0, r, DefaultConfig())
	require.NoError(t, err)
	far, err := Match(37.008, 127.0, 0, r, DefaultConfig())
	require.NoError(t, err)

	assert.Less(t, near.RouteProgress, far.RouteProgress)
}
