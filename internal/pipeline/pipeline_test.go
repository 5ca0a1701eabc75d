package pipeline

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/racecore/internal/route"
	"github.com/banshee-data/racecore/internal/store"
	"github.com/banshee-data/racecore/internal/timeutil"
)

const straightLineGPX = `<?xml version="1.0"?>
<gpx version="1.1" creator="test"><trk><trkseg>
<trkpt lat="37.0000" lon="127.0000"></trkpt>
<trkpt lat="37.0200" lon="127.0000"></trkpt>
</trkseg></trk></gpx>`

func newTestPipeline(t *testing.T) (*Pipeline, *timeutil.MockClock) {
	t.Helper()
	clock := timeutil.NewMockClock(time.Date(2026, 1, 1, 8, 0, 0, 0, time.UTC))
	s, err := store.OpenInMemory(clock)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	_, err = s.LoadRoute(context.Background(), 1, 1, []byte(straightLineGPX), route.Config{Spacing: 50, CheckpointSpacing: 1000}, 0)
	require.NoError(t, err)

	return New(s, clock, DefaultConfig()), clock
}

func unixStr(t time.Time) string {
	return fmt.Sprintf("%d", t.Unix())
}

func TestCorrect_RejectsEmptyBatch(t *testing.T) {
	p, _ := newTestPipeline(t)
	_, err := p.Correct(context.Background(), Request{EventID: 1, EventDetailID: 1, UserID: 1})
	require.Error(t, err)
	var pErr *Error
	require.ErrorAs(t, err, &pErr)
	assert.Equal(t, KindInvalidInput, pErr.Kind)
}

func TestCorrect_RejectsOutOfRangeCoordinate(t *testing.T) {
	p, clock := newTestPipeline(t)
	_, err := p.Correct(context.Background(), Request{
		EventID: 1, EventDetailID: 1, UserID: 1,
		GPSData: []Sample{{Lat: 200, Lng: 127, Timestamp: unixStr(clock.Now())}},
	})
	require.Error(t, err)
}

func TestCorrect_MatchedOnRouteProducesResponse(t *testing.T) {
	p, clock := newTestPipeline(t)
	eventStart := clock.Now().Add(-1 * time.Hour).Unix()

	resp, err := p.Correct(context.Background(), Request{
		EventID: 1, EventDetailID: 1, UserID: 1,
		EventStartUnix: &eventStart,
		GPSData: []Sample{
			{Lat: 37.001, Lng: 127.0, Timestamp: unixStr(clock.Now())},
		},
	})
	require.NoError(t, err)
	assert.True(t, resp.Matched)
	assert.NotNil(t, resp.NearestRoutePoint)
	assert.NotEmpty(t, resp.Quality.Grade)
}

func TestCorrect_MissingRouteDowngradesToUnmatched(t *testing.T) {
	clock := timeutil.NewMockClock(time.Date(2026, 1, 1, 8, 0, 0, 0, time.UTC))
	s, err := store.OpenInMemory(clock)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	p := New(s, clock, DefaultConfig())

	resp, err := p.Correct(context.Background(), Request{
		EventID: 99, EventDetailID: 99, UserID: 1,
		GPSData: []Sample{{Lat: 37.001, Lng: 127.0, Timestamp: unixStr(clock.Now())}},
	})
	require.NoError(t, err)
	assert.False(t, resp.Matched)
	assert.Nil(t, resp.NearestRoutePoint)
	assert.Empty(t, resp.CheckpointReaches)
}

func TestCorrect_CheckpointCrossingRecordsSegment(t *testing.T) {
	p, clock := newTestPipeline(t)
	eventStart := clock.Now().Add(-1 * time.Hour).Unix()

	// First call starts the participant inside the start checkpoint radius.
	_, err := p.Correct(context.Background(), Request{
		EventID: 1, EventDetailID: 1, UserID: 7,
		EventStartUnix: &eventStart,
		GPSData: []Sample{{Lat: 37.0000, Lng: 127.0000, Timestamp: unixStr(clock.Now())}},
	})
	require.NoError(t, err)

	clock.Advance(5 * time.Minute)

	// Second call jumps to the finish, which should register as a fresh
	// crossing of the finish checkpoint. The intermediate checkpoints (at
	// about 1000 m and 2000 m) lie outside the radius of this fix and are
	// not reported.
	resp, err := p.Correct(context.Background(), Request{
		EventID: 1, EventDetailID: 1, UserID: 7,
		EventStartUnix: &eventStart,
		GPSData: []Sample{{Lat: 37.0200, Lng: 127.0000, Timestamp: unixStr(clock.Now())}},
	})
	require.NoError(t, err)
	require.NotEmpty(t, resp.CheckpointReaches)

	last := resp.CheckpointReaches[len(resp.CheckpointReaches)-1]
	assert.Equal(t, "FINISH", last.CheckpointID)
	require.NotNil(t, last.CumulativeDurationSec)
	assert.InDelta(t, time.Hour.Seconds()+5*time.Minute.Seconds(), *last.CumulativeDurationSec, 1)
}

func TestCorrect_SameParticipantSerializedAcrossCalls(t *testing.T) {
	p, clock := newTestPipeline(t)
	eventStart := clock.Now().Add(-1 * time.Hour).Unix()

	done := make(chan error, 2)
	for i := 0; i < 2; i++ {
		go func(n int) {
			_, err := p.Correct(context.Background(), Request{
				EventID: 1, EventDetailID: 1, UserID: 42,
				EventStartUnix: &eventStart,
				GPSData:        []Sample{{Lat: 37.0010, Lng: 127.0, Timestamp: unixStr(clock.Now())}},
			})
			done <- err
		}(i)
	}
	for i := 0; i < 2; i++ {
		require.NoError(t, <-done)
	}
}

func TestCorrect_CancelledContextReturnsTransient(t *testing.T) {
	p, clock := newTestPipeline(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := p.Correct(ctx, Request{
		EventID: 1, EventDetailID: 1, UserID: 1,
		GPSData: []Sample{{Lat: 37.001, Lng: 127.0, Timestamp: unixStr(clock.Now())}},
	})
	require.Error(t, err)
	var pErr *Error
	require.ErrorAs(t, err, &pErr)
	assert.Equal(t, KindTransient, pErr.Kind)
}

func TestCorrect_RecentQualityAccumulates(t *testing.T) {
	p, clock := newTestPipeline(t)
	eventStart := clock.Now().Add(-1 * time.Hour).Unix()

	_, err := p.Correct(context.Background(), Request{
		EventID: 1, EventDetailID: 1, UserID: 1,
		EventStartUnix: &eventStart,
		GPSData:        []Sample{{Lat: 37.001, Lng: 127.0, Timestamp: unixStr(clock.Now())}},
	})
	require.NoError(t, err)

	recent := p.RecentQuality(1)
	require.Len(t, recent, 1)
	assert.NotEmpty(t, recent[0].Grade)
}
