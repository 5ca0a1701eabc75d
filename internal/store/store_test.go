package store

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/racecore/internal/route"
	"github.com/banshee-data/racecore/internal/timeutil"
)

const twoPointGPX = `<?xml version="1.0"?>
<gpx version="1.1" creator="test"><trk><trkseg>
<trkpt lat="37.0000" lon="127.0000"></trkpt>
<trkpt lat="37.0100" lon="127.0000"></trkpt>
</trkseg></trk></gpx>`

var ctx = context.Background()

func newTestStore(t *testing.T) (*Store, *timeutil.MockClock) {
	t.Helper()
	clock := timeutil.NewMockClock(time.Date(2026, 6, 14, 8, 0, 0, 0, time.UTC))
	s, err := OpenInMemory(clock)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s, clock
}

func TestLoadRoute_RoundTrip(t *testing.T) {
	s, _ := newTestStore(t)

	summary, err := s.LoadRoute(ctx, 10, 11, []byte(twoPointGPX), route.DefaultConfig(), 0)
	require.NoError(t, err)
	assert.NotEmpty(t, summary.RevisionID)
	assert.Greater(t, summary.TotalDistance, 1000.0)

	got, err := s.GetRoute(ctx, 10, 11)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, summary.RevisionID, got.RevisionID)
	assert.Len(t, got.Points, summary.PointCount)

	byEvent, err := s.GetRouteByEventID(ctx, 10)
	require.NoError(t, err)
	require.NotNil(t, byEvent)
	assert.Equal(t, int64(11), byEvent.EventDetailID)
}

func TestLoadRoute_ReplaceAssignsNewRevision(t *testing.T) {
	s, _ := newTestStore(t)

	first, err := s.LoadRoute(ctx, 10, 11, []byte(twoPointGPX), route.DefaultConfig(), 0)
	require.NoError(t, err)
	second, err := s.LoadRoute(ctx, 10, 11, []byte(twoPointGPX), route.DefaultConfig(), 0)
	require.NoError(t, err)
	assert.NotEqual(t, first.RevisionID, second.RevisionID)

	got, err := s.GetRoute(ctx, 10, 11)
	require.NoError(t, err)
	assert.Equal(t, second.RevisionID, got.RevisionID)
}

func TestLoadRoute_InvalidGPXLeavesOtherRoutesUntouched(t *testing.T) {
	s, _ := newTestStore(t)

	_, err := s.LoadRoute(ctx, 10, 11, []byte(twoPointGPX), route.DefaultConfig(), 0)
	require.NoError(t, err)

	_, err = s.LoadRoute(ctx, 10, 12, []byte("one hundred bytes of garbage, certainly not xml"), route.DefaultConfig(), 0)
	require.Error(t, err)

	missing, err := s.GetRoute(ctx, 10, 12)
	require.NoError(t, err)
	assert.Nil(t, missing)

	existing, err := s.GetRoute(ctx, 10, 11)
	require.NoError(t, err)
	assert.NotNil(t, existing)
}

func TestGetRoute_ExpiredRouteIsGone(t *testing.T) {
	s, clock := newTestStore(t)

	_, err := s.LoadRoute(ctx, 10, 11, []byte(twoPointGPX), route.DefaultConfig(), time.Hour)
	require.NoError(t, err)

	clock.Advance(2 * time.Hour)
	got, err := s.GetRoute(ctx, 10, 11)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestDeleteRoute(t *testing.T) {
	s, _ := newTestStore(t)
	_, err := s.LoadRoute(ctx, 10, 11, []byte(twoPointGPX), route.DefaultConfig(), 0)
	require.NoError(t, err)

	require.NoError(t, s.DeleteRoute(ctx, 10, 11))
	got, err := s.GetRoute(ctx, 10, 11)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestRecordCheckpointPass_FirstCrossingWins(t *testing.T) {
	s, _ := newTestStore(t)

	canonical, recorded, err := s.RecordCheckpointPass(ctx, 1, 2, 3, "CP1", 1, 1000)
	require.NoError(t, err)
	assert.True(t, recorded)
	assert.Equal(t, int64(1000), canonical)

	// A later write for the same checkpoint keeps the original timestamp.
	canonical, recorded, err = s.RecordCheckpointPass(ctx, 1, 2, 3, "CP1", 1, 2000)
	require.NoError(t, err)
	assert.False(t, recorded)
	assert.Equal(t, int64(1000), canonical)

	passes, err := s.ListCheckpointPasses(ctx, 2, 3)
	require.NoError(t, err)
	require.Len(t, passes, 1)
	assert.Equal(t, int64(1000), passes[0].PassedUnix)
}

func TestListCheckpointPasses_OrderedByIndex(t *testing.T) {
	s, _ := newTestStore(t)

	_, _, err := s.RecordCheckpointPass(ctx, 1, 2, 3, "CP2", 2, 3000)
	require.NoError(t, err)
	_, _, err = s.RecordCheckpointPass(ctx, 1, 2, 3, "START", 0, 1000)
	require.NoError(t, err)
	_, _, err = s.RecordCheckpointPass(ctx, 1, 2, 3, "CP1", 1, 2000)
	require.NoError(t, err)

	passes, err := s.ListCheckpointPasses(ctx, 2, 3)
	require.NoError(t, err)
	require.Len(t, passes, 3)
	assert.Equal(t, []string{"START", "CP1", "CP2"},
		[]string{passes[0].CheckpointID, passes[1].CheckpointID, passes[2].CheckpointID})
}

func TestSegmentRecord_NullableDurations(t *testing.T) {
	s, _ := newTestStore(t)

	require.NoError(t, s.WriteSegmentRecord(ctx, 1, 2, 3, "CP1", 1, nil, nil))
	rec, err := s.GetSegmentRecord(ctx, 2, 3, "CP1")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Nil(t, rec.SegmentDurationSec)
	assert.Nil(t, rec.CumulativeDurationSec)

	seg := 300.0
	cum := 900.0
	require.NoError(t, s.WriteSegmentRecord(ctx, 1, 2, 3, "CP1", 1, &seg, &cum))
	rec, err = s.GetSegmentRecord(ctx, 2, 3, "CP1")
	require.NoError(t, err)
	require.NotNil(t, rec.SegmentDurationSec)
	assert.Equal(t, 300.0, *rec.SegmentDurationSec)
	assert.Equal(t, 900.0, *rec.CumulativeDurationSec)
}

func TestWriteLocation_FirstFixSeedsFromMatch(t *testing.T) {
	s, clock := newTestStore(t)

	loc, err := s.WriteLocation(ctx, ParticipantLocation{
		EventID: 1, EventDetailID: 2, UserID: 3,
		RawLat: 37.0, RawLng: 127.0, RawTimeSec: clock.Now().Unix(),
		CorrectedLat: 37.0, CorrectedLng: 127.0,
	}, 250.0, 0)
	require.NoError(t, err)
	assert.Equal(t, 250.0, loc.DistanceCovered)
	assert.Equal(t, 0.0, loc.CumulativeTimeSec)
}

func TestWriteLocation_AccumulatesMonotonically(t *testing.T) {
	s, clock := newTestStore(t)

	base := clock.Now().Unix()
	_, err := s.WriteLocation(ctx, ParticipantLocation{
		EventID: 1, EventDetailID: 2, UserID: 3,
		RawLat: 37.0, RawLng: 127.0, RawTimeSec: base,
		CorrectedLat: 37.0, CorrectedLng: 127.0,
	}, 0, 0)
	require.NoError(t, err)

	// ~0.001 degrees of latitude is roughly 111m further north, 60s later.
	loc, err := s.WriteLocation(ctx, ParticipantLocation{
		EventID: 1, EventDetailID: 2, UserID: 3,
		RawLat: 37.001, RawLng: 127.0, RawTimeSec: base + 60,
		CorrectedLat: 37.001, CorrectedLng: 127.0,
	}, 0, 0)
	require.NoError(t, err)
	assert.InDelta(t, 111, loc.DistanceCovered, 2)
	assert.Equal(t, 60.0, loc.CumulativeTimeSec)

	// A sample with an earlier raw time adds zero, never negative.
	loc, err = s.WriteLocation(ctx, ParticipantLocation{
		EventID: 1, EventDetailID: 2, UserID: 3,
		RawLat: 37.001, RawLng: 127.0, RawTimeSec: base + 30,
		CorrectedLat: 37.001, CorrectedLng: 127.0,
	}, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, 60.0, loc.CumulativeTimeSec)
	assert.GreaterOrEqual(t, loc.DistanceCovered, 111.0)
}

func TestPreviousPosition_RoundTripAndOverwrite(t *testing.T) {
	s, _ := newTestStore(t)

	elev := 42.0
	require.NoError(t, s.WritePreviousPosition(ctx, PreviousPosition{
		EventID: 1, EventDetailID: 2, UserID: 3,
		Lat: 37.0, Lng: 127.0, Elevation: &elev, TimestampSec: 1000,
	}, 0))

	pp, err := s.ReadPreviousPosition(ctx, 1, 2, 3)
	require.NoError(t, err)
	require.NotNil(t, pp)
	assert.Equal(t, 37.0, pp.Lat)
	require.NotNil(t, pp.Elevation)
	assert.Equal(t, 42.0, *pp.Elevation)

	require.NoError(t, s.WritePreviousPosition(ctx, PreviousPosition{
		EventID: 1, EventDetailID: 2, UserID: 3,
		Lat: 37.5, Lng: 127.5, TimestampSec: 2000,
	}, 0))

	pp, err = s.ReadPreviousPosition(ctx, 1, 2, 3)
	require.NoError(t, err)
	assert.Equal(t, 37.5, pp.Lat)
	assert.Nil(t, pp.Elevation)
	assert.Equal(t, int64(2000), pp.TimestampSec)
}

func TestLeaderboard_FurtherCheckpointAlwaysOutranks(t *testing.T) {
	s, _ := newTestStore(t)

	// A reached checkpoint 2 slowly; B reached checkpoint 1 quickly.
	require.NoError(t, s.UpdateLeaderboard(ctx, 1, 2, 100, 2, 5000, 0, 0))
	require.NoError(t, s.UpdateLeaderboard(ctx, 1, 2, 200, 1, 10, 0, 0))

	top, err := s.TopN(ctx, 2, 10)
	require.NoError(t, err)
	require.Len(t, top, 2)
	assert.Equal(t, int64(200), top[0].UserID)
	assert.Equal(t, int64(100), top[1].UserID)
}

func TestLeaderboard_EqualCheckpointOrderedByTime(t *testing.T) {
	s, _ := newTestStore(t)

	require.NoError(t, s.UpdateLeaderboard(ctx, 1, 2, 100, 1, 700, 0, 0))
	require.NoError(t, s.UpdateLeaderboard(ctx, 1, 2, 200, 1, 600, 0, 0))

	top, err := s.TopN(ctx, 2, 10)
	require.NoError(t, err)
	require.Len(t, top, 2)
	assert.Equal(t, int64(200), top[0].UserID)
}

func TestLeaderboard_RankAndOverwrite(t *testing.T) {
	s, _ := newTestStore(t)

	require.NoError(t, s.UpdateLeaderboard(ctx, 1, 2, 100, 0, 100, 0, 0))
	require.NoError(t, s.UpdateLeaderboard(ctx, 1, 2, 200, 1, 100, 0, 0))

	rank, ok, err := s.Rank(ctx, 2, 100)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 1, rank)

	// User 100 reaches checkpoint 2: their score is overwritten, not appended.
	require.NoError(t, s.UpdateLeaderboard(ctx, 1, 2, 100, 2, 100, 0, 0))
	rank, ok, err = s.Rank(ctx, 2, 200)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 1, rank)

	_, ok, err = s.Rank(ctx, 2, 999)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestTTLSweep_EvictsExpiredRows(t *testing.T) {
	s, clock := newTestStore(t)

	_, err := s.LoadRoute(ctx, 10, 11, []byte(twoPointGPX), route.DefaultConfig(), time.Hour)
	require.NoError(t, err)
	require.NoError(t, s.UpdateLeaderboard(ctx, 10, 11, 3, 0, 0, 0, time.Hour))

	clock.Advance(2 * time.Hour)
	w := NewTTLSweepWorker(s)
	require.NoError(t, w.RunOnce(context.Background()))

	var routes, board int
	require.NoError(t, s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM routes`).Scan(&routes))
	require.NoError(t, s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM leaderboard`).Scan(&board))
	assert.Equal(t, 0, routes)
	assert.Equal(t, 0, board)
}

func TestWithParticipantLock_SerializesSameKey(t *testing.T) {
	s, _ := newTestStore(t)

	var mu sync.Mutex
	var active, maxActive int

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := s.WithParticipantLock(7, 7, func() error {
				mu.Lock()
				active++
				if active > maxActive {
					maxActive = active
				}
				mu.Unlock()

				time.Sleep(time.Millisecond)

				mu.Lock()
				active--
				mu.Unlock()
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, maxActive, "same-participant sections overlapped")
}
