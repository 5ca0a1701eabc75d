package pipeline

import (
	"context"
	"time"

	"github.com/banshee-data/racecore/internal/checkpoint"
	"github.com/banshee-data/racecore/internal/geo"
	"github.com/banshee-data/racecore/internal/kalman"
	"github.com/banshee-data/racecore/internal/match"
	"github.com/banshee-data/racecore/internal/monitoring"
	"github.com/banshee-data/racecore/internal/route"
	"github.com/banshee-data/racecore/internal/store"
	"github.com/banshee-data/racecore/internal/timeutil"
)

// Config bundles the tuning for every stage the pipeline drives. It is
// ordinarily built from internal/config.CorrectionConfig's Get* accessors
// rather than constructed directly.
type Config struct {
	Kalman     kalman.Config
	Match      match.Config
	Checkpoint checkpoint.Config

	LeaderboardK int64

	LocationTTL     time.Duration
	PrevPositionTTL time.Duration
	LeaderboardTTL  time.Duration
	// StoreCallTimeout bounds each individual store call a correction makes;
	// a call past its deadline is logged and degraded around, not fatal.
	StoreCallTimeout time.Duration
}

// DefaultConfig returns the reference tuning for every stage.
func DefaultConfig() Config {
	return Config{
		Kalman:           kalman.DefaultConfig(),
		Match:            match.DefaultConfig(),
		Checkpoint:       checkpoint.DefaultConfig(),
		LeaderboardK:     store.DefaultLeaderboardScoreK,
		LocationTTL:      store.DefaultLocationTTL,
		PrevPositionTTL:  store.DefaultPrevPositionTTL,
		LeaderboardTTL:   store.DefaultLeaderboardTTL,
		StoreCallTimeout: 200 * time.Millisecond,
	}
}

// fallbackEventStartOffset is how far back of the last sample's timestamp
// the pipeline assumes an event started when the caller supplies no
// EventStartUnix at all. This only engages in degraded mode: every
// production caller is expected to pass the event detail's actual
// configured start time, since SegmentTimer itself refuses to guess one
// (see internal/checkpoint.SegmentTimer).
const fallbackEventStartOffset = 12 * time.Hour

// Pipeline is CorrectionPipeline: the per-call orchestrator that folds a
// participant's GPS batch through the Kalman filter, the map matcher, and
// the checkpoint detector, and persists the result via store.Store. A
// single Pipeline is shared across all participants and events; the
// per-(eventDetailId, userId) serialisation comes from
// store.Store.WithParticipantLock, not from any state held here.
type Pipeline struct {
	Store   *store.Store
	Clock   timeutil.Clock
	Cfg     Config
	quality *qualityRing
}

// New builds a Pipeline over an already-open store.
func New(s *store.Store, clock timeutil.Clock, cfg Config) *Pipeline {
	return &Pipeline{Store: s, Clock: clock, Cfg: cfg, quality: newQualityRing()}
}

// Sample is one GPS fix in a correction request's batch.
type Sample struct {
	Lat, Lng float64
	Alt      *float64
	Accuracy *float64
	Speed    *float64
	Heading  *float64
	// Timestamp is the raw wire value already coerced to a string by the
	// API layer (see ParseTimestamp for the accepted forms).
	Timestamp string
}

// Request is one correct() call: a batch of GPS fixes for a single
// participant within a single event detail.
type Request struct {
	EventID       int64
	EventDetailID int64
	UserID        int64
	GPSData       []Sample
	// EventStartUnix is the event detail's configured start time. Required
	// for correct SegmentTimer behaviour; if nil the pipeline falls back to
	// the last sample's timestamp minus fallbackEventStartOffset and logs a
	// degraded-mode warning.
	EventStartUnix *int64
}

// CheckpointReach is one checkpoint crossing detected during this call.
type CheckpointReach struct {
	CheckpointID          string
	CheckpointIndex       int
	PassTimeUnix          int64
	SegmentDurationSec    *float64
	CumulativeDurationSec *float64
}

// NearestRoutePoint echoes the map matcher's snap, for clients that want to
// render the corrected fix against the route geometry.
type NearestRoutePoint struct {
	Lat, Lng          float64
	DistanceFromStart float64
	DistanceMeters    float64
	RouteProgress     float64
	RouteBearing      float64
}

// MatchingQuality is the per-call quality assessment returned to clients.
type MatchingQuality struct {
	Matched bool
	// MatchScore is the map matcher's raw distance+bearing score, not the
	// 0..100 composite below.
	MatchScore float64
	// BearingDifference is nil when there was no route to match against.
	BearingDifference *float64
	// GPSConfidence is the derived Kalman update weight for the last sample.
	GPSConfidence float64
	// CorrectionStrength is the bucketed haversine(raw, corrected) distance
	// in [0,1], not the raw meters.
	CorrectionStrength float64
	Score              float64
	Grade              string
}

// Response is correct()'s result.
type Response struct {
	CorrectedLat, CorrectedLng float64
	CorrectedAlt               *float64

	Matched       bool
	RouteProgress float64

	DistanceCoveredMeters float64
	CumulativeTimeSeconds float64

	NearestRoutePoint *NearestRoutePoint
	CheckpointReaches []CheckpointReach

	Quality MatchingQuality
}

func isValidCoordinate(lat, lng float64) bool {
	return lat >= -90 && lat <= 90 && lng >= -180 && lng <= 180
}

// storeCtx derives the per-store-call deadline from ctx, so one slow or
// wedged store call cannot hold a correction past its budget.
func (p *Pipeline) storeCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	timeout := p.Cfg.StoreCallTimeout
	if timeout <= 0 {
		timeout = DefaultConfig().StoreCallTimeout
	}
	return context.WithTimeout(ctx, timeout)
}

// cancelled reports ctx's error as a transient pipeline error, or nil if
// the call may keep going. Checked between pipeline steps; persistence
// already performed stays (writes are idempotent and first-crossing-wins).
func cancelled(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return newError(KindTransient, "correction cancelled", err)
	}
	return nil
}

// Correct runs one correction call end to end: validate, route lookup,
// Kalman fold, map match, checkpoint detect, persist, leaderboard update,
// respond. Two concurrent Correct calls for the same (EventDetailID, UserID)
// are serialised by store.Store.WithParticipantLock so their effects compose
// as if run one after the other. Every store call made along the way carries
// the configured StoreCallTimeout on top of ctx, and cancellation of ctx is
// honoured between steps.
func (p *Pipeline) Correct(ctx context.Context, req Request) (*Response, error) {
	if len(req.GPSData) == 0 {
		return nil, newError(KindInvalidInput, "gps batch is empty", nil)
	}
	for _, s := range req.GPSData {
		if !isValidCoordinate(s.Lat, s.Lng) {
			return nil, newError(KindInvalidInput, "coordinate out of range", nil)
		}
	}

	var resp *Response
	err := p.Store.WithParticipantLock(req.EventDetailID, req.UserID, func() error {
		var innerErr error
		resp, innerErr = p.correctLocked(ctx, req)
		return innerErr
	})
	if err != nil {
		return nil, err
	}
	return resp, nil
}

func (p *Pipeline) correctLocked(ctx context.Context, req Request) (*Response, error) {
	if err := cancelled(ctx); err != nil {
		return nil, err
	}

	rctx, cancel := p.storeCtx(ctx)
	rt, err := p.Store.GetRoute(rctx, req.EventID, req.EventDetailID)
	cancel()
	if err != nil {
		monitoring.Logf("pipeline: get route failed, continuing unmatched: %v", err)
		rt = nil
	}

	filter := kalman.NewFilter3D(p.Cfg.Kalman)
	last := req.GPSData[len(req.GPSData)-1]
	for _, s := range req.GPSData {
		confidence := kalman.DeriveConfidence(s.Accuracy, s.Speed)
		filter.Update(s.Lat, s.Lng, s.Alt, confidence)
	}
	correctedLat, correctedLng, correctedAlt := filter.CurrentPosition()
	lastConfidence := kalman.DeriveConfidence(last.Accuracy, last.Speed)

	correctionStrength, err := geo.Distance(last.Lat, last.Lng, correctedLat, correctedLng)
	if err != nil {
		return nil, newError(KindInternal, "compute correction strength", err)
	}

	passedAt, err := ParseTimestamp(last.Timestamp)
	if err != nil {
		passedAt = p.Clock.Now()
		monitoring.Logf("pipeline: unparseable timestamp %q, using wall clock: %v", last.Timestamp, err)
	}

	resp := &Response{
		CorrectedLat: correctedLat,
		CorrectedLng: correctedLng,
		CorrectedAlt: correctedAlt,
	}

	var matchRes match.Result
	var matched bool
	var distanceFromStart float64
	var bearingDifference *float64
	haveRoute := rt != nil

	if haveRoute {
		heading := 0.0
		if last.Heading != nil {
			heading = *last.Heading
		}
		matchRes, err = match.Match(correctedLat, correctedLng, heading, rt, p.Cfg.Match)
		if err != nil {
			monitoring.Logf("pipeline: match failed, continuing unmatched: %v", err)
			haveRoute = false
		} else {
			matched = matchRes.Matched
			distanceFromStart = matchRes.DistanceFromStart
			resp.Matched = matched
			resp.RouteProgress = matchRes.RouteProgress
			resp.NearestRoutePoint = &NearestRoutePoint{
				Lat:               matchRes.FootLat,
				Lng:               matchRes.FootLng,
				DistanceFromStart: matchRes.DistanceFromStart,
				DistanceMeters:    matchRes.DistanceMeters,
				RouteProgress:     matchRes.RouteProgress,
				RouteBearing:      matchRes.RouteBearing,
			}
			bd := matchRes.BearingDifference
			bearingDifference = &bd
		}
	}

	// Filter and matcher are done; from here every write is individually
	// wrapped, and cancellation between steps leaves prior writes in place.
	if err := cancelled(ctx); err != nil {
		return nil, err
	}

	if haveRoute {
		resp.CheckpointReaches = p.detectAndRecordCrossings(ctx, req, rt, correctedLat, correctedLng, passedAt)
	}

	if err := cancelled(ctx); err != nil {
		return nil, err
	}

	ppCtx, ppCancel := p.storeCtx(ctx)
	err = p.Store.WritePreviousPosition(ppCtx, store.PreviousPosition{
		EventID:           req.EventID,
		EventDetailID:     req.EventDetailID,
		UserID:            req.UserID,
		Lat:               correctedLat,
		Lng:               correctedLng,
		Elevation:         correctedAlt,
		TimestampSec:      passedAt.Unix(),
		DistanceFromStart: distFromStartPtr(haveRoute, distanceFromStart),
	}, p.Cfg.PrevPositionTTL)
	ppCancel()
	if err != nil {
		monitoring.Logf("pipeline: write previous position failed: %v", err)
	}

	locCtx, locCancel := p.storeCtx(ctx)
	loc, err := p.Store.WriteLocation(locCtx, store.ParticipantLocation{
		EventID:       req.EventID,
		EventDetailID: req.EventDetailID,
		UserID:        req.UserID,
		RawLat:        last.Lat,
		RawLng:        last.Lng,
		RawAlt:        last.Alt,
		RawAccuracy:   last.Accuracy,
		RawSpeed:      last.Speed,
		RawHeading:    last.Heading,
		RawTimeSec:    passedAt.Unix(),
		CorrectedLat:  correctedLat,
		CorrectedLng:  correctedLng,
		CorrectedAlt:  correctedAlt,
	}, distanceFromStart, p.Cfg.LocationTTL)
	locCancel()
	if err != nil {
		monitoring.Logf("pipeline: write location failed: %v", err)
	} else {
		resp.DistanceCoveredMeters = loc.DistanceCovered
		resp.CumulativeTimeSeconds = loc.CumulativeTimeSec
	}

	cpIndex, cumulativeTime := p.leaderboardProgress(ctx, req, loc)
	lbCtx, lbCancel := p.storeCtx(ctx)
	if err := p.Store.UpdateLeaderboard(lbCtx, req.EventID, req.EventDetailID, req.UserID, cpIndex, cumulativeTime,
		p.Cfg.LeaderboardK, p.Cfg.LeaderboardTTL); err != nil {
		monitoring.Logf("pipeline: update leaderboard failed: %v", err)
	}
	lbCancel()

	resp.Quality.Matched = matched
	resp.Quality.MatchScore = matchRes.Score
	resp.Quality.BearingDifference = bearingDifference
	resp.Quality.GPSConfidence = lastConfidence
	resp.Quality.CorrectionStrength = bucketCorrectionStrength(correctionStrength)
	resp.Quality.Score = compositeScore(matched, matchRes.Score, p.Cfg.Match.MatchThreshold, lastConfidence, correctionStrength)
	resp.Quality.Grade = GradeFromScore(resp.Quality.Score)
	p.quality.record(req.EventDetailID, QualitySample{Score: resp.Quality.Score, Grade: resp.Quality.Grade})

	return resp, nil
}

func distFromStartPtr(haveRoute bool, v float64) *float64 {
	if !haveRoute {
		return nil
	}
	out := v
	return &out
}

// eventStart resolves the event detail's start time for SegmentTimer,
// falling back to passedAt minus fallbackEventStartOffset (and logging the
// degradation) when the caller supplied none.
func (p *Pipeline) eventStart(req Request, passedAt time.Time) time.Time {
	if req.EventStartUnix != nil {
		return time.Unix(*req.EventStartUnix, 0).UTC()
	}
	monitoring.Logf("pipeline: event %d detail %d has no configured start time, assuming %s before last sample",
		req.EventID, req.EventDetailID, fallbackEventStartOffset)
	return passedAt.Add(-fallbackEventStartOffset)
}

// detectAndRecordCrossings runs crossing detection against the
// participant's stored previous position, records any new crossings'
// canonical pass times, and derives segment/cumulative durations for them
// via SegmentTimer, persisting everything through store.Store.
func (p *Pipeline) detectAndRecordCrossings(ctx context.Context, req Request, rt *route.Route, correctedLat, correctedLng float64, passedAt time.Time) []CheckpointReach {
	prevCtx, prevCancel := p.storeCtx(ctx)
	prevPP, err := p.Store.ReadPreviousPosition(prevCtx, req.EventID, req.EventDetailID, req.UserID)
	prevCancel()
	if err != nil {
		// Timeout or store failure degrades to first-sample semantics.
		monitoring.Logf("pipeline: read previous position failed: %v", err)
	}

	var prevPos *checkpoint.Position
	if prevPP != nil {
		prevPos = &checkpoint.Position{Lat: prevPP.Lat, Lng: prevPP.Lng}
	}
	curPos := checkpoint.Position{Lat: correctedLat, Lng: correctedLng}

	crossings, err := checkpoint.Detect(prevPos, curPos, rt, p.Cfg.Checkpoint)
	if err != nil {
		monitoring.Logf("pipeline: checkpoint detect failed: %v", err)
		return nil
	}
	if len(crossings) == 0 {
		return nil
	}

	listCtx, listCancel := p.storeCtx(ctx)
	existingPasses, err := p.Store.ListCheckpointPasses(listCtx, req.EventDetailID, req.UserID)
	listCancel()
	if err != nil {
		monitoring.Logf("pipeline: list checkpoint passes failed: %v", err)
	}

	var latestPassedAt time.Time
	var latestPassedUnix int64
	for _, cp := range existingPasses {
		if cp.PassedUnix > latestPassedUnix {
			latestPassedUnix = cp.PassedUnix
		}
	}
	if latestPassedUnix > 0 {
		latestPassedAt = time.Unix(latestPassedUnix, 0).UTC()
	}

	timer := checkpoint.SegmentTimer{EventStart: p.eventStart(req, passedAt)}

	var out []CheckpointReach
	for _, c := range crossings {
		passCtx, passCancel := p.storeCtx(ctx)
		canonicalUnix, recorded, err := p.Store.RecordCheckpointPass(passCtx, req.EventID, req.EventDetailID, req.UserID,
			c.CheckpointID, c.CheckpointIndex, passedAt.Unix())
		passCancel()
		if err != nil {
			monitoring.Logf("pipeline: record checkpoint pass failed: %v", err)
			continue
		}
		if !recorded {
			// Another concurrent call already recorded this crossing; this
			// call contributes nothing new for it.
			continue
		}

		canonicalAt := time.Unix(canonicalUnix, 0).UTC()
		elapsed, timerErr := timer.Compute(latestPassedAt, canonicalAt)

		reach := CheckpointReach{
			CheckpointID:    c.CheckpointID,
			CheckpointIndex: c.CheckpointIndex,
			PassTimeUnix:    canonicalUnix,
		}
		segCtx, segCancel := p.storeCtx(ctx)
		if timerErr != nil {
			monitoring.Logf("pipeline: checkpoint %s duration rejected: %v", c.CheckpointID, timerErr)
			if err := p.Store.WriteSegmentRecord(segCtx, req.EventID, req.EventDetailID, req.UserID, c.CheckpointID, c.CheckpointIndex, nil, nil); err != nil {
				monitoring.Logf("pipeline: write segment record failed: %v", err)
			}
		} else {
			segSec := elapsed.SegmentDuration.Seconds()
			cumSec := elapsed.CumulativeDuration.Seconds()
			reach.SegmentDurationSec = &segSec
			reach.CumulativeDurationSec = &cumSec
			if err := p.Store.WriteSegmentRecord(segCtx, req.EventID, req.EventDetailID, req.UserID, c.CheckpointID, c.CheckpointIndex, &segSec, &cumSec); err != nil {
				monitoring.Logf("pipeline: write segment record failed: %v", err)
			}
			latestPassedAt = canonicalAt
		}
		segCancel()

		out = append(out, reach)
	}

	return out
}

// leaderboardProgress determines the (checkpointIndex, cumulativeTimeSec)
// pair to score into the leaderboard: the furthest checkpoint the
// participant has ever reached and its cumulative duration, or (0,
// loc.CumulativeTimeSec) if they have not reached any checkpoint yet.
func (p *Pipeline) leaderboardProgress(ctx context.Context, req Request, loc store.ParticipantLocation) (cpIndex int64, cumulativeTime float64) {
	listCtx, listCancel := p.storeCtx(ctx)
	passes, err := p.Store.ListCheckpointPasses(listCtx, req.EventDetailID, req.UserID)
	listCancel()
	if err != nil {
		monitoring.Logf("pipeline: list checkpoint passes for leaderboard failed: %v", err)
	}
	if len(passes) == 0 {
		return 0, loc.CumulativeTimeSec
	}

	best := passes[len(passes)-1]
	recCtx, recCancel := p.storeCtx(ctx)
	rec, err := p.Store.GetSegmentRecord(recCtx, req.EventDetailID, req.UserID, best.CheckpointID)
	recCancel()
	if err != nil {
		monitoring.Logf("pipeline: get segment record for leaderboard failed: %v", err)
	}
	cum := 0.0
	if rec != nil && rec.CumulativeDurationSec != nil {
		cum = *rec.CumulativeDurationSec
	}
	return int64(best.CheckpointIndex), cum
}

// RecentQuality returns the recent MatchingQuality samples recorded for an
// event detail, oldest first, for the quality-aggregate endpoint.
func (p *Pipeline) RecentQuality(eventDetailID int64) []QualitySample {
	return p.quality.recent(eventDetailID)
}
