package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/banshee-data/racecore/internal/httputil"
	"github.com/banshee-data/racecore/internal/pipeline"
)

// flexTimestamp accepts either a JSON string or a bare JSON number for the
// gpsData[].timestamp field, deferring the actual parsing of either form to
// pipeline.ParseTimestamp.
type flexTimestamp string

func (f *flexTimestamp) UnmarshalJSON(data []byte) error {
	if len(data) >= 2 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = flexTimestamp(s)
		return nil
	}
	*f = flexTimestamp(data)
	return nil
}

type gpsSampleRequest struct {
	Lat       float64       `json:"lat"`
	Lng       float64       `json:"lng"`
	Altitude  *float64      `json:"altitude"`
	Accuracy  *float64      `json:"accuracy"`
	Speed     *float64      `json:"speed"`
	Heading   *float64      `json:"heading"`
	Timestamp flexTimestamp `json:"timestamp"`
}

type correctionRequest struct {
	UserID        int64              `json:"userId"`
	EventID       int64              `json:"eventId"`
	EventDetailID int64              `json:"eventDetailId"`
	GPSData       []gpsSampleRequest `json:"gpsData"`
}

type checkpointReachResponse struct {
	CheckpointID          string `json:"checkpointId"`
	CheckpointIndex       int    `json:"checkpointIndex"`
	PassTime              int64  `json:"passTime"`
	SegmentDurationSec    *int64 `json:"segmentDurationSec"`
	CumulativeDurationSec *int64 `json:"cumulativeDurationSec"`
}

type nearestRoutePointResponse struct {
	Lat               float64 `json:"lat"`
	Lng               float64 `json:"lng"`
	DistanceToPoint   float64 `json:"distanceToPoint"`
	DistanceFromStart float64 `json:"distanceFromStart"`
	RouteProgress     float64 `json:"routeProgress"`
	RouteBearing      float64 `json:"routeBearing"`
}

type matchingQualityResponse struct {
	Matched            bool     `json:"matched"`
	MatchScore         float64  `json:"matchScore"`
	BearingDifference  *float64 `json:"bearingDifference"`
	GPSConfidence      float64  `json:"gpsConfidence"`
	CorrectionStrength float64  `json:"correctionStrength"`
	QualityGrade       string   `json:"qualityGrade"`
}

type correctionResponse struct {
	UserID            int64                      `json:"userId"`
	EventID           int64                      `json:"eventId"`
	EventDetailID     int64                      `json:"eventDetailId"`
	Latitude          float64                    `json:"latitude"`
	Longitude         float64                    `json:"longitude"`
	Altitude          *float64                   `json:"altitude"`
	Timestamp         string                     `json:"timestamp"`
	CheckpointReaches []checkpointReachResponse  `json:"checkpointReaches"`
	NearestRoutePoint *nearestRoutePointResponse `json:"nearestRoutePoint"`
	MatchingQuality   matchingQualityResponse    `json:"matchingQuality"`
}

func secondsPtr(f *float64) *int64 {
	if f == nil {
		return nil
	}
	v := int64(*f + 0.5)
	return &v
}

// handleCorrect implements the correction endpoint: it decodes the request
// batch, hands it to the pipeline, and maps the pipeline's typed error
// kinds onto HTTP status codes.
func (s *Server) handleCorrect(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}

	var req correctionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.BadRequest(w, "invalid JSON body: "+err.Error())
		return
	}

	samples := make([]pipeline.Sample, 0, len(req.GPSData))
	for _, g := range req.GPSData {
		samples = append(samples, pipeline.Sample{
			Lat:       g.Lat,
			Lng:       g.Lng,
			Alt:       g.Altitude,
			Accuracy:  g.Accuracy,
			Speed:     g.Speed,
			Heading:   g.Heading,
			Timestamp: string(g.Timestamp),
		})
	}

	resp, err := s.Pipeline.Correct(r.Context(), pipeline.Request{
		EventID:       req.EventID,
		EventDetailID: req.EventDetailID,
		UserID:        req.UserID,
		GPSData:       samples,
	})
	if err != nil {
		writePipelineError(w, err)
		return
	}

	var echoTimestamp string
	if len(req.GPSData) > 0 {
		echoTimestamp = string(req.GPSData[len(req.GPSData)-1].Timestamp)
	}

	out := correctionResponse{
		UserID:        req.UserID,
		EventID:       req.EventID,
		EventDetailID: req.EventDetailID,
		Latitude:      resp.CorrectedLat,
		Longitude:     resp.CorrectedLng,
		Altitude:      resp.CorrectedAlt,
		Timestamp:     echoTimestamp,
		MatchingQuality: matchingQualityResponse{
			Matched:            resp.Quality.Matched,
			MatchScore:         resp.Quality.MatchScore,
			BearingDifference:  resp.Quality.BearingDifference,
			GPSConfidence:      resp.Quality.GPSConfidence,
			CorrectionStrength: resp.Quality.CorrectionStrength,
			QualityGrade:       resp.Quality.Grade,
		},
	}

	if resp.NearestRoutePoint != nil {
		out.NearestRoutePoint = &nearestRoutePointResponse{
			Lat:               resp.NearestRoutePoint.Lat,
			Lng:               resp.NearestRoutePoint.Lng,
			DistanceToPoint:   resp.NearestRoutePoint.DistanceMeters,
			DistanceFromStart: resp.NearestRoutePoint.DistanceFromStart,
			RouteProgress:     resp.NearestRoutePoint.RouteProgress,
			RouteBearing:      resp.NearestRoutePoint.RouteBearing,
		}
	}

	for _, c := range resp.CheckpointReaches {
		out.CheckpointReaches = append(out.CheckpointReaches, checkpointReachResponse{
			CheckpointID:          c.CheckpointID,
			CheckpointIndex:       c.CheckpointIndex,
			PassTime:              c.PassTimeUnix,
			SegmentDurationSec:    secondsPtr(c.SegmentDurationSec),
			CumulativeDurationSec: secondsPtr(c.CumulativeDurationSec),
		})
	}

	httputil.WriteJSONOK(w, out)
}

// writePipelineError maps a pipeline.Error's Kind to its HTTP status.
func writePipelineError(w http.ResponseWriter, err error) {
	var pErr *pipeline.Error
	if !errors.As(err, &pErr) {
		httputil.InternalServerError(w, err.Error())
		return
	}
	switch pErr.Kind {
	case pipeline.KindInvalidInput:
		httputil.BadRequest(w, pErr.Error())
	case pipeline.KindNotFound:
		httputil.NotFound(w, pErr.Error())
	case pipeline.KindTransient:
		httputil.ServiceUnavailable(w, pErr.Error())
	default:
		httputil.InternalServerError(w, pErr.Error())
	}
}
