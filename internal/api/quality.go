package api

import (
	"net/http"
	"sort"

	"gonum.org/v1/gonum/stat"

	"github.com/banshee-data/racecore/internal/httputil"
)

type qualityAggregateResponse struct {
	EventDetailID int64   `json:"eventDetailId"`
	SampleCount   int     `json:"sampleCount"`
	P50Score      float64 `json:"p50Score"`
	P85Score      float64 `json:"p85Score"`
	P98Score      float64 `json:"p98Score"`
	MeanScore     float64 `json:"meanScore"`
	GradeCounts   map[string]int `json:"gradeCounts"`
}

// handleQuality aggregates the recent matching-quality samples for one
// event detail into the percentile summary an ops dashboard would poll.
func (s *Server) handleQuality(w http.ResponseWriter, r *http.Request, eventDetailID int64) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}

	samples := s.Pipeline.RecentQuality(eventDetailID)
	if len(samples) == 0 {
		httputil.WriteJSONOK(w, qualityAggregateResponse{
			EventDetailID: eventDetailID,
			GradeCounts:   map[string]int{},
		})
		return
	}

	scores := make([]float64, len(samples))
	grades := make(map[string]int)
	sum := 0.0
	for i, smp := range samples {
		scores[i] = smp.Score
		grades[smp.Grade]++
		sum += smp.Score
	}
	sort.Float64s(scores)

	httputil.WriteJSONOK(w, qualityAggregateResponse{
		EventDetailID: eventDetailID,
		SampleCount:   len(scores),
		P50Score:      stat.Quantile(0.5, stat.Empirical, scores, nil),
		P85Score:      stat.Quantile(0.85, stat.Empirical, scores, nil),
		P98Score:      stat.Quantile(0.98, stat.Empirical, scores, nil),
		MeanScore:     sum / float64(len(scores)),
		GradeCounts:   grades,
	})
}
