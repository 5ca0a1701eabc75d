package api

import (
	"bytes"
	"fmt"
	"net/http"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/banshee-data/racecore/internal/httputil"
	"github.com/banshee-data/racecore/internal/route"
)

// handleRouteChart renders an elevation-over-distance line chart for one
// event detail's route, with checkpoints marked as a scatter overlay.
// Mounted at /debug/route/{eventId}/{eventDetailId}/chart.
func (s *Server) handleRouteChart(w http.ResponseWriter, r *http.Request, eventID, eventDetailID int64) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}

	rt, err := s.Store.GetRoute(r.Context(), eventID, eventDetailID)
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("load route: %v", err))
		return
	}
	if rt == nil {
		httputil.NotFound(w, "no route loaded for this event detail")
		return
	}

	elevation := make([]opts.LineData, 0, len(rt.Points))
	var checkpoints []opts.ScatterData
	for _, p := range rt.Points {
		elev := 0.0
		if p.Elevation != nil {
			elev = *p.Elevation
		}
		elevation = append(elevation, opts.LineData{Value: []interface{}{p.DistanceFromStart, elev}})
		if p.Kind == route.KindCheckpoint || p.Kind == route.KindStart || p.Kind == route.KindFinish {
			checkpoints = append(checkpoints, opts.ScatterData{Value: []interface{}{p.DistanceFromStart, elev}})
		}
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Route Elevation Profile", Theme: "dark", Width: "900px", Height: "500px"}),
		charts.WithTitleOpts(opts.Title{
			Title:    "Route Elevation Profile",
			Subtitle: fmt.Sprintf("eventId=%d eventDetailId=%d points=%d distance=%.0fm", eventID, eventDetailID, len(rt.Points), rt.TotalDistance),
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Name: "Distance from start (m)", Type: "value"}),
		charts.WithYAxisOpts(opts.YAxis{Name: "Elevation (m)", Type: "value"}),
	)
	line.AddSeries("elevation", elevation)

	scatter := charts.NewScatter()
	scatter.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Route Checkpoints", Theme: "dark", Width: "900px", Height: "300px"}),
		charts.WithTitleOpts(opts.Title{Title: "Checkpoint Markers"}),
		charts.WithXAxisOpts(opts.XAxis{Name: "Distance from start (m)", Type: "value"}),
		charts.WithYAxisOpts(opts.YAxis{Name: "Elevation (m)", Type: "value"}),
	)
	scatter.AddSeries("checkpoints", checkpoints, charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 8}))

	page := components.NewPage()
	page.AddCharts(line, scatter)

	var buf bytes.Buffer
	if err := page.Render(&buf); err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("render chart: %v", err))
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}
