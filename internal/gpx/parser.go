// Package gpx reads GPX 1.1 documents into the ordered waypoint list the
// route densifier consumes. Parsing itself is delegated to tkrajina/gpxgo;
// this package only adds the acceptance rules (size cap, header sniff,
// track-then-route fallback, minimum point count).
package gpx

import (
	"bytes"
	"fmt"

	"github.com/tkrajina/gpxgo/gpx"
)

// MaxBytes is the largest GPX payload this parser will accept.
const MaxBytes = 10 * 1024 * 1024

// Waypoint is one point read off a GPX track or route, before densification.
type Waypoint struct {
	Lat       float64
	Lng       float64
	Elevation *float64 // nil if absent, or if the source value was negative (treated as missing)
}

// InvalidGPXError reports a rejected GPX document, matching the taxonomy's
// InvalidInput kind.
type InvalidGPXError struct {
	Reason string
}

func (e *InvalidGPXError) Error() string {
	return fmt.Sprintf("invalid gpx: %s", e.Reason)
}

// Parse reads raw GPX bytes and returns the ordered waypoint list: the
// concatenation of all track segments if any track is present, otherwise
// the concatenation of all routes' points as a fallback.
func Parse(data []byte) ([]Waypoint, error) {
	if len(data) == 0 {
		return nil, &InvalidGPXError{Reason: "empty file"}
	}
	if len(data) > MaxBytes {
		return nil, &InvalidGPXError{Reason: fmt.Sprintf("file too large: %d bytes (max %d)", len(data), MaxBytes)}
	}
	if !looksLikeXML(data) {
		return nil, &InvalidGPXError{Reason: "missing XML/GPX header"}
	}

	g, err := gpx.ParseBytes(data)
	if err != nil {
		return nil, &InvalidGPXError{Reason: fmt.Sprintf("xml parse failed: %v", err)}
	}

	var waypoints []Waypoint

	for _, track := range g.Tracks {
		for _, segment := range track.Segments {
			for _, p := range segment.Points {
				waypoints = append(waypoints, toWaypoint(p.Point))
			}
		}
	}

	if len(waypoints) == 0 {
		for _, route := range g.Routes {
			for _, p := range route.Points {
				waypoints = append(waypoints, toWaypoint(p.Point))
			}
		}
	}

	if len(waypoints) < 2 {
		return nil, &InvalidGPXError{Reason: "fewer than 2 waypoints across tracks and routes"}
	}

	return waypoints, nil
}

func toWaypoint(p gpx.Point) Waypoint {
	wp := Waypoint{Lat: p.Latitude, Lng: p.Longitude}
	if p.Elevation.NotNull() {
		e := p.Elevation.Value()
		if e >= 0 {
			wp.Elevation = &e
		}
	}
	return wp
}

func looksLikeXML(data []byte) bool {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return false
	}
	if trimmed[0] != '<' {
		return false
	}
	head := data[:min(len(data), 2048)]
	return bytes.Contains(head, []byte("<gpx")) || bytes.Contains(head, []byte("<?xml"))
}
