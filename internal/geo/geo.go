// Package geo provides stateless great-circle and planar geometry helpers
// used by the route matcher and checkpoint detector.
package geo

import (
	"fmt"
	"math"
)

// EarthRadiusMeters is the mean Earth radius used by the Haversine formula.
const EarthRadiusMeters = 6371000.0

// Point is a single geographic position, optionally carrying elevation.
type Point struct {
	Lat       float64
	Lng       float64
	Elevation *float64
}

// InvalidCoordinateError reports a latitude or longitude outside its valid range.
type InvalidCoordinateError struct {
	Lat, Lng float64
}

func (e *InvalidCoordinateError) Error() string {
	return fmt.Sprintf("invalid coordinate: lat=%f lng=%f", e.Lat, e.Lng)
}

func validate(lat, lng float64) error {
	if math.Abs(lat) > 90 || math.Abs(lng) > 180 {
		return &InvalidCoordinateError{Lat: lat, Lng: lng}
	}
	return nil
}

// Distance returns the great-circle distance in metres between two points
// using the Haversine formula.
func Distance(lat1, lng1, lat2, lng2 float64) (float64, error) {
	if err := validate(lat1, lng1); err != nil {
		return 0, err
	}
	if err := validate(lat2, lng2); err != nil {
		return 0, err
	}

	phi1 := lat1 * math.Pi / 180
	phi2 := lat2 * math.Pi / 180
	dPhi := (lat2 - lat1) * math.Pi / 180
	dLambda := (lng2 - lng1) * math.Pi / 180

	a := math.Sin(dPhi/2)*math.Sin(dPhi/2) +
		math.Cos(phi1)*math.Cos(phi2)*math.Sin(dLambda/2)*math.Sin(dLambda/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return EarthRadiusMeters * c, nil
}

// Bearing returns the initial compass bearing in degrees, in [0, 360), from
// point 1 to point 2.
func Bearing(lat1, lng1, lat2, lng2 float64) (float64, error) {
	if err := validate(lat1, lng1); err != nil {
		return 0, err
	}
	if err := validate(lat2, lng2); err != nil {
		return 0, err
	}

	phi1 := lat1 * math.Pi / 180
	phi2 := lat2 * math.Pi / 180
	dLambda := (lng2 - lng1) * math.Pi / 180

	y := math.Sin(dLambda) * math.Cos(phi2)
	x := math.Cos(phi1)*math.Sin(phi2) - math.Sin(phi1)*math.Cos(phi2)*math.Cos(dLambda)
	theta := math.Atan2(y, x) * 180 / math.Pi

	return math.Mod(theta+360, 360), nil
}

// BearingDifference returns the smallest absolute angle in [0, 180] between
// two bearings expressed in degrees.
func BearingDifference(a, b float64) float64 {
	d := math.Mod(math.Abs(a-b), 360)
	if d > 180 {
		d = 360 - d
	}
	return d
}

// SegmentProjection is the result of projecting a point onto a segment.
type SegmentProjection struct {
	DistanceMeters float64
	T              float64 // projection parameter in [0, 1]
	FootLat        float64
	FootLng        float64
}

// PointToSegmentDistance projects point p onto the segment a-b in a local
// equirectangular (planar) approximation, which is accurate enough at the
// per-sample scale this system operates at (segments a few hundred metres
// long). It returns the distance from p to the closest point on the segment
// (the "foot"), the projection parameter t, and the foot's coordinates.
func PointToSegmentDistance(p, a, b Point) (SegmentProjection, error) {
	for _, pt := range []Point{p, a, b} {
		if err := validate(pt.Lat, pt.Lng); err != nil {
			return SegmentProjection{}, err
		}
	}

	// Convert to a local planar frame centred on `a`, using degrees scaled
	// by cos(latitude) for longitude so that 1 unit ~= equal distance in
	// both axes near `a`.
	latRad := a.Lat * math.Pi / 180
	cosLat := math.Cos(latRad)

	ax, ay := 0.0, 0.0
	bx := (b.Lng - a.Lng) * cosLat
	by := b.Lat - a.Lat
	px := (p.Lng - a.Lng) * cosLat
	py := p.Lat - a.Lat

	dx := bx - ax
	dy := by - ay

	var t float64
	lenSq := dx*dx + dy*dy
	if lenSq > 0 {
		t = ((px-ax)*dx + (py-ay)*dy) / lenSq
	}
	if t < 0 {
		t = 0
	} else if t > 1 {
		t = 1
	}

	footX := ax + t*dx
	footY := ay + t*dy

	footLng := a.Lng + footX/cosLat
	footLat := a.Lat + footY

	dist, err := Distance(p.Lat, p.Lng, footLat, footLng)
	if err != nil {
		return SegmentProjection{}, err
	}

	return SegmentProjection{
		DistanceMeters: dist,
		T:              t,
		FootLat:        footLat,
		FootLng:        footLng,
	}, nil
}

// Interpolate returns the point a fraction `ratio` (in [0,1]) of the way
// from a to b, linear in latitude, longitude, and elevation.
func Interpolate(a, b Point, ratio float64) Point {
	out := Point{
		Lat: a.Lat + (b.Lat-a.Lat)*ratio,
		Lng: a.Lng + (b.Lng-a.Lng)*ratio,
	}
	if a.Elevation != nil && b.Elevation != nil {
		e := *a.Elevation + (*b.Elevation-*a.Elevation)*ratio
		out.Elevation = &e
	} else if a.Elevation != nil {
		e := *a.Elevation
		out.Elevation = &e
	} else if b.Elevation != nil {
		e := *b.Elevation
		out.Elevation = &e
	}
	return out
}
