// Package kalman implements the per-sample GPS smoothing filter used by the
// correction pipeline: three independent scalar predict/update filters
// (latitude, longitude, altitude) rather than a coupled state vector, since
// GPS samples carry no velocity measurement to couple the axes against.
package kalman

// Config holds the process/measurement noise used by a Filter3D. Defaults
// mirror the reference values from the correction pipeline's tuning
// defaults.
type Config struct {
	// ProcessNoiseLatLng is q for the latitude/longitude axes, in degrees^2/step.
	ProcessNoiseLatLng float64
	// ProcessNoiseAlt is q for the altitude axis, in m^2/step.
	ProcessNoiseAlt float64
	// BaseMeasurementNoise is r, the measurement-noise baseline in m^2-equivalent,
	// scaled by 1/confidence for lat/lng and 4/confidence for altitude.
	BaseMeasurementNoise float64
}

// DefaultConfig returns the reference Kalman tuning.
func DefaultConfig() Config {
	return Config{
		ProcessNoiseLatLng:   1e-6,
		ProcessNoiseAlt:      0.1,
		BaseMeasurementNoise: 5,
	}
}

// axisState is a single scalar Kalman filter: estimate x and variance p.
type axisState struct {
	x float64
	p float64
	// initialized reports whether the first measurement has been folded in.
	// Before that, the filter adopts the first measurement outright instead
	// of blending against an arbitrary prior.
	initialized bool
}

func (a *axisState) update(measurement, processNoise, measurementNoise float64) {
	if !a.initialized {
		a.x = measurement
		a.p = measurementNoise
		a.initialized = true
		return
	}

	// Predict: process noise grows the variance by q since the last step.
	pPred := a.p + processNoise

	// Update: standard scalar Kalman gain and blend.
	gain := pPred / (pPred + measurementNoise)
	a.x = a.x + gain*(measurement-a.x)
	a.p = (1 - gain) * pPred
}

// Filter3D is a fresh-per-call, per-participant 3-D Kalman filter over
// latitude, longitude, and altitude. It is not safe for concurrent use and
// is not shared across correction calls: each call to CorrectionPipeline.Correct
// constructs a new Filter3D and folds its GPS batch into it in order.
type Filter3D struct {
	cfg Config
	lat axisState
	lng axisState
	alt axisState
	// haveAltitude tracks whether any sample so far has carried an altitude
	// reading, since the altitude axis is skipped (prior preserved) when a
	// sample omits it.
	haveAltitude bool
}

// NewFilter3D creates a filter with the given configuration.
func NewFilter3D(cfg Config) *Filter3D {
	return &Filter3D{cfg: cfg}
}

// Confidence is clamped to these bounds before it scales measurement noise.
const (
	MinConfidence = 0.1
	MaxConfidence = 1.0
)

func clampConfidence(c float64) float64 {
	if c < MinConfidence {
		return MinConfidence
	}
	if c > MaxConfidence {
		return MaxConfidence
	}
	return c
}

// Update folds one GPS measurement into the filter. alt is optional (nil
// when the sample omits it); confidence must already be
// derived by the caller (see DeriveConfidence) and is clamped to [0.1, 1.0]
// defensively.
func (f *Filter3D) Update(lat, lng float64, alt *float64, confidence float64) {
	confidence = clampConfidence(confidence)

	measurementNoiseLatLng := f.cfg.BaseMeasurementNoise / confidence
	f.lat.update(lat, f.cfg.ProcessNoiseLatLng, measurementNoiseLatLng)
	f.lng.update(lng, f.cfg.ProcessNoiseLatLng, measurementNoiseLatLng)

	if alt != nil {
		measurementNoiseAlt := f.cfg.BaseMeasurementNoise * 4 / confidence
		f.alt.update(*alt, f.cfg.ProcessNoiseAlt, measurementNoiseAlt)
		f.haveAltitude = true
	}
	// When alt is nil the altitude axis is left untouched, preserving the
	// prior estimate.
}

// CurrentPosition returns the filter's latest estimate. Altitude is nil if
// no sample has ever supplied one.
func (f *Filter3D) CurrentPosition() (lat, lng float64, alt *float64) {
	if f.haveAltitude {
		a := f.alt.x
		return f.lat.x, f.lng.x, &a
	}
	return f.lat.x, f.lng.x, nil
}

// Uncertainty returns the per-axis variance. varAlt is nil if no altitude
// sample has been folded in yet.
func (f *Filter3D) Uncertainty() (varLat, varLng float64, varAlt *float64) {
	if f.haveAltitude {
		v := f.alt.p
		return f.lat.p, f.lng.p, &v
	}
	return f.lat.p, f.lng.p, nil
}

// DeriveConfidence turns GPS accuracy (metres) and speed (m/s) into a Kalman
// measurement-noise confidence in [0.1, 1.0], weighting accuracy 0.7 and
// speed 0.3. Either input may be absent (nil), in which case
// its sub-score defaults to the most trusting bucket.
func DeriveConfidence(accuracyMeters, speedMps *float64) float64 {
	accScore := 1.0
	if accuracyMeters != nil {
		switch {
		case *accuracyMeters <= 3:
			accScore = 1.0
		case *accuracyMeters <= 5:
			accScore = 0.9
		case *accuracyMeters <= 10:
			accScore = 0.7
		case *accuracyMeters <= 20:
			accScore = 0.5
		default:
			accScore = 0.3
		}
	}

	spdScore := 1.0
	if speedMps != nil {
		switch {
		case *speedMps < 0.5:
			spdScore = 0.8
		case *speedMps < 1:
			spdScore = 0.9
		case *speedMps < 5:
			spdScore = 1.0
		case *speedMps < 15:
			spdScore = 0.95
		default:
			spdScore = 0.8
		}
	}

	combined := 0.7*accScore + 0.3*spdScore
	return clampConfidence(combined)
}
