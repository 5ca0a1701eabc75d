package pipeline

// bucketCorrectionStrength maps how far the Kalman-corrected position moved
// from the raw fix into a 0..1 scale: a small nudge scores near 0 (good), a
// large one near 1 (suspect).
func bucketCorrectionStrength(meters float64) float64 {
	switch {
	case meters < 1:
		return 0.1
	case meters < 5:
		return 0.3
	case meters < 15:
		return 0.6
	case meters < 50:
		return 0.8
	default:
		return 1.0
	}
}

// GradeFromScore maps a 0-100 composite quality score onto the four letter
// grades clients display.
func GradeFromScore(score float64) string {
	switch {
	case score >= 85:
		return "EXCELLENT"
	case score >= 70:
		return "GOOD"
	case score >= 50:
		return "FAIR"
	default:
		return "POOR"
	}
}

// compositeScore combines four weighted components into a single 0-100
// quality score: 40 points for being matched at all,
// 30 points inversely proportional to how much of the match threshold the
// match score consumed, 20 points for the sample's Kalman confidence, and 10
// points inversely proportional to how far the correction moved the fix.
func compositeScore(matched bool, matchScore, matchThreshold float64, confidence float64, correctionStrengthMeters float64) float64 {
	matchedComponent := 0.0
	if matched {
		matchedComponent = 40
	}

	ratio := 0.0
	if matchThreshold > 0 {
		ratio = matchScore / matchThreshold
	}
	if ratio > 1 {
		ratio = 1
	}
	if ratio < 0 {
		ratio = 0
	}
	matchScoreComponent := 30 * (1 - ratio)

	confidenceComponent := 20 * confidence

	correctionComponent := 10 * (1 - bucketCorrectionStrength(correctionStrengthMeters))

	return matchedComponent + matchScoreComponent + confidenceComponent + correctionComponent
}
