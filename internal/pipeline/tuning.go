package pipeline

import (
	"github.com/banshee-data/racecore/internal/checkpoint"
	"github.com/banshee-data/racecore/internal/config"
	"github.com/banshee-data/racecore/internal/kalman"
	"github.com/banshee-data/racecore/internal/match"
	"github.com/banshee-data/racecore/internal/route"
)

// ConfigFromTuning builds a pipeline Config from the file-loaded
// CorrectionConfig, applying the built-in defaults for anything the caller
// left unset.
func ConfigFromTuning(c *config.CorrectionConfig) Config {
	if c == nil {
		return DefaultConfig()
	}
	return Config{
		Kalman: kalman.Config{
			ProcessNoiseLatLng:   c.GetProcessNoiseLatLng(),
			ProcessNoiseAlt:      c.GetProcessNoiseAlt(),
			BaseMeasurementNoise: c.GetBaseMeasurementNoise(),
		},
		Match: match.Config{
			BearingWeight:  c.GetBearingWeight(),
			MatchThreshold: c.GetMatchThreshold(),
		},
		Checkpoint: checkpoint.Config{
			RadiusMeters: c.GetCheckpointRadiusMeters(),
		},
		LeaderboardK:     c.GetLeaderboardScoreK(),
		LocationTTL:      c.GetLocationTTL(),
		PrevPositionTTL:  c.GetPrevPositionTTL(),
		LeaderboardTTL:   c.GetLeaderboardTTL(),
		StoreCallTimeout: c.GetStoreCallTimeout(),
	}
}

// RouteConfigFromTuning builds the route densification config LoadRoute
// needs from the same tuning source.
func RouteConfigFromTuning(c *config.CorrectionConfig) route.Config {
	if c == nil {
		return route.DefaultConfig()
	}
	return route.Config{Spacing: c.GetRouteSpacingMeters(), CheckpointSpacing: c.GetCheckpointSpacingMeters()}
}
