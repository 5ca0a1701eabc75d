package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// DefaultConfigPath is the path to the canonical tuning defaults file.
// This is the single source of truth for all default tuning values.
const DefaultConfigPath = "config/tuning.defaults.json"

// CorrectionConfig represents the root configuration for the correction
// pipeline's tuning parameters, loaded from the JSON tuning file at
// startup.
type CorrectionConfig struct {
	// Route densification and checkpoint spacing.
	RouteSpacingMeters      *float64 `json:"route_spacing_meters,omitempty"`
	CheckpointSpacingMeters *float64 `json:"checkpoint_spacing_meters,omitempty"`

	// Kalman filter noise.
	ProcessNoiseLatLng   *float64 `json:"process_noise_lat_lng,omitempty"`
	ProcessNoiseAlt      *float64 `json:"process_noise_alt,omitempty"`
	BaseMeasurementNoise *float64 `json:"base_measurement_noise,omitempty"`

	// Map matcher.
	BearingWeight  *float64 `json:"bearing_weight,omitempty"`
	MatchThreshold *float64 `json:"match_threshold_meters,omitempty"`

	// Checkpoint detector.
	CheckpointRadiusMeters *float64 `json:"checkpoint_radius_meters,omitempty"`

	// Leaderboard.
	LeaderboardScoreK *int64 `json:"leaderboard_score_k,omitempty"`

	// Store TTLs, as duration strings like "24h".
	RouteTTL        *string `json:"route_ttl,omitempty"`
	LocationTTL     *string `json:"location_ttl,omitempty"`
	PrevPositionTTL *string `json:"prev_position_ttl,omitempty"`
	LeaderboardTTL  *string `json:"leaderboard_ttl,omitempty"`

	// External-store call budget.
	StoreCallTimeout *string `json:"store_call_timeout,omitempty"`
}

// Helper functions to create pointers.
func ptrFloat64(v float64) *float64 { return &v }
func ptrInt64(v int64) *int64       { return &v }
func ptrString(v string) *string    { return &v }

// EmptyCorrectionConfig returns a CorrectionConfig with all fields set to
// nil. Use LoadCorrectionConfig to load actual values from a defaults file.
func EmptyCorrectionConfig() *CorrectionConfig {
	return &CorrectionConfig{}
}

// LoadCorrectionConfig loads a CorrectionConfig from a JSON file. The file
// is validated to ensure it has a .json extension and is under the max file
// size. Fields omitted from the JSON file retain their default values, so
// partial configs are safe.
func LoadCorrectionConfig(path string) (*CorrectionConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyCorrectionConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// MustLoadDefaultConfig loads the canonical tuning defaults from
// DefaultConfigPath, searching the current directory and common parent
// directories. Panics if the file cannot be loaded; intended for test
// setup.
func MustLoadDefaultConfig() *CorrectionConfig {
	candidates := []string{
		DefaultConfigPath,
		"../../" + DefaultConfigPath,
		"../../../" + DefaultConfigPath,
		"../../../../" + DefaultConfigPath,
		"../../../../../" + DefaultConfigPath,
	}
	for _, path := range candidates {
		if cfg, err := LoadCorrectionConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

// Validate checks that the configuration values are valid.
func (c *CorrectionConfig) Validate() error {
	if c.RouteSpacingMeters != nil && *c.RouteSpacingMeters <= 0 {
		return fmt.Errorf("route_spacing_meters must be positive, got %f", *c.RouteSpacingMeters)
	}
	if c.CheckpointSpacingMeters != nil && *c.CheckpointSpacingMeters <= 0 {
		return fmt.Errorf("checkpoint_spacing_meters must be positive, got %f", *c.CheckpointSpacingMeters)
	}
	if c.MatchThreshold != nil && *c.MatchThreshold <= 0 {
		return fmt.Errorf("match_threshold_meters must be positive, got %f", *c.MatchThreshold)
	}
	if c.CheckpointRadiusMeters != nil && *c.CheckpointRadiusMeters <= 0 {
		return fmt.Errorf("checkpoint_radius_meters must be positive, got %f", *c.CheckpointRadiusMeters)
	}

	for field, raw := range map[string]*string{
		"route_ttl":          c.RouteTTL,
		"location_ttl":       c.LocationTTL,
		"prev_position_ttl":  c.PrevPositionTTL,
		"leaderboard_ttl":    c.LeaderboardTTL,
		"store_call_timeout": c.StoreCallTimeout,
	} {
		if raw != nil && *raw != "" {
			if _, err := time.ParseDuration(*raw); err != nil {
				return fmt.Errorf("invalid %s %q: %w", field, *raw, err)
			}
		}
	}

	return nil
}

// GetRouteSpacingMeters returns the route densification spacing or the
// built-in default (100m).
func (c *CorrectionConfig) GetRouteSpacingMeters() float64 {
	if c.RouteSpacingMeters == nil {
		return 100
	}
	return *c.RouteSpacingMeters
}

// GetCheckpointSpacingMeters returns the checkpoint spacing or the
// built-in default (1000m).
func (c *CorrectionConfig) GetCheckpointSpacingMeters() float64 {
	if c.CheckpointSpacingMeters == nil {
		return 1000
	}
	return *c.CheckpointSpacingMeters
}

// GetProcessNoiseLatLng returns the Kalman lat/lng process noise or the
// built-in default.
func (c *CorrectionConfig) GetProcessNoiseLatLng() float64 {
	if c.ProcessNoiseLatLng == nil {
		return 1e-6
	}
	return *c.ProcessNoiseLatLng
}

// GetProcessNoiseAlt returns the Kalman altitude process noise or the
// built-in default.
func (c *CorrectionConfig) GetProcessNoiseAlt() float64 {
	if c.ProcessNoiseAlt == nil {
		return 0.1
	}
	return *c.ProcessNoiseAlt
}

// GetBaseMeasurementNoise returns the Kalman measurement noise baseline or
// the built-in default.
func (c *CorrectionConfig) GetBaseMeasurementNoise() float64 {
	if c.BaseMeasurementNoise == nil {
		return 5
	}
	return *c.BaseMeasurementNoise
}

// GetBearingWeight returns the map matcher's bearing-to-distance penalty or
// the built-in default.
func (c *CorrectionConfig) GetBearingWeight() float64 {
	if c.BearingWeight == nil {
		return 0.05
	}
	return *c.BearingWeight
}

// GetMatchThreshold returns the map matcher's acceptance threshold or the
// built-in default (50m).
func (c *CorrectionConfig) GetMatchThreshold() float64 {
	if c.MatchThreshold == nil {
		return 50
	}
	return *c.MatchThreshold
}

// GetCheckpointRadiusMeters returns the checkpoint crossing radius or the
// built-in default (30m).
func (c *CorrectionConfig) GetCheckpointRadiusMeters() float64 {
	if c.CheckpointRadiusMeters == nil {
		return 30
	}
	return *c.CheckpointRadiusMeters
}

// GetLeaderboardScoreK returns the leaderboard's checkpoint-index
// multiplier or the built-in default.
func (c *CorrectionConfig) GetLeaderboardScoreK() int64 {
	if c.LeaderboardScoreK == nil {
		return 360000
	}
	return *c.LeaderboardScoreK
}

func parseDurationOrDefault(raw *string, def time.Duration) time.Duration {
	if raw == nil || *raw == "" {
		return def
	}
	d, err := time.ParseDuration(*raw)
	if err != nil {
		return def
	}
	return d
}

// GetRouteTTL returns the route cache TTL or the built-in default (24h).
func (c *CorrectionConfig) GetRouteTTL() time.Duration {
	return parseDurationOrDefault(c.RouteTTL, 24*time.Hour)
}

// GetLocationTTL returns the participant location TTL or the built-in
// default (24h).
func (c *CorrectionConfig) GetLocationTTL() time.Duration {
	return parseDurationOrDefault(c.LocationTTL, 24*time.Hour)
}

// GetPrevPositionTTL returns the previous-position TTL or the
// built-in default (24h).
func (c *CorrectionConfig) GetPrevPositionTTL() time.Duration {
	return parseDurationOrDefault(c.PrevPositionTTL, 24*time.Hour)
}

// GetLeaderboardTTL returns the leaderboard entry TTL or the built-in
// default (7 days).
func (c *CorrectionConfig) GetLeaderboardTTL() time.Duration {
	return parseDurationOrDefault(c.LeaderboardTTL, 7*24*time.Hour)
}

// GetStoreCallTimeout returns the per-call timeout budget for external
// store calls or the built-in default (200ms).
func (c *CorrectionConfig) GetStoreCallTimeout() time.Duration {
	return parseDurationOrDefault(c.StoreCallTimeout, 200*time.Millisecond)
}
