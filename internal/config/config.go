// Package config handles configuration loading for the phenospatial engine
// and server.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/atlasmap-sc/phenospatial/internal/cache"
	"github.com/atlasmap-sc/phenospatial/internal/cells"
	"github.com/atlasmap-sc/phenospatial/internal/distance"
	"github.com/atlasmap-sc/phenospatial/internal/logging"
	"github.com/atlasmap-sc/phenospatial/internal/spatial"
)

// Config represents the full configuration.
type Config struct {
	Server ServerConfig   `yaml:"server"`
	Data   DataConfig     `yaml:"data"`
	Engine EngineConfig   `yaml:"engine"`
	Log    logging.Config `yaml:"log"`
	// Rules maps pseudo-phenotype names to the phenotypes they stand for.
	Rules RuleSet `yaml:"rules"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Port        int      `yaml:"port"`
	CORSOrigins []string `yaml:"cors_origins"`
}

// DataConfig contains input settings.
type DataConfig struct {
	// Dir holds the per-field cell_seg_data files served by the API.
	Dir             string  `yaml:"dir"`
	PixelsPerMicron float64 `yaml:"pixels_per_micron"`
}

// EngineConfig selects and tunes the distance strategy.
type EngineConfig struct {
	Strategy       string  `yaml:"strategy"`
	SpatialIndex   *bool   `yaml:"spatial_index"`
	CellSize       float64 `yaml:"cell_size"`
	DenseMaxPoints int     `yaml:"dense_max_points"`
	Workers        int     `yaml:"workers"`
	MaskCacheSize  int     `yaml:"mask_cache_size"`
}

// RuleSet is the YAML form of selection rules.
type RuleSet map[string][]string

// Load reads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		// Return default config if file doesn't exist
		return DefaultConfig(), nil
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}

	// Apply defaults for missing values
	applyDefaults(&cfg)

	if _, err := cfg.Engine.DistanceOptions(); err != nil {
		return nil, err
	}
	if err := cfg.Rules.Selectors().Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	enabled := true
	return &Config{
		Server: ServerConfig{
			Port:        8080,
			CORSOrigins: []string{"http://localhost:3000", "http://localhost:5173"},
		},
		Data: DataConfig{
			Dir:             "./data",
			PixelsPerMicron: 2,
		},
		Engine: EngineConfig{
			Strategy:       string(distance.StrategyAuto),
			SpatialIndex:   &enabled,
			CellSize:       spatial.DefaultCellSize,
			DenseMaxPoints: distance.DefaultDenseMaxPoints,
			Workers:        1,
			MaskCacheSize:  cache.DefaultMaskCacheSize,
		},
		Log: logging.Config{
			Level:  "info",
			Format: "console",
		},
	}
}

func applyDefaults(cfg *Config) {
	defaults := DefaultConfig()

	if cfg.Server.Port == 0 {
		cfg.Server.Port = defaults.Server.Port
	}
	if len(cfg.Server.CORSOrigins) == 0 {
		cfg.Server.CORSOrigins = defaults.Server.CORSOrigins
	}
	if cfg.Data.Dir == "" {
		cfg.Data.Dir = defaults.Data.Dir
	}
	if cfg.Data.PixelsPerMicron <= 0 {
		cfg.Data.PixelsPerMicron = defaults.Data.PixelsPerMicron
	}
	if cfg.Engine.Strategy == "" {
		cfg.Engine.Strategy = defaults.Engine.Strategy
	}
	if cfg.Engine.SpatialIndex == nil {
		cfg.Engine.SpatialIndex = defaults.Engine.SpatialIndex
	}
	if cfg.Engine.CellSize <= 0 {
		cfg.Engine.CellSize = defaults.Engine.CellSize
	}
	if cfg.Engine.DenseMaxPoints <= 0 {
		cfg.Engine.DenseMaxPoints = defaults.Engine.DenseMaxPoints
	}
	if cfg.Engine.Workers <= 0 {
		cfg.Engine.Workers = defaults.Engine.Workers
	}
	if cfg.Engine.MaskCacheSize <= 0 {
		cfg.Engine.MaskCacheSize = defaults.Engine.MaskCacheSize
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = defaults.Log.Level
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = defaults.Log.Format
	}
}

// DistanceOptions converts the engine section. With spatial_index disabled
// no index builder is supplied, so an indexed request falls back to dense.
func (e EngineConfig) DistanceOptions() (distance.Options, error) {
	strategy, err := distance.ParseStrategy(e.Strategy)
	if err != nil {
		return distance.Options{}, err
	}
	opts := distance.Options{
		Strategy:       strategy,
		CellSize:       e.CellSize,
		DenseMaxPoints: e.DenseMaxPoints,
	}
	if e.SpatialIndex == nil || *e.SpatialIndex {
		opts.Index = spatial.GridBuilder(e.CellSize)
	}
	return opts, nil
}

// Selectors converts the rule set to resolvable rules.
func (r RuleSet) Selectors() cells.Rules {
	if len(r) == 0 {
		return nil
	}
	out := make(cells.Rules, len(r))
	for name, names := range r {
		out[name] = cells.AnyOf(names...)
	}
	return out
}

// LoadRules reads a standalone YAML rules file:
//
//	T cell: [CD8+, FoxP3+]
//	Macrophage: [CD68+]
func LoadRules(path string) (cells.Rules, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read rules %s: %w", path, err)
	}
	var rs RuleSet
	if err := yaml.Unmarshal(data, &rs); err != nil {
		return nil, fmt.Errorf("failed to parse rules %s: %w", path, err)
	}
	rules := rs.Selectors()
	if err := rules.Validate(); err != nil {
		return nil, err
	}
	return rules, nil
}
