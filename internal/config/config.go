package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"automontage/internal/registration"
)

const (
	defaultConfigPath = "~/.config/automontage/config.json"
	defaultParallel   = 2
)

// Config holds user-editable settings for montage runs.
type Config struct {
	Processing   Processing   `json:"processing"`
	Logging      Logging      `json:"logging"`
	Paths        Paths        `json:"paths"`
	Registration Registration `json:"registration"`
	Features     Features     `json:"features"`
	Mosaic       Mosaic       `json:"mosaic"`
	Server       Server       `json:"server"`
}

// Processing captures execution preferences.
type Processing struct {
	ParallelJobs    int    `json:"parallel_jobs"`    // concurrent montage runs
	LoadWorkers     int    `json:"load_workers"`     // concurrent tile decode + extraction
	PrefetchWorkers int    `json:"prefetch_workers"` // 0 estimates pairs lazily
	TempDir         string `json:"temp_dir"`
}

// Logging controls logging verbosity and destinations.
type Logging struct {
	Level      string `json:"level"`       // debug, info, warn, error
	Format     string `json:"format"`      // text, json
	FileOutput bool   `json:"file_output"` // Enable file logging
	LogDir     string `json:"log_dir"`     // Directory for log files
}

// Paths configures default input/output locations.
type Paths struct {
	DefaultOutput string `json:"default_output"`
	DatabasePath  string `json:"database_path"`
}

// Registration mirrors registration.Params.
type Registration struct {
	NomThresh        float64 `json:"nom_thresh"`
	MinInliers       int     `json:"min_inliers"`
	AutoAccept       int     `json:"auto_accept"`
	AutoAcceptFirst  bool    `json:"auto_accept_first"`
	RansacIterations int     `json:"ransac_iterations"`
	RansacThreshold  float64 `json:"ransac_threshold"`
	Seed             int64   `json:"seed"`
}

// Features configures keypoint extraction and matching.
type Features struct {
	MaxFeatures int     `json:"max_features"`
	RatioTest   float64 `json:"ratio_test"`
}

// Mosaic controls raster output.
type Mosaic struct {
	WriteTiles  bool `json:"write_tiles"`
	WriteCanvas bool `json:"write_canvas"`
}

// Server configures the HTTP API.
type Server struct {
	Addr string `json:"addr"`
}

// Params converts the registration and feature sections into engine parameters.
func (c *Config) Params() registration.Params {
	return registration.Params{
		NomThresh:        c.Registration.NomThresh,
		MinInliers:       c.Registration.MinInliers,
		AutoAccept:       c.Registration.AutoAccept,
		AutoAcceptFirst:  c.Registration.AutoAcceptFirst,
		RansacIterations: c.Registration.RansacIterations,
		RansacThreshold:  c.Registration.RansacThreshold,
		RatioTest:        c.Features.RatioTest,
		Seed:             c.Registration.Seed,
	}
}

// Validate rejects settings no run could use.
func (c *Config) Validate() error {
	if c.Processing.ParallelJobs < 1 {
		return fmt.Errorf("processing.parallel_jobs must be at least 1")
	}
	if c.Processing.LoadWorkers < 1 {
		return fmt.Errorf("processing.load_workers must be at least 1")
	}
	if c.Processing.PrefetchWorkers < 0 {
		return fmt.Errorf("processing.prefetch_workers must not be negative")
	}
	if c.Features.MaxFeatures < 1 {
		return fmt.Errorf("features.max_features must be at least 1")
	}
	if err := c.Params().Validate(); err != nil {
		return fmt.Errorf("registration: %w", err)
	}
	return nil
}

// Load reads configuration from disk, falling back to sensible defaults.
func Load() (*Config, error) {
	cfg := defaultConfig()

	configPath := os.Getenv("AUTOMONTAGE_CONFIG")
	if configPath == "" {
		configPath = defaultConfigPath
	}

	expanded, err := expandUser(configPath)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(expanded)
	if errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	dec := json.NewDecoder(f)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", expanded, err)
	}

	return cfg, cfg.Validate()
}

// Default returns the built-in configuration.
func Default() *Config { return defaultConfig() }

func defaultConfig() *Config {
	p := registration.DefaultParams()
	return &Config{
		Processing: Processing{
			ParallelJobs:    defaultParallel,
			LoadWorkers:     4,
			PrefetchWorkers: 0,
			TempDir:         os.TempDir(),
		},
		Logging: Logging{
			Level:      "info",
			Format:     "text",
			FileOutput: false,
			LogDir:     "./logs",
		},
		Paths: Paths{
			DefaultOutput: "./montage",
			DatabasePath:  filepath.Join(os.TempDir(), "automontage.db"),
		},
		Registration: Registration{
			NomThresh:        p.NomThresh,
			MinInliers:       p.MinInliers,
			AutoAccept:       p.AutoAccept,
			AutoAcceptFirst:  p.AutoAcceptFirst,
			RansacIterations: p.RansacIterations,
			RansacThreshold:  p.RansacThreshold,
			Seed:             p.Seed,
		},
		Features: Features{
			MaxFeatures: 5000,
			RatioTest:   p.RatioTest,
		},
		Mosaic: Mosaic{
			WriteTiles:  false,
			WriteCanvas: true,
		},
		Server: Server{
			Addr: ":8080",
		},
	}
}

func expandUser(path string) (string, error) {
	if path == "" || path[0] != '~' {
		return path, nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}

	if path == "~" {
		return home, nil
	}

	return filepath.Join(home, path[2:]), nil
}
