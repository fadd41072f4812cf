// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package mbconfig loads the deployment configuration: index location,
// cache sizing, worker concurrency, and the matcher's algorithm thresholds.
// Thresholds are loaded from the same file as everything else but are
// treated as read-only after Load — see Watch.
package mbconfig

import (
	"context"
	_ "embed"
	"fmt"

	"gopkg.in/yaml.v3"
)

//go:embed config.yaml
var defaultConfigYAML []byte

// MaxYAMLFileSize bounds how large a config file Load will accept.
const MaxYAMLFileSize = 1 << 20 // 1 MiB

// Config is the full deployment configuration.
//
// Thread Safety: Immutable after Load; safe for concurrent use. Watch
// produces a fresh *Config on each reload rather than mutating one in
// place, so callers holding an old pointer keep seeing consistent values.
type Config struct {
	// IndexDir is the directory the offline build job writes artist-level
	// index blobs and the catalog snapshot into.
	IndexDir string `yaml:"index_dir"`

	// MaxCacheSizeMB bounds the Index Cache's resident sub-index memory
	// before the background trimmer evicts oldest-accessed entries.
	MaxCacheSizeMB int `yaml:"max_cache_size_mb"`

	// WorkerThreads is the number of concurrent matcher workers; 0 means
	// runtime.NumCPU().
	WorkerThreads int `yaml:"worker_threads"`

	// ArtistThreshold, ReleaseThreshold, RecordingThreshold, and
	// StupidArtistThreshold are algorithm constants. They are loaded from
	// this file for visibility but MUST NOT be changed by Watch: result
	// compatibility with the matcher's transition table depends on them.
	ArtistThreshold       float64 `yaml:"artist_threshold"`
	ReleaseThreshold      float64 `yaml:"release_threshold"`
	RecordingThreshold    float64 `yaml:"recording_threshold"`
	StupidArtistThreshold float64 `yaml:"stupid_artist_threshold"`

	// MaxEncodedLen records the byte length at which encoded keys are
	// truncated. The Text Encoder does not read this field; it truncates at
	// its own constant, encoding.MaxLen.
	MaxEncodedLen int `yaml:"max_encoded_len"`

	// NumFuzzySearchResults records the cap on results a Fuzzy Index search
	// returns (applied after scoring and thresholding). Package fuzzyindex
	// does not read this field; its indexes use fuzzyindex.DefaultNumResults.
	NumFuzzySearchResults int `yaml:"num_fuzzy_search_results"`
}

// Default values, used by Load to fill in anything a partial YAML omits.
const (
	DefaultMaxCacheSizeMB        = 100
	DefaultWorkerThreads         = 0
	DefaultThreshold             = 0.7
	DefaultMaxEncodedLen         = 30
	DefaultNumFuzzySearchResults = 500
)

// Default returns the embedded default configuration.
func Default() (*Config, error) {
	return Load(context.Background(), defaultConfigYAML)
}

// Load parses and validates a Config from YAML bytes, filling in defaults
// for any zero-valued field.
func Load(ctx context.Context, data []byte) (*Config, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("mbconfig.Load: empty YAML data")
	}
	if len(data) > MaxYAMLFileSize {
		return nil, fmt.Errorf("mbconfig.Load: YAML data exceeds maximum size (%d > %d)", len(data), MaxYAMLFileSize)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("mbconfig.Load: parsing YAML: %w", err)
	}

	if cfg.MaxCacheSizeMB <= 0 {
		cfg.MaxCacheSizeMB = DefaultMaxCacheSizeMB
	}
	if cfg.WorkerThreads < 0 {
		cfg.WorkerThreads = DefaultWorkerThreads
	}
	if cfg.ArtistThreshold <= 0 {
		cfg.ArtistThreshold = DefaultThreshold
	}
	if cfg.ReleaseThreshold <= 0 {
		cfg.ReleaseThreshold = DefaultThreshold
	}
	if cfg.RecordingThreshold <= 0 {
		cfg.RecordingThreshold = DefaultThreshold
	}
	if cfg.StupidArtistThreshold <= 0 {
		cfg.StupidArtistThreshold = DefaultThreshold
	}
	if cfg.MaxEncodedLen <= 0 {
		cfg.MaxEncodedLen = DefaultMaxEncodedLen
	}
	if cfg.NumFuzzySearchResults <= 0 {
		cfg.NumFuzzySearchResults = DefaultNumFuzzySearchResults
	}

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("mbconfig.Load: validation: %w", err)
	}

	return &cfg, nil
}

func validate(cfg *Config) error {
	if cfg.IndexDir == "" {
		return fmt.Errorf("index_dir must not be empty")
	}
	if cfg.MaxCacheSizeMB <= 0 {
		return fmt.Errorf("max_cache_size_mb must be positive, got %d", cfg.MaxCacheSizeMB)
	}
	if cfg.WorkerThreads < 0 {
		return fmt.Errorf("worker_threads must be >= 0, got %d", cfg.WorkerThreads)
	}
	return nil
}
