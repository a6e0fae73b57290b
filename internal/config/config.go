// Copyright 2025 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config loads the scan's tunables from a YAML file with
// environment-variable overrides, per spec §6's configuration file section.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvPrefix is prepended to every override's environment variable name.
const EnvPrefix = "FILECAT_"

// Config holds the tunables named in spec §6 plus the batch-writer and
// concurrency knobs of §4.7/§5 that the file format leaves implicit.
type Config struct {
	// ScanArchives enables descent into ZIP/TAR/RAR archives (C4).
	ScanArchives bool `yaml:"scan_archives"`
	// MaxArchiveSize is the largest archive, in bytes, C8 will open.
	// Archives over this are counted as ArchiveSkip (spec §7).
	MaxArchiveSize int64 `yaml:"max_archive_size"`
	// MaxArchiveFileSize is the largest single entry, in bytes, C8 will
	// hash inside an archive.
	MaxArchiveFileSize int64 `yaml:"max_archive_file_size"`
	// EnableIgnoreRules toggles loading a .filecatignore file at the scan
	// root (C1). When false the matcher only excludes dot/underscore
	// directories unconditionally.
	EnableIgnoreRules bool `yaml:"enable_ignore_rules"`

	// Concurrency controls the worker pool sizing of §4.8/§5.
	Concurrency ConcurrencyConfig `yaml:"concurrency"`
	// Batch controls the writer's flush triggers of §4.7.
	Batch BatchConfig `yaml:"batch"`
	// Queues holds the bounded channel capacities of §5. Only
	// PathQueueCapacity is read by the scan; the writer's submit channel is
	// sized by Batch.MaxBuffered, and RecordQueueCapacity has no effect.
	Queues QueueConfig `yaml:"queues"`
}

// ConcurrencyConfig sizes the hashing worker pool.
type ConcurrencyConfig struct {
	// Workers is the number of parallel hashing tasks. Zero means
	// min(runtime.NumCPU(), 8) per spec §4.8.
	Workers int `yaml:"workers"`
}

// BatchConfig mirrors spec §4.7's flush triggers.
type BatchConfig struct {
	MaxBuffered   int           `yaml:"max_buffered"`
	FlushInterval time.Duration `yaml:"flush_interval"`
	ChunkSize     int           `yaml:"chunk_size"`
}

// QueueConfig mirrors spec §5's queue bounds.
type QueueConfig struct {
	PathQueueCapacity   int `yaml:"path_queue_capacity"`
	RecordQueueCapacity int `yaml:"record_queue_capacity"`
}

// Default returns the defaults named across spec §4.7, §5, and §6.
func Default() Config {
	return Config{
		ScanArchives:       true,
		MaxArchiveSize:     524288000,
		MaxArchiveFileSize: 104857600,
		EnableIgnoreRules:  false,
		Concurrency:        ConcurrencyConfig{Workers: 0},
		Batch: BatchConfig{
			MaxBuffered:   500,
			FlushInterval: 5 * time.Second,
			ChunkSize:     200,
		},
		Queues: QueueConfig{
			PathQueueCapacity:   10000,
			RecordQueueCapacity: 2000,
		},
	}
}

// Load reads path as YAML over the defaults, then applies FILECAT_-prefixed
// environment overrides. A missing file is not an error: the defaults (plus
// any env overrides) are returned as-is.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return cfg, fmt.Errorf("config: read %s: %w", path, err)
			}
		} else if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	if err := applyEnvOverrides(&cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) error {
	if v, ok := lookupEnv("SCAN_ARCHIVES"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("config: %sSCAN_ARCHIVES: %w", EnvPrefix, err)
		}
		cfg.ScanArchives = b
	}
	if v, ok := lookupEnv("MAX_ARCHIVE_SIZE"); ok {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("config: %sMAX_ARCHIVE_SIZE: %w", EnvPrefix, err)
		}
		cfg.MaxArchiveSize = n
	}
	if v, ok := lookupEnv("MAX_ARCHIVE_FILE_SIZE"); ok {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("config: %sMAX_ARCHIVE_FILE_SIZE: %w", EnvPrefix, err)
		}
		cfg.MaxArchiveFileSize = n
	}
	if v, ok := lookupEnv("ENABLE_IGNORE_RULES"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("config: %sENABLE_IGNORE_RULES: %w", EnvPrefix, err)
		}
		cfg.EnableIgnoreRules = b
	}
	if v, ok := lookupEnv("WORKERS"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("config: %sWORKERS: %w", EnvPrefix, err)
		}
		cfg.Concurrency.Workers = n
	}
	return nil
}

func lookupEnv(suffix string) (string, bool) {
	v, ok := os.LookupEnv(EnvPrefix + suffix)
	if !ok {
		return "", false
	}
	return strings.TrimSpace(v), true
}
