// Package config provides the configuration used to open waveform stores.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/aewave/aewave/pkg/types"
	"gopkg.in/yaml.v3"
)

// Config holds the settings for opening tradb, trfdb and pridb files.
type Config struct {
	// Mode is the access mode: ro or rw
	Mode types.Mode `json:"mode" yaml:"mode"`

	// DataDir is the base directory for relative file paths
	DataDir string `json:"data_dir" yaml:"data_dir"`

	// Tradb configuration
	Tradb TradbConfig `json:"tradb" yaml:"tradb"`

	// Trfdb configuration
	Trfdb TrfdbConfig `json:"trfdb" yaml:"trfdb"`

	// Pridb configuration
	Pridb PridbConfig `json:"pridb" yaml:"pridb"`

	// Archive configuration
	Archive ArchiveConfig `json:"archive" yaml:"archive"`
}

// TradbConfig holds the transient waveform database settings.
type TradbConfig struct {
	// Path is the tradb file
	Path string `json:"path" yaml:"path"`

	// Compression stores written waveforms as FLAC
	Compression bool `json:"compression" yaml:"compression"`

	// CheckExtension requires the .tradb suffix
	CheckExtension bool `json:"check_extension" yaml:"check_extension"`

	// CreateIfMissing creates an empty file in rw mode when Path does not exist
	CreateIfMissing bool `json:"create_if_missing" yaml:"create_if_missing"`
}

// TrfdbConfig holds the transient feature database settings.
type TrfdbConfig struct {
	// Path is the trfdb file
	Path string `json:"path" yaml:"path"`

	// CheckExtension requires the .trfdb suffix
	CheckExtension bool `json:"check_extension" yaml:"check_extension"`

	// CreateIfMissing creates an empty file in rw mode when Path does not exist
	CreateIfMissing bool `json:"create_if_missing" yaml:"create_if_missing"`
}

// PridbConfig holds the primary AE database settings.
type PridbConfig struct {
	// Path is the pridb file
	Path string `json:"path" yaml:"path"`

	// CheckExtension requires the .pridb suffix
	CheckExtension bool `json:"check_extension" yaml:"check_extension"`

	// CreateIfMissing creates an empty file in rw mode when Path does not exist
	CreateIfMissing bool `json:"create_if_missing" yaml:"create_if_missing"`
}

// ArchiveConfig holds the object store that closed files are published to.
type ArchiveConfig struct {
	// Backend is "local" or "s3"; empty disables the archive
	Backend string `json:"backend" yaml:"backend"`

	// Path is the base directory of the local backend
	Path string `json:"path" yaml:"path"`

	// CacheDir receives fetched files
	CacheDir string `json:"cache_dir" yaml:"cache_dir"`

	// Concurrency bounds parallel fetches
	Concurrency int `json:"concurrency" yaml:"concurrency"`

	// S3 settings
	Bucket       string `json:"bucket" yaml:"bucket"`
	Prefix       string `json:"prefix" yaml:"prefix"`
	Region       string `json:"region" yaml:"region"`
	Endpoint     string `json:"endpoint" yaml:"endpoint"`
	UsePathStyle bool   `json:"use_path_style" yaml:"use_path_style"`
}

// Validate checks the backend settings.
func (a *ArchiveConfig) Validate() error {
	switch a.Backend {
	case "":
		return nil
	case "local":
		if a.Path == "" {
			return fmt.Errorf("archive.path is required for the local backend")
		}
	case "s3":
		if a.Bucket == "" {
			return fmt.Errorf("archive.bucket is required for the s3 backend")
		}
	default:
		return fmt.Errorf("invalid archive backend: %s (must be local or s3)", a.Backend)
	}
	if a.Concurrency < 0 {
		return fmt.Errorf("archive.concurrency must not be negative")
	}
	return nil
}

// DefaultConfig returns a read-only configuration with extension checks on.
func DefaultConfig() *Config {
	return &Config{
		Mode:    types.ModeReadOnly,
		DataDir: ".",
		Tradb: TradbConfig{
			CheckExtension: true,
		},
		Trfdb: TrfdbConfig{
			CheckExtension: true,
		},
		Pridb: PridbConfig{
			CheckExtension: true,
		},
		Archive: ArchiveConfig{
			Concurrency: 4,
		},
	}
}

// Resolve joins relative file paths with DataDir.
func (c *Config) Resolve() {
	if c.DataDir == "" {
		c.DataDir = "."
	}
	if c.Tradb.Path != "" && !filepath.IsAbs(c.Tradb.Path) {
		c.Tradb.Path = filepath.Join(c.DataDir, c.Tradb.Path)
	}
	if c.Trfdb.Path != "" && !filepath.IsAbs(c.Trfdb.Path) {
		c.Trfdb.Path = filepath.Join(c.DataDir, c.Trfdb.Path)
	}
	if c.Pridb.Path != "" && !filepath.IsAbs(c.Pridb.Path) {
		c.Pridb.Path = filepath.Join(c.DataDir, c.Pridb.Path)
	}
	if c.Archive.Backend != "" && c.Archive.CacheDir == "" {
		c.Archive.CacheDir = filepath.Join(c.DataDir, "cache")
	}
	if c.Archive.CacheDir != "" && !filepath.IsAbs(c.Archive.CacheDir) {
		c.Archive.CacheDir = filepath.Join(c.DataDir, c.Archive.CacheDir)
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	switch c.Mode {
	case types.ModeReadOnly, types.ModeReadWrite:
		// Valid modes
	case types.ModeReadWriteCreate:
		return fmt.Errorf("mode %s is not supported, use rw with create_if_missing", c.Mode)
	default:
		return fmt.Errorf("invalid mode: %s (must be ro or rw)", c.Mode)
	}

	if c.Tradb.Path == "" && c.Trfdb.Path == "" && c.Pridb.Path == "" && c.Archive.Backend == "" {
		return fmt.Errorf("tradb.path, trfdb.path, pridb.path or archive.backend is required")
	}

	if c.Mode.ReadOnly() && (c.Tradb.CreateIfMissing || c.Trfdb.CreateIfMissing || c.Pridb.CreateIfMissing) {
		return fmt.Errorf("create_if_missing requires mode rw")
	}

	return c.Archive.Validate()
}

// LoadFromFile loads configuration from a YAML or JSON file.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()

	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse YAML config: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse JSON config: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported config file format: %s", ext)
	}

	return cfg, nil
}

// LoadFromEnv loads configuration from environment variables.
// Environment variables use the AEWAVE_ prefix.
func LoadFromEnv(cfg *Config) {
	if v := os.Getenv("AEWAVE_MODE"); v != "" {
		cfg.Mode = types.Mode(v)
	}
	if v := os.Getenv("AEWAVE_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}

	// Tradb configuration
	if v := os.Getenv("AEWAVE_TRADB_PATH"); v != "" {
		cfg.Tradb.Path = v
	}
	envBool("AEWAVE_TRADB_COMPRESSION", &cfg.Tradb.Compression)
	envBool("AEWAVE_TRADB_CHECK_EXTENSION", &cfg.Tradb.CheckExtension)
	envBool("AEWAVE_TRADB_CREATE_IF_MISSING", &cfg.Tradb.CreateIfMissing)

	// Trfdb configuration
	if v := os.Getenv("AEWAVE_TRFDB_PATH"); v != "" {
		cfg.Trfdb.Path = v
	}
	envBool("AEWAVE_TRFDB_CHECK_EXTENSION", &cfg.Trfdb.CheckExtension)
	envBool("AEWAVE_TRFDB_CREATE_IF_MISSING", &cfg.Trfdb.CreateIfMissing)

	// Pridb configuration
	if v := os.Getenv("AEWAVE_PRIDB_PATH"); v != "" {
		cfg.Pridb.Path = v
	}
	envBool("AEWAVE_PRIDB_CHECK_EXTENSION", &cfg.Pridb.CheckExtension)
	envBool("AEWAVE_PRIDB_CREATE_IF_MISSING", &cfg.Pridb.CreateIfMissing)

	// Archive configuration
	if v := os.Getenv("AEWAVE_ARCHIVE_BACKEND"); v != "" {
		cfg.Archive.Backend = v
	}
	if v := os.Getenv("AEWAVE_ARCHIVE_PATH"); v != "" {
		cfg.Archive.Path = v
	}
	if v := os.Getenv("AEWAVE_ARCHIVE_CACHE_DIR"); v != "" {
		cfg.Archive.CacheDir = v
	}
	if v := os.Getenv("AEWAVE_ARCHIVE_CONCURRENCY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Archive.Concurrency = n
		}
	}
	if v := os.Getenv("AEWAVE_S3_BUCKET"); v != "" {
		cfg.Archive.Bucket = v
	}
	if v := os.Getenv("AEWAVE_S3_PREFIX"); v != "" {
		cfg.Archive.Prefix = v
	}
	if v := os.Getenv("AEWAVE_S3_REGION"); v != "" {
		cfg.Archive.Region = v
	}
	if v := os.Getenv("AEWAVE_S3_ENDPOINT"); v != "" {
		cfg.Archive.Endpoint = v
	}
	envBool("AEWAVE_S3_USE_PATH_STYLE", &cfg.Archive.UsePathStyle)
}

// envBool sets dst when the variable holds a value strconv.ParseBool accepts.
func envBool(key string, dst *bool) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	if b, err := strconv.ParseBool(v); err == nil {
		*dst = b
	}
}

// Load reads path (if not empty), applies the environment and resolves paths.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		var err error
		if cfg, err = LoadFromFile(path); err != nil {
			return nil, err
		}
	}
	LoadFromEnv(cfg)
	cfg.Resolve()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
