// Package config represents the complete configuration surface for
// maskedit: pipeline defaults, the HTTP server, rate limiting and the
// storage roots, loaded from files, environment variables and flags
// (spec §6.4).
package config

import (
	"fmt"
	"strings"
)

// Config is the root configuration object, unmarshaled by viper.
type Config struct {
	LogLevel string `mapstructure:"log_level" yaml:"log_level" json:"log_level"`
	Verbose  bool   `mapstructure:"verbose"   yaml:"verbose"   json:"verbose"`

	Pipeline  PipelineConfig  `mapstructure:"pipeline"   yaml:"pipeline"   json:"pipeline"`
	Storage   StorageConfig   `mapstructure:"storage"    yaml:"storage"    json:"storage"`
	Model     ModelConfig     `mapstructure:"model"      yaml:"model"      json:"model"`
	Server    ServerConfig    `mapstructure:"server"     yaml:"server"     json:"server"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit" yaml:"rate_limit" json:"rate_limit"`
}

// PipelineConfig holds the numeric knobs of the edit pipeline (spec §6.4).
type PipelineConfig struct {
	MaxPatchEdge   int     `mapstructure:"max_patch_edge"   yaml:"max_patch_edge"   json:"max_patch_edge"`
	DefaultFeather int     `mapstructure:"default_feather"  yaml:"default_feather"  json:"default_feather"`
	DefaultPadding int     `mapstructure:"default_padding"  yaml:"default_padding"  json:"default_padding"`
	ColorMatchRing int     `mapstructure:"color_match_ring" yaml:"color_match_ring" json:"color_match_ring"`
	ColorGainMin   float64 `mapstructure:"color_gain_min"   yaml:"color_gain_min"   json:"color_gain_min"`
	ColorGainMax   float64 `mapstructure:"color_gain_max"   yaml:"color_gain_max"   json:"color_gain_max"`
	SoftDilateMask bool    `mapstructure:"soft_dilate_mask" yaml:"soft_dilate_mask" json:"soft_dilate_mask"`
	DebugDir       string  `mapstructure:"debug_dir"        yaml:"debug_dir"        json:"debug_dir"`
}

// StorageConfig points at the flat generated/edits directory root.
type StorageConfig struct {
	Root string `mapstructure:"root" yaml:"root" json:"root"`
}

// ModelConfig configures the OpenRouter-compatible model adapter.
type ModelConfig struct {
	APIKey     string `mapstructure:"api_key"     yaml:"api_key"     json:"api_key"`
	BaseURL    string `mapstructure:"base_url"    yaml:"base_url"    json:"base_url"`
	Name       string `mapstructure:"name"        yaml:"name"        json:"name"`
	TimeoutSec int    `mapstructure:"timeout_sec" yaml:"timeout_sec" json:"timeout_sec"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Host            string `mapstructure:"host"             yaml:"host"             json:"host"`
	Port            int    `mapstructure:"port"             yaml:"port"             json:"port"`
	CORSOrigin      string `mapstructure:"cors_origin"      yaml:"cors_origin"      json:"cors_origin"`
	MaxUploadMB     int    `mapstructure:"max_upload_mb"    yaml:"max_upload_mb"    json:"max_upload_mb"`
	TimeoutSec      int    `mapstructure:"timeout_sec"      yaml:"timeout_sec"      json:"timeout_sec"`
	ShutdownTimeout int    `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout" json:"shutdown_timeout"`
	MetricsEnabled  bool   `mapstructure:"metrics_enabled"  yaml:"metrics_enabled"  json:"metrics_enabled"`
}

// RateLimitConfig configures the per-key request budget (spec §3
// supplemented features).
type RateLimitConfig struct {
	Enabled           bool `mapstructure:"enabled"             yaml:"enabled"             json:"enabled"`
	RequestsPerMinute int  `mapstructure:"requests_per_minute" yaml:"requests_per_minute" json:"requests_per_minute"`
	BurstSize         int  `mapstructure:"burst_size"          yaml:"burst_size"          json:"burst_size"`
}

// DefaultConfig returns the configuration used when no file, env var or
// flag overrides a setting.
func DefaultConfig() Config {
	return Config{
		LogLevel: "info",
		Verbose:  false,
		Pipeline: PipelineConfig{
			MaxPatchEdge:   1024,
			DefaultFeather: 2,
			DefaultPadding: 12,
			ColorMatchRing: 8,
			ColorGainMin:   0.6,
			ColorGainMax:   1.6,
			SoftDilateMask: false,
			DebugDir:       "",
		},
		Storage: StorageConfig{
			Root: "./data",
		},
		Model: ModelConfig{
			BaseURL:    "https://openrouter.ai/api/v1",
			Name:       "google/gemini-2.5-flash-image",
			TimeoutSec: 60,
		},
		Server: ServerConfig{
			Host:            "localhost",
			Port:            8080,
			CORSOrigin:      "*",
			MaxUploadMB:     25,
			TimeoutSec:      90,
			ShutdownTimeout: 10,
			MetricsEnabled:  true,
		},
		RateLimit: RateLimitConfig{
			Enabled:           true,
			RequestsPerMinute: 30,
			BurstSize:         10,
		},
	}
}

// Validate checks the loaded configuration for internally inconsistent or
// out-of-range values that would otherwise surface confusingly deep in the
// pipeline.
func (c *Config) Validate() error {
	validLogLevels := []string{"debug", "info", "warn", "error"}
	if !contains(validLogLevels, c.LogLevel) {
		return fmt.Errorf("invalid log level: %s (must be one of: %s)", c.LogLevel, strings.Join(validLogLevels, ", "))
	}

	if c.Pipeline.MaxPatchEdge <= 0 {
		return fmt.Errorf("pipeline.max_patch_edge must be positive, got %d", c.Pipeline.MaxPatchEdge)
	}
	if c.Pipeline.DefaultFeather < 0 || c.Pipeline.DefaultFeather > 32 {
		return fmt.Errorf("pipeline.default_feather must be within [0,32], got %d", c.Pipeline.DefaultFeather)
	}
	if c.Pipeline.DefaultPadding < 0 {
		return fmt.Errorf("pipeline.default_padding must be non-negative, got %d", c.Pipeline.DefaultPadding)
	}
	if c.Pipeline.ColorMatchRing <= 0 {
		return fmt.Errorf("pipeline.color_match_ring must be positive, got %d", c.Pipeline.ColorMatchRing)
	}
	if c.Pipeline.ColorGainMin <= 0 || c.Pipeline.ColorGainMax < c.Pipeline.ColorGainMin {
		return fmt.Errorf("pipeline.color_gain_min/max must satisfy 0 < min <= max, got [%f,%f]",
			c.Pipeline.ColorGainMin, c.Pipeline.ColorGainMax)
	}

	if c.Storage.Root == "" {
		return fmt.Errorf("storage.root must not be empty")
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be within (0,65535], got %d", c.Server.Port)
	}

	if c.RateLimit.Enabled && c.RateLimit.RequestsPerMinute <= 0 {
		return fmt.Errorf("rate_limit.requests_per_minute must be positive when rate limiting is enabled")
	}

	return nil
}

func contains(list []string, want string) bool {
	for _, v := range list {
		if v == want {
			return true
		}
	}
	return false
}
