package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// TuningConfig represents the root configuration for acquisition tuning
// parameters. Every field is a pointer so that partial JSON configs only
// override what they mention; the Get* methods supply defaults for the rest.
type TuningConfig struct {
	// Sample buffer params
	BufferSize    *int    `json:"buffer_size,omitempty"`
	FlushInterval *string `json:"flush_interval,omitempty"` // duration string like "1s"

	// Capture params
	FrameRate       *int    `json:"frame_rate,omitempty"`
	Quality         *string `json:"quality,omitempty"`
	ChunkDurationMs *int64  `json:"chunk_duration_ms,omitempty"`
	VideoFormat     *string `json:"video_format,omitempty"`

	// Tracker socket params
	TrackerURL       *string `json:"tracker_url,omitempty"`
	TrackerReconnect *bool   `json:"tracker_reconnect,omitempty"`

	// Quality scoring params
	SampleRateHz *float64 `json:"sample_rate_hz,omitempty"`

	// Storage retention params
	MaxChunkAge    *string `json:"max_chunk_age,omitempty"` // duration string like "24h"
	BudgetBytes    *int64  `json:"budget_bytes,omitempty"`
	CleanupEnabled *bool   `json:"cleanup_enabled,omitempty"`
}

// Helper functions to create pointers
func ptrFloat64(v float64) *float64 { return &v }
func ptrBool(v bool) *bool          { return &v }
func ptrString(v string) *string    { return &v }
func ptrInt(v int) *int             { return &v }
func ptrInt64(v int64) *int64       { return &v }

// EmptyTuningConfig returns a TuningConfig with all fields set to nil.
func EmptyTuningConfig() *TuningConfig {
	return &TuningConfig{}
}

// LoadTuningConfig loads a TuningConfig from a JSON file.
// The file is validated to ensure it has a .json extension and is under the
// max file size. Fields omitted from the JSON file retain their default
// values, so partial configs are safe.
func LoadTuningConfig(path string) (*TuningConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	// Check file size for safety (max 1MB)
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

	cfg := EmptyTuningConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that the configuration values are valid.
func (c *TuningConfig) Validate() error {
	if c.BufferSize != nil && *c.BufferSize < 1 {
		return fmt.Errorf("buffer_size must be positive, got %d", *c.BufferSize)
	}

	if c.FlushInterval != nil && *c.FlushInterval != "" {
		if _, err := time.ParseDuration(*c.FlushInterval); err != nil {
			return fmt.Errorf("invalid flush_interval '%s': %w", *c.FlushInterval, err)
		}
	}

	if c.MaxChunkAge != nil && *c.MaxChunkAge != "" {
		if _, err := time.ParseDuration(*c.MaxChunkAge); err != nil {
			return fmt.Errorf("invalid max_chunk_age '%s': %w", *c.MaxChunkAge, err)
		}
	}

	if c.FrameRate != nil && *c.FrameRate < 1 {
		return fmt.Errorf("frame_rate must be positive, got %d", *c.FrameRate)
	}

	if c.SampleRateHz != nil && *c.SampleRateHz <= 0 {
		return fmt.Errorf("sample_rate_hz must be positive, got %f", *c.SampleRateHz)
	}

	if c.BudgetBytes != nil && *c.BudgetBytes < 0 {
		return fmt.Errorf("budget_bytes must be non-negative, got %d", *c.BudgetBytes)
	}

	return nil
}

// GetBufferSize returns the buffer_size value or the default.
func (c *TuningConfig) GetBufferSize() int {
	if c.BufferSize == nil {
		return 50
	}
	return *c.BufferSize
}

// GetFlushInterval parses and returns the FlushInterval as a time.Duration.
func (c *TuningConfig) GetFlushInterval() time.Duration {
	if c.FlushInterval == nil || *c.FlushInterval == "" {
		return time.Second // default
	}
	d, err := time.ParseDuration(*c.FlushInterval)
	if err != nil {
		return time.Second // default on parse error
	}
	return d
}

// GetFrameRate returns the frame_rate value or the default.
func (c *TuningConfig) GetFrameRate() int {
	if c.FrameRate == nil {
		return 30
	}
	return *c.FrameRate
}

// GetQuality returns the quality value or the default.
func (c *TuningConfig) GetQuality() string {
	if c.Quality == nil || *c.Quality == "" {
		return "high"
	}
	return *c.Quality
}

// GetChunkDurationMs returns the chunk_duration_ms value or the default.
func (c *TuningConfig) GetChunkDurationMs() int64 {
	if c.ChunkDurationMs == nil {
		return 1000
	}
	return *c.ChunkDurationMs
}

// GetVideoFormat returns the video_format value or the default.
func (c *TuningConfig) GetVideoFormat() string {
	if c.VideoFormat == nil || *c.VideoFormat == "" {
		return "video/webm;codecs=vp9"
	}
	return *c.VideoFormat
}

// GetTrackerURL returns the tracker_url value or the default.
func (c *TuningConfig) GetTrackerURL() string {
	if c.TrackerURL == nil {
		return "ws://localhost:8765"
	}
	return *c.TrackerURL
}

// GetTrackerReconnect returns the tracker_reconnect value or the default.
func (c *TuningConfig) GetTrackerReconnect() bool {
	if c.TrackerReconnect == nil {
		return true
	}
	return *c.TrackerReconnect
}

// GetSampleRateHz returns the sample_rate_hz value or the default.
func (c *TuningConfig) GetSampleRateHz() float64 {
	if c.SampleRateHz == nil {
		return 60
	}
	return *c.SampleRateHz
}

// GetMaxChunkAge parses and returns the MaxChunkAge as a time.Duration.
func (c *TuningConfig) GetMaxChunkAge() time.Duration {
	if c.MaxChunkAge == nil || *c.MaxChunkAge == "" {
		return 24 * time.Hour // default
	}
	d, err := time.ParseDuration(*c.MaxChunkAge)
	if err != nil {
		return 24 * time.Hour // default on parse error
	}
	return d
}

// GetBudgetBytes returns the budget_bytes value or the default.
func (c *TuningConfig) GetBudgetBytes() int64 {
	if c.BudgetBytes == nil {
		return 2 << 30 // 2 GiB
	}
	return *c.BudgetBytes
}

// GetCleanupEnabled returns the cleanup_enabled value or the default.
func (c *TuningConfig) GetCleanupEnabled() bool {
	if c.CleanupEnabled == nil {
		return true
	}
	return *c.CleanupEnabled
}

// SessionDefaults builds per-session capture defaults from the tuning values.
func (c *TuningConfig) SessionDefaults() (frameRate int, quality string, chunkMs int64, format string) {
	return c.GetFrameRate(), c.GetQuality(), c.GetChunkDurationMs(), c.GetVideoFormat()
}
