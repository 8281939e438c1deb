// Package config provides the configuration structure for voiceproof.
package config

import (
	"fmt"
	"time"

	"github.com/book-expert/configurator"
	"github.com/book-expert/logger"
)

// NATSConfig holds the configuration for NATS.
type NATSConfig struct {
	URL                   string `toml:"url"`
	AudioBucket           string `toml:"audio_bucket"`
	ProgressSubjectPrefix string `toml:"progress_subject_prefix"`
}

// HTTPConfig holds the configuration for the HTTP API.
type HTTPConfig struct {
	ListenAddress       string `toml:"listen_address"`
	ReadTimeoutSeconds  int    `toml:"read_timeout_seconds"`
	WriteTimeoutSeconds int    `toml:"write_timeout_seconds"`
}

// SynthesisConfig holds the configuration for the speech synthesis
// provider.
type SynthesisConfig struct {
	BaseURL        string  `toml:"base_url"`
	Temperature    float64 `toml:"temperature"`
	TimeoutSeconds int     `toml:"timeout_seconds"`
}

// TranscriptionConfig holds the configuration for the transcription
// provider.
type TranscriptionConfig struct {
	BaseURL        string `toml:"base_url"`
	APIKey         string `toml:"api_key"`
	Model          string `toml:"model"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// VerificationConfig tunes the verification loop.
type VerificationConfig struct {
	CallTimeoutSeconds  int `toml:"call_timeout_seconds"`
	TransportRetries    int `toml:"transport_retries"`
	RetryBackoffSeconds int `toml:"retry_backoff_seconds"`
	MaxBackoffSeconds   int `toml:"max_backoff_seconds"`
	Workers             int `toml:"workers"`
	QueueSize           int `toml:"queue_size"`
}

// PathsConfig holds the configuration for file paths.
type PathsConfig struct {
	BaseLogsDir string `toml:"base_logs_dir"`
}

// Config is the root configuration structure.
type Config struct {
	NATS          NATSConfig          `toml:"nats"`
	HTTP          HTTPConfig          `toml:"http"`
	Synthesis     SynthesisConfig     `toml:"synthesis"`
	Transcription TranscriptionConfig `toml:"transcription"`
	Verification  VerificationConfig  `toml:"verification"`
	Paths         PathsConfig         `toml:"paths"`
}

// Load loads the configuration for voiceproof.
func Load(log *logger.Logger) (*Config, error) {
	var cfg Config

	err := configurator.Load(&cfg, log)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration from configurator: %w", err)
	}

	cfg.applyDefaults()

	return &cfg, nil
}

// applyDefaults fills in values the configuration file may omit.
func (c *Config) applyDefaults() {
	if c.NATS.AudioBucket == "" {
		c.NATS.AudioBucket = "VOICEPROOF_AUDIO"
	}

	if c.HTTP.ListenAddress == "" {
		c.HTTP.ListenAddress = ":8080"
	}

	if c.HTTP.ReadTimeoutSeconds <= 0 {
		c.HTTP.ReadTimeoutSeconds = 30
	}

	if c.HTTP.WriteTimeoutSeconds <= 0 {
		c.HTTP.WriteTimeoutSeconds = 120
	}

	if c.Synthesis.TimeoutSeconds <= 0 {
		c.Synthesis.TimeoutSeconds = 90
	}

	if c.Transcription.TimeoutSeconds <= 0 {
		c.Transcription.TimeoutSeconds = 90
	}

	if c.Transcription.Model == "" {
		c.Transcription.Model = "whisper-1"
	}
}

// SynthesisTimeout returns the synthesis client timeout as a duration.
func (c *Config) SynthesisTimeout() time.Duration {
	return time.Duration(c.Synthesis.TimeoutSeconds) * time.Second
}

// TranscriptionTimeout returns the transcription client timeout as a
// duration.
func (c *Config) TranscriptionTimeout() time.Duration {
	return time.Duration(c.Transcription.TimeoutSeconds) * time.Second
}
