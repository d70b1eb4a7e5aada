// Package audio implements streaming PCM playback: producers enqueue raw
// 16-bit chunks, and a per-stream session prebuffers, writes them to an
// output sink, drains, and reports exactly one status when it ends.
package audio

import (
	"fmt"
	"log/slog"
	"time"
)

// Config holds playback tuning.
type Config struct {
	// SampleRate is the PCM rate in Hz, read when a session starts.
	// Default: 24000
	SampleRate int `mapstructure:"sample_rate" json:"sample_rate"`

	// MinBufferBytes is the prebuffer threshold before the device is opened.
	// Default: 50000 (~1s at 24kHz mono)
	MinBufferBytes int `mapstructure:"min_buffer_bytes" json:"min_buffer_bytes"`

	// PollInterval bounds every wait: prebuffer re-checks, drain retries,
	// and soft write retries.
	// Default: 10ms
	PollInterval time.Duration `mapstructure:"poll_interval" json:"poll_interval"`

	// DrainRetries is how many poll intervals an empty queue is tolerated
	// before the session ends without an end-of-stream mark.
	// Default: 100
	DrainRetries int `mapstructure:"drain_retries" json:"drain_retries"`

	// PrebufferTimeout starts playback even if the threshold is not met.
	// Default: 0 (wait indefinitely)
	PrebufferTimeout time.Duration `mapstructure:"prebuffer_timeout" json:"prebuffer_timeout"`

	// SkipDrainOnEnd ends the session as soon as the queue is empty once
	// the stream is marked ended, instead of waiting out the drain window.
	// Default: true
	SkipDrainOnEnd bool `mapstructure:"skip_drain_on_end" json:"skip_drain_on_end"`

	// PaceWrites sleeps after each write for the written audio's duration
	// minus PaceLead, for sinks that accept data faster than real time.
	// Default: false
	PaceWrites bool `mapstructure:"pace_writes" json:"pace_writes"`

	// PaceLead is how far ahead of real time pacing keeps the device.
	// Default: 100ms
	PaceLead time.Duration `mapstructure:"pace_lead" json:"pace_lead"`

	// MaxStalledWrites is how many consecutive zero-progress writes are
	// tolerated before the session fails with ErrSinkStalled.
	// Default: 50
	MaxStalledWrites int `mapstructure:"max_stalled_writes" json:"max_stalled_writes"`

	// StopTimeout bounds how long Stop waits for the output to be released.
	// Default: 2s
	StopTimeout time.Duration `mapstructure:"stop_timeout" json:"stop_timeout"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		SampleRate:       24000,
		MinBufferBytes:   50000,
		PollInterval:     10 * time.Millisecond,
		DrainRetries:     100,
		PrebufferTimeout: 0,
		SkipDrainOnEnd:   true,
		PaceWrites:       false,
		PaceLead:         100 * time.Millisecond,
		MaxStalledWrites: 50,
		StopTimeout:      2 * time.Second,
	}
}

// BoundedConfig returns the defaults with a 2s prebuffer timeout, so a
// producer that stalls below the threshold still gets heard.
func BoundedConfig() Config {
	cfg := DefaultConfig()
	cfg.PrebufferTimeout = 2 * time.Second
	return cfg
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	if c.SampleRate <= 0 {
		return fmt.Errorf("sample_rate must be positive, got %d", c.SampleRate)
	}
	if c.MinBufferBytes < 0 {
		return fmt.Errorf("min_buffer_bytes must not be negative, got %d", c.MinBufferBytes)
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("poll_interval must be positive, got %v", c.PollInterval)
	}
	if c.DrainRetries < 0 {
		return fmt.Errorf("drain_retries must not be negative, got %d", c.DrainRetries)
	}
	if c.PrebufferTimeout < 0 {
		return fmt.Errorf("prebuffer_timeout must not be negative, got %v", c.PrebufferTimeout)
	}
	if c.MaxStalledWrites <= 0 {
		return fmt.Errorf("max_stalled_writes must be positive, got %d", c.MaxStalledWrites)
	}
	if c.StopTimeout <= 0 {
		return fmt.Errorf("stop_timeout must be positive, got %v", c.StopTimeout)
	}
	return nil
}

// DrainWindow returns the total time an empty queue is tolerated.
func (c *Config) DrainWindow() time.Duration {
	return time.Duration(c.DrainRetries) * c.PollInterval
}

// Option configures a Player.
type Option func(*Player)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(p *Player) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithStatusHandler registers the callback invoked once per finished session.
// It runs on the session goroutine after the output has been released.
func WithStatusHandler(fn func(Status)) Option {
	return func(p *Player) {
		p.onStatus = fn
	}
}

// WithMetricsCollector shares a collector between players.
func WithMetricsCollector(m *MetricsCollector) Option {
	return func(p *Player) {
		if m != nil {
			p.metrics = m
		}
	}
}
