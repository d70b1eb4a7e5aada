// Package audioio provides the output side of the streaming player:
// sample conversion, output sinks, and PCM sources that feed the player.
//
// This package supports multiple sink backends:
//   - Oto (Linux/macOS/Windows) - native float32 device output
//   - PortAudio - blocking int16 device output
//   - RTP - Opus over RTP/UDP to a networked speaker (the robot)
//   - Mock - CI/Testing without hardware
//
// The backend is selected automatically based on build tags and platform,
// or can be explicitly specified via configuration.
package audioio

import (
	"fmt"
	"time"
)

// Backend represents the audio backend type.
type Backend string

const (
	// BackendAuto automatically selects the best available backend.
	BackendAuto Backend = "auto"
	// BackendOto uses ebitengine/oto for native device output.
	BackendOto Backend = "oto"
	// BackendPortAudio uses PortAudio blocking streams.
	BackendPortAudio Backend = "portaudio"
	// BackendRTP encodes Opus and sends RTP packets over UDP.
	BackendRTP Backend = "rtp"
	// BackendMock uses a mock implementation for testing.
	BackendMock Backend = "mock"
)

// Config holds audio configuration.
type Config struct {
	// Backend specifies which audio backend to use.
	// Default: "auto" (selects best available for platform)
	Backend Backend `mapstructure:"backend" json:"backend"`

	// SampleRate is the audio sample rate in Hz of incoming PCM.
	// Default: 24000 (TTS output rate)
	SampleRate int `mapstructure:"sample_rate" json:"sample_rate"`

	// Channels is the number of audio channels.
	// Default: 1 (mono)
	Channels int `mapstructure:"channels" json:"channels"`

	// BufferDuration is the size of device buffers and source reads.
	// Default: 20ms (480 samples at 24kHz)
	BufferDuration time.Duration `mapstructure:"buffer_duration" json:"buffer_duration"`

	// Device is the platform-specific device identifier.
	// Examples:
	//   - PortAudio: device name, empty for default
	//   - RTP: "host:port" of the receiver, default "127.0.0.1:5000"
	//   - Oto, Mock: ignored
	Device string `mapstructure:"device" json:"device"`

	// PayloadType is the RTP payload type used by the RTP backend.
	// Default: 96 (dynamic, matches rtpopuspay)
	PayloadType uint8 `mapstructure:"payload_type" json:"payload_type"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Backend:        BackendAuto,
		SampleRate:     24000,
		Channels:       1,
		BufferDuration: 20 * time.Millisecond,
		Device:         "",
		PayloadType:    96,
	}
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	if c.SampleRate <= 0 {
		return fmt.Errorf("sample_rate must be positive, got %d", c.SampleRate)
	}
	if c.Channels != 1 {
		return fmt.Errorf("channels must be 1 (mono), got %d", c.Channels)
	}
	if c.BufferDuration <= 0 {
		return fmt.Errorf("buffer_duration must be positive, got %v", c.BufferDuration)
	}
	switch c.Backend {
	case BackendAuto, BackendOto, BackendPortAudio, BackendRTP, BackendMock:
	default:
		return fmt.Errorf("unknown backend %q", c.Backend)
	}
	return nil
}

// Format returns the device format for this configuration with the given
// sample representation.
func (c *Config) Format(sample SampleFormat) Format {
	return Format{
		SampleRate: c.SampleRate,
		Channels:   c.Channels,
		Sample:     sample,
	}
}

// BufferSize returns the number of samples per buffer.
func (c *Config) BufferSize() int {
	return int(float64(c.SampleRate) * c.BufferDuration.Seconds())
}

// BufferBytes returns the size of a buffer in bytes (assuming int16 samples).
func (c *Config) BufferBytes() int {
	return c.BufferSize() * c.Channels * 2 // 2 bytes per int16 sample
}
