package audioio

import (
	"errors"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if err := cfg.Validate(); err != nil {
		t.Fatalf("Default config invalid: %v", err)
	}
	if cfg.SampleRate != 24000 {
		t.Errorf("Expected 24000 Hz, got %d", cfg.SampleRate)
	}
	if cfg.BufferSize() != 480 {
		t.Errorf("Expected 480 samples per buffer, got %d", cfg.BufferSize())
	}
	if cfg.BufferBytes() != 960 {
		t.Errorf("Expected 960 bytes per buffer, got %d", cfg.BufferBytes())
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
	}{
		{"zero rate", func(c *Config) { c.SampleRate = 0 }},
		{"stereo", func(c *Config) { c.Channels = 2 }},
		{"zero buffer", func(c *Config) { c.BufferDuration = 0 }},
		{"unknown backend", func(c *Config) { c.Backend = "alsa" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("Expected validation error")
			}
		})
	}
}

func TestConfig_Format(t *testing.T) {
	cfg := DefaultConfig()
	f := cfg.Format(SampleFormatFloat32)

	if f.SampleRate != 24000 || f.Channels != 1 || f.Sample != SampleFormatFloat32 {
		t.Errorf("Unexpected format: %+v", f)
	}
	if got := f.FrameDuration(24000); got != time.Second {
		t.Errorf("Expected 1s for 24000 frames, got %v", got)
	}
}

func TestNewSink_Mock(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Backend = BackendMock

	sink, err := NewSink(cfg, nil)
	if err != nil {
		t.Fatalf("NewSink failed: %v", err)
	}
	if sink.Name() != "mock" {
		t.Errorf("Expected mock sink, got %s", sink.Name())
	}
}

func TestNewSink_RTP(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Backend = BackendRTP
	cfg.Device = "127.0.0.1:5004"

	sink, err := NewSink(cfg, nil)
	if err != nil {
		t.Fatalf("NewSink failed: %v", err)
	}
	if sink.Name() != "rtp" {
		t.Errorf("Expected rtp sink, got %s", sink.Name())
	}
}

func TestNewSink_InvalidConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SampleRate = -1

	if _, err := NewSink(cfg, nil); err == nil {
		t.Error("Expected error for invalid config")
	}
}

func TestNewSink_UnavailableBackend(t *testing.T) {
	if portAudioAvailable {
		t.Skip("portaudio compiled in")
	}

	cfg := DefaultConfig()
	cfg.Backend = BackendPortAudio

	_, err := NewSink(cfg, nil)
	if !errors.Is(err, ErrBackendUnavailable) {
		t.Errorf("Expected ErrBackendUnavailable, got: %v", err)
	}
}

func TestAvailableBackends(t *testing.T) {
	backends := AvailableBackends()

	hasMock := false
	for _, b := range backends {
		if b == BackendMock {
			hasMock = true
		}
	}
	if !hasMock {
		t.Error("Mock backend should always be available")
	}
}
