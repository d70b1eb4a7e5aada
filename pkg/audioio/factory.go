package audioio

import (
	"fmt"
	"log/slog"
	"runtime"
)

// NewSink creates a new audio sink with the given configuration.
// If cfg.Backend is BackendAuto, the best available backend is selected.
func NewSink(cfg Config, logger *slog.Logger) (Sink, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	if logger == nil {
		logger = slog.Default()
	}

	backend := cfg.Backend
	if backend == BackendAuto {
		backend = detectBestBackend()
	}

	logger.Info("creating audio sink",
		"backend", backend,
		"sample_rate", cfg.SampleRate,
		"channels", cfg.Channels,
		"buffer_ms", cfg.BufferDuration.Milliseconds(),
	)

	switch backend {
	case BackendMock:
		return NewMockSink(cfg, logger), nil
	case BackendOto:
		return newOtoSink(cfg, logger)
	case BackendPortAudio:
		return newPortAudioSink(cfg, logger)
	case BackendRTP:
		return newRTPSink(cfg, logger)
	default:
		return nil, fmt.Errorf("unsupported backend: %s", backend)
	}
}

// detectBestBackend returns the best available backend for the current platform.
func detectBestBackend() Backend {
	switch runtime.GOOS {
	case "linux", "darwin", "windows":
		if otoAvailable {
			return BackendOto
		}
		if portAudioAvailable {
			return BackendPortAudio
		}
	}
	return BackendMock
}

// AvailableBackends returns the list of backends available in this build.
func AvailableBackends() []Backend {
	backends := []Backend{BackendMock, BackendRTP}
	if otoAvailable {
		backends = append(backends, BackendOto)
	}
	if portAudioAvailable {
		backends = append(backends, BackendPortAudio)
	}
	return backends
}
