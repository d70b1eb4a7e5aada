//go:build !portaudio

package audioio

import (
	"fmt"
	"log/slog"
)

const portAudioAvailable = false

// newPortAudioSink returns an error when built without the portaudio tag.
func newPortAudioSink(cfg Config, logger *slog.Logger) (Sink, error) {
	return nil, fmt.Errorf("%w: portaudio support not enabled (build with -tags portaudio)", ErrBackendUnavailable)
}
