//go:build headless

package audioio

import (
	"fmt"
	"log/slog"
)

const otoAvailable = false

// newOtoSink returns an error in headless builds.
func newOtoSink(cfg Config, logger *slog.Logger) (Sink, error) {
	return nil, fmt.Errorf("%w: oto is not compiled into headless builds", ErrBackendUnavailable)
}
