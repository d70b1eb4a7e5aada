//go:build !cgo

package audioio

import "fmt"

// newOpusEncoder returns an error when built without cgo.
func newOpusEncoder() (FrameEncoder, error) {
	return nil, fmt.Errorf("%w: opus requires cgo", ErrBackendUnavailable)
}
