//go:build cgo

package audioio

import (
	"fmt"

	"gopkg.in/hraban/opus.v2"
)

type opusEncoder struct {
	enc *opus.Encoder
}

// newOpusEncoder creates a 48kHz mono libopus encoder tuned for speech.
func newOpusEncoder() (FrameEncoder, error) {
	enc, err := opus.NewEncoder(opusRate, 1, opus.AppVoIP)
	if err != nil {
		return nil, fmt.Errorf("create opus encoder: %w", err)
	}
	return &opusEncoder{enc: enc}, nil
}

func (e *opusEncoder) Encode(pcm []int16, out []byte) (int, error) {
	return e.enc.Encode(pcm, out)
}
