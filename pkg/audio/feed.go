package audio

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/teslashibe/go-pcmstream/pkg/audioio"
)

// Feed copies chunks from src into p until src returns io.EOF, then marks
// the stream ended. When src returns audioio.ErrStreamStopped the player is
// stopped and queued audio is dropped. It returns nil in both cases and the
// read error otherwise.
func Feed(ctx context.Context, p *Player, src audioio.Source) error {
	for {
		chunk, err := src.Read(ctx)
		if errors.Is(err, io.EOF) {
			p.MarkEnded()
			return nil
		}
		if errors.Is(err, audioio.ErrStreamStopped) {
			return p.Stop()
		}
		if err != nil {
			return fmt.Errorf("read %s source: %w", src.Name(), err)
		}
		if err := p.Enqueue(chunk); err != nil {
			return err
		}
	}
}
