//go:build !headless

package audioio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ebitengine/oto/v3"
)

const otoAvailable = true

// oto allows a single context per process, fixed to the first sample rate.
var (
	otoCtx     *oto.Context
	otoCtxRate int
	otoCtxErr  error
	otoCtxOnce sync.Once
)

func otoContext(rate int, buffer time.Duration) (*oto.Context, error) {
	otoCtxOnce.Do(func() {
		op := &oto.NewContextOptions{
			SampleRate:   rate,
			ChannelCount: 1,
			Format:       oto.FormatFloat32LE,
			BufferSize:   buffer,
		}
		var ready chan struct{}
		otoCtx, ready, otoCtxErr = oto.NewContext(op)
		if otoCtxErr != nil {
			return
		}
		<-ready
		otoCtxRate = rate
	})
	if otoCtxErr != nil {
		return nil, otoCtxErr
	}
	if otoCtxRate != rate {
		return nil, fmt.Errorf("%w: oto context runs at %d Hz, requested %d Hz", ErrFormatMismatch, otoCtxRate, rate)
	}
	return otoCtx, nil
}

// OtoSink plays float32 samples through ebitengine/oto.
// Each output feeds an oto player through a pipe; oto pulls from it on its
// own goroutine, so Write blocks while the device buffer is full.
type OtoSink struct {
	cfg    Config
	logger *slog.Logger

	opens          atomic.Int64
	chunksWritten  atomic.Int64
	samplesWritten atomic.Int64
	running        atomic.Bool
}

func newOtoSink(cfg Config, logger *slog.Logger) (Sink, error) {
	return &OtoSink{cfg: cfg, logger: logger}, nil
}

// Open starts an oto player reading from a fresh pipe.
func (s *OtoSink) Open(ctx context.Context, format Format) (Output, error) {
	if format.Sample != SampleFormatFloat32 || format.Channels != 1 {
		return nil, sinkErr("oto", "open", ErrFormatMismatch)
	}

	octx, err := otoContext(format.SampleRate, s.cfg.BufferDuration)
	if err != nil {
		return nil, sinkErr("oto", "open", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	pr, pw := io.Pipe()
	player := octx.NewPlayer(pr)
	player.Play()

	s.opens.Add(1)
	s.running.Store(true)
	s.logger.Debug("oto player started", "sample_rate", format.SampleRate)

	return &otoOutput{sink: s, player: player, pr: pr, pw: pw}, nil
}

// Native returns SampleFormatFloat32.
func (s *OtoSink) Native() SampleFormat {
	return SampleFormatFloat32
}

// Name returns "oto".
func (s *OtoSink) Name() string {
	return "oto"
}

// Stats returns sink statistics.
func (s *OtoSink) Stats() SinkStats {
	return SinkStats{
		Opens:          s.opens.Load(),
		ChunksWritten:  s.chunksWritten.Load(),
		SamplesWritten: s.samplesWritten.Load(),
		Running:        s.running.Load(),
		Backend:        "oto",
	}
}

type otoOutput struct {
	sink   *OtoSink
	player *oto.Player
	pr     *io.PipeReader
	pw     *io.PipeWriter

	buf       []byte // only touched by the writing goroutine
	stopOnce  sync.Once
	closeOnce sync.Once
}

func (o *otoOutput) Write(ctx context.Context, buf SampleBuffer) (int, error) {
	if buf.Format != SampleFormatFloat32 {
		return 0, sinkErr("oto", "write", ErrFormatMismatch)
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	o.buf = Float32ToBytes(o.buf, buf.Float32)
	n, err := o.pw.Write(o.buf)
	samples := n / 4
	if samples > 0 {
		o.sink.chunksWritten.Add(1)
		o.sink.samplesWritten.Add(int64(samples))
	}
	if err != nil {
		if errors.Is(err, ErrOutputStopped) || errors.Is(err, io.ErrClosedPipe) {
			return samples, ErrOutputStopped
		}
		return samples, sinkErr("oto", "write", err)
	}
	return samples, nil
}

// Drain closes the pipe so oto sees EOF, then waits for the player to finish.
func (o *otoOutput) Drain(ctx context.Context) error {
	o.pw.Close()

	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	for o.player.IsPlaying() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
	if err := o.player.Err(); err != nil {
		return sinkErr("oto", "drain", err)
	}
	return nil
}

func (o *otoOutput) Stop() error {
	o.stopOnce.Do(func() {
		o.pw.CloseWithError(ErrOutputStopped)
		o.pr.CloseWithError(ErrOutputStopped)
		o.player.Pause()
	})
	return nil
}

func (o *otoOutput) Close() error {
	o.Stop()
	var err error
	o.closeOnce.Do(func() {
		err = o.player.Close()
		o.sink.running.Store(false)
		o.sink.logger.Debug("oto player closed")
	})
	return sinkErr("oto", "close", err)
}
