//go:build portaudio

package audioio

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/gordonklaus/portaudio"
)

const portAudioAvailable = true

// PortAudioSink plays int16 samples through a blocking PortAudio stream.
type PortAudioSink struct {
	cfg    Config
	logger *slog.Logger

	opens          atomic.Int64
	chunksWritten  atomic.Int64
	samplesWritten atomic.Int64
	underruns      atomic.Int64
	running        atomic.Bool
}

func newPortAudioSink(cfg Config, logger *slog.Logger) (Sink, error) {
	return &PortAudioSink{cfg: cfg, logger: logger}, nil
}

// Open initializes PortAudio and starts the default output stream.
func (s *PortAudioSink) Open(ctx context.Context, format Format) (Output, error) {
	if format.Sample != SampleFormatInt16 || format.Channels != 1 {
		return nil, sinkErr("portaudio", "open", ErrFormatMismatch)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if err := portaudio.Initialize(); err != nil {
		return nil, sinkErr("portaudio", "initialize", err)
	}

	frames := s.cfg.BufferSize()
	buffer := make([]int16, frames)
	stream, err := portaudio.OpenDefaultStream(0, format.Channels, float64(format.SampleRate), frames, buffer)
	if err != nil {
		portaudio.Terminate()
		return nil, sinkErr("portaudio", "open", err)
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		portaudio.Terminate()
		return nil, sinkErr("portaudio", "start", err)
	}

	s.opens.Add(1)
	s.running.Store(true)
	s.logger.Debug("portaudio stream started", "sample_rate", format.SampleRate, "frames_per_buffer", frames)

	return &portAudioOutput{sink: s, stream: stream, buffer: buffer}, nil
}

// Native returns SampleFormatInt16.
func (s *PortAudioSink) Native() SampleFormat {
	return SampleFormatInt16
}

// Name returns "portaudio".
func (s *PortAudioSink) Name() string {
	return "portaudio"
}

// Stats returns sink statistics.
func (s *PortAudioSink) Stats() SinkStats {
	return SinkStats{
		Opens:          s.opens.Load(),
		ChunksWritten:  s.chunksWritten.Load(),
		SamplesWritten: s.samplesWritten.Load(),
		Underruns:      s.underruns.Load(),
		Running:        s.running.Load(),
		Backend:        "portaudio",
	}
}

// portAudioOutput fills the stream's fixed buffer and writes it whenever it
// is full. A partial buffer carries over to the next Write.
type portAudioOutput struct {
	sink   *PortAudioSink
	stream *portaudio.Stream
	buffer []int16
	filled int

	stopped   atomic.Bool
	drained   atomic.Bool
	stopOnce  sync.Once
	closeOnce sync.Once
}

func (o *portAudioOutput) Write(ctx context.Context, buf SampleBuffer) (int, error) {
	if buf.Format != SampleFormatInt16 {
		return 0, sinkErr("portaudio", "write", ErrFormatMismatch)
	}

	samples := buf.Int16
	accepted := 0
	for len(samples) > 0 {
		if o.stopped.Load() {
			return accepted, ErrOutputStopped
		}
		if err := ctx.Err(); err != nil {
			return accepted, err
		}

		n := copy(o.buffer[o.filled:], samples)
		o.filled += n
		samples = samples[n:]
		accepted += n

		if o.filled < len(o.buffer) {
			break
		}
		if err := o.flush(); err != nil {
			return accepted, err
		}
	}

	o.sink.chunksWritten.Add(1)
	o.sink.samplesWritten.Add(int64(accepted))
	return accepted, nil
}

func (o *portAudioOutput) flush() error {
	err := o.stream.Write()
	o.filled = 0
	if err == nil {
		return nil
	}
	if errors.Is(err, portaudio.OutputUnderflowed) {
		o.sink.underruns.Add(1)
		return nil
	}
	if o.stopped.Load() {
		return ErrOutputStopped
	}
	return sinkErr("portaudio", "write", err)
}

// Drain pads the pending buffer with silence, writes it, and stops the
// stream, which returns once queued buffers have played.
func (o *portAudioOutput) Drain(ctx context.Context) error {
	if o.stopped.Load() {
		return ErrOutputStopped
	}
	if o.filled > 0 {
		clear(o.buffer[o.filled:])
		if err := o.flush(); err != nil {
			return err
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := o.stream.Stop(); err != nil {
		return sinkErr("portaudio", "drain", err)
	}
	o.drained.Store(true)
	return nil
}

func (o *portAudioOutput) Stop() error {
	var err error
	o.stopOnce.Do(func() {
		o.stopped.Store(true)
		if !o.drained.Load() {
			err = o.stream.Abort()
		}
	})
	return sinkErr("portaudio", "stop", err)
}

func (o *portAudioOutput) Close() error {
	var err error
	o.closeOnce.Do(func() {
		if !o.stopped.Load() {
			o.Stop()
		}
		err = o.stream.Close()
		portaudio.Terminate()
		o.sink.running.Store(false)
		o.sink.logger.Debug("portaudio stream closed")
	})
	return sinkErr("portaudio", "close", err)
}
