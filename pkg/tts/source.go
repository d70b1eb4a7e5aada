package tts

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/teslashibe/go-pcmstream/pkg/audioio"
)

// Source adapts an AudioStream to audioio.Source. Chunks are realigned to
// whole samples and resampled to the player's rate when the stream differs.
type Source struct {
	stream   AudioStream
	fromRate int
	toRate   int
	logger   *slog.Logger

	start time.Time
	first bool
	carry []byte

	closeOnce sync.Once
}

// NewSource wraps stream for a player running at sampleRate. The stream
// must be PCM16; its rate is taken from the stream's format.
func NewSource(stream AudioStream, sampleRate int, logger *slog.Logger) (*Source, error) {
	format := stream.Format()
	if !format.Encoding.IsPCM() {
		return nil, fmt.Errorf("%w: %s", ErrNotPCM, format.Encoding)
	}
	if logger == nil {
		logger = slog.Default()
	}
	fromRate := format.SampleRate
	if fromRate <= 0 {
		fromRate = format.Encoding.SampleRate()
	}
	return &Source{
		stream:   stream,
		fromRate: fromRate,
		toRate:   sampleRate,
		logger:   logger.With("component", "tts.source"),
		start:    time.Now(),
	}, nil
}

// Speak starts streaming text from p and returns it as a Source.
func Speak(ctx context.Context, p Provider, text string, sampleRate int, logger *slog.Logger) (*Source, error) {
	stream, err := p.Stream(ctx, text)
	if err != nil {
		return nil, err
	}
	src, err := NewSource(stream, sampleRate, logger)
	if err != nil {
		stream.Close()
		return nil, err
	}
	src.start = time.Now()
	src.logger.Debug("speech stream opened", "chars", len(text), "rate", src.fromRate)
	return src, nil
}

// Read returns the next whole-sample chunk, or io.EOF when the stream ends.
func (s *Source) Read(ctx context.Context) ([]byte, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		chunk, err := s.stream.Read()
		if errors.Is(err, io.EOF) {
			if len(s.carry) > 0 {
				s.logger.Debug("dropping trailing odd byte")
				s.carry = nil
			}
			return nil, io.EOF
		}
		if err != nil {
			return nil, err
		}

		data := chunk
		if len(s.carry) > 0 {
			data = append(s.carry, chunk...)
			s.carry = nil
		}
		if len(data)%2 == 1 {
			s.carry = []byte{data[len(data)-1]}
			data = data[:len(data)-1]
		}
		if len(data) == 0 {
			continue
		}

		if !s.first {
			s.first = true
			s.logger.Debug("first speech audio", "latency_ms", time.Since(s.start).Milliseconds())
		}

		if s.fromRate != s.toRate && s.toRate > 0 {
			data = audioio.SamplesToBytes(audioio.Resample(audioio.BytesToSamples(data), s.fromRate, s.toRate))
		}
		return data, nil
	}
}

// Name returns "tts".
func (s *Source) Name() string {
	return "tts"
}

// Close stops the underlying stream.
func (s *Source) Close() error {
	var err error
	s.closeOnce.Do(func() {
		err = s.stream.Close()
	})
	return err
}

var _ audioio.Source = (*Source)(nil)
