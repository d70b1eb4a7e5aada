package audioio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"
)

// Sentinel errors returned by sinks and outputs.
var (
	// ErrOutputStopped is returned by Write after Stop or Close.
	ErrOutputStopped = errors.New("audioio: output stopped")

	// ErrFormatMismatch is returned when a sink cannot serve the requested format.
	ErrFormatMismatch = errors.New("audioio: unsupported format")

	// ErrBackendUnavailable is returned when a backend is not compiled in.
	ErrBackendUnavailable = errors.New("audioio: backend unavailable")
)

// SampleFormat is the in-memory sample representation a device accepts.
type SampleFormat int

const (
	// SampleFormatInt16 is signed 16-bit PCM, passed through unchanged.
	SampleFormatInt16 SampleFormat = iota
	// SampleFormatFloat32 is normalized float in [-1.0, 1.0].
	SampleFormatFloat32
)

// String returns the format name.
func (f SampleFormat) String() string {
	switch f {
	case SampleFormatInt16:
		return "int16"
	case SampleFormatFloat32:
		return "float32"
	default:
		return "unknown"
	}
}

// UnmarshalText parses "int16" or "float32", so the format can be set from config files.
func (f *SampleFormat) UnmarshalText(text []byte) error {
	switch string(text) {
	case "int16", "s16", "s16le":
		*f = SampleFormatInt16
	case "float32", "f32", "f32le":
		*f = SampleFormatFloat32
	default:
		return fmt.Errorf("audioio: unknown sample format %q", text)
	}
	return nil
}

// Format describes the stream a sink is opened with.
type Format struct {
	SampleRate int
	Channels   int
	Sample     SampleFormat
}

// FrameDuration returns the playback duration of n frames.
func (f Format) FrameDuration(n int) time.Duration {
	if f.SampleRate <= 0 {
		return 0
	}
	return time.Duration(n) * time.Second / time.Duration(f.SampleRate)
}

// Sink opens audio outputs on a speaker or other output device.
// A sink may be opened many times over its lifetime, but the player
// never holds more than one Output at a time.
type Sink interface {
	// Open acquires the device for a stream of the given format.
	Open(ctx context.Context, format Format) (Output, error)

	// Native returns the sample representation the device consumes.
	Native() SampleFormat

	// Name returns the backend name (e.g., "oto", "rtp", "mock").
	Name() string
}

// Output is an opened device handle owned by one playback session.
type Output interface {
	// Write submits samples to the device and returns how many were accepted.
	// A short count with a nil error is a soft condition: the caller retries
	// the remainder. A non-nil error is fatal for the stream.
	// Write may block while device buffers are full.
	Write(ctx context.Context, buf SampleBuffer) (int, error)

	// Drain waits until every buffer still pending at the device has played.
	Drain(ctx context.Context) error

	// Stop halts device activity immediately and drops pending audio.
	// It unblocks a concurrent Write and is safe to call multiple times.
	Stop() error

	// Close releases the device. It is idempotent.
	io.Closer
}

// SinkError wraps a device failure with the operation and backend.
type SinkError struct {
	Op      string
	Backend string
	Err     error
}

// Error implements the error interface.
func (e *SinkError) Error() string {
	return fmt.Sprintf("audioio [%s]: %s: %v", e.Backend, e.Op, e.Err)
}

// Unwrap returns the underlying error.
func (e *SinkError) Unwrap() error {
	return e.Err
}

func sinkErr(backend, op string, err error) error {
	if err == nil {
		return nil
	}
	return &SinkError{Op: op, Backend: backend, Err: err}
}

// SinkStats contains statistics about the audio sink.
type SinkStats struct {
	// Opens is the number of outputs opened.
	Opens int64 `json:"opens"`

	// ChunksWritten is the total number of Write calls that accepted samples.
	ChunksWritten int64 `json:"chunks_written"`

	// SamplesWritten is the total number of samples accepted.
	SamplesWritten int64 `json:"samples_written"`

	// Underruns is the number of device underflows reported.
	Underruns int64 `json:"underruns"`

	// Running indicates if an output is currently open.
	Running bool `json:"running"`

	// Backend is the name of the audio backend.
	Backend string `json:"backend"`
}

// SinkWithStats extends Sink with statistics.
type SinkWithStats interface {
	Sink
	Stats() SinkStats
}
