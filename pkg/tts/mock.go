package tts

import (
	"context"
	"io"
	"sync"
	"time"
)

// mockBytesPerChar is about 20ms of 24 kHz PCM16 per character, roughly
// natural speech pacing.
const mockBytesPerChar = 960

// Mock implements Provider without a network. Each method can be replaced
// through its function field.
type Mock struct {
	SynthesizeFunc func(ctx context.Context, text string) (*AudioResult, error)

	// StreamFunc defaults to streaming the SynthesizeFunc result in
	// ChunkBytes pieces.
	StreamFunc func(ctx context.Context, text string) (AudioStream, error)

	HealthFunc func(ctx context.Context) error
	CloseFunc  func() error

	// ChunkBytes is the size of default stream chunks.
	ChunkBytes int

	mu    sync.Mutex
	calls []MockCall
}

// MockCall records a method invocation.
type MockCall struct {
	Method string
	Text   string
	Time   time.Time
}

// NewMock returns a mock that synthesizes silence at 24 kHz.
func NewMock() *Mock {
	return &Mock{
		SynthesizeFunc: func(ctx context.Context, text string) (*AudioResult, error) {
			audio := make([]byte, len(text)*mockBytesPerChar)
			return &AudioResult{
				Audio:     audio,
				Format:    pcmFormat(EncodingPCM24),
				Duration:  estimateDuration(len(audio), 24000),
				CharCount: len(text),
			}, nil
		},
		ChunkBytes: streamChunkSize,
	}
}

// WithError returns a mock whose every call fails with err.
func WithError(err error) *Mock {
	return &Mock{
		SynthesizeFunc: func(context.Context, string) (*AudioResult, error) { return nil, err },
		StreamFunc:     func(context.Context, string) (AudioStream, error) { return nil, err },
		HealthFunc:     func(context.Context) error { return err },
	}
}

// Synthesize calls SynthesizeFunc and records the call.
func (m *Mock) Synthesize(ctx context.Context, text string) (*AudioResult, error) {
	m.record("Synthesize", text)
	if m.SynthesizeFunc == nil {
		return nil, WrapError(ProviderMock, ErrProviderUnavailable)
	}
	return m.SynthesizeFunc(ctx, text)
}

// Stream calls StreamFunc and records the call.
func (m *Mock) Stream(ctx context.Context, text string) (AudioStream, error) {
	m.record("Stream", text)
	if m.StreamFunc != nil {
		return m.StreamFunc(ctx, text)
	}
	if m.SynthesizeFunc == nil {
		return nil, WrapError(ProviderMock, ErrProviderUnavailable)
	}
	result, err := m.SynthesizeFunc(ctx, text)
	if err != nil {
		return nil, err
	}
	return NewBufferStream(result.Audio, result.Format, m.ChunkBytes), nil
}

// Health calls HealthFunc and records the call.
func (m *Mock) Health(ctx context.Context) error {
	m.record("Health", "")
	if m.HealthFunc != nil {
		return m.HealthFunc(ctx)
	}
	return nil
}

// Close calls CloseFunc and records the call.
func (m *Mock) Close() error {
	m.record("Close", "")
	if m.CloseFunc != nil {
		return m.CloseFunc()
	}
	return nil
}

func (m *Mock) record(method, text string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, MockCall{Method: method, Text: text, Time: time.Now()})
}

// Calls returns all recorded calls.
func (m *Mock) Calls() []MockCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]MockCall(nil), m.calls...)
}

// CallCount returns how many times method was called.
func (m *Mock) CallCount(method string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.calls {
		if c.Method == method {
			n++
		}
	}
	return n
}

// BufferStream serves an in-memory buffer as an AudioStream.
type BufferStream struct {
	mu        sync.Mutex
	data      []byte
	chunkSize int
	format    AudioFormat
	closed    bool
}

// NewBufferStream returns a stream yielding data chunkSize bytes at a time.
// A chunkSize of zero or less yields the whole buffer in one chunk.
func NewBufferStream(data []byte, format AudioFormat, chunkSize int) *BufferStream {
	if chunkSize <= 0 {
		chunkSize = len(data)
	}
	return &BufferStream{data: data, chunkSize: chunkSize, format: format}
}

// Read returns the next chunk, or io.EOF once the buffer is exhausted.
func (s *BufferStream) Read() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrStreamClosed
	}
	if len(s.data) == 0 {
		return nil, io.EOF
	}
	n := min(s.chunkSize, len(s.data))
	chunk := s.data[:n]
	s.data = s.data[n:]
	return chunk, nil
}

// Close releases the buffer.
func (s *BufferStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.data = nil
	return nil
}

// Format returns the audio format.
func (s *BufferStream) Format() AudioFormat {
	return s.format
}

var _ Provider = (*Mock)(nil)
