package audioio

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// MockSink is a mock audio sink for testing.
// It records every accepted buffer and can inject open and write failures.
type MockSink struct {
	cfg    Config
	logger *slog.Logger
	native SampleFormat

	// Fault injection, fixed at construction.
	openErr    error
	writeErrAt int // 1-based write call that fails, 0 = never
	writeErr   error
	maxWrite   int // samples accepted per call, 0 = unlimited
	stall      bool
	writeDelay time.Duration
	drainDelay time.Duration

	mu      sync.Mutex
	writes  []SampleBuffer
	calls   int
	active  int
	maxOpen int
	closes  int

	// Stats
	opens          atomic.Int64
	chunksWritten  atomic.Int64
	samplesWritten atomic.Int64
}

// MockSinkOption configures a MockSink.
type MockSinkOption func(*MockSink)

// WithOpenError makes every Open fail with err.
func WithOpenError(err error) MockSinkOption {
	return func(m *MockSink) {
		m.openErr = err
	}
}

// WithWriteError makes the n-th Write call (1-based, counted across outputs) fail with err.
func WithWriteError(n int, err error) MockSinkOption {
	return func(m *MockSink) {
		m.writeErrAt = n
		m.writeErr = err
	}
}

// WithMaxWrite limits how many samples a single Write accepts.
func WithMaxWrite(n int) MockSinkOption {
	return func(m *MockSink) {
		m.maxWrite = n
	}
}

// WithStall makes every Write accept nothing without an error.
func WithStall() MockSinkOption {
	return func(m *MockSink) {
		m.stall = true
	}
}

// WithWriteDelay makes each Write block for d, or until the output is stopped.
func WithWriteDelay(d time.Duration) MockSinkOption {
	return func(m *MockSink) {
		m.writeDelay = d
	}
}

// WithDrainDelay makes Drain take d to simulate buffered audio playing out.
func WithDrainDelay(d time.Duration) MockSinkOption {
	return func(m *MockSink) {
		m.drainDelay = d
	}
}

// WithNativeFormat sets the representation the mock asks the converter for.
func WithNativeFormat(f SampleFormat) MockSinkOption {
	return func(m *MockSink) {
		m.native = f
	}
}

// NewMockSink creates a new mock audio sink.
func NewMockSink(cfg Config, logger *slog.Logger, opts ...MockSinkOption) *MockSink {
	if logger == nil {
		logger = slog.Default()
	}

	m := &MockSink{
		cfg:    cfg,
		logger: logger,
		native: SampleFormatInt16,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Open returns a recording output.
func (m *MockSink) Open(ctx context.Context, format Format) (Output, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if m.openErr != nil {
		return nil, sinkErr("mock", "open", m.openErr)
	}

	m.mu.Lock()
	m.active++
	if m.active > m.maxOpen {
		m.maxOpen = m.active
	}
	m.mu.Unlock()
	m.opens.Add(1)

	m.logger.Debug("mock audio output opened", "sample_rate", format.SampleRate, "format", format.Sample)

	return &mockOutput{
		sink:    m,
		format:  format,
		stopped: make(chan struct{}),
	}, nil
}

// Native returns the configured sample representation.
func (m *MockSink) Native() SampleFormat {
	return m.native
}

// Name returns "mock".
func (m *MockSink) Name() string {
	return "mock"
}

// Stats returns sink statistics.
func (m *MockSink) Stats() SinkStats {
	m.mu.Lock()
	running := m.active > 0
	m.mu.Unlock()

	return SinkStats{
		Opens:          m.opens.Load(),
		ChunksWritten:  m.chunksWritten.Load(),
		SamplesWritten: m.samplesWritten.Load(),
		Running:        running,
		Backend:        "mock",
	}
}

// Writes returns a copy of the buffers accepted so far, in order.
func (m *MockSink) Writes() []SampleBuffer {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]SampleBuffer, len(m.writes))
	copy(out, m.writes)
	return out
}

// Samples returns every accepted int16 sample concatenated in write order.
func (m *MockSink) Samples() []int16 {
	var out []int16
	for _, w := range m.Writes() {
		out = append(out, w.Int16Samples()...)
	}
	return out
}

// Opens returns how many outputs were opened.
func (m *MockSink) Opens() int {
	return int(m.opens.Load())
}

// Closes returns how many outputs were closed.
func (m *MockSink) Closes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closes
}

// MaxConcurrentOpen returns the highest number of outputs open at once.
func (m *MockSink) MaxConcurrentOpen() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.maxOpen
}

// Ensure MockSink implements SinkWithStats.
var _ SinkWithStats = (*MockSink)(nil)

type mockOutput struct {
	sink   *MockSink
	format Format

	stopOnce  sync.Once
	stopped   chan struct{}
	closeOnce sync.Once
}

func (o *mockOutput) Write(ctx context.Context, buf SampleBuffer) (int, error) {
	m := o.sink

	select {
	case <-o.stopped:
		return 0, ErrOutputStopped
	default:
	}

	if m.writeDelay > 0 {
		timer := time.NewTimer(m.writeDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return 0, ctx.Err()
		case <-o.stopped:
			timer.Stop()
			return 0, ErrOutputStopped
		case <-timer.C:
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls++
	if m.writeErrAt > 0 && m.calls == m.writeErrAt {
		return 0, sinkErr("mock", "write", m.writeErr)
	}

	n := buf.Len()
	if m.stall {
		n = 0
	}
	if m.maxWrite > 0 && n > m.maxWrite {
		n = m.maxWrite
	}
	if n == 0 {
		return 0, nil
	}

	accepted := buf.Slice(0)
	if accepted.Format == SampleFormatFloat32 {
		accepted.Float32 = append([]float32(nil), buf.Float32[:n]...)
	} else {
		accepted.Int16 = append([]int16(nil), buf.Int16[:n]...)
	}
	m.writes = append(m.writes, accepted)

	m.chunksWritten.Add(1)
	m.samplesWritten.Add(int64(n))
	return n, nil
}

func (o *mockOutput) Drain(ctx context.Context) error {
	if o.sink.drainDelay <= 0 {
		return nil
	}
	timer := time.NewTimer(o.sink.drainDelay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-o.stopped:
		return ErrOutputStopped
	case <-timer.C:
		return nil
	}
}

func (o *mockOutput) Stop() error {
	o.stopOnce.Do(func() {
		close(o.stopped)
	})
	return nil
}

func (o *mockOutput) Close() error {
	o.Stop()
	o.closeOnce.Do(func() {
		m := o.sink
		m.mu.Lock()
		m.active--
		m.closes++
		m.mu.Unlock()
		m.logger.Debug("mock audio output closed")
	})
	return nil
}
