package audio

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teslashibe/go-pcmstream/pkg/audioio"
)

// statusRecorder collects status events from a player.
type statusRecorder struct {
	mu       sync.Mutex
	statuses []Status
	ch       chan Status
}

func newStatusRecorder() *statusRecorder {
	return &statusRecorder{ch: make(chan Status, 64)}
}

func (r *statusRecorder) handle(st Status) {
	r.mu.Lock()
	r.statuses = append(r.statuses, st)
	r.mu.Unlock()
	r.ch <- st
}

func (r *statusRecorder) wait(t *testing.T, timeout time.Duration) Status {
	t.Helper()
	select {
	case st := <-r.ch:
		return st
	case <-time.After(timeout):
		t.Fatalf("no status event within %v", timeout)
		return Status{}
	}
}

func (r *statusRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.statuses)
}

// pcmChunk returns n bytes of PCM whose samples all equal v.
func pcmChunk(n int, v int16) []byte {
	samples := make([]int16, n/2)
	for i := range samples {
		samples[i] = v
	}
	return audioio.SamplesToBytes(samples)
}

func newTestPlayer(t *testing.T, cfg Config, opts ...audioio.MockSinkOption) (*Player, *audioio.MockSink, *statusRecorder) {
	t.Helper()
	sink := audioio.NewMockSink(audioio.DefaultConfig(), nil, opts...)
	rec := newStatusRecorder()
	p := New(sink, cfg, WithStatusHandler(rec.handle))
	t.Cleanup(func() { p.Close() })
	return p, sink, rec
}

func TestPlayer_PrebufferGate(t *testing.T) {
	p, sink, _ := newTestPlayer(t, DefaultConfig())

	require.NoError(t, p.Enqueue(pcmChunk(40000, 1)))

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 0, sink.Opens(), "device must not open below the threshold")
	assert.Equal(t, StatePrebuffering, p.State())
	assert.Equal(t, 40000, p.QueuedBytes())

	require.NoError(t, p.Enqueue(pcmChunk(12000, 2)))

	require.Eventually(t, func() bool { return sink.Opens() == 1 }, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return len(sink.Writes()) == 2 }, time.Second, 5*time.Millisecond)
}

// Five 12,000-byte chunks cross the threshold, open the device once, and
// play in order; without an end mark the session keeps running until stopped.
func TestPlayer_ScenarioFiveChunksNoEnd(t *testing.T) {
	p, sink, rec := newTestPlayer(t, DefaultConfig())

	for i := range 5 {
		require.NoError(t, p.Enqueue(pcmChunk(12000, int16(i+1))))
	}

	require.Eventually(t, func() bool { return len(sink.Writes()) == 5 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, sink.Opens())

	for i, w := range sink.Writes() {
		require.Len(t, w.Int16, 6000)
		assert.Equal(t, int16(i+1), w.Int16[0], "write %d out of order", i)
	}

	state := p.State()
	assert.Contains(t, []State{StatePlaying, StateDraining}, state)
	assert.Equal(t, 0, rec.count())

	require.NoError(t, p.Stop())
	st := rec.wait(t, time.Second)
	assert.Equal(t, StatusListening, st.Status)
	assert.Equal(t, ReasonStopped, st.Reason)
	assert.Equal(t, StateIdle, p.State())
	assert.Equal(t, 1, sink.Closes())
}

// A single chunk below the threshold plays once the stream is marked ended,
// and the session finishes without waiting out the drain window.
func TestPlayer_ScenarioEndedBelowThreshold(t *testing.T) {
	p, sink, rec := newTestPlayer(t, DefaultConfig())

	start := time.Now()
	require.NoError(t, p.Enqueue(pcmChunk(40000, 7)))
	p.MarkEnded()

	st := rec.wait(t, 2*time.Second)
	elapsed := time.Since(start)

	assert.Equal(t, ReasonEnded, st.Reason)
	assert.NoError(t, st.Err)
	assert.Less(t, elapsed, p.cfg.DrainWindow(), "should not wait the full drain window")

	require.Len(t, sink.Writes(), 1)
	assert.Len(t, sink.Writes()[0].Int16, 20000)
	assert.Equal(t, StateIdle, p.State())
	assert.Equal(t, 1, sink.Closes())
	assert.Equal(t, 20000, st.Metrics.SamplesOut)

	// No second status
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, rec.count())
}

// A fatal write error on the second of three chunks stops the session
// immediately; the third chunk is never written.
func TestPlayer_ScenarioWriteFailure(t *testing.T) {
	boom := errors.New("device unplugged")
	p, sink, rec := newTestPlayer(t, DefaultConfig(), audioio.WithWriteError(2, boom))

	for i := range 3 {
		require.NoError(t, p.Enqueue(pcmChunk(20000, int16(i+1))))
	}

	st := rec.wait(t, time.Second)
	assert.Equal(t, ReasonFailed, st.Reason)
	assert.ErrorIs(t, st.Err, boom)
	assert.NotEmpty(t, st.Error)

	var sessErr *SessionError
	require.ErrorAs(t, st.Err, &sessErr)
	assert.Equal(t, "write", sessErr.Stage)

	require.Len(t, sink.Writes(), 1)
	assert.Equal(t, int16(1), sink.Writes()[0].Int16[0])
	assert.Equal(t, 0, p.QueuedBytes())
	assert.Equal(t, 1, sink.Closes())

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, rec.count())
	assert.Len(t, sink.Writes(), 1)
}

func TestPlayer_OpenFailure(t *testing.T) {
	boom := errors.New("no device")
	p, sink, rec := newTestPlayer(t, DefaultConfig(), audioio.WithOpenError(boom))

	require.NoError(t, p.Enqueue(pcmChunk(1000, 1)))
	p.MarkEnded()

	st := rec.wait(t, time.Second)
	assert.Equal(t, ReasonFailed, st.Reason)
	assert.ErrorIs(t, st.Err, boom)
	assert.Equal(t, 0, sink.Opens())
	assert.Empty(t, sink.Writes())
	assert.False(t, p.Active())
}

func TestPlayer_StopIdle(t *testing.T) {
	p, _, rec := newTestPlayer(t, DefaultConfig())

	assert.NoError(t, p.Stop())
	assert.NoError(t, p.Stop())
	assert.Equal(t, StateIdle, p.State())
	assert.Equal(t, 0, rec.count())
}

func TestPlayer_StopIdempotent(t *testing.T) {
	p, sink, rec := newTestPlayer(t, DefaultConfig())

	require.NoError(t, p.Enqueue(pcmChunk(60000, 1)))
	require.Eventually(t, func() bool { return len(sink.Writes()) == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, p.Stop())
	require.NoError(t, p.Stop())

	rec.wait(t, time.Second)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, rec.count())
	assert.Equal(t, 1, sink.Closes())
}

func TestPlayer_StopDuringPrebuffer(t *testing.T) {
	p, sink, rec := newTestPlayer(t, DefaultConfig())

	require.NoError(t, p.Enqueue(pcmChunk(1000, 1)))
	require.NoError(t, p.Stop())

	st := rec.wait(t, time.Second)
	assert.Equal(t, ReasonStopped, st.Reason)
	assert.Equal(t, 0, sink.Opens())
	assert.Equal(t, 0, p.QueuedBytes())
}

func TestPlayer_StopUnblocksWrite(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MinBufferBytes = 0
	p, sink, rec := newTestPlayer(t, cfg, audioio.WithWriteDelay(10*time.Second))

	require.NoError(t, p.Enqueue(pcmChunk(1000, 1)))
	require.Eventually(t, func() bool { return p.State() == StatePlaying }, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)

	start := time.Now()
	require.NoError(t, p.Stop())
	assert.Less(t, time.Since(start), time.Second)

	// The output is released before Stop returns.
	assert.Equal(t, 1, sink.Closes())

	st := rec.wait(t, time.Second)
	assert.Equal(t, ReasonStopped, st.Reason)
}

func TestPlayer_DrainWindowExpires(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MinBufferBytes = 0
	cfg.DrainRetries = 5
	p, sink, rec := newTestPlayer(t, cfg)

	require.NoError(t, p.Enqueue(pcmChunk(1000, 1)))

	st := rec.wait(t, time.Second)
	assert.Equal(t, ReasonDrained, st.Reason)
	assert.Len(t, sink.Writes(), 1)
	assert.GreaterOrEqual(t, st.Metrics.Underruns, 1)
}

func TestPlayer_ResumeWithinDrainWindow(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MinBufferBytes = 0
	cfg.DrainRetries = 50
	p, sink, rec := newTestPlayer(t, cfg)

	require.NoError(t, p.Enqueue(pcmChunk(1000, 1)))
	require.Eventually(t, func() bool { return p.State() == StateDraining }, time.Second, 2*time.Millisecond)

	require.NoError(t, p.Enqueue(pcmChunk(1000, 2)))
	p.MarkEnded()

	st := rec.wait(t, time.Second)
	assert.Equal(t, ReasonEnded, st.Reason)
	assert.Equal(t, 1, sink.Opens(), "resumed data must reuse the open device")
	require.Len(t, sink.Writes(), 2)
	assert.Equal(t, int16(2), sink.Writes()[1].Int16[0])
	assert.GreaterOrEqual(t, st.Metrics.Resumes, 1)
}

func TestPlayer_WaitsDrainWindowWhenConfigured(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MinBufferBytes = 0
	cfg.DrainRetries = 10
	cfg.SkipDrainOnEnd = false
	p, _, rec := newTestPlayer(t, cfg)

	start := time.Now()
	require.NoError(t, p.Enqueue(pcmChunk(1000, 1)))
	p.MarkEnded()

	st := rec.wait(t, time.Second)
	assert.Equal(t, ReasonEnded, st.Reason)
	assert.GreaterOrEqual(t, time.Since(start), 90*time.Millisecond)
}

func TestPlayer_SequentialSessions(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MinBufferBytes = 0
	p, sink, rec := newTestPlayer(t, cfg)

	require.NoError(t, p.Enqueue(pcmChunk(1000, 1)))
	p.MarkEnded()
	first := rec.wait(t, time.Second)

	require.NoError(t, p.Enqueue(pcmChunk(1000, 2)))
	p.MarkEnded()
	second := rec.wait(t, time.Second)

	assert.NotEqual(t, first.SessionID, second.SessionID)
	assert.Equal(t, ReasonEnded, second.Reason)
	assert.Equal(t, 2, sink.Opens())
	assert.Equal(t, 1, sink.MaxConcurrentOpen())
	assert.Equal(t, 2, p.Metrics().Sessions())
}

func TestPlayer_NewSessionWaitsForPreviousTeardown(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MinBufferBytes = 0
	p, sink, rec := newTestPlayer(t, cfg, audioio.WithDrainDelay(100*time.Millisecond))

	require.NoError(t, p.Enqueue(pcmChunk(1000, 1)))
	p.MarkEnded()

	// The first session is detached and draining the device; this starts a second.
	require.Eventually(t, func() bool { return !p.Active() }, time.Second, time.Millisecond)
	require.NoError(t, p.Enqueue(pcmChunk(1000, 2)))
	p.MarkEnded()

	rec.wait(t, time.Second)
	rec.wait(t, time.Second)
	assert.Equal(t, 2, sink.Opens())
	assert.Equal(t, 1, sink.MaxConcurrentOpen())
}

func TestPlayer_MarkEndedIdleIsNoop(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MinBufferBytes = 100000
	p, sink, _ := newTestPlayer(t, cfg)

	p.MarkEnded()
	require.NoError(t, p.Enqueue(pcmChunk(1000, 1)))

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 0, sink.Opens(), "an end mark from before the session must not release the gate")
	assert.Equal(t, StatePrebuffering, p.State())
}

func TestPlayer_MalformedChunks(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MinBufferBytes = 0
	p, sink, rec := newTestPlayer(t, cfg)

	require.NoError(t, p.Enqueue([]byte{0x01}))
	require.NoError(t, p.Enqueue([]byte{0x02, 0x00, 0x03}))
	require.NoError(t, p.Enqueue([]byte{}))
	p.MarkEnded()

	st := rec.wait(t, time.Second)
	assert.Equal(t, ReasonEnded, st.Reason)
	assert.Equal(t, 1, st.Metrics.DroppedChunks)
	assert.Equal(t, 2, st.Metrics.TruncatedChunks)
	assert.Equal(t, 2, st.Metrics.ChunksIn)
	assert.Equal(t, []int16{2}, sink.Samples())
}

func TestPlayer_PartialWritesRetried(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MinBufferBytes = 0
	cfg.PollInterval = time.Millisecond
	p, sink, rec := newTestPlayer(t, cfg, audioio.WithMaxWrite(100))

	require.NoError(t, p.Enqueue(pcmChunk(1000, 5)))
	p.MarkEnded()

	st := rec.wait(t, time.Second)
	assert.Equal(t, ReasonEnded, st.Reason)
	assert.Len(t, sink.Samples(), 500)
	assert.Len(t, sink.Writes(), 5)
	assert.Equal(t, 4, st.Metrics.PartialWrites)
	assert.Equal(t, 1, st.Metrics.ChunksOut)
}

func TestPlayer_StalledSinkFails(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MinBufferBytes = 0
	cfg.PollInterval = time.Millisecond
	cfg.MaxStalledWrites = 5
	p, _, rec := newTestPlayer(t, cfg, audioio.WithStall())

	require.NoError(t, p.Enqueue(pcmChunk(1000, 1)))

	st := rec.wait(t, time.Second)
	assert.Equal(t, ReasonFailed, st.Reason)
	assert.ErrorIs(t, st.Err, ErrSinkStalled)
}

func TestPlayer_PrebufferTimeout(t *testing.T) {
	cfg := BoundedConfig()
	cfg.PrebufferTimeout = 50 * time.Millisecond
	p, sink, rec := newTestPlayer(t, cfg)

	require.NoError(t, p.Enqueue(pcmChunk(1000, 1)))
	require.Eventually(t, func() bool { return sink.Opens() == 1 }, time.Second, 5*time.Millisecond)

	p.MarkEnded()
	st := rec.wait(t, time.Second)
	assert.True(t, st.Metrics.PrebufferTimedOut)
	assert.GreaterOrEqual(t, st.Metrics.PrebufferWait, 40*time.Millisecond)
}

func TestPlayer_Close(t *testing.T) {
	p, sink, rec := newTestPlayer(t, DefaultConfig())

	require.NoError(t, p.Enqueue(pcmChunk(60000, 1)))
	require.Eventually(t, func() bool { return sink.Opens() == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, p.Close())
	st := rec.wait(t, time.Second)
	assert.Equal(t, ReasonClosed, st.Reason)

	assert.ErrorIs(t, p.Enqueue(pcmChunk(100, 1)), ErrClosed)
	assert.NoError(t, p.Close())
}

func TestPlayer_ConcurrentEnqueue(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MinBufferBytes = 1 << 30
	p, _, _ := newTestPlayer(t, cfg)

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 50 {
				assert.NoError(t, p.Enqueue(make([]byte, 100)))
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 40000, p.QueuedBytes())
	m, ok := p.SessionMetrics()
	require.True(t, ok)
	assert.Equal(t, 400, m.ChunksIn)

	require.NoError(t, p.Stop())
	assert.Equal(t, 0, p.QueuedBytes())
}

func TestPlayer_EnqueueCopiesChunk(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MinBufferBytes = 4
	p, sink, rec := newTestPlayer(t, cfg)

	chunk := pcmChunk(2, 9)
	require.NoError(t, p.Enqueue(chunk))
	chunk[0] = 0xff
	require.NoError(t, p.Enqueue(pcmChunk(2, 9)))
	p.MarkEnded()

	rec.wait(t, time.Second)
	assert.Equal(t, []int16{9, 9}, sink.Samples())
}

func TestPlayer_Float32Sink(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MinBufferBytes = 0
	p, sink, rec := newTestPlayer(t, cfg, audioio.WithNativeFormat(audioio.SampleFormatFloat32))

	require.NoError(t, p.Enqueue(audioio.SamplesToBytes([]int16{32767, 0, -32768})))
	p.MarkEnded()

	rec.wait(t, time.Second)
	writes := sink.Writes()
	require.Len(t, writes, 1)
	assert.Equal(t, []float32{1, 0, -1}, writes[0].Float32)
}

func TestPlayer_PaceWrites(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MinBufferBytes = 0
	cfg.PaceWrites = true
	cfg.PaceLead = 0
	p, _, rec := newTestPlayer(t, cfg)

	start := time.Now()
	// 100ms of audio at 24kHz
	require.NoError(t, p.Enqueue(pcmChunk(4800, 1)))
	p.MarkEnded()

	rec.wait(t, time.Second)
	assert.GreaterOrEqual(t, time.Since(start), 90*time.Millisecond)
}

func TestPlayer_ExactlyOneStatusUnderStopRace(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MinBufferBytes = 0
	p, _, rec := newTestPlayer(t, cfg)

	for i := range 20 {
		require.NoError(t, p.Enqueue(pcmChunk(200, int16(i))))
		p.MarkEnded()
		if i%2 == 0 {
			require.NoError(t, p.Stop())
		}
		rec.wait(t, time.Second)
	}

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 20, rec.count())
}

func TestPlayer_Snapshot(t *testing.T) {
	p, _, _ := newTestPlayer(t, DefaultConfig())

	snap := p.Snapshot()
	assert.Equal(t, StateIdle, snap.State)
	assert.Equal(t, "mock", snap.Backend)
	require.NotNil(t, snap.Sink)

	require.NoError(t, p.Enqueue(pcmChunk(1000, 1)))
	snap = p.Snapshot()
	assert.True(t, snap.Active)
	assert.Equal(t, 1000, snap.QueuedBytes)
	assert.NotEmpty(t, snap.SessionID)
	assert.Equal(t, p.SessionID(), snap.SessionID)
}

func TestPlayer_ReturnsToIdle(t *testing.T) {
	p, _, rec := newTestPlayer(t, DefaultConfig(), audioio.WithDrainDelay(150*time.Millisecond))

	require.NoError(t, p.Enqueue(pcmChunk(1000, 1)))
	p.MarkEnded()

	require.Eventually(t, func() bool { return !p.Active() }, time.Second, 2*time.Millisecond)
	assert.NotEqual(t, StateIdle, p.State(), "device is still draining")

	st := rec.wait(t, 2*time.Second)
	assert.Equal(t, ReasonEnded, st.Reason)
	assert.Equal(t, StateIdle, p.State())
	assert.Equal(t, StateIdle, p.Snapshot().State)
	assert.Equal(t, st.SessionID, p.Snapshot().SessionID)
}

func TestFeed(t *testing.T) {
	cfg := DefaultConfig()
	p, sink, rec := newTestPlayer(t, cfg)

	data := pcmChunk(10000, 3)
	src := audioio.NewReaderSource(bytes.NewReader(data), 960)

	require.NoError(t, Feed(context.Background(), p, src))

	st := rec.wait(t, time.Second)
	assert.Equal(t, ReasonEnded, st.Reason)
	assert.Len(t, sink.Samples(), 5000)
	assert.Equal(t, 11, st.Metrics.ChunksIn)
}

// stoppingSource yields its chunks and then asks for an immediate stop.
type stoppingSource struct {
	chunks [][]byte
}

func (s *stoppingSource) Read(ctx context.Context) ([]byte, error) {
	if len(s.chunks) == 0 {
		return nil, audioio.ErrStreamStopped
	}
	c := s.chunks[0]
	s.chunks = s.chunks[1:]
	return c, nil
}

func (s *stoppingSource) Name() string { return "stopping" }
func (s *stoppingSource) Close() error { return nil }

func TestFeed_StopDropsQueue(t *testing.T) {
	p, sink, rec := newTestPlayer(t, DefaultConfig())

	src := &stoppingSource{chunks: [][]byte{pcmChunk(4000, 1), pcmChunk(4000, 2)}}
	require.NoError(t, Feed(context.Background(), p, src))

	st := rec.wait(t, time.Second)
	assert.Equal(t, ReasonStopped, st.Reason)
	assert.Equal(t, 0, p.QueuedBytes())
	assert.Equal(t, 0, sink.Opens(), "queued audio below the threshold must not play")
	assert.False(t, p.Active())
}

func TestFeed_ContextCancelled(t *testing.T) {
	p, _, _ := newTestPlayer(t, DefaultConfig())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	src := audioio.NewToneSource(audioio.DefaultConfig(), time.Second)
	err := Feed(ctx, p, src)
	assert.ErrorIs(t, err, context.Canceled)
}
