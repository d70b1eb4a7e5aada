package audio

import (
	"bytes"
	"log/slog"
	"sync"
	"time"

	"github.com/teslashibe/go-pcmstream/pkg/audioio"
)

// Player accepts streamed PCM chunks and plays them through a sink.
// It runs at most one session at a time; the first chunk after idle starts
// a new one. All methods are safe for concurrent use.
type Player struct {
	sink     audioio.Sink
	cfg      Config
	logger   *slog.Logger
	onStatus func(Status)
	metrics  *MetricsCollector
	queue    *ChunkQueue

	mu      sync.Mutex
	session *Session // accepting chunks, nil when idle
	last    *Session // most recent session, possibly still tearing down
	closed  bool
}

// New creates a player writing to sink.
func New(sink audioio.Sink, cfg Config, opts ...Option) *Player {
	p := &Player{
		sink:    sink,
		cfg:     cfg.withDefaults(),
		logger:  slog.Default(),
		metrics: NewMetricsCollector(),
		queue:   NewChunkQueue(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// withDefaults replaces values that would stall or panic the session loop.
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.SampleRate <= 0 {
		c.SampleRate = d.SampleRate
	}
	if c.PollInterval <= 0 {
		c.PollInterval = d.PollInterval
	}
	if c.MaxStalledWrites <= 0 {
		c.MaxStalledWrites = d.MaxStalledWrites
	}
	if c.StopTimeout <= 0 {
		c.StopTimeout = d.StopTimeout
	}
	return c
}

// Enqueue appends a chunk of 16-bit little-endian mono PCM. The chunk is
// copied, so the caller may reuse its buffer. Empty chunks are ignored.
func (p *Player) Enqueue(chunk []byte) error {
	if len(chunk) == 0 {
		return nil
	}
	data := bytes.Clone(chunk)

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return ErrClosed
	}
	if p.session == nil {
		p.startSessionLocked()
	}
	p.session.metrics.update(func(m *Metrics) {
		m.ChunksIn++
		m.BytesIn += len(data)
	})
	p.queue.Push(data)
	return nil
}

func (p *Player) startSessionLocked() {
	p.queue.ResetEnded()
	s := newSession(p, p.last)
	p.session = s
	p.last = s

	s.logger.Info("playback session started", "backend", p.sink.Name(), "min_buffer_bytes", p.cfg.MinBufferBytes)
	go s.run()
}

// MarkEnded signals that the current stream has no more chunks. Playback
// finishes once the queue empties. It has no effect when idle.
func (p *Player) MarkEnded() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.session == nil {
		return
	}
	p.queue.MarkEnded()
}

// Stop interrupts playback, drops queued audio, and waits until the device
// has been released. It is a no-op when idle and safe to call repeatedly.
func (p *Player) Stop() error {
	return p.stop(ReasonStopped)
}

// Close stops playback and rejects further chunks with ErrClosed.
func (p *Player) Close() error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	return p.stop(ReasonClosed)
}

func (p *Player) stop(reason Reason) error {
	p.mu.Lock()
	s := p.last
	if s != nil && p.session == s {
		p.detachLocked(s)
	}
	p.mu.Unlock()

	if s == nil {
		return nil
	}
	select {
	case <-s.Done():
		return nil
	default:
	}

	s.stop(reason)

	timer := time.NewTimer(p.cfg.StopTimeout)
	defer timer.Stop()
	select {
	case <-s.Done():
		return nil
	case <-timer.C:
		s.logger.Warn("playback session did not stop in time", "timeout", p.cfg.StopTimeout)
		return ErrStopTimeout
	}
}

// finish detaches s if the queue is still empty. It returns false when a
// chunk arrived since the session last looked, so playback must continue.
func (p *Player) finish(s *Session) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.session != s {
		return true
	}
	if p.queue.Len() > 0 {
		return false
	}
	p.detachLocked(s)
	return true
}

// detach releases the player from s, dropping anything still queued.
func (p *Player) detach(s *Session) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.session == s {
		p.detachLocked(s)
	}
}

func (p *Player) detachLocked(s *Session) {
	p.session = nil
	if n := p.queue.Len(); n > 0 {
		s.logger.Debug("discarding queued chunks", "chunks", n, "bytes", p.queue.Bytes())
	}
	p.queue.Clear()
	p.queue.ResetEnded()
}

func (p *Player) notify(st Status) {
	if p.onStatus != nil {
		p.onStatus(st)
	}
}

// State returns the state of the current session. It is StateIdle before
// the first chunk and again once the last session has released the device.
func (p *Player) State() State {
	p.mu.Lock()
	s, active := p.last, p.session != nil
	p.mu.Unlock()
	return stateOf(s, active)
}

func stateOf(s *Session, active bool) State {
	if s == nil {
		return StateIdle
	}
	if !active {
		select {
		case <-s.Done():
			return StateIdle
		default:
		}
	}
	return s.State()
}

// Active reports whether a session is accepting chunks.
func (p *Player) Active() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.session != nil
}

// SessionID returns the ID of the most recent session, or "" if none.
func (p *Player) SessionID() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.last == nil {
		return ""
	}
	return p.last.ID()
}

// QueuedBytes returns the number of bytes waiting to be played.
func (p *Player) QueuedBytes() int {
	return p.queue.Bytes()
}

// Config returns the effective configuration.
func (p *Player) Config() Config {
	return p.cfg
}

// Metrics returns the collector of finished sessions.
func (p *Player) Metrics() *MetricsCollector {
	return p.metrics
}

// SessionMetrics returns live metrics for the most recent session.
func (p *Player) SessionMetrics() (Metrics, bool) {
	p.mu.Lock()
	s := p.last
	p.mu.Unlock()

	if s == nil {
		return Metrics{}, false
	}
	return s.Metrics(), true
}

// SinkStats returns statistics from sinks that track them.
func (p *Player) SinkStats() (audioio.SinkStats, bool) {
	if ss, ok := p.sink.(audioio.SinkWithStats); ok {
		return ss.Stats(), true
	}
	return audioio.SinkStats{}, false
}

// Snapshot is a point-in-time view of the player.
type Snapshot struct {
	State       State              `json:"state"`
	Active      bool               `json:"active"`
	SessionID   string             `json:"session_id,omitempty"`
	QueuedBytes int                `json:"queued_bytes"`
	Ended       bool               `json:"ended"`
	Backend     string             `json:"backend"`
	Sessions    int                `json:"sessions"`
	Sink        *audioio.SinkStats `json:"sink,omitempty"`
}

// Snapshot returns the current player status.
func (p *Player) Snapshot() Snapshot {
	p.mu.Lock()
	active := p.session != nil
	s := p.last
	p.mu.Unlock()

	bytes, ended := p.queue.Snapshot()
	snap := Snapshot{
		Active:      active,
		QueuedBytes: bytes,
		Ended:       ended,
		Backend:     p.sink.Name(),
		Sessions:    p.metrics.Sessions(),
	}
	snap.State = stateOf(s, active)
	if s != nil {
		snap.SessionID = s.ID()
	}
	if stats, ok := p.SinkStats(); ok {
		snap.Sink = &stats
	}
	return snap
}
