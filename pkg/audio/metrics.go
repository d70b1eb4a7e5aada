package audio

import (
	"fmt"
	"sync"
	"time"
)

// Metrics tracks one playback session.
// All latencies are measured from the session start (first enqueued chunk).
type Metrics struct {
	SessionID string `json:"session_id"`

	// Timestamps for key events
	StartTime      time.Time `json:"start_time"`       // First chunk enqueued
	OpenTime       time.Time `json:"open_time"`        // Device opened
	FirstWriteTime time.Time `json:"first_write_time"` // First samples accepted
	EndTime        time.Time `json:"end_time"`         // Device released

	// Computed latencies (from start)
	PrebufferWait    time.Duration `json:"prebuffer_wait"`
	TimeToFirstWrite time.Duration `json:"time_to_first_write"`
	Duration         time.Duration `json:"duration"`

	// PrebufferTimedOut is set when PrebufferTimeout released the gate.
	PrebufferTimedOut bool `json:"prebuffer_timed_out,omitempty"`

	// Counts for this session
	ChunksIn        int `json:"chunks_in"`
	BytesIn         int `json:"bytes_in"`
	ChunksOut       int `json:"chunks_out"`
	SamplesOut      int `json:"samples_out"`
	DroppedChunks   int `json:"dropped_chunks"`   // No complete frame
	TruncatedChunks int `json:"truncated_chunks"` // Odd trailing byte removed
	PartialWrites   int `json:"partial_writes"`   // Short writes retried
	Underruns       int `json:"underruns"`        // Queue ran dry while playing
	Resumes         int `json:"resumes"`          // Data arrived during the drain window
}

// Summary returns a one-line description for logs.
func (m *Metrics) Summary() string {
	return fmt.Sprintf("%s prebuffer | %s first write | %s total | %d chunks | %d underruns",
		formatDuration(m.PrebufferWait),
		formatDuration(m.TimeToFirstWrite),
		formatDuration(m.Duration),
		m.ChunksOut,
		m.Underruns,
	)
}

func formatDuration(d time.Duration) string {
	if d == 0 {
		return "---ms"
	}
	return d.Round(time.Millisecond).String()
}

// sessionMetrics is the live, goroutine-safe record for one session.
type sessionMetrics struct {
	mu sync.Mutex
	m  Metrics
}

func newSessionMetrics(id string, start time.Time) *sessionMetrics {
	return &sessionMetrics{m: Metrics{SessionID: id, StartTime: start}}
}

func (s *sessionMetrics) update(fn func(m *Metrics)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(&s.m)
}

func (s *sessionMetrics) markOpen(timedOut bool) {
	s.update(func(m *Metrics) {
		m.OpenTime = time.Now()
		m.PrebufferWait = m.OpenTime.Sub(m.StartTime)
		m.PrebufferTimedOut = timedOut
	})
}

func (s *sessionMetrics) markWrite(samples int) {
	s.update(func(m *Metrics) {
		if m.FirstWriteTime.IsZero() {
			m.FirstWriteTime = time.Now()
			m.TimeToFirstWrite = m.FirstWriteTime.Sub(m.StartTime)
		}
		m.SamplesOut += samples
	})
}

func (s *sessionMetrics) markEnd() Metrics {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.m.EndTime = time.Now()
	s.m.Duration = s.m.EndTime.Sub(s.m.StartTime)
	return s.m
}

func (s *sessionMetrics) snapshot() Metrics {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.m
}

// MetricsCollector keeps the metrics of recent sessions.
// It is goroutine-safe.
type MetricsCollector struct {
	mu      sync.Mutex
	history []Metrics // Recent sessions for averaging
	total   int

	onUpdate func(Metrics)
}

// NewMetricsCollector creates a new metrics collector.
func NewMetricsCollector() *MetricsCollector {
	return &MetricsCollector{
		history: make([]Metrics, 0, 100),
	}
}

// OnUpdate sets a callback that fires whenever a session is archived.
func (c *MetricsCollector) OnUpdate(fn func(Metrics)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onUpdate = fn
}

// Record archives a finished session.
func (c *MetricsCollector) Record(m Metrics) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.history = append(c.history, m)
	if len(c.history) > 100 {
		c.history = c.history[1:]
	}
	c.total++

	if c.onUpdate != nil {
		go c.onUpdate(m)
	}
}

// Sessions returns how many sessions have been recorded.
func (c *MetricsCollector) Sessions() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.total
}

// Last returns the most recent session, or false if none.
func (c *MetricsCollector) Last() (Metrics, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.history) == 0 {
		return Metrics{}, false
	}
	return c.history[len(c.history)-1], true
}

// History returns a copy of recent sessions, oldest first.
func (c *MetricsCollector) History() []Metrics {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Metrics, len(c.history))
	copy(out, c.history)
	return out
}

// Average returns average latencies over recent sessions.
func (c *MetricsCollector) Average() Metrics {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.history) == 0 {
		return Metrics{}
	}

	var avg Metrics
	for _, h := range c.history {
		avg.PrebufferWait += h.PrebufferWait
		avg.TimeToFirstWrite += h.TimeToFirstWrite
		avg.Duration += h.Duration
		avg.Underruns += h.Underruns
	}

	n := time.Duration(len(c.history))
	avg.PrebufferWait /= n
	avg.TimeToFirstWrite /= n
	avg.Duration /= n
	avg.Underruns /= len(c.history)

	return avg
}
