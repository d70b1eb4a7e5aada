package audio

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsCollector_RecordAndAverage(t *testing.T) {
	c := NewMetricsCollector()

	_, ok := c.Last()
	assert.False(t, ok)
	assert.Equal(t, Metrics{}, c.Average())

	c.Record(Metrics{SessionID: "a", PrebufferWait: 100 * time.Millisecond, Duration: time.Second, Underruns: 2})
	c.Record(Metrics{SessionID: "b", PrebufferWait: 300 * time.Millisecond, Duration: 3 * time.Second, Underruns: 4})

	last, ok := c.Last()
	require.True(t, ok)
	assert.Equal(t, "b", last.SessionID)

	avg := c.Average()
	assert.Equal(t, 200*time.Millisecond, avg.PrebufferWait)
	assert.Equal(t, 2*time.Second, avg.Duration)
	assert.Equal(t, 3, avg.Underruns)
	assert.Equal(t, 2, c.Sessions())
}

func TestMetricsCollector_HistoryBounded(t *testing.T) {
	c := NewMetricsCollector()
	for range 150 {
		c.Record(Metrics{})
	}

	assert.Len(t, c.History(), 100)
	assert.Equal(t, 150, c.Sessions())
}

func TestMetricsCollector_OnUpdate(t *testing.T) {
	c := NewMetricsCollector()
	got := make(chan Metrics, 1)
	c.OnUpdate(func(m Metrics) { got <- m })

	c.Record(Metrics{SessionID: "x"})

	select {
	case m := <-got:
		assert.Equal(t, "x", m.SessionID)
	case <-time.After(time.Second):
		t.Fatal("OnUpdate not called")
	}
}

func TestSessionMetrics_Latencies(t *testing.T) {
	start := time.Now().Add(-50 * time.Millisecond)
	sm := newSessionMetrics("s", start)

	sm.markOpen(true)
	sm.markWrite(480)
	sm.markWrite(480)
	m := sm.markEnd()

	assert.True(t, m.PrebufferTimedOut)
	assert.GreaterOrEqual(t, m.PrebufferWait, 50*time.Millisecond)
	assert.GreaterOrEqual(t, m.TimeToFirstWrite, m.PrebufferWait)
	assert.GreaterOrEqual(t, m.Duration, m.TimeToFirstWrite)
	assert.Equal(t, 960, m.SamplesOut)
}

func TestMetrics_Summary(t *testing.T) {
	m := Metrics{PrebufferWait: 1500 * time.Microsecond, ChunksOut: 3}
	s := m.Summary()

	assert.Contains(t, s, "2ms prebuffer")
	assert.Contains(t, s, "---ms first write")
	assert.Contains(t, s, "3 chunks")
}
