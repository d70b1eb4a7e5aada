package audio

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/teslashibe/go-pcmstream/pkg/audioio"
)

// Session is one playback stream, from the first enqueued chunk until the
// device is released. It owns its Output exclusively and tears down exactly once.
type Session struct {
	id      string
	player  *Player
	cfg     Config
	queue   *ChunkQueue
	sink    audioio.Sink
	logger  *slog.Logger
	metrics *sessionMetrics

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
	state  atomic.Int32

	mu         sync.Mutex
	output     audioio.Output
	prev       *Session // must finish before this session opens the sink
	stopReason Reason
}

func newSession(p *Player, prev *Session) *Session {
	id := uuid.NewString()
	ctx, cancel := context.WithCancel(context.Background())

	s := &Session{
		id:      id,
		player:  p,
		cfg:     p.cfg,
		queue:   p.queue,
		sink:    p.sink,
		logger:  p.logger.With("session_id", id),
		metrics: newSessionMetrics(id, time.Now()),
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
		prev:    prev,
	}
	s.state.Store(int32(StatePrebuffering))
	return s
}

// ID returns the session identifier.
func (s *Session) ID() string {
	return s.id
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	return State(s.state.Load())
}

// Done is closed once the session has released its output.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Metrics returns a snapshot of the session's metrics.
func (s *Session) Metrics() Metrics {
	return s.metrics.snapshot()
}

func (s *Session) setState(st State) {
	if old := State(s.state.Swap(int32(st))); old != st {
		s.logger.Debug("playback state changed", "from", old, "to", st)
	}
}

// stop interrupts the session and any predecessor it is waiting on.
// An in-flight Write is unblocked through Output.Stop.
func (s *Session) stop(reason Reason) {
	s.mu.Lock()
	if s.stopReason == "" {
		s.stopReason = reason
	}
	out := s.output
	prev := s.prev
	s.mu.Unlock()

	s.cancel()
	if out != nil {
		if err := out.Stop(); err != nil {
			s.logger.Debug("output stop failed", "error", err)
		}
	}
	if prev != nil {
		prev.stop(reason)
	}
}

func (s *Session) interruptReason() Reason {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopReason == "" {
		return ReasonStopped
	}
	return s.stopReason
}

func (s *Session) setOutput(out audioio.Output) {
	s.mu.Lock()
	s.output = out
	stopped := s.stopReason != ""
	s.mu.Unlock()

	// stop may have run between Open returning and the handle being stored.
	if stopped {
		out.Stop()
	}
}

func (s *Session) takeOutput() audioio.Output {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.output
	s.output = nil
	return out
}

func (s *Session) run() {
	s.mu.Lock()
	prev := s.prev
	s.mu.Unlock()

	if prev != nil {
		<-prev.Done()
		s.mu.Lock()
		s.prev = nil
		s.mu.Unlock()
	}

	reason, err := s.loop()
	s.teardown(reason, err)
}

func (s *Session) loop() (Reason, error) {
	timedOut, err := s.prebuffer()
	if err != nil {
		return s.interruptReason(), nil
	}

	format := audioio.Format{
		SampleRate: s.cfg.SampleRate,
		Channels:   1,
		Sample:     s.sink.Native(),
	}
	out, err := s.sink.Open(s.ctx, format)
	if err != nil {
		if s.ctx.Err() != nil {
			return s.interruptReason(), nil
		}
		return ReasonFailed, &SessionError{SessionID: s.id, Stage: "open", Err: err}
	}
	s.setOutput(out)
	s.metrics.markOpen(timedOut)
	s.logger.Info("audio output opened",
		"backend", s.sink.Name(),
		"sample_rate", format.SampleRate,
		"format", format.Sample,
		"prebuffered_bytes", s.queue.Bytes(),
	)

	s.setState(StatePlaying)
	return s.play(out)
}

// prebuffer waits until MinBufferBytes are queued or the stream is marked
// ended. It reports whether PrebufferTimeout released the gate instead.
func (s *Session) prebuffer() (bool, error) {
	var deadline <-chan time.Time
	if s.cfg.PrebufferTimeout > 0 {
		timer := time.NewTimer(s.cfg.PrebufferTimeout)
		defer timer.Stop()
		deadline = timer.C
	}

	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	for {
		bytes, ended := s.queue.Snapshot()
		if bytes >= s.cfg.MinBufferBytes || ended {
			return false, nil
		}

		select {
		case <-s.ctx.Done():
			return false, s.ctx.Err()
		case <-deadline:
			s.logger.Warn("prebuffer timed out, starting playback",
				"buffered_bytes", s.queue.Bytes(),
				"min_buffer_bytes", s.cfg.MinBufferBytes,
			)
			return true, nil
		case <-s.queue.Wait():
		case <-ticker.C:
		}
	}
}

func (s *Session) play(out audioio.Output) (Reason, error) {
	conv := audioio.NewConverter(s.sink.Native())
	pace := newPacer(s.cfg, s.sink.Native())

	for {
		if s.ctx.Err() != nil {
			return s.interruptReason(), nil
		}

		chunk, ok := s.queue.Pop()
		if !ok {
			reason, finished, err := s.awaitData()
			if err != nil {
				return s.interruptReason(), nil
			}
			if !finished {
				continue
			}
			return s.finish(out, reason)
		}

		buf, truncated := conv.ConvertChecked(chunk)
		if truncated {
			s.metrics.update(func(m *Metrics) { m.TruncatedChunks++ })
			s.logger.Debug("truncated odd-length chunk", "bytes", len(chunk))
		}
		if buf.Empty() {
			s.metrics.update(func(m *Metrics) { m.DroppedChunks++ })
			s.logger.Debug("dropping chunk without a complete frame", "bytes", len(chunk))
			continue
		}

		if err := s.write(out, buf, pace); err != nil {
			if s.ctx.Err() != nil || errors.Is(err, audioio.ErrOutputStopped) {
				return s.interruptReason(), nil
			}
			return ReasonFailed, &SessionError{SessionID: s.id, Stage: "write", Err: err}
		}
		s.metrics.update(func(m *Metrics) { m.ChunksOut++ })
	}
}

// write submits buf, retrying the remainder of soft partial writes.
func (s *Session) write(out audioio.Output, buf audioio.SampleBuffer, pace *pacer) error {
	stalls := 0
	for {
		n, err := out.Write(s.ctx, buf)
		if n > 0 {
			s.metrics.markWrite(n)
			if perr := pace.wait(s.ctx, n); perr != nil {
				return perr
			}
		}
		if err != nil {
			return err
		}
		if n >= buf.Len() {
			return nil
		}

		buf = buf.Slice(n)
		s.metrics.update(func(m *Metrics) { m.PartialWrites++ })
		if n == 0 {
			stalls++
			if stalls >= s.cfg.MaxStalledWrites {
				return ErrSinkStalled
			}
		} else {
			stalls = 0
		}

		if err := s.sleep(s.cfg.PollInterval); err != nil {
			return err
		}
	}
}

// awaitData runs when the queue is empty. It waits up to the drain window
// for more data. finished is false when data arrived and playback resumes.
func (s *Session) awaitData() (reason Reason, finished bool, err error) {
	s.setState(StateDraining)

	_, ended := s.queue.Snapshot()
	if !ended {
		s.metrics.update(func(m *Metrics) { m.Underruns++ })
	}

	deadline := time.Now().Add(s.cfg.DrainWindow())
	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	for {
		bytes, ended := s.queue.Snapshot()
		switch {
		case bytes > 0:
			s.metrics.update(func(m *Metrics) { m.Resumes++ })
			s.setState(StatePlaying)
			return "", false, nil
		case ended && s.cfg.SkipDrainOnEnd:
			return s.tryFinish(ReasonEnded)
		case !time.Now().Before(deadline):
			if ended {
				return s.tryFinish(ReasonEnded)
			}
			return s.tryFinish(ReasonDrained)
		}

		select {
		case <-s.ctx.Done():
			return "", false, s.ctx.Err()
		case <-s.queue.Wait():
		case <-ticker.C:
		}
	}
}

// tryFinish detaches the session from the player unless data slipped in.
func (s *Session) tryFinish(reason Reason) (Reason, bool, error) {
	if !s.player.finish(s) {
		s.metrics.update(func(m *Metrics) { m.Resumes++ })
		s.setState(StatePlaying)
		return "", false, nil
	}
	return reason, true, nil
}

// finish lets the device play out what it has buffered.
func (s *Session) finish(out audioio.Output, reason Reason) (Reason, error) {
	if err := out.Drain(s.ctx); err != nil {
		if s.ctx.Err() != nil || errors.Is(err, audioio.ErrOutputStopped) {
			return s.interruptReason(), nil
		}
		s.logger.Warn("output drain failed", "error", err)
	}
	return reason, nil
}

func (s *Session) sleep(d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-s.ctx.Done():
		return s.ctx.Err()
	case <-timer.C:
		return nil
	}
}

// teardown releases the output, detaches from the player, and reports status.
func (s *Session) teardown(reason Reason, err error) {
	s.player.detach(s)
	s.cancel()

	if out := s.takeOutput(); out != nil {
		if serr := out.Stop(); serr != nil {
			s.logger.Debug("output stop failed", "error", serr)
		}
		if cerr := out.Close(); cerr != nil {
			s.logger.Warn("output close failed", "error", cerr)
		}
	}

	s.setState(StateStopped)
	m := s.metrics.markEnd()
	s.player.metrics.Record(m)

	if err != nil {
		s.logger.Error("playback session failed", "reason", reason, "error", err, "metrics", m.Summary())
	} else {
		s.logger.Info("playback session ended", "reason", reason, "metrics", m.Summary())
	}

	close(s.done)
	s.player.notify(newStatus(s.id, reason, err, m))
}

// pacer keeps writes from running further ahead of real time than PaceLead.
type pacer struct {
	enabled bool
	lead    time.Duration
	format  audioio.Format
	start   time.Time
	samples int
}

func newPacer(cfg Config, sample audioio.SampleFormat) *pacer {
	return &pacer{
		enabled: cfg.PaceWrites,
		lead:    cfg.PaceLead,
		format:  audioio.Format{SampleRate: cfg.SampleRate, Channels: 1, Sample: sample},
	}
}

func (p *pacer) wait(ctx context.Context, n int) error {
	if !p.enabled {
		return nil
	}
	if p.start.IsZero() {
		p.start = time.Now()
	}
	p.samples += n

	d := time.Until(p.start.Add(p.format.FrameDuration(p.samples) - p.lead))
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
