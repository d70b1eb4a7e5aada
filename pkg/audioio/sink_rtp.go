package audioio

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pion/rtp"
)

const (
	// opusRate is the RTP clock rate for Opus.
	opusRate = 48000

	// opusFrameSamples is one 20ms Opus frame at 48kHz.
	opusFrameSamples = 960

	opusFrameDuration = 20 * time.Millisecond

	// maxOpusPacket bounds a single encoded frame.
	maxOpusPacket = 1275

	defaultRTPAddr = "127.0.0.1:5000"
)

// FrameEncoder encodes one 20ms mono 48kHz frame into out and returns its length.
type FrameEncoder interface {
	Encode(pcm []int16, out []byte) (int, error)
}

// RTPSink streams audio to a networked speaker as Opus over RTP/UDP.
// Input is resampled to 48kHz, cut into 20ms frames, and sent no faster
// than real time.
type RTPSink struct {
	cfg        Config
	logger     *slog.Logger
	addr       string
	newEncoder func() (FrameEncoder, error)

	opens          atomic.Int64
	chunksWritten  atomic.Int64
	samplesWritten atomic.Int64
	running        atomic.Bool
}

// RTPSinkOption configures an RTPSink.
type RTPSinkOption func(*RTPSink)

// WithFrameEncoder replaces the Opus encoder, mainly for tests.
func WithFrameEncoder(newEncoder func() (FrameEncoder, error)) RTPSinkOption {
	return func(s *RTPSink) {
		s.newEncoder = newEncoder
	}
}

// NewRTPSink creates an RTP sink sending to cfg.Device ("host:port").
func NewRTPSink(cfg Config, logger *slog.Logger, opts ...RTPSinkOption) *RTPSink {
	if logger == nil {
		logger = slog.Default()
	}
	addr := cfg.Device
	if addr == "" {
		addr = defaultRTPAddr
	}

	s := &RTPSink{
		cfg:        cfg,
		logger:     logger,
		addr:       addr,
		newEncoder: newOpusEncoder,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func newRTPSink(cfg Config, logger *slog.Logger) (Sink, error) {
	return NewRTPSink(cfg, logger), nil
}

// Open dials the receiver and prepares a fresh RTP stream.
func (s *RTPSink) Open(ctx context.Context, format Format) (Output, error) {
	if format.Sample != SampleFormatInt16 || format.Channels != 1 {
		return nil, sinkErr("rtp", "open", ErrFormatMismatch)
	}

	enc, err := s.newEncoder()
	if err != nil {
		return nil, sinkErr("rtp", "open", err)
	}

	var d net.Dialer
	conn, err := d.DialContext(ctx, "udp", s.addr)
	if err != nil {
		return nil, sinkErr("rtp", "dial", err)
	}

	s.opens.Add(1)
	s.running.Store(true)
	s.logger.Debug("rtp stream opened", "addr", s.addr, "payload_type", s.cfg.PayloadType)

	return &rtpOutput{
		sink:    s,
		conn:    conn,
		enc:     enc,
		rate:    format.SampleRate,
		ssrc:    rand.Uint32(),
		seq:     uint16(rand.Uint32()),
		ts:      rand.Uint32(),
		frame:   make([]int16, 0, opusFrameSamples),
		payload: make([]byte, maxOpusPacket),
		stopped: make(chan struct{}),
	}, nil
}

// Native returns SampleFormatInt16.
func (s *RTPSink) Native() SampleFormat {
	return SampleFormatInt16
}

// Name returns "rtp".
func (s *RTPSink) Name() string {
	return "rtp"
}

// Addr returns the receiver address.
func (s *RTPSink) Addr() string {
	return s.addr
}

// Stats returns sink statistics.
func (s *RTPSink) Stats() SinkStats {
	return SinkStats{
		Opens:          s.opens.Load(),
		ChunksWritten:  s.chunksWritten.Load(),
		SamplesWritten: s.samplesWritten.Load(),
		Running:        s.running.Load(),
		Backend:        "rtp",
	}
}

type rtpOutput struct {
	sink *RTPSink
	conn net.Conn
	enc  FrameEncoder
	rate int

	ssrc uint32
	seq  uint16
	ts   uint32
	sent int // frames sent

	start   time.Time
	frame   []int16
	payload []byte

	stopOnce  sync.Once
	stopped   chan struct{}
	closeOnce sync.Once
}

func (o *rtpOutput) Write(ctx context.Context, buf SampleBuffer) (int, error) {
	if buf.Format != SampleFormatInt16 {
		return 0, sinkErr("rtp", "write", ErrFormatMismatch)
	}

	samples := Resample(buf.Int16, o.rate, opusRate)
	for len(samples) > 0 {
		n := min(opusFrameSamples-len(o.frame), len(samples))
		o.frame = append(o.frame, samples[:n]...)
		samples = samples[n:]
		if len(o.frame) < opusFrameSamples {
			break
		}
		if err := o.sendFrame(ctx); err != nil {
			return 0, err
		}
	}

	o.sink.chunksWritten.Add(1)
	o.sink.samplesWritten.Add(int64(buf.Len()))
	return buf.Len(), nil
}

// sendFrame encodes the pending frame and sends it once its play time is near.
func (o *rtpOutput) sendFrame(ctx context.Context) error {
	if o.start.IsZero() {
		o.start = time.Now()
	}
	// Stay at most one frame ahead of real time.
	due := o.start.Add(time.Duration(o.sent-1) * opusFrameDuration)
	if err := o.sleepUntil(ctx, due); err != nil {
		return err
	}

	n, err := o.enc.Encode(o.frame, o.payload)
	if err != nil {
		return sinkErr("rtp", "encode", err)
	}

	pkt := rtp.Packet{
		Header: rtp.Header{
			Version:        2,
			Marker:         o.sent == 0,
			PayloadType:    o.sink.cfg.PayloadType,
			SequenceNumber: o.seq,
			Timestamp:      o.ts,
			SSRC:           o.ssrc,
		},
		Payload: o.payload[:n],
	}
	raw, err := pkt.Marshal()
	if err != nil {
		return sinkErr("rtp", "marshal", err)
	}
	if _, err := o.conn.Write(raw); err != nil {
		select {
		case <-o.stopped:
			return ErrOutputStopped
		default:
		}
		return sinkErr("rtp", "send", err)
	}

	o.seq++
	o.ts += opusFrameSamples
	o.sent++
	o.frame = o.frame[:0]
	return nil
}

func (o *rtpOutput) sleepUntil(ctx context.Context, t time.Time) error {
	select {
	case <-o.stopped:
		return ErrOutputStopped
	default:
	}
	d := time.Until(t)
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
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

// Drain pads and sends the last partial frame, then waits until the
// receiver has had time to play everything sent.
func (o *rtpOutput) Drain(ctx context.Context) error {
	if len(o.frame) > 0 {
		pad := opusFrameSamples - len(o.frame)
		o.frame = append(o.frame, make([]int16, pad)...)
		if err := o.sendFrame(ctx); err != nil {
			return err
		}
	}
	if o.sent == 0 {
		return nil
	}
	return o.sleepUntil(ctx, o.start.Add(time.Duration(o.sent)*opusFrameDuration))
}

func (o *rtpOutput) Stop() error {
	o.stopOnce.Do(func() {
		close(o.stopped)
	})
	return nil
}

func (o *rtpOutput) Close() error {
	o.Stop()
	var err error
	o.closeOnce.Do(func() {
		err = o.conn.Close()
		o.sink.running.Store(false)
		o.sink.logger.Debug("rtp stream closed", "frames", o.sent)
	})
	return sinkErr("rtp", "close", err)
}
