package audioio

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/teslashibe/go-pcmstream/internal/httpc"
)

// Source produces raw PCM16 little-endian mono chunks for the player.
type Source interface {
	// Read returns the next chunk, blocking if necessary.
	// Returns io.EOF when the stream has ended.
	Read(ctx context.Context) ([]byte, error)

	// Name returns the source kind (e.g., "reader", "tone", "http").
	Name() string

	// Close releases all resources. It is safe to call multiple times.
	io.Closer
}

// SourceStats contains statistics about a source.
type SourceStats struct {
	// ChunksRead is the total number of chunks read.
	ChunksRead int64 `json:"chunks_read"`

	// BytesRead is the total number of PCM bytes read.
	BytesRead int64 `json:"bytes_read"`
}

type sourceCounters struct {
	chunks atomic.Int64
	bytes  atomic.Int64
}

func (c *sourceCounters) add(n int) {
	c.chunks.Add(1)
	c.bytes.Add(int64(n))
}

func (c *sourceCounters) stats() SourceStats {
	return SourceStats{ChunksRead: c.chunks.Load(), BytesRead: c.bytes.Load()}
}

// ReaderSource splits an io.Reader into chunks of a fixed size.
// Chunk sizes are kept even so frames never straddle two chunks,
// except possibly for a final odd byte.
type ReaderSource struct {
	r         io.Reader
	closer    io.Closer
	name      string
	chunkSize int
	closeOnce sync.Once
	counters  sourceCounters
}

// NewReaderSource creates a source reading chunkSize bytes at a time.
// If r is an io.Closer it is closed by Close.
func NewReaderSource(r io.Reader, chunkSize int) *ReaderSource {
	if chunkSize <= 0 {
		chunkSize = DefaultConfig().BufferBytes()
	}
	chunkSize += chunkSize % 2

	s := &ReaderSource{r: r, name: "reader", chunkSize: chunkSize}
	if c, ok := r.(io.Closer); ok {
		s.closer = c
	}
	return s
}

// Read returns up to chunkSize bytes.
func (s *ReaderSource) Read(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	buf := make([]byte, s.chunkSize)
	n, err := io.ReadFull(s.r, buf)
	if n > 0 {
		s.counters.add(n)
		return buf[:n], nil
	}
	if errors.Is(err, io.ErrUnexpectedEOF) {
		return nil, io.EOF
	}
	return nil, err
}

// Name returns the source name.
func (s *ReaderSource) Name() string {
	return s.name
}

// Stats returns source statistics.
func (s *ReaderSource) Stats() SourceStats {
	return s.counters.stats()
}

// Close closes the underlying reader if it is closable.
func (s *ReaderSource) Close() error {
	var err error
	s.closeOnce.Do(func() {
		if s.closer != nil {
			err = s.closer.Close()
		}
	})
	return err
}

// NewHTTPSource opens url with the streaming HTTP client and reads the
// response body as raw PCM.
func NewHTTPSource(ctx context.Context, url string, chunkSize int) (*ReaderSource, error) {
	body, err := httpc.OpenStream(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("open pcm stream: %w", err)
	}
	s := NewReaderSource(body, chunkSize)
	s.name = "http"
	return s, nil
}

// ToneSource generates a sine wave for a fixed duration.
type ToneSource struct {
	cfg       Config
	frequency float64
	amplitude float64
	duration  time.Duration
	realtime  bool

	phase     float64
	generated int // samples
	start     time.Time
	closed    atomic.Bool
	counters  sourceCounters
}

// ToneOption configures a ToneSource.
type ToneOption func(*ToneSource)

// WithSineWave sets the tone frequency in Hz and amplitude in [0, 1].
func WithSineWave(frequency, amplitude float64) ToneOption {
	return func(t *ToneSource) {
		t.frequency = frequency
		t.amplitude = amplitude
	}
}

// WithRealtime paces reads to the audio clock, like a live producer.
func WithRealtime(enabled bool) ToneOption {
	return func(t *ToneSource) {
		t.realtime = enabled
	}
}

// NewToneSource creates a 440Hz tone of the given duration at cfg.SampleRate.
func NewToneSource(cfg Config, duration time.Duration, opts ...ToneOption) *ToneSource {
	t := &ToneSource{
		cfg:       cfg,
		frequency: 440,
		amplitude: 0.5,
		duration:  duration,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Read returns the next buffer of tone, or io.EOF once duration is reached.
func (t *ToneSource) Read(ctx context.Context) ([]byte, error) {
	if t.closed.Load() {
		return nil, io.EOF
	}

	total := int(float64(t.cfg.SampleRate) * t.duration.Seconds())
	n := min(t.cfg.BufferSize(), total-t.generated)
	if n <= 0 {
		return nil, io.EOF
	}

	if t.realtime {
		if t.start.IsZero() {
			t.start = time.Now()
		}
		due := t.start.Add(time.Duration(t.generated) * time.Second / time.Duration(t.cfg.SampleRate))
		if d := time.Until(due); d > 0 {
			timer := time.NewTimer(d)
			select {
			case <-ctx.Done():
				timer.Stop()
				return nil, ctx.Err()
			case <-timer.C:
			}
		}
	} else if err := ctx.Err(); err != nil {
		return nil, err
	}

	samples := make([]int16, n)
	for i := range samples {
		sample := t.amplitude * math.Sin(2*math.Pi*t.frequency*t.phase/float64(t.cfg.SampleRate))
		samples[i] = int16(sample * 32767)
		t.phase++
		if t.phase >= float64(t.cfg.SampleRate) {
			t.phase = 0
		}
	}
	t.generated += n

	data := SamplesToBytes(samples)
	t.counters.add(len(data))
	return data, nil
}

// Name returns "tone".
func (t *ToneSource) Name() string {
	return "tone"
}

// Stats returns source statistics.
func (t *ToneSource) Stats() SourceStats {
	return t.counters.stats()
}

// Close ends the tone early.
func (t *ToneSource) Close() error {
	t.closed.Store(true)
	return nil
}

// ErrStreamStopped is returned by a source whose producer asked for playback
// to stop immediately rather than play out what was already sent.
var ErrStreamStopped = errors.New("audioio: stream stopped")

// Control is a text frame on a PCM websocket.
type Control struct {
	Type  string `json:"type"`
	Audio string `json:"audio,omitempty"` // base64 PCM
}

// Control types.
const (
	ControlAudio = "audio"
	ControlEnd   = "end"
	ControlStop  = "stop"
)

// ParseControl decodes a text frame. A bare "end" or "stop" is accepted as
// shorthand for the JSON form.
func ParseControl(message []byte) (Control, error) {
	switch t := strings.TrimSpace(string(message)); t {
	case ControlEnd, ControlStop:
		return Control{Type: t}, nil
	}
	var ctrl Control
	if err := json.Unmarshal(message, &ctrl); err != nil {
		return Control{}, fmt.Errorf("parse control message: %w", err)
	}
	return ctrl, nil
}

// PCM decodes the base64 payload of an audio control message.
func (c Control) PCM() ([]byte, error) {
	data, err := base64.StdEncoding.DecodeString(c.Audio)
	if err != nil {
		return nil, fmt.Errorf("decode audio payload: %w", err)
	}
	return data, nil
}

// WebSocketSource reads PCM from a websocket. Binary frames carry raw PCM;
// text frames carry control messages (see ParseControl). "end" and a normal
// close end the stream with io.EOF; "stop" returns ErrStreamStopped.
type WebSocketSource struct {
	conn     *websocket.Conn
	logger   *slog.Logger
	once     sync.Once
	counters sourceCounters
}

// DialWebSocketSource connects to url.
func DialWebSocketSource(ctx context.Context, url string, logger *slog.Logger) (*WebSocketSource, error) {
	if logger == nil {
		logger = slog.Default()
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}
	conn, resp, err := dialer.DialContext(ctx, url, http.Header{})
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("websocket dial failed (status %d): %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("websocket dial failed: %w", err)
	}

	logger.Info("websocket source connected", "url", url)
	return &WebSocketSource{conn: conn, logger: logger}, nil
}

// Read returns the next PCM chunk from the socket.
func (w *WebSocketSource) Read(ctx context.Context) ([]byte, error) {
	stop := context.AfterFunc(ctx, func() {
		w.conn.SetReadDeadline(time.Now())
	})
	defer stop()

	for {
		kind, message, err := w.conn.ReadMessage()
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil, io.EOF
			}
			return nil, fmt.Errorf("websocket read: %w", err)
		}

		switch kind {
		case websocket.BinaryMessage:
			if len(message) == 0 {
				continue
			}
			w.counters.add(len(message))
			return message, nil
		case websocket.TextMessage:
			ctrl, err := ParseControl(message)
			if err != nil {
				w.logger.Warn("ignoring malformed websocket message", "error", err)
				continue
			}
			switch ctrl.Type {
			case ControlEnd:
				return nil, io.EOF
			case ControlStop:
				return nil, ErrStreamStopped
			case ControlAudio:
				data, err := ctrl.PCM()
				if err != nil {
					w.logger.Warn("ignoring invalid audio message", "error", err)
					continue
				}
				if len(data) == 0 {
					continue
				}
				w.counters.add(len(data))
				return data, nil
			default:
				w.logger.Debug("ignoring websocket message", "type", ctrl.Type)
			}
		}
	}
}

// Name returns "websocket".
func (w *WebSocketSource) Name() string {
	return "websocket"
}

// Stats returns source statistics.
func (w *WebSocketSource) Stats() SourceStats {
	return w.counters.stats()
}

// Close sends a close frame and closes the connection.
func (w *WebSocketSource) Close() error {
	var err error
	w.once.Do(func() {
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		w.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		err = w.conn.Close()
	})
	return err
}
