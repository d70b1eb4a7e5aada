// pcmplay streams 16-bit mono PCM to an audio device or networked speaker.
// It plays from stdin, a file, an HTTP URL, a WebSocket, text-to-speech, or a
// test tone, or runs the HTTP/WebSocket bridge so other processes can stream
// into it.
package main

import (
	"bytes"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/dimiro1/banner"

	"github.com/teslashibe/go-pcmstream/internal/config"
	"github.com/teslashibe/go-pcmstream/internal/log"
	"github.com/teslashibe/go-pcmstream/pkg/audio"
	"github.com/teslashibe/go-pcmstream/pkg/audioio"
	"github.com/teslashibe/go-pcmstream/pkg/tts"
	"github.com/teslashibe/go-pcmstream/pkg/web"
)

const version = "dev"

type options struct {
	configPath string
	backend    string
	device     string
	rate       int
	minBuffer  int
	in         string
	url        string
	ws         string
	say        string
	voice      string
	tone       time.Duration
	serve      bool
	addr       string
	debug      bool
	list       bool
	quiet      bool
}

func main() {
	opts := parseFlags()

	if opts.list {
		for _, b := range audioio.AvailableBackends() {
			fmt.Println(b)
		}
		return
	}

	cfg, err := loadConfig(opts)
	if err != nil {
		fmt.Fprintf(os.Stderr, "❌ Configuration error: %v\n", err)
		os.Exit(2)
	}

	log.Init(cfg.Log.Level, cfg.Log.Format)
	logger := log.L()

	if !opts.quiet {
		printBanner()
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if opts.serve {
		err = serve(ctx, cfg, logger)
	} else {
		err = play(ctx, cfg, opts, logger)
	}
	if err != nil {
		logger.Error("pcmplay failed", "error", err)
		os.Exit(1)
	}
}

func parseFlags() options {
	var o options
	flag.StringVar(&o.configPath, "config", "", "Path to a config file (yaml, json, toml)")
	flag.StringVar(&o.backend, "backend", "", "Sink backend: auto, oto, portaudio, rtp, mock")
	flag.StringVar(&o.device, "device", "", "Backend device (rtp: host:port of the receiver)")
	flag.IntVar(&o.rate, "rate", 0, "PCM sample rate in Hz (default from config, 24000)")
	flag.IntVar(&o.minBuffer, "min-buffer", -1, "Prebuffer threshold in bytes")
	flag.StringVar(&o.in, "in", "", "Read PCM from a file, or - for stdin")
	flag.StringVar(&o.url, "url", "", "Stream PCM from an HTTP URL")
	flag.StringVar(&o.ws, "ws", "", "Stream PCM from a WebSocket URL")
	flag.StringVar(&o.say, "say", "", "Speak this text through the configured TTS provider")
	flag.StringVar(&o.voice, "voice", "", "TTS voice ID (default from config)")
	flag.DurationVar(&o.tone, "tone", 0, "Play a 440Hz test tone for this long")
	flag.BoolVar(&o.serve, "serve", false, "Run the HTTP/WebSocket bridge")
	flag.StringVar(&o.addr, "addr", "", "Bridge listen address (default from config, :8765)")
	flag.BoolVar(&o.debug, "debug", false, "Enable verbose debug logging")
	flag.BoolVar(&o.list, "list-backends", false, "List sink backends compiled into this binary")
	flag.BoolVar(&o.quiet, "quiet", false, "Do not print the banner")
	flag.Parse()
	return o
}

// loadConfig layers flags over file and environment configuration.
func loadConfig(o options) (config.Config, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return cfg, err
	}

	if o.backend != "" {
		cfg.Sink.Backend = audioio.Backend(strings.ToLower(o.backend))
	}
	if o.device != "" {
		cfg.Sink.Device = o.device
	}
	if o.rate > 0 {
		cfg.Audio.SampleRate = o.rate
		cfg.Sink.SampleRate = o.rate
	}
	if o.minBuffer >= 0 {
		cfg.Audio.MinBufferBytes = o.minBuffer
	}
	if o.addr != "" {
		cfg.Server.Addr = o.addr
	}
	if o.voice != "" {
		cfg.TTS.VoiceID = o.voice
	}
	if o.debug {
		cfg.Log.Level = "debug"
	}
	return cfg, cfg.Validate()
}

func printBanner() {
	tpl := "{{ .Title \"pcmplay\" \"\" 0 }}\nVersion: " + version + "\n"
	banner.Init(os.Stderr, true, true, bytes.NewBufferString(tpl))
}

// serve runs the bridge until ctx is cancelled.
func serve(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	sink, err := audioio.NewSink(cfg.Sink, logger)
	if err != nil {
		return err
	}

	var srv *web.Server
	player := audio.New(sink, cfg.Audio,
		audio.WithLogger(logger),
		audio.WithStatusHandler(func(st audio.Status) {
			logStatus(logger, st)
			srv.PublishStatus(st)
		}),
	)
	defer player.Close()

	srv = web.NewServer(cfg.Server.Addr, player, nil, logger)
	fmt.Fprintf(os.Stderr, "🌐 Bridge: http://localhost%s\n", displayAddr(cfg.Server.Addr))
	return srv.Start(ctx)
}

func displayAddr(addr string) string {
	if strings.HasPrefix(addr, ":") {
		return addr
	}
	if i := strings.LastIndex(addr, ":"); i >= 0 {
		return addr[i:]
	}
	return addr
}

// play feeds one source into the player and returns when playback is over.
func play(ctx context.Context, cfg config.Config, o options, logger *slog.Logger) error {
	src, err := openSource(ctx, cfg, o, logger)
	if err != nil {
		return err
	}
	defer src.Close()

	sink, err := audioio.NewSink(cfg.Sink, logger)
	if err != nil {
		return err
	}

	statuses := make(chan audio.Status, 16)
	player := audio.New(sink, cfg.Audio,
		audio.WithLogger(logger),
		audio.WithStatusHandler(func(st audio.Status) { statuses <- st }),
	)
	defer player.Close()

	feedErr := make(chan error, 1)
	go func() { feedErr <- audio.Feed(ctx, player, src) }()

	last, err := awaitPlayback(ctx, player, feedErr, statuses, logger)
	if err != nil {
		return err
	}
	if last != nil && last.Reason == audio.ReasonFailed {
		return last.Err
	}
	return nil
}

// awaitPlayback waits for the feed to finish and then for the session it fed
// to report its final status. Returning before that status would let the
// deferred Close cut off audio the device is still draining.
func awaitPlayback(ctx context.Context, player *audio.Player, feedErr <-chan error, statuses <-chan audio.Status, logger *slog.Logger) (*audio.Status, error) {
	var (
		last     *audio.Status
		feedDone bool
	)
	for {
		if feedDone {
			id := player.SessionID()
			if id == "" || (last != nil && last.SessionID == id) {
				return last, nil
			}
		}

		select {
		case <-ctx.Done():
			logger.Info("interrupted, stopping playback")
			return last, player.Stop()

		case err := <-feedErr:
			feedDone = true
			if err != nil && !errors.Is(err, context.Canceled) {
				player.Stop()
				return last, err
			}

		case st := <-statuses:
			logStatus(logger, st)
			last = &st
		}
	}
}

func openSource(ctx context.Context, cfg config.Config, o options, logger *slog.Logger) (audioio.Source, error) {
	chunk := cfg.Sink.BufferBytes()

	switch {
	case o.say != "":
		return speak(ctx, cfg, o.say, logger)
	case o.tone > 0:
		return audioio.NewToneSource(cfg.Sink, o.tone, audioio.WithRealtime(true)), nil
	case o.url != "":
		return audioio.NewHTTPSource(ctx, o.url, chunk)
	case o.ws != "":
		return audioio.DialWebSocketSource(ctx, o.ws, logger)
	case o.in != "" && o.in != "-":
		f, err := os.Open(o.in)
		if err != nil {
			return nil, err
		}
		return audioio.NewReaderSource(f, chunk), nil
	default:
		return audioio.NewReaderSource(io.NopCloser(os.Stdin), chunk), nil
	}
}

// speak streams text from the configured TTS provider. When no output
// format is configured the provider is asked for PCM at the player's rate.
func speak(ctx context.Context, cfg config.Config, text string, logger *slog.Logger) (audioio.Source, error) {
	ttsCfg := cfg.TTS
	if ttsCfg.OutputFormat == "" {
		if enc, ok := tts.PCMEncoding(cfg.Audio.SampleRate); ok {
			ttsCfg.OutputFormat = enc
		}
	}

	provider, err := tts.NewProvider(ttsCfg, tts.WithLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("tts: %w", err)
	}

	src, err := tts.Speak(ctx, provider, text, cfg.Audio.SampleRate, logger)
	if err != nil {
		provider.Close()
		return nil, err
	}
	return &speechSource{Source: src, provider: provider}, nil
}

// speechSource closes the provider along with its stream.
type speechSource struct {
	*tts.Source
	provider tts.Provider
}

func (s *speechSource) Close() error {
	err := s.Source.Close()
	s.provider.Close()
	return err
}

func logStatus(logger *slog.Logger, st audio.Status) {
	attrs := []any{
		"session_id", st.SessionID,
		"reason", st.Reason,
		"metrics", st.Metrics.Summary(),
	}
	if st.Err != nil {
		logger.Error("playback finished with error", append(attrs, "error", st.Err)...)
		return
	}
	logger.Info("playback finished", attrs...)
}
