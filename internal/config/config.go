// Package config loads pcmplay configuration from an optional file, a .env
// file, and PCMPLAY_* environment variables, in increasing precedence.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/joho/godotenv"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"

	"github.com/teslashibe/go-pcmstream/pkg/audio"
	"github.com/teslashibe/go-pcmstream/pkg/audioio"
	"github.com/teslashibe/go-pcmstream/pkg/tts"
	"github.com/teslashibe/go-pcmstream/pkg/web"
)

// EnvPrefix prefixes every environment override, e.g. PCMPLAY_AUDIO_SAMPLE_RATE.
const EnvPrefix = "PCMPLAY"

// Config is the full pcmplay configuration.
type Config struct {
	Log    LogConfig      `mapstructure:"log"`
	Audio  audio.Config   `mapstructure:"audio"`
	Sink   audioio.Config `mapstructure:"sink"`
	Server ServerConfig   `mapstructure:"server"`
	TTS    tts.Config     `mapstructure:"tts"`
}

// LogConfig selects the log level and handler.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// ServerConfig configures the HTTP/WebSocket bridge.
type ServerConfig struct {
	Addr string `mapstructure:"addr"`
}

// Default returns the configuration used when nothing is overridden.
func Default() Config {
	cfg := Config{
		Log:    LogConfig{Level: "info"},
		Audio:  audio.DefaultConfig(),
		Sink:   audioio.DefaultConfig(),
		Server: ServerConfig{Addr: web.DefaultAddr},
		TTS:    tts.DefaultConfig(),
	}
	cfg.Sink.SampleRate = cfg.Audio.SampleRate
	return cfg
}

// Load reads configuration. path may be empty, in which case only defaults,
// .env and the environment are consulted. A missing .env is not an error.
func Load(path string) (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v, Default())

	// The provider's own variable works too, e.g. ELEVENLABS_API_KEY from .env.
	if err := v.BindEnv("tts.api_key", EnvPrefix+"_TTS_API_KEY", "ELEVENLABS_API_KEY"); err != nil {
		return Config{}, fmt.Errorf("bind env: %w", err)
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	hook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.TextUnmarshallerHookFunc(),
	))
	if err := v.Unmarshal(&cfg, hook); err != nil {
		return Config{}, fmt.Errorf("unmarshal: %w", err)
	}

	// The sink always runs at the player's rate.
	cfg.Sink.SampleRate = cfg.Audio.SampleRate

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper, d Config) {
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)

	v.SetDefault("audio.sample_rate", d.Audio.SampleRate)
	v.SetDefault("audio.min_buffer_bytes", d.Audio.MinBufferBytes)
	v.SetDefault("audio.poll_interval", d.Audio.PollInterval)
	v.SetDefault("audio.drain_retries", d.Audio.DrainRetries)
	v.SetDefault("audio.prebuffer_timeout", d.Audio.PrebufferTimeout)
	v.SetDefault("audio.skip_drain_on_end", d.Audio.SkipDrainOnEnd)
	v.SetDefault("audio.pace_writes", d.Audio.PaceWrites)
	v.SetDefault("audio.pace_lead", d.Audio.PaceLead)
	v.SetDefault("audio.max_stalled_writes", d.Audio.MaxStalledWrites)
	v.SetDefault("audio.stop_timeout", d.Audio.StopTimeout)

	v.SetDefault("sink.backend", string(d.Sink.Backend))
	v.SetDefault("sink.channels", d.Sink.Channels)
	v.SetDefault("sink.buffer_duration", d.Sink.BufferDuration)
	v.SetDefault("sink.device", d.Sink.Device)
	v.SetDefault("sink.payload_type", d.Sink.PayloadType)

	v.SetDefault("server.addr", d.Server.Addr)

	v.SetDefault("tts.provider", d.TTS.Provider)
	v.SetDefault("tts.api_key", d.TTS.APIKey)
	v.SetDefault("tts.base_url", d.TTS.BaseURL)
	v.SetDefault("tts.voice_id", d.TTS.VoiceID)
	v.SetDefault("tts.model_id", d.TTS.ModelID)
	v.SetDefault("tts.fallback_model", d.TTS.FallbackModel)
	v.SetDefault("tts.output_format", string(d.TTS.OutputFormat))
	v.SetDefault("tts.timeout", d.TTS.Timeout)
	v.SetDefault("tts.stream_timeout", d.TTS.StreamTimeout)
	v.SetDefault("tts.max_retries", d.TTS.MaxRetries)
	v.SetDefault("tts.retry_delay", d.TTS.RetryDelay)
	v.SetDefault("tts.voice_settings.stability", d.TTS.VoiceSettings.Stability)
	v.SetDefault("tts.voice_settings.similarity_boost", d.TTS.VoiceSettings.SimilarityBoost)
	v.SetDefault("tts.voice_settings.style", d.TTS.VoiceSettings.Style)
	v.SetDefault("tts.voice_settings.speaker_boost", d.TTS.VoiceSettings.SpeakerBoost)
}

// Validate checks every section.
func (c *Config) Validate() error {
	if err := c.Audio.Validate(); err != nil {
		return fmt.Errorf("audio: %w", err)
	}
	if err := c.Sink.Validate(); err != nil {
		return fmt.Errorf("sink: %w", err)
	}
	if strings.TrimSpace(c.Server.Addr) == "" {
		return fmt.Errorf("server.addr is required")
	}
	switch c.TTS.Provider {
	case "", tts.ProviderElevenLabs, tts.ProviderMock:
	default:
		return fmt.Errorf("tts.provider must be elevenlabs or mock, got %q", c.TTS.Provider)
	}
	if f := c.TTS.OutputFormat; f != "" && !f.IsPCM() {
		return fmt.Errorf("tts.output_format must be a pcm_* encoding, got %q", f)
	}
	switch strings.ToLower(c.Log.Format) {
	case "", "text", "json":
	default:
		return fmt.Errorf("log.format must be text or json, got %q", c.Log.Format)
	}
	return nil
}
