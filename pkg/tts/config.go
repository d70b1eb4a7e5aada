package tts

import (
	"fmt"
	"log/slog"
	"time"
)

// Provider names accepted by Config.Provider.
const (
	ProviderElevenLabs = "elevenlabs"
	ProviderMock       = "mock"
)

// Config holds provider configuration. It is loaded from the "tts" section
// of the pcmplay config and may be adjusted with functional options.
type Config struct {
	// Provider selects the backend: "elevenlabs" (default) or "mock".
	Provider string `mapstructure:"provider"`

	APIKey  string `mapstructure:"api_key"`
	BaseURL string `mapstructure:"base_url"`

	VoiceID string `mapstructure:"voice_id"`
	ModelID string `mapstructure:"model_id"`

	// FallbackModel, when set, is tried with the same voice if ModelID fails.
	FallbackModel string `mapstructure:"fallback_model"`

	VoiceSettings VoiceSettings `mapstructure:"voice_settings"`

	// OutputFormat must be a PCM encoding for playback. An empty value
	// selects the PCM encoding matching the player's sample rate.
	OutputFormat Encoding `mapstructure:"output_format"`

	Timeout       time.Duration `mapstructure:"timeout"`
	StreamTimeout time.Duration `mapstructure:"stream_timeout"`

	MaxRetries int           `mapstructure:"max_retries"`
	RetryDelay time.Duration `mapstructure:"retry_delay"`

	Logger *slog.Logger `mapstructure:"-"`
}

// Option is a functional option for configuring providers.
type Option func(*Config)

// WithConfig replaces the configuration, keeping the current logger.
func WithConfig(cfg Config) Option {
	return func(c *Config) {
		logger := c.Logger
		*c = cfg
		if c.Logger == nil {
			c.Logger = logger
		}
	}
}

// WithAPIKey sets the API key.
func WithAPIKey(key string) Option {
	return func(c *Config) { c.APIKey = key }
}

// WithBaseURL overrides the API base URL.
func WithBaseURL(url string) Option {
	return func(c *Config) { c.BaseURL = url }
}

// WithVoice sets the voice ID.
func WithVoice(voiceID string) Option {
	return func(c *Config) { c.VoiceID = voiceID }
}

// WithModel sets the model ID.
func WithModel(modelID string) Option {
	return func(c *Config) { c.ModelID = modelID }
}

// WithOutputFormat sets the audio output format.
func WithOutputFormat(format Encoding) Option {
	return func(c *Config) { c.OutputFormat = format }
}

// WithRetry configures retries of rate-limited and 5xx responses.
func WithRetry(maxRetries int, delay time.Duration) Option {
	return func(c *Config) {
		c.MaxRetries = maxRetries
		c.RetryDelay = delay
	}
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Config) { c.Logger = logger }
}

// DefaultConfig returns the configuration used when nothing is overridden.
func DefaultConfig() Config {
	return Config{
		Provider:      ProviderElevenLabs,
		ModelID:       ModelTurboV2_5,
		VoiceSettings: DefaultVoiceSettings(),
		Timeout:       30 * time.Second,
		StreamTimeout: 60 * time.Second,
		MaxRetries:    3,
		RetryDelay:    100 * time.Millisecond,
	}
}

// Apply applies functional options to the config.
func (c *Config) Apply(opts ...Option) {
	for _, opt := range opts {
		opt(c)
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Validate checks the fields a networked provider needs.
func (c *Config) Validate() error {
	switch c.Provider {
	case "", ProviderElevenLabs:
	case ProviderMock:
		return nil
	default:
		return fmt.Errorf("tts: unknown provider %q", c.Provider)
	}
	if c.APIKey == "" {
		return ErrNoAPIKey
	}
	if c.VoiceID == "" {
		return ErrNoVoiceID
	}
	if c.OutputFormat != "" && !c.OutputFormat.IsPCM() {
		return fmt.Errorf("%w: output format %q", ErrNotPCM, c.OutputFormat)
	}
	return nil
}

// NewProvider builds the provider named by cfg. When cfg.FallbackModel is
// set the result is a Chain trying ModelID first.
func NewProvider(cfg Config, opts ...Option) (Provider, error) {
	opts = append([]Option{WithConfig(cfg)}, opts...)

	if cfg.Provider == ProviderMock {
		return NewMock(), nil
	}

	primary, err := NewElevenLabs(opts...)
	if err != nil {
		return nil, err
	}
	if cfg.FallbackModel == "" || cfg.FallbackModel == primary.ModelID() {
		return primary, nil
	}

	fallback, err := NewElevenLabs(append(opts, WithModel(cfg.FallbackModel))...)
	if err != nil {
		primary.Close()
		return nil, err
	}
	return NewChainWithLogger(primary.config.Logger, primary, fallback)
}
