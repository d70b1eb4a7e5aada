package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sync/atomic"
	"time"
)

const (
	elevenLabsBaseURL  = "https://api.elevenlabs.io/v1"
	providerElevenLabs = ProviderElevenLabs

	streamChunkSize = 4096
)

// ElevenLabs model IDs.
const (
	// ModelTurboV2_5 is the fastest English model.
	ModelTurboV2_5 = "eleven_turbo_v2_5"

	// ModelFlashV2_5 is the fastest multilingual model.
	ModelFlashV2_5 = "eleven_flash_v2_5"

	ModelMultilingualV2 = "eleven_multilingual_v2"
)

// ElevenLabs implements Provider over the ElevenLabs HTTP API.
type ElevenLabs struct {
	config  *Config
	client  *http.Client
	stream  *http.Client
	logger  *slog.Logger
	baseURL string
}

// NewElevenLabs creates an ElevenLabs provider. An API key and voice ID are
// required. The output format defaults to 24 kHz PCM.
func NewElevenLabs(opts ...Option) (*ElevenLabs, error) {
	cfg := DefaultConfig()
	cfg.Apply(opts...)
	cfg.Provider = ProviderElevenLabs
	if cfg.OutputFormat == "" {
		cfg.OutputFormat = EncodingPCM24
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = elevenLabsBaseURL
	}

	return &ElevenLabs{
		config:  &cfg,
		client:  &http.Client{Timeout: cfg.Timeout},
		stream:  &http.Client{Timeout: cfg.StreamTimeout},
		logger:  cfg.Logger.With("component", "tts.elevenlabs", "model", cfg.ModelID),
		baseURL: baseURL,
	}, nil
}

// Synthesize converts text to audio, returning the complete buffer.
func (e *ElevenLabs) Synthesize(ctx context.Context, text string) (*AudioResult, error) {
	start := time.Now()

	resp, err := e.post(ctx, e.client, "/text-to-speech/"+url.PathEscape(e.config.VoiceID), text)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, WrapError(providerElevenLabs, fmt.Errorf("read response: %w", err))
	}
	latency := time.Since(start).Milliseconds()

	e.logger.Debug("synthesized audio", "chars", len(text), "bytes", len(audio), "latency_ms", latency)

	return &AudioResult{
		Audio:     audio,
		Format:    e.outputFormat(),
		Duration:  estimateDuration(len(audio), e.config.OutputFormat.SampleRate()),
		CharCount: len(text),
		LatencyMs: latency,
	}, nil
}

// Stream converts text to audio and returns chunks as they are received.
func (e *ElevenLabs) Stream(ctx context.Context, text string) (AudioStream, error) {
	resp, err := e.post(ctx, e.stream, "/text-to-speech/"+url.PathEscape(e.config.VoiceID)+"/stream", text)
	if err != nil {
		return nil, err
	}
	return &httpStream{body: resp.Body, format: e.outputFormat()}, nil
}

// Health checks API connectivity and the API key.
func (e *ElevenLabs) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.baseURL+"/user", nil)
	if err != nil {
		return WrapError(providerElevenLabs, err)
	}
	req.Header.Set("xi-api-key", e.config.APIKey)

	resp, err := e.client.Do(req)
	if err != nil {
		return WrapError(providerElevenLabs, fmt.Errorf("health check: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return e.parseError(resp)
	}
	return nil
}

// Close releases idle connections.
func (e *ElevenLabs) Close() error {
	e.client.CloseIdleConnections()
	e.stream.CloseIdleConnections()
	return nil
}

// VoiceID returns the configured voice ID.
func (e *ElevenLabs) VoiceID() string {
	return e.config.VoiceID
}

// ModelID returns the configured model ID.
func (e *ElevenLabs) ModelID() string {
	return e.config.ModelID
}

type voiceSettingsPayload struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
	Style           float64 `json:"style"`
	SpeakerBoost    bool    `json:"use_speaker_boost"`
}

type synthesisPayload struct {
	Text          string               `json:"text"`
	ModelID       string               `json:"model_id"`
	VoiceSettings voiceSettingsPayload `json:"voice_settings"`
}

// post sends a synthesis request, retrying rate-limited and 5xx responses.
// The returned response has status 200; the caller closes its body.
func (e *ElevenLabs) post(ctx context.Context, client *http.Client, path, text string) (*http.Response, error) {
	vs := e.config.VoiceSettings
	body, err := json.Marshal(synthesisPayload{
		Text:    text,
		ModelID: e.config.ModelID,
		VoiceSettings: voiceSettingsPayload{
			Stability:       vs.Stability,
			SimilarityBoost: vs.SimilarityBoost,
			Style:           vs.Style,
			SpeakerBoost:    vs.SpeakerBoost,
		},
	})
	if err != nil {
		return nil, WrapError(providerElevenLabs, fmt.Errorf("marshal payload: %w", err))
	}

	endpoint := e.baseURL + path + "?output_format=" + url.QueryEscape(string(e.config.OutputFormat))

	var lastErr error
	for attempt := 0; attempt <= e.config.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(e.config.RetryDelay * time.Duration(attempt)):
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
		if err != nil {
			return nil, WrapError(providerElevenLabs, fmt.Errorf("create request: %w", err))
		}
		req.Header.Set("xi-api-key", e.config.APIKey)
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "audio/pcm")

		resp, err := client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			lastErr = WrapError(providerElevenLabs, err)
			continue
		}
		if resp.StatusCode == http.StatusOK {
			return resp, nil
		}

		apiErr := e.parseError(resp)
		resp.Body.Close()
		if !apiErr.IsRetryable() {
			return nil, apiErr
		}
		e.logger.Warn("retrying request", "attempt", attempt+1, "status", resp.StatusCode)
		lastErr = apiErr
	}
	return nil, lastErr
}

// parseError reads an error response. ElevenLabs reports
// {"detail":{"message":...}}; anything else is returned verbatim.
func (e *ElevenLabs) parseError(resp *http.Response) *APIError {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))

	var errResp struct {
		Detail struct {
			Message string `json:"message"`
		} `json:"detail"`
	}
	message := string(body)
	if json.Unmarshal(body, &errResp) == nil && errResp.Detail.Message != "" {
		message = errResp.Detail.Message
	}

	return &APIError{
		StatusCode: resp.StatusCode,
		Message:    message,
		Provider:   providerElevenLabs,
	}
}

func (e *ElevenLabs) outputFormat() AudioFormat {
	return pcmFormat(e.config.OutputFormat)
}

// httpStream wraps a streaming response body.
type httpStream struct {
	body   io.ReadCloser
	format AudioFormat
	buf    [streamChunkSize]byte
	closed atomic.Bool
}

// Read returns the next chunk of the body.
func (s *httpStream) Read() ([]byte, error) {
	if s.closed.Load() {
		return nil, ErrStreamClosed
	}
	n, err := s.body.Read(s.buf[:])
	if n > 0 {
		return bytes.Clone(s.buf[:n]), nil
	}
	if err == nil {
		return nil, nil
	}
	if errors.Is(err, io.EOF) {
		return nil, io.EOF
	}
	return nil, WrapError(providerElevenLabs, fmt.Errorf("read stream: %w", err))
}

// Close stops the stream.
func (s *httpStream) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	return s.body.Close()
}

// Format returns the audio format.
func (s *httpStream) Format() AudioFormat {
	return s.format
}

var _ Provider = (*ElevenLabs)(nil)
