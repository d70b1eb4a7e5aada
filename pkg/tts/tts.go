// Package tts turns text into streamed PCM for the player.
//
// Providers implement Provider. Stream returns audio as the service produces
// it, and NewSource adapts that stream into an audioio.Source so it can be fed
// to an audio.Player like any other producer:
//
//	provider, _ := tts.NewElevenLabs(
//	    tts.WithAPIKey(os.Getenv("ELEVENLABS_API_KEY")),
//	    tts.WithVoice("your-voice-id"),
//	)
//	defer provider.Close()
//
//	src, _ := tts.Speak(ctx, provider, "Hello world", 24000, nil)
//	defer src.Close()
//	audio.Feed(ctx, player, src)
package tts

import (
	"context"
	"time"
)

// Provider is a text-to-speech backend.
type Provider interface {
	// Synthesize converts text to audio, returning the complete buffer.
	Synthesize(ctx context.Context, text string) (*AudioResult, error)

	// Stream converts text to audio and returns chunks as they arrive.
	// Cancelling ctx aborts the stream.
	Stream(ctx context.Context, text string) (AudioStream, error)

	// Health checks connectivity and credentials.
	Health(ctx context.Context) error

	// Close releases any resources held by the provider.
	Close() error
}

// AudioStream is a streaming synthesis response.
type AudioStream interface {
	// Read returns the next chunk. It returns io.EOF once the stream is
	// complete. Chunk boundaries are arbitrary and may split a sample.
	Read() ([]byte, error)

	// Close stops the stream and releases resources.
	Close() error

	// Format returns the audio format of the chunks.
	Format() AudioFormat
}

// AudioResult is a complete synthesis result.
type AudioResult struct {
	Audio     []byte
	Format    AudioFormat
	Duration  time.Duration
	CharCount int

	// LatencyMs is the time until the response arrived.
	LatencyMs int64
}

// AudioFormat describes the audio encoding.
type AudioFormat struct {
	Encoding   Encoding
	SampleRate int
	Channels   int
	BitDepth   int
}

// Encoding is a provider output format. Values match ElevenLabs'
// output_format parameter.
type Encoding string

const (
	EncodingPCM16 Encoding = "pcm_16000"
	EncodingPCM22 Encoding = "pcm_22050"
	EncodingPCM24 Encoding = "pcm_24000"
	EncodingPCM44 Encoding = "pcm_44100"

	EncodingMP3  Encoding = "mp3_44100_128"
	EncodingULaw Encoding = "ulaw_8000"
)

// IsPCM reports whether e is raw 16-bit little-endian PCM, the only
// encoding the player accepts.
func (e Encoding) IsPCM() bool {
	switch e {
	case EncodingPCM16, EncodingPCM22, EncodingPCM24, EncodingPCM44:
		return true
	}
	return false
}

// SampleRate returns the sample rate implied by e, or 0 if unknown.
func (e Encoding) SampleRate() int {
	switch e {
	case EncodingPCM16:
		return 16000
	case EncodingPCM22:
		return 22050
	case EncodingPCM24:
		return 24000
	case EncodingPCM44, EncodingMP3:
		return 44100
	case EncodingULaw:
		return 8000
	default:
		return 0
	}
}

// PCMEncoding returns the PCM encoding for sampleRate, if there is one.
func PCMEncoding(sampleRate int) (Encoding, bool) {
	for _, e := range []Encoding{EncodingPCM16, EncodingPCM22, EncodingPCM24, EncodingPCM44} {
		if e.SampleRate() == sampleRate {
			return e, true
		}
	}
	return "", false
}

// VoiceSettings controls voice characteristics on providers that support them.
type VoiceSettings struct {
	// Stability in 0..1; lower is more expressive.
	Stability float64 `mapstructure:"stability"`

	// SimilarityBoost in 0..1; higher stays closer to the source voice.
	SimilarityBoost float64 `mapstructure:"similarity_boost"`

	Style        float64 `mapstructure:"style"`
	SpeakerBoost bool    `mapstructure:"speaker_boost"`
}

// DefaultVoiceSettings returns the settings used when none are configured.
func DefaultVoiceSettings() VoiceSettings {
	return VoiceSettings{
		Stability:       0.5,
		SimilarityBoost: 0.75,
		SpeakerBoost:    true,
	}
}

func pcmFormat(e Encoding) AudioFormat {
	return AudioFormat{Encoding: e, SampleRate: e.SampleRate(), Channels: 1, BitDepth: 16}
}

func estimateDuration(pcmBytes, sampleRate int) time.Duration {
	if sampleRate <= 0 {
		return 0
	}
	return time.Duration(pcmBytes/2) * time.Second / time.Duration(sampleRate)
}
