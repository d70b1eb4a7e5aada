package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/teslashibe/go-pcmstream/pkg/audioio"
	"github.com/teslashibe/go-pcmstream/pkg/tts"
)

func TestLoad_Defaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	want := Default()
	if cfg.Audio != want.Audio {
		t.Errorf("Audio = %+v, want %+v", cfg.Audio, want.Audio)
	}
	if cfg.Sink != want.Sink {
		t.Errorf("Sink = %+v, want %+v", cfg.Sink, want.Sink)
	}
	if cfg.Server.Addr != want.Server.Addr {
		t.Errorf("Server.Addr = %q, want %q", cfg.Server.Addr, want.Server.Addr)
	}
	if cfg.Log.Level != "info" {
		t.Errorf("Log.Level = %q, want info", cfg.Log.Level)
	}
}

func TestLoad_File(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)

	path := filepath.Join(dir, "pcmplay.yaml")
	data := `
log:
  level: debug
  format: json
audio:
  sample_rate: 16000
  min_buffer_bytes: 8000
  poll_interval: 5ms
  prebuffer_timeout: 1.5s
  skip_drain_on_end: false
sink:
  backend: rtp
  device: 10.0.0.2:5004
  payload_type: 111
server:
  addr: 127.0.0.1:9000
`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Log.Level != "debug" || cfg.Log.Format != "json" {
		t.Errorf("Log = %+v", cfg.Log)
	}
	if cfg.Audio.SampleRate != 16000 {
		t.Errorf("SampleRate = %d, want 16000", cfg.Audio.SampleRate)
	}
	if cfg.Sink.SampleRate != 16000 {
		t.Errorf("Sink.SampleRate = %d, want the player rate", cfg.Sink.SampleRate)
	}
	if cfg.Audio.MinBufferBytes != 8000 {
		t.Errorf("MinBufferBytes = %d, want 8000", cfg.Audio.MinBufferBytes)
	}
	if cfg.Audio.PollInterval != 5*time.Millisecond {
		t.Errorf("PollInterval = %v, want 5ms", cfg.Audio.PollInterval)
	}
	if cfg.Audio.PrebufferTimeout != 1500*time.Millisecond {
		t.Errorf("PrebufferTimeout = %v, want 1.5s", cfg.Audio.PrebufferTimeout)
	}
	if cfg.Audio.SkipDrainOnEnd {
		t.Error("SkipDrainOnEnd should be false")
	}
	if cfg.Audio.DrainRetries != 100 {
		t.Errorf("DrainRetries = %d, unset keys should keep defaults", cfg.Audio.DrainRetries)
	}
	if cfg.Sink.Backend != audioio.BackendRTP {
		t.Errorf("Backend = %q, want rtp", cfg.Sink.Backend)
	}
	if cfg.Sink.Device != "10.0.0.2:5004" || cfg.Sink.PayloadType != 111 {
		t.Errorf("Sink = %+v", cfg.Sink)
	}
	if cfg.Server.Addr != "127.0.0.1:9000" {
		t.Errorf("Server.Addr = %q", cfg.Server.Addr)
	}
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)

	path := filepath.Join(dir, "pcmplay.yaml")
	os.WriteFile(path, []byte("audio:\n  sample_rate: 16000\n"), 0o644)

	t.Setenv("PCMPLAY_AUDIO_SAMPLE_RATE", "48000")
	t.Setenv("PCMPLAY_AUDIO_STOP_TIMEOUT", "750ms")
	t.Setenv("PCMPLAY_SINK_BACKEND", "mock")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Audio.SampleRate != 48000 {
		t.Errorf("SampleRate = %d, want 48000", cfg.Audio.SampleRate)
	}
	if cfg.Audio.StopTimeout != 750*time.Millisecond {
		t.Errorf("StopTimeout = %v, want 750ms", cfg.Audio.StopTimeout)
	}
	if cfg.Sink.Backend != audioio.BackendMock {
		t.Errorf("Backend = %q, want mock", cfg.Sink.Backend)
	}
}

func TestLoad_DotEnv(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)

	// Registered with t.Setenv so godotenv's write is undone after the test.
	t.Setenv("PCMPLAY_SERVER_ADDR", "")
	os.Unsetenv("PCMPLAY_SERVER_ADDR")

	if err := os.WriteFile(filepath.Join(dir, ".env"), []byte("PCMPLAY_SERVER_ADDR=:7000\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Addr != ":7000" {
		t.Errorf("Server.Addr = %q, want :7000 from .env", cfg.Server.Addr)
	}
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		wantErr string
	}{
		{"zero rate", map[string]string{"PCMPLAY_AUDIO_SAMPLE_RATE": "0"}, "audio"},
		{"unknown backend", map[string]string{"PCMPLAY_SINK_BACKEND": "alsa"}, "unknown backend"},
		{"bad log format", map[string]string{"PCMPLAY_LOG_FORMAT": "xml"}, "log.format"},
		{"unknown tts provider", map[string]string{"PCMPLAY_TTS_PROVIDER": "polly"}, "tts.provider"},
		{"compressed tts format", map[string]string{"PCMPLAY_TTS_OUTPUT_FORMAT": "mp3_44100_128"}, "tts.output_format"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Chdir(t.TempDir())
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			_, err := Load("")
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %v, want it to mention %q", err, tt.wantErr)
			}
		})
	}
}

func TestLoad_TTS(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)

	path := filepath.Join(dir, "pcmplay.yaml")
	data := `
tts:
  voice_id: voice-1
  fallback_model: eleven_flash_v2_5
  output_format: pcm_16000
  voice_settings:
    stability: 0.3
`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("ELEVENLABS_API_KEY", "from-provider-env")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.TTS.APIKey != "from-provider-env" {
		t.Errorf("APIKey = %q, want the ELEVENLABS_API_KEY value", cfg.TTS.APIKey)
	}
	if cfg.TTS.VoiceID != "voice-1" || cfg.TTS.FallbackModel != tts.ModelFlashV2_5 {
		t.Errorf("TTS = %+v", cfg.TTS)
	}
	if cfg.TTS.OutputFormat != tts.EncodingPCM16 {
		t.Errorf("OutputFormat = %q, want pcm_16000", cfg.TTS.OutputFormat)
	}
	if cfg.TTS.VoiceSettings.Stability != 0.3 {
		t.Errorf("Stability = %v, want 0.3", cfg.TTS.VoiceSettings.Stability)
	}
	if !cfg.TTS.VoiceSettings.SpeakerBoost {
		t.Error("unset voice settings should keep defaults")
	}
	if cfg.TTS.ModelID != tts.ModelTurboV2_5 || cfg.TTS.MaxRetries != 3 {
		t.Errorf("defaults lost: %+v", cfg.TTS)
	}

	t.Setenv("PCMPLAY_TTS_API_KEY", "prefixed")
	cfg, err = Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.TTS.APIKey != "prefixed" {
		t.Errorf("APIKey = %q, PCMPLAY_TTS_API_KEY should win", cfg.TTS.APIKey)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	t.Chdir(t.TempDir())

	if _, err := Load("does-not-exist.yaml"); err == nil {
		t.Fatal("expected error for missing config file")
	}
}
