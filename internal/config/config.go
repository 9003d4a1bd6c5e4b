// Package config provides the configuration schema, loader, backend registry,
// and file watcher for the voxpipe speech pipeline.
package config

import "github.com/voxpipe/voxpipe/pkg/synth"

// LogLevel controls log verbosity for the voxpipe daemon.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Config is the root configuration structure for voxpipe.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Synthesis SynthesisConfig `yaml:"synthesis"`
	Voice     VoiceConfig     `yaml:"voice"`
	Text      TextConfig      `yaml:"text"`
	Pipeline  PipelineConfig  `yaml:"pipeline"`
	Playback  PlaybackConfig  `yaml:"playback"`
}

// ServerConfig holds the observability endpoint and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address the metrics/health server listens on
	// (e.g., ":8080"). Empty disables the server.
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`

	// TLS configures TLS for the server. When nil, the server runs plain HTTP.
	TLS *TLSConfig `yaml:"tls"`
}

// TLSConfig holds TLS certificate paths for enabling HTTPS.
type TLSConfig struct {
	// CertFile is the path to the PEM-encoded TLS certificate.
	CertFile string `yaml:"cert_file"`

	// KeyFile is the path to the PEM-encoded TLS private key.
	KeyFile string `yaml:"key_file"`
}

// SynthesisConfig selects the speech backend chain and dispatch concurrency.
type SynthesisConfig struct {
	// Backend is the primary synthesis backend.
	Backend BackendEntry `yaml:"backend"`

	// Fallbacks lists backends tried in order when the primary fails.
	Fallbacks []BackendEntry `yaml:"fallbacks"`

	// Concurrency bounds simultaneous synthesis calls. Default 2.
	Concurrency int `yaml:"concurrency"`
}

// BackendEntry is the common configuration block shared by all synthesis
// backends. The Name field is used to look up the constructor in the [Registry].
type BackendEntry struct {
	// Name selects the registered backend implementation (e.g., "piper", "openai").
	Name string `yaml:"name"`

	// URL is the backend's base address, for backends that need one.
	URL string `yaml:"url"`

	// APIKey is the authentication key for the backend's API if any.
	APIKey string `yaml:"api_key"`

	// Model selects a specific model within the backend (e.g., "gpt-4o-mini-tts").
	Model string `yaml:"model"`

	// Streaming enables the backend's streaming synthesis mode where supported.
	Streaming bool `yaml:"streaming"`

	// TimeoutSeconds bounds a single synthesis call. 0 uses the backend default.
	TimeoutSeconds int `yaml:"timeout_seconds"`

	// Options holds backend-specific configuration values not covered by the
	// standard fields above.
	Options map[string]any `yaml:"options"`
}

// VoiceConfig specifies the voice and prosody parameters applied to every
// synthesis request. These are hot-reloadable; the dispatcher reads them
// fresh for each sentence.
type VoiceConfig struct {
	// Name is the backend-specific voice identifier (e.g., "en_US-amy-medium").
	Name string `yaml:"name"`

	// Speed adjusts speaking rate in the range [0.5, 2.0]. 0 means default.
	Speed float64 `yaml:"speed"`

	// LengthScale stretches phoneme durations in the range [0.1, 2.0].
	LengthScale float64 `yaml:"length_scale"`

	// NoiseScale controls synthesis variability in the range [0, 1].
	NoiseScale float64 `yaml:"noise_scale"`

	// NoiseVariation controls phoneme duration variability in the range [0, 1].
	NoiseVariation float64 `yaml:"noise_variation"`
}

// Params converts the config block into the parameter set attached to
// synthesis requests.
func (v VoiceConfig) Params() synth.VoiceParams {
	return synth.VoiceParams{
		Voice:          v.Name,
		Speed:          v.Speed,
		LengthScale:    v.LengthScale,
		NoiseScale:     v.NoiseScale,
		NoiseVariation: v.NoiseVariation,
	}
}

// TextConfig selects the upstream text source for the daemon run loop.
type TextConfig struct {
	// Provider names the streaming completion provider (e.g., "ollama",
	// "openai"). Empty means text is read from stdin instead.
	Provider string `yaml:"provider"`

	// Model selects the completion model.
	Model string `yaml:"model"`

	// APIKey authenticates against the provider if required.
	APIKey string `yaml:"api_key"`

	// SystemPrompt is prepended to every completion request.
	SystemPrompt string `yaml:"system_prompt"`
}

// PipelineConfig tunes sentence detection and thinking-block filtering.
type PipelineConfig struct {
	// MinSentenceLength is the shortest candidate emitted as its own
	// sentence; shorter ones fold into the next. 0 uses the default.
	MinSentenceLength int `yaml:"min_sentence_length"`

	// MaxBufferSize force-emits the detector buffer when exceeded. 0 uses
	// the default.
	MaxBufferSize int `yaml:"max_buffer_size"`

	// ExtraAbbreviations supplements the built-in abbreviation list
	// (entries like "bzw.", "approx.").
	ExtraAbbreviations []string `yaml:"extra_abbreviations"`

	// ThinkingOpen and ThinkingClose override the reasoning-span markers
	// stripped from model output. Both must be set together.
	ThinkingOpen  string `yaml:"thinking_open"`
	ThinkingClose string `yaml:"thinking_close"`
}

// PlaybackConfig tunes the playback queue and output device.
type PlaybackConfig struct {
	// QueueDepth bounds how many audio units may wait behind the one
	// playing. 0 uses the default.
	QueueDepth int `yaml:"queue_depth"`

	// SampleRate is the output device sample rate in Hz. 0 uses the
	// device default.
	SampleRate int `yaml:"sample_rate"`

	// Channels is the output channel count (1 or 2). 0 uses the default.
	Channels int `yaml:"channels"`
}

// VoiceSource yields the voice parameters for the next synthesis dispatch.
// The pipeline polls it per sentence so configuration edits take effect
// mid-stream. Implementations must be safe for concurrent use.
type VoiceSource interface {
	Voice() synth.VoiceParams
}

// StaticVoice is a [VoiceSource] returning a fixed parameter set. Useful in
// tests and when config watching is disabled.
type StaticVoice struct {
	Params synth.VoiceParams
}

var _ VoiceSource = StaticVoice{}

// Voice implements [VoiceSource].
func (s StaticVoice) Voice() synth.VoiceParams { return s.Params }
