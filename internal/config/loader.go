package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"
)

// ValidBackendNames lists known synthesis backend names. Used by [Validate]
// to warn about unrecognised names.
var ValidBackendNames = []string{"piper", "openai"}

// ValidTextProviders lists known streaming completion providers for the
// text source.
var ValidTextProviders = []string{
	"openai", "anthropic", "gemini", "ollama", "deepseek", "mistral", "groq", "llamacpp",
}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r and validates the result.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if tls := cfg.Server.TLS; tls != nil {
		if tls.CertFile == "" || tls.KeyFile == "" {
			errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
		}
	}

	// Synthesis backends
	validateBackendName("synthesis.backend", cfg.Synthesis.Backend.Name)
	for i, fb := range cfg.Synthesis.Fallbacks {
		prefix := fmt.Sprintf("synthesis.fallbacks[%d]", i)
		if fb.Name == "" {
			errs = append(errs, fmt.Errorf("%s.name is required", prefix))
		}
		validateBackendName(prefix, fb.Name)
	}
	if cfg.Synthesis.Concurrency < 0 {
		errs = append(errs, fmt.Errorf("synthesis.concurrency %d must not be negative", cfg.Synthesis.Concurrency))
	}
	for _, entry := range append([]BackendEntry{cfg.Synthesis.Backend}, cfg.Synthesis.Fallbacks...) {
		if entry.TimeoutSeconds < 0 {
			errs = append(errs, fmt.Errorf("backend %q: timeout_seconds %d must not be negative", entry.Name, entry.TimeoutSeconds))
		}
	}

	// Voice ranges mirror what backends accept; out-of-range values would
	// silently be clamped at dispatch, so reject them up front.
	v := cfg.Voice
	if v.Speed != 0 && (v.Speed < 0.5 || v.Speed > 2.0) {
		errs = append(errs, fmt.Errorf("voice.speed %.2f is out of range [0.5, 2.0]", v.Speed))
	}
	if v.LengthScale != 0 && (v.LengthScale < 0.1 || v.LengthScale > 2.0) {
		errs = append(errs, fmt.Errorf("voice.length_scale %.2f is out of range [0.1, 2.0]", v.LengthScale))
	}
	if v.NoiseScale < 0 || v.NoiseScale > 1 {
		errs = append(errs, fmt.Errorf("voice.noise_scale %.2f is out of range [0, 1]", v.NoiseScale))
	}
	if v.NoiseVariation < 0 || v.NoiseVariation > 1 {
		errs = append(errs, fmt.Errorf("voice.noise_variation %.2f is out of range [0, 1]", v.NoiseVariation))
	}

	// Text source
	if cfg.Text.Provider != "" {
		if !slices.Contains(ValidTextProviders, cfg.Text.Provider) {
			slog.Warn("unknown text provider — may be a typo or third-party provider",
				"name", cfg.Text.Provider,
				"known", ValidTextProviders,
			)
		}
		if cfg.Text.Model == "" {
			errs = append(errs, errors.New("text.model is required when text.provider is set"))
		}
	}

	// Pipeline
	p := cfg.Pipeline
	if p.MinSentenceLength < 0 {
		errs = append(errs, fmt.Errorf("pipeline.min_sentence_length %d must not be negative", p.MinSentenceLength))
	}
	if p.MaxBufferSize < 0 {
		errs = append(errs, fmt.Errorf("pipeline.max_buffer_size %d must not be negative", p.MaxBufferSize))
	}
	if p.MaxBufferSize > 0 && p.MinSentenceLength > p.MaxBufferSize {
		errs = append(errs, fmt.Errorf("pipeline.min_sentence_length %d exceeds max_buffer_size %d", p.MinSentenceLength, p.MaxBufferSize))
	}
	if (p.ThinkingOpen == "") != (p.ThinkingClose == "") {
		errs = append(errs, errors.New("pipeline.thinking_open and thinking_close must be set together"))
	}
	for i, abbr := range p.ExtraAbbreviations {
		if strings.TrimSpace(abbr) == "" {
			errs = append(errs, fmt.Errorf("pipeline.extra_abbreviations[%d] is empty", i))
		}
	}

	// Playback
	if cfg.Playback.QueueDepth < 0 {
		errs = append(errs, fmt.Errorf("playback.queue_depth %d must not be negative", cfg.Playback.QueueDepth))
	}
	if cfg.Playback.SampleRate < 0 {
		errs = append(errs, fmt.Errorf("playback.sample_rate %d must not be negative", cfg.Playback.SampleRate))
	}
	if c := cfg.Playback.Channels; c != 0 && c != 1 && c != 2 {
		errs = append(errs, fmt.Errorf("playback.channels %d must be 1 or 2", c))
	}

	return errors.Join(errs...)
}

// validateBackendName logs a warning if name is non-empty and not found in
// [ValidBackendNames].
func validateBackendName(field, name string) {
	if name == "" || slices.Contains(ValidBackendNames, name) {
		return
	}
	slog.Warn("unknown backend name — may be a typo or custom registration",
		"field", field,
		"name", name,
		"known", ValidBackendNames,
	)
}
