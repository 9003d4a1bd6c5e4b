package config_test

import (
	"testing"

	"github.com/voxpipe/voxpipe/internal/config"
)

func baseConfig() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{
			ListenAddr: ":8080",
			LogLevel:   config.LogInfo,
		},
		Synthesis: config.SynthesisConfig{
			Backend:     config.BackendEntry{Name: "piper", URL: "http://localhost:5000"},
			Concurrency: 2,
		},
		Voice: config.VoiceConfig{
			Name:  "en_US-amy-medium",
			Speed: 1.0,
		},
		Pipeline: config.PipelineConfig{
			MinSentenceLength: 4,
		},
		Playback: config.PlaybackConfig{
			QueueDepth: 16,
		},
	}
}

func TestDiff_NoChanges(t *testing.T) {
	t.Parallel()
	old, new := baseConfig(), baseConfig()
	d := config.Diff(old, new)
	if d != (config.ConfigDiff{}) {
		t.Errorf("expected empty diff, got %+v", d)
	}
}

func TestDiff_LogLevel(t *testing.T) {
	t.Parallel()
	old, new := baseConfig(), baseConfig()
	new.Server.LogLevel = config.LogDebug

	d := config.Diff(old, new)
	if !d.LogLevelChanged {
		t.Error("LogLevelChanged should be true")
	}
	if d.NewLogLevel != config.LogDebug {
		t.Errorf("NewLogLevel: got %q, want debug", d.NewLogLevel)
	}
	if d.RestartRequired {
		t.Error("log level change should not require restart")
	}
}

func TestDiff_Voice(t *testing.T) {
	t.Parallel()
	old, new := baseConfig(), baseConfig()
	new.Voice.Speed = 1.5

	d := config.Diff(old, new)
	if !d.VoiceChanged {
		t.Error("VoiceChanged should be true")
	}
	if d.RestartRequired {
		t.Error("voice change should not require restart")
	}
}

func TestDiff_Pipeline(t *testing.T) {
	t.Parallel()
	old, new := baseConfig(), baseConfig()
	new.Pipeline.ExtraAbbreviations = []string{"bzw."}

	d := config.Diff(old, new)
	if !d.PipelineChanged {
		t.Error("PipelineChanged should be true")
	}
}

func TestDiff_RestartRequired(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name   string
		mutate func(*config.Config)
	}{
		{"backend url", func(c *config.Config) { c.Synthesis.Backend.URL = "http://other:5000" }},
		{"concurrency", func(c *config.Config) { c.Synthesis.Concurrency = 4 }},
		{"fallback added", func(c *config.Config) {
			c.Synthesis.Fallbacks = append(c.Synthesis.Fallbacks, config.BackendEntry{Name: "openai"})
		}},
		{"text provider", func(c *config.Config) { c.Text.Provider = "ollama" }},
		{"queue depth", func(c *config.Config) { c.Playback.QueueDepth = 64 }},
		{"listen addr", func(c *config.Config) { c.Server.ListenAddr = ":9090" }},
		{"tls enabled", func(c *config.Config) {
			c.Server.TLS = &config.TLSConfig{CertFile: "a.pem", KeyFile: "b.pem"}
		}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			old, new := baseConfig(), baseConfig()
			tc.mutate(new)
			d := config.Diff(old, new)
			if !d.RestartRequired {
				t.Error("RestartRequired should be true")
			}
		})
	}
}
