package config

import "slices"

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked; changes to the
// synthesis backend chain or playback device require a restart and are
// reported so the daemon can log a warning.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// VoiceChanged is informational: voice parameters are read fresh at
	// every dispatch, so the change applies without intervention.
	VoiceChanged bool

	// PipelineChanged covers detector and filter tuning; applies to the
	// next session.
	PipelineChanged bool

	// RestartRequired is set when the synthesis backend chain, text source,
	// playback device, or server block changed.
	RestartRequired bool
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	if old.Voice != new.Voice {
		d.VoiceChanged = true
	}

	if !pipelineEqual(old.Pipeline, new.Pipeline) {
		d.PipelineChanged = true
	}

	if !synthesisEqual(old.Synthesis, new.Synthesis) ||
		old.Text != new.Text ||
		old.Playback != new.Playback ||
		!serverEqual(old.Server, new.Server) {
		d.RestartRequired = true
	}

	return d
}

func pipelineEqual(a, b PipelineConfig) bool {
	return a.MinSentenceLength == b.MinSentenceLength &&
		a.MaxBufferSize == b.MaxBufferSize &&
		a.ThinkingOpen == b.ThinkingOpen &&
		a.ThinkingClose == b.ThinkingClose &&
		slices.Equal(a.ExtraAbbreviations, b.ExtraAbbreviations)
}

func synthesisEqual(a, b SynthesisConfig) bool {
	if a.Concurrency != b.Concurrency || !backendEqual(a.Backend, b.Backend) {
		return false
	}
	return slices.EqualFunc(a.Fallbacks, b.Fallbacks, backendEqual)
}

func backendEqual(a, b BackendEntry) bool {
	// Options maps are compared shallowly by length; a changed option value
	// with the same key count slips through, which is acceptable for a
	// restart hint.
	return a.Name == b.Name &&
		a.URL == b.URL &&
		a.APIKey == b.APIKey &&
		a.Model == b.Model &&
		a.Streaming == b.Streaming &&
		a.TimeoutSeconds == b.TimeoutSeconds &&
		len(a.Options) == len(b.Options)
}

func serverEqual(a, b ServerConfig) bool {
	if a.ListenAddr != b.ListenAddr {
		return false
	}
	if (a.TLS == nil) != (b.TLS == nil) {
		return false
	}
	return a.TLS == nil || *a.TLS == *b.TLS
}
