// Package synth defines the Backend interface for speech-synthesis services.
//
// A synthesis backend wraps a text-to-speech service (e.g. a local Piper
// instance or the OpenAI speech endpoint) and presents a uniform
// one-utterance-per-call interface. The pipeline dispatches one [Request]
// per detected sentence; backends return the complete encoded audio for that
// sentence in a [Result].
//
// Implementations must be safe for concurrent use: the dispatcher runs up to
// its concurrency limit of Synthesize calls in parallel.
package synth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// MaxTextLength is the maximum accepted request text length in characters,
// measured after whitespace normalisation.
const MaxTextLength = 10000

// Audio container names used in [Result.Format].
const (
	// FormatWAV marks the payload as a RIFF/WAVE container.
	FormatWAV = "wav"

	// FormatPCM marks the payload as raw signed 16-bit little-endian
	// samples with no container. SampleRate must be set.
	FormatPCM = "pcm_s16le"
)

// Sentinel validation errors. Both are carried inside a [RejectionError]
// when returned from [NormalizeText].
var (
	// ErrEmptyText is returned when a request's text is empty or collapses
	// to nothing after whitespace normalisation.
	ErrEmptyText = errors.New("synth: text is empty")

	// ErrTextTooLong is returned when a request's text exceeds
	// [MaxTextLength] characters after whitespace normalisation.
	ErrTextTooLong = errors.New("synth: text exceeds maximum length")
)

// RejectionError marks a request as invalid rather than failed: the backend
// was never called and retrying the same text cannot succeed. The pipeline
// treats rejections as permanent per-sentence failures that do not consume
// synthesis capacity.
type RejectionError struct {
	Err error
}

func (e *RejectionError) Error() string { return e.Err.Error() }

// Unwrap exposes the underlying sentinel for errors.Is checks.
func (e *RejectionError) Unwrap() error { return e.Err }

// IsRejection reports whether err is (or wraps) a request rejection.
func IsRejection(err error) bool {
	var r *RejectionError
	return errors.As(err, &r)
}

// VoiceParams selects the voice and prosody controls for one request.
// The zero value requests the backend's default voice with neutral prosody.
type VoiceParams struct {
	// Voice is the backend-specific voice identifier (e.g. a Piper model
	// name). Empty selects the backend default.
	Voice string

	// Speed is the playback-rate multiplier in [0.5, 2.0]; 0 means 1.0.
	Speed float64

	// LengthScale adjusts phoneme duration in [0.1, 2.0]; 0 means the
	// backend default. Larger values slow speech down.
	LengthScale float64

	// NoiseScale controls synthesis variability in [0, 1].
	NoiseScale float64

	// NoiseVariation controls phoneme-duration variability in [0, 1].
	NoiseVariation float64
}

// Clamped returns a copy with every prosody control forced into its valid
// range. Zero values are preserved so backends can still apply defaults.
func (p VoiceParams) Clamped() VoiceParams {
	clamp := func(v, lo, hi float64) float64 {
		if v == 0 {
			return 0
		}
		return min(max(v, lo), hi)
	}
	p.Speed = clamp(p.Speed, 0.5, 2.0)
	p.LengthScale = clamp(p.LengthScale, 0.1, 2.0)
	p.NoiseScale = clamp(p.NoiseScale, 0, 1)
	p.NoiseVariation = clamp(p.NoiseVariation, 0, 1)
	return p
}

// Request is one synthesis call: a single sentence plus voice parameters.
type Request struct {
	// Text is the sentence to synthesise. Callers should pass it through
	// [NormalizeText] first; backends may assume it is non-empty and within
	// [MaxTextLength].
	Text string

	// Params selects voice and prosody.
	Params VoiceParams
}

// Result is the audio produced for one request.
type Result struct {
	// Audio is the encoded payload, in the container named by Format.
	Audio []byte

	// Format is the audio container, e.g. "wav".
	Format string

	// SampleRate is the payload's sample rate in Hz.
	SampleRate int

	// Channels is the payload's channel count. Zero means unknown; raw
	// PCM results always set it.
	Channels int

	// Duration is the spoken length as reported by the backend. Zero if
	// the backend does not report it.
	Duration time.Duration

	// ProcessingTime is how long the backend spent synthesising. Zero if
	// not reported.
	ProcessingTime time.Duration
}

// Voice describes one entry in a backend's voice catalogue.
type Voice struct {
	ID       string
	Name     string
	Language string
	Gender   string
}

// Backend is the abstraction over any speech-synthesis service.
//
// Implementations must be safe for concurrent use.
type Backend interface {
	// Synthesize produces the audio for a single request. It blocks until
	// the backend responds or ctx is cancelled. Validation failures are
	// reported as [RejectionError]; anything else is a transient failure
	// the caller may retry with different capacity.
	Synthesize(ctx context.Context, req Request) (*Result, error)

	// ListVoices returns the backend's current voice catalogue.
	ListVoices(ctx context.Context) ([]Voice, error)
}

// Prober is implemented by backends that can report service health. The
// fallback chain probes candidates before routing requests to them.
type Prober interface {
	// Healthy returns nil when the backend is reachable and ready to
	// synthesise.
	Healthy(ctx context.Context) error
}

// NormalizeText collapses runs of whitespace to single spaces, trims the
// ends, and validates the result against [MaxTextLength]. Validation
// failures are returned as [RejectionError].
func NormalizeText(text string) (string, error) {
	normalized := strings.Join(strings.Fields(text), " ")
	if normalized == "" {
		return "", &RejectionError{Err: ErrEmptyText}
	}
	if n := len([]rune(normalized)); n > MaxTextLength {
		return "", &RejectionError{Err: fmt.Errorf("%w: %d > %d characters", ErrTextTooLong, n, MaxTextLength)}
	}
	return normalized, nil
}
