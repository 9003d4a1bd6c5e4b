// Package audio defines the audio data model and output abstraction for the
// voxpipe playback path: the [Unit] type carrying one synthesised utterance,
// WAV decoding into playable PCM, format conversion helpers, and the [Sink]
// interface over which the playback queue drives an output device.
//
// Exactly one component — the playback queue — owns a [Sink] at a time; no
// other part of the pipeline writes to the audio device.
package audio

import (
	"errors"
	"fmt"
	"time"
)

// ErrNoAudio is returned by [Unit.Decode] when the unit carries no encoded
// payload to decode.
var ErrNoAudio = errors.New("audio: unit has no encoded payload")

// Format describes the sample rate and channel count of a PCM stream.
type Format struct {
	SampleRate int
	Channels   int
}

// String returns a human-readable rendering such as "22050Hz mono".
func (f Format) String() string {
	ch := "mono"
	if f.Channels == 2 {
		ch = "stereo"
	} else if f.Channels > 2 {
		ch = fmt.Sprintf("%dch", f.Channels)
	}
	return fmt.Sprintf("%dHz %s", f.SampleRate, ch)
}

// Unit is a single synthesised utterance travelling from the synthesis
// backend through the reorder buffer into the playback queue.
//
// Sequence is the pipeline-assigned detection-order id. Encoded holds the
// backend response bytes (a WAV container). PCM is populated by [Unit.Decode]
// and holds signed 16-bit little-endian samples ready for the output device.
type Unit struct {
	// Sequence is the detection-order id assigned when the source sentence
	// was detected. Playback order follows Sequence, never completion order.
	Sequence uint64

	// Text is the sanitised sentence this unit was synthesised from.
	// Retained for observer callbacks and logging.
	Text string

	// Encoded is the raw backend payload (WAV).
	Encoded []byte

	// PCM is the decoded S16LE sample data. Nil until Decode succeeds.
	PCM []byte

	// Format describes PCM. Zero until Decode succeeds unless the producer
	// filled it in from backend metadata.
	Format Format

	// Duration is the playable length as reported by the backend or computed
	// during decode.
	Duration time.Duration
}

// Decoded reports whether the unit already carries playable PCM.
func (u *Unit) Decoded() bool { return len(u.PCM) > 0 }

// Sink is the audio output device abstraction. Implementations wrap a
// platform backend (speaker, test double) and hand out one-shot [Source]
// values for individual units.
//
// Implementations must be safe for concurrent use.
type Sink interface {
	// Start begins playback of the given PCM data (S16LE in the given
	// format) and returns a one-shot Source handle. Playback proceeds
	// asynchronously; the Source's Done channel is closed when the data has
	// been fully played or the source was stopped.
	Start(pcm []byte, format Format) (Source, error)

	// Resume resumes a suspended output device. Some backends suspend the
	// device after idle periods and require an explicit resume before
	// audio is audible again. Calling Resume on an active device is a no-op.
	Resume() error

	// Close releases the device. After Close, Start returns an error.
	Close() error
}

// Source is a single in-flight playback started via [Sink.Start].
type Source interface {
	// Stop halts playback immediately. Stop is idempotent: stopping an
	// already-stopped or naturally-finished source returns nil.
	Stop() error

	// Done is closed when playback ends, whether naturally or via Stop.
	Done() <-chan struct{}
}
