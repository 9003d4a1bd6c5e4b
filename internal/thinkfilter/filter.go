// Package thinkfilter strips reasoning spans from streaming model output.
//
// Reasoning-capable models interleave speakable text with marked "thinking"
// blocks (e.g. <think>...</think>) that must never reach the synthesiser.
// [Filter] removes them statefully across arbitrary chunk boundaries: a
// marker may arrive split over any number of fragments and is still
// recognised, and no partial marker text is ever emitted as speech.
package thinkfilter

import "strings"

// Default markers match the convention used by reasoning models.
const (
	DefaultOpenMarker  = "<think>"
	DefaultCloseMarker = "</think>"
)

// state is the filter's scan mode.
type state int

const (
	// stateSpeech passes text through until an opening marker.
	stateSpeech state = iota

	// stateThinking discards text until a closing marker.
	stateThinking
)

// Filter is a two-state streaming marker stripper. Not safe for concurrent
// use; the pipeline owns one per session and calls it from a single
// goroutine.
type Filter struct {
	open  string
	close string

	state state
	// carry holds the unscanned tail of the previous chunk: either a
	// potential partial marker or, in thinking state, nothing (thinking
	// content is dropped eagerly, only a partial close marker is kept).
	carry string
}

// New creates a [Filter] with the default <think> markers.
func New() *Filter {
	return NewWithMarkers(DefaultOpenMarker, DefaultCloseMarker)
}

// NewWithMarkers creates a [Filter] with custom marker strings. Both must be
// non-empty; empty markers fall back to the defaults.
func NewWithMarkers(open, close string) *Filter {
	if open == "" {
		open = DefaultOpenMarker
	}
	if close == "" {
		close = DefaultCloseMarker
	}
	return &Filter{open: open, close: close}
}

// Process appends chunk to the carried text and returns the speakable
// portion scanned so far. Text that might be the start of a marker stays
// buffered until the next call decides it either is or is not one.
func (f *Filter) Process(chunk string) string {
	buf := f.carry + chunk
	f.carry = ""

	var out strings.Builder
	for buf != "" {
		switch f.state {
		case stateSpeech:
			idx := strings.Index(buf, f.open)
			if idx >= 0 {
				out.WriteString(buf[:idx])
				buf = buf[idx+len(f.open):]
				f.state = stateThinking
				continue
			}
			// No full marker. Hold back the longest tail that could still
			// grow into one; everything before it is definitely speech.
			keep := partialMarkerSuffix(buf, f.open)
			out.WriteString(buf[:len(buf)-keep])
			f.carry = buf[len(buf)-keep:]
			buf = ""

		case stateThinking:
			idx := strings.Index(buf, f.close)
			if idx >= 0 {
				// Thinking content up to the marker is discarded.
				buf = buf[idx+len(f.close):]
				f.state = stateSpeech
				continue
			}
			keep := partialMarkerSuffix(buf, f.close)
			f.carry = buf[len(buf)-keep:]
			buf = ""
		}
	}
	return out.String()
}

// Flush ends the stream. In speech state the held-back remainder is emitted
// (a partial marker that never completed is ordinary text after all). An
// unterminated thinking block is dropped entirely. The filter resets to
// speech state for the next stream.
func (f *Filter) Flush() string {
	var out string
	if f.state == stateSpeech {
		out = f.carry
	}
	f.carry = ""
	f.state = stateSpeech
	return out
}

// Reset discards all state without emitting anything. Used on interrupt.
func (f *Filter) Reset() {
	f.carry = ""
	f.state = stateSpeech
}

// InThinking reports whether the filter is currently inside a thinking
// block.
func (f *Filter) InThinking() bool { return f.state == stateThinking }

// partialMarkerSuffix returns the length of the longest suffix of s that is
// a proper prefix of marker.
func partialMarkerSuffix(s, marker string) int {
	max := len(marker) - 1
	if max > len(s) {
		max = len(s)
	}
	for n := max; n > 0; n-- {
		if s[len(s)-n:] == marker[:n] {
			return n
		}
	}
	return 0
}
