// Package sentence turns an unaligned text stream into complete, speakable
// sentences.
//
// [Detector] buffers incoming fragments and emits sentences at punctuation
// boundaries, with abbreviation awareness ("Dr. Smith" does not split) and a
// minimum-length rule that folds very short candidates into the following
// sentence. [Sanitize] strips markdown and markup so the synthesiser never
// reads formatting characters aloud.
package sentence

import (
	"strings"
	"unicode"
)

// Defaults applied by [NewDetector] when an option is not set.
const (
	// DefaultMinLength is the minimum sentence candidate length in runes.
	// Shorter candidates stay buffered and fold into the next sentence.
	DefaultMinLength = 4

	// DefaultMaxBuffer caps the internal buffer in runes. When exceeded
	// without a boundary in sight, the whole buffer is force-emitted as one
	// sentence so malformed input cannot grow it without bound.
	DefaultMaxBuffer = 2000
)

// boundaryRunes end a sentence when followed by whitespace.
const boundaryRunes = ".!?;"

// Option configures a [Detector].
type Option func(*Detector)

// WithMinLength sets the minimum emitted sentence length in runes.
func WithMinLength(n int) Option {
	return func(d *Detector) {
		if n > 0 {
			d.minLength = n
		}
	}
}

// WithMaxBuffer sets the force-emit buffer cap in runes.
func WithMaxBuffer(n int) Option {
	return func(d *Detector) {
		if n > 0 {
			d.maxBuffer = n
		}
	}
}

// WithAbbreviations registers additional words (case-insensitive, without
// the trailing period) that must not end a sentence.
func WithAbbreviations(words ...string) Option {
	return func(d *Detector) {
		for _, w := range words {
			d.abbreviations[strings.ToLower(strings.TrimSuffix(w, "."))] = true
		}
	}
}

// Detector finds sentence boundaries in a stream of text fragments. Not
// safe for concurrent use; the pipeline owns one per session.
//
// Construct detectors per consumer and inject them — a detector carries
// per-stream buffer state and must never be shared between two streams.
type Detector struct {
	minLength     int
	maxBuffer     int
	abbreviations map[string]bool

	buf []rune
}

// NewDetector creates a [Detector] with the default abbreviation set.
func NewDetector(opts ...Option) *Detector {
	d := &Detector{
		minLength:     DefaultMinLength,
		maxBuffer:     DefaultMaxBuffer,
		abbreviations: defaultAbbreviations(),
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

// AddChunk appends text to the buffer and returns every complete sentence
// found, in left-to-right order. A boundary requires punctuation followed by
// an actual whitespace character, so a chunk ending "Enjoy!" emits nothing
// until more text or [Detector.Flush] arrives.
func (d *Detector) AddChunk(text string) []string {
	d.buf = append(d.buf, []rune(text)...)

	var sentences []string
	scanFrom := 0
	for {
		end, next := d.findBoundary(scanFrom)
		if end < 0 {
			break
		}
		candidate := strings.TrimSpace(string(d.buf[:end]))
		if len([]rune(candidate)) < d.minLength {
			// Too short to speak on its own; fold into the next sentence.
			scanFrom = next
			continue
		}
		sentences = append(sentences, candidate)
		d.buf = d.buf[next:]
		scanFrom = 0
	}

	if len(d.buf) > d.maxBuffer {
		// No boundary in an oversized buffer. Emit it whole rather than
		// grow without bound on malformed input.
		if forced := strings.TrimSpace(string(d.buf)); forced != "" {
			sentences = append(sentences, forced)
		}
		d.buf = d.buf[:0]
	}
	return sentences
}

// findBoundary scans from index from and returns the index just past the
// first valid punctuation run plus the index where the following sentence
// starts. Returns -1, -1 if no valid boundary exists yet.
func (d *Detector) findBoundary(from int) (end, next int) {
	for i := from; i < len(d.buf); i++ {
		if !strings.ContainsRune(boundaryRunes, d.buf[i]) {
			continue
		}
		// Collapse a punctuation run ("!?", "...") into one boundary.
		j := i
		for j+1 < len(d.buf) && strings.ContainsRune(boundaryRunes, d.buf[j+1]) {
			j++
		}
		if j+1 >= len(d.buf) {
			// Run touches the end of the buffer; the sentence may continue
			// in the next chunk ("e.g." vs "e.g. another clause").
			return -1, -1
		}
		if !unicode.IsSpace(d.buf[j+1]) {
			// Mid-token punctuation ("3.14", "Ph.D").
			i = j
			continue
		}
		if i == j && d.buf[i] == '.' && d.isAbbreviation(i) {
			i = j
			continue
		}
		return j + 1, j + 2
	}
	return -1, -1
}

// isAbbreviation reports whether the word ending at the period at index dot
// is a registered abbreviation.
func (d *Detector) isAbbreviation(dot int) bool {
	start := dot
	for start > 0 && !unicode.IsSpace(d.buf[start-1]) {
		start--
	}
	word := strings.ToLower(string(d.buf[start:dot]))
	return d.abbreviations[word]
}

// Flush returns the trimmed remaining buffer as a final sentence. The
// minimum-length rule does not apply at end of stream: whatever is left is
// all the speech there will be. Returns "", false when the buffer holds
// only whitespace.
func (d *Detector) Flush() (string, bool) {
	rest := strings.TrimSpace(string(d.buf))
	d.buf = d.buf[:0]
	if rest == "" {
		return "", false
	}
	return rest, true
}

// Clear discards the buffer without emitting. Used on interrupt.
func (d *Detector) Clear() {
	d.buf = d.buf[:0]
}

// Buffered returns the current buffer content, for status reporting.
func (d *Detector) Buffered() string {
	return string(d.buf)
}

// defaultAbbreviations is the stock list of words that do not end a
// sentence at a trailing period. Entries that double as ordinary English
// words ("no", "sat", "est", ...) are deliberately absent: "I said no."
// must split, and missing an occasional "No. 5" costs far less than
// swallowing real boundaries. Callers with jargon-heavy input can extend
// the list via [WithAbbreviations].
func defaultAbbreviations() map[string]bool {
	words := []string{
		"mr", "mrs", "ms", "dr", "prof", "sr", "jr", "st",
		"ph.d", "m.d", "b.a", "m.a", "b.s", "m.s",
		"i.e", "e.g", "etc", "vs", "cf", "ca", "approx",
		"inc", "ltd", "co", "corp", "dept",
		"ave", "blvd", "rd",
		"jan", "feb", "apr", "jun", "jul", "aug", "sep", "sept",
		"oct", "nov", "dec",
		"mon", "tue", "thu", "fri",
		"u.s", "u.k", "u.n", "e.u",
		"vol", "pp", "fig",
	}
	m := make(map[string]bool, len(words))
	for _, w := range words {
		m[w] = true
	}
	return m
}
