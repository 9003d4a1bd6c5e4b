// Package textsource defines where the pipeline's text comes from.
//
// A [Source] emits text fragments in arrival order with no alignment
// guarantees: a fragment may end mid-word, mid-sentence, or mid-marker. The
// pipeline's filtering and sentence-detection stages are built to absorb any
// chunking, so sources should forward fragments as soon as they arrive
// rather than batching them.
package textsource

import (
	"bufio"
	"context"
	"io"
	"sync"
)

// Source is a stream of text fragments.
type Source interface {
	// Chunks returns the fragment channel. It is closed when the source is
	// exhausted or its context is cancelled.
	Chunks() <-chan string

	// Err returns the terminal error, if any. Valid only after the channel
	// returned by Chunks has been closed.
	Err() error
}

// readerChunkSize bounds fragments read from an io.Reader. Small enough to
// keep first-sentence latency low when reading from a pipe.
const readerChunkSize = 256

// ReaderSource adapts an io.Reader into a [Source]. Fragments are cut at
// rune boundaries so multi-byte characters never split across chunks.
type ReaderSource struct {
	ch  chan string
	mu  sync.Mutex
	err error
}

var _ Source = (*ReaderSource)(nil)

// NewReader starts reading from r immediately. The stream ends when r
// returns io.EOF or ctx is cancelled.
func NewReader(ctx context.Context, r io.Reader) *ReaderSource {
	s := &ReaderSource{ch: make(chan string, 1)}
	go s.run(ctx, r)
	return s
}

func (s *ReaderSource) run(ctx context.Context, r io.Reader) {
	defer close(s.ch)
	br := bufio.NewReader(r)
	var buf []rune
	flush := func() bool {
		if len(buf) == 0 {
			return true
		}
		select {
		case s.ch <- string(buf):
			buf = buf[:0]
			return true
		case <-ctx.Done():
			s.setErr(ctx.Err())
			return false
		}
	}
	for {
		if ctx.Err() != nil {
			s.setErr(ctx.Err())
			return
		}
		ru, _, err := br.ReadRune()
		if err != nil {
			if err != io.EOF {
				s.setErr(err)
			}
			flush()
			return
		}
		buf = append(buf, ru)
		if len(buf) >= readerChunkSize {
			if !flush() {
				return
			}
		}
	}
}

// Chunks implements [Source].
func (s *ReaderSource) Chunks() <-chan string { return s.ch }

// Err implements [Source].
func (s *ReaderSource) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *ReaderSource) setErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err == nil {
		s.err = err
	}
}
