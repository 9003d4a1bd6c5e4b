// Package mock provides an in-memory mock implementation of the [audio.Sink]
// and [audio.Source] interfaces for use in unit tests.
//
// The mock is safe for concurrent use. It records every Start call so that
// tests can assert on playback order and arguments, and each started [Source]
// stays open until the test finishes it explicitly, which lets tests control
// exactly when "playback" completes.
//
// Typical usage:
//
//	sink := mock.NewSink()
//	src, _ := sink.Start(pcm, audio.Format{SampleRate: 22050, Channels: 1})
//	sink.FinishCurrent() // simulate the device draining its buffer
//	<-src.Done()
package mock

import (
	"errors"
	"sync"

	"github.com/voxpipe/voxpipe/pkg/audio"
)

// Sink is a mock implementation of [audio.Sink].
// Set the exported error fields before use; inspect Starts after.
type Sink struct {
	mu sync.Mutex

	// StartError, when non-nil, is returned by every [Sink.Start] call.
	StartError error

	// ResumeError is returned by [Sink.Resume].
	ResumeError error

	// Starts records the PCM and format of every successful Start call,
	// in order.
	Starts []StartCall

	// CallCountResume records how many times Resume was called.
	CallCountResume int

	closed  bool
	sources []*Source
}

// StartCall is one recorded [Sink.Start] invocation.
type StartCall struct {
	PCM    []byte
	Format audio.Format
}

var _ audio.Sink = (*Sink)(nil)

// NewSink returns an open mock sink.
func NewSink() *Sink { return &Sink{} }

// Start implements [audio.Sink]. The returned source stays "playing" until
// the test calls [Sink.FinishCurrent] or stops it.
func (s *Sink) Start(pcm []byte, format audio.Format) (audio.Source, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, errors.New("mock: sink is closed")
	}
	if s.StartError != nil {
		return nil, s.StartError
	}
	s.Starts = append(s.Starts, StartCall{PCM: pcm, Format: format})
	src := &Source{done: make(chan struct{})}
	s.sources = append(s.sources, src)
	return src, nil
}

// Resume implements [audio.Sink]. Returns ResumeError.
func (s *Sink) Resume() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallCountResume++
	return s.ResumeError
}

// Close implements [audio.Sink]. Subsequent Start calls fail.
func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// FinishCurrent completes the oldest still-playing source, simulating the
// device draining its buffer. It reports whether a source was finished.
func (s *Sink) FinishCurrent() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, src := range s.sources {
		if src.finish() {
			return true
		}
	}
	return false
}

// Playing reports how many started sources have neither finished nor been
// stopped.
func (s *Sink) Playing() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, src := range s.sources {
		if !src.finished() {
			n++
		}
	}
	return n
}

// Source is the mock [audio.Source] handed out by [Sink.Start].
type Source struct {
	done     chan struct{}
	doneOnce sync.Once

	mu sync.Mutex

	// CallCountStop records how many times Stop was called.
	CallCountStop int
}

var _ audio.Source = (*Source)(nil)

// Stop implements [audio.Source]. Idempotent.
func (s *Source) Stop() error {
	s.mu.Lock()
	s.CallCountStop++
	s.mu.Unlock()
	s.finish()
	return nil
}

// Done implements [audio.Source].
func (s *Source) Done() <-chan struct{} { return s.done }

func (s *Source) finish() bool {
	fired := false
	s.doneOnce.Do(func() {
		close(s.done)
		fired = true
	})
	return fired
}

func (s *Source) finished() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}
