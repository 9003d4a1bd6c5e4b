// Package speaker provides an [audio.Sink] backed by the operating system's
// default output device via the oto library.
//
// A process may hold at most one oto context, so at most one [Sink] should be
// constructed per process. The sink owns a fixed output format; PCM handed to
// [Sink.Start] in a different format is converted on the fly.
package speaker

import (
	"bytes"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ebitengine/oto/v3"

	"github.com/voxpipe/voxpipe/pkg/audio"
)

// ErrClosed is returned by [Sink.Start] after the sink has been closed.
var ErrClosed = errors.New("speaker: sink is closed")

// pollInterval is how often an active source checks whether the device has
// drained its buffer.
const pollInterval = 10 * time.Millisecond

// Sink plays S16LE PCM on the default output device. It implements
// [audio.Sink] and is safe for concurrent use, though the playback queue is
// expected to be its only caller.
type Sink struct {
	ctx    *oto.Context
	format audio.Format

	mu     sync.Mutex
	closed bool
}

var _ audio.Sink = (*Sink)(nil)

// Options configures [New]. The zero value selects 48kHz stereo output with
// the oto default buffer size.
type Options struct {
	// Format is the device output format. Zero means 48kHz stereo.
	Format audio.Format

	// BufferSize is the device-side buffer length. Zero means the oto
	// default. Smaller buffers reduce the latency of barge-in stops at the
	// cost of underrun risk.
	BufferSize time.Duration
}

// New opens the default output device and blocks until it is ready.
func New(opts Options) (*Sink, error) {
	format := opts.Format
	if format.SampleRate == 0 {
		format.SampleRate = 48000
	}
	if format.Channels == 0 {
		format.Channels = 2
	}
	if format.Channels != 1 && format.Channels != 2 {
		return nil, fmt.Errorf("speaker: unsupported channel count %d", format.Channels)
	}

	ctx, ready, err := oto.NewContext(&oto.NewContextOptions{
		SampleRate:   format.SampleRate,
		ChannelCount: format.Channels,
		Format:       oto.FormatSignedInt16LE,
		BufferSize:   opts.BufferSize,
	})
	if err != nil {
		return nil, fmt.Errorf("speaker: open output device: %w", err)
	}
	<-ready

	return &Sink{ctx: ctx, format: format}, nil
}

// Format returns the device output format.
func (s *Sink) Format() audio.Format { return s.format }

// Start converts pcm to the device format if needed and begins playback.
func (s *Sink) Start(pcm []byte, format audio.Format) (audio.Source, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	if len(pcm) == 0 {
		return nil, errors.New("speaker: empty PCM data")
	}

	converted, err := audio.Conform(pcm, format, s.format)
	if err != nil {
		return nil, fmt.Errorf("speaker: %w", err)
	}

	player := s.ctx.NewPlayer(bytes.NewReader(converted))
	player.Play()

	src := &source{
		player: player,
		done:   make(chan struct{}),
	}
	go src.watch()
	return src, nil
}

// Resume resumes the output device after a suspend. oto suspends the device
// on some platforms when the process is backgrounded.
func (s *Sink) Resume() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if err := s.ctx.Resume(); err != nil {
		return fmt.Errorf("speaker: resume output device: %w", err)
	}
	return nil
}

// Close suspends the output device and rejects further Start calls. oto
// contexts cannot be destroyed, so the underlying device handle lives until
// process exit.
func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if err := s.ctx.Suspend(); err != nil {
		return fmt.Errorf("speaker: suspend output device: %w", err)
	}
	return nil
}

// source is a single playback handle. The watch goroutine polls the oto
// player and closes done once the device has consumed all data.
type source struct {
	player *oto.Player
	done   chan struct{}

	stopOnce sync.Once
}

var _ audio.Source = (*source)(nil)

func (s *source) watch() {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for range ticker.C {
		select {
		case <-s.done:
			return
		default:
		}
		if !s.player.IsPlaying() {
			s.finish()
			return
		}
	}
}

// finish closes the player and signals done. Safe to call from both the
// watch goroutine and Stop.
func (s *source) finish() {
	s.stopOnce.Do(func() {
		s.player.Pause()
		_ = s.player.Close()
		close(s.done)
	})
}

// Stop halts playback immediately. Idempotent.
func (s *source) Stop() error {
	s.finish()
	return nil
}

// Done is closed when playback ends, naturally or via [source.Stop].
func (s *source) Done() <-chan struct{} { return s.done }
