package pipeline

import (
	"context"
	"errors"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/voxpipe/voxpipe/internal/sentence"
	audiomock "github.com/voxpipe/voxpipe/pkg/audio/mock"
	"github.com/voxpipe/voxpipe/pkg/synth"
	synthmock "github.com/voxpipe/voxpipe/pkg/synth/mock"
)

// recObserver records every callback for later assertions. AllComplete
// additionally signals a channel so tests can wait for it.
type recObserver struct {
	mu            sync.Mutex
	detected      []uint64
	detectedTexts []string
	started       []uint64
	completed     []uint64
	failed        map[uint64]error
	fatal         []error
	allComplete   int
	allCompleteCh chan struct{}
}

func newRecObserver() *recObserver {
	return &recObserver{
		failed:        make(map[uint64]error),
		allCompleteCh: make(chan struct{}, 8),
	}
}

func (r *recObserver) SentenceDetected(seq uint64, text string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.detected = append(r.detected, seq)
	r.detectedTexts = append(r.detectedTexts, text)
}

func (r *recObserver) SynthesisStarted(seq uint64, text string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.started = append(r.started, seq)
}

func (r *recObserver) SynthesisCompleted(seq uint64, text string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.completed = append(r.completed, seq)
}

func (r *recObserver) SynthesisFailed(seq uint64, text string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failed[seq] = err
}

func (r *recObserver) AllComplete() {
	r.mu.Lock()
	r.allComplete++
	r.mu.Unlock()
	r.allCompleteCh <- struct{}{}
}

func (r *recObserver) FatalError(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fatal = append(r.fatal, err)
}

func (r *recObserver) allCompleteCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.allComplete
}

func (r *recObserver) detectedSeqs() []uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]uint64(nil), r.detected...)
}

// waitUntil polls cond until it holds or the deadline passes.
func waitUntil(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// taggedBackend returns a SynthesizeFunc producing PCM whose first byte
// identifies the sentence, optionally blocking each text on its own
// channel so completion order can be forced.
func taggedBackend(tags map[string]byte, release map[string]chan struct{}) func(context.Context, synth.Request) (*synth.Result, error) {
	return func(ctx context.Context, req synth.Request) (*synth.Result, error) {
		if release != nil {
			if ch, ok := release[req.Text]; ok {
				select {
				case <-ch:
				case <-ctx.Done():
					return nil, ctx.Err()
				}
			}
		}
		tag, ok := tags[req.Text]
		if !ok {
			return nil, errors.New("unexpected text: " + req.Text)
		}
		return &synth.Result{
			Audio:      []byte{tag, 0, tag, 0},
			Format:     synth.FormatPCM,
			SampleRate: 22050,
			Channels:   1,
		}, nil
	}
}

// playedTags drains the mock sink, returning the tag byte of each played
// unit in start order.
func playedTags(t *testing.T, sink *audiomock.Sink, want int) []byte {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		sink.FinishCurrent()
		if len(sink.Starts) >= want {
			break
		}
		time.Sleep(2 * time.Millisecond)
	}
	var tags []byte
	for _, s := range sink.Starts {
		tags = append(tags, s.PCM[0])
	}
	return tags
}

func TestPlaybackFollowsDetectionOrder(t *testing.T) {
	const (
		s0 = "This is the first sentence."
		s1 = "This is the second sentence."
		s2 = "This is the third sentence."
	)
	release := map[string]chan struct{}{
		s0: make(chan struct{}),
		s1: make(chan struct{}),
		s2: make(chan struct{}),
	}
	backend := &synthmock.Backend{
		SynthesizeFunc: taggedBackend(map[string]byte{s0: 0, s1: 1, s2: 2}, release),
	}
	sink := audiomock.NewSink()
	obs := newRecObserver()
	o := New(backend, sink, WithObserver(obs), WithConcurrency(3))
	defer o.Close()

	o.ProcessChunk(s0 + " " + s1 + " " + s2)
	o.Flush()
	waitUntil(t, "all three dispatches", func() bool { return backend.CallCount() == 3 })

	// Force sentence 0 to complete last.
	close(release[s1])
	close(release[s2])
	time.Sleep(20 * time.Millisecond)
	if len(sink.Starts) != 0 {
		t.Fatal("nothing may play before sentence 0 completes")
	}
	close(release[s0])

	tags := playedTags(t, sink, 3)
	if len(tags) != 3 || tags[0] != 0 || tags[1] != 1 || tags[2] != 2 {
		t.Fatalf("playback order: got %v, want [0 1 2]", tags)
	}
}

func TestRejectedSentenceDoesNotBlockOthers(t *testing.T) {
	const (
		s0 = "Good first sentence."
		s2 = "Good third sentence."
	)
	// The middle sentence exceeds the synthesis text limit, so it is
	// rejected at validation and must be skipped in playback order.
	huge := strings.Repeat("a", synth.MaxTextLength+10) + "."

	backend := &synthmock.Backend{
		SynthesizeFunc: taggedBackend(map[string]byte{s0: 0, s2: 2}, nil),
	}
	sink := audiomock.NewSink()
	obs := newRecObserver()
	o := New(backend, sink,
		WithObserver(obs),
		WithDetector(sentence.NewDetector(sentence.WithMaxBuffer(2*synth.MaxTextLength))),
	)
	defer o.Close()

	o.ProcessChunk(s0 + " " + huge + " " + s2)
	o.Flush()

	tags := playedTags(t, sink, 2)
	if len(tags) != 2 || tags[0] != 0 || tags[1] != 2 {
		t.Fatalf("playback order: got %v, want [0 2]", tags)
	}
	if got := backend.CallCount(); got != 2 {
		t.Errorf("backend calls: got %d, want 2 (rejected sentence must not reach the backend)", got)
	}
}

func TestFailedSentenceIsReportedAndSkipped(t *testing.T) {
	const (
		s0 = "Good first sentence."
		s1 = "Sentence doomed to fail."
		s2 = "Good third sentence."
	)
	boom := errors.New("backend exploded")
	tags := map[string]byte{s0: 0, s2: 2}
	backend := &synthmock.Backend{
		SynthesizeFunc: func(ctx context.Context, req synth.Request) (*synth.Result, error) {
			if req.Text == s1 {
				return nil, boom
			}
			return taggedBackend(tags, nil)(ctx, req)
		},
	}
	sink := audiomock.NewSink()
	obs := newRecObserver()
	o := New(backend, sink, WithObserver(obs))
	defer o.Close()

	o.ProcessChunk(s0 + " " + s1 + " " + s2)
	o.Flush()

	played := playedTags(t, sink, 2)
	if len(played) != 2 || played[0] != 0 || played[1] != 2 {
		t.Fatalf("playback order: got %v, want [0 2]", played)
	}

	waitUntil(t, "failure callback", func() bool {
		obs.mu.Lock()
		defer obs.mu.Unlock()
		return obs.failed[1] != nil
	})
	obs.mu.Lock()
	defer obs.mu.Unlock()
	if !errors.Is(obs.failed[1], boom) {
		t.Errorf("failed[1]: got %v, want %v", obs.failed[1], boom)
	}
}

func TestConcurrencyBound(t *testing.T) {
	backend := &synthmock.Backend{Gate: make(chan struct{})}
	sink := audiomock.NewSink()
	o := New(backend, sink, WithConcurrency(2))
	defer o.Close()

	var text strings.Builder
	for range 5 {
		text.WriteString("Another quite ordinary sentence. ")
	}
	o.ProcessChunk(text.String())

	// Exactly two calls may reach the backend while the gate is shut.
	waitUntil(t, "two concurrent calls", func() bool { return backend.CallCount() == 2 })
	time.Sleep(30 * time.Millisecond)
	if got := backend.CallCount(); got != 2 {
		t.Fatalf("calls while gated: got %d, want 2", got)
	}

	for range 5 {
		backend.Gate <- struct{}{}
	}
	waitUntil(t, "all five calls", func() bool { return backend.CallCount() == 5 })
	if got := backend.MaxActive(); got > 2 {
		t.Errorf("max simultaneous calls: got %d, want <= 2", got)
	}
}

func TestThinkingBlocksNeverSpoken(t *testing.T) {
	backend := &synthmock.Backend{}
	sink := audiomock.NewSink()
	o := New(backend, sink)
	defer o.Close()

	o.ProcessChunk("Before the block. <think>Hidden reas")
	o.ProcessChunk("oning in here.</think> After the block.")
	o.Flush()

	waitUntil(t, "both sentences synthesised", func() bool { return backend.CallCount() == 2 })
	texts := backend.Texts()
	slices.Sort(texts)
	want := []string{"After the block.", "Before the block."}
	if !slices.Equal(texts, want) {
		t.Errorf("synthesised texts: got %q, want %q", texts, want)
	}
}

func TestFlushInsideThinkingBlockStaysSilent(t *testing.T) {
	backend := &synthmock.Backend{}
	sink := audiomock.NewSink()
	o := New(backend, sink)
	defer o.Close()

	// The stream ends while the reasoning block is still open: neither the
	// block's content nor the text buffered before it may be spoken.
	o.ProcessChunk("Here is the preamble with no boundary <think>endless reasoning")
	o.Flush()

	time.Sleep(50 * time.Millisecond)
	if got := backend.CallCount(); got != 0 {
		t.Fatalf("backend calls after flush inside open block: got %d, want 0 (texts %q)", got, backend.Texts())
	}
}

// completionObserver runs fn on AllComplete and ignores everything else.
type completionObserver struct {
	NopObserver
	fn func()
}

func (c *completionObserver) AllComplete() { c.fn() }

func TestAllCompleteWaitsForFinalUnit(t *testing.T) {
	// Sentences settle one at a time while playback is drained as fast as
	// possible, so queue-empty triggers race against units still on their
	// way into the queue. Completion must only be announced once every
	// synthesised unit has actually been handed to the sink.
	for range 25 {
		backend := &synthmock.Backend{}
		sink := audiomock.NewSink()
		started := make(chan int, 1)
		obs := &completionObserver{fn: func() { started <- len(sink.Starts) }}
		o := New(backend, sink, WithObserver(obs), WithConcurrency(1))

		o.ProcessChunk("The first full sentence. The second full sentence. The third full sentence. ")
		o.Flush()

		var startsAtComplete int
		deadline := time.Now().Add(3 * time.Second)
	drain:
		for time.Now().Before(deadline) {
			sink.FinishCurrent()
			select {
			case startsAtComplete = <-started:
				break drain
			default:
			}
		}
		o.Close()
		if startsAtComplete != 3 {
			t.Fatalf("completion announced after %d of 3 units reached the sink", startsAtComplete)
		}
	}
}

func TestInterruptResetsSession(t *testing.T) {
	backend := &synthmock.Backend{Gate: make(chan struct{})}
	sink := audiomock.NewSink()
	obs := newRecObserver()
	o := New(backend, sink, WithObserver(obs), WithConcurrency(2))
	defer o.Close()

	o.ProcessChunk("First stuck sentence. Second stuck sentence. Third stuck sentence. Partial tail")
	waitUntil(t, "calls in flight", func() bool { return backend.Active() == 2 })

	o.Interrupt()

	st := o.Status()
	if st.PendingRequests != 0 || st.QueuedAudio != 0 || st.IsPlaying || st.BufferedText != "" {
		t.Fatalf("status after interrupt: %+v, want all zero", st)
	}
	// In-flight calls must have been actively cancelled.
	waitUntil(t, "cancelled calls to return", func() bool { return backend.Active() == 0 })

	// The next chunk starts a brand-new session at sequence 0.
	o.ProcessChunk("A fresh sentence arrives. ")
	waitUntil(t, "new session dispatch", func() bool {
		seqs := obs.detectedSeqs()
		return len(seqs) == 4 && seqs[3] == 0
	})
}

func TestInterruptIsIdempotent(t *testing.T) {
	backend := &synthmock.Backend{}
	sink := audiomock.NewSink()
	o := New(backend, sink)
	defer o.Close()

	o.ProcessChunk("Say one thing out loud. ")
	o.Interrupt()
	o.Interrupt()
	o.Interrupt()

	st := o.Status()
	if st.PendingRequests != 0 || st.QueuedAudio != 0 || st.IsPlaying {
		t.Fatalf("status after repeated interrupts: %+v", st)
	}
}

func TestAllCompleteFiresExactlyOnce(t *testing.T) {
	backend := &synthmock.Backend{}
	sink := audiomock.NewSink()
	obs := newRecObserver()
	o := New(backend, sink, WithObserver(obs))
	defer o.Close()

	o.ProcessChunk("One short speech segment. And then another one. ")
	o.Flush()

	// Drain playback until the completion callback arrives.
	done := false
	deadline := time.Now().Add(3 * time.Second)
	for !done && time.Now().Before(deadline) {
		sink.FinishCurrent()
		select {
		case <-obs.allCompleteCh:
			done = true
		case <-time.After(2 * time.Millisecond):
		}
	}
	if !done {
		t.Fatal("AllComplete never fired")
	}

	// Nothing further may re-fire it.
	time.Sleep(50 * time.Millisecond)
	if got := obs.allCompleteCount(); got != 1 {
		t.Errorf("AllComplete count: got %d, want 1", got)
	}
}

func TestAllCompleteNeverFiresAfterInterrupt(t *testing.T) {
	backend := &synthmock.Backend{Gate: make(chan struct{})}
	sink := audiomock.NewSink()
	obs := newRecObserver()
	o := New(backend, sink, WithObserver(obs))
	defer o.Close()

	o.ProcessChunk("A sentence that will never finish. ")
	waitUntil(t, "dispatch in flight", func() bool { return backend.Active() == 1 })
	o.Interrupt()

	waitUntil(t, "cancelled call to return", func() bool { return backend.Active() == 0 })
	time.Sleep(50 * time.Millisecond)
	if got := obs.allCompleteCount(); got != 0 {
		t.Errorf("AllComplete count after interrupt: got %d, want 0", got)
	}
}

func TestStatusReportsDetectorBuffer(t *testing.T) {
	backend := &synthmock.Backend{}
	sink := audiomock.NewSink()
	o := New(backend, sink)
	defer o.Close()

	o.ProcessChunk("An unfinished thought with no boundary")
	st := o.Status()
	if st.BufferedText != "An unfinished thought with no boundary" {
		t.Errorf("buffered text: got %q", st.BufferedText)
	}
}

// mutableVoice lets a test change voice parameters between dispatches.
type mutableVoice struct {
	mu     sync.Mutex
	params synth.VoiceParams
}

func (m *mutableVoice) Voice() synth.VoiceParams {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.params
}

func (m *mutableVoice) set(p synth.VoiceParams) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.params = p
}

func TestVoiceParamsReadAtDispatchTime(t *testing.T) {
	backend := &synthmock.Backend{}
	sink := audiomock.NewSink()
	voice := &mutableVoice{params: synth.VoiceParams{Voice: "amy", Speed: 1.0}}
	o := New(backend, sink, WithVoiceSource(voice))
	defer o.Close()

	o.ProcessChunk("The first sentence speaks slowly. ")
	waitUntil(t, "first dispatch", func() bool { return backend.CallCount() == 1 })

	voice.set(synth.VoiceParams{Voice: "amy", Speed: 1.8})
	o.ProcessChunk("The second sentence speaks quickly. ")
	waitUntil(t, "second dispatch", func() bool { return backend.CallCount() == 2 })

	if got := backend.Calls[0].Params.Speed; got != 1.0 {
		t.Errorf("first call speed: got %v, want 1.0", got)
	}
	if got := backend.Calls[1].Params.Speed; got != 1.8 {
		t.Errorf("second call speed: got %v, want 1.8", got)
	}
}
