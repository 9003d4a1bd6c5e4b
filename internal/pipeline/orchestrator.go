// Package pipeline orchestrates streaming speech synthesis: incremental
// text is filtered for reasoning spans, segmented into sentences,
// synthesised under a concurrency bound, reassembled into detection order,
// and played back gaplessly.
//
// The [Orchestrator] owns one logical session at a time. Text enters via
// [Orchestrator.ProcessChunk] and [Orchestrator.Flush];
// [Orchestrator.Interrupt] implements barge-in, cancelling all outstanding
// work and resetting the session so the next chunk starts a fresh one.
//
// Per-sentence failures never stop the pipeline: a failed or rejected
// sentence is skipped in playback order and everything else plays on time.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/metric"

	"github.com/voxpipe/voxpipe/internal/config"
	"github.com/voxpipe/voxpipe/internal/observe"
	"github.com/voxpipe/voxpipe/internal/pipeline/limiter"
	"github.com/voxpipe/voxpipe/internal/pipeline/reorder"
	"github.com/voxpipe/voxpipe/internal/playback"
	"github.com/voxpipe/voxpipe/internal/sentence"
	"github.com/voxpipe/voxpipe/internal/thinkfilter"
	"github.com/voxpipe/voxpipe/pkg/audio"
	"github.com/voxpipe/voxpipe/pkg/synth"
)

// DefaultConcurrency bounds simultaneous synthesis calls when no option
// overrides it.
const DefaultConcurrency = 2

// Status is a read-only snapshot of the session, returned by
// [Orchestrator.Status].
type Status struct {
	// PendingRequests counts sentences dispatched but not yet settled.
	PendingRequests int

	// QueuedAudio counts audio units held for playback, including the one
	// playing and any awaiting earlier sequences.
	QueuedAudio int

	// IsPlaying reports whether audio is currently coming out of the sink.
	IsPlaying bool

	// BufferedText is the detector's current unsegmented buffer.
	BufferedText string
}

// Option configures an [Orchestrator].
type Option func(*Orchestrator)

// WithObserver sets the lifecycle observer. Default: no callbacks.
func WithObserver(obs Observer) Option {
	return func(o *Orchestrator) { o.observer = obs }
}

// WithVoiceSource sets where voice parameters are read from at each
// dispatch. Default: zero parameters (backend defaults).
func WithVoiceSource(src config.VoiceSource) Option {
	return func(o *Orchestrator) { o.voices = src }
}

// WithConcurrency bounds simultaneous synthesis calls. Values below 1 are
// raised to 1. Default: [DefaultConcurrency].
func WithConcurrency(n int) Option {
	return func(o *Orchestrator) { o.limiter = limiter.New(n) }
}

// WithFilter injects the thinking-block filter instance. The orchestrator
// owns the instance exclusively; do not share it.
func WithFilter(f *thinkfilter.Filter) Option {
	return func(o *Orchestrator) { o.filter = f }
}

// WithDetector injects the sentence boundary detector instance. The
// orchestrator owns the instance exclusively; do not share it.
func WithDetector(d *sentence.Detector) Option {
	return func(o *Orchestrator) { o.detector = d }
}

// WithQueueDepth bounds the playback queue. Default:
// [playback.DefaultMaxDepth].
func WithQueueDepth(n int) Option {
	return func(o *Orchestrator) { o.queueDepth = n }
}

// WithLogger sets the logger. Default: [slog.Default].
func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) { o.logger = logger }
}

// WithMetrics sets the metric instruments. Default:
// [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// Orchestrator composes the full text-to-audio pipeline. All methods are
// safe for concurrent use.
type Orchestrator struct {
	backend  synth.Backend
	voices   config.VoiceSource
	observer Observer
	metrics  *observe.Metrics
	logger   *slog.Logger
	limiter  *limiter.Limiter
	queue    *playback.Queue

	queueDepth int

	mu       sync.Mutex
	cond     *sync.Cond
	filter   *thinkfilter.Filter
	detector *sentence.Detector
	reorder  *reorder.Buffer

	epoch        uint64
	nextSentence uint64
	inFlight     map[uint64]struct{}
	ready        []*audio.Unit
	draining     bool
	dispatched   bool
	completed    bool
	closed       bool

	sessionCtx  context.Context
	sessionStop context.CancelFunc
}

// New returns an orchestrator synthesising through backend and playing
// through sink. The sink is owned by the orchestrator's playback queue from
// this point on.
func New(backend synth.Backend, sink audio.Sink, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		backend:    backend,
		voices:     config.StaticVoice{},
		observer:   NopObserver{},
		logger:     slog.Default(),
		queueDepth: playback.DefaultMaxDepth,
		inFlight:   make(map[uint64]struct{}),
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.limiter == nil {
		o.limiter = limiter.New(DefaultConcurrency)
	}
	if o.metrics == nil {
		o.metrics = observe.DefaultMetrics()
	}
	if o.filter == nil {
		o.filter = thinkfilter.New()
	}
	if o.detector == nil {
		o.detector = sentence.NewDetector()
	}
	o.cond = sync.NewCond(&o.mu)
	o.reorder = reorder.New(func(run []*audio.Unit) {
		// Called with o.mu held; units are handed to the queue by
		// drainReady once the lock is released.
		o.ready = append(o.ready, run...)
	})
	o.queue = playback.New(sink, &queueEvents{o: o},
		playback.WithMaxDepth(o.queueDepth),
		playback.WithLogger(o.logger),
	)
	o.sessionCtx, o.sessionStop = context.WithCancel(context.Background())
	return o
}

// job carries one detected sentence into its dispatch goroutine. The epoch
// pins the session it belongs to; bookkeeping from a stale epoch is
// discarded.
type job struct {
	seq   uint64
	text  string
	epoch uint64
	ctx   context.Context
}

// ProcessChunk feeds one fragment of streaming text into the pipeline.
// Complete sentences detected in the (filtered) text are dispatched for
// synthesis immediately. Safe to call after [Orchestrator.Interrupt]; the
// next chunk starts a new session with sequence numbers from zero.
func (o *Orchestrator) ProcessChunk(text string) {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return
	}
	speech := o.filter.Process(text)
	sentences := o.detector.AddChunk(speech)
	jobs := o.assignLocked(sentences)
	o.mu.Unlock()
	o.start(jobs)
}

// Flush signals end-of-stream: any speech retained by the filter and the
// detector's remaining buffer are dispatched as the final sentence(s).
// A stream ending inside an unterminated thinking block dispatches
// nothing: the block's content is dropped, and the buffered text before it
// stays unspoken too, since the model never finished reasoning about it.
func (o *Orchestrator) Flush() {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return
	}
	inThinking := o.filter.InThinking()
	var sentences []string
	if tail := o.filter.Flush(); tail != "" {
		sentences = o.detector.AddChunk(tail)
	}
	if !inThinking {
		if final, ok := o.detector.Flush(); ok {
			sentences = append(sentences, final)
		}
	}
	jobs := o.assignLocked(sentences)
	o.mu.Unlock()
	o.start(jobs)
}

// assignLocked gives each sentence the next sequence number and registers
// it as pending. Caller holds o.mu.
func (o *Orchestrator) assignLocked(sentences []string) []job {
	jobs := make([]job, 0, len(sentences))
	for _, text := range sentences {
		seq := o.nextSentence
		o.nextSentence++
		o.inFlight[seq] = struct{}{}
		o.dispatched = true
		jobs = append(jobs, job{seq: seq, text: text, epoch: o.epoch, ctx: o.sessionCtx})
	}
	return jobs
}

// start announces the detected sentences and launches their dispatches.
func (o *Orchestrator) start(jobs []job) {
	for _, j := range jobs {
		o.logger.Debug("sentence detected", "sequence", j.seq, "text", j.text)
		o.metrics.SentencesDetected.Add(j.ctx, 1)
		o.observer.SentenceDetected(j.seq, j.text)
		go o.dispatch(j)
	}
}

// dispatch runs one sentence through sanitize → validate → permit →
// synthesis → decode → reorder insert. Every exit path either settles the
// sequence (insert or skip) or, on cancellation, silently withdraws it.
func (o *Orchestrator) dispatch(j job) {
	ctx, cancel := context.WithCancel(j.ctx)
	defer cancel()

	text, err := synth.NormalizeText(sentence.Sanitize(j.text))
	if err != nil {
		// Rejections consume no permit and are not failures; the slot is
		// skipped so later sentences play on time.
		o.logger.Debug("sentence rejected", "sequence", j.seq, "error", err)
		o.metrics.SynthesisRequests.Add(ctx, 1,
			metric.WithAttributes(observe.Attr("status", "rejected")))
		o.settle(j, nil)
		return
	}

	if err := o.limiter.Acquire(ctx); err != nil {
		o.withdraw(j)
		return
	}
	o.metrics.InFlight.Add(ctx, 1)
	defer func() {
		o.metrics.InFlight.Add(context.Background(), -1)
		if err := o.limiter.Release(); err != nil {
			o.observer.FatalError(fmt.Errorf("pipeline: sequence %d: %w", j.seq, err))
		}
	}()

	o.observer.SynthesisStarted(j.seq, text)

	// Voice parameters are read here, not at detection time, so config
	// edits apply to every subsequent sentence.
	params := o.voices.Voice()

	begin := time.Now()
	res, err := o.backend.Synthesize(ctx, synth.Request{Text: text, Params: params})
	elapsed := time.Since(begin)

	if err != nil {
		if ctx.Err() != nil {
			o.metrics.RecordSynthesis(context.Background(), "cancelled", elapsed.Seconds())
			o.withdraw(j)
			return
		}
		o.logger.Warn("synthesis failed", "sequence", j.seq, "error", err)
		o.metrics.RecordSynthesis(ctx, "failed", elapsed.Seconds())
		o.observer.SynthesisFailed(j.seq, text, err)
		o.settle(j, nil)
		return
	}

	unit := unitFromResult(j.seq, text, res)
	if err := unit.Decode(); err != nil {
		o.logger.Warn("decoding synthesized audio failed", "sequence", j.seq, "error", err)
		o.metrics.RecordSynthesis(ctx, "failed", elapsed.Seconds())
		o.observer.SynthesisFailed(j.seq, text, fmt.Errorf("pipeline: decode: %w", err))
		o.settle(j, nil)
		return
	}

	o.metrics.RecordSynthesis(ctx, "completed", elapsed.Seconds())
	o.observer.SynthesisCompleted(j.seq, text)
	o.settle(j, unit)
}

// unitFromResult wraps a backend result for the playback path. Raw PCM
// results are playable as-is; container formats keep the encoded payload
// for [audio.Unit.Decode].
func unitFromResult(seq uint64, text string, res *synth.Result) *audio.Unit {
	unit := &audio.Unit{
		Sequence: seq,
		Text:     text,
		Duration: res.Duration,
	}
	if res.Format == synth.FormatPCM {
		unit.PCM = res.Audio
		unit.Format = audio.Format{SampleRate: res.SampleRate, Channels: res.Channels}
	} else {
		unit.Encoded = res.Audio
	}
	return unit
}

// settle records a terminal outcome for the sequence: unit != nil inserts
// the audio, nil skips the slot. Outcomes from a stale session are dropped.
func (o *Orchestrator) settle(j job, unit *audio.Unit) {
	o.mu.Lock()
	if j.epoch != o.epoch {
		o.mu.Unlock()
		return
	}
	delete(o.inFlight, j.seq)
	if unit != nil {
		o.reorder.Insert(unit)
	} else {
		o.reorder.Skip(j.seq)
	}
	o.mu.Unlock()
	o.drainReady()
	o.checkComplete()
}

// withdraw removes a cancelled dispatch without touching the reorder
// buffer. A cancelled call must leave no observable trace.
func (o *Orchestrator) withdraw(j job) {
	o.mu.Lock()
	if j.epoch == o.epoch {
		delete(o.inFlight, j.seq)
	}
	o.mu.Unlock()
}

// drainReady moves units released by the reorder buffer into the playback
// queue, preserving release order. Only one goroutine drains at a time;
// [Orchestrator.Interrupt] waits for an active drain before clearing the
// queue so stale units cannot land after the reset.
func (o *Orchestrator) drainReady() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.draining {
		return
	}
	o.draining = true
	for len(o.ready) > 0 {
		batch := o.ready
		o.ready = nil
		epoch := o.epoch
		o.mu.Unlock()

		o.metrics.QueueDepth.Add(context.Background(), int64(len(batch)))
		if err := o.queue.Enqueue(batch...); err != nil {
			o.logger.Warn("enqueueing audio failed", "error", err)
		}

		o.mu.Lock()
		if epoch != o.epoch {
			o.ready = nil
			break
		}
	}
	o.draining = false
	o.cond.Broadcast()
}

// checkComplete fires the at-most-once completion callback when the
// session has fully drained. Both the queue-empty and playback-ended
// triggers funnel through here; the completed latch prevents double fire.
// An active drain blocks firing: units already pulled out of o.ready may
// not have reached the queue yet, and the settle that started the drain
// re-checks once it finishes.
func (o *Orchestrator) checkComplete() {
	o.mu.Lock()
	fire := o.dispatched && !o.completed && !o.draining &&
		len(o.inFlight) == 0 && len(o.ready) == 0 &&
		o.queue.Depth() == 0 && !o.queue.Playing()
	if fire {
		o.completed = true
	}
	o.mu.Unlock()
	if fire {
		o.logger.Debug("session complete")
		o.observer.AllComplete()
	}
}

// Interrupt implements barge-in: it cancels every in-flight synthesis
// call, discards all buffered text and audio, stops playback, and resets
// sequence numbering so the next chunk starts a new session. Idempotent.
func (o *Orchestrator) Interrupt() {
	o.mu.Lock()
	o.epoch++
	o.sessionStop()
	o.sessionCtx, o.sessionStop = context.WithCancel(context.Background())

	// Wait out an in-progress drain so no stale unit is enqueued after the
	// queue is cleared below.
	for o.draining {
		o.cond.Wait()
	}

	clear(o.inFlight)
	o.ready = nil
	o.reorder.Reset()
	o.detector.Clear()
	o.filter.Reset()
	o.nextSentence = 0
	o.dispatched = false
	o.completed = false

	o.queue.Clear()
	o.mu.Unlock()

	o.metrics.Interrupts.Add(context.Background(), 1)
	o.logger.Info("session interrupted")
}

// Status returns a read-only snapshot of the session.
func (o *Orchestrator) Status() Status {
	o.mu.Lock()
	defer o.mu.Unlock()
	return Status{
		PendingRequests: len(o.inFlight),
		QueuedAudio:     o.queue.Depth() + len(o.ready),
		IsPlaying:       o.queue.Playing(),
		BufferedText:    o.detector.Buffered(),
	}
}

// Resume unblocks the audio device after a suspend. Some output backends
// require an explicit resume after idling.
func (o *Orchestrator) Resume() error {
	return o.queue.Resume()
}

// Close interrupts the session and releases the audio device. The
// orchestrator ignores further text.
func (o *Orchestrator) Close() error {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return nil
	}
	o.closed = true
	o.mu.Unlock()

	o.Interrupt()
	o.sessionStop()
	return o.queue.Close()
}

// queueEvents adapts playback queue notifications onto the orchestrator.
// The queue invokes these without holding its lock, so taking o.mu here is
// safe.
type queueEvents struct {
	o *Orchestrator
}

var _ playback.Listener = (*queueEvents)(nil)

func (e *queueEvents) UnitStarted(u *audio.Unit) {
	e.o.logger.Debug("playback started", "sequence", u.Sequence)
}

func (e *queueEvents) UnitFinished(u *audio.Unit) {
	e.o.metrics.QueueDepth.Add(context.Background(), -1)
	if u.Duration > 0 {
		e.o.metrics.PlaybackDuration.Record(context.Background(), u.Duration.Seconds())
	}
	e.o.checkComplete()
}

func (e *queueEvents) UnitDropped(u *audio.Unit, err error) {
	e.o.metrics.QueueDepth.Add(context.Background(), -1)
	reason := "device"
	switch {
	case errors.Is(err, playback.ErrQueueFull):
		reason = "overflow"
	case errors.Is(err, audio.ErrNoAudio):
		reason = "decode"
	}
	e.o.metrics.RecordDrop(context.Background(), reason)
	e.o.logger.Warn("audio unit dropped", "sequence", u.Sequence, "reason", reason, "error", err)
}

func (e *queueEvents) Drained() {
	e.o.checkComplete()
}
