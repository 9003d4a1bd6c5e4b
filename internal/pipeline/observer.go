package pipeline

// Observer receives pipeline lifecycle callbacks. All methods are invoked
// without internal locks held and may call back into the [Orchestrator].
// Callbacks for one sentence arrive in order (detected, then started, then
// completed or failed), but callbacks for different sentences interleave.
type Observer interface {
	// SentenceDetected fires when boundary detection emits a sentence and
	// it is assigned its sequence number.
	SentenceDetected(seq uint64, text string)

	// SynthesisStarted fires when a sentence's synthesis call is issued,
	// after a concurrency permit was obtained.
	SynthesisStarted(seq uint64, text string)

	// SynthesisCompleted fires when a sentence's audio arrived and decoded.
	SynthesisCompleted(seq uint64, text string)

	// SynthesisFailed fires when a sentence's synthesis or decode failed.
	// The pipeline continues; the sentence is skipped in playback order.
	SynthesisFailed(seq uint64, text string, err error)

	// AllComplete fires at most once per uninterrupted session, when no
	// synthesis is outstanding, the playback queue is empty, and nothing
	// is playing.
	AllComplete()

	// FatalError reports a broken internal invariant. The pipeline keeps
	// running but the session's behaviour is no longer guaranteed.
	FatalError(err error)
}

// NopObserver is an [Observer] that ignores every callback. Embed it to
// implement only the callbacks a consumer cares about.
type NopObserver struct{}

var _ Observer = NopObserver{}

func (NopObserver) SentenceDetected(uint64, string)        {}
func (NopObserver) SynthesisStarted(uint64, string)        {}
func (NopObserver) SynthesisCompleted(uint64, string)      {}
func (NopObserver) SynthesisFailed(uint64, string, error)  {}
func (NopObserver) AllComplete()                           {}
func (NopObserver) FatalError(error)                       {}
