// Package mock provides an in-memory mock implementation of the
// [synth.Backend] interface for use in unit tests.
//
// The mock is safe for concurrent use. It records every request, tracks how
// many Synthesize calls run simultaneously, and can hold calls open on a
// gate channel so tests can verify concurrency limits and completion order.
//
// Typical usage:
//
//	backend := &mock.Backend{Gate: make(chan struct{})}
//	// ... dispatch requests ...
//	backend.Gate <- struct{}{} // let exactly one call finish
//	if got := backend.MaxActive(); got > 2 {
//	    t.Fatalf("concurrency limit exceeded: %d", got)
//	}
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/voxpipe/voxpipe/pkg/synth"
)

// Backend is a mock implementation of [synth.Backend].
// Set the exported fields before use; inspect the recorded calls after.
type Backend struct {
	mu sync.Mutex

	// SynthesizeFunc, when non-nil, fully replaces the default Synthesize
	// behaviour (gating and call recording still apply).
	SynthesizeFunc func(ctx context.Context, req synth.Request) (*synth.Result, error)

	// SynthesizeError, when non-nil, is returned by every Synthesize call.
	SynthesizeError error

	// Result is returned by Synthesize when SynthesizeFunc is nil. If both
	// are nil, a small silent PCM result is fabricated.
	Result *synth.Result

	// Gate, when non-nil, blocks each Synthesize call until the test sends
	// on it (or the call's context is cancelled). One send releases one
	// call, which lets tests finish calls in any order they choose.
	Gate chan struct{}

	// VoicesResult is returned by [Backend.ListVoices].
	VoicesResult []synth.Voice

	// VoicesError is returned by [Backend.ListVoices].
	VoicesError error

	// Calls records every Synthesize request in arrival order.
	Calls []synth.Request

	active    int
	maxActive int
}

var _ synth.Backend = (*Backend)(nil)

// Synthesize implements [synth.Backend].
func (b *Backend) Synthesize(ctx context.Context, req synth.Request) (*synth.Result, error) {
	b.mu.Lock()
	b.Calls = append(b.Calls, req)
	b.active++
	if b.active > b.maxActive {
		b.maxActive = b.active
	}
	fn := b.SynthesizeFunc
	gate := b.Gate
	errResult := b.SynthesizeError
	result := b.Result
	b.mu.Unlock()

	defer func() {
		b.mu.Lock()
		b.active--
		b.mu.Unlock()
	}()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if fn != nil {
		return fn(ctx, req)
	}
	if errResult != nil {
		return nil, errResult
	}
	if result != nil {
		out := *result
		return &out, nil
	}
	// 100ms of silence at 22050Hz mono.
	return &synth.Result{
		Audio:      make([]byte, 22050/10*2),
		Format:     synth.FormatPCM,
		SampleRate: 22050,
		Channels:   1,
		Duration:   100 * time.Millisecond,
	}, nil
}

// ListVoices implements [synth.Backend]. Returns VoicesResult.
func (b *Backend) ListVoices(ctx context.Context) ([]synth.Voice, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.VoicesError != nil {
		return nil, b.VoicesError
	}
	return b.VoicesResult, nil
}

// CallCount reports how many Synthesize calls have arrived.
func (b *Backend) CallCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.Calls)
}

// Active reports how many Synthesize calls are currently in flight.
func (b *Backend) Active() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.active
}

// MaxActive reports the highest number of Synthesize calls that were ever in
// flight simultaneously.
func (b *Backend) MaxActive() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.maxActive
}

// Texts returns the request texts in arrival order.
func (b *Backend) Texts() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, len(b.Calls))
	for i, c := range b.Calls {
		out[i] = c.Text
	}
	return out
}
