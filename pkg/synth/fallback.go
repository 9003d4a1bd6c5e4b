package synth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// ErrAllBackendsFailed is returned by [Fallback.Synthesize] when every
// registered backend fails or is cooling down.
var ErrAllBackendsFailed = errors.New("synth: all backends failed")

// FallbackConfig tunes the per-backend failure tracking of a [Fallback].
type FallbackConfig struct {
	// MaxFailures is the number of consecutive failures before a backend
	// is put on cooldown. Default: 5.
	MaxFailures int

	// Cooldown is how long a tripped backend is skipped before it is
	// probed again. Default: 30s.
	Cooldown time.Duration

	// ProbeTimeout bounds the health probe issued when a cooled-down
	// backend implements [Prober]. Default: 2s.
	ProbeTimeout time.Duration
}

func (c FallbackConfig) withDefaults() FallbackConfig {
	if c.MaxFailures <= 0 {
		c.MaxFailures = 5
	}
	if c.Cooldown <= 0 {
		c.Cooldown = 30 * time.Second
	}
	if c.ProbeTimeout <= 0 {
		c.ProbeTimeout = 2 * time.Second
	}
	return c
}

// fallbackEntry pairs a backend with its failure state.
type fallbackEntry struct {
	name    string
	backend Backend

	consecutiveFail int
	trippedAt       time.Time
}

// Fallback implements [Backend] with automatic failover across multiple
// backends. Backends are tried in registration order; one that fails
// MaxFailures times in a row is skipped for the cooldown period. When a
// cooled-down backend implements [Prober], it is re-admitted only after a
// successful health probe.
//
// Request rejections ([RejectionError]) are returned immediately without
// failover: invalid text is invalid on every backend and must not trip
// failure counters.
//
// Fallback is safe for concurrent use.
type Fallback struct {
	cfg FallbackConfig

	mu      sync.Mutex
	entries []*fallbackEntry
}

var _ Backend = (*Fallback)(nil)

// NewFallback creates a [Fallback] with primary as the preferred backend.
func NewFallback(primaryName string, primary Backend, cfg FallbackConfig) *Fallback {
	f := &Fallback{cfg: cfg.withDefaults()}
	f.entries = append(f.entries, &fallbackEntry{name: primaryName, backend: primary})
	return f
}

// AddFallback registers an additional backend. Fallbacks are tried in the
// order they are added, after the primary.
func (f *Fallback) AddFallback(name string, backend Backend) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries = append(f.entries, &fallbackEntry{name: name, backend: backend})
}

// Synthesize tries each admissible backend in order until one succeeds.
func (f *Fallback) Synthesize(ctx context.Context, req Request) (*Result, error) {
	var lastErr error
	for _, entry := range f.snapshot() {
		if !f.admit(ctx, entry) {
			slog.Debug("skipping backend (cooling down)", "backend", entry.name)
			continue
		}
		res, err := entry.backend.Synthesize(ctx, req)
		if err == nil {
			f.recordSuccess(entry)
			return res, nil
		}
		if IsRejection(err) || ctx.Err() != nil {
			return nil, err
		}
		f.recordFailure(entry)
		slog.Warn("backend failed, trying next", "backend", entry.name, "error", err)
		lastErr = err
	}
	if lastErr == nil {
		lastErr = errors.New("no backend admissible")
	}
	return nil, fmt.Errorf("%w: %v", ErrAllBackendsFailed, lastErr)
}

// ListVoices returns the catalogue of the first backend that answers.
func (f *Fallback) ListVoices(ctx context.Context) ([]Voice, error) {
	var lastErr error
	for _, entry := range f.snapshot() {
		voices, err := entry.backend.ListVoices(ctx)
		if err == nil {
			return voices, nil
		}
		lastErr = err
	}
	return nil, fmt.Errorf("%w: %v", ErrAllBackendsFailed, lastErr)
}

func (f *Fallback) snapshot() []*fallbackEntry {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*fallbackEntry, len(f.entries))
	copy(out, f.entries)
	return out
}

// admit reports whether the entry may serve requests right now. A tripped
// entry stays skipped until its cooldown elapses; after that, a backend
// implementing [Prober] must also pass a health probe before re-admission.
func (f *Fallback) admit(ctx context.Context, entry *fallbackEntry) bool {
	f.mu.Lock()
	tripped := entry.consecutiveFail >= f.cfg.MaxFailures
	cooled := time.Since(entry.trippedAt) >= f.cfg.Cooldown
	f.mu.Unlock()

	if !tripped {
		return true
	}
	if !cooled {
		return false
	}
	prober, ok := entry.backend.(Prober)
	if !ok {
		return true
	}
	probeCtx, cancel := context.WithTimeout(ctx, f.cfg.ProbeTimeout)
	defer cancel()
	if err := prober.Healthy(probeCtx); err != nil {
		slog.Debug("backend probe failed, keeping on cooldown",
			"backend", entry.name, "error", err)
		f.mu.Lock()
		entry.trippedAt = time.Now()
		f.mu.Unlock()
		return false
	}
	return true
}

func (f *Fallback) recordSuccess(entry *fallbackEntry) {
	f.mu.Lock()
	defer f.mu.Unlock()
	entry.consecutiveFail = 0
}

func (f *Fallback) recordFailure(entry *fallbackEntry) {
	f.mu.Lock()
	defer f.mu.Unlock()
	entry.consecutiveFail++
	if entry.consecutiveFail == f.cfg.MaxFailures {
		entry.trippedAt = time.Now()
		slog.Warn("backend tripped, cooling down",
			"backend", entry.name, "cooldown", f.cfg.Cooldown)
	}
}
