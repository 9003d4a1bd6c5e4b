// Package reorder releases synthesized audio in the order the sentences
// were detected, regardless of the order synthesis finishes in.
//
// Each sentence is assigned a sequence number at detection time. Finished
// audio is handed to [Buffer.Insert]; sentences that failed or were
// rejected are marked with [Buffer.Skip] so they never block later ones.
// Whenever the next expected sequence becomes available (or skipped), the
// buffer releases a contiguous run to the emit callback.
package reorder

import "github.com/voxpipe/voxpipe/pkg/audio"

// Buffer holds out-of-order audio units until their turn comes up.
// All methods are safe for concurrent use via the owner's lock; Buffer
// itself is not synchronized because the pipeline already serializes
// access around it together with its own state.
type Buffer struct {
	emit    func([]*audio.Unit)
	pending map[uint64]*audio.Unit
	skipped map[uint64]struct{}
	next    uint64
}

// New returns an empty buffer. Released runs of units are passed to emit
// in sequence order. emit is called from the goroutine that triggered the
// release, after the buffer's own state has been updated.
func New(emit func([]*audio.Unit)) *Buffer {
	return &Buffer{
		emit:    emit,
		pending: make(map[uint64]*audio.Unit),
		skipped: make(map[uint64]struct{}),
	}
}

// Insert stores a finished unit. Units at a sequence before the release
// cursor are dropped; they belong to a slot already skipped or released.
func (b *Buffer) Insert(u *audio.Unit) {
	if u.Sequence < b.next {
		return
	}
	b.pending[u.Sequence] = u
	b.release()
}

// Skip marks a sequence as permanently absent, letting later sentences
// through. Skipping an already-released sequence is a no-op.
func (b *Buffer) Skip(seq uint64) {
	if seq < b.next {
		return
	}
	b.skipped[seq] = struct{}{}
	delete(b.pending, seq)
	b.release()
}

func (b *Buffer) release() {
	var run []*audio.Unit
	for {
		if u, ok := b.pending[b.next]; ok {
			delete(b.pending, b.next)
			run = append(run, u)
			b.next++
			continue
		}
		if _, ok := b.skipped[b.next]; ok {
			delete(b.skipped, b.next)
			b.next++
			continue
		}
		break
	}
	if len(run) > 0 {
		b.emit(run)
	}
}

// Reset discards all held units and rewinds the release cursor to zero.
func (b *Buffer) Reset() {
	clear(b.pending)
	clear(b.skipped)
	b.next = 0
}

// Pending reports how many finished units are waiting for earlier
// sequences to arrive.
func (b *Buffer) Pending() int { return len(b.pending) }

// Next returns the sequence the buffer will release next.
func (b *Buffer) Next() uint64 { return b.next }
