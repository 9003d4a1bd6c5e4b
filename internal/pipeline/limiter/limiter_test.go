package limiter

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestAcquireRelease(t *testing.T) {
	l := New(2)
	ctx := context.Background()

	if err := l.Acquire(ctx); err != nil {
		t.Fatalf("first acquire: %v", err)
	}
	if err := l.Acquire(ctx); err != nil {
		t.Fatalf("second acquire: %v", err)
	}
	if got := l.Active(); got != 2 {
		t.Errorf("active: got %d, want 2", got)
	}
	if err := l.Release(); err != nil {
		t.Fatalf("release: %v", err)
	}
	if got := l.Active(); got != 1 {
		t.Errorf("active after release: got %d, want 1", got)
	}
}

func TestOverRelease(t *testing.T) {
	l := New(1)
	if err := l.Release(); !errors.Is(err, ErrOverRelease) {
		t.Fatalf("expected ErrOverRelease, got %v", err)
	}
	// A legitimate cycle still works afterwards.
	if err := l.Acquire(context.Background()); err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if err := l.Release(); err != nil {
		t.Fatalf("release: %v", err)
	}
	if err := l.Release(); !errors.Is(err, ErrOverRelease) {
		t.Fatalf("expected ErrOverRelease on second release, got %v", err)
	}
}

func TestCapacityNeverExceeded(t *testing.T) {
	const capacity = 2
	const workers = 5
	l := New(capacity)

	var active, maxActive atomic.Int32
	var wg sync.WaitGroup
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := l.Acquire(context.Background()); err != nil {
				t.Errorf("acquire: %v", err)
				return
			}
			n := active.Add(1)
			for {
				old := maxActive.Load()
				if n <= old || maxActive.CompareAndSwap(old, n) {
					break
				}
			}
			time.Sleep(10 * time.Millisecond)
			active.Add(-1)
			if err := l.Release(); err != nil {
				t.Errorf("release: %v", err)
			}
		}()
	}
	wg.Wait()

	if got := maxActive.Load(); got > capacity {
		t.Errorf("max simultaneous holders: got %d, want <= %d", got, capacity)
	}
	if got := l.Active(); got != 0 {
		t.Errorf("active after drain: got %d, want 0", got)
	}
}

func TestFIFOOrder(t *testing.T) {
	l := New(1)
	ctx := context.Background()
	if err := l.Acquire(ctx); err != nil {
		t.Fatalf("acquire: %v", err)
	}

	const waiters = 4
	order := make(chan int, waiters)
	var wg sync.WaitGroup
	for i := range waiters {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := l.Acquire(ctx); err != nil {
				t.Errorf("waiter %d: %v", i, err)
				return
			}
			order <- i
			if err := l.Release(); err != nil {
				t.Errorf("waiter %d release: %v", i, err)
			}
		}()
		// Give each goroutine time to enqueue before the next, so arrival
		// order is deterministic.
		for l.Waiting() != i+1 {
			time.Sleep(time.Millisecond)
		}
	}

	if err := l.Release(); err != nil {
		t.Fatalf("release: %v", err)
	}
	wg.Wait()
	close(order)

	want := 0
	for got := range order {
		if got != want {
			t.Fatalf("FIFO violated: got waiter %d, want %d", got, want)
		}
		want++
	}
	if want != waiters {
		t.Fatalf("only %d waiters completed", want)
	}
}

func TestAcquireCancelled(t *testing.T) {
	l := New(1)
	if err := l.Acquire(context.Background()); err != nil {
		t.Fatalf("acquire: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- l.Acquire(ctx)
	}()
	for l.Waiting() != 1 {
		time.Sleep(time.Millisecond)
	}
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("cancelled acquire did not return")
	}
	if got := l.Waiting(); got != 0 {
		t.Errorf("waiter leaked: %d", got)
	}

	// The held permit is unaffected.
	if got := l.Active(); got != 1 {
		t.Errorf("active: got %d, want 1", got)
	}
	if err := l.Release(); err != nil {
		t.Fatalf("release: %v", err)
	}
}

func TestMinimumCapacity(t *testing.T) {
	l := New(0)
	if got := l.Capacity(); got != 1 {
		t.Errorf("capacity: got %d, want 1", got)
	}
}
