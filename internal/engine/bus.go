package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// Bus delivers notifications to listeners on a single goroutine, in the order
// they were posted. Posting never blocks the caller.
type Bus struct {
	mu      sync.Mutex
	cond    *sync.Cond
	queue   []func()
	closed  bool
	drained chan struct{}
}

// NewBus starts a bus dispatcher.
func NewBus() *Bus {
	b := &Bus{drained: make(chan struct{})}
	b.cond = sync.NewCond(&b.mu)
	go b.loop()
	return b
}

// Post queues fn for delivery. Posts after Close are dropped.
func (b *Bus) Post(fn func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.queue = append(b.queue, fn)
	b.cond.Signal()
}

// Flush blocks until everything posted before the call has been delivered.
func (b *Bus) Flush(ctx context.Context) error {
	done := make(chan struct{})
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.queue = append(b.queue, func() { close(done) })
	b.cond.Signal()
	b.mu.Unlock()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close delivers what is already queued, then stops the dispatcher.
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		<-b.drained
		return
	}
	b.closed = true
	b.cond.Signal()
	b.mu.Unlock()
	<-b.drained
}

func (b *Bus) loop() {
	defer close(b.drained)
	for {
		b.mu.Lock()
		for len(b.queue) == 0 && !b.closed {
			b.cond.Wait()
		}
		if len(b.queue) == 0 {
			b.mu.Unlock()
			return
		}
		batch := b.queue
		b.queue = nil
		b.mu.Unlock()

		for _, fn := range batch {
			deliver(fn)
		}
	}
}

func deliver(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("listener panicked", "panic", fmt.Sprint(r))
		}
	}()
	fn()
}
