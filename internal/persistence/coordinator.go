package persistence

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"

	"github.com/talgya/mars-colony/internal/engine"
	"github.com/talgya/mars-colony/internal/simerr"
	"github.com/talgya/mars-colony/internal/simtime"
)

// EventKind is the terminal outcome of a save request.
type EventKind string

const (
	SaveCompleted EventKind = "SAVE_COMPLETED"
	SaveFailed    EventKind = "SAVE_FAILED"
)

// SaveEvent is delivered exactly once per save request.
type SaveEvent struct {
	RequestID   string          `json:"request_id"`
	Kind        EventKind       `json:"kind"`
	Destination string          `json:"destination"`
	Tick        uint64          `json:"tick,omitempty"`
	Time        simtime.SimTime `json:"time"`
	Bytes       int64           `json:"bytes,omitempty"`
	Duration    time.Duration   `json:"duration_ns"`
	Reason      string          `json:"reason,omitempty"`
	Err         error           `json:"-"`
}

// Listener receives a save's terminal event. It runs on the save worker,
// never on the tick loop.
type Listener func(SaveEvent)

// SnapshotSource produces a consistent snapshot at a tick boundary.
// *engine.Engine satisfies it.
type SnapshotSource interface {
	Snapshot(ctx context.Context) (*engine.Snapshot, error)
}

// Coordinator runs saves off the tick loop, one at a time. A request made
// while another save is pending is rejected with SAVE_FAILED
// (concurrent_save_in_progress).
type Coordinator struct {
	source      SnapshotSource
	defaultDest string

	// SnapshotTimeout bounds how long a save waits for a tick boundary.
	SnapshotTimeout time.Duration

	mu      sync.Mutex
	pending *PendingSave
	wg      sync.WaitGroup
}

// NewCoordinator creates a coordinator. defaultDest is used when a request
// names no destination.
func NewCoordinator(src SnapshotSource, defaultDest string) *Coordinator {
	return &Coordinator{
		source:          src,
		defaultDest:     defaultDest,
		SnapshotTimeout: time.Minute,
	}
}

// PendingSave is the single-resolution result of one save request.
type PendingSave struct {
	ID string

	once      sync.Once
	done      chan struct{}
	event     SaveEvent
	listener  Listener
	abandoned atomic.Bool
}

func newPending(l Listener) *PendingSave {
	return &PendingSave{ID: uuid.NewString(), done: make(chan struct{}), listener: l}
}

// Done is closed once the terminal event exists.
func (p *PendingSave) Done() <-chan struct{} { return p.done }

// Event returns the terminal event, if resolved.
func (p *PendingSave) Event() (SaveEvent, bool) {
	select {
	case <-p.done:
		return p.event, true
	default:
		return SaveEvent{}, false
	}
}

// Wait blocks until the save resolves or ctx ends. Giving up does not cancel
// the save; its event is still delivered to the listener later.
func (p *PendingSave) Wait(ctx context.Context) (SaveEvent, error) {
	select {
	case <-p.done:
		return p.event, p.event.Err
	case <-ctx.Done():
		p.abandoned.Store(true)
		// The event may have landed while we were giving up.
		select {
		case <-p.done:
			return p.event, p.event.Err
		default:
		}
		return SaveEvent{RequestID: p.ID}, fmt.Errorf("save %s: %v: %w", p.ID, ctx.Err(), simerr.ErrInterrupted)
	}
}

// resolve records the event and notifies the listener. Only the first call
// has any effect.
func (p *PendingSave) resolve(ev SaveEvent) {
	p.once.Do(func() {
		ev.RequestID = p.ID
		p.event = ev
		close(p.done)

		if p.abandoned.Load() {
			slog.Warn("save finished after caller stopped waiting", "request", p.ID, "kind", ev.Kind, "destination", ev.Destination, "reason", ev.Reason)
		}
		if p.listener != nil {
			func() {
				defer func() {
					if r := recover(); r != nil {
						slog.Error("save listener panicked", "request", p.ID, "panic", fmt.Sprint(r))
					}
				}()
				p.listener(ev)
			}()
		}
	})
}

// RequestSave starts a save and returns immediately. The listener receives
// exactly one SaveEvent from another goroutine.
func (c *Coordinator) RequestSave(dest string, l Listener) *PendingSave {
	if dest == "" {
		dest = c.defaultDest
	}
	p := newPending(l)

	c.mu.Lock()
	if c.pending != nil {
		busy := c.pending.ID
		c.mu.Unlock()
		err := fmt.Errorf("save %s still running: %w", busy, simerr.ErrConcurrentSave)
		slog.Warn("save rejected", "request", p.ID, "destination", dest, "pending", busy)
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			p.resolve(failure(dest, err, 0))
		}()
		return p
	}
	c.pending = p
	c.wg.Add(1)
	c.mu.Unlock()

	go func() {
		defer c.wg.Done()
		ev := c.run(p.ID, dest)

		c.mu.Lock()
		c.pending = nil
		c.mu.Unlock()

		p.resolve(ev)
	}()
	return p
}

// SaveAndWait requests a save and waits up to timeout for it. On timeout it
// returns ErrSaveTimeout while the save keeps running.
func (c *Coordinator) SaveAndWait(ctx context.Context, dest string, timeout time.Duration) (SaveEvent, error) {
	p := c.RequestSave(dest, nil)

	wctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ev, err := p.Wait(wctx)
	if err != nil && !p.resolved() && ctx.Err() == nil {
		return ev, fmt.Errorf("save %s not finished after %s: %w", p.ID, timeout, simerr.ErrSaveTimeout)
	}
	return ev, err
}

func (p *PendingSave) resolved() bool {
	_, ok := p.Event()
	return ok
}

// Busy reports whether a save is in progress.
func (c *Coordinator) Busy() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pending != nil
}

// Wait blocks until every started save has resolved.
func (c *Coordinator) Wait() {
	c.wg.Wait()
}

func (c *Coordinator) run(id, dest string) SaveEvent {
	start := time.Now()

	ctx, cancel := context.WithTimeout(context.Background(), c.SnapshotTimeout)
	defer cancel()

	snap, err := c.source.Snapshot(ctx)
	if err != nil {
		slog.Error("save snapshot failed", "request", id, "error", err)
		return failure(dest, err, time.Since(start))
	}

	n, err := Write(dest, snap)
	if err != nil {
		slog.Error("save failed", "request", id, "destination", dest, "error", err)
		ev := failure(dest, err, time.Since(start))
		ev.Tick = snap.Tick
		ev.Time = snap.Time
		return ev
	}

	d := time.Since(start)
	slog.Info("world saved", "request", id, "destination", dest, "tick", snap.Tick, "time", snap.Time.String(),
		"agents", len(snap.Agents), "size", humanize.Bytes(uint64(n)), "took", d.Round(time.Millisecond))
	return SaveEvent{
		Kind:        SaveCompleted,
		Destination: dest,
		Tick:        snap.Tick,
		Time:        snap.Time,
		Bytes:       n,
		Duration:    d,
	}
}

func failure(dest string, err error, d time.Duration) SaveEvent {
	return SaveEvent{
		Kind:        SaveFailed,
		Destination: dest,
		Duration:    d,
		Reason:      simerr.Reason(err),
		Err:         err,
	}
}
