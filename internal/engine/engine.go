// Package engine provides the world model and the tick loop that drives it.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/talgya/mars-colony/internal/agents"
	"github.com/talgya/mars-colony/internal/simerr"
	"github.com/talgya/mars-colony/internal/simtime"
)

// TickEvent is the tick-complete notification.
type TickEvent struct {
	Tick     uint64          `json:"tick"`
	Time     simtime.SimTime `json:"time"`
	Alive    int             `json:"alive"`
	Duration time.Duration   `json:"duration_ns"`
}

// Engine drives a World forward one tick at a time. Only one tick runs at
// once; Do and Snapshot wait for the in-flight tick and then run before the
// next one starts.
type Engine struct {
	World         *World
	TickMillisols float64       // simulated time per tick
	Interval      time.Duration // wall time per tick at speed 1.0

	speed   atomic.Uint64 // float64 bits
	paused  atomic.Bool
	running atomic.Bool

	// step is a one-slot semaphore held for the duration of every tick and
	// every boundary operation.
	step chan struct{}

	bus       *Bus
	lmu       sync.Mutex
	listeners map[int]func(TickEvent)
	nextL     int

	wake     chan struct{}
	stop     chan struct{}
	stopOnce sync.Once
}

// NewEngine creates an engine for w. tickMillisols must be positive.
func NewEngine(w *World, tickMillisols float64, interval time.Duration) (*Engine, error) {
	if w == nil {
		return nil, fmt.Errorf("engine: nil world: %w", simerr.ErrInvalidArgument)
	}
	if !(tickMillisols > 0) || math.IsInf(tickMillisols, 0) {
		return nil, fmt.Errorf("engine: tick size %v: %w", tickMillisols, simerr.ErrInvalidArgument)
	}
	if interval < 0 {
		return nil, fmt.Errorf("engine: interval %v: %w", interval, simerr.ErrInvalidArgument)
	}
	e := &Engine{
		World:         w,
		TickMillisols: tickMillisols,
		Interval:      interval,
		step:          make(chan struct{}, 1),
		bus:           NewBus(),
		listeners:     make(map[int]func(TickEvent)),
		wake:          make(chan struct{}, 1),
		stop:          make(chan struct{}),
	}
	e.speed.Store(math.Float64bits(1.0))
	return e, nil
}

// OnTick registers a tick-complete listener and returns a function that
// removes it. Listeners run on the notification goroutine, never on the tick
// loop, in tick order.
//
// Snapshot, Flush and persistence's SaveAndWait wait for that same goroutine,
// so a listener calling them blocks delivery until its context expires. Use
// the coordinator's RequestSave from a listener instead.
func (e *Engine) OnTick(fn func(TickEvent)) (unsubscribe func()) {
	e.lmu.Lock()
	id := e.nextL
	e.nextL++
	e.listeners[id] = fn
	e.lmu.Unlock()
	return func() {
		e.lmu.Lock()
		delete(e.listeners, id)
		e.lmu.Unlock()
	}
}

// Run starts the paced simulation loop. Blocks until ctx is done or Stop is
// called.
func (e *Engine) Run(ctx context.Context) error {
	if !e.running.CompareAndSwap(false, true) {
		return fmt.Errorf("engine already running: %w", simerr.ErrInvalidArgument)
	}
	defer e.running.Store(false)

	slog.Info("simulation engine started", "tick", e.World.CurrentTick(), "time", e.World.CurrentTime().String(), "speed", e.Speed())

	for {
		if e.paused.Load() {
			if !e.waitResume(ctx) {
				break
			}
			continue
		}

		start := time.Now()
		if _, err := e.Step(ctx); err != nil {
			if errors.Is(err, simerr.ErrInterrupted) {
				break
			}
			return err
		}

		// Sleep for the remainder of the tick interval, adjusted for speed.
		elapsed := time.Since(start)
		target := time.Duration(float64(e.Interval) / e.Speed())
		if elapsed < target && !e.sleep(ctx, target-elapsed) {
			break
		}
	}

	slog.Info("simulation engine stopped", "tick", e.World.CurrentTick(), "time", e.World.CurrentTime().String())
	return nil
}

// RunTicks runs exactly n ticks as fast as possible, then returns. A pause
// holds it at the next tick boundary until Resume.
func (e *Engine) RunTicks(ctx context.Context, n int) error {
	for i := 0; i < n; i++ {
		for e.paused.Load() {
			if !e.waitResume(ctx) {
				return fmt.Errorf("run ticks stopped after %d of %d: %w", i, n, simerr.ErrInterrupted)
			}
		}
		if _, err := e.Step(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Step runs one tick and queues its notification. The notification is
// queued before the tick boundary is released, so a snapshot taken after
// this tick always flushes it first.
func (e *Engine) Step(ctx context.Context) (TickEvent, error) {
	if err := e.acquire(ctx); err != nil {
		return TickEvent{}, err
	}
	defer e.release()

	start := time.Now()
	prev := e.World.CurrentTime()
	now, err := e.World.Step(e.TickMillisols)
	if err != nil {
		return TickEvent{}, fmt.Errorf("tick: %w", err)
	}
	view := e.World.View()

	ev := TickEvent{Tick: view.Tick, Time: now, Alive: view.Stats.People + view.Stats.Robots + view.Stats.Vehicles, Duration: time.Since(start)}
	if now.Sol != prev.Sol {
		slog.Info("sol complete", "sol", prev.Sol, "tick", ev.Tick, "people", view.Stats.People, "robots", view.Stats.Robots, "vehicles", view.Stats.Vehicles, "deaths", view.Stats.Deaths)
	}
	e.publish(ev)
	return ev, nil
}

func (e *Engine) publish(ev TickEvent) {
	e.lmu.Lock()
	fns := make([]func(TickEvent), 0, len(e.listeners))
	for i := 0; i < e.nextL; i++ {
		if fn, ok := e.listeners[i]; ok {
			fns = append(fns, fn)
		}
	}
	e.lmu.Unlock()
	if len(fns) == 0 {
		return
	}
	e.bus.Post(func() {
		for _, fn := range fns {
			deliver(func() { fn(ev) })
		}
	})
}

// Do runs fn at a tick boundary: after the in-flight tick finishes and
// before the next one starts.
func (e *Engine) Do(ctx context.Context, fn func(w *World) error) error {
	if err := e.acquire(ctx); err != nil {
		return err
	}
	defer e.release()
	return fn(e.World)
}

// Snapshot copies the world at a tick boundary, then waits until every
// tick-complete notification up to that tick has been delivered.
func (e *Engine) Snapshot(ctx context.Context) (*Snapshot, error) {
	var snap *Snapshot
	err := e.Do(ctx, func(w *World) error {
		snap = w.Snapshot()
		return nil
	})
	if err != nil {
		return nil, err
	}
	if err := e.Flush(ctx); err != nil {
		return nil, fmt.Errorf("flush notifications: %w", simerr.ErrInterrupted)
	}
	return snap, nil
}

// Flush waits for queued notifications to be delivered.
func (e *Engine) Flush(ctx context.Context) error {
	return e.bus.Flush(ctx)
}

// Interrupt overrides an agent's current task at the next tick boundary.
func (e *Engine) Interrupt(ctx context.Context, id agents.AgentID, reason string) error {
	return e.Do(ctx, func(w *World) error {
		tm, err := w.TaskManager(id)
		if err != nil {
			return err
		}
		tm.Interrupt(reason)
		slog.Info("task interrupted", "agent", id, "reason", reason)
		return nil
	})
}

// Pause suspends the loop at the next tick boundary.
func (e *Engine) Pause() {
	if !e.paused.Swap(true) {
		slog.Info("simulation paused", "tick", e.World.CurrentTick())
	}
}

// Resume continues a paused loop.
func (e *Engine) Resume() {
	if e.paused.Swap(false) {
		slog.Info("simulation resumed", "tick", e.World.CurrentTick())
	}
	select {
	case e.wake <- struct{}{}:
	default:
	}
}

// Paused reports whether the loop is paused.
func (e *Engine) Paused() bool { return e.paused.Load() }

// Running reports whether Run is active.
func (e *Engine) Running() bool { return e.running.Load() }

// SetSpeed sets the wall-clock multiplier. Must be positive.
func (e *Engine) SetSpeed(s float64) error {
	if !(s > 0) || math.IsInf(s, 0) {
		return fmt.Errorf("speed %v: %w", s, simerr.ErrInvalidArgument)
	}
	e.speed.Store(math.Float64bits(s))
	slog.Info("speed changed", "speed", s)
	return nil
}

// Speed returns the wall-clock multiplier.
func (e *Engine) Speed() float64 {
	return math.Float64frombits(e.speed.Load())
}

// Stop halts Run and RunTicks at the next tick boundary.
func (e *Engine) Stop() {
	e.stopOnce.Do(func() { close(e.stop) })
}

// Close stops the engine and drains pending notifications.
func (e *Engine) Close() {
	e.Stop()
	e.bus.Close()
}

func (e *Engine) acquire(ctx context.Context) error {
	select {
	case <-e.stop:
		return fmt.Errorf("engine stopped: %w", simerr.ErrInterrupted)
	default:
	}
	select {
	case e.step <- struct{}{}:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for tick boundary: %w", simerr.ErrInterrupted)
	case <-e.stop:
		return fmt.Errorf("engine stopped: %w", simerr.ErrInterrupted)
	}
}

func (e *Engine) release() { <-e.step }

// waitResume blocks until Resume, Stop or ctx. Returns false when the loop
// should exit.
func (e *Engine) waitResume(ctx context.Context) bool {
	select {
	case <-e.wake:
		return true
	case <-ctx.Done():
		return false
	case <-e.stop:
		return false
	}
}

func (e *Engine) sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	case <-e.stop:
		return false
	}
}
