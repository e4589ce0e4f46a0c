package persistence

import (
	"context"
	"math"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/talgya/mars-colony/internal/agents"
	"github.com/talgya/mars-colony/internal/engine"
	"github.com/talgya/mars-colony/internal/simerr"
	"github.com/talgya/mars-colony/internal/simtime"
	"github.com/talgya/mars-colony/internal/social"
)

func newEngine(t *testing.T, ticks int) *engine.Engine {
	t.Helper()
	w := engine.NewWorld(engine.Options{Seed: 11, Start: simtime.SimTime{Sol: 1}}, []*social.Settlement{
		{ID: 1, Name: "Schiaparelli Point", Agenda: social.NewMissionAgenda("science", map[string]float64{agents.TaskResearchScience: 1.5})},
		{ID: 2, Name: "Hellas Outpost"},
	})
	_, err := w.Populate(1, 3, 1, 1)
	require.NoError(t, err)
	_, err = w.Populate(2, 2, 1, 0)
	require.NoError(t, err)

	e, err := engine.NewEngine(w, 5, 0)
	require.NoError(t, err)
	t.Cleanup(e.Close)
	require.NoError(t, e.RunTicks(context.Background(), ticks))
	return e
}

// gate is a snapshot source that blocks until released.
type gate struct {
	snap    *engine.Snapshot
	release chan struct{}
	calls   sync.WaitGroup
}

func newGate(snap *engine.Snapshot) *gate {
	g := &gate{snap: snap, release: make(chan struct{})}
	g.calls.Add(1)
	return g
}

func (g *gate) Snapshot(ctx context.Context) (*engine.Snapshot, error) {
	g.calls.Done()
	select {
	case <-g.release:
		return g.snap, nil
	case <-ctx.Done():
		return nil, simerr.ErrInterrupted
	}
}

type fixed struct{ snap *engine.Snapshot }

func (f fixed) Snapshot(context.Context) (*engine.Snapshot, error) { return f.snap, nil }

func restoredSnapshot(t *testing.T, snap *engine.Snapshot) *engine.Snapshot {
	t.Helper()
	w, err := engine.RestoreWorld(snap, engine.Options{})
	require.NoError(t, err)
	return w.Snapshot()
}

func TestSnapshotFileRoundTrip(t *testing.T) {
	e := newEngine(t, 250)
	e.World.Relations().SetOpinion(1, 2, 77)
	snap, err := e.Snapshot(context.Background())
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "saves", "colony.snap")
	n, err := Write(path, snap)
	require.NoError(t, err)
	assert.Positive(t, n)

	hdr, err := ReadHeader(path)
	require.NoError(t, err)
	assert.Equal(t, snap.Tick, hdr.Tick)
	assert.Equal(t, len(snap.Agents), hdr.Agents)

	got, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, snap, got)
}

func TestSQLiteRoundTrip(t *testing.T) {
	e := newEngine(t, 250)
	require.NoError(t, e.Do(context.Background(), func(w *engine.World) error { return w.Retire(3, "decompression") }))
	e.World.Relations().SetOpinion(2, 1, 12)
	snap, err := e.Snapshot(context.Background())
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "colony.db")
	_, err = Write(path, snap)
	require.NoError(t, err)

	got, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, snap.Tick, got.Tick)
	assert.Equal(t, snap.Time, got.Time)
	assert.Equal(t, restoredSnapshot(t, snap), restoredSnapshot(t, got))

	w, err := engine.RestoreWorld(got, engine.Options{})
	require.NoError(t, err)
	want, err := e.World.AllActivities(3)
	require.NoError(t, err)
	have, err := w.AllActivities(3)
	require.NoError(t, err)
	assert.Equal(t, want, have)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.snap"))
	require.ErrorIs(t, err, simerr.ErrNotFound)
	assert.False(t, Exists(filepath.Join(t.TempDir(), "nope.snap")))
}

func TestFormatFor(t *testing.T) {
	assert.Equal(t, FormatSQLite, FormatFor("a/b.db"))
	assert.Equal(t, FormatSQLite, FormatFor("a/b.SQLITE"))
	assert.Equal(t, FormatSnapshot, FormatFor("a/b.snap"))
	assert.Equal(t, FormatSnapshot, FormatFor("a/b"))
}

func TestSaveCompletes(t *testing.T) {
	e := newEngine(t, 20)
	dest := filepath.Join(t.TempDir(), "colony.snap")
	c := NewCoordinator(e, dest)

	events := make(chan SaveEvent, 2)
	p := c.RequestSave("", func(ev SaveEvent) { events <- ev })

	ev, err := p.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, SaveCompleted, ev.Kind)
	assert.Equal(t, dest, ev.Destination)
	assert.Equal(t, uint64(20), ev.Tick)
	assert.Equal(t, p.ID, ev.RequestID)

	c.Wait()
	require.Len(t, events, 1)
	assert.True(t, Exists(dest))
	assert.False(t, c.Busy())
}

func TestUnwritableDestinationFails(t *testing.T) {
	e := newEngine(t, 5)
	dir := t.TempDir()
	blocker := filepath.Join(dir, "blocker")
	require.NoError(t, os.WriteFile(blocker, []byte("not a directory"), 0o644))

	c := NewCoordinator(e, "")
	var mu sync.Mutex
	var got []SaveEvent
	p := c.RequestSave(filepath.Join(blocker, "colony.snap"), func(ev SaveEvent) {
		mu.Lock()
		got = append(got, ev)
		mu.Unlock()
	})
	ev, err := p.Wait(context.Background())
	require.ErrorIs(t, err, simerr.ErrIOFailure)
	assert.Equal(t, SaveFailed, ev.Kind)
	assert.Equal(t, "io_failure", ev.Reason)

	c.Wait()
	mu.Lock()
	assert.Len(t, got, 1)
	mu.Unlock()

	b, err := os.ReadFile(blocker)
	require.NoError(t, err)
	assert.Equal(t, "not a directory", string(b))
}

func TestFailedSaveKeepsPreviousFile(t *testing.T) {
	e := newEngine(t, 5)
	good, err := e.Snapshot(context.Background())
	require.NoError(t, err)

	dest := filepath.Join(t.TempDir(), "colony.snap")
	_, err = Write(dest, good)
	require.NoError(t, err)
	before, err := os.ReadFile(dest)
	require.NoError(t, err)

	bad := *good
	bad.Relations = []social.Opinion{{RelationKey: social.RelationKey{From: 1, To: 2}, Value: math.NaN()}}

	c := NewCoordinator(fixed{&bad}, dest)
	ev, err := c.RequestSave("", nil).Wait(context.Background())
	require.ErrorIs(t, err, simerr.ErrIOFailure)
	assert.Equal(t, SaveFailed, ev.Kind)

	after, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, before, after)

	entries, err := os.ReadDir(filepath.Dir(dest))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp file cleaned up")
}

func TestConcurrentSaveRejected(t *testing.T) {
	snap, err := newEngine(t, 5).Snapshot(context.Background())
	require.NoError(t, err)
	g := newGate(snap)
	dir := t.TempDir()
	c := NewCoordinator(g, filepath.Join(dir, "a.snap"))

	first := c.RequestSave("", nil)
	g.calls.Wait()
	assert.True(t, c.Busy())

	second := c.RequestSave(filepath.Join(dir, "b.snap"), nil)
	ev, err := second.Wait(context.Background())
	require.ErrorIs(t, err, simerr.ErrConcurrentSave)
	assert.Equal(t, SaveFailed, ev.Kind)
	assert.Equal(t, "concurrent_save_in_progress", ev.Reason)

	close(g.release)
	ev, err = first.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, SaveCompleted, ev.Kind)
	assert.False(t, Exists(filepath.Join(dir, "b.snap")))
}

func TestCallerTimeoutStillGetsOneEvent(t *testing.T) {
	snap, err := newEngine(t, 5).Snapshot(context.Background())
	require.NoError(t, err)
	g := newGate(snap)
	dest := filepath.Join(t.TempDir(), "late.snap")
	c := NewCoordinator(g, dest)

	var mu sync.Mutex
	var events []SaveEvent
	p := c.RequestSave("", func(ev SaveEvent) {
		mu.Lock()
		events = append(events, ev)
		mu.Unlock()
	})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = p.Wait(ctx)
	require.ErrorIs(t, err, simerr.ErrInterrupted)

	close(g.release)
	c.Wait()

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, events, 1)
	assert.Equal(t, SaveCompleted, events[0].Kind)
	assert.True(t, Exists(dest), "the save finished after the caller gave up")

	ev, ok := p.Event()
	require.True(t, ok)
	assert.Equal(t, SaveCompleted, ev.Kind)
}

func TestSaveAndWaitTimeout(t *testing.T) {
	snap, err := newEngine(t, 5).Snapshot(context.Background())
	require.NoError(t, err)
	g := newGate(snap)
	c := NewCoordinator(g, filepath.Join(t.TempDir(), "slow.snap"))

	_, err = c.SaveAndWait(context.Background(), "", 20*time.Millisecond)
	require.ErrorIs(t, err, simerr.ErrSaveTimeout)
	assert.Equal(t, "timeout", simerr.Reason(err))

	close(g.release)
	c.Wait()
	assert.False(t, c.Busy())
}

func TestSaveWhileTicking(t *testing.T) {
	e := newEngine(t, 0)
	var mu sync.Mutex
	var lastTick uint64
	e.OnTick(func(ev engine.TickEvent) {
		mu.Lock()
		lastTick = ev.Tick
		mu.Unlock()
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = e.RunTicks(ctx, 100000) }()
	require.Eventually(t, func() bool { return e.World.CurrentTick() > 10 }, 5*time.Second, time.Millisecond)

	dest := filepath.Join(t.TempDir(), "live.db")
	c := NewCoordinator(e, dest)
	var atSave uint64
	p := c.RequestSave("", func(SaveEvent) {
		mu.Lock()
		atSave = lastTick
		mu.Unlock()
	})
	ev, err := p.Wait(context.Background())
	require.NoError(t, err)
	cancel()
	c.Wait()

	mu.Lock()
	assert.GreaterOrEqual(t, atSave, ev.Tick, "tick notifications precede the save event")
	mu.Unlock()

	snap, err := Load(dest)
	require.NoError(t, err)
	assert.Equal(t, ev.Tick, snap.Tick)
	assert.Equal(t, ev.Time, snap.Time)
}
