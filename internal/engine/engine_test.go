package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/talgya/mars-colony/internal/agents"
	"github.com/talgya/mars-colony/internal/simerr"
	"github.com/talgya/mars-colony/internal/simtime"
	"github.com/talgya/mars-colony/internal/social"
)

func newTestWorld(t *testing.T) *World {
	t.Helper()
	w := NewWorld(Options{Seed: 7, Start: simtime.SimTime{Sol: 1}}, []*social.Settlement{
		{ID: 1, Name: "Schiaparelli Point", Agenda: social.NewMissionAgenda("science", map[string]float64{agents.TaskResearchScience: 1.5})},
		{ID: 2, Name: "Hellas Outpost"},
	})
	_, err := w.Populate(1, 3, 1, 1)
	require.NoError(t, err)
	_, err = w.Populate(2, 2, 1, 0)
	require.NoError(t, err)
	return w
}

func newTestEngine(t *testing.T, w *World, tick float64) *Engine {
	t.Helper()
	e, err := NewEngine(w, tick, 0)
	require.NoError(t, err)
	t.Cleanup(e.Close)
	return e
}

func TestNewEngineValidates(t *testing.T) {
	w := newTestWorld(t)
	_, err := NewEngine(w, 0, 0)
	require.ErrorIs(t, err, simerr.ErrInvalidArgument)
	_, err = NewEngine(nil, 1, 0)
	require.ErrorIs(t, err, simerr.ErrInvalidArgument)
}

func TestRunTicksAdvancesTimeAndNotifiesInOrder(t *testing.T) {
	w := newTestWorld(t)
	e := newTestEngine(t, w, 10)

	var mu sync.Mutex
	var seen []uint64
	e.OnTick(func(ev TickEvent) {
		mu.Lock()
		seen = append(seen, ev.Tick)
		mu.Unlock()
	})

	require.NoError(t, e.RunTicks(context.Background(), 150))
	require.NoError(t, e.Flush(context.Background()))

	assert.Equal(t, uint64(150), w.CurrentTick())
	assert.Equal(t, simtime.SimTime{Sol: 2, Millisol: 500}, w.CurrentTime())

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, seen, 150)
	for i, tick := range seen {
		assert.Equal(t, uint64(i+1), tick)
	}
}

func TestAgentsRecordActivities(t *testing.T) {
	w := newTestWorld(t)
	e := newTestEngine(t, w, 5)
	require.NoError(t, e.RunTicks(context.Background(), 400))

	for _, sum := range w.View().Agents {
		all, err := w.AllActivities(sum.ID)
		require.NoError(t, err)
		assert.Contains(t, all, uint64(1))
		assert.Contains(t, all, uint64(2))

		for _, day := range all {
			for j := 1; j < len(day); j++ {
				assert.LessOrEqual(t, day[j-1].StartTime, day[j].StartTime)
			}
		}
	}

	var busy bool
	for _, sum := range w.View().Agents {
		day, err := w.QueryActivities(sum.ID, 1)
		require.NoError(t, err)
		busy = busy || len(day) > 0
	}
	assert.True(t, busy, "someone worked on sol 1")

	_, err := w.QueryActivities(1, 999)
	require.ErrorIs(t, err, simerr.ErrNotFound)
	_, err = w.QueryActivities(999, 1)
	require.ErrorIs(t, err, simerr.ErrNotFound)
}

func TestRecordActivityOnCurrentSol(t *testing.T) {
	w := newTestWorld(t)
	require.NoError(t, w.RecordActivity(1, agents.OneActivity{StartTime: 0, Description: "Briefing", Phase: "Listening"}))
	day, err := w.QueryActivities(1, 1)
	require.NoError(t, err)
	assert.Equal(t, "Briefing", day[0].Description)
}

func TestPauseHoldsRunTicks(t *testing.T) {
	w := newTestWorld(t)
	e := newTestEngine(t, w, 1)
	e.Pause()

	done := make(chan error, 1)
	go func() { done <- e.RunTicks(context.Background(), 10) }()

	select {
	case <-done:
		t.Fatal("RunTicks returned while paused")
	case <-time.After(50 * time.Millisecond):
	}
	assert.Zero(t, w.CurrentTick())

	e.Resume()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("RunTicks did not resume")
	}
	assert.Equal(t, uint64(10), w.CurrentTick())
}

func TestRunTicksCancelledWhilePaused(t *testing.T) {
	e := newTestEngine(t, newTestWorld(t), 1)
	e.Pause()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := e.RunTicks(ctx, 5)
	require.ErrorIs(t, err, simerr.ErrInterrupted)
}

func TestRunStopsOnStop(t *testing.T) {
	e := newTestEngine(t, newTestWorld(t), 1)
	e.Interval = time.Millisecond

	done := make(chan error, 1)
	go func() { done <- e.Run(context.Background()) }()

	require.Eventually(t, func() bool { return e.World.CurrentTick() > 3 }, 5*time.Second, time.Millisecond)
	e.Stop()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not stop")
	}
	assert.False(t, e.Running())
}

func TestSnapshotFlushesEarlierTicks(t *testing.T) {
	w := newTestWorld(t)
	e := newTestEngine(t, w, 2)

	var mu sync.Mutex
	var delivered uint64
	e.OnTick(func(ev TickEvent) {
		time.Sleep(time.Millisecond)
		mu.Lock()
		delivered = ev.Tick
		mu.Unlock()
	})

	ctx := context.Background()
	go func() { _ = e.RunTicks(ctx, 200) }()
	require.Eventually(t, func() bool { return w.CurrentTick() > 20 }, 5*time.Second, time.Millisecond)

	snap, err := e.Snapshot(ctx)
	require.NoError(t, err)

	mu.Lock()
	got := delivered
	mu.Unlock()
	assert.GreaterOrEqual(t, got, snap.Tick, "tick notifications up to the snapshot are delivered first")
}

func TestSnapshotRestoreRoundTrip(t *testing.T) {
	w := newTestWorld(t)
	e := newTestEngine(t, w, 7)
	require.NoError(t, e.RunTicks(context.Background(), 300))
	w.Relations().SetOpinion(1, 2, 80)

	snap, err := e.Snapshot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, SnapshotVersion, snap.Version)
	assert.Len(t, snap.Agents, len(w.View().Agents))
	assert.Len(t, snap.Agents, 8)

	restored, err := RestoreWorld(snap, Options{})
	require.NoError(t, err)
	assert.Equal(t, snap, restored.Snapshot())
	assert.Equal(t, w.CurrentTime(), restored.CurrentTime())
	assert.Equal(t, float64(80), restored.Relations().Opinion(1, 2))

	_, err = RestoreWorld(&Snapshot{Version: 99}, Options{})
	require.ErrorIs(t, err, simerr.ErrInvalidArgument)
}

func TestInterruptAndRetire(t *testing.T) {
	w := newTestWorld(t)
	e := newTestEngine(t, w, 5)
	ctx := context.Background()
	require.NoError(t, e.RunTicks(ctx, 3))

	require.NoError(t, e.Interrupt(ctx, 1, "dust storm alarm"))
	tm, err := w.TaskManager(1)
	require.NoError(t, err)
	assert.Equal(t, agents.StateInterrupted, tm.Status().State)

	require.ErrorIs(t, e.Interrupt(ctx, 404, "x"), simerr.ErrNotFound)

	require.NoError(t, e.Do(ctx, func(w *World) error { return w.Retire(2, "decompression") }))
	assert.Equal(t, 1, w.View().Stats.Deaths)
	require.ErrorIs(t, w.Retire(2, "again"), simerr.ErrInvalidArgument)

	before, err := w.AllActivities(2)
	require.NoError(t, err)
	require.NoError(t, e.RunTicks(ctx, 50))
	after, err := w.AllActivities(2)
	require.NoError(t, err)
	assert.Equal(t, before, after, "a retired agent's ledger stays readable and unchanged")
}

func TestRetiredLedgerEndsAtDeathSol(t *testing.T) {
	w := newTestWorld(t)
	e := newTestEngine(t, w, 5)
	ctx := context.Background()
	require.NoError(t, e.RunTicks(ctx, 3))
	require.NoError(t, e.Do(ctx, func(w *World) error { return w.Retire(2, "decompression") }))

	require.NoError(t, e.RunTicks(ctx, 250))
	require.Equal(t, uint64(2), w.CurrentTime().Sol)

	_, err := w.QueryActivities(2, 1)
	require.NoError(t, err, "the death sol stays readable")
	_, err = w.QueryActivities(2, 2)
	assert.ErrorIs(t, err, simerr.ErrNotFound, "sols simulated after death were never opened")
	_, err = w.QueryActivities(1, 2)
	assert.NoError(t, err)
}

func TestSetSpeed(t *testing.T) {
	e := newTestEngine(t, newTestWorld(t), 1)
	require.ErrorIs(t, e.SetSpeed(0), simerr.ErrInvalidArgument)
	require.ErrorIs(t, e.SetSpeed(-2), simerr.ErrInvalidArgument)
	require.NoError(t, e.SetSpeed(4))
	assert.Equal(t, 4.0, e.Speed())
}

func TestUnsubscribe(t *testing.T) {
	e := newTestEngine(t, newTestWorld(t), 1)
	var mu sync.Mutex
	n := 0
	unsub := e.OnTick(func(TickEvent) { mu.Lock(); n++; mu.Unlock() })
	ctx := context.Background()
	require.NoError(t, e.RunTicks(ctx, 3))
	require.NoError(t, e.Flush(ctx))
	unsub()
	require.NoError(t, e.RunTicks(ctx, 3))
	require.NoError(t, e.Flush(ctx))
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 3, n)
}

func TestFlushFromListenerWaitsForItsContext(t *testing.T) {
	e := newTestEngine(t, newTestWorld(t), 1)
	errs := make(chan error, 1)
	var once sync.Once
	e.OnTick(func(TickEvent) {
		once.Do(func() {
			ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
			defer cancel()
			errs <- e.Flush(ctx)
		})
	})

	ctx := context.Background()
	require.NoError(t, e.RunTicks(ctx, 2))
	select {
	case err := <-errs:
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	case <-time.After(5 * time.Second):
		t.Fatal("listener never returned")
	}
	require.NoError(t, e.Flush(ctx), "delivery resumes once the listener gives up")
}

func TestBusSurvivesPanickingListener(t *testing.T) {
	b := NewBus()
	defer b.Close()

	var got []int
	b.Post(func() { got = append(got, 1) })
	b.Post(func() { panic("boom") })
	b.Post(func() { got = append(got, 2) })
	require.NoError(t, b.Flush(context.Background()))
	assert.Equal(t, []int{1, 2}, got)
}

func TestColonyExercisesEveryPersonTask(t *testing.T) {
	w := newTestWorld(t)
	e := newTestEngine(t, w, 5)
	require.NoError(t, e.RunTicks(context.Background(), 20*200)) // 20 sols

	seen := make(map[string]int)
	for _, sum := range w.View().Agents {
		all, err := w.AllActivities(sum.ID)
		require.NoError(t, err)
		for _, day := range all {
			for _, act := range day {
				seen[act.Description]++
			}
		}
	}
	cat := agents.DefaultCatalog()
	for _, task := range cat.ForKind(agents.KindPerson) {
		assert.Positive(t, seen[task.Name], "%s never chosen: %v", task.Name, seen)
	}
	assert.NotEmpty(t, w.Relations().Export(), "settlement mates talk to each other")
}
