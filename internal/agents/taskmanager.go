package agents

import (
	"fmt"
	"log/slog"
	"sync"
)

// State is the task state machine's state.
type State uint8

const (
	StateIdle State = iota
	StateSelecting
	StateExecuting
	StateInterrupted
	StateCompleted
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateSelecting:
		return "selecting"
	case StateExecuting:
		return "executing"
	case StateInterrupted:
		return "interrupted"
	case StateCompleted:
		return "completed"
	default:
		return fmt.Sprintf("state(%d)", uint8(s))
	}
}

// TaskManager runs one agent's task state machine:
//
//	Idle/Completed -> Selecting        a task is chosen on the next tick
//	Selecting      -> Executing(0)     preconditions hold when execution begins
//	Selecting      -> Idle             preconditions failed; nothing is recorded
//	Executing(p)   -> Executing(p+1)   phase p finished
//	Executing(last)-> Completed        final phase finished
//	any            -> Interrupted      external override
//	Interrupted    -> Idle             next tick
//
// Entering Executing(p) records one OneActivity in the agent's ledger.
// Step is called only from the tick loop; Interrupt and Status may be called
// from any goroutine.
type TaskManager struct {
	catalog *Catalog
	scorer  Scorer
	ledger  *Ledger

	mu        sync.Mutex
	state     State
	task      *TaskDef
	candidate *TaskDef
	phase     int
	elapsed   float64 // millisols spent in the current phase
	reason    string  // why the last interrupt happened
}

// NewTaskManager creates an idle task manager. A nil scorer means HighestScore.
func NewTaskManager(catalog *Catalog, scorer Scorer, ledger *Ledger) *TaskManager {
	if scorer == nil {
		scorer = HighestScore
	}
	return &TaskManager{catalog: catalog, scorer: scorer, ledger: ledger}
}

// Ledger returns the agent's activity ledger.
func (tm *TaskManager) Ledger() *Ledger {
	return tm.ledger
}

// AllActivities returns every held sol of the agent's activity history.
func (tm *TaskManager) AllActivities() map[uint64][]OneActivity {
	return tm.ledger.AllSols()
}

// Status is a point-in-time view of the state machine.
type Status struct {
	State  State  `json:"-"`
	Name   string `json:"state"`
	Task   string `json:"task,omitempty"`
	Phase  string `json:"phase,omitempty"`
	Reason string `json:"reason,omitempty"`
}

// Status returns the current state, task and phase.
func (tm *TaskManager) Status() Status {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	st := Status{State: tm.state, Name: tm.state.String(), Reason: tm.reason}
	if tm.task != nil {
		st.Task = tm.task.Name
		st.Phase = tm.task.Phases[tm.phase].Name
	} else if tm.candidate != nil {
		st.Task = tm.candidate.Name
	}
	return st
}

// Interrupt forces the state machine into Interrupted. The current task is
// abandoned; the agent returns to Idle on its next step.
func (tm *TaskManager) Interrupt(reason string) {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	tm.state = StateInterrupted
	tm.task = nil
	tm.candidate = nil
	tm.phase = 0
	tm.elapsed = 0
	tm.reason = reason
}

// Step advances the state machine by one tick.
func (tm *TaskManager) Step(a *Agent, env *Env) {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	tm.ledger.Advance(env.Now.Sol)

	switch tm.state {
	case StateInterrupted:
		tm.state = StateIdle
	case StateIdle, StateCompleted:
		tm.selectLocked(a, env)
	case StateSelecting:
		tm.beginLocked(a, env)
	case StateExecuting:
		tm.executeLocked(a, env)
	}
}

func (tm *TaskManager) selectLocked(a *Agent, env *Env) {
	tm.state = StateSelecting
	tm.candidate = tm.scorer.Choose(a, env, tm.catalog.ForKind(a.Kind))
	if tm.candidate == nil {
		tm.state = StateIdle
	}
}

func (tm *TaskManager) beginLocked(a *Agent, env *Env) {
	t := tm.candidate
	tm.candidate = nil
	if t == nil {
		tm.state = StateIdle
		return
	}
	if t.Precondition != nil && !t.Precondition(a, env) {
		// Attempted but never started: no activity is recorded.
		slog.Debug("task precondition failed", "agent", a.ID, "task", t.Name, "time", env.Now.String())
		tm.state = StateIdle
		return
	}
	tm.task = t
	tm.phase = 0
	tm.elapsed = 0
	tm.state = StateExecuting
	tm.recordLocked(a, env)
}

func (tm *TaskManager) executeLocked(a *Agent, env *Env) {
	t := tm.task
	if t.Effect != nil {
		t.Effect(a, env, t.Phases[tm.phase].Name)
	}
	tm.elapsed += env.Delta

	for tm.elapsed >= t.Phases[tm.phase].Millisols {
		tm.elapsed -= t.Phases[tm.phase].Millisols
		tm.phase++
		if tm.phase == len(t.Phases) {
			tm.state = StateCompleted
			tm.task = nil
			tm.phase = 0
			tm.elapsed = 0
			return
		}
		tm.recordLocked(a, env)
	}
}

func (tm *TaskManager) recordLocked(a *Agent, env *Env) {
	act := OneActivity{
		StartTime:   env.Now.MillisolInt(),
		Description: tm.task.Name,
		Phase:       tm.task.Phases[tm.phase].Name,
	}
	if err := tm.ledger.Record(env.Now.Sol, act); err != nil {
		slog.Warn("activity not recorded", "agent", a.ID, "task", act.Description, "error", err)
	}
}

// TaskState is the serializable form of a task manager.
type TaskState struct {
	State     State   `json:"state"`
	Task      string  `json:"task,omitempty"`
	Candidate string  `json:"candidate,omitempty"`
	Phase     int     `json:"phase"`
	Elapsed   float64 `json:"elapsed"`
	Reason    string  `json:"reason,omitempty"`
}

// Export returns the state machine's state.
func (tm *TaskManager) Export() TaskState {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	st := TaskState{State: tm.state, Phase: tm.phase, Elapsed: tm.elapsed, Reason: tm.reason}
	if tm.task != nil {
		st.Task = tm.task.Name
	}
	if tm.candidate != nil {
		st.Candidate = tm.candidate.Name
	}
	return st
}

// Restore replaces the state machine's state. Tasks no longer in the catalog
// fall back to Idle.
func (tm *TaskManager) Restore(st TaskState) {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	tm.state = st.State
	tm.reason = st.Reason
	tm.task = nil
	tm.candidate = nil
	tm.phase = 0
	tm.elapsed = 0

	switch st.State {
	case StateExecuting:
		t := tm.catalog.Get(st.Task)
		if t == nil || st.Phase < 0 || st.Phase >= len(t.Phases) {
			tm.state = StateIdle
			return
		}
		tm.task = t
		tm.phase = st.Phase
		tm.elapsed = st.Elapsed
	case StateSelecting:
		tm.candidate = tm.catalog.Get(st.Candidate)
		if tm.candidate == nil {
			tm.state = StateIdle
		}
	case StateIdle, StateCompleted, StateInterrupted:
	default:
		tm.state = StateIdle
	}
}
