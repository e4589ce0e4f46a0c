package agents

import (
	"fmt"
	"sort"
	"sync"

	"github.com/talgya/mars-colony/internal/simerr"
)

// OneActivity records the start of one task phase. Never mutated after creation.
type OneActivity struct {
	StartTime   int    `json:"start_time" db:"start_time"` // millisol of day
	Description string `json:"description" db:"description"`
	Phase       string `json:"phase" db:"phase"`
}

// Ledger is one agent's activity history, indexed by sol. Only the latest
// sol is appended to; earlier sols are frozen. Safe for concurrent readers.
type Ledger struct {
	mu        sync.RWMutex
	days      map[uint64][]OneActivity
	started   bool
	firstSol  uint64 // oldest sol still held
	lastSol   uint64 // current sol
	retention uint64 // sols kept; 0 = unbounded
	frozen    bool
}

// NewLedger creates an empty ledger. retention is the number of sols kept,
// counting the current one; 0 keeps everything.
func NewLedger(retention uint64) *Ledger {
	return &Ledger{
		days:      make(map[uint64][]OneActivity),
		retention: retention,
	}
}

// Advance marks sol as simulated for this agent, so a day without activity
// reads as an empty sequence rather than missing data. Older sols beyond the
// retention window are evicted.
func (l *Ledger) Advance(sol uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.frozen {
		return
	}
	l.advanceLocked(sol)
}

func (l *Ledger) advanceLocked(sol uint64) {
	if !l.started {
		l.started = true
		l.firstSol = sol
		l.lastSol = sol
		return
	}
	if sol <= l.lastSol {
		return
	}
	l.lastSol = sol
	l.evictLocked()
}

func (l *Ledger) evictLocked() {
	if l.retention == 0 || l.lastSol+1 <= l.retention {
		return
	}
	cutoff := l.lastSol + 1 - l.retention
	if cutoff <= l.firstSol {
		return
	}
	for sol := range l.days {
		if sol < cutoff {
			delete(l.days, sol)
		}
	}
	l.firstSol = cutoff
}

// Record appends an activity to the given sol, which must be the current
// sol or a later one. Start times within a sol must not go backwards.
func (l *Ledger) Record(sol uint64, act OneActivity) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.frozen {
		return fmt.Errorf("record on retired agent's ledger: %w", simerr.ErrInvalidArgument)
	}
	if l.started && sol < l.lastSol {
		return fmt.Errorf("record on past sol %d (current %d): %w", sol, l.lastSol, simerr.ErrInvalidArgument)
	}
	if act.StartTime < 0 || act.StartTime >= 1000 {
		return fmt.Errorf("start time %d outside the sol: %w", act.StartTime, simerr.ErrInvalidArgument)
	}
	l.advanceLocked(sol)

	day := l.days[sol]
	if n := len(day); n > 0 && day[n-1].StartTime > act.StartTime {
		return fmt.Errorf("start time %d before previous %d: %w", act.StartTime, day[n-1].StartTime, simerr.ErrInvalidArgument)
	}
	l.days[sol] = append(day, act)
	return nil
}

// Query returns a copy of the activities recorded on sol. A simulated sol
// with no activity returns an empty slice; a sol never simulated (or evicted)
// returns ErrNotFound.
func (l *Ledger) Query(sol uint64) ([]OneActivity, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if !l.started || sol < l.firstSol || sol > l.lastSol {
		return nil, fmt.Errorf("sol %d: %w", sol, simerr.ErrNotFound)
	}
	day := l.days[sol]
	out := make([]OneActivity, len(day))
	copy(out, day)
	return out, nil
}

// AllSols returns a copy of every sol held, including empty ones.
func (l *Ledger) AllSols() map[uint64][]OneActivity {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make(map[uint64][]OneActivity)
	if !l.started {
		return out
	}
	for sol := l.firstSol; sol <= l.lastSol; sol++ {
		day := l.days[sol]
		cp := make([]OneActivity, len(day))
		copy(cp, day)
		out[sol] = cp
	}
	return out
}

// Range returns the oldest and newest sol held. ok is false for an empty ledger.
func (l *Ledger) Range() (first, last uint64, ok bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.firstSol, l.lastSol, l.started
}

// Freeze stops all further writes. Used when an agent dies or is decommissioned.
func (l *Ledger) Freeze() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.frozen = true
}

// Frozen reports whether the ledger accepts writes.
func (l *Ledger) Frozen() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.frozen
}

// Len returns the total number of recorded activities.
func (l *Ledger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	n := 0
	for _, day := range l.days {
		n += len(day)
	}
	return n
}

// LedgerState is the serializable form of a ledger.
type LedgerState struct {
	Started  bool                     `json:"started"`
	FirstSol uint64                   `json:"first_sol"`
	LastSol  uint64                   `json:"last_sol"`
	Frozen   bool                     `json:"frozen"`
	Days     map[uint64][]OneActivity `json:"days"`
}

// Export returns a deep copy of the ledger's state.
func (l *Ledger) Export() LedgerState {
	days := l.AllSols()
	l.mu.RLock()
	defer l.mu.RUnlock()
	return LedgerState{
		Started:  l.started,
		FirstSol: l.firstSol,
		LastSol:  l.lastSol,
		Frozen:   l.frozen,
		Days:     days,
	}
}

// RestoreLedger rebuilds a ledger from exported state.
func RestoreLedger(st LedgerState, retention uint64) *Ledger {
	l := NewLedger(retention)
	l.started = st.Started
	l.firstSol = st.FirstSol
	l.lastSol = st.LastSol
	l.frozen = st.Frozen
	sols := make([]uint64, 0, len(st.Days))
	for sol := range st.Days {
		sols = append(sols, sol)
	}
	sort.Slice(sols, func(i, j int) bool { return sols[i] < sols[j] })
	for _, sol := range sols {
		if len(st.Days[sol]) == 0 {
			continue
		}
		day := make([]OneActivity, len(st.Days[sol]))
		copy(day, st.Days[sol])
		l.days[sol] = day
	}
	if l.started && !l.frozen {
		l.evictLocked()
	}
	return l
}
