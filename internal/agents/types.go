// Package agents provides the colonist data model, the task catalog, the
// per-agent task state machine and the activity ledger it writes to.
package agents

import "fmt"

// AgentID is a unique identifier for an agent.
type AgentID uint64

// Kind determines which tasks an agent can perform and which needs it has.
type Kind uint8

const (
	KindPerson  Kind = iota
	KindRobot
	KindVehicle
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case KindPerson:
		return "person"
	case KindRobot:
		return "robot"
	case KindVehicle:
		return "vehicle"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Agent is any autonomous unit driven by the tick loop.
type Agent struct {
	ID           AgentID `json:"id"`
	Name         string  `json:"name"`
	Kind         Kind    `json:"kind"`
	SettlementID uint64  `json:"settlement_id"`

	// Needs, clamped to [0,1] whenever written.
	Needs NeedsState `json:"needs"`

	// Millisols spent at maximum hunger; a full sol of it is fatal.
	StarvingMillisols float64 `json:"starving_millisols,omitempty"`

	// Lifecycle
	BornSol      uint64  `json:"born_sol"`
	Alive        bool    `json:"alive"`
	DiedSol      *uint64 `json:"died_sol,omitempty"`
	CauseOfDeath string  `json:"cause_of_death,omitempty"`

	// Task state machine and activity history. Owned by the tick loop.
	Tasks *TaskManager `json:"-"`
}

// IsWorker reports whether the agent runs a task state machine.
func (a *Agent) IsWorker() bool {
	return a.Tasks != nil
}

// Retire ends the agent's life. Its ledger is frozen but remains queryable.
func (a *Agent) Retire(sol uint64, cause string) {
	if !a.Alive {
		return
	}
	a.Alive = false
	s := sol
	a.DiedSol = &s
	a.CauseOfDeath = cause
	if a.Tasks != nil {
		a.Tasks.Interrupt(cause)
		a.Tasks.Ledger().Freeze()
	}
}
