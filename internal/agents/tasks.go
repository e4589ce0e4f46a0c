package agents

import (
	"fmt"

	"github.com/talgya/mars-colony/internal/simtime"
	"github.com/talgya/mars-colony/internal/social"
	"github.com/talgya/mars-colony/internal/weather"
)

// Env is everything a task needs to know about the world during one step.
type Env struct {
	Now       simtime.SimTime
	Delta     float64 // millisols covered by this step
	Weather   weather.Conditions
	Peers     []*Agent // living agents of the same settlement, excluding self
	Relations *social.Relations
	Agenda    func(task string) float64 // nil = no bias
}

// PhaseDef is one stage of a task.
type PhaseDef struct {
	Name      string
	Millisols float64
}

// TaskDef describes a task an agent can choose.
type TaskDef struct {
	Name   string
	Kinds  []Kind
	Phases []PhaseDef

	// Score rates how much the agent wants this task now. <= 0 means never.
	Score func(a *Agent, env *Env) float64

	// Precondition is checked when execution begins. nil means always valid.
	Precondition func(a *Agent, env *Env) bool

	// Effect is applied each step the task executes, for env.Delta millisols.
	Effect func(a *Agent, env *Env, phase string)

	// Rotates divides the score by one plus the number of times the agent
	// already started the task this sol, so routine work is spread out.
	Rotates bool
}

// For reports whether agents of the given kind can perform the task.
func (t *TaskDef) For(kind Kind) bool {
	for _, k := range t.Kinds {
		if k == kind {
			return true
		}
	}
	return false
}

// Catalog is the registry of tasks, built once at startup and shared by
// every task manager in a world.
type Catalog struct {
	tasks  []*TaskDef
	byName map[string]*TaskDef
}

// NewCatalog builds a catalog. Task names must be unique and every task needs
// at least one phase of positive length.
func NewCatalog(defs ...*TaskDef) (*Catalog, error) {
	c := &Catalog{byName: make(map[string]*TaskDef, len(defs))}
	for _, d := range defs {
		if d.Name == "" || d.Score == nil {
			return nil, fmt.Errorf("task %q: missing name or score", d.Name)
		}
		if _, dup := c.byName[d.Name]; dup {
			return nil, fmt.Errorf("duplicate task %q", d.Name)
		}
		if len(d.Phases) == 0 {
			return nil, fmt.Errorf("task %q has no phases", d.Name)
		}
		for _, p := range d.Phases {
			if !(p.Millisols > 0) {
				return nil, fmt.Errorf("task %q phase %q has non-positive length", d.Name, p.Name)
			}
		}
		c.tasks = append(c.tasks, d)
		c.byName[d.Name] = d
	}
	return c, nil
}

// Get returns a task by name, or nil.
func (c *Catalog) Get(name string) *TaskDef {
	return c.byName[name]
}

// ForKind returns the tasks available to a kind, in catalog order.
func (c *Catalog) ForKind(kind Kind) []*TaskDef {
	var out []*TaskDef
	for _, t := range c.tasks {
		if t.For(kind) {
			out = append(out, t)
		}
	}
	return out
}

// Names returns every task name in catalog order.
func (c *Catalog) Names() []string {
	out := make([]string, len(c.tasks))
	for i, t := range c.tasks {
		out[i] = t.Name
	}
	return out
}

// Scorer picks the task an agent should start next, or nil for none.
type Scorer interface {
	Choose(a *Agent, env *Env, candidates []*TaskDef) *TaskDef
}

// ScorerFunc adapts a function to the Scorer interface.
type ScorerFunc func(a *Agent, env *Env, candidates []*TaskDef) *TaskDef

// Choose calls f.
func (f ScorerFunc) Choose(a *Agent, env *Env, candidates []*TaskDef) *TaskDef {
	return f(a, env, candidates)
}

// HighestScore picks the candidate with the largest positive score, scaled by
// the settlement agenda. Ties go to the earlier catalog entry.
var HighestScore Scorer = ScorerFunc(func(a *Agent, env *Env, candidates []*TaskDef) *TaskDef {
	var best *TaskDef
	bestScore := 0.0
	for _, t := range candidates {
		s := t.Score(a, env)
		if env.Agenda != nil {
			s *= env.Agenda(t.Name)
		}
		if t.Rotates {
			s /= 1 + float64(StartedToday(a, env.Now.Sol, t))
		}
		if s > bestScore {
			best, bestScore = t, s
		}
	}
	return best
})

// StartedToday counts how often the agent began t on the given sol, read
// from its ledger.
func StartedToday(a *Agent, sol uint64, t *TaskDef) int {
	if a.Tasks == nil {
		return 0
	}
	day, err := a.Tasks.Ledger().Query(sol)
	if err != nil {
		return 0
	}
	n := 0
	for _, act := range day {
		if act.Description == t.Name && act.Phase == t.Phases[0].Name {
			n++
		}
	}
	return n
}
