// World ties together the clock, settlements, agents and their ledgers.
package engine

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/talgya/mars-colony/internal/agents"
	"github.com/talgya/mars-colony/internal/simerr"
	"github.com/talgya/mars-colony/internal/simtime"
	"github.com/talgya/mars-colony/internal/social"
	"github.com/talgya/mars-colony/internal/weather"
)

// Options configures a World. The catalog is built once by the caller and
// shared by every agent.
type Options struct {
	Seed      int64
	Start     simtime.SimTime
	Retention uint64 // ledger retention in sols; 0 = unbounded
	Catalog   *agents.Catalog
	Scorer    agents.Scorer // nil = agents.HighestScore
}

// World holds the complete colony state. Step, Populate and Retire mutate it
// and belong to the tick loop; the query methods are safe from any goroutine.
type World struct {
	seed        int64
	clock       *simtime.Clock
	weather     *weather.Model
	catalog     *agents.Catalog
	spawner     *agents.Spawner
	settlements *social.Registry
	relations   *social.Relations

	mu     sync.RWMutex
	index  map[agents.AgentID]*agents.Agent
	order  []*agents.Agent // ID order, dead agents included
	tick   uint64
	deaths int

	view atomic.Pointer[View]
}

// View is a read-only summary of the world published after every tick.
type View struct {
	Tick   uint64          `json:"tick"`
	Time   simtime.SimTime `json:"time"`
	Agents []AgentSummary  `json:"agents"`
	Stats  Stats           `json:"stats"`
}

// AgentSummary describes one agent as of the end of a tick.
type AgentSummary struct {
	ID           agents.AgentID    `json:"id"`
	Name         string            `json:"name"`
	Kind         string            `json:"kind"`
	SettlementID uint64            `json:"settlement_id"`
	Alive        bool              `json:"alive"`
	Needs        agents.NeedsState `json:"needs"`
	UrgentNeed   string            `json:"urgent_need"`
	Task         agents.Status     `json:"task"`
}

// Stats tracks aggregate world statistics.
type Stats struct {
	People   int `json:"people"`
	Robots   int `json:"robots"`
	Vehicles int `json:"vehicles"`
	Deaths   int `json:"deaths"`
}

// NewWorld creates an empty world with the given settlements.
func NewWorld(opts Options, setts []*social.Settlement) *World {
	if opts.Catalog == nil {
		opts.Catalog = agents.DefaultCatalog()
	}
	w := &World{
		seed:        opts.Seed,
		clock:       simtime.NewClock(opts.Start),
		weather:     weather.NewModel(opts.Seed),
		catalog:     opts.Catalog,
		spawner:     agents.NewSpawner(opts.Seed, opts.Catalog, opts.Scorer, opts.Retention),
		settlements: social.NewRegistry(setts),
		relations:   social.NewRelations(),
		index:       make(map[agents.AgentID]*agents.Agent),
	}
	w.publish()
	return w
}

// RestoreWorld rebuilds a world from a snapshot.
func RestoreWorld(snap *Snapshot, opts Options) (*World, error) {
	if snap == nil {
		return nil, fmt.Errorf("restore: nil snapshot: %w", simerr.ErrInvalidArgument)
	}
	if snap.Version != SnapshotVersion {
		return nil, fmt.Errorf("restore: snapshot version %d, want %d: %w", snap.Version, SnapshotVersion, simerr.ErrInvalidArgument)
	}
	opts.Seed = snap.Seed
	opts.Start = snap.Time

	setts := make([]*social.Settlement, 0, len(snap.Settlements))
	for i := range snap.Settlements {
		s := snap.Settlements[i]
		setts = append(setts, &s)
	}
	w := NewWorld(opts, setts)
	w.tick = snap.Tick
	w.relations.Import(snap.Relations)

	for _, rec := range snap.Agents {
		a := w.spawner.Restore(rec)
		if !a.Alive {
			w.deaths++
		}
		w.addLocked(a)
	}
	if snap.NextAgentID > w.spawner.NextID() {
		w.spawner.SetNextID(snap.NextAgentID)
	}
	w.publish()
	return w, nil
}

// Populate spawns a settlement's starting population at the current sol.
func (w *World) Populate(settlementID uint64, people, robots, vehicles int) ([]*agents.Agent, error) {
	if w.settlements.Get(settlementID) == nil {
		return nil, fmt.Errorf("settlement %d: %w", settlementID, simerr.ErrNotFound)
	}
	sol := w.clock.Now().Sol
	spawned := w.spawner.SpawnPopulation(settlementID, people, robots, vehicles, sol)

	w.mu.Lock()
	for _, a := range spawned {
		a.Tasks.Ledger().Advance(sol)
		w.addLocked(a)
	}
	w.mu.Unlock()

	w.publish()
	return spawned, nil
}

func (w *World) addLocked(a *agents.Agent) {
	w.index[a.ID] = a
	w.order = append(w.order, a)
	sort.Slice(w.order, func(i, j int) bool { return w.order[i].ID < w.order[j].ID })
}

// Step runs one tick: advance the clock, then step every living worker once
// in ID order.
func (w *World) Step(delta float64) (simtime.SimTime, error) {
	now, err := w.clock.Advance(delta)
	if err != nil {
		return now, err
	}

	w.mu.Lock()
	w.tick++
	order := w.order
	w.mu.Unlock()

	peers := w.peersBySettlement(order)
	conditions := make(map[uint64]weather.Conditions)

	for _, a := range order {
		if !a.Alive || !a.IsWorker() {
			continue
		}
		agents.DecayNeeds(a, delta)

		cond, ok := conditions[a.SettlementID]
		if !ok {
			cond = w.weather.At(a.SettlementID, now)
			conditions[a.SettlementID] = cond
		}
		sid := a.SettlementID
		env := agents.Env{
			Now:       now,
			Delta:     delta,
			Weather:   cond,
			Peers:     excluding(peers[sid], a),
			Relations: w.relations,
			Agenda:    func(task string) float64 { return w.settlements.Modifier(sid, task) },
		}
		a.Tasks.Step(a, &env)

		if agents.UpdateStarvation(a, delta) {
			w.retire(a, now.Sol, "starvation")
		}
	}

	w.publish()
	return now, nil
}

func (w *World) peersBySettlement(order []*agents.Agent) map[uint64][]*agents.Agent {
	out := make(map[uint64][]*agents.Agent)
	for _, a := range order {
		if a.Alive && a.Kind == agents.KindPerson {
			out[a.SettlementID] = append(out[a.SettlementID], a)
		}
	}
	return out
}

func excluding(list []*agents.Agent, self *agents.Agent) []*agents.Agent {
	out := make([]*agents.Agent, 0, len(list))
	for _, p := range list {
		if p != self {
			out = append(out, p)
		}
	}
	return out
}

// Retire ends an agent's life: death for people, decommission for machines.
// Its ledger stays queryable. Must run at a tick boundary (see Engine.Do).
func (w *World) Retire(id agents.AgentID, cause string) error {
	w.mu.RLock()
	a := w.index[id]
	w.mu.RUnlock()
	if a == nil {
		return fmt.Errorf("agent %d: %w", id, simerr.ErrNotFound)
	}
	if !a.Alive {
		return fmt.Errorf("agent %d already retired: %w", id, simerr.ErrInvalidArgument)
	}
	w.retire(a, w.clock.Now().Sol, cause)
	w.publish()
	return nil
}

func (w *World) retire(a *agents.Agent, sol uint64, cause string) {
	a.Retire(sol, cause)
	w.mu.Lock()
	w.deaths++
	w.mu.Unlock()
	slog.Info("agent retired", "agent", a.ID, "name", a.Name, "kind", a.Kind.String(), "sol", sol, "cause", cause)
}

// publish stores a fresh View for concurrent readers.
func (w *World) publish() {
	w.mu.RLock()
	defer w.mu.RUnlock()

	v := &View{Tick: w.tick, Time: w.clock.Now(), Agents: make([]AgentSummary, 0, len(w.order))}
	for _, a := range w.order {
		sum := AgentSummary{
			ID:           a.ID,
			Name:         a.Name,
			Kind:         a.Kind.String(),
			SettlementID: a.SettlementID,
			Alive:        a.Alive,
			Needs:        a.Needs,
			UrgentNeed:   a.Needs.Priority(a.Kind).String(),
		}
		if a.Tasks != nil {
			sum.Task = a.Tasks.Status()
		}
		v.Agents = append(v.Agents, sum)
		if !a.Alive {
			continue
		}
		switch a.Kind {
		case agents.KindPerson:
			v.Stats.People++
		case agents.KindRobot:
			v.Stats.Robots++
		case agents.KindVehicle:
			v.Stats.Vehicles++
		}
	}
	v.Stats.Deaths = w.deaths
	w.view.Store(v)
}

// View returns the summary published at the end of the latest tick.
func (w *World) View() *View {
	return w.view.Load()
}

// CurrentTime returns the current mission time.
func (w *World) CurrentTime() simtime.SimTime {
	return w.clock.Now()
}

// CurrentTick returns the number of ticks processed.
func (w *World) CurrentTick() uint64 {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.tick
}

// Seed returns the world seed.
func (w *World) Seed() int64 { return w.seed }

// Settlements returns the settlement registry.
func (w *World) Settlements() *social.Registry { return w.settlements }

// Relations returns the opinion store.
func (w *World) Relations() *social.Relations { return w.relations }

// Catalog returns the task catalog shared by every agent.
func (w *World) Catalog() *agents.Catalog { return w.catalog }

// Acquaintances returns the opinions an agent holds of everyone it has met.
func (w *World) Acquaintances(id agents.AgentID) ([]social.Opinion, error) {
	if _, err := w.agent(id); err != nil {
		return nil, err
	}
	known := w.relations.Known(uint64(id))
	out := make([]social.Opinion, 0, len(known))
	for _, to := range known {
		out = append(out, social.Opinion{
			RelationKey: social.RelationKey{From: uint64(id), To: to},
			Value:       w.relations.Opinion(uint64(id), to),
		})
	}
	return out, nil
}

// Weather returns current conditions at a settlement.
func (w *World) Weather(settlementID uint64) weather.Conditions {
	return w.weather.At(settlementID, w.clock.Now())
}

func (w *World) agent(id agents.AgentID) (*agents.Agent, error) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	a := w.index[id]
	if a == nil {
		return nil, fmt.Errorf("agent %d: %w", id, simerr.ErrNotFound)
	}
	return a, nil
}

// TaskManager returns an agent's task manager, for status and activity queries.
func (w *World) TaskManager(id agents.AgentID) (*agents.TaskManager, error) {
	a, err := w.agent(id)
	if err != nil {
		return nil, err
	}
	if !a.IsWorker() {
		return nil, fmt.Errorf("agent %d has no task manager: %w", id, simerr.ErrNotFound)
	}
	return a.Tasks, nil
}

// RecordActivity appends an activity to an agent's ledger on the current sol.
func (w *World) RecordActivity(id agents.AgentID, act agents.OneActivity) error {
	tm, err := w.TaskManager(id)
	if err != nil {
		return err
	}
	return tm.Ledger().Record(w.clock.Now().Sol, act)
}

// QueryActivities returns an agent's activities on one sol.
func (w *World) QueryActivities(id agents.AgentID, sol uint64) ([]agents.OneActivity, error) {
	tm, err := w.TaskManager(id)
	if err != nil {
		return nil, err
	}
	return tm.Ledger().Query(sol)
}

// AllActivities returns an agent's full held activity history.
func (w *World) AllActivities(id agents.AgentID) (map[uint64][]agents.OneActivity, error) {
	tm, err := w.TaskManager(id)
	if err != nil {
		return nil, err
	}
	return tm.AllActivities(), nil
}
