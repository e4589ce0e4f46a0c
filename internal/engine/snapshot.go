package engine

import (
	"github.com/talgya/mars-colony/internal/agents"
	"github.com/talgya/mars-colony/internal/simtime"
	"github.com/talgya/mars-colony/internal/social"
)

// SnapshotVersion is bumped whenever the snapshot layout changes.
const SnapshotVersion = 1

// Snapshot is a complete, point-in-time copy of a world taken at a tick
// boundary. It shares no memory with the live world.
type Snapshot struct {
	Version     int                 `json:"version"`
	Seed        int64               `json:"seed"`
	Tick        uint64              `json:"tick"`
	Time        simtime.SimTime     `json:"time"`
	NextAgentID agents.AgentID      `json:"next_agent_id"`
	Settlements []social.Settlement `json:"settlements"`
	Agents      []agents.Record     `json:"agents"`
	Relations   []social.Opinion    `json:"relations"`
}

// Snapshot copies the world. Call only at a tick boundary: from the tick
// loop goroutine, or through Engine.Do.
func (w *World) Snapshot() *Snapshot {
	w.mu.RLock()
	defer w.mu.RUnlock()

	snap := &Snapshot{
		Version:     SnapshotVersion,
		Seed:        w.seed,
		Tick:        w.tick,
		Time:        w.clock.Now(),
		NextAgentID: w.spawner.NextID(),
		Relations:   w.relations.Export(),
	}
	for _, s := range w.settlements.All() {
		cp := *s
		if s.Agenda != nil {
			cp.Agenda = social.NewMissionAgenda(s.Agenda.Name, nil)
			for _, sa := range s.Agenda.SubAgendas {
				cp.Agenda.AddSubAgenda(sa.Description, sa.Modifiers)
			}
		}
		snap.Settlements = append(snap.Settlements, cp)
	}
	snap.Agents = make([]agents.Record, 0, len(w.order))
	for _, a := range w.order {
		snap.Agents = append(snap.Agents, agents.Snapshot(a))
	}
	return snap
}
