// Package social provides settlements, relations between agents, and mission agendas.
package social

import "sort"

// SettlementID is a unique identifier for a settlement.
type SettlementID = uint64

// Settlement is a habitat that hosts agents. It carries the agenda that
// biases what its agents choose to work on.
type Settlement struct {
	ID     SettlementID   `json:"id"`
	Name   string         `json:"name"`
	Agenda *MissionAgenda `json:"agenda,omitempty"`
}

// Registry is the set of settlements in a world, keyed by ID.
type Registry struct {
	byID  map[SettlementID]*Settlement
	order []SettlementID
}

// NewRegistry builds a registry from a list of settlements.
func NewRegistry(setts []*Settlement) *Registry {
	r := &Registry{byID: make(map[SettlementID]*Settlement, len(setts))}
	for _, s := range setts {
		r.Add(s)
	}
	return r
}

// Add registers a settlement, replacing any previous one with the same ID.
func (r *Registry) Add(s *Settlement) {
	if _, ok := r.byID[s.ID]; !ok {
		r.order = append(r.order, s.ID)
		sort.Slice(r.order, func(i, j int) bool { return r.order[i] < r.order[j] })
	}
	r.byID[s.ID] = s
}

// Get returns the settlement with the given ID, or nil.
func (r *Registry) Get(id SettlementID) *Settlement {
	return r.byID[id]
}

// All returns settlements in ID order.
func (r *Registry) All() []*Settlement {
	out := make([]*Settlement, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.byID[id])
	}
	return out
}

// Modifier returns the agenda score modifier for a task at a settlement, 1.0 if none.
func (r *Registry) Modifier(id SettlementID, task string) float64 {
	s := r.byID[id]
	if s == nil || s.Agenda == nil {
		return 1.0
	}
	return s.Agenda.Modifier(task)
}
