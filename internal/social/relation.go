package social

import (
	"sort"
	"sync"
)

// Opinion bounds. Values are clamped when written, never when read.
const (
	MinOpinion     = 1.0
	MaxOpinion     = 100.0
	DefaultOpinion = 50.0
)

// RelationKey identifies a directed opinion: what From thinks of To.
type RelationKey struct {
	From uint64 `json:"from" db:"from_id"`
	To   uint64 `json:"to" db:"to_id"`
}

// Opinion is one stored relation, used for export and restore.
type Opinion struct {
	RelationKey
	Value float64 `json:"value" db:"opinion"`
}

// Relations holds directed opinions between agents.
// Safe for concurrent use.
type Relations struct {
	mu       sync.RWMutex
	opinions map[RelationKey]float64
}

// NewRelations creates an empty relation store.
func NewRelations() *Relations {
	return &Relations{opinions: make(map[RelationKey]float64)}
}

// Opinion returns what from thinks of to, DefaultOpinion if they never met.
func (r *Relations) Opinion(from, to uint64) float64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if v, ok := r.opinions[RelationKey{from, to}]; ok {
		return v
	}
	return DefaultOpinion
}

// SetOpinion stores an opinion, clamped to [MinOpinion, MaxOpinion].
func (r *Relations) SetOpinion(from, to uint64, v float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.opinions[RelationKey{from, to}] = clampOpinion(v)
}

// AdjustOpinion changes an opinion by delta and returns the stored value.
func (r *Relations) AdjustOpinion(from, to uint64, delta float64) float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	k := RelationKey{from, to}
	cur, ok := r.opinions[k]
	if !ok {
		cur = DefaultOpinion
	}
	v := clampOpinion(cur + delta)
	r.opinions[k] = v
	return v
}

// Known returns the agents from has an opinion about, in ID order.
func (r *Relations) Known(from uint64) []uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []uint64
	for k := range r.opinions {
		if k.From == from {
			out = append(out, k.To)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Export returns every stored opinion in key order.
func (r *Relations) Export() []Opinion {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Opinion, 0, len(r.opinions))
	for k, v := range r.opinions {
		out = append(out, Opinion{RelationKey: k, Value: v})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].From != out[j].From {
			return out[i].From < out[j].From
		}
		return out[i].To < out[j].To
	})
	return out
}

// Import replaces all opinions. Values are clamped like any other write.
func (r *Relations) Import(ops []Opinion) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.opinions = make(map[RelationKey]float64, len(ops))
	for _, o := range ops {
		r.opinions[o.RelationKey] = clampOpinion(o.Value)
	}
}

func clampOpinion(v float64) float64 {
	if v < MinOpinion {
		return MinOpinion
	}
	if v > MaxOpinion {
		return MaxOpinion
	}
	return v
}
