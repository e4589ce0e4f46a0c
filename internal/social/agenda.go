package social

import "sort"

// Modifier bounds for agenda entries.
const (
	MinModifier = 0.0
	MaxModifier = 10.0
)

// SubAgenda is one goal of a mission agenda and the task modifiers it implies.
type SubAgenda struct {
	Description string             `json:"description"`
	Modifiers   map[string]float64 `json:"modifiers"`
}

// MissionAgenda is a settlement's standing set of goals. Task scores are
// multiplied by the product of the matching modifiers.
type MissionAgenda struct {
	Name       string      `json:"name"`
	SubAgendas []SubAgenda `json:"sub_agendas"`
}

// NewMissionAgenda creates an agenda with a single sub-agenda built from mods.
func NewMissionAgenda(name string, mods map[string]float64) *MissionAgenda {
	a := &MissionAgenda{Name: name}
	if len(mods) > 0 {
		a.AddSubAgenda(name, mods)
	}
	return a
}

// AddSubAgenda appends a goal. Modifiers are clamped to [MinModifier, MaxModifier].
func (a *MissionAgenda) AddSubAgenda(desc string, mods map[string]float64) {
	clamped := make(map[string]float64, len(mods))
	for task, m := range mods {
		clamped[task] = clampModifier(m)
	}
	a.SubAgendas = append(a.SubAgendas, SubAgenda{Description: desc, Modifiers: clamped})
}

// Modifier returns the combined modifier for a task, 1.0 when no goal mentions it.
func (a *MissionAgenda) Modifier(task string) float64 {
	m := 1.0
	for _, sa := range a.SubAgendas {
		if v, ok := sa.Modifiers[task]; ok {
			m *= v
		}
	}
	return m
}

// Tasks lists every task name the agenda mentions, sorted.
func (a *MissionAgenda) Tasks() []string {
	seen := make(map[string]bool)
	for _, sa := range a.SubAgendas {
		for t := range sa.Modifiers {
			seen[t] = true
		}
	}
	out := make([]string, 0, len(seen))
	for t := range seen {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

func clampModifier(v float64) float64 {
	if v < MinModifier {
		return MinModifier
	}
	if v > MaxModifier {
		return MaxModifier
	}
	return v
}
