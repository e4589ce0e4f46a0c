package agents

// NeedsState tracks what drives task choice. All values range over [0,1].
// People use Hunger, Fatigue, Stress and Social (0 = satisfied, 1 = desperate).
// Robots and vehicles use Energy (battery or fuel; 1 = full).
type NeedsState struct {
	Hunger  float32 `json:"hunger"`
	Fatigue float32 `json:"fatigue"`
	Stress  float32 `json:"stress"`
	Social  float32 `json:"social"` // time since the last conversation
	Energy  float32 `json:"energy"`
}

// NeedType enumerates the need fields.
type NeedType uint8

const (
	NeedHunger NeedType = iota
	NeedFatigue
	NeedStress
	NeedSocial
	NeedEnergy
)

// String returns the need name.
func (n NeedType) String() string {
	switch n {
	case NeedHunger:
		return "hunger"
	case NeedFatigue:
		return "fatigue"
	case NeedStress:
		return "stress"
	case NeedSocial:
		return "social"
	case NeedEnergy:
		return "energy"
	default:
		return "unknown"
	}
}

// Per-millisol drift rates.
const (
	hungerPerMillisol  = 0.0015 // a person is starving ~650 msol after eating
	fatiguePerMillisol = 0.0010
	stressPerMillisol  = 0.0003
	socialPerMillisol  = 0.0012
	robotDrainPerMsol  = 0.0008
)

// Adjust changes one need by delta and clamps the result.
func (n *NeedsState) Adjust(need NeedType, delta float32) {
	switch need {
	case NeedHunger:
		n.Hunger = clamp01(n.Hunger + delta)
	case NeedFatigue:
		n.Fatigue = clamp01(n.Fatigue + delta)
	case NeedStress:
		n.Stress = clamp01(n.Stress + delta)
	case NeedSocial:
		n.Social = clamp01(n.Social + delta)
	case NeedEnergy:
		n.Energy = clamp01(n.Energy + delta)
	}
}

// Priority returns the most urgent need for an agent of the given kind.
func (n *NeedsState) Priority(kind Kind) NeedType {
	if kind != KindPerson {
		return NeedEnergy
	}
	worst, v := NeedHunger, n.Hunger
	if n.Fatigue > v {
		worst, v = NeedFatigue, n.Fatigue
	}
	if n.Stress > v {
		worst, v = NeedStress, n.Stress
	}
	if n.Social > v {
		worst = NeedSocial
	}
	return worst
}

// DecayNeeds applies the passage of delta millisols to an agent's needs.
// Vehicles only burn fuel while driving, which is a task effect.
func DecayNeeds(a *Agent, delta float64) {
	d := float32(delta)
	switch a.Kind {
	case KindPerson:
		a.Needs.Adjust(NeedHunger, hungerPerMillisol*d)
		a.Needs.Adjust(NeedFatigue, fatiguePerMillisol*d)
		a.Needs.Adjust(NeedStress, stressPerMillisol*d)
		a.Needs.Adjust(NeedSocial, socialPerMillisol*d)
	case KindRobot:
		a.Needs.Adjust(NeedEnergy, -robotDrainPerMsol*d)
	}
}

// UpdateStarvation tracks time spent at maximum hunger and reports whether
// the agent has now starved for a full sol.
func UpdateStarvation(a *Agent, delta float64) bool {
	if a.Kind != KindPerson {
		return false
	}
	if a.Needs.Hunger < 1 {
		a.StarvingMillisols = 0
		return false
	}
	a.StarvingMillisols += delta
	return a.StarvingMillisols >= 1000
}

func clamp01(v float32) float32 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
