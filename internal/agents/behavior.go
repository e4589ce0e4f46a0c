// Task definitions for people, robots and vehicles.
// Scores are needs-driven: the most pressing need dominates, and routine
// work fills the rest of the sol.
package agents

import "github.com/talgya/mars-colony/internal/simtime"

// Task names used across the colony.
const (
	TaskSleep            = "Sleep"
	TaskEat              = "Eat"
	TaskRelax            = "Relax"
	TaskSocialize        = "Socialize"
	TaskTendGreenhouse   = "TendGreenhouse"
	TaskResearchScience  = "ResearchScience"
	TaskMaintain         = "MaintainSettlement"
	TaskWalkOutside      = "WalkOutside"
	TaskRecharge         = "Recharge"
	TaskManufactureParts = "ManufactureParts"
	TaskDeliverCargo     = "DeliverCargo"
	TaskRefuel           = "Refuel"
)

// DefaultCatalog returns the standard colony task set.
func DefaultCatalog() *Catalog {
	c, err := NewCatalog(
		&TaskDef{
			Name:   TaskSleep,
			Kinds:  []Kind{KindPerson},
			Phases: []PhaseDef{{"Sleeping", 300}},
			Score: func(a *Agent, env *Env) float64 {
				s := float64(a.Needs.Fatigue) * 100
				if isNight(env.Now) {
					s += 20
				}
				return s
			},
			Effect: func(a *Agent, env *Env, _ string) {
				a.Needs.Adjust(NeedFatigue, -0.004*float32(env.Delta))
				a.Needs.Adjust(NeedStress, -0.0005*float32(env.Delta))
			},
		},
		&TaskDef{
			Name:   TaskEat,
			Kinds:  []Kind{KindPerson},
			Phases: []PhaseDef{{"Preparing meal", 10}, {"Eating", 20}},
			Score: func(a *Agent, _ *Env) float64 {
				return float64(a.Needs.Hunger) * 120
			},
			Effect: func(a *Agent, env *Env, phase string) {
				if phase == "Eating" {
					a.Needs.Adjust(NeedHunger, -0.04*float32(env.Delta))
				}
			},
		},
		&TaskDef{
			Name:   TaskRelax,
			Kinds:  []Kind{KindPerson},
			Phases: []PhaseDef{{"Relaxing", 40}},
			Score: func(a *Agent, env *Env) float64 {
				s := float64(a.Needs.Stress) * 60
				if isEvening(env.Now) {
					s += 25
				}
				return s
			},
			Effect: func(a *Agent, env *Env, _ string) {
				a.Needs.Adjust(NeedStress, -0.004*float32(env.Delta))
			},
		},
		&TaskDef{
			Name:   TaskSocialize,
			Kinds:  []Kind{KindPerson},
			Phases: []PhaseDef{{"Chatting", 30}},
			Score: func(a *Agent, env *Env) float64 {
				if len(env.Peers) == 0 {
					return 0
				}
				return float64(a.Needs.Social)*90 + float64(a.Needs.Stress)*20
			},
			Precondition: func(a *Agent, env *Env) bool {
				return len(env.Peers) > 0
			},
			Effect: applySocialize,
		},
		&TaskDef{
			Name:    TaskTendGreenhouse,
			Kinds:   []Kind{KindPerson, KindRobot},
			Phases:  []PhaseDef{{"Tending", 60}, {"Harvesting", 30}},
			Score:   routineScore(25),
			Effect:  exert(0.0005),
			Rotates: true,
		},
		&TaskDef{
			Name:    TaskResearchScience,
			Kinds:   []Kind{KindPerson},
			Phases:  []PhaseDef{{"Reviewing data", 40}, {"Experimenting", 80}},
			Score:   routineScore(20),
			Effect:  exert(0.0004),
			Rotates: true,
		},
		&TaskDef{
			Name:    TaskMaintain,
			Kinds:   []Kind{KindPerson, KindRobot},
			Phases:  []PhaseDef{{"Inspecting", 30}, {"Repairing", 50}},
			Score:   routineScore(18),
			Effect:  exert(0.0006),
			Rotates: true,
		},
		&TaskDef{
			Name:   TaskWalkOutside,
			Kinds:  []Kind{KindPerson},
			Phases: []PhaseDef{{"Donning EVA suit", 20}, {"Walking", 60}, {"Doffing EVA suit", 15}},
			Score: func(a *Agent, env *Env) float64 {
				if env.Weather.Storm {
					return 0
				}
				return 30 * env.Weather.Daylight * (1 - float64(a.Needs.Fatigue))
			},
			Precondition: outdoorsSafe,
			Rotates:      true,
			Effect: func(a *Agent, env *Env, phase string) {
				a.Needs.Adjust(NeedFatigue, 0.0008*float32(env.Delta))
				if phase == "Walking" {
					a.Needs.Adjust(NeedStress, -0.002*float32(env.Delta))
				}
			},
		},
		&TaskDef{
			Name:   TaskRecharge,
			Kinds:  []Kind{KindRobot},
			Phases: []PhaseDef{{"Charging", 80}},
			Score: func(a *Agent, _ *Env) float64 {
				return float64(1-a.Needs.Energy) * 100
			},
			Effect: func(a *Agent, env *Env, _ string) {
				a.Needs.Adjust(NeedEnergy, 0.01*float32(env.Delta))
			},
		},
		&TaskDef{
			Name:   TaskManufactureParts,
			Kinds:  []Kind{KindRobot},
			Phases: []PhaseDef{{"Printing", 60}, {"Assembling", 40}},
			Score: func(a *Agent, _ *Env) float64 {
				return float64(a.Needs.Energy) * 30
			},
			Effect:  exert(0.001),
			Rotates: true,
		},
		&TaskDef{
			Name:   TaskDeliverCargo,
			Kinds:  []Kind{KindVehicle},
			Phases: []PhaseDef{{"Loading", 20}, {"Driving", 100}, {"Unloading", 20}},
			Score: func(a *Agent, _ *Env) float64 {
				return float64(a.Needs.Energy) * 40
			},
			Precondition: outdoorsSafe,
			Effect: func(a *Agent, env *Env, phase string) {
				if phase == "Driving" {
					a.Needs.Adjust(NeedEnergy, -0.002*float32(env.Delta))
				}
			},
		},
		&TaskDef{
			Name:   TaskRefuel,
			Kinds:  []Kind{KindVehicle},
			Phases: []PhaseDef{{"Refueling", 50}},
			Score: func(a *Agent, _ *Env) float64 {
				return float64(1-a.Needs.Energy) * 100
			},
			Effect: func(a *Agent, env *Env, _ string) {
				a.Needs.Adjust(NeedEnergy, 0.02*float32(env.Delta))
			},
		},
	)
	if err != nil {
		panic(err) // static definitions above
	}
	return c
}

func isNight(t simtime.SimTime) bool {
	return t.Millisol < 250 || t.Millisol >= 750
}

// isEvening is the off-duty hour before night.
func isEvening(t simtime.SimTime) bool {
	return t.Millisol >= 650 && t.Millisol < 750
}

func outdoorsSafe(_ *Agent, env *Env) bool {
	return !env.Weather.Storm
}

// routineScore rates ordinary work: rested people and charged robots want it
// most. People wind down in the evening and work less at night.
func routineScore(base float64) func(*Agent, *Env) float64 {
	return func(a *Agent, env *Env) float64 {
		if a.Kind == KindRobot {
			return base * float64(a.Needs.Energy)
		}
		s := base * (1 - float64(a.Needs.Fatigue))
		switch {
		case isNight(env.Now):
			s *= 0.5
		case isEvening(env.Now):
			s *= 0.25
		}
		return s
	}
}

// exert tires people and drains robots per millisol of work.
func exert(rate float32) func(*Agent, *Env, string) {
	return func(a *Agent, env *Env, _ string) {
		d := rate * float32(env.Delta)
		switch a.Kind {
		case KindPerson:
			a.Needs.Adjust(NeedFatigue, d)
			a.Needs.Adjust(NeedStress, d/2)
		default:
			a.Needs.Adjust(NeedEnergy, -d)
		}
	}
}

// applySocialize improves mutual opinion with one settlement mate, picked
// deterministically from the sol so partners rotate.
func applySocialize(a *Agent, env *Env, _ string) {
	a.Needs.Adjust(NeedStress, -0.002*float32(env.Delta))
	a.Needs.Adjust(NeedSocial, -0.03*float32(env.Delta))
	if len(env.Peers) == 0 || env.Relations == nil {
		return
	}
	partner := env.Peers[(uint64(a.ID)+env.Now.Sol)%uint64(len(env.Peers))]
	gain := 0.05 * env.Delta
	env.Relations.AdjustOpinion(uint64(a.ID), uint64(partner.ID), gain)
	env.Relations.AdjustOpinion(uint64(partner.ID), uint64(a.ID), gain/2)
}
