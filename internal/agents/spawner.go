// Agent spawning: creates the starting crew, robots and vehicles of each
// settlement with deterministic names and needs.
package agents

import (
	"fmt"
	"math/rand"
)

// Spawner creates agents for the simulation.
type Spawner struct {
	rng       *rand.Rand
	nextID    AgentID
	catalog   *Catalog
	scorer    Scorer
	retention uint64
}

// NewSpawner creates an agent spawner. Every agent it creates gets a task
// manager over the shared catalog and a ledger with the given retention.
func NewSpawner(seed int64, catalog *Catalog, scorer Scorer, retention uint64) *Spawner {
	return &Spawner{
		rng:       rand.New(rand.NewSource(seed + 300)),
		nextID:    1,
		catalog:   catalog,
		scorer:    scorer,
		retention: retention,
	}
}

// SetNextID sets the next agent ID to be issued (used when restoring a save).
func (s *Spawner) SetNextID(id AgentID) {
	s.nextID = id
}

// NextID returns the next agent ID to be issued.
func (s *Spawner) NextID() AgentID {
	return s.nextID
}

// Spawn creates one agent of the given kind in a settlement.
func (s *Spawner) Spawn(kind Kind, settlementID uint64, sol uint64) *Agent {
	id := s.nextID
	s.nextID++

	a := &Agent{
		ID:           id,
		Kind:         kind,
		SettlementID: settlementID,
		BornSol:      sol,
		Alive:        true,
	}

	switch kind {
	case KindPerson:
		a.Name = s.personName()
		a.Needs = NeedsState{
			Hunger:  0.1 + s.rng.Float32()*0.3,
			Fatigue: 0.1 + s.rng.Float32()*0.3,
			Stress:  s.rng.Float32() * 0.3,
			Social:  s.rng.Float32() * 0.3,
		}
	case KindRobot:
		a.Name = fmt.Sprintf("%s %03d", robotModels[s.rng.Intn(len(robotModels))], id)
		a.Needs = NeedsState{Energy: 0.6 + s.rng.Float32()*0.4}
	case KindVehicle:
		a.Name = fmt.Sprintf("%s %d", vehicleModels[s.rng.Intn(len(vehicleModels))], id)
		a.Needs = NeedsState{Energy: 0.5 + s.rng.Float32()*0.5}
	}

	s.Attach(a)
	return a
}

// SpawnPopulation creates a settlement's starting population: people first,
// then robots, then vehicles.
func (s *Spawner) SpawnPopulation(settlementID uint64, people, robots, vehicles int, sol uint64) []*Agent {
	out := make([]*Agent, 0, people+robots+vehicles)
	for i := 0; i < people; i++ {
		out = append(out, s.Spawn(KindPerson, settlementID, sol))
	}
	for i := 0; i < robots; i++ {
		out = append(out, s.Spawn(KindRobot, settlementID, sol))
	}
	for i := 0; i < vehicles; i++ {
		out = append(out, s.Spawn(KindVehicle, settlementID, sol))
	}
	return out
}

// Attach gives an agent a fresh task manager and empty ledger.
func (s *Spawner) Attach(a *Agent) {
	a.Tasks = NewTaskManager(s.catalog, s.scorer, NewLedger(s.retention))
}

// AttachLedger gives an agent a task manager over an existing ledger.
func (s *Spawner) AttachLedger(a *Agent, l *Ledger) {
	a.Tasks = NewTaskManager(s.catalog, s.scorer, l)
}

func (s *Spawner) personName() string {
	first := firstNames[s.rng.Intn(len(firstNames))]
	last := lastNames[s.rng.Intn(len(lastNames))]
	return first + " " + last
}

var firstNames = []string{
	"Aiko", "Amara", "Bjorn", "Chen", "Dmitri", "Elena", "Farah", "Gustavo",
	"Hana", "Idris", "Jonas", "Kavya", "Leila", "Mateo", "Nadia", "Oskar",
	"Priya", "Quinn", "Rafael", "Sanna", "Tariq", "Uma", "Viktor", "Wen",
	"Yara", "Zoltan",
}

var lastNames = []string{
	"Abara", "Brandt", "Castillo", "Dube", "Eriksen", "Fujita", "Gallo",
	"Haddad", "Ivanova", "Jensen", "Kowalski", "Lindqvist", "Moreau",
	"Nakamura", "Okafor", "Petrov", "Quispe", "Rahman", "Sato", "Tanaka",
	"Ueda", "Varga", "Weiss", "Yilmaz", "Zhou",
}

var robotModels = []string{"Chefbot", "Gardenbot", "Repairbot", "Makerbot", "Constructionbot"}

var vehicleModels = []string{"Cruiser", "Explorer", "Transport", "Long Range Explorer"}
