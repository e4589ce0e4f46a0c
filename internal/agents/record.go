package agents

// Record is a deep, serializable copy of an agent: its fields, its state
// machine and its ledger.
type Record struct {
	Agent  Agent       `json:"agent"`
	Task   TaskState   `json:"task"`
	Ledger LedgerState `json:"ledger"`
}

// Snapshot copies an agent into a Record. Call only at a tick boundary.
func Snapshot(a *Agent) Record {
	cp := *a
	cp.Tasks = nil
	if a.DiedSol != nil {
		d := *a.DiedSol
		cp.DiedSol = &d
	}
	rec := Record{Agent: cp}
	if a.Tasks != nil {
		rec.Task = a.Tasks.Export()
		rec.Ledger = a.Tasks.Ledger().Export()
	}
	return rec
}

// Restore rebuilds a live agent from a Record.
func (s *Spawner) Restore(rec Record) *Agent {
	a := rec.Agent
	if rec.Agent.DiedSol != nil {
		d := *rec.Agent.DiedSol
		a.DiedSol = &d
	}
	s.AttachLedger(&a, RestoreLedger(rec.Ledger, s.retention))
	a.Tasks.Restore(rec.Task)
	if a.ID >= s.nextID {
		s.nextID = a.ID + 1
	}
	return &a
}
