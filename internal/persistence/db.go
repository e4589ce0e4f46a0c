// Package persistence saves and loads colony snapshots, and coordinates
// saves requested while the world is running.
package persistence

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/talgya/mars-colony/internal/agents"
	"github.com/talgya/mars-colony/internal/engine"
	"github.com/talgya/mars-colony/internal/simtime"
	"github.com/talgya/mars-colony/internal/social"
)

// DB wraps a SQLite save file.
type DB struct {
	conn *sqlx.DB
}

// Open opens or creates a SQLite save file at the given path.
func Open(path string) (*DB, error) {
	conn, err := sqlx.Open("sqlite", path+"?_pragma=journal_mode(DELETE)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	conn.SetMaxOpenConns(1)

	db := &DB{conn: conn}
	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return db, nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

func (db *DB) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS world_meta (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS settlements (
		id INTEGER PRIMARY KEY,
		name TEXT NOT NULL,
		agenda_json TEXT
	);

	CREATE TABLE IF NOT EXISTS agents (
		id INTEGER PRIMARY KEY,
		name TEXT NOT NULL,
		kind INTEGER NOT NULL,
		settlement_id INTEGER NOT NULL,
		alive INTEGER NOT NULL,
		born_sol INTEGER NOT NULL,
		died_sol INTEGER,
		cause_of_death TEXT NOT NULL DEFAULT '',
		starving_millisols REAL NOT NULL DEFAULT 0,
		needs_json TEXT NOT NULL,
		task_json TEXT NOT NULL,
		ledger_started INTEGER NOT NULL,
		ledger_first_sol INTEGER NOT NULL,
		ledger_last_sol INTEGER NOT NULL,
		ledger_frozen INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS activities (
		agent_id INTEGER NOT NULL,
		sol INTEGER NOT NULL,
		seq INTEGER NOT NULL,
		start_time INTEGER NOT NULL,
		description TEXT NOT NULL,
		phase TEXT NOT NULL,
		PRIMARY KEY (agent_id, sol, seq)
	);

	CREATE TABLE IF NOT EXISTS relations (
		from_id INTEGER NOT NULL,
		to_id INTEGER NOT NULL,
		opinion REAL NOT NULL,
		PRIMARY KEY (from_id, to_id)
	);

	CREATE INDEX IF NOT EXISTS idx_agents_settlement ON agents(settlement_id);
	CREATE INDEX IF NOT EXISTS idx_activities_sol ON activities(sol);
	`
	_, err := db.conn.Exec(schema)
	return err
}

// Meta keys.
const (
	metaVersion     = "version"
	metaSeed        = "seed"
	metaTick        = "tick"
	metaSol         = "sol"
	metaMillisol    = "millisol"
	metaNextAgentID = "next_agent_id"
)

// SaveSnapshot writes a complete snapshot in one transaction (full replace).
func (db *DB) SaveSnapshot(snap *engine.Snapshot) error {
	tx, err := db.conn.Beginx()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, table := range []string{"world_meta", "settlements", "agents", "activities", "relations"} {
		if _, err := tx.Exec("DELETE FROM " + table); err != nil {
			return fmt.Errorf("clear %s: %w", table, err)
		}
	}

	meta := map[string]string{
		metaVersion:     strconv.Itoa(snap.Version),
		metaSeed:        strconv.FormatInt(snap.Seed, 10),
		metaTick:        strconv.FormatUint(snap.Tick, 10),
		metaSol:         strconv.FormatUint(snap.Time.Sol, 10),
		metaMillisol:    strconv.FormatFloat(snap.Time.Millisol, 'g', -1, 64),
		metaNextAgentID: strconv.FormatUint(uint64(snap.NextAgentID), 10),
	}
	for k, v := range meta {
		if _, err := tx.Exec("INSERT INTO world_meta (key, value) VALUES (?, ?)", k, v); err != nil {
			return fmt.Errorf("save meta %s: %w", k, err)
		}
	}

	if err := saveSettlements(tx, snap.Settlements); err != nil {
		return fmt.Errorf("save settlements: %w", err)
	}
	if err := saveAgents(tx, snap.Agents); err != nil {
		return fmt.Errorf("save agents: %w", err)
	}
	if err := saveRelations(tx, snap.Relations); err != nil {
		return fmt.Errorf("save relations: %w", err)
	}

	return tx.Commit()
}

func saveSettlements(tx *sqlx.Tx, setts []social.Settlement) error {
	for _, s := range setts {
		var agenda sql.NullString
		if s.Agenda != nil {
			b, err := json.Marshal(s.Agenda)
			if err != nil {
				return err
			}
			agenda = sql.NullString{String: string(b), Valid: true}
		}
		if _, err := tx.Exec("INSERT INTO settlements (id, name, agenda_json) VALUES (?, ?, ?)", s.ID, s.Name, agenda); err != nil {
			return fmt.Errorf("insert settlement %d: %w", s.ID, err)
		}
	}
	return nil
}

func saveAgents(tx *sqlx.Tx, recs []agents.Record) error {
	agentStmt, err := tx.Preparex(`INSERT INTO agents
		(id, name, kind, settlement_id, alive, born_sol, died_sol, cause_of_death,
		 starving_millisols, needs_json, task_json,
		 ledger_started, ledger_first_sol, ledger_last_sol, ledger_frozen)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer agentStmt.Close()

	actStmt, err := tx.Preparex(`INSERT INTO activities
		(agent_id, sol, seq, start_time, description, phase)
		VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer actStmt.Close()

	for _, rec := range recs {
		a := rec.Agent
		needsJSON, _ := json.Marshal(a.Needs)
		taskJSON, _ := json.Marshal(rec.Task)

		var died sql.NullInt64
		if a.DiedSol != nil {
			died = sql.NullInt64{Int64: int64(*a.DiedSol), Valid: true}
		}

		_, err := agentStmt.Exec(
			a.ID, a.Name, a.Kind, a.SettlementID, a.Alive, a.BornSol, died, a.CauseOfDeath,
			a.StarvingMillisols, string(needsJSON), string(taskJSON),
			rec.Ledger.Started, rec.Ledger.FirstSol, rec.Ledger.LastSol, rec.Ledger.Frozen,
		)
		if err != nil {
			return fmt.Errorf("insert agent %d: %w", a.ID, err)
		}

		sols := make([]uint64, 0, len(rec.Ledger.Days))
		for sol := range rec.Ledger.Days {
			sols = append(sols, sol)
		}
		sort.Slice(sols, func(i, j int) bool { return sols[i] < sols[j] })
		for _, sol := range sols {
			for seq, act := range rec.Ledger.Days[sol] {
				if _, err := actStmt.Exec(a.ID, sol, seq, act.StartTime, act.Description, act.Phase); err != nil {
					return fmt.Errorf("insert activity %d/%d/%d: %w", a.ID, sol, seq, err)
				}
			}
		}
	}
	return nil
}

func saveRelations(tx *sqlx.Tx, ops []social.Opinion) error {
	if len(ops) == 0 {
		return nil
	}
	_, err := tx.NamedExec("INSERT INTO relations (from_id, to_id, opinion) VALUES (:from_id, :to_id, :opinion)", ops)
	return err
}

// GetMeta retrieves a metadata value.
func (db *DB) GetMeta(key string) (string, error) {
	var value string
	err := db.conn.Get(&value, "SELECT value FROM world_meta WHERE key = ?", key)
	return value, err
}

type settlementRow struct {
	ID     uint64         `db:"id"`
	Name   string         `db:"name"`
	Agenda sql.NullString `db:"agenda_json"`
}

type agentRow struct {
	ID                uint64        `db:"id"`
	Name              string        `db:"name"`
	Kind              uint8         `db:"kind"`
	SettlementID      uint64        `db:"settlement_id"`
	Alive             bool          `db:"alive"`
	BornSol           uint64        `db:"born_sol"`
	DiedSol           sql.NullInt64 `db:"died_sol"`
	CauseOfDeath      string        `db:"cause_of_death"`
	StarvingMillisols float64       `db:"starving_millisols"`
	NeedsJSON         string        `db:"needs_json"`
	TaskJSON          string        `db:"task_json"`
	LedgerStarted     bool          `db:"ledger_started"`
	LedgerFirstSol    uint64        `db:"ledger_first_sol"`
	LedgerLastSol     uint64        `db:"ledger_last_sol"`
	LedgerFrozen      bool          `db:"ledger_frozen"`
}

type activityRow struct {
	AgentID uint64 `db:"agent_id"`
	Sol     uint64 `db:"sol"`
	agents.OneActivity
}

// LoadSnapshot reads a complete snapshot back.
func (db *DB) LoadSnapshot() (*engine.Snapshot, error) {
	snap := &engine.Snapshot{}
	if err := db.loadMeta(snap); err != nil {
		return nil, err
	}

	var setts []settlementRow
	if err := db.conn.Select(&setts, "SELECT id, name, agenda_json FROM settlements ORDER BY id"); err != nil {
		return nil, fmt.Errorf("load settlements: %w", err)
	}
	for _, row := range setts {
		s := social.Settlement{ID: row.ID, Name: row.Name}
		if row.Agenda.Valid {
			s.Agenda = &social.MissionAgenda{}
			if err := json.Unmarshal([]byte(row.Agenda.String), s.Agenda); err != nil {
				return nil, fmt.Errorf("settlement %d agenda: %w", row.ID, err)
			}
		}
		snap.Settlements = append(snap.Settlements, s)
	}

	var acts []activityRow
	if err := db.conn.Select(&acts, "SELECT agent_id, sol, start_time, description, phase FROM activities ORDER BY agent_id, sol, seq"); err != nil {
		return nil, fmt.Errorf("load activities: %w", err)
	}
	days := make(map[uint64]map[uint64][]agents.OneActivity)
	for _, r := range acts {
		if days[r.AgentID] == nil {
			days[r.AgentID] = make(map[uint64][]agents.OneActivity)
		}
		days[r.AgentID][r.Sol] = append(days[r.AgentID][r.Sol], r.OneActivity)
	}

	var rows []agentRow
	if err := db.conn.Select(&rows, "SELECT * FROM agents ORDER BY id"); err != nil {
		return nil, fmt.Errorf("load agents: %w", err)
	}
	for _, row := range rows {
		rec := agents.Record{
			Agent: agents.Agent{
				ID:                agents.AgentID(row.ID),
				Name:              row.Name,
				Kind:              agents.Kind(row.Kind),
				SettlementID:      row.SettlementID,
				BornSol:           row.BornSol,
				Alive:             row.Alive,
				CauseOfDeath:      row.CauseOfDeath,
				StarvingMillisols: row.StarvingMillisols,
			},
			Ledger: agents.LedgerState{
				Started:  row.LedgerStarted,
				FirstSol: row.LedgerFirstSol,
				LastSol:  row.LedgerLastSol,
				Frozen:   row.LedgerFrozen,
				Days:     days[row.ID],
			},
		}
		if row.DiedSol.Valid {
			d := uint64(row.DiedSol.Int64)
			rec.Agent.DiedSol = &d
		}
		if err := json.Unmarshal([]byte(row.NeedsJSON), &rec.Agent.Needs); err != nil {
			return nil, fmt.Errorf("agent %d needs: %w", row.ID, err)
		}
		if err := json.Unmarshal([]byte(row.TaskJSON), &rec.Task); err != nil {
			return nil, fmt.Errorf("agent %d task: %w", row.ID, err)
		}
		snap.Agents = append(snap.Agents, rec)
	}

	if err := db.conn.Select(&snap.Relations, "SELECT from_id, to_id, opinion FROM relations ORDER BY from_id, to_id"); err != nil {
		return nil, fmt.Errorf("load relations: %w", err)
	}

	slog.Debug("snapshot loaded from db", "agents", len(snap.Agents), "settlements", len(snap.Settlements), "tick", snap.Tick)
	return snap, nil
}

func (db *DB) loadMeta(snap *engine.Snapshot) error {
	get := func(key string) (string, error) {
		v, err := db.GetMeta(key)
		if errors.Is(err, sql.ErrNoRows) {
			return "", fmt.Errorf("save file missing %q", key)
		}
		return v, err
	}

	var err error
	var s string
	if s, err = get(metaVersion); err != nil {
		return err
	}
	if snap.Version, err = strconv.Atoi(s); err != nil {
		return fmt.Errorf("version: %w", err)
	}
	if s, err = get(metaSeed); err != nil {
		return err
	}
	if snap.Seed, err = strconv.ParseInt(s, 10, 64); err != nil {
		return fmt.Errorf("seed: %w", err)
	}
	if s, err = get(metaTick); err != nil {
		return err
	}
	if snap.Tick, err = strconv.ParseUint(s, 10, 64); err != nil {
		return fmt.Errorf("tick: %w", err)
	}

	var t simtime.SimTime
	if s, err = get(metaSol); err != nil {
		return err
	}
	if t.Sol, err = strconv.ParseUint(s, 10, 64); err != nil {
		return fmt.Errorf("sol: %w", err)
	}
	if s, err = get(metaMillisol); err != nil {
		return err
	}
	if t.Millisol, err = strconv.ParseFloat(s, 64); err != nil {
		return fmt.Errorf("millisol: %w", err)
	}
	snap.Time = t

	if s, err = get(metaNextAgentID); err != nil {
		return err
	}
	next, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return fmt.Errorf("next agent id: %w", err)
	}
	snap.NextAgentID = agents.AgentID(next)
	return nil
}
