package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"elysia/internal/causal"
	"elysia/internal/field"
	"elysia/internal/logging"

	"github.com/google/uuid"
)

// ErrRunNotFound is returned when a run id is not in the database.
var ErrRunNotFound = errors.New("run not found")

// Run is one scenario execution.
type Run struct {
	ID         string
	Scenario   string
	Threshold  float64
	StartedAt  time.Time
	FinishedAt *time.Time
	StepCount  int
	SparkCount int
}

// SparkRecord is a journaled spark.
type SparkRecord struct {
	field.Spark
	RunID     string
	CreatedAt time.Time
}

// BeginRun inserts a new run row and returns it.
func (s *FieldStore) BeginRun(ctx context.Context, scenario string, threshold float64) (*Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	run := &Run{
		ID:        uuid.NewString(),
		Scenario:  scenario,
		Threshold: threshold,
		StartedAt: time.Now().UTC(),
	}
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO runs (id, scenario, threshold, started_at) VALUES (?, ?, ?, ?)",
		run.ID, run.Scenario, run.Threshold, run.StartedAt)
	if err != nil {
		return nil, fmt.Errorf("begin run: %w", err)
	}
	logging.StoreDebug("Began run %s for scenario %s", run.ID, scenario)
	return run, nil
}

// FinishRun stamps finished_at and the executed step count.
func (s *FieldStore) FinishRun(ctx context.Context, runID string, steps int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx,
		"UPDATE runs SET finished_at = ?, step_count = ? WHERE id = ?",
		time.Now().UTC(), steps, runID)
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("finish run %s: %w", runID, ErrRunNotFound)
	}
	return nil
}

// RecordSparks appends sparks to the journal in one transaction.
func (s *FieldStore) RecordSparks(ctx context.Context, runID string, sparks []field.Spark) error {
	if len(sparks) == 0 {
		return nil
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO sparks (id, run_id, concept_a, concept_b, port, tension, description, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		now := time.Now().UTC()
		for _, sp := range sparks {
			id := sp.ID
			if id == "" {
				id = uuid.NewString()
			}
			if _, err := stmt.ExecContext(ctx, id, runID, sp.A, sp.B, sp.Port, sp.Tension, sp.Description, now); err != nil {
				return fmt.Errorf("record spark %s: %w", id, err)
			}
		}
		logging.StoreDebug("Recorded %d sparks for run %s", len(sparks), runID)
		return nil
	})
}

// RecordAbsorptions stores the satellite links. A concept already recorded
// for the run keeps its first hub.
func (s *FieldStore) RecordAbsorptions(ctx context.Context, runID string, absorbed []field.Absorption) error {
	if len(absorbed) == 0 {
		return nil
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		for _, a := range absorbed {
			if _, err := tx.ExecContext(ctx,
				"INSERT OR IGNORE INTO satellites (run_id, absorbed_id, hub_id) VALUES (?, ?, ?)",
				runID, a.Absorbed, a.Hub); err != nil {
				return fmt.Errorf("record absorption %s->%s: %w", a.Absorbed, a.Hub, err)
			}
		}
		return nil
	})
}

// SaveSnapshot replaces the stored field state of a run.
func (s *FieldStore) SaveSnapshot(ctx context.Context, runID string, snap field.Snapshot) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, "UPDATE runs SET threshold = ? WHERE id = ?", snap.Threshold, runID)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("save snapshot %s: %w", runID, ErrRunNotFound)
		}

		if _, err := tx.ExecContext(ctx, "DELETE FROM concept_states WHERE run_id = ?", runID); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, "DELETE FROM satellites WHERE run_id = ?", runID); err != nil {
			return err
		}

		for i, c := range snap.Concepts {
			if c.Shape == nil {
				continue
			}
			ports, err := json.Marshal(c.Shape.Ports)
			if err != nil {
				return fmt.Errorf("encode ports of %s: %w", c.Shape.ConceptID, err)
			}
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO concept_states (run_id, concept_id, position, curvature, charge, ports_json)
				VALUES (?, ?, ?, ?, ?, ?)`,
				runID, c.Shape.ConceptID, i, c.Shape.Curvature, c.Charge, string(ports)); err != nil {
				return fmt.Errorf("save state of %s: %w", c.Shape.ConceptID, err)
			}
		}

		for absorbed, hub := range snap.Satellites {
			if _, err := tx.ExecContext(ctx,
				"INSERT INTO satellites (run_id, absorbed_id, hub_id) VALUES (?, ?, ?)",
				runID, absorbed, hub); err != nil {
				return err
			}
		}
		logging.StoreDebug("Saved snapshot of %d concepts for run %s", len(snap.Concepts), runID)
		return nil
	})
}

// LoadSnapshot rebuilds the stored field state of a run.
func (s *FieldStore) LoadSnapshot(ctx context.Context, runID string) (field.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var snap field.Snapshot
	err := s.db.QueryRowContext(ctx, "SELECT threshold FROM runs WHERE id = ?", runID).Scan(&snap.Threshold)
	if errors.Is(err, sql.ErrNoRows) {
		return snap, fmt.Errorf("load snapshot %s: %w", runID, ErrRunNotFound)
	}
	if err != nil {
		return snap, fmt.Errorf("load snapshot: %w", err)
	}

	concepts, err := s.conceptStatesLocked(ctx, runID)
	if err != nil {
		return snap, err
	}
	snap.Concepts = concepts

	satellites, err := s.satellitesLocked(ctx, runID)
	if err != nil {
		return snap, err
	}
	if len(satellites) > 0 {
		snap.Satellites = satellites
	}
	return snap, nil
}

// conceptStatesLocked must drain its rows before returning: the pool has one
// connection.
func (s *FieldStore) conceptStatesLocked(ctx context.Context, runID string) ([]field.ConceptState, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT concept_id, curvature, charge, ports_json
		FROM concept_states WHERE run_id = ? ORDER BY position`, runID)
	if err != nil {
		return nil, fmt.Errorf("load concept states: %w", err)
	}
	defer rows.Close()

	var out []field.ConceptState
	for rows.Next() {
		var id, portsJSON string
		var curv, charge float64
		if err := rows.Scan(&id, &curv, &charge, &portsJSON); err != nil {
			return nil, err
		}
		shape := causal.NewShape(id)
		if err := json.Unmarshal([]byte(portsJSON), &shape.Ports); err != nil {
			return nil, fmt.Errorf("decode ports of %s: %w", id, err)
		}
		if len(shape.Ports) == 0 {
			shape.Ports = nil
		}
		shape.Curvature = curv
		out = append(out, field.ConceptState{Shape: shape, Charge: charge})
	}
	return out, rows.Err()
}

func (s *FieldStore) satellitesLocked(ctx context.Context, runID string) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT absorbed_id, hub_id FROM satellites WHERE run_id = ?", runID)
	if err != nil {
		return nil, fmt.Errorf("load satellites: %w", err)
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var absorbed, hub string
		if err := rows.Scan(&absorbed, &hub); err != nil {
			return nil, err
		}
		out[absorbed] = hub
	}
	return out, rows.Err()
}

// ListRuns returns the most recent runs first. limit <= 0 means all.
func (s *FieldStore) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
		SELECT r.id, r.scenario, r.threshold, r.started_at, r.finished_at, r.step_count,
			(SELECT COUNT(*) FROM sparks s WHERE s.run_id = r.id)
		FROM runs r
		ORDER BY r.started_at DESC, r.rowid DESC`
	args := []interface{}{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var r Run
		var finished sql.NullTime
		var steps sql.NullInt64
		if err := rows.Scan(&r.ID, &r.Scenario, &r.Threshold, &r.StartedAt, &finished, &steps, &r.SparkCount); err != nil {
			return nil, err
		}
		if finished.Valid {
			t := finished.Time
			r.FinishedAt = &t
		}
		r.StepCount = int(steps.Int64)
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// ListSparks returns a run's sparks in discharge order. limit <= 0 means all.
func (s *FieldStore) ListSparks(ctx context.Context, runID string, limit int) ([]SparkRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
		SELECT id, run_id, concept_a, concept_b, port, tension, COALESCE(description, ''), created_at
		FROM sparks WHERE run_id = ? ORDER BY rowid`
	args := []interface{}{runID}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list sparks: %w", err)
	}
	defer rows.Close()

	var out []SparkRecord
	for rows.Next() {
		var rec SparkRecord
		if err := rows.Scan(&rec.ID, &rec.RunID, &rec.A, &rec.B, &rec.Port, &rec.Tension, &rec.Description, &rec.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *FieldStore) withTx(ctx context.Context, fn func(*sql.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}
