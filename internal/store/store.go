// Package store persists Elysia runs in SQLite: the spark journal, the
// satellite map and end-of-run field snapshots.
package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"elysia/internal/logging"

	_ "github.com/mattn/go-sqlite3"
)

// FieldStore is the SQLite-backed run journal.
//
// Usage:
//
//	st, _ := store.NewFieldStore(".elysia/elysia.db")
//	run, _ := st.BeginRun(ctx, "awakening", 0.7)
//	_ = st.RecordSparks(ctx, run.ID, sparks)
//	_ = st.SaveSnapshot(ctx, run.ID, f.Snapshot())
//	_ = st.FinishRun(ctx, run.ID)
type FieldStore struct {
	db     *sql.DB
	mu     sync.RWMutex
	dbPath string
}

// NewFieldStore opens (creating if needed) the database at path.
// ":memory:" gives a private in-memory database.
func NewFieldStore(path string) (*FieldStore, error) {
	timer := logging.StartTimer(logging.CategoryStore, "NewFieldStore")
	defer timer.Stop()

	logging.Store("Initializing FieldStore at path: %s", path)

	if path != ":memory:" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			logging.StoreError("Failed to create directory %s: %v", dir, err)
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		logging.StoreError("Failed to open database at %s: %v", path, err)
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		logging.StoreDebug("Failed to set sqlite busy_timeout: %v", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		logging.StoreDebug("Failed to set sqlite journal_mode=WAL: %v", err)
	}
	if _, err := db.Exec("PRAGMA synchronous = NORMAL"); err != nil {
		logging.StoreDebug("Failed to set sqlite synchronous=NORMAL: %v", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		logging.StoreDebug("Failed to enable foreign keys: %v", err)
	}

	s := &FieldStore{db: db, dbPath: path}
	if err := s.initialize(); err != nil {
		logging.StoreError("Failed to initialize schema: %v", err)
		db.Close()
		return nil, err
	}

	logging.Store("FieldStore initialization complete")
	return s, nil
}

// initialize creates the required tables and applies migrations.
func (s *FieldStore) initialize() error {
	runsTable := `
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		scenario TEXT NOT NULL,
		threshold REAL NOT NULL,
		started_at DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at);
	`

	sparksTable := `
	CREATE TABLE IF NOT EXISTS sparks (
		id TEXT PRIMARY KEY,
		run_id TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
		concept_a TEXT NOT NULL,
		concept_b TEXT NOT NULL,
		port TEXT NOT NULL,
		tension REAL NOT NULL,
		description TEXT,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_sparks_run ON sparks(run_id);
	CREATE INDEX IF NOT EXISTS idx_sparks_concepts ON sparks(concept_a, concept_b);
	`

	satellitesTable := `
	CREATE TABLE IF NOT EXISTS satellites (
		run_id TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
		absorbed_id TEXT NOT NULL,
		hub_id TEXT NOT NULL,
		PRIMARY KEY (run_id, absorbed_id)
	);
	CREATE INDEX IF NOT EXISTS idx_satellites_hub ON satellites(run_id, hub_id);
	`

	statesTable := `
	CREATE TABLE IF NOT EXISTS concept_states (
		run_id TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
		concept_id TEXT NOT NULL,
		position INTEGER NOT NULL,
		curvature REAL NOT NULL,
		charge REAL NOT NULL,
		ports_json TEXT NOT NULL DEFAULT '[]',
		PRIMARY KEY (run_id, concept_id)
	);
	`

	for name, ddl := range map[string]string{
		"runs":           runsTable,
		"sparks":         sparksTable,
		"satellites":     satellitesTable,
		"concept_states": statesTable,
	} {
		if _, err := s.db.Exec(ddl); err != nil {
			return fmt.Errorf("failed to create %s table: %w", name, err)
		}
	}

	return RunMigrations(s.db)
}

// Close closes the database.
func (s *FieldStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}

// GetDB exposes the underlying connection.
func (s *FieldStore) GetDB() *sql.DB {
	return s.db
}

// Path returns the database path the store was opened with.
func (s *FieldStore) Path() string {
	return s.dbPath
}

// GetStats returns row counts per table.
func (s *FieldStore) GetStats() (map[string]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := make(map[string]int64)
	for _, table := range []string{"runs", "sparks", "satellites", "concept_states"} {
		var count int64
		if err := s.db.QueryRow(fmt.Sprintf("SELECT COUNT(*) FROM %s", table)).Scan(&count); err != nil {
			return nil, fmt.Errorf("count %s: %w", table, err)
		}
		stats[table] = count
	}
	return stats, nil
}
