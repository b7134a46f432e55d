package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"elysia/internal/causal"
	"elysia/internal/field"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *FieldStore {
	t.Helper()
	st, err := NewFieldStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

func TestNewFieldStore(t *testing.T) {
	st := newTestStore(t)

	stats, err := st.GetStats()
	require.NoError(t, err)
	for _, table := range []string{"runs", "sparks", "satellites", "concept_states"} {
		count, ok := stats[table]
		assert.True(t, ok, "stats missing table %s", table)
		assert.Zero(t, count)
	}
	assert.Equal(t, CurrentSchemaVersion, GetSchemaVersion(st.GetDB()))
	assert.True(t, columnExists(st.GetDB(), "runs", "finished_at"))
}

func TestNewFieldStore_ReopenFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "elysia.db")
	ctx := context.Background()

	st, err := NewFieldStore(path)
	require.NoError(t, err)
	_, err = st.BeginRun(ctx, "first", 0.7)
	require.NoError(t, err)
	require.NoError(t, st.Close())

	st, err = NewFieldStore(path)
	require.NoError(t, err)
	defer st.Close()
	runs, err := st.ListRuns(ctx, 0)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "first", runs[0].Scenario)
	assert.Equal(t, path, st.Path())
}

func TestRunMigrations_UpgradesOldRunsTable(t *testing.T) {
	st := newTestStore(t)
	db := st.GetDB()

	// Simulate a v1 database.
	_, err := db.Exec(`DROP TABLE runs; CREATE TABLE runs (id TEXT PRIMARY KEY, scenario TEXT NOT NULL, threshold REAL NOT NULL, started_at DATETIME NOT NULL)`)
	require.NoError(t, err)
	require.False(t, columnExists(db, "runs", "step_count"))

	require.NoError(t, RunMigrations(db))
	assert.True(t, columnExists(db, "runs", "finished_at"))
	assert.True(t, columnExists(db, "runs", "step_count"))

	// Idempotent.
	require.NoError(t, RunMigrations(db))
}

func TestRunLifecycle(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	run, err := st.BeginRun(ctx, "awakening", 0.7)
	require.NoError(t, err)
	assert.NotEmpty(t, run.ID)

	sparks := []field.Spark{
		{ID: "s1", A: "User", B: "Logic", Port: "Logic", Tension: 1.2, Description: "first"},
		{A: "Logic", B: "Memory", Port: "Memory", Tension: 0.9},
	}
	require.NoError(t, st.RecordSparks(ctx, run.ID, sparks))
	require.NoError(t, st.RecordSparks(ctx, run.ID, nil))
	require.NoError(t, st.FinishRun(ctx, run.ID, 4))

	got, err := st.ListSparks(ctx, run.ID, 0)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "s1", got[0].ID)
	assert.Equal(t, "User", got[0].A)
	assert.Equal(t, "first", got[0].Description)
	assert.NotEmpty(t, got[1].ID, "missing ids are generated")
	assert.Equal(t, run.ID, got[1].RunID)

	limited, err := st.ListSparks(ctx, run.ID, 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)

	runs, err := st.ListRuns(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, 2, runs[0].SparkCount)
	assert.Equal(t, 4, runs[0].StepCount)
	require.NotNil(t, runs[0].FinishedAt)
	assert.WithinDuration(t, time.Now(), runs[0].StartedAt, time.Minute)
}

func TestFinishRun_Unknown(t *testing.T) {
	st := newTestStore(t)
	err := st.FinishRun(context.Background(), "nope", 1)
	assert.ErrorIs(t, err, ErrRunNotFound)
}

func TestListRuns_NewestFirst(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	for _, name := range []string{"a", "b", "c"} {
		_, err := st.BeginRun(ctx, name, 0.7)
		require.NoError(t, err)
	}

	runs, err := st.ListRuns(ctx, 2)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "c", runs[0].Scenario)
	assert.Equal(t, "b", runs[1].Scenario)
}

func TestSnapshotRoundTrip(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	hub := causal.NewShape("Hub")
	hub.AddPort("Logic", causal.Provider, 0.8)
	hub.Curvature = 3

	sat := causal.NewShape("Sat")
	sat.AddPort("Logic", causal.Receiver, 0.6)
	sat.Curvature = 0.3

	bare := causal.NewShape("Bare")

	snap := field.Snapshot{
		Threshold: 0.9,
		Concepts: []field.ConceptState{
			{Shape: hub, Charge: 0.5},
			{Shape: sat, Charge: 0.1},
			{Shape: bare},
		},
		Satellites: map[string]string{"Sat": "Hub"},
	}

	run, err := st.BeginRun(ctx, "snap", 0.7)
	require.NoError(t, err)
	require.NoError(t, st.SaveSnapshot(ctx, run.ID, snap))

	loaded, err := st.LoadSnapshot(ctx, run.ID)
	require.NoError(t, err)
	if diff := cmp.Diff(snap, loaded); diff != "" {
		t.Errorf("snapshot mismatch (-want +got):\n%s", diff)
	}

	// Saving again replaces the state.
	snap.Concepts = snap.Concepts[:1]
	snap.Satellites = nil
	require.NoError(t, st.SaveSnapshot(ctx, run.ID, snap))
	loaded, err = st.LoadSnapshot(ctx, run.ID)
	require.NoError(t, err)
	if diff := cmp.Diff(snap, loaded); diff != "" {
		t.Errorf("snapshot mismatch after replace (-want +got):\n%s", diff)
	}

	// Restored field is usable.
	f := field.FromSnapshot(loaded, field.Options{})
	assert.Equal(t, []string{"Hub"}, f.Concepts())
}

func TestSnapshot_UnknownRun(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	_, err := st.LoadSnapshot(ctx, "missing")
	assert.ErrorIs(t, err, ErrRunNotFound)

	err = st.SaveSnapshot(ctx, "missing", field.Snapshot{Threshold: 0.7})
	assert.ErrorIs(t, err, ErrRunNotFound)
}

func TestRecordAbsorptions_FirstHubWins(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	run, err := st.BeginRun(ctx, "accrete", 0.7)
	require.NoError(t, err)
	require.NoError(t, st.RecordAbsorptions(ctx, run.ID, []field.Absorption{
		{Hub: "Love", Absorbed: "Warmth"},
		{Hub: "Reason", Absorbed: "Warmth"},
		{Hub: "Love", Absorbed: "Trust"},
	}))

	snap, err := st.LoadSnapshot(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"Warmth": "Love", "Trust": "Love"}, snap.Satellites)
}

func TestRecordSparks_CanceledContext(t *testing.T) {
	st := newTestStore(t)
	run, err := st.BeginRun(context.Background(), "cancel", 0.7)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = st.RecordSparks(ctx, run.ID, []field.Spark{{A: "A", B: "B", Port: "Logic"}})
	assert.Error(t, err)

	stats, err := st.GetStats()
	require.NoError(t, err)
	assert.Zero(t, stats["sparks"])
}
