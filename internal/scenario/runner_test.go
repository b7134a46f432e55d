package scenario

import (
	"context"
	"errors"
	"testing"

	"elysia/internal/field"
	"elysia/internal/logging"
	"elysia/internal/mangle"
	"elysia/internal/store"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const eps = 1e-9

func mustParse(t *testing.T, doc string) *Scenario {
	t.Helper()
	sc, err := Parse([]byte(doc))
	require.NoError(t, err)
	return sc
}

func testDefaults() field.Options {
	return field.Options{Threshold: 0.7, Seed: 1, Logger: logging.Nop()}
}

func TestRunner_Awakening(t *testing.T) {
	sc := mustParse(t, awakening)

	report, err := NewRunner(testDefaults()).Run(context.Background(), sc)
	require.NoError(t, err)

	assert.Equal(t, "awakening", report.Scenario)
	assert.Equal(t, 0.5, report.Threshold, "scenario threshold wins over defaults")
	assert.Len(t, report.Steps, 10)
	assert.Empty(t, report.Warnings)

	// Gravity leaves both at 0.48 (> 0.4), A seeds first and fires into B.
	require.Len(t, report.Sparks, 1)
	sp := report.Sparks[0]
	assert.Equal(t, "A", sp.A)
	assert.Equal(t, "B", sp.B)
	assert.Equal(t, "Logic", sp.Port)
	assert.InDelta(t, 1.16, sp.Tension, eps)

	assert.Empty(t, report.Absorptions)

	require.Len(t, report.Assessments, 1)
	assert.Equal(t, field.KindInsufficientTension, report.Assessments[0].Kind)
	assert.Equal(t, "A", report.Assessments[0].A)

	assert.Contains(t, report.Reconstructions, "A")
	assert.Empty(t, report.Reconstructions["A"])

	// Explicit shapes registered before listed concepts; Dream last.
	var ids []string
	for _, c := range report.Final.Concepts {
		ids = append(ids, c.Shape.ConceptID)
	}
	assert.Equal(t, []string{"A", "B", "User", "Emotion", "Dream"}, ids)
	dream := report.Final.Concepts[4].Shape
	assert.Empty(t, dream.Ports)
	assert.Zero(t, dream.Curvature)
}

func TestRunner_UnknownConceptsBecomeWarnings(t *testing.T) {
	sc := mustParse(t, `
concepts: [A]
steps:
  - {op: charge, concept: Ghost, amount: 0.5}
  - {op: reinforce, concept: Ghost}
  - {op: perturb, concept: Ghost}
  - {op: charge, concept: A, amount: 0.5}
`)
	report, err := NewRunner(testDefaults()).Run(context.Background(), sc)
	require.NoError(t, err)

	require.Len(t, report.Warnings, 3)
	assert.Contains(t, report.Warnings[0], "step 0 (charge)")
	assert.Contains(t, report.Warnings[0], "Ghost")
	assert.Contains(t, report.Warnings[0], field.ErrUnknownConcept.Error())
	assert.Len(t, report.Steps, 4)
	assert.InDelta(t, 0.5, report.Final.Concepts[0].Charge, eps)
}

func TestRunner_NonFiniteAmountsBecomeWarnings(t *testing.T) {
	sc := mustParse(t, `
concepts: [A]
steps:
  - {op: charge, concept: A, amount: 0.5}
  - {op: charge, concept: A, amount: .nan}
  - {op: reinforce, concept: A, amount: .inf}
`)
	report, err := NewRunner(testDefaults()).Run(context.Background(), sc)
	require.NoError(t, err)

	require.Len(t, report.Warnings, 2)
	assert.Contains(t, report.Warnings[0], field.ErrInvalidAmount.Error())
	assert.InDelta(t, 0.5, report.Final.Concepts[0].Charge, eps)
}

func TestRunner_Accretion(t *testing.T) {
	sc := mustParse(t, `
shapes:
  - {concept: Hub, curvature: 3.0, ports: [{name: Logic, polarity: 1}]}
  - {concept: Sat, curvature: 0.3, ports: [{name: Logic, polarity: -1}]}
  - {concept: Heavy, curvature: 1.0, ports: [{name: Logic, polarity: -1}]}
steps:
  - {op: accrete}
  - {op: reconstruct, hub: Hub}
`)
	report, err := NewRunner(testDefaults()).Run(context.Background(), sc)
	require.NoError(t, err)

	assert.Equal(t, []field.Absorption{{Hub: "Hub", Absorbed: "Sat"}}, report.Absorptions)
	assert.Equal(t, []string{"Sat"}, report.Reconstructions["Hub"])
	assert.Equal(t, map[string]string{"Sat": "Hub"}, report.Final.Satellites)
	assert.InDelta(t, 3.15, report.Final.Concepts[0].Shape.Curvature, eps)
}

func TestRunner_Deterministic(t *testing.T) {
	sc := mustParse(t, `
seed: 42
concepts: [User, Emotion, Code, Logic, Memory, Dream, Time]
steps:
  - {op: perturb, concept: User, amount: 2}
  - {op: perturb, concept: Emotion, amount: 2}
  - {op: perturb, concept: Code, amount: 2}
  - {op: charge, concept: Logic, amount: 0.9}
  - {op: charge, concept: Memory, amount: 0.9}
  - {op: discharge}
  - {op: accrete, threshold: 0.2}
  - {op: assess, a: User, b: Time}
`)
	runner := NewRunner(testDefaults())
	first, err := runner.Run(context.Background(), sc)
	require.NoError(t, err)
	second, err := runner.Run(context.Background(), sc)
	require.NoError(t, err)

	opts := cmp.Options{
		cmpopts.IgnoreFields(Report{}, "Duration"),
		cmpopts.IgnoreFields(field.Spark{}, "ID"),
	}
	if diff := cmp.Diff(first, second, opts); diff != "" {
		t.Errorf("runs differ (-first +second):\n%s", diff)
	}
}

func TestRunner_CanceledContext(t *testing.T) {
	sc := mustParse(t, "concepts: [A]\nsteps: [{op: gravity}]")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewRunner(testDefaults()).Run(ctx, sc)
	assert.ErrorIs(t, err, context.Canceled)
}

type fakeRecorder struct {
	began     int
	sparks    []field.Spark
	absorbed  []field.Absorption
	snapshots int
	finished  int
	failOn    string
}

func (f *fakeRecorder) BeginRun(ctx context.Context, scenario string, threshold float64) (*store.Run, error) {
	f.began++
	return &store.Run{ID: "run-1", Scenario: scenario, Threshold: threshold}, nil
}

func (f *fakeRecorder) RecordSparks(ctx context.Context, runID string, sparks []field.Spark) error {
	if f.failOn == "sparks" {
		return errors.New("disk full")
	}
	f.sparks = append(f.sparks, sparks...)
	return nil
}

func (f *fakeRecorder) RecordAbsorptions(ctx context.Context, runID string, absorbed []field.Absorption) error {
	f.absorbed = append(f.absorbed, absorbed...)
	return nil
}

func (f *fakeRecorder) SaveSnapshot(ctx context.Context, runID string, snap field.Snapshot) error {
	f.snapshots++
	return nil
}

func (f *fakeRecorder) FinishRun(ctx context.Context, runID string, steps int) error {
	f.finished++
	return nil
}

func TestRunner_RecorderReceivesResults(t *testing.T) {
	rec := &fakeRecorder{}
	report, err := NewRunner(testDefaults(), WithRecorder(rec)).Run(context.Background(), mustParse(t, awakening))
	require.NoError(t, err)

	assert.Equal(t, "run-1", report.RunID)
	assert.Equal(t, 1, rec.began)
	assert.Equal(t, report.Sparks, rec.sparks)
	assert.Equal(t, 1, rec.snapshots)
	assert.Equal(t, 1, rec.finished)
}

func TestRunner_RecorderFailureAborts(t *testing.T) {
	rec := &fakeRecorder{failOn: "sparks"}
	_, err := NewRunner(testDefaults(), WithRecorder(rec)).Run(context.Background(), mustParse(t, awakening))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "step 2 (discharge)")
	assert.Contains(t, err.Error(), "disk full")
	assert.Zero(t, rec.finished)
}

func TestRunner_WithStoreAndReasoner(t *testing.T) {
	st, err := store.NewFieldStore(":memory:")
	require.NoError(t, err)
	defer st.Close()
	reasoner, err := mangle.NewCausalReasoner(mangle.DefaultConfig())
	require.NoError(t, err)

	sc := mustParse(t, `
name: chain
threshold: 0.5
shapes:
  - {concept: Hub, curvature: 3.0, ports: [{name: Logic, polarity: 1}]}
  - {concept: Sat, curvature: 0.3, ports: [{name: Logic, polarity: -1}, {name: Time, polarity: 1}]}
  - {concept: Far, curvature: 1.0, ports: [{name: Time, polarity: -1}]}
steps:
  - {op: accrete}
  - {op: charge, concept: Sat, amount: 1}
  - {op: charge, concept: Far, amount: 1}
  - {op: discharge}
`)
	ctx := context.Background()
	report, err := NewRunner(testDefaults(), WithRecorder(st), WithReasoner(reasoner)).Run(ctx, sc)
	require.NoError(t, err)
	require.NotEmpty(t, report.Sparks)

	sparks, err := st.ListSparks(ctx, report.RunID, 0)
	require.NoError(t, err)
	assert.Len(t, sparks, len(report.Sparks))

	snap, err := st.LoadSnapshot(ctx, report.RunID)
	require.NoError(t, err)
	assert.Len(t, snap.Concepts, 3)
	assert.Equal(t, map[string]string{"Sat": "Hub"}, snap.Satellites)

	reach, err := reasoner.Reachable("Hub")
	require.NoError(t, err)
	assert.Contains(t, reach, "Sat")
	hubs, err := reasoner.Hubs()
	require.NoError(t, err)
	assert.Equal(t, []string{"Hub"}, hubs)
}
