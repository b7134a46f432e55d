package scenario

import (
	"os"
	"path/filepath"
	"testing"

	"elysia/internal/causal"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const awakening = `
name: awakening
threshold: 0.5
seed: 7
concepts: [User, Emotion]
shapes:
  - concept: A
    curvature: 1.0
    ports: [{name: Logic, polarity: 1, intensity: 0.8}]
  - concept: B
    curvature: 1.0
    ports: [{name: Logic, polarity: -1}]
steps:
  - {op: charge, concept: A, amount: 0.8}
  - {op: charge, concept: B, amount: 0.8}
  - {op: discharge}
  - {op: accrete, threshold: 2.0}
  - {op: assess, a: A, b: B}
  - {op: reinforce, concept: A}
  - {op: perturb, concept: User, amount: 0.3}
  - {op: gravity}
  - {op: reconstruct, hub: A}
  - {op: register, concept: Dream, auto_shape: false}
`

func TestParse(t *testing.T) {
	sc, err := Parse([]byte(awakening))
	require.NoError(t, err)

	assert.Equal(t, "awakening", sc.Name)
	assert.Equal(t, 0.5, sc.Threshold)
	assert.Equal(t, int64(7), sc.Seed)
	assert.Equal(t, []string{"User", "Emotion"}, sc.Concepts)
	require.Len(t, sc.Shapes, 2)
	require.Len(t, sc.Steps, 10)

	assert.Equal(t, OpCharge, sc.Steps[0].Op)
	require.NotNil(t, sc.Steps[0].Amount)
	assert.Equal(t, 0.8, *sc.Steps[0].Amount)
	assert.Nil(t, sc.Steps[5].Amount)
	require.NotNil(t, sc.Steps[9].AutoShape)
	assert.False(t, *sc.Steps[9].AutoShape)
}

func TestShapeSpecBuild(t *testing.T) {
	sc, err := Parse([]byte(awakening))
	require.NoError(t, err)

	a := sc.Shapes[0].Build()
	assert.Equal(t, "A", a.ConceptID)
	assert.Equal(t, 1.0, a.Curvature)
	assert.Equal(t, []causal.Port{{Name: "Logic", Polarity: causal.Provider, Intensity: 0.8}}, a.Ports)

	// Missing intensity defaults to 1.
	b := sc.Shapes[1].Build()
	assert.Equal(t, 1.0, b.Ports[0].Intensity)
	assert.Equal(t, causal.Receiver, b.Ports[0].Polarity)
}

func TestParse_ValidationErrors(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		want string
	}{
		{"unknown op", "steps: [{op: explode}]", `step 0: unknown op "explode"`},
		{"missing op", "steps: [{concept: A}]", "step 0: missing op"},
		{"charge without amount", "steps: [{op: charge, concept: A}]", "charge requires concept and amount"},
		{"assess without b", "steps: [{op: assess, a: A}]", "assess requires a and b"},
		{"reconstruct without hub", "steps: [{op: gravity}, {op: reconstruct}]", "step 1: reconstruct requires hub"},
		{"reinforce without concept", "steps: [{op: reinforce}]", "reinforce requires concept"},
		{"bad polarity", "shapes: [{concept: A, ports: [{name: Logic, polarity: 2}]}]", "polarity must be 1 or -1"},
		{"shape without concept", "shapes: [{curvature: 1}]", "shapes[0]: concept is required"},
		{"negative threshold", "threshold: -1", "threshold must not be negative"},
		{"empty concept", `concepts: [""]`, "concepts[0]: empty id"},
		{"bad yaml", "steps: [", "failed to parse scenario"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.doc))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestParse_ReportsAllErrors(t *testing.T) {
	_, err := Parse([]byte("steps: [{op: nope}, {op: assess}]"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "step 0")
	assert.Contains(t, err.Error(), "step 1")
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "dream.yaml")
	require.NoError(t, os.WriteFile(path, []byte("concepts: [A]\nsteps: [{op: gravity}]\n"), 0644))

	sc, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "dream", sc.Name, "name defaults to the file name")
	assert.Equal(t, path, sc.Path)

	_, err = Load(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)

	bad := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("steps: [{op: fly}]"), 0644))
	_, err = Load(bad)
	require.Error(t, err)
	assert.Contains(t, err.Error(), bad)
}
