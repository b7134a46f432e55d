package field

import (
	"errors"
	"math"
	"testing"

	"elysia/internal/causal"
	"elysia/internal/logging"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const eps = 1e-9

func newTestField(threshold float64) *TensionField {
	return New(Options{Threshold: threshold, Seed: 7, Logger: logging.Nop()})
}

// shape builds a shape from "+Name"/"-Name" port specs.
func shape(id string, curvature float64, ports ...string) *causal.Shape {
	s := causal.NewShape(id)
	s.Curvature = curvature
	for _, p := range ports {
		pol := causal.Provider
		if p[0] == '-' {
			pol = causal.Receiver
		}
		s.AddPort(p[1:], pol, 1.0)
	}
	return s
}

func TestNew_Defaults(t *testing.T) {
	f := New(Options{Logger: logging.Nop()})
	assert.Equal(t, DefaultThreshold, f.Threshold())
	assert.Equal(t, 0, f.Len())
	assert.Empty(t, f.Satellites())
}

func TestRegisterConcept_AutoShape(t *testing.T) {
	f := newTestField(0.7)
	f.RegisterConcept("User", true)

	s, ok := f.Shape("User")
	require.True(t, ok)
	assert.NotEmpty(t, s.Ports)
	assert.LessOrEqual(t, len(s.Ports), causal.MaxGeneratedPorts)
	assert.InDelta(t, 0.1*float64(len(s.Ports)), s.Curvature, eps)

	c, ok := f.Charge("User")
	require.True(t, ok)
	assert.Zero(t, c)

	// Same name, same shape, in any field.
	other := newTestField(0.7)
	other.RegisterConcept("User", true)
	s2, _ := other.Shape("User")
	assert.Equal(t, s, s2)
}

func TestRegisterConcept_NoAutoShape(t *testing.T) {
	f := newTestField(0.7)
	f.RegisterConcept("Blank", false)
	s, ok := f.Shape("Blank")
	require.True(t, ok)
	assert.Empty(t, s.Ports)
	assert.Zero(t, s.Curvature)
}

func TestRegisterConcept_Idempotent(t *testing.T) {
	f := newTestField(0.7)
	f.RegisterConcept("X", true)
	require.NoError(t, f.ChargeConcept("X", 0.5))

	f.RegisterConcept("X", true)
	f.RegisterShape(shape("X", 3, "+Logic"))

	c, _ := f.Charge("X")
	assert.InDelta(t, 0.5, c, eps)
	assert.Equal(t, 1, f.Len())
	assert.Equal(t, []string{"X"}, f.Concepts())
}

func TestRegisterShape_CopiesInput(t *testing.T) {
	f := newTestField(0.7)
	s := shape("A", 9, "+Logic")
	f.RegisterShape(s)
	s.Ports[0].Name = "Mutated"

	got, _ := f.Shape("A")
	assert.Equal(t, "Logic", got.Ports[0].Name)
	assert.Equal(t, MaxCurvature, got.Curvature)
}

func TestChargeConcept_Clamped(t *testing.T) {
	f := newTestField(0.7)
	f.RegisterConcept("X", true)

	require.NoError(t, f.ChargeConcept("X", 0.9))
	require.NoError(t, f.ChargeConcept("X", 0.9))
	c, _ := f.Charge("X")
	assert.Equal(t, 1.0, c)

	require.NoError(t, f.ChargeConcept("X", -5))
	c, _ = f.Charge("X")
	assert.Equal(t, 0.0, c)
}

func TestMutators_UnknownConcept(t *testing.T) {
	f := newTestField(0.7)

	for name, err := range map[string]error{
		"charge":    f.ChargeConcept("ghost", 0.5),
		"reinforce": f.ReinforceWell("ghost", DefaultReinforce),
		"perturb":   f.PerturbField("ghost", DefaultPerturb),
	} {
		if !errors.Is(err, ErrUnknownConcept) {
			t.Errorf("%s: expected ErrUnknownConcept, got %v", name, err)
		}
	}
	assert.False(t, f.Has("ghost"))
	_, ok := f.Charge("ghost")
	assert.False(t, ok)
}

func TestMutators_NonFiniteAmount(t *testing.T) {
	f := newTestField(0.7)
	f.RegisterShape(shape("X", 1.0, "+Logic"))
	require.NoError(t, f.ChargeConcept("X", 0.5))

	for _, amount := range []float64{math.NaN(), math.Inf(1), math.Inf(-1)} {
		for name, err := range map[string]error{
			"charge":    f.ChargeConcept("X", amount),
			"reinforce": f.ReinforceWell("X", amount),
			"perturb":   f.PerturbField("X", amount),
		} {
			if !errors.Is(err, ErrInvalidAmount) {
				t.Errorf("%s(%v): expected ErrInvalidAmount, got %v", name, amount, err)
			}
		}
	}

	c, _ := f.Charge("X")
	assert.Equal(t, 0.5, c)
	curv, _ := f.Curvature("X")
	assert.Equal(t, 1.0, curv)
}

func TestRegisterShape_NaNCurvature(t *testing.T) {
	f := newTestField(0.7)
	f.RegisterShape(shape("X", math.NaN()))
	curv, _ := f.Curvature("X")
	assert.Equal(t, 0.0, curv)
}

func TestReinforceWell_Capped(t *testing.T) {
	f := newTestField(0.7)
	f.RegisterShape(shape("A", 4.99))

	require.NoError(t, f.ReinforceWell("A", DefaultReinforce))
	c, _ := f.Curvature("A")
	assert.Equal(t, MaxCurvature, c)

	for i := 0; i < 50; i++ {
		require.NoError(t, f.ReinforceWell("A", 1))
	}
	c, _ = f.Curvature("A")
	assert.LessOrEqual(t, c, MaxCurvature)
}

func TestPerturbField_Floor(t *testing.T) {
	f := newTestField(0.7)
	f.RegisterShape(shape("A", 0.05, "+Logic"))
	require.NoError(t, f.ChargeConcept("A", 0.9))

	require.NoError(t, f.PerturbField("A", DefaultPerturb))
	c, _ := f.Curvature("A")
	assert.Equal(t, MinCurvature, c)

	charge, _ := f.Charge("A")
	assert.GreaterOrEqual(t, charge, 0.0)
	assert.Less(t, charge, DefaultPerturb)

	for i := 0; i < 10; i++ {
		require.NoError(t, f.PerturbField("A", 2))
	}
	c, _ = f.Curvature("A")
	assert.Equal(t, MinCurvature, c)
}

func TestPerturbField_SeededRNG(t *testing.T) {
	run := func() float64 {
		f := New(Options{Seed: 99, Logger: logging.Nop()})
		f.RegisterShape(shape("A", 1))
		require.NoError(t, f.PerturbField("A", 0.5))
		c, _ := f.Charge("A")
		return c
	}
	assert.Equal(t, run(), run())
}

func TestRetention(t *testing.T) {
	assert.InDelta(t, 0.5, Retention(0), eps)
	assert.InDelta(t, 0.6, Retention(1), eps)
	assert.InDelta(t, 0.99, Retention(5), eps)
	assert.InDelta(t, 0.99, Retention(4.9), eps)
}

func TestApplyGravity(t *testing.T) {
	f := newTestField(0.7)
	f.RegisterShape(shape("shallow", 1.0))
	f.RegisterShape(shape("deep", 5.0))
	require.NoError(t, f.ChargeConcept("shallow", 0.8))
	require.NoError(t, f.ChargeConcept("deep", 0.8))

	f.ApplyGravity()

	shallow, _ := f.Charge("shallow")
	deep, _ := f.Charge("deep")
	assert.InDelta(t, 0.48, shallow, eps)
	assert.InDelta(t, 0.792, deep, eps)
}

func TestEffectiveTension(t *testing.T) {
	f := newTestField(0.7)
	f.RegisterShape(shape("A", 1.0))
	f.RegisterShape(shape("B", 2.0))
	require.NoError(t, f.ChargeConcept("A", 0.3))
	require.NoError(t, f.ChargeConcept("B", 0.2))

	assert.InDelta(t, 0.5+0.3, f.EffectiveTension("A", "B"), eps)
	assert.InDelta(t, 0.3+0.1, f.EffectiveTension("A", "missing"), eps)
}
