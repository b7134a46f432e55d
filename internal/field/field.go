// Package field implements the tension field: a population of concept shapes
// with a scalar charge each, evolved by explicit calls and discharged as
// "lightning" when two excited concepts have interlocking ports.
//
// A TensionField is owned by a single caller and is not safe for concurrent
// use. Every operation is bounded by the number of registered concepts.
package field

import (
	"errors"
	"fmt"
	"math"
	"math/rand"

	"elysia/internal/causal"
	"elysia/internal/logging"
)

const (
	MaxCharge      = 1.0
	MaxCurvature   = 5.0
	MinCurvature   = 0.01
	CriticalCharge = 0.4 // seeds of a discharge pass must exceed this

	// DischargeResidual is the fraction of charge left on both ends of a spark.
	DischargeResidual = 0.1

	DefaultThreshold          = 0.7
	DefaultReinforce          = 0.05
	DefaultPerturb            = 0.1
	DefaultAccretionThreshold = 2.0

	maxRetention     = 0.99
	baseRetention    = 0.5
	curvatureWeight  = 0.1
	retentionPerCurv = 0.1
)

// ErrUnknownConcept is returned by mutators addressed to an unregistered id.
// The field state is left untouched in that case.
var ErrUnknownConcept = errors.New("unknown concept")

// ErrInvalidAmount is returned by mutators given a NaN or infinite amount.
// The field state is left untouched in that case.
var ErrInvalidAmount = errors.New("amount must be a finite number")

// Options configures a new field.
type Options struct {
	// Threshold is the effective tension two concepts need to connect.
	Threshold float64
	// Seed drives the RNG used by PerturbField. Zero means seed 1.
	Seed int64
	// Vocabulary overrides the port tags of procedurally generated shapes.
	Vocabulary []string
	// Logger receives every field event; nil routes events to the field,
	// lightning, accretion and diagnosis category loggers.
	Logger *logging.Logger
}

// TensionField owns concept shapes, charges and the satellite map.
type TensionField struct {
	threshold  float64
	shapes     map[string]*causal.Shape
	charges    map[string]float64
	satellites map[string]string // absorbed -> hub
	order      []string          // registration order, the tie-break for every ordering

	gen    *causal.Generator
	rng    *rand.Rand
	logger *logging.Logger
}

// New creates an empty field.
func New(opts Options) *TensionField {
	if opts.Threshold <= 0 {
		opts.Threshold = DefaultThreshold
	}
	seed := opts.Seed
	if seed == 0 {
		seed = 1
	}
	return &TensionField{
		threshold: opts.Threshold,
		shapes:    make(map[string]*causal.Shape),
		charges:   make(map[string]float64),
		gen:       causal.NewGenerator(opts.Vocabulary),
		rng:       rand.New(rand.NewSource(seed)),
		logger:    opts.Logger,
	}
}

// Threshold returns the connection threshold.
func (f *TensionField) Threshold() float64 {
	return f.threshold
}

// Len returns the number of registered concepts.
func (f *TensionField) Len() int {
	return len(f.order)
}

// Has reports whether id is registered.
func (f *TensionField) Has(id string) bool {
	_, ok := f.shapes[id]
	return ok
}

// Concepts returns the concept ids in registration order.
func (f *TensionField) Concepts() []string {
	out := make([]string, len(f.order))
	copy(out, f.order)
	return out
}

// Shape returns a copy of the concept's shape.
func (f *TensionField) Shape(id string) (*causal.Shape, bool) {
	s, ok := f.shapes[id]
	if !ok {
		return nil, false
	}
	return s.Clone(), true
}

// Charge returns the concept's current charge.
func (f *TensionField) Charge(id string) (float64, bool) {
	c, ok := f.charges[id]
	return c, ok
}

// Curvature returns the concept's current curvature.
func (f *TensionField) Curvature(id string) (float64, bool) {
	s, ok := f.shapes[id]
	if !ok {
		return 0, false
	}
	return s.Curvature, true
}

// RegisterConcept inserts id once. With autoShape the shape is generated from
// the name; otherwise the concept starts with no ports and zero curvature.
// Registering an existing id changes nothing, charge included.
func (f *TensionField) RegisterConcept(id string, autoShape bool) {
	if f.Has(id) {
		return
	}
	var shape *causal.Shape
	if autoShape {
		shape = f.gen.Generate(id)
	} else {
		shape = causal.NewShape(id)
	}
	f.insert(shape)
}

// RegisterShape inserts a caller-built shape under shape.ConceptID.
// Like RegisterConcept it is a no-op when the id is already present.
func (f *TensionField) RegisterShape(shape *causal.Shape) {
	if shape == nil || f.Has(shape.ConceptID) {
		return
	}
	s := shape.Clone()
	s.Curvature = clamp(s.Curvature, 0, MaxCurvature)
	f.insert(s)
}

func (f *TensionField) insert(shape *causal.Shape) {
	f.shapes[shape.ConceptID] = shape
	f.charges[shape.ConceptID] = 0
	f.order = append(f.order, shape.ConceptID)
	f.log(logging.CategoryField).Debug("registered %s", shape)
}

// ReinforceWell deepens the concept's gravity well, capped at MaxCurvature.
func (f *TensionField) ReinforceWell(id string, amount float64) error {
	s, ok := f.shapes[id]
	if !ok {
		return fmt.Errorf("reinforce %q: %w", id, ErrUnknownConcept)
	}
	if !finite(amount) {
		return fmt.Errorf("reinforce %q by %v: %w", id, amount, ErrInvalidAmount)
	}
	s.Curvature = math.Min(MaxCurvature, s.Curvature+amount)
	return nil
}

// PerturbField flattens the well after a disproved belief: curvature drops by
// amount (floored at MinCurvature) and the charge is reset to a random value
// in [0, amount).
func (f *TensionField) PerturbField(id string, amount float64) error {
	s, ok := f.shapes[id]
	if !ok {
		return fmt.Errorf("perturb %q: %w", id, ErrUnknownConcept)
	}
	if !finite(amount) {
		return fmt.Errorf("perturb %q by %v: %w", id, amount, ErrInvalidAmount)
	}
	s.Curvature = math.Max(MinCurvature, s.Curvature-amount)
	f.charges[id] = clamp(f.rng.Float64()*amount, 0, MaxCharge)
	f.log(logging.CategoryField).Debug("perturbed %s: curvature=%.3f charge=%.3f", id, s.Curvature, f.charges[id])
	return nil
}

// ChargeConcept adds amount to the concept's charge, capped at MaxCharge.
func (f *TensionField) ChargeConcept(id string, amount float64) error {
	c, ok := f.charges[id]
	if !ok {
		return fmt.Errorf("charge %q: %w", id, ErrUnknownConcept)
	}
	if !finite(amount) {
		return fmt.Errorf("charge %q by %v: %w", id, amount, ErrInvalidAmount)
	}
	f.charges[id] = clamp(c+amount, 0, MaxCharge)
	return nil
}

// Retention is the per-step charge multiplier for a curvature:
// min(0.99, 0.5 + curvature*0.1). Deeper wells hold charge longer.
func Retention(curvature float64) float64 {
	return math.Min(maxRetention, baseRetention+curvature*retentionPerCurv)
}

// ApplyGravity performs one decay step on every concept. It is not scheduled;
// DischargeLightning calls it once per pass.
func (f *TensionField) ApplyGravity() {
	for _, id := range f.order {
		f.charges[id] = clamp(f.charges[id]*Retention(f.shapes[id].Curvature), 0, MaxCharge)
	}
}

// EffectiveTension is (charge_a + charge_b) + 0.1*(curvature_a + curvature_b).
// Unknown ids contribute zero.
func (f *TensionField) EffectiveTension(a, b string) float64 {
	var curv float64
	if s, ok := f.shapes[a]; ok {
		curv += s.Curvature
	}
	if s, ok := f.shapes[b]; ok {
		curv += s.Curvature
	}
	return f.charges[a] + f.charges[b] + curvatureWeight*curv
}

func (f *TensionField) log(cat logging.Category) *logging.Logger {
	if f.logger != nil {
		return f.logger
	}
	return logging.Get(cat)
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// clamp maps NaN to lo.
func clamp(v, lo, hi float64) float64 {
	if math.IsNaN(v) || v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
