package field

import (
	"elysia/internal/causal"
)

// ConceptState is one concept inside a Snapshot.
type ConceptState struct {
	Shape  *causal.Shape `json:"shape"`
	Charge float64       `json:"charge"`
}

// Snapshot is a deep, detached copy of a field. Replaying the same calls on
// two fields restored from one snapshot gives the same results.
type Snapshot struct {
	Threshold  float64           `json:"threshold"`
	Concepts   []ConceptState    `json:"concepts"` // registration order
	Satellites map[string]string `json:"satellites,omitempty"`
}

// Snapshot captures the current state.
func (f *TensionField) Snapshot() Snapshot {
	snap := Snapshot{
		Threshold: f.threshold,
		Concepts:  make([]ConceptState, 0, len(f.order)),
	}
	for _, id := range f.order {
		snap.Concepts = append(snap.Concepts, ConceptState{
			Shape:  f.shapes[id].Clone(),
			Charge: f.charges[id],
		})
	}
	if len(f.satellites) > 0 {
		snap.Satellites = f.Satellites()
	}
	return snap
}

// FromSnapshot rebuilds a field. The snapshot threshold wins over
// opts.Threshold; the RNG is seeded from opts.
func FromSnapshot(snap Snapshot, opts Options) *TensionField {
	opts.Threshold = snap.Threshold
	f := New(opts)
	for _, c := range snap.Concepts {
		if c.Shape == nil || f.Has(c.Shape.ConceptID) {
			continue
		}
		f.insert(c.Shape.Clone())
		f.charges[c.Shape.ConceptID] = clamp(c.Charge, 0, MaxCharge)
	}
	for absorbed, hub := range snap.Satellites {
		if !f.Has(absorbed) {
			continue
		}
		if f.satellites == nil {
			f.satellites = make(map[string]string)
		}
		f.satellites[absorbed] = hub
	}
	return f
}
