package field

import (
	"fmt"
	"strings"

	"elysia/internal/logging"
)

// MaxBridgeCandidates caps the bridge concepts reported for a missing fit.
const MaxBridgeCandidates = 3

// Kind classifies why two concepts can or cannot connect.
type Kind string

const (
	KindMissingConcept      Kind = "missing_concept"
	KindNoFit               Kind = "no_fit"
	KindInsufficientTension Kind = "insufficient_tension"
	KindReady               Kind = "ready"
)

// Assessment is the result of AssessLatentCausality.
type Assessment struct {
	Possible         bool     `json:"possible"`
	Kind             Kind     `json:"kind"`
	Diagnosis        string   `json:"diagnosis"`
	Prescription     string   `json:"prescription"`
	EnergyNeeded     float64  `json:"energy_needed"`
	BridgeCandidates []string `json:"bridge_candidates"`
	Port             string   `json:"port,omitempty"`
	Tension          float64  `json:"tension"`
}

// AssessLatentCausality explains why a and b cannot connect right now, or
// confirms that they can. Checks run in order: registration, port fit,
// tension. The field is not modified.
func (f *TensionField) AssessLatentCausality(a, b string) Assessment {
	res := Assessment{BridgeCandidates: []string{}}

	for _, id := range []string{a, b} {
		if !f.Has(id) {
			res.Kind = KindMissingConcept
			res.Diagnosis = fmt.Sprintf("concept %q is not registered in the field", id)
			res.Prescription = fmt.Sprintf("register %q before asking it to connect", id)
			f.log(logging.CategoryDiagnosis).Debug("assess %s/%s: %s", a, b, res.Diagnosis)
			return res
		}
	}

	sa, sb := f.shapes[a], f.shapes[b]
	fit, ok := sa.FindFit(sb)
	if !ok {
		res.Kind = KindNoFit
		res.Diagnosis = fmt.Sprintf("%q and %q have no interlocking ports", a, b)
		res.BridgeCandidates = f.bridges(a, b)
		if len(res.BridgeCandidates) > 0 {
			res.Prescription = fmt.Sprintf("route the connection through %s", strings.Join(res.BridgeCandidates, ", "))
		} else {
			res.Prescription = fmt.Sprintf("learn a new concept that fits both %q and %q", a, b)
		}
		f.log(logging.CategoryDiagnosis).Debug("assess %s/%s: no fit, %d bridges", a, b, len(res.BridgeCandidates))
		return res
	}

	res.Port = fit.Mine.Name
	res.Tension = f.EffectiveTension(a, b)
	if res.Tension < f.threshold {
		res.Kind = KindInsufficientTension
		res.EnergyNeeded = f.threshold - res.Tension
		res.Diagnosis = fmt.Sprintf("%q and %q fit via %q but tension %.2f is below threshold %.2f",
			a, b, fit.Mine.Name, res.Tension, f.threshold)
		res.Prescription = fmt.Sprintf("charge %q and %q by at least %.2f combined", a, b, res.EnergyNeeded)
		f.log(logging.CategoryDiagnosis).Debug("assess %s/%s: %s", a, b, res.Diagnosis)
		return res
	}

	res.Possible = true
	res.Kind = KindReady
	res.Diagnosis = fmt.Sprintf("%q and %q fit via %q at tension %.2f", a, b, fit.Mine.Name, res.Tension)
	res.Prescription = "run a discharge pass (DischargeLightning) to connect them"
	return res
}

// bridges returns up to MaxBridgeCandidates registered concepts, other than a
// and b, whose shapes fit both of them.
func (f *TensionField) bridges(a, b string) []string {
	out := []string{}
	sa, sb := f.shapes[a], f.shapes[b]
	for _, id := range f.order {
		if id == a || id == b {
			continue
		}
		s := f.shapes[id]
		if _, ok := s.FindFit(sa); !ok {
			continue
		}
		if _, ok := s.FindFit(sb); !ok {
			continue
		}
		out = append(out, id)
		if len(out) == MaxBridgeCandidates {
			break
		}
	}
	return out
}
