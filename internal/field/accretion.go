package field

import (
	"math"

	"elysia/internal/logging"
)

const (
	// AccretionRatio is the largest curvature fraction of a hub that another
	// concept may have and still be absorbed; also the fraction it keeps.
	AccretionRatio = 0.2
	// AccretionTransfer is the share of absorbed curvature the hub gains.
	AccretionTransfer = 0.5
)

// Absorption records a concept folded into a hub.
type Absorption struct {
	Hub      string `json:"hub"`
	Absorbed string `json:"absorbed"`
}

// AccreteKnowledge lets every hub (curvature >= curvatureThreshold) absorb
// each fitting concept whose curvature is at most a fifth of the hub's.
// The hub gains half the absorbed curvature, the absorbed concept keeps a
// fifth of its own, and satellites records the link.
//
// This implementation caps the hub at MaxCurvature, the bound ReinforceWell
// enforces; the bare accretion rule adds the transfer uncapped.
//
// A concept already recorded as a satellite is never absorbed again, so the
// first hub to reach it wins. Absorbed concepts stay registered.
func (f *TensionField) AccreteKnowledge(curvatureThreshold float64) []Absorption {
	log := f.log(logging.CategoryAccretion)
	var out []Absorption

	for _, hub := range f.order {
		hubShape := f.shapes[hub]
		if hubShape.Curvature < curvatureThreshold {
			continue
		}
		for _, other := range f.order {
			if other == hub {
				continue
			}
			if _, taken := f.satellites[other]; taken {
				continue
			}
			otherShape := f.shapes[other]
			if otherShape.Curvature > hubShape.Curvature*AccretionRatio {
				continue
			}
			if _, ok := hubShape.FindFit(otherShape); !ok {
				continue
			}

			hubShape.Curvature = math.Min(MaxCurvature, hubShape.Curvature+otherShape.Curvature*AccretionTransfer)
			otherShape.Curvature *= AccretionRatio
			if f.satellites == nil {
				f.satellites = make(map[string]string)
			}
			f.satellites[other] = hub
			out = append(out, Absorption{Hub: hub, Absorbed: other})

			log.Info("accretion: %s absorbed %s (hub curvature %.3f)", hub, other, hubShape.Curvature)
		}
	}
	return out
}

// ReconstructFromPrinciple returns the concepts absorbed by hubID in
// registration order.
func (f *TensionField) ReconstructFromPrinciple(hubID string) []string {
	var out []string
	for _, id := range f.order {
		if hub, ok := f.satellites[id]; ok && hub == hubID {
			out = append(out, id)
		}
	}
	return out
}

// Satellites returns a copy of the absorbed -> hub map.
func (f *TensionField) Satellites() map[string]string {
	out := make(map[string]string, len(f.satellites))
	for k, v := range f.satellites {
		out[k] = v
	}
	return out
}

// HubOf returns the hub that absorbed id.
func (f *TensionField) HubOf(id string) (string, bool) {
	hub, ok := f.satellites[id]
	return hub, ok
}
