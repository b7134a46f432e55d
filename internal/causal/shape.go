// Package causal models the "puzzle piece" interface of a concept: the set of
// polarized ports it exposes and the curvature (accumulated importance) that
// the tension field reads when it decides what may connect.
package causal

import (
	"fmt"
	"strings"
)

// Polarity marks a port as offering (+1) or requiring (-1) something.
type Polarity int

const (
	Provider Polarity = 1
	Receiver Polarity = -1
)

// String returns "+" for providers and "-" for receivers.
func (p Polarity) String() string {
	switch p {
	case Provider:
		return "+"
	case Receiver:
		return "-"
	default:
		return fmt.Sprintf("%d", int(p))
	}
}

// Port is a named, polarized socket on a shape.
// Intensity is carried for reporting; matching ignores it.
type Port struct {
	Name      string   `json:"name" yaml:"name"`
	Polarity  Polarity `json:"polarity" yaml:"polarity"`
	Intensity float64  `json:"intensity" yaml:"intensity"`
}

// Fits reports whether two ports lock together: opposite polarity and the
// exact same name.
func (p Port) Fits(other Port) bool {
	return p.Polarity+other.Polarity == 0 && p.Name == other.Name
}

func (p Port) String() string {
	return fmt.Sprintf("%s%s", p.Polarity, p.Name)
}

// Fit is a compatible port pair found by FindFit.
type Fit struct {
	Mine   Port
	Theirs Port
}

// Shape is the interface a concept presents to the field.
type Shape struct {
	ConceptID string  `json:"concept_id"`
	Ports     []Port  `json:"ports"`
	Curvature float64 `json:"curvature"`
}

// NewShape returns an empty shape for the concept.
func NewShape(conceptID string) *Shape {
	return &Shape{ConceptID: conceptID}
}

// AddPort appends a port. Names are not validated and duplicates are kept.
func (s *Shape) AddPort(name string, polarity Polarity, intensity float64) {
	s.Ports = append(s.Ports, Port{Name: name, Polarity: polarity, Intensity: intensity})
}

// FindFit scans s.Ports x other.Ports in declaration order and returns the
// first compatible pair. First match wins; there is no notion of a better fit.
func (s *Shape) FindFit(other *Shape) (Fit, bool) {
	if s == nil || other == nil {
		return Fit{}, false
	}
	for _, mine := range s.Ports {
		for _, theirs := range other.Ports {
			if mine.Fits(theirs) {
				return Fit{Mine: mine, Theirs: theirs}, true
			}
		}
	}
	return Fit{}, false
}

// Clone returns a deep copy.
func (s *Shape) Clone() *Shape {
	if s == nil {
		return nil
	}
	out := &Shape{ConceptID: s.ConceptID, Curvature: s.Curvature}
	if len(s.Ports) > 0 {
		out.Ports = make([]Port, len(s.Ports))
		copy(out.Ports, s.Ports)
	}
	return out
}

// String renders the shape as "id{+Logic,-Memory}@0.20".
func (s *Shape) String() string {
	parts := make([]string, 0, len(s.Ports))
	for _, p := range s.Ports {
		parts = append(parts, p.String())
	}
	return fmt.Sprintf("%s{%s}@%.2f", s.ConceptID, strings.Join(parts, ","), s.Curvature)
}
