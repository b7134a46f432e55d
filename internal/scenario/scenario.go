// Package scenario loads YAML scenario files and replays them against a
// fresh tension field.
package scenario

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"elysia/internal/causal"

	"gopkg.in/yaml.v3"
)

// Op names one step kind.
type Op string

const (
	OpRegister    Op = "register"
	OpCharge      Op = "charge"
	OpReinforce   Op = "reinforce"
	OpPerturb     Op = "perturb"
	OpGravity     Op = "gravity"
	OpDischarge   Op = "discharge"
	OpAccrete     Op = "accrete"
	OpAssess      Op = "assess"
	OpReconstruct Op = "reconstruct"
)

// Ops lists every supported op.
var Ops = []Op{
	OpRegister, OpCharge, OpReinforce, OpPerturb, OpGravity,
	OpDischarge, OpAccrete, OpAssess, OpReconstruct,
}

// PortSpec is a port in an explicit shape.
type PortSpec struct {
	Name      string  `yaml:"name"`
	Polarity  int     `yaml:"polarity"`
	Intensity float64 `yaml:"intensity"`
}

// ShapeSpec declares a concept with a hand-written shape.
type ShapeSpec struct {
	Concept   string     `yaml:"concept"`
	Curvature float64    `yaml:"curvature"`
	Ports     []PortSpec `yaml:"ports"`
}

// Build converts the YAML description into a causal shape.
func (s ShapeSpec) Build() *causal.Shape {
	shape := causal.NewShape(s.Concept)
	for _, p := range s.Ports {
		intensity := p.Intensity
		if intensity == 0 {
			intensity = 1
		}
		shape.AddPort(p.Name, causal.Polarity(p.Polarity), intensity)
	}
	shape.Curvature = s.Curvature
	return shape
}

// Step is one operation. Which fields matter depends on Op.
type Step struct {
	Op        Op       `yaml:"op"`
	Concept   string   `yaml:"concept,omitempty"`
	Amount    *float64 `yaml:"amount,omitempty"`
	Threshold *float64 `yaml:"threshold,omitempty"`
	AutoShape *bool    `yaml:"auto_shape,omitempty"`
	A         string   `yaml:"a,omitempty"`
	B         string   `yaml:"b,omitempty"`
	Hub       string   `yaml:"hub,omitempty"`
}

// Scenario is a parsed scenario file.
type Scenario struct {
	Name      string      `yaml:"name"`
	Threshold float64     `yaml:"threshold,omitempty"` // 0 = runner default
	Seed      int64       `yaml:"seed,omitempty"`      // 0 = runner default
	Concepts  []string    `yaml:"concepts"`
	Shapes    []ShapeSpec `yaml:"shapes,omitempty"`
	Steps     []Step      `yaml:"steps"`

	Path string `yaml:"-"`
}

// Load reads and validates a scenario file. A missing name defaults to the
// file name without extension.
func Load(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario: %w", err)
	}
	sc, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	sc.Path = path
	if sc.Name == "" {
		sc.Name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	return sc, nil
}

// Parse decodes and validates a scenario document.
func Parse(data []byte) (*Scenario, error) {
	var sc Scenario
	if err := yaml.Unmarshal(data, &sc); err != nil {
		return nil, fmt.Errorf("failed to parse scenario: %w", err)
	}
	if err := sc.Validate(); err != nil {
		return nil, err
	}
	return &sc, nil
}

// Validate checks shapes and steps. All problems are reported together.
func (sc *Scenario) Validate() error {
	var errs []error
	if sc.Threshold < 0 {
		errs = append(errs, fmt.Errorf("threshold must not be negative, got %v", sc.Threshold))
	}
	for i, c := range sc.Concepts {
		if c == "" {
			errs = append(errs, fmt.Errorf("concepts[%d]: empty id", i))
		}
	}
	for i, s := range sc.Shapes {
		if s.Concept == "" {
			errs = append(errs, fmt.Errorf("shapes[%d]: concept is required", i))
		}
		for j, p := range s.Ports {
			if p.Polarity != 1 && p.Polarity != -1 {
				errs = append(errs, fmt.Errorf("shapes[%d].ports[%d]: polarity must be 1 or -1, got %d", i, j, p.Polarity))
			}
		}
	}
	for i, st := range sc.Steps {
		if err := st.validate(); err != nil {
			errs = append(errs, fmt.Errorf("step %d: %w", i, err))
		}
	}
	return errors.Join(errs...)
}

func (st Step) validate() error {
	switch st.Op {
	case OpRegister, OpReinforce, OpPerturb:
		if st.Concept == "" {
			return fmt.Errorf("%s requires concept", st.Op)
		}
	case OpCharge:
		if st.Concept == "" || st.Amount == nil {
			return fmt.Errorf("charge requires concept and amount")
		}
	case OpAssess:
		if st.A == "" || st.B == "" {
			return fmt.Errorf("assess requires a and b")
		}
	case OpReconstruct:
		if st.Hub == "" {
			return fmt.Errorf("reconstruct requires hub")
		}
	case OpGravity, OpDischarge, OpAccrete:
	case "":
		return errors.New("missing op")
	default:
		return fmt.Errorf("unknown op %q", st.Op)
	}
	return nil
}

func (st Step) amountOr(def float64) float64 {
	if st.Amount == nil {
		return def
	}
	return *st.Amount
}
