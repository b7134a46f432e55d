package mangle

import (
	_ "embed"
	"fmt"
	"sort"

	"elysia/internal/field"
	"elysia/internal/logging"

	"github.com/google/mangle/ast"
)

//go:embed causal.mg
var causalSchema string

// CausalReasoner derives transitive causal links from field events.
type CausalReasoner struct {
	engine *Engine
}

// NewCausalReasoner builds an engine loaded with the causal schema.
func NewCausalReasoner(cfg Config) (*CausalReasoner, error) {
	engine := NewEngine(cfg)
	if err := engine.LoadSchemaString(causalSchema); err != nil {
		return nil, fmt.Errorf("load causal schema: %w", err)
	}
	return &CausalReasoner{engine: engine}, nil
}

// Load asserts a batch of sparks and absorptions and evaluates the rules once
// at the end instead of after every insertion.
func (r *CausalReasoner) Load(sparks []field.Spark, absorbed []field.Absorption) error {
	r.engine.ToggleAutoEval(false)
	defer r.engine.ToggleAutoEval(true)

	if err := r.AssertSparks(sparks); err != nil {
		return err
	}
	if err := r.AssertAbsorptions(absorbed); err != nil {
		return err
	}
	return r.engine.Recompute()
}

// Stats reports the facts held by the reasoner, derived ones included.
func (r *CausalReasoner) Stats() Stats {
	return r.engine.GetStats()
}

// conceptTerm keeps concept ids as string constants. A leading "/" would
// otherwise turn the id into a Mangle name.
func conceptTerm(id string) ast.BaseTerm {
	return ast.String(id)
}

// AssertSparks records discharged sparks as spark/3 facts.
func (r *CausalReasoner) AssertSparks(sparks []field.Spark) error {
	if len(sparks) == 0 {
		return nil
	}
	facts := make([]Fact, 0, len(sparks))
	for _, s := range sparks {
		facts = append(facts, Fact{Predicate: "spark", Args: []interface{}{conceptTerm(s.A), conceptTerm(s.B), conceptTerm(s.Port)}})
	}
	if err := r.engine.AddFacts(facts); err != nil {
		return fmt.Errorf("assert sparks: %w", err)
	}
	logging.ReasoningDebug("Asserted %d sparks", len(sparks))
	return nil
}

// AssertAbsorptions records accretion results as satellite/2 facts.
func (r *CausalReasoner) AssertAbsorptions(absorbed []field.Absorption) error {
	if len(absorbed) == 0 {
		return nil
	}
	facts := make([]Fact, 0, len(absorbed))
	for _, a := range absorbed {
		facts = append(facts, Fact{Predicate: "satellite", Args: []interface{}{conceptTerm(a.Absorbed), conceptTerm(a.Hub)}})
	}
	if err := r.engine.AddFacts(facts); err != nil {
		return fmt.Errorf("assert absorptions: %w", err)
	}
	logging.ReasoningDebug("Asserted %d absorptions", len(absorbed))
	return nil
}

// Reachable returns every concept with a causal path from the given one,
// excluding itself, sorted.
func (r *CausalReasoner) Reachable(from string) ([]string, error) {
	facts, err := r.engine.GetFacts("causal_path")
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool)
	for _, f := range facts {
		a, _ := f.Args[0].(string)
		b, _ := f.Args[1].(string)
		if a == from && b != from {
			seen[b] = true
		}
	}
	return sortedKeys(seen), nil
}

// Hubs returns every concept that has absorbed at least one satellite, sorted.
func (r *CausalReasoner) Hubs() ([]string, error) {
	facts, err := r.engine.GetFacts("hub")
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool, len(facts))
	for _, f := range facts {
		if h, ok := f.Args[0].(string); ok {
			seen[h] = true
		}
	}
	return sortedKeys(seen), nil
}

// PortsBetween lists the ports sparks have used between a and b in either direction.
func (r *CausalReasoner) PortsBetween(a, b string) ([]string, error) {
	facts, err := r.engine.GetFacts("shared_port")
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool)
	for _, f := range facts {
		port, _ := f.Args[0].(string)
		x, _ := f.Args[1].(string)
		y, _ := f.Args[2].(string)
		if (x == a && y == b) || (x == b && y == a) {
			seen[port] = true
		}
	}
	return sortedKeys(seen), nil
}

func sortedKeys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
