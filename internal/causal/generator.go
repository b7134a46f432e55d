package causal

import (
	"math/rand"
)

// DefaultVocabulary is the pool of semantic tags procedural shapes draw from.
var DefaultVocabulary = []string{
	"Logic",
	"Emotion",
	"Memory",
	"Structure",
	"Time",
	"Desire",
	"Language",
	"Pattern",
}

const (
	// MaxGeneratedPorts bounds procedural shapes to 1..MaxGeneratedPorts ports.
	MaxGeneratedPorts = 3
	// CurvaturePerPort is the initial curvature contributed by each generated port.
	CurvaturePerPort = 0.1
)

// Generator derives shapes deterministically from concept names.
// Each call builds its own rand.Rand, so no global RNG state is read or written.
type Generator struct {
	vocabulary []string
}

// NewGenerator returns a generator over vocab, or DefaultVocabulary when vocab is empty.
func NewGenerator(vocab []string) *Generator {
	if len(vocab) == 0 {
		vocab = DefaultVocabulary
	}
	v := make([]string, len(vocab))
	copy(v, vocab)
	return &Generator{vocabulary: v}
}

// Vocabulary returns a copy of the tag pool.
func (g *Generator) Vocabulary() []string {
	out := make([]string, len(g.vocabulary))
	copy(out, g.vocabulary)
	return out
}

// Seed is the sum of the character codes of conceptID.
func Seed(conceptID string) int64 {
	var sum int64
	for _, r := range conceptID {
		sum += int64(r)
	}
	return sum
}

// Generate builds 1-3 ports and an initial curvature of 0.1 per port.
func (g *Generator) Generate(conceptID string) *Shape {
	rng := rand.New(rand.NewSource(Seed(conceptID)))

	shape := NewShape(conceptID)
	n := 1 + rng.Intn(MaxGeneratedPorts)
	for i := 0; i < n; i++ {
		name := g.vocabulary[rng.Intn(len(g.vocabulary))]
		polarity := Provider
		if rng.Intn(2) == 1 {
			polarity = Receiver
		}
		intensity := 0.5 + rng.Float64()*0.5
		shape.AddPort(name, polarity, intensity)
	}
	shape.Curvature = CurvaturePerPort * float64(n)
	return shape
}
