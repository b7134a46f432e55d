package scenario

import (
	"context"
	"errors"
	"fmt"
	"time"

	"elysia/internal/field"
	"elysia/internal/logging"
	"elysia/internal/store"
)

// Recorder persists a run. *store.FieldStore satisfies it.
type Recorder interface {
	BeginRun(ctx context.Context, scenario string, threshold float64) (*store.Run, error)
	RecordSparks(ctx context.Context, runID string, sparks []field.Spark) error
	RecordAbsorptions(ctx context.Context, runID string, absorbed []field.Absorption) error
	SaveSnapshot(ctx context.Context, runID string, snap field.Snapshot) error
	FinishRun(ctx context.Context, runID string, steps int) error
}

// Reasoner receives field events for causal inference.
// *mangle.CausalReasoner satisfies it.
type Reasoner interface {
	AssertSparks(sparks []field.Spark) error
	AssertAbsorptions(absorbed []field.Absorption) error
}

// StepResult summarizes one executed step.
type StepResult struct {
	Index   int    `json:"index"`
	Op      Op     `json:"op"`
	Summary string `json:"summary"`
	Warning string `json:"warning,omitempty"`
}

// AssessmentResult pairs an assessment with the concepts asked about.
type AssessmentResult struct {
	A string `json:"a"`
	B string `json:"b"`
	field.Assessment
}

// Report is everything a run produced.
type Report struct {
	Scenario        string              `json:"scenario"`
	RunID           string              `json:"run_id,omitempty"`
	Threshold       float64             `json:"threshold"`
	Steps           []StepResult        `json:"steps"`
	Sparks          []field.Spark       `json:"sparks"`
	Absorptions     []field.Absorption  `json:"absorptions"`
	Assessments     []AssessmentResult  `json:"assessments"`
	Reconstructions map[string][]string `json:"reconstructions,omitempty"`
	Warnings        []string            `json:"warnings"`
	Final           field.Snapshot      `json:"final"`
	Duration        time.Duration       `json:"duration"`
}

// Runner executes scenarios. A Runner holds no field state between runs and
// may be shared across goroutines as long as its sinks are.
type Runner struct {
	defaults field.Options
	recorder Recorder
	reasoner Reasoner
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithRecorder persists every run.
func WithRecorder(r Recorder) RunnerOption {
	return func(rn *Runner) { rn.recorder = r }
}

// WithReasoner forwards sparks and absorptions to a reasoner.
func WithReasoner(r Reasoner) RunnerOption {
	return func(rn *Runner) { rn.reasoner = r }
}

// NewRunner creates a runner. defaults supplies threshold, seed and vocabulary
// when a scenario leaves them unset.
func NewRunner(defaults field.Options, opts ...RunnerOption) *Runner {
	r := &Runner{defaults: defaults}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run builds a fresh field, registers the scenario's shapes and concepts, then
// executes the steps in order. Unknown-concept and invalid-amount errors become
// warnings; sink failures and context cancellation abort the run.
func (r *Runner) Run(ctx context.Context, sc *Scenario) (*Report, error) {
	timer := logging.StartTimer(logging.CategoryScenario, "Run "+sc.Name)
	defer timer.Stop()

	opts := r.defaults
	if sc.Threshold > 0 {
		opts.Threshold = sc.Threshold
	}
	if sc.Seed != 0 {
		opts.Seed = sc.Seed
	}
	f := field.New(opts)

	// Explicit shapes first so a concept listed in both keeps its hand-written shape.
	for _, s := range sc.Shapes {
		f.RegisterShape(s.Build())
	}
	for _, id := range sc.Concepts {
		f.RegisterConcept(id, true)
	}

	report := &Report{
		Scenario:    sc.Name,
		Threshold:   f.Threshold(),
		Sparks:      []field.Spark{},
		Absorptions: []field.Absorption{},
		Assessments: []AssessmentResult{},
		Warnings:    []string{},
	}
	start := time.Now()

	if r.recorder != nil {
		run, err := r.recorder.BeginRun(ctx, sc.Name, f.Threshold())
		if err != nil {
			return nil, fmt.Errorf("begin run: %w", err)
		}
		report.RunID = run.ID
	}

	logging.Scenario("Running %s: %d concepts, %d steps", sc.Name, f.Len(), len(sc.Steps))

	for i, st := range sc.Steps {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("step %d: %w", i, err)
		}
		res, err := r.exec(ctx, f, report, i, st)
		if err != nil {
			return nil, fmt.Errorf("step %d (%s): %w", i, st.Op, err)
		}
		if res.Warning != "" {
			report.Warnings = append(report.Warnings, fmt.Sprintf("step %d (%s): %s", i, st.Op, res.Warning))
			logging.ScenarioWarn("%s step %d: %s", sc.Name, i, res.Warning)
		}
		report.Steps = append(report.Steps, res)
	}

	report.Final = f.Snapshot()
	report.Duration = time.Since(start)

	if r.recorder != nil {
		if err := r.recorder.SaveSnapshot(ctx, report.RunID, report.Final); err != nil {
			return nil, fmt.Errorf("save snapshot: %w", err)
		}
		if err := r.recorder.FinishRun(ctx, report.RunID, len(report.Steps)); err != nil {
			return nil, fmt.Errorf("finish run: %w", err)
		}
	}

	logging.Scenario("Finished %s: %d sparks, %d absorptions, %d warnings",
		sc.Name, len(report.Sparks), len(report.Absorptions), len(report.Warnings))
	return report, nil
}

// exec runs a single step. The returned error is reserved for sink failures.
func (r *Runner) exec(ctx context.Context, f *field.TensionField, report *Report, i int, st Step) (StepResult, error) {
	res := StepResult{Index: i, Op: st.Op}

	warn := func(err error) (StepResult, error) {
		if errors.Is(err, field.ErrUnknownConcept) || errors.Is(err, field.ErrInvalidAmount) {
			res.Warning = err.Error()
			return res, nil
		}
		return res, err
	}

	switch st.Op {
	case OpRegister:
		auto := st.AutoShape == nil || *st.AutoShape
		f.RegisterConcept(st.Concept, auto)
		s, _ := f.Shape(st.Concept)
		res.Summary = fmt.Sprintf("registered %s", s)

	case OpCharge:
		amount := st.amountOr(0)
		if err := f.ChargeConcept(st.Concept, amount); err != nil {
			return warn(err)
		}
		c, _ := f.Charge(st.Concept)
		res.Summary = fmt.Sprintf("charged %s by %.2f -> %.2f", st.Concept, amount, c)

	case OpReinforce:
		amount := st.amountOr(field.DefaultReinforce)
		if err := f.ReinforceWell(st.Concept, amount); err != nil {
			return warn(err)
		}
		c, _ := f.Curvature(st.Concept)
		res.Summary = fmt.Sprintf("reinforced %s by %.2f -> curvature %.2f", st.Concept, amount, c)

	case OpPerturb:
		amount := st.amountOr(field.DefaultPerturb)
		if err := f.PerturbField(st.Concept, amount); err != nil {
			return warn(err)
		}
		c, _ := f.Charge(st.Concept)
		res.Summary = fmt.Sprintf("perturbed %s -> charge %.2f", st.Concept, c)

	case OpGravity:
		f.ApplyGravity()
		res.Summary = "applied gravity"

	case OpDischarge:
		sparks := f.DischargeLightning()
		report.Sparks = append(report.Sparks, sparks...)
		res.Summary = fmt.Sprintf("%d sparks", len(sparks))
		if len(sparks) == 0 {
			break
		}
		if r.recorder != nil {
			if err := r.recorder.RecordSparks(ctx, report.RunID, sparks); err != nil {
				return res, err
			}
		}
		if r.reasoner != nil {
			if err := r.reasoner.AssertSparks(sparks); err != nil {
				return res, err
			}
		}

	case OpAccrete:
		threshold := field.DefaultAccretionThreshold
		if st.Threshold != nil {
			threshold = *st.Threshold
		}
		absorbed := f.AccreteKnowledge(threshold)
		report.Absorptions = append(report.Absorptions, absorbed...)
		res.Summary = fmt.Sprintf("%d absorptions at threshold %.2f", len(absorbed), threshold)
		if len(absorbed) == 0 {
			break
		}
		if r.recorder != nil {
			if err := r.recorder.RecordAbsorptions(ctx, report.RunID, absorbed); err != nil {
				return res, err
			}
		}
		if r.reasoner != nil {
			if err := r.reasoner.AssertAbsorptions(absorbed); err != nil {
				return res, err
			}
		}

	case OpAssess:
		a := f.AssessLatentCausality(st.A, st.B)
		report.Assessments = append(report.Assessments, AssessmentResult{A: st.A, B: st.B, Assessment: a})
		res.Summary = fmt.Sprintf("%s/%s: %s", st.A, st.B, a.Kind)

	case OpReconstruct:
		sats := f.ReconstructFromPrinciple(st.Hub)
		if report.Reconstructions == nil {
			report.Reconstructions = make(map[string][]string)
		}
		report.Reconstructions[st.Hub] = sats
		res.Summary = fmt.Sprintf("%s has %d satellites", st.Hub, len(sats))

	default:
		return res, fmt.Errorf("unknown op %q", st.Op)
	}
	return res, nil
}
