package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"elysia/internal/field"
	"elysia/internal/mangle"
	"elysia/internal/scenario"
	"elysia/internal/store"
	"elysia/internal/system"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var errNoStore = errors.New("store is disabled in the config")

// diagnoseConcepts runs a scenario unrecorded and assesses two of its concepts.
func diagnoseConcepts(cmd *cobra.Command, args []string) error {
	ctx, cancel := commandContext()
	defer cancel()

	rt, err := bootRuntime(ctx)
	if err != nil {
		return err
	}
	defer rt.Close()

	sc, err := scenario.Load(args[0])
	if err != nil {
		return err
	}
	report, err := scenario.NewRunner(rt.FieldOptions()).Run(ctx, sc)
	if err != nil {
		return err
	}

	a, b := args[1], args[2]
	f := field.FromSnapshot(report.Final, rt.FieldOptions())
	assessment := f.AssessLatentCausality(a, b)
	logger.Debug("Assessed latent causality",
		zap.String("a", a), zap.String("b", b), zap.String("kind", string(assessment.Kind)))

	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(scenario.AssessmentResult{A: a, B: b, Assessment: assessment})
	}

	fmt.Printf("%s / %s after %s\n", a, b, sc.Name)
	fmt.Printf("  Kind:         %s\n", assessment.Kind)
	fmt.Printf("  Possible:     %t\n", assessment.Possible)
	fmt.Printf("  Diagnosis:    %s\n", assessment.Diagnosis)
	if assessment.Prescription != "" {
		fmt.Printf("  Prescription: %s\n", assessment.Prescription)
	}
	if assessment.Port != "" {
		fmt.Printf("  Port:         %s (tension %.3f)\n", assessment.Port, assessment.Tension)
	}
	if assessment.EnergyNeeded > 0 {
		fmt.Printf("  Energy:       %.3f more needed\n", assessment.EnergyNeeded)
	}
	if len(assessment.BridgeCandidates) > 0 {
		fmt.Printf("  Bridges:      %s\n", strings.Join(assessment.BridgeCandidates, ", "))
	}
	return nil
}

// showHistory lists runs, or one run's sparks and final field.
func showHistory(cmd *cobra.Command, args []string) error {
	ctx, cancel := commandContext()
	defer cancel()

	rt, err := bootRuntime(ctx)
	if err != nil {
		return err
	}
	defer rt.Close()
	if rt.Store == nil {
		return errNoStore
	}

	if len(args) == 0 {
		runs, err := rt.Store.ListRuns(ctx, historyLimit)
		if err != nil {
			return err
		}
		if len(runs) == 0 {
			fmt.Println("No runs recorded.")
			return nil
		}
		for _, r := range runs {
			state := "running"
			if r.FinishedAt != nil {
				state = fmt.Sprintf("%d steps", r.StepCount)
			}
			fmt.Printf("%s  %-20s  %s  %d sparks  (%s)\n",
				r.ID[:8], r.Scenario, r.StartedAt.Local().Format("2006-01-02 15:04:05"), r.SparkCount, state)
		}
		return nil
	}

	runID, err := resolveRunID(ctx, rt.Store, args[0])
	if err != nil {
		return err
	}
	sparks, err := rt.Store.ListSparks(ctx, runID, historyLimit)
	if err != nil {
		return err
	}
	snap, err := rt.Store.LoadSnapshot(ctx, runID)
	if err != nil {
		return err
	}

	fmt.Printf("Run %s (threshold %.2f)\n", runID, snap.Threshold)
	fmt.Printf("\nSparks (%d):\n", len(sparks))
	for _, sp := range sparks {
		fmt.Printf("  %s  %s\n", sp.CreatedAt.Local().Format("15:04:05"), sp.Description)
	}
	fmt.Printf("\nConcepts (%d):\n", len(snap.Concepts))
	for _, c := range snap.Concepts {
		fmt.Printf("  %s\n", c.Shape)
	}
	sats := make([]string, 0, len(snap.Satellites))
	for sat := range snap.Satellites {
		sats = append(sats, sat)
	}
	sort.Strings(sats)
	for _, sat := range sats {
		fmt.Printf("  %s orbits %s\n", sat, snap.Satellites[sat])
	}
	return nil
}

// showPaths replays a recorded run into a fresh causal reasoner.
func showPaths(cmd *cobra.Command, args []string) error {
	ctx, cancel := commandContext()
	defer cancel()

	rt, err := bootRuntime(ctx)
	if err != nil {
		return err
	}
	defer rt.Close()
	if rt.Store == nil {
		return errNoStore
	}

	runID, err := resolveRunID(ctx, rt.Store, args[0])
	if err != nil {
		return err
	}
	reasoner, err := loadRunReasoner(ctx, rt, runID)
	if err != nil {
		return err
	}

	concept := args[1]
	reach, err := reasoner.Reachable(concept)
	if err != nil {
		return err
	}
	hubs, err := reasoner.Hubs()
	if err != nil {
		return err
	}

	if len(reach) == 0 {
		fmt.Printf("Nothing is causally reachable from %s.\n", concept)
	} else {
		fmt.Printf("Reachable from %s:\n", concept)
		for _, id := range reach {
			ports, err := reasoner.PortsBetween(concept, id)
			if err != nil {
				return err
			}
			if len(ports) > 0 {
				fmt.Printf("  %s (direct via %s)\n", id, strings.Join(ports, ", "))
			} else {
				fmt.Printf("  %s\n", id)
			}
		}
	}
	if len(hubs) > 0 {
		fmt.Printf("Hubs: %s\n", strings.Join(hubs, ", "))
	}

	stats := reasoner.Stats()
	fmt.Printf("Derived from %d sparks and %d satellites (%d facts total)\n",
		stats.PredicateCounts["spark"], stats.PredicateCounts["satellite"], stats.TotalFacts)
	return nil
}

// loadRunReasoner builds a reasoner holding only the given run's facts.
func loadRunReasoner(ctx context.Context, rt *system.Runtime, runID string) (*mangle.CausalReasoner, error) {
	mcfg := mangle.DefaultConfig()
	mcfg.FactLimit = rt.Config.Reasoning.FactLimit
	reasoner, err := mangle.NewCausalReasoner(mcfg)
	if err != nil {
		return nil, err
	}

	records, err := rt.Store.ListSparks(ctx, runID, 0)
	if err != nil {
		return nil, err
	}
	sparks := make([]field.Spark, len(records))
	for i, rec := range records {
		sparks[i] = rec.Spark
	}

	snap, err := rt.Store.LoadSnapshot(ctx, runID)
	if err != nil {
		return nil, err
	}
	absorbed := make([]field.Absorption, 0, len(snap.Satellites))
	for sat, hub := range snap.Satellites {
		absorbed = append(absorbed, field.Absorption{Hub: hub, Absorbed: sat})
	}

	if err := reasoner.Load(sparks, absorbed); err != nil {
		return nil, err
	}

	logger.Debug("Loaded run into reasoner",
		zap.String("run", runID), zap.Int("sparks", len(sparks)), zap.Int("satellites", len(absorbed)))
	return reasoner, nil
}

// resolveRunID accepts a full run id or a unique prefix of one.
func resolveRunID(ctx context.Context, st *store.FieldStore, arg string) (string, error) {
	runs, err := st.ListRuns(ctx, 0)
	if err != nil {
		return "", err
	}
	var matches []string
	for _, r := range runs {
		if r.ID == arg {
			return r.ID, nil
		}
		if strings.HasPrefix(r.ID, arg) {
			matches = append(matches, r.ID)
		}
	}
	switch len(matches) {
	case 0:
		return "", fmt.Errorf("%s: %w", arg, store.ErrRunNotFound)
	case 1:
		return matches[0], nil
	default:
		return "", fmt.Errorf("run id prefix %q is ambiguous (%d matches)", arg, len(matches))
	}
}
