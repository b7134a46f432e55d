package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"elysia/internal/scenario"
	"elysia/internal/system"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// runScenarios runs every file concurrently and prints reports in argument order.
func runScenarios(cmd *cobra.Command, args []string) error {
	ctx, cancel := commandContext()
	defer cancel()

	rt, err := bootRuntime(ctx)
	if err != nil {
		return err
	}
	defer rt.Close()

	reports, err := runFiles(ctx, rt, args)
	if err != nil {
		return err
	}

	for _, report := range reports {
		if err := printReport(os.Stdout, report); err != nil {
			return err
		}
	}
	return nil
}

// runFiles loads and runs scenarios with at most --parallel in flight.
// The first failure cancels the rest.
func runFiles(ctx context.Context, rt *system.Runtime, paths []string) ([]*scenario.Report, error) {
	// Load everything before any run is recorded.
	scenarios := make([]*scenario.Scenario, len(paths))
	for i, p := range paths {
		sc, err := scenario.Load(p)
		if err != nil {
			return nil, err
		}
		scenarios[i] = sc
	}

	runner := rt.NewRunner()
	reports := make([]*scenario.Report, len(scenarios))

	g, gctx := errgroup.WithContext(ctx)
	if parallelism > 0 {
		g.SetLimit(parallelism)
	}
	for i, sc := range scenarios {
		i, sc := i, sc
		g.Go(func() error {
			logger.Debug("Running scenario", zap.String("name", sc.Name), zap.String("path", sc.Path))
			report, err := runner.Run(gctx, sc)
			if err != nil {
				return fmt.Errorf("%s: %w", sc.Path, err)
			}
			reports[i] = report
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return reports, nil
}

// watchScenarios runs every file once, then again after each save until interrupted.
func watchScenarios(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext(cmd.Context())
	defer cancel()

	rt, err := bootRuntime(ctx)
	if err != nil {
		return err
	}
	defer rt.Close()

	runner := rt.NewRunner()
	rerun := func(ctx context.Context, path string) error {
		sc, err := scenario.Load(path)
		if err != nil {
			fmt.Fprintf(os.Stderr, "%s: %v\n", path, err)
			return err
		}
		report, err := runner.Run(ctx, sc)
		if err != nil {
			fmt.Fprintf(os.Stderr, "%s: %v\n", path, err)
			return err
		}
		return printReport(os.Stdout, report)
	}

	for _, p := range args {
		// A broken file on startup is reported but still watched.
		_ = rerun(ctx, p)
	}

	w, err := scenario.NewWatcher(args, rt.Config.GetDebounce(), rerun)
	if err != nil {
		return err
	}
	if err := w.Start(ctx); err != nil {
		return err
	}
	defer w.Stop()

	fmt.Fprintf(os.Stderr, "Watching %d scenario(s). Press Ctrl+C to stop.\n", len(args))
	logger.Info("Watching scenarios", zap.Strings("paths", args))

	select {
	case <-ctx.Done():
	case <-w.Done():
	}

	stats := w.GetStats()
	logger.Info("Watcher stopped",
		zap.Int("events", stats.Events),
		zap.Int("runs", stats.Runs),
		zap.Int("errors", stats.Errors))
	return nil
}

// printReport writes a report as text, or as JSON with --json.
func printReport(w io.Writer, r *scenario.Report) error {
	if jsonOutput {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(r)
	}

	fmt.Fprintf(w, "Scenario: %s\n", r.Scenario)
	if r.RunID != "" {
		fmt.Fprintf(w, "Run:       %s\n", r.RunID)
	}
	fmt.Fprintf(w, "Threshold: %.2f\n", r.Threshold)
	fmt.Fprintf(w, "Steps:     %d (%s)\n", len(r.Steps), r.Duration.Round(time.Microsecond))

	if len(r.Sparks) > 0 {
		fmt.Fprintln(w, "\nSparks:")
		for _, sp := range r.Sparks {
			fmt.Fprintf(w, "  ⚡ %s\n", sp.Description)
		}
	}
	if len(r.Absorptions) > 0 {
		fmt.Fprintln(w, "\nAccretion:")
		for _, a := range r.Absorptions {
			fmt.Fprintf(w, "  %s -> %s\n", a.Absorbed, a.Hub)
		}
	}
	if len(r.Assessments) > 0 {
		fmt.Fprintln(w, "\nAssessments:")
		for _, a := range r.Assessments {
			fmt.Fprintf(w, "  %s / %s: %s\n", a.A, a.B, a.Diagnosis)
			if a.Prescription != "" {
				fmt.Fprintf(w, "    -> %s\n", a.Prescription)
			}
		}
	}
	if len(r.Reconstructions) > 0 {
		fmt.Fprintln(w, "\nReconstructions:")
		for _, hub := range sortedReconstructionKeys(r.Reconstructions) {
			sats := r.Reconstructions[hub]
			if len(sats) == 0 {
				fmt.Fprintf(w, "  %s: (no satellites)\n", hub)
				continue
			}
			fmt.Fprintf(w, "  %s: %s\n", hub, strings.Join(sats, ", "))
		}
	}
	if len(r.Warnings) > 0 {
		fmt.Fprintln(w, "\nWarnings:")
		for _, warn := range r.Warnings {
			fmt.Fprintf(w, "  ! %s\n", warn)
		}
	}

	fmt.Fprintln(w, "\nFinal field:")
	for _, c := range r.Final.Concepts {
		line := fmt.Sprintf("  %-12s charge=%.3f curvature=%.2f ports=%d",
			c.Shape.ConceptID, c.Charge, c.Shape.Curvature, len(c.Shape.Ports))
		if hub, ok := r.Final.Satellites[c.Shape.ConceptID]; ok {
			line += " satellite-of=" + hub
		}
		fmt.Fprintln(w, line)
	}
	fmt.Fprintln(w)
	return nil
}

func sortedReconstructionKeys(m map[string][]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// displayPath shortens p relative to the workspace when possible.
func displayPath(ws, p string) string {
	if rel, err := filepath.Rel(ws, p); err == nil && !strings.HasPrefix(rel, "..") {
		return rel
	}
	return p
}
