// Package system wires configuration, logging, persistence and reasoning into
// a single Runtime built once at startup and passed explicitly.
package system

import (
	"context"
	"errors"
	"fmt"
	"os"

	"elysia/internal/config"
	"elysia/internal/field"
	"elysia/internal/logging"
	"elysia/internal/mangle"
	"elysia/internal/scenario"
	"elysia/internal/store"
)

// Runtime holds the process-wide collaborators. Optional parts are nil when
// disabled in the config.
type Runtime struct {
	Config    *config.Config
	Workspace string
	Store     *store.FieldStore
	Reasoner  *mangle.CausalReasoner
}

// Boot validates the config, initializes logging and opens the enabled
// subsystems for the workspace.
func Boot(ctx context.Context, workspace string, cfg *config.Config) (*Runtime, error) {
	if workspace == "" {
		workspace, _ = os.Getwd()
	}
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if err := logging.Initialize(workspace, cfg.Logging.Options()); err != nil {
		return nil, fmt.Errorf("failed to initialize logging: %w", err)
	}

	rt := &Runtime{Config: cfg, Workspace: workspace}

	if cfg.Store.Enabled {
		st, err := store.NewFieldStore(cfg.DatabasePath(workspace))
		if err != nil {
			return nil, fmt.Errorf("failed to open store: %w", err)
		}
		rt.Store = st
	}

	if cfg.Reasoning.Enabled {
		mcfg := mangle.DefaultConfig()
		mcfg.FactLimit = cfg.Reasoning.FactLimit
		r, err := mangle.NewCausalReasoner(mcfg)
		if err != nil {
			_ = rt.Close()
			return nil, fmt.Errorf("failed to start reasoner: %w", err)
		}
		rt.Reasoner = r
	}

	logging.Boot("Runtime ready: workspace=%s store=%t reasoning=%t", workspace, rt.Store != nil, rt.Reasoner != nil)
	return rt, nil
}

// FieldOptions returns field defaults taken from the config.
func (rt *Runtime) FieldOptions() field.Options {
	return field.Options{
		Threshold:  rt.Config.Field.Threshold,
		Seed:       rt.Config.Field.Seed,
		Vocabulary: rt.Config.Field.Vocabulary,
	}
}

// NewRunner returns a scenario runner wired to the enabled sinks.
func (rt *Runtime) NewRunner() *scenario.Runner {
	var opts []scenario.RunnerOption
	if rt.Store != nil {
		opts = append(opts, scenario.WithRecorder(rt.Store))
	}
	if rt.Reasoner != nil {
		opts = append(opts, scenario.WithReasoner(rt.Reasoner))
	}
	return scenario.NewRunner(rt.FieldOptions(), opts...)
}

// Close releases the store and flushes log files.
func (rt *Runtime) Close() error {
	if rt == nil {
		return nil
	}

	var errs []error
	if rt.Store != nil {
		if err := rt.Store.Close(); err != nil {
			errs = append(errs, err)
		}
		rt.Store = nil
	}
	logging.CloseAll()

	return errors.Join(errs...)
}
