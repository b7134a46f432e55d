package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"elysia/internal/config"
	"elysia/internal/system"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	// Global flags
	verbose    bool
	workspace  string
	configPath string
	timeout    time.Duration

	// Command flags
	jsonOutput   bool
	noStore      bool
	parallelism  int
	historyLimit int
	forceInit    bool

	// Logger
	logger *zap.Logger
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "elysia",
	Short: "Elysia - tension field causal reasoning",
	Long: `Elysia models concepts as puzzle-piece shapes in a tension field.

Charge builds up on concepts, gravity wells hold it, and when two excited
concepts have interlocking ports the field discharges as lightning, forming
a causal link. Heavy concepts accrete lighter ones into hubs.

Scenarios are YAML files of concepts, shapes and steps; run them, watch
them, and inspect the recorded history and causal paths.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg := zap.NewProductionConfig()
		if verbose {
			cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = cfg.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

// runCmd runs scenario files
var runCmd = &cobra.Command{
	Use:   "run [scenario.yaml...]",
	Short: "Run one or more scenario files",
	Long: `Loads each scenario, replays it against a fresh tension field and prints
the report. Several files run concurrently; reports print in argument order.
Runs are recorded in the workspace database unless --no-store is given.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runScenarios,
}

// watchCmd re-runs scenarios on save
var watchCmd = &cobra.Command{
	Use:   "watch [scenario.yaml...]",
	Short: "Re-run scenario files whenever they change",
	Long: `Runs each scenario once, then again after every save, until interrupted.
--timeout does not apply to watch.`,
	Args:  cobra.MinimumNArgs(1),
	RunE:  watchScenarios,
}

// diagnoseCmd explains why two concepts do or do not connect
var diagnoseCmd = &cobra.Command{
	Use:   "diagnose [scenario.yaml] [concept-a] [concept-b]",
	Short: "Assess latent causality between two concepts after a scenario",
	Long: `Runs the scenario without recording it, then asks the final field why
concept-a and concept-b cannot connect (missing concept, no fitting ports,
or insufficient tension), or confirms that they can.`,
	Args: cobra.ExactArgs(3),
	RunE: diagnoseConcepts,
}

// historyCmd lists recorded runs
var historyCmd = &cobra.Command{
	Use:   "history [run-id]",
	Short: "List recorded runs, or the sparks of one run",
	Args:  cobra.MaximumNArgs(1),
	RunE:  showHistory,
}

// pathsCmd derives causal paths for a recorded run
var pathsCmd = &cobra.Command{
	Use:   "paths [run-id] [concept]",
	Short: "Show concepts causally reachable from a concept in a recorded run",
	Long: `Loads a run's sparks and satellites into the Mangle causal schema and
prints every concept reachable through chains of sparks and accretion links,
plus the hubs of the run.`,
	Args: cobra.ExactArgs(2),
	RunE: showPaths,
}

// configCmd manages the workspace config
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage the workspace configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write the default configuration to .elysia/config.yaml",
	RunE:  initConfig,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	RunE:  showConfig,
}

// statusCmd shows system status
var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show workspace, configuration and database status",
	RunE:  showStatus,
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	rootCmd.PersistentFlags().StringVarP(&workspace, "workspace", "w", "", "Workspace directory (default: nearest .elysia or go.mod)")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Config file (default: <workspace>/.elysia/config.yaml)")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 5*time.Minute, "Operation timeout")

	runCmd.Flags().BoolVar(&jsonOutput, "json", false, "Print reports as JSON")
	runCmd.Flags().BoolVar(&noStore, "no-store", false, "Do not record runs in the database")
	runCmd.Flags().IntVarP(&parallelism, "parallel", "p", 4, "Maximum scenarios run at once")

	watchCmd.Flags().BoolVar(&jsonOutput, "json", false, "Print reports as JSON")
	watchCmd.Flags().BoolVar(&noStore, "no-store", false, "Do not record runs in the database")

	diagnoseCmd.Flags().BoolVar(&jsonOutput, "json", false, "Print the assessment as JSON")

	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "Maximum rows to list (0 = all)")

	configInitCmd.Flags().BoolVarP(&forceInit, "force", "f", false, "Overwrite an existing config")
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configShowCmd)

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(diagnoseCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(pathsCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(statusCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// resolveWorkspace returns the --workspace flag or the detected workspace root.
func resolveWorkspace() string {
	if workspace != "" {
		return workspace
	}
	ws, err := config.FindWorkspaceRoot()
	if err != nil {
		ws, _ = os.Getwd()
	}
	return ws
}

func resolveConfigPath(ws string) string {
	if configPath != "" {
		return configPath
	}
	return config.DefaultConfigPath(ws)
}

func loadConfig(ws string) (*config.Config, error) {
	cfg, err := config.Load(resolveConfigPath(ws))
	if err != nil {
		return nil, err
	}
	if noStore {
		cfg.Store.Enabled = false
	}
	return cfg, nil
}

// bootRuntime loads the config and boots the runtime for the workspace.
func bootRuntime(ctx context.Context) (*system.Runtime, error) {
	ws := resolveWorkspace()
	cfg, err := loadConfig(ws)
	if err != nil {
		return nil, err
	}
	logger.Debug("Booting runtime", zap.String("workspace", ws), zap.Bool("store", cfg.Store.Enabled))
	return system.Boot(ctx, ws, cfg)
}

// commandContext applies --timeout and cancels on SIGINT/SIGTERM.
func commandContext() (context.Context, context.CancelFunc) {
	ctx, stop := signalContext(context.Background())
	if timeout <= 0 {
		return ctx, stop
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	return ctx, func() {
		cancel()
		stop()
	}
}

// signalContext cancels only on SIGINT/SIGTERM or when parent ends.
// Long-running commands such as watch use it directly so --timeout never applies.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithCancel(parent)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case <-sigCh:
			logger.Info("Received shutdown signal")
			cancel()
		case <-ctx.Done():
		}
	}()

	return ctx, func() {
		signal.Stop(sigCh)
		cancel()
	}
}
