package main

import (
	"fmt"
	"os"
	"sort"

	"elysia/internal/config"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// initConfig writes the default config into the workspace.
func initConfig(cmd *cobra.Command, args []string) error {
	ws := resolveWorkspace()
	path := resolveConfigPath(ws)

	if _, err := os.Stat(path); err == nil && !forceInit {
		return fmt.Errorf("%s already exists (use --force to overwrite)", displayPath(ws, path))
	}

	if err := config.DefaultConfig().Save(path); err != nil {
		return err
	}
	logger.Info("Wrote default config", zap.String("path", path))
	fmt.Printf("✓ Wrote %s\n", displayPath(ws, path))
	return nil
}

// showConfig prints the effective config, env overrides included.
func showConfig(cmd *cobra.Command, args []string) error {
	ws := resolveWorkspace()
	cfg, err := loadConfig(ws)
	if err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	fmt.Printf("# %s\n%s", displayPath(ws, resolveConfigPath(ws)), data)
	return nil
}

// showStatus displays workspace, config and database state.
func showStatus(cmd *cobra.Command, args []string) error {
	ctx, cancel := commandContext()
	defer cancel()

	rt, err := bootRuntime(ctx)
	if err != nil {
		return err
	}
	defer rt.Close()

	cfgPath := resolveConfigPath(rt.Workspace)
	cfgState := "defaults"
	if _, err := os.Stat(cfgPath); err == nil {
		cfgState = displayPath(rt.Workspace, cfgPath)
	}

	fmt.Println("Elysia Status")
	fmt.Println("=============")
	fmt.Printf("Workspace: %s\n", rt.Workspace)
	fmt.Printf("Config:    %s\n", cfgState)
	fmt.Printf("Threshold: %.2f\n", rt.Config.Field.Threshold)
	fmt.Printf("Seed:      %d\n", rt.Config.Field.Seed)
	fmt.Printf("Vocabulary: %d port tags\n", len(rt.Config.Field.Vocabulary))

	if rt.Reasoner != nil {
		fmt.Println("Reasoning: enabled")
	} else {
		fmt.Println("Reasoning: disabled")
	}

	if rt.Store == nil {
		fmt.Println("Store:     disabled")
		return nil
	}
	fmt.Printf("Store:     %s\n", displayPath(rt.Workspace, rt.Store.Path()))
	stats, err := rt.Store.GetStats()
	if err != nil {
		return err
	}
	tables := make([]string, 0, len(stats))
	for t := range stats {
		tables = append(tables, t)
	}
	sort.Strings(tables)
	for _, t := range tables {
		fmt.Printf("  %-16s %d\n", t+":", stats[t])
	}
	return nil
}
