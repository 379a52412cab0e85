package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/aretw0/toolgate/internal/cli"
	"github.com/aretw0/toolgate/internal/config"
	"github.com/aretw0/toolgate/internal/demo"
	"github.com/aretw0/toolgate/pkg/adapters/process"
	"github.com/aretw0/toolgate/pkg/registry"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "toolgate",
	Short: "toolgate compiles tool contracts and dispatches agent tool calls",
	Long: `toolgate turns a directory of tool definitions into a versioned registry
artifact, and serves that registry to agents with per-session guards:
validation, mode and confirmation policy, retries, duplicate and loop detection.`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().String("config", "", "Config file (default ./toolgate.yaml when present)")
	rootCmd.PersistentFlags().String("log-level", "info", "Log level: debug, info, warn, error or off")
	rootCmd.PersistentFlags().String("handlers", "handlers.yaml", "File binding handler references to external commands")
}

// resolver binds handler references to the commands listed in the handlers
// file first, then to the demo help desk linked into this binary. Embedding
// applications build their own binary with their own catalog.
func resolver(cfg *config.Config, logger *slog.Logger) (registry.Resolver, error) {
	handlers, err := process.LoadHandlers(cfg.Handlers)
	if err != nil {
		return nil, err
	}
	runner := process.NewRunner(
		process.WithRegistry(handlers),
		process.WithBaseDir(filepath.Dir(cfg.Handlers)),
		process.WithLogger(logger),
	)
	return registry.Chain(runner, demo.NewDesk().Catalog()), nil
}

// loadConfig binds the named flags of cmd to config keys, then loads the
// configuration. Flags only override the file when set explicitly.
func loadConfig(cmd *cobra.Command, bindings map[string]string) (*config.Config, *slog.Logger, error) {
	v := config.New()
	bindings["log-level"] = "log_level"
	bindings["handlers"] = "handlers"
	for flag, key := range bindings {
		f := cmd.Flags().Lookup(flag)
		if f == nil {
			continue
		}
		if err := v.BindPFlag(key, f); err != nil {
			return nil, nil, fmt.Errorf("failed to bind --%s: %w", flag, err)
		}
	}

	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(v, path)
	if err != nil {
		return nil, nil, err
	}
	return cfg, cli.NewLogger(cfg.LogLevel), nil
}
