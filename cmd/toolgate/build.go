package main

import (
	"context"
	"os"

	"github.com/aretw0/toolgate/internal/cli"
	"github.com/spf13/cobra"
)

var buildCmd = &cobra.Command{
	Use:   "build",
	Short: "Compile tool definitions into a registry artifact",
	Long: `Reads every <tool>/tool.yaml (and optional README.md) under --dir, checks
the contract rules, and writes a single artifact with canonical schemas,
provider projections and summaries. Nothing is written if any rule fails.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := loadConfig(cmd, map[string]string{
			"dir":       "build.dir",
			"out":       "build.out",
			"providers": "build.providers",
			"major":     "build.major",
			"revision":  "build.revision",
		})
		if err != nil {
			return err
		}
		res, err := resolver(cfg, logger)
		if err != nil {
			return err
		}
		c, err := cli.NewCompiler(cfg.Build, res, logger)
		if err != nil {
			return err
		}

		watch, _ := cmd.Flags().GetBool("watch")
		settle, _ := cmd.Flags().GetDuration("settle")

		ctx := cli.NewSignalContext(context.Background())
		defer ctx.Cancel()

		return cli.RunBuild(ctx, c, cli.BuildOptions{
			Dir:    cfg.Build.Dir,
			Out:    cfg.Build.Out,
			Watch:  watch,
			Settle: settle,
		}, os.Stdout)
	},
}

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check tool definitions without writing an artifact",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := loadConfig(cmd, map[string]string{
			"dir":       "build.dir",
			"providers": "build.providers",
		})
		if err != nil {
			return err
		}
		res, err := resolver(cfg, logger)
		if err != nil {
			return err
		}
		c, err := cli.NewCompiler(cfg.Build, res, logger)
		if err != nil {
			return err
		}
		return cli.RunValidate(cmd.Context(), c, cfg.Build.Dir, os.Stdout)
	},
}

func init() {
	buildCmd.Flags().String("dir", "tools", "Directory of tool definitions")
	buildCmd.Flags().String("out", "dist/registry.json", "Artifact path")
	buildCmd.Flags().StringSlice("providers", []string{"gemini", "openai", "anthropic"}, "Provider projections to generate")
	buildCmd.Flags().Int("major", 1, "Major component of the registry version")
	buildCmd.Flags().String("revision", "", "Source revision recorded in the artifact")
	buildCmd.Flags().Bool("watch", false, "Rebuild whenever a definition changes")
	buildCmd.Flags().Duration("settle", 0, "Quiet period before a watch rebuild (default 100ms)")
	rootCmd.AddCommand(buildCmd)

	validateCmd.Flags().String("dir", "tools", "Directory of tool definitions")
	validateCmd.Flags().StringSlice("providers", []string{"gemini", "openai", "anthropic"}, "Provider projections to check")
	rootCmd.AddCommand(validateCmd)
}
