package main

import (
	"os"

	"github.com/aretw0/toolgate/internal/cli"
	"github.com/spf13/cobra"
)

var inspectCmd = &cobra.Command{
	Use:   "inspect",
	Short: "Print the contents of a registry artifact",
	Example: `  toolgate inspect --artifact dist/registry.json
  toolgate inspect --tool create_ticket
  toolgate inspect --provider gemini`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, _, err := loadConfig(cmd, map[string]string{"artifact": "build.out"})
		if err != nil {
			return err
		}
		provider, _ := cmd.Flags().GetString("provider")
		tool, _ := cmd.Flags().GetString("tool")
		return cli.RunInspect(cli.InspectOptions{
			Artifact: cfg.Build.Out,
			Provider: provider,
			Tool:     tool,
		}, os.Stdout)
	},
}

func init() {
	inspectCmd.Flags().String("artifact", "dist/registry.json", "Artifact path")
	inspectCmd.Flags().String("provider", "", "Print the declarations projected for this provider")
	inspectCmd.Flags().String("tool", "", "Restrict the output to one tool")
	rootCmd.AddCommand(inspectCmd)
}
