package main

import (
	"context"
	"log"
	"os"

	"github.com/aretw0/toolgate/internal/cli"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve a registry artifact over MCP",
	Long: `Loads and locks the artifact, then exposes every tool as an MCP tool.
Each MCP connection gets its own session; a new turn starts after an idle gap.

Supported Transports:
- stdio (default): Uses Standard Input/Output. Ideal for local process integration.
- sse: Uses Server-Sent Events over HTTP. Ideal for remote agents or debuggers.

With --admin set, a read-only HTTP surface serves /metrics, /registry and /summary.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := loadConfig(cmd, map[string]string{
			"artifact":  "build.out",
			"admin":     "admin.addr",
			"transport": "mcp.transport",
			"addr":      "mcp.addr",
			"store":     "store.driver",
		})
		if err != nil {
			return err
		}
		if cfg.MCP.Transport == "stdio" {
			// Ensure logs don't corrupt JSON-RPC on Stdout
			log.SetOutput(os.Stderr)
		}

		res, err := resolver(cfg, logger)
		if err != nil {
			return err
		}

		ctx := cli.NewSignalContext(context.Background())
		defer ctx.Cancel()
		return cli.RunServe(ctx, cfg, cfg.Build.Out, res, logger)
	},
}

func init() {
	serveCmd.Flags().String("artifact", "dist/registry.json", "Artifact path")
	serveCmd.Flags().String("admin", "", "Admin HTTP listen address, e.g. :9090")
	serveCmd.Flags().String("transport", "stdio", "MCP transport: stdio or sse")
	serveCmd.Flags().String("addr", ":8080", "SSE listen address")
	serveCmd.Flags().String("store", "memory", "Session snapshot store: memory, file or redis")
	rootCmd.AddCommand(serveCmd)
}
