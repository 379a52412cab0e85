package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/aretw0/toolgate/internal/config"
	adminhttp "github.com/aretw0/toolgate/pkg/adapters/http"
	"github.com/aretw0/toolgate/pkg/adapters/mcp"
	"github.com/aretw0/toolgate/pkg/registry"
	"github.com/sourcegraph/conc/pool"
)

// RunServe loads and locks the artifact, then serves MCP on the configured
// transport and, when an address is set, the admin HTTP surface.
// It returns when the transport stops or ctx is done.
func RunServe(ctx context.Context, cfg *config.Config, artifact string, resolver registry.Resolver, logger *slog.Logger) error {
	rt, closeStore, err := NewRuntime(cfg, resolver, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := closeStore(); err != nil {
			logger.Warn("Failed to close store", "err", err)
		}
	}()

	if err := rt.Load(ctx, artifact); err != nil {
		return err
	}
	snap, err := rt.Lock()
	if err != nil {
		return err
	}
	logger.Info("Registry locked", "version", snap.Version, "tools", len(snap.ToolIDs))

	srv, err := mcp.NewServer(rt,
		mcp.WithLogger(logger),
		mcp.WithMode(cfg.MCP.Mode),
		mcp.WithTurnGap(cfg.MCP.TurnGap),
	)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	p := pool.New().WithErrors().WithContext(ctx).WithCancelOnError()
	if cfg.Admin.Addr != "" {
		p.Go(func(ctx context.Context) error {
			return adminhttp.Serve(ctx, cfg.Admin.Addr, adminhttp.NewHandler(rt, adminhttp.WithLogger(logger)), logger)
		})
	}
	p.Go(func(ctx context.Context) error {
		// the transport ending ends the whole server
		defer cancel()
		switch cfg.MCP.Transport {
		case "sse":
			return srv.ServeSSE(ctx, cfg.MCP.Addr, cfg.MCP.BaseURL)
		case "stdio":
			logger.Info("Starting toolgate MCP Server (Stdio)")
			return srv.ServeStdio()
		default:
			return fmt.Errorf("unknown transport %q", cfg.MCP.Transport)
		}
	})
	err = p.Wait()

	shutdown := context.WithoutCancel(ctx)
	srv.Close(shutdown)
	if cerr := rt.Close(shutdown); cerr != nil {
		logger.Warn("Failed to close runtime", "err", cerr)
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
