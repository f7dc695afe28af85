package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/vikashloomba/mcphub-go/pkg/hubapi"
	mcpgateway "github.com/vikashloomba/mcphub-go/pkg/mcp-gateway"
	"github.com/vikashloomba/mcphub-go/pkg/registry"
)

func newServeCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the tool servers and serve the HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, a)
		},
	}
	flags := cmd.Flags()
	flags.String("addr", "", "HTTP listen address (settings key http.addr)")
	flags.Bool("gateway", false, "also expose the catalogue as an MCP server (settings key gateway.enabled)")
	_ = a.v.BindPFlag("http.addr", flags.Lookup("addr"))
	_ = a.v.BindPFlag("gateway.enabled", flags.Lookup("gateway"))
	return cmd
}

func runServe(ctx context.Context, a *app) error {
	defer a.shutdown()

	// A missing registry starts an empty hub; servers arrive via upload.
	if _, err := a.startServers(ctx); err != nil {
		if !errors.Is(err, os.ErrNotExist) && !errors.Is(err, registry.ErrNoServers) {
			return err
		}
		a.logger.Warn("no servers loaded", slog.String("servers_config", a.settings.Servers.Config), slog.Any("error", err))
	}
	go a.hub.Run(ctx)

	models, err := a.models()
	if err != nil {
		return err
	}

	s := a.settings
	mounts := map[string]http.Handler{}
	if s.Gateway.Enabled {
		ns, err := mcpgateway.NamespaceByName(s.Gateway.Namespace)
		if err != nil {
			return err
		}
		gw, err := mcpgateway.NewGateway(a.hub, a.router, &mcpgateway.Options{Path: s.Gateway.Path, Namespace: ns, Logger: a.logger})
		if err != nil {
			return err
		}
		mounts[s.Gateway.Path] = gw.Handler()
		a.logger.Info("mcp gateway enabled", slog.String("path", s.Gateway.Path))
	}

	sessions := a.sessions()
	go sessions.Run(ctx)

	api := hubapi.New(a.hub, sessions, models, &hubapi.Options{
		DefaultProvider:   s.LLM.Provider,
		DefaultModel:      s.LLM.Model,
		CORSOrigins:       s.HTTP.CORSOrigins,
		ServersConfigPath: s.Servers.Config,
		Mounts:            mounts,
		Logger:            a.logger,
	})
	return api.ListenAndServe(ctx, s.HTTP.Addr)
}
