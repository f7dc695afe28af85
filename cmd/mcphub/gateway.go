package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/spf13/cobra"

	mcpgateway "github.com/vikashloomba/mcphub-go/pkg/mcp-gateway"
)

func newGatewayCmd(a *app) *cobra.Command {
	var stdio bool
	cmd := &cobra.Command{
		Use:   "gateway",
		Short: "Serve every tool in the registry as a single MCP server",
		Long:  "gateway starts the registered tool servers and re-exports their tools, named server__tool, over Streamable HTTP or, with --stdio, over stdin and stdout.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runGateway(ctx, a, stdio)
		},
	}
	flags := cmd.Flags()
	flags.BoolVar(&stdio, "stdio", false, "speak MCP on stdin and stdout instead of HTTP")
	flags.String("addr", "", "HTTP listen address (settings key gateway.addr)")
	_ = a.v.BindPFlag("gateway.addr", flags.Lookup("addr"))
	return cmd
}

func runGateway(ctx context.Context, a *app, stdio bool) error {
	defer a.shutdown()

	if _, err := a.startServers(ctx); err != nil {
		return err
	}
	go a.hub.Run(ctx)

	s := a.settings
	ns, err := mcpgateway.NamespaceByName(s.Gateway.Namespace)
	if err != nil {
		return err
	}
	gw, err := mcpgateway.NewGateway(a.hub, a.router, &mcpgateway.Options{
		Implementation: &mcp.Implementation{Name: "mcphub", Title: "MCP Hub", Version: version},
		Addr:           s.Gateway.Addr,
		Path:           s.Gateway.Path,
		Namespace:      ns,
		Logger:         a.logger,
	})
	if err != nil {
		return err
	}

	if stdio {
		err := gw.Server().Run(ctx, &mcp.StdioTransport{})
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	}
	a.logger.Info("mcp gateway listening", slog.String("addr", s.Gateway.Addr), slog.String("path", s.Gateway.Path))
	if err := gw.ListenAndServe(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
