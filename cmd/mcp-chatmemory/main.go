// Command mcp-chatmemory is a stdio MCP server that remembers messages.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/spf13/cobra"

	"github.com/vikashloomba/mcphub-go/pkg/logging"
	"github.com/vikashloomba/mcphub-go/pkg/toolservers/chatmemory"
)

var version = "dev"

func main() {
	var dbPath, logLevel string
	cmd := &cobra.Command{
		Use:           "mcp-chatmemory",
		Short:         "Serve remember, recall and clear_memory over MCP stdio",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			logger := logging.New(os.Stderr, logLevel, "text")

			var store chatmemory.Store = chatmemory.NewMemoryStore()
			if dbPath != "" {
				s, err := chatmemory.OpenSQLite(dbPath)
				if err != nil {
					return err
				}
				store = s
				logger.Info("persisting memory", "db", dbPath)
			}
			defer store.Close()

			return chatmemory.NewServer(store, version).Run(ctx, &mcp.StdioTransport{})
		},
	}
	cmd.Flags().StringVar(&dbPath, "db", "", "SQLite file for persistent memory (in-memory when empty)")
	cmd.Flags().StringVar(&logLevel, "log-level", "warn", "debug, info, warn or error")

	if err := cmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
