// Command mcp-todayinfo is a stdio MCP server with date and weather tools.
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
	"github.com/vikashloomba/mcphub-go/pkg/toolservers/todayinfo"
)

func main() {
	var weatherURL, logLevel string
	cmd := &cobra.Command{
		Use:           "mcp-todayinfo",
		Short:         "Serve get_date and get_weather over MCP stdio",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			// stdout carries the protocol.
			logger := logging.New(os.Stderr, logLevel, "text")
			server := todayinfo.NewServer(&todayinfo.Options{WeatherURL: weatherURL})
			logger.Info("serving", "server", todayinfo.Name)
			return server.Run(ctx, &mcp.StdioTransport{})
		},
	}
	cmd.Flags().StringVar(&weatherURL, "weather-url", "", "weather service base URL (default https://wttr.in)")
	cmd.Flags().StringVar(&logLevel, "log-level", "warn", "debug, info, warn or error")

	if err := cmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
