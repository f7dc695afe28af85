package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/vikashloomba/mcphub-go/pkg/toolrouter"
)

func newCallCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "call <tool> [json-arguments]",
		Short: "Invoke one tool through the hub and print the result",
		Example: `  mcphub call mcp_todayinfo.get_date
  mcphub call get_weather '{"city":"Paris"}'`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			defer a.shutdown()
			inv := toolrouter.Invocation{Name: args[0], Arguments: map[string]any{}}
			if len(args) == 2 {
				if err := json.Unmarshal([]byte(args[1]), &inv.Arguments); err != nil {
					return fmt.Errorf("arguments must be a JSON object: %w", err)
				}
			}
			if _, err := a.startServers(cmd.Context()); err != nil {
				return err
			}
			result := a.router.Route(cmd.Context(), inv)
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			if err := enc.Encode(result); err != nil {
				return err
			}
			if !result.Success {
				return fmt.Errorf("%s failed: %s", inv.Name, result.ErrorKind)
			}
			return nil
		},
	}
}
