package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/vikashloomba/mcphub-go/pkg/mcpmgr"
)

func newServersCmd(a *app) *cobra.Command {
	var showTools bool
	cmd := &cobra.Command{
		Use:   "servers",
		Short: "Start every configured server once and report its status",
		RunE: func(cmd *cobra.Command, _ []string) error {
			defer a.shutdown()
			statuses, err := a.startServers(cmd.Context())
			if err != nil {
				return err
			}
			printStatuses(statuses)
			if showTools {
				fmt.Println()
				printTools(a.hub.Catalogue())
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&showTools, "tools", false, "also list the aggregated tools")
	return cmd
}

func statusColor(s mcpmgr.Status) func(a ...any) string {
	switch s {
	case mcpmgr.StatusReady:
		return color.New(color.FgGreen).SprintFunc()
	case mcpmgr.StatusDegraded, mcpmgr.StatusStarting:
		return color.New(color.FgYellow).SprintFunc()
	default:
		return color.New(color.FgRed).SprintFunc()
	}
}

func printStatuses(statuses []mcpmgr.ServerStatus) {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tSTATUS\tTOOLS\tRESTARTS\tSINCE\tERROR")
	for _, st := range statuses {
		fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%s\t%s\n",
			st.Name, statusColor(st.Status)(string(st.Status)), st.Tools, st.Restarts,
			st.Since.Format(time.TimeOnly), st.LastError)
	}
	_ = w.Flush()
}

func printTools(cat *mcpmgr.Catalogue) {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TOOL\tDESCRIPTION")
	for _, t := range cat.Tools() {
		fmt.Fprintf(w, "%s\t%s\n", color.CyanString(t.QualifiedName), t.Description)
	}
	_ = w.Flush()
}
