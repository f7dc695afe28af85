package main

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/vikashloomba/mcphub-go/pkg/settings"
)

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "dev"

func newRootCmd() *cobra.Command {
	v := settings.New()
	var configFile string
	app := &app{v: v}

	rootCmd := &cobra.Command{
		Use:           "mcphub",
		Short:         "Connect many MCP tool servers and let a model use them",
		Long:          "mcphub launches the MCP tool servers listed in a registry file, merges their tools into one catalogue and routes a model's tool calls to the server that owns each tool.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Name() == "version" {
				return nil
			}
			return app.init(configFile)
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&configFile, "config", "", "settings file (default ./mcphub.yaml)")
	flags.String("servers", "", "server registry YAML (settings key servers.config)")
	flags.String("models", "", "models config YAML (settings key models.config)")
	flags.String("log-level", "", "debug, info, warn or error")
	flags.String("log-format", "", "text or json")
	flags.Bool("log-jsonrpc", false, "log every JSON-RPC message exchanged with tool servers")
	bindFlags(v, rootCmd, map[string]string{
		"servers.config": "servers",
		"models.config":  "models",
		"log.level":      "log-level",
		"log.format":     "log-format",
		"log.jsonrpc":    "log-jsonrpc",
	})

	rootCmd.AddCommand(
		newServeCmd(app),
		newGatewayCmd(app),
		newChatCmd(app),
		newServersCmd(app),
		newCallCmd(app),
		newVersionCmd(),
	)
	return rootCmd
}

// bindFlags binds persistent flags to settings keys. Flags left at their
// zero value do not override the file or environment.
func bindFlags(v *viper.Viper, cmd *cobra.Command, keys map[string]string) {
	for key, flag := range keys {
		_ = v.BindPFlag(key, cmd.PersistentFlags().Lookup(flag))
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the mcphub version",
		Run: func(cmd *cobra.Command, _ []string) {
			cmd.Println("mcphub " + version)
		},
	}
}
