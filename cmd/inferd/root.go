package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"inferd/internal/config"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "inferd",
		Short:         "Local inference gateway with a semantic response cache",
		SilenceUsage:  true,
		SilenceErrors: true,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
	}
	root.PersistentFlags().String("config", "", "Config file (.yaml, .yml, .json or .toml)")
	root.PersistentFlags().String("db", "", "SQLite database path (overrides db_path)")
	root.PersistentFlags().String("log-level", "", "Log level: debug|info|warn|error|off")

	root.AddCommand(
		newServeCmd(),
		newCacheCmd(),
		newKeysCmd(),
		&cobra.Command{
			Use:   "version",
			Short: "Print the version",
			Args:  cobra.NoArgs,
			Run: func(cmd *cobra.Command, args []string) {
				fmt.Fprintln(cmd.OutOrStdout(), "inferd", version)
			},
		},
	)
	return root
}

// loadConfig builds the effective configuration: defaults, then the config
// file, then INFERD_* variables, then flags.
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	cfg := config.Default()
	path, _ := cmd.Flags().GetString("config")
	if path == "" {
		path = os.Getenv("INFERD_CONFIG")
	}
	if path != "" {
		var err error
		if cfg, err = config.Load(path); err != nil {
			return cfg, err
		}
	}
	if err := cfg.ApplyEnv(); err != nil {
		return cfg, err
	}
	if v, _ := cmd.Flags().GetString("db"); strings.TrimSpace(v) != "" {
		cfg.DBPath = v
	}
	if v, _ := cmd.Flags().GetString("log-level"); v != "" {
		cfg.LogLevel = v
	}
	if f := cmd.Flags().Lookup("addr"); f != nil && f.Changed {
		cfg.Addr = f.Value.String()
	}
	return cfg, cfg.Validate()
}
