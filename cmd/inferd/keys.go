package main

import (
	"database/sql"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"inferd/internal/apikeys"
	"inferd/internal/logging"
	"inferd/internal/store"
)

func newKeysCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "keys",
		Short: "Manage client API keys",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "create NAME",
			Short: "Create a key and print it once",
			Args:  cobra.ExactArgs(1),
			RunE: withKeys(func(cmd *cobra.Command, args []string, svc *apikeys.Service) error {
				raw, k, err := svc.Create(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "id:  %s\nkey: %s\n", k.ID, raw)
				fmt.Fprintln(out, "Save this key. It will not be shown again.")
				return nil
			}),
		},
		&cobra.Command{
			Use:     "list",
			Aliases: []string{"ls"},
			Short:   "List active keys",
			Args:    cobra.NoArgs,
			RunE: withKeys(func(cmd *cobra.Command, args []string, svc *apikeys.Service) error {
				keys, err := svc.List(cmd.Context())
				if err != nil {
					return err
				}
				rows := make([][]string, 0, len(keys))
				for _, k := range keys {
					last := "never"
					if k.LastUsedAt != nil {
						last = k.LastUsedAt.Format(time.RFC3339)
					}
					rows = append(rows, []string{k.ID, k.Name, k.Prefix, k.CreatedAt.Format(time.RFC3339), last})
				}
				renderTable(cmd.OutOrStdout(), []string{"ID", "NAME", "PREFIX", "CREATED", "LAST USED"}, rows)
				return nil
			}),
		},
		&cobra.Command{
			Use:   "revoke ID",
			Short: "Revoke a key",
			Args:  cobra.ExactArgs(1),
			RunE: withKeys(func(cmd *cobra.Command, args []string, svc *apikeys.Service) error {
				if err := svc.Revoke(cmd.Context(), args[0]); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "revoked", args[0])
				return nil
			}),
		},
	)
	return cmd
}

// withKeys opens the configured database around fn.
func withKeys(fn func(*cobra.Command, []string, *apikeys.Service) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		db, err := openDB(cmd, cfg.DBPath)
		if err != nil {
			return err
		}
		defer db.Close()
		log := logging.New(cfg.LogLevel, cfg.LogFormat, os.Stderr)
		return fn(cmd, args, apikeys.New(db, log))
	}
}

func openDB(cmd *cobra.Command, path string) (*sql.DB, error) {
	db, err := store.Open(cmd.Context(), path)
	if err != nil {
		return nil, err
	}
	if err := store.Migrate(cmd.Context(), db); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}
