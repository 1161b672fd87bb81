package main

import (
	"strconv"

	"github.com/spf13/cobra"

	"inferd/internal/semcache"
)

func newCacheCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect the semantic cache",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "stats",
		Short: "Show cached entries per model",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			db, err := openDB(cmd, cfg.DBPath)
			if err != nil {
				return err
			}
			defer db.Close()
			stats, err := semcache.CountByModel(cmd.Context(), db)
			if err != nil {
				return err
			}
			rows := make([][]string, 0, len(stats)+1)
			total := 0
			for _, s := range stats {
				rows = append(rows, []string{s.ModelID, strconv.Itoa(s.Entries)})
				total += s.Entries
			}
			rows = append(rows, []string{"total", strconv.Itoa(total)})
			renderTable(cmd.OutOrStdout(), []string{"MODEL", "ENTRIES"}, rows)
			return nil
		},
	})
	return cmd
}
