package main

import (
	"encoding/json"

	"github.com/spf13/cobra"
	"github.com/tidwall/pretty"

	"mockdriver/internal/storage"
)

func newHistoryCmd(opts *rootOptions) *cobra.Command {
	var sessionID string
	var limit int
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recent header injections",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, l, err := opts.load()
			if err != nil {
				return err
			}
			db, err := storage.Open(cfg.Sqlite.Dsn, cfg.Sqlite.Prefix, l)
			if err != nil {
				return err
			}
			recs, err := storage.NewHistoryRepo(db).Recent(cmd.Context(), sessionID, limit)
			if err != nil {
				return err
			}
			data, err := json.Marshal(recs)
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(pretty.Pretty(data))
			return err
		},
	}
	cmd.Flags().StringVar(&sessionID, "session", "", "only this session")
	cmd.Flags().IntVar(&limit, "limit", 50, "max records")
	return cmd
}
