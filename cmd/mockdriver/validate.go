package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"mockdriver/internal/logger"
	"mockdriver/internal/settings"
)

func newValidateCmd(opts *rootOptions) *cobra.Command {
	var settingsFile string
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Check a settings file",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, _, err := opts.load()
			if err != nil {
				return err
			}
			store, err := settings.Open(settingsPath(settingsFile, cfg), logger.NewNop())
			if err != nil {
				return err
			}
			s, err := store.Get(cmd.Context())
			if err != nil {
				return err
			}
			if err := settings.Validate(s); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: ok\n", store.Path())
			return nil
		},
	}
	cmd.Flags().StringVar(&settingsFile, "settings", "", "settings file (default from config)")
	return cmd
}
