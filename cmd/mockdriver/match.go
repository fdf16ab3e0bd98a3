package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"mockdriver/internal/pattern"
)

func newMatchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "match URL PATTERN...",
		Short: "Test a URL against tab URL patterns",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			w := cmd.OutOrStdout()
			target := args[0]
			for _, p := range pattern.Lines(args[1:]) {
				kind := "template"
				if _, err := pattern.Compile(p); err != nil {
					kind = "host substring"
				}
				fmt.Fprintf(w, "%-40s %-15s %v\n", p, kind, pattern.Matches(target, []string{p}))
			}
			fmt.Fprintf(w, "matched: %v\n", pattern.Matches(target, args[1:]))
			return nil
		},
	}
}
