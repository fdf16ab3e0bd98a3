package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/tidwall/pretty"

	"mockdriver/internal/codec"
	"mockdriver/internal/logger"
	"mockdriver/internal/rules"
	"mockdriver/internal/settings"
)

// staticTab 固定的活动标签页
type staticTab string

func (t staticTab) ActiveTabURL(context.Context) (string, bool, error) {
	return string(t), t != "", nil
}

func (staticTab) IsWindowFocused(context.Context, string) (bool, error) { return true, nil }

func newCompileCmd(opts *rootOptions) *cobra.Command {
	var settingsFile, tabURL, mode, encoding, out string
	cmd := &cobra.Command{
		Use:   "compile",
		Short: "Compile settings into declarativeNetRequest rules and print them",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, _, err := opts.load()
			if err != nil {
				return err
			}
			if mode == "" {
				mode = cfg.Engine.Mode
			}
			if encoding == "" {
				encoding = cfg.Engine.Encoding
			}
			m, err := rules.ParseMode(mode)
			if err != nil {
				return err
			}
			enc, err := codec.ParseEncoding(encoding)
			if err != nil {
				return err
			}
			store, err := settings.Open(settingsPath(settingsFile, cfg), logger.NewNop())
			if err != nil {
				return err
			}

			var sink rules.RuleSink = rules.NewRuleTable()
			if out != "" {
				sink = rules.NewFileSink(out)
			}
			engine := rules.New(rules.Config{
				Strategy: rules.NewStrategy(m, enc),
				Store:    store,
				Tabs:     staticTab(tabURL),
				Sink:     sink,
			})
			comp, err := engine.Refresh(cmd.Context(), rules.TriggerManual)
			if err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "mode: %s\nstate: %s\n", m, comp.State)
			if comp.Reason != "" {
				fmt.Fprintf(w, "reason: %s\n", comp.Reason)
			}
			data, err := rules.MarshalDNR(comp.Rules)
			if err != nil {
				return err
			}
			_, err = w.Write(pretty.Pretty(data))
			return err
		},
	}
	cmd.Flags().StringVar(&settingsFile, "settings", "", "settings file (default from config)")
	cmd.Flags().StringVar(&tabURL, "tab-url", "", "URL of the active tab")
	cmd.Flags().StringVar(&mode, "mode", "", "declarative or blocking")
	cmd.Flags().StringVar(&encoding, "encoding", "", "composite or keyvalue")
	cmd.Flags().StringVar(&out, "out", "", "also install the rules into this declarativeNetRequest JSON file")
	return cmd
}
