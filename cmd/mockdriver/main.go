package main

import (
	"os"

	"github.com/spf13/cobra"

	"mockdriver/internal/config"
	"mockdriver/internal/logger"
)

type rootOptions struct {
	configFile string
	logLevel   string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:           "mockdriver",
		Short:         "Inject mock-control headers into browser requests",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.PersistentFlags().StringVar(&opts.configFile, "config", "", "config file (yaml)")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "override log level")

	root.AddCommand(
		newRunCmd(opts),
		newCompileCmd(opts),
		newMatchCmd(),
		newValidateCmd(opts),
		newHistoryCmd(opts),
	)
	return root
}

// load 读取配置并创建日志
func (o *rootOptions) load() (*config.Config, logger.Logger, error) {
	cfg, err := config.Load(o.configFile)
	if err != nil {
		return nil, nil, err
	}
	if o.logLevel != "" {
		cfg.Log.Level = o.logLevel
	}
	l := logger.New(logger.Options{Level: cfg.Log.Level, Writers: cfg.Log.Writer, File: cfg.Log.File})
	return cfg, l, nil
}

func settingsPath(flag string, cfg *config.Config) string {
	if flag != "" {
		return flag
	}
	return cfg.Settings.File
}
