package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"mockdriver/internal/metrics"
	"mockdriver/internal/settings"
	"mockdriver/internal/storage"
	"mockdriver/pkg/api"
	"mockdriver/pkg/model"
)

func newRunCmd(opts *rootOptions) *cobra.Command {
	var settingsFile string
	var sc model.SessionConfig
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Attach to a browser over DevTools and inject headers until interrupted",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, l, err := opts.load()
			if err != nil {
				return err
			}

			store, err := settings.Open(settingsPath(settingsFile, cfg), l)
			if err != nil {
				return err
			}
			if err := settings.Validate(mustGet(cmd.Context(), store)); err != nil {
				l.Warn("配置校验未通过，按容错规则继续运行", "error", err.Error())
			}
			if cfg.Settings.Watch {
				store.Watch()
			}

			db, err := storage.Open(cfg.Sqlite.Dsn, cfg.Sqlite.Prefix, l)
			if err != nil {
				return err
			}

			m := metrics.New()
			if cfg.Metrics.Addr != "" {
				srv := &http.Server{Addr: cfg.Metrics.Addr, Handler: m.Handler(), ReadHeaderTimeout: 5 * time.Second}
				go func() {
					if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
						l.Err(err, "指标服务退出", "addr", cfg.Metrics.Addr)
					}
				}()
				defer srv.Close()
				l.Info("指标服务已启动", "addr", cfg.Metrics.Addr)
			}

			history := storage.NewHistoryRepo(db)
			svc := api.NewService(api.Deps{
				Config:  cfg,
				Store:   store,
				History: history,
				Metrics: m,
				Logger:  l,
			})
			defer svc.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			go history.RunRetention(ctx, time.Duration(cfg.Sqlite.RetentionHours)*time.Hour, time.Hour, l)

			id, err := svc.StartSession(ctx, sc)
			if err != nil {
				return err
			}
			events, err := svc.SubscribeEvents(id)
			if err != nil {
				return err
			}
			for {
				select {
				case <-ctx.Done():
					stats, _ := svc.GetStats(id)
					l.Info("会话结束", "total", stats.Total, "injected", stats.Injected, "correlated", stats.Correlated)
					return nil
				case evt := <-events:
					l.Debug("事件", "type", evt.Type, "url", evt.URL, "operation", evt.Operation)
				}
			}
		},
	}
	cmd.Flags().StringVar(&settingsFile, "settings", "", "settings file (default from config)")
	cmd.Flags().StringVar(&sc.DevToolsURL, "devtools", "", "DevTools HTTP endpoint")
	cmd.Flags().IntVar(&sc.Concurrency, "concurrency", 0, "max concurrently handled paused requests")
	return cmd
}

func mustGet(ctx context.Context, store *settings.FileStore) *model.Settings {
	s, err := store.Get(ctx)
	if err != nil {
		return &model.Settings{}
	}
	return s
}
