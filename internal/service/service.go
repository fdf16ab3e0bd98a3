package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"mockdriver/internal/cdp"
	"mockdriver/internal/codec"
	"mockdriver/internal/config"
	"mockdriver/internal/correlate"
	"mockdriver/internal/handler"
	"mockdriver/internal/logger"
	"mockdriver/internal/metrics"
	"mockdriver/internal/rules"
	"mockdriver/internal/session"
	"mockdriver/internal/storage"
	"mockdriver/pkg/model"
)

// eventBuffer 每个会话事件通道的容量，满时丢弃新事件
const eventBuffer = 256

// ChangeNotifier 配置源变化通知，settings.FileStore 满足该接口
type ChangeNotifier interface {
	OnChange(fn func())
}

// Deps 服务依赖
type Deps struct {
	Config  *config.Config
	Store   rules.SettingsStore
	History *storage.HistoryRepo
	Metrics *metrics.Metrics
	Logger  logger.Logger
}

// Service 会话服务实现
type Service struct {
	cfg      *config.Config
	store    rules.SettingsStore
	history  *storage.HistoryRepo
	metrics  *metrics.Metrics
	sessions *session.Manager
	log      logger.Logger
}

// New 创建服务。配置源支持变化通知时，变化会触发所有会话重编译
func New(d Deps) *Service {
	if d.Config == nil {
		d.Config = config.NewConfig()
	}
	if d.Logger == nil {
		d.Logger = logger.NewNop()
	}
	svc := &Service{
		cfg:      d.Config,
		store:    d.Store,
		history:  d.History,
		metrics:  d.Metrics,
		sessions: session.NewManager(d.Logger),
		log:      d.Logger,
	}
	if n, ok := d.Store.(ChangeNotifier); ok {
		n.OnChange(svc.settingsChanged)
	}
	return svc
}

// StartSession 连接浏览器、附加活动页面并启用拦截
func (s *Service) StartSession(ctx context.Context, cfg model.SessionConfig) (model.SessionID, error) {
	cfg = s.withDefaults(cfg)
	mode, err := rules.ParseMode(s.cfg.Engine.Mode)
	if err != nil {
		return "", err
	}
	enc, err := codec.ParseEncoding(s.cfg.Engine.Encoding)
	if err != nil {
		return "", err
	}

	id := model.SessionID(uuid.NewString())
	l := s.log.With("sessionID", string(id))
	events := make(chan model.Event, eventBuffer)

	cacheOpts := []correlate.Option{
		correlate.WithTTL(time.Duration(s.cfg.Engine.CacheTTLSec) * time.Second),
		correlate.WithSweepInterval(time.Duration(s.cfg.Engine.SweepEverySec) * time.Second),
		correlate.WithLogger(l),
	}
	if s.metrics != nil {
		cacheOpts = append(cacheOpts, correlate.WithSizeObserver(s.metrics.ObserveCacheSize))
	}

	mgrCfg := cdp.Config{
		DevToolsURL:      cfg.DevToolsURL,
		Concurrency:      cfg.Concurrency,
		ProcessTimeoutMS: cfg.ProcessTimeoutMS,
		PollInterval:     time.Duration(cfg.PollIntervalMS) * time.Millisecond,
		Events:           events,
		Session:          id,
		Logger:           l,
	}
	if s.metrics != nil {
		mgrCfg.Observer = s.metrics
	}
	mgr := cdp.New(mgrCfg)

	engineCfg := rules.Config{
		Strategy: rules.NewStrategy(mode, enc),
		Store:    s.store,
		Tabs:     mgr,
		Sink:     rules.NewRuleTable(),
		Cache:    correlate.New(cacheOpts...),
		Events:   events,
		Session:  id,
		Logger:   l,
	}
	if s.metrics != nil {
		engineCfg.Observer = s.metrics
	}
	engine := rules.New(engineCfg)

	hcfg := handler.Config{
		Engine:           engine,
		Events:           events,
		Session:          id,
		ProcessTimeoutMS: cfg.ProcessTimeoutMS,
		Logger:           l,
	}
	if s.history != nil {
		hcfg.Recorder = s.history
	}
	mgr.Bind(handler.New(hcfg), engine, engine)

	if err := mgr.AttachTarget(ctx, ""); err != nil {
		return "", fmt.Errorf("attach: %w", err)
	}
	if err := mgr.Enable(); err != nil {
		_ = mgr.Detach()
		return "", fmt.Errorf("enable interception: %w", err)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	sess := session.New(id)
	sess.Bind(cfg, engine, mgr, events, cancel)
	s.sessions.Add(sess)

	go engine.Run(runCtx)
	go mgr.WatchTabs(runCtx)
	if err := engine.OnInstalled(runCtx); err != nil {
		l.Err(err, "初始规则安装失败")
	}
	l.Info("会话已启动", "mode", mode, "devtools", cfg.DevToolsURL)
	return id, nil
}

// StopSession 停止会话
func (s *Service) StopSession(id model.SessionID) error {
	sess, ok := s.sessions.Delete(id)
	if !ok {
		return fmt.Errorf("session %s not found", id)
	}
	return sess.Close()
}

// AttachTarget 为会话附加额外的目标
func (s *Service) AttachTarget(ctx context.Context, id model.SessionID, target model.TargetID) error {
	sess, err := s.get(id)
	if err != nil {
		return err
	}
	return sess.Manager().AttachTarget(ctx, target)
}

// DetachTarget 分离目标
func (s *Service) DetachTarget(id model.SessionID, target model.TargetID) error {
	sess, err := s.get(id)
	if err != nil {
		return err
	}
	sess.Manager().DetachTarget(target)
	return nil
}

// ListTargets 列出目标
func (s *Service) ListTargets(ctx context.Context, id model.SessionID) ([]model.TargetInfo, error) {
	sess, err := s.get(id)
	if err != nil {
		return nil, err
	}
	return sess.Manager().ListTargets(ctx)
}

// Refresh 手动触发重编译
func (s *Service) Refresh(ctx context.Context, id model.SessionID) (rules.Compilation, error) {
	sess, err := s.get(id)
	if err != nil {
		return rules.Compilation{}, err
	}
	return sess.Engine().Refresh(ctx, rules.TriggerManual)
}

// GetStats 获取统计信息
func (s *Service) GetStats(id model.SessionID) (model.EngineStats, error) {
	sess, err := s.get(id)
	if err != nil {
		return model.EngineStats{}, err
	}
	return sess.Engine().Stats(), nil
}

// SubscribeEvents 订阅事件
func (s *Service) SubscribeEvents(id model.SessionID) (<-chan model.Event, error) {
	sess, err := s.get(id)
	if err != nil {
		return nil, err
	}
	return sess.Events(), nil
}

// Close 停止所有会话
func (s *Service) Close() {
	for _, sess := range s.sessions.List() {
		if err := s.StopSession(sess.ID); err != nil {
			s.log.Err(err, "停止会话失败", "sessionID", string(sess.ID))
		}
	}
}

func (s *Service) settingsChanged() {
	for _, sess := range s.sessions.List() {
		if e := sess.Engine(); e != nil {
			if err := e.OnSettingsChanged(context.Background()); err != nil {
				s.log.Err(err, "配置变化后重编译失败", "sessionID", string(sess.ID))
			}
		}
	}
}

func (s *Service) get(id model.SessionID) (*session.Session, error) {
	sess, ok := s.sessions.Get(id)
	if !ok {
		return nil, fmt.Errorf("session %s not found", id)
	}
	return sess, nil
}

func (s *Service) withDefaults(cfg model.SessionConfig) model.SessionConfig {
	if cfg.DevToolsURL == "" {
		cfg.DevToolsURL = s.cfg.DevTools.URL
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = s.cfg.DevTools.Concurrency
	}
	if cfg.ProcessTimeoutMS <= 0 {
		cfg.ProcessTimeoutMS = s.cfg.DevTools.ProcessTimeoutMS
	}
	if cfg.PollIntervalMS <= 0 {
		cfg.PollIntervalMS = s.cfg.DevTools.PollIntervalMS
	}
	return cfg
}
