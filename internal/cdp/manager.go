package cdp

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/mafredri/cdp"
	"github.com/mafredri/cdp/devtool"
	"github.com/mafredri/cdp/protocol/fetch"
	"github.com/mafredri/cdp/rpcc"
	"golang.org/x/sync/semaphore"

	"mockdriver/internal/handler"
	"mockdriver/internal/logger"
	"mockdriver/internal/rules"
	"mockdriver/pkg/model"
)

// ErrNotAttached 尚未附加任何目标
var ErrNotAttached = errors.New("not attached")

// Lister 列出浏览器目标，devtool.DevTools 满足该接口
type Lister interface {
	List(ctx context.Context) ([]*devtool.Target, error)
}

// Lifecycle 请求生命周期回调，rules.Engine 满足该接口
type Lifecycle interface {
	OnCompleted(requestID string)
	OnErrored(requestID string)
}

// TabListener 标签页变化回调，rules.Engine 满足该接口
type TabListener interface {
	OnTabActivated(ctx context.Context, windowID string) error
	OnTabUpdated(ctx context.Context, u rules.TabUpdate) error
}

// PausedObserver 暂停请求处理结果观察者
type PausedObserver interface {
	PausedRequest(outcome string)
}

// Config 管理器配置
type Config struct {
	DevToolsURL      string
	Concurrency      int
	ProcessTimeoutMS int
	PollInterval     time.Duration
	Lister           Lister
	Handler          *handler.Handler
	Lifecycle        Lifecycle
	Tabs             TabListener
	Observer         PausedObserver
	Events           chan model.Event
	Session          model.SessionID
	Logger           logger.Logger
}

type targetSession struct {
	id     model.TargetID
	conn   *rpcc.Conn
	client *cdp.Client
	ctx    context.Context
	cancel context.CancelFunc
}

// Manager 管理与浏览器的 DevTools 连接：提供标签页上下文、拦截请求并转交处理器
type Manager struct {
	devtoolsURL  string
	lister       Lister
	handler      *handler.Handler
	lifecycle    Lifecycle
	tabs         TabListener
	observer     PausedObserver
	events       chan model.Event
	session      model.SessionID
	pollInterval time.Duration
	sem          *semaphore.Weighted
	log          logger.Logger

	targetsMu sync.Mutex
	targets   map[model.TargetID]*targetSession

	enabledMu sync.RWMutex
	enabled   bool
}

// New 创建管理器
func New(cfg Config) *Manager {
	m := &Manager{
		devtoolsURL:  cfg.DevToolsURL,
		lister:       cfg.Lister,
		handler:      cfg.Handler,
		lifecycle:    cfg.Lifecycle,
		tabs:         cfg.Tabs,
		observer:     cfg.Observer,
		events:       cfg.Events,
		session:      cfg.Session,
		pollInterval: cfg.PollInterval,
		log:          cfg.Logger,
		targets:      make(map[model.TargetID]*targetSession),
	}
	if m.lister == nil {
		m.lister = devtool.New(cfg.DevToolsURL)
	}
	if m.handler == nil {
		m.handler = handler.New(handler.Config{ProcessTimeoutMS: cfg.ProcessTimeoutMS, Logger: cfg.Logger})
	}
	if m.pollInterval <= 0 {
		m.pollInterval = time.Second
	}
	if cfg.Concurrency > 0 {
		m.sem = semaphore.NewWeighted(int64(cfg.Concurrency))
	}
	if m.log == nil {
		m.log = logger.NewNop()
	}
	return m
}

// Bind 设置处理器与回调，需在 Enable 之前调用
func (m *Manager) Bind(h *handler.Handler, lc Lifecycle, tabs TabListener) {
	if h != nil {
		m.handler = h
	}
	m.lifecycle = lc
	m.tabs = tabs
}

// ListTargets 列出页面目标，第一个页面目标视为当前活动标签页
func (m *Manager) ListTargets(ctx context.Context) ([]model.TargetInfo, error) {
	targets, err := m.lister.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list targets: %w", err)
	}
	m.targetsMu.Lock()
	defer m.targetsMu.Unlock()
	out := make([]model.TargetInfo, 0, len(targets))
	first := true
	for _, t := range targets {
		if !isPage(t) {
			continue
		}
		_, attached := m.targets[model.TargetID(t.ID)]
		out = append(out, model.TargetInfo{
			ID:        model.TargetID(t.ID),
			Type:      string(t.Type),
			URL:       t.URL,
			Title:     t.Title,
			IsCurrent: first,
			IsUser:    attached,
		})
		first = false
	}
	return out, nil
}

// ActiveTabURL 实现 rules.TabContext
func (m *Manager) ActiveTabURL(ctx context.Context) (string, bool, error) {
	t, err := m.activeTarget(ctx)
	if err != nil {
		return "", false, err
	}
	if t == nil {
		return "", false, nil
	}
	return t.URL, true, nil
}

// IsWindowFocused 实现 rules.TabContext。DevTools HTTP 接口不暴露窗口焦点，
// 以活动标签页所在目标代表焦点窗口
func (m *Manager) IsWindowFocused(ctx context.Context, windowID string) (bool, error) {
	t, err := m.activeTarget(ctx)
	if err != nil || t == nil {
		return false, err
	}
	return t.ID == windowID, nil
}

func (m *Manager) activeTarget(ctx context.Context) (*devtool.Target, error) {
	targets, err := m.lister.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list targets: %w", err)
	}
	for _, t := range targets {
		if isPage(t) {
			return t, nil
		}
	}
	return nil, nil
}

func isPage(t *devtool.Target) bool {
	return t != nil && string(t.Type) == "page"
}

// AttachTarget 附加到指定目标，target 为空时选择当前活动页面
func (m *Manager) AttachTarget(ctx context.Context, target model.TargetID) error {
	targets, err := m.lister.List(ctx)
	if err != nil {
		return fmt.Errorf("list targets: %w", err)
	}
	var sel *devtool.Target
	for _, t := range targets {
		if (target == "" && isPage(t)) || (target != "" && model.TargetID(t.ID) == target) {
			sel = t
			break
		}
	}
	if sel == nil {
		return fmt.Errorf("target %q not found", target)
	}

	m.targetsMu.Lock()
	if _, ok := m.targets[model.TargetID(sel.ID)]; ok {
		m.targetsMu.Unlock()
		return nil
	}
	m.targetsMu.Unlock()

	tctx, cancel := context.WithCancel(context.Background())
	conn, err := rpcc.DialContext(ctx, sel.WebSocketDebuggerURL)
	if err != nil {
		cancel()
		return fmt.Errorf("dial %s: %w", sel.ID, err)
	}
	ts := &targetSession{
		id:     model.TargetID(sel.ID),
		conn:   conn,
		client: cdp.NewClient(conn),
		ctx:    tctx,
		cancel: cancel,
	}

	m.targetsMu.Lock()
	m.targets[ts.id] = ts
	m.targetsMu.Unlock()
	m.log.Info("已附加目标", "target", string(ts.id), "url", sel.URL)

	if m.isEnabled() {
		if err := m.enableTarget(ts); err != nil {
			m.DetachTarget(ts.id)
			return err
		}
	}
	return nil
}

// DetachTarget 分离目标
func (m *Manager) DetachTarget(id model.TargetID) {
	m.targetsMu.Lock()
	defer m.targetsMu.Unlock()
	if ts, ok := m.targets[id]; ok {
		m.closeTargetSession(ts)
		delete(m.targets, id)
	}
}

// Detach 分离所有目标
func (m *Manager) Detach() error {
	m.setEnabled(false)
	m.targetsMu.Lock()
	defer m.targetsMu.Unlock()
	for id, ts := range m.targets {
		m.closeTargetSession(ts)
		delete(m.targets, id)
	}
	return nil
}

func (m *Manager) closeTargetSession(ts *targetSession) {
	ts.cancel()
	if err := ts.conn.Close(); err != nil {
		m.log.Debug("关闭目标连接失败", "target", string(ts.id), "error", err.Error())
	}
}

// Enable 对所有已附加目标启用请求阶段拦截
func (m *Manager) Enable() error {
	m.targetsMu.Lock()
	sessions := make([]*targetSession, 0, len(m.targets))
	for _, ts := range m.targets {
		sessions = append(sessions, ts)
	}
	m.targetsMu.Unlock()
	if len(sessions) == 0 {
		return ErrNotAttached
	}
	m.setEnabled(true)
	for _, ts := range sessions {
		if err := m.enableTarget(ts); err != nil {
			return err
		}
	}
	return nil
}

// Disable 关闭拦截
func (m *Manager) Disable(ctx context.Context) error {
	m.setEnabled(false)
	m.targetsMu.Lock()
	defer m.targetsMu.Unlock()
	if len(m.targets) == 0 {
		return ErrNotAttached
	}
	var errs []error
	for _, ts := range m.targets {
		if err := ts.client.Fetch.Disable(ctx); err != nil {
			errs = append(errs, fmt.Errorf("target %s: %w", ts.id, err))
		}
	}
	return errors.Join(errs...)
}

func (m *Manager) enableTarget(ts *targetSession) error {
	if err := ts.client.Network.Enable(ts.ctx, nil); err != nil {
		return fmt.Errorf("enable network: %w", err)
	}
	p := "*"
	patterns := []fetch.RequestPattern{{URLPattern: &p, RequestStage: fetch.RequestStageRequest}}
	if err := ts.client.Fetch.Enable(ts.ctx, &fetch.EnableArgs{Patterns: patterns}); err != nil {
		return fmt.Errorf("enable fetch: %w", err)
	}
	go m.consume(ts)
	go m.watchLoading(ts)
	m.log.Info("已启用拦截", "target", string(ts.id))
	return nil
}

func (m *Manager) isEnabled() bool {
	m.enabledMu.RLock()
	defer m.enabledMu.RUnlock()
	return m.enabled
}

func (m *Manager) setEnabled(v bool) {
	m.enabledMu.Lock()
	m.enabled = v
	m.enabledMu.Unlock()
}
