package rules

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"mockdriver/internal/correlate"
	"mockdriver/internal/ctxkeys"
	"mockdriver/internal/logger"
	"mockdriver/pkg/model"
	"mockdriver/pkg/traffic"
)

// 触发重编译的事件
const (
	TriggerInstalled       = "installed"
	TriggerSettingsChanged = "settings_changed"
	TriggerTabActivated    = "tab_activated"
	TriggerTabUpdated      = "tab_updated"
	TriggerManual          = "manual"
)

// ErrNoSettings 配置源未提供配置
var ErrNoSettings = errors.New("settings not available")

// Engine 规则编译引擎：持有已安装规则句柄与关联缓存，响应触发事件与请求生命周期
type Engine struct {
	mu        sync.Mutex // 串行化重编译并保护 installed/state
	installed []model.CompiledRule
	state     State

	strategy Strategy
	store    SettingsStore
	tabs     TabContext
	sink     RuleSink
	cache    *correlate.Cache
	observer Observer
	events   chan model.Event
	session  model.SessionID
	log      logger.Logger

	total      atomic.Int64
	injected   atomic.Int64
	correlated atomic.Int64
	refreshes  atomic.Int64
	statsMu    sync.Mutex
	byRule     map[model.RuleID]int64
}

// Config 引擎依赖
type Config struct {
	Strategy Strategy
	Store    SettingsStore
	Tabs     TabContext
	Sink     RuleSink
	Cache    *correlate.Cache
	Observer Observer
	Events   chan model.Event
	Session  model.SessionID
	Logger   logger.Logger
}

// RequestStart 请求即将发出时的信息
type RequestStart struct {
	ID     string
	Method string
	URL    string
	Body   []byte
}

// TabUpdate 标签页变化
type TabUpdate struct {
	WindowID   string
	Active     bool
	URLChanged bool
}

// New 创建引擎
func New(cfg Config) *Engine {
	e := &Engine{
		strategy: cfg.Strategy,
		store:    cfg.Store,
		tabs:     cfg.Tabs,
		sink:     cfg.Sink,
		cache:    cfg.Cache,
		observer: cfg.Observer,
		events:   cfg.Events,
		session:  cfg.Session,
		log:      cfg.Logger,
		byRule:   make(map[model.RuleID]int64),
	}
	if e.strategy == nil {
		e.strategy = Declarative{}
	}
	if e.cache == nil {
		e.cache = correlate.New()
	}
	if e.observer == nil {
		e.observer = nopObserver{}
	}
	if e.log == nil {
		e.log = logger.NewNop()
	}
	return e
}

// Mode 当前策略
func (e *Engine) Mode() Mode { return e.strategy.Mode() }

// Cache 关联缓存
func (e *Engine) Cache() *correlate.Cache { return e.cache }

// State 当前状态
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Installed 当前已安装规则的副本
func (e *Engine) Installed() []model.CompiledRule {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]model.CompiledRule(nil), e.installed...)
}

// Run 运行关联缓存清扫，直到 ctx 结束
func (e *Engine) Run(ctx context.Context) {
	e.cache.Run(ctx)
}

// OnInstalled 首次启动
func (e *Engine) OnInstalled(ctx context.Context) error {
	_, err := e.Refresh(ctx, TriggerInstalled)
	return err
}

// OnSettingsChanged 配置变更
func (e *Engine) OnSettingsChanged(ctx context.Context) error {
	_, err := e.Refresh(ctx, TriggerSettingsChanged)
	return err
}

// OnTabActivated 标签页激活，仅当所在窗口获得焦点时重编译
func (e *Engine) OnTabActivated(ctx context.Context, windowID string) error {
	if !e.windowFocused(ctx, windowID) {
		return nil
	}
	_, err := e.Refresh(ctx, TriggerTabActivated)
	return err
}

// OnTabUpdated 活动标签页 URL 变化，仅当所在窗口获得焦点时重编译
func (e *Engine) OnTabUpdated(ctx context.Context, u TabUpdate) error {
	if !u.Active || !u.URLChanged || !e.windowFocused(ctx, u.WindowID) {
		return nil
	}
	_, err := e.Refresh(ctx, TriggerTabUpdated)
	return err
}

func (e *Engine) windowFocused(ctx context.Context, windowID string) bool {
	if e.tabs == nil {
		return false
	}
	ok, err := e.tabs.IsWindowFocused(ctx, windowID)
	if err != nil {
		e.log.Err(err, "查询窗口焦点失败", "window", windowID)
		return false
	}
	return ok
}

// Refresh 从零计算目标规则集并整体替换已安装规则。
// 配置读取失败按无配置处理；安装失败时保留原有规则。
func (e *Engine) Refresh(ctx context.Context, trigger string) (Compilation, error) {
	ctx = ctxkeys.WithTraceID(ctx)
	l := e.log.With("trigger", trigger, "traceId", ctxkeys.TraceID(ctx))
	e.refreshes.Add(1)

	// 读配置到替换规则全程持锁，较早触发的重编译不会覆盖较晚的结果
	e.mu.Lock()
	defer e.mu.Unlock()

	settings, err := e.settings(ctx)
	if err != nil {
		l.Err(err, "读取配置失败，本轮不注入")
	}

	tab := Tab{}
	if settings != nil && settings.RestrictToTabURLs && e.tabs != nil {
		u, ok, err := e.tabs.ActiveTabURL(ctx)
		if err != nil {
			l.Err(err, "获取活动标签页失败")
		} else {
			tab = Tab{URL: u, Known: ok}
		}
	}

	comp := e.strategy.Compile(settings, tab)
	e.observer.Compiled(e.strategy.Mode(), comp.State)
	if comp.State == StateInactive {
		l.Info("头部注入未生效", "reason", comp.Reason)
	}

	if e.sink != nil {
		ids, err := e.sink.ListInstalled(ctx)
		if err != nil {
			l.Err(err, "获取已安装规则失败，保留原有规则")
			e.observer.Installed(len(comp.Rules), err)
			return comp, fmt.Errorf("list installed rules: %w", err)
		}
		if err := e.sink.Replace(ctx, ids, comp.Rules); err != nil {
			l.Err(err, "更新规则失败，保留原有规则", "remove", ids)
			e.observer.Installed(len(comp.Rules), err)
			return comp, fmt.Errorf("replace rules: %w", err)
		}
		e.observer.Installed(len(comp.Rules), nil)
		l.Debug("规则已更新", "removed", ids, "added", ruleIDs(comp.Rules))
	}
	e.installed = comp.Rules
	e.state = comp.State
	e.observer.Applied(comp.State)
	e.sendEvent(model.Event{Type: "rules_updated"})
	l.Info("规则编译完成", "mode", e.strategy.Mode(), "state", comp.State.String(), "rules", len(comp.Rules))
	return comp, nil
}

// OnRequestStart 请求发出前解析请求体并记录 operation 名。
// 请求体无法解析（压缩、非 JSON）是正常情况，只记录调试日志。
func (e *Engine) OnRequestStart(ctx context.Context, req RequestStart) {
	if len(req.Body) == 0 || req.ID == "" {
		return
	}
	method := "post"
	if s, err := e.settings(ctx); err == nil {
		method = s.Method()
	}
	if !strings.EqualFold(req.Method, method) {
		return
	}
	op, err := correlate.OperationName(req.Body)
	if err != nil {
		e.log.Debug("解析请求体失败，跳过关联", "requestID", req.ID, "url", req.URL, "error", err.Error())
		return
	}
	if e.cache.Record(req.ID, op) {
		e.correlated.Add(1)
		e.observer.Correlated()
	}
}

// OnHeadersPending 请求头即将发送时给出决定。关联条目读取一次即删除。
func (e *Engine) OnHeadersPending(ctx context.Context, req *traffic.Request) (Decision, error) {
	e.total.Add(1)
	op, _ := e.cache.Take(req.ID)

	settings, err := e.settings(ctx)
	if err != nil {
		return Decision{Operation: op}, err
	}

	d := e.strategy.Decide(settings, req, op)
	if e.strategy.Mode() == ModeDeclarative {
		if ev, ok := e.sink.(RuleEvaluator); ok {
			d = ev.Evaluate(req)
			d.Operation = op
		}
	}
	if d.Inject {
		e.injected.Add(1)
		e.observer.Injected(e.strategy.Mode())
		e.countRules(d.Rules)
		e.sendEvent(model.Event{Type: "injected", URL: req.URL, Method: req.Method, Operation: op, Rule: firstRule(d.Rules)})
	}
	return d, nil
}

// OnCompleted 请求完成，无条件删除关联
func (e *Engine) OnCompleted(requestID string) { e.cache.Remove(requestID) }

// OnErrored 请求出错，无条件删除关联
func (e *Engine) OnErrored(requestID string) { e.cache.Remove(requestID) }

// Stats 统计快照
func (e *Engine) Stats() model.EngineStats {
	e.statsMu.Lock()
	byRule := make(map[model.RuleID]int64, len(e.byRule))
	for k, v := range e.byRule {
		byRule[k] = v
	}
	e.statsMu.Unlock()
	return model.EngineStats{
		Total:      e.total.Load(),
		Injected:   e.injected.Load(),
		Correlated: e.correlated.Load(),
		Refreshes:  e.refreshes.Load(),
		ByRule:     byRule,
	}
}

func (e *Engine) settings(ctx context.Context) (*model.Settings, error) {
	if e.store == nil {
		return nil, ErrNoSettings
	}
	s, err := e.store.Get(ctx)
	if err != nil {
		return nil, err
	}
	if s == nil {
		return nil, ErrNoSettings
	}
	return s, nil
}

func (e *Engine) countRules(ids []model.RuleID) {
	if len(ids) == 0 {
		return
	}
	e.statsMu.Lock()
	for _, id := range ids {
		e.byRule[id]++
	}
	e.statsMu.Unlock()
}

// sendEvent 非阻塞发送事件
func (e *Engine) sendEvent(evt model.Event) {
	if e.events == nil {
		return
	}
	evt.Session = e.session
	evt.Timestamp = time.Now().UnixMilli()
	select {
	case e.events <- evt:
	default:
	}
}

func ruleIDs(rs []model.CompiledRule) []model.RuleID {
	ids := make([]model.RuleID, len(rs))
	for i, r := range rs {
		ids[i] = r.ID
	}
	return ids
}

func firstRule(ids []model.RuleID) *model.RuleID {
	if len(ids) == 0 {
		return nil
	}
	id := ids[0]
	return &id
}
