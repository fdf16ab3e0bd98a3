package handler

import (
	"context"
	"time"

	"github.com/mafredri/cdp/protocol/fetch"

	adapter "mockdriver/internal/adapter/cdp"
	"mockdriver/internal/logger"
	"mockdriver/internal/rules"
	"mockdriver/internal/storage"
	"mockdriver/pkg/model"
	"mockdriver/pkg/traffic"
)

// 单次暂停请求的处理结果
const (
	ResultInjected = "injected"
	ResultPassed   = "passed"
	ResultFailed   = "failed"
)

// RequestContinuer 放行暂停请求，cdp.Client.Fetch 满足该接口
type RequestContinuer interface {
	ContinueRequest(ctx context.Context, args *fetch.ContinueRequestArgs) error
}

// Recorder 注入历史记录
type Recorder interface {
	Save(ctx context.Context, rec *storage.InjectionRecord) error
}

// Handler 事件处理器，负责把暂停请求交给引擎决定并按决定放行
type Handler struct {
	engine           *rules.Engine
	recorder         Recorder
	events           chan model.Event
	session          model.SessionID
	processTimeoutMS int
	log              logger.Logger
}

// Config 配置选项
type Config struct {
	Engine           *rules.Engine
	Recorder         Recorder
	Events           chan model.Event
	Session          model.SessionID
	ProcessTimeoutMS int
	Logger           logger.Logger
}

// New 创建事件处理器
func New(cfg Config) *Handler {
	h := &Handler{
		engine:           cfg.Engine,
		recorder:         cfg.Recorder,
		events:           cfg.Events,
		session:          cfg.Session,
		processTimeoutMS: cfg.ProcessTimeoutMS,
		log:              cfg.Logger,
	}
	if h.processTimeoutMS <= 0 {
		h.processTimeoutMS = 3000
	}
	if h.log == nil {
		h.log = logger.NewNop()
	}
	return h
}

// HandleRequest 处理一次请求阶段的暂停：先记录请求体关联，再取得头部决定并放行。
// 无论引擎是否出错，请求都会被放行
func (h *Handler) HandleRequest(
	ctx context.Context,
	targetID model.TargetID,
	client RequestContinuer,
	ev *fetch.RequestPausedReply,
) string {
	ctx, cancel := context.WithTimeout(ctx, time.Duration(h.processTimeoutMS)*time.Millisecond)
	defer cancel()
	start := time.Now()
	req := adapter.ToTrafficRequest(ev)
	l := h.log.With("target", string(targetID), "requestID", req.ID)

	if h.engine == nil {
		if !h.continueRequest(ctx, client, ev, nil, l) {
			return ResultFailed
		}
		return ResultPassed
	}

	h.engine.OnRequestStart(ctx, rules.RequestStart{ID: req.ID, Method: req.Method, URL: req.URL, Body: req.Body})
	d, err := h.engine.OnHeadersPending(ctx, req)
	if err != nil {
		l.Err(err, "计算注入头部失败，原样放行")
		if !h.continueRequest(ctx, client, ev, nil, l) {
			return ResultFailed
		}
		h.sendEvent(model.Event{Type: ResultPassed, Target: targetID, URL: req.URL, Method: req.Method, Error: err})
		return ResultPassed
	}

	if !d.Inject {
		if !h.continueRequest(ctx, client, ev, nil, l) {
			return ResultFailed
		}
		h.sendEvent(model.Event{Type: ResultPassed, Target: targetID, URL: req.URL, Method: req.Method, Operation: d.Operation})
		l.Debug("请求处理完成，未注入", "duration", time.Since(start))
		return ResultPassed
	}

	headers := make(traffic.Header, len(req.Headers)+len(d.Headers))
	headers.Merge(req.Headers)
	d.Apply(headers)
	if !h.continueRequest(ctx, client, ev, headers, l) {
		return ResultFailed
	}
	h.record(ctx, targetID, req, d, l)
	l.Debug("请求处理完成，已注入头部", "operation", d.Operation, "headers", d.Headers.Keys(), "duration", time.Since(start))
	return ResultInjected
}

// continueRequest 放行请求，headers 非空时整体替换请求头
func (h *Handler) continueRequest(ctx context.Context, client RequestContinuer, ev *fetch.RequestPausedReply, headers traffic.Header, l logger.Logger) bool {
	args := &fetch.ContinueRequestArgs{RequestID: ev.RequestID}
	if headers != nil {
		args.Headers = adapter.ToHeaderEntries(headers)
	}
	if err := client.ContinueRequest(ctx, args); err != nil {
		l.Err(err, "放行请求失败")
		return false
	}
	return true
}

// record 写入注入历史，失败只记录日志
func (h *Handler) record(ctx context.Context, targetID model.TargetID, req *traffic.Request, d rules.Decision, l logger.Logger) {
	if h.recorder == nil {
		return
	}
	rec := &storage.InjectionRecord{
		SessionID: string(h.session),
		TargetID:  string(targetID),
		RequestID: req.ID,
		Mode:      string(h.engine.Mode()),
		URL:       req.URL,
		Method:    req.Method,
		Operation: d.Operation,
		Headers:   d.Headers,
		CreatedAt: time.Now(),
	}
	if err := h.recorder.Save(ctx, rec); err != nil {
		l.Err(err, "写入注入历史失败")
	}
}

// sendEvent 安全发送事件到通道，自动添加时间戳
func (h *Handler) sendEvent(evt model.Event) {
	if h.events == nil {
		return
	}
	evt.Session = h.session
	evt.Timestamp = time.Now().UnixMilli()
	select {
	case h.events <- evt:
	default:
	}
}
