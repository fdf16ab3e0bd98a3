package cdp

import (
	"context"
	"time"

	"github.com/mafredri/cdp/protocol/fetch"

	"mockdriver/internal/handler"
	"mockdriver/pkg/model"
)

// 降级放行的结果
const resultDegraded = "degraded"

// handle 处理一次拦截事件
func (m *Manager) handle(ts *targetSession, ev *fetch.RequestPausedReply) {
	res := m.handler.HandleRequest(ts.ctx, ts.id, ts.client.Fetch, ev)
	m.observe(res)
}

// dispatchPaused 根据并发配置调度单次拦截事件处理，并发已满时降级放行
func (m *Manager) dispatchPaused(ts *targetSession, ev *fetch.RequestPausedReply) {
	if m.sem == nil {
		go m.handle(ts, ev)
		return
	}
	if !m.sem.TryAcquire(1) {
		m.degradeAndContinue(ts, ev, "并发已满")
		return
	}
	go func() {
		defer m.sem.Release(1)
		m.handle(ts, ev)
	}()
}

// consume 持续接收拦截事件并按并发限制分发处理
func (m *Manager) consume(ts *targetSession) {
	rp, err := ts.client.Fetch.RequestPaused(ts.ctx)
	if err != nil {
		m.log.Err(err, "订阅拦截事件流失败", "target", string(ts.id))
		m.handleTargetStreamClosed(ts, err)
		return
	}
	defer rp.Close()

	m.log.Info("开始消费拦截事件流", "target", string(ts.id))
	for {
		ev, err := rp.Recv()
		if err != nil {
			m.handleTargetStreamClosed(ts, err)
			return
		}
		m.dispatchPaused(ts, ev)
	}
}

// watchLoading 监听请求完成与失败，清理对应的关联条目
func (m *Manager) watchLoading(ts *targetSession) {
	if m.lifecycle == nil {
		return
	}
	finished, err := ts.client.Network.LoadingFinished(ts.ctx)
	if err != nil {
		m.log.Err(err, "订阅请求完成事件失败", "target", string(ts.id))
		return
	}
	defer finished.Close()
	failed, err := ts.client.Network.LoadingFailed(ts.ctx)
	if err != nil {
		m.log.Err(err, "订阅请求失败事件失败", "target", string(ts.id))
		return
	}
	defer failed.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			ev, err := failed.Recv()
			if err != nil {
				return
			}
			m.lifecycle.OnErrored(string(ev.RequestID))
		}
	}()
	for {
		ev, err := finished.Recv()
		if err != nil {
			break
		}
		m.lifecycle.OnCompleted(string(ev.RequestID))
	}
	<-done
}

// handleTargetStreamClosed 处理单个目标的拦截流终止
func (m *Manager) handleTargetStreamClosed(ts *targetSession, err error) {
	if !m.isEnabled() || ts.ctx.Err() != nil {
		m.log.Info("拦截已停止，结束目标事件消费", "target", string(ts.id))
		return
	}

	m.log.Warn("拦截流被中断，自动移除目标", "target", string(ts.id), "error", err)

	m.targetsMu.Lock()
	defer m.targetsMu.Unlock()

	if cur, ok := m.targets[ts.id]; ok && cur == ts {
		m.closeTargetSession(cur)
		delete(m.targets, ts.id)
	}
}

// degradeAndContinue 统一的降级处理：直接放行请求
func (m *Manager) degradeAndContinue(ts *targetSession, ev *fetch.RequestPausedReply, reason string) {
	m.log.Warn("执行降级策略：直接放行", "target", string(ts.id), "reason", reason, "requestID", ev.RequestID)
	ctx, cancel := context.WithTimeout(ts.ctx, 1*time.Second)
	defer cancel()
	if err := ts.client.Fetch.ContinueRequest(ctx, &fetch.ContinueRequestArgs{RequestID: ev.RequestID}); err != nil {
		m.log.Err(err, "降级放行失败", "target", string(ts.id))
	}
	m.observe(resultDegraded)
	m.sendEvent(model.Event{Type: resultDegraded, Target: ts.id, URL: ev.Request.URL, Method: ev.Request.Method})
}

func (m *Manager) observe(result string) {
	if m.observer != nil {
		m.observer.PausedRequest(result)
	}
	if result == handler.ResultFailed {
		m.log.Warn("暂停请求未能放行")
	}
}

// sendEvent 安全发送事件到通道，自动添加时间戳
func (m *Manager) sendEvent(evt model.Event) {
	if m.events == nil {
		return
	}
	evt.Session = m.session
	evt.Timestamp = time.Now().UnixMilli()
	select {
	case m.events <- evt:
	default:
	}
}
