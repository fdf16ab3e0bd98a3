package session

import (
	"context"
	"sync"

	"mockdriver/internal/cdp"
	"mockdriver/internal/rules"
	"mockdriver/pkg/model"
)

// Session 一次浏览器连接的运行时状态
type Session struct {
	ID     model.SessionID
	Config model.SessionConfig

	mu      sync.Mutex
	engine  *rules.Engine
	manager *cdp.Manager
	events  chan model.Event
	cancel  context.CancelFunc
}

// New 创建空会话
func New(id model.SessionID) *Session {
	return &Session{ID: id}
}

// Bind 装配会话组件
func (s *Session) Bind(cfg model.SessionConfig, e *rules.Engine, m *cdp.Manager, events chan model.Event, cancel context.CancelFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Config = cfg
	s.engine = e
	s.manager = m
	s.events = events
	s.cancel = cancel
}

// Engine 会话引擎
func (s *Session) Engine() *rules.Engine {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.engine
}

// Manager 会话的 DevTools 管理器
func (s *Session) Manager() *cdp.Manager {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.manager
}

// Events 会话事件流
func (s *Session) Events() <-chan model.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.events
}

// Close 停止后台任务并分离所有目标，可重复调用
func (s *Session) Close() error {
	s.mu.Lock()
	cancel, m := s.cancel, s.manager
	s.cancel = nil
	s.mu.Unlock()
	if cancel == nil {
		return nil
	}
	cancel()
	if m != nil {
		return m.Detach()
	}
	return nil
}
