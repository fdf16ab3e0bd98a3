package api

import (
	"context"

	"mockdriver/internal/rules"
	"mockdriver/internal/service"
	"mockdriver/pkg/model"
)

// Service 服务接口
type Service interface {
	// StartSession 连接浏览器并启动会话
	StartSession(ctx context.Context, cfg model.SessionConfig) (model.SessionID, error)

	// StopSession 停止会话
	StopSession(id model.SessionID) error

	// AttachTarget 附加目标
	AttachTarget(ctx context.Context, id model.SessionID, target model.TargetID) error

	// DetachTarget 分离目标
	DetachTarget(id model.SessionID, target model.TargetID) error

	// ListTargets 列出目标
	ListTargets(ctx context.Context, id model.SessionID) ([]model.TargetInfo, error)

	// Refresh 手动重编译规则
	Refresh(ctx context.Context, id model.SessionID) (rules.Compilation, error)

	// GetStats 获取统计信息
	GetStats(id model.SessionID) (model.EngineStats, error)

	// SubscribeEvents 订阅事件
	SubscribeEvents(id model.SessionID) (<-chan model.Event, error)

	// Close 停止所有会话
	Close()
}

// Deps 服务依赖
type Deps = service.Deps

// NewService 创建并返回服务接口实现
func NewService(d Deps) Service {
	return service.New(d)
}
