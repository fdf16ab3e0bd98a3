package rules

import (
	"context"

	"mockdriver/pkg/model"
	"mockdriver/pkg/traffic"
)

// SettingsStore 配置来源，Get 必须返回完整快照
type SettingsStore interface {
	Get(ctx context.Context) (*model.Settings, error)
}

// TabContext 浏览器标签页上下文
type TabContext interface {
	// ActiveTabURL 返回当前活动标签页 URL，没有活动标签页时 ok 为 false
	ActiveTabURL(ctx context.Context) (url string, ok bool, err error)
	IsWindowFocused(ctx context.Context, windowID string) (bool, error)
}

// RuleSink 声明式规则的安装目标，Replace 必须原子地完成移除与添加
type RuleSink interface {
	ListInstalled(ctx context.Context) ([]model.RuleID, error)
	Replace(ctx context.Context, remove []model.RuleID, add []model.CompiledRule) error
}

// RuleEvaluator 可以在宿主侧对已安装规则逐请求求值的 RuleSink
type RuleEvaluator interface {
	Evaluate(req *traffic.Request) Decision
}

// Observer 引擎指标观察者。
// Compiled 在每次编译后调用；Applied 仅在规则集成功生效后调用。
type Observer interface {
	Compiled(mode Mode, state State)
	Installed(rules int, err error)
	Applied(state State)
	Injected(mode Mode)
	Correlated()
}

type nopObserver struct{}

func (nopObserver) Compiled(Mode, State) {}
func (nopObserver) Installed(int, error) {}
func (nopObserver) Applied(State)        {}
func (nopObserver) Injected(Mode)        {}
func (nopObserver) Correlated()          {}
