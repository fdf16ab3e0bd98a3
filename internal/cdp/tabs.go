package cdp

import (
	"context"
	"time"

	"mockdriver/internal/rules"
)

type tabState struct {
	id  string
	url string
}

// WatchTabs 轮询 DevTools 目标列表，活动标签页切换或 URL 变化时通知监听者，直到 ctx 结束
func (m *Manager) WatchTabs(ctx context.Context) {
	if m.tabs == nil {
		return
	}
	ticker := time.NewTicker(m.pollInterval)
	defer ticker.Stop()

	var prev tabState
	for {
		prev = m.pollTabs(ctx, prev)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// pollTabs 比较一次活动标签页，返回新的状态
func (m *Manager) pollTabs(ctx context.Context, prev tabState) tabState {
	t, err := m.activeTarget(ctx)
	if err != nil {
		m.log.Debug("轮询标签页失败", "error", err.Error())
		return prev
	}
	if t == nil {
		return tabState{}
	}
	cur := tabState{id: t.ID, url: t.URL}
	switch {
	case cur.id != prev.id:
		if err := m.tabs.OnTabActivated(ctx, cur.id); err != nil {
			m.log.Err(err, "处理标签页激活失败", "tab", cur.id)
		}
	case cur.url != prev.url:
		if err := m.tabs.OnTabUpdated(ctx, rules.TabUpdate{WindowID: cur.id, Active: true, URLChanged: true}); err != nil {
			m.log.Err(err, "处理标签页更新失败", "tab", cur.id)
		}
	}
	return cur
}
