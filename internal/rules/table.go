package rules

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"mockdriver/pkg/model"
	"mockdriver/pkg/traffic"
)

// RuleTable 进程内的规则表：作为 RuleSink 接收编译结果，并在拦截时逐请求求值
type RuleTable struct {
	mu    sync.RWMutex
	rules []model.CompiledRule
}

// NewRuleTable 创建空规则表
func NewRuleTable() *RuleTable {
	return &RuleTable{}
}

// ListInstalled 已安装规则ID
func (t *RuleTable) ListInstalled(context.Context) ([]model.RuleID, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return ruleIDs(t.rules), nil
}

// Rules 已安装规则副本
func (t *RuleTable) Rules() []model.CompiledRule {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return append([]model.CompiledRule(nil), t.rules...)
}

// Replace 原子地移除并添加规则，ID 冲突时整体失败、不做任何修改
func (t *RuleTable) Replace(_ context.Context, remove []model.RuleID, add []model.CompiledRule) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	next, err := replaceRules(t.rules, remove, add)
	if err != nil {
		return err
	}
	t.rules = next
	return nil
}

// Evaluate 对请求求值。规则按优先级升序应用，高优先级的同名头部覆盖低优先级
func (t *RuleTable) Evaluate(req *traffic.Request) Decision {
	t.mu.RLock()
	rules := append([]model.CompiledRule(nil), t.rules...)
	t.mu.RUnlock()

	sort.SliceStable(rules, func(i, j int) bool { return rules[i].Priority < rules[j].Priority })
	headers := make(traffic.Header)
	var hit []model.RuleID
	for _, r := range rules {
		if !conditionMatches(r.Condition, req) {
			continue
		}
		for _, op := range r.Operations {
			if op.Operation == OperationSet {
				headers.Set(op.Name, op.Value)
			}
		}
		hit = append(hit, r.ID)
	}
	return Decision{Inject: len(headers) > 0, Headers: headers, Rules: hit}
}

func replaceRules(current []model.CompiledRule, remove []model.RuleID, add []model.CompiledRule) ([]model.CompiledRule, error) {
	drop := make(map[model.RuleID]struct{}, len(remove))
	for _, id := range remove {
		drop[id] = struct{}{}
	}
	next := make([]model.CompiledRule, 0, len(current)+len(add))
	seen := make(map[model.RuleID]struct{}, len(current)+len(add))
	for _, r := range current {
		if _, ok := drop[r.ID]; ok {
			continue
		}
		next = append(next, r)
		seen[r.ID] = struct{}{}
	}
	for _, r := range add {
		if _, ok := seen[r.ID]; ok {
			return nil, fmt.Errorf("rule id %d already installed", r.ID)
		}
		seen[r.ID] = struct{}{}
		next = append(next, r)
	}
	return next, nil
}

func conditionMatches(c model.RuleCondition, req *traffic.Request) bool {
	if c.URLPrefix != "" && !strings.HasPrefix(req.URL, c.URLPrefix) {
		return false
	}
	if len(c.Methods) > 0 && !containsFold(c.Methods, req.Method) {
		return false
	}
	if len(c.ResourceTypes) > 0 && !containsFold(c.ResourceTypes, ResourceType(req.ResourceType)) {
		return false
	}
	return true
}

func containsFold(list []string, v string) bool {
	for _, s := range list {
		if strings.EqualFold(s, v) {
			return true
		}
	}
	return false
}

// ResourceType 将 DevTools 资源类型映射为 declarativeNetRequest 资源类型名
func ResourceType(devtools string) string {
	switch devtools {
	case "Document":
		return "main_frame"
	case "XHR", "Fetch", "EventSource":
		return "xmlhttprequest"
	case "Stylesheet":
		return "stylesheet"
	case "Script":
		return "script"
	case "Image":
		return "image"
	case "Font":
		return "font"
	case "Media":
		return "media"
	case "WebSocket":
		return "websocket"
	case "Ping":
		return "ping"
	case "CSPViolationReport":
		return "csp_report"
	default:
		return "other"
	}
}
