package rules

import (
	"fmt"
	"strings"

	"mockdriver/internal/codec"
	"mockdriver/internal/pattern"
	"mockdriver/pkg/model"
	"mockdriver/pkg/traffic"
)

// Mode 编译策略
type Mode string

const (
	// ModeDeclarative 预先安装一条复合头部规则，由宿主逐请求求值
	ModeDeclarative Mode = "declarative"
	// ModeBlocking 每个请求发送头部前同步决定要合并的头部
	ModeBlocking Mode = "blocking"
)

// ParseMode 解析策略名
func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(s))); m {
	case ModeDeclarative, ModeBlocking:
		return m, nil
	case "":
		return ModeDeclarative, nil
	default:
		return "", fmt.Errorf("unknown engine mode %q", s)
	}
}

// State 规则状态
type State int

const (
	StateInactive State = iota
	StateActive
)

func (s State) String() string {
	if s == StateActive {
		return "ACTIVE"
	}
	return "INACTIVE"
}

// OperationSet 规则中唯一使用的头部操作
const OperationSet = "set"

// DefaultResourceTypes 复合头部规则覆盖的资源类型
var DefaultResourceTypes = []string{"xmlhttprequest", "main_frame", "sub_frame", "other"}

// Tab 一次编译时的活动标签页
type Tab struct {
	URL   string
	Known bool
}

// Compilation 一次编译的完整目标状态
type Compilation struct {
	State  State
	Rules  []model.CompiledRule
	Reason string
}

// Decision 单个请求的头部决定
type Decision struct {
	Inject    bool
	Headers   traffic.Header
	Operation string
	Rules     []model.RuleID
}

// Apply 将决定合并进请求头，同名（大小写不敏感）覆盖
func (d Decision) Apply(h traffic.Header) {
	if !d.Inject {
		return
	}
	h.Merge(d.Headers)
}

// Strategy 编译策略。Compile 产生要安装的规则集，Decide 产生逐请求决定
type Strategy interface {
	Mode() Mode
	Compile(s *model.Settings, tab Tab) Compilation
	Decide(s *model.Settings, req *traffic.Request, operation string) Decision
}

// NewStrategy 按模式创建策略
func NewStrategy(mode Mode, enc codec.Encoding) Strategy {
	if mode == ModeBlocking {
		return Blocking{}
	}
	return Declarative{Encoding: enc}
}

func inactive(reason string) Compilation {
	return Compilation{State: StateInactive, Reason: reason}
}

// Declarative 复合头部声明式规则
type Declarative struct {
	Encoding codec.Encoding
}

func (Declarative) Mode() Mode { return ModeDeclarative }

// Compile 从零计算目标规则集：零条或一条规则，ID 从 1 顺序分配
func (d Declarative) Compile(s *model.Settings, tab Tab) Compilation {
	if s == nil {
		return inactive("settings absent")
	}
	target := strings.TrimSpace(s.TargetURL)
	if target == "" {
		return inactive("target url not set")
	}
	if s.RestrictToTabURLs {
		if !tab.Known || !pattern.Matches(tab.URL, s.TabURLPatterns) {
			return inactive("active tab url does not match restriction patterns")
		}
	}

	enc := d.Encoding
	if enc == "" {
		enc = codec.EncodingComposite
	}
	name := codec.HeaderName(s.HeaderSuffix)
	value := enc.Encode(s.HeaderEntries)
	if name == "" || value == "" {
		return inactive("no valid header entries")
	}

	rule := model.CompiledRule{
		ID:       1,
		Priority: 1,
		Condition: model.RuleCondition{
			URLPrefix:     target,
			Methods:       []string{s.Method()},
			ResourceTypes: append([]string(nil), DefaultResourceTypes...),
		},
		Operations: []model.HeaderOperation{{Name: name, Operation: OperationSet, Value: value}},
	}
	return Compilation{State: StateActive, Rules: []model.CompiledRule{rule}}
}

// Decide 声明式模式没有逐请求步骤，由宿主对已安装规则求值
func (Declarative) Decide(*model.Settings, *traffic.Request, string) Decision {
	return Decision{}
}

// Blocking 逐请求合并通用头部与 operation 覆盖头部
type Blocking struct{}

func (Blocking) Mode() Mode { return ModeBlocking }

// Compile 阻塞模式不安装任何规则，只报告是否处于生效状态
func (Blocking) Compile(s *model.Settings, _ Tab) Compilation {
	if s == nil {
		return inactive("settings absent")
	}
	if !s.InjectionEnabled {
		return inactive("injection disabled")
	}
	if strings.TrimSpace(s.TargetURL) == "" {
		return inactive("target url not set")
	}
	return Compilation{State: StateActive}
}

// Decide 请求 URL 以目标 URL 为前缀且注入开启时，先合并启用的通用头部，
// 再合并第一个名称匹配的启用覆盖项，覆盖项优先
func (Blocking) Decide(s *model.Settings, req *traffic.Request, operation string) Decision {
	if s == nil || req == nil || !s.InjectionEnabled {
		return Decision{}
	}
	target := strings.TrimSpace(s.TargetURL)
	if target == "" || !strings.HasPrefix(req.URL, target) {
		return Decision{}
	}

	headers := make(traffic.Header)
	mergeEnabled(headers, s.CommonHeaders)
	if operation != "" {
		for _, o := range s.OperationOverrides {
			if o.Enabled && o.OperationName == operation {
				mergeEnabled(headers, o.Headers)
				break
			}
		}
	}
	return Decision{Inject: len(headers) > 0, Headers: headers, Operation: operation}
}

func mergeEnabled(dst traffic.Header, src []model.Header) {
	for _, h := range src {
		name := strings.TrimSpace(h.Name)
		if !h.Enabled || name == "" {
			continue
		}
		dst.Set(name, h.Value)
	}
}
