package model

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

type SessionID string
type TargetID string
type RuleID int

// ErrDuplicateKey 头部条目键重复
var ErrDuplicateKey = errors.New("duplicate header entry key")

// SessionConfig 会话配置
type SessionConfig struct {
	DevToolsURL      string `json:"devToolsURL"`
	Concurrency      int    `json:"concurrency"`
	ProcessTimeoutMS int    `json:"processTimeoutMS"`
	PollIntervalMS   int    `json:"pollIntervalMS"`
}

// HeaderEntry 复合头部中的一条 mock 指令，Key 为 API 路径，Value 为指令
type HeaderEntry struct {
	Key   string `json:"key" mapstructure:"key"`
	Value string `json:"value" mapstructure:"value"`
}

// Header 逐请求合并模式下的单个头部
type Header struct {
	Name    string `json:"name" mapstructure:"name"`
	Value   string `json:"value" mapstructure:"value"`
	Enabled bool   `json:"enabled" mapstructure:"enabled"`
}

// OperationOverride 针对某个 GraphQL operation 的头部覆盖
type OperationOverride struct {
	OperationName string   `json:"operationName" mapstructure:"operation_name"`
	Headers       []Header `json:"headers" mapstructure:"headers"`
	Enabled       bool     `json:"enabled" mapstructure:"enabled"`
}

// Settings 注入配置，由外部配置源提供，引擎只读
type Settings struct {
	TargetURL         string        `json:"targetUrl" mapstructure:"target_url"`
	HTTPMethod        string        `json:"httpMethod" mapstructure:"http_method"`
	RestrictToTabURLs bool          `json:"restrictToTabUrlsEnabled" mapstructure:"restrict_to_tab_urls"`
	TabURLPatterns    []string      `json:"tabUrlPatterns" mapstructure:"tab_url_patterns"`
	HeaderSuffix      string        `json:"mockHeaderSuffix" mapstructure:"header_suffix"`
	HeaderEntries     []HeaderEntry `json:"mockHeaderKeyValuePairs" mapstructure:"header_entries"`

	InjectionEnabled   bool                `json:"isEnabled" mapstructure:"injection_enabled"`
	CommonHeaders      []Header            `json:"commonHeaders" mapstructure:"common_headers"`
	OperationOverrides []OperationOverride `json:"operationOverrides" mapstructure:"operation_overrides"`
}

// Method 返回规范化（小写）的请求方法，未配置时为 post
func (s *Settings) Method() string {
	m := strings.ToLower(strings.TrimSpace(s.HTTPMethod))
	if m == "" {
		return "post"
	}
	return m
}

// Clone 深拷贝配置
func (s *Settings) Clone() *Settings {
	if s == nil {
		return nil
	}
	c := *s
	c.TabURLPatterns = append([]string(nil), s.TabURLPatterns...)
	c.HeaderEntries = append([]HeaderEntry(nil), s.HeaderEntries...)
	c.CommonHeaders = append([]Header(nil), s.CommonHeaders...)
	c.OperationOverrides = make([]OperationOverride, len(s.OperationOverrides))
	for i, o := range s.OperationOverrides {
		o.Headers = append([]Header(nil), o.Headers...)
		c.OperationOverrides[i] = o
	}
	if s.OperationOverrides == nil {
		c.OperationOverrides = nil
	}
	return &c
}

// Validate 校验配置。引擎本身容忍重复键（后者覆盖前者），但调用方应在保存前暴露这些错误
func (s *Settings) Validate() error {
	var errs []error
	target := strings.TrimSpace(s.TargetURL)
	if target == "" {
		errs = append(errs, errors.New("target url is empty"))
	} else if u, err := url.Parse(target); err != nil || u.Host == "" {
		errs = append(errs, fmt.Errorf("target url %q is not a valid url", target))
	}
	if s.RestrictToTabURLs && len(strings.TrimSpace(strings.Join(s.TabURLPatterns, ""))) == 0 {
		errs = append(errs, errors.New("tab url restriction enabled without patterns"))
	}

	seen := make(map[string]struct{}, len(s.HeaderEntries))
	valid := 0
	for i, e := range s.HeaderEntries {
		key := strings.TrimSpace(e.Key)
		if key == "" {
			continue
		}
		valid++
		if strings.TrimSpace(e.Value) == "" {
			errs = append(errs, fmt.Errorf("header entry %d (%s): empty instruction", i, key))
		}
		if _, ok := seen[key]; ok {
			errs = append(errs, fmt.Errorf("header entry %d: %w: %s", i, ErrDuplicateKey, key))
		}
		seen[key] = struct{}{}
	}
	if valid == 0 && len(s.CommonHeaders) == 0 {
		errs = append(errs, errors.New("no header entries"))
	}

	names := make(map[string]struct{}, len(s.CommonHeaders))
	for i, h := range s.CommonHeaders {
		name := strings.ToLower(strings.TrimSpace(h.Name))
		if name == "" {
			continue
		}
		if _, ok := names[name]; ok {
			errs = append(errs, fmt.Errorf("common header %d: %w: %s", i, ErrDuplicateKey, name))
		}
		names[name] = struct{}{}
	}
	return errors.Join(errs...)
}

// RuleCondition 规则匹配条件
type RuleCondition struct {
	URLPrefix     string   `json:"urlFilter"`
	Methods       []string `json:"requestMethods"`
	ResourceTypes []string `json:"resourceTypes"`
}

// HeaderOperation 头部修改操作
type HeaderOperation struct {
	Name      string `json:"header"`
	Operation string `json:"operation"`
	Value     string `json:"value"`
}

// CompiledRule 编译后的声明式规则，每次触发都整体重建
type CompiledRule struct {
	ID         RuleID            `json:"id"`
	Priority   int               `json:"priority"`
	Condition  RuleCondition     `json:"condition"`
	Operations []HeaderOperation `json:"requestHeaders"`
}

// EngineStats 引擎统计
type EngineStats struct {
	Total      int64            `json:"total"`
	Injected   int64            `json:"injected"`
	Correlated int64            `json:"correlated"`
	Refreshes  int64            `json:"refreshes"`
	ByRule     map[RuleID]int64 `json:"byRule"`
}

type Event struct {
	Type      string    `json:"type"`
	Session   SessionID `json:"session"`
	Target    TargetID  `json:"target"`
	Rule      *RuleID   `json:"rule"`
	URL       string    `json:"url"`
	Method    string    `json:"method"`
	Operation string    `json:"operation"`
	Timestamp int64     `json:"timestamp"`
	Error     error     `json:"error"`
}

type TargetInfo struct {
	ID        TargetID `json:"id"`
	Type      string   `json:"type"`
	URL       string   `json:"url"`
	Title     string   `json:"title"`
	IsCurrent bool     `json:"isCurrent"`
	IsUser    bool     `json:"isUser"`
}
