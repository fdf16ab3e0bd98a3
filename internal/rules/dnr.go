package rules

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"mockdriver/pkg/model"
)

type dnrHeader struct {
	Header    string `json:"header"`
	Operation string `json:"operation"`
	Value     string `json:"value"`
}

// MarshalDNR 将规则集编码为 Chrome declarativeNetRequest 动态规则 JSON
func MarshalDNR(rules []model.CompiledRule) ([]byte, error) {
	out := []byte("[]")
	for _, r := range rules {
		obj, err := marshalDNRRule(r)
		if err != nil {
			return nil, fmt.Errorf("rule %d: %w", r.ID, err)
		}
		if out, err = sjson.SetRawBytes(out, "-1", obj); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func marshalDNRRule(r model.CompiledRule) ([]byte, error) {
	headers := make([]dnrHeader, 0, len(r.Operations))
	for _, op := range r.Operations {
		headers = append(headers, dnrHeader{Header: op.Name, Operation: op.Operation, Value: op.Value})
	}
	methods := r.Condition.Methods
	if methods == nil {
		methods = []string{}
	}
	types := r.Condition.ResourceTypes
	if types == nil {
		types = []string{}
	}

	obj := []byte("{}")
	var err error
	set := func(path string, v any) {
		if err != nil {
			return
		}
		obj, err = sjson.SetBytes(obj, path, v)
	}
	set("id", int(r.ID))
	set("priority", r.Priority)
	set("action.type", "modifyHeaders")
	set("action.requestHeaders", headers)
	set("condition.urlFilter", r.Condition.URLPrefix)
	set("condition.requestMethods", methods)
	set("condition.resourceTypes", types)
	return obj, err
}

// FileSink 以 declarativeNetRequest JSON 文件形式安装规则，供浏览器扩展宿主读取
type FileSink struct {
	mu   sync.Mutex
	path string
}

// NewFileSink 创建文件规则输出
func NewFileSink(path string) *FileSink {
	return &FileSink{path: path}
}

// ListInstalled 读取文件中的规则ID，文件不存在视为空
func (f *FileSink) ListInstalled(context.Context) ([]model.RuleID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rules, err := f.read()
	if err != nil {
		return nil, err
	}
	return ruleIDs(rules), nil
}

// Replace 读取现有规则、计算新规则集并整体写入（临时文件 + 重命名）
func (f *FileSink) Replace(_ context.Context, remove []model.RuleID, add []model.CompiledRule) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	current, err := f.read()
	if err != nil {
		return err
	}
	next, err := replaceRules(current, remove, add)
	if err != nil {
		return err
	}
	data, err := MarshalDNR(next)
	if err != nil {
		return err
	}
	if dir := filepath.Dir(f.path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create rule dir: %w", err)
		}
	}
	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write rules: %w", err)
	}
	return os.Rename(tmp, f.path)
}

func (f *FileSink) read() ([]model.CompiledRule, error) {
	data, err := os.ReadFile(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read rules: %w", err)
	}
	return UnmarshalDNR(data)
}

// UnmarshalDNR 解析 declarativeNetRequest 规则 JSON
func UnmarshalDNR(data []byte) ([]model.CompiledRule, error) {
	if len(data) == 0 {
		return nil, nil
	}
	if !gjson.ValidBytes(data) {
		return nil, errors.New("rules file is not valid json")
	}
	root := gjson.ParseBytes(data)
	if !root.IsArray() {
		return nil, errors.New("rules file must contain a json array")
	}
	var out []model.CompiledRule
	root.ForEach(func(_, r gjson.Result) bool {
		rule := model.CompiledRule{
			ID:       model.RuleID(r.Get("id").Int()),
			Priority: int(r.Get("priority").Int()),
			Condition: model.RuleCondition{
				URLPrefix:     r.Get("condition.urlFilter").String(),
				Methods:       stringList(r.Get("condition.requestMethods")),
				ResourceTypes: stringList(r.Get("condition.resourceTypes")),
			},
		}
		r.Get("action.requestHeaders").ForEach(func(_, h gjson.Result) bool {
			rule.Operations = append(rule.Operations, model.HeaderOperation{
				Name:      h.Get("header").String(),
				Operation: h.Get("operation").String(),
				Value:     h.Get("value").String(),
			})
			return true
		})
		out = append(out, rule)
		return true
	})
	return out, nil
}

func stringList(r gjson.Result) []string {
	var out []string
	for _, v := range r.Array() {
		out = append(out, v.String())
	}
	return out
}
