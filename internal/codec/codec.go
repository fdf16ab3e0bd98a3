// Package codec 负责注入头部的名称与取值编码。
package codec

import (
	"fmt"
	"regexp"
	"strings"

	"mockdriver/pkg/model"
)

// HeaderPrefix 注入头部名的固定前缀
const HeaderPrefix = "x-ov-mock"

const (
	compositeSeparator = " ::: "
	keyValueSeparator  = ";"
)

// Encoding 头部取值编码方式
type Encoding string

const (
	// EncodingComposite "{path} | Prefer {instruction}" 以 " ::: " 连接，status= 改写为 code=
	EncodingComposite Encoding = "composite"
	// EncodingKeyValue "{name}={value}" 以 ";" 连接，不做改写
	EncodingKeyValue Encoding = "keyvalue"
)

var statusToken = regexp.MustCompile(`(?i)\bstatus\s*=`)

// ParseEncoding 解析编码名
func ParseEncoding(s string) (Encoding, error) {
	switch e := Encoding(strings.ToLower(strings.TrimSpace(s))); e {
	case EncodingComposite, EncodingKeyValue:
		return e, nil
	case "":
		return EncodingComposite, nil
	default:
		return "", fmt.Errorf("unknown header encoding %q", s)
	}
}

// HeaderName 由后缀生成小写的头部名
func HeaderName(suffix string) string {
	clean := strings.ToLower(strings.TrimSpace(suffix))
	if clean == "" {
		return HeaderPrefix
	}
	if !strings.HasPrefix(clean, "-") {
		clean = "-" + clean
	}
	return strings.ToLower(HeaderPrefix + clean)
}

// Encode 按编码方式生成头部取值
func (e Encoding) Encode(entries []model.HeaderEntry) string {
	if e == EncodingKeyValue {
		return KeyValue(entries)
	}
	return HeaderValue(entries)
}

// HeaderValue 复合编码。空键条目被丢弃；重复键后者覆盖前者，保留首次出现的位置
func HeaderValue(entries []model.HeaderEntry) string {
	pairs := dedupe(entries)
	parts := make([]string, 0, len(pairs))
	for _, p := range pairs {
		instruction := statusToken.ReplaceAllString(p.Value, "code=")
		parts = append(parts, p.Key+" | Prefer "+instruction)
	}
	return strings.Join(parts, compositeSeparator)
}

// KeyValue 简单编码 name=value;name2=value2
func KeyValue(entries []model.HeaderEntry) string {
	pairs := dedupe(entries)
	parts := make([]string, 0, len(pairs))
	for _, p := range pairs {
		parts = append(parts, p.Key+"="+p.Value)
	}
	return strings.Join(parts, keyValueSeparator)
}

// DecodeHeaderValue 解析复合编码，供测试与 mock 服务端对照使用
func DecodeHeaderValue(value string) []model.HeaderEntry {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	var out []model.HeaderEntry
	for _, part := range strings.Split(value, compositeSeparator) {
		key, instruction, ok := strings.Cut(part, " | Prefer ")
		if !ok {
			continue
		}
		out = append(out, model.HeaderEntry{Key: strings.TrimSpace(key), Value: strings.TrimSpace(instruction)})
	}
	return out
}

// DecodeKeyValue 解析 name=value;... 编码
func DecodeKeyValue(value string) []model.HeaderEntry {
	var out []model.HeaderEntry
	for _, part := range strings.Split(value, keyValueSeparator) {
		key, val, ok := strings.Cut(part, "=")
		if !ok || strings.TrimSpace(key) == "" {
			continue
		}
		out = append(out, model.HeaderEntry{Key: strings.TrimSpace(key), Value: val})
	}
	return out
}

func dedupe(entries []model.HeaderEntry) []model.HeaderEntry {
	out := make([]model.HeaderEntry, 0, len(entries))
	index := make(map[string]int, len(entries))
	for _, e := range entries {
		key := strings.TrimSpace(e.Key)
		if key == "" {
			continue
		}
		val := strings.TrimSpace(e.Value)
		if i, ok := index[key]; ok {
			out[i].Value = val
			continue
		}
		index[key] = len(out)
		out = append(out, model.HeaderEntry{Key: key, Value: val})
	}
	return out
}
