package cdp

import (
	"encoding/json"

	"github.com/mafredri/cdp/protocol/fetch"

	"mockdriver/pkg/traffic"
)

// ToTrafficRequest 将暂停事件转换为中立 Request 模型。
// ID 取网络层请求ID（与 Network.loadingFinished 等事件一致），缺失时退回 Fetch 请求ID
func ToTrafficRequest(ev *fetch.RequestPausedReply) *traffic.Request {
	req := traffic.NewRequest()
	req.ID = CorrelationID(ev)
	req.URL = ev.Request.URL
	req.Method = ev.Request.Method
	req.ResourceType = string(ev.ResourceType)

	var headers map[string]string
	if len(ev.Request.Headers) > 0 {
		if err := json.Unmarshal(ev.Request.Headers, &headers); err == nil {
			for k, v := range headers {
				req.Headers.Set(k, v)
			}
		}
	}
	if ev.Request.PostData != nil {
		req.Body = []byte(*ev.Request.PostData)
	}
	return req
}

// CorrelationID 关联生命周期事件使用的请求ID
func CorrelationID(ev *fetch.RequestPausedReply) string {
	if ev.NetworkID != nil && *ev.NetworkID != "" {
		return string(*ev.NetworkID)
	}
	return string(ev.RequestID)
}

// ToHeaderEntries 将中立 Header 转换为按名称排序的 CDP Header 条目
func ToHeaderEntries(h traffic.Header) []fetch.HeaderEntry {
	entries := make([]fetch.HeaderEntry, 0, len(h))
	for _, k := range h.Keys() {
		entries = append(entries, fetch.HeaderEntry{Name: k, Value: h[k]})
	}
	return entries
}
