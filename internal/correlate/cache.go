package correlate

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/tidwall/gjson"

	"mockdriver/internal/logger"
)

const (
	// DefaultTTL 关联条目的最长存活时间
	DefaultTTL = 60 * time.Second
	// DefaultSweepInterval 定期清扫间隔
	DefaultSweepInterval = time.Minute
)

var (
	ErrNotUTF8         = errors.New("request body is not valid utf-8")
	ErrNotJSON         = errors.New("request body is not json")
	ErrNoOperationName = errors.New("request body has no operationName")
)

// Entry 请求与其 GraphQL operation 的关联记录
type Entry struct {
	RequestID     string
	OperationName string
	InsertedAt    time.Time
}

// Cache 按请求ID索引的短期关联缓存，并发安全
type Cache struct {
	mu       sync.Mutex
	entries  map[string]Entry
	ttl      time.Duration
	interval time.Duration
	now      func() time.Time
	log      logger.Logger
	onChange func(size int)
}

// Option 缓存选项
type Option func(*Cache)

// WithTTL 设置条目存活时间
func WithTTL(ttl time.Duration) Option {
	return func(c *Cache) {
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}

// WithSweepInterval 设置清扫间隔
func WithSweepInterval(d time.Duration) Option {
	return func(c *Cache) {
		if d > 0 {
			c.interval = d
		}
	}
}

// WithClock 注入时钟
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

// WithLogger 设置日志
func WithLogger(l logger.Logger) Option {
	return func(c *Cache) { c.log = l }
}

// WithSizeObserver 条目数变化时回调，用于上报指标
func WithSizeObserver(fn func(size int)) Option {
	return func(c *Cache) { c.onChange = fn }
}

// New 创建关联缓存
func New(opts ...Option) *Cache {
	c := &Cache{
		entries:  make(map[string]Entry),
		ttl:      DefaultTTL,
		interval: DefaultSweepInterval,
		now:      time.Now,
		log:      logger.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// TTL 返回条目存活时间
func (c *Cache) TTL() time.Duration { return c.ttl }

// Record 记录请求的 operation 名，空参数被忽略
func (c *Cache) Record(requestID, operationName string) bool {
	if requestID == "" || operationName == "" {
		return false
	}
	c.mu.Lock()
	c.entries[requestID] = Entry{RequestID: requestID, OperationName: operationName, InsertedAt: c.now()}
	size := len(c.entries)
	c.mu.Unlock()
	c.notify(size)
	return true
}

// Lookup 查询 operation 名
func (c *Cache) Lookup(requestID string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[requestID]
	return e.OperationName, ok
}

// Take 读取后立即删除，保证每个条目只被消费一次
func (c *Cache) Take(requestID string) (string, bool) {
	c.mu.Lock()
	e, ok := c.entries[requestID]
	if ok {
		delete(c.entries, requestID)
	}
	size := len(c.entries)
	c.mu.Unlock()
	if ok {
		c.notify(size)
	}
	return e.OperationName, ok
}

// Remove 删除条目，不存在时无操作
func (c *Cache) Remove(requestID string) {
	c.mu.Lock()
	_, ok := c.entries[requestID]
	delete(c.entries, requestID)
	size := len(c.entries)
	c.mu.Unlock()
	if ok {
		c.notify(size)
	}
}

// SweepExpired 删除 now-insertedAt 超过 ttl 的条目，返回删除数量
func (c *Cache) SweepExpired(now time.Time, ttl time.Duration) int {
	c.mu.Lock()
	removed := 0
	for id, e := range c.entries {
		if now.Sub(e.InsertedAt) > ttl {
			delete(c.entries, id)
			removed++
			c.log.Warn("清理过期的请求关联", "requestID", id, "operation", e.OperationName)
		}
	}
	size := len(c.entries)
	c.mu.Unlock()
	if removed > 0 {
		c.notify(size)
	}
	return removed
}

// Len 当前条目数
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Run 按固定间隔清扫，直到 ctx 结束
func (c *Cache) Run(ctx context.Context) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := c.SweepExpired(c.now(), c.ttl); n > 0 {
				c.log.Debug("关联缓存清扫完成", "removed", n, "remaining", c.Len())
			}
		}
	}
}

func (c *Cache) notify(size int) {
	if c.onChange != nil {
		c.onChange(size)
	}
}

// OperationName 从 GraphQL 请求体中提取 operationName，批量请求取第一个
func OperationName(body []byte) (string, error) {
	if !utf8.Valid(body) {
		return "", ErrNotUTF8
	}
	if !gjson.ValidBytes(body) {
		return "", ErrNotJSON
	}
	root := gjson.ParseBytes(body)
	var op gjson.Result
	switch {
	case root.IsObject():
		op = root.Get("operationName")
	case root.IsArray():
		op = root.Get("0.operationName")
	default:
		return "", fmt.Errorf("%w: unexpected %s", ErrNoOperationName, root.Type)
	}
	name := strings.TrimSpace(op.String())
	if op.Type != gjson.String || name == "" {
		return "", ErrNoOperationName
	}
	return name, nil
}
