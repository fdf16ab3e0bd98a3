package storage

import (
	"context"
	"time"

	"gorm.io/gorm"

	"mockdriver/internal/logger"
)

// InjectionRecord 一次已生效的头部注入
type InjectionRecord struct {
	ID        uint              `gorm:"primaryKey" json:"id"`
	SessionID string            `gorm:"index;size:64" json:"sessionId"`
	TargetID  string            `gorm:"size:128" json:"targetId"`
	RequestID string            `gorm:"size:128" json:"requestId"`
	Mode      string            `gorm:"size:16" json:"mode"`
	URL       string            `json:"url"`
	Method    string            `gorm:"size:16" json:"method"`
	Operation string            `gorm:"size:256" json:"operation"`
	Headers   map[string]string `gorm:"serializer:json" json:"headers"`
	CreatedAt time.Time         `gorm:"index" json:"createdAt"`
}

// HistoryRepo 注入历史仓库
type HistoryRepo struct {
	db *gorm.DB
}

// NewHistoryRepo 创建仓库
func NewHistoryRepo(db *gorm.DB) *HistoryRepo {
	return &HistoryRepo{db: db}
}

// Save 写入一条记录
func (r *HistoryRepo) Save(ctx context.Context, rec *InjectionRecord) error {
	return r.db.WithContext(ctx).Create(rec).Error
}

// Recent 按时间倒序返回最近的记录，sessionID 为空时不过滤
func (r *HistoryRepo) Recent(ctx context.Context, sessionID string, limit int) ([]InjectionRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	q := r.db.WithContext(ctx).Order("created_at desc, id desc").Limit(limit)
	if sessionID != "" {
		q = q.Where("session_id = ?", sessionID)
	}
	var out []InjectionRecord
	if err := q.Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

// Prune 删除早于 before 的记录
func (r *HistoryRepo) Prune(ctx context.Context, before time.Time) (int64, error) {
	res := r.db.WithContext(ctx).Where("created_at < ?", before).Delete(&InjectionRecord{})
	return res.RowsAffected, res.Error
}

// RunRetention 立即清理一次早于 keep 的记录，之后每隔 every 清理一次，直到 ctx 结束
func (r *HistoryRepo) RunRetention(ctx context.Context, keep, every time.Duration, l logger.Logger) {
	if keep <= 0 {
		return
	}
	if every <= 0 {
		every = time.Hour
	}
	if l == nil {
		l = logger.NewNop()
	}
	prune := func() {
		n, err := r.Prune(ctx, time.Now().Add(-keep))
		if err != nil {
			if ctx.Err() == nil {
				l.Err(err, "清理注入历史失败")
			}
			return
		}
		if n > 0 {
			l.Info("已清理过期注入历史", "removed", n, "keep", keep.String())
		}
	}
	prune()
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			prune()
		}
	}
}
