package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/BaSui01/hitlflow/hitl"
)

// SuspensionRow 是 hitl_suspensions 表的 GORM 模型.
// 与 internal/migration/migrations 下的 SQL 保持一致.
type SuspensionRow struct {
	EventID     string     `gorm:"column:event_id;primaryKey;size:64"`
	UserID      string     `gorm:"column:user_id;size:128;not null;index:idx_hitl_suspensions_user_created,priority:1"`
	Status      string     `gorm:"column:status;size:16;not null;index:idx_hitl_suspensions_status"`
	Mode        string     `gorm:"column:mode;size:16;not null"`
	Owner       string     `gorm:"column:owner_instance;size:128;not null;default:'';index:idx_hitl_suspensions_owner"`
	Description string     `gorm:"column:description;type:text"`
	ActionData  string     `gorm:"column:action_data;type:text"`
	Metadata    string     `gorm:"column:metadata;type:text"`
	Decision    string     `gorm:"column:decision;type:text"`
	CreatedAt   time.Time  `gorm:"column:created_at;not null;index:idx_hitl_suspensions_user_created,priority:2"`
	DecidedAt   *time.Time `gorm:"column:decided_at"`
	ExpiresAt   *time.Time `gorm:"column:expires_at;index:idx_hitl_suspensions_expires"`
}

// TableName 固定表名.
func (SuspensionRow) TableName() string { return "hitl_suspensions" }

// SQLStore 基于 GORM 的 hitl.Store，支持 postgres、mysql 与 sqlite.
// 数据库连接由调用方管理，Close 不会关闭连接.
type SQLStore struct {
	db *gorm.DB
}

// NewSQLStore 创建 SQL 存储.
func NewSQLStore(db *gorm.DB) *SQLStore {
	return &SQLStore{db: db}
}

// AutoMigrate 通过 GORM 创建表，生产环境使用 hitlflow migrate.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(&SuspensionRow{})
}

func marshalText(v any) (string, error) {
	if v == nil {
		return "", nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}

func toRow(req *hitl.SuspensionRequest) (*SuspensionRow, error) {
	row := &SuspensionRow{
		EventID:     req.EventID,
		UserID:      req.UserID,
		Status:      string(req.Status),
		Mode:        string(req.Mode),
		Owner:       req.Owner,
		Description: req.Description,
		CreatedAt:   req.CreatedAt.UTC(),
		DecidedAt:   utcPtr(req.DecidedAt),
		ExpiresAt:   utcPtr(req.ExpiresAt),
	}
	var err error
	if len(req.ActionData) > 0 {
		if row.ActionData, err = marshalText(req.ActionData); err != nil {
			return nil, fmt.Errorf("marshal action_data: %w", err)
		}
	}
	if len(req.Metadata) > 0 {
		if row.Metadata, err = marshalText(req.Metadata); err != nil {
			return nil, fmt.Errorf("marshal metadata: %w", err)
		}
	}
	if req.Decision != nil {
		if row.Decision, err = marshalText(req.Decision); err != nil {
			return nil, fmt.Errorf("marshal decision: %w", err)
		}
	}
	return row, nil
}

func fromRow(row *SuspensionRow) (*hitl.SuspensionRequest, error) {
	req := &hitl.SuspensionRequest{
		EventID:     row.EventID,
		UserID:      row.UserID,
		Description: row.Description,
		Status:      hitl.Status(row.Status),
		Mode:        hitl.Mode(row.Mode),
		Owner:       row.Owner,
		CreatedAt:   row.CreatedAt,
		DecidedAt:   row.DecidedAt,
		ExpiresAt:   row.ExpiresAt,
	}
	if row.ActionData != "" {
		if err := json.Unmarshal([]byte(row.ActionData), &req.ActionData); err != nil {
			return nil, fmt.Errorf("unmarshal action_data: %w", err)
		}
	}
	if row.Metadata != "" {
		if err := json.Unmarshal([]byte(row.Metadata), &req.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshal metadata: %w", err)
		}
	}
	if row.Decision != "" {
		var d hitl.Decision
		if err := json.Unmarshal([]byte(row.Decision), &d); err != nil {
			return nil, fmt.Errorf("unmarshal decision: %w", err)
		}
		req.Decision = &d
	}
	return req, nil
}

// Create 使用 ON CONFLICT DO NOTHING，影响行数为 0 即为重复.
func (s *SQLStore) Create(ctx context.Context, req *hitl.SuspensionRequest) error {
	if req == nil || req.EventID == "" {
		return hitl.ErrInvalidRequest
	}
	row, err := toRow(req)
	if err != nil {
		return err
	}
	res := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(row)
	if res.Error != nil {
		return fmt.Errorf("insert suspension: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return hitl.ErrDuplicateEvent
	}
	return nil
}

// Get 查询单个请求.
func (s *SQLStore) Get(ctx context.Context, eventID string) (*hitl.SuspensionRequest, error) {
	var row SuspensionRow
	err := s.db.WithContext(ctx).Where("event_id = ?", eventID).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, hitl.ErrEventNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select suspension: %w", err)
	}
	return fromRow(&row)
}

// Transition 以 WHERE status = from 的条件更新实现 compare-and-set.
func (s *SQLStore) Transition(ctx context.Context, eventID string, from, to hitl.Status, decision *hitl.Decision) (*hitl.SuspensionRequest, error) {
	updates := map[string]any{"status": string(to)}
	if decision != nil {
		at := decision.DecidedAt
		if at.IsZero() {
			at = time.Now()
		}
		at = at.UTC()
		d := *decision
		d.DecidedAt = at
		encoded, err := marshalText(&d)
		if err != nil {
			return nil, fmt.Errorf("marshal decision: %w", err)
		}
		updates["decision"] = encoded
		updates["decided_at"] = at
	}

	res := s.db.WithContext(ctx).Model(&SuspensionRow{}).
		Where("event_id = ? AND status = ?", eventID, string(from)).
		Updates(updates)
	if res.Error != nil {
		return nil, fmt.Errorf("update suspension: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		if _, err := s.Get(ctx, eventID); err != nil {
			return nil, err
		}
		return nil, hitl.ErrStatusConflict
	}
	return s.Get(ctx, eventID)
}

// Delete 删除请求，不存在时不报错.
func (s *SQLStore) Delete(ctx context.Context, eventID string) error {
	if err := s.db.WithContext(ctx).Where("event_id = ?", eventID).Delete(&SuspensionRow{}).Error; err != nil {
		return fmt.Errorf("delete suspension: %w", err)
	}
	return nil
}

func (s *SQLStore) list(q *gorm.DB) ([]*hitl.SuspensionRequest, error) {
	var rows []SuspensionRow
	if err := q.Order("created_at ASC").Order("event_id ASC").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("select suspensions: %w", err)
	}
	out := make([]*hitl.SuspensionRequest, 0, len(rows))
	for i := range rows {
		req, err := fromRow(&rows[i])
		if err != nil {
			return nil, err
		}
		out = append(out, req)
	}
	return out, nil
}

// ListByUser 按创建时间升序返回用户的请求.
func (s *SQLStore) ListByUser(ctx context.Context, userID string, status hitl.Status) ([]*hitl.SuspensionRequest, error) {
	q := s.db.WithContext(ctx).Where("user_id = ?", userID)
	if status != "" {
		q = q.Where("status = ?", string(status))
	}
	return s.list(q)
}

// ListOverdue 返回超过截止时间的 pending 请求.
func (s *SQLStore) ListOverdue(ctx context.Context, now time.Time) ([]*hitl.SuspensionRequest, error) {
	q := s.db.WithContext(ctx).
		Where("status = ? AND expires_at IS NOT NULL AND expires_at <= ?", string(hitl.StatusPending), now.UTC())
	return s.list(q)
}

// ExpireStale 在一个事务内标记 owner 的遗留请求为过期并返回受影响的 ID.
// owner 为空时不按实例过滤.
func (s *SQLStore) ExpireStale(ctx context.Context, cutoff time.Time, owner string) ([]string, error) {
	live := []string{string(hitl.StatusPending), string(hitl.StatusDecided), string(hitl.StatusResuming)}
	var ids []string
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		q := tx.Model(&SuspensionRow{}).Where("status IN ? AND created_at < ?", live, cutoff.UTC())
		if owner != "" {
			q = q.Where("owner_instance = ?", owner)
		}
		if err := q.Pluck("event_id", &ids).Error; err != nil {
			return err
		}
		if len(ids) == 0 {
			return nil
		}
		return tx.Model(&SuspensionRow{}).
			Where("event_id IN ? AND status IN ?", ids, live).
			Update("status", string(hitl.StatusExpired)).Error
	})
	if err != nil {
		return nil, fmt.Errorf("expire stale suspensions: %w", err)
	}
	return ids, nil
}

// Count 返回行数.
func (s *SQLStore) Count(ctx context.Context) (int, error) {
	var n int64
	if err := s.db.WithContext(ctx).Model(&SuspensionRow{}).Count(&n).Error; err != nil {
		return 0, fmt.Errorf("count suspensions: %w", err)
	}
	return int(n), nil
}

// Ping 检查数据库连接.
func (s *SQLStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close 不关闭共享连接.
func (s *SQLStore) Close() error { return nil }

var _ hitl.Store = (*SQLStore)(nil)
