package audit

import (
	"context"
	"time"

	"gorm.io/gorm"
)

// Repository is append-only apart from the retention operations.
type Repository interface {
	Create(ctx context.Context, entry *Entry) error
	List(ctx context.Context, filter Filter) ([]Entry, int64, error)
	Anonymize(ctx context.Context, before time.Time) (int64, error)
	Purge(ctx context.Context, before time.Time) (int64, error)
}

type repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) Create(ctx context.Context, entry *Entry) error {
	return r.db.WithContext(ctx).Create(entry).Error
}

func (r *repository) List(ctx context.Context, filter Filter) ([]Entry, int64, error) {
	filter = filter.normalized()

	q := r.db.WithContext(ctx).Model(&Entry{})
	if filter.Action != "" {
		q = q.Where("action = ?", filter.Action)
	}
	if filter.Severity != "" {
		q = q.Where("severity = ?", filter.Severity)
	}
	if filter.UserID != nil {
		q = q.Where("user_id = ?", *filter.UserID)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var entries []Entry
	err := q.Order("created_at DESC, id DESC").
		Limit(filter.Limit).
		Offset(filter.Offset).
		Find(&entries).Error
	if err != nil {
		return nil, 0, err
	}
	return entries, total, nil
}

func (r *repository) Anonymize(ctx context.Context, before time.Time) (int64, error) {
	res := r.db.WithContext(ctx).Model(&Entry{}).
		Where("created_at < ? AND (ip_address IS NOT NULL OR user_agent IS NOT NULL)", before).
		Updates(map[string]interface{}{
			"ip_address": nil,
			"user_agent": nil,
		})
	return res.RowsAffected, res.Error
}

func (r *repository) Purge(ctx context.Context, before time.Time) (int64, error) {
	res := r.db.WithContext(ctx).
		Where("created_at < ? AND severity IN ?", before, []Severity{SeverityInfo, SeverityWarning}).
		Delete(&Entry{})
	return res.RowsAffected, res.Error
}
