package accessrequest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/elskow/portal/internal/user"
)

var (
	ErrNotFound         = errors.New("access request not found")
	ErrAlreadyProcessed = errors.New("access request already processed")
	ErrPendingExists    = errors.New("a pending access request exists for this email")
)

const (
	DefaultPageSize = 50
	MaxPageSize     = 200
)

type ListFilter struct {
	Status Status
	Limit  int
	Offset int
}

func (f ListFilter) normalized() ListFilter {
	if f.Limit <= 0 {
		f.Limit = DefaultPageSize
	}
	if f.Limit > MaxPageSize {
		f.Limit = MaxPageSize
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	return f
}

type ApproveParams struct {
	RequestID  uuid.UUID
	ReviewerID *uuid.UUID
	At         time.Time
	// User is inserted in the same transaction that flips the status.
	User *user.User
}

type RejectParams struct {
	RequestID  uuid.UUID
	ReviewerID *uuid.UUID
	At         time.Time
	Reason     string
}

type Repository interface {
	// Create stores req unless a pending, unexpired request already exists
	// for its email at now, in which case it returns ErrPendingExists. The
	// check and the insert are atomic per email.
	Create(ctx context.Context, req *AccessRequest, now time.Time) error
	FindByID(ctx context.Context, id uuid.UUID) (*AccessRequest, error)
	List(ctx context.Context, filter ListFilter) ([]AccessRequest, int64, error)
	// Approve moves a pending request to approved and creates its user
	// atomically. ErrAlreadyProcessed when the request is no longer
	// pending (or its activation window closed); user.ErrDuplicateEmail
	// when the email is taken. Nothing is written on failure.
	Approve(ctx context.Context, params ApproveParams) (*AccessRequest, error)
	// Reject moves a pending request to rejected. ErrAlreadyProcessed
	// when it is no longer pending.
	Reject(ctx context.Context, params RejectParams) (*AccessRequest, error)
	Delete(ctx context.Context, id uuid.UUID) error
}

type repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) Create(ctx context.Context, req *AccessRequest, now time.Time) error {
	email := user.NormalizeEmail(req.Email)
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// Serializes submissions for one email until commit.
		if err := tx.Exec("SELECT pg_advisory_xact_lock(hashtext(?))", email).Error; err != nil {
			return fmt.Errorf("failed to lock email: %w", err)
		}

		pending, err := hasBlockingPending(tx, email, now)
		if err != nil {
			return err
		}
		if pending {
			return ErrPendingExists
		}
		return tx.Create(req).Error
	})
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*AccessRequest, error) {
	return findByID(r.db.WithContext(ctx), id)
}

func findByID(db *gorm.DB, id uuid.UUID) (*AccessRequest, error) {
	var req AccessRequest
	if err := db.Where("id = ?", id).First(&req).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &req, nil
}

func (r *repository) List(ctx context.Context, filter ListFilter) ([]AccessRequest, int64, error) {
	filter = filter.normalized()

	q := r.db.WithContext(ctx).Model(&AccessRequest{})
	if filter.Status != "" {
		q = q.Where("status = ?", filter.Status)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var reqs []AccessRequest
	err := q.Order("created_at DESC").
		Limit(filter.Limit).
		Offset(filter.Offset).
		Find(&reqs).Error
	if err != nil {
		return nil, 0, err
	}
	return reqs, total, nil
}

func hasBlockingPending(db *gorm.DB, email string, now time.Time) (bool, error) {
	var count int64
	err := db.Model(&AccessRequest{}).
		Where("lower(email) = ? AND status = ?", email, StatusPending).
		Where("token_expires_at IS NULL OR token_expires_at > ?", now).
		Count(&count).Error
	return count > 0, err
}

func (r *repository) Approve(ctx context.Context, params ApproveParams) (*AccessRequest, error) {
	var approved *AccessRequest
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// Conditional update: only one concurrent approval can match.
		res := tx.Model(&AccessRequest{}).
			Where("id = ? AND status = ?", params.RequestID, StatusPending).
			Where("token_expires_at IS NULL OR token_expires_at > ?", params.At).
			Updates(map[string]interface{}{
				"status":      StatusApproved,
				"approved_at": params.At,
				"reviewed_at": params.At,
				"reviewed_by": params.ReviewerID,
				"updated_at":  params.At,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrAlreadyProcessed
		}

		if err := user.CreateWith(tx, params.User); err != nil {
			return err
		}

		err := tx.Model(&AccessRequest{}).
			Where("id = ?", params.RequestID).
			Update("approved_user_id", params.User.ID).Error
		if err != nil {
			return fmt.Errorf("failed to link user: %w", err)
		}

		approved, err = findByID(tx, params.RequestID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return approved, nil
}

func (r *repository) Reject(ctx context.Context, params RejectParams) (*AccessRequest, error) {
	var rejected *AccessRequest
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&AccessRequest{}).
			Where("id = ? AND status = ?", params.RequestID, StatusPending).
			Updates(map[string]interface{}{
				"status":           StatusRejected,
				"rejection_reason": params.Reason,
				"reviewed_at":      params.At,
				"reviewed_by":      params.ReviewerID,
				"updated_at":       params.At,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrAlreadyProcessed
		}

		var err error
		rejected, err = findByID(tx, params.RequestID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return rejected, nil
}

func (r *repository) Delete(ctx context.Context, id uuid.UUID) error {
	res := r.db.WithContext(ctx).Where("id = ?", id).Delete(&AccessRequest{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
