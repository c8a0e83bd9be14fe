package accessrequest

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/elskow/portal/internal/user"
)

type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
)

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusApproved, StatusRejected:
		return true
	}
	return false
}

// Terminal reports whether no further transition is possible.
func (s Status) Terminal() bool {
	return s == StatusApproved || s == StatusRejected
}

type AccessType string

const (
	AccessClient   AccessType = "client"
	AccessEmployee AccessType = "employee"
)

// Role maps the requested access to the role the provisioned user gets.
// Approval never yields any other role.
func (t AccessType) Role() (user.Role, bool) {
	switch t {
	case AccessClient:
		return user.RoleClient, true
	case AccessEmployee:
		return user.RoleEmployee, true
	}
	return "", false
}

type AccessRequest struct {
	ID              uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	Name            string     `gorm:"not null" json:"name"`
	Email           string     `gorm:"not null;index" json:"email"`
	Phone           string     `json:"phone,omitempty"`
	Company         string     `gorm:"not null" json:"company"`
	Position        string     `json:"position,omitempty"`
	AccessType      AccessType `gorm:"type:varchar(20);not null" json:"access_type"`
	Message         string     `gorm:"size:500" json:"message,omitempty"`
	Status          Status     `gorm:"type:varchar(20);not null;index" json:"status"`
	ActivationToken string     `json:"-"`
	TokenExpiresAt  *time.Time `json:"token_expires_at,omitempty"`
	ReviewedBy      *uuid.UUID `gorm:"type:uuid" json:"reviewed_by,omitempty"`
	ReviewedAt      *time.Time `json:"reviewed_at,omitempty"`
	ApprovedAt      *time.Time `json:"approved_at,omitempty"`
	RejectionReason *string    `gorm:"size:500" json:"rejection_reason,omitempty"`
	ApprovedUserID  *uuid.UUID `gorm:"type:uuid" json:"approved_user_id,omitempty"`
	IPAddress       string     `gorm:"size:64" json:"ip_address,omitempty"`
	UserAgent       string     `json:"user_agent,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

func (AccessRequest) TableName() string {
	return "access_requests"
}

func (r *AccessRequest) BeforeCreate(_ *gorm.DB) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	r.Email = user.NormalizeEmail(r.Email)
	return nil
}

// TokenExpired reports whether an activation window was set and has
// passed.
func (r *AccessRequest) TokenExpired(now time.Time) bool {
	return r.TokenExpiresAt != nil && !now.Before(*r.TokenExpiresAt)
}

// BlocksResubmission reports whether this request prevents a new
// submission for the same email.
func (r *AccessRequest) BlocksResubmission(now time.Time) bool {
	return r.Status == StatusPending && !r.TokenExpired(now)
}

// snapshot is the audited view of a request; contact details and the
// activation token stay out of the audit log.
func (r *AccessRequest) snapshot() map[string]interface{} {
	s := map[string]interface{}{
		"status":      r.Status,
		"access_type": r.AccessType,
	}
	if r.ApprovedUserID != nil {
		s["approved_user_id"] = r.ApprovedUserID.String()
	}
	if r.RejectionReason != nil {
		s["rejection_reason"] = *r.RejectionReason
	}
	return s
}
