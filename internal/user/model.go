package user

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Role string

const (
	RoleAdmin    Role = "admin"
	RoleEmployee Role = "employee"
	RoleClient   Role = "client"
)

// Roles lists every role in a stable order.
var Roles = []Role{RoleAdmin, RoleEmployee, RoleClient}

func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleEmployee, RoleClient:
		return true
	}
	return false
}

func ParseRole(s string) (Role, bool) {
	r := Role(strings.ToLower(strings.TrimSpace(s)))
	return r, r.Valid()
}

type User struct {
	ID                     uuid.UUID         `gorm:"type:uuid;primaryKey" json:"id"`
	Email                  string            `gorm:"not null" json:"email"`
	Name                   string            `gorm:"not null" json:"name"`
	Role                   Role              `gorm:"type:varchar(20);not null" json:"role"`
	PasswordHash           string            `gorm:"not null" json:"-"`
	IsActive               bool              `gorm:"not null" json:"is_active"`
	EmailVerified          bool              `gorm:"not null" json:"email_verified"`
	RequiresPasswordChange bool              `gorm:"not null" json:"requires_password_change"`
	PasswordExpiresAt      *time.Time        `json:"password_expires_at,omitempty"`
	FailedLoginAttempts    int               `gorm:"not null" json:"failed_login_attempts"`
	LockedUntil            *time.Time        `json:"locked_until,omitempty"`
	LastLogin              *time.Time        `json:"last_login,omitempty"`
	SourceRequestID        *uuid.UUID        `gorm:"type:uuid;index" json:"source_request_id,omitempty"`
	Metadata               datatypes.JSONMap `gorm:"type:jsonb" json:"metadata,omitempty"`
	CreatedAt              time.Time         `json:"created_at"`
	UpdatedAt              time.Time         `json:"updated_at"`
}

func (User) TableName() string {
	return "users"
}

func (u *User) BeforeCreate(_ *gorm.DB) error {
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	u.Email = NormalizeEmail(u.Email)
	return nil
}

// IsLocked reports whether the account is locked at the given instant.
func (u *User) IsLocked(now time.Time) bool {
	return u.LockedUntil != nil && now.Before(*u.LockedUntil)
}

// HasExpiredLock reports whether a lock was placed and has since elapsed.
func (u *User) HasExpiredLock(now time.Time) bool {
	return u.LockedUntil != nil && !now.Before(*u.LockedUntil)
}

func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
