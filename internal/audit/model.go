package audit

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityError    Severity = "error"
	SeverityCritical Severity = "critical"
)

func (s Severity) Valid() bool {
	switch s {
	case SeverityInfo, SeverityWarning, SeverityError, SeverityCritical:
		return true
	}
	return false
}

// Retained reports whether entries of this severity survive the purge.
func (s Severity) Retained() bool {
	return s == SeverityError || s == SeverityCritical
}

// Action tags recorded in the audit log.
const (
	ActionLoginSuccess          = "LOGIN_SUCCESS"
	ActionLoginFailed           = "LOGIN_FAILED"
	ActionLoginLocked           = "LOGIN_BLOCKED_LOCKED"
	ActionAccountLocked         = "ACCOUNT_LOCKED"
	ActionLogout                = "LOGOUT"
	ActionTokenRefresh          = "TOKEN_REFRESH"
	ActionUnauthorizedAccess    = "UNAUTHORIZED_ACCESS"
	ActionForbiddenAccess       = "FORBIDDEN_ACCESS"
	ActionCreateUserRequest     = "CREATE_USER_REQUEST"
	ActionApproveUserRequest    = "APPROVE_USER_REQUEST"
	ActionCreateUserFromRequest = "CREATE_USER_FROM_REQUEST"
	ActionRejectUserRequest     = "REJECT_USER_REQUEST"
	ActionDeleteUserRequest     = "DELETE_USER_REQUEST"
	ActionDeactivateUser        = "DEACTIVATE_USER"
	ActionRateLimitExceeded     = "RATE_LIMIT_EXCEEDED"
	ActionIPBlocked             = "IP_BLOCKED"
	ActionSeedAdmin             = "SEED_ADMIN"
)

// Entry is an immutable audit record.
type Entry struct {
	ID           int64          `gorm:"primaryKey;autoIncrement:false" json:"id,string"`
	UserID       *uuid.UUID     `gorm:"type:uuid;index" json:"user_id,omitempty"`
	Action       string         `gorm:"size:64;not null;index" json:"action"`
	Table        string         `gorm:"column:table_name;size:64" json:"table_name,omitempty"`
	RecordID     string         `gorm:"size:64" json:"record_id,omitempty"`
	OldValues    datatypes.JSON `gorm:"type:jsonb" json:"old_values,omitempty"`
	NewValues    datatypes.JSON `gorm:"type:jsonb" json:"new_values,omitempty"`
	IPAddress    *string        `gorm:"size:64" json:"ip_address,omitempty"`
	UserAgent    *string        `json:"user_agent,omitempty"`
	Severity     Severity       `gorm:"type:varchar(16);not null;index" json:"severity"`
	Success      bool           `gorm:"not null" json:"success"`
	ErrorMessage *string        `json:"error_message,omitempty"`
	CreatedAt    time.Time      `gorm:"not null;index" json:"created_at"`
}

func (Entry) TableName() string {
	return "audit_logs"
}

// Origin identifies where an action came from.
type Origin struct {
	IP        string
	UserAgent string
}

// Filter narrows audit log queries. Zero values are ignored.
type Filter struct {
	Action   string
	Severity Severity
	UserID   *uuid.UUID
	Limit    int
	Offset   int
}

const (
	DefaultPageSize = 50
	MaxPageSize     = 200
)

func (f Filter) normalized() Filter {
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
