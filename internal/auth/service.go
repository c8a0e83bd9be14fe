package auth

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/elskow/portal/internal/apperror"
	"github.com/elskow/portal/internal/audit"
	"github.com/elskow/portal/internal/config"
	"github.com/elskow/portal/internal/metrics"
	"github.com/elskow/portal/internal/security"
	"github.com/elskow/portal/internal/session"
	"github.com/elskow/portal/internal/user"
)

const (
	DefaultMaxFailedAttempts = 5
	DefaultLockoutDuration   = 30 * time.Minute
)

const CodeInvalidCredentials = "invalid_credentials"

// FailureTracker is the part of the rate guard login cares about.
type FailureTracker interface {
	RecordAuthFailure(ctx context.Context, ip string)
	ResetAuthFailures(ctx context.Context, ip string)
}

type Service struct {
	users       user.Repository
	sessions    *session.Service
	hasher      *security.Hasher
	recorder    audit.Recorder
	failures    FailureTracker
	maxAttempts int
	lockout     time.Duration
	dummyHash   string
	log         *zap.Logger
	now         func() time.Time
}

type ServiceParams struct {
	Config   *config.AuthConfig
	Users    user.Repository
	Sessions *session.Service
	Hasher   *security.Hasher
	Recorder audit.Recorder
	Failures FailureTracker
	Logger   *zap.Logger
}

func NewService(p ServiceParams) *Service {
	s := &Service{
		users:       p.Users,
		sessions:    p.Sessions,
		hasher:      p.Hasher,
		recorder:    p.Recorder,
		failures:    p.Failures,
		maxAttempts: p.Config.MaxFailedAttempts,
		lockout:     p.Config.LockoutDuration,
		log:         p.Logger.Named("auth"),
		now:         time.Now,
	}
	if s.maxAttempts <= 0 {
		s.maxAttempts = DefaultMaxFailedAttempts
	}
	if s.lockout <= 0 {
		s.lockout = DefaultLockoutDuration
	}
	// Compared against for unknown emails so both paths pay for bcrypt.
	if hash, err := s.hasher.HashPassword("portal-timing-equalizer"); err == nil {
		s.dummyHash = hash
	}
	return s
}

type LoginResult struct {
	User      *user.User
	Token     string
	ExpiresAt time.Time
}

func invalidCredentials() error {
	return apperror.Unauthorized("invalid email or password").WithCode(CodeInvalidCredentials)
}

// Login checks credentials and issues a session token. A locked account
// is refused even when the password is correct.
func (s *Service) Login(ctx context.Context, email, password string, origin audit.Origin) (*LoginResult, error) {
	email = user.NormalizeEmail(email)
	now := s.now()

	u, err := s.users.FindByEmail(ctx, email)
	if err != nil {
		if !errors.Is(err, user.ErrUserNotFound) {
			metrics.LoginAttemptsTotal.WithLabelValues("error").Inc()
			return nil, apperror.Internal("failed to load user", err)
		}
		s.hasher.CheckPasswordHash(password, s.dummyHash)
		s.failures.RecordAuthFailure(ctx, origin.IP)
		s.recordFailure(ctx, nil, email, origin, "unknown email")
		metrics.LoginAttemptsTotal.WithLabelValues("failed").Inc()
		return nil, invalidCredentials()
	}

	if u.HasExpiredLock(now) {
		if err := s.users.ClearLock(ctx, u.ID); err != nil {
			return nil, apperror.Internal("failed to clear expired lock", err)
		}
		u.LockedUntil = nil
		u.FailedLoginAttempts = 0
	}

	if u.IsLocked(now) {
		s.log.Warn("login refused for locked account",
			zap.String("user_id", u.ID.String()),
			zap.Time("locked_until", *u.LockedUntil))
		s.recorder.Record(ctx, audit.Event{
			UserID:   &u.ID,
			Action:   audit.ActionLoginLocked,
			Table:    "users",
			RecordID: u.ID.String(),
			Origin:   origin,
			Severity: audit.SeverityWarning,
			Error:    "account locked",
		})
		metrics.LoginAttemptsTotal.WithLabelValues("locked").Inc()
		return nil, apperror.Forbidden("account is temporarily locked").WithCode(CodeAccountLocked)
	}

	if !s.hasher.CheckPasswordHash(password, u.PasswordHash) {
		s.failures.RecordAuthFailure(ctx, origin.IP)
		s.recordFailure(ctx, &u.ID, email, origin, "wrong password")
		metrics.LoginAttemptsTotal.WithLabelValues("failed").Inc()

		updated, err := s.users.RecordFailedAttempt(ctx, email, s.maxAttempts, now.Add(s.lockout))
		if err != nil {
			return nil, apperror.Internal("failed to record failed attempt", err)
		}
		if updated.FailedLoginAttempts == s.maxAttempts {
			s.log.Warn("account locked after repeated failures",
				zap.String("user_id", updated.ID.String()),
				zap.Int("attempts", updated.FailedLoginAttempts))
			s.recorder.Record(ctx, audit.Event{
				UserID:   &updated.ID,
				Action:   audit.ActionAccountLocked,
				Table:    "users",
				RecordID: updated.ID.String(),
				Origin:   origin,
				Severity: audit.SeverityWarning,
				New: map[string]interface{}{
					"failed_login_attempts": updated.FailedLoginAttempts,
					"locked_until":          updated.LockedUntil,
				},
				Success: true,
			})
		}
		return nil, invalidCredentials()
	}

	if err := s.users.ResetAttempts(ctx, u.ID, now); err != nil {
		return nil, apperror.Internal("failed to reset login attempts", err)
	}
	u.FailedLoginAttempts = 0
	u.LockedUntil = nil
	u.LastLogin = &now
	s.failures.ResetAuthFailures(ctx, origin.IP)

	token, expiresAt, err := s.sessions.Issue(u.ID, u.Email, u.Role)
	if err != nil {
		return nil, apperror.Internal("failed to issue session", err)
	}

	s.recorder.Record(ctx, audit.Event{
		UserID:   &u.ID,
		Action:   audit.ActionLoginSuccess,
		Table:    "users",
		RecordID: u.ID.String(),
		Origin:   origin,
		Severity: audit.SeverityInfo,
		New:      audit.DescribeClient(origin.UserAgent),
		Success:  true,
	})
	metrics.LoginAttemptsTotal.WithLabelValues("success").Inc()

	return &LoginResult{User: u, Token: token, ExpiresAt: expiresAt}, nil
}

func (s *Service) recordFailure(ctx context.Context, userID *uuid.UUID, email string, origin audit.Origin, reason string) {
	s.recorder.Record(ctx, audit.Event{
		UserID:   userID,
		Action:   audit.ActionLoginFailed,
		Table:    "users",
		Origin:   origin,
		Severity: audit.SeverityWarning,
		New:      map[string]string{"email": email},
		Error:    reason,
	})
}

// Refresh re-signs a still valid token for a user who is still active and
// unlocked.
func (s *Service) Refresh(ctx context.Context, token string, origin audit.Origin) (*LoginResult, error) {
	claims, err := s.sessions.Verify(token)
	if err != nil {
		return nil, apperror.Unauthorized("session is invalid or expired").WithCode(CodeInvalidSession)
	}

	u, err := s.users.FindByID(ctx, claims.ParsedUserID())
	if err != nil && !errors.Is(err, user.ErrUserNotFound) {
		return nil, apperror.Internal("failed to load user", err)
	}
	if err != nil || !u.IsActive || u.IsLocked(s.now()) {
		return nil, apperror.Unauthorized("session is invalid or expired").WithCode(CodeInvalidSession)
	}

	newToken, expiresAt, err := s.sessions.Refresh(token)
	if err != nil {
		return nil, apperror.Unauthorized("session is invalid or expired").WithCode(CodeInvalidSession)
	}

	s.recorder.Record(ctx, audit.Event{
		UserID:   &u.ID,
		Action:   audit.ActionTokenRefresh,
		Table:    "users",
		RecordID: u.ID.String(),
		Origin:   origin,
		Severity: audit.SeverityInfo,
		Success:  true,
	})
	return &LoginResult{User: u, Token: newToken, ExpiresAt: expiresAt}, nil
}

// Logout audits the end of a session. Tokens are stateless, so nothing
// is revoked; the caller clears the cookie.
func (s *Service) Logout(ctx context.Context, token string, origin audit.Origin) {
	event := audit.Event{
		Action:   audit.ActionLogout,
		Table:    "users",
		Origin:   origin,
		Severity: audit.SeverityInfo,
		Success:  true,
	}
	if claims, err := s.sessions.Verify(token); err == nil {
		id := claims.ParsedUserID()
		event.UserID = &id
		event.RecordID = id.String()
	}
	s.recorder.Record(ctx, event)
}
