package auth

import (
	"context"
	"errors"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/elskow/portal/internal/api"
	"github.com/elskow/portal/internal/apperror"
	"github.com/elskow/portal/internal/audit"
	"github.com/elskow/portal/internal/metrics"
	"github.com/elskow/portal/internal/session"
	"github.com/elskow/portal/internal/user"
)

// Define a custom type for context keys
type contextKey string

const (
	// UserContextKey is the key used to store the resolved user in the context
	UserContextKey contextKey = "user"
	// ClaimsContextKey holds the verified session claims
	ClaimsContextKey contextKey = "claims"
)

// Error codes returned by the gate.
const (
	CodeMissingToken     = "missing_token"
	CodeInvalidSession   = "invalid_session"
	CodeUserNotFound     = "user_not_found"
	CodeAccountLocked    = "account_locked"
	CodeInsufficientRole = "insufficient_role"
)

// Gate resolves a session token to an active user and enforces the role
// required by a route.
type Gate struct {
	sessions *session.Service
	users    user.Repository
	recorder audit.Recorder
	cookies  *Cookies
	log      *zap.Logger
	now      func() time.Time
}

func NewGate(sessions *session.Service, users user.Repository, recorder audit.Recorder, cookies *Cookies, log *zap.Logger) *Gate {
	return &Gate{
		sessions: sessions,
		users:    users,
		recorder: recorder,
		cookies:  cookies,
		log:      log.Named("auth_gate"),
		now:      time.Now,
	}
}

// Authorize runs the gate checks in order. With no required roles any
// active, unlocked user passes. Every rejection is audited before it is
// returned.
func (g *Gate) Authorize(ctx context.Context, token string, origin audit.Origin, required ...user.Role) (*user.User, *session.Claims, error) {
	if token == "" {
		g.deny(ctx, audit.ActionUnauthorizedAccess, nil, origin, "missing session token", nil)
		return nil, nil, apperror.Unauthorized("authentication required").WithCode(CodeMissingToken)
	}

	claims, err := g.sessions.Verify(token)
	if err != nil {
		g.deny(ctx, audit.ActionUnauthorizedAccess, nil, origin, "invalid session token", nil)
		return nil, nil, apperror.Unauthorized("session is invalid or expired").WithCode(CodeInvalidSession)
	}

	userID := claims.ParsedUserID()
	u, err := g.users.FindByID(ctx, userID)
	if err != nil && !errors.Is(err, user.ErrUserNotFound) {
		return nil, nil, apperror.Internal("failed to load user", err)
	}
	if err != nil || !u.IsActive {
		g.deny(ctx, audit.ActionUnauthorizedAccess, &userID, origin, "session user not found or inactive", nil)
		return nil, nil, apperror.NotFound("user not found").WithCode(CodeUserNotFound)
	}

	if u.IsLocked(g.now()) {
		g.deny(ctx, audit.ActionForbiddenAccess, &u.ID, origin, "account locked", nil)
		return nil, nil, apperror.Forbidden("account is locked").WithCode(CodeAccountLocked)
	}

	if len(required) > 0 && !hasRole(u.Role, required) {
		g.log.Warn("role check failed",
			zap.String("user_id", u.ID.String()),
			zap.Any("required_roles", required),
			zap.String("actual_role", string(u.Role)))
		g.deny(ctx, audit.ActionForbiddenAccess, &u.ID, origin, "insufficient role", map[string]interface{}{
			"required_roles": required,
			"actual_role":    u.Role,
		})
		return nil, nil, apperror.Forbidden("insufficient permissions").WithCode(CodeInsufficientRole)
	}

	return u, claims, nil
}

// Authenticate admits any active user.
func (g *Gate) Authenticate() gin.HandlerFunc {
	return g.handler(nil)
}

// Require admits users whose role holds capability.
func (g *Gate) Require(capability Capability) gin.HandlerFunc {
	return g.handler(RolesWith(capability))
}

func (g *Gate) handler(required []user.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := OriginOf(c)
		u, claims, err := g.Authorize(c.Request.Context(), g.cookies.Token(c), origin, required...)
		if err != nil {
			metrics.GateDenialsTotal.WithLabelValues(apperror.KindOf(err).String()).Inc()
			var appErr *apperror.Error
			if errors.As(err, &appErr) && appErr.Code == CodeInvalidSession {
				g.cookies.Clear(c)
			}
			api.WriteError(c, g.log, err)
			return
		}

		c.Set(string(UserContextKey), u)
		c.Set(string(ClaimsContextKey), claims)
		c.Next()
	}
}

func (g *Gate) deny(ctx context.Context, action string, userID *uuid.UUID, origin audit.Origin, reason string, details interface{}) {
	g.log.Warn("access denied",
		zap.String("action", action),
		zap.String("reason", reason),
		zap.String("ip", origin.IP))

	g.recorder.Record(ctx, audit.Event{
		UserID:   userID,
		Action:   action,
		Table:    "users",
		Origin:   origin,
		Severity: audit.SeverityWarning,
		New:      details,
		Error:    reason,
	})
}

func hasRole(role user.Role, roles []user.Role) bool {
	for _, r := range roles {
		if r == role {
			return true
		}
	}
	return false
}

// CurrentUser returns the user resolved by the gate.
func CurrentUser(c *gin.Context) (*user.User, bool) {
	v, ok := c.Get(string(UserContextKey))
	if !ok {
		return nil, false
	}
	u, ok := v.(*user.User)
	return u, ok
}

// OriginOf extracts the client address and user agent for auditing.
func OriginOf(c *gin.Context) audit.Origin {
	return audit.Origin{IP: c.ClientIP(), UserAgent: c.Request.UserAgent()}
}
