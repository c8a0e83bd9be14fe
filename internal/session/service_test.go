package session

import (
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/elskow/portal/internal/config"
	"github.com/elskow/portal/internal/user"
)

func newTestConfig() *config.AuthConfig {
	return &config.AuthConfig{
		JWTSecret:       "test-secret-key",
		TokenExpiration: DefaultTTL,
		Issuer:          "portal-test",
	}
}

func newTestService(t *testing.T, opts ...Option) *Service {
	svc, err := NewService(newTestConfig(), opts...)
	require.NoError(t, err)
	return svc
}

func TestNewService_RequiresSecret(t *testing.T) {
	_, err := NewService(&config.AuthConfig{})
	assert.ErrorIs(t, err, ErrMissingSecret)

	_, err = NewService(nil)
	assert.ErrorIs(t, err, ErrMissingSecret)
}

func TestNewService_DefaultTTL(t *testing.T) {
	svc, err := NewService(&config.AuthConfig{JWTSecret: "s"})
	require.NoError(t, err)
	assert.Equal(t, 24*time.Hour, svc.ttl)
}

func TestService_IssueAndVerify(t *testing.T) {
	svc := newTestService(t)
	id := uuid.New()

	token, expiresAt, err := svc.Issue(id, "a@b.com", user.RoleClient)
	require.NoError(t, err)
	assert.NotEmpty(t, token)
	assert.WithinDuration(t, time.Now().Add(24*time.Hour), expiresAt, 5*time.Second)

	claims, err := svc.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, id, claims.ParsedUserID())
	assert.Equal(t, "a@b.com", claims.Email)
	assert.Equal(t, user.RoleClient, claims.Role)
}

func TestService_Verify(t *testing.T) {
	svc := newTestService(t)
	id := uuid.New()

	tests := []struct {
		name       string
		setupToken func() string
	}{
		{
			name: "expired after 24 hours",
			setupToken: func() string {
				past := time.Now().Add(-25 * time.Hour)
				old := newTestService(t, WithClock(func() time.Time { return past }))
				token, _, err := old.Issue(id, "a@b.com", user.RoleAdmin)
				require.NoError(t, err)
				return token
			},
		},
		{
			name: "signed with another secret",
			setupToken: func() string {
				cfg := newTestConfig()
				cfg.JWTSecret = "other-secret"
				other, err := NewService(cfg)
				require.NoError(t, err)
				token, _, err := other.Issue(id, "a@b.com", user.RoleAdmin)
				require.NoError(t, err)
				return token
			},
		},
		{
			name: "malformed",
			setupToken: func() string {
				return "invalid.token.here"
			},
		},
		{
			name: "empty",
			setupToken: func() string {
				return ""
			},
		},
		{
			name: "tampered payload",
			setupToken: func() string {
				token, _, err := svc.Issue(id, "a@b.com", user.RoleClient)
				require.NoError(t, err)
				parts := strings.Split(token, ".")
				parts[1] = parts[1][:len(parts[1])-2] + "xx"
				return strings.Join(parts, ".")
			},
		},
		{
			name: "unsupported role claim",
			setupToken: func() string {
				claims := &Claims{
					UserID: id.String(),
					Email:  "a@b.com",
					Role:   user.Role("root"),
					RegisteredClaims: jwt.RegisteredClaims{
						Issuer:    "portal-test",
						ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
					},
				}
				token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret-key"))
				require.NoError(t, err)
				return token
			},
		},
		{
			name: "no expiry",
			setupToken: func() string {
				claims := &Claims{
					UserID:           id.String(),
					Role:             user.RoleAdmin,
					RegisteredClaims: jwt.RegisteredClaims{Issuer: "portal-test"},
				}
				token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret-key"))
				require.NoError(t, err)
				return token
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			claims, err := svc.Verify(tt.setupToken())
			assert.ErrorIs(t, err, ErrInvalidToken)
			assert.Nil(t, claims)
		})
	}
}

func TestService_Refresh(t *testing.T) {
	id := uuid.New()
	issuedAt := time.Now().Add(-23 * time.Hour)
	clock := issuedAt
	svc := newTestService(t, WithClock(func() time.Time { return clock }))

	token, firstExpiry, err := svc.Issue(id, "e@x.com", user.RoleEmployee)
	require.NoError(t, err)

	clock = time.Now()
	refreshed, newExpiry, err := svc.Refresh(token)
	require.NoError(t, err)
	assert.True(t, newExpiry.After(firstExpiry))

	claims, err := svc.Verify(refreshed)
	require.NoError(t, err)
	assert.Equal(t, id, claims.ParsedUserID())
	assert.Equal(t, user.RoleEmployee, claims.Role)
	assert.Equal(t, "e@x.com", claims.Email)
}

func TestService_Refresh_Expired(t *testing.T) {
	past := time.Now().Add(-48 * time.Hour)
	old := newTestService(t, WithClock(func() time.Time { return past }))
	token, _, err := old.Issue(uuid.New(), "a@b.com", user.RoleClient)
	require.NoError(t, err)

	svc := newTestService(t)
	_, _, err = svc.Refresh(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}
