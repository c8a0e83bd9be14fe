package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/elskow/portal/internal/apperror"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func TestWriteError(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantBody   ErrorResponse
	}{
		{
			name:       "validation with fields",
			err:        apperror.Validation("invalid request", map[string]string{"email": "is required"}),
			wantStatus: http.StatusBadRequest,
			wantBody:   ErrorResponse{Error: "invalid request", Code: "validation_error", Fields: map[string]string{"email": "is required"}},
		},
		{
			name:       "conflict with custom code",
			err:        apperror.Conflict("already processed", nil).WithCode("already_processed"),
			wantStatus: http.StatusConflict,
			wantBody:   ErrorResponse{Error: "already processed", Code: "already_processed"},
		},
		{
			name:       "rate limited",
			err:        apperror.RateLimited("too many requests"),
			wantStatus: http.StatusTooManyRequests,
			wantBody:   ErrorResponse{Error: "too many requests", Code: "rate_limited"},
		},
		{
			name:       "plain error is hidden",
			err:        errors.New("pq: connection refused"),
			wantStatus: http.StatusInternalServerError,
			wantBody:   ErrorResponse{Error: "internal server error", Code: "internal_error"},
		},
		{
			name:       "internal error message is hidden",
			err:        apperror.Internal("failed to create user", errors.New("disk full")),
			wantStatus: http.StatusInternalServerError,
			wantBody:   ErrorResponse{Error: "internal server error", Code: "internal_error"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			c, _ := gin.CreateTestContext(w)
			c.Request = httptest.NewRequest(http.MethodGet, "/", nil)

			WriteError(c, zap.NewNop(), tt.err)

			assert.Equal(t, tt.wantStatus, w.Code)
			assert.True(t, c.IsAborted())

			var body ErrorResponse
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
			assert.Equal(t, tt.wantBody, body)
		})
	}
}

type sample struct {
	Email string `json:"email" validate:"required,email"`
	Phone string `json:"phone" validate:"omitempty,phone"`
	Kind  string `json:"kind" validate:"required,oneof=client employee"`
}

func TestNewValidator_RegistersCustomTags(t *testing.T) {
	var v *Validator
	require.NotPanics(t, func() { v = NewValidator() })
	assert.Error(t, v.Struct(sample{Email: "a@b.com", Kind: "client", Phone: "not a phone"}))
}

func TestValidator_Struct(t *testing.T) {
	v := NewValidator()

	tests := []struct {
		name       string
		input      sample
		wantFields []string
	}{
		{name: "valid", input: sample{Email: "a@b.com", Kind: "client"}},
		{name: "valid phone", input: sample{Email: "a@b.com", Kind: "client", Phone: "+1 (555) 010-2030"}},
		{name: "missing email", input: sample{Kind: "client"}, wantFields: []string{"email"}},
		{name: "bad kind and phone", input: sample{Email: "a@b.com", Kind: "admin", Phone: "call me"}, wantFields: []string{"kind", "phone"}},
		{name: "phone too short", input: sample{Email: "a@b.com", Kind: "employee", Phone: "123"}, wantFields: []string{"phone"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.Struct(tt.input)
			if len(tt.wantFields) == 0 {
				assert.NoError(t, err)
				return
			}

			var appErr *apperror.Error
			require.ErrorAs(t, err, &appErr)
			assert.Equal(t, apperror.KindValidation, appErr.Kind)
			assert.Len(t, appErr.Fields, len(tt.wantFields))
			for _, f := range tt.wantFields {
				assert.Contains(t, appErr.Fields, f)
			}
		})
	}
}

func TestBindJSON_Malformed(t *testing.T) {
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodPost, "/", strings.NewReader("{not json"))
	c.Request.Header.Set("Content-Type", "application/json")

	var dst sample
	err := BindJSON(c, NewValidator(), &dst)
	require.Error(t, err)
	assert.True(t, apperror.Is(err, apperror.KindValidation))
}

func TestIsPublic(t *testing.T) {
	assert.True(t, IsPublic(http.MethodPost, AuthLogin))
	assert.True(t, IsPublic(http.MethodPost, AccessRequests))
	assert.False(t, IsPublic(http.MethodGet, AccessRequests))
	assert.False(t, IsPublic(http.MethodGet, AuditLogs))
}
