package auth

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/elskow/portal/internal/api"
	"github.com/elskow/portal/internal/user"
)

type Handler struct {
	service   *Service
	cookies   *Cookies
	validator *api.Validator
	log       *zap.Logger
}

func NewHandler(service *Service, cookies *Cookies, validator *api.Validator, log *zap.Logger) *Handler {
	return &Handler{
		service:   service,
		cookies:   cookies,
		validator: validator,
		log:       log.Named("auth_handler"),
	}
}

type loginRequest struct {
	Email    string `json:"email" validate:"required,email,max=254"`
	Password string `json:"password" validate:"required,max=128"`
}

type sessionResponse struct {
	Message   string     `json:"message"`
	User      *user.User `json:"user"`
	ExpiresAt time.Time  `json:"expires_at"`
}

// Login serves POST /api/auth/login and sets the session cookie.
func (h *Handler) Login(c *gin.Context) {
	var req loginRequest
	if err := api.BindJSON(c, h.validator, &req); err != nil {
		api.WriteError(c, h.log, err)
		return
	}

	result, err := h.service.Login(c.Request.Context(), req.Email, req.Password, OriginOf(c))
	if err != nil {
		api.WriteError(c, h.log, err)
		return
	}

	h.cookies.Set(c, result.Token, result.ExpiresAt)
	c.JSON(http.StatusOK, sessionResponse{
		Message:   "Login successful",
		User:      result.User,
		ExpiresAt: result.ExpiresAt,
	})
}

// Logout serves POST /api/auth/logout. It always succeeds.
func (h *Handler) Logout(c *gin.Context) {
	h.service.Logout(c.Request.Context(), h.cookies.Token(c), OriginOf(c))
	h.cookies.Clear(c)
	c.JSON(http.StatusOK, gin.H{"message": "Logged out"})
}

// Refresh serves POST /api/auth/refresh.
func (h *Handler) Refresh(c *gin.Context) {
	result, err := h.service.Refresh(c.Request.Context(), h.cookies.Token(c), OriginOf(c))
	if err != nil {
		h.cookies.Clear(c)
		api.WriteError(c, h.log, err)
		return
	}

	h.cookies.Set(c, result.Token, result.ExpiresAt)
	c.JSON(http.StatusOK, sessionResponse{
		Message:   "Session refreshed",
		User:      result.User,
		ExpiresAt: result.ExpiresAt,
	})
}

// Me serves GET /api/auth/me behind the gate.
func (h *Handler) Me(c *gin.Context) {
	u, ok := CurrentUser(c)
	if !ok {
		c.AbortWithStatus(http.StatusUnauthorized)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"user":         u,
		"capabilities": Capabilities(u.Role),
	})
}
