package auth

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/elskow/portal/internal/config"
)

const DefaultCookieName = "session"

// Cookies writes and reads the httpOnly session cookie.
type Cookies struct {
	name   string
	domain string
	secure bool
	now    func() time.Time
}

func NewCookies(cfg *config.AuthConfig) *Cookies {
	name := cfg.CookieName
	if name == "" {
		name = DefaultCookieName
	}
	return &Cookies{
		name:   name,
		domain: cfg.CookieDomain,
		secure: cfg.CookieSecure,
		now:    time.Now,
	}
}

func (k *Cookies) Set(c *gin.Context, token string, expiresAt time.Time) {
	maxAge := int(expiresAt.Sub(k.now()).Seconds())
	if maxAge < 1 {
		maxAge = 1
	}
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(k.name, token, maxAge, "/", k.domain, k.secure, true)
}

func (k *Cookies) Clear(c *gin.Context) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(k.name, "", -1, "/", k.domain, k.secure, true)
}

// Token returns the session token from the cookie, falling back to an
// Authorization: Bearer header for non-browser clients.
func (k *Cookies) Token(c *gin.Context) string {
	if v, err := c.Cookie(k.name); err == nil && v != "" {
		return v
	}
	header := c.GetHeader("Authorization")
	if len(header) > 7 && strings.EqualFold(header[:7], "bearer ") {
		return strings.TrimSpace(header[7:])
	}
	return ""
}
