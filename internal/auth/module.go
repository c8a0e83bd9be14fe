package auth

import (
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/elskow/portal/internal/api"
	"github.com/elskow/portal/internal/audit"
	"github.com/elskow/portal/internal/config"
	"github.com/elskow/portal/internal/ratelimit"
	"github.com/elskow/portal/internal/security"
	"github.com/elskow/portal/internal/session"
	"github.com/elskow/portal/internal/user"
)

// NewModule returns the auth module options
func NewModule() fx.Option {
	return fx.Options(
		fx.Provide(
			// Provide cookie settings
			fx.Annotate(
				func(config *config.AppConfig) *Cookies {
					return NewCookies(&config.Auth)
				},
			),
			// Provide gate
			NewGate,
			// Provide service
			fx.Annotate(
				func(
					config *config.AppConfig,
					users user.Repository,
					sessions *session.Service,
					hasher *security.Hasher,
					recorder audit.Recorder,
					guard *ratelimit.Guard,
					log *zap.Logger,
				) *Service {
					return NewService(ServiceParams{
						Config:   &config.Auth,
						Users:    users,
						Sessions: sessions,
						Hasher:   hasher,
						Recorder: recorder,
						Failures: guard,
						Logger:   log,
					})
				},
			),
			// Provide handler
			fx.Annotate(
				func(svc *Service, cookies *Cookies, validator *api.Validator, log *zap.Logger) *Handler {
					return NewHandler(svc, cookies, validator, log)
				},
			),
		),
	)
}
