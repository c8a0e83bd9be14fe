package accessrequest

import (
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/elskow/portal/internal/api"
	"github.com/elskow/portal/internal/audit"
	"github.com/elskow/portal/internal/config"
	"github.com/elskow/portal/internal/notify"
	"github.com/elskow/portal/internal/security"
	"github.com/elskow/portal/internal/user"
)

// NewModule returns the access request module options
func NewModule() fx.Option {
	return fx.Options(
		fx.Provide(
			fx.Annotate(
				func(db *gorm.DB) Repository {
					return NewRepository(db)
				},
			),
			fx.Annotate(
				func(
					config *config.AppConfig,
					repo Repository,
					users user.Repository,
					hasher *security.Hasher,
					notifier notify.Notifier,
					recorder audit.Recorder,
					validator *api.Validator,
					log *zap.Logger,
				) *Service {
					return NewService(ServiceParams{
						Repo:            repo,
						Users:           users,
						Hasher:          hasher,
						Notifier:        notifier,
						Recorder:        recorder,
						Validator:       validator,
						TokenTTL:        config.AccessRequest.TokenTTL,
						PasswordLength:  config.Auth.TempPasswordLength,
						PasswordTTL:     config.Auth.TempPasswordTTL,
						AdminRecipients: config.AccessRequest.AdminRecipients,
						Logger:          log,
					})
				},
			),
			NewHandler,
		),
	)
}
