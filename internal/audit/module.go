package audit

import (
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/elskow/portal/internal/config"
)

// NewModule returns the audit log module options
func NewModule() fx.Option {
	return fx.Options(
		fx.Provide(
			fx.Annotate(
				func(db *gorm.DB) Repository {
					return NewRepository(db)
				},
			),
			fx.Annotate(
				func(config *config.AppConfig, repo Repository, log *zap.Logger) (*Service, error) {
					return NewService(repo, config.Audit.NodeID, log)
				},
			),
			// Other components only see the Recorder side
			func(svc *Service) Recorder {
				return svc
			},
			fx.Annotate(
				func(config *config.AppConfig, repo Repository, log *zap.Logger) *RetentionSweeper {
					return NewRetentionSweeper(repo, config.Audit, log)
				},
			),
			NewHandler,
		),
	)
}
