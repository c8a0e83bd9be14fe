package migration

import (
	"context"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/elskow/portal/internal/config"
)

// Module syncs the schema on start when database.auto_migrate is set.
// Otherwise cmd/migrate owns the schema.
func Module() fx.Option {
	return fx.Invoke(registerHooks)
}

func registerHooks(
	lifecycle fx.Lifecycle,
	config *config.AppConfig,
	logger *zap.Logger,
) {
	if !config.Database.AutoMigrate {
		return
	}

	lifecycle.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			migrator, err := NewMigrator(&config.Database)
			if err != nil {
				return err
			}
			defer migrator.Close()
			return migrator.Sync(logger.Named("migration"))
		},
	})
}
