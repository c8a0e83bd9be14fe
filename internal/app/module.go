package app

import (
	"context"
	"os"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/elskow/portal/internal/accessrequest"
	"github.com/elskow/portal/internal/api"
	"github.com/elskow/portal/internal/audit"
	"github.com/elskow/portal/internal/auth"
	"github.com/elskow/portal/internal/config"
	"github.com/elskow/portal/internal/database"
	"github.com/elskow/portal/internal/migration"
	"github.com/elskow/portal/internal/notify"
	"github.com/elskow/portal/internal/ratelimit"
	"github.com/elskow/portal/internal/security"
	"github.com/elskow/portal/internal/server"
	"github.com/elskow/portal/internal/session"
	"github.com/elskow/portal/internal/user"
	"github.com/elskow/portal/internal/worker"
)

// shutdownGrace bounds how long OnStop hooks may take in total.
const shutdownGrace = 30 * time.Second

// Module combines all application modules
func Module() fx.Option {
	return fx.Options(
		fx.StopTimeout(shutdownGrace),

		// Configuration
		fx.Provide(server.LoadConfig),

		// Logger
		fx.Provide(newLogger),

		// Persistence
		database.Module(),
		migration.Module(),

		// Domain
		fx.Provide(api.NewValidator),
		security.NewModule(),
		user.NewModule(),
		session.NewModule(),
		audit.NewModule(),
		notify.NewModule(),
		ratelimit.NewModule(),
		auth.NewModule(),
		accessrequest.NewModule(),

		// Servers
		fx.Provide(
			newPinger,
			server.NewRouter,
			server.NewHTTPServer,
			server.NewGRPCServer,
		),

		// Start the servers and background jobs
		fx.Invoke(registerHooks),
		fx.Invoke(registerWorkers),
	)
}

func newLogger(config *config.AppConfig) (*zap.Logger, error) {
	env := os.Getenv("APP_ENV")
	return server.NewAppLogger(env, config.Log)
}

func newPinger(db *gorm.DB) (server.Pinger, error) {
	return db.DB()
}

func registerHooks(
	lifecycle fx.Lifecycle,
	shutdowner fx.Shutdowner,
	config *config.AppConfig,
	httpServer *server.HTTPServer,
	grpcServer *server.GRPCServer,
	log *zap.Logger,
) {
	lifecycle.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := httpServer.Start(); err != nil {
					log.Error("failed to start HTTP server", zap.Error(err))
					_ = shutdowner.Shutdown(fx.ExitCode(1))
				}
			}()
			if config.GRPC.Enabled {
				go func() {
					if err := grpcServer.Start(); err != nil {
						log.Error("failed to start gRPC server", zap.Error(err))
						_ = shutdowner.Shutdown(fx.ExitCode(1))
					}
				}()
			}
			return nil
		},
		OnStop: func(ctx context.Context) error {
			log.Info("shutting down servers...")
			if config.GRPC.Enabled {
				grpcServer.Stop()
			}
			return httpServer.Stop(ctx)
		},
	})
}

func registerWorkers(
	lifecycle fx.Lifecycle,
	config *config.AppConfig,
	sweeper *audit.RetentionSweeper,
	guard *ratelimit.Guard,
	log *zap.Logger,
) {
	cleanup := config.RateLimit.CleanupInterval
	if cleanup <= 0 {
		cleanup = ratelimit.DefaultCleanupInterval
	}

	jobs := []*worker.Periodic{
		worker.NewPeriodic("audit_retention", sweeper.Interval(), sweeper.Run, log),
		worker.NewPeriodic("rate_guard_cleanup", cleanup, guard.Sweep, log),
	}

	for _, job := range jobs {
		job := job
		lifecycle.Append(fx.Hook{
			OnStart: func(context.Context) error {
				job.Start()
				return nil
			},
			OnStop: func(context.Context) error {
				job.Stop()
				log.Info("periodic job stopped", zap.String("job", job.Name()))
				return nil
			},
		})
	}
}
