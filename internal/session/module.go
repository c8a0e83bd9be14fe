package session

import (
	"go.uber.org/fx"

	"github.com/elskow/portal/internal/config"
)

// NewModule provides the token service. A missing secret aborts startup.
func NewModule() fx.Option {
	return fx.Options(
		fx.Provide(
			fx.Annotate(
				func(config *config.AppConfig) (*Service, error) {
					return NewService(&config.Auth)
				},
			),
		),
	)
}
