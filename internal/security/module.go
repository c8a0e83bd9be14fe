package security

import (
	"go.uber.org/fx"

	"github.com/elskow/portal/internal/config"
)

// NewModule provides the password hasher configured by auth.bcrypt_cost.
func NewModule() fx.Option {
	return fx.Provide(
		func(config *config.AppConfig) *Hasher {
			return NewHasher(config.Auth.BcryptCost)
		},
	)
}
