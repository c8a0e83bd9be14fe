package user

import (
	"go.uber.org/fx"
	"gorm.io/gorm"
)

// NewModule returns the credential store module options
func NewModule() fx.Option {
	return fx.Options(
		fx.Provide(
			fx.Annotate(
				func(db *gorm.DB) Repository {
					return NewRepository(db)
				},
			),
		),
	)
}
