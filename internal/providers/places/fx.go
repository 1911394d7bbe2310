package places

import (
	byokdomain "github.com/smallbiznis/leadforge/internal/byok/domain"
	"go.uber.org/fx"
)

var Module = fx.Module("providers.places",
	fx.Provide(New),
	fx.Provide(
		fx.Annotate(
			NewValidator,
			fx.As(new(byokdomain.Validator)),
			fx.ResultTags(`group:"byok.validators"`),
		),
	),
)
