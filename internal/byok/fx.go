package byok

import (
	"github.com/smallbiznis/leadforge/internal/byok/repository"
	"github.com/smallbiznis/leadforge/internal/byok/service"
	"go.uber.org/fx"
)

var Module = fx.Module("byok.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
)
