package pricing

import (
	"context"

	"github.com/smallbiznis/leadforge/internal/config"
	pricingdomain "github.com/smallbiznis/leadforge/internal/pricing/domain"
	"github.com/smallbiznis/leadforge/internal/pricing/repository"
	"github.com/smallbiznis/leadforge/internal/pricing/service"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("pricing.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
	fx.Invoke(seedDefaultCosts),
)

func seedDefaultCosts(svc pricingdomain.Service, holder *config.CreditConfigHolder, log *zap.Logger) error {
	costs := holder.Get().Costs
	defaults := make([]pricingdomain.SeedCost, 0, len(costs))
	for _, c := range costs {
		defaults = append(defaults, pricingdomain.SeedCost{
			ActionType:  c.ActionType,
			Credits:     c.Credits,
			Description: c.Description,
		})
	}

	inserted, err := svc.SeedDefaults(context.Background(), defaults)
	if err != nil {
		return err
	}
	if inserted > 0 {
		log.Info("seeded credit costs", zap.Int("inserted", inserted))
	}
	return nil
}
