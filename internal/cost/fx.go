package cost

import (
	"github.com/smallbiznis/creditflow/internal/cache"
	"github.com/smallbiznis/creditflow/internal/cost/service"
	"go.uber.org/fx"
)

var Module = fx.Module("cost.service",
	fx.Provide(
		cache.NewCostResolverCache,
		service.NewService,
	),
)
