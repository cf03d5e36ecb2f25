package limit

import (
	"github.com/smallbiznis/creditflow/internal/limit/service"
	"go.uber.org/fx"
)

var Module = fx.Module("limit.service",
	fx.Provide(service.NewService),
)
