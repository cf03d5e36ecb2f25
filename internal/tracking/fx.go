package tracking

import (
	"github.com/smallbiznis/creditflow/internal/tracking/service"
	"go.uber.org/fx"
)

var Module = fx.Module("tracking.service",
	fx.Provide(service.NewService),
)
