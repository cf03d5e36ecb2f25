package notification

import (
	"github.com/smallbiznis/creditflow/internal/events"
	"go.uber.org/fx"
)

var Module = fx.Module("notification",
	fx.Provide(NewHub, NewConsumer),
	fx.Invoke(func(consumer *Consumer, outbox *events.Outbox) {
		consumer.Register(outbox)
	}),
)
