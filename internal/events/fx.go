package events

import (
	"context"

	"go.uber.org/fx"
)

// Module wires the outbox and its dispatch loop.
var Module = fx.Module("events",
	fx.Provide(NewOutbox),
	fx.Invoke(registerHooks),
)

func registerHooks(lc fx.Lifecycle, outbox *Outbox) {
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			outbox.Start()
			return nil
		},
		OnStop: func(context.Context) error {
			outbox.Stop()
			return nil
		},
	})
}
