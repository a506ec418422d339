package ticket

import "go.uber.org/fx"

var Module = fx.Module("ticket.module",
	fx.Provide(NewClient),
)

var Server = fx.Module("ticket.server",
	Module,
	fx.Provide(NewHandler),
	fx.Invoke(RegisterRoutes),
)
