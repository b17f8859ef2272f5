package checkin

import "go.uber.org/fx"

var Module = fx.Module("checkin.repository",
	fx.Provide(NewRepository),
)
