package progress

import "go.uber.org/fx"

var Module = fx.Module("progress.engine",
	fx.Provide(NewEngine),
)
