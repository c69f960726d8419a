package api

import (
	"go.uber.org/fx"
)

var Module = fx.Module("api",
	fx.Provide(NewGrantHandlers),
	fx.Provide(NewExecutionHandlers),
	fx.Provide(NewFeeHandlers),
	fx.Provide(NewShardHandlers),
	fx.Provide(NewSystemHandlers),
)
