package biz

import (
	"go.uber.org/fx"
)

var Module = fx.Module("biz",
	fx.Provide(NewClock),
	fx.Provide(NewAuthService),
	fx.Provide(NewWalletBindingService),
	fx.Provide(NewShardVaultService),
	fx.Provide(NewGrantService),
	fx.Provide(NewStrategyPolicyService),
	fx.Provide(NewSpendLedger),
	fx.Provide(NewExecutionLog),
	fx.Provide(NewSignerService),
	fx.Provide(NewCoordinator),
)
