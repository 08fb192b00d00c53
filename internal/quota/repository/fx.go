package repository

import "go.uber.org/fx"

var Module = fx.Module("quota.repository",
	fx.Provide(ProvideBalanceStore),
	fx.Provide(ProvideLedgerStore),
	fx.Provide(ProvideScopeResolver),
)
