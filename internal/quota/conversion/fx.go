package conversion

import "go.uber.org/fx"

var Module = fx.Module("quota.conversion",
	fx.Provide(NewSource),
)
