package notify

import "go.uber.org/fx"

var Module = fx.Module("quota.notify",
	fx.Provide(NewHub),
)
