package ratelimit

import "go.uber.org/fx"

// Module exposes the redis-backed guards. Each constructor degrades to a
// permissive or nil value when no redis client is configured.
var Module = fx.Module("ratelimit",
	fx.Provide(
		NewLocker,
		NewDeductionLimiter,
		NewProvisionLock,
	),
)
