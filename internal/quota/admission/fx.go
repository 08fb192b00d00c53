package admission

import (
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/edupoints/internal/config"
	"go.uber.org/fx"
)

var Module = fx.Module("quota.admission",
	fx.Provide(NewConfiguredPolicy),
)

// NewConfiguredPolicy follows the buffer fractions of the live quota config.
func NewConfiguredPolicy(holder *config.QuotaConfigHolder) *Policy {
	return NewDynamicPolicy(func() BufferFractions {
		cfg := holder.Get().BufferFractions
		return BufferFractions{
			Individual:   decimal.NewFromFloat(cfg.Individual),
			Organization: decimal.NewFromFloat(cfg.Organization),
		}
	})
}
