package audit

import (
	"github.com/smallbiznis/edupoints/internal/audit/repository"
	"github.com/smallbiznis/edupoints/internal/audit/service"
	"go.uber.org/fx"
)

// Module records and lists administrative actions on scopes, ledger
// entries and roles.
var Module = fx.Module("audit",
	fx.Provide(
		repository.Provide,
		service.NewService,
	),
)
