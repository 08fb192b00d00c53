package quota

import (
	"github.com/smallbiznis/edupoints/internal/quota/admission"
	"github.com/smallbiznis/edupoints/internal/quota/conversion"
	"github.com/smallbiznis/edupoints/internal/quota/notify"
	"github.com/smallbiznis/edupoints/internal/quota/repository"
	"github.com/smallbiznis/edupoints/internal/quota/service"
	"go.uber.org/fx"
)

var Module = fx.Module("quota.service",
	repository.Module,
	conversion.Module,
	admission.Module,
	notify.Module,
	fx.Provide(service.NewService),
)
