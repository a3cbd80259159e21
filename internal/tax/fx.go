package tax

import (
	"github.com/smallbiznis/paycore/internal/tax/repository"
	"github.com/smallbiznis/paycore/internal/tax/service"
	"go.uber.org/fx"
)

var Module = fx.Module("tax.service",
	fx.Provide(repository.NewPromoRepository),
	fx.Provide(service.NewPromoResolver),
	fx.Provide(service.NewService),
)
