package balance

import (
	"github.com/smallbiznis/tally/internal/balance/repository"
	"github.com/smallbiznis/tally/internal/balance/service"
	"go.uber.org/fx"
)

var Module = fx.Module("balance.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)
