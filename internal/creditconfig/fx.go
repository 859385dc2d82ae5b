package creditconfig

import (
	"github.com/smallbiznis/tally/internal/creditconfig/repository"
	"github.com/smallbiznis/tally/internal/creditconfig/resolver"
	"github.com/smallbiznis/tally/internal/creditconfig/service"
	"go.uber.org/fx"
)

var Module = fx.Module("creditconfig.service",
	fx.Provide(repository.Provide),
	fx.Provide(resolver.New),
	fx.Provide(service.NewService),
)
