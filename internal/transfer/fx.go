package transfer

import (
	"github.com/smallbiznis/tally/internal/transfer/service"
	"go.uber.org/fx"
)

var Module = fx.Module("transfer.service",
	fx.Provide(service.NewService),
)
