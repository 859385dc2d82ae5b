package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/tally/internal/balance"
	"github.com/smallbiznis/tally/internal/cache"
	"github.com/smallbiznis/tally/internal/clock"
	"github.com/smallbiznis/tally/internal/config"
	"github.com/smallbiznis/tally/internal/expiry"
	"github.com/smallbiznis/tally/internal/ledger"
	"github.com/smallbiznis/tally/internal/migration"
	"github.com/smallbiznis/tally/internal/notification"
	"github.com/smallbiznis/tally/internal/observability"
	"github.com/smallbiznis/tally/internal/scheduler"
	"github.com/smallbiznis/tally/pkg/db"
	"go.uber.org/fx"
)

// Headless sweep worker. Runs the expiry scheduler without the HTTP
// surface.
func main() {
	app := fx.New(
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		cache.Module,
		migration.Module,

		notification.Module,
		balance.Module,
		ledger.Module,
		expiry.Module,
		scheduler.Module,
	)
	app.Run()
}

func RegisterSnowflake() *snowflake.Node {
	node, err := snowflake.NewNode(1)
	if err != nil {
		panic(err)
	}
	return node
}
