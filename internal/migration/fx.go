package migration

import (
	balancedomain "github.com/smallbiznis/tally/internal/balance/domain"
	"github.com/smallbiznis/tally/internal/config"
	configdomain "github.com/smallbiznis/tally/internal/creditconfig/domain"
	expirydomain "github.com/smallbiznis/tally/internal/expiry/domain"
	ledgerdomain "github.com/smallbiznis/tally/internal/ledger/domain"
	purchasedomain "github.com/smallbiznis/tally/internal/purchase/domain"
	"github.com/smallbiznis/tally/internal/seed"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

var Module = fx.Module("migrations",
	fx.Invoke(func(conn *gorm.DB, cfg config.Config) error {
		if cfg.DBType == "postgres" {
			sqlDB, err := conn.DB()
			if err != nil {
				return err
			}
			if err := RunMigrations(sqlDB); err != nil {
				return err
			}
		} else {
			// Versioned migrations target postgres; other dialects build
			// the schema from the models.
			err := conn.AutoMigrate(
				&balancedomain.CreditBalance{},
				&ledgerdomain.CreditTransaction{},
				&configdomain.CreditConfig{},
				&expirydomain.CreditExpiry{},
				&purchasedomain.CreditPurchase{},
			)
			if err != nil {
				return err
			}
		}

		return seed.EnsureDefaultConfigs(conn)
	}),
)
