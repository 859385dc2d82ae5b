package seed

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	configdomain "github.com/smallbiznis/tally/internal/creditconfig/domain"
	"gorm.io/gorm"
)

// EnsureDefaultConfigs seeds the global application-level pricing row so a
// fresh install prices every operation at one credit until an operator
// configures otherwise.
func EnsureDefaultConfigs(db *gorm.DB) error {
	if db == nil {
		return errors.New("seed database handle is required")
	}

	node, err := snowflake.NewNode(1)
	if err != nil {
		return err
	}

	ctx := context.Background()
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return ensureGlobalAppConfigTx(ctx, tx, node)
	})
}

func ensureGlobalAppConfigTx(ctx context.Context, tx *gorm.DB, node *snowflake.Node) error {
	var count int64
	err := tx.WithContext(ctx).
		Model(&configdomain.CreditConfig{}).
		Where("scope = ? AND org_id IS NULL AND level = ? AND code = ? AND active = ?",
			configdomain.ScopeGlobal, configdomain.LevelApplication, configdomain.DefaultAppCode, true).
		Count(&count).Error
	if err != nil {
		return err
	}
	if count > 0 {
		return nil
	}

	row := &configdomain.CreditConfig{
		ID:             node.Generate(),
		Scope:          configdomain.ScopeGlobal,
		Level:          configdomain.LevelApplication,
		Code:           configdomain.DefaultAppCode,
		CreditCost:     configdomain.FallbackCost,
		Unit:           configdomain.UnitOperation,
		UnitMultiplier: decimal.NewFromInt(1),
		FreeAllowance:  decimal.Zero,
		OverageLimit:   decimal.Zero,
		OverageCost:    decimal.Zero,
		Active:         true,
	}
	return tx.WithContext(ctx).Create(row).Error
}
