package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
)

// Resolver prices a code by walking the hierarchy. Resolution never fails
// outward: an unknown code prices at the built-in fallback.
type Resolver interface {
	ResolveOperation(ctx context.Context, code string, orgID snowflake.ID) (EffectiveConfig, error)
	ResolveModule(ctx context.Context, code string, orgID snowflake.ID) (EffectiveConfig, error)
	ResolveApp(ctx context.Context, orgID snowflake.ID) (EffectiveConfig, error)
}

// Service is the admin-only config write and listing surface.
type Service interface {
	SetConfig(ctx context.Context, req SetConfigRequest) (*CreditConfig, error)
	ListConfigs(ctx context.Context, level Level, orgID *snowflake.ID) ([]CreditConfig, error)
}

// SetConfigRequest creates a new active config row for one rung,
// deactivating any prior active row in the same transaction.
type SetConfigRequest struct {
	Level               Level           `json:"level"`
	Code                string          `json:"code"`
	ModuleCode          string          `json:"module_code,omitempty"`
	OrgID               *snowflake.ID   `json:"org_id,omitempty"` // nil writes a global row
	CreditCost          decimal.Decimal `json:"credit_cost"`
	Unit                Unit            `json:"unit"`
	UnitMultiplier      decimal.Decimal `json:"unit_multiplier"`
	FreeAllowance       decimal.Decimal `json:"free_allowance"`
	FreeAllowancePeriod AllowancePeriod `json:"free_allowance_period,omitempty"`
	VolumeTiers         []VolumeTier    `json:"volume_tiers,omitempty"`
	AllowOverage        bool            `json:"allow_overage"`
	OverageLimit        decimal.Decimal `json:"overage_limit"`
	OveragePeriod       AllowancePeriod `json:"overage_period,omitempty"`
	OverageCost         decimal.Decimal `json:"overage_cost"`
	Priority            int             `json:"priority"`
	Inherited           bool            `json:"inherited"`
	UserID              snowflake.ID    `json:"-"`
}
