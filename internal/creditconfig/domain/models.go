package domain

import (
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// Scope says whether a config row applies to every org or one org.
type Scope string

const (
	ScopeGlobal       Scope = "global"
	ScopeOrganization Scope = "organization"
)

// Level is the rung of the pricing hierarchy a config row sits on.
type Level string

const (
	LevelOperation   Level = "operation"
	LevelModule      Level = "module"
	LevelApplication Level = "application"
)

// Unit is the billable unit an operation is priced in.
type Unit string

const (
	UnitOperation Unit = "operation"
	UnitRecord    Unit = "record"
	UnitMinute    Unit = "minute"
	UnitMB        Unit = "mb"
	UnitGB        Unit = "gb"
)

func (u Unit) Valid() bool {
	switch u {
	case UnitOperation, UnitRecord, UnitMinute, UnitMB, UnitGB:
		return true
	default:
		return false
	}
}

// AllowancePeriod is the rolling window free allowance and overage reset on.
type AllowancePeriod string

const (
	PeriodDaily   AllowancePeriod = "daily"
	PeriodWeekly  AllowancePeriod = "weekly"
	PeriodMonthly AllowancePeriod = "monthly"
)

func (p AllowancePeriod) Valid() bool {
	switch p {
	case PeriodDaily, PeriodWeekly, PeriodMonthly:
		return true
	default:
		return false
	}
}

// PeriodStart returns the calendar-aligned UTC start of the period
// containing now.
func (p AllowancePeriod) PeriodStart(now time.Time) time.Time {
	now = now.UTC()
	switch p {
	case PeriodDaily:
		return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	case PeriodWeekly:
		day := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
		offset := (int(day.Weekday()) + 6) % 7 // Monday start
		return day.AddDate(0, 0, -offset)
	default:
		return time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	}
}

// VolumeTier prices units up to a cumulative breakpoint. A nil UpTo means
// the tier is unbounded and must be last.
type VolumeTier struct {
	UpTo     *decimal.Decimal `json:"up_to,omitempty"`
	UnitCost decimal.Decimal  `json:"unit_cost"`
}

// DefaultAppCode is the single application rung of the hierarchy.
const DefaultAppCode = "platform"

// FallbackCost is the built-in price used when no config row exists at any
// level, so pricing never fails.
var FallbackCost = decimal.NewFromInt(1)

// CreditConfig defines price and limits for a billable unit at one rung of
// the hierarchy. At most one row may be active per
// (scope, org, level, code); enforced at write time.
type CreditConfig struct {
	ID                  snowflake.ID                     `gorm:"primaryKey"`
	Scope               Scope                            `gorm:"type:text;not null;index:ix_credit_configs_lookup,priority:1"`
	OrgID               *snowflake.ID                    `gorm:"index:ix_credit_configs_lookup,priority:2"` // null for global scope
	Level               Level                            `gorm:"type:text;not null;index:ix_credit_configs_lookup,priority:3"`
	Code                string                           `gorm:"type:text;not null;index:ix_credit_configs_lookup,priority:4"`
	ModuleCode          string                           `gorm:"type:text"` // owning module for operation-level rows
	CreditCost          decimal.Decimal                  `gorm:"type:numeric(20,6);not null"`
	Unit                Unit                             `gorm:"type:text;not null"`
	UnitMultiplier      decimal.Decimal                  `gorm:"type:numeric(20,6);not null"`
	FreeAllowance       decimal.Decimal                  `gorm:"type:numeric(20,6);not null"`
	FreeAllowancePeriod AllowancePeriod                  `gorm:"type:text"`
	VolumeTiers         datatypes.JSONSlice[VolumeTier]  `gorm:"type:jsonb"`
	AllowOverage        bool                             `gorm:"not null;default:false"`
	OverageLimit        decimal.Decimal                  `gorm:"type:numeric(20,6);not null"`
	OveragePeriod       AllowancePeriod                  `gorm:"type:text"`
	OverageCost         decimal.Decimal                  `gorm:"type:numeric(20,6);not null"`
	Priority            int                              `gorm:"not null;default:0"`
	Inherited           bool                             `gorm:"not null;default:false"`
	Active              bool                             `gorm:"not null;default:true"`
	CreatedBy           *snowflake.ID
	CreatedAt           time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt           time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (CreditConfig) TableName() string { return "credit_configs" }

// ResolutionSource records which rung of the hierarchy priced an operation.
type ResolutionSource struct {
	Scope    Scope `json:"scope"`
	Level    Level `json:"level"`
	Fallback bool  `json:"fallback"`
}

// EffectiveConfig is the resolved pricing policy for one code.
type EffectiveConfig struct {
	Code                string           `json:"code"`
	CreditCost          decimal.Decimal  `json:"credit_cost"`
	Unit                Unit             `json:"unit"`
	UnitMultiplier      decimal.Decimal  `json:"unit_multiplier"`
	FreeAllowance       decimal.Decimal  `json:"free_allowance"`
	FreeAllowancePeriod AllowancePeriod  `json:"free_allowance_period,omitempty"`
	VolumeTiers         []VolumeTier     `json:"volume_tiers,omitempty"`
	AllowOverage        bool             `json:"allow_overage"`
	OverageLimit        decimal.Decimal  `json:"overage_limit"`
	OveragePeriod       AllowancePeriod  `json:"overage_period,omitempty"`
	OverageCost         decimal.Decimal  `json:"overage_cost"`
	Priority            int              `json:"priority"`
	Source              ResolutionSource `json:"source"`
}

var (
	ErrInvalidOrganization  = errors.New("invalid_organization")
	ErrInvalidCode          = errors.New("invalid_code")
	ErrInvalidLevel         = errors.New("invalid_level")
	ErrInvalidCost          = errors.New("invalid_cost")
	ErrInvalidUnit          = errors.New("invalid_unit")
	ErrInvalidPeriod        = errors.New("invalid_period")
	ErrInvalidVolumeTiers   = errors.New("invalid_volume_tiers")
	ErrInvalidOverage       = errors.New("invalid_overage")
	ErrOverageNotAllowed    = errors.New("overage_not_allowed")
	ErrOverageLimitExceeded = errors.New("overage_limit_exceeded")
	ErrNotFound             = errors.New("not_found")
)
