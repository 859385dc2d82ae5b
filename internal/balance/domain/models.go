package domain

import (
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
)

// CreditBalance is the durable credit record for one entity within an org.
// Rows are created lazily on first allocation and never deleted, only
// deactivated.
type CreditBalance struct {
	ID               snowflake.ID    `gorm:"primaryKey"`
	OrgID            snowflake.ID    `gorm:"not null;index;uniqueIndex:ux_credit_balances_entity,priority:1"`
	EntityType       string          `gorm:"type:text;not null;uniqueIndex:ux_credit_balances_entity,priority:2"`
	EntityID         snowflake.ID    `gorm:"not null;uniqueIndex:ux_credit_balances_entity,priority:3"`
	AvailableCredits decimal.Decimal `gorm:"type:numeric(20,6);not null"`
	ReservedCredits  decimal.Decimal `gorm:"type:numeric(20,6);not null"`
	Active           bool            `gorm:"not null;default:true"`
	CreatedAt        time.Time       `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt        time.Time       `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (CreditBalance) TableName() string { return "credit_balances" }

// Balance is the read model returned to callers. A never-funded entity is
// reported as an active zero balance, not an error.
type Balance struct {
	OrgID            snowflake.ID    `json:"org_id"`
	EntityType       string          `json:"entity_type"`
	EntityID         snowflake.ID    `json:"entity_id"`
	AvailableCredits decimal.Decimal `json:"available_credits"`
	ReservedCredits  decimal.Decimal `json:"reserved_credits"`
	Active           bool            `json:"active"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

// ZeroBalance is the synthetic read model for an entity with no row.
func ZeroBalance(orgID snowflake.ID, entityType string, entityID snowflake.ID) Balance {
	return Balance{
		OrgID:            orgID,
		EntityType:       entityType,
		EntityID:         entityID,
		AvailableCredits: decimal.Zero,
		ReservedCredits:  decimal.Zero,
		Active:           true,
	}
}

func (b CreditBalance) Read() Balance {
	return Balance{
		OrgID:            b.OrgID,
		EntityType:       b.EntityType,
		EntityID:         b.EntityID,
		AvailableCredits: b.AvailableCredits,
		ReservedCredits:  b.ReservedCredits,
		Active:           b.Active,
		UpdatedAt:        b.UpdatedAt,
	}
}

var (
	ErrInvalidOrganization = errors.New("invalid_organization")
	ErrInvalidEntity       = errors.New("invalid_entity")
	ErrInvalidAmount       = errors.New("invalid_amount")
	ErrInsufficientCredits = errors.New("insufficient_credits")
	ErrEntityInactive      = errors.New("entity_inactive")
	ErrNotFound            = errors.New("not_found")
)
