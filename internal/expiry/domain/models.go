package domain

import (
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
)

// CreditExpiry schedules a granted amount to lapse at a fixed time. The
// sweep expires min(scheduled amount, available balance): credits already
// spent are never clawed back.
type CreditExpiry struct {
	ID            snowflake.ID    `gorm:"primaryKey"`
	OrgID         snowflake.ID    `gorm:"not null;index:ix_credit_expiries_entity,priority:1"`
	EntityType    string          `gorm:"type:text;not null;index:ix_credit_expiries_entity,priority:2"`
	EntityID      snowflake.ID    `gorm:"not null;index:ix_credit_expiries_entity,priority:3"`
	Amount        decimal.Decimal `gorm:"type:numeric(20,6);not null"`
	ExpiresAt     time.Time       `gorm:"not null;index"`
	SourceTransID *snowflake.ID   // allocation that granted the credits
	NotifyEmail   string          `gorm:"type:text"`
	ProcessedAt   *time.Time      `gorm:"index"`
	WarnedAt      *time.Time
	CreatedAt     time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (CreditExpiry) TableName() string { return "credit_expiries" }

// SweepResult summarizes one expiry sweep run.
type SweepResult struct {
	RunID         string          `json:"run_id"`
	Scanned       int             `json:"scanned"`
	Expired       int             `json:"expired"`
	AmountExpired decimal.Decimal `json:"amount_expired"`
}

var (
	ErrInvalidOrganization = errors.New("invalid_organization")
	ErrInvalidEntity       = errors.New("invalid_entity")
	ErrInvalidAmount       = errors.New("invalid_amount")
	ErrInvalidExpiry       = errors.New("invalid_expiry")
)
