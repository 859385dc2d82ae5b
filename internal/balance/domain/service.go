package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Service is the balance store surface. ApplyDelta runs inside the caller's
// transaction; the engines compose it with ledger appends for atomicity.
type Service interface {
	GetBalance(ctx context.Context, orgID snowflake.ID, entityType string, entityID snowflake.ID) (Balance, error)
	// ApplyDelta re-reads the row under lock inside tx and applies the
	// signed amount. A negative delta that would drive the balance below
	// zero fails with ErrInsufficientCredits; a positive delta creates the
	// row lazily.
	ApplyDelta(ctx context.Context, tx *gorm.DB, orgID snowflake.ID, entityType string, entityID snowflake.ID, delta decimal.Decimal) (Balance, error)
	// InvalidateCache drops the cached read for one entity. ApplyDelta
	// cannot see its transaction commit, so the engine that owns the
	// transaction invalidates once it has returned.
	InvalidateCache(ctx context.Context, orgID snowflake.ID, entityType string, entityID snowflake.ID)
	Deactivate(ctx context.Context, orgID snowflake.ID, entityType string, entityID snowflake.ID) error
}
