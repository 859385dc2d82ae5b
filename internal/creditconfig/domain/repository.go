package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	// FindActive returns the highest-priority active row for one rung, or
	// nil when the rung has no config. orgID is nil for global scope.
	FindActive(ctx context.Context, db *gorm.DB, scope Scope, orgID *snowflake.ID, level Level, code string) (*CreditConfig, error)
	Insert(ctx context.Context, db *gorm.DB, cfg *CreditConfig) error
	// DeactivateActive retires any currently active rows for the rung so
	// the at-most-one-active invariant holds after the new row is inserted.
	DeactivateActive(ctx context.Context, db *gorm.DB, scope Scope, orgID *snowflake.ID, level Level, code string) error
	List(ctx context.Context, db *gorm.DB, scope Scope, orgID *snowflake.ID, level Level) ([]CreditConfig, error)
}
