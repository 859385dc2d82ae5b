package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, balance *CreditBalance) error
	Find(ctx context.Context, db *gorm.DB, orgID snowflake.ID, entityType string, entityID snowflake.ID) (*CreditBalance, error)
	// FindForUpdate locks the row for the duration of the enclosing
	// transaction so a concurrent mutation cannot interleave between the
	// read and the write.
	FindForUpdate(ctx context.Context, db *gorm.DB, orgID snowflake.ID, entityType string, entityID snowflake.ID) (*CreditBalance, error)
	UpdateAmounts(ctx context.Context, db *gorm.DB, balance *CreditBalance) error
	SetActive(ctx context.Context, db *gorm.DB, orgID snowflake.ID, entityType string, entityID snowflake.ID, active bool) error
	ListByOrg(ctx context.Context, db *gorm.DB, orgID snowflake.ID) ([]CreditBalance, error)
}
