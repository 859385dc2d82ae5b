package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/tally/pkg/db/pagination"
	"gorm.io/gorm"
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, row *CreditPurchase) error
	FindByReference(ctx context.Context, db *gorm.DB, orgID snowflake.ID, reference string) (*CreditPurchase, error)
	// Settle moves a pending purchase to a terminal status. claimed is
	// false when the purchase was already settled.
	Settle(ctx context.Context, db *gorm.DB, id snowflake.ID, status PurchaseStatus, paymentReference, failureReason string, at time.Time) (claimed bool, err error)
	List(ctx context.Context, db *gorm.DB, orgID snowflake.ID, filter ListFilter, page pagination.Pagination) ([]CreditPurchase, int64, error)
}
