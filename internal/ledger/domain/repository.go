package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/tally/pkg/db/pagination"
	"gorm.io/gorm"
)

type Repository interface {
	// Insert appends one row inside the caller's transaction. When the row
	// carries an operation ID that already exists for the entity the insert
	// is skipped and inserted is false; the caller decides how to replay.
	Insert(ctx context.Context, db *gorm.DB, entry *CreditTransaction) (inserted bool, err error)
	FindByOperationID(ctx context.Context, db *gorm.DB, orgID snowflake.ID, entityType string, entityID snowflake.ID, operationID string) (*CreditTransaction, error)
	// ListByCorrelationID returns every row of one correlated movement,
	// oldest first. Transfers use it to recover both legs on replay.
	ListByCorrelationID(ctx context.Context, db *gorm.DB, orgID snowflake.ID, correlationID string) ([]CreditTransaction, error)
	List(ctx context.Context, db *gorm.DB, orgID snowflake.ID, filter HistoryFilter, page pagination.Pagination) ([]CreditTransaction, int64, error)
	// SumUnitsSince totals consumed units for one operation code in the
	// current allowance period.
	SumUnitsSince(ctx context.Context, db *gorm.DB, orgID snowflake.ID, entityType string, entityID snowflake.ID, operationCode string, since time.Time) (decimal.Decimal, error)
}
