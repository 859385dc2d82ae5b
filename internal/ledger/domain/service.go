package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/tally/pkg/db/pagination"
	"gorm.io/gorm"
)

// Service is the ledger surface. Append runs inside the caller's
// transaction so a ledger row always commits together with the balance
// change it records.
type Service interface {
	Append(ctx context.Context, tx *gorm.DB, entry *CreditTransaction) (inserted bool, err error)
	FindByOperationID(ctx context.Context, orgID snowflake.ID, entityType string, entityID snowflake.ID, operationID string) (*CreditTransaction, error)
	GetHistory(ctx context.Context, orgID snowflake.ID, filter HistoryFilter, page pagination.Pagination) (*History, error)
}

// History is one page of ledger rows.
type History struct {
	Transactions []CreditTransaction `json:"transactions"`
	PageInfo     pagination.PageInfo `json:"page_info"`
}
