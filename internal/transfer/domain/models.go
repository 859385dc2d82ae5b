package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
)

// TransferRequest moves credits between two entities of the same org.
type TransferRequest struct {
	OrgID          snowflake.ID           `json:"-"`
	FromEntityType string                 `json:"from_entity_type"`
	FromEntityID   snowflake.ID           `json:"from_entity_id"`
	ToEntityType   string                 `json:"to_entity_type"`
	ToEntityID     snowflake.ID           `json:"to_entity_id"`
	Amount         decimal.Decimal        `json:"amount"`
	OperationID    string                 `json:"operation_id,omitempty"`
	Description    string                 `json:"description,omitempty"`
	InitiatedBy    snowflake.ID           `json:"-"`
	Metadata       map[string]interface{} `json:"metadata,omitempty"`
}

// TransferResult reports both sides of a completed transfer. The two ledger
// rows share the correlation ID.
type TransferResult struct {
	CorrelationID    string          `json:"correlation_id"`
	DebitID          snowflake.ID    `json:"debit_id"`
	CreditID         snowflake.ID    `json:"credit_id"`
	Amount           decimal.Decimal `json:"amount"`
	SourceRemaining  decimal.Decimal `json:"source_remaining"`
	DestinationTotal decimal.Decimal `json:"destination_total"`
	Replayed         bool            `json:"replayed"`
}

// Service is the transfer engine. A transfer debits the source and credits
// the destination atomically; credits are conserved.
type Service interface {
	Transfer(ctx context.Context, req TransferRequest) (*TransferResult, error)
}

var (
	ErrInvalidOrganization = errors.New("invalid_organization")
	ErrInvalidEntity       = errors.New("invalid_entity")
	ErrInvalidAmount       = errors.New("invalid_amount")
	ErrSelfTransfer        = errors.New("self_transfer")
	ErrConflict            = errors.New("operation_conflict")
)
