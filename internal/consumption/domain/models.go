package domain

import (
	"errors"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	configdomain "github.com/smallbiznis/tally/internal/creditconfig/domain"
)

// ConsumeRequest charges an entity for one metered operation.
type ConsumeRequest struct {
	OrgID         snowflake.ID     `json:"-"`
	EntityType    string           `json:"entity_type"`
	EntityID      snowflake.ID     `json:"entity_id"`
	OperationCode string           `json:"operation_code"`
	Units         decimal.Decimal  `json:"units"`
	OperationID   string           `json:"operation_id,omitempty"`
	Description   string           `json:"description,omitempty"`
	// RequestedCost is the client's expectation of the price. It is never
	// trusted for charging; a mismatch against the resolved cost is only
	// surfaced in the result.
	RequestedCost *decimal.Decimal       `json:"requested_cost,omitempty"`
	InitiatedBy   snowflake.ID           `json:"-"`
	Metadata      map[string]interface{} `json:"metadata,omitempty"`
}

// ConsumeResult reports what the operation actually cost and where the
// balance landed.
type ConsumeResult struct {
	TransactionID    *snowflake.ID                `json:"transaction_id,omitempty"`
	Charged          decimal.Decimal              `json:"charged"`
	Units            decimal.Decimal              `json:"units"`
	FreeUnits        decimal.Decimal              `json:"free_units"`
	BilledUnits      decimal.Decimal              `json:"billed_units"`
	OverageUnits     decimal.Decimal              `json:"overage_units"`
	RemainingCredits decimal.Decimal              `json:"remaining_credits"`
	Source           configdomain.ResolutionSource `json:"source"`
	Replayed         bool                         `json:"replayed"`
	CostMismatch     bool                         `json:"cost_mismatch,omitempty"`
}

// CheckResult is a dry-run price quote. Nothing is charged.
type CheckResult struct {
	Affordable       bool                          `json:"affordable"`
	Cost             decimal.Decimal               `json:"cost"`
	FreeUnits        decimal.Decimal               `json:"free_units"`
	AvailableCredits decimal.Decimal               `json:"available_credits"`
	Shortfall        decimal.Decimal               `json:"shortfall"`
	Source           configdomain.ResolutionSource `json:"source"`
}

// InsufficientCreditsError carries the shortfall so callers can tell the
// user how many credits to top up.
type InsufficientCreditsError struct {
	Required  decimal.Decimal `json:"required"`
	Available decimal.Decimal `json:"available"`
	Shortfall decimal.Decimal `json:"shortfall"`
}

func (e *InsufficientCreditsError) Error() string { return "insufficient_credits" }

var (
	ErrInvalidOrganization = errors.New("invalid_organization")
	ErrInvalidEntity       = errors.New("invalid_entity")
	ErrInvalidOperation    = errors.New("invalid_operation")
	ErrInvalidUnits        = errors.New("invalid_units")
	ErrConflict            = errors.New("operation_conflict")
)
