package domain

import (
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// TransactionType classifies a balance-changing event.
type TransactionType string

const (
	TypeAllocation  TransactionType = "allocation"
	TypeConsumption TransactionType = "consumption"
	TypeTransferIn  TransactionType = "transfer_in"
	TypeTransferOut TransactionType = "transfer_out"
	TypeExpiry      TransactionType = "expiry"
	TypeRefund      TransactionType = "refund"
	TypeAdjustment  TransactionType = "adjustment"
)

// IsCredit reports whether the type increases the balance.
func (t TransactionType) IsCredit() bool {
	switch t {
	case TypeAllocation, TypeTransferIn, TypeRefund:
		return true
	default:
		return false
	}
}

// Valid reports whether the type is a known transaction type.
func (t TransactionType) Valid() bool {
	switch t {
	case TypeAllocation, TypeConsumption, TypeTransferIn, TypeTransferOut, TypeExpiry, TypeRefund, TypeAdjustment:
		return true
	default:
		return false
	}
}

// CreditTransaction is one immutable row in the append-only ledger. Amount
// is always a positive magnitude; direction is implied by Type. The
// before/after snapshots allow point-in-time reconstruction without replay.
type CreditTransaction struct {
	ID              snowflake.ID      `gorm:"primaryKey"`
	OrgID           snowflake.ID      `gorm:"not null;index;uniqueIndex:ux_credit_transactions_op,priority:1"`
	EntityType      string            `gorm:"type:text;not null;uniqueIndex:ux_credit_transactions_op,priority:2"`
	EntityID        snowflake.ID      `gorm:"not null;uniqueIndex:ux_credit_transactions_op,priority:3"`
	Type            TransactionType   `gorm:"type:text;not null;index"`
	Amount          decimal.Decimal   `gorm:"type:numeric(20,6);not null"`
	Units           decimal.Decimal   `gorm:"type:numeric(20,6);not null"`
	PreviousBalance decimal.Decimal   `gorm:"type:numeric(20,6);not null"`
	NewBalance      decimal.Decimal   `gorm:"type:numeric(20,6);not null"`
	OperationCode   *string           `gorm:"type:text;index"`
	OperationID     *string           `gorm:"type:text;uniqueIndex:ux_credit_transactions_op,priority:4"`
	CorrelationID   *string           `gorm:"type:text;index"`
	InitiatedBy     *snowflake.ID     // null means system-initiated
	Description     string            `gorm:"type:text"`
	Metadata        datatypes.JSONMap `gorm:"type:jsonb"`
	CreatedAt       time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP;index"`
}

// TableName sets the database table name.
func (CreditTransaction) TableName() string { return "credit_transactions" }

// ValidateSnapshot checks that the balance snapshots are consistent with the
// type and amount before the row is written.
func (t *CreditTransaction) ValidateSnapshot() error {
	if !t.Type.Valid() {
		return ErrInvalidType
	}
	if t.Amount.IsNegative() {
		return ErrInvalidAmount
	}
	expected := t.PreviousBalance.Sub(t.Amount)
	if t.Type.IsCredit() {
		expected = t.PreviousBalance.Add(t.Amount)
	}
	if !t.NewBalance.Equal(expected) {
		return ErrSnapshotMismatch
	}
	return nil
}

// HistoryFilter narrows transaction history queries.
type HistoryFilter struct {
	Type       TransactionType
	EntityType string
	EntityID   snowflake.ID
	StartDate  *time.Time
	EndDate    *time.Time
}

var (
	ErrInvalidOrganization = errors.New("invalid_organization")
	ErrInvalidEntity       = errors.New("invalid_entity")
	ErrInvalidType         = errors.New("invalid_transaction_type")
	ErrInvalidAmount       = errors.New("invalid_amount")
	ErrSnapshotMismatch    = errors.New("snapshot_mismatch")
)
