package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/tally/pkg/db/pagination"
)

// PurchaseStatus tracks a purchase through its payment lifecycle.
type PurchaseStatus string

const (
	StatusPending   PurchaseStatus = "pending"
	StatusCompleted PurchaseStatus = "completed"
	StatusFailed    PurchaseStatus = "failed"
)

// CreditPurchase records an order for credits. Credits are allocated only
// when the payment confirms; a pending purchase holds nothing.
type CreditPurchase struct {
	ID               snowflake.ID    `gorm:"primaryKey"`
	Reference        string          `gorm:"type:text;not null;uniqueIndex"`
	OrgID            snowflake.ID    `gorm:"not null;index"`
	EntityType       string          `gorm:"type:text;not null"`
	EntityID         snowflake.ID    `gorm:"not null"`
	Credits          decimal.Decimal `gorm:"type:numeric(20,6);not null"`
	Status           PurchaseStatus  `gorm:"type:text;not null;index"`
	PaymentReference string          `gorm:"type:text"`
	FailureReason    string          `gorm:"type:text"`
	ExpiresInDays    int             `gorm:"not null;default:0"` // 0 means the credits never expire
	NotifyEmail      string          `gorm:"type:text"`
	RequestedBy      *snowflake.ID
	CreatedAt        time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt        time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
	CompletedAt      *time.Time
}

// TableName sets the database table name.
func (CreditPurchase) TableName() string { return "credit_purchases" }

// PurchaseRequest opens a pending purchase.
type PurchaseRequest struct {
	OrgID         snowflake.ID    `json:"-"`
	EntityType    string          `json:"entity_type"`
	EntityID      snowflake.ID    `json:"entity_id"`
	Credits       decimal.Decimal `json:"credits"`
	ExpiresInDays int             `json:"expires_in_days,omitempty"`
	NotifyEmail   string          `json:"notify_email,omitempty"`
	RequestedBy   snowflake.ID    `json:"-"`
}

// ListFilter narrows purchase listings.
type ListFilter struct {
	Status     PurchaseStatus
	EntityType string
	EntityID   snowflake.ID
}

// PurchaseList is one page of purchases.
type PurchaseList struct {
	Purchases []CreditPurchase    `json:"purchases"`
	PageInfo  pagination.PageInfo `json:"page_info"`
}

// Service manages the purchase lifecycle. ConfirmPayment and FailPayment
// are idempotent on the purchase reference: only the first confirmation
// allocates.
type Service interface {
	PurchaseCredits(ctx context.Context, req PurchaseRequest) (*CreditPurchase, error)
	ConfirmPayment(ctx context.Context, orgID snowflake.ID, reference, paymentReference string) (*CreditPurchase, error)
	FailPayment(ctx context.Context, orgID snowflake.ID, reference, reason string) (*CreditPurchase, error)
	GetPurchase(ctx context.Context, orgID snowflake.ID, reference string) (*CreditPurchase, error)
	ListPurchases(ctx context.Context, orgID snowflake.ID, filter ListFilter, page pagination.Pagination) (*PurchaseList, error)
}

var (
	ErrInvalidOrganization = errors.New("invalid_organization")
	ErrInvalidEntity       = errors.New("invalid_entity")
	ErrInvalidAmount       = errors.New("invalid_amount")
	ErrNotFound            = errors.New("purchase_not_found")
	ErrAlreadySettled      = errors.New("purchase_already_settled")
)
