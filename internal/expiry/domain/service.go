package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// ScheduleRequest registers a future expiry for granted credits. Schedule
// runs inside the caller's transaction so the schedule commits together
// with the allocation it covers.
type ScheduleRequest struct {
	OrgID         snowflake.ID
	EntityType    string
	EntityID      snowflake.ID
	Amount        decimal.Decimal
	ExpiresAt     time.Time
	SourceTransID *snowflake.ID
	NotifyEmail   string
}

// Service is the expiry processor. The sweep is idempotent: rows are
// claimed before the balance is touched, so re-running a sweep over the
// same rows is a no-op.
type Service interface {
	Schedule(ctx context.Context, tx *gorm.DB, req ScheduleRequest) (*CreditExpiry, error)
	ProcessExpiredCredits(ctx context.Context, runID string) (*SweepResult, error)
	// GetExpiringCredits lists unprocessed schedules lapsing within
	// daysAhead. An entity filter narrows the list to one entity; leave
	// both fields zero for the whole org.
	GetExpiringCredits(ctx context.Context, orgID snowflake.ID, entityType string, entityID snowflake.ID, daysAhead int) ([]CreditExpiry, error)
	// SendExpiryWarnings notifies the schedules lapsing within daysAhead;
	// zero uses the configured window.
	SendExpiryWarnings(ctx context.Context, daysAhead int) (warned int, err error)
}
