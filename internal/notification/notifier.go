package notification

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
)

// ExpiryWarning tells an org owner that scheduled credits are about to
// lapse.
type ExpiryWarning struct {
	OrgID      snowflake.ID
	EntityType string
	EntityID   snowflake.ID
	Amount     decimal.Decimal
	ExpiresAt  time.Time
	Recipient  string
}

// Notifier delivers operational notices. Delivery is best effort; callers
// must not treat a failed send as a failed sweep.
type Notifier interface {
	NotifyExpiryWarning(ctx context.Context, warning ExpiryWarning) error
}
