package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, row *CreditExpiry) error
	// FindDue returns unprocessed schedules that lapsed at or before now,
	// oldest first.
	FindDue(ctx context.Context, db *gorm.DB, now time.Time, limit int) ([]CreditExpiry, error)
	// MarkProcessed stamps the row if and only if it is still unprocessed.
	// claimed is false when another sweep got there first.
	MarkProcessed(ctx context.Context, db *gorm.DB, id snowflake.ID, at time.Time) (claimed bool, err error)
	// FindExpiringUnwarned returns unprocessed, unwarned schedules lapsing
	// within the window.
	FindExpiringUnwarned(ctx context.Context, db *gorm.DB, now, until time.Time, limit int) ([]CreditExpiry, error)
	MarkWarned(ctx context.Context, db *gorm.DB, id snowflake.ID, at time.Time) error
	// ListUpcoming returns unprocessed schedules for one org lapsing within
	// the window, soonest first. An empty entityType returns every entity.
	ListUpcoming(ctx context.Context, db *gorm.DB, orgID snowflake.ID, entityType string, entityID snowflake.ID, until time.Time) ([]CreditExpiry, error)
}
