package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	expirydomain "github.com/smallbiznis/tally/internal/expiry/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() expirydomain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, conn *gorm.DB, row *expirydomain.CreditExpiry) error {
	return conn.WithContext(ctx).Create(row).Error
}

func (r *repo) FindDue(ctx context.Context, conn *gorm.DB, now time.Time, limit int) ([]expirydomain.CreditExpiry, error) {
	var rows []expirydomain.CreditExpiry
	err := conn.WithContext(ctx).
		Where("processed_at IS NULL AND expires_at <= ?", now.UTC()).
		Order("expires_at ASC, id ASC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *repo) MarkProcessed(ctx context.Context, conn *gorm.DB, id snowflake.ID, at time.Time) (bool, error) {
	result := conn.WithContext(ctx).
		Model(&expirydomain.CreditExpiry{}).
		Where("id = ? AND processed_at IS NULL", id).
		Update("processed_at", at.UTC())
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *repo) FindExpiringUnwarned(ctx context.Context, conn *gorm.DB, now, until time.Time, limit int) ([]expirydomain.CreditExpiry, error) {
	var rows []expirydomain.CreditExpiry
	err := conn.WithContext(ctx).
		Where("processed_at IS NULL AND warned_at IS NULL AND expires_at > ? AND expires_at <= ?", now.UTC(), until.UTC()).
		Order("expires_at ASC, id ASC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *repo) MarkWarned(ctx context.Context, conn *gorm.DB, id snowflake.ID, at time.Time) error {
	return conn.WithContext(ctx).
		Model(&expirydomain.CreditExpiry{}).
		Where("id = ?", id).
		Update("warned_at", at.UTC()).Error
}

func (r *repo) ListUpcoming(ctx context.Context, conn *gorm.DB, orgID snowflake.ID, entityType string, entityID snowflake.ID, until time.Time) ([]expirydomain.CreditExpiry, error) {
	query := conn.WithContext(ctx).
		Where("org_id = ? AND processed_at IS NULL AND expires_at <= ?", orgID, until.UTC())
	if entityType != "" {
		query = query.Where("entity_type = ? AND entity_id = ?", entityType, entityID)
	}

	var rows []expirydomain.CreditExpiry
	err := query.
		Order("expires_at ASC, id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}
