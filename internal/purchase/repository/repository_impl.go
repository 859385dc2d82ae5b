package repository

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	purchasedomain "github.com/smallbiznis/tally/internal/purchase/domain"
	"github.com/smallbiznis/tally/pkg/db/pagination"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() purchasedomain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, conn *gorm.DB, row *purchasedomain.CreditPurchase) error {
	return conn.WithContext(ctx).Create(row).Error
}

func (r *repo) FindByReference(ctx context.Context, conn *gorm.DB, orgID snowflake.ID, reference string) (*purchasedomain.CreditPurchase, error) {
	var row purchasedomain.CreditPurchase
	err := conn.WithContext(ctx).
		Where("org_id = ? AND reference = ?", orgID, reference).
		First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &row, nil
}

func (r *repo) Settle(ctx context.Context, conn *gorm.DB, id snowflake.ID, status purchasedomain.PurchaseStatus, paymentReference, failureReason string, at time.Time) (bool, error) {
	updates := map[string]interface{}{
		"status":     status,
		"updated_at": at.UTC(),
	}
	if status == purchasedomain.StatusCompleted {
		updates["payment_reference"] = paymentReference
		updates["completed_at"] = at.UTC()
	}
	if status == purchasedomain.StatusFailed {
		updates["failure_reason"] = failureReason
	}

	result := conn.WithContext(ctx).
		Model(&purchasedomain.CreditPurchase{}).
		Where("id = ? AND status = ?", id, purchasedomain.StatusPending).
		Updates(updates)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *repo) List(ctx context.Context, conn *gorm.DB, orgID snowflake.ID, filter purchasedomain.ListFilter, page pagination.Pagination) ([]purchasedomain.CreditPurchase, int64, error) {
	page = page.Normalize()

	stmt := conn.WithContext(ctx).Model(&purchasedomain.CreditPurchase{}).Where("org_id = ?", orgID)
	if filter.Status != "" {
		stmt = stmt.Where("status = ?", filter.Status)
	}
	if filter.EntityType != "" {
		stmt = stmt.Where("entity_type = ?", filter.EntityType)
	}
	if filter.EntityID != 0 {
		stmt = stmt.Where("entity_id = ?", filter.EntityID)
	}

	var total int64
	if err := stmt.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var rows []purchasedomain.CreditPurchase
	err := stmt.
		Order("created_at DESC, id DESC").
		Limit(page.Limit).
		Offset(page.Offset()).
		Find(&rows).Error
	if err != nil {
		return nil, 0, err
	}
	return rows, total, nil
}
