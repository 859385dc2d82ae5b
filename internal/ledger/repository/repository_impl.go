package repository

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	ledgerdomain "github.com/smallbiznis/tally/internal/ledger/domain"
	"github.com/smallbiznis/tally/pkg/db"
	"github.com/smallbiznis/tally/pkg/db/pagination"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() ledgerdomain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, tx *gorm.DB, entry *ledgerdomain.CreditTransaction) (bool, error) {
	if entry.OperationID != nil {
		result := tx.WithContext(ctx).Clauses(clause.OnConflict{
			Columns: []clause.Column{
				{Name: "org_id"},
				{Name: "entity_type"},
				{Name: "entity_id"},
				{Name: "operation_id"},
			},
			DoNothing: true,
		}).Create(entry)
		if result.Error != nil {
			if db.IsDuplicateKeyErr(result.Error) {
				return false, nil
			}
			return false, result.Error
		}
		return result.RowsAffected > 0, nil
	}

	if err := tx.WithContext(ctx).Create(entry).Error; err != nil {
		return false, err
	}
	return true, nil
}

func (r *repo) FindByOperationID(ctx context.Context, conn *gorm.DB, orgID snowflake.ID, entityType string, entityID snowflake.ID, operationID string) (*ledgerdomain.CreditTransaction, error) {
	var entry ledgerdomain.CreditTransaction
	err := conn.WithContext(ctx).
		Where("org_id = ? AND entity_type = ? AND entity_id = ? AND operation_id = ?", orgID, entityType, entityID, operationID).
		First(&entry).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &entry, nil
}

func (r *repo) ListByCorrelationID(ctx context.Context, conn *gorm.DB, orgID snowflake.ID, correlationID string) ([]ledgerdomain.CreditTransaction, error) {
	var entries []ledgerdomain.CreditTransaction
	err := conn.WithContext(ctx).
		Where("org_id = ? AND correlation_id = ?", orgID, correlationID).
		Order("id ASC").
		Find(&entries).Error
	if err != nil {
		return nil, err
	}
	return entries, nil
}

func (r *repo) List(ctx context.Context, conn *gorm.DB, orgID snowflake.ID, filter ledgerdomain.HistoryFilter, page pagination.Pagination) ([]ledgerdomain.CreditTransaction, int64, error) {
	page = page.Normalize()

	stmt := conn.WithContext(ctx).Model(&ledgerdomain.CreditTransaction{}).Where("org_id = ?", orgID)
	if filter.Type != "" {
		stmt = stmt.Where("type = ?", filter.Type)
	}
	if filter.EntityType != "" {
		stmt = stmt.Where("entity_type = ?", filter.EntityType)
	}
	if filter.EntityID != 0 {
		stmt = stmt.Where("entity_id = ?", filter.EntityID)
	}
	if filter.StartDate != nil {
		stmt = stmt.Where("created_at >= ?", filter.StartDate.UTC())
	}
	if filter.EndDate != nil {
		stmt = stmt.Where("created_at <= ?", filter.EndDate.UTC())
	}

	var total int64
	if err := stmt.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var entries []ledgerdomain.CreditTransaction
	err := stmt.
		Order("created_at DESC, id DESC").
		Limit(page.Limit).
		Offset(page.Offset()).
		Find(&entries).Error
	if err != nil {
		return nil, 0, err
	}
	return entries, total, nil
}

func (r *repo) SumUnitsSince(ctx context.Context, conn *gorm.DB, orgID snowflake.ID, entityType string, entityID snowflake.ID, operationCode string, since time.Time) (decimal.Decimal, error) {
	var raw struct {
		Total decimal.Decimal
	}
	err := conn.WithContext(ctx).Raw(
		`SELECT COALESCE(SUM(units), 0) AS total
		 FROM credit_transactions
		 WHERE org_id = ? AND entity_type = ? AND entity_id = ?
		   AND type = ? AND operation_code = ? AND created_at >= ?`,
		orgID,
		entityType,
		entityID,
		ledgerdomain.TypeConsumption,
		operationCode,
		since.UTC(),
	).Scan(&raw).Error
	if err != nil {
		return decimal.Zero, err
	}
	return raw.Total, nil
}
