package repository

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	balancedomain "github.com/smallbiznis/tally/internal/balance/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() balancedomain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, b *balancedomain.CreditBalance) error {
	return db.WithContext(ctx).Create(b).Error
}

func (r *repo) Find(ctx context.Context, db *gorm.DB, orgID snowflake.ID, entityType string, entityID snowflake.ID) (*balancedomain.CreditBalance, error) {
	var balance balancedomain.CreditBalance
	err := db.WithContext(ctx).
		Where("org_id = ? AND entity_type = ? AND entity_id = ?", orgID, entityType, entityID).
		First(&balance).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &balance, nil
}

func (r *repo) FindForUpdate(ctx context.Context, db *gorm.DB, orgID snowflake.ID, entityType string, entityID snowflake.ID) (*balancedomain.CreditBalance, error) {
	var balance balancedomain.CreditBalance
	stmt := db.WithContext(ctx).
		Where("org_id = ? AND entity_type = ? AND entity_id = ?", orgID, entityType, entityID)
	if db.Dialector.Name() != "sqlite" {
		stmt = stmt.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	err := stmt.First(&balance).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &balance, nil
}

func (r *repo) UpdateAmounts(ctx context.Context, db *gorm.DB, b *balancedomain.CreditBalance) error {
	return db.WithContext(ctx).Exec(
		`UPDATE credit_balances
		 SET available_credits = ?, reserved_credits = ?, updated_at = ?
		 WHERE org_id = ? AND entity_type = ? AND entity_id = ?`,
		b.AvailableCredits,
		b.ReservedCredits,
		b.UpdatedAt,
		b.OrgID,
		b.EntityType,
		b.EntityID,
	).Error
}

func (r *repo) SetActive(ctx context.Context, db *gorm.DB, orgID snowflake.ID, entityType string, entityID snowflake.ID, active bool) error {
	result := db.WithContext(ctx).Exec(
		`UPDATE credit_balances
		 SET active = ?, updated_at = CURRENT_TIMESTAMP
		 WHERE org_id = ? AND entity_type = ? AND entity_id = ?`,
		active,
		orgID,
		entityType,
		entityID,
	)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return balancedomain.ErrNotFound
	}
	return nil
}

func (r *repo) ListByOrg(ctx context.Context, db *gorm.DB, orgID snowflake.ID) ([]balancedomain.CreditBalance, error) {
	var balances []balancedomain.CreditBalance
	err := db.WithContext(ctx).
		Where("org_id = ?", orgID).
		Order("created_at ASC").
		Find(&balances).Error
	if err != nil {
		return nil, err
	}
	return balances, nil
}
