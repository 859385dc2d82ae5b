package repository

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	configdomain "github.com/smallbiznis/tally/internal/creditconfig/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() configdomain.Repository {
	return &repo{}
}

func (r *repo) FindActive(ctx context.Context, db *gorm.DB, scope configdomain.Scope, orgID *snowflake.ID, level configdomain.Level, code string) (*configdomain.CreditConfig, error) {
	stmt := db.WithContext(ctx).
		Where("scope = ? AND level = ? AND code = ? AND active = ?", scope, level, code, true)
	if orgID != nil {
		stmt = stmt.Where("org_id = ?", *orgID)
	} else {
		stmt = stmt.Where("org_id IS NULL")
	}

	var cfg configdomain.CreditConfig
	err := stmt.Order("priority DESC, created_at DESC").First(&cfg).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &cfg, nil
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, cfg *configdomain.CreditConfig) error {
	return db.WithContext(ctx).Create(cfg).Error
}

func (r *repo) DeactivateActive(ctx context.Context, db *gorm.DB, scope configdomain.Scope, orgID *snowflake.ID, level configdomain.Level, code string) error {
	stmt := db.WithContext(ctx).Model(&configdomain.CreditConfig{}).
		Where("scope = ? AND level = ? AND code = ? AND active = ?", scope, level, code, true)
	if orgID != nil {
		stmt = stmt.Where("org_id = ?", *orgID)
	} else {
		stmt = stmt.Where("org_id IS NULL")
	}
	return stmt.Update("active", false).Error
}

func (r *repo) List(ctx context.Context, db *gorm.DB, scope configdomain.Scope, orgID *snowflake.ID, level configdomain.Level) ([]configdomain.CreditConfig, error) {
	stmt := db.WithContext(ctx).
		Where("scope = ? AND level = ? AND active = ?", scope, level, true)
	if orgID != nil {
		stmt = stmt.Where("org_id = ?", *orgID)
	} else {
		stmt = stmt.Where("org_id IS NULL")
	}

	var configs []configdomain.CreditConfig
	if err := stmt.Order("code ASC").Find(&configs).Error; err != nil {
		return nil, err
	}
	return configs, nil
}
