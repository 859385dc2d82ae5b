package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	balancedomain "github.com/smallbiznis/tally/internal/balance/domain"
	"github.com/smallbiznis/tally/internal/cache"
	obsmetrics "github.com/smallbiznis/tally/internal/observability/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Repo       balancedomain.Repository
	Cache      cache.BalanceCache
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	repo       balancedomain.Repository
	cache      cache.BalanceCache
	obsMetrics *obsmetrics.Metrics
}

func NewService(p Params) balancedomain.Service {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("balance.service"),
		genID:      p.GenID,
		repo:       p.Repo,
		cache:      p.Cache,
		obsMetrics: p.ObsMetrics,
	}
}

// GetBalance serves reads through the cache. A missing row is reported as a
// synthetic zero balance so "never funded" and "fully spent" look the same
// to callers.
func (s *Service) GetBalance(ctx context.Context, orgID snowflake.ID, entityType string, entityID snowflake.ID) (balancedomain.Balance, error) {
	entityType = strings.ToLower(strings.TrimSpace(entityType))
	if orgID == 0 {
		return balancedomain.Balance{}, balancedomain.ErrInvalidOrganization
	}
	if entityType == "" || entityID == 0 {
		return balancedomain.Balance{}, balancedomain.ErrInvalidEntity
	}

	key := cache.BalanceKey(orgID, entityType, entityID)
	if cached, ok := s.cache.Get(ctx, key); ok {
		s.obsMetrics.RecordCacheLookup(ctx, true)
		return cached, nil
	}
	s.obsMetrics.RecordCacheLookup(ctx, false)

	row, err := s.repo.Find(ctx, s.db, orgID, entityType, entityID)
	if err != nil {
		return balancedomain.Balance{}, err
	}
	if row == nil {
		return balancedomain.ZeroBalance(orgID, entityType, entityID), nil
	}

	read := row.Read()
	s.cache.Set(ctx, key, read)
	return read, nil
}

// ApplyDelta mutates the balance inside the caller's transaction. The row is
// re-read under lock so concurrent mutations cannot produce a lost update.
// The cache is left alone: invalidating before the commit would let a
// concurrent read re-cache the old balance. Callers invalidate after the
// transaction returns.
func (s *Service) ApplyDelta(ctx context.Context, tx *gorm.DB, orgID snowflake.ID, entityType string, entityID snowflake.ID, delta decimal.Decimal) (balancedomain.Balance, error) {
	entityType = strings.ToLower(strings.TrimSpace(entityType))
	if orgID == 0 {
		return balancedomain.Balance{}, balancedomain.ErrInvalidOrganization
	}
	if entityType == "" || entityID == 0 {
		return balancedomain.Balance{}, balancedomain.ErrInvalidEntity
	}
	if delta.IsZero() {
		return balancedomain.Balance{}, balancedomain.ErrInvalidAmount
	}

	row, err := s.repo.FindForUpdate(ctx, tx, orgID, entityType, entityID)
	if err != nil {
		return balancedomain.Balance{}, err
	}

	now := time.Now().UTC()
	if row == nil {
		if delta.IsNegative() {
			return balancedomain.Balance{}, balancedomain.ErrInsufficientCredits
		}
		row = &balancedomain.CreditBalance{
			ID:               s.genID.Generate(),
			OrgID:            orgID,
			EntityType:       entityType,
			EntityID:         entityID,
			AvailableCredits: delta,
			ReservedCredits:  decimal.Zero,
			Active:           true,
			CreatedAt:        now,
			UpdatedAt:        now,
		}
		if err := s.repo.Insert(ctx, tx, row); err != nil {
			return balancedomain.Balance{}, err
		}
		return row.Read(), nil
	}

	if !row.Active {
		return balancedomain.Balance{}, balancedomain.ErrEntityInactive
	}

	next := row.AvailableCredits.Add(delta)
	if next.IsNegative() {
		return balancedomain.Balance{}, balancedomain.ErrInsufficientCredits
	}

	row.AvailableCredits = next
	row.UpdatedAt = now
	if err := s.repo.UpdateAmounts(ctx, tx, row); err != nil {
		return balancedomain.Balance{}, err
	}
	return row.Read(), nil
}

func (s *Service) Deactivate(ctx context.Context, orgID snowflake.ID, entityType string, entityID snowflake.ID) error {
	entityType = strings.ToLower(strings.TrimSpace(entityType))
	if orgID == 0 {
		return balancedomain.ErrInvalidOrganization
	}
	if entityType == "" || entityID == 0 {
		return balancedomain.ErrInvalidEntity
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return s.repo.SetActive(ctx, tx, orgID, entityType, entityID, false)
	})
	if err != nil {
		return err
	}
	s.InvalidateCache(ctx, orgID, entityType, entityID)
	return nil
}

func (s *Service) InvalidateCache(ctx context.Context, orgID snowflake.ID, entityType string, entityID snowflake.ID) {
	entityType = strings.ToLower(strings.TrimSpace(entityType))
	s.cache.Invalidate(ctx, cache.BalanceKey(orgID, entityType, entityID))
}
