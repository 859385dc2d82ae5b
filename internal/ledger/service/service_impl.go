package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	ledgerdomain "github.com/smallbiznis/tally/internal/ledger/domain"
	obsmetrics "github.com/smallbiznis/tally/internal/observability/metrics"
	"github.com/smallbiznis/tally/pkg/db/pagination"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Repo       ledgerdomain.Repository
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	repo       ledgerdomain.Repository
	obsMetrics *obsmetrics.Metrics
}

func NewService(p Params) ledgerdomain.Service {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("ledger.service"),
		genID:      p.GenID,
		repo:       p.Repo,
		obsMetrics: p.ObsMetrics,
	}
}

// Append validates and writes one ledger row inside the caller's
// transaction. Rows are immutable once written; there is no update path.
func (s *Service) Append(ctx context.Context, tx *gorm.DB, entry *ledgerdomain.CreditTransaction) (bool, error) {
	if entry == nil {
		return false, ledgerdomain.ErrInvalidAmount
	}
	if entry.OrgID == 0 {
		return false, ledgerdomain.ErrInvalidOrganization
	}
	entry.EntityType = strings.ToLower(strings.TrimSpace(entry.EntityType))
	if entry.EntityType == "" || entry.EntityID == 0 {
		return false, ledgerdomain.ErrInvalidEntity
	}
	if err := entry.ValidateSnapshot(); err != nil {
		return false, err
	}
	if entry.ID == 0 {
		entry.ID = s.genID.Generate()
	}

	inserted, err := s.repo.Insert(ctx, tx, entry)
	if err != nil {
		return false, err
	}
	if inserted {
		s.obsMetrics.RecordLedgerEntry(ctx, string(entry.Type))
	}
	return inserted, nil
}

func (s *Service) FindByOperationID(ctx context.Context, orgID snowflake.ID, entityType string, entityID snowflake.ID, operationID string) (*ledgerdomain.CreditTransaction, error) {
	operationID = strings.TrimSpace(operationID)
	if operationID == "" {
		return nil, nil
	}
	return s.repo.FindByOperationID(ctx, s.db, orgID, strings.ToLower(strings.TrimSpace(entityType)), entityID, operationID)
}

func (s *Service) GetHistory(ctx context.Context, orgID snowflake.ID, filter ledgerdomain.HistoryFilter, page pagination.Pagination) (*ledgerdomain.History, error) {
	if orgID == 0 {
		return nil, ledgerdomain.ErrInvalidOrganization
	}
	if filter.Type != "" && !filter.Type.Valid() {
		return nil, ledgerdomain.ErrInvalidType
	}

	page = page.Normalize()
	entries, total, err := s.repo.List(ctx, s.db, orgID, filter, page)
	if err != nil {
		return nil, err
	}
	return &ledgerdomain.History{
		Transactions: entries,
		PageInfo:     pagination.BuildPageInfo(page, total),
	}, nil
}
