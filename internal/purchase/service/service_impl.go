package service

import (
	"context"
	"crypto/rand"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/oklog/ulid/v2"
	balancedomain "github.com/smallbiznis/tally/internal/balance/domain"
	"github.com/smallbiznis/tally/internal/clock"
	expirydomain "github.com/smallbiznis/tally/internal/expiry/domain"
	ledgerdomain "github.com/smallbiznis/tally/internal/ledger/domain"
	"github.com/smallbiznis/tally/internal/purchase/domain"
	"github.com/smallbiznis/tally/pkg/db/pagination"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Clock      clock.Clock
	Repo       domain.Repository
	BalanceSvc balancedomain.Service
	LedgerSvc  ledgerdomain.Service
	ExpirySvc  expirydomain.Service
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	clock      clock.Clock
	repo       domain.Repository
	balanceSvc balancedomain.Service
	ledgerSvc  ledgerdomain.Service
	expirySvc  expirydomain.Service
}

func NewService(p Params) domain.Service {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("purchase.service"),
		genID:      p.GenID,
		clock:      p.Clock,
		repo:       p.Repo,
		balanceSvc: p.BalanceSvc,
		ledgerSvc:  p.LedgerSvc,
		expirySvc:  p.ExpirySvc,
	}
}

// PurchaseCredits opens a pending order. Nothing is credited until the
// payment confirms.
func (s *Service) PurchaseCredits(ctx context.Context, req domain.PurchaseRequest) (*domain.CreditPurchase, error) {
	if req.OrgID == 0 {
		return nil, domain.ErrInvalidOrganization
	}
	req.EntityType = strings.ToLower(strings.TrimSpace(req.EntityType))
	if req.EntityType == "" || req.EntityID == 0 {
		return nil, domain.ErrInvalidEntity
	}
	if req.Credits.Sign() <= 0 {
		return nil, domain.ErrInvalidAmount
	}
	if req.ExpiresInDays < 0 {
		return nil, domain.ErrInvalidAmount
	}

	now := s.clock.Now()
	row := &domain.CreditPurchase{
		ID:            s.genID.Generate(),
		Reference:     ulid.MustNew(ulid.Timestamp(now), rand.Reader).String(),
		OrgID:         req.OrgID,
		EntityType:    req.EntityType,
		EntityID:      req.EntityID,
		Credits:       req.Credits,
		Status:        domain.StatusPending,
		ExpiresInDays: req.ExpiresInDays,
		NotifyEmail:   req.NotifyEmail,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if req.RequestedBy != 0 {
		actor := req.RequestedBy
		row.RequestedBy = &actor
	}

	if err := s.repo.Insert(ctx, s.db, row); err != nil {
		return nil, err
	}

	s.log.Info("credit purchase opened",
		zap.String("reference", row.Reference),
		zap.String("credits", row.Credits.String()),
	)
	return row, nil
}

// ConfirmPayment allocates the purchased credits. The pending-to-completed
// transition is claimed with a guarded update, so a double confirmation
// allocates exactly once and replays the settled purchase.
func (s *Service) ConfirmPayment(ctx context.Context, orgID snowflake.ID, reference, paymentReference string) (*domain.CreditPurchase, error) {
	row, err := s.mustFind(ctx, orgID, reference)
	if err != nil {
		return nil, err
	}
	if row.Status == domain.StatusCompleted {
		return row, nil
	}
	if row.Status == domain.StatusFailed {
		return nil, domain.ErrAlreadySettled
	}

	now := s.clock.Now()
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		claimed, err := s.repo.Settle(ctx, tx, row.ID, domain.StatusCompleted, paymentReference, "", now)
		if err != nil {
			return err
		}
		if !claimed {
			return domain.ErrAlreadySettled
		}

		bal, err := s.balanceSvc.ApplyDelta(ctx, tx, row.OrgID, row.EntityType, row.EntityID, row.Credits)
		if err != nil {
			return err
		}

		opID := "purchase:" + row.Reference
		entry := &ledgerdomain.CreditTransaction{
			OrgID:           row.OrgID,
			EntityType:      row.EntityType,
			EntityID:        row.EntityID,
			Type:            ledgerdomain.TypeAllocation,
			Amount:          row.Credits,
			Units:           row.Credits,
			PreviousBalance: bal.AvailableCredits.Sub(row.Credits),
			NewBalance:      bal.AvailableCredits,
			OperationID:     &opID,
			InitiatedBy:     row.RequestedBy,
			Description:     "credit purchase",
			Metadata: datatypes.JSONMap{
				"purchase_reference": row.Reference,
				"payment_reference":  paymentReference,
			},
		}
		if _, err := s.ledgerSvc.Append(ctx, tx, entry); err != nil {
			return err
		}

		if row.ExpiresInDays > 0 {
			transID := entry.ID
			_, err := s.expirySvc.Schedule(ctx, tx, expirydomain.ScheduleRequest{
				OrgID:         row.OrgID,
				EntityType:    row.EntityType,
				EntityID:      row.EntityID,
				Amount:        row.Credits,
				ExpiresAt:     now.AddDate(0, 0, row.ExpiresInDays),
				SourceTransID: &transID,
				NotifyEmail:   row.NotifyEmail,
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		// A concurrent confirmation may have settled it first.
		if err == domain.ErrAlreadySettled {
			settled, findErr := s.mustFind(ctx, orgID, reference)
			if findErr == nil && settled.Status == domain.StatusCompleted {
				return settled, nil
			}
		}
		return nil, err
	}
	s.balanceSvc.InvalidateCache(ctx, row.OrgID, row.EntityType, row.EntityID)

	s.log.Info("credit purchase confirmed",
		zap.String("reference", row.Reference),
		zap.String("credits", row.Credits.String()),
	)
	return s.mustFind(ctx, orgID, reference)
}

func (s *Service) FailPayment(ctx context.Context, orgID snowflake.ID, reference, reason string) (*domain.CreditPurchase, error) {
	row, err := s.mustFind(ctx, orgID, reference)
	if err != nil {
		return nil, err
	}
	if row.Status == domain.StatusFailed {
		return row, nil
	}
	if row.Status == domain.StatusCompleted {
		return nil, domain.ErrAlreadySettled
	}

	claimed, err := s.repo.Settle(ctx, s.db, row.ID, domain.StatusFailed, "", reason, s.clock.Now())
	if err != nil {
		return nil, err
	}
	if !claimed {
		return nil, domain.ErrAlreadySettled
	}
	return s.mustFind(ctx, orgID, reference)
}

func (s *Service) GetPurchase(ctx context.Context, orgID snowflake.ID, reference string) (*domain.CreditPurchase, error) {
	return s.mustFind(ctx, orgID, reference)
}

func (s *Service) ListPurchases(ctx context.Context, orgID snowflake.ID, filter domain.ListFilter, page pagination.Pagination) (*domain.PurchaseList, error) {
	if orgID == 0 {
		return nil, domain.ErrInvalidOrganization
	}
	page = page.Normalize()
	rows, total, err := s.repo.List(ctx, s.db, orgID, filter, page)
	if err != nil {
		return nil, err
	}
	return &domain.PurchaseList{
		Purchases: rows,
		PageInfo:  pagination.BuildPageInfo(page, total),
	}, nil
}

func (s *Service) mustFind(ctx context.Context, orgID snowflake.ID, reference string) (*domain.CreditPurchase, error) {
	if orgID == 0 {
		return nil, domain.ErrInvalidOrganization
	}
	if strings.TrimSpace(reference) == "" {
		return nil, domain.ErrNotFound
	}
	row, err := s.repo.FindByReference(ctx, s.db, orgID, reference)
	if err != nil {
		return nil, err
	}
	if row == nil {
		return nil, domain.ErrNotFound
	}
	return row, nil
}
