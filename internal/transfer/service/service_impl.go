package service

import (
	"context"
	"errors"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/google/uuid"
	balancedomain "github.com/smallbiznis/tally/internal/balance/domain"
	ledgerdomain "github.com/smallbiznis/tally/internal/ledger/domain"
	"github.com/smallbiznis/tally/internal/observability/metrics"
	"github.com/smallbiznis/tally/internal/transfer/domain"
	"github.com/smallbiznis/tally/pkg/db"
	"github.com/smallbiznis/tally/pkg/tenantctx"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const maxRetries = 3

var errDuplicateOperation = errors.New("duplicate_operation")

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	BalanceSvc balancedomain.Service
	LedgerSvc  ledgerdomain.Service
	LedgerRepo ledgerdomain.Repository
	ObsMetrics *metrics.Metrics `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	balanceSvc balancedomain.Service
	ledgerSvc  ledgerdomain.Service
	ledgerRepo ledgerdomain.Repository
	obsMetrics *metrics.Metrics
}

func NewService(p Params) domain.Service {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("transfer.service"),
		balanceSvc: p.BalanceSvc,
		ledgerSvc:  p.LedgerSvc,
		ledgerRepo: p.LedgerRepo,
		obsMetrics: p.ObsMetrics,
	}
}

// Transfer debits the source and credits the destination in one
// transaction. Both ledger rows carry the same correlation ID so the
// movement can be reconstructed from either side.
func (s *Service) Transfer(ctx context.Context, req domain.TransferRequest) (*domain.TransferResult, error) {
	if err := normalizeRequest(ctx, &req); err != nil {
		return nil, err
	}

	if req.OperationID != "" {
		prior, err := s.ledgerRepo.FindByOperationID(ctx, s.db, req.OrgID, req.FromEntityType, req.FromEntityID, req.OperationID)
		if err != nil {
			return nil, err
		}
		if prior != nil {
			return s.replay(ctx, req.OrgID, prior)
		}
	}

	var result *domain.TransferResult
	var err error
	for attempt := 0; attempt < maxRetries; attempt++ {
		result, err = s.transferOnce(ctx, req)
		if err == nil || !db.IsSerializationErr(err) {
			break
		}
		s.log.Debug("retrying transfer after serialization failure", zap.Int("attempt", attempt+1))
	}

	if errors.Is(err, errDuplicateOperation) {
		prior, findErr := s.ledgerRepo.FindByOperationID(ctx, s.db, req.OrgID, req.FromEntityType, req.FromEntityID, req.OperationID)
		if findErr != nil {
			return nil, findErr
		}
		if prior == nil {
			return nil, domain.ErrConflict
		}
		return s.replay(ctx, req.OrgID, prior)
	}
	if err != nil {
		if errors.Is(err, balancedomain.ErrInsufficientCredits) {
			s.obsMetrics.RecordTransfer(ctx, "insufficient")
		} else {
			s.obsMetrics.RecordTransfer(ctx, "error")
		}
		return nil, err
	}

	s.obsMetrics.RecordTransfer(ctx, "completed")
	return result, nil
}

func (s *Service) transferOnce(ctx context.Context, req domain.TransferRequest) (*domain.TransferResult, error) {
	correlationID := uuid.NewString()
	var result *domain.TransferResult

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		source, err := s.balanceSvc.ApplyDelta(ctx, tx, req.OrgID, req.FromEntityType, req.FromEntityID, req.Amount.Neg())
		if err != nil {
			return err
		}
		dest, err := s.balanceSvc.ApplyDelta(ctx, tx, req.OrgID, req.ToEntityType, req.ToEntityID, req.Amount)
		if err != nil {
			return err
		}

		description := req.Description
		if description == "" {
			description = "credit transfer"
		}

		debit := &ledgerdomain.CreditTransaction{
			OrgID:           req.OrgID,
			EntityType:      req.FromEntityType,
			EntityID:        req.FromEntityID,
			Type:            ledgerdomain.TypeTransferOut,
			Amount:          req.Amount,
			Units:           req.Amount,
			PreviousBalance: source.AvailableCredits.Add(req.Amount),
			NewBalance:      source.AvailableCredits,
			CorrelationID:   &correlationID,
			Description:     description,
		}
		credit := &ledgerdomain.CreditTransaction{
			OrgID:           req.OrgID,
			EntityType:      req.ToEntityType,
			EntityID:        req.ToEntityID,
			Type:            ledgerdomain.TypeTransferIn,
			Amount:          req.Amount,
			Units:           req.Amount,
			PreviousBalance: dest.AvailableCredits.Sub(req.Amount),
			NewBalance:      dest.AvailableCredits,
			CorrelationID:   &correlationID,
			Description:     description,
		}
		if req.OperationID != "" {
			opID := req.OperationID
			debit.OperationID = &opID
		}
		if req.InitiatedBy != 0 {
			actor := req.InitiatedBy
			debit.InitiatedBy = &actor
			credit.InitiatedBy = &actor
		}
		if len(req.Metadata) > 0 {
			debit.Metadata = datatypes.JSONMap(req.Metadata)
			credit.Metadata = datatypes.JSONMap(req.Metadata)
		}

		inserted, err := s.ledgerSvc.Append(ctx, tx, debit)
		if err != nil {
			return err
		}
		if !inserted {
			return errDuplicateOperation
		}
		if _, err := s.ledgerSvc.Append(ctx, tx, credit); err != nil {
			return err
		}

		result = &domain.TransferResult{
			CorrelationID:    correlationID,
			DebitID:          debit.ID,
			CreditID:         credit.ID,
			Amount:           req.Amount,
			SourceRemaining:  source.AvailableCredits,
			DestinationTotal: dest.AvailableCredits,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.balanceSvc.InvalidateCache(ctx, req.OrgID, req.FromEntityType, req.FromEntityID)
	s.balanceSvc.InvalidateCache(ctx, req.OrgID, req.ToEntityType, req.ToEntityID)
	return result, nil
}

// replay rebuilds the original result from the recorded legs.
func (s *Service) replay(ctx context.Context, orgID snowflake.ID, debit *ledgerdomain.CreditTransaction) (*domain.TransferResult, error) {
	result := &domain.TransferResult{
		Amount:          debit.Amount,
		DebitID:         debit.ID,
		SourceRemaining: debit.NewBalance,
		Replayed:        true,
	}
	if debit.CorrelationID == nil {
		return nil, domain.ErrConflict
	}
	result.CorrelationID = *debit.CorrelationID

	legs, err := s.ledgerRepo.ListByCorrelationID(ctx, s.db, orgID, *debit.CorrelationID)
	if err != nil {
		return nil, err
	}
	for _, leg := range legs {
		if leg.Type == ledgerdomain.TypeTransferIn {
			result.CreditID = leg.ID
			result.DestinationTotal = leg.NewBalance
		}
	}

	s.obsMetrics.RecordTransfer(ctx, "replayed")
	return result, nil
}

func normalizeRequest(ctx context.Context, req *domain.TransferRequest) error {
	if req.OrgID == 0 {
		if orgID, ok := tenantctx.OrgIDFromContext(ctx); ok {
			req.OrgID = orgID
		}
	}
	if req.OrgID == 0 {
		return domain.ErrInvalidOrganization
	}
	req.FromEntityType = strings.ToLower(strings.TrimSpace(req.FromEntityType))
	req.ToEntityType = strings.ToLower(strings.TrimSpace(req.ToEntityType))
	if req.FromEntityType == "" || req.FromEntityID == 0 {
		return domain.ErrInvalidEntity
	}
	if req.ToEntityType == "" || req.ToEntityID == 0 {
		return domain.ErrInvalidEntity
	}
	if req.FromEntityType == req.ToEntityType && req.FromEntityID == req.ToEntityID {
		return domain.ErrSelfTransfer
	}
	if req.Amount.Sign() <= 0 {
		return domain.ErrInvalidAmount
	}
	return nil
}
