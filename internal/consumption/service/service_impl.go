package service

import (
	"context"
	"errors"
	"strings"

	"github.com/shopspring/decimal"
	balancedomain "github.com/smallbiznis/tally/internal/balance/domain"
	"github.com/smallbiznis/tally/internal/clock"
	"github.com/smallbiznis/tally/internal/consumption/domain"
	configdomain "github.com/smallbiznis/tally/internal/creditconfig/domain"
	configservice "github.com/smallbiznis/tally/internal/creditconfig/service"
	ledgerdomain "github.com/smallbiznis/tally/internal/ledger/domain"
	"github.com/smallbiznis/tally/internal/observability/metrics"
	"github.com/smallbiznis/tally/pkg/db"
	"github.com/smallbiznis/tally/pkg/tenantctx"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// maxRetries bounds re-runs of the charge transaction on serialization
// failures under concurrent load.
const maxRetries = 3

// errDuplicateOperation aborts the charge transaction when another request
// with the same operation ID won the insert race.
var errDuplicateOperation = errors.New("duplicate_operation")

type Params struct {
	fx.In

	DB          *gorm.DB
	Log         *zap.Logger
	Clock       clock.Clock
	Resolver    configdomain.Resolver
	BalanceSvc  balancedomain.Service
	BalanceRepo balancedomain.Repository
	LedgerSvc   ledgerdomain.Service
	LedgerRepo  ledgerdomain.Repository
	ObsMetrics  *metrics.Metrics `optional:"true"`
}

type Service struct {
	db          *gorm.DB
	log         *zap.Logger
	clock       clock.Clock
	resolver    configdomain.Resolver
	balanceSvc  balancedomain.Service
	balanceRepo balancedomain.Repository
	ledgerSvc   ledgerdomain.Service
	ledgerRepo  ledgerdomain.Repository
	obsMetrics  *metrics.Metrics
}

func NewService(p Params) domain.Service {
	return &Service{
		db:          p.DB,
		log:         p.Log.Named("consumption.service"),
		clock:       p.Clock,
		resolver:    p.Resolver,
		balanceSvc:  p.BalanceSvc,
		balanceRepo: p.BalanceRepo,
		ledgerSvc:   p.LedgerSvc,
		ledgerRepo:  p.LedgerRepo,
		obsMetrics:  p.ObsMetrics,
	}
}

// Consume resolves the price for the operation, charges the entity and
// appends the ledger row, all in one transaction. A request that carries an
// operation ID already recorded replays the original outcome without
// charging again.
func (s *Service) Consume(ctx context.Context, req domain.ConsumeRequest) (*domain.ConsumeResult, error) {
	if err := normalizeRequest(ctx, &req); err != nil {
		return nil, err
	}

	if req.OperationID != "" {
		prior, err := s.ledgerSvc.FindByOperationID(ctx, req.OrgID, req.EntityType, req.EntityID, req.OperationID)
		if err != nil {
			return nil, err
		}
		if prior != nil {
			s.obsMetrics.RecordConsume(ctx, "replayed")
			return replayResult(prior), nil
		}
	}

	cfg, err := s.resolver.ResolveOperation(ctx, req.OperationCode, req.OrgID)
	if err != nil {
		return nil, err
	}

	var result *domain.ConsumeResult
	for attempt := 0; attempt < maxRetries; attempt++ {
		result, err = s.consumeOnce(ctx, req, cfg)
		if err == nil || !db.IsSerializationErr(err) {
			break
		}
		s.log.Debug("retrying consume after serialization failure",
			zap.Int("attempt", attempt+1),
			zap.String("operation_code", req.OperationCode),
		)
	}

	if errors.Is(err, errDuplicateOperation) {
		// Lost the insert race after the upfront check; replay the winner.
		prior, findErr := s.ledgerSvc.FindByOperationID(ctx, req.OrgID, req.EntityType, req.EntityID, req.OperationID)
		if findErr != nil {
			return nil, findErr
		}
		if prior == nil {
			return nil, domain.ErrConflict
		}
		s.obsMetrics.RecordConsume(ctx, "replayed")
		return replayResult(prior), nil
	}
	if err != nil {
		var insufficient *domain.InsufficientCreditsError
		if errors.As(err, &insufficient) {
			s.obsMetrics.RecordConsume(ctx, "insufficient")
		} else {
			s.obsMetrics.RecordConsume(ctx, "error")
		}
		return nil, err
	}

	s.obsMetrics.RecordConsume(ctx, "charged")
	if req.RequestedCost != nil && !req.RequestedCost.Equal(result.Charged) {
		result.CostMismatch = true
		s.log.Warn("requested cost does not match resolved cost",
			zap.String("operation_code", req.OperationCode),
			zap.String("requested", req.RequestedCost.String()),
			zap.String("charged", result.Charged.String()),
		)
	}
	return result, nil
}

func (s *Service) consumeOnce(ctx context.Context, req domain.ConsumeRequest, cfg configdomain.EffectiveConfig) (*domain.ConsumeResult, error) {
	var result *domain.ConsumeResult

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		used, err := s.usedThisPeriod(ctx, tx, req, cfg)
		if err != nil {
			return err
		}

		charge, err := configdomain.ChargeFor(cfg, req.Units, used)
		if err != nil {
			return err
		}

		var available decimal.Decimal
		if charge.Cost.Sign() > 0 {
			bal, err := s.balanceSvc.ApplyDelta(ctx, tx, req.OrgID, req.EntityType, req.EntityID, charge.Cost.Neg())
			if err != nil {
				if errors.Is(err, balancedomain.ErrInsufficientCredits) {
					return s.insufficientErr(ctx, tx, req, charge.Cost)
				}
				return err
			}
			available = bal.AvailableCredits
		} else {
			row, err := s.balanceRepo.Find(ctx, tx, req.OrgID, req.EntityType, req.EntityID)
			if err != nil {
				return err
			}
			if row != nil && !row.Active {
				return balancedomain.ErrEntityInactive
			}
			if row != nil {
				available = row.AvailableCredits
			}
		}

		entry := &ledgerdomain.CreditTransaction{
			OrgID:           req.OrgID,
			EntityType:      req.EntityType,
			EntityID:        req.EntityID,
			Type:            ledgerdomain.TypeConsumption,
			Amount:          charge.Cost,
			Units:           req.Units,
			PreviousBalance: available.Add(charge.Cost),
			NewBalance:      available,
			OperationCode:   &req.OperationCode,
			Description:     description(req),
		}
		if req.OperationID != "" {
			opID := req.OperationID
			entry.OperationID = &opID
		}
		if req.InitiatedBy != 0 {
			actor := req.InitiatedBy
			entry.InitiatedBy = &actor
		}
		if len(req.Metadata) > 0 {
			entry.Metadata = datatypes.JSONMap(req.Metadata)
		}

		inserted, err := s.ledgerSvc.Append(ctx, tx, entry)
		if err != nil {
			return err
		}
		if !inserted {
			return errDuplicateOperation
		}

		result = &domain.ConsumeResult{
			TransactionID:    &entry.ID,
			Charged:          charge.Cost,
			Units:            req.Units,
			FreeUnits:        charge.FreeUnits,
			BilledUnits:      charge.BilledUnits,
			OverageUnits:     charge.OverageUnits,
			RemainingCredits: available,
			Source:           cfg.Source,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if result.Charged.Sign() > 0 {
		s.balanceSvc.InvalidateCache(ctx, req.OrgID, req.EntityType, req.EntityID)
	}
	return result, nil
}

func description(req domain.ConsumeRequest) string {
	if req.Description != "" {
		return req.Description
	}
	return "credit consumption"
}

// Check quotes the operation without charging. The quote can go stale the
// moment it is returned; only Consume is authoritative.
func (s *Service) Check(ctx context.Context, req domain.ConsumeRequest) (*domain.CheckResult, error) {
	if err := normalizeRequest(ctx, &req); err != nil {
		return nil, err
	}

	cfg, err := s.resolver.ResolveOperation(ctx, req.OperationCode, req.OrgID)
	if err != nil {
		return nil, err
	}

	used, err := s.usedThisPeriod(ctx, s.db, req, cfg)
	if err != nil {
		return nil, err
	}

	charge, err := configdomain.ChargeFor(cfg, req.Units, used)
	if err != nil {
		if errors.Is(err, configdomain.ErrOverageNotAllowed) || errors.Is(err, configdomain.ErrOverageLimitExceeded) {
			return &domain.CheckResult{Affordable: false, Source: cfg.Source}, nil
		}
		return nil, err
	}

	bal, err := s.balanceSvc.GetBalance(ctx, req.OrgID, req.EntityType, req.EntityID)
	if err != nil {
		return nil, err
	}

	check := &domain.CheckResult{
		Affordable:       true,
		Cost:             charge.Cost,
		FreeUnits:        charge.FreeUnits,
		AvailableCredits: bal.AvailableCredits,
		Shortfall:        decimal.Zero,
		Source:           cfg.Source,
	}
	if bal.AvailableCredits.LessThan(charge.Cost) {
		check.Affordable = false
		check.Shortfall = charge.Cost.Sub(bal.AvailableCredits)
	}
	return check, nil
}

// usedThisPeriod totals consumed units for the code in the current
// allowance period. Skipped when no policy depends on period usage.
func (s *Service) usedThisPeriod(ctx context.Context, tx *gorm.DB, req domain.ConsumeRequest, cfg configdomain.EffectiveConfig) (decimal.Decimal, error) {
	if cfg.FreeAllowance.Sign() <= 0 && len(cfg.VolumeTiers) == 0 {
		return decimal.Zero, nil
	}
	period := cfg.FreeAllowancePeriod
	if period == "" {
		period = configdomain.PeriodMonthly
	}
	since := period.PeriodStart(s.clock.Now())
	return s.ledgerRepo.SumUnitsSince(ctx, tx, req.OrgID, req.EntityType, req.EntityID, req.OperationCode, since)
}

func (s *Service) insufficientErr(ctx context.Context, tx *gorm.DB, req domain.ConsumeRequest, required decimal.Decimal) error {
	available := decimal.Zero
	if row, err := s.balanceRepo.Find(ctx, tx, req.OrgID, req.EntityType, req.EntityID); err == nil && row != nil {
		available = row.AvailableCredits
	}
	return &domain.InsufficientCreditsError{
		Required:  required,
		Available: available,
		Shortfall: required.Sub(available),
	}
}

func normalizeRequest(ctx context.Context, req *domain.ConsumeRequest) error {
	if req.OrgID == 0 {
		if orgID, ok := tenantctx.OrgIDFromContext(ctx); ok {
			req.OrgID = orgID
		}
	}
	if req.OrgID == 0 {
		return domain.ErrInvalidOrganization
	}
	req.EntityType = strings.ToLower(strings.TrimSpace(req.EntityType))
	if req.EntityType == "" || req.EntityID == 0 {
		return domain.ErrInvalidEntity
	}
	req.OperationCode = configservice.NormalizeCode(req.OperationCode)
	if req.OperationCode == "" {
		return domain.ErrInvalidOperation
	}
	req.Description = strings.TrimSpace(req.Description)
	if req.Units.IsZero() {
		req.Units = decimal.NewFromInt(1)
	}
	if req.Units.Sign() < 0 {
		return domain.ErrInvalidUnits
	}
	return nil
}

func replayResult(prior *ledgerdomain.CreditTransaction) *domain.ConsumeResult {
	return &domain.ConsumeResult{
		TransactionID:    &prior.ID,
		Charged:          prior.Amount,
		Units:            prior.Units,
		RemainingCredits: prior.NewBalance,
		Replayed:         true,
	}
}
