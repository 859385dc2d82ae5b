package service

import (
	"context"
	"crypto/rand"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/oklog/ulid/v2"
	"github.com/shopspring/decimal"
	balancedomain "github.com/smallbiznis/tally/internal/balance/domain"
	"github.com/smallbiznis/tally/internal/clock"
	"github.com/smallbiznis/tally/internal/config"
	"github.com/smallbiznis/tally/internal/expiry/domain"
	ledgerdomain "github.com/smallbiznis/tally/internal/ledger/domain"
	"github.com/smallbiznis/tally/internal/notification"
	"github.com/smallbiznis/tally/internal/observability/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// sweepBatchSize caps how many schedules one sweep run touches.
const sweepBatchSize = 500

type Params struct {
	fx.In

	Config      config.Config
	DB          *gorm.DB
	Log         *zap.Logger
	GenID       *snowflake.Node
	Clock       clock.Clock
	Repo        domain.Repository
	BalanceSvc  balancedomain.Service
	BalanceRepo balancedomain.Repository
	LedgerSvc   ledgerdomain.Service
	Notifier    notification.Notifier
	ObsMetrics  *metrics.Metrics `optional:"true"`
}

type Service struct {
	cfg         config.Config
	db          *gorm.DB
	log         *zap.Logger
	genID       *snowflake.Node
	clock       clock.Clock
	repo        domain.Repository
	balanceSvc  balancedomain.Service
	balanceRepo balancedomain.Repository
	ledgerSvc   ledgerdomain.Service
	notifier    notification.Notifier
	obsMetrics  *metrics.Metrics
}

func NewService(p Params) domain.Service {
	return &Service{
		cfg:         p.Config,
		db:          p.DB,
		log:         p.Log.Named("expiry.service"),
		genID:       p.GenID,
		clock:       p.Clock,
		repo:        p.Repo,
		balanceSvc:  p.BalanceSvc,
		balanceRepo: p.BalanceRepo,
		ledgerSvc:   p.LedgerSvc,
		notifier:    p.Notifier,
		obsMetrics:  p.ObsMetrics,
	}
}

func (s *Service) Schedule(ctx context.Context, tx *gorm.DB, req domain.ScheduleRequest) (*domain.CreditExpiry, error) {
	if req.OrgID == 0 {
		return nil, domain.ErrInvalidOrganization
	}
	req.EntityType = strings.ToLower(strings.TrimSpace(req.EntityType))
	if req.EntityType == "" || req.EntityID == 0 {
		return nil, domain.ErrInvalidEntity
	}
	if req.Amount.Sign() <= 0 {
		return nil, domain.ErrInvalidAmount
	}
	if !req.ExpiresAt.After(s.clock.Now()) {
		return nil, domain.ErrInvalidExpiry
	}

	row := &domain.CreditExpiry{
		ID:            s.genID.Generate(),
		OrgID:         req.OrgID,
		EntityType:    req.EntityType,
		EntityID:      req.EntityID,
		Amount:        req.Amount,
		ExpiresAt:     req.ExpiresAt.UTC(),
		SourceTransID: req.SourceTransID,
		NotifyEmail:   req.NotifyEmail,
		CreatedAt:     s.clock.Now(),
	}
	if err := s.repo.Insert(ctx, tx, row); err != nil {
		return nil, err
	}
	return row, nil
}

// ProcessExpiredCredits claims and settles every schedule that has lapsed.
// Each schedule is settled in its own transaction: the claim stamp and the
// balance removal commit together, and a crashed sweep resumes where it
// stopped. A schedule expires at most min(scheduled, available).
func (s *Service) ProcessExpiredCredits(ctx context.Context, runID string) (*domain.SweepResult, error) {
	if runID == "" {
		runID = ulid.MustNew(ulid.Timestamp(s.clock.Now()), rand.Reader).String()
	}
	now := s.clock.Now()

	due, err := s.repo.FindDue(ctx, s.db, now, sweepBatchSize)
	if err != nil {
		return nil, err
	}

	result := &domain.SweepResult{
		RunID:         runID,
		Scanned:       len(due),
		AmountExpired: decimal.Zero,
	}

	for i := range due {
		row := due[i]
		expired, err := s.settleOne(ctx, &row, runID, now)
		if err != nil {
			s.log.Error("failed to settle expiry schedule",
				zap.Int64("expiry_id", int64(row.ID)),
				zap.Error(err),
			)
			continue
		}
		if expired == nil {
			continue // another sweep claimed it
		}
		result.Expired++
		result.AmountExpired = result.AmountExpired.Add(*expired)
	}

	s.obsMetrics.RecordExpirySweep(ctx, int64(result.Expired))
	s.log.Info("expiry sweep completed",
		zap.String("run_id", runID),
		zap.Int("scanned", result.Scanned),
		zap.Int("expired", result.Expired),
		zap.String("amount_expired", result.AmountExpired.String()),
	)
	return result, nil
}

func (s *Service) settleOne(ctx context.Context, row *domain.CreditExpiry, runID string, now time.Time) (*decimal.Decimal, error) {
	var expired *decimal.Decimal

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		claimed, err := s.repo.MarkProcessed(ctx, tx, row.ID, now)
		if err != nil {
			return err
		}
		if !claimed {
			return nil
		}

		bal, err := s.balanceRepo.FindForUpdate(ctx, tx, row.OrgID, row.EntityType, row.EntityID)
		if err != nil {
			return err
		}

		// An inactive balance settles at zero, otherwise the schedule
		// would fail and be rescanned on every sweep.
		amount := decimal.Zero
		if bal != nil && bal.Active {
			amount = decimal.Min(row.Amount, bal.AvailableCredits)
		}
		if amount.Sign() > 0 {
			after, err := s.balanceSvc.ApplyDelta(ctx, tx, row.OrgID, row.EntityType, row.EntityID, amount.Neg())
			if err != nil {
				return err
			}

			correlationID := runID
			entry := &ledgerdomain.CreditTransaction{
				OrgID:           row.OrgID,
				EntityType:      row.EntityType,
				EntityID:        row.EntityID,
				Type:            ledgerdomain.TypeExpiry,
				Amount:          amount,
				Units:           amount,
				PreviousBalance: after.AvailableCredits.Add(amount),
				NewBalance:      after.AvailableCredits,
				CorrelationID:   &correlationID,
				Description:     "scheduled credit expiry",
				Metadata: datatypes.JSONMap{
					"expiry_id": row.ID.String(),
				},
			}
			if _, err := s.ledgerSvc.Append(ctx, tx, entry); err != nil {
				return err
			}
		}

		expired = &amount
		return nil
	})
	if err != nil {
		return nil, err
	}
	if expired != nil && expired.Sign() > 0 {
		s.balanceSvc.InvalidateCache(ctx, row.OrgID, row.EntityType, row.EntityID)
	}
	return expired, nil
}

func (s *Service) GetExpiringCredits(ctx context.Context, orgID snowflake.ID, entityType string, entityID snowflake.ID, daysAhead int) ([]domain.CreditExpiry, error) {
	if orgID == 0 {
		return nil, domain.ErrInvalidOrganization
	}
	entityType = strings.ToLower(strings.TrimSpace(entityType))
	if (entityType == "") != (entityID == 0) {
		return nil, domain.ErrInvalidEntity
	}
	if daysAhead <= 0 {
		daysAhead = s.cfg.WarningDaysAhead
	}
	until := s.clock.Now().AddDate(0, 0, daysAhead)
	return s.repo.ListUpcoming(ctx, s.db, orgID, entityType, entityID, until)
}

// SendExpiryWarnings notifies once per schedule. A failed send leaves the
// row unwarned so the next run retries it.
func (s *Service) SendExpiryWarnings(ctx context.Context, daysAhead int) (int, error) {
	if daysAhead <= 0 {
		daysAhead = s.cfg.WarningDaysAhead
	}
	now := s.clock.Now()
	until := now.AddDate(0, 0, daysAhead)

	rows, err := s.repo.FindExpiringUnwarned(ctx, s.db, now, until, sweepBatchSize)
	if err != nil {
		return 0, err
	}

	warned := 0
	for _, row := range rows {
		warning := notification.ExpiryWarning{
			OrgID:      row.OrgID,
			EntityType: row.EntityType,
			EntityID:   row.EntityID,
			Amount:     row.Amount,
			ExpiresAt:  row.ExpiresAt,
			Recipient:  row.NotifyEmail,
		}
		if err := s.notifier.NotifyExpiryWarning(ctx, warning); err != nil {
			s.log.Warn("failed to send expiry warning",
				zap.Int64("expiry_id", int64(row.ID)),
				zap.Error(err),
			)
			continue
		}
		if err := s.repo.MarkWarned(ctx, s.db, row.ID, now); err != nil {
			return warned, err
		}
		warned++
	}
	return warned, nil
}
