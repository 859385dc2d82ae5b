package service

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/shopspring/decimal"
	balancedomain "github.com/smallbiznis/tally/internal/balance/domain"
	balancerepository "github.com/smallbiznis/tally/internal/balance/repository"
	balanceservice "github.com/smallbiznis/tally/internal/balance/service"
	"github.com/smallbiznis/tally/internal/cache"
	"github.com/smallbiznis/tally/internal/clock"
	"github.com/smallbiznis/tally/internal/consumption/domain"
	configdomain "github.com/smallbiznis/tally/internal/creditconfig/domain"
	configrepository "github.com/smallbiznis/tally/internal/creditconfig/repository"
	"github.com/smallbiznis/tally/internal/creditconfig/resolver"
	ledgerdomain "github.com/smallbiznis/tally/internal/ledger/domain"
	ledgerrepository "github.com/smallbiznis/tally/internal/ledger/repository"
	ledgerservice "github.com/smallbiznis/tally/internal/ledger/service"
	"github.com/smallbiznis/tally/pkg/tenantctx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var testNode = mustNode()

func mustNode() *snowflake.Node {
	node, err := snowflake.NewNode(1)
	if err != nil {
		panic(err)
	}
	return node
}

func setupConsumeTest(t *testing.T) (*gorm.DB, *Service) {
	db, err := gorm.Open(sqlite.Open("file::memory:?cache=shared"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&balancedomain.CreditBalance{},
		&ledgerdomain.CreditTransaction{},
		&configdomain.CreditConfig{},
	))

	log := zap.NewNop()
	balanceRepo := balancerepository.Provide()
	ledgerRepo := ledgerrepository.Provide()

	balanceSvc := balanceservice.NewService(balanceservice.Params{
		DB:    db,
		Log:   log,
		GenID: testNode,
		Repo:  balanceRepo,
		Cache: cache.NewNoopBalanceCache(),
	})
	ledgerSvc := ledgerservice.NewService(ledgerservice.Params{
		DB:    db,
		Log:   log,
		GenID: testNode,
		Repo:  ledgerRepo,
	})
	res := resolver.New(resolver.Params{
		DB:   db,
		Log:  log,
		Repo: configrepository.Provide(),
	})

	svc := &Service{
		db:          db,
		log:         log,
		clock:       clock.NewFakeClock(time.Now().UTC()),
		resolver:    res,
		balanceSvc:  balanceSvc,
		balanceRepo: balanceRepo,
		ledgerSvc:   ledgerSvc,
		ledgerRepo:  ledgerRepo,
	}
	return db, svc
}

func seedOperationConfig(t *testing.T, db *gorm.DB, row configdomain.CreditConfig) {
	t.Helper()
	row.ID = testNode.Generate()
	row.Scope = configdomain.ScopeGlobal
	row.Level = configdomain.LevelOperation
	row.Active = true
	if row.Unit == "" {
		row.Unit = configdomain.UnitOperation
	}
	if row.UnitMultiplier.IsZero() {
		row.UnitMultiplier = decimal.NewFromInt(1)
	}
	require.NoError(t, db.Create(&row).Error)
}

func fundBalance(t *testing.T, db *gorm.DB, orgID snowflake.ID, entityID snowflake.ID, amount int64) {
	t.Helper()
	now := time.Now().UTC()
	require.NoError(t, db.Create(&balancedomain.CreditBalance{
		ID:               testNode.Generate(),
		OrgID:            orgID,
		EntityType:       "user",
		EntityID:         entityID,
		AvailableCredits: decimal.NewFromInt(amount),
		ReservedCredits:  decimal.Zero,
		Active:           true,
		CreatedAt:        now,
		UpdatedAt:        now,
	}).Error)
}

func ledgerRows(t *testing.T, db *gorm.DB, orgID snowflake.ID) []ledgerdomain.CreditTransaction {
	t.Helper()
	var rows []ledgerdomain.CreditTransaction
	require.NoError(t, db.Where("org_id = ?", orgID).Order("id ASC").Find(&rows).Error)
	return rows
}

func TestConsume_ChargesAndAppendsLedger(t *testing.T) {
	db, svc := setupConsumeTest(t)
	orgID := testNode.Generate()
	userID := testNode.Generate()

	seedOperationConfig(t, db, configdomain.CreditConfig{
		Code:       "reports.generate",
		CreditCost: decimal.NewFromInt(30),
	})
	fundBalance(t, db, orgID, userID, 100)

	result, err := svc.Consume(context.Background(), domain.ConsumeRequest{
		OrgID:         orgID,
		EntityType:    "user",
		EntityID:      userID,
		OperationCode: "reports.generate",
	})
	require.NoError(t, err)

	assert.True(t, result.Charged.Equal(decimal.NewFromInt(30)))
	assert.True(t, result.RemainingCredits.Equal(decimal.NewFromInt(70)))
	assert.True(t, result.Units.Equal(decimal.NewFromInt(1)), "units default to one")
	assert.False(t, result.Replayed)
	assert.False(t, result.CostMismatch)

	rows := ledgerRows(t, db, orgID)
	require.Len(t, rows, 1)
	assert.Equal(t, ledgerdomain.TypeConsumption, rows[0].Type)
	assert.True(t, rows[0].PreviousBalance.Equal(decimal.NewFromInt(100)))
	assert.True(t, rows[0].NewBalance.Equal(decimal.NewFromInt(70)))
	require.NotNil(t, rows[0].OperationCode)
	assert.Equal(t, "reports.generate", *rows[0].OperationCode)
}

func TestConsume_InsufficientCredits(t *testing.T) {
	db, svc := setupConsumeTest(t)
	orgID := testNode.Generate()
	userID := testNode.Generate()

	seedOperationConfig(t, db, configdomain.CreditConfig{
		Code:       "reports.generate",
		CreditCost: decimal.NewFromInt(30),
	})
	fundBalance(t, db, orgID, userID, 10)

	_, err := svc.Consume(context.Background(), domain.ConsumeRequest{
		OrgID:         orgID,
		EntityType:    "user",
		EntityID:      userID,
		OperationCode: "reports.generate",
	})

	var insufficient *domain.InsufficientCreditsError
	require.ErrorAs(t, err, &insufficient)
	assert.True(t, insufficient.Required.Equal(decimal.NewFromInt(30)))
	assert.True(t, insufficient.Available.Equal(decimal.NewFromInt(10)))
	assert.True(t, insufficient.Shortfall.Equal(decimal.NewFromInt(20)))

	assert.Empty(t, ledgerRows(t, db, orgID), "a rejected consume writes nothing")

	var bal balancedomain.CreditBalance
	require.NoError(t, db.Where("org_id = ?", orgID).First(&bal).Error)
	assert.True(t, bal.AvailableCredits.Equal(decimal.NewFromInt(10)))
}

func TestConsume_IdempotentReplay(t *testing.T) {
	db, svc := setupConsumeTest(t)
	orgID := testNode.Generate()
	userID := testNode.Generate()

	seedOperationConfig(t, db, configdomain.CreditConfig{
		Code:       "reports.generate",
		CreditCost: decimal.NewFromInt(30),
	})
	fundBalance(t, db, orgID, userID, 100)

	req := domain.ConsumeRequest{
		OrgID:         orgID,
		EntityType:    "user",
		EntityID:      userID,
		OperationCode: "reports.generate",
		OperationID:   "req-42",
	}

	first, err := svc.Consume(context.Background(), req)
	require.NoError(t, err)
	require.False(t, first.Replayed)

	second, err := svc.Consume(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, second.Replayed)
	assert.Equal(t, *first.TransactionID, *second.TransactionID)
	assert.True(t, second.Charged.Equal(decimal.NewFromInt(30)))
	assert.True(t, second.RemainingCredits.Equal(decimal.NewFromInt(70)))

	require.Len(t, ledgerRows(t, db, orgID), 1)

	var bal balancedomain.CreditBalance
	require.NoError(t, db.Where("org_id = ?", orgID).First(&bal).Error)
	assert.True(t, bal.AvailableCredits.Equal(decimal.NewFromInt(70)), "replay charges nothing")
}

func TestConsume_RequestedCostNotTrusted(t *testing.T) {
	db, svc := setupConsumeTest(t)
	orgID := testNode.Generate()
	userID := testNode.Generate()

	seedOperationConfig(t, db, configdomain.CreditConfig{
		Code:       "reports.generate",
		CreditCost: decimal.NewFromInt(30),
	})
	fundBalance(t, db, orgID, userID, 100)

	claimed := decimal.NewFromInt(1)
	result, err := svc.Consume(context.Background(), domain.ConsumeRequest{
		OrgID:         orgID,
		EntityType:    "user",
		EntityID:      userID,
		OperationCode: "reports.generate",
		RequestedCost: &claimed,
	})
	require.NoError(t, err)

	assert.True(t, result.Charged.Equal(decimal.NewFromInt(30)), "resolved cost wins")
	assert.True(t, result.CostMismatch)
}

func TestConsume_FreeAllowanceThenOverage(t *testing.T) {
	db, svc := setupConsumeTest(t)
	orgID := testNode.Generate()
	userID := testNode.Generate()

	seedOperationConfig(t, db, configdomain.CreditConfig{
		Code:                "api.calls",
		CreditCost:          decimal.NewFromInt(1),
		FreeAllowance:       decimal.NewFromInt(5),
		FreeAllowancePeriod: configdomain.PeriodMonthly,
		AllowOverage:        true,
		OverageCost:         decimal.NewFromInt(2),
	})
	fundBalance(t, db, orgID, userID, 100)

	// Entirely inside the allowance: free.
	result, err := svc.Consume(context.Background(), domain.ConsumeRequest{
		OrgID:         orgID,
		EntityType:    "user",
		EntityID:      userID,
		OperationCode: "api.calls",
		Units:         decimal.NewFromInt(3),
	})
	require.NoError(t, err)
	assert.True(t, result.Charged.IsZero())
	assert.True(t, result.FreeUnits.Equal(decimal.NewFromInt(3)))

	// Straddles the boundary: 2 free, 2 at the overage rate.
	result, err = svc.Consume(context.Background(), domain.ConsumeRequest{
		OrgID:         orgID,
		EntityType:    "user",
		EntityID:      userID,
		OperationCode: "api.calls",
		Units:         decimal.NewFromInt(4),
	})
	require.NoError(t, err)
	assert.True(t, result.FreeUnits.Equal(decimal.NewFromInt(2)))
	assert.True(t, result.OverageUnits.Equal(decimal.NewFromInt(2)))
	assert.True(t, result.Charged.Equal(decimal.NewFromInt(4)))
	assert.True(t, result.RemainingCredits.Equal(decimal.NewFromInt(96)))

	rows := ledgerRows(t, db, orgID)
	assert.Len(t, rows, 2, "free consumption is still recorded")
}

func TestConsume_OverageNotAllowed(t *testing.T) {
	db, svc := setupConsumeTest(t)
	orgID := testNode.Generate()
	userID := testNode.Generate()

	seedOperationConfig(t, db, configdomain.CreditConfig{
		Code:                "imports.run",
		CreditCost:          decimal.NewFromInt(1),
		FreeAllowance:       decimal.NewFromInt(2),
		FreeAllowancePeriod: configdomain.PeriodMonthly,
	})
	fundBalance(t, db, orgID, userID, 100)

	_, err := svc.Consume(context.Background(), domain.ConsumeRequest{
		OrgID:         orgID,
		EntityType:    "user",
		EntityID:      userID,
		OperationCode: "imports.run",
		Units:         decimal.NewFromInt(5),
	})
	assert.ErrorIs(t, err, configdomain.ErrOverageNotAllowed)
	assert.Empty(t, ledgerRows(t, db, orgID))
}

func TestConsume_FallbackCostWhenUnconfigured(t *testing.T) {
	db, svc := setupConsumeTest(t)
	orgID := testNode.Generate()
	userID := testNode.Generate()

	fundBalance(t, db, orgID, userID, 10)

	result, err := svc.Consume(context.Background(), domain.ConsumeRequest{
		OrgID:         orgID,
		EntityType:    "user",
		EntityID:      userID,
		OperationCode: "never.configured",
	})
	require.NoError(t, err)
	assert.True(t, result.Charged.Equal(configdomain.FallbackCost))
	assert.True(t, result.Source.Fallback)
}

func TestConsume_OrgFromContext(t *testing.T) {
	db, svc := setupConsumeTest(t)
	orgID := testNode.Generate()
	userID := testNode.Generate()

	fundBalance(t, db, orgID, userID, 10)

	ctx := tenantctx.WithOrgID(context.Background(), orgID)
	result, err := svc.Consume(ctx, domain.ConsumeRequest{
		EntityType:    "user",
		EntityID:      userID,
		OperationCode: "never.configured",
	})
	require.NoError(t, err)
	assert.True(t, result.RemainingCredits.Equal(decimal.NewFromInt(9)))
}

func TestConsume_Validation(t *testing.T) {
	_, svc := setupConsumeTest(t)

	_, err := svc.Consume(context.Background(), domain.ConsumeRequest{
		EntityType:    "user",
		EntityID:      testNode.Generate(),
		OperationCode: "x.y",
	})
	assert.ErrorIs(t, err, domain.ErrInvalidOrganization)

	_, err = svc.Consume(context.Background(), domain.ConsumeRequest{
		OrgID:         testNode.Generate(),
		OperationCode: "x.y",
	})
	assert.ErrorIs(t, err, domain.ErrInvalidEntity)

	_, err = svc.Consume(context.Background(), domain.ConsumeRequest{
		OrgID:      testNode.Generate(),
		EntityType: "user",
		EntityID:   testNode.Generate(),
	})
	assert.ErrorIs(t, err, domain.ErrInvalidOperation)

	_, err = svc.Consume(context.Background(), domain.ConsumeRequest{
		OrgID:         testNode.Generate(),
		EntityType:    "user",
		EntityID:      testNode.Generate(),
		OperationCode: "x.y",
		Units:         decimal.NewFromInt(-2),
	})
	assert.ErrorIs(t, err, domain.ErrInvalidUnits)
}

func TestCheck_QuotesWithoutCharging(t *testing.T) {
	db, svc := setupConsumeTest(t)
	orgID := testNode.Generate()
	userID := testNode.Generate()

	seedOperationConfig(t, db, configdomain.CreditConfig{
		Code:       "reports.generate",
		CreditCost: decimal.NewFromInt(30),
	})
	fundBalance(t, db, orgID, userID, 50)

	check, err := svc.Check(context.Background(), domain.ConsumeRequest{
		OrgID:         orgID,
		EntityType:    "user",
		EntityID:      userID,
		OperationCode: "reports.generate",
	})
	require.NoError(t, err)

	assert.True(t, check.Affordable)
	assert.True(t, check.Cost.Equal(decimal.NewFromInt(30)))
	assert.True(t, check.AvailableCredits.Equal(decimal.NewFromInt(50)))
	assert.True(t, check.Shortfall.IsZero())

	assert.Empty(t, ledgerRows(t, db, orgID), "a check never writes")

	var bal balancedomain.CreditBalance
	require.NoError(t, db.Where("org_id = ?", orgID).First(&bal).Error)
	assert.True(t, bal.AvailableCredits.Equal(decimal.NewFromInt(50)))
}

func TestCheck_ReportsShortfall(t *testing.T) {
	db, svc := setupConsumeTest(t)
	orgID := testNode.Generate()
	userID := testNode.Generate()

	seedOperationConfig(t, db, configdomain.CreditConfig{
		Code:       "reports.generate",
		CreditCost: decimal.NewFromInt(30),
	})
	fundBalance(t, db, orgID, userID, 10)

	check, err := svc.Check(context.Background(), domain.ConsumeRequest{
		OrgID:         orgID,
		EntityType:    "user",
		EntityID:      userID,
		OperationCode: "reports.generate",
	})
	require.NoError(t, err)

	assert.False(t, check.Affordable)
	assert.True(t, check.Shortfall.Equal(decimal.NewFromInt(20)))
}

func TestCheck_OverageBlockedIsUnaffordable(t *testing.T) {
	db, svc := setupConsumeTest(t)
	orgID := testNode.Generate()
	userID := testNode.Generate()

	seedOperationConfig(t, db, configdomain.CreditConfig{
		Code:                "imports.run",
		CreditCost:          decimal.NewFromInt(1),
		FreeAllowance:       decimal.NewFromInt(2),
		FreeAllowancePeriod: configdomain.PeriodMonthly,
	})
	fundBalance(t, db, orgID, userID, 100)

	check, err := svc.Check(context.Background(), domain.ConsumeRequest{
		OrgID:         orgID,
		EntityType:    "user",
		EntityID:      userID,
		OperationCode: "imports.run",
		Units:         decimal.NewFromInt(10),
	})
	require.NoError(t, err)
	assert.False(t, check.Affordable)
}

func TestConsume_DescriptionOnLedgerRow(t *testing.T) {
	db, svc := setupConsumeTest(t)
	orgID := testNode.Generate()
	userID := testNode.Generate()

	seedOperationConfig(t, db, configdomain.CreditConfig{
		Code:       "exports.archive",
		CreditCost: decimal.NewFromInt(5),
	})
	fundBalance(t, db, orgID, userID, 100)

	_, err := svc.Consume(context.Background(), domain.ConsumeRequest{
		OrgID:         orgID,
		EntityType:    "user",
		EntityID:      userID,
		OperationCode: "exports.archive",
		Description:   "nightly archive run",
	})
	require.NoError(t, err)

	_, err = svc.Consume(context.Background(), domain.ConsumeRequest{
		OrgID:         orgID,
		EntityType:    "user",
		EntityID:      userID,
		OperationCode: "exports.archive",
	})
	require.NoError(t, err)

	rows := ledgerRows(t, db, orgID)
	require.Len(t, rows, 2)
	assert.Equal(t, "nightly archive run", rows[0].Description)
	assert.Equal(t, "credit consumption", rows[1].Description, "blank description keeps the default")
}
