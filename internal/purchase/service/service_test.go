package service

import (
	"context"
	"errors"
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
	"github.com/smallbiznis/tally/internal/config"
	expirydomain "github.com/smallbiznis/tally/internal/expiry/domain"
	expiryrepository "github.com/smallbiznis/tally/internal/expiry/repository"
	expiryservice "github.com/smallbiznis/tally/internal/expiry/service"
	ledgerdomain "github.com/smallbiznis/tally/internal/ledger/domain"
	ledgerrepository "github.com/smallbiznis/tally/internal/ledger/repository"
	ledgerservice "github.com/smallbiznis/tally/internal/ledger/service"
	"github.com/smallbiznis/tally/internal/notification"
	"github.com/smallbiznis/tally/internal/purchase/domain"
	"github.com/smallbiznis/tally/internal/purchase/repository"
	"github.com/smallbiznis/tally/pkg/db/pagination"
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

func setupPurchaseTest(t *testing.T) (*gorm.DB, *Service) {
	db, err := gorm.Open(sqlite.Open("file::memory:?cache=shared"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&balancedomain.CreditBalance{},
		&ledgerdomain.CreditTransaction{},
		&expirydomain.CreditExpiry{},
		&domain.CreditPurchase{},
	))

	log := zap.NewNop()
	fake := clock.NewFakeClock(time.Now().UTC())
	balanceRepo := balancerepository.Provide()

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
		Repo:  ledgerrepository.Provide(),
	})
	expirySvc := expiryservice.NewService(expiryservice.Params{
		Config:      config.Config{WarningDaysAhead: 7},
		DB:          db,
		Log:         log,
		GenID:       testNode,
		Clock:       fake,
		Repo:        expiryrepository.Provide(),
		BalanceSvc:  balanceSvc,
		BalanceRepo: balanceRepo,
		LedgerSvc:   ledgerSvc,
		Notifier:    notification.New(config.Config{}, log),
	})

	svc := &Service{
		db:         db,
		log:        log,
		genID:      testNode,
		clock:      fake,
		repo:       repository.Provide(),
		balanceSvc: balanceSvc,
		ledgerSvc:  ledgerSvc,
		expirySvc:  expirySvc,
	}
	return db, svc
}

func openPurchase(t *testing.T, svc *Service, orgID snowflake.ID, userID snowflake.ID, credits int64, expiresInDays int) *domain.CreditPurchase {
	t.Helper()
	row, err := svc.PurchaseCredits(context.Background(), domain.PurchaseRequest{
		OrgID:         orgID,
		EntityType:    "user",
		EntityID:      userID,
		Credits:       decimal.NewFromInt(credits),
		ExpiresInDays: expiresInDays,
	})
	require.NoError(t, err)
	return row
}

func available(t *testing.T, db *gorm.DB, orgID snowflake.ID) decimal.Decimal {
	t.Helper()
	var row balancedomain.CreditBalance
	err := db.Where("org_id = ?", orgID).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return decimal.Zero
	}
	require.NoError(t, err)
	return row.AvailableCredits
}

func TestPurchaseCredits_OpensPendingOrder(t *testing.T) {
	db, svc := setupPurchaseTest(t)
	orgID := testNode.Generate()

	row := openPurchase(t, svc, orgID, testNode.Generate(), 500, 0)

	assert.Equal(t, domain.StatusPending, row.Status)
	assert.NotEmpty(t, row.Reference)
	assert.True(t, available(t, db, orgID).IsZero(), "a pending purchase holds nothing")
}

func TestPurchaseCredits_Validation(t *testing.T) {
	_, svc := setupPurchaseTest(t)

	_, err := svc.PurchaseCredits(context.Background(), domain.PurchaseRequest{
		OrgID:      testNode.Generate(),
		EntityType: "user",
		EntityID:   testNode.Generate(),
		Credits:    decimal.Zero,
	})
	assert.ErrorIs(t, err, domain.ErrInvalidAmount)

	_, err = svc.PurchaseCredits(context.Background(), domain.PurchaseRequest{
		OrgID:      testNode.Generate(),
		EntityType: "user",
		EntityID:   testNode.Generate(),
		Credits:       decimal.NewFromInt(10),
		ExpiresInDays: -1,
	})
	assert.ErrorIs(t, err, domain.ErrInvalidAmount)
}

func TestConfirmPayment_AllocatesExactlyOnce(t *testing.T) {
	db, svc := setupPurchaseTest(t)
	orgID := testNode.Generate()
	userID := testNode.Generate()

	row := openPurchase(t, svc, orgID, userID, 500, 0)

	confirmed, err := svc.ConfirmPayment(context.Background(), orgID, row.Reference, "pay_123")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, confirmed.Status)
	assert.Equal(t, "pay_123", confirmed.PaymentReference)
	assert.NotNil(t, confirmed.CompletedAt)
	assert.True(t, available(t, db, orgID).Equal(decimal.NewFromInt(500)))

	// Second confirmation replays the settled purchase.
	again, err := svc.ConfirmPayment(context.Background(), orgID, row.Reference, "pay_123")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, again.Status)
	assert.True(t, available(t, db, orgID).Equal(decimal.NewFromInt(500)), "double confirmation allocates once")

	var count int64
	require.NoError(t, db.Model(&ledgerdomain.CreditTransaction{}).
		Where("org_id = ? AND type = ?", orgID, ledgerdomain.TypeAllocation).Count(&count).Error)
	assert.EqualValues(t, 1, count)
}

func TestConfirmPayment_SchedulesExpiry(t *testing.T) {
	db, svc := setupPurchaseTest(t)
	orgID := testNode.Generate()
	userID := testNode.Generate()

	row := openPurchase(t, svc, orgID, userID, 200, 30)

	_, err := svc.ConfirmPayment(context.Background(), orgID, row.Reference, "pay_456")
	require.NoError(t, err)

	var schedules []expirydomain.CreditExpiry
	require.NoError(t, db.Where("org_id = ?", orgID).Find(&schedules).Error)
	require.Len(t, schedules, 1)
	assert.True(t, schedules[0].Amount.Equal(decimal.NewFromInt(200)))
	assert.NotNil(t, schedules[0].SourceTransID, "schedule points at the allocation row")
}

func TestConfirmPayment_NeverExpiringPurchase(t *testing.T) {
	db, svc := setupPurchaseTest(t)
	orgID := testNode.Generate()

	row := openPurchase(t, svc, orgID, testNode.Generate(), 200, 0)

	_, err := svc.ConfirmPayment(context.Background(), orgID, row.Reference, "pay_789")
	require.NoError(t, err)

	var count int64
	require.NoError(t, db.Model(&expirydomain.CreditExpiry{}).Where("org_id = ?", orgID).Count(&count).Error)
	assert.Zero(t, count)
}

func TestFailPayment(t *testing.T) {
	db, svc := setupPurchaseTest(t)
	orgID := testNode.Generate()

	row := openPurchase(t, svc, orgID, testNode.Generate(), 500, 0)

	failed, err := svc.FailPayment(context.Background(), orgID, row.Reference, "card declined")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFailed, failed.Status)
	assert.Equal(t, "card declined", failed.FailureReason)
	assert.True(t, available(t, db, orgID).IsZero())

	// Failing again replays; confirming a failed purchase is an error.
	again, err := svc.FailPayment(context.Background(), orgID, row.Reference, "card declined")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFailed, again.Status)

	_, err = svc.ConfirmPayment(context.Background(), orgID, row.Reference, "pay_999")
	assert.ErrorIs(t, err, domain.ErrAlreadySettled)
}

func TestGetPurchase_UnknownReference(t *testing.T) {
	_, svc := setupPurchaseTest(t)

	_, err := svc.GetPurchase(context.Background(), testNode.Generate(), "01ARZ3NDEKTSV4RRFFQ69G5FAV")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestListPurchases_FiltersByStatus(t *testing.T) {
	_, svc := setupPurchaseTest(t)
	orgID := testNode.Generate()
	userID := testNode.Generate()

	pending := openPurchase(t, svc, orgID, userID, 100, 0)
	completed := openPurchase(t, svc, orgID, userID, 200, 0)
	_, err := svc.ConfirmPayment(context.Background(), orgID, completed.Reference, "pay_1")
	require.NoError(t, err)

	list, err := svc.ListPurchases(context.Background(), orgID, domain.ListFilter{
		Status: domain.StatusPending,
	}, pagination.Pagination{})
	require.NoError(t, err)
	require.Len(t, list.Purchases, 1)
	assert.Equal(t, pending.Reference, list.Purchases[0].Reference)
	assert.EqualValues(t, 1, list.PageInfo.TotalCount)
}
