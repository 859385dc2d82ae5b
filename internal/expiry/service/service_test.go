package service

import (
	"context"
	"errors"
	"fmt"
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
	"github.com/smallbiznis/tally/internal/expiry/domain"
	"github.com/smallbiznis/tally/internal/expiry/repository"
	ledgerdomain "github.com/smallbiznis/tally/internal/ledger/domain"
	ledgerrepository "github.com/smallbiznis/tally/internal/ledger/repository"
	ledgerservice "github.com/smallbiznis/tally/internal/ledger/service"
	"github.com/smallbiznis/tally/internal/notification"
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

type stubNotifier struct {
	sent    []notification.ExpiryWarning
	failing bool
}

func (s *stubNotifier) NotifyExpiryWarning(_ context.Context, warning notification.ExpiryWarning) error {
	if s.failing {
		return errors.New("smtp unreachable")
	}
	s.sent = append(s.sent, warning)
	return nil
}

func setupExpiryTest(t *testing.T) (*gorm.DB, *Service, *clock.FakeClock, *stubNotifier) {
	// Sweeps scan every org, so each test gets its own database.
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&balancedomain.CreditBalance{},
		&ledgerdomain.CreditTransaction{},
		&domain.CreditExpiry{},
	))

	log := zap.NewNop()
	fake := clock.NewFakeClock(time.Now().UTC())
	notifier := &stubNotifier{}
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

	svc := &Service{
		cfg:         config.Config{WarningDaysAhead: 7},
		db:          db,
		log:         log,
		genID:       testNode,
		clock:       fake,
		repo:        repository.Provide(),
		balanceSvc:  balanceSvc,
		balanceRepo: balanceRepo,
		ledgerSvc:   ledgerSvc,
		notifier:    notifier,
	}
	return db, svc, fake, notifier
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

func schedule(t *testing.T, db *gorm.DB, svc *Service, orgID snowflake.ID, entityID snowflake.ID, amount int64, expiresAt time.Time) *domain.CreditExpiry {
	t.Helper()
	row, err := svc.Schedule(context.Background(), db, domain.ScheduleRequest{
		OrgID:      orgID,
		EntityType: "user",
		EntityID:   entityID,
		Amount:     decimal.NewFromInt(amount),
		ExpiresAt:  expiresAt,
	})
	require.NoError(t, err)
	return row
}

func TestSchedule_Validations(t *testing.T) {
	db, svc, fake, _ := setupExpiryTest(t)
	orgID := testNode.Generate()
	userID := testNode.Generate()

	_, err := svc.Schedule(context.Background(), db, domain.ScheduleRequest{
		OrgID:      orgID,
		EntityType: "user",
		EntityID:   userID,
		Amount:     decimal.NewFromInt(10),
		ExpiresAt:  fake.Now().Add(-time.Hour),
	})
	assert.ErrorIs(t, err, domain.ErrInvalidExpiry)

	_, err = svc.Schedule(context.Background(), db, domain.ScheduleRequest{
		OrgID:      orgID,
		EntityType: "user",
		EntityID:   userID,
		Amount:     decimal.Zero,
		ExpiresAt:  fake.Now().Add(time.Hour),
	})
	assert.ErrorIs(t, err, domain.ErrInvalidAmount)
}

func TestProcessExpiredCredits_ExpiresAndWritesLedger(t *testing.T) {
	db, svc, fake, _ := setupExpiryTest(t)
	orgID := testNode.Generate()
	userID := testNode.Generate()

	fundBalance(t, db, orgID, userID, 100)
	row := schedule(t, db, svc, orgID, userID, 30, fake.Now().Add(time.Hour))

	fake.Advance(2 * time.Hour)

	result, err := svc.ProcessExpiredCredits(context.Background(), "")
	require.NoError(t, err)

	assert.NotEmpty(t, result.RunID)
	assert.Equal(t, 1, result.Scanned)
	assert.Equal(t, 1, result.Expired)
	assert.True(t, result.AmountExpired.Equal(decimal.NewFromInt(30)))

	var bal balancedomain.CreditBalance
	require.NoError(t, db.Where("org_id = ?", orgID).First(&bal).Error)
	assert.True(t, bal.AvailableCredits.Equal(decimal.NewFromInt(70)))

	var entry ledgerdomain.CreditTransaction
	require.NoError(t, db.Where("org_id = ? AND type = ?", orgID, ledgerdomain.TypeExpiry).First(&entry).Error)
	assert.True(t, entry.Amount.Equal(decimal.NewFromInt(30)))
	require.NotNil(t, entry.CorrelationID)
	assert.Equal(t, result.RunID, *entry.CorrelationID)

	var processed domain.CreditExpiry
	require.NoError(t, db.First(&processed, "id = ?", row.ID).Error)
	assert.NotNil(t, processed.ProcessedAt)
}

func TestProcessExpiredCredits_SecondSweepIsNoOp(t *testing.T) {
	db, svc, fake, _ := setupExpiryTest(t)
	orgID := testNode.Generate()
	userID := testNode.Generate()

	fundBalance(t, db, orgID, userID, 100)
	schedule(t, db, svc, orgID, userID, 30, fake.Now().Add(time.Hour))
	fake.Advance(2 * time.Hour)

	_, err := svc.ProcessExpiredCredits(context.Background(), "")
	require.NoError(t, err)

	result, err := svc.ProcessExpiredCredits(context.Background(), "")
	require.NoError(t, err)
	assert.Zero(t, result.Scanned)
	assert.Zero(t, result.Expired)

	var bal balancedomain.CreditBalance
	require.NoError(t, db.Where("org_id = ?", orgID).First(&bal).Error)
	assert.True(t, bal.AvailableCredits.Equal(decimal.NewFromInt(70)), "credits expire once")
}

func TestProcessExpiredCredits_CapsAtAvailable(t *testing.T) {
	db, svc, fake, _ := setupExpiryTest(t)
	orgID := testNode.Generate()
	userID := testNode.Generate()

	// Entity spent most of the grant before it lapsed.
	fundBalance(t, db, orgID, userID, 10)
	schedule(t, db, svc, orgID, userID, 30, fake.Now().Add(time.Hour))
	fake.Advance(2 * time.Hour)

	result, err := svc.ProcessExpiredCredits(context.Background(), "")
	require.NoError(t, err)

	assert.Equal(t, 1, result.Expired)
	assert.True(t, result.AmountExpired.Equal(decimal.NewFromInt(10)), "spent credits are not clawed back")

	var bal balancedomain.CreditBalance
	require.NoError(t, db.Where("org_id = ?", orgID).First(&bal).Error)
	assert.True(t, bal.AvailableCredits.IsZero())
}

func TestProcessExpiredCredits_UnfundedEntityExpiresNothing(t *testing.T) {
	db, svc, fake, _ := setupExpiryTest(t)
	orgID := testNode.Generate()
	userID := testNode.Generate()

	schedule(t, db, svc, orgID, userID, 30, fake.Now().Add(time.Hour))
	fake.Advance(2 * time.Hour)

	result, err := svc.ProcessExpiredCredits(context.Background(), "")
	require.NoError(t, err)

	assert.Equal(t, 1, result.Scanned)
	assert.True(t, result.AmountExpired.IsZero())

	var count int64
	require.NoError(t, db.Model(&ledgerdomain.CreditTransaction{}).Where("org_id = ?", orgID).Count(&count).Error)
	assert.Zero(t, count, "nothing to expire writes no ledger row")
}

func TestGetExpiringCredits_WindowDefaultsToConfig(t *testing.T) {
	db, svc, fake, _ := setupExpiryTest(t)
	orgID := testNode.Generate()
	userID := testNode.Generate()

	schedule(t, db, svc, orgID, userID, 10, fake.Now().AddDate(0, 0, 3))
	schedule(t, db, svc, orgID, userID, 20, fake.Now().AddDate(0, 0, 30))

	rows, err := svc.GetExpiringCredits(context.Background(), orgID, "", 0, 0)
	require.NoError(t, err)
	require.Len(t, rows, 1, "only schedules inside the warning window")
	assert.True(t, rows[0].Amount.Equal(decimal.NewFromInt(10)))
}

func TestGetExpiringCredits_FiltersByEntity(t *testing.T) {
	db, svc, fake, _ := setupExpiryTest(t)
	orgID := testNode.Generate()
	userA := testNode.Generate()
	userB := testNode.Generate()

	schedule(t, db, svc, orgID, userA, 10, fake.Now().AddDate(0, 0, 2))
	schedule(t, db, svc, orgID, userB, 20, fake.Now().AddDate(0, 0, 2))

	rows, err := svc.GetExpiringCredits(context.Background(), orgID, "User", userB, 0)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, userB, rows[0].EntityID)
	assert.True(t, rows[0].Amount.Equal(decimal.NewFromInt(20)))

	// Half a filter is a caller bug.
	_, err = svc.GetExpiringCredits(context.Background(), orgID, "user", 0, 0)
	assert.ErrorIs(t, err, domain.ErrInvalidEntity)
}

func TestSendExpiryWarnings_WarnsOnce(t *testing.T) {
	db, svc, fake, notifier := setupExpiryTest(t)
	orgID := testNode.Generate()
	userID := testNode.Generate()

	row, err := svc.Schedule(context.Background(), db, domain.ScheduleRequest{
		OrgID:       orgID,
		EntityType:  "user",
		EntityID:    userID,
		Amount:      decimal.NewFromInt(10),
		ExpiresAt:   fake.Now().AddDate(0, 0, 3),
		NotifyEmail: "owner@example.com",
	})
	require.NoError(t, err)

	warned, err := svc.SendExpiryWarnings(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, 1, warned)
	require.Len(t, notifier.sent, 1)
	assert.Equal(t, "owner@example.com", notifier.sent[0].Recipient)

	warned, err = svc.SendExpiryWarnings(context.Background(), 0)
	require.NoError(t, err)
	assert.Zero(t, warned, "warned rows are not re-sent")

	var stored domain.CreditExpiry
	require.NoError(t, db.First(&stored, "id = ?", row.ID).Error)
	assert.NotNil(t, stored.WarnedAt)
}

func TestSendExpiryWarnings_FailedSendRetriesNextRun(t *testing.T) {
	db, svc, fake, notifier := setupExpiryTest(t)
	orgID := testNode.Generate()
	userID := testNode.Generate()

	schedule(t, db, svc, orgID, userID, 10, fake.Now().AddDate(0, 0, 3))

	notifier.failing = true
	warned, err := svc.SendExpiryWarnings(context.Background(), 0)
	require.NoError(t, err)
	assert.Zero(t, warned)

	notifier.failing = false
	warned, err = svc.SendExpiryWarnings(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, 1, warned)
}

func TestSendExpiryWarnings_ExplicitWindowOverridesConfig(t *testing.T) {
	db, svc, fake, notifier := setupExpiryTest(t)
	orgID := testNode.Generate()
	userID := testNode.Generate()

	// Outside the configured 7-day window, inside an explicit 30-day one.
	schedule(t, db, svc, orgID, userID, 10, fake.Now().AddDate(0, 0, 20))

	warned, err := svc.SendExpiryWarnings(context.Background(), 0)
	require.NoError(t, err)
	assert.Zero(t, warned)

	warned, err = svc.SendExpiryWarnings(context.Background(), 30)
	require.NoError(t, err)
	assert.Equal(t, 1, warned)
	require.Len(t, notifier.sent, 1)
}

func TestProcessExpiredCredits_InactiveBalanceSettlesAtZero(t *testing.T) {
	db, svc, fake, _ := setupExpiryTest(t)
	orgID := testNode.Generate()
	userID := testNode.Generate()

	fundBalance(t, db, orgID, userID, 100)
	row := schedule(t, db, svc, orgID, userID, 30, fake.Now().Add(time.Hour))

	require.NoError(t, db.Model(&balancedomain.CreditBalance{}).
		Where("org_id = ? AND entity_id = ?", orgID, userID).
		Update("active", false).Error)

	fake.Advance(2 * time.Hour)

	result, err := svc.ProcessExpiredCredits(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, 1, result.Scanned)
	assert.True(t, result.AmountExpired.IsZero())

	var processed domain.CreditExpiry
	require.NoError(t, db.First(&processed, "id = ?", row.ID).Error)
	assert.NotNil(t, processed.ProcessedAt, "schedule settles instead of recycling")

	var bal balancedomain.CreditBalance
	require.NoError(t, db.Where("org_id = ?", orgID).First(&bal).Error)
	assert.True(t, bal.AvailableCredits.Equal(decimal.NewFromInt(100)))

	second, err := svc.ProcessExpiredCredits(context.Background(), "")
	require.NoError(t, err)
	assert.Zero(t, second.Scanned)
}
