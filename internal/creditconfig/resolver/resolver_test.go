package resolver

import (
	"context"
	"testing"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	configdomain "github.com/smallbiznis/tally/internal/creditconfig/domain"
	"github.com/smallbiznis/tally/internal/creditconfig/repository"
	"github.com/shopspring/decimal"
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

func setupResolverTest(t *testing.T) (*gorm.DB, *Resolver) {
	db, err := gorm.Open(sqlite.Open("file::memory:?cache=shared"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&configdomain.CreditConfig{}))

	r := &Resolver{
		db:   db,
		log:  zap.NewNop(),
		repo: repository.Provide(),
	}
	return db, r
}

func seedConfig(t *testing.T, db *gorm.DB, row configdomain.CreditConfig) {
	t.Helper()
	row.ID = testNode.Generate()
	row.Active = true
	if row.Unit == "" {
		row.Unit = configdomain.UnitOperation
	}
	if row.UnitMultiplier.IsZero() {
		row.UnitMultiplier = decimal.NewFromInt(1)
	}
	require.NoError(t, db.Create(&row).Error)
}

func TestResolveOperation_OrgOverrideWins(t *testing.T) {
	db, r := setupResolverTest(t)
	orgID := testNode.Generate()

	seedConfig(t, db, configdomain.CreditConfig{
		Scope:      configdomain.ScopeGlobal,
		Level:      configdomain.LevelOperation,
		Code:       "crm.contacts.export",
		CreditCost: decimal.NewFromInt(5),
	})
	seedConfig(t, db, configdomain.CreditConfig{
		Scope:      configdomain.ScopeOrganization,
		OrgID:      &orgID,
		Level:      configdomain.LevelOperation,
		Code:       "crm.contacts.export",
		CreditCost: decimal.NewFromInt(2),
	})

	cfg, err := r.ResolveOperation(context.Background(), "crm.contacts.export", orgID)
	require.NoError(t, err)

	assert.True(t, cfg.CreditCost.Equal(decimal.NewFromInt(2)))
	assert.Equal(t, configdomain.ScopeOrganization, cfg.Source.Scope)
	assert.Equal(t, configdomain.LevelOperation, cfg.Source.Level)
	assert.False(t, cfg.Source.Fallback)
}

func TestResolveOperation_FallsThroughToModule(t *testing.T) {
	db, r := setupResolverTest(t)
	orgID := testNode.Generate()

	seedConfig(t, db, configdomain.CreditConfig{
		Scope:      configdomain.ScopeGlobal,
		Level:      configdomain.LevelModule,
		Code:       "billing",
		CreditCost: decimal.NewFromInt(3),
	})

	cfg, err := r.ResolveOperation(context.Background(), "billing.invoices.send", orgID)
	require.NoError(t, err)

	assert.True(t, cfg.CreditCost.Equal(decimal.NewFromInt(3)))
	assert.Equal(t, configdomain.ScopeGlobal, cfg.Source.Scope)
	assert.Equal(t, configdomain.LevelModule, cfg.Source.Level)
	assert.Equal(t, "billing.invoices.send", cfg.Code, "code reports the requested operation, not the rung")
}

func TestResolveOperation_BuiltInFallback(t *testing.T) {
	_, r := setupResolverTest(t)

	cfg, err := r.ResolveOperation(context.Background(), "nothing.configured.here", testNode.Generate())
	require.NoError(t, err)

	assert.True(t, cfg.CreditCost.Equal(configdomain.FallbackCost))
	assert.Equal(t, configdomain.UnitOperation, cfg.Unit)
	assert.True(t, cfg.Source.Fallback)
}

func TestResolveOperation_InheritedMergesOverBase(t *testing.T) {
	db, r := setupResolverTest(t)
	orgID := testNode.Generate()

	seedConfig(t, db, configdomain.CreditConfig{
		Scope:      configdomain.ScopeGlobal,
		Level:      configdomain.LevelOperation,
		Code:       "ai.completions.run",
		CreditCost: decimal.NewFromInt(4),
		Unit:       configdomain.UnitRecord,
	})
	// Org row only grants an allowance; cost inherits from the global row.
	seedConfig(t, db, configdomain.CreditConfig{
		Scope:               configdomain.ScopeOrganization,
		OrgID:               &orgID,
		Level:               configdomain.LevelOperation,
		Code:                "ai.completions.run",
		FreeAllowance:       decimal.NewFromInt(100),
		FreeAllowancePeriod: configdomain.PeriodMonthly,
		Inherited:           true,
	})

	cfg, err := r.ResolveOperation(context.Background(), "ai.completions.run", orgID)
	require.NoError(t, err)

	assert.True(t, cfg.CreditCost.Equal(decimal.NewFromInt(4)), "cost inherited from global row")
	assert.Equal(t, configdomain.UnitRecord, cfg.Unit)
	assert.True(t, cfg.FreeAllowance.Equal(decimal.NewFromInt(100)))
	assert.Equal(t, configdomain.ScopeOrganization, cfg.Source.Scope)
}

func TestResolveOperation_ZeroOrgSkipsOrgRungs(t *testing.T) {
	db, r := setupResolverTest(t)

	seedConfig(t, db, configdomain.CreditConfig{
		Scope:      configdomain.ScopeGlobal,
		Level:      configdomain.LevelOperation,
		Code:       "search.queries.run",
		CreditCost: decimal.NewFromInt(7),
	})

	cfg, err := r.ResolveOperation(context.Background(), "search.queries.run", 0)
	require.NoError(t, err)
	assert.Equal(t, configdomain.ScopeGlobal, cfg.Source.Scope)
	assert.True(t, cfg.CreditCost.Equal(decimal.NewFromInt(7)))
}

func TestResolveOperation_DeclaredModuleBeatsNamespacePrefix(t *testing.T) {
	db, r := setupResolverTest(t)
	orgID := testNode.Generate()

	seedConfig(t, db, configdomain.CreditConfig{
		Scope:      configdomain.ScopeGlobal,
		Level:      configdomain.LevelModule,
		Code:       "docs",
		CreditCost: decimal.NewFromInt(3),
	})
	seedConfig(t, db, configdomain.CreditConfig{
		Scope:      configdomain.ScopeGlobal,
		Level:      configdomain.LevelModule,
		Code:       "exports",
		CreditCost: decimal.NewFromInt(7),
	})
	// The operation lives under the docs namespace but bills to the exports
	// module.
	seedConfig(t, db, configdomain.CreditConfig{
		Scope:      configdomain.ScopeOrganization,
		OrgID:      &orgID,
		Level:      configdomain.LevelOperation,
		Code:       "docs.generate",
		ModuleCode: "exports",
		Inherited:  true,
	})

	cfg, err := r.ResolveOperation(context.Background(), "docs.generate", orgID)
	require.NoError(t, err)
	assert.True(t, cfg.CreditCost.Equal(decimal.NewFromInt(7)), "cost comes from the declared module, not the prefix")

	// Without a declared module the prefix still decides.
	cfg, err = r.ResolveOperation(context.Background(), "docs.render", orgID)
	require.NoError(t, err)
	assert.True(t, cfg.CreditCost.Equal(decimal.NewFromInt(3)))
}

func TestResolveApp_UsesPlatformCode(t *testing.T) {
	db, r := setupResolverTest(t)
	orgID := testNode.Generate()

	seedConfig(t, db, configdomain.CreditConfig{
		Scope:      configdomain.ScopeGlobal,
		Level:      configdomain.LevelApplication,
		Code:       configdomain.DefaultAppCode,
		CreditCost: decimal.NewFromInt(9),
	})

	cfg, err := r.ResolveApp(context.Background(), orgID)
	require.NoError(t, err)
	assert.True(t, cfg.CreditCost.Equal(decimal.NewFromInt(9)))
	assert.Equal(t, configdomain.LevelApplication, cfg.Source.Level)
}

func TestModuleOf(t *testing.T) {
	assert.Equal(t, "crm", ModuleOf("crm.contacts.create"))
	assert.Equal(t, "crm", ModuleOf("crm.contacts"))
	assert.Equal(t, "standalone", ModuleOf("standalone"))
}
