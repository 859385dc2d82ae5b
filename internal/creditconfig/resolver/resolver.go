package resolver

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	configdomain "github.com/smallbiznis/tally/internal/creditconfig/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// step is one rung of the resolution chain. Each rung either matches or
// falls through to the next; the chain terminates at the built-in fallback.
type step struct {
	scope configdomain.Scope
	level configdomain.Level
}

// operationChain is the full resolution order for an operation code.
var operationChain = []step{
	{configdomain.ScopeOrganization, configdomain.LevelOperation},
	{configdomain.ScopeOrganization, configdomain.LevelModule},
	{configdomain.ScopeOrganization, configdomain.LevelApplication},
	{configdomain.ScopeGlobal, configdomain.LevelOperation},
	{configdomain.ScopeGlobal, configdomain.LevelModule},
	{configdomain.ScopeGlobal, configdomain.LevelApplication},
}

var moduleChain = []step{
	{configdomain.ScopeOrganization, configdomain.LevelModule},
	{configdomain.ScopeOrganization, configdomain.LevelApplication},
	{configdomain.ScopeGlobal, configdomain.LevelModule},
	{configdomain.ScopeGlobal, configdomain.LevelApplication},
}

var appChain = []step{
	{configdomain.ScopeOrganization, configdomain.LevelApplication},
	{configdomain.ScopeGlobal, configdomain.LevelApplication},
}

type Params struct {
	fx.In

	DB   *gorm.DB
	Log  *zap.Logger
	Repo configdomain.Repository
}

type Resolver struct {
	db   *gorm.DB
	log  *zap.Logger
	repo configdomain.Repository
}

func New(p Params) configdomain.Resolver {
	return &Resolver{
		db:   p.DB,
		log:  p.Log.Named("creditconfig.resolver"),
		repo: p.Repo,
	}
}

func (r *Resolver) ResolveOperation(ctx context.Context, code string, orgID snowflake.ID) (configdomain.EffectiveConfig, error) {
	code = normalize(code)
	return r.resolve(ctx, operationChain, code, ModuleOf(code), orgID)
}

func (r *Resolver) ResolveModule(ctx context.Context, code string, orgID snowflake.ID) (configdomain.EffectiveConfig, error) {
	code = normalize(code)
	return r.resolve(ctx, moduleChain, code, code, orgID)
}

func (r *Resolver) ResolveApp(ctx context.Context, orgID snowflake.ID) (configdomain.EffectiveConfig, error) {
	return r.resolve(ctx, appChain, configdomain.DefaultAppCode, configdomain.DefaultAppCode, orgID)
}

// resolve walks the chain from the given rung. A matched row flagged as
// inherited merges its overridden fields over whatever the rest of the
// chain resolves to. moduleCode is the module consulted at module rungs; an
// operation row that declares its owning module replaces it for the rest of
// the walk.
func (r *Resolver) resolve(ctx context.Context, chain []step, code, moduleCode string, orgID snowflake.ID) (configdomain.EffectiveConfig, error) {
	for i, rung := range chain {
		if rung.scope == configdomain.ScopeOrganization && orgID == 0 {
			continue
		}

		var scopedOrg *snowflake.ID
		if rung.scope == configdomain.ScopeOrganization {
			scopedOrg = &orgID
		}

		row, err := r.repo.FindActive(ctx, r.db, rung.scope, scopedOrg, rung.level, codeForLevel(rung.level, code, moduleCode))
		if err != nil {
			// Resolution must not fail the consumption path; log and keep
			// walking toward the fallback.
			r.log.Warn("config lookup failed",
				zap.String("scope", string(rung.scope)),
				zap.String("level", string(rung.level)),
				zap.String("code", code),
				zap.Error(err),
			)
			continue
		}
		if row == nil {
			continue
		}

		effective := fromRow(code, row)
		if !row.Inherited {
			return effective, nil
		}

		if declared := normalize(row.ModuleCode); declared != "" {
			moduleCode = declared
		}
		base, err := r.resolve(ctx, chain[i+1:], code, moduleCode, orgID)
		if err != nil {
			return effective, nil
		}
		return mergeInherited(effective, base), nil
	}

	return fallback(code), nil
}

// codeForLevel maps an operation code onto the code used at a given rung:
// module rungs look up the owning module, the application rung uses the
// single app code.
func codeForLevel(level configdomain.Level, code, moduleCode string) string {
	switch level {
	case configdomain.LevelModule:
		return moduleCode
	case configdomain.LevelApplication:
		return configdomain.DefaultAppCode
	default:
		return code
	}
}

// ModuleOf derives the owning module from a namespaced operation code
// ("crm.contacts.create" belongs to "crm"). A code with no namespace is its
// own module.
func ModuleOf(code string) string {
	if idx := strings.IndexByte(code, '.'); idx > 0 {
		return code[:idx]
	}
	return code
}

func fromRow(code string, row *configdomain.CreditConfig) configdomain.EffectiveConfig {
	return configdomain.EffectiveConfig{
		Code:                code,
		CreditCost:          row.CreditCost,
		Unit:                row.Unit,
		UnitMultiplier:      row.UnitMultiplier,
		FreeAllowance:       row.FreeAllowance,
		FreeAllowancePeriod: row.FreeAllowancePeriod,
		VolumeTiers:         row.VolumeTiers,
		AllowOverage:        row.AllowOverage,
		OverageLimit:        row.OverageLimit,
		OveragePeriod:       row.OveragePeriod,
		OverageCost:         row.OverageCost,
		Priority:            row.Priority,
		Source: configdomain.ResolutionSource{
			Scope: row.Scope,
			Level: row.Level,
		},
	}
}

// mergeInherited overlays the override's set fields on the inherited base.
// A zero cost, empty unit, or empty allowance block falls through to the
// base config.
func mergeInherited(override, base configdomain.EffectiveConfig) configdomain.EffectiveConfig {
	merged := base
	merged.Code = override.Code
	merged.Source = override.Source
	merged.Priority = override.Priority

	if override.CreditCost.Sign() > 0 {
		merged.CreditCost = override.CreditCost
	}
	if override.Unit != "" {
		merged.Unit = override.Unit
	}
	if override.UnitMultiplier.Sign() > 0 {
		merged.UnitMultiplier = override.UnitMultiplier
	}
	if override.FreeAllowance.Sign() > 0 {
		merged.FreeAllowance = override.FreeAllowance
		merged.FreeAllowancePeriod = override.FreeAllowancePeriod
	}
	if len(override.VolumeTiers) > 0 {
		merged.VolumeTiers = override.VolumeTiers
	}
	if override.AllowOverage {
		merged.AllowOverage = true
		merged.OverageLimit = override.OverageLimit
		merged.OveragePeriod = override.OveragePeriod
		merged.OverageCost = override.OverageCost
	}
	return merged
}

func fallback(code string) configdomain.EffectiveConfig {
	return configdomain.EffectiveConfig{
		Code:           code,
		CreditCost:     configdomain.FallbackCost,
		Unit:           configdomain.UnitOperation,
		UnitMultiplier: decimal.NewFromInt(1),
		Source: configdomain.ResolutionSource{
			Fallback: true,
		},
	}
}

func normalize(code string) string {
	return strings.ToLower(strings.TrimSpace(code))
}
