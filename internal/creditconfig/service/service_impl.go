package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gosimple/slug"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/tally/internal/authorization"
	configdomain "github.com/smallbiznis/tally/internal/creditconfig/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	GenID    *snowflake.Node
	Repo     configdomain.Repository
	AuthzSvc authorization.Service
}

type Service struct {
	db       *gorm.DB
	log      *zap.Logger
	genID    *snowflake.Node
	repo     configdomain.Repository
	authzSvc authorization.Service
}

func NewService(p Params) configdomain.Service {
	return &Service{
		db:       p.DB,
		log:      p.Log.Named("creditconfig.service"),
		genID:    p.GenID,
		repo:     p.Repo,
		authzSvc: p.AuthzSvc,
	}
}

// SetConfig writes a new active config row for one rung of the hierarchy.
// Validation happens here, at write time, so consumption never sees a
// malformed tier list or contradictory overage settings.
func (s *Service) SetConfig(ctx context.Context, req configdomain.SetConfigRequest) (*configdomain.CreditConfig, error) {
	if err := validate(&req); err != nil {
		return nil, err
	}

	scope := configdomain.ScopeGlobal
	if req.OrgID != nil {
		scope = configdomain.ScopeOrganization
		if *req.OrgID == 0 {
			return nil, configdomain.ErrInvalidOrganization
		}
		if err := s.authzSvc.Can(ctx, *req.OrgID, req.UserID, authorization.ActionConfigManage); err != nil {
			return nil, err
		}
	}

	now := time.Now().UTC()
	row := &configdomain.CreditConfig{
		ID:                  s.genID.Generate(),
		Scope:               scope,
		OrgID:               req.OrgID,
		Level:               req.Level,
		Code:                req.Code,
		ModuleCode:          req.ModuleCode,
		CreditCost:          req.CreditCost,
		Unit:                req.Unit,
		UnitMultiplier:      req.UnitMultiplier,
		FreeAllowance:       req.FreeAllowance,
		FreeAllowancePeriod: req.FreeAllowancePeriod,
		VolumeTiers:         datatypes.NewJSONSlice(req.VolumeTiers),
		AllowOverage:        req.AllowOverage,
		OverageLimit:        req.OverageLimit,
		OveragePeriod:       req.OveragePeriod,
		OverageCost:         req.OverageCost,
		Priority:            req.Priority,
		Inherited:           req.Inherited,
		Active:              true,
		CreatedAt:           now,
		UpdatedAt:           now,
	}
	if req.UserID != 0 {
		actor := req.UserID
		row.CreatedBy = &actor
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.repo.DeactivateActive(ctx, tx, scope, req.OrgID, req.Level, req.Code); err != nil {
			return err
		}
		return s.repo.Insert(ctx, tx, row)
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("credit config updated",
		zap.String("scope", string(scope)),
		zap.String("level", string(req.Level)),
		zap.String("code", req.Code),
	)
	return row, nil
}

func (s *Service) ListConfigs(ctx context.Context, level configdomain.Level, orgID *snowflake.ID) ([]configdomain.CreditConfig, error) {
	if !validLevel(level) {
		return nil, configdomain.ErrInvalidLevel
	}
	scope := configdomain.ScopeGlobal
	if orgID != nil {
		scope = configdomain.ScopeOrganization
	}
	return s.repo.List(ctx, s.db, scope, orgID, level)
}

func validate(req *configdomain.SetConfigRequest) error {
	if !validLevel(req.Level) {
		return configdomain.ErrInvalidLevel
	}

	req.Code = NormalizeCode(req.Code)
	if req.Level == configdomain.LevelApplication && req.Code == "" {
		req.Code = configdomain.DefaultAppCode
	}
	if req.Code == "" {
		return configdomain.ErrInvalidCode
	}
	req.ModuleCode = NormalizeCode(req.ModuleCode)

	// Inherited rows may leave cost unset; a standalone row must price.
	if req.CreditCost.IsNegative() || (!req.Inherited && req.CreditCost.IsZero() && len(req.VolumeTiers) == 0) {
		return configdomain.ErrInvalidCost
	}
	if req.Unit == "" {
		req.Unit = configdomain.UnitOperation
	}
	if !req.Unit.Valid() {
		return configdomain.ErrInvalidUnit
	}
	if req.UnitMultiplier.IsNegative() {
		return configdomain.ErrInvalidCost
	}
	if req.UnitMultiplier.IsZero() {
		req.UnitMultiplier = decimal.NewFromInt(1)
	}

	if req.FreeAllowance.IsNegative() {
		return configdomain.ErrInvalidCost
	}
	if req.FreeAllowance.Sign() > 0 {
		if req.FreeAllowancePeriod == "" {
			req.FreeAllowancePeriod = configdomain.PeriodMonthly
		}
		if !req.FreeAllowancePeriod.Valid() {
			return configdomain.ErrInvalidPeriod
		}
	}

	if err := configdomain.ValidateTiers(req.VolumeTiers); err != nil {
		return err
	}

	// Overage settings without overage enabled are contradictory.
	if !req.AllowOverage && (req.OverageLimit.Sign() > 0 || req.OverageCost.Sign() > 0 || req.OveragePeriod != "") {
		return configdomain.ErrInvalidOverage
	}
	if req.AllowOverage {
		if req.OverageLimit.IsNegative() || req.OverageCost.IsNegative() {
			return configdomain.ErrInvalidOverage
		}
		if req.OveragePeriod == "" {
			req.OveragePeriod = req.FreeAllowancePeriod
		}
		if req.OveragePeriod != "" && !req.OveragePeriod.Valid() {
			return configdomain.ErrInvalidPeriod
		}
	}

	return nil
}

// NormalizeCode slugs each namespace segment so "CRM.Contacts Create"
// becomes "crm.contacts-create" while keeping the module namespace intact.
func NormalizeCode(code string) string {
	code = strings.TrimSpace(code)
	if code == "" {
		return ""
	}
	parts := strings.Split(code, ".")
	for i, part := range parts {
		parts[i] = slug.Make(part)
	}
	return strings.Join(parts, ".")
}

func validLevel(level configdomain.Level) bool {
	switch level {
	case configdomain.LevelOperation, configdomain.LevelModule, configdomain.LevelApplication:
		return true
	default:
		return false
	}
}
