package authorization

import (
	"context"
	_ "embed"
	"errors"
	"fmt"

	"github.com/bwmarrin/snowflake"
	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
	gormadapter "github.com/casbin/gorm-adapter/v3"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

//go:embed model.conf
var modelText string

const (
	RoleAdmin  = "admin"
	RoleMember = "member"
)

const (
	ActionConfigManage = "credit_config.manage"
	ActionSweepTrigger = "expiry_sweep.trigger"
	ActionBalanceView  = "balance.view"
	ActionLedgerView   = "ledger.view"
)

var ErrForbidden = errors.New("forbidden")

// Service answers whether an actor may perform an admin action within an
// org. Identity resolution itself is external; callers hand in the actor ID
// they already authenticated.
type Service interface {
	Can(ctx context.Context, orgID, userID snowflake.ID, action string) error
	GrantRole(ctx context.Context, orgID, userID snowflake.ID, role string) error
}

type Params struct {
	fx.In

	DB  *gorm.DB
	Log *zap.Logger
}

type service struct {
	enforcer *casbin.Enforcer
	log      *zap.Logger
}

func NewService(p Params) (Service, error) {
	m, err := model.NewModelFromString(modelText)
	if err != nil {
		return nil, fmt.Errorf("parse authorization model: %w", err)
	}

	adapter, err := gormadapter.NewAdapterByDB(p.DB)
	if err != nil {
		return nil, fmt.Errorf("create authorization adapter: %w", err)
	}

	enforcer, err := casbin.NewEnforcer(m, adapter)
	if err != nil {
		return nil, fmt.Errorf("create authorization enforcer: %w", err)
	}

	if err := ensureRolePolicies(enforcer); err != nil {
		return nil, err
	}

	return &service{
		enforcer: enforcer,
		log:      p.Log.Named("authorization.service"),
	}, nil
}

func (s *service) Can(ctx context.Context, orgID, userID snowflake.ID, action string) error {
	if orgID == 0 || userID == 0 {
		return ErrForbidden
	}
	allowed, err := s.enforcer.Enforce(userID.String(), orgID.String(), action)
	if err != nil {
		return err
	}
	if !allowed {
		return ErrForbidden
	}
	return nil
}

func (s *service) GrantRole(ctx context.Context, orgID, userID snowflake.ID, role string) error {
	_, err := s.enforcer.AddGroupingPolicy(userID.String(), role, orgID.String())
	return err
}

func ensureRolePolicies(enforcer *casbin.Enforcer) error {
	policies := [][]string{
		{RoleAdmin, "*", ActionConfigManage},
		{RoleAdmin, "*", ActionSweepTrigger},
		{RoleAdmin, "*", ActionBalanceView},
		{RoleAdmin, "*", ActionLedgerView},
		{RoleMember, "*", ActionBalanceView},
		{RoleMember, "*", ActionLedgerView},
	}
	for _, policy := range policies {
		if _, err := enforcer.AddPolicy(policy[0], policy[1], policy[2]); err != nil {
			return err
		}
	}
	return nil
}

var Module = fx.Module("authorization",
	fx.Provide(NewService),
)
