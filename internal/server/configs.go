package server

import (
	"net/http"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	configdomain "github.com/smallbiznis/tally/internal/creditconfig/domain"
)

type setConfigRequest struct {
	Level               configdomain.Level           `json:"level"`
	Code                string                       `json:"code"`
	ModuleCode          string                       `json:"module_code"`
	CreditCost          decimal.Decimal              `json:"credit_cost"`
	Unit                configdomain.Unit            `json:"unit"`
	UnitMultiplier      decimal.Decimal              `json:"unit_multiplier"`
	FreeAllowance       decimal.Decimal              `json:"free_allowance"`
	FreeAllowancePeriod configdomain.AllowancePeriod `json:"free_allowance_period"`
	VolumeTiers         []configdomain.VolumeTier    `json:"volume_tiers"`
	AllowOverage        bool                         `json:"allow_overage"`
	OverageLimit        decimal.Decimal              `json:"overage_limit"`
	OveragePeriod       configdomain.AllowancePeriod `json:"overage_period"`
	OverageCost         decimal.Decimal              `json:"overage_cost"`
	Priority            int                          `json:"priority"`
	Inherited           bool                         `json:"inherited"`
}

func (r setConfigRequest) toDomain(orgID *snowflake.ID, userID snowflake.ID) configdomain.SetConfigRequest {
	return configdomain.SetConfigRequest{
		Level:               r.Level,
		Code:                r.Code,
		ModuleCode:          r.ModuleCode,
		OrgID:               orgID,
		CreditCost:          r.CreditCost,
		Unit:                r.Unit,
		UnitMultiplier:      r.UnitMultiplier,
		FreeAllowance:       r.FreeAllowance,
		FreeAllowancePeriod: r.FreeAllowancePeriod,
		VolumeTiers:         r.VolumeTiers,
		AllowOverage:        r.AllowOverage,
		OverageLimit:        r.OverageLimit,
		OveragePeriod:       r.OveragePeriod,
		OverageCost:         r.OverageCost,
		Priority:            r.Priority,
		Inherited:           r.Inherited,
		UserID:              userID,
	}
}

func (s *Server) setConfig(c *gin.Context) {
	var req setConfigRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	orgID := orgFrom(c)
	resp, err := s.configSvc.SetConfig(c.Request.Context(), req.toDomain(&orgID, actorFrom(c)))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

// setGlobalConfig writes a platform-wide default row that every org
// inherits unless it carries its own override.
func (s *Server) setGlobalConfig(c *gin.Context) {
	var req setConfigRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.configSvc.SetConfig(c.Request.Context(), req.toDomain(nil, actorFrom(c)))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) listConfigs(c *gin.Context) {
	orgID := orgFrom(c)
	resp, err := s.configSvc.ListConfigs(c.Request.Context(), configdomain.Level(c.Param("level")), &orgID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) listGlobalConfigs(c *gin.Context) {
	resp, err := s.configSvc.ListConfigs(c.Request.Context(), configdomain.Level(c.Param("level")), nil)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) resolveOperation(c *gin.Context) {
	resp, err := s.resolver.ResolveOperation(c.Request.Context(), c.Param("code"), orgFrom(c))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}
