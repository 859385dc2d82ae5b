package server

import (
	"net/http"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	consumptiondomain "github.com/smallbiznis/tally/internal/consumption/domain"
)

type consumeRequest struct {
	EntityType    string                 `json:"entity_type"`
	EntityID      int64                  `json:"entity_id"`
	OperationCode string                 `json:"operation_code"`
	Units         decimal.Decimal        `json:"units"`
	OperationID   string                 `json:"operation_id"`
	Description   string                 `json:"description"`
	RequestedCost *decimal.Decimal       `json:"requested_cost"`
	Metadata      map[string]interface{} `json:"metadata"`
}

func (r consumeRequest) toDomain(c *gin.Context) consumptiondomain.ConsumeRequest {
	return consumptiondomain.ConsumeRequest{
		OrgID:         orgFrom(c),
		EntityType:    r.EntityType,
		EntityID:      snowflake.ID(r.EntityID),
		OperationCode: r.OperationCode,
		Units:         r.Units,
		OperationID:   r.OperationID,
		Description:   r.Description,
		RequestedCost: r.RequestedCost,
		InitiatedBy:   actorFrom(c),
		Metadata:      r.Metadata,
	}
}

func (s *Server) consumeCredits(c *gin.Context) {
	var req consumeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	c.Set("operation_code", req.OperationCode)

	resp, err := s.consumptionSvc.Consume(c.Request.Context(), req.toDomain(c))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) checkCredits(c *gin.Context) {
	var req consumeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	c.Set("operation_code", req.OperationCode)

	resp, err := s.consumptionSvc.Check(c.Request.Context(), req.toDomain(c))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}
