package server

import (
	"net/http"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	transferdomain "github.com/smallbiznis/tally/internal/transfer/domain"
)

type transferRequest struct {
	FromEntityType string                 `json:"from_entity_type"`
	FromEntityID   int64                  `json:"from_entity_id"`
	ToEntityType   string                 `json:"to_entity_type"`
	ToEntityID     int64                  `json:"to_entity_id"`
	Amount         decimal.Decimal        `json:"amount"`
	OperationID    string                 `json:"operation_id"`
	Description    string                 `json:"description"`
	Metadata       map[string]interface{} `json:"metadata"`
}

func (s *Server) transferCredits(c *gin.Context) {
	var req transferRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.transferSvc.Transfer(c.Request.Context(), transferdomain.TransferRequest{
		OrgID:          orgFrom(c),
		FromEntityType: req.FromEntityType,
		FromEntityID:   snowflake.ID(req.FromEntityID),
		ToEntityType:   req.ToEntityType,
		ToEntityID:     snowflake.ID(req.ToEntityID),
		Amount:         req.Amount,
		OperationID:    req.OperationID,
		Description:    req.Description,
		InitiatedBy:    actorFrom(c),
		Metadata:       req.Metadata,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}
