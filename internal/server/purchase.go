package server

import (
	"net/http"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	purchasedomain "github.com/smallbiznis/tally/internal/purchase/domain"
)

type purchaseRequest struct {
	EntityType    string          `json:"entity_type"`
	EntityID      int64           `json:"entity_id"`
	Credits       decimal.Decimal `json:"credits"`
	ExpiresInDays int             `json:"expires_in_days"`
	NotifyEmail   string          `json:"notify_email"`
}

type settlePurchaseRequest struct {
	PaymentReference string `json:"payment_reference"`
	Reason           string `json:"reason"`
}

func (s *Server) purchaseCredits(c *gin.Context) {
	var req purchaseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.purchaseSvc.PurchaseCredits(c.Request.Context(), purchasedomain.PurchaseRequest{
		OrgID:         orgFrom(c),
		EntityType:    req.EntityType,
		EntityID:      snowflake.ID(req.EntityID),
		Credits:       req.Credits,
		ExpiresInDays: req.ExpiresInDays,
		NotifyEmail:   req.NotifyEmail,
		RequestedBy:   actorFrom(c),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) confirmPurchase(c *gin.Context) {
	var req settlePurchaseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.purchaseSvc.ConfirmPayment(c.Request.Context(), orgFrom(c), c.Param("reference"), req.PaymentReference)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) failPurchase(c *gin.Context) {
	var req settlePurchaseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.purchaseSvc.FailPayment(c.Request.Context(), orgFrom(c), c.Param("reference"), req.Reason)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) getPurchase(c *gin.Context) {
	resp, err := s.purchaseSvc.GetPurchase(c.Request.Context(), orgFrom(c), c.Param("reference"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) listPurchases(c *gin.Context) {
	filter := purchasedomain.ListFilter{
		Status:     purchasedomain.PurchaseStatus(strings.TrimSpace(c.Query("status"))),
		EntityType: strings.TrimSpace(c.Query("entity_type")),
	}
	if raw := c.Query("entity_id"); raw != "" {
		id, ok := parseEntityID(raw)
		if !ok {
			AbortWithError(c, newValidationError("entity_id", "invalid_entity", "entity_id must be a positive integer"))
			return
		}
		filter.EntityID = id
	}

	resp, err := s.purchaseSvc.ListPurchases(c.Request.Context(), orgFrom(c), filter, paginationFrom(c))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}
