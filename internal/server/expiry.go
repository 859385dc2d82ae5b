package server

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/tally/internal/authorization"
)

func (s *Server) listExpiringCredits(c *gin.Context) {
	daysAhead := 0
	if raw := strings.TrimSpace(c.Query("days_ahead")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			AbortWithError(c, newValidationError("days_ahead", "invalid_days_ahead", "days_ahead must be a positive integer"))
			return
		}
		daysAhead = parsed
	}

	entityType := strings.TrimSpace(c.Query("entity_type"))
	var entityID snowflake.ID
	if raw := strings.TrimSpace(c.Query("entity_id")); raw != "" {
		parsed, ok := parseEntityID(raw)
		if !ok {
			AbortWithError(c, newValidationError("entity_id", "invalid_entity", "entity_id must be a positive integer"))
			return
		}
		entityID = parsed
	}

	resp, err := s.expirySvc.GetExpiringCredits(c.Request.Context(), orgFrom(c), entityType, entityID, daysAhead)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

// triggerExpirySweep runs the sweep on demand, outside the scheduler's
// cadence. Admin only.
func (s *Server) triggerExpirySweep(c *gin.Context) {
	if err := s.authzSvc.Can(c.Request.Context(), orgFrom(c), actorFrom(c), authorization.ActionSweepTrigger); err != nil {
		AbortWithError(c, err)
		return
	}

	resp, err := s.expirySvc.ProcessExpiredCredits(c.Request.Context(), "")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

type grantRoleRequest struct {
	UserID int64  `json:"user_id"`
	Role   string `json:"role"`
}

func (s *Server) grantRole(c *gin.Context) {
	var req grantRoleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	userID, ok := parseEntityID(strconv.FormatInt(req.UserID, 10))
	if !ok {
		AbortWithError(c, newValidationError("user_id", "invalid_user", "user_id must be a positive integer"))
		return
	}

	if err := s.authzSvc.GrantRole(c.Request.Context(), orgFrom(c), userID, req.Role); err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": gin.H{"granted": true}})
}
