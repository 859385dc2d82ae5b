package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

func (s *Server) getBalance(c *gin.Context) {
	entityID, ok := parseEntityID(c.Param("entity_id"))
	if !ok {
		AbortWithError(c, newValidationError("entity_id", "invalid_entity", "entity_id must be a positive integer"))
		return
	}

	resp, err := s.balanceSvc.GetBalance(c.Request.Context(), orgFrom(c), c.Param("entity_type"), entityID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) deactivateBalance(c *gin.Context) {
	entityID, ok := parseEntityID(c.Param("entity_id"))
	if !ok {
		AbortWithError(c, newValidationError("entity_id", "invalid_entity", "entity_id must be a positive integer"))
		return
	}

	err := s.balanceSvc.Deactivate(c.Request.Context(), orgFrom(c), c.Param("entity_type"), entityID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": gin.H{"deactivated": true}})
}
