package server

import (
	"strconv"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/tally/pkg/tenantctx"
)

const (
	orgHeader   = "X-Org-ID"
	actorHeader = "X-User-ID"

	orgContextKey   = "org_id"
	actorContextKey = "actor_id"
)

// RequireOrg resolves the tenant from the X-Org-ID header. Identity is
// established upstream (gateway or reverse proxy); this service only scopes
// data access to the resolved org.
func RequireOrg() gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := strings.TrimSpace(c.GetHeader(orgHeader))
		if raw == "" {
			AbortWithError(c, newValidationError("org_id", "missing_org", "X-Org-ID header is required"))
			return
		}
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || id <= 0 {
			AbortWithError(c, newValidationError("org_id", "invalid_org", "X-Org-ID header must be a positive integer"))
			return
		}

		orgID := snowflake.ID(id)
		c.Set(orgContextKey, orgID)
		c.Request = c.Request.WithContext(tenantctx.WithOrgID(c.Request.Context(), orgID))

		if actor := strings.TrimSpace(c.GetHeader(actorHeader)); actor != "" {
			if actorID, err := strconv.ParseInt(actor, 10, 64); err == nil && actorID > 0 {
				c.Set(actorContextKey, snowflake.ID(actorID))
			}
		}

		c.Next()
	}
}

func orgFrom(c *gin.Context) snowflake.ID {
	if v, ok := c.Get(orgContextKey); ok {
		if id, ok := v.(snowflake.ID); ok {
			return id
		}
	}
	return 0
}

func actorFrom(c *gin.Context) snowflake.ID {
	if v, ok := c.Get(actorContextKey); ok {
		if id, ok := v.(snowflake.ID); ok {
			return id
		}
	}
	return 0
}

func parseEntityID(raw string) (snowflake.ID, bool) {
	id, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return snowflake.ID(id), true
}
