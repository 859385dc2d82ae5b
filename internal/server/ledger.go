package server

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	ledgerdomain "github.com/smallbiznis/tally/internal/ledger/domain"
	"github.com/smallbiznis/tally/internal/statement"
	"github.com/smallbiznis/tally/pkg/db/pagination"
)

func (s *Server) listTransactions(c *gin.Context) {
	filter := ledgerdomain.HistoryFilter{
		Type:       ledgerdomain.TransactionType(strings.TrimSpace(c.Query("type"))),
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
	if from, ok := parseDateQuery(c, "start_date"); ok {
		filter.StartDate = from
	} else {
		return
	}
	if to, ok := parseDateQuery(c, "end_date"); ok {
		filter.EndDate = to
	} else {
		return
	}

	resp, err := s.ledgerSvc.GetHistory(c.Request.Context(), orgFrom(c), filter, paginationFrom(c))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) downloadStatement(c *gin.Context) {
	entityID, ok := parseEntityID(c.Param("entity_id"))
	if !ok {
		AbortWithError(c, newValidationError("entity_id", "invalid_entity", "entity_id must be a positive integer"))
		return
	}

	req := statement.Request{
		OrgID:      orgFrom(c),
		EntityType: c.Param("entity_type"),
		EntityID:   entityID,
	}
	if from, ok := parseDateQuery(c, "start_date"); ok {
		if from != nil {
			req.StartDate = *from
		}
	} else {
		return
	}
	if to, ok := parseDateQuery(c, "end_date"); ok {
		if to != nil {
			req.EndDate = *to
		}
	} else {
		return
	}

	doc, err := s.statementSvc.GenerateStatement(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.Header("Content-Disposition", `attachment; filename="statement.pdf"`)
	c.DataFromReader(http.StatusOK, -1, "application/pdf", doc, nil)
}

func paginationFrom(c *gin.Context) pagination.Pagination {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	return pagination.Pagination{Page: page, Limit: limit}.Normalize()
}

// parseDateQuery accepts RFC 3339 timestamps or plain dates. The second
// return value is false when the request was aborted.
func parseDateQuery(c *gin.Context, name string) (*time.Time, bool) {
	raw := strings.TrimSpace(c.Query(name))
	if raw == "" {
		return nil, true
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02"} {
		if t, err := time.Parse(layout, raw); err == nil {
			t = t.UTC()
			return &t, true
		}
	}
	AbortWithError(c, newValidationError(name, "invalid_date", name+" must be RFC 3339 or YYYY-MM-DD"))
	return nil, false
}
