package server

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/roach88/membersync/internal/ir"
	"github.com/roach88/membersync/internal/store"
)

// listRuns serves GET /api/audit/runs?limit=&direction=.
func (s *Server) listRuns(c *gin.Context) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if err != nil || limit < 1 {
		WriteError(c, http.StatusBadRequest, "VALIDATION_FAILED", "limit must be a positive integer")
		return
	}
	var d ir.Direction
	if v := c.Query("direction"); v != "" {
		var ok bool
		if d, ok = ir.ParseDirection(v); !ok {
			WriteError(c, http.StatusBadRequest, "VALIDATION_FAILED", "unknown direction "+v)
			return
		}
	}

	runs, err := s.deps.Store.ListRuns(c.Request.Context(), d, min(limit, 1000))
	if err != nil {
		s.writeErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"runs": runs})
}

// SideHealth is one ledger's queue health.
type SideHealth struct {
	store.SideStats
	OldestPendingAge float64 `json:"oldest_pending_age_seconds"`
}

// HealthReport is the queue health of both ledgers.
type HealthReport struct {
	Sides       []SideHealth `json:"sides"`
	PushPending int          `json:"push_pending"`
	Healthy     bool         `json:"healthy"`
}

// Health builds the report. A ledger with failed records is unhealthy:
// those need a human.
func Health(ctx context.Context, s *store.Store) (HealthReport, error) {
	stats, err := s.Stats(ctx)
	if err != nil {
		return HealthReport{}, err
	}
	now := s.Now()
	report := HealthReport{Healthy: true}
	for _, st := range stats {
		h := SideHealth{SideStats: st}
		if st.OldestPending != nil {
			h.OldestPendingAge = now.Sub(*st.OldestPending).Round(time.Second).Seconds()
		}
		if st.Counts[ir.StatusFailed] > 0 {
			report.Healthy = false
		}
		report.Sides = append(report.Sides, h)
	}
	return report, nil
}

// health serves GET /api/audit/health.
func (s *Server) health(c *gin.Context) {
	report, err := Health(c.Request.Context(), s.deps.Store)
	if err != nil {
		s.writeErr(c, err)
		return
	}
	if s.deps.Push != nil {
		report.PushPending = s.deps.Push.Pending()
	}
	c.JSON(http.StatusOK, report)
}
