package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/roach88/membersync/internal/engine"
	"github.com/roach88/membersync/internal/ir"
	"github.com/roach88/membersync/internal/registry"
)

// listChanges serves GET /api/sync/changes?since=&cursor=&limit=.
func (s *Server) listChanges(c *gin.Context) {
	var since time.Time
	if v := c.Query("since"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			WriteError(c, http.StatusBadRequest, "VALIDATION_FAILED", "since must be RFC3339")
			return
		}
		since = t
	}
	cursor, err := strconv.ParseInt(c.DefaultQuery("cursor", "0"), 10, 64)
	if err != nil || cursor < 0 {
		WriteError(c, http.StatusBadRequest, "VALIDATION_FAILED", "cursor must be a non-negative integer")
		return
	}
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "100"))
	if err != nil || limit < 1 {
		WriteError(c, http.StatusBadRequest, "VALIDATION_FAILED", "limit must be a positive integer")
		return
	}
	limit = min(limit, registry.MaxPageSize)

	page, err := s.deps.Store.ListChanges(c.Request.Context(), ir.SideRegistry, since, cursor, limit)
	if err != nil {
		s.writeErr(c, err)
		return
	}

	resp := registry.ChangesResponse{
		Changes:    make([]registry.Change, 0, len(page.Changes)),
		NextCursor: page.NextCursor,
		HasMore:    page.HasMore,
	}
	for _, rec := range page.Changes {
		resp.Changes = append(resp.Changes, registry.ChangeFromRecord(rec))
	}
	c.JSON(http.StatusOK, resp)
}

// applyChanges serves POST /api/sync/apply. Every change gets a result;
// one failing change does not stop the rest.
func (s *Server) applyChanges(c *gin.Context) {
	if s.deps.Registry == nil {
		unavailable(c, "registry")
		return
	}
	var batch registry.ApplyBatch
	if err := c.ShouldBindJSON(&batch); err != nil {
		WriteError(c, http.StatusBadRequest, "VALIDATION_FAILED", err.Error())
		return
	}

	applier := s.deps.Registry.Applier()
	resp := registry.ApplyResponse{Results: make([]registry.ApplyResult, 0, len(batch.Changes))}
	for _, req := range batch.Changes {
		key, err := ir.NormalizeKey(req.EntityKey)
		if err != nil {
			resp.Results = append(resp.Results, registry.ApplyResult{
				EntityKey: req.EntityKey,
				Status:    registry.StatusFailed,
				Class:     string(engine.ClassValidation),
				Detail:    err.Error(),
			})
			continue
		}
		if req.IdempotencyKey == "" {
			resp.Results = append(resp.Results, registry.ApplyResult{
				EntityKey: key,
				Status:    registry.StatusFailed,
				Class:     string(engine.ClassValidation),
				Detail:    "idempotency_key is required",
			})
			continue
		}
		req.EntityKey = key
		outcome, err := applier.Apply(c.Request.Context(), req)
		resp.Results = append(resp.Results, registry.NewApplyResult(key, outcome, err))
	}
	c.JSON(http.StatusOK, resp)
}

// markSynced serves POST /api/sync/mark-synced.
func (s *Server) markSynced(c *gin.Context) {
	var req registry.MarkSyncedRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		WriteError(c, http.StatusBadRequest, "VALIDATION_FAILED", err.Error())
		return
	}
	n, err := s.deps.Store.Acknowledge(c.Request.Context(), req.IDs)
	if err != nil {
		s.writeErr(c, err)
		return
	}
	c.JSON(http.StatusOK, registry.MarkSyncedResponse{Acknowledged: n})
}

// getMember serves GET /api/sync/member/:key.
func (s *Server) getMember(c *gin.Context) {
	if s.deps.Registry == nil {
		unavailable(c, "registry")
		return
	}
	key, err := ir.NormalizeKey(c.Param("key"))
	if err != nil {
		WriteError(c, http.StatusBadRequest, "VALIDATION_FAILED", err.Error())
		return
	}
	fields, err := s.deps.Registry.Snapshot(c.Request.Context(), key)
	if err != nil {
		s.writeErr(c, err)
		return
	}
	c.JSON(http.StatusOK, registry.MemberResponse{EntityKey: key, Fields: fields})
}

// HookRequest is the body of POST /hooks/sync.
type HookRequest struct {
	EntityKey string `json:"entity_key" binding:"required"`
	Direction string `json:"direction" binding:"omitempty,oneof=registry_to_portal portal_to_registry r2p p2r"`
}

// hookSync serves POST /hooks/sync: it queues a push run for one entity.
// The direction defaults to registry_to_portal, the Registry announcing
// its own change.
func (s *Server) hookSync(c *gin.Context) {
	if s.deps.Push == nil {
		unavailable(c, "push trigger")
		return
	}
	var req HookRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		WriteError(c, http.StatusBadRequest, "VALIDATION_FAILED", err.Error())
		return
	}
	key, err := ir.NormalizeKey(req.EntityKey)
	if err != nil {
		WriteError(c, http.StatusBadRequest, "VALIDATION_FAILED", err.Error())
		return
	}
	d := ir.RegistryToPortal
	if req.Direction != "" {
		d, _ = ir.ParseDirection(req.Direction)
	}

	if !s.deps.Push.Enqueue(d, key) {
		WriteError(c, http.StatusServiceUnavailable, "QUEUE_FULL", "push queue is full; the scheduled run will pick the change up")
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"queued": true, "direction": d, "entity_key": ir.MaskKey(key)})
}
