package registry

import (
	"errors"
	"time"

	"github.com/roach88/membersync/internal/engine"
	"github.com/roach88/membersync/internal/ir"
)

// Wire types of the Registry sync API. The server package serves them and
// Client consumes them.

// MaxPageSize caps GET /api/sync/changes.
const MaxPageSize = 500

// Change is one pending registry change as the sync API lists it.
type Change struct {
	ID            string    `json:"id"`
	EntityKey     string    `json:"entity_key"`
	Action        ir.Action `json:"action"`
	ChangedFields ir.Object `json:"changed_fields,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
}

// ChangeFromRecord converts a ledger record to its wire form.
func ChangeFromRecord(rec ir.ChangeRecord) Change {
	return Change{
		ID:            rec.ID,
		EntityKey:     rec.EntityKey,
		Action:        rec.Action,
		ChangedFields: rec.ChangedFields,
		Timestamp:     rec.CreatedAt,
	}
}

// ChangesResponse is one page of changes, ordered by ledger seq.
type ChangesResponse struct {
	Changes    []Change `json:"changes"`
	NextCursor int64    `json:"next_cursor"`
	HasMore    bool     `json:"has_more"`
}

// ApplyBatch is the body of POST /api/sync/apply.
type ApplyBatch struct {
	Changes []ir.ApplyRequest `json:"changes" binding:"required,min=1,max=500"`
}

// Apply result statuses.
const (
	StatusSuccess = "success"
	StatusFailed  = "failed"
)

// ApplyResult reports one change of an ApplyBatch.
type ApplyResult struct {
	EntityKey string     `json:"entity_key"`
	Status    string     `json:"status"`
	Outcome   ir.Outcome `json:"outcome,omitempty"`
	Class     string     `json:"class,omitempty"`
	Detail    string     `json:"detail,omitempty"`
}

// NewApplyResult builds the result for one applied change.
func NewApplyResult(entityKey string, outcome ir.Outcome, err error) ApplyResult {
	if err == nil {
		return ApplyResult{EntityKey: entityKey, Status: StatusSuccess, Outcome: outcome}
	}
	return ApplyResult{
		EntityKey: entityKey,
		Status:    StatusFailed,
		Class:     string(engine.Classify(err)),
		Detail:    err.Error(),
	}
}

// Err turns a failed result back into a classified error.
func (r ApplyResult) Err() error {
	if r.Status != StatusFailed {
		return nil
	}
	cause := errors.New(r.Detail)
	switch engine.ErrorClass(r.Class) {
	case engine.ClassTargetAbsent:
		return &engine.SyncError{Class: engine.ClassTargetAbsent, Message: r.Detail, EntityKey: r.EntityKey, Err: engine.ErrTargetAbsent}
	case engine.ClassValidation:
		return &engine.SyncError{Class: engine.ClassValidation, Message: r.Detail, EntityKey: r.EntityKey, Err: cause}
	default:
		return &engine.SyncError{Class: engine.ClassTransient, Message: r.Detail, EntityKey: r.EntityKey, Err: cause}
	}
}

// ApplyResponse answers POST /api/sync/apply, one result per change.
type ApplyResponse struct {
	Results []ApplyResult `json:"results"`
}

// MarkSyncedRequest is the body of POST /api/sync/mark-synced.
type MarkSyncedRequest struct {
	IDs []string `json:"ids" binding:"required,min=1,max=500"`
}

// MarkSyncedResponse answers POST /api/sync/mark-synced.
type MarkSyncedResponse struct {
	Acknowledged int64 `json:"acknowledged"`
}

// MemberResponse answers GET /api/sync/member/:key with Registry-shaped
// logical fields.
type MemberResponse struct {
	EntityKey string    `json:"entity_key"`
	Fields    ir.Object `json:"fields"`
}
