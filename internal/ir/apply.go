package ir

// ApplyRequest is one change delivered to the opposite store. Fields are
// already in the target's shape: nested portal paths, or flat registry
// columns. Fields is nil for deletes.
type ApplyRequest struct {
	EntityKey      string `json:"entity_key"`
	Action         Action `json:"action"`
	Fields         Object `json:"changes,omitempty"`
	IdempotencyKey string `json:"idempotency_key"`
}
