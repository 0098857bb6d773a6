package engine

import "github.com/google/uuid"

// RunIDGenerator names orchestrator runs in the audit log.
type RunIDGenerator interface {
	Generate() string
}

// UUIDv7Generator produces time-sortable run ids, so audit rows list in
// start order when sorted by id.
//
// Thread-safety: UUIDv7Generator is stateless and safe for concurrent use.
type UUIDv7Generator struct{}

// Generate returns a hyphenated UUIDv7.
func (UUIDv7Generator) Generate() string {
	return uuid.Must(uuid.NewV7()).String()
}
