package ir

import "time"

// Side names the store a change originated in, and therefore the ledger
// that holds it.
type Side string

const (
	SideRegistry Side = "registry"
	SidePortal   Side = "portal"
)

// Outbound returns the direction that drains this side's ledger.
func (s Side) Outbound() Direction {
	if s == SidePortal {
		return PortalToRegistry
	}
	return RegistryToPortal
}

// Direction names a sync direction.
type Direction string

const (
	RegistryToPortal Direction = "registry_to_portal"
	PortalToRegistry Direction = "portal_to_registry"
)

// Directions lists both sync directions in the order runs execute them.
var Directions = []Direction{RegistryToPortal, PortalToRegistry}

// Source returns the ledger side a direction drains.
func (d Direction) Source() Side {
	if d == PortalToRegistry {
		return SidePortal
	}
	return SideRegistry
}

// Valid reports whether d is a known direction.
func (d Direction) Valid() bool {
	return d == RegistryToPortal || d == PortalToRegistry
}

// ParseDirection accepts the canonical names plus the short forms
// "r2p" and "p2r".
func ParseDirection(s string) (Direction, bool) {
	switch s {
	case string(RegistryToPortal), "r2p":
		return RegistryToPortal, true
	case string(PortalToRegistry), "p2r":
		return PortalToRegistry, true
	}
	return "", false
}

// Action is the kind of captured mutation.
type Action string

const (
	ActionCreate Action = "create"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
)

// Valid reports whether a is a known action.
func (a Action) Valid() bool {
	return a == ActionCreate || a == ActionUpdate || a == ActionDelete
}

// Status is the ledger state of a ChangeRecord.
type Status string

const (
	StatusPending Status = "pending"
	StatusClaimed Status = "claimed"
	StatusSynced  Status = "synced"
	StatusFailed  Status = "failed"
)

// Outcome records how a ChangeRecord was resolved.
type Outcome string

const (
	OutcomeApplied        Outcome = "applied"
	OutcomeAlreadyApplied Outcome = "already_applied"
	OutcomeAbsentNoop     Outcome = "absent_noop"
	OutcomeRejected       Outcome = "rejected"
	OutcomeExhausted      Outcome = "exhausted"
	OutcomeAcknowledged   Outcome = "acknowledged"
)

// ChangeRecord is one captured mutation in a side's ledger.
type ChangeRecord struct {
	Seq           int64      `json:"seq"`
	ID            string     `json:"id"`
	Side          Side       `json:"side"`
	EntityKey     string     `json:"entity_key"`
	Action        Action     `json:"action"`
	ChangedFields Object     `json:"changed_fields,omitempty"`
	ContentHash   string     `json:"content_hash"`
	Status        Status     `json:"status"`
	Outcome       Outcome    `json:"outcome,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	ClaimedAt     *time.Time `json:"claimed_at,omitempty"`
	ClaimToken    string     `json:"-"`
	SyncedAt      *time.Time `json:"synced_at,omitempty"`
	NextAttemptAt time.Time  `json:"next_attempt_at"`
	RetryCount    int        `json:"retry_count"`
	LastError     string     `json:"last_error,omitempty"`
	SourceID      string     `json:"source_id,omitempty"`
	AckedAt       *time.Time `json:"acked_at,omitempty"`
}

// AuditEntry summarizes one orchestrator run.
type AuditEntry struct {
	RunID        string    `json:"run_id"`
	Direction    Direction `json:"direction"`
	Trigger      string    `json:"trigger"`
	EntityKey    string    `json:"entity_key,omitempty"`
	StartedAt    time.Time `json:"started_at"`
	CompletedAt  time.Time `json:"completed_at"`
	Attempted    int       `json:"attempted"`
	Succeeded    int       `json:"succeeded"`
	Failed       int       `json:"failed"`
	Retried      int       `json:"retried"`
	Skipped      int       `json:"skipped"`
	ErrorSummary string    `json:"error_summary,omitempty"`
}

// FailureRate returns failed/attempted, or 0 for an empty run.
func (a AuditEntry) FailureRate() float64 {
	if a.Attempted == 0 {
		return 0
	}
	return float64(a.Failed) / float64(a.Attempted)
}

// Trigger names for AuditEntry.Trigger.
const (
	TriggerScheduled = "scheduled"
	TriggerPush      = "push"
	TriggerManual    = "manual"
	TriggerRetry     = "retry"
)
