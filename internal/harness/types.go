package harness

import "github.com/roach88/membersync/internal/ir"

// Trace event ops.
const (
	OpRegistryPut    = "registry_put"
	OpRegistryDelete = "registry_delete"
	OpPortalPut      = "portal_put"
	OpPortalDelete   = "portal_delete"
	OpFail           = "fail"
	OpAdvance        = "advance"
	OpSync           = "sync"
)

// TraceEvent records what one step did.
type TraceEvent struct {
	Step      int        `json:"step"`
	Op        string     `json:"op"`
	EntityKey string     `json:"entity_key,omitempty"`
	ChangeID  string     `json:"change_id,omitempty"`
	Action    string     `json:"action,omitempty"`
	Direction string     `json:"direction,omitempty"`
	Detail    string     `json:"detail,omitempty"`
	Run       *RunCounts `json:"run,omitempty"`
}

// RunCounts are the counters of one audit entry.
type RunCounts struct {
	Attempted int `json:"attempted"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
	Retried   int `json:"retried"`
	Skipped   int `json:"skipped"`
}

func countsOf(e ir.AuditEntry) *RunCounts {
	return &RunCounts{
		Attempted: e.Attempted,
		Succeeded: e.Succeeded,
		Failed:    e.Failed,
		Retried:   e.Retried,
		Skipped:   e.Skipped,
	}
}

// LedgerRow is the part of a ledger record a scenario pins down.
type LedgerRow struct {
	ID         string `json:"id"`
	Side       string `json:"side"`
	EntityKey  string `json:"entity_key"`
	Action     string `json:"action"`
	Status     string `json:"status"`
	Outcome    string `json:"outcome,omitempty"`
	RetryCount int    `json:"retry_count"`
}

func rowOf(rec ir.ChangeRecord) LedgerRow {
	return LedgerRow{
		ID:         rec.ID,
		Side:       string(rec.Side),
		EntityKey:  rec.EntityKey,
		Action:     string(rec.Action),
		Status:     string(rec.Status),
		Outcome:    string(rec.Outcome),
		RetryCount: rec.RetryCount,
	}
}

// Result is the outcome of a scenario.
type Result struct {
	// Pass is true when every step expectation and assertion held.
	Pass bool `json:"pass"`

	Trace  []TraceEvent `json:"trace"`
	Ledger []LedgerRow  `json:"ledger"`
	Errors []string     `json:"errors,omitempty"`
}

// NewResult creates a passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Ledger: []LedgerRow{},
		Errors: []string{},
	}
}

// AddError records a failed expectation and marks the result failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}
