// Package engine implements the membersync sync orchestrator.
//
// An orchestrator run drains one side's change ledger into the opposite
// store:
//
// 1. Stale claims are released and a batch of due records is claimed,
// at most one per entity
// 2. Each entity gets one worker from a bounded pool
// 3. The worker transforms the record, calls the target Applier, and
// marks the record synced, pending again (transient) or failed
// 4. The worker then claims the entity's next record, so one entity's
// records are applied serially in capture order
// 5. One audit entry is written per run
//
// CRITICAL PATTERNS:
//
// Ordering comes from the ledger seq, never from wall-clock time.
//
// Every status write is a guarded ledger operation. A worker that lost its
// claim counts the record as skipped and stops; it never overwrites.
//
// Delivery is at least once. Targets dedupe by idempotency key, so a
// redelivered record confirms as already_applied with no side effect.
package engine
