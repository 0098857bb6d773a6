// Package store provides the SQLite-backed change ledger for membersync.
//
// One database holds:
//   - change_records: the captured changes of both sides (side column)
//   - sync_runs: the audit log, one row per orchestrator run
//   - watermarks: cursors of remote change feeds
//   - apply_receipts: idempotency keys a target has already applied
//
// # Ledger State Machine
//
//	pending --ClaimBatch/ClaimNext--> claimed
//	claimed --MarkSynced--> synced
//	claimed --MarkRetry--> pending (or failed once retries are exhausted)
//	claimed --MarkFailed--> failed
//	claimed --ReleaseStale--> pending
//	failed  --Requeue--> pending
//	pending --Acknowledge--> synced
//
// No other code writes status. Marks are guarded by the claim token and
// return ErrClaimLost when the guard no longer matches.
//
// # Ordering
//
//   - seq INTEGER AUTOINCREMENT is the capture order; timestamps never order
//   - A claim only ever takes an entity's lowest-seq pending record, and
//     never while another record of that entity is claimed
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - _txlock=immediate: Transactions take the write lock at BEGIN
//
// changed_fields is stored as RFC 8785 canonical JSON, and content_hash is
// computed by internal/ir.
package store
