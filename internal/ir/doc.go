// Package ir holds the shared value and record types for membersync.
//
// All other internal packages import ir; ir imports nothing internal.
//
// Key constraints:
//   - NO float variants in Value; enum codes are integers
//   - Absent is distinct from Null and from the empty string
//   - Ledger ordering uses seq, never wall-clock timestamps
//   - Content hashes and idempotency keys use RFC 8785 canonical JSON
//     and SHA-256 with domain separation
//   - All JSON tags use snake_case
package ir
