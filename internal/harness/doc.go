// Package harness runs end-to-end sync scenarios against real components.
//
// A scenario wires the reference Registry, an in-memory Portal and the
// orchestrator over one in-memory ledger, then executes its steps in
// order: captures on either side, injected apply failures, clock advances
// and sync runs. Assertions check the final state of both stores and of
// the ledger.
//
// # Scenario Format
//
//	name: registry-create-reaches-portal
//	description: "A registry create is applied to the portal"
//	steps:
//	  - registry_put: {key: "0101701234", fields: {name: "Jon", gender: 1}}
//	  - fail: {target: portal, class: transient, times: 1}
//	  - sync: {direction: registry_to_portal}
//	    expect: {attempted: 1, retried: 1}
//	  - advance: 1m
//	  - sync: {direction: registry_to_portal}
//	assertions:
//	  - type: portal_document
//	    key: "0101701234"
//	    expect: {profile.name: "Jon", profile.gender: "male"}
//	  - type: ledger
//	    side: registry
//	    status: synced
//	    count: 1
//
// # Assertion Types
//
//   - portal_document: dotted document paths hold the expected values, or
//     the document is absent
//   - registry_member: Registry-shaped logical fields hold the expected
//     values, or the member is absent
//   - ledger: the number of records matching side, entity and status
//   - runs: the number of audit entries written
//
// # Deterministic Testing
//
// Every scenario gets a fake clock pinned at 2025-03-01T12:00:00Z,
// sequential record and run ids, and a single worker, so the trace and
// final ledger can be compared against golden files.
package harness
