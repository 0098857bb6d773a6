package testutil

import (
	"context"
	"sync"

	"github.com/roach88/membersync/internal/ir"
)

// CountingApplier is an in-memory apply target that records every side
// effect. It dedupes by idempotency key the way real targets must, so
// tests can assert a redelivered change had no second effect.
type CountingApplier struct {
	mu       sync.Mutex
	state    map[string]ir.Object
	seen     map[string]bool
	effects  []ir.ApplyRequest
	calls    int
	failures []error
}

// NewCountingApplier creates an empty applier.
func NewCountingApplier() *CountingApplier {
	return &CountingApplier{
		state: make(map[string]ir.Object),
		seen:  make(map[string]bool),
	}
}

// FailNext queues errors returned by the next calls, one per call, before
// any state is touched.
func (a *CountingApplier) FailNext(errs ...error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.failures = append(a.failures, errs...)
}

// Apply implements engine.Applier. Creates and updates merge the request
// fields into the entity; deletes remove it.
func (a *CountingApplier) Apply(_ context.Context, req ir.ApplyRequest) (ir.Outcome, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.calls++
	if len(a.failures) > 0 {
		err := a.failures[0]
		a.failures = a.failures[1:]
		return "", err
	}
	if a.seen[req.IdempotencyKey] {
		return ir.OutcomeAlreadyApplied, nil
	}
	a.seen[req.IdempotencyKey] = true

	if req.Action == ir.ActionDelete {
		if _, ok := a.state[req.EntityKey]; !ok {
			return ir.OutcomeAbsentNoop, nil
		}
		delete(a.state, req.EntityKey)
	} else {
		doc, ok := a.state[req.EntityKey]
		if !ok {
			doc = ir.Object{}
			a.state[req.EntityKey] = doc
		}
		doc.Merge(req.Fields.Clone())
	}
	a.effects = append(a.effects, req)
	return ir.OutcomeApplied, nil
}

// Calls returns how many times Apply was invoked.
func (a *CountingApplier) Calls() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.calls
}

// Effects returns the requests that changed state, in order.
func (a *CountingApplier) Effects() []ir.ApplyRequest {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]ir.ApplyRequest(nil), a.effects...)
}

// State returns a copy of an entity's current state.
func (a *CountingApplier) State(entityKey string) (ir.Object, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	doc, ok := a.state[entityKey]
	if !ok {
		return nil, false
	}
	return doc.Clone(), true
}

// Seed sets an entity's state without recording an effect.
func (a *CountingApplier) Seed(entityKey string, doc ir.Object) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.state[entityKey] = doc.Clone()
}
