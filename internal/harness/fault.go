package harness

import (
	"context"
	"errors"
	"sync"

	"github.com/roach88/membersync/internal/engine"
	"github.com/roach88/membersync/internal/ir"
)

// faultyApplier fails the next queued applies before delegating.
type faultyApplier struct {
	inner engine.Applier

	mu      sync.Mutex
	pending []error
}

func (f *faultyApplier) inject(class string, times int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for range times {
		f.pending = append(f.pending, faultError(class))
	}
}

func (f *faultyApplier) Apply(ctx context.Context, req ir.ApplyRequest) (ir.Outcome, error) {
	f.mu.Lock()
	if len(f.pending) > 0 {
		err := f.pending[0]
		f.pending = f.pending[1:]
		f.mu.Unlock()
		return "", err
	}
	f.mu.Unlock()
	return f.inner.Apply(ctx, req)
}

func faultError(class string) error {
	switch class {
	case FaultValidation:
		return engine.NewPermanent(errors.New("injected validation failure"), nil)
	case FaultTargetAbsent:
		return engine.ErrTargetAbsent
	default:
		return engine.NewTransient(errors.New("injected transient failure"), nil)
	}
}
