package harness

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/roach88/membersync/internal/ir"
	"github.com/roach88/membersync/internal/store"
)

// AssertionError describes one failed assertion.
type AssertionError struct {
	Type     string
	Subject  string
	Expected string
	Actual   string
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder
	fmt.Fprintf(&buf, "assertion failed: %s", e.Type)
	if e.Subject != "" {
		fmt.Fprintf(&buf, " %s", e.Subject)
	}
	fmt.Fprintf(&buf, "\n  expected: %s\n  actual:   %s", e.Expected, e.Actual)
	return buf.String()
}

func evaluateAssertions(ctx context.Context, w *world, assertions []Assertion) []string {
	var msgs []string
	for i, a := range assertions {
		var errs []error
		switch a.Type {
		case AssertPortalDocument:
			errs = assertObject(ctx, a, w.portal.Document)
		case AssertRegistryMember:
			errs = assertObject(ctx, a, w.registry.Snapshot)
		case AssertLedger:
			errs = assertLedger(ctx, w.store, a)
		case AssertRuns:
			errs = assertRuns(ctx, w.store, a)
		default:
			errs = []error{fmt.Errorf("unknown assertion type %q", a.Type)}
		}
		for _, err := range errs {
			msgs = append(msgs, fmt.Sprintf("assertions[%d]: %v", i, err))
		}
	}
	return msgs
}

// assertObject checks an entity loaded by load: every expected path holds
// the expected value, or the entity is absent.
func assertObject(ctx context.Context, a Assertion, load func(context.Context, string) (ir.Object, error)) []error {
	key, err := ir.NormalizeKey(a.Key)
	if err != nil {
		return []error{err}
	}

	obj, err := load(ctx, key)
	if errors.Is(err, store.ErrNotFound) {
		if a.Absent {
			return nil
		}
		return []error{&AssertionError{Type: a.Type, Subject: key, Expected: "present", Actual: "absent"}}
	}
	if err != nil {
		return []error{err}
	}
	if a.Absent {
		return []error{&AssertionError{Type: a.Type, Subject: key, Expected: "absent", Actual: "present"}}
	}

	var errs []error
	for _, path := range slices.Sorted(maps.Keys(a.Expect)) {
		want, err := ir.FromAny(a.Expect[path])
		if err != nil {
			errs = append(errs, fmt.Errorf("expect[%q]: %w", path, err))
			continue
		}
		got := obj.Lookup(path)
		if !sameValue(want, got) {
			errs = append(errs, &AssertionError{
				Type:     a.Type,
				Subject:  key + " " + path,
				Expected: render(want),
				Actual:   render(got),
			})
		}
	}
	return errs
}

func assertLedger(ctx context.Context, s *store.Store, a Assertion) []error {
	f := store.Filter{Side: ir.Side(a.Side), Status: ir.Status(a.Status)}
	if a.Key != "" {
		key, err := ir.NormalizeKey(a.Key)
		if err != nil {
			return []error{err}
		}
		f.EntityKey = key
	}
	recs, err := s.List(ctx, f)
	if err != nil {
		return []error{err}
	}
	if len(recs) != *a.Count {
		return []error{&AssertionError{
			Type:     a.Type,
			Subject:  describeFilter(f),
			Expected: fmt.Sprintf("%d records", *a.Count),
			Actual:   fmt.Sprintf("%d records", len(recs)),
		}}
	}
	return nil
}

func assertRuns(ctx context.Context, s *store.Store, a Assertion) []error {
	runs, err := s.ListRuns(ctx, "", 1000)
	if err != nil {
		return []error{err}
	}
	if len(runs) != *a.Count {
		return []error{&AssertionError{
			Type:     a.Type,
			Expected: fmt.Sprintf("%d runs", *a.Count),
			Actual:   fmt.Sprintf("%d runs", len(runs)),
		}}
	}
	return nil
}

func describeFilter(f store.Filter) string {
	var parts []string
	if f.Side != "" {
		parts = append(parts, "side="+string(f.Side))
	}
	if f.EntityKey != "" {
		parts = append(parts, "entity="+f.EntityKey)
	}
	if f.Status != "" {
		parts = append(parts, "status="+string(f.Status))
	}
	if len(parts) == 0 {
		return "all"
	}
	return strings.Join(parts, " ")
}

func sameValue(want, got ir.Value) bool {
	if ir.IsAbsent(got) {
		return false
	}
	a, err := ir.MarshalCanonical(want)
	if err != nil {
		return false
	}
	b, err := ir.MarshalCanonical(got)
	if err != nil {
		return false
	}
	return bytes.Equal(a, b)
}

func render(v ir.Value) string {
	if ir.IsAbsent(v) {
		return "<missing>"
	}
	b, err := ir.MarshalCanonical(v)
	if err != nil {
		return fmt.Sprintf("<%v>", err)
	}
	return string(b)
}
