package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/roach88/membersync/internal/ir"
)

// Scenario is one end-to-end sync scenario.
type Scenario struct {
	// Name uniquely identifies this scenario; it names the golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Mapping optionally names a CUE mapping table, relative to the
	// scenario file. The embedded default table is used otherwise.
	Mapping string `yaml:"mapping,omitempty"`

	// MaxRetries overrides the orchestrator's retry budget.
	MaxRetries *int `yaml:"max_retries,omitempty"`

	Steps      []Step      `yaml:"steps"`
	Assertions []Assertion `yaml:"assertions"`
}

// Step is one scenario action. Exactly one operation field is set.
type Step struct {
	RegistryPut    *MemberWrite `yaml:"registry_put,omitempty"`
	RegistryDelete *MemberRef   `yaml:"registry_delete,omitempty"`
	PortalPut      *MemberWrite `yaml:"portal_put,omitempty"`
	PortalDelete   *MemberRef   `yaml:"portal_delete,omitempty"`
	Fail           *Fault       `yaml:"fail,omitempty"`
	Sync           *SyncStep    `yaml:"sync,omitempty"`
	Advance        string       `yaml:"advance,omitempty"`

	// Expect checks the audit entry of a sync step.
	Expect *RunExpect `yaml:"expect,omitempty"`
}

// MemberWrite captures a create or update on one side.
type MemberWrite struct {
	Key    string         `yaml:"key"`
	Fields map[string]any `yaml:"fields"`
}

// MemberRef names one member.
type MemberRef struct {
	Key string `yaml:"key"`
}

// Fault makes the next applies against target fail.
type Fault struct {
	Target string `yaml:"target"` // registry | portal
	Class  string `yaml:"class"`  // transient | validation | target_absent
	Times  int    `yaml:"times"`
}

// SyncStep runs the orchestrator once, for one entity when Entity is set.
type SyncStep struct {
	Direction string `yaml:"direction"`
	Entity    string `yaml:"entity,omitempty"`
}

// RunExpect is a subset match on an audit entry's counters.
type RunExpect struct {
	Attempted *int `yaml:"attempted,omitempty"`
	Succeeded *int `yaml:"succeeded,omitempty"`
	Failed    *int `yaml:"failed,omitempty"`
	Retried   *int `yaml:"retried,omitempty"`
	Skipped   *int `yaml:"skipped,omitempty"`
}

// Assertion checks the final state.
type Assertion struct {
	Type string `yaml:"type"`

	// Key names the member (portal_document, registry_member, ledger).
	Key string `yaml:"key,omitempty"`

	// Expect holds expected values: document paths or logical fields.
	Expect map[string]any `yaml:"expect,omitempty"`

	// Absent asserts the document or member does not exist.
	Absent bool `yaml:"absent,omitempty"`

	// Side and Status filter ledger records.
	Side   string `yaml:"side,omitempty"`
	Status string `yaml:"status,omitempty"`

	// Count is the expected number of ledger records or runs.
	Count *int `yaml:"count,omitempty"`
}

// Assertion types.
const (
	AssertPortalDocument = "portal_document"
	AssertRegistryMember = "registry_member"
	AssertLedger         = "ledger"
	AssertRuns           = "runs"
)

// Fault targets and classes.
const (
	TargetRegistry = "registry"
	TargetPortal   = "portal"

	FaultTransient    = "transient"
	FaultValidation   = "validation"
	FaultTargetAbsent = "target_absent"
)

// LoadScenario reads and validates a scenario file. Unknown fields are
// rejected so a typo never silently drops a step. A relative mapping path
// is resolved against the scenario's directory.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scenario: %w", err)
	}

	var s Scenario
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&s); err != nil {
		return nil, fmt.Errorf("parse scenario %s: %w", path, err)
	}
	if s.Mapping != "" && !filepath.IsAbs(s.Mapping) {
		s.Mapping = filepath.Join(filepath.Dir(path), s.Mapping)
	}
	if err := validateScenario(&s); err != nil {
		return nil, fmt.Errorf("invalid scenario %s: %w", path, err)
	}
	return &s, nil
}

func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}
	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}
	if s.MaxRetries != nil && *s.MaxRetries < 0 {
		return fmt.Errorf("max_retries must be non-negative")
	}

	for i := range s.Steps {
		if err := validateStep(&s.Steps[i]); err != nil {
			return fmt.Errorf("steps[%d]: %w", i, err)
		}
	}
	for i := range s.Assertions {
		if err := validateAssertion(&s.Assertions[i]); err != nil {
			return fmt.Errorf("assertions[%d]: %w", i, err)
		}
	}
	return nil
}

func validateStep(st *Step) error {
	ops := 0
	for _, set := range []bool{
		st.RegistryPut != nil, st.RegistryDelete != nil,
		st.PortalPut != nil, st.PortalDelete != nil,
		st.Fail != nil, st.Sync != nil, st.Advance != "",
	} {
		if set {
			ops++
		}
	}
	if ops != 1 {
		return fmt.Errorf("exactly one operation is required, got %d", ops)
	}
	if st.Expect != nil && st.Sync == nil {
		return fmt.Errorf("expect is only valid on a sync step")
	}

	switch {
	case st.RegistryPut != nil:
		return validateWrite(st.RegistryPut)
	case st.PortalPut != nil:
		return validateWrite(st.PortalPut)
	case st.RegistryDelete != nil && st.RegistryDelete.Key == "",
		st.PortalDelete != nil && st.PortalDelete.Key == "":
		return fmt.Errorf("key is required")
	case st.Fail != nil:
		if st.Fail.Target != TargetRegistry && st.Fail.Target != TargetPortal {
			return fmt.Errorf("fail.target must be registry or portal, got %q", st.Fail.Target)
		}
		switch st.Fail.Class {
		case FaultTransient, FaultValidation, FaultTargetAbsent:
		default:
			return fmt.Errorf("unknown fail.class %q", st.Fail.Class)
		}
		if st.Fail.Times < 1 {
			return fmt.Errorf("fail.times must be at least 1")
		}
	case st.Sync != nil:
		if _, ok := ir.ParseDirection(st.Sync.Direction); !ok {
			return fmt.Errorf("unknown sync.direction %q", st.Sync.Direction)
		}
	case st.Advance != "":
		if d, err := time.ParseDuration(st.Advance); err != nil || d <= 0 {
			return fmt.Errorf("advance must be a positive duration, got %q", st.Advance)
		}
	}
	return nil
}

func validateWrite(w *MemberWrite) error {
	if w.Key == "" {
		return fmt.Errorf("key is required")
	}
	if len(w.Fields) == 0 {
		return fmt.Errorf("fields are required")
	}
	return nil
}

func validateAssertion(a *Assertion) error {
	switch a.Type {
	case AssertPortalDocument, AssertRegistryMember:
		if a.Key == "" {
			return fmt.Errorf("key is required for %s", a.Type)
		}
		if a.Absent == (len(a.Expect) > 0) {
			return fmt.Errorf("%s needs exactly one of expect or absent", a.Type)
		}
	case AssertLedger:
		if a.Count == nil {
			return fmt.Errorf("count is required for ledger")
		}
		if a.Side != "" && a.Side != string(ir.SideRegistry) && a.Side != string(ir.SidePortal) {
			return fmt.Errorf("unknown side %q", a.Side)
		}
	case AssertRuns:
		if a.Count == nil {
			return fmt.Errorf("count is required for runs")
		}
	case "":
		return fmt.Errorf("type is required")
	default:
		return fmt.Errorf("unknown assertion type %q", a.Type)
	}
	return nil
}
