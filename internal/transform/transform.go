// Package transform converts logical member fields between the Registry's
// flat shape and the Portal's nested shape.
//
// Every function here is pure and driven by a mapping.Table. Nothing in
// this package performs I/O.
//
// Logical field sets are keyed by mapping logical name. Registry-shaped
// values carry integer enum codes and composite parts keyed by part name;
// Portal-shaped values carry string enum tokens and composed objects.
package transform

import (
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/roach88/membersync/internal/ir"
	"github.com/roach88/membersync/internal/mapping"
)

// DateLayout is the wire format of date fields on both sides.
const DateLayout = "2006-01-02"

// ValidationError is a permanent data-shape failure. Retrying cannot fix it.
type ValidationError struct {
	Field   string
	Message string
	Err     error
}

func (e *ValidationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("field %s: %s: %v", e.Field, e.Message, e.Err)
	}
	return fmt.Sprintf("field %s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// IsValidation reports whether err is or wraps a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// Transformer applies a mapping table in both directions.
type Transformer struct {
	table     *mapping.Table
	composers map[string]Composer
}

// Option configures a Transformer.
type Option func(*Transformer)

// WithComposer registers a composer under name, replacing any built-in one.
func WithComposer(name string, c Composer) Option {
	return func(t *Transformer) {
		t.composers[name] = c
	}
}

// New builds a Transformer. It fails when a composite field names a
// composer that is not registered or whose parts do not match.
func New(table *mapping.Table, opts ...Option) (*Transformer, error) {
	t := &Transformer{
		table:     table,
		composers: map[string]Composer{"address": AddressComposer{}},
	}
	for _, opt := range opts {
		opt(t)
	}

	for _, f := range table.Fields() {
		if f.Type != mapping.TypeComposite {
			continue
		}
		c, ok := t.composers[f.Compose]
		if !ok {
			return nil, fmt.Errorf("field %s: unknown composer %q", f.LogicalName, f.Compose)
		}
		want := slices.Sorted(slices.Values(c.Parts()))
		if !slices.Equal(want, f.PartNames()) {
			return nil, fmt.Errorf("field %s: composer %q wants parts %v, mapping has %v",
				f.LogicalName, f.Compose, want, f.PartNames())
		}
	}
	return t, nil
}

// Table returns the mapping table the transformer was built from.
func (t *Transformer) Table() *mapping.Table {
	return t.table
}

// ToPortalShape converts Registry-shaped logical fields into a nested
// Portal document fragment. Fields that do not flow registry to portal are
// skipped.
func (t *Transformer) ToPortalShape(fields ir.Object) (ir.Object, error) {
	out := ir.Object{}
	for _, name := range fields.SortedKeys() {
		f, err := t.field(name)
		if err != nil {
			return nil, err
		}
		if !f.Direction.Allows(ir.RegistryToPortal) {
			continue
		}
		v, err := t.registryToPortal(f, fields[name])
		if err != nil {
			return nil, err
		}
		out.Set(f.PortalPath, v)
	}
	return out, nil
}

// ToRegistryShape converts Portal-shaped logical fields into flat Registry
// columns. Fields that do not flow portal to registry are skipped.
func (t *Transformer) ToRegistryShape(fields ir.Object) (ir.Object, error) {
	out := ir.Object{}
	for _, name := range fields.SortedKeys() {
		f, err := t.field(name)
		if err != nil {
			return nil, err
		}
		if !f.Direction.Allows(ir.PortalToRegistry) {
			continue
		}
		if err := t.portalToColumns(f, fields[name], out); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// PortalDocument places Portal-shaped logical fields at their document
// paths without translating them. It is the Portal's own write path, so
// every field is accepted regardless of sync direction.
func (t *Transformer) PortalDocument(fields ir.Object) (ir.Object, error) {
	out := ir.Object{}
	for _, name := range fields.SortedKeys() {
		f, err := t.field(name)
		if err != nil {
			return nil, err
		}
		v := fields[name]
		if err := checkPortalValue(f, v); err != nil {
			return nil, err
		}
		out.Set(f.PortalPath, v)
	}
	return out, nil
}

// RegistryColumns flattens Registry-shaped logical fields into columns
// without translating them.
func (t *Transformer) RegistryColumns(fields ir.Object) (ir.Object, error) {
	out := ir.Object{}
	for _, name := range fields.SortedKeys() {
		f, err := t.field(name)
		if err != nil {
			return nil, err
		}
		v := fields[name]
		if err := checkRegistryValue(f, v); err != nil {
			return nil, err
		}
		if f.Type == mapping.TypeComposite {
			setParts(f, v, out)
			continue
		}
		if !ir.IsAbsent(v) {
			out[f.RegistryPath] = v
		}
	}
	return out, nil
}

// ExtractRegistry lifts a Registry row into logical fields. When columns
// is nil every mapped column present in row is taken; otherwise only the
// named columns are. A composite is always taken whole, so a change to one
// part carries its siblings and the composed value stays complete.
func (t *Transformer) ExtractRegistry(row ir.Object, columns []string) ir.Object {
	out := ir.Object{}
	want := func(col string) bool {
		return columns == nil || slices.Contains(columns, col)
	}

	for _, f := range t.table.Fields() {
		if f.Type != mapping.TypeComposite {
			if v, ok := row[f.RegistryPath]; ok && want(f.RegistryPath) {
				out[f.LogicalName] = v
			}
			continue
		}

		touched := false
		for _, col := range f.Parts {
			if _, ok := row[col]; ok && want(col) {
				touched = true
			}
		}
		if !touched {
			continue
		}
		parts := ir.Object{}
		for part, col := range f.Parts {
			if v, ok := row[col]; ok {
				parts[part] = v
			}
		}
		out[f.LogicalName] = parts
	}
	return out
}

// ExtractPortal lifts a Portal document into logical fields.
func (t *Transformer) ExtractPortal(doc ir.Object) ir.Object {
	out := ir.Object{}
	for _, f := range t.table.Fields() {
		if v := doc.Lookup(f.PortalPath); !ir.IsAbsent(v) {
			out[f.LogicalName] = v
		}
	}
	return out
}

func (t *Transformer) field(name string) (*mapping.FieldMapping, error) {
	f, ok := t.table.Field(name)
	if !ok {
		return nil, &ValidationError{Field: name, Message: "not in mapping table " + t.table.Version}
	}
	return f, nil
}

func (t *Transformer) registryToPortal(f *mapping.FieldMapping, v ir.Value) (ir.Value, error) {
	if err := checkRegistryValue(f, v); err != nil {
		return nil, err
	}
	switch v.(type) {
	case ir.Null, ir.Absent, nil:
		return v, nil
	}

	switch f.Type {
	case mapping.TypeEnum:
		tok, err := f.Enum.Encode(int64(v.(ir.Int)))
		if err != nil {
			return nil, &ValidationError{Field: f.LogicalName, Message: "enum", Err: err}
		}
		return ir.String(tok), nil
	case mapping.TypeComposite:
		obj, err := t.composers[f.Compose].Compose(v.(ir.Object))
		if err != nil {
			return nil, nestValidation(f.LogicalName, err)
		}
		return obj, nil
	}
	return v, nil
}

func (t *Transformer) portalToColumns(f *mapping.FieldMapping, v ir.Value, out ir.Object) error {
	if err := checkPortalValue(f, v); err != nil {
		return err
	}

	switch f.Type {
	case mapping.TypeEnum:
		if tok, ok := v.(ir.String); ok {
			code, err := f.Enum.Decode(string(tok))
			if err != nil {
				return &ValidationError{Field: f.LogicalName, Message: "enum", Err: err}
			}
			v = ir.Int(code)
		}
	case mapping.TypeComposite:
		if obj, ok := v.(ir.Object); ok {
			parts, err := t.composers[f.Compose].Decompose(obj)
			if err != nil {
				return nestValidation(f.LogicalName, err)
			}
			v = parts
		}
		setParts(f, v, out)
		return nil
	}

	if !ir.IsAbsent(v) {
		out[f.RegistryPath] = v
	}
	return nil
}

// setParts writes composite parts to their columns. Null clears every part.
func setParts(f *mapping.FieldMapping, v ir.Value, out ir.Object) {
	switch val := v.(type) {
	case ir.Null:
		for _, col := range f.Parts {
			out[col] = ir.Null{}
		}
	case ir.Object:
		for part, pv := range val {
			if col, ok := f.Parts[part]; ok && !ir.IsAbsent(pv) {
				out[col] = pv
			}
		}
	}
}

func checkRegistryValue(f *mapping.FieldMapping, v ir.Value) error {
	switch v.(type) {
	case ir.Null, ir.Absent, nil:
		return nil
	}
	switch f.Type {
	case mapping.TypeEnum:
		if _, ok := v.(ir.Int); !ok {
			return wrongKind(f, "int", v)
		}
	case mapping.TypeComposite:
		obj, ok := v.(ir.Object)
		if !ok {
			return wrongKind(f, "object", v)
		}
		for part, pv := range obj {
			if _, known := f.Parts[part]; !known {
				return &ValidationError{Field: f.LogicalName + "." + part, Message: "unknown part"}
			}
			switch pv.(type) {
			case ir.String, ir.Null, ir.Absent:
			default:
				return &ValidationError{Field: f.LogicalName + "." + part, Message: "want string, got " + ir.Kind(pv)}
			}
		}
	default:
		return checkScalar(f, v)
	}
	return nil
}

func checkPortalValue(f *mapping.FieldMapping, v ir.Value) error {
	switch v.(type) {
	case ir.Null, ir.Absent, nil:
		return nil
	}
	switch f.Type {
	case mapping.TypeEnum:
		if _, ok := v.(ir.String); !ok {
			return wrongKind(f, "string", v)
		}
	case mapping.TypeComposite:
		if _, ok := v.(ir.Object); !ok {
			return wrongKind(f, "object", v)
		}
	default:
		return checkScalar(f, v)
	}
	return nil
}

func checkScalar(f *mapping.FieldMapping, v ir.Value) error {
	switch f.Type {
	case mapping.TypeString:
		if _, ok := v.(ir.String); !ok {
			return wrongKind(f, "string", v)
		}
	case mapping.TypeBool:
		if _, ok := v.(ir.Bool); !ok {
			return wrongKind(f, "bool", v)
		}
	case mapping.TypeDate:
		s, ok := v.(ir.String)
		if !ok {
			return wrongKind(f, "date string", v)
		}
		if _, err := time.Parse(DateLayout, string(s)); err != nil {
			return &ValidationError{Field: f.LogicalName, Message: fmt.Sprintf("malformed date %q", string(s))}
		}
	}
	return nil
}

func wrongKind(f *mapping.FieldMapping, want string, got ir.Value) error {
	return &ValidationError{
		Field:   f.LogicalName,
		Message: fmt.Sprintf("want %s, got %s", want, ir.Kind(got)),
	}
}

func nestValidation(field string, err error) error {
	var ve *ValidationError
	if errors.As(err, &ve) {
		return &ValidationError{Field: field + "." + ve.Field, Message: ve.Message, Err: ve.Err}
	}
	return &ValidationError{Field: field, Message: "compose", Err: err}
}
