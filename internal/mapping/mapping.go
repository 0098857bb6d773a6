// Package mapping holds the field mapping table: how each logical member
// attribute translates between the Registry's flat columns and the Portal's
// nested document paths.
//
// Tables are written in CUE and unified with an embedded schema before
// decoding. A loaded Table is read-only and safe for concurrent use.
package mapping

import (
	"fmt"
	"slices"

	"cuelang.org/go/cue/token"

	"github.com/roach88/membersync/internal/ir"
)

// FieldType is the logical type of a mapped field.
type FieldType string

const (
	TypeString    FieldType = "string"
	TypeDate      FieldType = "date"
	TypeBool      FieldType = "bool"
	TypeEnum      FieldType = "enum"
	TypeComposite FieldType = "composite"
)

// Direction restricts which way a field flows.
type Direction string

const (
	Bidirectional    Direction = "bidirectional"
	RegistryToPortal Direction = "registry_to_portal"
	PortalToRegistry Direction = "portal_to_registry"
)

// Allows reports whether a field with this direction is carried by a sync
// running in d.
func (fd Direction) Allows(d ir.Direction) bool {
	switch fd {
	case Bidirectional:
		return true
	case RegistryToPortal:
		return d == ir.RegistryToPortal
	case PortalToRegistry:
		return d == ir.PortalToRegistry
	}
	return false
}

// FieldMapping describes one logical attribute.
type FieldMapping struct {
	LogicalName  string
	RegistryPath string // column name; empty for composites
	PortalPath   string // dotted document path
	Direction    Direction
	Type         FieldType

	EnumName string
	Enum     *EnumTable

	// Compose names a registered composer; Parts maps part name to
	// registry column.
	Compose string
	Parts   map[string]string
}

// PartNames returns composite part names in sorted order.
func (f *FieldMapping) PartNames() []string {
	names := make([]string, 0, len(f.Parts))
	for n := range f.Parts {
		names = append(names, n)
	}
	slices.Sort(names)
	return names
}

// Table is a loaded, validated field mapping table.
type Table struct {
	Version string

	fields     map[string]*FieldMapping
	enums      map[string]*EnumTable
	byColumn   map[string]*FieldMapping
	byPortal   map[string]*FieldMapping
	fieldOrder []string
}

// Field returns the mapping for a logical field name.
func (t *Table) Field(name string) (*FieldMapping, bool) {
	f, ok := t.fields[name]
	return f, ok
}

// Fields returns all mappings sorted by logical name.
func (t *Table) Fields() []*FieldMapping {
	out := make([]*FieldMapping, len(t.fieldOrder))
	for i, name := range t.fieldOrder {
		out[i] = t.fields[name]
	}
	return out
}

// Enum returns a named enum table.
func (t *Table) Enum(name string) (*EnumTable, bool) {
	e, ok := t.enums[name]
	return e, ok
}

// Enums returns enum table names in sorted order.
func (t *Table) Enums() []string {
	names := make([]string, 0, len(t.enums))
	for n := range t.enums {
		names = append(names, n)
	}
	slices.Sort(names)
	return names
}

// ByRegistryColumn finds the field that owns a registry column, including
// columns that are parts of a composite.
func (t *Table) ByRegistryColumn(column string) (*FieldMapping, bool) {
	f, ok := t.byColumn[column]
	return f, ok
}

// ByPortalPath finds the field stored at a portal document path.
func (t *Table) ByPortalPath(path string) (*FieldMapping, bool) {
	f, ok := t.byPortal[path]
	return f, ok
}

// MappingError reports an invalid mapping table, with a source position
// when one is known.
type MappingError struct {
	Field   string
	Message string
	Pos     token.Pos
}

func (e *MappingError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s",
			e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(),
			e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}
