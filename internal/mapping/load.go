package mapping

import (
	_ "embed"
	"fmt"
	"os"
	"slices"
	"strings"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/errors"
)

//go:embed schema.cue
var schemaSrc []byte

//go:embed default.cue
var defaultSrc []byte

var loadDefault = sync.OnceValues(func() (*Table, error) {
	return LoadBytes("default.cue", defaultSrc)
})

// Default returns the embedded mapping table. It is loaded once.
func Default() (*Table, error) {
	return loadDefault()
}

// Load reads and validates a mapping table from a CUE file.
func Load(path string) (*Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read mapping %s: %w", path, err)
	}
	return LoadBytes(path, data)
}

// LoadBytes compiles src, unifies it with the table schema, and decodes
// the result. name is used in error positions.
func LoadBytes(name string, src []byte) (*Table, error) {
	ctx := cuecontext.New()

	schema := ctx.CompileBytes(schemaSrc, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return nil, formatCUEError(err)
	}
	user := ctx.CompileBytes(src, cue.Filename(name))
	if err := user.Err(); err != nil {
		return nil, formatCUEError(err)
	}

	v := schema.Unify(user)
	if err := v.Validate(cue.Concrete(true)); err != nil {
		return nil, formatCUEError(err)
	}
	return decode(v)
}

func decode(v cue.Value) (*Table, error) {
	t := &Table{
		fields:   make(map[string]*FieldMapping),
		enums:    make(map[string]*EnumTable),
		byColumn: make(map[string]*FieldMapping),
		byPortal: make(map[string]*FieldMapping),
	}

	version, err := v.LookupPath(cue.ParsePath("version")).String()
	if err != nil {
		return nil, formatCUEError(err)
	}
	t.Version = version

	if err := decodeEnums(v, t); err != nil {
		return nil, err
	}
	if err := decodeFields(v, t); err != nil {
		return nil, err
	}
	if err := checkPortalPaths(t); err != nil {
		return nil, err
	}
	return t, nil
}

func decodeEnums(v cue.Value, t *Table) error {
	enumsVal := v.LookupPath(cue.ParsePath("enums"))
	if !enumsVal.Exists() {
		return nil
	}
	iter, err := enumsVal.Fields()
	if err != nil {
		return formatCUEError(err)
	}

	for iter.Next() {
		name := iter.Label()
		ev := iter.Value()

		var table *EnumTable
		switch ev.IncompleteKind() {
		case cue.ListKind:
			var tokens []string
			list, err := ev.List()
			if err != nil {
				return formatCUEError(err)
			}
			for list.Next() {
				tok, err := list.Value().String()
				if err != nil {
					return formatCUEError(err)
				}
				tokens = append(tokens, tok)
			}
			table, err = newListEnum(name, tokens)
			if err != nil {
				return &MappingError{Field: "enums." + name, Message: err.Error(), Pos: ev.Pos()}
			}
		case cue.StructKind:
			codes := make(map[string]int64)
			entries, err := ev.Fields()
			if err != nil {
				return formatCUEError(err)
			}
			for entries.Next() {
				code, err := entries.Value().Int64()
				if err != nil {
					return formatCUEError(err)
				}
				codes[entries.Label()] = code
			}
			table, err = newDictEnum(name, codes)
			if err != nil {
				return &MappingError{Field: "enums." + name, Message: err.Error(), Pos: ev.Pos()}
			}
		default:
			return &MappingError{
				Field:   "enums." + name,
				Message: fmt.Sprintf("enum must be a list or a dictionary, got %v", ev.IncompleteKind()),
				Pos:     ev.Pos(),
			}
		}

		if table.Len() == 0 {
			return &MappingError{Field: "enums." + name, Message: "enum table is empty", Pos: ev.Pos()}
		}
		t.enums[name] = table
	}
	return nil
}

func decodeFields(v cue.Value, t *Table) error {
	fieldsVal := v.LookupPath(cue.ParsePath("fields"))
	if !fieldsVal.Exists() {
		return &MappingError{Field: "fields", Message: "at least one field is required", Pos: v.Pos()}
	}
	iter, err := fieldsVal.Fields()
	if err != nil {
		return formatCUEError(err)
	}

	for iter.Next() {
		fv := iter.Value()
		f, err := decodeField(iter.Label(), fv)
		if err != nil {
			return err
		}
		if err := t.addField(f); err != nil {
			return &MappingError{Field: "fields." + f.LogicalName, Message: err.Error(), Pos: fv.Pos()}
		}
	}

	if len(t.fields) == 0 {
		return &MappingError{Field: "fields", Message: "at least one field is required", Pos: fieldsVal.Pos()}
	}
	slices.Sort(t.fieldOrder)
	return nil
}

func decodeField(name string, fv cue.Value) (*FieldMapping, error) {
	f := &FieldMapping{LogicalName: name}

	var err error
	strs := []struct {
		path string
		dst  *string
	}{
		{"registry", &f.RegistryPath},
		{"portal", &f.PortalPath},
		{"enum", &f.EnumName},
		{"compose", &f.Compose},
	}
	for _, s := range strs {
		if *s.dst, err = optString(fv, s.path); err != nil {
			return nil, err
		}
	}

	typ, err := optString(fv, "type")
	if err != nil {
		return nil, err
	}
	f.Type = FieldType(typ)

	dir, err := optString(fv, "direction")
	if err != nil {
		return nil, err
	}
	f.Direction = Direction(dir)
	if f.Direction == "" {
		f.Direction = Bidirectional
	}

	partsVal := fv.LookupPath(cue.ParsePath("parts"))
	if partsVal.Exists() {
		parts, err := partsVal.Fields()
		if err != nil {
			return nil, formatCUEError(err)
		}
		for parts.Next() {
			col, err := parts.Value().String()
			if err != nil {
				return nil, formatCUEError(err)
			}
			if f.Parts == nil {
				f.Parts = make(map[string]string)
			}
			f.Parts[parts.Label()] = col
		}
	}

	return f, nil
}

// optString returns the concrete string at path, or "" when the field is
// missing or not concrete.
func optString(v cue.Value, path string) (string, error) {
	fv := v.LookupPath(cue.ParsePath(path))
	if !fv.Exists() {
		return "", nil
	}
	if d, ok := fv.Default(); ok {
		fv = d
	}
	if !fv.IsConcrete() {
		return "", nil
	}
	s, err := fv.String()
	if err != nil {
		return "", formatCUEError(err)
	}
	return s, nil
}

func (t *Table) addField(f *FieldMapping) error {
	switch f.Type {
	case TypeEnum:
		if f.EnumName == "" {
			return fmt.Errorf("enum field needs an enum table")
		}
		e, ok := t.enums[f.EnumName]
		if !ok {
			return fmt.Errorf("unknown enum table %q", f.EnumName)
		}
		f.Enum = e
	case TypeComposite:
		if f.Compose == "" {
			return fmt.Errorf("composite field needs a composer")
		}
		if len(f.Parts) == 0 {
			return fmt.Errorf("composite field needs parts")
		}
		if f.RegistryPath != "" {
			return fmt.Errorf("composite field maps through parts, not a registry column")
		}
	default:
		if f.EnumName != "" {
			return fmt.Errorf("enum table set on %s field", f.Type)
		}
	}
	if f.Type != TypeComposite {
		if f.RegistryPath == "" {
			return fmt.Errorf("registry column is required")
		}
		if len(f.Parts) > 0 || f.Compose != "" {
			return fmt.Errorf("parts and compose are only valid on composite fields")
		}
	}
	if f.PortalPath == "" || strings.HasPrefix(f.PortalPath, ".") || strings.HasSuffix(f.PortalPath, ".") ||
		strings.Contains(f.PortalPath, "..") {
		return fmt.Errorf("invalid portal path %q", f.PortalPath)
	}

	columns := []string{f.RegistryPath}
	if f.Type == TypeComposite {
		columns = columns[:0]
		for _, p := range f.PartNames() {
			columns = append(columns, f.Parts[p])
		}
	}
	for _, col := range columns {
		if other, dup := t.byColumn[col]; dup {
			return fmt.Errorf("registry column %q already mapped by %s", col, other.LogicalName)
		}
	}
	if other, dup := t.byPortal[f.PortalPath]; dup {
		return fmt.Errorf("portal path %q already mapped by %s", f.PortalPath, other.LogicalName)
	}

	for _, col := range columns {
		t.byColumn[col] = f
	}
	t.byPortal[f.PortalPath] = f
	t.fields[f.LogicalName] = f
	t.fieldOrder = append(t.fieldOrder, f.LogicalName)
	return nil
}

// checkPortalPaths rejects a path nested under another field's path; the
// two would overwrite each other in the document.
func checkPortalPaths(t *Table) error {
	paths := make([]string, 0, len(t.byPortal))
	for p := range t.byPortal {
		paths = append(paths, p)
	}
	slices.Sort(paths)
	for _, outer := range paths {
		for _, inner := range paths {
			if strings.HasPrefix(inner, outer+".") {
				f := t.byPortal[inner]
				return &MappingError{
					Field:   "fields." + f.LogicalName,
					Message: fmt.Sprintf("portal path %q is nested under %q", inner, outer),
				}
			}
		}
	}
	return nil
}

// formatCUEError extracts position info from CUE errors.
func formatCUEError(err error) error {
	if err == nil {
		return nil
	}

	errs := errors.Errors(err)
	if len(errs) == 0 {
		return err
	}

	first := errs[0]
	positions := errors.Positions(first)
	if len(positions) > 0 {
		return &MappingError{
			Field:   "cue",
			Message: first.Error(),
			Pos:     positions[0],
		}
	}
	return err
}
