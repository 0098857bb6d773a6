package registry

import (
	"time"

	"github.com/roach88/membersync/internal/ir"
	"github.com/roach88/membersync/internal/transform"
)

// Member is the reference Registry's member row. Column names are the
// registry paths of the default mapping table. Nullable columns are
// pointers so an explicit clear survives a round trip.
type Member struct {
	Kennitala        string `gorm:"primaryKey;size:10"`
	Name             *string
	Birthday         *string
	Gender           *int64
	HousingSituation *int64
	Email            *string
	Phone            *string
	StreetAddress    *string
	StreetNumber     *string
	StreetLetter     *string
	PostalCode       *string
	City             *string
	Reachable        *bool
	Groupable        *bool
	Status           *int64
	DateJoined       *string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// TableName implements gorm's tabler.
func (Member) TableName() string {
	return "members"
}

type columnKind int

const (
	kindString columnKind = iota
	kindInt
	kindBool
)

// memberColumn binds one registry column to its Member field.
type memberColumn struct {
	kind columnKind
	str  func(m *Member) **string
	num  func(m *Member) **int64
	flag func(m *Member) **bool
}

var memberColumns = map[string]memberColumn{
	"name":              {kind: kindString, str: func(m *Member) **string { return &m.Name }},
	"birthday":          {kind: kindString, str: func(m *Member) **string { return &m.Birthday }},
	"gender":            {kind: kindInt, num: func(m *Member) **int64 { return &m.Gender }},
	"housing_situation": {kind: kindInt, num: func(m *Member) **int64 { return &m.HousingSituation }},
	"email":             {kind: kindString, str: func(m *Member) **string { return &m.Email }},
	"phone":             {kind: kindString, str: func(m *Member) **string { return &m.Phone }},
	"street_address":    {kind: kindString, str: func(m *Member) **string { return &m.StreetAddress }},
	"street_number":     {kind: kindString, str: func(m *Member) **string { return &m.StreetNumber }},
	"street_letter":     {kind: kindString, str: func(m *Member) **string { return &m.StreetLetter }},
	"postal_code":       {kind: kindString, str: func(m *Member) **string { return &m.PostalCode }},
	"city":              {kind: kindString, str: func(m *Member) **string { return &m.City }},
	"reachable":         {kind: kindBool, flag: func(m *Member) **bool { return &m.Reachable }},
	"groupable":         {kind: kindBool, flag: func(m *Member) **bool { return &m.Groupable }},
	"status":            {kind: kindInt, num: func(m *Member) **int64 { return &m.Status }},
	"date_joined":       {kind: kindString, str: func(m *Member) **string { return &m.DateJoined }},
}

// Columns returns the member as registry columns. Unset columns appear as
// Null only when withNull is true.
func (m *Member) Columns(withNull bool) ir.Object {
	out := ir.Object{}
	for name, col := range memberColumns {
		var v ir.Value = ir.Null{}
		switch col.kind {
		case kindString:
			if p := *col.str(m); p != nil {
				v = ir.String(*p)
			}
		case kindInt:
			if p := *col.num(m); p != nil {
				v = ir.Int(*p)
			}
		case kindBool:
			if p := *col.flag(m); p != nil {
				v = ir.Bool(*p)
			}
		}
		if _, isNull := v.(ir.Null); isNull && !withNull {
			continue
		}
		out[name] = v
	}
	return out
}

// Set writes one registry column. Null clears it; a value of the wrong
// kind or an unknown column is a validation error.
func (m *Member) Set(column string, v ir.Value) error {
	col, ok := memberColumns[column]
	if !ok {
		return &transform.ValidationError{Field: column, Message: "not a registry member column"}
	}
	if _, ok := v.(ir.Null); ok {
		switch col.kind {
		case kindString:
			*col.str(m) = nil
		case kindInt:
			*col.num(m) = nil
		case kindBool:
			*col.flag(m) = nil
		}
		return nil
	}

	switch col.kind {
	case kindString:
		s, ok := v.(ir.String)
		if !ok {
			return wrongKind(column, "string", v)
		}
		val := string(s)
		*col.str(m) = &val
	case kindInt:
		n, ok := v.(ir.Int)
		if !ok {
			return wrongKind(column, "int", v)
		}
		val := int64(n)
		*col.num(m) = &val
	case kindBool:
		b, ok := v.(ir.Bool)
		if !ok {
			return wrongKind(column, "bool", v)
		}
		val := bool(b)
		*col.flag(m) = &val
	}
	return nil
}

// SetAll applies a column set in key order.
func (m *Member) SetAll(cols ir.Object) error {
	for _, name := range cols.SortedKeys() {
		if ir.IsAbsent(cols[name]) {
			continue
		}
		if err := m.Set(name, cols[name]); err != nil {
			return err
		}
	}
	return nil
}

func wrongKind(column, want string, got ir.Value) error {
	return &transform.ValidationError{
		Field:   column,
		Message: "want " + want + ", got " + ir.Kind(got),
	}
}
