package transform

import (
	"regexp"
	"slices"
	"strings"

	"github.com/roach88/membersync/internal/ir"
)

// Composer assembles registry part columns into a portal object and splits
// it back. Part values are String, Null, or Absent; an Absent part stays
// Absent in the output, it is never turned into an empty string.
type Composer interface {
	// Parts returns the part names the composer understands.
	Parts() []string
	Compose(parts ir.Object) (ir.Object, error)
	Decompose(obj ir.Object) (ir.Object, error)
}

// AddressComposer maps street, number, letter, postal_code and city parts
// to {street: "Laugavegur 12a", postalcode, city}.
type AddressComposer struct{}

var houseNumber = regexp.MustCompile(`^(\d+)(\p{L}?)$`)

func (AddressComposer) Parts() []string {
	return []string{"city", "letter", "number", "postal_code", "street"}
}

func (AddressComposer) Compose(parts ir.Object) (ir.Object, error) {
	out := ir.Object{}

	street, err := composeStreet(parts)
	if err != nil {
		return nil, err
	}
	out.Set("street", street)

	for part, key := range map[string]string{"postal_code": "postalcode", "city": "city"} {
		v, err := partValue(parts, part)
		if err != nil {
			return nil, err
		}
		out.Set(key, v)
	}
	return out, nil
}

// composeStreet joins street name and house number. When none of the three
// street parts is present the result is Absent; when all present parts are
// cleared it is Null.
func composeStreet(parts ir.Object) (ir.Value, error) {
	var (
		present bool
		words   []string
		number  string
	)
	for _, name := range []string{"street", "number", "letter"} {
		v, err := partValue(parts, name)
		if err != nil {
			return nil, err
		}
		if ir.IsAbsent(v) {
			continue
		}
		present = true
		s, ok := v.(ir.String)
		if !ok || strings.TrimSpace(string(s)) == "" {
			continue
		}
		switch name {
		case "street":
			words = append(words, strings.TrimSpace(string(s)))
		case "number":
			number = strings.TrimSpace(string(s))
		case "letter":
			if number != "" {
				number += strings.TrimSpace(string(s))
			}
		}
	}
	if !present {
		return ir.Absent{}, nil
	}
	if number != "" {
		words = append(words, number)
	}
	if len(words) == 0 {
		return ir.Null{}, nil
	}
	return ir.String(strings.Join(words, " ")), nil
}

func (AddressComposer) Decompose(obj ir.Object) (ir.Object, error) {
	out := ir.Object{}

	switch street := obj["street"].(type) {
	case nil, ir.Absent:
	case ir.Null:
		out["street"] = ir.Null{}
		out["number"] = ir.Null{}
		out["letter"] = ir.Null{}
	case ir.String:
		name, number, letter := splitStreet(string(street))
		out["street"] = name
		out["number"] = number
		out["letter"] = letter
	default:
		return nil, &ValidationError{Field: "street", Message: "want string, got " + ir.Kind(street)}
	}

	for key, part := range map[string]string{"postalcode": "postal_code", "city": "city"} {
		v, err := partValue(obj, key)
		if err != nil {
			return nil, err
		}
		if !ir.IsAbsent(v) {
			out[part] = v
		}
	}

	for key := range obj {
		if !slices.Contains([]string{"street", "postalcode", "city"}, key) {
			return nil, &ValidationError{Field: key, Message: "unknown address key"}
		}
	}
	return out, nil
}

// splitStreet splits "Laugavegur 12a" into name, number and letter. A
// missing number or letter comes back as Null so the registry column is
// cleared.
func splitStreet(s string) (name, number, letter ir.Value) {
	words := strings.Fields(s)
	if len(words) == 0 {
		return ir.Null{}, ir.Null{}, ir.Null{}
	}
	last := words[len(words)-1]
	m := houseNumber.FindStringSubmatch(last)
	if m == nil || len(words) == 1 {
		return ir.String(strings.Join(words, " ")), ir.Null{}, ir.Null{}
	}
	name = ir.String(strings.Join(words[:len(words)-1], " "))
	number = ir.String(m[1])
	letter = ir.Null{}
	if m[2] != "" {
		letter = ir.String(m[2])
	}
	return name, number, letter
}

func partValue(obj ir.Object, name string) (ir.Value, error) {
	v, ok := obj[name]
	if !ok {
		return ir.Absent{}, nil
	}
	switch v.(type) {
	case ir.String, ir.Null, ir.Absent:
		return v, nil
	}
	return nil, &ValidationError{Field: name, Message: "want string, got " + ir.Kind(v)}
}
