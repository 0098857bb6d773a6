package mapping

import (
	"fmt"
	"slices"
)

// EnumTable translates registry integer codes to portal string tokens and
// back. Tables are total bijections: every code has exactly one token and
// every token exactly one code. Anything outside the table is an error,
// never a default.
type EnumTable struct {
	Name    string
	byCode  map[int64]string
	byToken map[string]int64
}

// UnmappedError reports a code or token that is not in an enum table.
type UnmappedError struct {
	Table string
	Value string
}

func (e *UnmappedError) Error() string {
	return fmt.Sprintf("enum %s: unmapped value %s", e.Table, e.Value)
}

// newListEnum builds a table from an ordered list; the code is the index.
func newListEnum(name string, tokens []string) (*EnumTable, error) {
	t := &EnumTable{
		Name:    name,
		byCode:  make(map[int64]string, len(tokens)),
		byToken: make(map[string]int64, len(tokens)),
	}
	for i, tok := range tokens {
		if err := t.add(int64(i), tok); err != nil {
			return nil, err
		}
	}
	return t, nil
}

// newDictEnum builds a table from a token -> code dictionary.
func newDictEnum(name string, codes map[string]int64) (*EnumTable, error) {
	t := &EnumTable{
		Name:    name,
		byCode:  make(map[int64]string, len(codes)),
		byToken: make(map[string]int64, len(codes)),
	}
	// Deterministic order so duplicate-code errors are stable.
	tokens := make([]string, 0, len(codes))
	for tok := range codes {
		tokens = append(tokens, tok)
	}
	slices.Sort(tokens)
	for _, tok := range tokens {
		if err := t.add(codes[tok], tok); err != nil {
			return nil, err
		}
	}
	return t, nil
}

func (t *EnumTable) add(code int64, token string) error {
	if token == "" {
		return fmt.Errorf("enum %s: empty token for code %d", t.Name, code)
	}
	if prev, dup := t.byCode[code]; dup {
		return fmt.Errorf("enum %s: code %d maps to both %q and %q", t.Name, code, prev, token)
	}
	if prev, dup := t.byToken[token]; dup {
		return fmt.Errorf("enum %s: token %q maps to both %d and %d", t.Name, token, prev, code)
	}
	t.byCode[code] = token
	t.byToken[token] = code
	return nil
}

// Encode returns the portal token for a registry code.
func (t *EnumTable) Encode(code int64) (string, error) {
	tok, ok := t.byCode[code]
	if !ok {
		return "", &UnmappedError{Table: t.Name, Value: fmt.Sprintf("%d", code)}
	}
	return tok, nil
}

// Decode returns the registry code for a portal token.
func (t *EnumTable) Decode(token string) (int64, error) {
	code, ok := t.byToken[token]
	if !ok {
		return 0, &UnmappedError{Table: t.Name, Value: fmt.Sprintf("%q", token)}
	}
	return code, nil
}

// Codes returns all codes in ascending order.
func (t *EnumTable) Codes() []int64 {
	codes := make([]int64, 0, len(t.byCode))
	for c := range t.byCode {
		codes = append(codes, c)
	}
	slices.Sort(codes)
	return codes
}

// Tokens returns all tokens ordered by their code.
func (t *EnumTable) Tokens() []string {
	codes := t.Codes()
	tokens := make([]string, len(codes))
	for i, c := range codes {
		tokens[i] = t.byCode[c]
	}
	return tokens
}

// Len returns the number of entries.
func (t *EnumTable) Len() int {
	return len(t.byCode)
}
