package ir

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValueSealed(t *testing.T) {
	var _ Value = Null{}
	var _ Value = Absent{}
	var _ Value = String("x")
	var _ Value = Int(2)
	var _ Value = Bool(true)
	var _ Value = Object{"k": String("v")}
}

func TestObjectSortedKeys(t *testing.T) {
	obj := Object{
		"A":  Int(2),
		"a":  Int(1),
		"aa": Int(3),
		"Aa": Int(5),
		"AA": Int(6),
	}
	assert.Equal(t, []string{"A", "AA", "Aa", "a", "aa"}, obj.SortedKeys())
}

func TestCompareKeysRFC8785(t *testing.T) {
	assert.Equal(t, 0, compareKeysRFC8785("abc", "abc"))
	assert.Equal(t, -1, compareKeysRFC8785("ab", "abc"))
	assert.Equal(t, 1, compareKeysRFC8785("b", "abc"))
	assert.Equal(t, -1, compareKeysRFC8785("\U00010000", "\uE000"))
}

func TestObjectLookupAndSet(t *testing.T) {
	doc := Object{}
	doc.Set("profile.address.city", String("Reykjavík"))
	doc.Set("profile.gender", String("female"))
	doc.Set("profile.phone", Absent{})

	assert.Equal(t, String("Reykjavík"), doc.Lookup("profile.address.city"))
	assert.Equal(t, String("female"), doc.Lookup("profile.gender"))
	assert.True(t, IsAbsent(doc.Lookup("profile.phone")))
	assert.True(t, IsAbsent(doc.Lookup("profile.gender.nested")))
	assert.True(t, IsAbsent(doc.Lookup("membership.status")))

	_, hasPhone := doc["profile"].(Object)["phone"]
	assert.False(t, hasPhone, "Set must not write Absent")
}

func TestObjectMerge(t *testing.T) {
	doc := Object{
		"profile": Object{
			"name":  String("Jón"),
			"email": String("old@example.is"),
		},
		"membership": Object{"status": String("active")},
	}

	doc.Merge(Object{
		"profile": Object{
			"email": String("new@example.is"),
			"phone": Absent{},
		},
		"privacy": Object{"reachable": Bool(true)},
	})

	assert.Equal(t, String("Jón"), doc.Lookup("profile.name"))
	assert.Equal(t, String("new@example.is"), doc.Lookup("profile.email"))
	assert.True(t, IsAbsent(doc.Lookup("profile.phone")))
	assert.Equal(t, Bool(true), doc.Lookup("privacy.reachable"))
	assert.Equal(t, String("active"), doc.Lookup("membership.status"))
}

func TestObjectCloneIsDeep(t *testing.T) {
	orig := Object{"profile": Object{"name": String("a")}}
	cp := orig.Clone()
	cp["profile"].(Object)["name"] = String("b")
	assert.Equal(t, String("a"), orig.Lookup("profile.name"))
}

func TestUnmarshalValue(t *testing.T) {
	v, err := UnmarshalValue([]byte(`{"gender":2,"email":null,"reachable":true,"name":"Jón"}`))
	require.NoError(t, err)

	obj, ok := v.(Object)
	require.True(t, ok)
	assert.Equal(t, Int(2), obj["gender"])
	assert.Equal(t, Null{}, obj["email"])
	assert.Equal(t, Bool(true), obj["reachable"])
	assert.Equal(t, String("Jón"), obj["name"])
}

func TestUnmarshalValueRejects(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"float", `{"gender":2.5}`},
		{"exponent", `{"gender":1e3}`},
		{"array", `{"tags":["a"]}`},
		{"invalid json", `{`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := UnmarshalValue([]byte(tt.input))
			assert.Error(t, err)
		})
	}
}

func TestObjectJSONRoundTrip(t *testing.T) {
	orig := Object{
		"profile": Object{
			"gender":  String("female"),
			"address": Object{"city": String("Akureyri"), "postalcode": Absent{}},
		},
		"code": Int(3),
		"flag": Bool(false),
		"gone": Null{},
	}

	data, err := json.Marshal(orig)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "postalcode")

	var decoded Object
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, String("Akureyri"), decoded.Lookup("profile.address.city"))
	assert.Equal(t, Int(3), decoded["code"])
	assert.Equal(t, Null{}, decoded["gone"])
}

func TestFromAny(t *testing.T) {
	v, err := FromAny(map[string]any{"gender": 2, "birthday": "1970-01-01", "ratio": float64(4)})
	require.NoError(t, err)
	assert.Equal(t, Object{"gender": Int(2), "birthday": String("1970-01-01"), "ratio": Int(4)}, v)

	_, err = FromAny(map[string]any{"ratio": 0.5})
	assert.Error(t, err)

	_, err = FromAny(uint64(math.MaxUint64))
	assert.Error(t, err, "uint64 beyond int64 must not wrap")
}

func TestToAny(t *testing.T) {
	got := ToAny(Object{"a": Int(1), "b": Absent{}, "c": Object{"d": Bool(true)}})
	assert.Equal(t, map[string]any{"a": int64(1), "c": map[string]any{"d": true}}, got)
}
