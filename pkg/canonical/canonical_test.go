package canonical

import (
	"crypto/sha256"
	"encoding/hex"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanonicalize_SortedKeys(t *testing.T) {
	got, err := Canonicalize(map[string]any{"c": 3, "a": 1, "b": 2})
	require.NoError(t, err)
	assert.Equal(t, `{"a":1,"b":2,"c":3}`, got)
}

func TestCanonicalize_RecursiveSorting(t *testing.T) {
	got, err := Canonicalize(map[string]any{
		"z": map[string]any{"y": "foo", "x": "bar"},
		"a": []any{map[string]any{"k2": 2, "k1": 1}},
	})
	require.NoError(t, err)
	assert.Equal(t, `{"a":[{"k1":1,"k2":2}],"z":{"x":"bar","y":"foo"}}`, got)
}

func TestHash_InsertionOrderIndependent(t *testing.T) {
	// Same logical document built two ways: a map literal and a struct
	// whose fields are declared in the opposite order.
	type doc struct {
		B int `json:"b"`
		A int `json:"a"`
	}

	h1, err := Hash(map[string]any{"a": 1, "b": 2})
	require.NoError(t, err)
	h2, err := Hash(doc{B: 2, A: 1})
	require.NoError(t, err)
	assert.Equal(t, h1, h2)

	sum := sha256.Sum256([]byte(`{"a":1,"b":2}`))
	assert.Equal(t, hex.EncodeToString(sum[:]), h1)
}

func TestCanonicalize_NonFiniteRejected(t *testing.T) {
	for name, v := range map[string]float64{
		"nan":      math.NaN(),
		"inf":      math.Inf(1),
		"neg_inf":  math.Inf(-1),
	} {
		t.Run(name, func(t *testing.T) {
			_, err := Hash(map[string]any{"x": v})
			require.ErrorIs(t, err, ErrInvalidDocument)
		})
	}
}

func TestCanonicalize_UnserializableRejected(t *testing.T) {
	_, err := Canonicalize(map[string]any{"ch": make(chan int)})
	require.ErrorIs(t, err, ErrInvalidDocument)
}

func TestCanonicalize_TimeNormalization(t *testing.T) {
	loc := time.FixedZone("CET", 3600)
	ts := time.Date(2026, 3, 14, 10, 30, 45, 123456789, loc)

	got, err := Canonicalize(map[string]any{"at": ts})
	require.NoError(t, err)
	assert.Equal(t, `{"at":"2026-03-14T09:30:45.123Z"}`, got)
}

func TestCanonicalize_NoHTMLEscaping(t *testing.T) {
	got, err := Canonicalize(map[string]any{"html": "<b>&</b>"})
	require.NoError(t, err)
	assert.Equal(t, `{"html":"<b>&</b>"}`, got)
}

func TestCanonicalize_Scalars(t *testing.T) {
	cases := []struct {
		name string
		in   any
		want string
	}{
		{"nil", nil, `null`},
		{"bool", true, `true`},
		{"int", 42, `42`},
		{"string", "hello", `"hello"`},
		{"float", 1.5, `1.5`},
		{"list", []any{3, 1, 2}, `[3,1,2]`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := Canonicalize(tc.in)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestHash_Determinism(t *testing.T) {
	doc := map[string]any{
		"problem_statement": "margin erosion",
		"options_considered": []any{
			map[string]any{"id": "opt-1", "summary": "raise prices"},
			map[string]any{"id": "opt-2", "summary": "cut costs"},
		},
	}
	h1, err := Hash(doc)
	require.NoError(t, err)
	h2, err := Hash(doc)
	require.NoError(t, err)
	assert.Equal(t, h1, h2)
	assert.Len(t, h1, 64)
}
