package ir

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarshalCanonicalBasic(t *testing.T) {
	tests := []struct {
		name     string
		input    any
		expected string
	}{
		{"string", "hello", `"hello"`},
		{"empty string", "", `""`},
		{"int64", int64(42), "42"},
		{"int", 7, "7"},
		{"negative int", int64(-100), "-100"},
		{"zero", int64(0), "0"},
		{"max int64", int64(9223372036854775807), "9223372036854775807"},
		{"min int64", int64(-9223372036854775808), "-9223372036854775808"},
		{"bool true", true, "true"},
		{"bool false", false, "false"},
		{"empty array", []any{}, "[]"},
		{"empty object", map[string]any{}, "{}"},
		{"array of ints", []any{int64(1), int64(2), int64(3)}, "[1,2,3]"},
		{"int64 slice", []int64{0, 5}, "[0,5]"},
		{"string slice", []string{"a", "b"}, `["a","b"]`},
		{"simple object", map[string]any{"a": int64(1)}, `{"a":1}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := MarshalCanonical(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, string(result))
		})
	}
}

func TestMarshalCanonicalSortedKeys(t *testing.T) {
	obj := map[string]any{
		"zebra": int64(1),
		"alpha": int64(2),
		"beta":  int64(3),
	}

	result, err := MarshalCanonical(obj)
	require.NoError(t, err)
	assert.Equal(t, `{"alpha":2,"beta":3,"zebra":1}`, string(result))
}

func TestMarshalCanonicalNestedSortedKeys(t *testing.T) {
	obj := map[string]any{
		"z": map[string]any{
			"b": int64(1),
			"a": int64(2),
		},
		"a": int64(3),
	}

	result, err := MarshalCanonical(obj)
	require.NoError(t, err)
	assert.Equal(t, `{"a":3,"z":{"a":2,"b":1}}`, string(result))
}

func TestMarshalCanonicalUTF16KeyOrder(t *testing.T) {
	// U+1F600 encodes as surrogate pair D83D DE00, which sorts before U+FF5E
	// in UTF-16 but after it in UTF-8.
	obj := map[string]any{
		"\uff5e":     int64(1),
		"\U0001F600": int64(2),
	}

	result, err := MarshalCanonical(obj)
	require.NoError(t, err)
	assert.Equal(t, "{\"\U0001F600\":2,\"\uff5e\":1}", string(result))
}

func TestMarshalCanonicalEscaping(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"quote", `a"b`, `"a\"b"`},
		{"backslash", `a\b`, `"a\\b"`},
		{"newline", "a\nb", `"a\nb"`},
		{"tab", "a\tb", `"a\tb"`},
		{"control", "a\x01b", `"a\u0001b"`},
		{"html not escaped", "<a>&", `"<a>&"`},
		{"line separator literal", "a\u2028b", "\"a\u2028b\""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := MarshalCanonical(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, string(result))
		})
	}
}

func TestMarshalCanonicalNFC(t *testing.T) {
	// "e" + combining acute accent normalizes to U+00E9.
	decomposed := "cafe\u0301"
	composed := "caf\u00e9"

	a, err := MarshalCanonical(decomposed)
	require.NoError(t, err)
	b, err := MarshalCanonical(composed)
	require.NoError(t, err)
	assert.Equal(t, string(b), string(a))
}

func TestMarshalCanonicalRejects(t *testing.T) {
	tests := []struct {
		name  string
		input any
	}{
		{"float64", 1.5},
		{"float32", float32(1)},
		{"null", nil},
		{"nested float", map[string]any{"v": []any{1.0}}},
		{"unsupported", struct{}{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := MarshalCanonical(tt.input)
			assert.Error(t, err)
		})
	}
}
