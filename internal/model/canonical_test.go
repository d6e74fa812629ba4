package model

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
		{"int", 42, "42"},
		{"min int64", int64(-9223372036854775808), "-9223372036854775808"},
		{"max uint64", uint64(18446744073709551615), "18446744073709551615"},
		{"bool", true, "true"},
		{"empty array", []any{}, "[]"},
		{"string slice", []string{"b", "a"}, `["b","a"]`},
		{"empty object", map[string]any{}, "{}"},
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
		"zebra": 1,
		"alpha": map[string]any{"b": 1, "a": 2},
		"beta":  3,
	}

	result, err := MarshalCanonical(obj)
	require.NoError(t, err)
	assert.Equal(t, `{"alpha":{"a":2,"b":1},"beta":3,"zebra":1}`, string(result))
}

func TestMarshalCanonicalUTF16Ordering(t *testing.T) {
	// U+10000 encodes as a surrogate pair starting 0xD800, below 0xE000,
	// while its UTF-8 form sorts after U+E000.
	obj := map[string]any{
		"\uE000":     1,
		"\U00010000": 2,
	}

	result, err := MarshalCanonical(obj)
	require.NoError(t, err)
	assert.Equal(t, "{\"\U00010000\":2,\"\uE000\":1}", string(result))
}

func TestMarshalCanonicalNoHTMLEscape(t *testing.T) {
	result, err := MarshalCanonical("<b>a & b</b>")
	require.NoError(t, err)
	assert.Equal(t, `"<b>a & b</b>"`, string(result))
}

func TestMarshalCanonicalLineSeparators(t *testing.T) {
	result, err := MarshalCanonical("a\u2028b\u2029c")
	require.NoError(t, err)
	assert.Equal(t, "\"a\u2028b\u2029c\"", string(result))

	// An escaped backslash before "u2028" is not a separator.
	result, err = MarshalCanonical(`x\u2028`)
	require.NoError(t, err)
	assert.Equal(t, `"x\\u2028"`, string(result))
}

func TestMarshalCanonicalNFC(t *testing.T) {
	composed, err := MarshalCanonical(map[string]any{"caf\u00e9": "caf\u00e9"})
	require.NoError(t, err)
	decomposed, err := MarshalCanonical(map[string]any{"cafe\u0301": "cafe\u0301"})
	require.NoError(t, err)

	assert.Equal(t, composed, decomposed)
}

func TestMarshalCanonicalRejects(t *testing.T) {
	tests := []struct {
		name  string
		input any
		want  string
	}{
		{"null", nil, "null"},
		{"float64", 3.14, "float"},
		{"float in array", []any{1, 2.5}, "float"},
		{"unsupported", struct{}{}, "unsupported"},
		{"invalid utf-8", "bad\xffbyte", "UTF-8"},
		{"invalid utf-8 key", map[string]any{"\xff": 1}, "UTF-8"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := MarshalCanonical(tt.input)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}
