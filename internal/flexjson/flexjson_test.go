package flexjson

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCount(t *testing.T) {
	tests := []struct {
		in   string
		want Count
	}{
		{`12`, 12},
		{`"12"`, 12},
		{`12.9`, 12},
		{`1.5e3`, 1500},
		{`-4`, 0},
		{`"-4.5"`, 0},
		{`null`, 0},
		{`""`, 0},
		{`9223372036854775807`, Count(9223372036854775807)},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			var c Count
			require.NoError(t, json.Unmarshal([]byte(tt.in), &c))
			assert.Equal(t, tt.want, c)
		})
	}
}

func TestCount_Rejects(t *testing.T) {
	for _, in := range []string{
		`1e20`,
		`"NaN"`,
		`"Inf"`,
		`"-Inf"`,
		`"9223372036854775808"`,
		`9.3e18`,
		`"twelve"`,
		`true`,
	} {
		t.Run(in, func(t *testing.T) {
			var c Count
			assert.Error(t, json.Unmarshal([]byte(in), &c))
		})
	}
}

func TestString(t *testing.T) {
	var v struct {
		A String `json:"a"`
		B String `json:"b"`
		C String `json:"c"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"a": "x1", "b": 123456789012, "c": null}`), &v))
	assert.Equal(t, "x1", v.A.String())
	assert.Equal(t, "123456789012", v.B.String())
	assert.Empty(t, v.C)
}

func TestTime(t *testing.T) {
	var unix, rfc, null Time
	require.NoError(t, json.Unmarshal([]byte(`1767225600`), &unix))
	require.NoError(t, json.Unmarshal([]byte(`"2026-01-01T03:00:00+03:00"`), &rfc))
	require.NoError(t, json.Unmarshal([]byte(`null`), &null))

	want := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	assert.True(t, unix.Equal(want))
	assert.True(t, rfc.Equal(want))
	assert.True(t, null.IsZero())
	assert.Error(t, json.Unmarshal([]byte(`"yesterday"`), &unix))
}
