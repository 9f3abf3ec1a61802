// Copyright 2025 The Camellones Authors
// SPDX-License-Identifier: Apache-2.0

package textutils

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLowerAsciiFolding(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"POI_ST_SD", "poi_st_sd"},
		{"  Spaces  ", "spaces"},
		{"Camellón", "camellon"},
		{"Farmacia Guadalajara Número 3", "farmacia guadalajara numero 3"},
		{"", ""},
	}

	for _, tc := range tests {
		t.Run(tc.input, func(t *testing.T) {
			assert.Equal(t, tc.expected, LowerASCIIFolding(tc.input))
		})
	}
}

func TestAnyToInt64(t *testing.T) {
	tests := []struct {
		name     string
		input    any
		expected int64
		ok       bool
	}{
		{"nil", nil, 0, false},
		{"float64 integral", float64(1234567890), 1234567890, true},
		{"float64 fractional", 12.5, 0, false},
		{"int", 7, 7, true},
		{"int64", int64(9), 9, true},
		{"string", " 702348212 ", 702348212, true},
		{"bad string", "abc", 0, false},
		{"bool", true, 0, false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			res, ok := AnyToInt64(tc.input)
			assert.Equal(t, tc.ok, ok)
			assert.Equal(t, tc.expected, res)
		})
	}
}

func TestParseFloat(t *testing.T) {
	f, err := ParseFloat("45,5")
	require.NoError(t, err)
	assert.InDelta(t, 45.5, f, 1e-12)

	f, err = ParseFloat(" 0.25 ")
	require.NoError(t, err)
	assert.InDelta(t, 0.25, f, 1e-12)

	_, err = ParseFloat("n/a")
	assert.Error(t, err)
}

func TestFormatInt(t *testing.T) {
	assert.Equal(t, "0", FormatInt(0))
	assert.Equal(t, "999", FormatInt(999))
	assert.Equal(t, "1,000", FormatInt(1000))
	assert.Equal(t, "-1,234,567", FormatInt(-1234567))
}
