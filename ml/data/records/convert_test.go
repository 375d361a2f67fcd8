// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package records

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConvertValue(t *testing.T) {
	testCases := []struct {
		value any
		to    LogicalType
		want  any
	}{
		{int64(3), Float32, float32(3)},
		{int64(9876543210), String, "9876543210"},
		{int64(-5), Bytes, []byte("-5")},
		{[]int64{1, 2}, Float32, []float32{1, 2}},
		{[]int64{}, String, []string{}},
		{float32(4), Int64, int64(4)},
		{float32(0.25), String, "0.25"},
		{[]float32{1.5, -2}, Bytes, [][]byte{[]byte("1.5"), []byte("-2")}},
		{[]byte("héllo"), String, "héllo"},
		{[]byte(" 42 "), Int64, int64(42)},
		{[]byte("2.5"), Float32, float32(2.5)},
		{[][]byte{[]byte("a"), []byte("b")}, String, []string{"a", "b"}},
		{"1234567890", Float32, float32(1234567890)},
		{"x", Bytes, []byte("x")},
		{[]string{"7", "-8"}, Int64, []int64{7, -8}},
		{"same", String, "same"},
	}
	for _, tc := range testCases {
		got, err := convertValue(tc.value, tc.to)
		require.NoError(t, err, "converting %#v to %s", tc.value, tc.to)
		assert.Equal(t, tc.want, got, "converting %#v to %s", tc.value, tc.to)
	}
}

func TestConvertValueErrors(t *testing.T) {
	testCases := []struct {
		value any
		to    LogicalType
	}{
		{float32(1.5), Int64},
		{float32(math.Inf(1)), Int64},
		{float32(math.NaN()), Int64},
		{float32(1e20), Int64},
		{[]float32{1, 2.5}, Int64},
		{[]byte{0xff}, String},
		{"abc", Int64},
		{"1e50", Float32},
		{[]string{"1", "x"}, Float32},
		{int64(1), InvalidType},
		{true, String},
	}
	for _, tc := range testCases {
		_, err := convertValue(tc.value, tc.to)
		require.ErrorIs(t, err, ErrTypeCoercion, "converting %#v to %s", tc.value, tc.to)
	}
}
