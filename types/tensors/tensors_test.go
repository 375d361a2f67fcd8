// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package tensors

import (
	"testing"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/recordml/recordml/types/shapes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromValue(t *testing.T) {
	tensor := FromValue([][]float32{{1, 2}, {3, 4}, {5, 6}})
	require.True(t, tensor.Ok())
	assert.Equal(t, dtypes.Float32, tensor.DType())
	assert.Equal(t, []int{3, 2}, tensor.Shape().Dimensions)
	assert.Equal(t, []float32{1, 2, 3, 4, 5, 6}, CopyFlatData[float32](tensor))
	assert.Equal(t, [][]float32{{1, 2}, {3, 4}, {5, 6}}, tensor.Value())

	scalar := FromValue(int64(7))
	assert.True(t, scalar.IsScalar())
	assert.Equal(t, int64(7), ToScalar[int64](scalar))

	require.Panics(t, func() { _ = FromValue([][]int32{{1, 2}, {3}}) }, "irregular shapes must panic")
	require.Panics(t, func() { _ = ToScalar[float32](scalar) }, "wrong dtype must panic")
}

func TestFromFlatDataAndDimensions(t *testing.T) {
	tensor := FromFlatDataAndDimensions([]uint8{1, 2, 3, 4, 5, 6}, 1, 2, 3)
	assert.Equal(t, dtypes.Uint8, tensor.DType())
	assert.Equal(t, []int{6, 3, 1}, tensor.LayoutStrides())
	assert.Equal(t, [][][]uint8{{{1, 2, 3}, {4, 5, 6}}}, tensor.Value())
	require.Panics(t, func() { _ = FromFlatDataAndDimensions([]uint8{1, 2, 3}, 2, 2) })

	empty := FromFlatDataAndDimensions([]int64{}, 0)
	assert.True(t, empty.Shape().IsZeroSize())
	assert.Equal(t, []int64{}, empty.Value())
}

func TestMutableFlatData(t *testing.T) {
	tensor := FromShape(shapes.Make(dtypes.Float32, 2, 2))
	MutableFlatData(tensor, func(flat []float32) {
		for ii := range flat {
			flat[ii] = float32(ii)
		}
	})
	other := FromScalarAndDimensions(float32(1), 2, 2)
	assert.False(t, tensor.Equal(other))
	assert.True(t, tensor.InDelta(FromValue([][]float32{{0, 1}, {2, 3}}), 1e-6))
	assert.Contains(t, tensor.String(), "[2 2]")
}
