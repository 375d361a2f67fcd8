// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package shapes

import (
	"testing"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/stretchr/testify/require"
)

func TestShape(t *testing.T) {
	invalidShape := Invalid()
	require.False(t, invalidShape.Ok())

	shape0 := Make(dtypes.Float64)
	require.True(t, shape0.Ok())
	require.True(t, shape0.IsScalar())
	require.Equal(t, 0, shape0.Rank())
	require.Len(t, shape0.Dimensions, 0)
	require.Equal(t, 1, shape0.Size())
	require.Equal(t, 8, int(shape0.Memory()))

	shape1 := Make(dtypes.Float32, 4, 3, 2)
	require.True(t, shape1.Ok())
	require.False(t, shape1.IsScalar())
	require.Equal(t, 3, shape1.Rank())
	require.Equal(t, 4*3*2, shape1.Size())
	require.Equal(t, 4*4*3*2, int(shape1.Memory()))
	require.Contains(t, shape1.String(), "[4 3 2]")

	empty := Make(dtypes.Int64, 0)
	require.True(t, empty.IsZeroSize())
	require.Equal(t, 0, empty.Size())
	require.Panics(t, func() { _ = Make(dtypes.Int64, -1) })
}

func TestDim(t *testing.T) {
	shape := Make(dtypes.Float32, 4, 3, 2)
	require.Equal(t, 4, shape.Dim(0))
	require.Equal(t, 2, shape.Dim(-1))
	require.Equal(t, 4, shape.Dim(-3))
	require.Panics(t, func() { _ = shape.Dim(3) })
	require.Panics(t, func() { _ = shape.Dim(-4) })
}

func TestCheck(t *testing.T) {
	shape := Make(dtypes.Uint8, 512, 512, 3)
	require.NoError(t, shape.Check(dtypes.Uint8, 512, UncheckedAxis, 3))
	require.Error(t, shape.Check(dtypes.Float32, 512, 512, 3))
	require.Error(t, shape.CheckDims(512, 512))
	require.True(t, shape.Equal(shape.Clone()))
	require.False(t, shape.Equal(Make(dtypes.Float32, 512, 512, 3)))
	require.True(t, shape.EqualDimensions(Make(dtypes.Float32, 512, 512, 3)))
	require.Panics(t, func() { AssertRank(shape, 2) })
}
