package models

import (
	"testing"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/recordml/recordml/types/shapes"
	"github.com/recordml/recordml/types/tensors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore(t *testing.T) {
	store := NewStore()
	w := store.Create("dense.weight", shapes.Make(dtypes.Float32, 4, 3), TruncatedNormalFn(42, 0.02))
	b := store.Create("dense.bias", shapes.Make(dtypes.Float32, 4), Zero)
	frozen := store.Create("norm.scale", shapes.Make(dtypes.Float64, 3), One)
	frozen.Trainable = false

	assert.Equal(t, 3, store.Len())
	assert.Equal(t, 12+4+3, store.NumParameters())
	assert.Equal(t, []*Variable{w, b}, store.Trainable())
	assert.Same(t, b, store.Get("dense.bias"))
	assert.Nil(t, store.Get("missing"))
	var names []string
	for name := range store.All() {
		names = append(names, name)
	}
	assert.Equal(t, []string{"dense.weight", "dense.bias", "norm.scale"}, names)

	assert.Panics(t, func() { store.Create("dense.bias", shapes.Make(dtypes.Float32, 4), Zero) })

	assert.False(t, w.IsInitialized())

	tensors.ConstFlatData(w.Value(), func(flat []float32) {
		for _, v := range flat {
			require.LessOrEqual(t, v, float32(0.04))
			require.GreaterOrEqual(t, v, float32(-0.04))
		}
	})
	assert.True(t, w.IsInitialized())
	tensors.ConstFlatData(frozen.Value(), func(flat []float64) {
		assert.Equal(t, []float64{1, 1, 1}, flat)
	})

	require.NoError(t, b.SetValue(tensors.FromValue([]float32{1, 2, 3, 4})))
	require.Error(t, b.SetValue(tensors.FromValue([]float32{1, 2})))
	require.Error(t, b.SetValue(tensors.FromValue([]float64{1, 2, 3, 4})))
	require.Error(t, b.SetValue(nil))
}

func TestInitializersSeeded(t *testing.T) {
	shape := shapes.Make(dtypes.Float32, 10)
	v0 := TruncatedNormalFn(7, 1)(shape)
	v1 := TruncatedNormalFn(7, 1)(shape)
	v2 := TruncatedNormalFn(8, 1)(shape)
	assert.True(t, v0.Equal(v1))
	assert.False(t, v0.Equal(v2))

	normal := RandomNormalFn(7, 1)
	assert.False(t, normal(shape).Equal(normal(shape)), "consecutive calls should generate different values")
}
