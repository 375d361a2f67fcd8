package models

import (
	"math/rand/v2"
	"sync"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/recordml/recordml/types/shapes"
	"github.com/recordml/recordml/types/tensors"
)

// VariableInitializer returns a value to initialize a variable of the given shape.
type VariableInitializer = func(shape shapes.Shape) *tensors.Tensor

// Zero initializes variables with zero.
func Zero(shape shapes.Shape) *tensors.Tensor {
	return tensors.FromShape(shape)
}

// One initializes variables with one.
func One(shape shapes.Shape) *tensors.Tensor {
	t := tensors.FromShape(shape)
	fill(t, func() float64 { return 1 })
	return t
}

// RandomNormalFn returns an initializer that generates random normal values with the given standard deviation
// and mean set to 0.
//
// The random number generator is seeded with seed, so the same sequence of initializations yields the same values.
// The initializer is safe for concurrent use.
func RandomNormalFn(seed uint64, stddev float64) VariableInitializer {
	var mu sync.Mutex
	rng := rand.New(rand.NewPCG(seed, seed+1))
	return func(shape shapes.Shape) *tensors.Tensor {
		mu.Lock()
		defer mu.Unlock()
		t := tensors.FromShape(shape)
		fill(t, func() float64 { return rng.NormFloat64() * stddev })
		return t
	}
}

// TruncatedNormalFn returns an initializer that generates random normal values with the given standard deviation
// and mean set to 0, re-sampling values beyond 2 standard deviations.
//
// The random number generator is seeded with seed. The initializer is safe for concurrent use.
func TruncatedNormalFn(seed uint64, stddev float64) VariableInitializer {
	var mu sync.Mutex
	rng := rand.New(rand.NewPCG(seed, seed+1))
	return func(shape shapes.Shape) *tensors.Tensor {
		mu.Lock()
		defer mu.Unlock()
		t := tensors.FromShape(shape)
		fill(t, func() float64 {
			for {
				v := rng.NormFloat64()
				if v >= -2 && v <= 2 {
					return v * stddev
				}
			}
		})
		return t
	}
}

// fill sets every element of a float tensor with the values returned by next.
func fill(t *tensors.Tensor, next func() float64) {
	switch t.DType() {
	case dtypes.Float32:
		tensors.MutableFlatData(t, func(flat []float32) {
			for ii := range flat {
				flat[ii] = float32(next())
			}
		})
	case dtypes.Float64:
		tensors.MutableFlatData(t, func(flat []float64) {
			for ii := range flat {
				flat[ii] = next()
			}
		})
	default:
		exceptions.Panicf("initializers only support Float32 and Float64, got %s", t.DType())
	}
}
