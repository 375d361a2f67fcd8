// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package tensors implements a `Tensor`, a representation of a multi-dimensional array stored
// in host memory as a flat Go slice of its DType.
//
// Tensors are the numeric values surfaced by the record readers (decoded images, numeric features)
// and the inputs, outputs and weights of the encoders in `models/`.
//
// There are various ways to construct a Tensor from local data:
//
//   - FromShape(shape shapes.Shape): creates a tensor with the given shape, and zero values.
//
//   - FromScalar[T dtypes.Supported](value T): creates a scalar Tensor.
//
//   - FromFlatDataAndDimensions[T dtypes.Supported](data []T, dimensions ...int): creates a Tensor with the
//     given dimensions, and set the flattened values with the given data. Example:
//
//     t := FromFlatDataAndDimensions([]int8{1, 2, 3, 4}, 2, 2}) // Tensor with [[1,2], [3,4]]
//
//   - FromValue[S MultiDimensionSlice](value S): Generic conversion, works with the scalar supported `DType`s
//     as well as with any arbitrary multidimensional slice of them. Slices of rank > 1 must be regular, that is
//     all the sub-slices must have the same shape. Example:
//
//     t := FromValue([][]float{{1,2}, {3, 5}, {7, 11}})`
//
//   - FromAnyValue(value any): same as FromValue but non-generic, it takes an anonymous type `any`. The exception
//     is if `value` is already a tensor, then it is a no-op and it returns the tensor itself.
//
// Tensors are not synchronized: concurrent reads are fine, but mutating a tensor (MutableFlatData)
// while others read it is a data race.
package tensors

import (
	"fmt"
	"reflect"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"
	"github.com/recordml/recordml/types/shapes"
)

// Tensor represents a multidimensional arrays (from scalar with 0 dimensions, to arbitrarily large dimensions), defined
// by their shape, a data type (dtypes.DType) and its axes' dimensions, and their actual content stored as a flat (1D)
// array of values.
type Tensor struct {
	// shape of the tensor.
	shape shapes.Shape

	// flat holds the array with actual data: a slice of the Go type for the dtype of the shape.
	flat any
}

// FromShape returns a Tensor with the given shape, with the data initialized with zeros.
func FromShape(shape shapes.Shape) (t *Tensor) {
	if !shape.Ok() {
		panic(errors.New("invalid shape"))
	}
	goType := shape.DType.GoType()
	if goType == nil {
		exceptions.Panicf("tensors.FromShape(%s): dtype has no Go representation", shape)
	}
	size := shape.Size()
	return &Tensor{
		shape: shape.Clone(),
		flat:  reflect.MakeSlice(reflect.SliceOf(goType), size, size).Interface(),
	}
}

// Shape of the tensor, includes DType.
func (t *Tensor) Shape() shapes.Shape { return t.shape }

// DType returns the DType of the tensor's shape.
// It is a shortcut to `Tensor.Shape().DType`.
func (t *Tensor) DType() dtypes.DType {
	return t.shape.DType
}

// Rank returns the rank of the tensor's shape.
// It is a shortcut to `Tensor.Shape().Rank()`.
func (t *Tensor) Rank() int { return t.shape.Rank() }

// IsScalar returns whether the tensor represents a scalar value.
func (t *Tensor) IsScalar() bool { return t.shape.IsScalar() }

// Size returns the number of elements in the tensor.
func (t *Tensor) Size() int { return t.shape.Size() }

// Memory returns the number of bytes used to store the tensor. An alias to Tensor.Shape().Memory().
func (t *Tensor) Memory() uintptr { return t.shape.Memory() }

// Ok returns whether the Tensor is in a valid state: it is not nil, and it holds data.
func (t *Tensor) Ok() bool {
	return t != nil && t.shape.Ok() && t.flat != nil
}

// AssertValid panics if t is nil, or if its shape is invalid.
func (t *Tensor) AssertValid() {
	if t == nil {
		panic(errors.New("Tensor is nil"))
	}
	if !t.shape.Ok() {
		panic(errors.New("Tensor shape is invalid"))
	}
	if t.flat == nil {
		panic(errors.New("Tensor has no data"))
	}
}

// ConstFlatData calls accessFn with the flattened data as a slice of the Go type corresponding to the DType type.
// The slice must not be modified.
func (t *Tensor) ConstFlatData(accessFn func(flat any)) {
	t.AssertValid()
	accessFn(t.flat)
}

// ConstFlatData is the generic version of Tensor.ConstFlatData.
//
// It panics if T doesn't match the tensor's DType.
func ConstFlatData[T dtypes.Supported](t *Tensor, accessFn func(flat []T)) {
	t.AssertValid()
	flat, ok := t.flat.([]T)
	if !ok {
		var v T
		exceptions.Panicf("ConstFlatData[%T] is incompatible with Tensor's dtype %s", v, t.shape.DType)
	}
	accessFn(flat)
}

// MutableFlatData calls accessFn with the flattened data, which can be changed in place.
func (t *Tensor) MutableFlatData(accessFn func(flat any)) {
	t.AssertValid()
	accessFn(t.flat)
}

// MutableFlatData is the generic version of Tensor.MutableFlatData.
//
// It panics if T doesn't match the tensor's DType.
func MutableFlatData[T dtypes.Supported](t *Tensor, accessFn func(flat []T)) {
	t.AssertValid()
	flat, ok := t.flat.([]T)
	if !ok {
		var v T
		exceptions.Panicf("MutableFlatData[%T] is incompatible with Tensor's dtype %s", v, t.shape.DType)
	}
	accessFn(flat)
}

// ToScalar returns the scalar value of the Tensor.
//
// It will panic if the given generic type doesn't match the DType of the tensor, or if the tensor is not a scalar.
func ToScalar[T dtypes.Supported](t *Tensor) (value T) {
	if !t.shape.IsScalar() {
		exceptions.Panicf("ToScalar[%T] requires scalar Tensor, got shape %s instead", value, t.shape)
	}
	ConstFlatData(t, func(flat []T) { value = flat[0] })
	return
}

// CopyFlatData returns a copy of the flat data of the Tensor.
//
// It will panic if the given generic type doesn't match the DType of the tensor.
func CopyFlatData[T dtypes.Supported](t *Tensor) []T {
	var flatCopy []T
	ConstFlatData(t, func(flat []T) {
		flatCopy = make([]T, len(flat))
		copy(flatCopy, flat)
	})
	return flatCopy
}

// LayoutStrides return the strides for each axis. This can be handy when manipulating the flat data.
func (t *Tensor) LayoutStrides() (strides []int) {
	rank := t.shape.Rank()
	if rank == 0 {
		return
	}
	strides = make([]int, rank)
	currentStride := 1
	for dim := rank - 1; dim >= 0; dim-- {
		strides[dim] = currentStride
		currentStride *= t.shape.Dimensions[dim]
	}
	return
}

// Value returns a multidimensional slice (except if shape is a scalar) containing a copy of the values stored
// in the tensor.
// This is expensive, and usually only used for smaller tensors in tests and to print results.
func (t *Tensor) Value() any {
	t.AssertValid()
	flatV := reflect.ValueOf(t.flat)
	if t.shape.IsScalar() {
		return flatV.Index(0).Interface()
	}
	flatCopyV := reflect.MakeSlice(flatV.Type(), flatV.Len(), flatV.Len())
	reflect.Copy(flatCopyV, flatV)
	if t.shape.Rank() == 1 {
		return flatCopyV.Interface()
	}
	return convertDataToSlices(flatCopyV, t.shape.Dimensions...).Interface()
}

// Equal checks weather t == otherTensor.
// If they are the same pointer they are considered equal.
// If the shapes are different it returns false.
func (t *Tensor) Equal(otherTensor *Tensor) bool {
	t.AssertValid()
	otherTensor.AssertValid()
	if t == otherTensor {
		return true
	}
	if !t.shape.Equal(otherTensor.shape) {
		return false
	}
	return reflect.DeepEqual(t.flat, otherTensor.flat)
}

// InDelta checks weather Abs(t - otherTensor) < delta for every element.
// If the shapes are different it returns false.
func (t *Tensor) InDelta(otherTensor *Tensor, delta float64) bool {
	t.AssertValid()
	otherTensor.AssertValid()
	if !t.shape.Equal(otherTensor.shape) {
		return false
	}
	v0, v1 := reflect.ValueOf(t.flat), reflect.ValueOf(otherTensor.flat)
	float64T := reflect.TypeOf(float64(0))
	for ii := range v0.Len() {
		f0 := v0.Index(ii).Convert(float64T).Float()
		f1 := v1.Index(ii).Convert(float64T).Float()
		if diff := f0 - f1; diff >= delta || -diff >= delta {
			return false
		}
	}
	return true
}

// maxStringSize is the largest tensor (in number of elements) whose values are included in String.
const maxStringSize = 64

// String implements fmt.Stringer. Only the shape is printed for larger tensors.
func (t *Tensor) String() string {
	if !t.Ok() {
		return "Tensor(invalid)"
	}
	if t.Size() > maxStringSize {
		return fmt.Sprintf("%s", t.shape)
	}
	return fmt.Sprintf("%s: %v", t.shape, t.Value())
}
