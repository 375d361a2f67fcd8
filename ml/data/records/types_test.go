// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package records

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLogicalType(t *testing.T) {
	for tag, want := range map[string]LogicalType{
		"int64":      Int64,
		"tf.int64":   Int64,
		"np.int64":   Int64,
		"float32":    Float32,
		"tf.float32": Float32,
		"bytes":      Bytes,
		"np.bytes_":  Bytes,
		"string":     String,
		"tf.string":  String,
		"np.str":     String,
		"str":        String,
	} {
		got, err := ParseLogicalType(tag)
		require.NoError(t, err, "tag %q", tag)
		assert.Equal(t, want, got, "tag %q", tag)
	}
	_, err := ParseLogicalType("complex128")
	require.ErrorIs(t, err, ErrSchema)
}

func TestParseLengthKind(t *testing.T) {
	k, err := ParseLengthKind("FixedLenFeature")
	require.NoError(t, err)
	assert.Equal(t, FixedLength, k)
	k, err = ParseLengthKind("VarLenFeature")
	require.NoError(t, err)
	assert.Equal(t, VariableLength, k)
	_, err = ParseLengthKind("SparseFeature")
	require.ErrorIs(t, err, ErrSchema)
}

func TestNewSchema(t *testing.T) {
	schema, err := NewSchema(map[string]FeatureSpec{
		"width":     Fixed(Int64),
		"image_raw": Fixed(Bytes),
		"shape":     Variable(Int64),
		"box":       Fixed(Float32, 2, 2),
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"box", "image_raw", "shape", "width"}, schema.Names())
	assert.Equal(t, 4, schema.Len())
	spec, found := schema.Spec("box")
	require.True(t, found)
	assert.Equal(t, 4, spec.Count())
	assert.False(t, spec.IsScalar())
	spec, _ = schema.Spec("shape")
	assert.Equal(t, -1, spec.Count())
	_, found = schema.Spec("height")
	assert.False(t, found)

	for name, specs := range map[string]map[string]FeatureSpec{
		"empty":           {},
		"empty name":      {"": Fixed(Int64)},
		"zero dim":        {"x": Fixed(Int64, 3, 0)},
		"variable dims":   {"x": {Type: Int64, Kind: VariableLength, Dims: []int{2}}},
		"invalid type":    {"x": {Kind: FixedLength}},
		"invalid kind":    {"x": {Type: Float32}},
		"out of range ty": {"x": {Type: LogicalType(17), Kind: FixedLength}},
	} {
		_, err := NewSchema(specs)
		require.ErrorIs(t, err, ErrSchema, "case %q", name)
	}
}

func TestParseSchema(t *testing.T) {
	schema, err := ParseSchema(map[string][]string{
		"label":     {"tf.int64", "FixedLenFeature"},
		"shape":     {"np.int64", "VarLenFeature"},
		"image_raw": {"bytes", "FixedLenFeature"},
		"bbox":      {"float32", "FixedLenFeature", "4"},
	})
	require.NoError(t, err)
	spec, _ := schema.Spec("bbox")
	assert.Equal(t, Fixed(Float32, 4), spec)
	spec, _ = schema.Spec("shape")
	assert.Equal(t, Variable(Int64), spec)

	_, err = ParseSchema(map[string][]string{"label": {"tf.int64"}})
	require.ErrorIs(t, err, ErrSchema)
	_, err = ParseSchema(map[string][]string{"label": {"tf.int64", "Fixed", "x"}})
	require.ErrorIs(t, err, ErrSchema)
}
