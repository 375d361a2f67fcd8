// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package records

import (
	"fmt"
	"slices"
	"strings"

	"github.com/pkg/errors"
)

// LogicalType is the type of the elements of a feature.
type LogicalType int

const (
	InvalidType LogicalType = iota
	Int64
	Float32
	Bytes
	String
)

var logicalTypeNames = map[LogicalType]string{
	InvalidType: "InvalidType",
	Int64:       "int64",
	Float32:     "float32",
	Bytes:       "bytes",
	String:      "string",
}

// String implements fmt.Stringer.
func (t LogicalType) String() string {
	if name, found := logicalTypeNames[t]; found {
		return name
	}
	return fmt.Sprintf("LogicalType(%d)", int(t))
}

// IsNumeric returns whether t is Int64 or Float32.
func (t LogicalType) IsNumeric() bool { return t == Int64 || t == Float32 }

// IsText returns whether t is Bytes or String.
func (t LogicalType) IsText() bool { return t == Bytes || t == String }

// ParseLogicalType parses a type tag, as it shows up in configuration files.
// Tags are case-insensitive and may be prefixed by "tf.", "np." or "numpy.".
// E.g.: "int64", "tf.int64", "np.float32", "bytes", "tf.string", "str".
func ParseLogicalType(tag string) (LogicalType, error) {
	name := strings.ToLower(strings.TrimSpace(tag))
	for _, prefix := range []string{"tf.", "np.", "numpy."} {
		name = strings.TrimPrefix(name, prefix)
	}
	switch name {
	case "int64", "int", "long", "integer":
		return Int64, nil
	case "float32", "float":
		return Float32, nil
	case "bytes", "bytes_", "byte", "binary":
		return Bytes, nil
	case "string", "str", "str_", "unicode", "utf8":
		return String, nil
	}
	return InvalidType, errors.Wrapf(ErrSchema, "unknown logical type %q", tag)
}

// LengthKind defines whether a feature has a fixed number of elements (scalar or tuple) or
// a number of elements that varies per record.
type LengthKind int

const (
	InvalidLength LengthKind = iota
	FixedLength
	VariableLength
)

// String implements fmt.Stringer.
func (k LengthKind) String() string {
	switch k {
	case FixedLength:
		return "FixedLenFeature"
	case VariableLength:
		return "VarLenFeature"
	case InvalidLength:
		return "InvalidLength"
	}
	return fmt.Sprintf("LengthKind(%d)", int(k))
}

// ParseLengthKind parses "FixedLenFeature"/"fixed" or "VarLenFeature"/"variable" (case-insensitive).
func ParseLengthKind(tag string) (LengthKind, error) {
	switch strings.ToLower(strings.TrimSpace(tag)) {
	case "fixedlenfeature", "fixed", "fixed_length":
		return FixedLength, nil
	case "varlenfeature", "variable", "var", "variable_length":
		return VariableLength, nil
	}
	return InvalidLength, errors.Wrapf(ErrSchema, "unknown length kind %q", tag)
}

// FeatureSpec describes how one feature is stored.
type FeatureSpec struct {
	Type LogicalType
	Kind LengthKind

	// Dims of a fixed-length tuple. Empty for scalars and for variable-length features.
	Dims []int
}

// Fixed returns the spec of a fixed-length feature: a scalar if no dims are given, a tuple otherwise.
func Fixed(t LogicalType, dims ...int) FeatureSpec {
	return FeatureSpec{Type: t, Kind: FixedLength, Dims: slices.Clone(dims)}
}

// Variable returns the spec of a variable-length feature.
func Variable(t LogicalType) FeatureSpec {
	return FeatureSpec{Type: t, Kind: VariableLength}
}

// IsScalar returns whether the feature holds exactly one element with no tuple dimensions.
func (fs FeatureSpec) IsScalar() bool {
	return fs.Kind == FixedLength && len(fs.Dims) == 0
}

// Count returns the number of elements of a fixed-length feature, or -1 for variable-length ones.
func (fs FeatureSpec) Count() int {
	if fs.Kind != FixedLength {
		return -1
	}
	count := 1
	for _, dim := range fs.Dims {
		count *= dim
	}
	return count
}

// String implements fmt.Stringer.
func (fs FeatureSpec) String() string {
	if len(fs.Dims) > 0 {
		return fmt.Sprintf("(%s, %s, %v)", fs.Type, fs.Kind, fs.Dims)
	}
	return fmt.Sprintf("(%s, %s)", fs.Type, fs.Kind)
}

func (fs FeatureSpec) validate() error {
	if _, found := logicalTypeNames[fs.Type]; !found || fs.Type == InvalidType {
		return errors.Wrapf(ErrSchema, "invalid logical type %s", fs.Type)
	}
	switch fs.Kind {
	case FixedLength:
		for _, dim := range fs.Dims {
			if dim <= 0 {
				return errors.Wrapf(ErrSchema, "invalid dimensions %v: they must be > 0", fs.Dims)
			}
		}
	case VariableLength:
		if len(fs.Dims) > 0 {
			return errors.Wrapf(ErrSchema, "variable-length feature can't have dimensions (%v)", fs.Dims)
		}
	default:
		return errors.Wrapf(ErrSchema, "invalid length kind %s", fs.Kind)
	}
	return nil
}

// Schema maps feature names to their FeatureSpec. It is immutable once created.
//
// Features are always serialized in the sorted order of their names.
type Schema struct {
	names  []string
	specs  map[string]FeatureSpec
	codecs []featureCodec
}

// NewSchema validates the specs and returns the corresponding Schema.
func NewSchema(specs map[string]FeatureSpec) (*Schema, error) {
	if len(specs) == 0 {
		return nil, errors.Wrap(ErrSchema, "schema has no features")
	}
	s := &Schema{
		names: make([]string, 0, len(specs)),
		specs: make(map[string]FeatureSpec, len(specs)),
	}
	for name, spec := range specs {
		if name == "" {
			return nil, errors.Wrap(ErrSchema, "empty feature name")
		}
		if err := spec.validate(); err != nil {
			return nil, errors.WithMessagef(err, "feature %q", name)
		}
		spec.Dims = slices.Clone(spec.Dims)
		s.specs[name] = spec
		s.names = append(s.names, name)
	}
	slices.Sort(s.names)
	s.codecs = make([]featureCodec, len(s.names))
	for ii, name := range s.names {
		codec, err := resolveCodec(s.specs[name])
		if err != nil {
			return nil, errors.WithMessagef(err, "feature %q", name)
		}
		s.codecs[ii] = codec
	}
	return s, nil
}

// ParseSchema builds a Schema from (type tag, length kind tag) pairs, as they are given in
// configuration files. E.g.: {"label": {"tf.int64", "FixedLenFeature"}}.
// An optional third element lists the dimensions of a fixed-length tuple.
func ParseSchema(tags map[string][]string) (*Schema, error) {
	specs := make(map[string]FeatureSpec, len(tags))
	for name, pair := range tags {
		if len(pair) < 2 {
			return nil, errors.Wrapf(ErrSchema, "feature %q: expected [type, length_kind], got %q", name, pair)
		}
		t, err := ParseLogicalType(pair[0])
		if err != nil {
			return nil, errors.WithMessagef(err, "feature %q", name)
		}
		k, err := ParseLengthKind(pair[1])
		if err != nil {
			return nil, errors.WithMessagef(err, "feature %q", name)
		}
		spec := FeatureSpec{Type: t, Kind: k}
		for _, dimStr := range pair[2:] {
			var dim int
			if _, err := fmt.Sscanf(dimStr, "%d", &dim); err != nil {
				return nil, errors.Wrapf(ErrSchema, "feature %q: invalid dimension %q", name, dimStr)
			}
			spec.Dims = append(spec.Dims, dim)
		}
		specs[name] = spec
	}
	return NewSchema(specs)
}

// Names returns the feature names in serialization order (sorted).
func (s *Schema) Names() []string { return slices.Clone(s.names) }

// Len returns the number of features.
func (s *Schema) Len() int { return len(s.names) }

// Spec returns the FeatureSpec for name, and whether it was found.
func (s *Schema) Spec(name string) (FeatureSpec, bool) {
	spec, found := s.specs[name]
	if found {
		spec.Dims = slices.Clone(spec.Dims)
	}
	return spec, found
}

// String implements fmt.Stringer.
func (s *Schema) String() string {
	parts := make([]string, len(s.names))
	for ii, name := range s.names {
		parts[ii] = fmt.Sprintf("%s: %s", name, s.specs[name])
	}
	return "{" + strings.Join(parts, ", ") + "}"
}

// Record is one example: a mapping from feature name to value.
//
// Decoded values use these Go types: for Int64 features int64 (scalars) or []int64; for Float32
// float32 or []float32; for Bytes []byte or [][]byte; for String string or []string. Image features
// (see ImageOption) are decoded to *tensors.Tensor.
type Record map[string]any
