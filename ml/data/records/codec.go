// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package records

import (
	"encoding/binary"
	"math"
	"reflect"
	"slices"
	"unicode/utf8"

	"github.com/pkg/errors"
	"github.com/recordml/recordml/types/tensors"
)

// featureCodec encodes and decodes the values of one feature.
type featureCodec interface {
	// encode appends the serialized value to buf.
	encode(buf []byte, value any) ([]byte, error)

	// decode consumes one serialized value from r.
	decode(r *payloadReader) (any, error)
}

// resolveCodec returns the codec for the given spec.
func resolveCodec(spec FeatureSpec) (featureCodec, error) {
	if spec.Kind != FixedLength && spec.Kind != VariableLength {
		return nil, errors.Wrapf(ErrSchema, "invalid length kind %s", spec.Kind)
	}
	switch spec.Type {
	case Int64:
		return &numericCodec[int64]{
			spec:   spec,
			width:  8,
			coerce: coerceInt64s,
			put: func(buf []byte, v int64) []byte {
				return binary.LittleEndian.AppendUint64(buf, uint64(v))
			},
			get: func(data []byte) int64 { return int64(binary.LittleEndian.Uint64(data)) },
		}, nil
	case Float32:
		return &numericCodec[float32]{
			spec:   spec,
			width:  4,
			coerce: coerceFloat32s,
			put: func(buf []byte, v float32) []byte {
				return binary.LittleEndian.AppendUint32(buf, math.Float32bits(v))
			},
			get: func(data []byte) float32 { return math.Float32frombits(binary.LittleEndian.Uint32(data)) },
		}, nil
	case Bytes:
		return &blobCodec{spec: spec}, nil
	case String:
		return &blobCodec{spec: spec, isString: true}, nil
	}
	return nil, errors.Wrapf(ErrSchema, "invalid logical type %s", spec.Type)
}

// payloadReader consumes a record payload sequentially.
type payloadReader struct {
	data []byte
	pos  int
}

func (r *payloadReader) remaining() int { return len(r.data) - r.pos }

// next returns the next n bytes, without copying.
func (r *payloadReader) next(n int) ([]byte, error) {
	if n < 0 || n > r.remaining() {
		return nil, errors.Wrapf(ErrCorruptRecord, "payload needs %d bytes at offset %d, only %d left",
			n, r.pos, r.remaining())
	}
	data := r.data[r.pos : r.pos+n]
	r.pos += n
	return data, nil
}

func (r *payloadReader) count() (int, error) {
	data, err := r.next(4)
	if err != nil {
		return 0, err
	}
	return int(binary.LittleEndian.Uint32(data)), nil
}

func appendCount(buf []byte, n int) ([]byte, error) {
	if n > math.MaxUint32 {
		return buf, errors.Wrapf(ErrTypeCoercion, "%d elements don't fit a 32 bits count", n)
	}
	return binary.LittleEndian.AppendUint32(buf, uint32(n)), nil
}

// numericCodec handles Int64 and Float32 features.
type numericCodec[T int64 | float32] struct {
	spec   FeatureSpec
	width  int
	coerce func(value any) ([]T, error)
	put    func(buf []byte, v T) []byte
	get    func(data []byte) T
}

func (c *numericCodec[T]) encode(buf []byte, value any) ([]byte, error) {
	values, err := c.coerce(value)
	if err != nil {
		return buf, err
	}
	if c.spec.Kind == FixedLength {
		if len(values) != c.spec.Count() {
			return buf, errors.Wrapf(ErrTypeCoercion, "%s feature requires %d elements, got %d",
				c.spec, c.spec.Count(), len(values))
		}
	} else if buf, err = appendCount(buf, len(values)); err != nil {
		return buf, err
	}
	for _, v := range values {
		buf = c.put(buf, v)
	}
	return buf, nil
}

func (c *numericCodec[T]) decode(r *payloadReader) (any, error) {
	count := c.spec.Count()
	if c.spec.Kind == VariableLength {
		var err error
		if count, err = r.count(); err != nil {
			return nil, err
		}
	}
	data, err := r.next(count * c.width)
	if err != nil {
		return nil, err
	}
	values := make([]T, count)
	for ii := range values {
		values[ii] = c.get(data[ii*c.width:])
	}
	if c.spec.IsScalar() {
		return values[0], nil
	}
	return values, nil
}

// blobCodec handles Bytes and String features.
type blobCodec struct {
	spec     FeatureSpec
	isString bool
}

func (c *blobCodec) encode(buf []byte, value any) ([]byte, error) {
	blobs, err := c.coerce(value)
	if err != nil {
		return buf, err
	}
	if c.spec.Kind == FixedLength {
		if len(blobs) != c.spec.Count() {
			return buf, errors.Wrapf(ErrTypeCoercion, "%s feature requires %d elements, got %d",
				c.spec, c.spec.Count(), len(blobs))
		}
	} else if buf, err = appendCount(buf, len(blobs)); err != nil {
		return buf, err
	}
	for _, blob := range blobs {
		if buf, err = appendCount(buf, len(blob)); err != nil {
			return buf, err
		}
		buf = append(buf, blob...)
	}
	return buf, nil
}

func (c *blobCodec) coerce(value any) ([][]byte, error) {
	if c.spec.IsScalar() {
		switch v := value.(type) {
		case []byte:
			if c.isString && !utf8.Valid(v) {
				return nil, errors.Wrap(ErrTypeCoercion, "bytes are not valid UTF-8")
			}
			return [][]byte{v}, nil
		case string:
			if c.isString {
				return [][]byte{[]byte(v)}, nil
			}
		}
		return nil, errors.Wrapf(ErrTypeCoercion, "can't store %T as %s", value, c.spec.Type)
	}
	switch v := value.(type) {
	case [][]byte:
		if c.isString {
			for _, blob := range v {
				if !utf8.Valid(blob) {
					return nil, errors.Wrap(ErrTypeCoercion, "bytes are not valid UTF-8")
				}
			}
		}
		return v, nil
	case []string:
		if c.isString {
			blobs := make([][]byte, len(v))
			for ii, s := range v {
				blobs[ii] = []byte(s)
			}
			return blobs, nil
		}
	}
	return nil, errors.Wrapf(ErrTypeCoercion, "can't store %T as a sequence of %s", value, c.spec.Type)
}

func (c *blobCodec) decode(r *payloadReader) (any, error) {
	count := c.spec.Count()
	if c.spec.Kind == VariableLength {
		var err error
		if count, err = r.count(); err != nil {
			return nil, err
		}
	}
	// Each element takes at least 4 bytes: don't trust count for the allocation.
	if count > r.remaining()/4 {
		return nil, errors.Wrapf(ErrCorruptRecord, "%d elements can't fit in the %d remaining bytes",
			count, r.remaining())
	}
	blobs := make([][]byte, count)
	for ii := range blobs {
		n, err := r.count()
		if err != nil {
			return nil, err
		}
		data, err := r.next(n)
		if err != nil {
			return nil, err
		}
		if c.isString && !utf8.Valid(data) {
			return nil, errors.Wrapf(ErrCorruptRecord, "string element %d is not valid UTF-8", ii)
		}
		blobs[ii] = slices.Clone(data)
	}
	if c.isString {
		strs := make([]string, count)
		for ii, blob := range blobs {
			strs[ii] = string(blob)
		}
		if c.spec.IsScalar() {
			return strs[0], nil
		}
		return strs, nil
	}
	if c.spec.IsScalar() {
		return blobs[0], nil
	}
	return blobs, nil
}

// walkElements calls fn for each leaf element of value, which can be a scalar, a (nested)
// slice or array, or a *tensors.Tensor.
func walkElements(value any, fn func(v reflect.Value) error) error {
	if t, ok := value.(*tensors.Tensor); ok {
		if t == nil {
			return errors.Wrap(ErrTypeCoercion, "nil tensor")
		}
		t.ConstFlatData(func(flat any) { value = flat })
	}
	return walkValue(reflect.ValueOf(value), fn)
}

func walkValue(v reflect.Value, fn func(v reflect.Value) error) error {
	if !v.IsValid() {
		return errors.Wrap(ErrTypeCoercion, "nil value")
	}
	switch v.Kind() {
	case reflect.Slice, reflect.Array:
		for ii := range v.Len() {
			if err := walkValue(v.Index(ii), fn); err != nil {
				return err
			}
		}
		return nil
	case reflect.Interface, reflect.Pointer:
		if v.IsNil() {
			return errors.Wrap(ErrTypeCoercion, "nil value")
		}
		return walkValue(v.Elem(), fn)
	}
	return fn(v)
}

func coerceInt64s(value any) ([]int64, error) {
	var values []int64
	err := walkElements(value, func(v reflect.Value) error {
		switch v.Kind() {
		case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
			values = append(values, v.Int())
			return nil
		case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
			u := v.Uint()
			if u > math.MaxInt64 {
				return errors.Wrapf(ErrTypeCoercion, "value %d overflows int64", u)
			}
			values = append(values, int64(u))
			return nil
		}
		return errors.Wrapf(ErrTypeCoercion, "can't store %s as int64", v.Type())
	})
	if err != nil {
		return nil, err
	}
	return values, nil
}

func coerceFloat32s(value any) ([]float32, error) {
	var values []float32
	err := walkElements(value, func(v reflect.Value) error {
		switch v.Kind() {
		case reflect.Float32, reflect.Float64:
			f := v.Float()
			f32 := float32(f)
			if math.IsInf(float64(f32), 0) && !math.IsInf(f, 0) {
				return errors.Wrapf(ErrTypeCoercion, "value %g overflows float32", f)
			}
			values = append(values, f32)
			return nil
		case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
			values = append(values, float32(v.Int()))
			return nil
		case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
			values = append(values, float32(v.Uint()))
			return nil
		}
		return errors.Wrapf(ErrTypeCoercion, "can't store %s as float32", v.Type())
	})
	if err != nil {
		return nil, err
	}
	return values, nil
}

// checkKeys returns ErrSchemaMismatch listing missing and extra keys, if any.
func (s *Schema) checkKeys(record Record) error {
	var missing, extra []string
	for _, name := range s.names {
		if _, found := record[name]; !found {
			missing = append(missing, name)
		}
	}
	for name := range record {
		if _, found := s.specs[name]; !found {
			extra = append(extra, name)
		}
	}
	if len(missing) == 0 && len(extra) == 0 {
		return nil
	}
	slices.Sort(extra)
	return errors.Wrapf(ErrSchemaMismatch, "missing features %q, unknown features %q", missing, extra)
}

// encodeRecord appends the payload of record to buf. buf is left unchanged on error.
func (s *Schema) encodeRecord(buf []byte, record Record) ([]byte, error) {
	if err := s.checkKeys(record); err != nil {
		return buf, err
	}
	start := len(buf)
	for ii, name := range s.names {
		var err error
		buf, err = s.codecs[ii].encode(buf, record[name])
		if err != nil {
			return buf[:start], errors.WithMessagef(err, "feature %q", name)
		}
	}
	return buf, nil
}

// decodeRecord parses a whole payload. Trailing bytes are reported as corruption.
func (s *Schema) decodeRecord(payload []byte) (Record, error) {
	r := &payloadReader{data: payload}
	record := make(Record, len(s.names))
	for ii, name := range s.names {
		value, err := s.codecs[ii].decode(r)
		if err != nil {
			return nil, errors.WithMessagef(err, "feature %q", name)
		}
		record[name] = value
	}
	if r.remaining() > 0 {
		return nil, errors.Wrapf(ErrCorruptRecord, "%d trailing bytes after the last feature", r.remaining())
	}
	return record, nil
}
