// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package records

import (
	"math"
	"slices"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/pkg/errors"
)

// convertValue converts a decoded value (see Record for the possible Go types) to the logical type to.
// Scalars stay scalars and sequences stay sequences.
func convertValue(value any, to LogicalType) (any, error) {
	switch v := value.(type) {
	case int64:
		return convertInt64(v, to)
	case []int64:
		return convertElements(v, to, convertInt64)
	case float32:
		return convertFloat32(v, to)
	case []float32:
		return convertElements(v, to, convertFloat32)
	case []byte:
		return convertBytes(v, to)
	case [][]byte:
		return convertElements(v, to, convertBytes)
	case string:
		return convertString(v, to)
	case []string:
		return convertElements(v, to, convertString)
	}
	return nil, errors.Wrapf(ErrTypeCoercion, "can't convert value of type %T to %s", value, to)
}

func convertElements[S any](values []S, to LogicalType, fn func(S, LogicalType) (any, error)) (any, error) {
	switch to {
	case Int64:
		return mapElements[S, int64](values, to, fn)
	case Float32:
		return mapElements[S, float32](values, to, fn)
	case Bytes:
		return mapElements[S, []byte](values, to, fn)
	case String:
		return mapElements[S, string](values, to, fn)
	}
	return nil, errors.Wrapf(ErrTypeCoercion, "invalid target type %s", to)
}

func mapElements[S, D any](values []S, to LogicalType, fn func(S, LogicalType) (any, error)) ([]D, error) {
	converted := make([]D, len(values))
	for ii, v := range values {
		c, err := fn(v, to)
		if err != nil {
			return nil, errors.WithMessagef(err, "element %d", ii)
		}
		converted[ii] = c.(D)
	}
	return converted, nil
}

func convertInt64(v int64, to LogicalType) (any, error) {
	switch to {
	case Int64:
		return v, nil
	case Float32:
		return float32(v), nil
	case String:
		return strconv.FormatInt(v, 10), nil
	case Bytes:
		return []byte(strconv.FormatInt(v, 10)), nil
	}
	return nil, errors.Wrapf(ErrTypeCoercion, "invalid target type %s", to)
}

func convertFloat32(v float32, to LogicalType) (any, error) {
	switch to {
	case Float32:
		return v, nil
	case Int64:
		f := float64(v)
		if math.IsNaN(f) || math.IsInf(f, 0) || f != math.Trunc(f) || f < math.MinInt64 || f >= math.MaxInt64 {
			return nil, errors.Wrapf(ErrTypeCoercion, "float32 value %g can't be represented as int64", f)
		}
		return int64(f), nil
	case String:
		return strconv.FormatFloat(float64(v), 'g', -1, 32), nil
	case Bytes:
		return []byte(strconv.FormatFloat(float64(v), 'g', -1, 32)), nil
	}
	return nil, errors.Wrapf(ErrTypeCoercion, "invalid target type %s", to)
}

func convertBytes(v []byte, to LogicalType) (any, error) {
	switch to {
	case Bytes:
		return slices.Clone(v), nil
	case String:
		if !utf8.Valid(v) {
			return nil, errors.Wrap(ErrTypeCoercion, "bytes are not valid UTF-8")
		}
		return string(v), nil
	}
	return convertString(string(v), to)
}

func convertString(v string, to LogicalType) (any, error) {
	switch to {
	case String:
		return v, nil
	case Bytes:
		return []byte(v), nil
	case Int64:
		i, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		if err != nil {
			return nil, errors.Wrapf(ErrTypeCoercion, "can't parse %q as int64: %v", v, err)
		}
		return i, nil
	case Float32:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 32)
		if err != nil {
			return nil, errors.Wrapf(ErrTypeCoercion, "can't parse %q as float32: %v", v, err)
		}
		return float32(f), nil
	}
	return nil, errors.Wrapf(ErrTypeCoercion, "invalid target type %s", to)
}
