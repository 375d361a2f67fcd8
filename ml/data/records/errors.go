// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package records

import "github.com/pkg/errors"

// Error kinds returned (wrapped with context) by this package. Use errors.Is to test for them.
var (
	// ErrSchema is returned for an invalid schema: unknown type tags, empty names, bad dimensions.
	ErrSchema = errors.New("invalid schema")

	// ErrSchemaMismatch is returned when a record's keys differ from the schema's feature names.
	ErrSchemaMismatch = errors.New("record keys don't match schema")

	// ErrTypeCoercion is returned when a value can't be represented in the requested logical type.
	ErrTypeCoercion = errors.New("type coercion failed")

	// ErrConfig is returned for inconsistent dataset configuration.
	ErrConfig = errors.New("invalid dataset configuration")

	// ErrCorruptRecord is returned for truncated or malformed record files.
	ErrCorruptRecord = errors.New("corrupt record")

	// ErrIndexOutOfRange is returned by Get for an index outside [0, NumExamples()).
	ErrIndexOutOfRange = errors.New("index out of range")
)
