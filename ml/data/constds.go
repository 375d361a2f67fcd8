// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package data

import "github.com/pkg/errors"

// InMemory is a Source backed by a slice of examples.
type InMemory[E any] struct {
	examples []E
}

var _ Source[int] = &InMemory[int]{}

// NewInMemory returns a Source that serves the given examples. The slice is not copied.
func NewInMemory[E any](examples []E) *InMemory[E] {
	return &InMemory[E]{examples: examples}
}

// NumExamples implements Source.
func (ds *InMemory[E]) NumExamples() int { return len(ds.examples) }

// Get implements Source.
func (ds *InMemory[E]) Get(index int) (example E, err error) {
	if index < 0 || index >= len(ds.examples) {
		err = errors.Errorf("index %d out of range for InMemory source with %d examples", index, len(ds.examples))
		return
	}
	return ds.examples[index], nil
}
