// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package data

import "github.com/pkg/errors"

// MapFn transforms one example. It must be safe for concurrent use.
type MapFn[E, F any] func(index int, example E) (F, error)

// mapSource implements a Source that maps a function to a wrapped Source.
type mapSource[E, F any] struct {
	src Source[E]
	fn  MapFn[E, F]
}

// Map returns a Source with the result of applying fn to the examples of src.
// The mapping happens lazily in Get, so when used with a Loader it is executed in parallel.
func Map[E, F any](src Source[E], fn MapFn[E, F]) Source[F] {
	return &mapSource[E, F]{src: src, fn: fn}
}

// NumExamples implements Source.
func (m *mapSource[E, F]) NumExamples() int { return m.src.NumExamples() }

// Get implements Source.
func (m *mapSource[E, F]) Get(index int) (mapped F, err error) {
	example, err := m.src.Get(index)
	if err != nil {
		return
	}
	mapped, err = m.fn(index, example)
	if err != nil {
		err = errors.WithMessagef(err, "while mapping example %d", index)
	}
	return
}
