// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package data

import (
	"io"
	"slices"
	"sync/atomic"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// countingSource returns the index itself, and counts the number of concurrent calls.
type countingSource struct {
	n                 int
	failAt            int
	calls, concurrent atomic.Int64
	maxConcurrent     atomic.Int64
}

func (s *countingSource) NumExamples() int { return s.n }

func (s *countingSource) Get(index int) (int, error) {
	s.calls.Add(1)
	current := s.concurrent.Add(1)
	defer s.concurrent.Add(-1)
	for {
		prevMax := s.maxConcurrent.Load()
		if current <= prevMax || s.maxConcurrent.CompareAndSwap(prevMax, current) {
			break
		}
	}
	if index == s.failAt {
		return 0, errors.New("failing example")
	}
	return index, nil
}

func drain[E any](t *testing.T, l *Loader[E]) (batches [][]E) {
	for {
		batch, err := l.Yield()
		if err == io.EOF {
			return
		}
		require.NoError(t, err)
		batches = append(batches, batch)
	}
}

func TestLoader(t *testing.T) {
	src := &countingSource{n: 10, failAt: -1}
	loader := NewLoader[int](src).BatchSize(3).Parallelism(4).Start()
	defer loader.Done()
	batches := drain(t, loader)
	assert.Equal(t, [][]int{{0, 1, 2}, {3, 4, 5}, {6, 7, 8}, {9}}, batches)
	assert.Equal(t, int64(10), src.calls.Load())

	// After exhausting, it keeps returning io.EOF.
	_, err := loader.Yield()
	assert.Equal(t, io.EOF, err)

	loader.Reset()
	assert.Len(t, drain(t, loader), 4)
}

func TestLoaderEpochsAndDropIncomplete(t *testing.T) {
	src := NewInMemory([]string{"a", "b", "c", "d", "e"})
	loader := NewLoader[string](src).BatchSize(2).Epochs(2).DropIncomplete(true).Parallelism(2).Start()
	defer loader.Done()
	batches := drain(t, loader)
	assert.Equal(t, [][]string{{"a", "b"}, {"c", "d"}, {"a", "b"}, {"c", "d"}}, batches)
}

func TestLoaderShuffle(t *testing.T) {
	const n = 100
	src := &countingSource{n: n, failAt: -1}
	loader := NewLoader[int](src).BatchSize(7).Shuffle(42).Start()
	defer loader.Done()
	var all []int
	for _, batch := range drain(t, loader) {
		all = append(all, batch...)
	}
	require.Len(t, all, n)
	assert.False(t, slices.IsSorted(all), "examples should have been shuffled")
	slices.Sort(all)
	for ii, v := range all {
		require.Equal(t, ii, v)
	}
}

func TestLoaderError(t *testing.T) {
	src := &countingSource{n: 20, failAt: 7}
	loader := NewLoader[int](src).BatchSize(5).Parallelism(3).Start()
	defer loader.Done()
	batch, err := loader.Yield()
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1, 2, 3, 4}, batch)
	_, err = loader.Yield()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "example 7")
	_, err2 := loader.Yield()
	assert.Equal(t, err, err2)
}

func TestLoaderInfiniteEpochs(t *testing.T) {
	src := NewInMemory([]int{1, 2, 3})
	loader := NewLoader[int](src).BatchSize(2).Epochs(0).Start()
	for range 10 {
		batch, err := loader.Yield()
		require.NoError(t, err)
		require.NotEmpty(t, batch)
	}
	loader.Done()
	_, err := loader.Yield()
	require.Error(t, err)
}

func TestMap(t *testing.T) {
	src := Map[int, string](NewInMemory([]int{1, 2, 3}), func(index int, example int) (string, error) {
		if example == 3 {
			return "", errors.New("three")
		}
		return string(rune('a' + example)), nil
	})
	require.Equal(t, 3, src.NumExamples())
	v, err := src.Get(1)
	require.NoError(t, err)
	assert.Equal(t, "c", v)
	_, err = src.Get(2)
	require.Error(t, err)
	_, err = src.Get(5)
	require.Error(t, err)
}
