// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package data

import (
	"io"
	"math/rand/v2"
	"runtime"
	"sync"

	"github.com/pkg/errors"
	"github.com/recordml/recordml/types/xsync"
	"k8s.io/klog/v2"
)

// Source is an index-addressable collection of examples with a known length.
//
// Get must be safe for concurrent use: Loader calls it from several goroutines.
type Source[E any] interface {
	NumExamples() int
	Get(index int) (E, error)
}

// Loader batches the examples of a Source, fetching them in parallel.
//
// Batches are yielded in index order (or in the shuffled order, if Shuffle is configured),
// regardless of the parallelism.
//
// Configure it with the cascading methods, then call Start. Yield, Reset and Done must be
// called from a single goroutine. To avoid leaking goroutines, call Done when finished.
//
// Example:
//
//	loader := data.NewLoader[records.Record](ds).BatchSize(32).Shuffle(42).Start()
//	defer loader.Done()
//	for {
//		batch, err := loader.Yield()
//		if err == io.EOF {
//			break
//		}
//		...
//	}
type Loader[E any] struct {
	src Source[E]

	batchSize, parallelism, bufferSize, epochs int
	dropIncomplete                             bool
	rng                                        *rand.Rand

	impl *loaderImpl[E]
}

type batchResult[E any] struct {
	batch []E
	err   error
}

type batchJob[E any] struct {
	indices []int
	result  chan batchResult[E]
}

// loaderImpl holds the state of one run of the goroutines, between Start/Reset and the
// next Reset/Done.
type loaderImpl[E any] struct {
	stop    *xsync.Latch
	pending chan chan batchResult[E]
	wg      sync.WaitGroup
	err     error
}

// NewLoader creates a Loader for src with batch size 1, one epoch, no shuffling and
// parallelism set to the number of cores plus 1.
func NewLoader[E any](src Source[E]) *Loader[E] {
	l := &Loader[E]{
		src:       src,
		batchSize: 1,
		epochs:    1,
	}
	l.Parallelism(0)
	return l
}

func (l *Loader[E]) configurable(method string) bool {
	if l.impl != nil {
		klog.Errorf("Loader.%s: invalid configuration change after Start has been called.", method)
		return false
	}
	return true
}

// BatchSize sets the number of examples per batch. The last batch of an epoch may be smaller,
// see DropIncomplete.
//
// It returns the updated Loader, so calls can be cascaded.
func (l *Loader[E]) BatchSize(n int) *Loader[E] {
	if l.configurable("BatchSize") {
		l.batchSize = max(n, 1)
	}
	return l
}

// Parallelism is the number of goroutines calling Source.Get. If set to 0 (the default),
// it will use the number of cores in the system plus 1.
//
// It returns the updated Loader, so calls can be cascaded.
func (l *Loader[E]) Parallelism(n int) *Loader[E] {
	if l.configurable("Parallelism") {
		if n <= 0 {
			n = runtime.NumCPU() + 1
		}
		l.parallelism = n
		l.bufferSize = 2 * n
	}
	return l
}

// Buffer sets the number of batches that may be prepared ahead of Yield.
// It defaults to twice the parallelism.
//
// It returns the updated Loader, so calls can be cascaded.
func (l *Loader[E]) Buffer(n int) *Loader[E] {
	if l.configurable("Buffer") {
		l.bufferSize = max(n, 0)
	}
	return l
}

// Epochs sets the number of passes over the Source before Yield returns io.EOF.
// If n <= 0 it loops indefinitely.
//
// It returns the updated Loader, so calls can be cascaded.
func (l *Loader[E]) Epochs(n int) *Loader[E] {
	if l.configurable("Epochs") {
		l.epochs = n
	}
	return l
}

// Shuffle the order of the examples at every epoch, using a random number generator initialized
// with seed.
//
// It returns the updated Loader, so calls can be cascaded.
func (l *Loader[E]) Shuffle(seed uint64) *Loader[E] {
	if l.configurable("Shuffle") {
		l.rng = rand.New(rand.NewPCG(seed, seed^0x9E3779B97F4A7C15))
	}
	return l
}

// DropIncomplete drops the last batch of each epoch if it is smaller than the batch size.
//
// It returns the updated Loader, so calls can be cascaded.
func (l *Loader[E]) DropIncomplete(drop bool) *Loader[E] {
	if l.configurable("DropIncomplete") {
		l.dropIncomplete = drop
	}
	return l
}

// Start indicates that the Loader is configured, and starts the goroutines.
//
// It returns the updated Loader, so calls can be cascaded.
func (l *Loader[E]) Start() *Loader[E] {
	if l.impl != nil {
		klog.Errorf("Loader.Start called more than once!?")
		return l
	}
	l.startGoRoutines()
	return l
}

// epochOrder returns the order of the examples for the next epoch.
func (l *Loader[E]) epochOrder(n int) []int {
	order := make([]int, n)
	for ii := range order {
		order[ii] = ii
	}
	if l.rng != nil {
		l.rng.Shuffle(n, func(i, j int) { order[i], order[j] = order[j], order[i] })
	}
	return order
}

func (l *Loader[E]) startGoRoutines() {
	impl := &loaderImpl[E]{
		stop:    xsync.NewLatch(),
		pending: make(chan chan batchResult[E], l.bufferSize),
	}
	l.impl = impl
	jobs := make(chan batchJob[E])

	// Producer: plans the batches, in order.
	impl.wg.Add(1)
	go func() {
		defer impl.wg.Done()
		defer close(impl.pending)
		defer close(jobs)
		numExamples := l.src.NumExamples()
		if numExamples == 0 {
			return
		}
		for epoch := 0; l.epochs <= 0 || epoch < l.epochs; epoch++ {
			order := l.epochOrder(numExamples)
			for start := 0; start < numExamples; start += l.batchSize {
				end := min(start+l.batchSize, numExamples)
				if end-start < l.batchSize && l.dropIncomplete {
					break
				}
				job := batchJob[E]{indices: order[start:end], result: make(chan batchResult[E], 1)}
				select {
				case <-impl.stop.WaitChan():
					return
				case impl.pending <- job.result:
				}
				select {
				case <-impl.stop.WaitChan():
					return
				case jobs <- job:
				}
			}
		}
	}()

	// Workers.
	for range l.parallelism {
		impl.wg.Add(1)
		go func() {
			defer impl.wg.Done()
			for job := range jobs {
				var result batchResult[E]
				result.batch = make([]E, 0, len(job.indices))
				for _, index := range job.indices {
					example, err := l.src.Get(index)
					if err != nil {
						result.err = errors.WithMessagef(err, "Loader failed to get example %d", index)
						result.batch = nil
						break
					}
					result.batch = append(result.batch, example)
				}
				job.result <- result
			}
		}()
	}
}

// Yield returns the next batch. It returns io.EOF when all epochs are exhausted, until Reset is called.
//
// The first error returned by the Source is returned, and the Loader stops: subsequent calls
// return the same error until Reset is called.
func (l *Loader[E]) Yield() ([]E, error) {
	impl := l.impl
	if impl == nil {
		return nil, errors.Errorf("Loader.Yield was called before it was started with Loader.Start")
	}
	if impl.err != nil {
		return nil, impl.err
	}
	resultChan, ok := <-impl.pending
	if !ok {
		return nil, io.EOF
	}
	result := <-resultChan
	if result.err != nil {
		klog.Errorf("Loader: %+v", result.err)
		impl.err = result.err
		l.stopGoRoutines()
		l.impl = impl
		return nil, result.err
	}
	return result.batch, nil
}

// Reset restarts the Loader from the first epoch. Batches prepared ahead are discarded.
// If shuffling, the new epochs are shuffled differently.
func (l *Loader[E]) Reset() {
	if l.impl == nil {
		klog.Errorf("Loader.Reset was called before it was started with Loader.Start")
		return
	}
	l.stopGoRoutines()
	l.startGoRoutines()
}

// Done stops the goroutines. The Loader can't be used afterwards.
func (l *Loader[E]) Done() {
	if l.impl == nil {
		return
	}
	l.stopGoRoutines()
}

// stopGoRoutines signals all goroutines to stop and waits for them.
func (l *Loader[E]) stopGoRoutines() {
	impl := l.impl
	impl.stop.Trigger()
	// Drain so the producer isn't blocked, workers never block on their buffered results.
	go func() {
		for range impl.pending {
		}
	}()
	impl.wg.Wait()
	l.impl = nil
}
