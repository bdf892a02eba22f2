// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package workerspool provides the goroutines that execute the work-items of a launch.
//
// The pool only limits the number of goroutines running at a time: launches ask for helpers with
// StartIfAvailable and do the work themselves when none is available, so a launch never blocks
// waiting for a free goroutine.
package workerspool

import (
	"runtime"
	"sync"
)

type Pool struct {
	// maxParallelism is the limit of goroutines started by the pool running at the same time.
	// 0 disables parallelism, -1 means unlimited.
	maxParallelism int
	mu             sync.Mutex
	cond           sync.Cond // Signaled whenever numRunning is decreased.
	numRunning     int
}

// New returns a new Pool with the given parallelism. If maxParallelism is 0, no goroutines are
// started and all work runs inline. If it is negative, parallelism is unlimited.
func New(maxParallelism int) *Pool {
	w := &Pool{maxParallelism: maxParallelism}
	w.cond = sync.Cond{L: &w.mu}
	return w
}

// IsEnabled returns whether parallelism is enabled (maxParallelism != 0).
func (w *Pool) IsEnabled() bool {
	return w.maxParallelism != 0
}

// IsUnlimited returns whether parallelism is unlimited (maxParallelism < 0).
func (w *Pool) IsUnlimited() bool {
	return w.maxParallelism < 0
}

// NumRunning returns the number of tasks currently running in goroutines started by the pool.
func (w *Pool) NumRunning() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.numRunning
}

// lockedIsFull returns whether all available workers are in use.
//
// It must be called with w.mu acquired.
func (w *Pool) lockedIsFull() bool {
	if w.maxParallelism == 0 {
		return true
	} else if w.maxParallelism < 0 {
		return false
	}
	return w.numRunning >= w.maxParallelism
}

// WaitToStart waits until there is a worker available to run the task, and starts it in a goroutine.
//
// If parallelism is disabled (maxParallelism is 0), it runs the task inline and returns when it is finished.
func (w *Pool) WaitToStart(task func()) {
	if w.maxParallelism == 0 {
		task()
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	for w.lockedIsFull() {
		w.cond.Wait()
	}
	w.lockedRunTaskInGoroutine(task)
}

// lockedRunTaskInGoroutine runs the task and keeps tabs on w.numRunning.
//
// It must be called with w.mu acquired.
func (w *Pool) lockedRunTaskInGoroutine(task func()) {
	w.numRunning++
	go func() {
		task()
		w.mu.Lock()
		w.numRunning--
		w.cond.Signal()
		w.mu.Unlock()
	}()
}

// StartIfAvailable runs the task in a separate goroutine, if there are workers left.
// It returns true if it started the task, false otherwise.
//
// It's up to the caller to synchronize the end of the task.
func (w *Pool) StartIfAvailable(task func()) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.lockedIsFull() {
		return false
	}
	w.lockedRunTaskInGoroutine(task)
	return true
}

// Parallelism resolves the number of workers for a launch: requested if > 0, otherwise the pool's
// parallelism (runtime.NumCPU() if unlimited). It is always >= 1.
func (w *Pool) Parallelism(requested int) int {
	switch {
	case requested > 0:
		return requested
	case w.maxParallelism > 0:
		return w.maxParallelism
	case w.maxParallelism < 0:
		return runtime.NumCPU()
	}
	return 1
}

// RunWorkers runs worker(workerIdx) for up to numWorkers workers and waits for all of them to finish.
//
// Worker 0 always runs in the calling goroutine. The others are started only if the pool has goroutines
// available, so fewer workers may run: workers must cooperate on shared work (e.g. a shared counter)
// rather than rely on a fixed partitioning. It returns the number of workers that ran.
func (w *Pool) RunWorkers(numWorkers int, worker func(workerIdx int)) int {
	var wg sync.WaitGroup
	started := 1
	for ; started < numWorkers; started++ {
		idx := started
		wg.Add(1)
		if !w.StartIfAvailable(func() {
			defer wg.Done()
			worker(idx)
		}) {
			wg.Done()
			break
		}
	}
	worker(0)
	wg.Wait()
	return started
}
