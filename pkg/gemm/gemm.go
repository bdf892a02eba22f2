// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package gemm implements C = activation(A x B) with a cache-aware, block-tiled and auto-tuned kernel
// executed in parallel by a pool of goroutines.
//
// Each BlockM x BlockN tile of the output is an independent work-item. Work-items are handed to the
// workers in the order given by the tile scheduler (package tiling), so tiles being computed at the
// same time reuse the same rows of A and columns of B. The tile sizes are chosen per problem shape
// (M, N, K) by the autotuner (package autotune), the first time a shape is seen.
//
// Example:
//
//	c, err := gemm.Multiply(a, b, kernel.Swish)
//
// Engines are configured with a comma-separated list of options, see New.
package gemm

import (
	"math"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/tilegemm/internal/workerspool"
	"github.com/gomlx/tilegemm/pkg/core/matrix"
	"github.com/gomlx/tilegemm/pkg/gemm/autotune"
	"github.com/gomlx/tilegemm/pkg/gemm/kernel"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Engine executes matrix multiplications. It is safe for concurrent use.
type Engine struct {
	opts     Options
	pool     *workerspool.Pool
	selector *autotune.Selector
}

// New creates an Engine from a configuration string: a comma-separated list of options.
// An empty string uses DefaultOptions. The options are:
//
//   - "parallelism=N": maximum number of goroutines computing tiles. 0 runs inline, -1 is unlimited.
//   - "schedule=grouped|rowmajor": order in which tiles are assigned to workers.
//   - "candidates=CFG;CFG;...": configurations considered by the autotuner, formatted as "BMxBNxBK/gG/wW".
//   - "fallback=safe|fail": what to do when no candidate can be used for a shape.
//   - "max_scratch=SIZE": exclude candidates using more per-worker scratch, e.g. "256KiB".
//   - "warmup=N", "repeats=N": untimed and timed runs when measuring a candidate.
//   - "contiguous": require row-major contiguous inputs.
//   - "notune": don't measure, always use the first candidate.
//
// Example: "parallelism=8,candidates=64x64x32/g8;128x128x32/g8,warmup=0".
func New(config string) (*Engine, error) {
	opts, err := ParseOptions(config)
	if err != nil {
		return nil, err
	}
	return NewWithOptions(opts)
}

// NewWithOptions creates an Engine from already parsed options.
func NewWithOptions(opts Options) (*Engine, error) {
	if len(opts.Candidates) == 0 {
		return nil, errors.New("gemm: at least one candidate configuration is required")
	}
	if opts.Repeats < 1 {
		return nil, errors.Errorf("gemm: repeats must be at least 1, got %d", opts.Repeats)
	}
	for _, cfg := range opts.Candidates {
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}
	tunerOptions := []autotune.Option{autotune.WithFallback(opts.Fallback)}
	if opts.MaxScratchBytes > 0 {
		tunerOptions = append(tunerOptions, autotune.WithMaxScratchBytes(opts.MaxScratchBytes))
	}
	e := &Engine{
		opts:     opts,
		pool:     workerspool.New(opts.Parallelism),
		selector: autotune.New(opts.Candidates, tunerOptions...),
	}
	klog.V(1).Infof("gemm: new engine with parallelism=%d, schedule=%s, %d candidates",
		opts.Parallelism, opts.Schedule, len(opts.Candidates))
	return e, nil
}

// MustNew is like New, but panics on error.
func MustNew(config string) *Engine {
	e, err := New(config)
	if err != nil {
		exceptions.Panicf("gemm.MustNew(%q): %+v", config, err)
	}
	return e
}

var defaultEngine = sync.OnceValue(func() *Engine {
	return MustNew(os.Getenv(ConfigEnvVar))
})

// Default returns the process-wide engine, configured from $TILEGEMM_CONFIG on first use.
// It panics if the configuration is invalid.
func Default() *Engine {
	return defaultEngine()
}

// Multiply computes activation(A x B) with the Default engine. See Engine.Multiply.
func Multiply(a, b *matrix.Matrix, activation kernel.Activation) (*matrix.Matrix, error) {
	return Default().Multiply(a, b, activation)
}

// Options returns the engine options.
func (e *Engine) Options() Options { return e.opts }

// Selector returns the autotuner of the engine.
func (e *Engine) Selector() *autotune.Selector { return e.selector }

// Tuned returns the configuration selected for the shape, if it was already tuned.
func (e *Engine) Tuned(m, n, k int) (kernel.Config, bool) {
	entry, found := e.selector.Lookup(autotune.Shape{M: m, N: n, K: k})
	return entry.Config, found
}

// Multiply computes activation(A x B) into a newly allocated row-major matrix C with the dtype of A.
// The activation may be nil.
//
// It fails, before doing any work, with an error wrapping ErrShapeMismatch if A.Cols() != B.Rows(),
// ErrDTypeMismatch if A and B have different dtypes, or ErrLayoutViolation if an operand view is invalid
// (or not contiguous, if the engine requires it).
func (e *Engine) Multiply(a, b *matrix.Matrix, activation kernel.Activation) (*matrix.Matrix, error) {
	if a.Cols() != b.Rows() {
		return nil, errors.Wrapf(ErrShapeMismatch, "gemm.Multiply: incompatible dimensions: A is %dx%d and B is %dx%d",
			a.Rows(), a.Cols(), b.Rows(), b.Cols())
	}
	c, err := matrix.New(a.DType(), a.Rows(), b.Cols())
	if err != nil {
		return nil, errors.WithMessage(err, "gemm.Multiply: allocating output")
	}
	if err = e.MultiplyInto(c, a, b, activation); err != nil {
		return nil, err
	}
	return c, nil
}

// MultiplyInto computes C = activation(A x B), for a caller provided C (M x N). C can be any
// strided view whose elements don't alias each other, and it can have a different dtype than A and B.
func (e *Engine) MultiplyInto(c, a, b *matrix.Matrix, activation kernel.Activation) error {
	if err := e.checkOperands(c, a, b); err != nil {
		return err
	}
	cfg, err := e.selectConfig(c, a, b, activation)
	if err != nil {
		return errors.WithMessagef(err, "gemm: selecting configuration for A%s x B%s", a, b)
	}
	return e.run(cfg, c, a, b, activation)
}

// MultiplyWithConfig is like MultiplyInto, but uses the given configuration instead of the autotuner.
func (e *Engine) MultiplyWithConfig(cfg kernel.Config, c, a, b *matrix.Matrix, activation kernel.Activation) error {
	if err := e.checkOperands(c, a, b); err != nil {
		return err
	}
	return e.run(cfg, c, a, b, activation)
}

func (e *Engine) checkOperands(c, a, b *matrix.Matrix) error {
	if err := kernel.CheckOperands(a, b, c); err != nil {
		return errors.WithMessage(err, "gemm")
	}
	if e.opts.RequireContiguous {
		if err := matrix.RequireContiguous("A", a); err != nil {
			return err
		}
		if err := matrix.RequireContiguous("B", b); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) selectConfig(c, a, b *matrix.Matrix, activation kernel.Activation) (kernel.Config, error) {
	if e.opts.NoTune {
		return e.opts.Candidates[0], nil
	}
	shape := autotune.Shape{M: a.Rows(), N: b.Cols(), K: a.Cols()}
	return e.selector.Select(shape, e.measureFn(c, a, b, activation))
}

// measureFn returns the autotuner measurement for the operands: Warmup untimed runs followed by Repeats
// timed runs of the whole computation, writing to C. The cost is the fastest timed run.
func (e *Engine) measureFn(c, a, b *matrix.Matrix, activation kernel.Activation) autotune.Measure {
	return func(cfg kernel.Config) (time.Duration, error) {
		kern, err := kernel.New(cfg, a, b, c, activation)
		if err != nil {
			return 0, err
		}
		for range e.opts.Warmup {
			e.launch(kern)
		}
		best := time.Duration(math.MaxInt64)
		for range e.opts.Repeats {
			start := time.Now()
			e.launch(kern)
			best = min(best, time.Since(start))
		}
		return best, nil
	}
}

func (e *Engine) run(cfg kernel.Config, c, a, b *matrix.Matrix, activation kernel.Activation) error {
	kern, err := kernel.New(cfg, a, b, c, activation)
	if err != nil {
		return errors.WithMessage(err, "gemm")
	}
	e.launch(kern)
	return nil
}

// launch executes every tile of the kernel and returns when all are written.
//
// Workers take work-item ids from a shared counter in increasing order, so the tiles running at any
// moment are consecutive in the scheduler's order. The calling goroutine is always one of the workers.
func (e *Engine) launch(kern *kernel.Kernel) {
	grid, err := kern.Grid(e.opts.Schedule)
	if err != nil {
		// The kernel config was already validated.
		exceptions.Panicf("gemm: invalid grid for config %s: %+v", kern.Config(), err)
	}
	numTiles := grid.NumTiles()
	if numTiles == 0 {
		return
	}
	cfg := kern.Config()
	numWorkers := min(e.pool.Parallelism(cfg.NumWorkers), numTiles)
	var nextPID atomic.Int64
	ran := e.pool.RunWorkers(numWorkers, func(int) {
		scratch := kernel.GetScratch(cfg)
		defer kernel.PutScratch(scratch)
		for {
			pid := int(nextPID.Add(1) - 1)
			if pid >= numTiles {
				return
			}
			kern.RunTile(grid.Tile(pid), scratch)
		}
	})
	if klog.V(2).Enabled() {
		m, n, k := kern.Dims()
		klog.Infof("gemm: launched %d tiles (%dx%d grid) for M=%d, N=%d, K=%d with %s on %d workers",
			numTiles, grid.GridM(), grid.GridN(), m, n, k, cfg, ran)
	}
}
