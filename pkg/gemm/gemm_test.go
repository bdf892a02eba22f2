// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package gemm

import (
	"fmt"
	"sync"
	"testing"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/tilegemm/internal/reference"
	"github.com/gomlx/tilegemm/pkg/core/dtypes"
	"github.com/gomlx/tilegemm/pkg/core/matrix"
	"github.com/gomlx/tilegemm/pkg/gemm/autotune"
	"github.com/gomlx/tilegemm/pkg/gemm/kernel"
	"github.com/gomlx/tilegemm/pkg/gemm/tiling"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"k8s.io/klog/v2"
)

func init() {
	klog.InitFlags(nil)
}

func randomOperands(t testing.TB, dtype dtypes.DType, m, n, k int, seed uint64) (a, b *matrix.Matrix) {
	a, err := reference.RandomMatrix(dtype, m, k, seed)
	require.NoError(t, err)
	b, err = reference.RandomMatrix(dtype, k, n, seed+1)
	require.NoError(t, err)
	return a, b
}

// TestMultiplySwish512 is the 512x512 float16 scenario: the result with the fused swish must match
// swish(A x B) computed in double precision.
func TestMultiplySwish512(t *testing.T) {
	engine, err := New("warmup=0,repeats=1")
	require.NoError(t, err)
	a, b := randomOperands(t, dtypes.Float16, 512, 512, 512, 0)
	c, err := engine.Multiply(a, b, kernel.Swish)
	require.NoError(t, err)
	require.Equal(t, dtypes.Float16, c.DType())
	require.Equal(t, 512, c.Rows())
	require.Equal(t, 512, c.Cols())

	product, err := reference.Gonum(a, b)
	require.NoError(t, err)
	want := product.RawMatrix().Data
	for ii, v := range want {
		want[ii] = reference.Swish(v)
	}
	assert.Less(t, reference.MaxRelError(reference.Values(c), want, 1), 1e-2)

	_, tuned := engine.Tuned(512, 512, 512)
	assert.True(t, tuned)
}

func TestMultiplyMatchesReference(t *testing.T) {
	engine, err := New("warmup=0,repeats=1,candidates=16x16x8/g4;32x16x16/g2/w3;8x64x4/g1")
	require.NoError(t, err)
	shapes := [][3]int{{1, 1, 1}, {7, 9, 13}, {64, 64, 64}, {100, 37, 45}, {33, 129, 17}, {5, 3, 0}, {5, 0, 3}, {0, 4, 3}}
	for _, dtype := range []dtypes.DType{dtypes.Float32, dtypes.Float16, dtypes.BFloat16} {
		for _, shape := range shapes {
			m, n, k := shape[0], shape[1], shape[2]
			t.Run(fmt.Sprintf("%s/%dx%dx%d", dtype, m, n, k), func(t *testing.T) {
				a, b := randomOperands(t, dtype, m, n, k, 7)
				c, err := matrix.New(dtypes.Float32, m, n)
				require.NoError(t, err)
				require.NoError(t, engine.MultiplyInto(c, a, b, nil))
				want, err := reference.Naive(a, b, nil)
				require.NoError(t, err)
				assert.Less(t, reference.NormwiseError(matrix.Flat[float32](c), want), 1e-5)
			})
		}
	}
}

// TestConfigsAgree checks that the result doesn't depend on which configuration or schedule is used.
func TestConfigsAgree(t *testing.T) {
	a, b := randomOperands(t, dtypes.Float32, 97, 75, 66, 11)
	want, err := reference.Naive(a, b, reference.Swish)
	require.NoError(t, err)
	configs := []kernel.Config{
		kernel.SafeConfig,
		{BlockM: 128, BlockN: 128, BlockK: 32, GroupM: 8},
		{BlockM: 1, BlockN: 1, BlockK: 1, GroupM: 1, NumWorkers: 2},
		{BlockM: 5, BlockN: 7, BlockK: 3, GroupM: 100, NumWorkers: 1},
	}
	for _, config := range []string{"schedule=grouped", "schedule=rowmajor", "parallelism=0", "parallelism=-1"} {
		engine, err := New(config)
		require.NoError(t, err)
		for _, cfg := range configs {
			c, err := matrix.New(dtypes.Float32, 97, 75)
			require.NoError(t, err)
			require.NoError(t, engine.MultiplyWithConfig(cfg, c, a, b, kernel.Swish), "config %s", cfg)
			assert.Less(t, reference.NormwiseError(matrix.Flat[float32](c), want), 1e-5,
				"engine %q, config %s", config, cfg)
		}
	}
}

func TestNonContiguousOperands(t *testing.T) {
	bT, err := reference.RandomMatrix(dtypes.Float32, 40, 30, 3) // B is given column-major.
	require.NoError(t, err)
	b := bT.Transposed()
	a, err := reference.RandomMatrix(dtypes.Float32, 20, 30, 4)
	require.NoError(t, err)

	engine, err := New("warmup=0")
	require.NoError(t, err)
	c, err := engine.Multiply(a, b, nil)
	require.NoError(t, err)
	want, err := reference.Naive(a, b, nil)
	require.NoError(t, err)
	assert.Less(t, reference.NormwiseError(matrix.Flat[float32](c), want), 1e-5)

	strict, err := New("contiguous")
	require.NoError(t, err)
	_, err = strict.Multiply(a, b, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrLayoutViolation))
}

func TestEmptyOutput(t *testing.T) {
	engine, err := New("")
	require.NoError(t, err)
	for _, shape := range [][3]int{{16, 0, 8}, {0, 5, 8}, {0, 0, 0}} {
		a, b := randomOperands(t, dtypes.Float32, shape[0], shape[1], shape[2], 1)
		c, err := engine.Multiply(a, b, kernel.Swish)
		require.NoError(t, err, "shape %v", shape)
		assert.Equal(t, shape[0], c.Rows())
		assert.Equal(t, shape[1], c.Cols())
	}
}

func TestPreconditionErrors(t *testing.T) {
	engine, err := New("")
	require.NoError(t, err)
	a, b := randomOperands(t, dtypes.Float32, 4, 5, 6, 1)

	_, err = engine.Multiply(a, a, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrShapeMismatch))

	b16, err := reference.RandomMatrix(dtypes.Float16, 6, 5, 1)
	require.NoError(t, err)
	_, err = engine.Multiply(a, b16, nil)
	assert.True(t, errors.Is(err, ErrDTypeMismatch))

	wrongC, err := matrix.New(dtypes.Float32, 4, 4)
	require.NoError(t, err)
	assert.True(t, errors.Is(engine.MultiplyInto(wrongC, a, b, nil), ErrShapeMismatch))

	aliasedC, err := matrix.FromStrided(4, 5, 1, 1, 0, make([]float32, 8))
	require.NoError(t, err)
	assert.True(t, errors.Is(engine.MultiplyInto(aliasedC, a, b, nil), ErrLayoutViolation))

	// In-place multiplication, C = A x B with C being A.
	square, err := reference.RandomMatrix(dtypes.Float32, 4, 4, 2)
	require.NoError(t, err)
	other, err := reference.RandomMatrix(dtypes.Float32, 4, 4, 3)
	require.NoError(t, err)
	before := square.Clone()
	assert.True(t, errors.Is(engine.MultiplyInto(square, square, other, nil), ErrLayoutViolation))
	assert.Equal(t, matrix.Flat[float32](before), matrix.Flat[float32](square))

	// Nothing was tuned, since all calls failed before launching.
	assert.Equal(t, 0, engine.Selector().Len())
	assert.Equal(t, int64(0), engine.Selector().Measurements())
}

func TestConfigurationExhausted(t *testing.T) {
	a, b := randomOperands(t, dtypes.Float32, 20, 20, 20, 1)

	failing, err := New("max_scratch=1KiB,fallback=fail")
	require.NoError(t, err)
	_, err = failing.Multiply(a, b, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrConfigurationExhausted))

	safe, err := New("max_scratch=1KiB")
	require.NoError(t, err)
	c, err := safe.Multiply(a, b, nil)
	require.NoError(t, err)
	cfg, found := safe.Tuned(20, 20, 20)
	require.True(t, found)
	assert.Equal(t, kernel.SafeConfig, cfg)
	want, err := reference.Naive(a, b, nil)
	require.NoError(t, err)
	assert.Less(t, reference.NormwiseError(matrix.Flat[float32](c), want), 1e-5)
}

func TestAutotuneCache(t *testing.T) {
	engine, err := New("warmup=1,repeats=2")
	require.NoError(t, err)
	a, b := randomOperands(t, dtypes.Float32, 70, 80, 90, 5)

	_, err = engine.Multiply(a, b, nil)
	require.NoError(t, err)
	numCandidates := int64(len(engine.Options().Candidates))
	assert.Equal(t, numCandidates, engine.Selector().Measurements())
	first, found := engine.Tuned(70, 80, 90)
	require.True(t, found)

	_, err = engine.Multiply(a, b, kernel.ReLU)
	require.NoError(t, err)
	assert.Equal(t, numCandidates, engine.Selector().Measurements(), "same shape must not be measured again")
	second, _ := engine.Tuned(70, 80, 90)
	assert.Equal(t, first, second)

	// Concurrent first-time requests for a new shape are measured once.
	a, b = randomOperands(t, dtypes.Float32, 31, 32, 33, 9)
	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := engine.Multiply(a, b, nil)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.Equal(t, 2*numCandidates, engine.Selector().Measurements())
	assert.Equal(t, 2, engine.Selector().Len())
}

func TestNoTune(t *testing.T) {
	engine, err := New("notune,candidates=16x32x8/g2")
	require.NoError(t, err)
	a, b := randomOperands(t, dtypes.Float32, 10, 10, 10, 2)
	_, err = engine.Multiply(a, b, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, engine.Selector().Len())
}

func TestParseOptions(t *testing.T) {
	opts, err := ParseOptions("")
	require.NoError(t, err)
	assert.Equal(t, DefaultOptions(), opts)

	opts, err = ParseOptions(" parallelism=3, schedule=rowmajor, candidates=64x64x16/g4;32x32x32/g2/w2, " +
		"fallback=fail, max_scratch=64KiB, warmup=0, repeats=5, contiguous=false, notune")
	require.NoError(t, err)
	assert.Equal(t, 3, opts.Parallelism)
	assert.Equal(t, tiling.RowMajor, opts.Schedule)
	assert.Equal(t, []kernel.Config{
		{BlockM: 64, BlockN: 64, BlockK: 16, GroupM: 4},
		{BlockM: 32, BlockN: 32, BlockK: 32, GroupM: 2, NumWorkers: 2},
	}, opts.Candidates)
	assert.Equal(t, autotune.FallbackFail, opts.Fallback)
	assert.Equal(t, 64*1024, opts.MaxScratchBytes)
	assert.Equal(t, 0, opts.Warmup)
	assert.Equal(t, 5, opts.Repeats)
	assert.False(t, opts.RequireContiguous)
	assert.True(t, opts.NoTune)

	for _, bad := range []string{"turbo", "parallelism=x", "schedule=spiral", "candidates=1x2", "fallback=maybe",
		"max_scratch=lots", "warmup=-1", "repeats=0", "contiguous=perhaps"} {
		_, err = ParseOptions(bad)
		require.Error(t, err, "config %q should fail", bad)
	}
}

func TestMustNewAndDefault(t *testing.T) {
	err := exceptions.TryCatch[error](func() { MustNew("bogus=1") })
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bogus")

	a, b := randomOperands(t, dtypes.Float32, 3, 4, 5, 1)
	c, err := Multiply(a, b, nil)
	require.NoError(t, err)
	want, err := reference.Naive(a, b, nil)
	require.NoError(t, err)
	assert.Less(t, reference.NormwiseError(matrix.Flat[float32](c), want), 1e-5)
	assert.Same(t, Default(), Default())
}
