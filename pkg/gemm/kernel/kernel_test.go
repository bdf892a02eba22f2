// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package kernel_test

import (
	"fmt"
	"math"
	"testing"

	"github.com/gomlx/tilegemm/internal/reference"
	"github.com/gomlx/tilegemm/pkg/core/dtypes"
	"github.com/gomlx/tilegemm/pkg/core/matrix"
	"github.com/gomlx/tilegemm/pkg/gemm/kernel"
	"github.com/gomlx/tilegemm/pkg/gemm/tiling"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// runAllTiles executes every tile of the launch sequentially.
func runAllTiles(t *testing.T, kern *kernel.Kernel) {
	grid, err := kern.Grid(tiling.Grouped)
	require.NoError(t, err)
	scratch := kernel.GetScratch(kern.Config())
	defer kernel.PutScratch(scratch)
	for pid := range grid.NumTiles() {
		kern.RunTile(grid.Tile(pid), scratch)
	}
}

func TestKernelMatchesReference(t *testing.T) {
	small := kernel.Config{BlockM: 8, BlockN: 16, BlockK: 4, GroupM: 2}
	testCases := []struct {
		m, n, k int
		cfg     kernel.Config
	}{
		{1, 1, 1, small},
		{8, 16, 4, small},   // Exactly one tile, one chunk.
		{17, 33, 9, small},  // Edge tiles in M and N, partial last chunk of K.
		{3, 5, 100, small},  // Single overhanging tile, many chunks.
		{64, 48, 31, small}, // Several groups, last group smaller.
		{20, 20, 0, small},  // Empty contracting dimension.
		{130, 129, 70, kernel.DefaultCandidates[1]},
	}
	for _, tc := range testCases {
		for _, dtype := range []dtypes.DType{dtypes.Float32, dtypes.Float16, dtypes.BFloat16} {
			t.Run(fmt.Sprintf("%dx%dx%d/%s/%s", tc.m, tc.n, tc.k, tc.cfg, dtype), func(t *testing.T) {
				a, err := reference.RandomMatrix(dtype, tc.m, tc.k, 1)
				require.NoError(t, err)
				b, err := reference.RandomMatrix(dtype, tc.k, tc.n, 2)
				require.NoError(t, err)
				c, err := matrix.New(dtypes.Float32, tc.m, tc.n)
				require.NoError(t, err)
				kern, err := kernel.New(tc.cfg, a, b, c, nil)
				require.NoError(t, err)
				runAllTiles(t, kern)

				want, err := reference.Naive(a, b, nil)
				require.NoError(t, err)
				got := matrix.Flat[float32](c)
				// Inputs are exact in float32, so only the float32 accumulation order differs.
				assert.Less(t, reference.NormwiseError(got, want), 1e-5)
			})
		}
	}
}

func TestKernelStridedOperands(t *testing.T) {
	// A is given as the transpose of a row-major K x M matrix (column-major view), and
	// B as a slice of a larger matrix.
	const m, n, k = 21, 13, 11
	aT, err := reference.RandomMatrix(dtypes.Float32, k, m, 3)
	require.NoError(t, err)
	a := aT.Transposed()
	bigB, err := reference.RandomMatrix(dtypes.Float32, k+3, n+5, 4)
	require.NoError(t, err)
	b, err := bigB.Slice(2, 2+k, 4, 4+n)
	require.NoError(t, err)

	// C is a column-major view.
	cT, err := matrix.New(dtypes.Float32, n, m)
	require.NoError(t, err)
	c := cT.Transposed()

	cfg := kernel.Config{BlockM: 4, BlockN: 8, BlockK: 3, GroupM: 3}
	kern, err := kernel.New(cfg, a, b, c, kernel.ReLU)
	require.NoError(t, err)
	runAllTiles(t, kern)

	want, err := reference.Naive(a, b, func(x float64) float64 { return max(x, 0) })
	require.NoError(t, err)
	assert.Less(t, reference.NormwiseError(reference.Values(c), want), 1e-5)
}

// TestKernelMasksStores checks nothing outside of the logical output is written, using a larger
// buffer pre-filled with sentinels.
func TestKernelMasksStores(t *testing.T) {
	const m, n, k = 19, 23, 10
	const sentinel = float32(-12345)
	buffer, err := matrix.New(dtypes.Float32, m+5, n+7)
	require.NoError(t, err)
	buffer.Fill(sentinel)
	c, err := buffer.Slice(2, 2+m, 3, 3+n)
	require.NoError(t, err)

	a, err := reference.RandomMatrix(dtypes.Float16, m, k, 5)
	require.NoError(t, err)
	b, err := reference.RandomMatrix(dtypes.Float16, k, n, 6)
	require.NoError(t, err)
	kern, err := kernel.New(kernel.Config{BlockM: 16, BlockN: 16, BlockK: 8, GroupM: 4}, a, b, c, kernel.Swish)
	require.NoError(t, err)
	runAllTiles(t, kern)

	for row := range buffer.Rows() {
		for col := range buffer.Cols() {
			inside := row >= 2 && row < 2+m && col >= 3 && col < 3+n
			if !inside {
				require.Equal(t, sentinel, buffer.At(row, col), "written outside of C at (%d, %d)", row, col)
			} else {
				require.NotEqual(t, sentinel, buffer.At(row, col), "not written at (%d, %d)", row, col)
			}
		}
	}
	want, err := reference.Naive(a, b, reference.Swish)
	require.NoError(t, err)
	assert.Less(t, reference.NormwiseError(reference.Values(c), want), 1e-5)
}

func TestKernelHalfPrecisionOutput(t *testing.T) {
	a, err := reference.RandomMatrix(dtypes.Float16, 33, 40, 7)
	require.NoError(t, err)
	b, err := reference.RandomMatrix(dtypes.Float16, 40, 17, 8)
	require.NoError(t, err)
	c, err := matrix.New(dtypes.Float16, 33, 17)
	require.NoError(t, err)
	kern, err := kernel.New(kernel.Config{BlockM: 16, BlockN: 16, BlockK: 16, GroupM: 2}, a, b, c, nil)
	require.NoError(t, err)
	runAllTiles(t, kern)
	want, err := reference.Naive(a, b, nil)
	require.NoError(t, err)
	assert.Less(t, reference.MaxRelError(reference.Values(c), want, 1), 1e-2)
}

func TestCheckOperands(t *testing.T) {
	newF32 := func(rows, cols int) *matrix.Matrix {
		m, err := matrix.New(dtypes.Float32, rows, cols)
		require.NoError(t, err)
		return m
	}
	err := kernel.CheckOperands(newF32(2, 3), newF32(4, 5), newF32(2, 5))
	require.Error(t, err)
	assert.True(t, errors.Is(err, kernel.ErrShapeMismatch))

	err = kernel.CheckOperands(newF32(2, 3), newF32(3, 5), newF32(2, 4))
	assert.True(t, errors.Is(err, kernel.ErrShapeMismatch))

	f16, err := matrix.New(dtypes.Float16, 3, 5)
	require.NoError(t, err)
	err = kernel.CheckOperands(newF32(2, 3), f16, newF32(2, 5))
	assert.True(t, errors.Is(err, kernel.ErrDTypeMismatch))

	// Output with aliasing rows.
	aliased, err := matrix.FromStrided(2, 5, 0, 1, 0, make([]float32, 5))
	require.NoError(t, err)
	err = kernel.CheckOperands(newF32(2, 3), newF32(3, 5), aliased)
	assert.True(t, errors.Is(err, matrix.ErrLayoutViolation))

	// In-place: C is a view of A's storage.
	square := newF32(3, 3)
	err = kernel.CheckOperands(square, newF32(3, 3), square)
	assert.True(t, errors.Is(err, matrix.ErrLayoutViolation))
	err = kernel.CheckOperands(newF32(3, 3), square, square.Transposed())
	assert.True(t, errors.Is(err, matrix.ErrLayoutViolation))

	_, err = kernel.New(kernel.Config{}, newF32(2, 3), newF32(3, 5), newF32(2, 5), nil)
	require.Error(t, err)
}

func TestRunTileOutsideOutputPanics(t *testing.T) {
	a, err := matrix.New(dtypes.Float32, 10, 10)
	require.NoError(t, err)
	kern, err := kernel.New(kernel.SafeConfig, a, a, a.Clone(), nil)
	require.NoError(t, err)
	scratch := kernel.NewScratch(kernel.SafeConfig)
	assert.Panics(t, func() { kern.RunTile(tiling.Coord{Row: 1, Col: 0}, scratch) })
}

func TestActivations(t *testing.T) {
	for _, x := range []float64{-1e4, -700, -100, -88.7, -20, -1, -1e-6, 0, 1e-6, 1, 20, 88.7, 100, 700, 1e4} {
		gotSigmoid := float64(kernel.Sigmoid(float32(x)))
		gotSwish := float64(kernel.Swish(float32(x)))
		require.False(t, math.IsNaN(gotSigmoid) || math.IsInf(gotSigmoid, 0), "Sigmoid(%g)=%g", x, gotSigmoid)
		require.False(t, math.IsNaN(gotSwish) || math.IsInf(gotSwish, 0), "Swish(%g)=%g", x, gotSwish)

		// Double precision reference: x * sigmoid(x), computed with the direct formula.
		x32 := float64(float32(x))
		wantSigmoid := 1 / (1 + math.Exp(-x32))
		wantSwish := x32 * wantSigmoid
		assert.InDelta(t, wantSigmoid, gotSigmoid, 1e-6, "Sigmoid(%g)", x)
		assert.InDelta(t, wantSwish, gotSwish, 1e-6*max(1, math.Abs(wantSwish)), "Swish(%g)", x)
	}
	assert.Equal(t, float32(0), kernel.ReLU(-3))
	assert.Equal(t, float32(2), kernel.ReLU(2))

	fn, err := kernel.ActivationByName("SiLU")
	require.NoError(t, err)
	assert.Equal(t, kernel.Swish(1.5), fn(1.5))
	fn, err = kernel.ActivationByName("none")
	require.NoError(t, err)
	assert.Nil(t, fn)
	_, err = kernel.ActivationByName("tanhh")
	require.Error(t, err)
}

func TestParseConfig(t *testing.T) {
	cfg, err := kernel.ParseConfig("128x64x32/g4/w2")
	require.NoError(t, err)
	assert.Equal(t, kernel.Config{BlockM: 128, BlockN: 64, BlockK: 32, GroupM: 4, NumWorkers: 2}, cfg)
	assert.Equal(t, "128x64x32/g4/w2", cfg.String())

	cfg, err = kernel.ParseConfig("16x16x8")
	require.NoError(t, err)
	assert.Equal(t, 8, cfg.GroupM)
	assert.Equal(t, 4*(16*8+8*16+16*16), cfg.ScratchBytes())

	for _, bad := range []string{"16x16", "16x0x8", "axbxc", "16x16x16/q3", "16x16x16/g0", "16x16x16/"} {
		_, err = kernel.ParseConfig(bad)
		require.Error(t, err, "config %q should fail", bad)
	}

	configs, err := kernel.ParseConfigs("128x128x32/g8/w0; 64x128x32")
	require.NoError(t, err)
	assert.Equal(t, kernel.DefaultCandidates, configs)
	_, err = kernel.ParseConfigs(" ; ")
	require.Error(t, err)
}
