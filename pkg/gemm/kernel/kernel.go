// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package kernel implements the block GEMM kernel: the computation of one BlockM x BlockN output
// tile of C = activation(A x B).
//
// Each tile is computed by iterating over the contracting dimension K in chunks of BlockK. The
// A[rm, k0:k0+BlockK] and B[k0:k0+BlockK, rn] sub-tiles are loaded (converted to float32) into
// zero-padded scratch buffers, and their product is accumulated into a float32 accumulator.
// The addressing of the operands only uses their strides, so any layout is supported.
//
// Loads and stores are masked at the tile level: the number of valid rows/columns is computed
// once per tile (or chunk), and the padding outside of the matrix is filled with zeros. Hence
// partial chunks of K contribute nothing, and nothing outside of C is ever written.
package kernel

import (
	"github.com/gomlx/exceptions"
	"github.com/gomlx/tilegemm/pkg/core/matrix"
	"github.com/gomlx/tilegemm/pkg/gemm/tiling"
	"github.com/pkg/errors"
)

var (
	// ErrShapeMismatch is returned (wrapped) when the operands dimensions are incompatible.
	ErrShapeMismatch = errors.New("shape mismatch")

	// ErrDTypeMismatch is returned (wrapped) when the operands have different dtypes.
	ErrDTypeMismatch = errors.New("dtype mismatch")
)

// Kernel is bound to a config and the operands of one C = activation(A x B) computation.
// It is safe to call RunTile concurrently, as long as each caller uses its own Scratch
// and computes different tiles.
type Kernel struct {
	cfg        Config
	a, b, c    *matrix.Matrix
	m, n, k    int
	activation Activation

	loadA, loadB loaderFn
	storeC       storerFn
}

// New binds the kernel to its operands, A (M x K), B (K x N) and C (M x N).
// The activation may be nil.
func New(cfg Config, a, b, c *matrix.Matrix, activation Activation) (*Kernel, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := CheckOperands(a, b, c); err != nil {
		return nil, err
	}
	kern := &Kernel{
		cfg:        cfg,
		a:          a,
		b:          b,
		c:          c,
		m:          a.Rows(),
		n:          b.Cols(),
		k:          a.Cols(),
		activation: activation,
	}
	var err error
	if kern.loadA, err = newLoader(a); err != nil {
		return nil, err
	}
	if kern.loadB, err = newLoader(b); err != nil {
		return nil, err
	}
	if kern.storeC, err = newStorer(c); err != nil {
		return nil, err
	}
	return kern, nil
}

// CheckOperands validates the dimensions, dtypes and layouts of A (M x K), B (K x N) and C (M x N).
// C must not share storage with A or B.
func CheckOperands(a, b, c *matrix.Matrix) error {
	if a.Cols() != b.Rows() {
		return errors.Wrapf(ErrShapeMismatch, "incompatible dimensions: A is %dx%d and B is %dx%d",
			a.Rows(), a.Cols(), b.Rows(), b.Cols())
	}
	if c.Rows() != a.Rows() || c.Cols() != b.Cols() {
		return errors.Wrapf(ErrShapeMismatch, "output C is %dx%d, but A x B is %dx%d",
			c.Rows(), c.Cols(), a.Rows(), b.Cols())
	}
	if a.DType() != b.DType() {
		return errors.Wrapf(ErrDTypeMismatch, "A is %s and B is %s", a.DType(), b.DType())
	}
	for _, op := range []struct {
		name string
		m    *matrix.Matrix
	}{{"A", a}, {"B", b}, {"C", c}} {
		if err := op.m.Validate(); err != nil {
			return errors.WithMessagef(err, "operand %s", op.name)
		}
	}
	if !c.IsWriteSafe() {
		return errors.Wrapf(matrix.ErrLayoutViolation, "output C %s has aliasing elements", c)
	}
	if c.SharesStorage(a) || c.SharesStorage(b) {
		return errors.Wrapf(matrix.ErrLayoutViolation, "output C %s shares storage with the inputs", c)
	}
	return nil
}

// Config returns the configuration the kernel was created with.
func (kern *Kernel) Config() Config { return kern.cfg }

// Dims returns M, N and K.
func (kern *Kernel) Dims() (m, n, k int) { return kern.m, kern.n, kern.k }

// Grid returns the tiling of the output for the kernel's config, using the given traversal order.
func (kern *Kernel) Grid(order tiling.Order) (tiling.Grid, error) {
	grid, err := tiling.NewGrid(kern.m, kern.n, kern.cfg.BlockM, kern.cfg.BlockN, kern.cfg.GroupM)
	if err != nil {
		return grid, err
	}
	grid.Order = order
	return grid, nil
}

// RunTile computes the output tile at coord and writes it to C.
//
// The scratch must have been created for the kernel's config (see GetScratch).
func (kern *Kernel) RunTile(coord tiling.Coord, scratch *Scratch) {
	cfg := kern.cfg
	rowStart, colStart := coord.RowStart(cfg.BlockM), coord.ColStart(cfg.BlockN)
	validRows := min(cfg.BlockM, kern.m-rowStart)
	validCols := min(cfg.BlockN, kern.n-colStart)
	if validRows <= 0 || validCols <= 0 || rowStart < 0 || colStart < 0 {
		exceptions.Panicf("kernel: tile %+v is outside of the %dx%d output (config %s)", coord, kern.m, kern.n, cfg)
	}
	acc := scratch.acc
	clear(acc)

	aStrideM, aStrideK := kern.a.RowStride(), kern.a.ColStride()
	bStrideK, bStrideN := kern.b.RowStride(), kern.b.ColStride()
	aPtr := kern.a.Offset() + rowStart*aStrideM
	bPtr := kern.b.Offset() + colStart*bStrideN
	for k0 := 0; k0 < kern.k; k0 += cfg.BlockK {
		depth := min(cfg.BlockK, kern.k-k0)
		kern.loadA(scratch.a, aPtr, aStrideM, aStrideK, validRows, depth, validRows, cfg.BlockK)
		kern.loadB(scratch.b, bPtr, bStrideK, bStrideN, depth, validCols, cfg.BlockK, cfg.BlockN)
		dotAccumulate(acc, scratch.a, scratch.b, validRows, cfg.BlockK, validCols, cfg.BlockN)
		aPtr += cfg.BlockK * aStrideK
		bPtr += cfg.BlockK * bStrideK
	}

	if kern.activation != nil {
		for r := range validRows {
			row := acc[r*cfg.BlockN : r*cfg.BlockN+validCols]
			for ii, v := range row {
				row[ii] = kern.activation(v)
			}
		}
	}

	// Addresses of C are computed afresh from the tile coordinates.
	cPtr := kern.c.Index(rowStart, colStart)
	kern.storeC(acc, cfg.BlockN, cPtr, kern.c.RowStride(), kern.c.ColStride(), validRows, validCols)
}

// dotAccumulate computes acc[rows, cols] += a[rows, depth] x b[depth, cols].
// a has depth columns, b and acc have ldCols columns.
func dotAccumulate(acc, a, b []float32, rows, depth, cols, ldCols int) {
	for r := range rows {
		accRow := acc[r*ldCols : r*ldCols+cols]
		aRow := a[r*depth : (r+1)*depth]
		for kk, aValue := range aRow {
			bRow := b[kk*ldCols : kk*ldCols+cols]
			for c, bValue := range bRow {
				accRow[c] += aValue * bValue
			}
		}
	}
}
