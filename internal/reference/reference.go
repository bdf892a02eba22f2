// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package reference implements slow but trustworthy matrix multiplications, used to check results
// and as the baseline provider in benchmarks, plus helpers to generate test inputs.
package reference

import (
	"math"
	"math/rand/v2"

	"github.com/gomlx/tilegemm/pkg/core/dtypes"
	"github.com/gomlx/tilegemm/pkg/core/matrix"
	"github.com/pkg/errors"
	"golang.org/x/exp/constraints"
	"gonum.org/v1/gonum/blas"
	"gonum.org/v1/gonum/blas/blas32"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"
)

// Naive computes activation(A x B) with a triple loop in float64, returning the M x N result
// in row-major order. The activation may be nil.
func Naive(a, b *matrix.Matrix, activation func(float64) float64) ([]float64, error) {
	if a.Cols() != b.Rows() {
		return nil, errors.Errorf("reference.Naive: incompatible dimensions %dx%d and %dx%d",
			a.Rows(), a.Cols(), b.Rows(), b.Cols())
	}
	m, k, n := a.Rows(), a.Cols(), b.Cols()
	out := make([]float64, m*n)
	for row := range m {
		for col := range n {
			var sum float64
			for kk := range k {
				sum += float64(a.At(row, kk)) * float64(b.At(kk, col))
			}
			if activation != nil {
				sum = activation(sum)
			}
			out[row*n+col] = sum
		}
	}
	return out, nil
}

// Sigmoid in float64, with the direct formula.
func Sigmoid(x float64) float64 {
	return 1 / (1 + math.Exp(-x))
}

// Swish in float64: x * Sigmoid(x).
func Swish(x float64) float64 {
	return x * Sigmoid(x)
}

// Dense converts a non-empty matrix view to a gonum dense matrix.
func Dense(m *matrix.Matrix) *mat.Dense {
	data := make([]float64, m.Rows()*m.Cols())
	for row := range m.Rows() {
		for col := range m.Cols() {
			data[row*m.Cols()+col] = float64(m.At(row, col))
		}
	}
	return mat.NewDense(m.Rows(), m.Cols(), data)
}

// Gonum computes A x B in float64 using gonum's mat package.
// A and B must be non-empty.
func Gonum(a, b *matrix.Matrix) (*mat.Dense, error) {
	if a.Cols() != b.Rows() {
		return nil, errors.Errorf("reference.Gonum: incompatible dimensions %dx%d and %dx%d",
			a.Rows(), a.Cols(), b.Rows(), b.Cols())
	}
	if a.Size() == 0 || b.Size() == 0 {
		return nil, errors.Errorf("reference.Gonum: empty operands not supported")
	}
	var c mat.Dense
	c.Mul(Dense(a), Dense(b))
	return &c, nil
}

// Blas32 holds float32 copies of A and B to repeatedly compute A x B with gonum's blas32.Gemm.
// It is the "reference" provider of the benchmarks.
type Blas32 struct {
	a, b, c blas32.General
}

// NewBlas32 converts the operands to row-major float32 once.
func NewBlas32(a, b *matrix.Matrix) (*Blas32, error) {
	if a.Cols() != b.Rows() {
		return nil, errors.Errorf("reference.NewBlas32: incompatible dimensions %dx%d and %dx%d",
			a.Rows(), a.Cols(), b.Rows(), b.Cols())
	}
	return &Blas32{
		a: toGeneral(a),
		b: toGeneral(b),
		c: blas32.General{Rows: a.Rows(), Cols: b.Cols(), Stride: max(b.Cols(), 1),
			Data: make([]float32, a.Rows()*b.Cols())},
	}, nil
}

func toGeneral(m *matrix.Matrix) blas32.General {
	g := blas32.General{Rows: m.Rows(), Cols: m.Cols(), Stride: max(m.Cols(), 1), Data: make([]float32, m.Size())}
	for row := range m.Rows() {
		for col := range m.Cols() {
			g.Data[row*g.Stride+col] = m.At(row, col)
		}
	}
	return g
}

// Run computes C = A x B and returns C's row-major data, owned by the Blas32 object.
func (r *Blas32) Run() []float32 {
	blas32.Gemm(blas.NoTrans, blas.NoTrans, 1, r.a, r.b, 0, r.c)
	return r.c.Data
}

// RandomMatrix returns a row-major rows x cols matrix filled with standard normal samples
// (the equivalent of torch.randn) drawn from a generator seeded with seed.
func RandomMatrix(dtype dtypes.DType, rows, cols int, seed uint64) (*matrix.Matrix, error) {
	m, err := matrix.New(dtype, rows, cols)
	if err != nil {
		return nil, err
	}
	normal := distuv.Normal{Mu: 0, Sigma: 1, Src: rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)}
	for row := range rows {
		for col := range cols {
			m.Set(row, col, float32(normal.Rand()))
		}
	}
	return m, nil
}

// MaxRelError returns the largest |got-want| / max(|want|, floor) over all elements. The floor
// avoids blowing up the relative error of values close to 0.
func MaxRelError[T, U constraints.Float](got []T, want []U, floor float64) float64 {
	if len(got) != len(want) {
		return math.Inf(1)
	}
	var worst float64
	for ii := range got {
		g, w := float64(got[ii]), float64(want[ii])
		if math.IsNaN(g) != math.IsNaN(w) {
			return math.Inf(1)
		}
		diff := math.Abs(g-w) / max(math.Abs(w), floor)
		worst = max(worst, diff)
	}
	return worst
}

// NormwiseError is the largest absolute difference scaled by the largest magnitude of want (or 1 if
// want is all zeros). It is the usual accuracy measure for matrix products, since the rounding error
// of each element is proportional to the magnitude of the partial sums, not of the final value.
func NormwiseError[T, U constraints.Float](got []T, want []U) float64 {
	var scale float64
	for _, w := range want {
		scale = max(scale, math.Abs(float64(w)))
	}
	if scale == 0 {
		scale = 1
	}
	return MaxRelError(got, want, scale)
}

// Values returns the row-major float64 values of any matrix view.
func Values(m *matrix.Matrix) []float64 {
	out := make([]float64, 0, m.Size())
	for row := range m.Rows() {
		for col := range m.Cols() {
			out = append(out, float64(m.At(row, col)))
		}
	}
	return out
}
