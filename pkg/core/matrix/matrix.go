// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package matrix defines Matrix, a strided 2D view over a flat slice of one of the supported dtypes.
//
// The address of element (r, c) is always computed as
//
//	offset + r*rowStride + c*colStride
//
// so row-major, column-major (e.g. Transposed) and sliced views are all handled the same way.
// A Matrix doesn't own its storage: views created with Transposed or Slice share it.
package matrix

import (
	"fmt"

	"github.com/gomlx/tilegemm/pkg/core/dtypes"
	"github.com/gomlx/tilegemm/pkg/core/dtypes/bfloat16"
	"github.com/pkg/errors"
	"github.com/x448/float16"
)

// ErrLayoutViolation is returned (wrapped) when a matrix view is not addressable within its storage,
// or when it doesn't conform to a layout requirement (e.g. contiguous inputs, non-aliasing outputs).
var ErrLayoutViolation = errors.New("layout violation")

// Matrix is a strided 2D view over flat storage.
type Matrix struct {
	dtype                dtypes.DType
	rows, cols           int
	rowStride, colStride int
	offset               int

	// flat is one of []float16.Float16, []bfloat16.BFloat16 or []float32.
	flat any
}

// New allocates a zeroed row-major matrix.
func New(dtype dtypes.DType, rows, cols int) (*Matrix, error) {
	if !dtype.IsSupported() {
		return nil, errors.Errorf("matrix.New: unsupported dtype %s", dtype)
	}
	if rows < 0 || cols < 0 {
		return nil, errors.Errorf("matrix.New: invalid dimensions %dx%d", rows, cols)
	}
	return &Matrix{
		dtype:     dtype,
		rows:      rows,
		cols:      cols,
		rowStride: cols,
		colStride: 1,
		flat:      dtype.MakeFlat(rows * cols),
	}, nil
}

// FromFlat creates a row-major matrix backed by flat, which must have exactly rows*cols elements.
func FromFlat[T dtypes.Supported](rows, cols int, flat []T) (*Matrix, error) {
	if rows < 0 || cols < 0 {
		return nil, errors.Errorf("matrix.FromFlat: invalid dimensions %dx%d", rows, cols)
	}
	if len(flat) != rows*cols {
		return nil, errors.Errorf("matrix.FromFlat: flat has %d elements, %dx%d matrix requires %d",
			len(flat), rows, cols, rows*cols)
	}
	return &Matrix{
		dtype:     dtypes.FromGenericsType[T](),
		rows:      rows,
		cols:      cols,
		rowStride: cols,
		colStride: 1,
		flat:      flat,
	}, nil
}

// FromStrided creates a general strided view over flat. The view is validated: it returns an error
// wrapping ErrLayoutViolation if any element would be addressed outside of flat.
func FromStrided[T dtypes.Supported](rows, cols, rowStride, colStride, offset int, flat []T) (*Matrix, error) {
	m := &Matrix{
		dtype:     dtypes.FromGenericsType[T](),
		rows:      rows,
		cols:      cols,
		rowStride: rowStride,
		colStride: colStride,
		offset:    offset,
		flat:      flat,
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return m, nil
}

// DType of the matrix elements.
func (m *Matrix) DType() dtypes.DType { return m.dtype }

// Rows returns the number of rows.
func (m *Matrix) Rows() int { return m.rows }

// Cols returns the number of columns.
func (m *Matrix) Cols() int { return m.cols }

// RowStride is the distance in elements between (r, c) and (r+1, c).
func (m *Matrix) RowStride() int { return m.rowStride }

// ColStride is the distance in elements between (r, c) and (r, c+1).
func (m *Matrix) ColStride() int { return m.colStride }

// Offset is the index in the flat storage of element (0, 0).
func (m *Matrix) Offset() int { return m.offset }

// Flat returns the underlying storage, shared with the matrix.
func (m *Matrix) Flat() any { return m.flat }

// Size returns rows*cols.
func (m *Matrix) Size() int { return m.rows * m.cols }

// String implements fmt.Stringer.
func (m *Matrix) String() string {
	return fmt.Sprintf("(%s)[%d, %d]{strides=[%d, %d], offset=%d}",
		m.dtype, m.rows, m.cols, m.rowStride, m.colStride, m.offset)
}

// Flat returns the storage of m as a []T. It panics if T doesn't match the dtype of m.
func Flat[T dtypes.Supported](m *Matrix) []T {
	flat, ok := m.flat.([]T)
	if !ok {
		panic(errors.Errorf("matrix.Flat[%T] called on a matrix of dtype %s", *new(T), m.dtype))
	}
	return flat
}

// Index returns the position in the flat storage of element (r, c).
func (m *Matrix) Index(r, c int) int {
	return m.offset + r*m.rowStride + c*m.colStride
}

func (m *Matrix) flatLen() int {
	switch flat := m.flat.(type) {
	case []float16.Float16:
		return len(flat)
	case []bfloat16.BFloat16:
		return len(flat)
	case []float32:
		return len(flat)
	}
	return 0
}

// At returns element (r, c) converted to float32.
func (m *Matrix) At(r, c int) float32 {
	m.checkBounds(r, c)
	idx := m.Index(r, c)
	switch flat := m.flat.(type) {
	case []float16.Float16:
		return flat[idx].Float32()
	case []bfloat16.BFloat16:
		return flat[idx].Float32()
	case []float32:
		return flat[idx]
	}
	panic(errors.Errorf("matrix.At: unsupported storage %T", m.flat))
}

// Set element (r, c), converting value to the dtype of the matrix.
func (m *Matrix) Set(r, c int, value float32) {
	m.checkBounds(r, c)
	idx := m.Index(r, c)
	switch flat := m.flat.(type) {
	case []float16.Float16:
		flat[idx] = float16.Fromfloat32(value)
	case []bfloat16.BFloat16:
		flat[idx] = bfloat16.FromFloat32(value)
	case []float32:
		flat[idx] = value
	default:
		panic(errors.Errorf("matrix.Set: unsupported storage %T", m.flat))
	}
}

// Fill sets every element of the view to value.
func (m *Matrix) Fill(value float32) {
	for r := range m.rows {
		for c := range m.cols {
			m.Set(r, c, value)
		}
	}
}

func (m *Matrix) checkBounds(r, c int) {
	if r < 0 || r >= m.rows || c < 0 || c >= m.cols {
		panic(errors.Errorf("matrix index (%d, %d) out of bounds for %dx%d matrix", r, c, m.rows, m.cols))
	}
}

// Transposed returns a view of the transpose of m, sharing the storage. No data is moved:
// dimensions and strides are swapped, so a row-major matrix becomes a column-major view.
func (m *Matrix) Transposed() *Matrix {
	t := *m
	t.rows, t.cols = m.cols, m.rows
	t.rowStride, t.colStride = m.colStride, m.rowStride
	return &t
}

// Slice returns the view of rows [r0, r1) and columns [c0, c1), sharing the storage.
func (m *Matrix) Slice(r0, r1, c0, c1 int) (*Matrix, error) {
	if r0 < 0 || r1 < r0 || r1 > m.rows || c0 < 0 || c1 < c0 || c1 > m.cols {
		return nil, errors.Errorf("Slice([%d:%d], [%d:%d]) out of bounds for %dx%d matrix",
			r0, r1, c0, c1, m.rows, m.cols)
	}
	s := *m
	s.offset = m.Index(r0, c0)
	s.rows, s.cols = r1-r0, c1-c0
	return &s, nil
}

// Clone returns a row-major contiguous copy of m.
func (m *Matrix) Clone() *Matrix {
	c := &Matrix{
		dtype:     m.dtype,
		rows:      m.rows,
		cols:      m.cols,
		rowStride: m.cols,
		colStride: 1,
		flat:      m.dtype.MakeFlat(m.rows * m.cols),
	}
	for r := range m.rows {
		for col := range m.cols {
			c.Set(r, col, m.At(r, col))
		}
	}
	return c
}
