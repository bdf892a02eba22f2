// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package matrix

import (
	"unsafe"

	"github.com/gomlx/tilegemm/pkg/core/dtypes"
	"github.com/gomlx/tilegemm/pkg/core/dtypes/bfloat16"
	"github.com/pkg/errors"
	"github.com/x448/float16"
)

// Validate checks that every element of the view is addressable within the flat storage.
//
// Strides must be non-negative. An empty matrix (rows or cols == 0) is always valid.
func (m *Matrix) Validate() error {
	if !m.dtype.IsSupported() {
		return errors.Wrapf(ErrLayoutViolation, "matrix %s has unsupported dtype", m)
	}
	if storage := dtypes.FromFlat(m.flat); storage != m.dtype {
		return errors.Wrapf(ErrLayoutViolation, "matrix %s is backed by %T (%s)", m, m.flat, storage)
	}
	if m.rows < 0 || m.cols < 0 {
		return errors.Wrapf(ErrLayoutViolation, "matrix %s has negative dimensions", m)
	}
	if m.rowStride < 0 || m.colStride < 0 || m.offset < 0 {
		return errors.Wrapf(ErrLayoutViolation, "matrix %s has negative strides or offset", m)
	}
	if m.rows == 0 || m.cols == 0 {
		return nil
	}
	last := m.Index(m.rows-1, m.cols-1)
	if last >= m.flatLen() {
		return errors.Wrapf(ErrLayoutViolation, "matrix %s addresses element %d, but storage has only %d elements",
			m, last, m.flatLen())
	}
	return nil
}

// IsContiguous returns whether the matrix is a dense row-major block: colStride == 1 and
// rowStride == cols. Single-row and single-column matrices only need their one relevant stride to be dense.
func (m *Matrix) IsContiguous() bool {
	if m.rows == 0 || m.cols == 0 {
		return true
	}
	if m.cols > 1 && m.colStride != 1 {
		return false
	}
	if m.rows > 1 && m.rowStride != m.cols {
		return false
	}
	return true
}

// IsWriteSafe checks a sufficient condition for distinct elements of the view to map to distinct
// addresses, so that concurrent writers of disjoint element ranges never write to the same memory.
// Some interleaved views that don't alias, e.g. 2x2 with strides (3, 2), are still rejected.
//
// Empty views are always safe. Zero strides along a dimension of size > 1 alias. Otherwise, sorting
// the (stride, size) pairs, the larger stride must step over the whole extent covered by the smaller one.
func (m *Matrix) IsWriteSafe() bool {
	if m.rows == 0 || m.cols == 0 {
		return true
	}
	if m.rows == 1 && m.cols == 1 {
		return true
	}
	if (m.rows > 1 && m.rowStride == 0) || (m.cols > 1 && m.colStride == 0) {
		return false
	}
	if m.rows == 1 || m.cols == 1 {
		return true
	}
	small, smallSize, large := m.colStride, m.cols, m.rowStride
	if m.rowStride < m.colStride {
		small, smallSize, large = m.rowStride, m.rows, m.colStride
	}
	return large >= small*smallSize
}

// RequireContiguous returns an error wrapping ErrLayoutViolation if m is not row-major contiguous.
func RequireContiguous(name string, m *Matrix) error {
	if !m.IsContiguous() {
		return errors.Wrapf(ErrLayoutViolation, "matrix %s must be contiguous (row-major), got %s", name, m)
	}
	return nil
}

// SharesStorage returns whether m and other are both non-empty and their flat slices overlap in memory.
//
// It compares whole flat slices, not the addressed elements: two views interleaved over the same
// slice share storage even if no element is addressed by both.
func (m *Matrix) SharesStorage(other *Matrix) bool {
	if m.Size() == 0 || other.Size() == 0 {
		return false
	}
	mStart, mEnd := m.storageRange()
	otherStart, otherEnd := other.storageRange()
	return mStart < otherEnd && otherStart < mEnd
}

// storageRange returns the address range [start, end) of the flat slice.
func (m *Matrix) storageRange() (start, end uintptr) {
	var data unsafe.Pointer
	switch flat := m.flat.(type) {
	case []float16.Float16:
		data = unsafe.Pointer(unsafe.SliceData(flat))
	case []bfloat16.BFloat16:
		data = unsafe.Pointer(unsafe.SliceData(flat))
	case []float32:
		data = unsafe.Pointer(unsafe.SliceData(flat))
	}
	start = uintptr(data)
	return start, start + uintptr(m.flatLen()*m.dtype.Size())
}
