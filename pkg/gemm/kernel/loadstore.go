// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package kernel

import (
	"github.com/gomlx/tilegemm/pkg/core/dtypes/bfloat16"
	"github.com/gomlx/tilegemm/pkg/core/matrix"
	"github.com/pkg/errors"
	"github.com/x448/float16"
)

// loaderFn loads the validRows x validCols block starting at flat[base] into the dstRows x dstCols
// float32 buffer dst, filling everything outside the valid block with zeros.
type loaderFn func(dst []float32, base, rowStride, colStride, validRows, validCols, dstRows, dstCols int)

// storerFn writes the validRows x validCols block of src (with ldSrc columns) to flat[base], using
// the given strides, converting to the storage dtype.
type storerFn func(src []float32, ldSrc, base, rowStride, colStride, validRows, validCols int)

func newLoader(m *matrix.Matrix) (loaderFn, error) {
	switch flat := m.Flat().(type) {
	case []float32:
		return float32Loader(flat), nil
	case []float16.Float16:
		return convertingLoader(flat, float16.Float16.Float32), nil
	case []bfloat16.BFloat16:
		return convertingLoader(flat, bfloat16.BFloat16.Float32), nil
	}
	return nil, errors.Errorf("kernel: unsupported storage %T for %s", m.Flat(), m)
}

func newStorer(m *matrix.Matrix) (storerFn, error) {
	switch flat := m.Flat().(type) {
	case []float32:
		return convertingStorer(flat, func(v float32) float32 { return v }), nil
	case []float16.Float16:
		return convertingStorer(flat, float16.Fromfloat32), nil
	case []bfloat16.BFloat16:
		return convertingStorer(flat, bfloat16.FromFloat32), nil
	}
	return nil, errors.Errorf("kernel: unsupported storage %T for %s", m.Flat(), m)
}

// float32Loader special cases unit column stride, where rows can be copied directly.
func float32Loader(flat []float32) loaderFn {
	generic := convertingLoader(flat, func(v float32) float32 { return v })
	return func(dst []float32, base, rowStride, colStride, validRows, validCols, dstRows, dstCols int) {
		if colStride != 1 {
			generic(dst, base, rowStride, colStride, validRows, validCols, dstRows, dstCols)
			return
		}
		for r := range dstRows {
			row := dst[r*dstCols : (r+1)*dstCols]
			if r >= validRows {
				clear(row)
				continue
			}
			start := base + r*rowStride
			copy(row, flat[start:start+validCols])
			clear(row[validCols:])
		}
	}
}

func convertingLoader[T any](flat []T, toFloat32 func(T) float32) loaderFn {
	return func(dst []float32, base, rowStride, colStride, validRows, validCols, dstRows, dstCols int) {
		for r := range dstRows {
			row := dst[r*dstCols : (r+1)*dstCols]
			if r >= validRows {
				clear(row)
				continue
			}
			addr := base + r*rowStride
			for c := range validCols {
				row[c] = toFloat32(flat[addr])
				addr += colStride
			}
			clear(row[validCols:])
		}
	}
}

func convertingStorer[T any](flat []T, fromFloat32 func(float32) T) storerFn {
	return func(src []float32, ldSrc, base, rowStride, colStride, validRows, validCols int) {
		for r := range validRows {
			row := src[r*ldSrc : r*ldSrc+validCols]
			addr := base + r*rowStride
			for _, v := range row {
				flat[addr] = fromFloat32(v)
				addr += colStride
			}
		}
	}
}
