// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package bfloat16 implements the bfloat16 storage type, the upper 16 bits of an IEEE 754 float32.
package bfloat16

import (
	"math"
	"strconv"
)

// BFloat16 (brain floating point) keeps the float32 exponent range with a 7-bit mantissa.
type BFloat16 uint16

// Float32 widens the value to float32, which is exact.
func (f BFloat16) Float32() float32 {
	return math.Float32frombits(uint32(f) << 16)
}

// FromFloat32 converts a float32 to a BFloat16, rounding to nearest even.
// NaNs stay NaNs (quiet).
func FromFloat32(x float32) BFloat16 {
	bits := math.Float32bits(x)
	if bits&0x7f800000 == 0x7f800000 && bits&0x007fffff != 0 {
		return BFloat16(bits>>16 | 0x0040)
	}
	rounding := uint32(0x7fff) + (bits>>16)&1
	return BFloat16((bits + rounding) >> 16)
}

// String implements fmt.Stringer.
func (f BFloat16) String() string {
	return strconv.FormatFloat(float64(f.Float32()), 'f', -1, 32)
}
