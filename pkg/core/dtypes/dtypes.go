// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package dtypes includes the DType enum for the element types the tiled GEMM reads and writes.
//
// Inputs may be stored in a half-precision format (Float16 or BFloat16) or in Float32. Accumulation
// is always done in float32, so every supported DType converts losslessly to float32.
package dtypes

import (
	"strconv"
	"strings"

	"github.com/gomlx/tilegemm/pkg/core/dtypes/bfloat16"
	"github.com/pkg/errors"
	"github.com/x448/float16"
)

// DType of the elements stored in a matrix.
type DType int

const (
	InvalidDType DType = iota
	Float16
	BFloat16
	Float32
)

// Supported lists the Go types that can back a matrix.
type Supported interface {
	float16.Float16 | bfloat16.BFloat16 | float32
}

var dtypeNames = map[DType]string{
	InvalidDType: "InvalidDType",
	Float16:      "Float16",
	BFloat16:     "BFloat16",
	Float32:      "Float32",
}

// MapOfNames maps lower-case names and common aliases to DTypes.
var MapOfNames = map[string]DType{
	"float16":  Float16,
	"f16":      Float16,
	"half":     Float16,
	"bfloat16": BFloat16,
	"bf16":     BFloat16,
	"float32":  Float32,
	"f32":      Float32,
}

// String implements fmt.Stringer.
func (dtype DType) String() string {
	if name, found := dtypeNames[dtype]; found {
		return name
	}
	return "DType(" + strconv.Itoa(int(dtype)) + ")"
}

// Size returns the number of bytes of one element of the dtype.
func (dtype DType) Size() int {
	switch dtype {
	case Float16, BFloat16:
		return 2
	case Float32:
		return 4
	default:
		return 0
	}
}

// IsSupported returns whether the dtype can be used by matrices.
func (dtype DType) IsSupported() bool {
	return dtype == Float16 || dtype == BFloat16 || dtype == Float32
}

// FromName parses a dtype name (case-insensitive), e.g.: "float16", "bf16", "Float32".
func FromName(name string) (DType, error) {
	if dtype, found := MapOfNames[strings.ToLower(strings.TrimSpace(name))]; found {
		return dtype, nil
	}
	return InvalidDType, errors.Errorf("unknown dtype %q, valid values are float16, bfloat16 and float32", name)
}

// FromGenericsType returns the DType enum for the given Go type.
func FromGenericsType[T Supported]() DType {
	var t T
	switch any(t).(type) {
	case float16.Float16:
		return Float16
	case bfloat16.BFloat16:
		return BFloat16
	case float32:
		return Float32
	}
	return InvalidDType
}

// FromFlat returns the DType of a flat slice of one of the supported types, or InvalidDType.
func FromFlat(flat any) DType {
	switch flat.(type) {
	case []float16.Float16:
		return Float16
	case []bfloat16.BFloat16:
		return BFloat16
	case []float32:
		return Float32
	}
	return InvalidDType
}

// MakeFlat allocates a zeroed flat slice of the given dtype and size.
func (dtype DType) MakeFlat(size int) any {
	switch dtype {
	case Float16:
		return make([]float16.Float16, size)
	case BFloat16:
		return make([]bfloat16.BFloat16, size)
	case Float32:
		return make([]float32, size)
	}
	panic(errors.Errorf("MakeFlat: unsupported dtype %s", dtype))
}
