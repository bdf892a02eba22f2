// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package gemm

import (
	"github.com/gomlx/tilegemm/pkg/core/matrix"
	"github.com/gomlx/tilegemm/pkg/gemm/autotune"
	"github.com/gomlx/tilegemm/pkg/gemm/kernel"
)

// Errors returned by the engine are wrapped versions of these, test them with errors.Is.
// All of them are detected before any tile is executed.
var (
	ErrShapeMismatch          = kernel.ErrShapeMismatch
	ErrDTypeMismatch          = kernel.ErrDTypeMismatch
	ErrLayoutViolation        = matrix.ErrLayoutViolation
	ErrConfigurationExhausted = autotune.ErrConfigurationExhausted
)
