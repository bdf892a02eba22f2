// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package kernel

import (
	"math"
	"strings"

	"github.com/pkg/errors"
)

// Activation is a pure element-wise function applied to the finished accumulator before it is stored.
type Activation func(x float32) float32

// Sigmoid computes 1/(1+e^{-x}) without overflowing e^{-x} for very negative x:
// for x < 0 it uses the equivalent e^{x}/(1+e^{x}).
func Sigmoid(x float32) float32 {
	x64 := float64(x)
	if x64 >= 0 {
		return float32(1 / (1 + math.Exp(-x64)))
	}
	e := math.Exp(x64)
	return float32(e / (1 + e))
}

// Swish (or SiLU) is x*Sigmoid(x).
func Swish(x float32) float32 {
	return x * Sigmoid(x)
}

// ReLU is max(x, 0).
func ReLU(x float32) float32 {
	if x > 0 {
		return x
	}
	return 0
}

// Identity returns x.
func Identity(x float32) float32 {
	return x
}

// activationsByName: "none" maps to nil so no activation pass is done at all.
var activationsByName = map[string]Activation{
	"":         nil,
	"none":     nil,
	"identity": Identity,
	"relu":     ReLU,
	"sigmoid":  Sigmoid,
	"swish":    Swish,
	"silu":     Swish,
}

// ActivationByName returns the activation with the given name: "none", "identity", "relu", "sigmoid", "swish" or "silu".
// "none" returns a nil Activation.
func ActivationByName(name string) (Activation, error) {
	fn, found := activationsByName[strings.ToLower(strings.TrimSpace(name))]
	if !found {
		return nil, errors.Errorf("unknown activation %q, valid values are none, identity, relu, sigmoid, swish and silu", name)
	}
	return fn, nil
}
