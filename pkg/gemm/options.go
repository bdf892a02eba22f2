// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package gemm

import (
	"runtime"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/gomlx/tilegemm/pkg/gemm/autotune"
	"github.com/gomlx/tilegemm/pkg/gemm/kernel"
	"github.com/gomlx/tilegemm/pkg/gemm/tiling"
	"github.com/pkg/errors"
)

// ConfigEnvVar is the environment variable with the configuration of the Default engine.
//
// The format is a comma-separated list of options, see New.
const ConfigEnvVar = "TILEGEMM_CONFIG"

// Options of an Engine, parsed from its configuration string.
type Options struct {
	// Parallelism is the maximum number of goroutines executing tiles: 0 runs everything inline,
	// -1 is unlimited. Defaults to runtime.NumCPU().
	Parallelism int

	// Schedule is the traversal order of the tiles.
	Schedule tiling.Order

	// Candidates evaluated by the autotuner.
	Candidates []kernel.Config

	// Fallback policy when no candidate can be used for a shape.
	Fallback autotune.Fallback

	// MaxScratchBytes excludes candidates using more per-worker scratch. 0 is no limit.
	MaxScratchBytes int

	// Warmup is the number of untimed runs before measuring a candidate.
	Warmup int

	// Repeats is the number of timed runs per candidate, the cost is the fastest of them.
	Repeats int

	// RequireContiguous rejects inputs that are not row-major contiguous.
	RequireContiguous bool

	// NoTune disables autotuning: the first candidate is always used.
	NoTune bool
}

// DefaultOptions returns the options used for an empty configuration.
func DefaultOptions() Options {
	return Options{
		Parallelism: runtime.NumCPU(),
		Schedule:    tiling.Grouped,
		Candidates:  append([]kernel.Config(nil), kernel.DefaultCandidates...),
		Fallback:    autotune.FallbackSafe,
		Warmup:      1,
		Repeats:     3,
	}
}

// ParseOptions parses a comma-separated list of "key=value" options (or bare flags) on top of DefaultOptions.
// Unknown keys are errors.
func ParseOptions(config string) (Options, error) {
	opts := DefaultOptions()
	for _, part := range strings.Split(config, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		key, value, hasValue := strings.Cut(part, "=")
		key = strings.ToLower(strings.TrimSpace(key))
		value = strings.TrimSpace(value)
		var err error
		switch key {
		case "parallelism":
			opts.Parallelism, err = strconv.Atoi(value)
		case "schedule":
			opts.Schedule, err = tiling.ParseOrder(value)
		case "candidates":
			opts.Candidates, err = kernel.ParseConfigs(value)
		case "fallback":
			opts.Fallback, err = autotune.ParseFallback(value)
		case "max_scratch":
			var bytes uint64
			bytes, err = humanize.ParseBytes(value)
			opts.MaxScratchBytes = int(bytes)
		case "warmup":
			opts.Warmup, err = parseNonNegative(value)
		case "repeats":
			opts.Repeats, err = parseNonNegative(value)
			if err == nil && opts.Repeats == 0 {
				err = errors.New("repeats must be at least 1")
			}
		case "contiguous":
			opts.RequireContiguous, err = parseFlag(value, hasValue)
		case "notune":
			opts.NoTune, err = parseFlag(value, hasValue)
		default:
			return Options{}, errors.Errorf("unknown configuration option %q in %q", key, config)
		}
		if err != nil {
			return Options{}, errors.WithMessagef(err, "invalid value for configuration option %q", key)
		}
	}
	return opts, nil
}

func parseNonNegative(value string) (int, error) {
	v, err := strconv.Atoi(value)
	if err != nil {
		return 0, errors.WithStack(err)
	}
	if v < 0 {
		return 0, errors.Errorf("%d is negative", v)
	}
	return v, nil
}

func parseFlag(value string, hasValue bool) (bool, error) {
	if !hasValue {
		return true, nil
	}
	v, err := strconv.ParseBool(value)
	return v, errors.WithStack(err)
}
