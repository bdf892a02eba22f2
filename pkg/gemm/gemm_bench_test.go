// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package gemm

import (
	"flag"
	"fmt"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/gomlx/tilegemm/internal/reference"
	"github.com/gomlx/tilegemm/pkg/core/dtypes"
	"github.com/gomlx/tilegemm/pkg/core/matrix"
	"github.com/gomlx/tilegemm/pkg/gemm/kernel"
	"github.com/stretchr/testify/require"
)

var (
	flagPerfSizes = flag.String("perf_sizes", "",
		"Comma-separated list of square matrix sizes for TestPerformanceTable. If empty the test is skipped.")
	flagPerfDuration = flag.Duration("perf_duration", time.Second, "Duration to run each performance test.")
)

func BenchmarkMultiply(b *testing.B) {
	for _, size := range []int{128, 256, 512} {
		for _, dtype := range []dtypes.DType{dtypes.Float32, dtypes.Float16} {
			b.Run(fmt.Sprintf("%s/%d", dtype, size), func(b *testing.B) {
				engine, err := New("")
				require.NoError(b, err)
				lhs, rhs := randomOperands(b, dtype, size, size, size, 1)
				c, err := matrix.New(dtype, size, size)
				require.NoError(b, err)
				// Tune outside the timed loop.
				require.NoError(b, engine.MultiplyInto(c, lhs, rhs, nil))
				b.ResetTimer()
				for range b.N {
					_ = engine.MultiplyInto(c, lhs, rhs, nil)
				}
				b.ReportMetric(2*float64(size*size*size)*float64(b.N)/b.Elapsed().Seconds(), "FLOP/s")
			})
		}
	}
}

// TestPerformanceTable compares the grouped and row-major schedules and the gonum blas32 reference.
//
// Example:
//
//	$ go test ./pkg/gemm -run=TestPerformanceTable -perf_sizes=256,512,1024 -v -count=1
func TestPerformanceTable(t *testing.T) {
	if *flagPerfSizes == "" {
		t.Skip("Set -perf_sizes to run the performance table.")
	}
	for _, sizeStr := range strings.Split(*flagPerfSizes, ",") {
		size, err := strconv.Atoi(strings.TrimSpace(sizeStr))
		require.NoError(t, err)
		a, b := randomOperands(t, dtypes.Float32, size, size, size, 1)
		flops := 2 * float64(size) * float64(size) * float64(size)

		blas, err := reference.NewBlas32(a, b)
		require.NoError(t, err)
		report := func(name string, fn func()) {
			fn() // Warm-up, and tuning.
			var runs int
			start := time.Now()
			for time.Since(start) < *flagPerfDuration || runs < 3 {
				fn()
				runs++
			}
			elapsed := time.Since(start) / time.Duration(runs)
			fmt.Printf("- %-12s %5d: %10s per run, %s\n", name, size, elapsed,
				humanize.SIWithDigits(flops/elapsed.Seconds(), 2, "FLOP/s"))
		}
		report("reference", func() { blas.Run() })
		for _, schedule := range []string{"grouped", "rowmajor"} {
			engine, err := New("schedule=" + schedule)
			require.NoError(t, err)
			report(schedule, func() {
				_, err := engine.Multiply(a, b, kernel.Swish)
				require.NoError(t, err)
			})
		}
	}
}
