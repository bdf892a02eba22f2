// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// gemm_bench measures the throughput of the tiled matrix multiplication against a reference BLAS
// implementation, over a range of square problem sizes, and prints a FLOP/s report.
//
// Example:
//
//	$ go run ./cmd/gemm_bench -sizes=256,512,1024 -dtype=float16 -activation=swish -plot=matmul-performance.png
//
// With -verify it instead runs a 512x512 float16 multiplication with the swish activation and
// checks it against a float64 reference.
package main

import (
	"flag"
	"fmt"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/gomlx/tilegemm/internal/reference"
	"github.com/gomlx/tilegemm/pkg/core/dtypes"
	"github.com/gomlx/tilegemm/pkg/core/matrix"
	"github.com/gomlx/tilegemm/pkg/gemm"
	"github.com/gomlx/tilegemm/pkg/gemm/kernel"
	"github.com/janpfeifer/must"
	"github.com/pkg/errors"
	"github.com/schollz/progressbar/v3"
	"k8s.io/klog/v2"
)

var (
	flagSizes = flag.String("sizes", "",
		"Comma-separated list of square matrix sizes (M=N=K). If empty, 256*i for i in 2..32 is used, up to -max_size.")
	flagMaxSize    = flag.Int("max_size", 256*32, "Largest size of the default sweep, used when -sizes is empty.")
	flagDType      = flag.String("dtype", "float16", "DType of the operands: float16, bfloat16 or float32.")
	flagActivation = flag.String("activation", "none", "Activation fused in the multiplication: none, relu, sigmoid or swish.")
	flagProviders  = flag.String("providers", "reference,tilegemm",
		"Comma-separated list of providers to benchmark: reference (gonum blas32), tilegemm (grouped schedule) "+
			"and rowmajor (tilegemm with the row-major schedule).")
	flagRepeats = flag.Int("repeats", 10, "Number of timed runs per size and provider.")
	flagConfig  = flag.String("config", os.Getenv(gemm.ConfigEnvVar),
		"Engine configuration, see gemm.New. Defaults to $"+gemm.ConfigEnvVar+".")
	flagPlot   = flag.String("plot", "", "If set, saves a plot of the throughput per size to the given PNG file.")
	flagVerify = flag.Bool("verify", false, "Checks a 512x512 float16 multiplication with swish against the reference and exits.")
	flagQuiet  = flag.Bool("quiet", false, "Don't display the progress bar.")
)

// provider runs C = activation(A x B) for operands prepared once per size.
type provider interface {
	Run()
}

type providerFn func()

func (fn providerFn) Run() { fn() }

// result of a provider for one size.
type result struct {
	provider          string
	size              int
	mean, best, worst time.Duration
}

// flops returns the throughput for the given duration of one run.
func (r result) flops(d time.Duration) float64 {
	n := float64(r.size)
	return 2 * n * n * n / d.Seconds()
}

func main() {
	klog.InitFlags(nil)
	flag.Parse()

	if *flagVerify {
		if err := verify(*flagConfig); err != nil {
			klog.Errorf("Verification failed: %+v", err)
			os.Exit(1)
		}
		return
	}

	dtype := must.M1(dtypes.FromName(*flagDType))
	activation := must.M1(kernel.ActivationByName(*flagActivation))
	sizes := must.M1(parseSizes(*flagSizes, *flagMaxSize))
	providers := strings.Split(*flagProviders, ",")
	for ii, name := range providers {
		providers[ii] = strings.TrimSpace(name)
		if !slices.Contains([]string{"reference", "tilegemm", "rowmajor"}, providers[ii]) {
			klog.Errorf("Unknown provider %q, see -help", name)
			os.Exit(1)
		}
	}
	if *flagRepeats < 1 {
		klog.Errorf("-repeats must be at least 1")
		os.Exit(1)
	}

	printHost(dtype, *flagActivation, *flagConfig)
	var bar *progressbar.ProgressBar
	if !*flagQuiet {
		bar = progressbar.NewOptions(len(sizes)*len(providers),
			progressbar.OptionSetDescription("benchmarking"),
			progressbar.OptionSetWriter(os.Stderr),
			progressbar.OptionShowCount(),
			progressbar.OptionSetTheme(progressbar.ThemeASCII),
			progressbar.OptionClearOnFinish(),
		)
	}

	var results []result
	for _, size := range sizes {
		a := must.M1(reference.RandomMatrix(dtype, size, size, uint64(size)))
		b := must.M1(reference.RandomMatrix(dtype, size, size, uint64(size)+1))
		for _, name := range providers {
			p := must.M1(newProvider(name, a, b, activation))
			results = append(results, measure(name, size, p, *flagRepeats))
			if bar != nil {
				_ = bar.Add(1)
			}
		}
	}
	if bar != nil {
		_ = bar.Finish()
	}

	printResults(results)
	if *flagPlot != "" {
		must.M(plotResults(*flagPlot, providers, results))
		fmt.Printf("Plot saved to %q\n", *flagPlot)
	}
}

// parseSizes parses -sizes. If it is empty, it returns the sweep 256*i for i in 2..32, truncated at maxSize.
func parseSizes(s string, maxSize int) ([]int, error) {
	if s == "" {
		var sizes []int
		for ii := 2; ii <= 32 && 256*ii <= maxSize; ii++ {
			sizes = append(sizes, 256*ii)
		}
		if len(sizes) == 0 {
			return nil, errors.Errorf("-max_size=%d is smaller than the first size of the sweep (512)", maxSize)
		}
		return sizes, nil
	}
	var sizes []int
	for _, part := range strings.Split(s, ",") {
		size, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil {
			return nil, errors.Wrapf(err, "invalid size %q in -sizes", part)
		}
		if size <= 0 {
			return nil, errors.Errorf("sizes must be positive, got %d", size)
		}
		sizes = append(sizes, size)
	}
	return sizes, nil
}

func newProvider(name string, a, b *matrix.Matrix, activation kernel.Activation) (provider, error) {
	switch name {
	case "reference":
		blas, err := reference.NewBlas32(a, b)
		if err != nil {
			return nil, err
		}
		if activation == nil {
			return providerFn(func() { blas.Run() }), nil
		}
		return providerFn(func() {
			data := blas.Run()
			for ii, v := range data {
				data[ii] = activation(v)
			}
		}), nil

	case "tilegemm", "rowmajor":
		config := *flagConfig
		if name == "rowmajor" {
			config = strings.Trim(config+",schedule=rowmajor", ",")
		}
		engine, err := gemm.New(config)
		if err != nil {
			return nil, err
		}
		c, err := matrix.New(a.DType(), a.Rows(), b.Cols())
		if err != nil {
			return nil, err
		}
		return providerFn(func() {
			must.M(engine.MultiplyInto(c, a, b, activation))
		}), nil
	}
	return nil, errors.Errorf("unknown provider %q", name)
}

// measure runs the provider once untimed, which also triggers the tuning, and then repeats times.
func measure(name string, size int, p provider, repeats int) result {
	p.Run()
	r := result{provider: name, size: size, best: time.Duration(1<<63 - 1)}
	var total time.Duration
	for range repeats {
		start := time.Now()
		p.Run()
		elapsed := time.Since(start)
		total += elapsed
		r.best = min(r.best, elapsed)
		r.worst = max(r.worst, elapsed)
	}
	r.mean = total / time.Duration(repeats)
	klog.V(1).Infof("%s, size %d: mean %s, best %s, worst %s", name, size, r.mean, r.best, r.worst)
	return r
}

// verify checks the 512x512 float16 multiplication with swish against the float64 reference.
func verify(config string) error {
	const size = 512
	engine, err := gemm.New(config)
	if err != nil {
		return err
	}
	a := must.M1(reference.RandomMatrix(dtypes.Float16, size, size, 0))
	b := must.M1(reference.RandomMatrix(dtypes.Float16, size, size, 1))
	c, err := engine.Multiply(a, b, kernel.Swish)
	if err != nil {
		return err
	}
	want, err := reference.Naive(a, b, reference.Swish)
	if err != nil {
		return err
	}
	relErr := reference.MaxRelError(reference.Values(c), want, 1)
	cfg, _ := engine.Tuned(size, size, size)
	fmt.Printf("512x512 float16 swish with %s: max relative error %.2e\n", cfg, relErr)
	if relErr >= 1e-2 {
		return errors.Errorf("max relative error %.2e exceeds tolerance 1e-2", relErr)
	}
	fmt.Println("✅ tilegemm and reference match")
	return nil
}
