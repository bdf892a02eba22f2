// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package main

import (
	"github.com/pkg/errors"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"
)

// plotResults saves a line plot of GFLOP/s (mean) per size, one line per provider.
func plotResults(filePath string, providers []string, results []result) error {
	p := plot.New()
	p.Title.Text = "matmul-performance"
	p.X.Label.Text = "M = N = K"
	p.Y.Label.Text = "GFLOP/s"
	p.Legend.Top = true
	p.Legend.Left = true

	var lines []any
	for _, name := range providers {
		var points plotter.XYs
		for _, r := range results {
			if r.provider != name {
				continue
			}
			points = append(points, plotter.XY{X: float64(r.size), Y: r.flops(r.mean) / 1e9})
		}
		lines = append(lines, name, points)
	}
	if err := plotutil.AddLinePoints(p, lines...); err != nil {
		return errors.Wrap(err, "failed to create plot lines")
	}
	if err := p.Save(8*vg.Inch, 5*vg.Inch, filePath); err != nil {
		return errors.Wrapf(err, "failed to save plot to %q", filePath)
	}
	return nil
}
