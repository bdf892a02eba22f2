// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"runtime"
	"strings"

	"github.com/charmbracelet/lipgloss"
	lgtable "github.com/charmbracelet/lipgloss/table"
	"github.com/dustin/go-humanize"
	"github.com/gomlx/tilegemm/pkg/core/dtypes"
	"golang.org/x/sys/cpu"
)

var (
	headerRowStyle = lipgloss.NewStyle().Reverse(true).
			Padding(0, 2, 0, 2).Align(lipgloss.Center)
	oddRowStyle = lipgloss.NewStyle().Faint(false).
			PaddingLeft(1).PaddingRight(1)
	evenRowStyle = lipgloss.NewStyle().Faint(true).
			PaddingLeft(1).PaddingRight(1)
	titleStyle = lipgloss.NewStyle().Bold(true).Padding(1, 4, 1, 4)
)

func newPlainTable(alignments ...lipgloss.Position) *lgtable.Table {
	return lgtable.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("99"))).
		StyleFunc(func(row, col int) (s lipgloss.Style) {
			if row < 0 {
				s = headerRowStyle
				return
			}
			if row%2 == 0 {
				s = oddRowStyle
			} else {
				s = evenRowStyle
			}
			alignment := lipgloss.Left
			if col < len(alignments) {
				alignment = alignments[col]
			} else if len(alignments) > 0 {
				alignment = alignments[len(alignments)-1]
			}
			return s.Align(alignment)
		})
}

// cpuFeatures lists the SIMD features of the host relevant to matrix multiplication.
func cpuFeatures() string {
	var features []string
	add := func(has bool, name string) {
		if has {
			features = append(features, name)
		}
	}
	switch runtime.GOARCH {
	case "amd64", "386":
		add(cpu.X86.HasAVX, "avx")
		add(cpu.X86.HasAVX2, "avx2")
		add(cpu.X86.HasFMA, "fma")
		add(cpu.X86.HasAVX512F, "avx512f")
		add(cpu.X86.HasAVX512BF16, "avx512bf16")
	case "arm64":
		add(cpu.ARM64.HasASIMD, "asimd")
		add(cpu.ARM64.HasASIMDHP, "asimdhp")
		add(cpu.ARM64.HasFPHP, "fphp")
		add(cpu.ARM64.HasSVE, "sve")
	}
	if len(features) == 0 {
		return "-"
	}
	return strings.Join(features, " ")
}

func printHost(dtype dtypes.DType, activation, config string) {
	fmt.Println(titleStyle.Render("Host"))
	table := newPlainTable(lipgloss.Right, lipgloss.Left)
	table.Row("platform", runtime.GOOS+"/"+runtime.GOARCH)
	table.Row("# cpus", humanize.Comma(int64(runtime.NumCPU())))
	table.Row("cpu features", cpuFeatures())
	table.Row("dtype", dtype.String())
	table.Row("activation", activation)
	if config == "" {
		config = "(default)"
	}
	table.Row("config", config)
	fmt.Println(table.Render())
}

// printResults prints one row per size, with the FLOP/s of each provider computed from the mean run
// time, plus the best and worst runs.
func printResults(results []result) {
	fmt.Println(titleStyle.Render("matmul-performance"))
	table := newPlainTable(lipgloss.Right)
	table.Headers("Size", "Provider", "Mean", "FLOP/s (mean)", "FLOP/s (best)", "FLOP/s (worst)")
	for _, r := range results {
		table.Row(
			humanize.Comma(int64(r.size)),
			r.provider,
			r.mean.String(),
			humanize.SIWithDigits(r.flops(r.mean), 2, "FLOP/s"),
			humanize.SIWithDigits(r.flops(r.best), 2, "FLOP/s"),
			humanize.SIWithDigits(r.flops(r.worst), 2, "FLOP/s"),
		)
	}
	fmt.Println(table.Render())
}
