// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package tiling maps linear work-item ids to output tile coordinates.
//
// The output C (M x N) is split into grid_m x grid_n tiles of BlockM x BlockN. Tiles on the
// bottom and right edges may overhang the matrix; writes to them are masked by the kernel.
//
// The default Grouped order visits GroupM row-tiles down a column before moving to the next
// column, so work-items running at the same time share the same few rows of A and the same
// columns of B:
//
//	RowMajor (grid 4x4)   Grouped, GroupM=2
//	 0  1  2  3            0  2  4  6
//	 4  5  6  7            1  3  5  7
//	 8  9 10 11            8 10 12 14
//	12 13 14 15            9 11 13 15
package tiling

import (
	"fmt"

	"github.com/gomlx/exceptions"
	"github.com/pkg/errors"
)

// Order in which work-item ids are assigned to tiles.
type Order int

const (
	// Grouped traversal: GroupM row-tiles are batched before advancing the column tile.
	Grouped Order = iota

	// RowMajor traversal: pid_m = pid / grid_n, pid_n = pid % grid_n.
	RowMajor
)

// String implements fmt.Stringer.
func (o Order) String() string {
	switch o {
	case Grouped:
		return "grouped"
	case RowMajor:
		return "rowmajor"
	}
	return fmt.Sprintf("Order(%d)", int(o))
}

// ParseOrder parses "grouped" or "rowmajor".
func ParseOrder(s string) (Order, error) {
	switch s {
	case "grouped", "":
		return Grouped, nil
	case "rowmajor", "row-major", "row_major":
		return RowMajor, nil
	}
	return Grouped, errors.Errorf("unknown tile schedule %q, valid values are \"grouped\" or \"rowmajor\"", s)
}

// Coord identifies the output tile owned by a work-item.
type Coord struct {
	Row, Col int
}

// RowStart is the first output row covered by the tile.
func (c Coord) RowStart(blockM int) int { return c.Row * blockM }

// ColStart is the first output column covered by the tile.
func (c Coord) ColStart(blockN int) int { return c.Col * blockN }

// Grid describes the tiling of an M x N output.
type Grid struct {
	M, N           int
	BlockM, BlockN int
	GroupM         int
	Order          Order

	gridM, gridN int
}

// NewGrid creates the tiling for an m x n output. All block sizes and groupM must be positive.
func NewGrid(m, n, blockM, blockN, groupM int) (Grid, error) {
	if m < 0 || n < 0 {
		return Grid{}, errors.Errorf("tiling: invalid output dimensions %dx%d", m, n)
	}
	if blockM <= 0 || blockN <= 0 || groupM <= 0 {
		return Grid{}, errors.Errorf("tiling: BlockM=%d, BlockN=%d and GroupM=%d must be positive", blockM, blockN, groupM)
	}
	return Grid{
		M: m, N: n,
		BlockM: blockM, BlockN: blockN,
		GroupM: groupM,
		gridM:  ceilDiv(m, blockM),
		gridN:  ceilDiv(n, blockN),
	}, nil
}

func ceilDiv(a, b int) int {
	return (a + b - 1) / b
}

// GridM is the number of row-tiles, ceil(M/BlockM).
func (g Grid) GridM() int { return g.gridM }

// GridN is the number of column-tiles, ceil(N/BlockN).
func (g Grid) GridN() int { return g.gridN }

// NumTiles is the number of work-items of a launch.
func (g Grid) NumTiles() int { return g.gridM * g.gridN }

// Tile returns the coordinates of work-item pid using the grid's Order.
func (g Grid) Tile(pid int) Coord {
	if g.Order == RowMajor {
		return g.RowMajor(pid)
	}
	return g.Grouped(pid)
}

// Grouped maps pid to its tile with the grouped traversal order.
//
// The last group along M may have fewer than GroupM row-tiles, in which case group_size shrinks
// so pid_m stays within [0, grid_m).
func (g Grid) Grouped(pid int) Coord {
	g.checkPID(pid)
	width := g.GroupM * g.gridN
	groupID := pid / width
	groupSize := min(g.gridM-groupID*g.GroupM, g.GroupM)
	return Coord{
		Row: groupID*g.GroupM + pid%groupSize,
		Col: (pid % width) / groupSize,
	}
}

// RowMajor maps pid to its tile in plain row-major order.
func (g Grid) RowMajor(pid int) Coord {
	g.checkPID(pid)
	return Coord{Row: pid / g.gridN, Col: pid % g.gridN}
}

func (g Grid) checkPID(pid int) {
	if pid < 0 || pid >= g.NumTiles() {
		exceptions.Panicf("tiling: work-item id %d out of range [0, %d) for grid %dx%d", pid, g.NumTiles(), g.gridM, g.gridN)
	}
}
