// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package tui

import (
	"fmt"
	"math"
	"strings"

	"github.com/AleutianAI/absim/services/abtest/engine"
)

// SignificanceLine is -log10(0.05), the conventional significance threshold
// drawn on the chart in both directions.
var SignificanceLine = -math.Log10(0.05)

// Chart glyphs.
const (
	glyphPositive  = '•'
	glyphNegative  = '•'
	glyphAxis      = '─'
	glyphThreshold = '┄'
	glyphBlank     = ' '
)

// ChartOptions controls RenderChart.
type ChartOptions struct {
	// Width and Height are the plot area in cells, excluding the y-axis
	// labels. Values below 8x5 are raised to that minimum.
	Width  int
	Height int

	// Hours is the x-axis extent. Zero uses the last point's hour.
	Hours int

	// HideBurnIn omits points flagged as burn-in.
	HideBurnIn bool
}

// cell kinds, rendered with different styles.
const (
	cellBlank = iota
	cellAxis
	cellThreshold
	cellPositive
	cellNegative
)

// RenderChart draws signed -log10(p) against hour.
//
// Description:
//
//	The y range is symmetric around zero and always includes the ±1.30
//	significance lines. Several hours sharing one column are drawn as the
//	latest of them. Positive values favor treatment.
//
// Outputs:
//
//	string - Height lines, each prefixed by a fixed-width y label.
func RenderChart(points []engine.OutputPoint, opts ChartOptions) string {
	width := max(opts.Width, 8)
	height := max(opts.Height, 5)

	visible := make([]engine.OutputPoint, 0, len(points))
	for _, pt := range points {
		if opts.HideBurnIn && pt.BurnIn {
			continue
		}
		visible = append(visible, pt)
	}

	hours := opts.Hours
	if hours <= 0 && len(points) > 0 {
		hours = points[len(points)-1].Hour
	}
	hours = max(hours, 1)

	yMax := SignificanceLine * 1.5
	for _, pt := range visible {
		if v := math.Abs(pt.SignedNegLog10P); v > yMax {
			yMax = v
		}
	}
	yMax *= 1.05

	grid := make([][]int, height)
	for r := range grid {
		grid[r] = make([]int, width)
	}

	row := func(v float64) int {
		r := int(math.Round((yMax - v) / (2 * yMax) * float64(height-1)))
		return min(max(r, 0), height-1)
	}

	zero := row(0)
	upper, lower := row(SignificanceLine), row(-SignificanceLine)
	for c := 0; c < width; c++ {
		grid[zero][c] = cellAxis
		if upper != zero {
			grid[upper][c] = cellThreshold
		}
		if lower != zero {
			grid[lower][c] = cellThreshold
		}
	}

	for _, pt := range visible {
		col := (pt.Hour - 1) * width / hours
		col = min(max(col, 0), width-1)
		kind := cellPositive
		if pt.SignedNegLog10P < 0 {
			kind = cellNegative
		}
		// Clear the column so only the latest hour is drawn.
		for r := 0; r < height; r++ {
			if grid[r][col] == cellPositive || grid[r][col] == cellNegative {
				grid[r][col] = baseCell(r, zero, upper, lower)
			}
		}
		grid[row(pt.SignedNegLog10P)][col] = kind
	}

	var b strings.Builder
	for r := 0; r < height; r++ {
		label := ""
		switch r {
		case 0:
			label = fmt.Sprintf("%+.1f", yMax)
		case zero:
			label = "0"
		case upper:
			label = fmt.Sprintf("%+.2f", SignificanceLine)
		case lower:
			label = fmt.Sprintf("%+.2f", -SignificanceLine)
		case height - 1:
			label = fmt.Sprintf("%+.1f", -yMax)
		}
		b.WriteString(axisLabelStyle.Render(fmt.Sprintf("%7s │", label)))
		for c := 0; c < width; c++ {
			b.WriteString(renderCell(grid[r][c]))
		}
		if r < height-1 {
			b.WriteByte('\n')
		}
	}
	return b.String()
}

func baseCell(r, zero, upper, lower int) int {
	switch r {
	case zero:
		return cellAxis
	case upper, lower:
		return cellThreshold
	default:
		return cellBlank
	}
}

func renderCell(kind int) string {
	switch kind {
	case cellAxis:
		return axisStyle.Render(string(glyphAxis))
	case cellThreshold:
		return thresholdStyle.Render(string(glyphThreshold))
	case cellPositive:
		return positiveStyle.Render(string(glyphPositive))
	case cellNegative:
		return negativeStyle.Render(string(glyphNegative))
	default:
		return string(glyphBlank)
	}
}
