package view

import (
	"strconv"
	"strings"
)

// Sparkline returns SVG polyline coordinates for the chart scaled into a
// width x height box. X follows time; when all points share a timestamp the
// points are spread evenly instead. Y starts at zero at the bottom edge.
func (m Model) Sparkline(width, height int) string {
	n := len(m.Chart)
	if n == 0 || width <= 0 || height <= 0 {
		return ""
	}

	minT, maxT := m.Chart[0].T, m.Chart[0].T
	maxV := 0.0
	for _, p := range m.Chart {
		minT = min(minT, p.T)
		maxT = max(maxT, p.T)
		maxV = max(maxV, p.V)
	}

	var b strings.Builder
	for i, p := range m.Chart {
		var x float64
		switch {
		case maxT > minT:
			x = float64(p.T-minT) / float64(maxT-minT) * float64(width)
		case n > 1:
			x = float64(i) / float64(n-1) * float64(width)
		}
		y := float64(height)
		if maxV > 0 {
			y = float64(height) - p.V/maxV*float64(height)
		}
		if i > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(strconv.FormatFloat(x, 'f', 1, 64))
		b.WriteByte(',')
		b.WriteString(strconv.FormatFloat(y, 'f', 1, 64))
	}
	return b.String()
}

// PeakRate is the highest plotted value.
func (m Model) PeakRate() float64 {
	peak := 0.0
	for _, p := range m.Chart {
		peak = max(peak, p.V)
	}
	return peak
}

var bars = []rune("▁▂▃▄▅▆▇█")

// Bars renders the newest width points as a block-character sparkline.
func (m Model) Bars(width int) string {
	pts := m.Chart
	if width > 0 && len(pts) > width {
		pts = pts[len(pts)-width:]
	}
	peak := m.PeakRate()
	out := make([]rune, len(pts))
	for i, p := range pts {
		idx := 0
		if peak > 0 {
			idx = int(p.V / peak * float64(len(bars)-1))
		}
		out[i] = bars[idx]
	}
	return string(out)
}
