package view

import (
	"fmt"
	"io"
	"strconv"
)

// RenderText writes the plain-text view used by the console mode.
func RenderText(w io.Writer, m Model) error {
	spike := "no"
	if m.IsSpike {
		spike = "YES"
	}
	if _, err := fmt.Fprintf(w, "SecureDataOps monitor [%s]\n", m.StatusLabel); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "trades/sec %s   z %.2f   spike %s   last updated %s\n",
		strconv.FormatFloat(m.TradesPerSec, 'f', -1, 64), m.Z, spike, m.LastUpdated); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "chart  %s (%d points, peak %s)\n",
		m.Bars(60), len(m.Chart), strconv.FormatFloat(m.PeakRate(), 'f', -1, 64)); err != nil {
		return err
	}
	if _, err := fmt.Fprintln(w, "alerts:"); err != nil {
		return err
	}
	if m.AlertsPlaceholder != "" {
		_, err := fmt.Fprintf(w, "  %s\n", m.AlertsPlaceholder)
		return err
	}
	for _, a := range m.Alerts {
		if _, err := fmt.Fprintf(w, "  %s  count=%d  z=%.2f\n", a.Time, a.Count, a.Z); err != nil {
			return err
		}
	}
	return nil
}
