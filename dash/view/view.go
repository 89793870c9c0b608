// Package view derives what the dashboard shows from poller state.
// Everything here is pure: inputs are never mutated and the same state always
// yields the same model.
package view

import (
	"math"
	"time"

	"github.com/securedataops/dataops-dashboard/dash/feed"
	"github.com/securedataops/dataops-dashboard/dash/poller"
	"github.com/securedataops/dataops-dashboard/dash/series"
)

const (
	// TimeLayout formats "last updated" and alert timestamps.
	TimeLayout = "15:04:05"
	// NoTimestamp is shown when the latest snapshot carries no timestamp.
	NoTimestamp = "—"
	// NoAlerts is shown instead of an empty alert list.
	NoAlerts = "No alerts yet."
)

// State is the raw input to Derive.
type State struct {
	Status   poller.Status
	Snapshot *feed.MetricsSnapshot
	Points   []series.Point
	Alerts   []feed.AlertRecord
}

// ChartPoint is a plotted sample. V is rounded half up and never negative.
type ChartPoint struct {
	T int64   `json:"t"`
	V float64 `json:"v"`
}

// AlertRow is one alert as displayed.
type AlertRow struct {
	TsMs  int64   `json:"ts_ms"`
	Time  string  `json:"time"`
	Z     float64 `json:"z"`
	Count int64   `json:"count"`
}

// Model is the display state of the dashboard.
type Model struct {
	Status            poller.Status `json:"status"`
	StatusLabel       string        `json:"status_label"`
	TradesPerSec      float64       `json:"trades_per_sec"`
	Z                 float64       `json:"z"`
	IsSpike           bool          `json:"is_spike"`
	LastUpdated       string        `json:"last_updated"`
	Chart             []ChartPoint  `json:"chart"`
	Alerts            []AlertRow    `json:"alerts"`
	AlertsPlaceholder string        `json:"alerts_placeholder,omitempty"`
}

// Derive builds the display model. Times are rendered in loc, or local time when loc is nil.
func Derive(s State, loc *time.Location) Model {
	if loc == nil {
		loc = time.Local
	}
	status := s.Status
	if status == "" {
		status = poller.StatusIdle
	}

	m := Model{
		Status:       status,
		StatusLabel:  StatusLabel(status),
		TradesPerSec: s.Snapshot.TradesPerSecOrZero(),
		Z:            s.Snapshot.ZOrZero(),
		IsSpike:      s.Snapshot.Spike(),
		LastUpdated:  NoTimestamp,
		Chart:        Chart(s.Points),
		Alerts:       make([]AlertRow, 0, len(s.Alerts)),
	}
	if s.Snapshot != nil && s.Snapshot.LastUpdatedMs != nil {
		m.LastUpdated = formatMillis(*s.Snapshot.LastUpdatedMs, loc)
	}
	for _, a := range s.Alerts {
		m.Alerts = append(m.Alerts, AlertRow{
			TsMs:  a.TsMs,
			Time:  formatMillis(a.TsMs, loc),
			Z:     a.Z,
			Count: a.Count,
		})
	}
	if len(m.Alerts) == 0 {
		m.AlertsPlaceholder = NoAlerts
	}
	return m
}

// StatusLabel is the badge text for a connection status.
func StatusLabel(s poller.Status) string {
	switch s {
	case poller.StatusOK:
		return "connected"
	case poller.StatusError:
		return "waiting for metrics…"
	default:
		return "idle"
	}
}

// Chart maps series points to plotted points.
func Chart(points []series.Point) []ChartPoint {
	out := make([]ChartPoint, len(points))
	for i, p := range points {
		out[i] = ChartPoint{T: p.T, V: RoundNonNegative(p.V)}
	}
	return out
}

// RoundNonNegative rounds half up and clamps at zero.
func RoundNonNegative(v float64) float64 {
	r := math.Floor(v + 0.5)
	if r < 0 || math.IsNaN(r) {
		return 0
	}
	return r
}

func formatMillis(ms int64, loc *time.Location) string {
	return time.UnixMilli(ms).In(loc).Format(TimeLayout)
}
