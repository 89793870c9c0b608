package feed

import (
	"bytes"
	"encoding/json"
	"errors"
	"time"

	"github.com/securedataops/dataops-dashboard/dash/series"
)

var errNotObject = errors.New("metrics body is not a JSON object")

// MetricsSnapshot is one decoded /metrics response.
// A nil field means the backend omitted it or sent the wrong JSON type.
type MetricsSnapshot struct {
	TradesPerSec  *float64 `json:"trades_per_sec,omitempty"`
	Z             *float64 `json:"z,omitempty"`
	IsSpike       *bool    `json:"is_spike,omitempty"`
	LastUpdatedMs *int64   `json:"last_updated_ms,omitempty"`
	WindowSize    *int64   `json:"window_size,omitempty"`
}

// UnmarshalJSON decodes a snapshot field by field, dropping fields of the wrong type.
func (s *MetricsSnapshot) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if raw == nil {
		return errNotObject
	}
	*s = MetricsSnapshot{
		TradesPerSec:  numberField(raw, "trades_per_sec"),
		Z:             numberField(raw, "z"),
		IsSpike:       boolField(raw, "is_spike"),
		LastUpdatedMs: intField(raw, "last_updated_ms"),
		WindowSize:    intField(raw, "window_size"),
	}
	return nil
}

// TradesPerSecOrZero returns the reported rate, or 0 when absent.
func (s *MetricsSnapshot) TradesPerSecOrZero() float64 {
	if s == nil || s.TradesPerSec == nil {
		return 0
	}
	return *s.TradesPerSec
}

// ZOrZero returns the reported z-score, or 0 when absent.
func (s *MetricsSnapshot) ZOrZero() float64 {
	if s == nil || s.Z == nil {
		return 0
	}
	return *s.Z
}

// Spike reports the spike flag, false when absent.
func (s *MetricsSnapshot) Spike() bool {
	return s != nil && s.IsSpike != nil && *s.IsSpike
}

// Point derives the chart sample for this snapshot. The backend timestamp wins;
// polledAt is used when the backend did not send one.
func (s *MetricsSnapshot) Point(polledAt time.Time) series.Point {
	t := polledAt.UnixMilli()
	if s != nil && s.LastUpdatedMs != nil {
		t = *s.LastUpdatedMs
	}
	return series.Point{T: t, V: s.TradesPerSecOrZero()}
}

// AlertRecord is one entry of the /alerts list.
type AlertRecord struct {
	TsMs  int64   `json:"ts_ms"`
	Z     float64 `json:"z"`
	Count int64   `json:"count"`
}

// UnmarshalJSON never fails: anything that is not an object decodes as the zero record
// and mistyped fields are left at zero.
func (a *AlertRecord) UnmarshalJSON(data []byte) error {
	*a = AlertRecord{}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil
	}
	if v := intField(raw, "ts_ms"); v != nil {
		a.TsMs = *v
	}
	if v := numberField(raw, "z"); v != nil {
		a.Z = *v
	}
	if v := intField(raw, "count"); v != nil {
		a.Count = *v
	}
	return nil
}

func isNull(v json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(v), []byte("null"))
}

func numberField(raw map[string]json.RawMessage, key string) *float64 {
	v, ok := raw[key]
	if !ok || isNull(v) {
		return nil
	}
	var f float64
	if err := json.Unmarshal(v, &f); err != nil {
		return nil
	}
	return &f
}

// intField accepts any JSON number and truncates it, so 1.7e12 style timestamps still decode.
func intField(raw map[string]json.RawMessage, key string) *int64 {
	f := numberField(raw, key)
	if f == nil {
		return nil
	}
	n := int64(*f)
	return &n
}

func boolField(raw map[string]json.RawMessage, key string) *bool {
	v, ok := raw[key]
	if !ok || isNull(v) {
		return nil
	}
	var b bool
	if err := json.Unmarshal(v, &b); err != nil {
		return nil
	}
	return &b
}
