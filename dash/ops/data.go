package ops

import (
	"time"

	"github.com/securedataops/dataops-dashboard/dash"
)

// OverviewData is the ops overview payload.
type OverviewData struct {
	Version      string     `json:"version"`
	Uptime       string     `json:"uptime"`
	APIBase      string     `json:"api_base"`
	Viewers      int        `json:"viewers"`
	Monitor      dash.Stats `json:"monitor"`
	LogEntries   int        `json:"log_entries"`
	LogListeners int        `json:"log_listeners"`
	LogDropped   uint64     `json:"log_dropped"`
}

func (h *Handler) buildOverview() OverviewData {
	viewers := 0
	if h.viewers != nil {
		viewers = h.viewers()
	}
	return OverviewData{
		Version:      h.version,
		Uptime:       time.Since(h.startTime).Truncate(time.Second).String(),
		APIBase:      h.apiBase,
		Viewers:      viewers,
		Monitor:      h.monitor.Stats(),
		LogEntries:   h.logBuffer.Len(),
		LogListeners: h.logBuffer.Listeners(),
		LogDropped:   h.logBuffer.Dropped(),
	}
}
