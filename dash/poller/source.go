package poller

import (
	"context"

	"github.com/securedataops/dataops-dashboard/dash/feed"
)

//go:generate mockgen -destination=mock_source.go -package=poller github.com/securedataops/dataops-dashboard/dash/poller Source

// Source fetches backend state. *feed.Client satisfies it.
type Source interface {
	Metrics(ctx context.Context) (*feed.MetricsSnapshot, error)
	Alerts(ctx context.Context) ([]feed.AlertRecord, error)
}

var _ Source = (*feed.Client)(nil)
