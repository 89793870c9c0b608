package poller

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/securedataops/dataops-dashboard/dash/feed"
)

func TestAlertsPollerReplacesList(t *testing.T) {
	ctrl := gomock.NewController(t)
	src := NewMockSource(ctrl)
	var calls atomic.Int64
	src.EXPECT().Alerts(gomock.Any()).DoAndReturn(func(context.Context) ([]feed.AlertRecord, error) {
		if calls.Add(1) == 1 {
			return []feed.AlertRecord{{TsMs: 2, Z: 3.5, Count: 20}, {TsMs: 1, Z: 3.1, Count: 15}}, nil
		}
		return []feed.AlertRecord{{TsMs: 9, Z: 4, Count: 30}}, nil
	}).AnyTimes()

	p := NewAlerts(AlertsConfig{Source: src, Interval: 10 * time.Millisecond, Logger: testLogger()})
	assert.Empty(t, p.Alerts())

	require.NoError(t, p.Start(context.Background()))
	require.Eventually(t, func() bool { return calls.Load() >= 2 && len(p.Alerts()) == 1 }, waitFor, tickFor)
	p.Stop()

	assert.Equal(t, []feed.AlertRecord{{TsMs: 9, Z: 4, Count: 30}}, p.Alerts())
}

func TestAlertsPollerIgnoresFailures(t *testing.T) {
	ctrl := gomock.NewController(t)
	src := NewMockSource(ctrl)
	var calls atomic.Int64
	src.EXPECT().Alerts(gomock.Any()).DoAndReturn(func(context.Context) ([]feed.AlertRecord, error) {
		switch calls.Add(1) {
		case 1:
			return []feed.AlertRecord{{TsMs: 1, Z: 3, Count: 10}}, nil
		case 2:
			return nil, &feed.StatusError{Code: 500}
		default:
			return nil, errors.New("boom")
		}
	}).AnyTimes()

	p := NewAlerts(AlertsConfig{Source: src, Interval: 10 * time.Millisecond, Logger: testLogger()})
	require.NoError(t, p.Start(context.Background()))
	require.Eventually(t, func() bool { return p.Stats().Failed >= 2 }, waitFor, tickFor)
	p.Stop()

	assert.Equal(t, []feed.AlertRecord{{TsMs: 1, Z: 3, Count: 10}}, p.Alerts())
}

func TestAlertsPollerEmptyResponseClearsList(t *testing.T) {
	ctrl := gomock.NewController(t)
	src := NewMockSource(ctrl)
	var calls atomic.Int64
	src.EXPECT().Alerts(gomock.Any()).DoAndReturn(func(context.Context) ([]feed.AlertRecord, error) {
		if calls.Add(1) == 1 {
			return []feed.AlertRecord{{TsMs: 1}}, nil
		}
		return []feed.AlertRecord{}, nil
	}).AnyTimes()

	p := NewAlerts(AlertsConfig{Source: src, Interval: 10 * time.Millisecond, Logger: testLogger()})
	require.NoError(t, p.Start(context.Background()))
	require.Eventually(t, func() bool { return calls.Load() >= 2 && len(p.Alerts()) == 0 }, waitFor, tickFor)
	p.Stop()

	assert.NotNil(t, p.Alerts())
}

func TestAlertsPollerDiscardsResponseAfterStop(t *testing.T) {
	ctrl := gomock.NewController(t)
	src := NewMockSource(ctrl)
	entered := make(chan struct{})
	release := make(chan struct{})
	src.EXPECT().Alerts(gomock.Any()).DoAndReturn(func(context.Context) ([]feed.AlertRecord, error) {
		close(entered)
		<-release
		return []feed.AlertRecord{{TsMs: 5}}, nil
	}).Times(1)

	p := NewAlerts(AlertsConfig{Source: src, Interval: time.Hour, Logger: testLogger()})
	require.NoError(t, p.Start(context.Background()))
	<-entered
	p.Stop()
	close(release)

	require.Eventually(t, func() bool { return p.Stats().Stale == 1 }, waitFor, tickFor)
	assert.Empty(t, p.Alerts())
}

func TestAlertsPollerStopsWithContext(t *testing.T) {
	ctrl := gomock.NewController(t)
	src := NewMockSource(ctrl)
	src.EXPECT().Alerts(gomock.Any()).DoAndReturn(func(ctx context.Context) ([]feed.AlertRecord, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}).Times(1)

	p := NewAlerts(AlertsConfig{Source: src, Interval: time.Hour, Logger: testLogger()})
	require.NoError(t, p.Start(context.Background()))
	require.Eventually(t, func() bool { return p.Stats().Issued == 1 }, waitFor, tickFor)
	p.Stop()

	require.Eventually(t, func() bool { return p.Stats().Stale == 1 }, waitFor, tickFor)
	assert.Equal(t, uint64(0), p.Stats().Failed)
}
