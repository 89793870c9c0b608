package backend

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeAtomic mirrors how the consumer replaces metrics.json.
func writeAtomic(t *testing.T, dir, name, content string) {
	t.Helper()
	tmp := filepath.Join(dir, name+".tmp")
	require.NoError(t, os.WriteFile(tmp, []byte(content), 0o644))
	require.NoError(t, os.Rename(tmp, filepath.Join(dir, name)))
}

func TestWatcherRefreshesMetricsCache(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(dir)
	archive := openTestArchive(t)
	w := NewWatcher(store, archive, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- w.Run(ctx) }()

	select {
	case <-w.Ready():
	case err := <-errCh:
		t.Fatalf("watcher exited: %v", err)
	case <-time.After(2 * time.Second):
		t.Fatal("watcher not ready")
	}

	_, err := store.Metrics()
	assert.ErrorIs(t, err, ErrMetricsNotReady)

	writeAtomic(t, dir, MetricsFile, `{"trades_per_sec":1}`)
	require.Eventually(t, func() bool {
		data, err := store.Metrics()
		return err == nil && string(data) == `{"trades_per_sec":1}`
	}, 2*time.Second, 10*time.Millisecond)

	writeAtomic(t, dir, MetricsFile, `{"trades_per_sec":2}`)
	require.Eventually(t, func() bool {
		data, err := store.Metrics()
		return err == nil && string(data) == `{"trades_per_sec":2}`
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, os.WriteFile(filepath.Join(dir, AlertsFile), []byte(ndjson(2)), 0o644))
	require.Eventually(t, func() bool {
		n, err := archive.Count()
		return err == nil && n == 2
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	require.NoError(t, <-errCh)

	// Without the watcher the store reads the file directly again.
	require.NoError(t, os.Remove(filepath.Join(dir, MetricsFile)))
	_, err = store.Metrics()
	assert.ErrorIs(t, err, ErrMetricsNotReady)
}

func TestWatcherMissingDir(t *testing.T) {
	w := NewWatcher(NewStore(filepath.Join(t.TempDir(), "missing")), nil, testLogger())
	err := w.Run(context.Background())
	assert.Error(t, err)
}
