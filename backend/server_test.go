package backend

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testLogger creates a discard logger for tests
func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestServer(t *testing.T, archive *Archive) (*Server, string) {
	t.Helper()
	dir := t.TempDir()
	s, err := New(Config{
		StateDir:     dir,
		AllowOrigins: []string{"http://localhost:5173"},
		Archive:      archive,
		Logger:       testLogger(),
		Now:          func() time.Time { return time.UnixMilli(1700000000000) },
	})
	require.NoError(t, err)
	return s, dir
}

func do(t *testing.T, h http.Handler, method, target string, header map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, nil)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
}

func TestHealth(t *testing.T) {
	s, _ := newTestServer(t, nil)
	rec := do(t, s.Handler(), http.MethodGet, "/health", nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"ok":true,"time":1700000000000}`, rec.Body.String())
}

func TestMetricsNotReady(t *testing.T) {
	s, _ := newTestServer(t, nil)
	rec := do(t, s.Handler(), http.MethodGet, "/metrics", nil)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.JSONEq(t, `{"detail":"metrics not ready"}`, rec.Body.String())
}

func TestMetricsServesFile(t *testing.T) {
	s, dir := newTestServer(t, nil)
	doc := `{"last_updated_ms":1700000000000,"trades_per_sec":12.4,"window_size":30,"z":0.4,"is_spike":false}`
	writeFile(t, dir, MetricsFile, doc+"\n")

	rec := do(t, s.Handler(), http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.JSONEq(t, doc, rec.Body.String())
}

func TestMetricsCorruptFile(t *testing.T) {
	s, dir := newTestServer(t, nil)
	writeFile(t, dir, MetricsFile, `{"trades_per_sec":`)

	rec := do(t, s.Handler(), http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestAlertsMissingFile(t *testing.T) {
	s, _ := newTestServer(t, nil)
	rec := do(t, s.Handler(), http.MethodGet, "/alerts", nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())
}

func ndjson(n int) string {
	var b strings.Builder
	for i := 1; i <= n; i++ {
		b.WriteString(`{"ts_ms":` + strconv.Itoa(i) + `,"count":` + strconv.Itoa(i*10) + `,"z":3.5}` + "\n")
	}
	return b.String()
}

func decodeAlerts(t *testing.T, body string) []map[string]float64 {
	t.Helper()
	var out []map[string]float64
	require.NoError(t, json.Unmarshal([]byte(body), &out))
	return out
}

func TestAlertsNewestFirstWithLimit(t *testing.T) {
	s, dir := newTestServer(t, nil)
	writeFile(t, dir, AlertsFile, ndjson(60))

	rec := do(t, s.Handler(), http.MethodGet, "/alerts", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	alerts := decodeAlerts(t, rec.Body.String())
	require.Len(t, alerts, DefaultAlertsLimit)
	assert.Equal(t, 60.0, alerts[0]["ts_ms"])
	assert.Equal(t, 11.0, alerts[len(alerts)-1]["ts_ms"])

	rec = do(t, s.Handler(), http.MethodGet, "/alerts?limit=3", nil)
	alerts = decodeAlerts(t, rec.Body.String())
	require.Len(t, alerts, 3)
	assert.Equal(t, []float64{60, 59, 58}, []float64{alerts[0]["ts_ms"], alerts[1]["ts_ms"], alerts[2]["ts_ms"]})

	rec = do(t, s.Handler(), http.MethodGet, "/alerts?limit=0", nil)
	assert.Len(t, decodeAlerts(t, rec.Body.String()), 60, "zero returns every line")
}

func TestAlertsSkipsBadLines(t *testing.T) {
	s, dir := newTestServer(t, nil)
	writeFile(t, dir, AlertsFile, "{\"ts_ms\":1}\n\nnot json\n{\"ts_ms\":2}\n")

	rec := do(t, s.Handler(), http.MethodGet, "/alerts", nil)
	alerts := decodeAlerts(t, rec.Body.String())
	require.Len(t, alerts, 2)
	assert.Equal(t, 2.0, alerts[0]["ts_ms"])
}

func TestAlertsInvalidLimit(t *testing.T) {
	s, _ := newTestServer(t, nil)
	for _, q := range []string{"abc", "-1", "1.5"} {
		rec := do(t, s.Handler(), http.MethodGet, "/alerts?limit="+q, nil)
		assert.Equal(t, http.StatusUnprocessableEntity, rec.Code, "limit=%s", q)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	s, _ := newTestServer(t, nil)
	rec := do(t, s.Handler(), http.MethodPost, "/metrics", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestCORSAllowedOrigin(t *testing.T) {
	s, _ := newTestServer(t, nil)
	rec := do(t, s.Handler(), http.MethodGet, "/health", map[string]string{"Origin": "http://localhost:5173"})

	assert.Equal(t, "http://localhost:5173", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "true", rec.Header().Get("Access-Control-Allow-Credentials"))
}

func TestCORSDisallowedOrigin(t *testing.T) {
	s, _ := newTestServer(t, nil)
	rec := do(t, s.Handler(), http.MethodGet, "/health", map[string]string{"Origin": "https://evil.example"})
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))

	rec = do(t, s.Handler(), http.MethodOptions, "/alerts", map[string]string{
		"Origin":                        "https://evil.example",
		"Access-Control-Request-Method": "GET",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCORSPreflight(t *testing.T) {
	s, _ := newTestServer(t, nil)
	rec := do(t, s.Handler(), http.MethodOptions, "/metrics", map[string]string{
		"Origin":                         "http://localhost:5173",
		"Access-Control-Request-Method":  "GET",
		"Access-Control-Request-Headers": "cache-control, pragma",
	})

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "http://localhost:5173", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "cache-control, pragma", rec.Header().Get("Access-Control-Allow-Headers"))
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Methods"), "GET")
}

func TestParseOrigins(t *testing.T) {
	assert.Equal(t, []string{"https://a.example", "http://localhost:5173"},
		ParseOrigins(" https://a.example,,http://localhost:5173 "))
	assert.Empty(t, ParseOrigins(""))
}

func TestAlertsFromArchive(t *testing.T) {
	archive := openTestArchive(t)
	s, dir := newTestServer(t, archive)
	writeFile(t, dir, AlertsFile, ndjson(5))

	rec := do(t, s.Handler(), http.MethodGet, "/alerts?limit=2", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	alerts := decodeAlerts(t, rec.Body.String())
	require.Len(t, alerts, 2)
	assert.Equal(t, 5.0, alerts[0]["ts_ms"])

	// Rotation: the file is replaced by a shorter one; archived history survives.
	writeFile(t, dir, AlertsFile, `{"ts_ms":6,"count":60,"z":4}`+"\n")
	rec = do(t, s.Handler(), http.MethodGet, "/alerts", nil)
	alerts = decodeAlerts(t, rec.Body.String())
	require.Len(t, alerts, 6)
	assert.Equal(t, 6.0, alerts[0]["ts_ms"])
}
