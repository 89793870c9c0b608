package backend

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeTelegram answers getMe and records sendMessage calls.
type fakeTelegram struct {
	mu   sync.Mutex
	sent []map[string]string
	fail bool
}

func (f *fakeTelegram) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	switch {
	case strings.HasSuffix(r.URL.Path, "/getMe"):
		_, _ = w.Write([]byte(`{"ok":true,"result":{"id":1,"is_bot":true,"first_name":"Spikes","username":"spikebot"}}`))
	case strings.HasSuffix(r.URL.Path, "/sendMessage"):
		_ = r.ParseForm()
		f.mu.Lock()
		defer f.mu.Unlock()
		if f.fail {
			_, _ = w.Write([]byte(`{"ok":false,"error_code":400,"description":"Bad Request"}`))
			return
		}
		f.sent = append(f.sent, map[string]string{
			"chat_id":    r.Form.Get("chat_id"),
			"text":       r.Form.Get("text"),
			"parse_mode": r.Form.Get("parse_mode"),
		})
		_, _ = w.Write([]byte(`{"ok":true,"result":{"message_id":1,"date":0,"chat":{"id":42,"type":"private"}}}`))
	default:
		http.NotFound(w, r)
	}
}

func (f *fakeTelegram) messages() []map[string]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]map[string]string(nil), f.sent...)
}

func newTestNotifier(t *testing.T, fake *fakeTelegram) *TelegramNotifier {
	t.Helper()
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	n, err := NewTelegramNotifier(TelegramConfig{
		BotToken: "123:abc",
		ChatID:   42,
		Endpoint: srv.URL + "/bot%s/%s",
		Logger:   testLogger(),
	})
	require.NoError(t, err)
	require.NotNil(t, n)
	return n
}

func TestNewTelegramNotifier_Disabled(t *testing.T) {
	n, err := NewTelegramNotifier(TelegramConfig{Logger: testLogger()})
	require.NoError(t, err)
	assert.Nil(t, n)

	// A nil notifier ignores alerts.
	n.Enqueue([]ArchivedAlert{{TsMs: 1}})
}

func TestNewTelegramNotifier_RequiresChat(t *testing.T) {
	_, err := NewTelegramNotifier(TelegramConfig{BotToken: "123:abc", Logger: testLogger()})
	assert.Error(t, err)
}

func TestTelegramNotifier_SendsArchivedAlerts(t *testing.T) {
	fake := &fakeTelegram{}
	n := newTestNotifier(t, fake)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		n.Run(ctx)
	}()
	defer func() {
		cancel()
		<-done
	}()

	a := openTestArchive(t)
	a.OnIngest(n.Enqueue)
	dir := t.TempDir()
	writeFile(t, dir, AlertsFile, `{"ts_ms":1700000000000,"z":3.456,"count":1200}`+"\n")
	path := filepath.Join(dir, AlertsFile)

	added, err := a.Ingest(path)
	require.NoError(t, err)
	require.Equal(t, 1, added)

	require.Eventually(t, func() bool { return len(fake.messages()) == 1 }, 2*time.Second, 10*time.Millisecond)
	msg := fake.messages()[0]
	assert.Equal(t, "42", msg["chat_id"])
	assert.Equal(t, "MarkdownV2", msg["parse_mode"])
	assert.Contains(t, msg["text"], `*Trade\-rate spike*`)
	assert.Contains(t, msg["text"], "Trades: 1200")
	assert.Contains(t, msg["text"], `z\-score: 3\.46`)
	assert.Contains(t, msg["text"], "At: 22:13:20 UTC")
	assert.Equal(t, uint64(1), n.Sent())

	// Nothing new, nothing sent.
	added, err = a.Ingest(path)
	require.NoError(t, err)
	assert.Zero(t, added)
}

func TestTelegramNotifier_SendFailureIsLogged(t *testing.T) {
	fake := &fakeTelegram{fail: true}
	n := newTestNotifier(t, fake)

	n.send(ArchivedAlert{TsMs: 1, Z: 3, Count: 1})
	assert.Zero(t, n.Sent())
}

func TestTelegramNotifier_QueueFullDrops(t *testing.T) {
	n := newTestNotifier(t, &fakeTelegram{})

	batch := make([]ArchivedAlert, notifyQueueSize+5)
	n.Enqueue(batch)
	assert.Equal(t, uint64(5), n.Dropped())
	assert.Len(t, n.queue, notifyQueueSize)
}

func TestEscapeTelegramMarkdown(t *testing.T) {
	assert.Equal(t, `3\.5 \(x\_y\)\!`, escapeTelegramMarkdown("3.5 (x_y)!"))
	assert.Equal(t, `a\\b`, escapeTelegramMarkdown(`a\b`))
}

func TestFormatAlert(t *testing.T) {
	loc := time.FixedZone("IST", 5*60*60+30*60)
	raw, _ := json.Marshal(map[string]any{"ts_ms": 0})
	text := formatAlert(ArchivedAlert{TsMs: 0, Z: -1.5, Count: 7, Raw: raw}, loc)
	assert.Contains(t, text, "Trades: 7")
	assert.Contains(t, text, `z\-score: \-1\.50`)
	assert.Contains(t, text, "At: 05:30:00 IST")
}
