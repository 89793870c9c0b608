package backend

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"golang.org/x/time/rate"
)

const (
	// notifyQueueSize bounds alerts waiting to be sent; newer alerts are dropped when full.
	notifyQueueSize = 64
	// notifyEvery spaces messages to stay under Telegram's per-chat limit.
	notifyEvery = time.Second
)

// escapeTelegramMarkdown escapes MarkdownV2 special characters.
func escapeTelegramMarkdown(s string) string {
	for _, ch := range []string{"\\", "_", "*", "[", "]", "(", ")", "~", "`", ">", "#", "+", "-", "=", "|", "{", "}", ".", "!"} {
		s = strings.ReplaceAll(s, ch, "\\"+ch)
	}
	return s
}

// TelegramConfig configures a TelegramNotifier.
type TelegramConfig struct {
	BotToken string
	ChatID   int64
	Endpoint string // optional, defaults to tgbotapi.APIEndpoint
	Location *time.Location
	Logger   *slog.Logger
}

// TelegramNotifier forwards newly archived spike alerts to one Telegram chat.
type TelegramNotifier struct {
	bot     *tgbotapi.BotAPI
	chatID  int64
	loc     *time.Location
	logger  *slog.Logger
	queue   chan ArchivedAlert
	limiter *rate.Limiter
	sent    atomic.Uint64
	dropped atomic.Uint64
}

// NewTelegramNotifier creates a notifier. It returns nil, nil when no bot token
// is configured.
func NewTelegramNotifier(cfg TelegramConfig) (*TelegramNotifier, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.BotToken == "" {
		logger.Info("Telegram bot token not configured, notifications disabled")
		return nil, nil
	}
	if cfg.ChatID == 0 {
		return nil, fmt.Errorf("telegram chat id is required")
	}

	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = tgbotapi.APIEndpoint
	}
	bot, err := tgbotapi.NewBotAPIWithAPIEndpoint(cfg.BotToken, endpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to create Telegram bot: %w", err)
	}

	loc := cfg.Location
	if loc == nil {
		loc = time.UTC
	}

	logger.Info("Telegram bot initialized", "bot_name", bot.Self.UserName, "chat_id", cfg.ChatID)

	return &TelegramNotifier{
		bot:     bot,
		chatID:  cfg.ChatID,
		loc:     loc,
		logger:  logger,
		queue:   make(chan ArchivedAlert, notifyQueueSize),
		limiter: rate.NewLimiter(rate.Every(notifyEvery), 1),
	}, nil
}

// Enqueue schedules alerts for delivery without blocking. It is an IngestCallback.
func (t *TelegramNotifier) Enqueue(added []ArchivedAlert) {
	if t == nil {
		return
	}
	var dropped uint64
	for _, a := range added {
		select {
		case t.queue <- a:
		default:
			dropped++
		}
	}
	if dropped > 0 {
		t.dropped.Add(dropped)
		t.logger.Warn("Telegram queue full, dropping alert notifications", "dropped", dropped)
	}
}

// Run delivers queued alerts until ctx is done.
func (t *TelegramNotifier) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case a := <-t.queue:
			if err := t.limiter.Wait(ctx); err != nil {
				return
			}
			t.send(a)
		}
	}
}

// Sent reports how many notifications were delivered.
func (t *TelegramNotifier) Sent() uint64 { return t.sent.Load() }

// Dropped reports how many alerts were discarded because the queue was full.
func (t *TelegramNotifier) Dropped() uint64 { return t.dropped.Load() }

func (t *TelegramNotifier) send(a ArchivedAlert) {
	msg := tgbotapi.NewMessage(t.chatID, formatAlert(a, t.loc))
	msg.ParseMode = tgbotapi.ModeMarkdownV2

	if _, err := t.bot.Send(msg); err != nil {
		t.logger.Error("Failed to send Telegram notification", "chat_id", t.chatID, "error", err)
		return
	}
	t.sent.Add(1)
	t.logger.Debug("Telegram notification sent", "ts_ms", a.TsMs)
}

func formatAlert(a ArchivedAlert, loc *time.Location) string {
	when := time.UnixMilli(a.TsMs).In(loc).Format("15:04:05 MST")
	return fmt.Sprintf(
		"\U0001F4C8 *Trade\\-rate spike*\nTrades: %s\nz\\-score: %s\nAt: %s",
		escapeTelegramMarkdown(strconv.FormatInt(a.Count, 10)),
		escapeTelegramMarkdown(strconv.FormatFloat(a.Z, 'f', 2, 64)),
		escapeTelegramMarkdown(when),
	)
}
