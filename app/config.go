package app

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/securedataops/dataops-dashboard/backend"
	"github.com/securedataops/dataops-dashboard/dash/feed"
	"github.com/securedataops/dataops-dashboard/dash/poller"
)

// Config holds the application configuration. Raw values come from the
// environment, then from CONFIG_FILE for anything the environment left empty.
type Config struct {
	APIBase         string `yaml:"api_base"`
	AppMode         string `yaml:"app_mode"`
	AppHost         string `yaml:"app_host"`
	AppPort         string `yaml:"app_port"`
	MetricsInterval string `yaml:"metrics_interval"`
	AlertsInterval  string `yaml:"alerts_interval"`
	AlertsLimit     string `yaml:"alerts_limit"`
	RequestTimeout  string `yaml:"request_timeout"`

	// Backend (backend and hybrid modes)
	StateDir     string `yaml:"state_dir"`
	AllowOrigins string `yaml:"allow_origins"`

	// Alert archive (opt-in: set ALERT_DB_PATH to enable SQLite persistence)
	AlertDBPath string `yaml:"alert_db_path"`

	// Telegram (opt-in, needs the archive: new spike alerts are sent to one chat)
	TelegramBotToken string `yaml:"telegram_bot_token"`
	TelegramChatID   string `yaml:"telegram_chat_id"`

	ConfigFile string `yaml:"-"`

	// Resolved by LoadConfig.
	MetricsEvery time.Duration `yaml:"-"`
	AlertsEvery  time.Duration `yaml:"-"`
	Timeout      time.Duration `yaml:"-"`
	Limit        int           `yaml:"-"`
	Origins      []string      `yaml:"-"`
	ChatID       int64         `yaml:"-"`
}

// Server mode constants
const (
	ModeDashboard = "dashboard" // dashboard, ops and docs polling a remote backend
	ModeBackend   = "backend"   // reference backend only
	ModeHybrid    = "hybrid"    // backend and dashboard on the same server
	ModeConsole   = "console"   // text view on stdout, no HTTP server

	DefaultPort        = "8080"
	DefaultBackendPort = "8000"
	DefaultHost        = "localhost"
	DefaultAppMode     = ModeDashboard
)

func configFromEnv() *Config {
	return &Config{
		APIBase:         os.Getenv("API_BASE"),
		AppMode:         os.Getenv("APP_MODE"),
		AppHost:         os.Getenv("APP_HOST"),
		AppPort:         os.Getenv("APP_PORT"),
		MetricsInterval: os.Getenv("METRICS_INTERVAL"),
		AlertsInterval:  os.Getenv("ALERTS_INTERVAL"),
		AlertsLimit:     os.Getenv("ALERTS_LIMIT"),
		RequestTimeout:  os.Getenv("REQUEST_TIMEOUT"),
		StateDir:        os.Getenv("SECUREDATAOPS_STATE_DIR"),
		AllowOrigins:    os.Getenv("API_ALLOW_ORIGINS"),
		AlertDBPath:     os.Getenv("ALERT_DB_PATH"),
		ConfigFile:      os.Getenv("CONFIG_FILE"),

		TelegramBotToken: os.Getenv("TELEGRAM_BOT_TOKEN"),
		TelegramChatID:   os.Getenv("TELEGRAM_CHAT_ID"),
	}
}

// mergeFile fills empty fields from the YAML file at path.
func (c *Config) mergeFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	var file Config
	if err := yaml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}

	fill := func(dst *string, src string) {
		if *dst == "" {
			*dst = src
		}
	}
	fill(&c.APIBase, file.APIBase)
	fill(&c.AppMode, file.AppMode)
	fill(&c.AppHost, file.AppHost)
	fill(&c.AppPort, file.AppPort)
	fill(&c.MetricsInterval, file.MetricsInterval)
	fill(&c.AlertsInterval, file.AlertsInterval)
	fill(&c.AlertsLimit, file.AlertsLimit)
	fill(&c.RequestTimeout, file.RequestTimeout)
	fill(&c.StateDir, file.StateDir)
	fill(&c.AllowOrigins, file.AllowOrigins)
	fill(&c.AlertDBPath, file.AlertDBPath)
	fill(&c.TelegramBotToken, file.TelegramBotToken)
	fill(&c.TelegramChatID, file.TelegramChatID)
	return nil
}

// resolve applies defaults and parses typed values.
func (c *Config) resolve() error {
	var errs []error

	if c.AppMode == "" {
		c.AppMode = DefaultAppMode
	}
	switch c.AppMode {
	case ModeDashboard, ModeBackend, ModeHybrid, ModeConsole:
	default:
		errs = append(errs, fmt.Errorf("invalid APP_MODE: %s", c.AppMode))
	}

	if c.AppHost == "" {
		c.AppHost = DefaultHost
	}
	if c.AppPort == "" {
		c.AppPort = DefaultPort
		if c.AppMode == ModeBackend {
			c.AppPort = DefaultBackendPort
		}
	}
	if p, err := strconv.Atoi(c.AppPort); err != nil || p < 1 || p > 65535 {
		errs = append(errs, fmt.Errorf("invalid APP_PORT: %q", c.AppPort))
	}

	if c.APIBase == "" {
		c.APIBase = feed.DefaultBaseURL
		if c.AppMode == ModeHybrid {
			c.APIBase = "http://" + loopbackHost(c.AppHost) + ":" + c.AppPort
		}
	}
	c.APIBase = strings.TrimRight(c.APIBase, "/")
	if u, err := url.Parse(c.APIBase); err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, fmt.Errorf("invalid API_BASE: %q must be an absolute URL", c.APIBase))
	}

	var err error
	if c.MetricsEvery, err = parseInterval(c.MetricsInterval, poller.DefaultMetricsInterval); err != nil || c.MetricsEvery <= 0 {
		errs = append(errs, fmt.Errorf("invalid METRICS_INTERVAL: %q", c.MetricsInterval))
	}
	if c.AlertsEvery, err = parseInterval(c.AlertsInterval, poller.DefaultAlertsInterval); err != nil || c.AlertsEvery <= 0 {
		errs = append(errs, fmt.Errorf("invalid ALERTS_INTERVAL: %q", c.AlertsInterval))
	}
	if c.Timeout, err = parseInterval(c.RequestTimeout, 0); err != nil || c.Timeout < 0 {
		errs = append(errs, fmt.Errorf("invalid REQUEST_TIMEOUT: %q", c.RequestTimeout))
	}

	c.Limit = feed.DefaultAlertsLimit
	if c.AlertsLimit != "" {
		if c.Limit, err = strconv.Atoi(c.AlertsLimit); err != nil || c.Limit <= 0 {
			errs = append(errs, fmt.Errorf("invalid ALERTS_LIMIT: %q", c.AlertsLimit))
		}
	}

	if c.StateDir == "" {
		c.StateDir = backend.DefaultStateDir
	}
	if c.AllowOrigins == "" {
		c.AllowOrigins = backend.DefaultAllowOrigins
	}
	c.Origins = backend.ParseOrigins(c.AllowOrigins)

	if c.TelegramBotToken != "" {
		if c.ChatID, err = strconv.ParseInt(c.TelegramChatID, 10, 64); err != nil || c.ChatID == 0 {
			errs = append(errs, fmt.Errorf("invalid TELEGRAM_CHAT_ID: %q", c.TelegramChatID))
		}
		if c.AlertDBPath == "" {
			errs = append(errs, errors.New("TELEGRAM_BOT_TOKEN requires ALERT_DB_PATH"))
		}
	}

	return errors.Join(errs...)
}

// parseInterval accepts a Go duration ("1s", "1500ms") or a bare number of milliseconds.
func parseInterval(v string, def time.Duration) (time.Duration, error) {
	if v == "" {
		return def, nil
	}
	if ms, err := strconv.Atoi(v); err == nil {
		return time.Duration(ms) * time.Millisecond, nil
	}
	return time.ParseDuration(v)
}

func loopbackHost(host string) string {
	switch host {
	case "", "0.0.0.0", "::", "[::]":
		return "127.0.0.1"
	}
	return host
}
