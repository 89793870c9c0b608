package app

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"html/template"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/securedataops/dataops-dashboard/backend"
	"github.com/securedataops/dataops-dashboard/dash"
	"github.com/securedataops/dataops-dashboard/dash/dashboard"
	"github.com/securedataops/dataops-dashboard/dash/feed"
	"github.com/securedataops/dataops-dashboard/dash/ops"
	"github.com/securedataops/dataops-dashboard/dash/templates"
	"github.com/securedataops/dataops-dashboard/web"
)

// App represents the main application structure
type App struct {
	Config         *Config
	Version        string
	startTime      time.Time
	statusTemplate *template.Template
	logger         *slog.Logger
	logBuffer      *ops.LogBuffer
}

// StatusPageData holds template data for the status page
type StatusPageData struct {
	Title     string
	Version   string
	Mode      string
	APIBase   string
	Dashboard bool
	Backend   bool
}

// NewApp creates a new application instance with logger
func NewApp(logger *slog.Logger) *App {
	return &App{
		Config:    configFromEnv(),
		Version:   "v0.0.0", // Ideally injected at build time
		startTime: time.Now(),
		logger:    logger,
	}
}

// SetVersion sets the server version
func (app *App) SetVersion(version string) {
	app.Version = version
}

// SetLogBuffer sets the log buffer for the ops log stream.
func (app *App) SetLogBuffer(buf *ops.LogBuffer) {
	app.logBuffer = buf
}

// LoadConfig merges the optional config file, applies defaults and validates.
func (app *App) LoadConfig() error {
	if app.Config.ConfigFile != "" {
		if err := app.Config.mergeFile(app.Config.ConfigFile); err != nil {
			return err
		}
		app.logger.Info("Loaded config file", "path", app.Config.ConfigFile)
	}
	return app.Config.resolve()
}

// RunServer starts the configured mode and blocks until SIGINT or SIGTERM.
func (app *App) RunServer() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return app.startServer(ctx)
}

// buildServerURL constructs the server URL from host and port
func (app *App) buildServerURL() string {
	return app.Config.AppHost + ":" + app.Config.AppPort
}

// startServer selects the appropriate server mode to start
func (app *App) startServer(ctx context.Context) error {
	switch app.Config.AppMode {
	default:
		return fmt.Errorf("invalid APP_MODE: %s", app.Config.AppMode)

	case ModeConsole:
		return app.runConsole(ctx, os.Stdout)

	case ModeDashboard, ModeBackend, ModeHybrid:
		handler, cleanup, err := app.buildHandler(ctx)
		if err != nil {
			return err
		}
		url := app.buildServerURL()
		srv := app.createHTTPServer(url)
		srv.Handler = handler
		app.logger.Info("Starting server", "mode", app.Config.AppMode, "url", "http://"+url)
		return app.serve(ctx, srv, cleanup)
	}
}

// createHTTPServer creates and configures the HTTP server. WriteTimeout stays
// unset because dashboard and log streams are long-lived.
func (app *App) createHTTPServer(url string) *http.Server {
	return &http.Server{
		Addr:              url,
		ReadHeaderTimeout: 30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
}

// serve runs srv until ctx is done, then shuts it down and runs cleanup.
func (app *App) serve(ctx context.Context, srv *http.Server, cleanup func()) error {
	done := app.setupGracefulShutdown(ctx, srv, cleanup)

	err := srv.ListenAndServe()
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		cleanup()
		return fmt.Errorf("http server: %w", err)
	}
	<-done
	return nil
}

// setupGracefulShutdown stops srv once ctx is cancelled. The returned channel
// closes after cleanup has run.
func (app *App) setupGracefulShutdown(ctx context.Context, srv *http.Server, cleanup func()) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		<-ctx.Done()
		app.logger.Info("Shutting down server...")

		// Shutdown HTTP server first (stop accepting new requests)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			app.logger.Error("Server shutdown error", "error", err)
		}

		// Then stop pollers, watcher and archive
		cleanup()

		app.logger.Info("Server shutdown complete")
	}()
	return done
}

// buildHandler assembles the routes for the configured mode. The returned
// cleanup is safe to call more than once.
func (app *App) buildHandler(ctx context.Context) (http.Handler, func(), error) {
	var (
		closers []func()
		once    sync.Once
	)
	cleanup := func() {
		once.Do(func() {
			for i := len(closers) - 1; i >= 0; i-- {
				closers[i]()
			}
		})
	}
	fail := func(err error) (http.Handler, func(), error) {
		cleanup()
		return nil, nil, err
	}

	limiter := web.NewRateLimiter(web.DefaultEvery, web.DefaultBurst)
	closers = append(closers, limiter.StopCleanup)

	mode := app.Config.AppMode
	withBackend := mode == ModeBackend || mode == ModeHybrid
	withDashboard := mode == ModeDashboard || mode == ModeHybrid

	var be *backend.Server
	if withBackend {
		srv, stop, err := app.startBackend(ctx)
		if err != nil {
			return fail(err)
		}
		closers = append(closers, stop)
		be = srv
	}

	if !withDashboard {
		return limiter.Middleware(be.Handler()), cleanup, nil
	}

	mux := http.NewServeMux()
	if be != nil {
		h := limiter.Middleware(be.Handler())
		mux.Handle("/health", h)
		mux.Handle("/metrics", h)
		mux.Handle("/alerts", h)
	}

	monitor, err := app.newMonitor()
	if err != nil {
		return fail(err)
	}
	dh, err := dashboard.New(dashboard.Config{
		Monitor: monitor,
		Logger:  app.logger,
		Version: app.Version,
		Context: ctx,
	})
	if err != nil {
		return fail(fmt.Errorf("failed to create dashboard handler: %w", err))
	}
	closers = append(closers, dh.Close)
	dh.RegisterRoutes(mux, limiter.Middleware)

	if app.logBuffer != nil {
		opsHandler := ops.New(ops.Config{
			Monitor:   monitor,
			LogBuffer: app.logBuffer,
			Logger:    app.logger,
			Viewers:   dh.Viewers,
			APIBase:   app.Config.APIBase,
			Version:   app.Version,
			StartTime: app.startTime,
		})
		opsHandler.RegisterRoutes(mux, limiter.Middleware)
	}

	docs, err := NewDocsManager(app.Version)
	if err != nil {
		app.logger.Warn("Failed to load documentation", "error", err)
	} else {
		docs.RegisterRoutes(mux)
	}

	if err := app.initStatusPageTemplate(); err != nil {
		app.logger.Warn("Failed to initialize status template", "error", err)
	}
	app.serveStatusPage(mux)

	return mux, cleanup, nil
}

// startBackend creates the reference backend and starts its state watcher.
func (app *App) startBackend(ctx context.Context) (*backend.Server, func(), error) {
	var archive *backend.Archive
	if app.Config.AlertDBPath != "" {
		a, err := backend.OpenArchive(app.Config.AlertDBPath)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open alert archive: %w", err)
		}
		archive = a
		app.logger.Info("Alert archive enabled", "path", app.Config.AlertDBPath)
	}

	srv, err := backend.New(backend.Config{
		StateDir:     app.Config.StateDir,
		AllowOrigins: app.Config.Origins,
		Archive:      archive,
		Logger:       app.logger,
	})
	if err != nil {
		if archive != nil {
			_ = archive.Close()
		}
		return nil, nil, fmt.Errorf("failed to create backend: %w", err)
	}

	watchCtx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup

	if archive != nil && app.Config.TelegramBotToken != "" {
		notifier, err := backend.NewTelegramNotifier(backend.TelegramConfig{
			BotToken: app.Config.TelegramBotToken,
			ChatID:   app.Config.ChatID,
			Logger:   app.logger,
		})
		if err != nil {
			cancel()
			_ = archive.Close()
			return nil, nil, err
		}
		// Catch up on the backlog first so only alerts raised from now on are sent.
		if n, err := archive.Ingest(srv.Store().AlertsPath()); err != nil {
			app.logger.Warn("Failed to archive existing alerts", "error", err)
		} else if n > 0 {
			app.logger.Info("Archived existing alerts", "count", n)
		}
		archive.OnIngest(notifier.Enqueue)
		wg.Add(1)
		go func() {
			defer wg.Done()
			notifier.Run(watchCtx)
		}()
	}

	watcher := backend.NewWatcher(srv.Store(), archive, app.logger)
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := watcher.Run(watchCtx); err != nil {
			app.logger.Error("State watcher stopped", "error", err)
		}
	}()

	app.logger.Info("Backend serving state directory", "dir", app.Config.StateDir, "origins", app.Config.Origins)

	stop := func() {
		cancel()
		wg.Wait()
		if archive != nil {
			if err := archive.Close(); err != nil {
				app.logger.Error("Failed to close alert archive", "error", err)
			}
		}
	}
	return srv, stop, nil
}

// newMonitor creates an unmounted Monitor polling API_BASE.
func (app *App) newMonitor() (*dash.Monitor, error) {
	client, err := feed.New(feed.Config{
		BaseURL:     app.Config.APIBase,
		AlertsLimit: app.Config.Limit,
		Timeout:     app.Config.Timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create feed client: %w", err)
	}
	return dash.New(dash.Config{
		Source:          client,
		Logger:          app.logger,
		MetricsInterval: app.Config.MetricsEvery,
		AlertsInterval:  app.Config.AlertsEvery,
	})
}

// initStatusPageTemplate initializes the status template
func (app *App) initStatusPageTemplate() error {
	tmpl, err := template.ParseFS(templates.FS, "base.html", "status.html")
	if err != nil {
		return fmt.Errorf("failed to parse status template: %w", err)
	}
	app.statusTemplate = tmpl
	return nil
}

// getStatusData returns template data for the status page
func (app *App) getStatusData() StatusPageData {
	mode := app.Config.AppMode
	return StatusPageData{
		Title:     "Status",
		Version:   app.Version,
		Mode:      mode,
		APIBase:   app.Config.APIBase,
		Dashboard: mode == ModeDashboard || mode == ModeHybrid,
		Backend:   mode == ModeBackend || mode == ModeHybrid,
	}
}

// serveStatusPage configures the HTTP mux to serve status page using templates
func (app *App) serveStatusPage(mux *http.ServeMux) {
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		// Only serve status page at root path
		if r.URL.Path != "/" {
			w.Header().Set("Content-Type", "text/plain; charset=utf-8")
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte("Not Found"))
			return
		}

		if app.statusTemplate == nil {
			w.Header().Set("Content-Type", "text/plain; charset=utf-8")
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("SecureDataOps Dashboard - Status template not available"))
			return
		}

		var buf bytes.Buffer
		if err := app.statusTemplate.ExecuteTemplate(&buf, "base", app.getStatusData()); err != nil {
			app.logger.Error("Failed to execute status template", "error", err)
			http.Error(w, "Internal server error", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		if _, err := buf.WriteTo(w); err != nil {
			app.logger.Error("Failed to write status page", "error", err)
		}
	})
}
