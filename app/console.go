package app

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/securedataops/dataops-dashboard/dash/view"
)

const consoleListener = "console"

// runConsole mounts a Monitor and writes the text view to out on every change
// until ctx is done.
func (app *App) runConsole(ctx context.Context, out io.Writer) error {
	monitor, err := app.newMonitor()
	if err != nil {
		return err
	}

	changes := monitor.Subscribe(consoleListener)
	defer monitor.Unsubscribe(consoleListener)

	render := func() error {
		m := view.Derive(monitor.Snapshot(), time.Local)
		if err := view.RenderText(out, m); err != nil {
			return fmt.Errorf("render console view: %w", err)
		}
		_, err := fmt.Fprintln(out)
		return err
	}

	if err := render(); err != nil {
		return err
	}

	if err := monitor.Mount(ctx); err != nil {
		return fmt.Errorf("failed to start pollers: %w", err)
	}
	defer monitor.Unmount()

	app.logger.Info("Console view started", "api_base", app.Config.APIBase)

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-changes:
			if err := render(); err != nil {
				return err
			}
		}
	}
}
