package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"steward/internal/console"
	"steward/pkg/logging"
)

const shutdownTimeout = 5 * time.Second

// runHeadless serves the approval channel until SIGINT/SIGTERM or ctx
// cancellation. Suitable for systemd units.
func runHeadless(ctx context.Context, s *Services) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := start(ctx, s); err != nil {
		return err
	}
	logging.Info("Bootstrap", "Running headless. Use 'steward key show' for the connection URL.")

	<-ctx.Done()
	return shutdown(s)
}

// runInteractive serves the approval channel with the console approver in
// the foreground. Leaving the console stops the agent.
func runInteractive(ctx context.Context, s *Services, out io.Writer) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := start(ctx, s); err != nil {
		return err
	}

	c := console.New(s.Channel, s.Keys, s.Server.Port, out,
		console.WithHistoryFile(filepath.Join(s.Config.DataDir, historyFile)))
	consoleErr := c.Run(ctx)
	if consoleErr != nil {
		logging.Error("Console", consoleErr, "Console stopped")
	}
	return errors.Join(consoleErr, shutdown(s))
}

func start(ctx context.Context, s *Services) error {
	if err := s.Keys.Start(); err != nil {
		return fmt.Errorf("failed to prepare connection key: %w", err)
	}

	if s.Config.ConnectionKey.Watch {
		go func() {
			if err := s.Keys.Watch(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logging.Error("ConnKey", err, "Key watcher stopped")
			}
		}()
	}

	if err := s.Server.Start(ctx, s.Config.Channel.Host, s.Config.Channel.Port); err != nil {
		return err
	}

	notifySystemd(daemon.SdNotifyReady)
	logging.Info("Bootstrap", "steward ready on port %d (key expires %s)",
		s.Server.Port(), s.Keys.ExpiresAt().Format(time.RFC3339))
	return nil
}

func shutdown(s *Services) error {
	notifySystemd(daemon.SdNotifyStopping)
	logging.Info("Bootstrap", "Shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.Server.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to stop approval channel: %w", err)
	}
	return nil
}

func notifySystemd(state string) {
	sent, err := daemon.SdNotify(false, state)
	if err != nil {
		logging.Debug("Bootstrap", "sd_notify %s failed: %v", state, err)
		return
	}
	if sent {
		logging.Debug("Bootstrap", "sd_notify %s sent", state)
	}
}
