package app

import (
	"context"
	"net"
	"os/signal"
	"syscall"

	"crmgate/internal/server"
	"crmgate/internal/token"
	"crmgate/pkg/logging"

	"github.com/coreos/go-systemd/v22/daemon"
)

// runServer starts the HTTP server with its startup and shutdown chores.
//
// Signal Handling:
//   - SIGINT (Ctrl+C): Triggers graceful shutdown
//   - SIGTERM: Triggers graceful shutdown (common in container environments)
func runServer(ctx context.Context, services *Services) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := services.Tokens.ReconcileDomain(ctx); err != nil {
		logging.Warn("Bootstrap", "Could not reconcile stored account domain: %v", err)
	}

	status := services.Tokens.Status(ctx)
	if status.Authorized {
		logging.Info("Bootstrap", "Token for %s valid until %v", status.AccountDomain, status.ExpiresAt)
	} else {
		logging.Warn("Bootstrap", "No token stored yet; open /oauth/authorize to connect %s", services.Settings.CRM.Domain)
	}

	watcher := token.NewWatcher(token.WatcherConfig{
		Path: services.Store.Path(),
		OnChange: func() {
			logging.Info("TokenWatcher", "Token record changed on disk")
		},
	})
	if err := watcher.Start(); err != nil {
		logging.Warn("Bootstrap", "Token watcher disabled: %v", err)
	} else {
		defer watcher.Stop()
	}

	srv := server.New(server.Options{
		Config:     services.Settings,
		Tokens:     services.Tokens,
		CRM:        services.CRM,
		Authorizer: services.Authorizer,
	})

	err := srv.Run(ctx, func(addr net.Addr) {
		notifySystemd(daemon.SdNotifyReady)
	})
	notifySystemd(daemon.SdNotifyStopping)
	return err
}

// notifySystemd is a no-op outside of systemd units.
func notifySystemd(state string) {
	sent, err := daemon.SdNotify(false, state)
	if err != nil {
		logging.Warn("Bootstrap", "systemd notification %q failed: %v", state, err)
		return
	}
	if sent {
		logging.Debug("Bootstrap", "Notified systemd: %s", state)
	}
}
