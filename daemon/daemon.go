// Package daemon runs dozerd's long-lived parts side by side: the HTTP API,
// the idle monitor and, when configured, the Discord bot.
package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"net"

	systemd "github.com/coreos/go-systemd/v22/daemon"
	"golang.org/x/sync/errgroup"

	"dozer/internal/api"
	"dozer/internal/chat"
	"dozer/internal/lifecycle"
)

// App is everything the daemon runs. Bot and Conn are nil when no Discord
// token is configured.
type App struct {
	API     *api.Server
	Monitor *lifecycle.Monitor
	Bot     *chat.Bot
	Conn    chat.Conn
}

// Run listens on addr and serves until ctx is cancelled.
func Run(ctx context.Context, addr string, app App) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	return Serve(ctx, ln, app)
}

// Serve runs every part of app on ln. The first part to fail stops the
// others. systemd is told the daemon is ready once the API is listening.
func Serve(ctx context.Context, ln net.Listener, app App) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error { return app.API.Serve(ctx, ln) })
	g.Go(func() error { return app.Monitor.Run(ctx) })
	if app.Bot != nil && app.Conn != nil {
		g.Go(func() error { return app.Bot.Run(ctx, app.Conn) })
	} else {
		slog.Info("no Discord token configured, chat front-end disabled")
	}

	notify(systemd.SdNotifyReady)
	go func() {
		<-ctx.Done()
		notify(systemd.SdNotifyStopping)
	}()

	return g.Wait()
}

func notify(state string) {
	// SdNotify reports false without error when not run under systemd.
	if _, err := systemd.SdNotify(false, state); err != nil {
		slog.Error("failed to notify systemd", "state", state, "err", err)
	}
}
