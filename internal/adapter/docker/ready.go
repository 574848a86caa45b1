package docker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/docker/docker/client"
)

const (
	readyInterval = time.Second
	// DefaultReadyTimeout covers dockerd coming up after the host resumed.
	DefaultReadyTimeout = 30 * time.Second
)

// WaitReady polls the engine until it answers a ping, the error is something
// other than a refused connection, or timeout elapses.
func WaitReady(ctx context.Context, cli *client.Client, timeout time.Duration) error {
	return waitReady(ctx, pingFunc(func(ctx context.Context) error {
		_, err := cli.Ping(ctx)
		return err
	}), timeout)
}

type pingFunc func(ctx context.Context) error

func waitReady(ctx context.Context, ping pingFunc, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = DefaultReadyTimeout
	}
	log := slog.With("component", "docker")
	waiting := false

	check := func() error {
		err := ping(ctx)
		if err == nil {
			if waiting {
				log.Debug("engine reachable")
			}
			return nil
		}
		if !client.IsErrConnectionFailed(err) {
			return backoff.Permanent(err)
		}
		if !waiting {
			waiting = true
			log.Debug("waiting for engine")
		}
		return err
	}

	b := backoff.NewExponentialBackOff(
		backoff.WithInitialInterval(readyInterval/4),
		backoff.WithMaxInterval(readyInterval),
		backoff.WithMaxElapsedTime(timeout),
	)
	if err := backoff.Retry(check, backoff.WithContext(b, ctx)); err != nil {
		return fmt.Errorf("connect to docker engine: %w", err)
	}
	return nil
}
