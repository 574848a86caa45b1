package lifecycle

import (
	"context"
	"fmt"
)

// Client is the container backend client. It makes sure the host is awake
// before opening an engine session and confines every engine failure to
// ErrConnectivity or ErrNotFound.
type Client struct {
	Host string
	// WakeBudget is the number of wake attempts Connect may spend.
	WakeBudget int

	Prober Prober
	Waker  Waker
	Opener Opener

	// OnWaking, if set, is called before a wake attempt starts.
	OnWaking func()
}

// Connect probes the host, wakes it if it does not answer, and opens a
// session. It returns ErrConnectivity if waking fails or the engine cannot be
// reached. It never returns a nil session with a nil error.
func (c *Client) Connect(ctx context.Context) (Session, error) {
	if !c.Prober.Probe(ctx, c.Host) {
		if c.OnWaking != nil {
			c.OnWaking()
		}
		if !c.Waker.Wake(ctx, c.WakeBudget) {
			return nil, fmt.Errorf("wake %s after %d attempts: %w", c.Host, c.WakeBudget, ErrConnectivity)
		}
	}
	return c.Open(ctx)
}

// Open opens a session without probing or waking.
func (c *Client) Open(ctx context.Context) (Session, error) {
	sess, err := c.Opener.Open(ctx)
	if err != nil {
		return nil, backendFault("open session to "+c.Host, err)
	}
	if sess == nil {
		return nil, fmt.Errorf("open session to %s: no session: %w", c.Host, ErrConnectivity)
	}
	return guardedSession{inner: sess}, nil
}

// guardedSession normalizes errors from a session implementation.
type guardedSession struct {
	inner Session
}

func (s guardedSession) List(ctx context.Context, scope Scope) ([]ContainerRecord, error) {
	records, err := s.inner.List(ctx, scope)
	if err != nil {
		return nil, backendFault("list "+scope.String()+" containers", err)
	}
	return records, nil
}

func (s guardedSession) Start(ctx context.Context, name string) error {
	return backendFault(fmt.Sprintf("start container %q", name), s.inner.Start(ctx, name))
}

func (s guardedSession) Stop(ctx context.Context, name string) error {
	return backendFault(fmt.Sprintf("stop container %q", name), s.inner.Stop(ctx, name))
}

func (s guardedSession) Close() error {
	return s.inner.Close()
}
