package probe

import (
	"context"
	"errors"
	"net"
	"strconv"
	"syscall"
	"time"

	"dozer/internal/lifecycle"
)

var _ lifecycle.Prober = (*TCP)(nil)

// TCP treats a completed or refused connection to Port as proof the host
// is up. A refusal means the host's stack answered with a reset.
type TCP struct {
	Port    int
	Timeout time.Duration
	// DialFunc replaces the dialer.
	DialFunc func(ctx context.Context, addr string) (net.Conn, error)
}

func NewTCP(port int, timeout time.Duration) *TCP {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &TCP{Port: port, Timeout: timeout}
}

func (p *TCP) Probe(ctx context.Context, address string) bool {
	dialCtx, cancel := context.WithTimeout(ctx, p.Timeout)
	defer cancel()

	addr := net.JoinHostPort(address, strconv.Itoa(p.Port))
	dial := p.DialFunc
	if dial == nil {
		var d net.Dialer
		dial = func(ctx context.Context, addr string) (net.Conn, error) {
			return d.DialContext(ctx, "tcp", addr)
		}
	}

	conn, err := dial(dialCtx, addr)
	if err != nil {
		return errors.Is(err, syscall.ECONNREFUSED)
	}
	_ = conn.Close()
	return true
}
