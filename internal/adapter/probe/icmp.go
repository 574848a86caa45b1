// Package probe answers whether the managed host is on the network.
package probe

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/net/icmp"
	"golang.org/x/net/ipv4"

	"dozer/internal/lifecycle"
)

var _ lifecycle.Prober = (*ICMP)(nil)

// DefaultTimeout bounds one probe.
const DefaultTimeout = time.Second

const protocolICMP = 1

var echoPayload = []byte("dozer-probe")

// ICMP sends one echo request and waits for the matching reply. It prefers
// an unprivileged datagram socket and falls back to a raw socket. When
// neither can be opened it defers to Fallback, if set.
type ICMP struct {
	Timeout  time.Duration
	Fallback lifecycle.Prober

	id  int
	seq atomic.Uint32

	warnOnce sync.Once
}

func NewICMP(timeout time.Duration, fallback lifecycle.Prober) *ICMP {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &ICMP{Timeout: timeout, Fallback: fallback, id: os.Getpid() & 0xffff}
}

func (p *ICMP) Probe(ctx context.Context, address string) bool {
	ip, err := resolve4(ctx, address)
	if err != nil {
		slog.Debug("resolve failed", "component", "probe", "address", address, "err", err)
		return false
	}

	conn, network, err := listen()
	if err != nil {
		if p.Fallback == nil {
			slog.Debug("ICMP unavailable", "component", "probe", "err", err)
			return false
		}
		p.warnOnce.Do(func() {
			slog.Warn("ICMP sockets unavailable, probing over TCP instead", "component", "probe", "err", err)
		})
		return p.Fallback.Probe(ctx, address)
	}
	defer conn.Close()

	ok, err := p.echo(ctx, conn, network, ip)
	if err != nil {
		slog.Debug("probe failed", "component", "probe", "address", address, "err", err)
	}
	return ok
}

func (p *ICMP) echo(ctx context.Context, conn *icmp.PacketConn, network string, ip net.IP) (bool, error) {
	seq := int(p.seq.Add(1) & 0xffff)
	msg := icmp.Message{
		Type: ipv4.ICMPTypeEcho,
		Body: &icmp.Echo{ID: p.id, Seq: seq, Data: echoPayload},
	}
	wire, err := msg.Marshal(nil)
	if err != nil {
		return false, fmt.Errorf("marshal echo: %w", err)
	}

	deadline := time.Now().Add(p.Timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := conn.SetDeadline(deadline); err != nil {
		return false, err
	}

	var dst net.Addr = &net.IPAddr{IP: ip}
	if network == "udp4" {
		dst = &net.UDPAddr{IP: ip}
	}
	if _, err := conn.WriteTo(wire, dst); err != nil {
		return false, fmt.Errorf("send echo: %w", err)
	}

	buf := make([]byte, 1500)
	for {
		n, peer, err := conn.ReadFrom(buf)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				return false, nil
			}
			return false, fmt.Errorf("read reply: %w", err)
		}
		if !peerIP(peer).Equal(ip) {
			continue
		}
		reply, err := icmp.ParseMessage(protocolICMP, buf[:n])
		if err != nil || reply.Type != ipv4.ICMPTypeEchoReply {
			continue
		}
		echo, ok := reply.Body.(*icmp.Echo)
		if !ok || echo.Seq != seq {
			continue
		}
		// The kernel rewrites the identifier on datagram sockets.
		if network != "udp4" && echo.ID != p.id {
			continue
		}
		return true, nil
	}
}

func listen() (*icmp.PacketConn, string, error) {
	conn, err := icmp.ListenPacket("udp4", "0.0.0.0")
	if err == nil {
		return conn, "udp4", nil
	}
	raw, rawErr := icmp.ListenPacket("ip4:icmp", "0.0.0.0")
	if rawErr == nil {
		return raw, "ip4:icmp", nil
	}
	return nil, "", fmt.Errorf("open icmp socket: %w", errors.Join(err, rawErr))
}

func peerIP(addr net.Addr) net.IP {
	switch a := addr.(type) {
	case *net.UDPAddr:
		return a.IP
	case *net.IPAddr:
		return a.IP
	default:
		return nil
	}
}

func resolve4(ctx context.Context, address string) (net.IP, error) {
	if ip := net.ParseIP(address); ip != nil {
		if v4 := ip.To4(); v4 != nil {
			return v4, nil
		}
		return nil, fmt.Errorf("%s is not an IPv4 address", address)
	}
	ips, err := net.DefaultResolver.LookupIP(ctx, "ip4", address)
	if err != nil {
		return nil, err
	}
	if len(ips) == 0 {
		return nil, fmt.Errorf("no IPv4 address for %s", address)
	}
	return ips[0].To4(), nil
}
