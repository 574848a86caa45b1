package probe

import (
	"context"
	"errors"
	"net"
	"strconv"
	"testing"
	"time"
)

func listenerPort(t *testing.T, ln net.Listener) int {
	t.Helper()
	_, portStr, err := net.SplitHostPort(ln.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		t.Fatal(err)
	}
	return port
}

func TestTCPProbe(t *testing.T) {
	t.Run("listening port", func(t *testing.T) {
		ln, err := net.Listen("tcp", "127.0.0.1:0")
		if err != nil {
			t.Fatal(err)
		}
		defer ln.Close()

		p := NewTCP(listenerPort(t, ln), time.Second)
		if !p.Probe(context.Background(), "127.0.0.1") {
			t.Error("Probe() = false, want true")
		}
	})

	t.Run("refused port counts as up", func(t *testing.T) {
		ln, err := net.Listen("tcp", "127.0.0.1:0")
		if err != nil {
			t.Fatal(err)
		}
		port := listenerPort(t, ln)
		_ = ln.Close()

		if !NewTCP(port, time.Second).Probe(context.Background(), "127.0.0.1") {
			t.Error("Probe() = false, want true for a refused connection")
		}
	})

	t.Run("dial timeout", func(t *testing.T) {
		p := NewTCP(2375, 50*time.Millisecond)
		p.DialFunc = func(ctx context.Context, _ string) (net.Conn, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		}
		if p.Probe(context.Background(), "10.0.0.5") {
			t.Error("Probe() = true, want false")
		}
	})

	t.Run("dials host and port", func(t *testing.T) {
		var got string
		p := NewTCP(2375, time.Second)
		p.DialFunc = func(_ context.Context, addr string) (net.Conn, error) {
			got = addr
			return nil, errors.New("no route to host")
		}
		if p.Probe(context.Background(), "10.0.0.5") {
			t.Error("Probe() = true, want false")
		}
		if got != "10.0.0.5:2375" {
			t.Errorf("dialed %q, want 10.0.0.5:2375", got)
		}
	})
}

type stubProber struct {
	calls  int
	answer bool
}

func (s *stubProber) Probe(context.Context, string) bool {
	s.calls++
	return s.answer
}

func TestICMPProbeLoopback(t *testing.T) {
	conn, _, err := listen()
	if err != nil {
		t.Skipf("icmp sockets unavailable: %v", err)
	}
	_ = conn.Close()

	fallback := &stubProber{}
	p := NewICMP(time.Second, fallback)
	if !p.Probe(context.Background(), "127.0.0.1") {
		t.Error("Probe(127.0.0.1) = false, want true")
	}
	if fallback.calls != 0 {
		t.Errorf("fallback calls = %d, want 0", fallback.calls)
	}
}

func TestResolve4(t *testing.T) {
	ip, err := resolve4(context.Background(), "192.168.1.20")
	if err != nil {
		t.Fatalf("resolve4() error = %v", err)
	}
	if !ip.Equal(net.IPv4(192, 168, 1, 20)) {
		t.Errorf("resolve4() = %v", ip)
	}
	if _, err := resolve4(context.Background(), "::1"); err == nil {
		t.Error("resolve4(::1) error = nil, want error")
	}
}

func TestICMPRejectsIPv6(t *testing.T) {
	fallback := &stubProber{answer: true}
	if NewICMP(time.Second, fallback).Probe(context.Background(), "::1") {
		t.Error("Probe(::1) = true, want false")
	}
}
