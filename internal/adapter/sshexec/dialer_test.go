package sshexec

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"errors"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"testing"
	"time"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

// sshServer accepts one authorized key and answers exec requests with a
// fixed exit status.
type sshServer struct {
	ln      net.Listener
	hostKey ssh.Signer
	status  uint32

	mu       sync.Mutex
	commands []string
}

func newSSHServer(t *testing.T, authorized ssh.PublicKey, status uint32) *sshServer {
	t.Helper()
	_, hostPriv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	hostKey, err := ssh.NewSignerFromKey(hostPriv)
	if err != nil {
		t.Fatal(err)
	}
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	s := &sshServer{ln: ln, hostKey: hostKey, status: status}
	t.Cleanup(func() { _ = ln.Close() })

	cfg := &ssh.ServerConfig{
		PublicKeyCallback: func(_ ssh.ConnMetadata, key ssh.PublicKey) (*ssh.Permissions, error) {
			if bytes.Equal(key.Marshal(), authorized.Marshal()) {
				return nil, nil
			}
			return nil, errUnauthorized
		},
	}
	cfg.AddHostKey(hostKey)

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go s.serve(conn, cfg)
		}
	}()
	return s
}

var errUnauthorized = errors.New("unauthorized")

func (s *sshServer) serve(conn net.Conn, cfg *ssh.ServerConfig) {
	_, chans, reqs, err := ssh.NewServerConn(conn, cfg)
	if err != nil {
		_ = conn.Close()
		return
	}
	go ssh.DiscardRequests(reqs)

	for nc := range chans {
		if nc.ChannelType() != "session" {
			_ = nc.Reject(ssh.UnknownChannelType, "session only")
			continue
		}
		ch, creqs, err := nc.Accept()
		if err != nil {
			continue
		}
		go func() {
			for req := range creqs {
				if req.Type != "exec" {
					_ = req.Reply(false, nil)
					continue
				}
				var payload struct{ Command string }
				_ = ssh.Unmarshal(req.Payload, &payload)
				s.mu.Lock()
				s.commands = append(s.commands, payload.Command)
				s.mu.Unlock()

				_ = req.Reply(true, nil)
				_, _ = ch.SendRequest("exit-status", false, ssh.Marshal(struct{ Status uint32 }{s.status}))
				_ = ch.Close()
				return
			}
		}()
	}
}

func (s *sshServer) port(t *testing.T) int {
	t.Helper()
	_, p, _ := net.SplitHostPort(s.ln.Addr().String())
	port, err := strconv.Atoi(p)
	if err != nil {
		t.Fatal(err)
	}
	return port
}

func (s *sshServer) seen() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.commands...)
}

func writeClientKey(t *testing.T) (string, ssh.PublicKey) {
	t.Helper()
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	block, err := ssh.MarshalPrivateKey(priv, "dozer test")
	if err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(t.TempDir(), "id_ed25519")
	if err := os.WriteFile(path, pem.EncodeToMemory(block), 0o600); err != nil {
		t.Fatal(err)
	}
	signer, err := ssh.NewSignerFromKey(priv)
	if err != nil {
		t.Fatal(err)
	}
	return path, signer.PublicKey()
}

func TestDialAndRun(t *testing.T) {
	keyPath, pub := writeClientKey(t)
	srv := newSSHServer(t, pub, 0)

	knownHosts := filepath.Join(t.TempDir(), "known_hosts")
	line := knownhosts.Line([]string{srv.ln.Addr().String()}, srv.hostKey.PublicKey())
	if err := os.WriteFile(knownHosts, []byte(line+"\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	d, err := NewDialer(Config{
		Host:           "127.0.0.1",
		Port:           srv.port(t),
		User:           "gamer",
		KeyPath:        keyPath,
		KnownHostsPath: knownHosts,
		DialTimeout:    2 * time.Second,
	})
	if err != nil {
		t.Fatalf("NewDialer() error = %v", err)
	}

	shell, err := d.Dial(context.Background())
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer shell.Close()

	if err := shell.Run(context.Background(), "systemctl suspend"); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if got := srv.seen(); len(got) != 1 || got[0] != "systemctl suspend" {
		t.Errorf("server saw %v, want [systemctl suspend]", got)
	}
}

func TestRunReportsExitStatus(t *testing.T) {
	keyPath, pub := writeClientKey(t)
	srv := newSSHServer(t, pub, 1)

	d, err := NewDialer(Config{Host: "127.0.0.1", Port: srv.port(t), User: "gamer", KeyPath: keyPath})
	if err != nil {
		t.Fatalf("NewDialer() error = %v", err)
	}
	shell, err := d.Dial(context.Background())
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer shell.Close()

	if err := shell.Run(context.Background(), "systemctl suspend"); err == nil {
		t.Fatal("Run() error = nil, want exit status failure")
	}
}

func TestDialRejectsUnknownKey(t *testing.T) {
	keyPath, _ := writeClientKey(t)
	_, otherPub := writeClientKey(t)
	srv := newSSHServer(t, otherPub, 0)

	d, err := NewDialer(Config{Host: "127.0.0.1", Port: srv.port(t), User: "gamer", KeyPath: keyPath})
	if err != nil {
		t.Fatalf("NewDialer() error = %v", err)
	}
	if _, err := d.Dial(context.Background()); err == nil {
		t.Fatal("Dial() error = nil, want auth failure")
	}
}

func TestDialRejectsHostKeyMismatch(t *testing.T) {
	keyPath, pub := writeClientKey(t)
	srv := newSSHServer(t, pub, 0)

	_, otherHost, _ := ed25519.GenerateKey(rand.Reader)
	otherSigner, _ := ssh.NewSignerFromKey(otherHost)
	knownHosts := filepath.Join(t.TempDir(), "known_hosts")
	line := knownhosts.Line([]string{srv.ln.Addr().String()}, otherSigner.PublicKey())
	if err := os.WriteFile(knownHosts, []byte(line+"\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	d, err := NewDialer(Config{
		Host:           "127.0.0.1",
		Port:           srv.port(t),
		User:           "gamer",
		KeyPath:        keyPath,
		KnownHostsPath: knownHosts,
	})
	if err != nil {
		t.Fatalf("NewDialer() error = %v", err)
	}
	if _, err := d.Dial(context.Background()); err == nil {
		t.Fatal("Dial() error = nil, want host key mismatch")
	}
}

func TestNewDialerValidation(t *testing.T) {
	keyPath, _ := writeClientKey(t)

	if _, err := NewDialer(Config{Host: "h", KeyPath: keyPath}); err == nil {
		t.Error("NewDialer() without user: error = nil")
	}
	if _, err := NewDialer(Config{Host: "h", User: "u", KeyPath: filepath.Join(t.TempDir(), "missing")}); err == nil {
		t.Error("NewDialer() with missing key: error = nil")
	}

	garbage := filepath.Join(t.TempDir(), "garbage")
	_ = os.WriteFile(garbage, []byte("not a key"), 0o600)
	if _, err := NewDialer(Config{Host: "h", User: "u", KeyPath: garbage}); err == nil {
		t.Error("NewDialer() with unparsable key: error = nil")
	}
}

func TestExitResult(t *testing.T) {
	if err := exitResult(nil, ""); err != nil {
		t.Errorf("exitResult(nil) = %v", err)
	}
	if err := exitResult(&ssh.ExitMissingError{}, ""); err != nil {
		t.Errorf("exitResult(missing) = %v, want nil", err)
	}
}
