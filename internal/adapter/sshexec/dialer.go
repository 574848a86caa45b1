// Package sshexec runs commands on the managed host over SSH, authenticating
// with a private key only.
package sshexec

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	"dozer/internal/suspend"
)

var (
	_ suspend.Dialer = (*Dialer)(nil)
	_ suspend.Shell  = (*Shell)(nil)
)

const (
	DefaultPort           = 22
	DefaultDialTimeout    = 10 * time.Second
	DefaultCommandTimeout = 10 * time.Second
)

type Config struct {
	Host    string
	Port    int
	User    string
	KeyPath string
	// KnownHostsPath enables host key checking. When empty any host key is
	// accepted.
	KnownHostsPath string

	DialTimeout time.Duration
	// CommandTimeout bounds the wait for a command to exit. A suspend command
	// often never reports back because the host goes down first.
	CommandTimeout time.Duration
}

type Dialer struct {
	cfg     Config
	addr    string
	signer  ssh.Signer
	hostKey ssh.HostKeyCallback
}

// NewDialer loads the private key and host key policy once.
func NewDialer(cfg Config) (*Dialer, error) {
	if cfg.Port == 0 {
		cfg.Port = DefaultPort
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = DefaultDialTimeout
	}
	if cfg.CommandTimeout <= 0 {
		cfg.CommandTimeout = DefaultCommandTimeout
	}
	if strings.TrimSpace(cfg.User) == "" {
		return nil, errors.New("ssh user is required")
	}

	pem, err := os.ReadFile(cfg.KeyPath)
	if err != nil {
		return nil, fmt.Errorf("read ssh key: %w", err)
	}
	signer, err := ssh.ParsePrivateKey(pem)
	if err != nil {
		var missing *ssh.PassphraseMissingError
		if errors.As(err, &missing) {
			return nil, fmt.Errorf("parse ssh key %s: passphrase-protected keys are not supported", cfg.KeyPath)
		}
		return nil, fmt.Errorf("parse ssh key %s: %w", cfg.KeyPath, err)
	}

	hostKey := ssh.InsecureIgnoreHostKey()
	if cfg.KnownHostsPath != "" {
		hostKey, err = knownhosts.New(cfg.KnownHostsPath)
		if err != nil {
			return nil, fmt.Errorf("load known hosts: %w", err)
		}
	} else {
		slog.Warn("no known_hosts file configured, host key is not verified", "component", "sshexec", "host", cfg.Host)
	}

	return &Dialer{
		cfg:     cfg,
		addr:    net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		signer:  signer,
		hostKey: hostKey,
	}, nil
}

func (d *Dialer) Dial(ctx context.Context) (suspend.Shell, error) {
	nd := net.Dialer{Timeout: d.cfg.DialTimeout}
	conn, err := nd.DialContext(ctx, "tcp", d.addr)
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", d.addr, err)
	}

	deadline := time.Now().Add(d.cfg.DialTimeout)
	if dl, ok := ctx.Deadline(); ok && dl.Before(deadline) {
		deadline = dl
	}
	_ = conn.SetDeadline(deadline)

	cc, chans, reqs, err := ssh.NewClientConn(conn, d.addr, &ssh.ClientConfig{
		User:            d.cfg.User,
		Auth:            []ssh.AuthMethod{ssh.PublicKeys(d.signer)},
		HostKeyCallback: d.hostKey,
		Timeout:         d.cfg.DialTimeout,
	})
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("ssh handshake with %s: %w", d.addr, err)
	}
	_ = conn.SetDeadline(time.Time{})

	return &Shell{client: ssh.NewClient(cc, chans, reqs), timeout: d.cfg.CommandTimeout}, nil
}

type Shell struct {
	client  *ssh.Client
	timeout time.Duration
}

// Run starts command in a new session and waits for it to exit. A session
// that ends without an exit status, or outlives the command timeout, counts
// as success: the host dropped the connection while going to sleep.
func (s *Shell) Run(ctx context.Context, command string) error {
	sess, err := s.client.NewSession()
	if err != nil {
		return fmt.Errorf("open session: %w", err)
	}
	defer sess.Close()

	var stderr bytes.Buffer
	sess.Stderr = &stderr
	if err := sess.Start(command); err != nil {
		return fmt.Errorf("start command: %w", err)
	}

	done := make(chan error, 1)
	go func() { done <- sess.Wait() }()

	timer := time.NewTimer(s.timeout)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	case err := <-done:
		return exitResult(err, stderr.String())
	}
}

func exitResult(err error, stderr string) error {
	if err == nil {
		return nil
	}
	var missing *ssh.ExitMissingError
	if errors.As(err, &missing) || errors.Is(err, io.EOF) {
		return nil
	}
	var exit *ssh.ExitError
	if errors.As(err, &exit) {
		msg := strings.TrimSpace(stderr)
		if msg == "" {
			return fmt.Errorf("command exited with status %d", exit.ExitStatus())
		}
		return fmt.Errorf("command exited with status %d: %s", exit.ExitStatus(), msg)
	}
	return err
}

func (s *Shell) Close() error {
	return s.client.Close()
}
