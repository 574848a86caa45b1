// Package docker talks to the container engine on the managed host over its
// remote TCP API.
package docker

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/containerd/errdefs"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
	"github.com/docker/go-connections/tlsconfig"

	"dozer/internal/lifecycle"
)

var (
	_ lifecycle.Opener  = (*Opener)(nil)
	_ lifecycle.Session = (*Session)(nil)
)

const DefaultPort = 2375

// TLS points at the client material for a TLS-protected engine endpoint.
type TLS struct {
	CAFile   string
	CertFile string
	KeyFile  string
	// SkipVerify disables server certificate checks.
	SkipVerify bool
}

func (t TLS) enabled() bool {
	return t.CAFile != "" || t.CertFile != "" || t.KeyFile != "" || t.SkipVerify
}

type Options struct {
	Host string
	Port int
	TLS  TLS
	// ReadyTimeout bounds the wait for the engine after a session is opened.
	ReadyTimeout time.Duration
	// StopTimeout is passed to the engine on stop; zero keeps the engine default.
	StopTimeout time.Duration
	// ClientOpts are appended to the options the client is built with.
	ClientOpts []client.Opt
}

// Opener creates one engine client per session.
type Opener struct {
	opts Options
}

func NewOpener(opts Options) *Opener {
	if opts.Port == 0 {
		opts.Port = DefaultPort
	}
	return &Opener{opts: opts}
}

// Endpoint is the engine URL sessions connect to.
func (o *Opener) Endpoint() string {
	return "tcp://" + net.JoinHostPort(o.opts.Host, strconv.Itoa(o.opts.Port))
}

// Open builds a client and waits until the engine answers. The engine is
// often still starting when the host has just resumed.
func (o *Opener) Open(ctx context.Context) (lifecycle.Session, error) {
	clientOpts := []client.Opt{
		client.WithHost(o.Endpoint()),
		client.WithAPIVersionNegotiation(),
	}
	if o.opts.TLS.enabled() {
		tlsCfg, err := tlsconfig.Client(tlsconfig.Options{
			CAFile:             o.opts.TLS.CAFile,
			CertFile:           o.opts.TLS.CertFile,
			KeyFile:            o.opts.TLS.KeyFile,
			InsecureSkipVerify: o.opts.TLS.SkipVerify,
		})
		if err != nil {
			return nil, fmt.Errorf("load docker tls config: %w", err)
		}
		clientOpts = append(clientOpts, client.WithHTTPClient(&http.Client{
			Transport: &http.Transport{TLSClientConfig: tlsCfg},
		}))
	}
	clientOpts = append(clientOpts, o.opts.ClientOpts...)

	cli, err := client.NewClientWithOpts(clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("create docker client: %w", err)
	}
	if err := WaitReady(ctx, cli, o.opts.ReadyTimeout); err != nil {
		_ = cli.Close()
		return nil, fmt.Errorf("%w: %w", lifecycle.ErrConnectivity, err)
	}
	return &Session{cli: cli, stopTimeout: o.opts.StopTimeout}, nil
}

// Session is one engine client. It is not safe to use after Close.
type Session struct {
	cli         *client.Client
	stopTimeout time.Duration
}

func (s *Session) List(ctx context.Context, scope lifecycle.Scope) ([]lifecycle.ContainerRecord, error) {
	containers, err := s.cli.ContainerList(ctx, container.ListOptions{All: scope == lifecycle.ScopeAll})
	if err != nil {
		return nil, classify(fmt.Errorf("list containers: %w", err))
	}

	out := make([]lifecycle.ContainerRecord, 0, len(containers))
	for _, c := range containers {
		if len(c.Names) == 0 {
			continue
		}
		out = append(out, lifecycle.ContainerRecord{
			Name:  strings.TrimPrefix(c.Names[0], "/"),
			State: lifecycle.ParseRunState(string(c.State)),
		})
	}
	return out, nil
}

func (s *Session) Start(ctx context.Context, name string) error {
	if err := s.cli.ContainerStart(ctx, name, container.StartOptions{}); err != nil {
		return classify(fmt.Errorf("start container %q: %w", name, err))
	}
	return nil
}

func (s *Session) Stop(ctx context.Context, name string) error {
	opts := container.StopOptions{}
	if s.stopTimeout > 0 {
		secs := int(s.stopTimeout / time.Second)
		opts.Timeout = &secs
	}
	if err := s.cli.ContainerStop(ctx, name, opts); err != nil {
		return classify(fmt.Errorf("stop container %q: %w", name, err))
	}
	return nil
}

func (s *Session) Close() error {
	return s.cli.Close()
}

// classify tags engine errors with the lifecycle fault they stand for.
func classify(err error) error {
	switch {
	case errdefs.IsNotFound(err):
		return fmt.Errorf("%w: %w", lifecycle.ErrNotFound, err)
	case client.IsErrConnectionFailed(err):
		return fmt.Errorf("%w: %w", lifecycle.ErrConnectivity, err)
	default:
		return err
	}
}
