package main

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	daemonruntime "dozer/daemon"
	"dozer/internal/adapter/docker"
	"dozer/internal/adapter/probe"
	"dozer/internal/adapter/sshexec"
	"dozer/internal/adapter/wol"
	"dozer/internal/allowlist"
	"dozer/internal/api"
	"dozer/internal/chat"
	"dozer/internal/events"
	"dozer/internal/hostconfig"
	"dozer/internal/lifecycle"
	"dozer/internal/logging"
	"dozer/internal/suspend"
	"dozer/internal/wake"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		slog.Error("command failed", "err", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var (
		configPath string
		debug      bool
	)
	v := hostconfig.New()

	cmd := &cobra.Command{
		Use:           "dozerd",
		Short:         "Wake-on-demand controller for a game server host",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if configPath != "" {
				if err := hostconfig.ReadFile(v, configPath); err != nil {
					return err
				}
			}
			if debug {
				v.Set(hostconfig.KeyLogLevel, logging.LevelDebug)
			}
			cfg, err := hostconfig.Load(v)
			if err != nil {
				return err
			}

			closer, err := logging.Configure(cfg.Log)
			if err != nil {
				return err
			}
			defer closer.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			app, err := build(cfg)
			if err != nil {
				return err
			}
			return daemonruntime.Run(ctx, cfg.Listen, app)
		},
	}

	cmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (.yaml, .toml, .json or .env)")
	cmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")
	if err := hostconfig.RegisterFlags(v, cmd.Flags()); err != nil {
		panic(fmt.Sprintf("bind flags: %v", err))
	}
	return cmd
}

// build wires the adapters into the orchestrator and its front-ends.
func build(cfg hostconfig.HostConfig) (daemonruntime.App, error) {
	sink := events.Log{Logger: slog.Default()}

	var prober lifecycle.Prober = probe.NewTCP(cfg.EffectiveProbePort(), cfg.ProbeTimeout)
	if cfg.ProbeMethod == hostconfig.ProbeICMP {
		prober = probe.NewICMP(cfg.ProbeTimeout, prober)
	}

	waker := wake.NewDriver(cfg.Host, cfg.MAC, prober, wol.NewSender(cfg.Broadcast),
		wake.WithInterval(cfg.WakeInterval),
		wake.WithSink(sink),
	)

	opener := docker.NewOpener(docker.Options{
		Host: cfg.Host,
		Port: cfg.Docker.Port,
		TLS: docker.TLS{
			CAFile:     cfg.Docker.TLSCA,
			CertFile:   cfg.Docker.TLSCert,
			KeyFile:    cfg.Docker.TLSKey,
			SkipVerify: cfg.Docker.TLSSkipVerify,
		},
	})

	dialer, err := sshexec.NewDialer(sshexec.Config{
		Host:           cfg.Host,
		Port:           cfg.SSH.Port,
		User:           cfg.SSH.User,
		KeyPath:        cfg.SSH.KeyPath,
		KnownHostsPath: cfg.SSH.KnownHosts,
	})
	if err != nil {
		return daemonruntime.App{}, fmt.Errorf("ssh: %w", err)
	}
	suspender := suspend.NewDriver(cfg.Host, dialer, cfg.SuspendAttempts(),
		suspend.WithCommand(cfg.SuspendCommand),
		suspend.WithSink(sink),
	)

	orch := lifecycle.NewOrchestrator(
		lifecycle.Config{Host: cfg.Host, WakeBudget: cfg.Timeout, MaxActive: cfg.MaxActive},
		allowlist.Load(cfg.AllowListPath),
		lifecycle.Deps{
			Prober:    prober,
			Waker:     waker,
			Opener:    opener,
			Suspender: suspender,
			Sink:      sink,
		},
	)

	app := daemonruntime.App{}
	monitorSink := events.Fanout{sink}
	if cfg.Discord.Token != "" {
		sess, err := chat.NewSession(cfg.Discord.Token)
		if err != nil {
			return daemonruntime.App{}, err
		}
		app.Bot = chat.New(sess, orch, cfg.Discord.GuildID)
		app.Conn = sess
		monitorSink = append(monitorSink, app.Bot)
	}

	app.Monitor = lifecycle.NewMonitor(orch, cfg.Host, cfg.PollInterval, monitorSink)
	app.API = api.NewServer(cfg.Host, orch, app.Monitor)
	return app, nil
}
