// Package hostconfig loads the immutable description of the managed host
// from flags, DOZER_* environment variables, and an optional config file.
package hostconfig

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"dozer/internal/logging"
)

const EnvPrefix = "DOZER"

const (
	ProbeICMP = "icmp"
	ProbeTCP  = "tcp"
)

// Keys double as flag names (with '-' for '_') and, prefixed and upper-cased,
// as environment variable names.
const (
	KeyHost             = "host"
	KeyMAC              = "mac_address"
	KeyBroadcast        = "broadcast"
	KeyDockerPort       = "docker_port"
	KeyDockerTLSCA      = "docker_tls_ca"
	KeyDockerTLSCert    = "docker_tls_cert"
	KeyDockerTLSKey     = "docker_tls_key"
	KeyDockerTLSNoCheck = "docker_tls_skip_verify"
	KeySSHUser          = "ssh_user"
	KeySSHPort          = "ssh_port"
	KeySSHKey           = "ssh_key"
	KeySSHKnownHosts    = "ssh_known_hosts"
	KeySuspendCommand   = "suspend_command"
	KeyTimeout          = "timeout"
	KeyWakeInterval     = "wake_interval"
	KeyProbeMethod      = "probe_method"
	KeyProbeTimeout     = "probe_timeout"
	KeyProbePort        = "probe_port"
	KeyPollInterval     = "poll_interval"
	KeyMaxActive        = "max_active"
	KeyAllowList        = "allowlist"
	KeyListen           = "listen"
	KeyDiscordToken     = "discord_token"
	KeyDiscordGuild     = "discord_guild"
	KeyLogLevel         = "log_level"
	KeyLogFormat        = "log_format"
	KeyLogFile          = "log_file"
)

type DockerConfig struct {
	Port          int
	TLSCA         string
	TLSCert       string
	TLSKey        string
	TLSSkipVerify bool
}

type SSHConfig struct {
	User       string
	Port       int
	KeyPath    string
	KnownHosts string
}

type DiscordConfig struct {
	Token   string
	GuildID string
}

// HostConfig is read once at startup and passed down; nothing mutates it.
type HostConfig struct {
	Host      string
	MAC       net.HardwareAddr
	Broadcast string

	Docker DockerConfig
	SSH    SSHConfig

	SuspendCommand string
	// Timeout is the retry budget: wake attempts, and Timeout-1 suspend attempts.
	Timeout      int
	WakeInterval time.Duration

	ProbeMethod  string
	ProbeTimeout time.Duration
	// ProbePort is dialed by the tcp probe method; zero means the SSH port.
	ProbePort int

	PollInterval  time.Duration
	MaxActive     int
	AllowListPath string

	Listen  string
	Discord DiscordConfig
	Log     logging.Options
}

// SuspendAttempts is how many times the suspend sequence is tried.
func (c HostConfig) SuspendAttempts() int {
	return c.Timeout - 1
}

// EffectiveProbePort resolves the tcp probe port.
func (c HostConfig) EffectiveProbePort() int {
	if c.ProbePort > 0 {
		return c.ProbePort
	}
	return c.SSH.Port
}

func defaults() map[string]any {
	return map[string]any{
		KeyBroadcast:        "255.255.255.255:9",
		KeyDockerPort:       2375,
		KeyDockerTLSNoCheck: false,
		KeySSHPort:          22,
		KeySSHKey:           "~/.ssh/id_rsa",
		KeySuspendCommand:   "systemctl suspend",
		KeyTimeout:          6,
		KeyWakeInterval:     2 * time.Second,
		KeyProbeMethod:      ProbeICMP,
		KeyProbeTimeout:     time.Second,
		KeyPollInterval:     time.Minute,
		KeyMaxActive:        1,
		KeyAllowList:        "allowlist.txt",
		KeyListen:           "127.0.0.1:7878",
		KeyLogLevel:         logging.LevelInfo,
		KeyLogFormat:        logging.FormatText,
	}
}

// New returns a viper instance with defaults and environment lookup set up.
func New() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.AutomaticEnv()
	for k, val := range defaults() {
		v.SetDefault(k, val)
	}
	// Keys without a default are only seen by AutomaticEnv once bound.
	for _, k := range []string{
		KeyHost, KeyMAC, KeyDockerTLSCA, KeyDockerTLSCert, KeyDockerTLSKey,
		KeySSHUser, KeySSHKnownHosts, KeyProbePort, KeyDiscordToken, KeyDiscordGuild, KeyLogFile,
	} {
		_ = v.BindEnv(k)
	}
	return v
}

func flagName(key string) string {
	return strings.ReplaceAll(key, "_", "-")
}

// RegisterFlags adds one flag per key to fs and binds them into v, so that a
// flag set on the command line wins over env and file.
func RegisterFlags(v *viper.Viper, fs *pflag.FlagSet) error {
	fs.String(flagName(KeyHost), "", "address of the managed host")
	fs.String(flagName(KeyMAC), "", "hardware address to send wake packets to")
	fs.String(flagName(KeyBroadcast), "", "UDP address wake packets are sent to")
	fs.Int(flagName(KeyDockerPort), 0, "container engine API port")
	fs.String(flagName(KeyDockerTLSCA), "", "CA certificate for the engine API")
	fs.String(flagName(KeyDockerTLSCert), "", "client certificate for the engine API")
	fs.String(flagName(KeyDockerTLSKey), "", "client key for the engine API")
	fs.Bool(flagName(KeyDockerTLSNoCheck), false, "skip engine certificate verification")
	fs.String(flagName(KeySSHUser), "", "SSH user allowed to suspend the host")
	fs.Int(flagName(KeySSHPort), 0, "SSH port")
	fs.String(flagName(KeySSHKey), "", "SSH private key")
	fs.String(flagName(KeySSHKnownHosts), "", "known_hosts file for host key checks")
	fs.String(flagName(KeySuspendCommand), "", "command that suspends the host")
	fs.Int(flagName(KeyTimeout), 0, "retry budget for wake and suspend")
	fs.Duration(flagName(KeyWakeInterval), 0, "pause between wake packets")
	fs.String(flagName(KeyProbeMethod), "", "reachability probe: icmp or tcp")
	fs.Duration(flagName(KeyProbeTimeout), 0, "timeout of one reachability probe")
	fs.Int(flagName(KeyProbePort), 0, "port dialed by the tcp probe (default: SSH port)")
	fs.Duration(flagName(KeyPollInterval), 0, "idle check interval")
	fs.Int(flagName(KeyMaxActive), 0, "maximum allow-listed containers running at once")
	fs.String(flagName(KeyAllowList), "", "allow-list file, one container name per line")
	fs.String(flagName(KeyListen), "", "HTTP API listen address")
	fs.String(flagName(KeyDiscordToken), "", "Discord bot token (empty disables the bot)")
	fs.String(flagName(KeyDiscordGuild), "", "Discord guild to register commands in (empty: global)")
	fs.String(flagName(KeyLogLevel), "", "log level: debug, info, warn, error")
	fs.String(flagName(KeyLogFormat), "", "log format: text or json")
	fs.String(flagName(KeyLogFile), "", "also write logs to this file")

	var errs []error
	fs.VisitAll(func(f *pflag.Flag) {
		key := strings.ReplaceAll(f.Name, "-", "_")
		if err := v.BindPFlag(key, f); err != nil {
			errs = append(errs, err)
		}
	})
	return errors.Join(errs...)
}

// ReadFile merges a yaml or .env file into v. The format follows the
// extension; .env files use the bare key names (HOST=..., MAC_ADDRESS=...).
func ReadFile(v *viper.Viper, path string) error {
	v.SetConfigFile(path)
	if strings.HasSuffix(path, ".env") || filepath.Base(path) == ".env" {
		v.SetConfigType("env")
	}
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	return nil
}

// Load builds and validates a HostConfig from v.
func Load(v *viper.Viper) (HostConfig, error) {
	cfg := HostConfig{
		Host:      strings.TrimSpace(v.GetString(KeyHost)),
		Broadcast: v.GetString(KeyBroadcast),
		Docker: DockerConfig{
			Port:          v.GetInt(KeyDockerPort),
			TLSCA:         expandHome(v.GetString(KeyDockerTLSCA)),
			TLSCert:       expandHome(v.GetString(KeyDockerTLSCert)),
			TLSKey:        expandHome(v.GetString(KeyDockerTLSKey)),
			TLSSkipVerify: v.GetBool(KeyDockerTLSNoCheck),
		},
		SSH: SSHConfig{
			User:       v.GetString(KeySSHUser),
			Port:       v.GetInt(KeySSHPort),
			KeyPath:    expandHome(v.GetString(KeySSHKey)),
			KnownHosts: expandHome(v.GetString(KeySSHKnownHosts)),
		},
		SuspendCommand: v.GetString(KeySuspendCommand),
		Timeout:        v.GetInt(KeyTimeout),
		WakeInterval:   v.GetDuration(KeyWakeInterval),
		ProbeMethod:    strings.ToLower(v.GetString(KeyProbeMethod)),
		ProbeTimeout:   v.GetDuration(KeyProbeTimeout),
		ProbePort:      v.GetInt(KeyProbePort),
		PollInterval:   v.GetDuration(KeyPollInterval),
		MaxActive:      v.GetInt(KeyMaxActive),
		AllowListPath:  expandHome(v.GetString(KeyAllowList)),
		Listen:         v.GetString(KeyListen),
		Discord: DiscordConfig{
			Token:   v.GetString(KeyDiscordToken),
			GuildID: v.GetString(KeyDiscordGuild),
		},
		Log: logging.Options{
			Level:  v.GetString(KeyLogLevel),
			Format: v.GetString(KeyLogFormat),
			File:   expandHome(v.GetString(KeyLogFile)),
		},
	}

	if raw := strings.TrimSpace(v.GetString(KeyMAC)); raw != "" {
		mac, err := net.ParseMAC(raw)
		if err != nil {
			return HostConfig{}, fmt.Errorf("parse %s: %w", KeyMAC, err)
		}
		cfg.MAC = mac
	}

	if err := cfg.Validate(); err != nil {
		return HostConfig{}, err
	}
	return cfg, nil
}

// Validate reports every problem at once.
func (c HostConfig) Validate() error {
	var errs []error
	if c.Host == "" {
		errs = append(errs, errors.New("host is required"))
	}
	if len(c.MAC) != 6 {
		errs = append(errs, errors.New("mac_address must be a 6-byte hardware address"))
	}
	if c.Timeout < 2 {
		errs = append(errs, fmt.Errorf("timeout must be at least 2, got %d", c.Timeout))
	}
	if c.WakeInterval <= 0 {
		errs = append(errs, errors.New("wake_interval must be positive"))
	}
	if c.ProbeTimeout <= 0 {
		errs = append(errs, errors.New("probe_timeout must be positive"))
	}
	if c.PollInterval <= 0 {
		errs = append(errs, errors.New("poll_interval must be positive"))
	}
	if c.ProbeMethod != ProbeICMP && c.ProbeMethod != ProbeTCP {
		errs = append(errs, fmt.Errorf("probe_method must be %s or %s, got %q", ProbeICMP, ProbeTCP, c.ProbeMethod))
	}
	if c.MaxActive < 1 {
		errs = append(errs, fmt.Errorf("max_active must be at least 1, got %d", c.MaxActive))
	}
	if c.Docker.Port <= 0 || c.Docker.Port > 65535 {
		errs = append(errs, fmt.Errorf("docker_port out of range: %d", c.Docker.Port))
	}
	if c.SSH.User == "" {
		errs = append(errs, errors.New("ssh_user is required"))
	}
	if c.SSH.KeyPath == "" {
		errs = append(errs, errors.New("ssh_key is required"))
	}
	return errors.Join(errs...)
}

func expandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}
