// Package cmdutil holds helpers shared by dozer subcommands.
package cmdutil

import (
	"fmt"
	"os"
	"strings"

	"dozer/config"
	"dozer/internal/api"
)

// Target is the connection selection from the root command's flags.
type Target struct {
	URL     string
	Context string
}

// Resolve returns the daemon URL. Order: --url, DOZER_URL, --context,
// DOZER_CONTEXT, the current context, then the local default.
func (t Target) Resolve() (string, error) {
	cfg, err := config.Load()
	if err != nil {
		return "", fmt.Errorf("load config: %w", err)
	}
	return cfg.Resolve(
		firstNonEmpty(t.URL, os.Getenv("DOZER_URL")),
		firstNonEmpty(t.Context, os.Getenv("DOZER_CONTEXT")),
	)
}

// Client builds an API client for the resolved daemon.
func (t Target) Client() (*api.Client, error) {
	u, err := t.Resolve()
	if err != nil {
		return nil, err
	}
	return api.NewClient(u), nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if s := strings.TrimSpace(v); s != "" {
			return s
		}
	}
	return ""
}

// ExitCode ends the process with a status after the command has already
// printed its own explanation.
type ExitCode int

func (e ExitCode) Error() string {
	return fmt.Sprintf("exit status %d", int(e))
}
