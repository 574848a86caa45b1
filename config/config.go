// Package config stores the dozer CLI's named daemon contexts.
//
// The file lives at $XDG_CONFIG_HOME/dozer/config.yaml (default
// ~/.config/dozer/config.yaml). Each context names the base URL of a dozerd
// API; one of them is current.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sort"

	"gopkg.in/yaml.v3"
)

// DefaultURL is where a local dozerd listens out of the box.
const DefaultURL = "http://127.0.0.1:7878"

// Context points the CLI at one daemon.
type Context struct {
	URL string `yaml:"url"`
}

type Config struct {
	CurrentContext string             `yaml:"current-context"`
	Contexts       map[string]Context `yaml:"contexts"`

	path string
}

// Path returns the config file location.
func Path() string {
	dir := os.Getenv("XDG_CONFIG_HOME")
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return filepath.Join(".config", "dozer", "config.yaml")
		}
		dir = filepath.Join(home, ".config")
	}
	return filepath.Join(dir, "dozer", "config.yaml")
}

// Load reads the config at Path. A missing file is an empty config.
func Load() (*Config, error) {
	return LoadFile(Path())
}

func LoadFile(path string) (*Config, error) {
	cfg := &Config{Contexts: make(map[string]Context), path: path}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if cfg.Contexts == nil {
		cfg.Contexts = make(map[string]Context)
	}
	return cfg, nil
}

// Save writes the config back to the file it was loaded from.
func (c *Config) Save() error {
	p := c.path
	if p == "" {
		p = Path()
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.WriteFile(p, data, 0o644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

// Current returns the current context. ok is false when none is selected.
func (c *Config) Current() (name string, ctx Context, ok bool) {
	if c.CurrentContext == "" {
		return "", Context{}, false
	}
	ctx, ok = c.Contexts[c.CurrentContext]
	if !ok {
		return "", Context{}, false
	}
	return c.CurrentContext, ctx, true
}

func (c *Config) Use(name string) error {
	if _, ok := c.Contexts[name]; !ok {
		return fmt.Errorf("context %q not found", name)
	}
	c.CurrentContext = name
	return nil
}

// Set adds or replaces a context after checking its URL. The first context
// added becomes current.
func (c *Config) Set(name string, ctx Context) error {
	if name == "" {
		return errors.New("context name is required")
	}
	if err := validateURL(ctx.URL); err != nil {
		return err
	}
	c.Contexts[name] = ctx
	if c.CurrentContext == "" {
		c.CurrentContext = name
	}
	return nil
}

// Remove deletes a context, clearing the selection if it was current.
func (c *Config) Remove(name string) error {
	if _, ok := c.Contexts[name]; !ok {
		return fmt.Errorf("context %q not found", name)
	}
	delete(c.Contexts, name)
	if c.CurrentContext == name {
		c.CurrentContext = ""
	}
	return nil
}

// Names returns the context names in sorted order.
func (c *Config) Names() []string {
	names := make([]string, 0, len(c.Contexts))
	for n := range c.Contexts {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Resolve picks the daemon URL: an explicit URL wins, then a named context,
// then the current context, then DefaultURL.
func (c *Config) Resolve(explicitURL, contextName string) (string, error) {
	if explicitURL != "" {
		return explicitURL, validateURL(explicitURL)
	}
	if contextName != "" {
		ctx, ok := c.Contexts[contextName]
		if !ok {
			return "", fmt.Errorf("context %q not found", contextName)
		}
		return ctx.URL, nil
	}
	if _, ctx, ok := c.Current(); ok {
		return ctx.URL, nil
	}
	return DefaultURL, nil
}

func validateURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid url %q: %w", raw, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("invalid url %q: scheme must be http or https", raw)
	}
	if u.Host == "" {
		return fmt.Errorf("invalid url %q: missing host", raw)
	}
	return nil
}
