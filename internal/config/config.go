// Package config handles toolhost configuration loading.
package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/nugget/toolhost/internal/mcp"
	"github.com/nugget/toolhost/internal/paths"
)

// DefaultSearchPaths returns the config file search order.
// An explicit path (from -config flag) is checked first.
// Then: ./config.yaml, ~/.config/toolhost/config.yaml, /etc/toolhost/config.yaml.
func DefaultSearchPaths() []string {
	paths := []string{"config.yaml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "toolhost", "config.yaml"))
	}

	paths = append(paths, "/etc/toolhost/config.yaml")
	return paths
}

// FindConfig locates a config file. If explicit is non-empty, it must exist.
// Otherwise, searches DefaultSearchPaths and returns the first that exists.
// Returns the path found, or an error if nothing was found.
func FindConfig(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	for _, p := range DefaultSearchPaths() {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	return "", fmt.Errorf("no config file found (searched: %v)", DefaultSearchPaths())
}

// Config holds all toolhost configuration.
type Config struct {
	Listen     ListenConfig   `yaml:"listen" toml:"listen"`
	LogLevel   string         `yaml:"log_level" toml:"log_level"`
	LogFormat  string         `yaml:"log_format" toml:"log_format"` // text (default) or json
	Timeouts   TimeoutsConfig `yaml:"timeouts" toml:"timeouts"`
	Toolset    string         `yaml:"toolset" toml:"toolset"` // chat (default) or story
	MCPServers []ServerConfig `yaml:"mcp_servers" toml:"mcp_servers"`
	Fetch      FetchConfig    `yaml:"fetch" toml:"fetch"`
	Story      StoryConfig    `yaml:"story" toml:"story"`

	// Paths names directories usable as "name:" prefixes in story.db_path
	// and in a server's cmd and args.
	Paths map[string]string `yaml:"paths" toml:"paths"`
}

// ListenConfig defines the API server settings.
type ListenConfig struct {
	Address string `yaml:"address" toml:"address"` // Bind address (default: "" = all interfaces)
	Port    int    `yaml:"port" toml:"port"`
}

// Addr returns the host:port the API server binds.
func (l ListenConfig) Addr() string {
	return net.JoinHostPort(l.Address, strconv.Itoa(l.Port))
}

// TimeoutsConfig bounds tool server round trips. Both are supplied to
// the host once and apply to every server.
type TimeoutsConfig struct {
	RequestSec int `yaml:"request_sec" toml:"request_sec"`
	StartupSec int `yaml:"startup_sec" toml:"startup_sec"`
}

// Request returns the per-call timeout.
func (t TimeoutsConfig) Request() time.Duration {
	return time.Duration(t.RequestSec) * time.Second
}

// Startup returns the handshake timeout.
func (t TimeoutsConfig) Startup() time.Duration {
	return time.Duration(t.StartupSec) * time.Second
}

// ServerConfig declares one external tool server.
type ServerConfig struct {
	ID      string            `yaml:"id" toml:"id"`
	Command string            `yaml:"cmd" toml:"cmd"`
	Args    []string          `yaml:"args" toml:"args"`
	Env     map[string]string `yaml:"env" toml:"env"`

	// Enabled defaults to true when omitted.
	Enabled *bool `yaml:"enabled" toml:"enabled"`

	Transport string            `yaml:"transport" toml:"transport"` // stdio (default) or http
	URL       string            `yaml:"url" toml:"url"`
	Headers   map[string]string `yaml:"headers" toml:"headers"`
}

// IsEnabled reports whether the server should be started.
func (s ServerConfig) IsEnabled() bool {
	return s.Enabled == nil || *s.Enabled
}

// Spec converts the entry into a launch spec.
func (s ServerConfig) Spec() mcp.ServerSpec {
	return mcp.ServerSpec{
		ID:        s.ID,
		Command:   s.Command,
		Args:      s.Args,
		Env:       s.Env,
		Enabled:   s.IsEnabled(),
		Transport: s.Transport,
		URL:       s.URL,
		Headers:   s.Headers,
	}
}

// FetchConfig tunes the built-in fetch server.
type FetchConfig struct {
	MaxChars   int   `yaml:"max_chars" toml:"max_chars"`
	MaxBytes   int64 `yaml:"max_bytes" toml:"max_bytes"`
	TimeoutSec int   `yaml:"timeout_sec" toml:"timeout_sec"`
}

// Timeout returns the per-fetch timeout, zero meaning the fetch default.
func (f FetchConfig) Timeout() time.Duration {
	return time.Duration(f.TimeoutSec) * time.Second
}

// StoryConfig configures the story toolset.
type StoryConfig struct {
	// DBPath enables snapshot persistence when set.
	DBPath string `yaml:"db_path" toml:"db_path"`
	Name   string `yaml:"name" toml:"name"`
	Title  string `yaml:"title" toml:"title"`
}

// Specs returns launch specs for every configured server, enabled or not.
func (c *Config) Specs() []mcp.ServerSpec {
	specs := make([]mcp.ServerSpec, 0, len(c.MCPServers))
	for _, s := range c.MCPServers {
		specs = append(specs, s.Spec())
	}
	return specs
}

// Load reads configuration from a YAML file, or a TOML file when the
// path ends in .toml. Environment variables are expanded first.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	cfg := Default()
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		if _, err := toml.Decode(expanded, cfg); err != nil {
			return nil, err
		}
	} else {
		if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
			return nil, err
		}
	}
	cfg.applyDefaults()
	cfg.expandPaths()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns a default configuration.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.Listen.Port == 0 {
		c.Listen.Port = 8080
	}
	if c.Timeouts.RequestSec <= 0 {
		c.Timeouts.RequestSec = 10
	}
	if c.Timeouts.StartupSec <= 0 {
		c.Timeouts.StartupSec = 10
	}
	if c.Toolset == "" {
		c.Toolset = "chat"
	}
	if c.LogFormat == "" {
		c.LogFormat = LogFormatText
	}
}

// expandPaths resolves prefixes and ~ in path-valued fields.
func (c *Config) expandPaths() {
	r := paths.New(c.Paths)
	if c.Story.DBPath != "" {
		c.Story.DBPath = r.Expand(c.Story.DBPath)
	}
	for i := range c.MCPServers {
		s := &c.MCPServers[i]
		if s.Command != "" {
			s.Command = r.Expand(s.Command)
		}
		r.ExpandAll(s.Args)
	}
}

// Validate checks the configuration for values that cannot work. All
// problems are reported together.
func (c *Config) Validate() error {
	var errs []error

	if _, err := ParseLogLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}
	if _, err := ParseLogFormat(c.LogFormat); err != nil {
		errs = append(errs, err)
	}
	switch c.Toolset {
	case "", "chat", "story":
	default:
		errs = append(errs, fmt.Errorf("unknown toolset %q (valid: chat, story)", c.Toolset))
	}
	if c.Listen.Port < 0 || c.Listen.Port > 65535 {
		errs = append(errs, fmt.Errorf("listen.port %d out of range", c.Listen.Port))
	}

	seen := make(map[string]bool, len(c.MCPServers))
	for i, s := range c.MCPServers {
		switch {
		case s.ID == "":
			errs = append(errs, fmt.Errorf("mcp_servers[%d]: id is required", i))
		case strings.Contains(s.ID, mcp.NameSeparator):
			errs = append(errs, fmt.Errorf("mcp_servers[%d]: id %q must not contain %q", i, s.ID, mcp.NameSeparator))
		case seen[s.ID]:
			errs = append(errs, fmt.Errorf("mcp_servers[%d]: duplicate id %q", i, s.ID))
		}
		seen[s.ID] = true

		if strings.EqualFold(s.Transport, mcp.TransportHTTP) {
			if s.URL == "" {
				errs = append(errs, fmt.Errorf("mcp_servers[%d] %s: http transport requires url", i, s.ID))
			}
		} else if s.Command == "" {
			errs = append(errs, fmt.Errorf("mcp_servers[%d] %s: cmd is required", i, s.ID))
		}
	}

	return errors.Join(errs...)
}
