// Package config handles TOML configuration loading and validation.
package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
)

// configSearchPaths lists paths checked in order when no explicit config is given.
var configSearchPaths = []string{
	"/etc/hls-proxy/config.toml",
	"configs/config.toml",
}

// CLI holds command-line arguments parsed by Kong.
type CLI struct {
	Config    string `kong:"short='c',help='Path to TOML config file.',env='CONFIG_PATH'"`
	Host      string `kong:"help='Listen host (overrides config).',env='HOST'"`
	Port      int    `kong:"short='p',help='Listen port (overrides config).',env='PORT'"`
	PublicURL string `kong:"help='Public base URL of the proxy used in rewritten playlists (overrides config).',env='PUBLIC_URL'"`
	LogLevel  string `kong:"help='Log level: debug|info|warn|error (overrides config).',env='LOG_LEVEL'"`
}

// Config is the top-level application configuration.
type Config struct {
	Server    ServerConfig    `toml:"server"`
	Proxy     ProxyConfig     `toml:"proxy"`
	Transport TransportConfig `toml:"transport"`
	Upstream  UpstreamConfig  `toml:"upstream"`
	Log       LogConfig       `toml:"log"`
	Metrics   MetricsConfig   `toml:"metrics"`

	filePath string // resolved config file path (unexported)
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string          `toml:"host"`
	Port         int             `toml:"port"` // 0 means "use default" (8080); TOML cannot distinguish 0 from unset
	BodyMaxBytes int64           `toml:"body_max_bytes"`
	RateLimit    RateLimitConfig `toml:"rate_limit"`
}

// RateLimitConfig controls per-IP request rate limiting.
type RateLimitConfig struct {
	Enabled           bool    `toml:"enabled"`
	RequestsPerSecond float64 `toml:"requests_per_second"`
}

// ProxyConfig holds settings of the proxy endpoint itself.
type ProxyConfig struct {
	// Path is the route of the proxy endpoint.
	Path string `toml:"path"`
	// PublicURL, when set, replaces the inbound scheme and host in rewritten playlists.
	PublicURL string `toml:"public_url"`
	// Version is sent in the X-Proxy-Version header.
	Version          string        `toml:"version"`
	MaxPlaylistBytes int64         `toml:"max_playlist_bytes"`
	DefaultReferer   string        `toml:"default_referer"`
	RefererRules     []RefererRule `toml:"referer_rules"`
}

// RefererRule maps target hosts to the referer they expect.
type RefererRule struct {
	// HostSuffix matches the target host exactly or as a parent domain.
	HostSuffix string `toml:"host_suffix"`
	Referer    string `toml:"referer"`
}

// TransportConfig holds the transport selection policy.
type TransportConfig struct {
	// RawSocketPort always selects the raw-socket client; 0 means 2228.
	RawSocketPort int `toml:"raw_socket_port"`
	// RawSocketHosts are CDN hosts that reject the native client.
	RawSocketHosts     []string `toml:"raw_socket_hosts"`
	DialTimeoutSeconds int      `toml:"dial_timeout_seconds"`
}

// UpstreamConfig holds upstream connection settings.
type UpstreamConfig struct {
	TimeoutSeconds  int `toml:"timeout_seconds"`
	IdleConnections int `toml:"idle_connections"`
	// AllowedHosts restricts targets when non-empty.
	AllowedHosts []string `toml:"allowed_hosts"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// MetricsConfig holds Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool   `toml:"enabled"`
	Path    string `toml:"path"`
}

// Load reads the TOML config file and applies CLI overrides.
// When no explicit path is given (via --config or CONFIG_PATH), it searches
// /etc/hls-proxy/config.toml then configs/config.toml.
func Load(cli *CLI) (*Config, error) {
	path := cli.Config
	if path == "" {
		path = findConfig()
	}
	if path == "" {
		return nil, fmt.Errorf("config: no config file found (searched %v)", configSearchPaths)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	var cfg Config
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	cfg.filePath = path
	cfg.applyCLI(cli)

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config: validate: %w", err)
	}

	cfg.setDefaults()
	return &cfg, nil
}

// applyCLI overrides config values with non-zero CLI flags.
func (c *Config) applyCLI(cli *CLI) {
	if cli.Host != "" {
		c.Server.Host = cli.Host
	}
	if cli.Port != 0 {
		c.Server.Port = cli.Port
	}
	if cli.PublicURL != "" {
		c.Proxy.PublicURL = cli.PublicURL
	}
	if cli.LogLevel != "" {
		c.Log.Level = cli.LogLevel
	}
}

func (c *Config) validate() error {
	// Numeric bounds.
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be 0–65535; got %d", c.Server.Port)
	}
	if c.Server.BodyMaxBytes < 0 {
		return fmt.Errorf("server.body_max_bytes must be non-negative; got %d", c.Server.BodyMaxBytes)
	}
	if c.Server.RateLimit.Enabled && c.Server.RateLimit.RequestsPerSecond <= 0 {
		return fmt.Errorf("server.rate_limit.requests_per_second must be > 0 when rate limiting is enabled; got %v", c.Server.RateLimit.RequestsPerSecond)
	}
	if c.Proxy.MaxPlaylistBytes < 0 {
		return fmt.Errorf("proxy.max_playlist_bytes must be non-negative; got %d", c.Proxy.MaxPlaylistBytes)
	}
	if c.Transport.RawSocketPort < 0 || c.Transport.RawSocketPort > 65535 {
		return fmt.Errorf("transport.raw_socket_port must be 0–65535; got %d", c.Transport.RawSocketPort)
	}
	if c.Transport.DialTimeoutSeconds < 0 {
		return fmt.Errorf("transport.dial_timeout_seconds must be non-negative; got %d", c.Transport.DialTimeoutSeconds)
	}
	if c.Upstream.TimeoutSeconds < 0 {
		return fmt.Errorf("upstream.timeout_seconds must be non-negative; got %d", c.Upstream.TimeoutSeconds)
	}
	if c.Upstream.IdleConnections < 0 {
		return fmt.Errorf("upstream.idle_connections must be non-negative; got %d", c.Upstream.IdleConnections)
	}

	// Proxy endpoint.
	if p := c.Proxy.Path; p != "" && p[0] != '/' {
		return fmt.Errorf("proxy.path must start with '/'; got %q", p)
	}
	if c.Proxy.PublicURL != "" {
		u, err := url.Parse(c.Proxy.PublicURL)
		if err != nil {
			return fmt.Errorf("proxy.public_url is not a valid URL: %w", err)
		}
		if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("proxy.public_url must be an absolute http(s) URL; got %q", c.Proxy.PublicURL)
		}
	}
	for i, r := range c.Proxy.RefererRules {
		if strings.TrimSpace(r.HostSuffix) == "" {
			return fmt.Errorf("proxy.referer_rules[%d].host_suffix is required", i)
		}
	}

	// Log fields.
	level := strings.ToLower(c.Log.Level)
	switch level {
	case "debug", "info", "warn", "error", "":
		// valid
	default:
		return fmt.Errorf("log.level must be one of: debug, info, warn, error; got %q", c.Log.Level)
	}
	format := strings.ToLower(c.Log.Format)
	switch format {
	case "json", "text", "":
		// valid
	default:
		return fmt.Errorf("log.format must be one of: json, text; got %q", c.Log.Format)
	}

	// Metrics path validation (only when metrics are enabled).
	if c.Metrics.Enabled && c.Metrics.Path != "" {
		p := c.Metrics.Path
		if p[0] != '/' {
			return fmt.Errorf("metrics.path must start with '/'; got %q", p)
		}
		proxyPath := c.Proxy.Path
		if proxyPath == "" {
			proxyPath = "/proxy"
		}
		for _, reserved := range []string{proxyPath, "/healthz", "/proxy/status"} {
			if p == reserved || strings.HasPrefix(p, reserved+"/") {
				return fmt.Errorf("metrics.path %q conflicts with reserved route %q", p, reserved)
			}
		}
	}

	return nil
}

// setDefaults fills zero-valued fields with sensible defaults.
// For integer fields (Port, BodyMaxBytes, etc.), zero means "unset" because TOML
// cannot distinguish between an explicit 0 and an omitted key. Setting port=0 in
// the config file therefore results in the default port (8080).
func (c *Config) setDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.BodyMaxBytes == 0 {
		c.Server.BodyMaxBytes = 64 * 1024 // GET only
	}
	if c.Proxy.Path == "" {
		c.Proxy.Path = "/proxy"
	}
	if c.Proxy.Version == "" {
		c.Proxy.Version = "1"
	}
	if c.Proxy.MaxPlaylistBytes == 0 {
		c.Proxy.MaxPlaylistBytes = 8 * 1024 * 1024 // 8 MB
	}
	c.Proxy.PublicURL = strings.TrimSuffix(c.Proxy.PublicURL, "/")
	if c.Transport.RawSocketPort == 0 {
		c.Transport.RawSocketPort = 2228
	}
	if c.Transport.DialTimeoutSeconds == 0 {
		c.Transport.DialTimeoutSeconds = 10
	}
	if c.Upstream.TimeoutSeconds == 0 {
		c.Upstream.TimeoutSeconds = 30
	}
	if c.Upstream.IdleConnections == 0 {
		c.Upstream.IdleConnections = 100
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
}

// findConfig returns the first config path that exists, or empty string.
func findConfig() string {
	return findConfigInPaths(configSearchPaths)
}

// findConfigInPaths returns the first path that exists on disk, or empty string.
func findConfigInPaths(paths []string) string {
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// Addr returns the server listen address as host:port.
func (c *ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// WarnPermissions logs a warning if the config file is writable by group or others.
func (c *Config) WarnPermissions(logger *slog.Logger) {
	if c.filePath == "" {
		return
	}
	info, err := os.Stat(c.filePath)
	if err != nil {
		return
	}
	if perm := info.Mode().Perm(); perm&0o022 != 0 {
		logger.Warn("config file is writable by group/others; consider chmod 644",
			"path", c.filePath,
			"mode", fmt.Sprintf("%04o", perm),
		)
	}
}
