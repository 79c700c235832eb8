// Package config loads the gateway's TOML configuration through viper.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes environment overrides, e.g. BIDDERGW_SERVER_LISTEN.
const EnvPrefix = "BIDDERGW"

// Config represents the top-level TOML structure.
type Config struct {
	Server    ServerConfig    `toml:"server" mapstructure:"server"`
	Paths     PathsConfig     `toml:"paths" mapstructure:"paths"`
	Store     StoreConfig     `toml:"store" mapstructure:"store"`
	Discovery DiscoveryConfig `toml:"discovery" mapstructure:"discovery"`
	Log       LogConfig       `toml:"log" mapstructure:"log"`
	Metrics   MetricsConfig   `toml:"metrics" mapstructure:"metrics"`
	History   []HistoryConfig `toml:"history" mapstructure:"history"`
}

type ServerConfig struct {
	Listen       string    `toml:"listen" mapstructure:"listen"`
	BasePath     string    `toml:"base_path" mapstructure:"base_path"`
	ConfigServer string    `toml:"config_server" mapstructure:"config_server"` // agent configuration service
	TLS          TLSConfig `toml:"tls" mapstructure:"tls"`
}

// TLSConfig enables HTTPS on the main listener. CertFile and KeyFile take
// precedence over Dir, which holds tls.crt and tls.key.
type TLSConfig struct {
	Enabled      bool   `toml:"enabled" mapstructure:"enabled"`
	CertFile     string `toml:"cert_file" mapstructure:"cert_file"`
	KeyFile      string `toml:"key_file" mapstructure:"key_file"`
	Dir          string `toml:"dir" mapstructure:"dir"`
	AutoGenerate bool   `toml:"auto_generate" mapstructure:"auto_generate"` // self-signed pair in Dir when missing
	MinVersion   string `toml:"min_version" mapstructure:"min_version"`     // "1.2" (default) or "1.3"
}

type PathsConfig struct {
	Base      string `toml:"base" mapstructure:"base"`
	ExecDir   string `toml:"exec_dir" mapstructure:"exec_dir"`     // default <base>/build/x86_64/bin
	LogDir    string `toml:"log_dir" mapstructure:"log_dir"`       // default <base>/logs
	ConfigDir string `toml:"config_dir" mapstructure:"config_dir"` // per-bidder <name>.conf.json, default <exec_dir>/.config
}

type StoreConfig struct {
	DSN string `toml:"dsn" mapstructure:"dsn"`
}

type DiscoveryConfig struct {
	Timeout  time.Duration `toml:"timeout" mapstructure:"timeout"`
	Interval time.Duration `toml:"interval" mapstructure:"interval"`
}

type LogConfig struct {
	File       string `toml:"file" mapstructure:"file"`
	Level      string `toml:"level" mapstructure:"level"`
	Format     string `toml:"format" mapstructure:"format"`
	Color      bool   `toml:"color" mapstructure:"color"`
	MaxSizeMB  int    `toml:"max_size_mb" mapstructure:"max_size_mb"`
	MaxBackups int    `toml:"max_backups" mapstructure:"max_backups"`
	MaxAgeDays int    `toml:"max_age_days" mapstructure:"max_age_days"`
	Compress   bool   `toml:"compress" mapstructure:"compress"`
}

type MetricsConfig struct {
	Enabled bool   `toml:"enabled" mapstructure:"enabled"`
	Listen  string `toml:"listen" mapstructure:"listen"` // empty serves /metrics on the main listener
}

type HistoryConfig struct {
	DSN string `toml:"dsn" mapstructure:"dsn"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.listen", "0.0.0.0:8080")
	v.SetDefault("server.base_path", "")
	v.SetDefault("server.config_server", "http://127.0.0.1:9986")
	v.SetDefault("server.tls.enabled", false)
	v.SetDefault("server.tls.cert_file", "")
	v.SetDefault("server.tls.key_file", "")
	v.SetDefault("server.tls.dir", "")
	v.SetDefault("server.tls.auto_generate", false)
	v.SetDefault("server.tls.min_version", "1.2")
	v.SetDefault("paths.base", ".")
	v.SetDefault("paths.exec_dir", "")
	v.SetDefault("paths.log_dir", "")
	v.SetDefault("paths.config_dir", "")
	v.SetDefault("store.dsn", "file://.bidders")
	v.SetDefault("discovery.timeout", "1s")
	v.SetDefault("discovery.interval", "50ms")
	v.SetDefault("log.file", "")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("log.color", false)
	v.SetDefault("log.max_size_mb", 10)
	v.SetDefault("log.max_backups", 3)
	v.SetDefault("log.max_age_days", 7)
	v.SetDefault("log.compress", false)
	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.listen", "")
}

// Load reads path (TOML) on top of the defaults and applies BIDDERGW_*
// environment overrides. An empty path loads defaults and environment only.
// Relative paths in the file resolve against the file's directory.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	root := "."
	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("toml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		root = filepath.Dir(path)
	}
	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := c.resolve(root); err != nil {
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// resolve fills derived paths and makes every path absolute.
func (c *Config) resolve(root string) error {
	abs := func(p string) (string, error) {
		if p == "" || filepath.IsAbs(p) {
			return p, nil
		}
		return filepath.Abs(filepath.Join(root, p))
	}
	var err error
	if c.Paths.Base, err = abs(c.Paths.Base); err != nil {
		return err
	}
	if c.Paths.ExecDir == "" {
		c.Paths.ExecDir = filepath.Join(c.Paths.Base, "build", "x86_64", "bin")
	}
	if c.Paths.LogDir == "" {
		c.Paths.LogDir = filepath.Join(c.Paths.Base, "logs")
	}
	for _, p := range []*string{&c.Paths.ExecDir, &c.Paths.LogDir, &c.Paths.ConfigDir, &c.Log.File,
		&c.Server.TLS.CertFile, &c.Server.TLS.KeyFile, &c.Server.TLS.Dir} {
		if *p, err = abs(*p); err != nil {
			return err
		}
	}
	if c.Paths.ConfigDir == "" {
		c.Paths.ConfigDir = filepath.Join(c.Paths.ExecDir, ".config")
	}
	if c.Store.DSN, err = localDSN(c.Store.DSN, abs); err != nil {
		return err
	}
	for i := range c.History {
		if c.History[i].DSN, err = localDSN(c.History[i].DSN, abs); err != nil {
			return err
		}
	}
	return nil
}

// localDSN makes the path of a file://, sqlite:// or bare-path DSN absolute.
// Network DSNs, ":memory:" and SQLite "file:" URIs pass through unchanged.
func localDSN(dsn string, abs func(string) (string, error)) (string, error) {
	d := strings.TrimSpace(dsn)
	lower := strings.ToLower(d)
	var scheme string
	switch {
	case strings.HasPrefix(lower, "file://"), strings.HasPrefix(lower, "sqlite://"):
		i := strings.Index(d, "://") + len("://")
		scheme, d = d[:i], d[i:]
	case d == "", strings.Contains(d, "://"), strings.HasPrefix(lower, "file:"):
		return dsn, nil
	}
	path, query, hasQuery := strings.Cut(d, "?")
	if path == "" || path == ":memory:" {
		return dsn, nil
	}
	path, err := abs(path)
	if err != nil {
		return "", err
	}
	if hasQuery {
		path += "?" + query
	}
	return scheme + path, nil
}

// Validate checks the settings the gateway cannot start without.
func (c *Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Server.Listen) == "" {
		errs = append(errs, errors.New("server.listen is required"))
	}
	if c.Server.ConfigServer == "" {
		errs = append(errs, errors.New("server.config_server is required"))
	} else if u, err := url.Parse(c.Server.ConfigServer); err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, fmt.Errorf("server.config_server %q is not an absolute URL", c.Server.ConfigServer))
	}
	if c.Server.BasePath != "" && !strings.HasPrefix(c.Server.BasePath, "/") {
		errs = append(errs, fmt.Errorf("server.base_path %q must start with /", c.Server.BasePath))
	}
	if t := c.Server.TLS; t.Enabled && (t.CertFile == "" || t.KeyFile == "") && t.Dir == "" {
		errs = append(errs, errors.New("server.tls needs cert_file and key_file, or dir"))
	}
	if strings.TrimSpace(c.Store.DSN) == "" {
		errs = append(errs, errors.New("store.dsn is required"))
	}
	if c.Discovery.Timeout <= 0 {
		errs = append(errs, errors.New("discovery.timeout must be positive"))
	}
	if c.Discovery.Interval <= 0 || c.Discovery.Interval > c.Discovery.Timeout {
		errs = append(errs, errors.New("discovery.interval must be positive and not exceed discovery.timeout"))
	}
	for i, h := range c.History {
		if strings.TrimSpace(h.DSN) == "" {
			errs = append(errs, fmt.Errorf("history[%d].dsn is required", i))
		}
	}
	return errors.Join(errs...)
}
