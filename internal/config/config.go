package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/loykin/mcpanel/internal/alert"
	"github.com/loykin/mcpanel/internal/logger"
	"github.com/loykin/mcpanel/internal/manager"
	"github.com/loykin/mcpanel/internal/scheduler"
	"github.com/loykin/mcpanel/internal/store"
)

// EnvPrefix prefixes environment overrides: MCPANEL_SERVER_LISTEN
// overrides server.listen.
const EnvPrefix = "MCPANEL"

// Config represents the top-level TOML structure.
type Config struct {
	Env      []string `mapstructure:"env"`
	EnvFiles []string `mapstructure:"env_files"`
	UseOSEnv bool     `mapstructure:"use_os_env"`

	Server     ServerConfig        `mapstructure:"server"`
	Store      StoreConfig         `mapstructure:"store"`
	Log        logger.Config       `mapstructure:"log"`
	Metrics    MetricsConfig       `mapstructure:"metrics"`
	Supervisor SupervisorConfig    `mapstructure:"supervisor"`
	Alerts     alert.DiscordConfig `mapstructure:"alerts"`
	History    HistoryConfig       `mapstructure:"history"`

	Servers   []manager.LaunchConfig `mapstructure:"servers"`
	Schedules []store.Schedule       `mapstructure:"schedules"`
}

type ServerConfig struct {
	Listen        string     `mapstructure:"listen"`
	BasePath      string     `mapstructure:"base_path"`
	Token         string     `mapstructure:"token"`
	TLSMinVersion string     `mapstructure:"tls_min_version"`
	TLSMaxVersion string     `mapstructure:"tls_max_version"`
	TLS           *TLSConfig `mapstructure:"tls"`
}

type TLSConfig struct {
	Enabled      bool        `mapstructure:"enabled"`
	CertFile     string      `mapstructure:"cert_file"`
	KeyFile      string      `mapstructure:"key_file"`
	Dir          string      `mapstructure:"dir"`
	AutoGenerate bool        `mapstructure:"auto_generate"`
	AutoGen      *AutoGenTLS `mapstructure:"auto_gen"`
}

// AutoGenTLS describes the self-signed certificate created when none exists.
type AutoGenTLS struct {
	CommonName   string   `mapstructure:"common_name"`
	Organization string   `mapstructure:"organization"`
	DNSNames     []string `mapstructure:"dns_names"`
	IPAddresses  []string `mapstructure:"ip_addresses"`
	ValidDays    int      `mapstructure:"valid_days"`
}

// StoreConfig selects the database: a sqlite path, sqlite:// or postgres:// DSN.
type StoreConfig struct {
	DSN string `mapstructure:"dsn"`
}

type MetricsConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	SampleInterval time.Duration `mapstructure:"sample_interval"`
}

type SupervisorConfig struct {
	StopTimeout    time.Duration `mapstructure:"stop_timeout"`
	RestartDelay   time.Duration `mapstructure:"restart_delay"`
	RestartSettle  time.Duration `mapstructure:"restart_settle"`
	StartupGrace   time.Duration `mapstructure:"startup_grace"`
	StartTimeout   time.Duration `mapstructure:"start_timeout"`
	KillGrace      time.Duration `mapstructure:"kill_grace"`
	AutoStartDelay time.Duration `mapstructure:"auto_start_delay"`
	ReadyMarkers   []string      `mapstructure:"ready_markers"`
}

// HistoryConfig lists extra event sinks by DSN (clickhouse://, opensearch://,
// postgres://, sqlite://). InStore also records events in the main store.
type HistoryConfig struct {
	InStore bool     `mapstructure:"in_store"`
	Sinks   []string `mapstructure:"sinks"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("use_os_env", true)
	v.SetDefault("server.listen", "127.0.0.1:8080")
	v.SetDefault("server.base_path", "/api")
	v.SetDefault("server.token", "")
	v.SetDefault("store.dsn", "mcpanel.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("log.color", false)
	v.SetDefault("log.timestamps", true)
	v.SetDefault("log.file", "")
	v.SetDefault("log.console_dir", "")
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.sample_interval", "5s")
	v.SetDefault("supervisor.stop_timeout", manager.DefaultStopTimeout.String())
	v.SetDefault("supervisor.restart_delay", manager.DefaultRestartDelay.String())
	v.SetDefault("supervisor.restart_settle", manager.DefaultRestartSettle.String())
	v.SetDefault("supervisor.startup_grace", manager.DefaultStartupGrace.String())
	v.SetDefault("supervisor.start_timeout", "0s")
	v.SetDefault("supervisor.kill_grace", manager.DefaultKillGrace.String())
	v.SetDefault("supervisor.auto_start_delay", "2s")
	v.SetDefault("alerts.discord_webhook", "")
	v.SetDefault("alerts.on_crash", true)
	v.SetDefault("alerts.on_restart", true)
	v.SetDefault("history.in_store", true)
}

// Load reads the TOML file at path (optional) and applies defaults and
// MCPANEL_* environment overrides.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("toml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}
	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Validate checks cross-field constraints that defaults cannot fix.
func (c *Config) Validate() error {
	seen := make(map[int64]bool, len(c.Servers))
	for i, s := range c.Servers {
		if s.ID <= 0 {
			return fmt.Errorf("servers[%d]: id must be positive", i)
		}
		if seen[s.ID] {
			return fmt.Errorf("servers[%d]: duplicate id %d", i, s.ID)
		}
		seen[s.ID] = true
		if err := s.Validate(); err != nil {
			return fmt.Errorf("servers[%d]: %w", i, err)
		}
	}
	for i, s := range c.Schedules {
		// the id keeps a config schedule from being inserted again on every start
		if s.ID <= 0 {
			return fmt.Errorf("schedules[%d]: id is required", i)
		}
		if err := scheduler.Validate(s); err != nil {
			return fmt.Errorf("schedules[%d]: %w", i, err)
		}
	}
	if c.Server.TLS != nil && c.Server.TLS.Enabled {
		t := c.Server.TLS
		if (t.CertFile == "") != (t.KeyFile == "") {
			return errors.New("server.tls: cert_file and key_file must be set together")
		}
		if t.CertFile == "" && t.Dir == "" {
			return errors.New("server.tls: set cert_file/key_file or dir")
		}
	}
	return nil
}

// ChildEnv builds the environment handed to server processes.
// Precedence: OS env (when enabled) provides base; then env_files in order;
// then the top-level env list overrides last.
func (c *Config) ChildEnv() ([]string, error) {
	m := make(map[string]string)
	if c.UseOSEnv {
		for _, kv := range os.Environ() {
			if i := strings.IndexByte(kv, '='); i >= 0 {
				m[kv[:i]] = kv[i+1:]
			}
		}
	}
	for _, p := range c.EnvFiles {
		pairs, err := loadEnvFile(p)
		if err != nil {
			return nil, err
		}
		for k, v := range pairs {
			m[k] = v
		}
	}
	for _, kv := range c.Env {
		if i := strings.IndexByte(kv, '='); i >= 0 {
			m[kv[:i]] = kv[i+1:]
		}
	}
	out := make([]string, 0, len(m))
	for k, v := range m {
		out = append(out, k+"="+v)
	}
	return out, nil
}

// loadEnvFile parses a simple .env file with KEY=VALUE lines (no export, no quotes). Lines starting with # are ignored.
func loadEnvFile(path string) (map[string]string, error) {
	clean := filepath.Clean(path)
	b, err := os.ReadFile(clean)
	if err != nil {
		return nil, err
	}
	m := make(map[string]string)
	for _, line := range strings.Split(string(b), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if i := strings.IndexByte(line, '='); i >= 0 {
			m[strings.TrimSpace(line[:i])] = strings.TrimSpace(line[i+1:])
		}
	}
	return m, nil
}
