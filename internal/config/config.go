// Package config holds the YAML-driven configuration of spec.md §10.2: pool
// sizing, network observer limits, DualModeRouter policy defaults, cookie
// pruning, and profile storage, following the same load/apply-defaults idiom
// the teacher uses for its own config.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"reach/internal/dualmode"
	"reach/pkg/logger"
)

// PoolConfig sizes and paces the BrowserPool, lifted directly from the
// teacher's PoolConfig/DefaultPoolConfig field set.
type PoolConfig struct {
	MaxInstances        int           `yaml:"max_instances"`
	MinInstances        int           `yaml:"min_instances"`
	AcquireTimeout      time.Duration `yaml:"acquire_timeout"`
	InstanceMaxAge      time.Duration `yaml:"instance_max_age"`
	InstanceMaxSessions int           `yaml:"instance_max_sessions"`
}

// LaunchConfig is how BrowserHandle.Launch starts the browser process.
type LaunchConfig struct {
	ExecPath      string        `yaml:"exec_path"`
	Headless      bool          `yaml:"headless"`
	UserDataDir   string        `yaml:"user_data_dir"`
	ExtraFlags    []string      `yaml:"extra_flags"`
	ProxyURL      string        `yaml:"proxy_url"`
	LaunchTimeout time.Duration `yaml:"launch_timeout"`
}

// NetworkConfig bounds the NetworkObserver's in-memory ring and response-body
// fetching.
type NetworkConfig struct {
	MaxEntries      int      `yaml:"max_entries"`
	FetchBodies     bool     `yaml:"fetch_bodies"`
	MaxBodyBytes    int64    `yaml:"max_body_bytes"`
	DefaultBlacklist []string `yaml:"default_blacklist"`
}

// URLRuleConfig is one DualModeRouter.Config.URLRules entry in YAML form.
type URLRuleConfig struct {
	Pattern string `yaml:"pattern"`
	Mode    string `yaml:"mode"`
}

// DualModeConfig is the on-disk shape of dualmode.Config.
type DualModeConfig struct {
	Global             string          `yaml:"global"`
	ForcedBrowserKinds []string        `yaml:"forced_browser_kinds"`
	URLRules           []URLRuleConfig `yaml:"url_rules"`
	PreferSession      bool            `yaml:"prefer_session"`
}

// ToDomain converts the YAML-friendly shape into the dualmode package's
// Config, resolving the Mode/GlobalSetting string enums.
func (d DualModeConfig) ToDomain() dualmode.Config {
	forced := make(map[string]bool, len(d.ForcedBrowserKinds))
	for _, k := range d.ForcedBrowserKinds {
		forced[k] = true
	}
	rules := make([]dualmode.URLRule, 0, len(d.URLRules))
	for _, r := range d.URLRules {
		mode := dualmode.ModeBrowser
		if r.Mode == string(dualmode.ModeSession) {
			mode = dualmode.ModeSession
		}
		rules = append(rules, dualmode.URLRule{Pattern: r.Pattern, Mode: mode})
	}
	global := dualmode.SettingAuto
	switch d.Global {
	case string(dualmode.SettingBrowser):
		global = dualmode.SettingBrowser
	case string(dualmode.SettingSession):
		global = dualmode.SettingSession
	}
	return dualmode.Config{
		Global:             global,
		ForcedBrowserKinds: forced,
		URLRules:           rules,
		PreferSession:      d.PreferSession,
	}
}

// ProfileConfig roots the persisted profile-directory tree of spec.md §6.
type ProfileConfig struct {
	Root               string        `yaml:"root"`
	CookieTTL          time.Duration `yaml:"cookie_ttl"`
	PruneInterval      time.Duration `yaml:"prune_interval"`
}

// LoggingConfig drives pkg/logger's Config.
type LoggingConfig struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
	FilePath    string `yaml:"file_path"`
	MaxSizeMB   int    `yaml:"max_size_mb"`
	MaxBackups  int    `yaml:"max_backups"`
	MaxAgeDays  int    `yaml:"max_age_days"`
	Compress    bool   `yaml:"compress"`
	Async       bool   `yaml:"async"`
}

// ToLoggerConfig converts to the pkg/logger config shape, defaulting to a
// console encoder unless FilePath routes output to rotated JSON.
func (l LoggingConfig) ToLoggerConfig() logger.Config {
	format := "console"
	output := "stdout"
	if l.FilePath != "" {
		format = "json"
		output = l.FilePath
	}
	return logger.Config{
		Level:           l.Level,
		Format:          format,
		Output:          output,
		MaxSize:         l.MaxSizeMB,
		MaxBackups:      l.MaxBackups,
		MaxAge:          l.MaxAgeDays,
		Compress:        l.Compress,
		Async:           l.Async,
		AsyncBufferSize: 1024,
		Development:     l.Development,
	}
}

// Config is the runtime's top-level configuration.
type Config struct {
	Pool     PoolConfig     `yaml:"pool"`
	Launch   LaunchConfig   `yaml:"launch"`
	Network  NetworkConfig  `yaml:"network"`
	DualMode DualModeConfig `yaml:"dual_mode"`
	Profile  ProfileConfig  `yaml:"profile"`
	Logging  LoggingConfig  `yaml:"logging"`

	MetricsAddr string `yaml:"metrics_addr"`
}

// LoadFromFile reads and parses a YAML config file, applying defaults to any
// field left unset.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	cfg.ApplyDefaults()
	return &cfg, nil
}

// LoadFromEnv overrides select fields from environment variables, letting a
// deployment tweak pool size and headless mode without editing the file.
func (c *Config) LoadFromEnv() {
	if v := os.Getenv("REACH_POOL_MAX_INSTANCES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Pool.MaxInstances = n
		}
	}
	if v := os.Getenv("REACH_POOL_MIN_INSTANCES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Pool.MinInstances = n
		}
	}
	if v := os.Getenv("REACH_HEADLESS"); v != "" {
		c.Launch.Headless = v != "false" && v != "0"
	}
	if v := os.Getenv("REACH_EXEC_PATH"); v != "" {
		c.Launch.ExecPath = v
	}
	if v := os.Getenv("REACH_PROFILE_ROOT"); v != "" {
		c.Profile.Root = v
	}
	if v := os.Getenv("REACH_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
}

// ApplyDefaults fills every zero-valued field with a sane runtime default.
func (c *Config) ApplyDefaults() {
	if c.Pool.MaxInstances <= 0 {
		c.Pool.MaxInstances = 5
	}
	if c.Pool.MinInstances < 0 {
		c.Pool.MinInstances = 0
	}
	if c.Pool.MinInstances > c.Pool.MaxInstances {
		c.Pool.MinInstances = c.Pool.MaxInstances
	}
	if c.Pool.AcquireTimeout <= 0 {
		c.Pool.AcquireTimeout = 30 * time.Second
	}
	if c.Pool.InstanceMaxAge <= 0 {
		c.Pool.InstanceMaxAge = 2 * time.Hour
	}
	if c.Pool.InstanceMaxSessions <= 0 {
		c.Pool.InstanceMaxSessions = 200
	}

	if c.Launch.LaunchTimeout <= 0 {
		c.Launch.LaunchTimeout = 20 * time.Second
	}

	if c.Network.MaxEntries <= 0 {
		c.Network.MaxEntries = 1000
	}
	if c.Network.MaxBodyBytes <= 0 {
		c.Network.MaxBodyBytes = 5 << 20
	}
	if len(c.Network.DefaultBlacklist) == 0 {
		c.Network.DefaultBlacklist = []string{"*.png", "*.jpg", "*.jpeg", "*.gif", "*.woff", "*.woff2", "*.css"}
	}

	if c.DualMode.Global == "" {
		c.DualMode.Global = string(dualmode.SettingAuto)
	}

	if c.Profile.Root == "" {
		c.Profile.Root = "./profiles"
	}
	if c.Profile.CookieTTL <= 0 {
		c.Profile.CookieTTL = 30 * 24 * time.Hour
	}
	if c.Profile.PruneInterval <= 0 {
		c.Profile.PruneInterval = time.Hour
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.MaxSizeMB <= 0 {
		c.Logging.MaxSizeMB = 100
	}
	if c.Logging.MaxBackups <= 0 {
		c.Logging.MaxBackups = 3
	}
	if c.Logging.MaxAgeDays <= 0 {
		c.Logging.MaxAgeDays = 28
	}

	if c.MetricsAddr == "" {
		c.MetricsAddr = ":9090"
	}
}
