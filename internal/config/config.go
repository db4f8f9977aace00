package config

import (
	"errors"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"listen_engine/internal/platform"
)

type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Storage  StorageConfig  `yaml:"storage"`
	Platform PlatformConfig `yaml:"platform"`
	Proxy    ProxyConfig    `yaml:"proxy"`
	Limits   LimitsConfig   `yaml:"limits"`
	Listener ListenerConfig `yaml:"listener"`
	Captcha  CaptchaConfig  `yaml:"captcha"`
	Email    EmailConfig    `yaml:"email"`
}

type ServerConfig struct {
	Addr string     `yaml:"addr"`
	Cors CorsConfig `yaml:"cors"`
}

type CorsConfig struct {
	AllowOrigins     []string `yaml:"allowOrigins"`
	AllowCredentials bool     `yaml:"allowCredentials"`
}

type StorageConfig struct {
	SQLitePath string `yaml:"sqlitePath"`
}

type PlatformConfig struct {
	Endpoints platform.Endpoints `yaml:"endpoints"`
	TimeoutMs int                `yaml:"timeoutMs"`
}

func (c PlatformConfig) Timeout() time.Duration {
	if c.TimeoutMs <= 0 {
		return 15 * time.Second
	}
	return time.Duration(c.TimeoutMs) * time.Millisecond
}

type ProxyConfig struct {
	// System is an optional engine-wide proxy used for traffic that is not
	// bound to an account, like connectivity checks and schema fetches.
	System string `yaml:"system"`
	// Required refuses to run listeners on accounts without an assigned
	// proxy when true.
	Required bool `yaml:"required"`
}

type LimitsConfig struct {
	GlobalQPS       float64 `yaml:"globalQPS"`
	GlobalBurst     int     `yaml:"globalBurst"`
	PerAccountQPS   float64 `yaml:"perAccountQPS"`
	PerAccountBurst int     `yaml:"perAccountBurst"`
	AuthChunkSize   int     `yaml:"authChunkSize"`
}

type ListenerConfig struct {
	TickMs             int `yaml:"tickMs"`
	TaskChunkSize      int `yaml:"taskChunkSize"`
	AccountChunkSize   int `yaml:"accountChunkSize"`
	UnitDeadlineMs     int `yaml:"unitDeadlineMs"`
	SnapshotStaleMs    int `yaml:"snapshotStaleMs"`
	MinListenSec       int `yaml:"minListenSec"`
	CooldownMinMs      int `yaml:"cooldownMinMs"`
	CooldownMaxMs      int `yaml:"cooldownMaxMs"`
	ErrorCooldownMinMs int `yaml:"errorCooldownMinMs"`
	ErrorCooldownMaxMs int `yaml:"errorCooldownMaxMs"`
	ValidationGapMs    int `yaml:"validationGapMs"`
	ProxyFailureCap    int `yaml:"proxyFailureCap"`
}

func (c ListenerConfig) Tick() time.Duration {
	return msOr(c.TickMs, 15*time.Second)
}

func (c ListenerConfig) UnitDeadline() time.Duration {
	return msOr(c.UnitDeadlineMs, 2*time.Minute)
}

func (c ListenerConfig) SnapshotStale() time.Duration {
	return msOr(c.SnapshotStaleMs, 50*time.Second)
}

func (c ListenerConfig) CooldownMin() time.Duration {
	return msOr(c.CooldownMinMs, 30*time.Second)
}

func (c ListenerConfig) CooldownMax() time.Duration {
	return msOr(c.CooldownMaxMs, 90*time.Second)
}

func (c ListenerConfig) ErrorCooldownMin() time.Duration {
	return msOr(c.ErrorCooldownMinMs, 2*time.Second)
}

func (c ListenerConfig) ErrorCooldownMax() time.Duration {
	return msOr(c.ErrorCooldownMaxMs, 10*time.Second)
}

func (c ListenerConfig) ValidationGap() time.Duration {
	return msOr(c.ValidationGapMs, 2*time.Minute)
}

type CaptchaConfig struct {
	Key            string `yaml:"key"`
	BaseURL        string `yaml:"baseURL"`
	PollIntervalMs int    `yaml:"pollIntervalMs"`
	SolveTimeoutMs int    `yaml:"solveTimeoutMs"`
}

func (c CaptchaConfig) PollInterval() time.Duration {
	return msOr(c.PollIntervalMs, 2*time.Second)
}

func (c CaptchaConfig) SolveTimeout() time.Duration {
	return msOr(c.SolveTimeoutMs, 90*time.Second)
}

type EmailConfig struct {
	Enabled  bool     `yaml:"enabled"`
	Host     string   `yaml:"host"`
	Port     int      `yaml:"port"`
	Username string   `yaml:"username"`
	Password string   `yaml:"password"`
	From     string   `yaml:"from"`
	To       []string `yaml:"to"`
}

func msOr(ms int, fallback time.Duration) time.Duration {
	if ms <= 0 {
		return fallback
	}
	return time.Duration(ms) * time.Millisecond
}

func Load(path string) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return Config{}, err
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Addr == "" {
		c.Server.Addr = ":8090"
	}
	if c.Storage.SQLitePath == "" {
		c.Storage.SQLitePath = "./data/listen_engine.db"
	}
	c.Platform.Endpoints.ApplyDefaults()
	if c.Limits.GlobalQPS <= 0 {
		c.Limits.GlobalQPS = 8
	}
	if c.Limits.GlobalBurst <= 0 {
		c.Limits.GlobalBurst = 10
	}
	if c.Limits.PerAccountQPS <= 0 {
		c.Limits.PerAccountQPS = 1
	}
	if c.Limits.PerAccountBurst <= 0 {
		c.Limits.PerAccountBurst = 2
	}
	if c.Limits.AuthChunkSize <= 0 {
		c.Limits.AuthChunkSize = 4
	}
	if c.Listener.TaskChunkSize <= 0 {
		c.Listener.TaskChunkSize = 4
	}
	if c.Listener.AccountChunkSize <= 0 {
		c.Listener.AccountChunkSize = 30
	}
	if c.Listener.MinListenSec <= 0 {
		c.Listener.MinListenSec = 35
	}
	if c.Listener.ProxyFailureCap <= 0 {
		c.Listener.ProxyFailureCap = 3
	}
}

func (c Config) validate() error {
	if c.Server.Addr == "" {
		return errors.New("server.addr is required")
	}
	if c.Email.Enabled {
		if c.Email.Host == "" || c.Email.From == "" || len(c.Email.To) == 0 {
			return errors.New("email.host, email.from and email.to are required when email is enabled")
		}
	}
	if c.Listener.CooldownMax() < c.Listener.CooldownMin() {
		return errors.New("listener cooldown range is inverted")
	}
	return nil
}
