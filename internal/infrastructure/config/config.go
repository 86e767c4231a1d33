package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"

	"xhub/internal/infrastructure/exchange"
)

type Config struct {
	App struct {
		Listen          string `toml:"listen"`
		Sandbox         bool   `toml:"sandbox"`
		RetryDelayMs    int    `toml:"retry_delay_ms"`
		WatchTimeoutSec int    `toml:"watch_timeout_sec"` // 0 表示不限
		ShutdownSec     int    `toml:"shutdown_timeout_sec"`
	} `toml:"app"`

	Log struct {
		Level string `toml:"level"`
	} `toml:"log"`

	Storage struct {
		Driver      string `toml:"driver"` // sqlite | postgres
		SQLitePath  string `toml:"sqlite_path"`
		PostgresDSN string `toml:"postgres_dsn"`
	} `toml:"storage"`

	Redis struct {
		Enabled    bool   `toml:"enabled"`
		Addr       string `toml:"addr"`
		Password   string `toml:"password"`
		DB         int    `toml:"db"`
		Prefix     string `toml:"prefix"`
		TTLSeconds int    `toml:"ttl_seconds"`
		Mirror     bool   `toml:"mirror"`
	} `toml:"redis"`

	Cipher struct {
		KeySlot string `toml:"key_slot"` // memory | redis
	} `toml:"cipher"`

	Realtime struct {
		Path       string  `toml:"path"`
		SendBuffer int     `toml:"send_buffer"`
		RatePerSec float64 `toml:"rate_per_sec"`
		Burst      int     `toml:"burst"`
		ReadLimit  int64   `toml:"read_limit"`
	} `toml:"realtime"`

	Exchanges map[string]ExchangeConfig `toml:"exchanges"`
}

// ExchangeConfig 单个交易所的地址覆盖，留空使用适配器默认值
type ExchangeConfig struct {
	Enabled        *bool  `toml:"enabled"`
	RestURL        string `toml:"rest_url"`
	WsURL          string `toml:"ws_url"`
	SandboxRestURL string `toml:"sandbox_rest_url"`
	SandboxWsURL   string `toml:"sandbox_ws_url"`
}

// Load 读取 .env（可选）与 toml 配置，环境变量覆盖敏感项
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	var cfg Config
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}
	applyEnv(&cfg)
	applyDefaults(&cfg)
	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("XHUB_POSTGRES_DSN"); v != "" {
		cfg.Storage.PostgresDSN = v
	}
	if v := os.Getenv("XHUB_REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
}

func applyDefaults(cfg *Config) {
	if cfg.App.Listen == "" {
		cfg.App.Listen = ":8080"
	}
	if cfg.App.RetryDelayMs <= 0 {
		cfg.App.RetryDelayMs = 1000
	}
	if cfg.App.ShutdownSec <= 0 {
		cfg.App.ShutdownSec = 10
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Storage.Driver == "" {
		cfg.Storage.Driver = "sqlite"
	}
	if cfg.Storage.SQLitePath == "" {
		cfg.Storage.SQLitePath = "data/xhub.db"
	}
	if cfg.Redis.Prefix == "" {
		cfg.Redis.Prefix = "xhub"
	}
	if cfg.Redis.TTLSeconds <= 0 {
		cfg.Redis.TTLSeconds = 60
	}
	if cfg.Cipher.KeySlot == "" {
		cfg.Cipher.KeySlot = "memory"
	}
	if cfg.Realtime.Path == "" {
		cfg.Realtime.Path = "/ws"
	}
}

func validate(cfg *Config) error {
	cfg.Storage.Driver = strings.ToLower(strings.TrimSpace(cfg.Storage.Driver))
	switch cfg.Storage.Driver {
	case "sqlite":
	case "postgres":
		if strings.TrimSpace(cfg.Storage.PostgresDSN) == "" {
			return errors.New("storage.postgres_dsn empty but driver is postgres")
		}
	default:
		return fmt.Errorf("storage.driver %q not supported", cfg.Storage.Driver)
	}

	cfg.Cipher.KeySlot = strings.ToLower(strings.TrimSpace(cfg.Cipher.KeySlot))
	switch cfg.Cipher.KeySlot {
	case "memory":
	case "redis":
		if !cfg.Redis.Enabled {
			return errors.New("cipher.key_slot is redis but redis disabled")
		}
	default:
		return fmt.Errorf("cipher.key_slot %q not supported", cfg.Cipher.KeySlot)
	}

	if cfg.Redis.Mirror && !cfg.Redis.Enabled {
		return errors.New("redis.mirror enabled but redis disabled")
	}
	if cfg.Redis.Enabled && strings.TrimSpace(cfg.Redis.Addr) == "" {
		return errors.New("redis.addr empty but enabled")
	}
	if !strings.HasPrefix(cfg.Realtime.Path, "/") {
		return fmt.Errorf("realtime.path %q must start with /", cfg.Realtime.Path)
	}
	return nil
}

func (c *Config) RetryDelay() time.Duration {
	return time.Duration(c.App.RetryDelayMs) * time.Millisecond
}

func (c *Config) WatchTimeout() time.Duration {
	return time.Duration(c.App.WatchTimeoutSec) * time.Second
}

func (c *Config) ShutdownTimeout() time.Duration {
	return time.Duration(c.App.ShutdownSec) * time.Second
}

// ExchangeEndpoints 启用的交易所地址覆盖，键为小写交易所名
func (c *Config) ExchangeEndpoints() map[string]exchange.Endpoints {
	out := make(map[string]exchange.Endpoints, len(c.Exchanges))
	for name, ex := range c.Exchanges {
		if ex.Enabled != nil && !*ex.Enabled {
			continue
		}
		out[strings.ToLower(name)] = exchange.Endpoints{
			RestURL:        ex.RestURL,
			WsURL:          ex.WsURL,
			SandboxRestURL: ex.SandboxRestURL,
			SandboxWsURL:   ex.SandboxWsURL,
		}
	}
	return out
}

// Disabled 显式关闭的交易所
func (c *Config) Disabled() []string {
	var out []string
	for name, ex := range c.Exchanges {
		if ex.Enabled != nil && !*ex.Enabled {
			out = append(out, strings.ToLower(name))
		}
	}
	return out
}
