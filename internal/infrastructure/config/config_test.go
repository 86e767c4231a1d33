package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, ""))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.App.Listen != ":8080" || cfg.Storage.Driver != "sqlite" || cfg.Cipher.KeySlot != "memory" {
		t.Errorf("unexpected defaults %+v", cfg)
	}
	if cfg.RetryDelay() != time.Second || cfg.WatchTimeout() != 0 {
		t.Errorf("retry=%v watch=%v", cfg.RetryDelay(), cfg.WatchTimeout())
	}
	if cfg.Realtime.Path != "/ws" || cfg.Redis.Prefix != "xhub" {
		t.Errorf("unexpected realtime/redis defaults %+v", cfg)
	}
}

func TestEnvOverridesPostgresDSN(t *testing.T) {
	t.Setenv("XHUB_POSTGRES_DSN", "postgres://env")
	cfg, err := Load(writeConfig(t, `
[storage]
driver = "POSTGRES"
`))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Storage.Driver != "postgres" || cfg.Storage.PostgresDSN != "postgres://env" {
		t.Errorf("unexpected storage %+v", cfg.Storage)
	}
}

func TestValidate(t *testing.T) {
	cases := map[string]string{
		"postgres without dsn": "[storage]\ndriver = \"postgres\"\n",
		"unknown driver":       "[storage]\ndriver = \"mysql\"\n",
		"redis slot disabled":  "[cipher]\nkey_slot = \"redis\"\n",
		"mirror disabled":      "[redis]\nmirror = true\n",
		"redis without addr":   "[redis]\nenabled = true\n",
		"relative ws path":     "[realtime]\npath = \"ws\"\n",
	}
	for name, body := range cases {
		if _, err := Load(writeConfig(t, body)); err == nil {
			t.Errorf("%s: expected error", name)
		}
	}
}

func TestExchangeEndpoints(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
[exchanges.OKX]
rest_url = "http://localhost:1"

[exchanges.bybit]
enabled = false
`))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	eps := cfg.ExchangeEndpoints()
	if eps["okx"].RestURL != "http://localhost:1" {
		t.Errorf("unexpected endpoints %+v", eps)
	}
	if _, ok := eps["bybit"]; ok {
		t.Error("disabled exchange should be skipped")
	}
	if d := cfg.Disabled(); len(d) != 1 || d[0] != "bybit" {
		t.Errorf("disabled = %v", d)
	}
}
