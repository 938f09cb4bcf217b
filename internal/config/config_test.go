package config

import (
	"strings"
	"testing"

	"github.com/spf13/viper"
)

const testPayTo = "0x1111111111111111111111111111111111111111"

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("PAY_TO_ADDRESS", testPayTo)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("port: got %d want 8080", cfg.Server.Port)
	}
	if cfg.Gate.Network != "eip155:10143" {
		t.Errorf("network: got %q", cfg.Gate.Network)
	}
	if cfg.Gate.Price != "$0.01" {
		t.Errorf("price: got %q", cfg.Gate.Price)
	}
	if cfg.Nullifier.Backend != BackendMemory {
		t.Errorf("backend: got %q want memory", cfg.Nullifier.Backend)
	}
	if !cfg.Facilitator.Precheck {
		t.Error("precheck should default to true")
	}
	if len(cfg.Assets) != 1 || cfg.Assets[0].Decimals != 6 {
		t.Errorf("default assets: got %+v", cfg.Assets)
	}
	if cfg.NeedsRedis() {
		t.Error("memory backend without journal must not need redis")
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("PAY_TO_ADDRESS", testPayTo)
	t.Setenv("PORT", "9090")
	t.Setenv("PRICE", "$0.25")
	t.Setenv("NULLIFIER_BACKEND", "redis")
	t.Setenv("REDIS_ADDR", "localhost:6379")
	t.Setenv("FACILITATOR_PRECHECK", "false")
	t.Setenv("NULLIFIER_TTL_SEC", "86400")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 9090 {
		t.Errorf("port: got %d want 9090", cfg.Server.Port)
	}
	if cfg.Gate.Price != "$0.25" {
		t.Errorf("price: got %q", cfg.Gate.Price)
	}
	if cfg.Facilitator.Precheck {
		t.Error("precheck: want false")
	}
	if cfg.Nullifier.TTLSec != 86400 {
		t.Errorf("ttl: got %d", cfg.Nullifier.TTLSec)
	}
	if !cfg.NeedsRedis() {
		t.Error("redis backend must need redis")
	}
}

func TestLoad_MissingPayTo(t *testing.T) {
	t.Setenv("PAY_TO_ADDRESS", "")

	_, err := Load()
	if err == nil || !strings.Contains(err.Error(), "PAY_TO_ADDRESS") {
		t.Fatalf("expected PAY_TO_ADDRESS error, got %v", err)
	}
}

func TestLoad_InvalidPayTo(t *testing.T) {
	t.Setenv("PAY_TO_ADDRESS", "not-an-address")

	if _, err := Load(); err == nil {
		t.Fatal("expected error for non-hex pay_to")
	}
}

func TestLoad_UnknownBackend(t *testing.T) {
	t.Setenv("PAY_TO_ADDRESS", testPayTo)
	t.Setenv("NULLIFIER_BACKEND", "etcd")

	_, err := Load()
	if err == nil || !strings.Contains(err.Error(), "etcd") {
		t.Fatalf("expected unknown backend error, got %v", err)
	}
}

func TestLoad_PostgresRequiresDSN(t *testing.T) {
	t.Setenv("PAY_TO_ADDRESS", testPayTo)
	t.Setenv("NULLIFIER_BACKEND", "postgres")
	t.Setenv("POSTGRES_DSN", "")

	_, err := Load()
	if err == nil || !strings.Contains(err.Error(), "POSTGRES_DSN") {
		t.Fatalf("expected POSTGRES_DSN error, got %v", err)
	}
}

func TestLoad_NetworkWithoutAsset(t *testing.T) {
	t.Setenv("PAY_TO_ADDRESS", testPayTo)
	t.Setenv("NETWORK", "eip155:8453")

	_, err := Load()
	if err == nil || !strings.Contains(err.Error(), "eip155:8453") {
		t.Fatalf("expected missing asset error, got %v", err)
	}
}

func TestLoad_AssetsFromConfig(t *testing.T) {
	t.Setenv("PAY_TO_ADDRESS", testPayTo)

	v := viper.New()
	v.SetDefault("gate.network", "eip155:8453")
	v.SetDefault("gate.price", "$1")
	v.SetDefault("facilitator.url", "http://facilitator")
	v.SetDefault("facilitator.timeout_sec", 5)
	v.SetDefault("nullifier.backend", BackendMemory)
	v.Set("assets", []map[string]any{{
		"network":  "eip155:8453",
		"address":  "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913",
		"name":     "USD Coin",
		"version":  "2",
		"decimals": 6,
	}})

	cfg, err := load(v)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(cfg.Assets) != 1 || cfg.Assets[0].Name != "USD Coin" {
		t.Fatalf("assets: got %+v", cfg.Assets)
	}
}
