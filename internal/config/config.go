package config

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/viper"
)

// Backends accepted by nullifier.backend.
const (
	BackendMemory   = "memory"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
)

type Config struct {
	Server      ServerConfig
	Log         LogConfig
	Gate        GateConfig
	Facilitator FacilitatorConfig
	Nullifier   NullifierConfig
	Redis       RedisConfig
	Postgres    PostgresConfig
	Upstream    UpstreamConfig
	Journal     JournalConfig
	Assets      []AssetConfig
}

type ServerConfig struct {
	Port int `mapstructure:"port"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

// GateConfig describes the single protected resource.
type GateConfig struct {
	PayTo         string `mapstructure:"pay_to"`
	Network       string `mapstructure:"network"`
	Price         string `mapstructure:"price"`
	ResourceURL   string `mapstructure:"resource_url"`
	Description   string `mapstructure:"description"`
	MaxTimeoutSec int    `mapstructure:"max_timeout_sec"`
}

type FacilitatorConfig struct {
	URL        string `mapstructure:"url"`
	TimeoutSec int    `mapstructure:"timeout_sec"`
	Precheck   bool   `mapstructure:"precheck"`
}

type NullifierConfig struct {
	Backend string `mapstructure:"backend"`
	TTLSec  int64  `mapstructure:"ttl_sec"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
}

type PostgresConfig struct {
	DSN string `mapstructure:"dsn"`
}

// UpstreamConfig points at the completion service that produces the paid
// answer. An empty URL serves static content.
type UpstreamConfig struct {
	URL    string `mapstructure:"url"`
	APIKey string `mapstructure:"api_key"`
	Model  string `mapstructure:"model"`
}

type JournalConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// AssetConfig maps one network to its settlement asset.
type AssetConfig struct {
	Network  string `mapstructure:"network"`
	Address  string `mapstructure:"address"`
	Name     string `mapstructure:"name"`
	Version  string `mapstructure:"version"`
	Decimals int32  `mapstructure:"decimals"`
}

// Monad testnet USDC, used when no assets are configured.
var defaultAssets = []AssetConfig{{
	Network:  "eip155:10143",
	Address:  "0x534b2f3A21130d7a60830c2Df862319e593943A3",
	Name:     "USDC",
	Version:  "2",
	Decimals: 6,
}}

func Load() (*Config, error) {
	v := viper.New()

	// Defaults
	v.SetDefault("server.port", 8080)
	v.SetDefault("log.level", "info")
	v.SetDefault("gate.network", "eip155:10143")
	v.SetDefault("gate.price", "$0.01")
	v.SetDefault("gate.resource_url", "http://localhost:8080/api/premium")
	v.SetDefault("gate.max_timeout_sec", 60)
	v.SetDefault("facilitator.url", "https://x402-facilitator.molandak.org")
	v.SetDefault("facilitator.timeout_sec", 15)
	v.SetDefault("facilitator.precheck", true)
	v.SetDefault("nullifier.backend", BackendMemory)
	v.SetDefault("nullifier.ttl_sec", 0)
	v.SetDefault("redis.addr", "redis:6379")
	v.SetDefault("upstream.model", "gpt-4o-mini")

	// Config file (optional)
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("/app")
	_ = v.ReadInConfig()

	return load(v)
}

func load(v *viper.Viper) (*Config, error) {
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Explicit env bindings
	bindings := map[string]string{
		"server.port":             "PORT",
		"log.level":               "LOG_LEVEL",
		"gate.pay_to":             "PAY_TO_ADDRESS",
		"gate.network":            "NETWORK",
		"gate.price":              "PRICE",
		"gate.resource_url":       "RESOURCE_URL",
		"gate.description":        "RESOURCE_DESCRIPTION",
		"gate.max_timeout_sec":    "MAX_TIMEOUT_SEC",
		"facilitator.url":         "FACILITATOR_URL",
		"facilitator.timeout_sec": "FACILITATOR_TIMEOUT_SEC",
		"facilitator.precheck":    "FACILITATOR_PRECHECK",
		"nullifier.backend":       "NULLIFIER_BACKEND",
		"nullifier.ttl_sec":       "NULLIFIER_TTL_SEC",
		"redis.addr":              "REDIS_ADDR",
		"redis.password":          "REDIS_PASSWORD",
		"postgres.dsn":            "POSTGRES_DSN",
		"upstream.url":            "UPSTREAM_URL",
		"upstream.api_key":        "UPSTREAM_API_KEY",
		"upstream.model":          "UPSTREAM_MODEL",
		"journal.enabled":         "JOURNAL_ENABLED",
	}
	for key, env := range bindings {
		if err := v.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("bind env %s: %w", env, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if len(cfg.Assets) == 0 {
		cfg.Assets = append([]AssetConfig(nil), defaultAssets...)
	}

	return cfg, cfg.validate()
}

func (c *Config) validate() error {
	type req struct {
		val  string
		name string
	}
	for _, r := range []req{
		{c.Gate.PayTo, "PAY_TO_ADDRESS"},
		{c.Gate.Network, "NETWORK"},
		{c.Gate.Price, "PRICE"},
		{c.Facilitator.URL, "FACILITATOR_URL"},
	} {
		if r.val == "" {
			return fmt.Errorf("required config missing: %s", r.name)
		}
	}
	if !common.IsHexAddress(c.Gate.PayTo) {
		return fmt.Errorf("PAY_TO_ADDRESS is not a hex address: %q", c.Gate.PayTo)
	}
	if c.Facilitator.TimeoutSec <= 0 {
		return fmt.Errorf("FACILITATOR_TIMEOUT_SEC must be positive")
	}
	if c.Nullifier.TTLSec < 0 {
		return fmt.Errorf("NULLIFIER_TTL_SEC must not be negative")
	}

	switch c.Nullifier.Backend {
	case BackendMemory:
	case BackendRedis:
		if c.Redis.Addr == "" {
			return fmt.Errorf("required config missing: REDIS_ADDR")
		}
	case BackendPostgres:
		if c.Postgres.DSN == "" {
			return fmt.Errorf("required config missing: POSTGRES_DSN")
		}
	default:
		return fmt.Errorf("unknown NULLIFIER_BACKEND %q", c.Nullifier.Backend)
	}
	if c.Journal.Enabled && c.Redis.Addr == "" {
		return fmt.Errorf("JOURNAL_ENABLED requires REDIS_ADDR")
	}

	found := false
	for _, a := range c.Assets {
		if !common.IsHexAddress(a.Address) {
			return fmt.Errorf("asset %s: address is not a hex address: %q", a.Network, a.Address)
		}
		if a.Network == c.Gate.Network {
			found = true
		}
	}
	if !found {
		return fmt.Errorf("no asset configured for network %s", c.Gate.Network)
	}
	return nil
}

// NeedsRedis reports whether any component is backed by Redis.
func (c *Config) NeedsRedis() bool {
	return c.Nullifier.Backend == BackendRedis || c.Journal.Enabled
}
