package config

import (
	"fmt"
	"os"
	"time"

	"crowdfund/pkg/config"
)

const (
	StoreDriverPostgres = "postgres"
	StoreDriverMemory   = "memory"
)

type StoreConfig struct {
	Driver string `yaml:"driver"`
}

type RunnerConfig struct {
	Interval time.Duration `yaml:"interval"`
}

type WorkerConfig struct {
	MaxRetries       int           `yaml:"max_retries"`
	DedupTTL         time.Duration `yaml:"dedup_ttl"`
	RetryTTL         time.Duration `yaml:"retry_ttl"`
	DispatchInterval time.Duration `yaml:"dispatch_interval"`
	DispatchBatch    int           `yaml:"dispatch_batch"`
}

type CacheConfig struct {
	TTL time.Duration `yaml:"ttl"`
}

type LogConfig struct {
	Level string `yaml:"level"`
}

type Config struct {
	Server config.ServerConfig `yaml:"server"`
	DB     config.DBConfig     `yaml:"db"`
	MQ     config.MQConfig     `yaml:"mq"`
	Redis  config.RedisConfig  `yaml:"redis"`
	JWT    config.JWTConfig    `yaml:"jwt"`
	Otel   config.OtelConfig   `yaml:"otel"`
	Store  StoreConfig         `yaml:"store"`
	Runner RunnerConfig        `yaml:"runner"`
	Worker WorkerConfig        `yaml:"worker"`
	Cache  CacheConfig         `yaml:"cache"`
	Log    LogConfig           `yaml:"log"`
}

// Load 读取 CONFIG_DIR 下的 base.yaml + <CONFIG_ENV>.yaml，再用环境变量覆盖
func Load() (*Config, error) {
	env := config.GetConfigEnv()
	dir := config.GetEnv("CONFIG_DIR", "config")

	merged, err := config.LoadConfig(env, dir)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	cfg := Defaults()
	if err := config.Decode(merged, cfg); err != nil {
		return nil, err
	}

	config.OverrideServerFromEnv(&cfg.Server)
	config.OverrideDBFromEnv(&cfg.DB)
	config.OverrideMQFromEnv(&cfg.MQ)
	config.OverrideRedisFromEnv(&cfg.Redis)
	config.OverrideJWTFromEnv(&cfg.JWT)
	config.OverrideOtelFromEnv(&cfg.Otel)
	if driver := os.Getenv("STORE_DRIVER"); driver != "" {
		cfg.Store.Driver = driver
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Defaults 在 yaml 缺省字段时生效
func Defaults() *Config {
	return &Config{
		Server: config.ServerConfig{Port: "8080"},
		Store:  StoreConfig{Driver: StoreDriverPostgres},
		Runner: RunnerConfig{Interval: time.Minute},
		Worker: WorkerConfig{
			MaxRetries:       5,
			DedupTTL:         24 * time.Hour,
			RetryTTL:         time.Hour,
			DispatchInterval: time.Second,
			DispatchBatch:    100,
		},
		Cache: CacheConfig{TTL: 30 * time.Second},
		JWT:   config.JWTConfig{TTL: 24 * time.Hour},
		Log:   LogConfig{Level: "info"},
	}
}

func (c *Config) Validate() error {
	switch c.Store.Driver {
	case StoreDriverPostgres, StoreDriverMemory:
	default:
		return fmt.Errorf("unknown store driver %q", c.Store.Driver)
	}
	if c.JWT.Secret == "" {
		return fmt.Errorf("jwt.secret is required")
	}
	return nil
}
