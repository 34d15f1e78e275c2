// Package config 提供應用配置
//
// 配置來源（後者覆蓋前者）：
//  1. 內建預設值（便於本地開發，零配置可跑）
//  2. config.yaml
//  3. 環境變量（敏感信息不進代碼庫，容器化部署常用）
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// 存儲後端
const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
)

// Duration 包裝 time.Duration 以支持 "10s" 這類 yaml 寫法
//
// yaml.v3 不認識 time.Duration，字串需要經 time.ParseDuration 轉換。
type Duration time.Duration

// UnmarshalYAML 實現 yaml.Unmarshaler
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	parsed, err := time.ParseDuration(value.Value)
	if err != nil {
		return fmt.Errorf("config: invalid duration %q: %w", value.Value, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std 返回標準庫類型
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config 整個應用的配置
type Config struct {
	Server struct {
		Addr            string   `yaml:"addr"`
		ReadTimeout     Duration `yaml:"read_timeout"`
		WriteTimeout    Duration `yaml:"write_timeout"`
		IdleTimeout     Duration `yaml:"idle_timeout"`
		ShutdownTimeout Duration `yaml:"shutdown_timeout"`
	} `yaml:"server"`

	Storage struct {
		// Backend: "memory"（預設）或 "postgres"
		Backend     string `yaml:"backend"`
		PostgresDSN string `yaml:"postgres_dsn"`
	} `yaml:"storage"`

	RateLimit struct {
		Enabled    bool  `yaml:"enabled"`
		Capacity   int64 `yaml:"capacity"`    // 突發上限
		RefillRate int64 `yaml:"refill_rate"` // 每秒填充令牌數
		// RedisAddr 非空時使用分散式限流器（多實例共享配額）
		RedisAddr     string `yaml:"redis_addr"`
		RedisPassword string `yaml:"redis_password"`
		RedisDB       int    `yaml:"redis_db"`
	} `yaml:"rate_limit"`

	NATS struct {
		// URL 非空時事件會鏡像發布到 NATS
		URL           string `yaml:"url"`
		SubjectPrefix string `yaml:"subject_prefix"`
	} `yaml:"nats"`

	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`
}

// Default 返回預設配置
func Default() *Config {
	cfg := &Config{}

	cfg.Server.Addr = ":8080"
	cfg.Server.ReadTimeout = Duration(10 * time.Second)
	cfg.Server.WriteTimeout = Duration(10 * time.Second)
	cfg.Server.IdleTimeout = Duration(60 * time.Second)
	cfg.Server.ShutdownTimeout = Duration(30 * time.Second)

	cfg.Storage.Backend = BackendMemory

	cfg.RateLimit.Enabled = true
	cfg.RateLimit.Capacity = 20
	cfg.RateLimit.RefillRate = 10

	cfg.NATS.SubjectPrefix = "shortlink.events"

	cfg.Log.Level = "info"
	cfg.Log.Format = "json"

	return cfg
}

// Load 讀取配置檔並套用環境變量覆蓋
//
// 配置檔不存在不是錯誤（用預設值跑），讀得到但解析失敗才是。
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	} else {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	cfg.applyEnv()

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv 環境變量覆蓋（部署時最常需要改的幾項）
func (c *Config) applyEnv() {
	if v := os.Getenv("SHORTLINK_ADDR"); v != "" {
		c.Server.Addr = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		c.Storage.Backend = BackendPostgres
		c.Storage.PostgresDSN = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		c.RateLimit.RedisAddr = v
	}
	if v := os.Getenv("NATS_URL"); v != "" {
		c.NATS.URL = v
	}
}

func (c *Config) validate() error {
	switch c.Storage.Backend {
	case BackendMemory:
	case BackendPostgres:
		if c.Storage.PostgresDSN == "" {
			return fmt.Errorf("config: postgres backend requires postgres_dsn")
		}
	default:
		return fmt.Errorf("config: unknown storage backend %q", c.Storage.Backend)
	}

	if c.RateLimit.Enabled {
		if c.RateLimit.Capacity < 1 || c.RateLimit.RefillRate < 1 {
			return fmt.Errorf("config: rate limit capacity and refill_rate must be >= 1")
		}
	}
	return nil
}
