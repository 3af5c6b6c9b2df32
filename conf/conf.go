package conf

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config 参考服务端（example）的文件配置。
// SDK 本体只用选项模式注入依赖，文件配置是宿主进程的事。
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	MySQL    MySQLConfig    `yaml:"mysql"`
	Redis    RedisConfig    `yaml:"redis"`
	Sync     SyncConfig     `yaml:"sync"`
	Presence PresenceConfig `yaml:"presence"`
}

type ServerConfig struct {
	Addr string `yaml:"addr"`
}

type MySQLConfig struct {
	DSN string `yaml:"dsn"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type SyncConfig struct {
	ChannelPrefix string `yaml:"channel_prefix"`
}

type PresenceConfig struct {
	SessionTimeout time.Duration `yaml:"session_timeout"`
	SweepEvery     time.Duration `yaml:"sweep_every"`
}

// Load 从文件加载配置；敏感信息可用环境变量覆盖。
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if dsn := os.Getenv("SYNC_MYSQL_DSN"); dsn != "" {
		cfg.MySQL.DSN = dsn
	}
	if addr := os.Getenv("SYNC_REDIS_ADDR"); addr != "" {
		cfg.Redis.Addr = addr
	}

	cfg.applyDefaults()
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Addr == "" {
		c.Server.Addr = ":8080"
	}
	if c.Sync.ChannelPrefix == "" {
		c.Sync.ChannelPrefix = "sync:"
	}
	if c.Presence.SessionTimeout <= 0 {
		c.Presence.SessionTimeout = 90 * time.Second
	}
	if c.Presence.SweepEvery <= 0 {
		c.Presence.SweepEvery = time.Minute
	}
}
