package sync_sdk

import "gorm.io/gorm"
import "github.com/go-redis/redis/v8"
import "time"

import "github.com/cydxin/sync-sdk/cons"

type Config struct {
	DB  *gorm.DB
	RDB *redis.Client

	// ChannelPrefix 推送主题前缀：topic = prefix + scopeID
	ChannelPrefix string

	// SessionTimeout 在线会话的心跳超时（清扫阈值）。
	// 建议取客户端心跳间隔的 3 倍，默认 90s。
	SessionTimeout time.Duration
}

type Option func(*Config)

func WithDB(db *gorm.DB) Option {
	return func(c *Config) {
		c.DB = db
	}
}

func WithRDB(RDB *redis.Client) Option {
	return func(c *Config) {
		c.RDB = RDB
	}
}

func WithChannelPrefix(prefix string) Option {
	return func(c *Config) {
		c.ChannelPrefix = prefix
	}
}

func WithSessionTimeout(d time.Duration) Option {
	return func(c *Config) {
		c.SessionTimeout = d
	}
}

func defaultConfig() *Config {
	return &Config{
		ChannelPrefix:  cons.DefaultChannelPrefix,
		SessionTimeout: 90 * time.Second,
	}
}
