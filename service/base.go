package service

import (
	"github.com/go-redis/redis/v8"
	"gorm.io/gorm"
)

// Service 基础服务，包含数据库、Redis 与频道配置
type Service struct {
	DB  *gorm.DB
	RDB *redis.Client

	// ChannelPrefix 推送主题前缀：topic = ChannelPrefix + scopeID
	// 事件落库后 PUBLISH 到该主题，推送网关 PSUBSCRIBE ChannelPrefix+"*" 转发。
	ChannelPrefix string
}

// Topic 由 scopeID 计算推送主题名
func (s *Service) Topic(scopeID string) string {
	return s.ChannelPrefix + scopeID
}
