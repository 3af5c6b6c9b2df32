package models

import (
	"time"
)

// PresenceSession 在线会话（每个已连接的用户/设备一条）
// - SessionID 由服务端签发（uuid），客户端心跳时回传。
// - DeviceInfo 会话存续期间不变（浏览器/OS 描述串）。
// - LastHeartbeatAt 每次心跳成功都会更新；超时清扫用它判断会话是否失活。
// - EndedAt 非空表示会话已显式结束或被清扫，心跳会收到 not_found。
type PresenceSession struct {
	ID              uint64     `gorm:"primarykey"`
	SessionID       string     `gorm:"size:36;uniqueIndex;not null"`
	UserID          uint64     `gorm:"index"`
	DeviceInfo      string     `gorm:"size:255"`
	LastHeartbeatAt time.Time  `gorm:"index"`
	EndedAt         *time.Time `gorm:"index"`
	CreatedAt       time.Time
}

func (PresenceSession) TableName() string {
	return prefix + "presence_session"
}
