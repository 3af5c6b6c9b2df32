package models

import (
	"time"

	"gorm.io/datatypes"
)

const prefix = "sync_"

// Event 同步事件（聊天消息 / 通知各存为一条事件）
// - ID 由服务端自增分配，在单个 scope 内唯一，客户端用它去重。
// - CreatedAt 是权威排序键：客户端 EventStore 按它排序，而不是按到达顺序。
// - Payload 对 SDK 不透明（文本、附件引用、通知元数据等），原样透传给展示层。
type Event struct {
	ID        uint64         `gorm:"primarykey" json:"id"`
	ScopeID   string         `gorm:"size:128;index:idx_scope_created,priority:1;not null" json:"scope_id"`
	Kind      string         `gorm:"size:32;index;not null" json:"kind"` // cons.KindMessage / cons.KindNotification
	Payload   datatypes.JSON `gorm:"type:json" json:"payload,omitempty"`
	CreatedAt time.Time      `gorm:"index:idx_scope_created,priority:2" json:"created_at"`
}

func (Event) TableName() string {
	return prefix + "event"
}
