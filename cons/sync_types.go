package cons

// 事件种类（Event.Kind）
const (
	KindMessage      = "message"      // 聊天消息
	KindNotification = "notification" // 通知（会触发提示音/Toast）
)

// 推送通道里的逻辑事件名（Envelope.Event）
const (
	PushEventCreated = "sync.event.created" // 新事件产生
)

// 作用域 ID 约定（ScopeID）
// - 普通群聊：chat.general / chat.project.{id}
// - 用户通知流：notify.{userID}
// ScopeID 只是一个不透明字符串，SDK 不解析其结构，只用前缀区分种类。
const (
	ScopePrefixChat   = "chat."
	ScopePrefixNotify = "notify."
)

// DefaultChannelPrefix 推送主题的默认前缀：topic = prefix + scopeID
const DefaultChannelPrefix = "sync:"
