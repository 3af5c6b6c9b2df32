package message

import (
	"encoding/json"

	"github.com/cydxin/sync-sdk/models"
)

// WS 上行帧类型（client -> gateway）
const (
	WsActionSubscribe   = "subscribe"   // 订阅一个 topic
	WsActionUnsubscribe = "unsubscribe" // 退订一个 topic
)

// SubscribeReq 订阅/退订帧。
// topic = 频道前缀 + scopeID，例如 "sync:chat.general"。
type SubscribeReq struct {
	Action string `json:"action"` // subscribe / unsubscribe
	Topic  string `json:"topic"`
}

// Envelope 推送下行帧（gateway -> client），也是 redis PUBLISH 的消息体。
// Event 是逻辑事件名（cons.PushEventCreated），Payload 是内嵌的同步事件，
// 网关原样转发，不做任何改写。
type Envelope struct {
	Topic   string          `json:"topic"`
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
}

// Encode 序列化 Envelope（PUBLISH / WS 下发用）。
func (e *Envelope) Encode() ([]byte, error) {
	return json.Marshal(e)
}

// DecodeEvent 从 Envelope 里取出内嵌的同步事件。
func (e *Envelope) DecodeEvent() (*models.Event, error) {
	var evt models.Event
	if err := json.Unmarshal(e.Payload, &evt); err != nil {
		return nil, err
	}
	return &evt, nil
}

// NewEnvelope 打包一条同步事件用于 PUBLISH / WS 下发。
func NewEnvelope(topic, event string, evt *models.Event) (*Envelope, error) {
	b, err := json.Marshal(evt)
	if err != nil {
		return nil, err
	}
	return &Envelope{Topic: topic, Event: event, Payload: b}, nil
}
