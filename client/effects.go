package client

import (
	"sync"

	"github.com/cydxin/sync-sdk/models"
)

type effectKey struct {
	scopeID string
	eventID uint64
}

// EffectDispatcher 保证每条通知事件的用户可见副作用（提示音/Toast）恰好触发一次。
// 已触发集合只增不减（可接受的上限：副作用相对消息量很稀疏）。
// 只有通知流事件走这里，聊天消息不触发副作用。
type EffectDispatcher struct {
	mu        sync.Mutex
	played    map[effectKey]struct{}
	callbacks []func(scopeID string, evt models.Event)
}

func NewEffectDispatcher() *EffectDispatcher {
	return &EffectDispatcher{played: make(map[effectKey]struct{})}
}

// OnEffect 注册副作用回调（展示层在这里播声音/弹 Toast）。
func (d *EffectDispatcher) OnEffect(cb func(scopeID string, evt models.Event)) {
	if cb == nil {
		return
	}
	d.mu.Lock()
	d.callbacks = append(d.callbacks, cb)
	d.mu.Unlock()
}

// Dispatch 触发副作用。同一 (scope, id) 已触发过则为空操作。
// 检查和标记在同一把锁内完成，多条投递路径并发到达也只触发一次。
func (d *EffectDispatcher) Dispatch(scopeID string, evt models.Event) bool {
	key := effectKey{scopeID: scopeID, eventID: evt.ID}

	d.mu.Lock()
	if _, ok := d.played[key]; ok {
		d.mu.Unlock()
		return false
	}
	d.played[key] = struct{}{}
	cbs := make([]func(string, models.Event), len(d.callbacks))
	copy(cbs, d.callbacks)
	d.mu.Unlock()

	for _, cb := range cbs {
		cb(scopeID, evt)
	}
	return true
}

// PlayedCount 已触发副作用的事件数（观测/测试用）。
func (d *EffectDispatcher) PlayedCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.played)
}
