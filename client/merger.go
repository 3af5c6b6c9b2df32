package client

import (
	"sync"
	"time"

	"github.com/cydxin/sync-sdk/cons"
	"github.com/cydxin/sync-sdk/models"
)

// Merger 事件入库的唯一入口：推送和轮询拿到的事件都经由 Offer 汇入。
// 核心不变式：同一事件无论到达多少次（推送一次 + 下个轮询 tick 一次、
// 轮询窗口重叠再来一次），只会入库一次、只会向外转发一次。
//
// 去重的 check-then-insert 在 mu 内完成，两条投递路径不会交错。
type Merger struct {
	mu       sync.Mutex
	capacity int

	// open 标记 scope 存活；store 在首条事件/首次查询时才惰性创建。
	// scope 关闭后迟到的轮询响应在这里被丢弃。
	open   map[string]bool
	stores map[string]*EventStore

	onAccepted map[string][]func(models.Event)
	dispatcher *EffectDispatcher
}

func NewMerger(capacity int, dispatcher *EffectDispatcher) *Merger {
	return &Merger{
		capacity:   capacity,
		open:       make(map[string]bool),
		stores:     make(map[string]*EventStore),
		onAccepted: make(map[string][]func(models.Event)),
		dispatcher: dispatcher,
	}
}

// Open 标记 scope 存活。重复 Open 无害。
func (m *Merger) Open(scopeID string) {
	m.mu.Lock()
	m.open[scopeID] = true
	m.mu.Unlock()
}

// Close 关闭 scope：丢弃 store 和回调，之后到达的事件一律丢弃。
func (m *Merger) Close(scopeID string) {
	m.mu.Lock()
	delete(m.open, scopeID)
	delete(m.stores, scopeID)
	delete(m.onAccepted, scopeID)
	m.mu.Unlock()
}

// storeFor 惰性取/建 store。调用方必须持有 m.mu。
func (m *Merger) storeFor(scopeID string) *EventStore {
	st := m.stores[scopeID]
	if st == nil {
		st = NewEventStore(m.capacity)
		m.stores[scopeID] = st
	}
	return st
}

// Offer 尝试接收一条事件，返回是否被接受（非重复且 scope 存活）。
// 接受后转发给 OnAccepted 回调；通知类事件再交给 EffectDispatcher。
func (m *Merger) Offer(scopeID string, evt models.Event) bool {
	m.mu.Lock()
	if !m.open[scopeID] {
		m.mu.Unlock()
		return false
	}
	st := m.storeFor(scopeID)
	if !st.Insert(evt) {
		m.mu.Unlock()
		return false
	}
	cbs := make([]func(models.Event), len(m.onAccepted[scopeID]))
	copy(cbs, m.onAccepted[scopeID])
	m.mu.Unlock()

	for _, cb := range cbs {
		cb(evt)
	}
	if evt.Kind == cons.KindNotification && m.dispatcher != nil {
		m.dispatcher.Dispatch(scopeID, evt)
	}
	return true
}

// OnAccepted 注册 scope 的新事件回调（UI 刷新用）。
func (m *Merger) OnAccepted(scopeID string, cb func(models.Event)) {
	if cb == nil {
		return
	}
	m.mu.Lock()
	m.onAccepted[scopeID] = append(m.onAccepted[scopeID], cb)
	m.mu.Unlock()
}

// Cursor 返回 scope 的增量水位线。scope 未打开或 store 为空返回 false。
func (m *Merger) Cursor(scopeID string) (time.Time, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.open[scopeID] {
		return time.Time{}, false
	}
	st := m.stores[scopeID]
	if st == nil {
		return time.Time{}, false
	}
	return st.Cursor()
}

// Snapshot 返回 scope 当前事件的只读副本。
func (m *Merger) Snapshot(scopeID string) []models.Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := m.stores[scopeID]
	if st == nil {
		return nil
	}
	return st.Snapshot()
}
