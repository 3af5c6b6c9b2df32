// Package client 实现客户端实时同步核心：
// 推送（WS 订阅）与轮询（HTTP 增量/全量）两条不可靠通道在这里汇成
// 一条有序、去重的事件流，并保证提示音/Toast 等副作用恰好触发一次。
package client

import (
	"sort"
	"time"

	"github.com/cydxin/sync-sdk/models"
)

// DefaultStoreCapacity EventStore 默认容量（软内存上限，不是正确性要求）
const DefaultStoreCapacity = 200

// EventStore 单个 scope 的有序去重事件日志。
// - 按 created_at 升序存储（不是到达顺序：推送和轮询会乱序竞争到达）。
// - 同一 id 只存一份。
// - 超出容量淘汰最旧的。
//
// 无内部锁：访问由 Merger 串行化（每个 scope 独占一个 store，不跨 scope 共享）。
type EventStore struct {
	capacity int
	items    []models.Event
	ids      map[uint64]struct{}
}

func NewEventStore(capacity int) *EventStore {
	if capacity <= 0 {
		capacity = DefaultStoreCapacity
	}
	return &EventStore{
		capacity: capacity,
		ids:      make(map[uint64]struct{}),
	}
}

// Insert 插入一条事件。
// 重复 id 返回 false；否则按 created_at 找到插入位置（相同时间戳插到其后，
// 保持稳定），再淘汰超出容量的最旧项。
func (s *EventStore) Insert(evt models.Event) bool {
	if _, ok := s.ids[evt.ID]; ok {
		return false
	}

	pos := sort.Search(len(s.items), func(i int) bool {
		return s.items[i].CreatedAt.After(evt.CreatedAt)
	})
	s.items = append(s.items, models.Event{})
	copy(s.items[pos+1:], s.items[pos:])
	s.items[pos] = evt
	s.ids[evt.ID] = struct{}{}

	for len(s.items) > s.capacity {
		delete(s.ids, s.items[0].ID)
		s.items = s.items[1:]
	}
	return true
}

// Cursor 返回最新一条的 created_at（增量拉取的水位线）。空 store 返回 false。
func (s *EventStore) Cursor() (time.Time, bool) {
	if len(s.items) == 0 {
		return time.Time{}, false
	}
	return s.items[len(s.items)-1].CreatedAt, true
}

// Snapshot 返回只读副本（渲染用）。
func (s *EventStore) Snapshot() []models.Event {
	out := make([]models.Event, len(s.items))
	copy(out, s.items)
	return out
}

func (s *EventStore) Len() int {
	return len(s.items)
}
