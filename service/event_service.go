package service

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/cydxin/sync-sdk/cons"
	"github.com/cydxin/sync-sdk/message"
	"github.com/cydxin/sync-sdk/models"
)

// EventService 同步事件的权威存储 + 推送入口。
// 约定：先落库，再尽力 PUBLISH 到 redis 主题；推送失败不影响主流程，
// 客户端靠轮询兜底拿到事件（推送只是降低延迟）。
type EventService struct {
	*Service
}

func NewEventService(s *Service) *EventService {
	return &EventService{Service: s}
}

// PublishEvent 创建一条事件并尽力推送。
func (s *EventService) PublishEvent(ctx context.Context, scopeID, kind string, payload []byte) (*models.Event, error) {
	if scopeID == "" {
		return nil, errors.New("scope_id is required")
	}
	if kind == "" {
		return nil, errors.New("kind is required")
	}

	evt := &models.Event{
		ScopeID:   scopeID,
		Kind:      kind,
		Payload:   payload,
		CreatedAt: time.Now(),
	}
	if err := s.DB.WithContext(ctx).Create(evt).Error; err != nil {
		return nil, err
	}

	// 推送（尽力而为：失败只记日志）
	s.pushEvent(ctx, evt)

	return evt, nil
}

func (s *EventService) pushEvent(ctx context.Context, evt *models.Event) {
	if s.RDB == nil || evt == nil {
		return
	}
	topic := s.Topic(evt.ScopeID)
	env, err := message.NewEnvelope(topic, cons.PushEventCreated, evt)
	if err != nil {
		return
	}
	b, err := env.Encode()
	if err != nil {
		return
	}
	if err := s.RDB.Publish(ctx, topic, b).Err(); err != nil {
		log.Printf("publish event %d to %s failed: %v", evt.ID, topic, err)
	}
}

// ListScopeEvents 全量拉取：返回 scope 内最新 limit 条，按 created_at 升序。
// 客户端 EventStore 为空（首次打开/游标丢失）时调用。
func (s *EventService) ListScopeEvents(ctx context.Context, scopeID string, limit int) ([]models.Event, error) {
	if scopeID == "" {
		return nil, errors.New("scope_id is required")
	}
	if limit <= 0 {
		limit = 200
	}
	if limit > 500 {
		limit = 500
	}

	// 先按 created_at 倒序取最新 limit 条，再反转为升序返回
	var rows []models.Event
	err := s.DB.WithContext(ctx).
		Where("scope_id = ?", scopeID).
		Order("created_at desc").Order("id desc").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}

	for i, j := 0, len(rows)-1; i < j; i, j = i+1, j-1 {
		rows[i], rows[j] = rows[j], rows[i]
	}
	return rows, nil
}

// ListScopeEventsSince 增量拉取：只返回严格晚于 since 的事件，升序。
func (s *EventService) ListScopeEventsSince(ctx context.Context, scopeID string, since time.Time, limit int) ([]models.Event, error) {
	if scopeID == "" {
		return nil, errors.New("scope_id is required")
	}
	if limit <= 0 {
		limit = 200
	}

	var rows []models.Event
	err := s.DB.WithContext(ctx).
		Where("scope_id = ? AND created_at > ?", scopeID, since).
		Order("created_at asc").Order("id asc").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// CountScopeEventsSince 未读数：scope 内晚于 since 的事件条数。
func (s *EventService) CountScopeEventsSince(ctx context.Context, scopeID string, since time.Time) (int64, error) {
	if scopeID == "" {
		return 0, errors.New("scope_id is required")
	}
	var n int64
	err := s.DB.WithContext(ctx).Model(&models.Event{}).
		Where("scope_id = ? AND created_at > ?", scopeID, since).
		Count(&n).Error
	return n, err
}
