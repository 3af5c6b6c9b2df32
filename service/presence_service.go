package service

import (
	"context"
	"errors"
	"time"

	"github.com/cydxin/sync-sdk/models"
	"github.com/google/uuid"
)

// ErrSessionNotFound 会话不存在或已结束。
// 心跳收到该错误时客户端应走自愈路径：丢弃本地 session_id 重新 Start。
var ErrSessionNotFound = errors.New("presence session not found")

// PresenceService 在线会话：签发/心跳/结束/超时清扫。
// 显式 End 只是尽力而为（页面关闭时可能发不出来），
// SweepExpiredSessions 是最终一致性兜底。
type PresenceService struct {
	*Service
}

func NewPresenceService(s *Service) *PresenceService {
	return &PresenceService{Service: s}
}

// StartSession 创建新会话并签发 session_id。
func (s *PresenceService) StartSession(ctx context.Context, userID uint64, deviceInfo string) (string, error) {
	now := time.Now()
	sess := &models.PresenceSession{
		SessionID:       uuid.NewString(),
		UserID:          userID,
		DeviceInfo:      deviceInfo,
		LastHeartbeatAt: now,
		CreatedAt:       now,
	}
	if err := s.DB.WithContext(ctx).Create(sess).Error; err != nil {
		return "", err
	}
	return sess.SessionID, nil
}

// Heartbeat 刷新 last_heartbeat_at。
// 会话不存在或已结束返回 ErrSessionNotFound。
// 心跳是幂等的：同一会话的重叠心跳彼此无害。
func (s *PresenceService) Heartbeat(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return ErrSessionNotFound
	}
	res := s.DB.WithContext(ctx).Model(&models.PresenceSession{}).
		Where("session_id = ? AND ended_at IS NULL", sessionID).
		Update("last_heartbeat_at", time.Now())
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrSessionNotFound
	}
	return nil
}

// EndSession 结束会话（幂等：重复结束、会话不存在都不报错）。
func (s *PresenceService) EndSession(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return nil
	}
	now := time.Now()
	return s.DB.WithContext(ctx).Model(&models.PresenceSession{}).
		Where("session_id = ? AND ended_at IS NULL", sessionID).
		Update("ended_at", &now).Error
}

// SweepExpiredSessions 结束所有心跳超时的会话，返回清扫条数。
// 适合由调用方用定时任务周期执行（例如每分钟一次，timeout 取心跳间隔的 3 倍）。
func (s *PresenceService) SweepExpiredSessions(ctx context.Context, timeout time.Duration) (int64, error) {
	if timeout <= 0 {
		return 0, errors.New("timeout must be positive")
	}
	now := time.Now()
	deadline := now.Add(-timeout)
	res := s.DB.WithContext(ctx).Model(&models.PresenceSession{}).
		Where("ended_at IS NULL AND last_heartbeat_at < ?", deadline).
		Update("ended_at", &now)
	return res.RowsAffected, res.Error
}
