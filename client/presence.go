package client

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"
)

// DefaultHeartbeatInterval 心跳间隔
const DefaultHeartbeatInterval = 30 * time.Second

// TrackerState 心跳跟踪器状态
type TrackerState string

const (
	TrackerIdle       TrackerState = "idle"
	TrackerStarting   TrackerState = "starting"
	TrackerActive     TrackerState = "active"
	TrackerRecovering TrackerState = "recovering"
)

// HeartbeatTracker 在线会话心跳：进程级、与 scope 生命周期无关。
// 状态机：idle -> starting -> active -> idle（显式 Stop），
// active 期间心跳收到「会话不存在」则经 recovering 自愈：
// 本地清掉 session_id，立即重新 Start，不需要用户干预。
// 其它失败（网络抖动）忽略，下个 tick 重试。
//
// 心跳在单个 goroutine 里串行发出，同一会话不会并发两个 tick 的处理；
// 单次请求拖过间隔时下个 tick 照发（服务端心跳幂等，重叠无害）。
type HeartbeatTracker struct {
	remote     Remote
	deviceInfo string
	interval   time.Duration
	logger     *log.Logger

	mu              sync.Mutex
	state           TrackerState
	sessionID       string
	lastHeartbeatAt time.Time
	stopCh          chan struct{}
	running         bool // 心跳 goroutine 是否存活
}

func NewHeartbeatTracker(remote Remote, deviceInfo string, interval time.Duration, logger *log.Logger) *HeartbeatTracker {
	if interval <= 0 {
		interval = DefaultHeartbeatInterval
	}
	if logger == nil {
		logger = log.Default()
	}
	return &HeartbeatTracker{
		remote:     remote,
		deviceInfo: deviceInfo,
		interval:   interval,
		logger:     logger,
		state:      TrackerIdle,
	}
}

// Start 申请新会话并启动心跳。已在跑则直接返回。
func (t *HeartbeatTracker) Start(ctx context.Context) error {
	t.mu.Lock()
	if t.state != TrackerIdle {
		t.mu.Unlock()
		return nil
	}
	t.state = TrackerStarting
	t.mu.Unlock()

	sid, err := t.remote.SessionStart(ctx, t.deviceInfo)

	t.mu.Lock()
	if t.state != TrackerStarting {
		// Stop 插了进来：不能激活，刚签发的会话立即作废
		t.mu.Unlock()
		if err == nil {
			t.remote.SessionEnd(sid)
		}
		return nil
	}
	if err != nil {
		t.state = TrackerIdle
		t.mu.Unlock()
		return err
	}
	t.sessionID = sid
	t.lastHeartbeatAt = time.Now()
	t.state = TrackerActive
	t.startLoopLocked()
	t.mu.Unlock()
	return nil
}

// startLoopLocked 启动心跳 goroutine。调用方必须持有 t.mu。
func (t *HeartbeatTracker) startLoopLocked() {
	if t.running {
		return
	}
	t.running = true
	t.stopCh = make(chan struct{})
	go t.loop(t.stopCh)
}

func (t *HeartbeatTracker) loop(stopCh chan struct{}) {
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()
	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			t.tick()
		}
	}
}

func (t *HeartbeatTracker) tick() {
	t.mu.Lock()
	state := t.state
	sid := t.sessionID
	t.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), t.interval)
	defer cancel()

	switch state {
	case TrackerActive:
		err := t.remote.SessionHeartbeat(ctx, sid)
		switch {
		case err == nil:
			t.mu.Lock()
			t.lastHeartbeatAt = time.Now()
			t.mu.Unlock()
		case errors.Is(err, ErrSessionNotFound):
			// 会话被服务端过期/清扫：清掉本地 id 立即重建
			t.mu.Lock()
			t.state = TrackerRecovering
			t.sessionID = ""
			t.mu.Unlock()
			t.recover(ctx)
		default:
			// 网络抖动：下个 tick 重试
		}
	case TrackerRecovering:
		// 上次重建没成功，本 tick 再试
		t.recover(ctx)
	default:
	}
}

// recover 重建会话。失败保持 recovering，下个 tick 继续。
func (t *HeartbeatTracker) recover(ctx context.Context) {
	sid, err := t.remote.SessionStart(ctx, t.deviceInfo)
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != TrackerRecovering {
		// Stop 插了进来
		return
	}
	if err != nil {
		t.logger.Printf("presence session rebuild failed: %v", err)
		return
	}
	t.sessionID = sid
	t.lastHeartbeatAt = time.Now()
	t.state = TrackerActive
}

// Stop 结束会话：停心跳，向服务端发尽力而为的结束信号（不等响应）。
// 用于应用退出/页面卸载钩子；即使信号没送达，服务端超时清扫会兜底。
func (t *HeartbeatTracker) Stop() {
	t.mu.Lock()
	if t.state == TrackerIdle {
		t.mu.Unlock()
		return
	}
	sid := t.sessionID
	t.sessionID = ""
	t.state = TrackerIdle
	if t.running {
		close(t.stopCh)
		t.running = false
	}
	t.mu.Unlock()

	if sid != "" {
		t.remote.SessionEnd(sid)
	}
}

// EnsureRunning 补救心跳 goroutine：active 状态下定时器丢了（例如宿主
// 环境把后台定时器清掉）就重启它。页面从隐藏恢复可见时调用。
func (t *HeartbeatTracker) EnsureRunning() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != TrackerActive && t.state != TrackerRecovering {
		return
	}
	t.startLoopLocked()
}

// State 当前状态。
func (t *HeartbeatTracker) State() TrackerState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// SessionID 当前会话 id（观测/测试用）。
func (t *HeartbeatTracker) SessionID() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.sessionID
}

// LastHeartbeatAt 最近一次心跳成功时刻。
func (t *HeartbeatTracker) LastHeartbeatAt() time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lastHeartbeatAt
}
