package client

import (
	"context"
	"encoding/json"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/cydxin/sync-sdk/message"
	"github.com/gorilla/websocket"
)

// ConnState 推送通道连接状态
type ConnState string

const (
	StateConnecting   ConnState = "connecting"
	StateConnected    ConnState = "connected"
	StateDisconnected ConnState = "disconnected"
	StateFailed       ConnState = "failed"
)

// DefaultHandshakeGraceWindow 建连后的握手宽限窗口。
// 网关连接和页面加载互相竞争，头几秒的握手失败是预期噪音，
// 窗口内不向日志面刷错误；窗口过了或已经 connected 则恢复正常记录。
const DefaultHandshakeGraceWindow = 5 * time.Second

// ConnectionManager 推送订阅器：进程内至多一条活的 WS 连接。
// 由 SyncClient 持有并显式传给需要它的组件，不做包级单例。
//
// 不实现自己的重连/退避：推送只是降低延迟，正确性由轮询兜底；
// 断开后靠下一次 scope 打开时的 Connect 重建。
type ConnectionManager struct {
	gatewayURL  string
	prefix      string
	merger      *Merger
	logger      *log.Logger
	graceWindow time.Duration

	mu        sync.Mutex
	state     ConnState
	conn      *websocket.Conn
	topics    map[string]struct{} // 期望订阅的 topic，重连时整组重放
	attemptAt time.Time           // 最近一次连接尝试时刻（宽限窗口基准）
	onState   []func(ConnState)
	pending   []ConnState // 待通知的状态变更，按发生顺序投递
	notifying bool        // 投递 goroutine 是否在跑
}

func NewConnectionManager(gatewayURL, channelPrefix string, merger *Merger, logger *log.Logger, graceWindow time.Duration) *ConnectionManager {
	if logger == nil {
		logger = log.Default()
	}
	if graceWindow <= 0 {
		graceWindow = DefaultHandshakeGraceWindow
	}
	return &ConnectionManager{
		gatewayURL:  gatewayURL,
		prefix:      channelPrefix,
		merger:      merger,
		logger:      logger,
		graceWindow: graceWindow,
		state:       StateDisconnected, // 首次 subscribe 前的初始状态
		topics:      make(map[string]struct{}),
	}
}

// State 当前连接状态。
func (c *ConnectionManager) State() ConnState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// OnStateChange 注册状态变更回调。
func (c *ConnectionManager) OnStateChange(cb func(ConnState)) {
	if cb == nil {
		return
	}
	c.mu.Lock()
	c.onState = append(c.onState, cb)
	c.mu.Unlock()
}

// setState 调用方必须持有 c.mu。
// 变更排进 pending 队列，由单个 goroutine 按发生顺序在锁外投递；
// 连续的快速切换（connecting -> connected）不会乱序到达监听方。
func (c *ConnectionManager) setState(s ConnState) {
	if c.state == s {
		return
	}
	c.state = s
	c.pending = append(c.pending, s)
	if !c.notifying {
		c.notifying = true
		go c.drainStateNotifications()
	}
}

func (c *ConnectionManager) drainStateNotifications() {
	for {
		c.mu.Lock()
		if len(c.pending) == 0 {
			c.notifying = false
			c.mu.Unlock()
			return
		}
		s := c.pending[0]
		c.pending = c.pending[1:]
		cbs := make([]func(ConnState), len(c.onState))
		copy(cbs, c.onState)
		c.mu.Unlock()

		for _, cb := range cbs {
			cb(s)
		}
	}
}

// shouldSurface 握手错误是否值得记录：
// 宽限窗口内且尚未 connected 的失败按噪音处理。
func (c *ConnectionManager) shouldSurface() bool {
	return time.Since(c.attemptAt) >= c.graceWindow
}

// Connect 建立（或重建）推送连接。
// 已是 connected 则直接返回；否则先拆掉旧连接再新建，
// 保证进程内任一时刻至多一条活连接。成功后重放全部订阅帧。
func (c *ConnectionManager) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.state == StateConnected {
		c.mu.Unlock()
		return nil
	}
	c.teardownLocked()
	c.setState(StateConnecting)
	c.attemptAt = time.Now()
	url := c.gatewayURL
	c.mu.Unlock()

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)

	c.mu.Lock()
	defer c.mu.Unlock()
	if err != nil {
		c.setState(StateFailed)
		if c.shouldSurface() {
			c.logger.Printf("push connect to %s failed: %v", url, err)
		}
		return err
	}

	c.conn = conn
	c.setState(StateConnected)

	// 重放订阅
	for topic := range c.topics {
		if err := conn.WriteJSON(message.SubscribeReq{Action: message.WsActionSubscribe, Topic: topic}); err != nil {
			c.logger.Printf("push subscribe %s failed: %v", topic, err)
		}
	}

	go c.readLoop(conn)
	return nil
}

// Subscribe 订阅一个 scope 的推送主题。未连接时只登记，连上后重放。
func (c *ConnectionManager) Subscribe(scopeID string) {
	topic := c.prefix + scopeID
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.topics[topic]; ok {
		return
	}
	c.topics[topic] = struct{}{}
	if c.state == StateConnected && c.conn != nil {
		if err := c.conn.WriteJSON(message.SubscribeReq{Action: message.WsActionSubscribe, Topic: topic}); err != nil {
			c.logger.Printf("push subscribe %s failed: %v", topic, err)
		}
	}
}

// Unsubscribe 退订一个 scope 的推送主题。
func (c *ConnectionManager) Unsubscribe(scopeID string) {
	topic := c.prefix + scopeID
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.topics[topic]; !ok {
		return
	}
	delete(c.topics, topic)
	if c.state == StateConnected && c.conn != nil {
		_ = c.conn.WriteJSON(message.SubscribeReq{Action: message.WsActionUnsubscribe, Topic: topic})
	}
}

// readLoop 收推送帧并转交 Merger。读错误视为断开（不自动重连）。
func (c *ConnectionManager) readLoop(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			c.mu.Lock()
			// 只有当前连接的读错误才改状态；被 Connect 换下来的旧连接忽略
			if c.conn == conn {
				c.conn = nil
				c.setState(StateDisconnected)
			}
			c.mu.Unlock()
			return
		}

		var env message.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			c.logger.Printf("push frame decode failed: %v", err)
			continue
		}
		evt, err := env.DecodeEvent()
		if err != nil {
			c.logger.Printf("push payload decode failed: %v", err)
			continue
		}
		scopeID := strings.TrimPrefix(env.Topic, c.prefix)
		c.merger.Offer(scopeID, *evt)
	}
}

// teardownLocked 拆掉现有连接。调用方必须持有 c.mu。
func (c *ConnectionManager) teardownLocked() {
	if c.conn != nil {
		_ = c.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		_ = c.conn.Close()
		c.conn = nil
	}
}

// Close 显式断开并进入 disconnected。
func (c *ConnectionManager) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.teardownLocked()
	c.setState(StateDisconnected)
}
