package client

import (
	"context"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/cydxin/sync-sdk/cons"
	"github.com/cydxin/sync-sdk/models"
)

// Config 客户端配置
// 使用选项模式传入，Option 回调
type Config struct {
	Remote        Remote
	GatewayURL    string // 推送网关 WS 地址，空则纯轮询
	ChannelPrefix string
	DeviceInfo    string

	ChatPollInterval   time.Duration
	NotifyPollInterval time.Duration
	HeartbeatInterval  time.Duration
	StoreCapacity      int
	GraceWindow        time.Duration
	Logger             *log.Logger
}

type Option func(*Config)

func WithRemote(r Remote) Option {
	return func(c *Config) { c.Remote = r }
}

// WithBaseURL 用参考服务端的 HTTP 地址构造 Remote。
func WithBaseURL(baseURL string) Option {
	return func(c *Config) { c.Remote = NewHTTPRemote(baseURL) }
}

func WithGatewayURL(url string) Option {
	return func(c *Config) { c.GatewayURL = url }
}

func WithChannelPrefix(prefix string) Option {
	return func(c *Config) { c.ChannelPrefix = prefix }
}

// WithDeviceInfo 会话的设备描述串（浏览器/OS），会话存续期间不变。
func WithDeviceInfo(info string) Option {
	return func(c *Config) { c.DeviceInfo = info }
}

func WithChatPollInterval(d time.Duration) Option {
	return func(c *Config) { c.ChatPollInterval = d }
}

func WithNotifyPollInterval(d time.Duration) Option {
	return func(c *Config) { c.NotifyPollInterval = d }
}

func WithHeartbeatInterval(d time.Duration) Option {
	return func(c *Config) { c.HeartbeatInterval = d }
}

func WithStoreCapacity(n int) Option {
	return func(c *Config) { c.StoreCapacity = n }
}

// WithHandshakeGraceWindow 推送握手错误的静默窗口。
func WithHandshakeGraceWindow(d time.Duration) Option {
	return func(c *Config) { c.GraceWindow = d }
}

func WithLogger(l *log.Logger) Option {
	return func(c *Config) { c.Logger = l }
}

// SyncClient 同步核心的组合根：持有合并器、副作用分发器、
// 推送连接管理器和心跳跟踪器，向展示层暴露 scope 的开关与订阅。
// 显式实例，不做包级单例；需要连接状态的组件从这里拿。
type SyncClient struct {
	cfg        *Config
	merger     *Merger
	dispatcher *EffectDispatcher
	conn       *ConnectionManager
	tracker    *HeartbeatTracker
	degrade    *degradeLog

	mu      sync.Mutex
	pollers map[string]*Poller
}

func New(opts ...Option) *SyncClient {
	cfg := &Config{
		ChannelPrefix:      cons.DefaultChannelPrefix,
		ChatPollInterval:   DefaultChatPollInterval,
		NotifyPollInterval: DefaultNotifyPollInterval,
		HeartbeatInterval:  DefaultHeartbeatInterval,
		StoreCapacity:      DefaultStoreCapacity,
		GraceWindow:        DefaultHandshakeGraceWindow,
		DeviceInfo:         "unknown",
	}
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.Logger == nil {
		cfg.Logger = log.Default()
	}

	dispatcher := NewEffectDispatcher()
	merger := NewMerger(cfg.StoreCapacity, dispatcher)

	c := &SyncClient{
		cfg:        cfg,
		merger:     merger,
		dispatcher: dispatcher,
		degrade:    newDegradeLog(cfg.Logger),
		pollers:    make(map[string]*Poller),
	}
	if cfg.GatewayURL != "" {
		c.conn = NewConnectionManager(cfg.GatewayURL, cfg.ChannelPrefix, merger, cfg.Logger, cfg.GraceWindow)
	}
	c.tracker = NewHeartbeatTracker(cfg.Remote, cfg.DeviceInfo, cfg.HeartbeatInterval, cfg.Logger)
	return c
}

// OpenScope 打开一个 scope：建 store、起轮询、订阅推送主题。
// 推送连不上不报错——正确性由轮询保证，推送只影响延迟。
func (c *SyncClient) OpenScope(ctx context.Context, scopeID string) {
	c.mu.Lock()
	if _, ok := c.pollers[scopeID]; ok {
		c.mu.Unlock()
		return
	}
	c.merger.Open(scopeID)

	interval := c.cfg.ChatPollInterval
	if strings.HasPrefix(scopeID, cons.ScopePrefixNotify) {
		interval = c.cfg.NotifyPollInterval
	}
	c.pollers[scopeID] = newPoller(scopeID, interval, c.cfg.Remote, c.merger, c.degrade)
	c.mu.Unlock()

	if c.conn != nil {
		c.conn.Subscribe(scopeID)
		if c.conn.State() != StateConnected {
			_ = c.conn.Connect(ctx)
		}
	}
}

// CloseScope 关闭 scope：停轮询、退订推送、丢弃 store。
// 之后迟到的拉取响应会被 Merger 按 scope 存活检查丢弃。
func (c *SyncClient) CloseScope(scopeID string) {
	c.mu.Lock()
	p := c.pollers[scopeID]
	delete(c.pollers, scopeID)
	c.mu.Unlock()

	if p != nil {
		p.Stop()
	}
	if c.conn != nil {
		c.conn.Unsubscribe(scopeID)
	}
	c.merger.Close(scopeID)
}

// OnAccepted 订阅 scope 的新事件（UI 刷新）。
func (c *SyncClient) OnAccepted(scopeID string, cb func(models.Event)) {
	c.merger.OnAccepted(scopeID, cb)
}

// OnEffect 订阅副作用触发（Toast 渲染）。
func (c *SyncClient) OnEffect(cb func(scopeID string, evt models.Event)) {
	c.dispatcher.OnEffect(cb)
}

// Snapshot scope 当前事件的只读副本。
func (c *SyncClient) Snapshot(scopeID string) []models.Event {
	return c.merger.Snapshot(scopeID)
}

// ConnectionState 推送通道状态；没配网关时视为 disconnected。
func (c *SyncClient) ConnectionState() ConnState {
	if c.conn == nil {
		return StateDisconnected
	}
	return c.conn.State()
}

// OnConnectionStateChange 订阅推送连接状态变化。
func (c *SyncClient) OnConnectionStateChange(cb func(ConnState)) {
	if c.conn != nil {
		c.conn.OnStateChange(cb)
	}
}

// StartPresence 启动在线心跳（进程级，一次即可）。
func (c *SyncClient) StartPresence(ctx context.Context) error {
	return c.tracker.Start(ctx)
}

// StopPresence 结束在线心跳（应用退出/页面卸载钩子调用）。
func (c *SyncClient) StopPresence() {
	c.tracker.Stop()
}

// EnsurePresence 页面重新可见时调用，补救可能丢失的心跳定时器。
func (c *SyncClient) EnsurePresence() {
	c.tracker.EnsureRunning()
}

// Presence 心跳跟踪器（观测用）。
func (c *SyncClient) Presence() *HeartbeatTracker {
	return c.tracker
}

// Shutdown 整体退出：关全部 scope、断推送、停心跳。
func (c *SyncClient) Shutdown() {
	c.mu.Lock()
	scopes := make([]string, 0, len(c.pollers))
	for s := range c.pollers {
		scopes = append(scopes, s)
	}
	c.mu.Unlock()

	for _, s := range scopes {
		c.CloseScope(s)
	}
	if c.conn != nil {
		c.conn.Close()
	}
	c.tracker.Stop()
}
