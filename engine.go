package sync_sdk

import (
	"context"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/cydxin/sync-sdk/service"
)

// SyncEngine 服务端引擎：事件权威存储 + 推送网关 + 在线会话。
// 客户端（client 包）的轮询和心跳打到这里暴露的 REST 路由，
// 推送通道连到 Gateway 的 WS 端点。
type SyncEngine struct {
	config *Config

	EventService    *service.EventService
	PresenceService *service.PresenceService
	Gateway         *PushGateway
}

var (
	Instance *SyncEngine
	once     sync.Once
)

// NewEngine 创建实例
// 使用选项模式传入配置，Option回调
func NewEngine(opts ...Option) *SyncEngine {
	once.Do(func() {
		c := defaultConfig()
		for _, opt := range opts {
			opt(c)
		}

		Instance = &SyncEngine{config: c}

		// 初始化基础 Service
		baseService := &service.Service{
			DB:            c.DB,
			RDB:           c.RDB,
			ChannelPrefix: c.ChannelPrefix,
		}

		Instance.EventService = service.NewEventService(baseService)
		Instance.PresenceService = service.NewPresenceService(baseService)

		// 初始化推送网关：PSUBSCRIBE 事件主题，转发给订阅了对应 topic 的 WS 客户端
		Instance.Gateway = NewPushGateway(c.RDB, c.ChannelPrefix)
		go Instance.Gateway.Run(context.Background())

		// 迁移表
		if err := Instance.AutoMigrate(); err != nil {
			log.Printf("AutoMigrate failed: %v", err)
		}
	})

	return Instance
}

// ServeWS 推送网关的 WS 入口。
func (c *SyncEngine) ServeWS(w http.ResponseWriter, r *http.Request) {
	c.Gateway.ServeWS(w, r)
}

// StartSessionSweeper 周期清扫心跳超时的在线会话（服务端兜底：
// 客户端的「结束会话」信号是尽力而为，可能永远到不了）。
// 返回停止函数。
func (c *SyncEngine) StartSessionSweeper(ctx context.Context, every time.Duration) context.CancelFunc {
	if every <= 0 {
		every = time.Minute
	}
	ctx, cancel := context.WithCancel(ctx)
	go func() {
		ticker := time.NewTicker(every)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				n, err := c.PresenceService.SweepExpiredSessions(ctx, c.config.SessionTimeout)
				if err != nil {
					log.Printf("session sweep failed: %v", err)
				} else if n > 0 {
					log.Printf("session sweep: ended %d expired sessions", n)
				}
			}
		}
	}()
	return cancel
}
