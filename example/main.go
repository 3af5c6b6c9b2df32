package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	sync_sdk "github.com/cydxin/sync-sdk"
	"github.com/cydxin/sync-sdk/client"
	"github.com/cydxin/sync-sdk/conf"
	"github.com/cydxin/sync-sdk/models"
	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
)

func main() {
	// 1. 加载配置
	cfgPath := "config.yaml"
	if len(os.Args) > 1 {
		cfgPath = os.Args[1]
	}
	cfg, err := conf.Load(cfgPath)
	if err != nil {
		log.Fatal("配置加载失败:", err)
	}

	// 2. 初始化数据库 / Redis
	db, err := gorm.Open(mysql.Open(cfg.MySQL.DSN), &gorm.Config{})
	if err != nil {
		log.Fatal("数据库连接失败:", err)
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	// 3. 初始化 Sync Engine（单例模式，全局只需调用一次）
	engine := sync_sdk.NewEngine(
		sync_sdk.WithDB(db),
		sync_sdk.WithRDB(rdb),
		sync_sdk.WithChannelPrefix(cfg.Sync.ChannelPrefix),
		sync_sdk.WithSessionTimeout(cfg.Presence.SessionTimeout),
	)

	// 会话超时清扫（客户端的 end 信号是尽力而为，这里兜底）
	stopSweeper := engine.StartSessionSweeper(context.Background(), cfg.Presence.SweepEvery)
	defer stopSweeper()

	// 4. 路由
	r := gin.Default()

	// 推送网关 WS 端点
	// 客户端连接：ws://localhost:8080/ws
	r.GET("/ws", func(c *gin.Context) {
		engine.ServeWS(c.Writer, c.Request)
	})

	engine.RegisterRoutes(r.Group("/api/v1"))

	go func() {
		log.Println("Sync Server 启动在", cfg.Server.Addr)
		if err := r.Run(cfg.Server.Addr); err != nil {
			log.Fatal("服务器启动失败:", err)
		}
	}()

	// 5. 演示客户端：打开两个 scope，订阅新事件和通知副作用
	time.Sleep(500 * time.Millisecond)
	sc := client.New(
		client.WithBaseURL("http://localhost:8080"),
		client.WithGatewayURL("ws://localhost:8080/ws"),
		client.WithChannelPrefix(cfg.Sync.ChannelPrefix),
		client.WithDeviceInfo("example/linux"),
	)

	sc.OnEffect(func(scopeID string, evt models.Event) {
		log.Printf("🔔 notification %d in %s", evt.ID, scopeID)
	})

	ctx := context.Background()
	sc.OpenScope(ctx, "chat.general")
	sc.OpenScope(ctx, "notify.1001")
	sc.OnAccepted("chat.general", func(evt models.Event) {
		log.Printf("💬 message %d: %s", evt.ID, string(evt.Payload))
	})

	if err := sc.StartPresence(ctx); err != nil {
		log.Printf("presence start failed: %v", err)
	}

	// 6. 退出清理：结束心跳会话、断开推送
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	sc.Shutdown()
}
