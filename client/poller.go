package client

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/cydxin/sync-sdk/models"
)

// 轮询间隔默认值：聊天 3s，通知流 5s。推送健康时轮询只是安全网。
const (
	DefaultChatPollInterval   = 3 * time.Second
	DefaultNotifyPollInterval = 5 * time.Second
)

// degradeLog 「每个端点只告警一次」的日志闸门。
// 增量端点持续 5xx 时每个 tick 都会降级，不能每次都刷一行日志。
type degradeLog struct {
	mu     sync.Mutex
	logged map[string]bool
	logger *log.Logger
}

func newDegradeLog(logger *log.Logger) *degradeLog {
	if logger == nil {
		logger = log.Default()
	}
	return &degradeLog{logged: make(map[string]bool), logger: logger}
}

// warnOnce 首次记录该端点的降级，之后静默。
func (d *degradeLog) warnOnce(endpoint string, err error) {
	d.mu.Lock()
	already := d.logged[endpoint]
	d.logged[endpoint] = true
	d.mu.Unlock()
	if !already {
		d.logger.Printf("endpoint %s degraded, falling back to full fetch: %v", endpoint, err)
	}
}

// Poller 单个 scope 的定时拉取器：不管推送通道是否健康都照常跑。
// - store 为空（无游标）：全量拉取（bootstrap）。
// - 有游标：增量拉取 since=cursor。
// - 网络错误：本轮吞掉，下个 tick 重试（不升级退避，轮询本身就是兜底）。
// - 增量端点服务端错误：本轮降级全量 + 每端点只告警一次。
// 拉到的事件一律交给 Merger，绝不直接写 store。
type Poller struct {
	scopeID string
	remote  Remote
	merger  *Merger
	degrade *degradeLog

	cancel context.CancelFunc
	done   chan struct{}
}

// newPoller 启动轮询 goroutine。定时器的生命周期归 scope 所有，
// Stop（scope 关闭）同步等 goroutine 退出。
func newPoller(scopeID string, interval time.Duration, remote Remote, merger *Merger, degrade *degradeLog) *Poller {
	ctx, cancel := context.WithCancel(context.Background())
	p := &Poller{
		scopeID: scopeID,
		remote:  remote,
		merger:  merger,
		degrade: degrade,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	go p.run(ctx, interval)
	return p
}

func (p *Poller) run(ctx context.Context, interval time.Duration) {
	defer close(p.done)

	// 启动即拉一次（bootstrap），之后按固定间隔
	p.tick(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.tick(ctx)
		}
	}
}

func (p *Poller) tick(ctx context.Context) {
	cursor, ok := p.merger.Cursor(p.scopeID)

	if !ok {
		p.fetchFull(ctx)
		return
	}

	events, err := p.remote.FetchSince(ctx, p.scopeID, cursor)
	if err != nil {
		if errors.Is(err, ErrEndpointDegraded) {
			p.degrade.warnOnce("sync/events/since", err)
			p.fetchFull(ctx)
		}
		// 传输层错误：吞掉，下个 tick 重试
		return
	}
	p.offerAll(events)
}

func (p *Poller) fetchFull(ctx context.Context) {
	events, err := p.remote.FetchFull(ctx, p.scopeID)
	if err != nil {
		return
	}
	p.offerAll(events)
}

func (p *Poller) offerAll(events []models.Event) {
	for _, evt := range events {
		p.merger.Offer(p.scopeID, evt)
	}
}

// Stop 停止轮询并等待本轮结束。幂等。
func (p *Poller) Stop() {
	p.cancel()
	<-p.done
}
