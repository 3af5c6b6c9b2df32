package client

import (
	"bytes"
	"context"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cydxin/sync-sdk/cons"
	"github.com/cydxin/sync-sdk/message"
	"github.com/cydxin/sync-sdk/models"
	"github.com/gorilla/websocket"
)

// testGateway 测试用推送网关：收订阅帧、按 topic 下发信封。
type testGateway struct {
	srv *httptest.Server

	mu    sync.Mutex
	conns map[*websocket.Conn]map[string]struct{}
}

func newTestGateway(t *testing.T) *testGateway {
	t.Helper()
	g := &testGateway{conns: make(map[*websocket.Conn]map[string]struct{})}
	up := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	g.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		g.mu.Lock()
		g.conns[conn] = make(map[string]struct{})
		g.mu.Unlock()
		for {
			var req message.SubscribeReq
			if err := conn.ReadJSON(&req); err != nil {
				g.mu.Lock()
				delete(g.conns, conn)
				g.mu.Unlock()
				_ = conn.Close()
				return
			}
			g.mu.Lock()
			switch req.Action {
			case message.WsActionSubscribe:
				g.conns[conn][req.Topic] = struct{}{}
			case message.WsActionUnsubscribe:
				delete(g.conns[conn], req.Topic)
			}
			g.mu.Unlock()
		}
	}))
	t.Cleanup(g.srv.Close)
	return g
}

func (g *testGateway) wsURL() string {
	return "ws" + strings.TrimPrefix(g.srv.URL, "http")
}

// topics 当前全部连接上已登记的 topic 集合。
func (g *testGateway) topics() map[string]int {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make(map[string]int)
	for _, topics := range g.conns {
		for topic := range topics {
			out[topic]++
		}
	}
	return out
}

func (g *testGateway) connCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.conns)
}

// push 向订阅了 topic 的连接下发一条事件信封。
func (g *testGateway) push(t *testing.T, topic string, evt models.Event) {
	t.Helper()
	env, err := message.NewEnvelope(topic, cons.PushEventCreated, &evt)
	if err != nil {
		t.Fatalf("build envelope: %v", err)
	}
	data, err := env.Encode()
	if err != nil {
		t.Fatalf("encode envelope: %v", err)
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	for conn, topics := range g.conns {
		if _, ok := topics[topic]; ok {
			_ = conn.WriteMessage(websocket.TextMessage, data)
		}
	}
}

func TestConnectionManager_InitialStateDisconnected(t *testing.T) {
	m := NewMerger(200, NewEffectDispatcher())
	c := NewConnectionManager("ws://127.0.0.1:1", "sync:", m, nil, 0)
	if c.State() != StateDisconnected {
		t.Fatalf("expected disconnected before first connect, got %s", c.State())
	}
}

func TestConnectionManager_ConnectAndReceive(t *testing.T) {
	gw := newTestGateway(t)
	m := NewMerger(200, NewEffectDispatcher())
	m.Open("chat.general")

	c := NewConnectionManager(gw.wsURL(), "sync:", m, nil, 0)
	defer c.Close()

	c.Subscribe("chat.general") // 未连接：只登记
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	if c.State() != StateConnected {
		t.Fatalf("expected connected, got %s", c.State())
	}

	// 连接建立后重放订阅帧
	waitFor(t, 2*time.Second, func() bool {
		return gw.topics()["sync:chat.general"] == 1
	})

	gw.push(t, "sync:chat.general", mkEvent(7, time.Now()))
	waitFor(t, 2*time.Second, func() bool {
		return len(m.Snapshot("chat.general")) == 1
	})
	if m.Snapshot("chat.general")[0].ID != 7 {
		t.Fatalf("unexpected event merged: %+v", m.Snapshot("chat.general"))
	}
}

func TestConnectionManager_SingleLiveConnection(t *testing.T) {
	gw := newTestGateway(t)
	m := NewMerger(200, NewEffectDispatcher())

	c := NewConnectionManager(gw.wsURL(), "sync:", m, nil, 0)
	defer c.Close()

	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	// 已连接时再 Connect 是幂等 no-op
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("repeat connect: %v", err)
	}

	waitFor(t, 2*time.Second, func() bool { return gw.connCount() == 1 })
	time.Sleep(50 * time.Millisecond)
	if n := gw.connCount(); n != 1 {
		t.Fatalf("expected a single live connection, got %d", n)
	}
}

func TestConnectionManager_SubscribeUnsubscribeFrames(t *testing.T) {
	gw := newTestGateway(t)
	m := NewMerger(200, NewEffectDispatcher())

	c := NewConnectionManager(gw.wsURL(), "sync:", m, nil, 0)
	defer c.Close()
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}

	c.Subscribe("notify.7")
	waitFor(t, 2*time.Second, func() bool {
		return gw.topics()["sync:notify.7"] == 1
	})

	c.Unsubscribe("notify.7")
	waitFor(t, 2*time.Second, func() bool {
		return gw.topics()["sync:notify.7"] == 0
	})
}

func TestConnectionManager_ReadErrorMarksDisconnected(t *testing.T) {
	gw := newTestGateway(t)
	m := NewMerger(200, NewEffectDispatcher())

	c := NewConnectionManager(gw.wsURL(), "sync:", m, nil, 0)
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}

	var mu sync.Mutex
	var states []ConnState
	c.OnStateChange(func(s ConnState) {
		mu.Lock()
		states = append(states, s)
		mu.Unlock()
	})

	// 网关整个关掉，读循环应感知断开
	gw.srv.CloseClientConnections()
	waitFor(t, 2*time.Second, func() bool {
		return c.State() == StateDisconnected
	})

	mu.Lock()
	defer mu.Unlock()
	if len(states) == 0 || states[len(states)-1] != StateDisconnected {
		t.Fatalf("expected disconnected notification, got %v", states)
	}
}

func TestConnectionManager_StateChangesDeliveredInOrder(t *testing.T) {
	gw := newTestGateway(t)
	m := NewMerger(200, NewEffectDispatcher())

	c := NewConnectionManager(gw.wsURL(), "sync:", m, nil, 0)
	defer c.Close()

	var mu sync.Mutex
	var states []ConnState
	first := true
	c.OnStateChange(func(s ConnState) {
		// 第一次回调故意拖慢：后续变更不得插队
		if first {
			first = false
			time.Sleep(50 * time.Millisecond)
		}
		mu.Lock()
		states = append(states, s)
		mu.Unlock()
	})

	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}

	waitFor(t, 2*time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(states) >= 2
	})

	mu.Lock()
	defer mu.Unlock()
	if states[0] != StateConnecting || states[1] != StateConnected {
		t.Fatalf("state changes out of order: %v", states)
	}
}

func TestConnectionManager_HandshakeGraceSuppressesLog(t *testing.T) {
	m := NewMerger(200, NewEffectDispatcher())

	var buf bytes.Buffer
	logger := log.New(&buf, "", 0)

	// 宽限窗口内：握手失败不刷日志，但状态照常变 failed
	c := NewConnectionManager("ws://127.0.0.1:1", "sync:", m, logger, time.Hour)
	if err := c.Connect(context.Background()); err == nil {
		t.Fatalf("expected connect failure")
	}
	if c.State() != StateFailed {
		t.Fatalf("expected failed state, got %s", c.State())
	}
	if buf.Len() != 0 {
		t.Fatalf("handshake failure inside grace window should not log, got: %s", buf.String())
	}
}

func TestConnectionManager_FailureAfterGraceWindowLogs(t *testing.T) {
	m := NewMerger(200, NewEffectDispatcher())

	var buf bytes.Buffer
	logger := log.New(&buf, "", 0)

	c := NewConnectionManager("ws://127.0.0.1:1", "sync:", m, logger, time.Nanosecond)
	if err := c.Connect(context.Background()); err == nil {
		t.Fatalf("expected connect failure")
	}
	if !strings.Contains(buf.String(), "failed") {
		t.Fatalf("failure past grace window should log, got: %s", buf.String())
	}
}
