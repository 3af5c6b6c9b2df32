package sync_sdk

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/cydxin/sync-sdk/message"
	"github.com/go-redis/redis/v8"
	"github.com/gorilla/websocket"
)

const (
	// Time 写入超时时间
	writeWait = 10 * time.Second

	// Time pong超时时间
	pongWait = 60 * time.Second

	// Send 对应的ping 必须小于pong
	pingPeriod = (pongWait * 9) / 10

	// Maximum 对等端允许消息大小（订阅帧很小，放宽到 4K 防御即可）
	maxMessageSize = 4096
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins for SDK
	},
}

// gatewayClient 一条具体的 WS 连接及其订阅集合。
type gatewayClient struct {
	hub *PushGateway

	// 🔗链接
	conn *websocket.Conn

	// 消息缓冲区
	send chan []byte
}

// subscribeOp 订阅/退订操作，由 readPump 投给 hub 主循环处理
type subscribeOp struct {
	client *gatewayClient
	topic  string
	add    bool
}

// PushGateway 推送网关 hub：
// - WS 客户端按 topic 订阅/退订；
// - PSUBSCRIBE prefix* 收服务端 PUBLISH 的事件，原样转发给订阅者。
// 订阅表只在 Run 主循环里改动，不需要额外加锁。
type PushGateway struct {
	rdb    *redis.Client
	prefix string

	// topic -> 订阅了它的连接
	topics map[string]map[*gatewayClient]struct{}
	// 连接 -> 它订阅的 topic（unregister 时反向清理用）
	clients map[*gatewayClient]map[string]struct{}

	register   chan *gatewayClient
	unregister chan *gatewayClient
	subscribe  chan subscribeOp
}

func NewPushGateway(rdb *redis.Client, prefix string) *PushGateway {
	return &PushGateway{
		rdb:        rdb,
		prefix:     prefix,
		topics:     make(map[string]map[*gatewayClient]struct{}),
		clients:    make(map[*gatewayClient]map[string]struct{}),
		register:   make(chan *gatewayClient),
		unregister: make(chan *gatewayClient),
		subscribe:  make(chan subscribeOp),
	}
}

func (h *PushGateway) Run(ctx context.Context) {
	var feed <-chan *redis.Message
	if h.rdb != nil {
		ps := h.rdb.PSubscribe(ctx, h.prefix+"*")
		defer ps.Close()
		feed = ps.Channel()
	}

	for {
		select {
		case <-ctx.Done():
			return

		case client := <-h.register:
			h.clients[client] = make(map[string]struct{})

		case client := <-h.unregister:
			if topics, ok := h.clients[client]; ok {
				for topic := range topics {
					h.dropFromTopic(client, topic)
				}
				delete(h.clients, client)
				close(client.send)
			}

		case op := <-h.subscribe:
			if _, ok := h.clients[op.client]; !ok {
				// 连接已注销，迟到的订阅帧直接丢
				continue
			}
			if op.add {
				if h.topics[op.topic] == nil {
					h.topics[op.topic] = make(map[*gatewayClient]struct{})
				}
				h.topics[op.topic][op.client] = struct{}{}
				h.clients[op.client][op.topic] = struct{}{}
			} else {
				h.dropFromTopic(op.client, op.topic)
				delete(h.clients[op.client], op.topic)
			}

		case msg, ok := <-feed:
			if !ok {
				return
			}
			// msg.Channel 即 topic；消息体是 message.Envelope，原样转发
			for client := range h.topics[msg.Channel] {
				select {
				case client.send <- []byte(msg.Payload):
				default:
					// 写缓冲满：慢客户端，丢消息避免阻塞 hub；
					// 客户端靠轮询兜底补齐
				}
			}
		}
	}
}

// dropFromTopic 只清 topic 侧的索引。
func (h *PushGateway) dropFromTopic(client *gatewayClient, topic string) {
	if subs, ok := h.topics[topic]; ok {
		delete(subs, client)
		if len(subs) == 0 {
			delete(h.topics, topic)
		}
	}
}

// ServeWS 处理ws的请求
func (h *PushGateway) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Println(err)
		return
	}

	client := &gatewayClient{
		hub:  h,
		conn: conn,
		send: make(chan []byte, 256),
	}
	h.register <- client

	go client.writePump()
	go client.readPump()
}

// readPump 收订阅/退订帧，转投 hub 主循环。
func (c *gatewayClient) readPump() {
	defer func() {
		c.hub.unregister <- c
		_ = c.conn.Close()
	}()
	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error { _ = c.conn.SetReadDeadline(time.Now().Add(pongWait)); return nil })
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				log.Printf("gateway readPump error: %v", err)
			}
			break
		}

		var req message.SubscribeReq
		if err := json.Unmarshal(data, &req); err != nil {
			log.Printf("invalid subscribe frame: %v", err)
			continue
		}
		switch req.Action {
		case message.WsActionSubscribe:
			c.hub.subscribe <- subscribeOp{client: c, topic: req.Topic, add: true}
		case message.WsActionUnsubscribe:
			c.hub.subscribe <- subscribeOp{client: c, topic: req.Topic, add: false}
		default:
			log.Printf("unknown ws action: %s", req.Action)
		}
	}
}

// writePump 把 hub 投来的消息写给对端，周期 ping 保活。
func (c *gatewayClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()
	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
