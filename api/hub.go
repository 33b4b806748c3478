package api

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"sip-core/flow"
	"sip-core/infrastructure/logger"
	"sip-core/infrastructure/monitor"
	"sip-core/internal/store"
	"sip-core/sipconfig"
)

const (
	writeWait  = 5 * time.Second
	sendBuffer = 8
)

// MessageTypeConfig is the type of every message pushed by the hub.
const MessageTypeConfig = "sip_config"

// Message 推送给前端的消息
type Message struct {
	Type   string                     `json:"type"`
	Config sipconfig.SipConfiguration `json:"config"`
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

type client struct {
	conn *websocket.Conn
	send chan []byte
}

// Hub 维护 websocket 客户端，连接时与配置变更时推送当前 sip_config。
type Hub struct {
	current func() (sipconfig.SipConfiguration, error)
	log     *logger.Logger
	monitor *monitor.Monitor

	mu      sync.Mutex
	clients map[*client]struct{}
	closed  bool
}

// NewHub current 返回连接时要推送的配置。
func NewHub(current func() (sipconfig.SipConfiguration, error), log *logger.Logger, mon *monitor.Monitor) *Hub {
	if log == nil {
		log = logger.Nop()
	}
	return &Hub{
		current: current,
		log:     log,
		monitor: mon,
		clients: make(map[*client]struct{}),
	}
}

// ServeWS upgrades the request and blocks until the client goes away.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.LogError(err, map[string]interface{}{"component": "ws_hub", "action": "upgrade"})
		return
	}

	c := &client{conn: conn, send: make(chan []byte, sendBuffer)}
	if !h.register(c) {
		_ = conn.Close()
		return
	}

	cfg, err := h.current()
	if err != nil {
		h.log.LogError(err, map[string]interface{}{"component": "ws_hub", "action": "initial_push"})
	} else {
		h.enqueue(c, cfg)
	}

	go h.writePump(c)
	h.readPump(c)
}

// Broadcast pushes cfg to every connected client. Slow clients drop the message.
func (h *Hub) Broadcast(cfg sipconfig.SipConfiguration) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		h.enqueueLocked(c, cfg)
	}
}

// OnStoreEvent 是 store.EventSink：sip_core 条目的选项变化时广播
func (h *Hub) OnStoreEvent(event string, e store.Entry) {
	if event != "options_updated" || e.Domain != flow.Domain {
		return
	}
	cfg, err := sipconfig.Validate(e.Options[sipconfig.OptionKey])
	if err != nil {
		h.log.LogError(err, map[string]interface{}{"component": "ws_hub", "action": "broadcast", "entry": e.ID})
		return
	}
	h.Broadcast(cfg)
}

// Clients 返回当前连接数
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Close 断开所有客户端，之后的连接会被拒绝
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	conns := make([]*websocket.Conn, 0, len(h.clients))
	for c := range h.clients {
		conns = append(conns, c.conn)
	}
	h.mu.Unlock()

	for _, conn := range conns {
		_ = conn.Close()
	}
}

func (h *Hub) register(c *client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.clients[c] = struct{}{}
	if h.monitor != nil {
		h.monitor.RecordWSConnection()
	}
	return true
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	close(c.send)
	if h.monitor != nil {
		h.monitor.RecordWSDisconnect()
	}
}

func (h *Hub) enqueue(c *client, cfg sipconfig.SipConfiguration) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		h.enqueueLocked(c, cfg)
	}
}

func (h *Hub) enqueueLocked(c *client, cfg sipconfig.SipConfiguration) {
	payload, err := json.Marshal(Message{Type: MessageTypeConfig, Config: cfg})
	if err != nil {
		h.log.LogError(err, map[string]interface{}{"component": "ws_hub", "action": "marshal"})
		return
	}
	select {
	case c.send <- payload:
		if h.monitor != nil {
			h.monitor.RecordWSPush()
		}
	default:
		h.log.Warn("ws client too slow, message dropped")
	}
}

func (h *Hub) writePump(c *client) {
	for payload := range c.send {
		_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			// readPump 会因连接关闭而退出并注销
			_ = c.conn.Close()
			for range c.send {
			}
			return
		}
	}
}

// readPump 丢弃客户端消息，只用于感知断开
func (h *Hub) readPump(c *client) {
	defer func() {
		h.unregister(c)
		_ = c.conn.Close()
	}()
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}
