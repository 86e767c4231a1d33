package ws

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

var errClientClosed = errors.New("client closed")

// Envelope 双向统一的消息格式
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type outbound struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

// Client 单个 ws 连接：send 缓冲满时丢弃消息
type Client struct {
	id      string // 注册前分配，之后只读
	conn    *websocket.Conn
	send    chan []byte
	limiter *rate.Limiter
	opts    Options

	mu     sync.Mutex
	closed bool
}

func newClient(id string, conn *websocket.Conn, opts Options) *Client {
	return &Client{
		id:      id,
		conn:    conn,
		send:    make(chan []byte, opts.SendBuffer),
		limiter: rate.NewLimiter(rate.Limit(opts.RatePerSec), opts.Burst),
		opts:    opts,
	}
}

// Emit 实现 port.Emitter，不阻塞
func (c *Client) Emit(event string, payload any) error {
	b, err := json.Marshal(outbound{Event: event, Data: payload})
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errClientClosed
	}
	select {
	case c.send <- b:
		return nil
	default:
		log.Warn().Str("client", c.id).Str("event", event).Msg("send buffer full, message dropped")
		return nil
	}
}

func (c *Client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

// readPump 读取客户端事件，返回时连接已失效
func (c *Client) readPump(ctx context.Context, h Handler) {
	c.conn.SetReadLimit(c.opts.ReadLimit)
	_ = c.conn.SetReadDeadline(time.Now().Add(c.opts.PongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(c.opts.PongWait))
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Warn().Err(err).Str("client", c.id).Msg("websocket read error")
			}
			return
		}

		if !c.limiter.Allow() {
			_ = c.Emit("error", map[string]string{"message": "rate limit exceeded"})
			continue
		}

		var env Envelope
		if err := json.Unmarshal(message, &env); err != nil || env.Event == "" {
			_ = c.Emit("error", map[string]string{"message": "invalid message envelope"})
			continue
		}
		h.HandleEvent(ctx, c.id, env.Event, env.Data)
	}
}

// writePump 将 send 中的消息写出，并定期 ping
func (c *Client) writePump() {
	ticker := time.NewTicker(c.opts.PingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.opts.WriteWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Debug().Err(err).Str("client", c.id).Msg("websocket write error")
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.opts.WriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
