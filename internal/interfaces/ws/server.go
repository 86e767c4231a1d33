package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"xhub/internal/application/port"
)

// Handler 业务侧的会话接口，由 realtime.Gateway 实现
type Handler interface {
	Connect(clientID string, e port.Emitter) string
	Disconnect(clientID string)
	HandleEvent(ctx context.Context, clientID, event string, data json.RawMessage)
}

type Options struct {
	SendBuffer int
	RatePerSec float64
	Burst      int
	ReadLimit  int64
	PongWait   time.Duration
	PingPeriod time.Duration
	WriteWait  time.Duration
}

func (o *Options) applyDefaults() {
	if o.SendBuffer <= 0 {
		o.SendBuffer = 256
	}
	if o.RatePerSec <= 0 {
		o.RatePerSec = 20
	}
	if o.Burst <= 0 {
		o.Burst = 50
	}
	if o.ReadLimit <= 0 {
		o.ReadLimit = 64 * 1024
	}
	if o.PongWait <= 0 {
		o.PongWait = 60 * time.Second
	}
	if o.PingPeriod <= 0 || o.PingPeriod >= o.PongWait {
		o.PingPeriod = o.PongWait * 9 / 10
	}
	if o.WriteWait <= 0 {
		o.WriteWait = 10 * time.Second
	}
}

// Server 升级 HTTP 连接并为每个客户端启动读写协程
type Server struct {
	handler  Handler
	opts     Options
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*Client]struct{}
}

func NewServer(h Handler, opts Options) *Server {
	opts.applyDefaults()
	return &Server{
		handler: h,
		opts:    opts,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		clients: make(map[*Client]struct{}),
	}
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Str("remote", r.RemoteAddr).Msg("websocket upgrade failed")
		return
	}

	c := newClient(uuid.NewString(), conn, s.opts)
	s.mu.Lock()
	s.clients[c] = struct{}{}
	s.mu.Unlock()

	s.handler.Connect(c.id, c)
	go c.writePump()

	c.readPump(r.Context(), s.handler)

	s.handler.Disconnect(c.id)
	c.close()
	s.mu.Lock()
	delete(s.clients, c)
	s.mu.Unlock()
}

// Clients 当前连接数
func (s *Server) Clients() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

// Close 关闭全部连接，http.Server.Shutdown 不处理已升级的连接
func (s *Server) Close() error {
	s.mu.Lock()
	clients := make([]*Client, 0, len(s.clients))
	for c := range s.clients {
		clients = append(clients, c)
	}
	s.mu.Unlock()

	for _, c := range clients {
		_ = c.conn.Close()
	}
	return nil
}
