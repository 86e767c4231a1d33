package exchange

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

var ErrStreamClosed = errors.New("stream closed")

// Protocol 交易所 WS 协议差异
type Protocol interface {
	// SubscribeMessages 构造订阅请求
	SubscribeMessages(topics []string) ([][]byte, error)
	// Handle 解析一条消息，返回 topic 与数据；ok=false 表示心跳/确认等控制消息
	// 返回 err 时 topic 可为空，表示无法归属到具体 topic
	Handle(msg []byte) (topic string, payload any, ok bool, err error)
	// KeepAlive 应用层心跳，返回 nil 时发送 ws ping 帧
	KeepAlive() []byte
}

// StreamOptions 连接参数
type StreamOptions struct {
	Name         string
	URL          string
	Header       http.Header
	DialTimeout  time.Duration
	PingInterval time.Duration
	ReadTimeout  time.Duration
}

func (o *StreamOptions) applyDefaults() {
	if o.DialTimeout <= 0 {
		o.DialTimeout = 10 * time.Second
	}
	if o.PingInterval <= 0 {
		o.PingInterval = 25 * time.Second
	}
	if o.ReadTimeout <= 0 {
		o.ReadTimeout = 60 * time.Second
	}
}

type streamResult struct {
	topic   string
	payload any
	err     error
}

type waiter struct {
	ch chan streamResult
}

// Stream 单连接多 topic 复用
//
// 连接在第一次 Watch 时建立；断线后所有等待者收到错误，下一次 Watch 重新连接并重新订阅。
// Watch 只返回调用之后到达的更新。
type Stream struct {
	opts  StreamOptions
	proto Protocol

	dialMu  sync.Mutex
	writeMu sync.Mutex

	mu         sync.Mutex
	conn       *websocket.Conn
	subscribed map[string]bool
	waiters    map[string]map[*waiter]struct{}
	closed     bool
}

// NewStream 创建 Stream，不会立即连接
func NewStream(opts StreamOptions, proto Protocol) *Stream {
	opts.applyDefaults()
	return &Stream{
		opts:       opts,
		proto:      proto,
		subscribed: make(map[string]bool),
		waiters:    make(map[string]map[*waiter]struct{}),
	}
}

// Watch 订阅 topics 并等待其中任意一个的下一次更新
func (s *Stream) Watch(ctx context.Context, topics ...string) (string, any, error) {
	if len(topics) == 0 {
		return "", nil, errors.New("no topics")
	}

	w := &waiter{ch: make(chan streamResult, 1)}
	s.addWaiter(w, topics)
	defer s.removeWaiter(w, topics)

	conn, err := s.connect(ctx)
	if err != nil {
		return "", nil, err
	}
	if err := s.subscribe(conn, topics); err != nil {
		return "", nil, err
	}

	select {
	case <-ctx.Done():
		return "", nil, ctx.Err()
	case r := <-w.ch:
		return r.topic, r.payload, r.err
	}
}

// Close 关闭连接，之后的 Watch 返回 ErrStreamClosed
func (s *Stream) Close() error {
	s.mu.Lock()
	s.closed = true
	conn := s.conn
	s.conn = nil
	s.mu.Unlock()
	if conn != nil {
		return conn.Close()
	}
	return nil
}

func (s *Stream) addWaiter(w *waiter, topics []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range topics {
		set, ok := s.waiters[t]
		if !ok {
			set = make(map[*waiter]struct{})
			s.waiters[t] = set
		}
		set[w] = struct{}{}
	}
}

func (s *Stream) removeWaiter(w *waiter, topics []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range topics {
		if set, ok := s.waiters[t]; ok {
			delete(set, w)
			if len(set) == 0 {
				delete(s.waiters, t)
			}
		}
	}
}

func (s *Stream) connect(ctx context.Context) (*websocket.Conn, error) {
	s.dialMu.Lock()
	defer s.dialMu.Unlock()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrStreamClosed
	}
	if s.conn != nil {
		conn := s.conn
		s.mu.Unlock()
		return conn, nil
	}
	s.mu.Unlock()

	log.Debug().Str("stream", s.opts.Name).Str("url", s.opts.URL).Msg("ws connecting")
	cctx, cancel := context.WithTimeout(ctx, s.opts.DialTimeout)
	conn, _, err := websocket.DefaultDialer.DialContext(cctx, s.opts.URL, s.opts.Header)
	cancel()
	if err != nil {
		return nil, fmt.Errorf("%s ws dial: %w", s.opts.Name, err)
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		_ = conn.Close()
		return nil, ErrStreamClosed
	}
	s.conn = conn
	s.subscribed = make(map[string]bool)
	s.mu.Unlock()

	log.Info().Str("stream", s.opts.Name).Msg("ws connected")
	go s.readLoop(conn)
	return conn, nil
}

func (s *Stream) subscribe(conn *websocket.Conn, topics []string) error {
	s.mu.Lock()
	fresh := make([]string, 0, len(topics))
	for _, t := range topics {
		if !s.subscribed[t] {
			s.subscribed[t] = true
			fresh = append(fresh, t)
		}
	}
	s.mu.Unlock()
	if len(fresh) == 0 {
		return nil
	}

	msgs, err := s.proto.SubscribeMessages(fresh)
	if err != nil {
		s.forget(fresh)
		return err
	}
	for _, m := range msgs {
		if err := s.write(conn, m); err != nil {
			s.forget(fresh)
			_ = conn.Close()
			return fmt.Errorf("%s ws subscribe: %w", s.opts.Name, err)
		}
	}
	log.Debug().Str("stream", s.opts.Name).Strs("topics", fresh).Msg("ws subscribed")
	return nil
}

func (s *Stream) forget(topics []string) {
	s.mu.Lock()
	for _, t := range topics {
		delete(s.subscribed, t)
	}
	s.mu.Unlock()
}

func (s *Stream) write(conn *websocket.Conn, msg []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return conn.WriteMessage(websocket.TextMessage, msg)
}

func (s *Stream) readLoop(conn *websocket.Conn) {
	_ = conn.SetReadDeadline(time.Now().Add(s.opts.ReadTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(s.opts.ReadTimeout))
	})

	stop := make(chan struct{})
	go s.keepAlive(conn, stop)

	var err error
	for {
		var msg []byte
		_, msg, err = conn.ReadMessage()
		if err != nil {
			break
		}
		_ = conn.SetReadDeadline(time.Now().Add(s.opts.ReadTimeout))

		topic, payload, ok, herr := s.proto.Handle(msg)
		if herr != nil {
			s.fail(topic, herr)
			continue
		}
		if ok {
			s.deliver(streamResult{topic: topic, payload: payload})
		}
	}
	close(stop)
	_ = conn.Close()

	s.mu.Lock()
	if s.conn == conn {
		s.conn = nil
	}
	closed := s.closed
	s.mu.Unlock()

	if !closed {
		log.Warn().Str("stream", s.opts.Name).Err(err).Msg("ws disconnected")
	}
	s.fail("", err)
}

func (s *Stream) keepAlive(conn *websocket.Conn, stop <-chan struct{}) {
	ticker := time.NewTicker(s.opts.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if msg := s.proto.KeepAlive(); msg != nil {
				if err := s.write(conn, msg); err != nil {
					return
				}
				continue
			}
			if err := conn.WriteControl(websocket.PingMessage, []byte("ping"), time.Now().Add(5*time.Second)); err != nil {
				return
			}
		}
	}
}

func (s *Stream) deliver(r streamResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for w := range s.waiters[r.topic] {
		select {
		case w.ch <- r:
		default:
		}
	}
}

// fail 通知等待者；topic 为空时通知全部并清空订阅状态
func (s *Stream) fail(topic string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if topic != "" {
		delete(s.subscribed, topic)
		for w := range s.waiters[topic] {
			select {
			case w.ch <- streamResult{topic: topic, err: err}:
			default:
			}
		}
		return
	}

	s.subscribed = make(map[string]bool)
	for _, set := range s.waiters {
		for w := range set {
			select {
			case w.ch <- streamResult{err: err}:
			default:
			}
		}
	}
}
