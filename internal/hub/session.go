package hub

import (
	log "log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
)

// Conn 抽象底层 websocket 连接，测试替换为内存实现
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	SetWriteDeadline(t time.Time) error
	SetReadDeadline(t time.Time) error
	SetReadLimit(limit int64)
	SetPongHandler(h func(appData string) error)
	Close() error
}

// Session 一条已鉴权的在线连接
// 写由独立协程串行化，Push 只负责入队；慢客户端塞满缓冲后整条连接淘汰，
// 靠重连后的 REST 补偿找回消息
type Session struct {
	ID              string
	UserID          uint64
	AuthenticatedAt time.Time

	hub    *Hub
	conn   Conn
	send   chan []byte
	closed chan struct{}
}

func newSession(h *Hub, conn Conn, userID uint64, buffer int) *Session {
	return &Session{
		ID:              uuid.NewString(),
		UserID:          userID,
		AuthenticatedAt: time.Now(),
		hub:             h,
		conn:            conn,
		send:            make(chan []byte, buffer),
		closed:          make(chan struct{}),
	}
}

// Push 入队待发载荷，连接已关闭或缓冲打满时报错
func (s *Session) Push(payload []byte) error {
	select {
	case <-s.closed:
		return errors.New("session closed")
	default:
	}

	select {
	case s.send <- payload:
		return nil
	default:
		s.Close(websocket.CloseGoingAway, "send buffer full")
		return errors.New("session send buffer exceeded")
	}
}

// Close 幂等关闭，终止写协程
func (s *Session) Close(code int, reason string) {
	select {
	case <-s.closed:
		return
	default:
	}
	close(s.closed)

	_ = s.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(code, reason), time.Now().Add(writeWait))
	_ = s.conn.Close()
}

// ReadLoop 阻塞读取客户端事件直到连接断开，调用方负责 Unregister
func (s *Session) ReadLoop() {
	s.conn.SetReadLimit(s.hub.maxMessageSize)
	_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Warn("WS 连接异常断开", "userID", s.UserID, "sessionID", s.ID, "err", err)
			}
			return
		}
		s.hub.handleInbound(s, raw)
	}
}

func (s *Session) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-s.closed:
			return
		case payload := <-s.send:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				s.Close(websocket.CloseAbnormalClosure, "write failed")
				return
			}
		case <-ticker.C:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				s.Close(websocket.CloseAbnormalClosure, "ping failed")
				return
			}
		}
	}
}
