package imclient

import (
	"JobNest/internal/api/dto"
	"JobNest/internal/hub"
	"context"
	log "log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
)

// Status 连接会话状态机
type Status int

const (
	StatusDisconnected Status = iota
	StatusConnecting
	StatusConnected
	StatusFailed // 重试耗尽的终态，需要显式再次 Connect
)

var (
	ErrNotConnected     = errors.New("imclient: not connected")
	ErrRetriesExhausted = errors.New("imclient: reconnect retries exhausted")
)

// Conn 底层连接抽象，测试注入内存实现
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// DialFunc 建连函数，默认实现基于 gorilla/websocket
type DialFunc func(ctx context.Context, wsURL string) (Conn, error)

// Options 客户端配置
// TokenProvider 延迟取凭证：每次建连（含重连）时取最新 token，
// 过期凭证在服务端握手校验时淘汰
type Options struct {
	BaseURL       string
	WSURL         string
	UserID        uint64
	TokenProvider func() (string, error)

	HandshakeTimeout time.Duration
	BackoffBase      time.Duration
	BackoffMax       time.Duration
	MaxAttempts      int

	Dial DialFunc

	// OnMessageError 服务端落库失败回调，携带 client_msg_id 供重试定位
	OnMessageError func(reason, clientMsgID string)
}

// Client 连接会话管理器：持有唯一 WS 连接，维护订阅房间集合，
// 断线后指数退避重连并自动重放 joinRoom
type Client struct {
	opts   Options
	rest   *restClient
	stream *Stream
	store  *Store
	notify *NotifyBox

	mu      sync.Mutex
	writeMu sync.Mutex
	status  Status
	conn    Conn
	joined  map[uint64]struct{}
	closing bool
}

func New(opts Options) *Client {
	if opts.HandshakeTimeout <= 0 {
		opts.HandshakeTimeout = 10 * time.Second
	}
	if opts.BackoffBase <= 0 {
		opts.BackoffBase = time.Second
	}
	if opts.BackoffMax <= 0 {
		opts.BackoffMax = 30 * time.Second
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 6
	}

	c := &Client{
		opts:   opts,
		joined: make(map[uint64]struct{}),
	}
	if opts.Dial == nil {
		c.opts.Dial = c.defaultDial
	}
	c.rest = newRestClient(opts.BaseURL, opts.TokenProvider)
	c.store = newStore(c)
	c.stream = newStream(c)
	c.notify = newNotifyBox(c)
	return c
}

func (c *Client) Stream() *Stream    { return c.stream }
func (c *Client) Store() *Store      { return c.store }
func (c *Client) Notify() *NotifyBox { return c.notify }

func (c *Client) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// Connect 建立连接，重复调用幂等：已连接或连接中时直接返回
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.status == StatusConnected || c.status == StatusConnecting {
		c.mu.Unlock()
		return nil
	}
	c.status = StatusConnecting
	c.closing = false
	c.mu.Unlock()

	if err := c.connectWithRetry(ctx, 0); err != nil {
		return err
	}

	go c.readLoop()
	return nil
}

// Close 主动断开，不触发重连
func (c *Client) Close() error {
	c.mu.Lock()
	c.closing = true
	c.status = StatusDisconnected
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()

	if conn != nil {
		return conn.Close()
	}
	return nil
}

// JoinRoom 订阅会话房间；断线期间的调用记入集合，重连后自动重放
func (c *Client) JoinRoom(convID uint64) error {
	c.mu.Lock()
	c.joined[convID] = struct{}{}
	connected := c.status == StatusConnected
	c.mu.Unlock()

	if !connected {
		return nil
	}
	return c.writeEnvelope(hub.EventJoinRoom, &hub.RoomData{ConversationID: convID})
}

// LeaveRoom 退订会话房间
func (c *Client) LeaveRoom(convID uint64) error {
	c.mu.Lock()
	delete(c.joined, convID)
	connected := c.status == StatusConnected
	c.mu.Unlock()

	if !connected {
		return nil
	}
	return c.writeEnvelope(hub.EventLeaveRoom, &hub.RoomData{ConversationID: convID})
}

// SendMessage 经 WS 通道发送消息，未连接时直接报错交由调用方走 REST 兜底
func (c *Client) SendMessage(req *dto.SendMessageReq) error {
	c.mu.Lock()
	connected := c.status == StatusConnected
	c.mu.Unlock()

	if !connected {
		return ErrNotConnected
	}
	return c.writeEnvelope(hub.EventSendMessage, req)
}

// connectWithRetry 指数退避建连，超过 MaxAttempts 进入 StatusFailed 终态
func (c *Client) connectWithRetry(ctx context.Context, initialDelay time.Duration) error {
	backoff := c.opts.BackoffBase
	delay := initialDelay

	for attempt := 1; attempt <= c.opts.MaxAttempts; attempt++ {
		if delay > 0 {
			select {
			case <-ctx.Done():
				c.setStatus(StatusDisconnected)
				return ctx.Err()
			case <-time.After(delay):
			}
		}

		conn, err := c.dialOnce(ctx)
		if err == nil {
			c.mu.Lock()
			c.conn = conn
			c.status = StatusConnected
			joined := make([]uint64, 0, len(c.joined))
			for id := range c.joined {
				joined = append(joined, id)
			}
			c.mu.Unlock()

			// 重放订阅：重连后服务端的房间注册表是空的
			for _, id := range joined {
				if err := c.writeEnvelope(hub.EventJoinRoom, &hub.RoomData{ConversationID: id}); err != nil {
					log.Warn("rejoin failed", "conversationID", id, "err", err)
				}
			}
			return nil
		}

		log.Warn("dial failed", "attempt", attempt, "err", err)
		delay = backoff
		backoff *= 2
		if backoff > c.opts.BackoffMax {
			backoff = c.opts.BackoffMax
		}
	}

	c.setStatus(StatusFailed)
	return ErrRetriesExhausted
}

func (c *Client) dialOnce(ctx context.Context) (Conn, error) {
	c.setStatus(StatusConnecting)
	return c.opts.Dial(ctx, c.opts.WSURL)
}

func (c *Client) defaultDial(ctx context.Context, wsURL string) (Conn, error) {
	token, err := c.opts.TokenProvider()
	if err != nil {
		return nil, errors.Wrap(err, "token provider")
	}

	u, err := url.Parse(wsURL)
	if err != nil {
		return nil, err
	}
	q := u.Query()
	q.Set("token", token)
	u.RawQuery = q.Encode()

	dialer := websocket.Dialer{HandshakeTimeout: c.opts.HandshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// readLoop 读取服务端下行并分发；连接断开后按策略重连
func (c *Client) readLoop() {
	for {
		c.mu.Lock()
		conn := c.conn
		closing := c.closing
		c.mu.Unlock()
		if closing || conn == nil {
			return
		}

		_, raw, err := conn.ReadMessage()
		if err == nil {
			c.dispatch(raw)
			continue
		}

		c.mu.Lock()
		closing = c.closing
		c.mu.Unlock()
		if closing {
			return
		}

		// 服务端主动关闭（下线、缓冲淘汰）立即重连；网络错误先退避
		delay := c.opts.BackoffBase
		if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
			delay = 0
		}
		log.Warn("connection lost", "err", err)

		if err := c.connectWithRetry(context.Background(), delay); err != nil {
			log.Error("reconnect abandoned", "err", err)
			return
		}
	}
}

// dispatch 分发下行事件到各本地组件
func (c *Client) dispatch(raw []byte) {
	var env hub.Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		log.Warn("bad payload from server", "err", err)
		return
	}

	switch env.Event {
	case hub.EventNewMessage:
		var msg dto.MessageDTO
		if err := json.Unmarshal(env.Data, &msg); err != nil {
			return
		}
		c.stream.onNewMessage(&msg)
		c.store.applyMessage(&msg)

	case hub.EventNotification:
		var n dto.NotifyDTO
		if err := json.Unmarshal(env.Data, &n); err != nil {
			return
		}
		c.notify.onPush(&n)

	case hub.EventReadReceipt:
		var r dto.ReadReceiptDTO
		if err := json.Unmarshal(env.Data, &r); err != nil {
			return
		}
		c.store.applyReadReceipt(&r)

	case hub.EventMessageError:
		var e hub.MessageErrorData
		if err := json.Unmarshal(env.Data, &e); err != nil {
			return
		}
		if c.opts.OnMessageError != nil {
			c.opts.OnMessageError(e.Reason, e.ClientMsgID)
		}

	default:
		log.Warn("unknown event from server", "event", env.Event)
	}
}

func (c *Client) writeEnvelope(event string, data any) error {
	payload, err := hub.NewEnvelope(event, data)
	if err != nil {
		return err
	}

	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return conn.WriteMessage(websocket.TextMessage, payload)
}

func (c *Client) setStatus(s Status) {
	c.mu.Lock()
	c.status = s
	c.mu.Unlock()
}
