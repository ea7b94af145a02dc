package hub

import (
	"JobNest/internal/api/dto"
	"JobNest/internal/pkg/consts"
	"JobNest/internal/pkg/redis"
	"context"
	log "log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
)

// Authorizer 校验用户是否为会话参与者，由会话仓储实现
type Authorizer interface {
	IsMember(ctx context.Context, convID uint64, userID uint64) (bool, error)
}

// MessageSender 处理 sendMessage 事件的落库与广播，由 IM 服务实现
type MessageSender interface {
	SendMessage(ctx context.Context, senderID uint64, req *dto.SendMessageReq) (*dto.MessageDTO, error)
}

// Hub 房间注册表：维护会话房间与用户个人频道的在线成员，
// join/leave/fan-out 全部经由同一把锁串行化，广播不会与并发 leave 竞争。
// 跨实例投递走 Redis 总线：本进程只负责把订阅到的载荷转发给本地会话。
type Hub struct {
	mu           sync.RWMutex
	rooms        map[uint64]map[*Session]struct{} // conversationID -> 房间内会话
	users        map[uint64]map[*Session]struct{} // userID -> 该用户全部在线会话
	sessionRooms map[*Session]map[uint64]struct{} // 反向索引，注销时清房间

	auth   Authorizer
	sender MessageSender

	sendBuffer     int
	maxMessageSize int64
}

func NewHub(auth Authorizer, sendBuffer int, maxMessageSize int64) *Hub {
	if sendBuffer <= 0 {
		sendBuffer = 128
	}
	if maxMessageSize <= 0 {
		maxMessageSize = 16 * 1024
	}
	return &Hub{
		rooms:          make(map[uint64]map[*Session]struct{}),
		users:          make(map[uint64]map[*Session]struct{}),
		sessionRooms:   make(map[*Session]map[uint64]struct{}),
		auth:           auth,
		sendBuffer:     sendBuffer,
		maxMessageSize: maxMessageSize,
	}
}

// SetMessageSender 注入 IM 服务，打破构造期的循环依赖
func (h *Hub) SetMessageSender(sender MessageSender) {
	h.sender = sender
}

// NewSession 注册一条已通过鉴权的连接并启动写协程
func (h *Hub) NewSession(conn Conn, userID uint64) *Session {
	s := newSession(h, conn, userID, h.sendBuffer)

	h.mu.Lock()
	if h.users[userID] == nil {
		h.users[userID] = make(map[*Session]struct{})
	}
	h.users[userID][s] = struct{}{}
	h.sessionRooms[s] = make(map[uint64]struct{})
	h.mu.Unlock()

	go s.writePump()
	return s
}

// Unregister 注销会话：移出个人频道与全部已加入的房间
func (h *Hub) Unregister(s *Session) {
	h.mu.Lock()
	if set, ok := h.users[s.UserID]; ok {
		delete(set, s)
		if len(set) == 0 {
			delete(h.users, s.UserID)
		}
	}
	for convID := range h.sessionRooms[s] {
		h.removeFromRoomLocked(s, convID)
	}
	delete(h.sessionRooms, s)
	h.mu.Unlock()

	s.Close(websocket.CloseNormalClosure, "unregistered")
}

// Join 将会话加入房间，重复加入幂等
// 鉴权失败静默拒绝：不向客户端返回任何错误，避免探测会话成员关系
func (h *Hub) Join(ctx context.Context, s *Session, convID uint64) error {
	ok, err := h.auth.IsMember(ctx, convID, s.UserID)
	if err != nil {
		return err
	}
	if !ok {
		log.Warn("拒绝加入未授权房间", "userID", s.UserID, "conversationID", convID)
		return nil
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.rooms[convID] == nil {
		h.rooms[convID] = make(map[*Session]struct{})
	}
	h.rooms[convID][s] = struct{}{}
	if h.sessionRooms[s] != nil {
		h.sessionRooms[s][convID] = struct{}{}
	}
	return nil
}

// Leave 将会话移出房间，不在房间时为空操作
func (h *Hub) Leave(s *Session, convID uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.removeFromRoomLocked(s, convID)
	if h.sessionRooms[s] != nil {
		delete(h.sessionRooms[s], convID)
	}
}

// DeliverRoom 本地房间投递：只送达当前已 join 的会话，
// 离线或停留在其他会话的客户端依赖 REST 对账补偿
func (h *Hub) DeliverRoom(convID uint64, payload []byte) {
	h.mu.RLock()
	sessions := make([]*Session, 0, len(h.rooms[convID]))
	for s := range h.rooms[convID] {
		sessions = append(sessions, s)
	}
	h.mu.RUnlock()

	for _, s := range sessions {
		if err := s.Push(payload); err != nil {
			log.Warn("房间投递失败", "conversationID", convID, "userID", s.UserID, "err", err)
		}
	}
}

// DeliverUser 本地个人频道投递（通知、已读回执）
func (h *Hub) DeliverUser(userID uint64, payload []byte) {
	h.mu.RLock()
	sessions := make([]*Session, 0, len(h.users[userID]))
	for s := range h.users[userID] {
		sessions = append(sessions, s)
	}
	h.mu.RUnlock()

	for _, s := range sessions {
		if err := s.Push(payload); err != nil {
			log.Warn("个人频道投递失败", "userID", userID, "err", err)
		}
	}
}

// IsUserOnline 用户是否存在已连接会话
func (h *Hub) IsUserOnline(userID uint64) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.users[userID]) > 0
}

// RunBridge 订阅 Redis 总线并把载荷转发给本地会话，阻塞直到 ctx 取消
// 水平扩容时每个实例各自消费，房间成员不要求单进程亲和
func (h *Hub) RunBridge(ctx context.Context) error {
	pubsub := redis.PSubscribe(ctx, consts.IMRoomPattern, consts.IMUserPattern)
	defer func() {
		_ = pubsub.Close()
	}()

	log.Info("Hub bridge started", "patterns", []string{consts.IMRoomPattern, consts.IMUserPattern})

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			h.route(msg.Channel, []byte(msg.Payload))
		}
	}
}

func (h *Hub) route(channel string, payload []byte) {
	switch {
	case strings.HasPrefix(channel, consts.IMRoomKey):
		id, err := strconv.ParseUint(strings.TrimPrefix(channel, consts.IMRoomKey), 10, 64)
		if err != nil {
			log.Warn("非法房间频道", "channel", channel)
			return
		}
		h.DeliverRoom(id, payload)
	case strings.HasPrefix(channel, consts.IMUserKey):
		id, err := strconv.ParseUint(strings.TrimPrefix(channel, consts.IMUserKey), 10, 64)
		if err != nil {
			log.Warn("非法用户频道", "channel", channel)
			return
		}
		h.DeliverUser(id, payload)
	}
}

// handleInbound 分发客户端上行事件
func (h *Hub) handleInbound(s *Session, raw []byte) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		log.Warn("非法上行载荷", "userID", s.UserID, "err", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	switch env.Event {
	case EventJoinRoom:
		var data RoomData
		if err := json.Unmarshal(env.Data, &data); err != nil {
			return
		}
		if err := h.Join(ctx, s, data.ConversationID); err != nil {
			log.Error("加入房间失败", "userID", s.UserID, "conversationID", data.ConversationID, "err", err)
		}

	case EventLeaveRoom:
		var data RoomData
		if err := json.Unmarshal(env.Data, &data); err != nil {
			return
		}
		h.Leave(s, data.ConversationID)

	case EventSendMessage:
		var req dto.SendMessageReq
		if err := json.Unmarshal(env.Data, &req); err != nil {
			return
		}
		if h.sender == nil {
			return
		}
		// 发送者身份以连接鉴权结果为准，不信任载荷
		if _, err := h.sender.SendMessage(ctx, s.UserID, &req); err != nil {
			h.pushMessageError(s, err.Error(), req.ClientMsgID)
		}

	default:
		log.Warn("未知上行事件", "event", env.Event, "userID", s.UserID)
	}
}

// pushMessageError 落库失败只通知发件人，其他成员不感知
func (h *Hub) pushMessageError(s *Session, reason, clientMsgID string) {
	payload, err := NewEnvelope(EventMessageError, &MessageErrorData{
		Reason:      reason,
		ClientMsgID: clientMsgID,
	})
	if err != nil {
		return
	}
	if err := s.Push(payload); err != nil {
		log.Warn("messageError 投递失败", "userID", s.UserID, "err", err)
	}
}

func (h *Hub) removeFromRoomLocked(s *Session, convID uint64) {
	if set, ok := h.rooms[convID]; ok {
		delete(set, s)
		if len(set) == 0 {
			delete(h.rooms, convID)
		}
	}
}
