package hub

import (
	"github.com/goccy/go-json"
)

// 通道事件名，双端共用
const (
	EventJoinRoom     = "joinRoom"     // client→server 订阅会话房间
	EventLeaveRoom    = "leaveRoom"    // client→server 退订
	EventSendMessage  = "sendMessage"  // client→server 请求落库并广播
	EventNewMessage   = "newMessage"   // server→client 广播给房间内全部在线会话
	EventMessageError = "messageError" // server→client 仅发件人可见，落库失败
	EventNotification = "notification" // server→client 个人频道业务通知
	EventReadReceipt  = "readReceipt"  // server→client 个人频道已读回执
)

// Envelope 通道消息信封
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// NewEnvelope 组装并序列化信封
func NewEnvelope(event string, data any) ([]byte, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return json.Marshal(&Envelope{Event: event, Data: raw})
}

// RoomData joinRoom / leaveRoom 载荷
type RoomData struct {
	ConversationID uint64 `json:"conversation_id"`
}

// MessageErrorData messageError 载荷
type MessageErrorData struct {
	Reason      string `json:"reason"`
	ClientMsgID string `json:"client_msg_id,omitempty"`
}
