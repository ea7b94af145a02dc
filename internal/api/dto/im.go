package dto

import "time"

// SendMessageReq 发送消息请求体
// conversation_id 为 0 时必须携带 participant_ids，服务端按参与者集合原子地查找或创建会话
type SendMessageReq struct {
	ConversationID uint64         `json:"conversation_id"`
	ParticipantIDs []uint64       `json:"participant_ids"`
	Content        string         `json:"content" binding:"required"`
	Payload        map[string]any `json:"payload"`
	ClientMsgID    string         `json:"client_msg_id"` // 客户端本地标识，原样回带用于失败重试定位
}

// MessageDTO 消息明细响应
type MessageDTO struct {
	ID             string         `json:"id"`
	ConversationID uint64         `json:"conversation_id"`
	SenderID       uint64         `json:"sender_id"`
	Content        string         `json:"content"`
	Payload        map[string]any `json:"payload,omitempty"`
	Seq            uint64         `json:"seq"`
	CreatedAt      time.Time      `json:"created_at"`
}

// CreateConversationReq 查找或创建会话
type CreateConversationReq struct {
	ParticipantIDs []uint64 `json:"participant_ids" binding:"required,min=2"`
}

// ConversationDTO 会话列表项响应
type ConversationDTO struct {
	ConversationID uint64      `json:"conversation_id"`
	ParticipantIDs []uint64    `json:"participant_ids"`
	LastMessage    *MessageDTO `json:"last_message"`
	UnreadCount    uint64      `json:"unread_count"`
	CreatedAt      time.Time   `json:"created_at"`
}

// MarkAsReadReq 标记为已读请求
type MarkAsReadReq struct {
	ConversationID uint64 `json:"conversation_id" binding:"required"`
	Sequence       uint64 `json:"sequence" binding:"required"` // 客户端当前看到的最后一条消息序号
}

// ReadReceiptDTO 已读回执推送
type ReadReceiptDTO struct {
	ConversationID uint64 `json:"conversation_id"`
	UserID         uint64 `json:"user_id"`
	ReadSeq        uint64 `json:"read_seq"`
}
