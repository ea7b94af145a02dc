package mongo

import (
	"time"
)

// Message MongoDB 消息明细模型
// ID 与 Seq 均由服务端生成，客户端只提交内容
type Message struct {
	ID             string         `bson:"_id" json:"id"`                           // 服务端生成的 ObjectID Hex
	ConversationID uint64         `bson:"conversation_id" json:"conversation_id"`  // 关联 MySQL 的会话 ID
	SenderID       uint64         `bson:"sender_id" json:"sender_id"`              // 发送者 UID
	Content        string         `bson:"content" json:"content"`                  // 文本内容
	Payload        map[string]any `bson:"payload,omitempty" json:"payload"`        // 业务扩展字段（职位ID、附件等）
	Seq            uint64         `bson:"seq" json:"seq"`                          // 会话内绝对序号 (来自 MySQL 行锁定序)
	CreatedAt      time.Time      `bson:"created_at" json:"created_at"`            // 服务端时间
}
