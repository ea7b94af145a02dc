package mongo

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// NotifyModel 业务通知模型（审批通过、HR 主动联系等）
type NotifyModel struct {
	ID          primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	RecipientID uint64             `bson:"recipient_id" json:"recipient_id"` // 通知接收者ID
	SenderID    uint64             `bson:"sender_id" json:"sender_id"`       // 动作发起者ID (系统通知为0)
	Type        string             `bson:"type" json:"type"`                 // 业务类型: application.approved / application.rejected / interview.invited ...
	Title       string             `bson:"title" json:"title"`               // 通知标题
	Message     string             `bson:"message" json:"message"`           // 通知正文
	Payload     map[string]any     `bson:"payload" json:"payload"`           // 业务元数据 (职位ID、HR联系人等)
	IsRead      bool               `bson:"is_read" json:"is_read"`
	ReadAt      *time.Time         `bson:"read_at,omitempty" json:"read_at"`
	CreatedAt   time.Time          `bson:"created_at" json:"created_at"`
}
