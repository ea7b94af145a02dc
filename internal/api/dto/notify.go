package dto

// CreateNotifyReq 创建并分发一条业务通知
type CreateNotifyReq struct {
	RecipientID uint64         `json:"recipient_id" binding:"required"`
	SenderID    uint64         `json:"sender_id"`
	Type        string         `json:"type" binding:"required"` // application.approved / interview.invited ...
	Title       string         `json:"title" binding:"required"`
	Message     string         `json:"message"`
	Payload     map[string]any `json:"payload"`
}

// NotifyDTO 通知列表项响应
type NotifyDTO struct {
	ID          string         `json:"id"`
	RecipientID uint64         `json:"recipient_id"`
	SenderID    uint64         `json:"sender_id"`
	Type        string         `json:"type"`
	Title       string         `json:"title"`
	Message     string         `json:"message"`
	Payload     map[string]any `json:"payload"`
	IsRead      bool           `json:"is_read"`
	ReadAt      string         `json:"read_at,omitempty"`
	CreatedAt   string         `json:"created_at"`
}

// NotifyUnreadDTO 未读数返回
type NotifyUnreadDTO struct {
	UnreadCount int64 `json:"unread_count"`
}
