package imclient

import (
	"JobNest/internal/api/dto"
	"context"
	"sync"
)

// NotifyBox 通知角标的本地视图：实时推送累加，REST 轮询校准
type NotifyBox struct {
	client *Client

	mu     sync.Mutex
	unread int64
	latest *dto.NotifyDTO
}

func newNotifyBox(c *Client) *NotifyBox {
	return &NotifyBox{client: c}
}

// Unread 当前未读角标
func (n *NotifyBox) Unread() int64 {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.unread
}

// Latest 最近一条推送，无推送时为 nil
func (n *NotifyBox) Latest() *dto.NotifyDTO {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.latest
}

// Refresh 以服务端计数校准角标，推送丢失时的兜底
func (n *NotifyBox) Refresh(ctx context.Context) error {
	count, err := n.client.rest.GetNotifyUnread(ctx)
	if err != nil {
		return err
	}
	n.mu.Lock()
	n.unread = count
	n.mu.Unlock()
	return nil
}

// List 拉取通知列表
func (n *NotifyBox) List(ctx context.Context, page, pageSize int64) ([]*dto.NotifyDTO, error) {
	return n.client.rest.GetNotifyList(ctx, page, pageSize)
}

// MarkRead 标记单条已读并收敛角标
func (n *NotifyBox) MarkRead(ctx context.Context, notifyID string) error {
	if err := n.client.rest.MarkNotifyRead(ctx, notifyID); err != nil {
		return err
	}
	n.mu.Lock()
	if n.unread > 0 {
		n.unread--
	}
	n.mu.Unlock()
	return nil
}

func (n *NotifyBox) onPush(d *dto.NotifyDTO) {
	n.mu.Lock()
	n.unread++
	n.latest = d
	n.mu.Unlock()
}
