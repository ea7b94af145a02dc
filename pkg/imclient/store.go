package imclient

import (
	"JobNest/internal/api/dto"
	"context"
	log "log/slog"
	"sort"
	"sync"
	"time"
)

// Store 会话列表的本地视图，两个数据源：
// REST 全量对账（权威，整体替换）与实时推送增量（单会话字段更新）。
// 未知会话的推送只记预览，成员集合等详情等下一次对账补齐。
type Store struct {
	client *Client

	mu         sync.Mutex
	convs      map[uint64]*dto.ConversationDTO
	appliedSeq map[uint64]uint64 // 会话内已应用的最大 seq，重放去重
	activeConv uint64
}

func newStore(c *Client) *Store {
	return &Store{
		client:     c,
		convs:      make(map[uint64]*dto.ConversationDTO),
		appliedSeq: make(map[uint64]uint64),
	}
}

// Refresh 全量对账：REST 结果整体替换本地视图
func (s *Store) Refresh(ctx context.Context) error {
	list, err := s.client.rest.GetConversationList(ctx)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.convs = make(map[uint64]*dto.ConversationDTO, len(list))
	s.appliedSeq = make(map[uint64]uint64, len(list))
	for _, c := range list {
		s.convs[c.ConversationID] = c
		if c.LastMessage != nil {
			s.appliedSeq[c.ConversationID] = c.LastMessage.Seq
		}
	}
	s.mu.Unlock()
	return nil
}

// Conversations 快照，按最新消息时间倒序
func (s *Store) Conversations() []*dto.ConversationDTO {
	s.mu.Lock()
	res := make([]*dto.ConversationDTO, 0, len(s.convs))
	for _, c := range s.convs {
		res = append(res, c)
	}
	s.mu.Unlock()

	sort.Slice(res, func(i, j int) bool {
		return lastMessageAt(res[i]).After(lastMessageAt(res[j]))
	})
	return res
}

// MarkAsRead 本地优先：未读数立即清零，持久化尽力而为，失败只记日志不回滚
func (s *Store) MarkAsRead(convID uint64) {
	s.mu.Lock()
	conv, ok := s.convs[convID]
	var seq uint64
	if ok {
		conv.UnreadCount = 0
		if conv.LastMessage != nil {
			seq = conv.LastMessage.Seq
		}
	}
	s.mu.Unlock()
	if !ok || seq == 0 {
		return
	}

	go func() {
		backoff := time.Second
		for attempt := 1; attempt <= 3; attempt++ {
			// 持久化与调用方生命周期解耦：页面切走不中断重试
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			err := s.client.rest.MarkAsRead(ctx, convID, seq)
			cancel()
			if err == nil {
				return
			}
			log.Warn("mark-as-read persist failed", "conversationID", convID, "attempt", attempt, "err", err)
			time.Sleep(backoff)
			backoff *= 2
		}
	}()
}

func (s *Store) setActive(convID uint64) {
	s.mu.Lock()
	s.activeConv = convID
	s.mu.Unlock()
}

// applyMessage 推送增量：刷新预览并累加未读
// 重连重放会重复投递同一条消息，按会话内已应用的最大 seq 去重；
// 正在查看的会话和自己发的消息不计未读
func (s *Store) applyMessage(msg *dto.MessageDTO) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if msg.Seq <= s.appliedSeq[msg.ConversationID] {
		return
	}
	s.appliedSeq[msg.ConversationID] = msg.Seq

	conv, ok := s.convs[msg.ConversationID]
	if !ok {
		conv = &dto.ConversationDTO{ConversationID: msg.ConversationID}
		s.convs[msg.ConversationID] = conv
	}

	conv.LastMessage = msg
	if msg.ConversationID != s.activeConv && msg.SenderID != s.client.opts.UserID {
		conv.UnreadCount++
	}
}

// applyReadReceipt 对端已读回执，预留给会话详情页展示
func (s *Store) applyReadReceipt(r *dto.ReadReceiptDTO) {
	s.mu.Lock()
	defer s.mu.Unlock()
	// 本端视图只关心自己的未读数，回执暂不改写任何字段
	_ = r
}

func lastMessageAt(c *dto.ConversationDTO) time.Time {
	if c.LastMessage != nil {
		return c.LastMessage.CreatedAt
	}
	return c.CreatedAt
}
