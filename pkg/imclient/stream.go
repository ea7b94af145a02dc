package imclient

import (
	"JobNest/internal/api/dto"
	"context"
	"sort"
	"sync"
)

// dedupLimit 去重窗口上限，超过后按先进先出淘汰最旧的标识
const dedupLimit = 500

// Stream 当前打开会话的消息流
// 重连重放、历史与实时通道交叠都会造成乱序与重复，
// 这里统一按 (CreatedAt, ID) 插入排序并做有界去重
type Stream struct {
	client *Client

	mu        sync.Mutex
	convID    uint64
	messages  []*dto.MessageDTO
	seen      map[string]struct{}
	seenOrder []string
}

func newStream(c *Client) *Stream {
	return &Stream{
		client: c,
		seen:   make(map[string]struct{}),
	}
}

// Open 切换到指定会话：先切本地指向再退订/订阅/拉历史。
// 指向先行，历史拉取期间到达的实时推送立刻归属新会话，
// 旧会话的迟到消息被 id 过滤掉，历史失败重试不会漏掉这段窗口。
func (s *Stream) Open(ctx context.Context, convID uint64) error {
	s.mu.Lock()
	prev := s.convID
	s.convID = convID
	s.messages = nil
	s.seen = make(map[string]struct{})
	s.seenOrder = s.seenOrder[:0]
	s.mu.Unlock()

	s.client.store.setActive(convID)

	if prev != 0 && prev != convID {
		_ = s.client.LeaveRoom(prev)
	}
	if err := s.client.JoinRoom(convID); err != nil {
		return err
	}

	history, err := s.client.rest.GetHistory(ctx, convID, 0, 50)
	if err != nil {
		return err
	}

	// 历史接口按 seq 降序返回，本地展示用升序
	sort.Slice(history, func(i, j int) bool { return messageLess(history[i], history[j]) })

	s.mu.Lock()
	defer s.mu.Unlock()
	// 拉取期间又切走了，结果作废
	if s.convID != convID {
		return nil
	}
	// 历史为基底，拉取窗口内收到的实时消息并回（按标识去重）
	live := s.messages
	s.messages = make([]*dto.MessageDTO, 0, len(history)+len(live))
	s.seen = make(map[string]struct{}, len(history))
	s.seenOrder = s.seenOrder[:0]
	for _, m := range history {
		s.remember(m.ID)
		s.messages = append(s.messages, m)
	}
	for _, m := range live {
		s.insertLocked(m)
	}
	return nil
}

// Close 关闭当前会话流
func (s *Stream) Close() {
	s.mu.Lock()
	prev := s.convID
	s.convID = 0
	s.messages = nil
	s.mu.Unlock()

	if prev != 0 {
		_ = s.client.LeaveRoom(prev)
	}
	s.client.store.setActive(0)
}

// Messages 当前快照，升序
func (s *Stream) Messages() []*dto.MessageDTO {
	s.mu.Lock()
	defer s.mu.Unlock()
	res := make([]*dto.MessageDTO, len(s.messages))
	copy(res, s.messages)
	return res
}

// Sync 断线后的补偿拉取：取本地最新 seq 之后的消息并入流
func (s *Stream) Sync(ctx context.Context) error {
	s.mu.Lock()
	convID := s.convID
	var afterSeq uint64
	if n := len(s.messages); n > 0 {
		afterSeq = s.messages[n-1].Seq
	}
	s.mu.Unlock()
	if convID == 0 {
		return nil
	}

	missed, err := s.client.rest.SyncMessages(ctx, convID, afterSeq, 100)
	if err != nil {
		return err
	}
	for _, m := range missed {
		s.onNewMessage(m)
	}
	return nil
}

// onNewMessage 接收实时推送：非当前会话忽略，重复标识丢弃，乱序插入排序
func (s *Stream) onNewMessage(msg *dto.MessageDTO) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if msg.ConversationID != s.convID {
		return
	}
	s.insertLocked(msg)
}

// insertLocked 去重后按序插入，调用方持锁
func (s *Stream) insertLocked(msg *dto.MessageDTO) {
	if _, dup := s.seen[msg.ID]; dup {
		return
	}
	s.remember(msg.ID)

	idx := sort.Search(len(s.messages), func(i int) bool {
		return messageLess(msg, s.messages[i])
	})
	s.messages = append(s.messages, nil)
	copy(s.messages[idx+1:], s.messages[idx:])
	s.messages[idx] = msg
}

// remember 登记消息标识并维护淘汰窗口，调用方持锁
func (s *Stream) remember(id string) {
	if _, ok := s.seen[id]; ok {
		return
	}
	s.seen[id] = struct{}{}
	s.seenOrder = append(s.seenOrder, id)
	for len(s.seenOrder) > dedupLimit {
		oldest := s.seenOrder[0]
		s.seenOrder = s.seenOrder[1:]
		delete(s.seen, oldest)
	}
}

// messageLess 展示顺序：CreatedAt 优先，相同时间戳按 ID 定序保证稳定
func messageLess(a, b *dto.MessageDTO) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ID < b.ID
}
