package service

import (
	"JobNest/internal/api/dto"
	"JobNest/internal/hub"
	"JobNest/internal/model"
	"JobNest/internal/pkg/mongo"
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"
)

type fakeConvRepo struct {
	mu       sync.Mutex
	nextID   uint64
	byKey    map[string]*model.Conversation
	byID     map[uint64]*model.Conversation
	members  map[uint64][]uint64
	readSeqs map[string]uint64 // "convID_userID" -> seq
	creates  int
}

func newFakeConvRepo() *fakeConvRepo {
	return &fakeConvRepo{
		byKey:    map[string]*model.Conversation{},
		byID:     map[uint64]*model.Conversation{},
		members:  map[uint64][]uint64{},
		readSeqs: map[string]uint64{},
	}
}

func (f *fakeConvRepo) GetOrCreate(_ context.Context, peerKey string, participantIDs []uint64) (*model.Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if c, ok := f.byKey[peerKey]; ok {
		return c, nil
	}
	f.nextID++
	f.creates++
	c := &model.Conversation{ID: f.nextID, PeerKey: peerKey, CreatedAt: time.Now()}
	f.byKey[peerKey] = c
	f.byID[c.ID] = c
	f.members[c.ID] = append([]uint64(nil), participantIDs...)
	return c, nil
}

func (f *fakeConvRepo) GetConversation(_ context.Context, convID uint64) (*model.Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if c, ok := f.byID[convID]; ok {
		return c, nil
	}
	return nil, errors.New("record not found")
}

func (f *fakeConvRepo) IsMember(_ context.Context, convID uint64, userID uint64) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, id := range f.members[convID] {
		if id == userID {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeConvRepo) GetMemberIDs(_ context.Context, convID uint64) ([]uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]uint64(nil), f.members[convID]...), nil
}

func (f *fakeConvRepo) GetMemberIDsByConvIDs(_ context.Context, convIDs []uint64) (map[uint64][]uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	res := map[uint64][]uint64{}
	for _, id := range convIDs {
		res[id] = append([]uint64(nil), f.members[id]...)
	}
	return res, nil
}

func (f *fakeConvRepo) IncrMaxSeq(_ context.Context, convID uint64, msgID string, lastMsg string, senderID uint64) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.byID[convID]
	if !ok {
		return 0, errors.New("record not found")
	}
	c.MaxMsgSeq++
	c.LastMsgID = msgID
	c.LastMsgContent = lastMsg
	c.LastSenderID = senderID
	c.LastMessageAt = time.Now()
	return c.MaxMsgSeq, nil
}

func (f *fakeConvRepo) UpdateReadSeq(_ context.Context, convID, userID, seq uint64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.readSeqs[readKey(convID, userID)] = seq
	return nil
}

func (f *fakeConvRepo) GetUserConversationMemList(_ context.Context, userID uint64) ([]*model.ConversationMember, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var res []*model.ConversationMember
	for convID, members := range f.members {
		for _, id := range members {
			if id != userID {
				continue
			}
			c := f.byID[convID]
			read := f.readSeqs[readKey(convID, userID)]
			res = append(res, &model.ConversationMember{
				ConversationID: convID,
				UserID:         userID,
				ReadMsgSeq:     read,
				Conversation:   *c,
				UnreadCount:    c.MaxMsgSeq - read,
			})
		}
	}
	return res, nil
}

func readKey(convID, userID uint64) string {
	return fmt.Sprintf("%d_%d", convID, userID)
}

type fakeMessageRepo struct {
	mu           sync.Mutex
	saveErr      error
	saved        []*mongo.Message
	history      []*mongo.Message
	lastPageSize int
}

func (f *fakeMessageRepo) SaveMessage(_ context.Context, msg *mongo.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.saveErr != nil {
		return f.saveErr
	}
	f.saved = append(f.saved, msg)
	return nil
}

func (f *fakeMessageRepo) GetHistory(_ context.Context, convID uint64, lastSeq uint64, pageSize int) ([]*mongo.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastPageSize = pageSize
	return f.history, nil
}

func (f *fakeMessageRepo) SyncMessages(_ context.Context, convID uint64, afterSeq uint64, pageSize int) ([]*mongo.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var res []*mongo.Message
	for _, m := range f.saved {
		if m.ConversationID == convID && m.Seq > afterSeq {
			res = append(res, m)
		}
	}
	return res, nil
}

type published struct {
	channel string
	payload []byte
}

type fakePublisher struct {
	mu    sync.Mutex
	calls []published
}

func (f *fakePublisher) Publish(_ context.Context, channel string, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, published{channel: channel, payload: payload})
	return nil
}

func (f *fakePublisher) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *fakePublisher) last() published {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[len(f.calls)-1]
}

func TestSendMessagePersistThenBroadcast(t *testing.T) {
	convRepo := newFakeConvRepo()
	msgRepo := &fakeMessageRepo{}
	pub := &fakePublisher{}
	svc := NewIMService(convRepo, msgRepo, pub)

	msg, err := svc.SendMessage(context.Background(), 3, &dto.SendMessageReq{
		ParticipantIDs: []uint64{17},
		Content:        "你好，请问岗位还在招吗",
	})
	if err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	if msg.Seq != 1 {
		t.Fatalf("seq = %d, want 1", msg.Seq)
	}
	if len(msgRepo.saved) != 1 {
		t.Fatalf("saved %d messages, want 1", len(msgRepo.saved))
	}
	if pub.count() != 1 {
		t.Fatalf("published %d times, want 1", pub.count())
	}

	got := pub.last()
	if got.channel != "im:room:1" {
		t.Fatalf("channel = %q, want im:room:1", got.channel)
	}
	var env hub.Envelope
	if err := json.Unmarshal(got.payload, &env); err != nil {
		t.Fatalf("unmarshal envelope: %v", err)
	}
	if env.Event != hub.EventNewMessage {
		t.Fatalf("event = %q, want %q", env.Event, hub.EventNewMessage)
	}
}

// 落库失败时必须向发送者报错且不产生任何广播
func TestSendMessagePersistFailureNoBroadcast(t *testing.T) {
	convRepo := newFakeConvRepo()
	msgRepo := &fakeMessageRepo{saveErr: errors.New("mongo down")}
	pub := &fakePublisher{}
	svc := NewIMService(convRepo, msgRepo, pub)

	_, err := svc.SendMessage(context.Background(), 3, &dto.SendMessageReq{
		ParticipantIDs: []uint64{17},
		Content:        "hello",
	})
	if !errors.Is(err, ErrMessageSave) {
		t.Fatalf("err = %v, want ErrMessageSave", err)
	}
	if pub.count() != 0 {
		t.Fatalf("published %d times after save failure, want 0", pub.count())
	}
}

func TestSendMessageRejectsNonMember(t *testing.T) {
	convRepo := newFakeConvRepo()
	_, _ = convRepo.GetOrCreate(context.Background(), "3_17", []uint64{3, 17})
	svc := NewIMService(convRepo, &fakeMessageRepo{}, &fakePublisher{})

	_, err := svc.SendMessage(context.Background(), 99, &dto.SendMessageReq{
		ConversationID: 1,
		Content:        "intruder",
	})
	if !errors.Is(err, UnauthorizedError) {
		t.Fatalf("err = %v, want UnauthorizedError", err)
	}
}

// 同一参与者集合并发创建只能落成一条会话
func TestGetOrCreateConversationConcurrent(t *testing.T) {
	convRepo := newFakeConvRepo()
	svc := NewIMService(convRepo, &fakeMessageRepo{}, &fakePublisher{})

	const n = 16
	ids := make([]uint64, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			conv, err := svc.GetOrCreateConversation(context.Background(), 3, []uint64{17})
			if err != nil {
				t.Errorf("GetOrCreateConversation: %v", err)
				return
			}
			ids[i] = conv.ConversationID
		}(i)
	}
	wg.Wait()

	for i := 1; i < n; i++ {
		if ids[i] != ids[0] {
			t.Fatalf("divergent conversation IDs: %d vs %d", ids[i], ids[0])
		}
	}
	if convRepo.creates != 1 {
		t.Fatalf("created %d conversations, want 1", convRepo.creates)
	}
}

func TestGetOrCreateConversationRejectsSelfOnly(t *testing.T) {
	svc := NewIMService(newFakeConvRepo(), &fakeMessageRepo{}, &fakePublisher{})

	_, err := svc.GetOrCreateConversation(context.Background(), 3, []uint64{3, 0})
	if !errors.Is(err, ErrConvParticipants) {
		t.Fatalf("err = %v, want ErrConvParticipants", err)
	}
}

// Mongo 最新页落后于 MySQL 水位时，首页应补出预览占位
func TestGetChatHistoryGapStub(t *testing.T) {
	convRepo := newFakeConvRepo()
	msgRepo := &fakeMessageRepo{}
	pub := &fakePublisher{}
	svc := NewIMService(convRepo, msgRepo, pub)

	for i := 0; i < 3; i++ {
		if _, err := svc.SendMessage(context.Background(), 3, &dto.SendMessageReq{
			ParticipantIDs: []uint64{17},
			Content:        "msg",
		}); err != nil {
			t.Fatalf("SendMessage: %v", err)
		}
	}

	// 只让前两条出现在历史里，模拟最新一条尚未可查
	msgRepo.mu.Lock()
	msgRepo.history = []*mongo.Message{msgRepo.saved[1], msgRepo.saved[0]}
	msgRepo.mu.Unlock()

	history, err := svc.GetChatHistory(context.Background(), 3, 1, 0, 20)
	if err != nil {
		t.Fatalf("GetChatHistory: %v", err)
	}
	if len(history) != 3 {
		t.Fatalf("history length = %d, want 3", len(history))
	}
	if history[0].Seq != 3 {
		t.Fatalf("stub seq = %d, want 3", history[0].Seq)
	}
}

// 分页参数越界时落到默认值，0 不会变成不限量的全量查询
func TestGetChatHistoryClampsPageSize(t *testing.T) {
	convRepo := newFakeConvRepo()
	_, _ = convRepo.GetOrCreate(context.Background(), "3_17", []uint64{3, 17})
	msgRepo := &fakeMessageRepo{}
	svc := NewIMService(convRepo, msgRepo, &fakePublisher{})

	for _, bad := range []int{0, -5, 10000} {
		if _, err := svc.GetChatHistory(context.Background(), 3, 1, 1, bad); err != nil {
			t.Fatalf("GetChatHistory(pageSize=%d): %v", bad, err)
		}
		msgRepo.mu.Lock()
		got := msgRepo.lastPageSize
		msgRepo.mu.Unlock()
		if got != 20 {
			t.Fatalf("pageSize %d reached repo as %d, want 20", bad, got)
		}
	}
}

func TestMarkAsReadClampsToMaxSeq(t *testing.T) {
	convRepo := newFakeConvRepo()
	msgRepo := &fakeMessageRepo{}
	pub := &fakePublisher{}
	svc := NewIMService(convRepo, msgRepo, pub)

	if _, err := svc.SendMessage(context.Background(), 3, &dto.SendMessageReq{
		ParticipantIDs: []uint64{17},
		Content:        "hi",
	}); err != nil {
		t.Fatalf("SendMessage: %v", err)
	}

	if err := svc.MarkAsRead(context.Background(), 17, 1, 999); err != nil {
		t.Fatalf("MarkAsRead: %v", err)
	}

	convRepo.mu.Lock()
	got := convRepo.readSeqs[readKey(1, 17)]
	convRepo.mu.Unlock()
	if got != 1 {
		t.Fatalf("read seq = %d, want clamped to 1", got)
	}

	// 已读回执异步推送到对端个人频道
	deadline := time.Now().Add(2 * time.Second)
	for {
		pub.mu.Lock()
		var receipt *published
		for i := range pub.calls {
			if pub.calls[i].channel == "im:user:3" {
				receipt = &pub.calls[i]
			}
		}
		pub.mu.Unlock()
		if receipt != nil {
			var env hub.Envelope
			if err := json.Unmarshal(receipt.payload, &env); err != nil {
				t.Fatalf("unmarshal receipt: %v", err)
			}
			if env.Event != hub.EventReadReceipt {
				t.Fatalf("event = %q, want %q", env.Event, hub.EventReadReceipt)
			}
			return
		}
		if time.Now().After(deadline) {
			t.Fatal("read receipt never published")
		}
		time.Sleep(10 * time.Millisecond)
	}
}
