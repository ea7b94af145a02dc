package imclient

import (
	"JobNest/internal/api/dto"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func newTestStore() *Store {
	c := New(testOptions(nil))
	return c.Store()
}

func TestStoreApplyMessageUpdatesPreviewAndUnread(t *testing.T) {
	s := newTestStore()

	s.applyMessage(&dto.MessageDTO{ID: "m1", ConversationID: 7, SenderID: 17, Seq: 1, Content: "您好", CreatedAt: time.Now()})
	s.applyMessage(&dto.MessageDTO{ID: "m2", ConversationID: 7, SenderID: 17, Seq: 2, Content: "方便聊聊吗", CreatedAt: time.Now()})

	convs := s.Conversations()
	if len(convs) != 1 {
		t.Fatalf("len = %d, want 1", len(convs))
	}
	if convs[0].UnreadCount != 2 {
		t.Fatalf("unread = %d, want 2", convs[0].UnreadCount)
	}
	if convs[0].LastMessage.ID != "m2" {
		t.Fatalf("preview = %s, want m2", convs[0].LastMessage.ID)
	}
}

// 重连重放会把同一条消息投递多次，未读数只能累加一次
func TestStoreApplyMessageDedupOnReplay(t *testing.T) {
	s := newTestStore()

	msg := &dto.MessageDTO{ID: "m1", ConversationID: 7, SenderID: 17, Seq: 1, Content: "您好", CreatedAt: time.Now()}
	s.applyMessage(msg)
	s.applyMessage(msg)
	s.applyMessage(msg)

	convs := s.Conversations()
	if convs[0].UnreadCount != 1 {
		t.Fatalf("unread = %d, want 1", convs[0].UnreadCount)
	}
}

// 旧序号的迟到推送不能覆盖更新的预览
func TestStoreApplyMessageKeepsNewerPreview(t *testing.T) {
	s := newTestStore()

	s.applyMessage(&dto.MessageDTO{ID: "m2", ConversationID: 7, SenderID: 17, Seq: 2, CreatedAt: time.Now()})
	s.applyMessage(&dto.MessageDTO{ID: "m1", ConversationID: 7, SenderID: 17, Seq: 1, CreatedAt: time.Now().Add(-time.Minute)})

	convs := s.Conversations()
	if convs[0].LastMessage.ID != "m2" {
		t.Fatalf("preview = %s, want m2", convs[0].LastMessage.ID)
	}
}

// 自己发的消息与正在查看的会话不累加未读
func TestStoreUnreadExemptions(t *testing.T) {
	s := newTestStore()

	s.applyMessage(&dto.MessageDTO{ID: "self", ConversationID: 7, SenderID: 3, Seq: 1, CreatedAt: time.Now()})

	s.setActive(8)
	s.applyMessage(&dto.MessageDTO{ID: "active", ConversationID: 8, SenderID: 17, Seq: 1, CreatedAt: time.Now()})

	for _, conv := range s.Conversations() {
		if conv.UnreadCount != 0 {
			t.Fatalf("conversation %d unread = %d, want 0", conv.ConversationID, conv.UnreadCount)
		}
	}
}

// 本地优先：未读数立即清零，不等待持久化结果
func TestStoreMarkAsReadLocalFirst(t *testing.T) {
	s := newTestStore()

	s.applyMessage(&dto.MessageDTO{ID: "m1", ConversationID: 7, SenderID: 17, Seq: 1, CreatedAt: time.Now()})

	// REST 端点不可达，持久化注定失败
	s.MarkAsRead(7)

	convs := s.Conversations()
	if convs[0].UnreadCount != 0 {
		t.Fatalf("unread = %d, want 0 immediately", convs[0].UnreadCount)
	}
}

// 持久化在后台独立完成，调用方返回后服务端仍能收到已读上报
func TestStoreMarkAsReadPersistsInBackground(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/im/read" {
			hits.Add(1)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"code":200,"message":"success","data":null}`))
	}))
	defer srv.Close()

	opts := testOptions(nil)
	opts.BaseURL = srv.URL
	s := New(opts).Store()

	s.applyMessage(&dto.MessageDTO{ID: "m1", ConversationID: 7, SenderID: 17, Seq: 1, CreatedAt: time.Now()})
	s.MarkAsRead(7)

	deadline := time.Now().Add(2 * time.Second)
	for hits.Load() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("read receipt never reached the server")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestStoreConversationsOrderedByActivity(t *testing.T) {
	s := newTestStore()
	base := time.Now()

	s.applyMessage(&dto.MessageDTO{ID: "a", ConversationID: 1, SenderID: 17, Seq: 1, CreatedAt: base})
	s.applyMessage(&dto.MessageDTO{ID: "b", ConversationID: 2, SenderID: 17, Seq: 1, CreatedAt: base.Add(time.Minute)})

	convs := s.Conversations()
	if convs[0].ConversationID != 2 {
		t.Fatalf("most recent conversation = %d, want 2", convs[0].ConversationID)
	}
}
