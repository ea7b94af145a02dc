package hub

import (
	"JobNest/internal/api/dto"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
)

type fakeConn struct {
	mu      sync.Mutex
	written [][]byte
	closed  bool
	wakeup  chan struct{}
}

func newFakeConn() *fakeConn {
	return &fakeConn{wakeup: make(chan struct{}, 16)}
}

func (c *fakeConn) ReadMessage() (int, []byte, error) {
	<-c.wakeup
	return 0, nil, errors.New("closed")
}

func (c *fakeConn) WriteMessage(_ int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	cp := make([]byte, len(data))
	copy(cp, data)
	c.written = append(c.written, cp)
	return nil
}

func (c *fakeConn) WriteControl(int, []byte, time.Time) error { return nil }
func (c *fakeConn) SetWriteDeadline(time.Time) error          { return nil }
func (c *fakeConn) SetReadDeadline(time.Time) error           { return nil }
func (c *fakeConn) SetReadLimit(int64)                        {}
func (c *fakeConn) SetPongHandler(func(string) error)         {}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	select {
	case c.wakeup <- struct{}{}:
	default:
	}
	return nil
}

// waitWritten 等待写协程刷出至少 n 条消息
func (c *fakeConn) waitWritten(t *testing.T, n int) [][]byte {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		c.mu.Lock()
		if len(c.written) >= n {
			res := make([][]byte, len(c.written))
			copy(res, c.written)
			c.mu.Unlock()
			return res
		}
		c.mu.Unlock()
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %d written messages", n)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func (c *fakeConn) writtenCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.written)
}

type fakeAuth struct {
	members map[uint64][]uint64 // convID -> userIDs
}

func (f *fakeAuth) IsMember(_ context.Context, convID uint64, userID uint64) (bool, error) {
	for _, id := range f.members[convID] {
		if id == userID {
			return true, nil
		}
	}
	return false, nil
}

type fakeSender struct {
	mu        sync.Mutex
	err       error
	senderIDs []uint64
	reqs      []*dto.SendMessageReq
}

func (f *fakeSender) SendMessage(_ context.Context, senderID uint64, req *dto.SendMessageReq) (*dto.MessageDTO, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.senderIDs = append(f.senderIDs, senderID)
	f.reqs = append(f.reqs, req)
	return &dto.MessageDTO{ConversationID: req.ConversationID, SenderID: senderID, Content: req.Content}, nil
}

func newTestHub(auth Authorizer) *Hub {
	return NewHub(auth, 16, 4096)
}

// 重复 join 幂等：同一会话只会收到一次广播
func TestJoinIdempotentSingleDelivery(t *testing.T) {
	h := newTestHub(&fakeAuth{members: map[uint64][]uint64{1: {3, 17}}})
	conn := newFakeConn()
	s := h.NewSession(conn, 3)
	defer h.Unregister(s)

	for i := 0; i < 3; i++ {
		if err := h.Join(context.Background(), s, 1); err != nil {
			t.Fatalf("Join: %v", err)
		}
	}

	h.DeliverRoom(1, []byte(`{"event":"newMessage"}`))
	conn.waitWritten(t, 1)
	time.Sleep(20 * time.Millisecond)
	if got := conn.writtenCount(); got != 1 {
		t.Fatalf("delivered %d times after triple join, want 1", got)
	}
}

// 非成员 join 静默拒绝：无错误返回，也收不到任何广播
func TestJoinUnauthorizedSilentReject(t *testing.T) {
	h := newTestHub(&fakeAuth{members: map[uint64][]uint64{1: {3, 17}}})
	conn := newFakeConn()
	s := h.NewSession(conn, 99)
	defer h.Unregister(s)

	if err := h.Join(context.Background(), s, 1); err != nil {
		t.Fatalf("Join returned error for non-member: %v", err)
	}

	h.DeliverRoom(1, []byte(`{"event":"newMessage"}`))
	time.Sleep(50 * time.Millisecond)
	if got := conn.writtenCount(); got != 0 {
		t.Fatalf("non-member received %d deliveries, want 0", got)
	}
}

func TestDeliverRoomOnlyJoinedSessions(t *testing.T) {
	h := newTestHub(&fakeAuth{members: map[uint64][]uint64{1: {3, 17}, 2: {3, 42}}})

	connA, connB := newFakeConn(), newFakeConn()
	sA := h.NewSession(connA, 3)
	sB := h.NewSession(connB, 17)
	defer h.Unregister(sA)
	defer h.Unregister(sB)

	if err := h.Join(context.Background(), sA, 1); err != nil {
		t.Fatalf("Join: %v", err)
	}
	// B 在线但未 join 房间 1

	h.DeliverRoom(1, []byte(`x`))
	connA.waitWritten(t, 1)
	time.Sleep(20 * time.Millisecond)
	if got := connB.writtenCount(); got != 0 {
		t.Fatalf("un-joined session received %d deliveries, want 0", got)
	}
}

// 未加入房间时 leave 为空操作
func TestLeaveAbsentRoomNoop(t *testing.T) {
	h := newTestHub(&fakeAuth{members: map[uint64][]uint64{1: {3}}})
	conn := newFakeConn()
	s := h.NewSession(conn, 3)
	defer h.Unregister(s)

	h.Leave(s, 1)
	h.Leave(s, 42)

	if err := h.Join(context.Background(), s, 1); err != nil {
		t.Fatalf("Join after noop leave: %v", err)
	}
	h.DeliverRoom(1, []byte(`x`))
	conn.waitWritten(t, 1)
}

func TestDeliverUserTargetsAllUserSessions(t *testing.T) {
	h := newTestHub(&fakeAuth{members: map[uint64][]uint64{}})

	connA, connB, connC := newFakeConn(), newFakeConn(), newFakeConn()
	sA := h.NewSession(connA, 3) // 同一用户两个端
	sB := h.NewSession(connB, 3)
	sC := h.NewSession(connC, 17)
	defer h.Unregister(sA)
	defer h.Unregister(sB)
	defer h.Unregister(sC)

	h.DeliverUser(3, []byte(`n`))
	connA.waitWritten(t, 1)
	connB.waitWritten(t, 1)
	time.Sleep(20 * time.Millisecond)
	if got := connC.writtenCount(); got != 0 {
		t.Fatalf("other user received %d deliveries, want 0", got)
	}

	if !h.IsUserOnline(3) || h.IsUserOnline(42) {
		t.Fatal("IsUserOnline mismatch")
	}
}

// 落库失败时 messageError 只回给发件人连接
func TestSendMessageFailureNotifiesSenderOnly(t *testing.T) {
	h := newTestHub(&fakeAuth{members: map[uint64][]uint64{1: {3, 17}}})
	sender := &fakeSender{err: errors.New("消息保存失败，请重试")}
	h.SetMessageSender(sender)

	connA, connB := newFakeConn(), newFakeConn()
	sA := h.NewSession(connA, 3)
	sB := h.NewSession(connB, 17)
	defer h.Unregister(sA)
	defer h.Unregister(sB)
	if err := h.Join(context.Background(), sA, 1); err != nil {
		t.Fatalf("Join: %v", err)
	}
	if err := h.Join(context.Background(), sB, 1); err != nil {
		t.Fatalf("Join: %v", err)
	}

	h.handleInbound(sA, []byte(`{"event":"sendMessage","data":{"conversation_id":1,"content":"hi","client_msg_id":"c-1"}}`))

	written := connA.waitWritten(t, 1)
	if want := `"messageError"`; !strings.Contains(string(written[0]), want) {
		t.Fatalf("sender payload %s lacks %s", written[0], want)
	}
	if want := `"c-1"`; !strings.Contains(string(written[0]), want) {
		t.Fatalf("messageError payload %s lacks client msg id", written[0])
	}
	time.Sleep(20 * time.Millisecond)
	if got := connB.writtenCount(); got != 0 {
		t.Fatalf("peer received %d deliveries on failure, want 0", got)
	}
}

// sendMessage 的发送者身份取连接鉴权结果，载荷伪造无效
func TestSendMessageUsesSessionIdentity(t *testing.T) {
	h := newTestHub(&fakeAuth{members: map[uint64][]uint64{1: {3, 17}}})
	sender := &fakeSender{}
	h.SetMessageSender(sender)

	conn := newFakeConn()
	s := h.NewSession(conn, 3)
	defer h.Unregister(s)

	h.handleInbound(s, []byte(`{"event":"sendMessage","data":{"conversation_id":1,"content":"hello"}}`))

	sender.mu.Lock()
	defer sender.mu.Unlock()
	if len(sender.reqs) != 1 {
		t.Fatalf("sender invoked %d times, want 1", len(sender.reqs))
	}
	if sender.senderIDs[0] != 3 {
		t.Fatalf("senderID = %d, want session identity 3", sender.senderIDs[0])
	}
}
