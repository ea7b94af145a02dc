package imclient

import (
	"JobNest/internal/hub"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
)

type readResult struct {
	data []byte
	err  error
}

type fakeConn struct {
	mu      sync.Mutex
	reads   chan readResult
	written [][]byte
	closed  bool
}

func newFakeClientConn() *fakeConn {
	return &fakeConn{reads: make(chan readResult, 16)}
}

func (c *fakeConn) ReadMessage() (int, []byte, error) {
	r, ok := <-c.reads
	if !ok {
		return 0, nil, errors.New("closed")
	}
	return websocket.TextMessage, r.data, r.err
}

func (c *fakeConn) WriteMessage(_ int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	cp := make([]byte, len(data))
	copy(cp, data)
	c.written = append(c.written, cp)
	return nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.reads)
	}
	return nil
}

func (c *fakeConn) writtenEvents(t *testing.T) []string {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	var events []string
	for _, raw := range c.written {
		var env hub.Envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			t.Fatalf("bad written payload %s: %v", raw, err)
		}
		events = append(events, env.Event+":"+string(env.Data))
	}
	return events
}

func testOptions(dial DialFunc) Options {
	return Options{
		BaseURL:       "http://127.0.0.1:0",
		WSURL:         "ws://127.0.0.1:0/api/im",
		UserID:        3,
		TokenProvider: func() (string, error) { return "t", nil },
		BackoffBase:   time.Millisecond,
		BackoffMax:    4 * time.Millisecond,
		MaxAttempts:   3,
		Dial:          dial,
	}
}

// 重试超过上限后进入终态，不再无限建连
func TestConnectBackoffBoundTerminalFailure(t *testing.T) {
	var mu sync.Mutex
	dials := 0
	dial := func(context.Context, string) (Conn, error) {
		mu.Lock()
		dials++
		mu.Unlock()
		return nil, errors.New("refused")
	}

	c := New(testOptions(dial))
	err := c.Connect(context.Background())
	if !errors.Is(err, ErrRetriesExhausted) {
		t.Fatalf("err = %v, want ErrRetriesExhausted", err)
	}
	if got := c.Status(); got != StatusFailed {
		t.Fatalf("status = %d, want StatusFailed", got)
	}

	mu.Lock()
	defer mu.Unlock()
	if dials != 3 {
		t.Fatalf("dialed %d times, want MaxAttempts(3)", dials)
	}
}

func TestConnectIdempotent(t *testing.T) {
	var mu sync.Mutex
	dials := 0
	conn := newFakeClientConn()
	dial := func(context.Context, string) (Conn, error) {
		mu.Lock()
		dials++
		mu.Unlock()
		return conn, nil
	}

	c := New(testOptions(dial))
	defer func() {
		_ = c.Close()
	}()

	for i := 0; i < 3; i++ {
		if err := c.Connect(context.Background()); err != nil {
			t.Fatalf("Connect: %v", err)
		}
	}
	if got := c.Status(); got != StatusConnected {
		t.Fatalf("status = %d, want StatusConnected", got)
	}

	mu.Lock()
	defer mu.Unlock()
	if dials != 1 {
		t.Fatalf("dialed %d times for repeated Connect, want 1", dials)
	}
}

// 断线重连成功后自动重放全部 joinRoom 订阅
func TestReconnectReplaysJoinedRooms(t *testing.T) {
	first := newFakeClientConn()
	second := newFakeClientConn()
	conns := []*fakeConn{first, second}

	var mu sync.Mutex
	dials := 0
	dial := func(context.Context, string) (Conn, error) {
		mu.Lock()
		defer mu.Unlock()
		conn := conns[dials]
		dials++
		return conn, nil
	}

	c := New(testOptions(dial))
	defer func() {
		_ = c.Close()
	}()
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if err := c.JoinRoom(1); err != nil {
		t.Fatalf("JoinRoom: %v", err)
	}
	if err := c.JoinRoom(2); err != nil {
		t.Fatalf("JoinRoom: %v", err)
	}

	// 服务端主动下线，应立即重连
	first.reads <- readResult{err: &websocket.CloseError{Code: websocket.CloseGoingAway}}

	deadline := time.Now().Add(2 * time.Second)
	for {
		second.mu.Lock()
		n := len(second.written)
		second.mu.Unlock()
		if n >= 2 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("rejoin frames never written on new connection")
		}
		time.Sleep(5 * time.Millisecond)
	}

	events := second.writtenEvents(t)
	joined := map[string]bool{}
	for _, e := range events {
		if strings.HasPrefix(e, hub.EventJoinRoom+":") {
			joined[e] = true
		}
	}
	if len(joined) != 2 {
		t.Fatalf("replayed %d join frames, want 2: %v", len(joined), events)
	}
	if got := c.Status(); got != StatusConnected {
		t.Fatalf("status = %d, want StatusConnected after reconnect", got)
	}
}

func TestSendMessageRequiresConnection(t *testing.T) {
	c := New(testOptions(func(context.Context, string) (Conn, error) {
		return nil, errors.New("refused")
	}))

	err := c.SendMessage(nil)
	if !errors.Is(err, ErrNotConnected) {
		t.Fatalf("err = %v, want ErrNotConnected", err)
	}
}
