package connection

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// echoHandler replies to every frame with the same bytes and records
// session lifecycle.
type echoHandler struct {
	mu     sync.Mutex
	opened []string
	closed int
	frames int
}

type echoSession struct {
	h    *echoHandler
	peer Peer
}

func (h *echoHandler) Open(p Peer) Session {
	h.mu.Lock()
	h.opened = append(h.opened, p.ID())
	h.mu.Unlock()
	return &echoSession{h: h, peer: p}
}

func (s *echoSession) HandleFrame(frame []byte) {
	s.h.mu.Lock()
	s.h.frames++
	s.h.mu.Unlock()
	_ = s.peer.Send(frame)
}

func (s *echoSession) Close() {
	s.h.mu.Lock()
	s.h.closed++
	s.h.mu.Unlock()
}

func (h *echoHandler) counts() (opened, closed, frames int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.opened), h.closed, h.frames
}

func testServerConfig() ServerConfig {
	cfg := DefaultServerConfig()
	cfg.PingInterval = 50 * time.Millisecond
	cfg.ReadTimeout = time.Second
	cfg.WriteTimeout = time.Second
	return cfg
}

func TestServer_EchoAndLifecycle(t *testing.T) {
	h := &echoHandler{}
	srv := NewServer(testServerConfig(), h, nil)
	ts := httptest.NewServer(srv)
	defer ts.Close()

	client := NewClient(testClientConfig(wsURL(ts)), nil)
	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	want := []byte{0x05, 0x00, 0xAA}
	if err := client.Send(want); err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	select {
	case f := <-client.Frames():
		if !bytes.Equal(f.Data, want) {
			t.Errorf("echo = % x, want % x", f.Data, want)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for echo")
	}

	if srv.Len() != 1 {
		t.Errorf("Len() = %d, want 1", srv.Len())
	}

	client.Close()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if _, closed, _ := h.counts(); closed == 1 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	opened, closed, frames := h.counts()
	if opened != 1 || closed != 1 || frames != 1 {
		t.Errorf("opened/closed/frames = %d/%d/%d, want 1/1/1", opened, closed, frames)
	}
	if srv.Len() != 0 {
		t.Errorf("Len() after disconnect = %d, want 0", srv.Len())
	}
}

func TestServer_IgnoresTextMessages(t *testing.T) {
	h := &echoHandler{}
	ts := httptest.NewServer(NewServer(testServerConfig(), h, nil))
	defer ts.Close()

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(ts), nil)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer conn.Close()

	conn.WriteMessage(websocket.TextMessage, []byte("hello"))
	conn.WriteMessage(websocket.BinaryMessage, []byte{1, 0})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage failed: %v", err)
	}
	if !bytes.Equal(data, []byte{1, 0}) {
		t.Errorf("echo = % x, want 01 00", data)
	}
	if _, _, frames := h.counts(); frames != 1 {
		t.Errorf("frames = %d, want 1", frames)
	}
}

func TestServer_Close(t *testing.T) {
	h := &echoHandler{}
	srv := NewServer(testServerConfig(), h, nil)
	ts := httptest.NewServer(srv)
	defer ts.Close()

	client := NewClient(testClientConfig(wsURL(ts)), nil)
	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer client.Close()

	deadline := time.Now().Add(time.Second)
	for srv.Len() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	srv.Close()

	select {
	case <-client.Errors():
	case <-time.After(2 * time.Second):
		t.Fatal("client not disconnected by server Close")
	}
}

func TestPeer_SlowConsumerIsDropped(t *testing.T) {
	peers := make(chan *peer, 1)
	upgrader := websocket.Upgrader{}
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		cfg := testServerConfig()
		cfg.MaxPending = 3
		// The writer is never started, so frames accumulate.
		peers <- newPeer("slow", conn, cfg, slogDiscard())
	}))
	defer ts.Close()

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(ts), nil)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer conn.Close()

	p := <-peers
	for i := 0; i < 3; i++ {
		if err := p.Send([]byte{byte(i)}); err != nil {
			t.Fatalf("Send(%d) error = %v", i, err)
		}
	}
	if err := p.Send([]byte{3}); err != ErrSlowConsumer {
		t.Errorf("Send over limit error = %v, want ErrSlowConsumer", err)
	}
	if err := p.Send([]byte{4}); err != ErrAlreadyClosed {
		t.Errorf("Send after drop error = %v, want ErrAlreadyClosed", err)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Error("expected dropped peer connection to be closed")
	}
}
