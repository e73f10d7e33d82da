package dianya

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// --- Mock WebSocket server ---

// mockServer accepts stream connections, records what the client sends and
// writes every frame pushed on out. A nil frame closes the connection
// normally from the server side.
type mockServer struct {
	url string
	out chan []byte

	mu     sync.Mutex
	paths  []string
	binary int
	bytes  int
	texts  []string
	pings  int
}

func startMockServer(t *testing.T) *mockServer {
	t.Helper()
	m := &mockServer{out: make(chan []byte, 64)}
	server := httptest.NewServer(m.handler(t))
	t.Cleanup(server.Close)
	m.url = "ws" + strings.TrimPrefix(server.URL, "http") + "/ws"
	return m
}

func (m *mockServer) handler(t *testing.T) http.HandlerFunc {
	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool { return true },
	}

	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Logf("upgrade error: %v", err)
			return
		}
		defer conn.Close()

		m.mu.Lock()
		m.paths = append(m.paths, r.URL.Path)
		m.mu.Unlock()

		conn.SetPingHandler(func(data string) error {
			m.mu.Lock()
			m.pings++
			m.mu.Unlock()
			return conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(time.Second))
		})

		readerDone := make(chan struct{})
		go func() {
			defer close(readerDone)
			for {
				msgType, msg, err := conn.ReadMessage()
				if err != nil {
					return
				}
				m.mu.Lock()
				if msgType == websocket.BinaryMessage {
					m.binary++
					m.bytes += len(msg)
				} else {
					m.texts = append(m.texts, string(msg))
				}
				m.mu.Unlock()
			}
		}()

		for {
			select {
			case frame := <-m.out:
				if frame == nil {
					msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye")
					conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
					return
				}
				if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
					return
				}
			case <-readerDone:
				return
			}
		}
	}
}

func (m *mockServer) push(frames ...string) {
	for _, f := range frames {
		m.out <- []byte(f)
	}
}

func (m *mockServer) closeConn() {
	m.out <- nil
}

func (m *mockServer) binaryFrames() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.binary
}

func (m *mockServer) streamOptions() StreamOptions {
	return StreamOptions{
		WebSocketURL:   m.url,
		ReceiveTimeout: 20 * time.Millisecond,
		Logger:         testLogger(),
	}
}

func (m *mockServer) client() *Client {
	return NewClient(ClientOptions{
		WebSocketURL: m.url,
		Logger:       testLogger(),
		Stream: StreamOptions{
			ReceiveTimeout: 20 * time.Millisecond,
		},
	})
}

func connectStream(t *testing.T, m *mockServer, sessionID string) *Stream {
	t.Helper()
	s, err := NewStream(sessionID, m.streamOptions())
	if err != nil {
		t.Fatalf("NewStream failed: %v", err)
	}
	if err := s.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for !cond() {
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for %s", what)
		default:
			time.Sleep(5 * time.Millisecond)
		}
	}
}

// --- Stream lifecycle ---

func TestNewStreamRequiresSessionID(t *testing.T) {
	_, err := NewStream("  ", StreamOptions{Logger: testLogger()})
	if !IsKind(err, ErrorKindInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
}

func TestStreamConnectAndClose(t *testing.T) {
	m := startMockServer(t)

	var states []State
	var mu sync.Mutex
	opts := m.streamOptions()
	opts.OnStateChange = func(old, new State) {
		mu.Lock()
		states = append(states, new)
		mu.Unlock()
	}

	s, err := NewStream("sess-1", opts)
	if err != nil {
		t.Fatalf("NewStream failed: %v", err)
	}
	if s.ID() == "" {
		t.Error("expected a stream handle id")
	}
	if err := s.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	if s.State() != StateConnected {
		t.Errorf("expected Connected state, got %s", s.State())
	}

	if err := s.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("second Close failed: %v", err)
	}
	if s.State() != StateClosed {
		t.Errorf("expected Closed state, got %s", s.State())
	}

	mu.Lock()
	defer mu.Unlock()
	expected := []State{StateConnecting, StateConnected, StateStopping, StateClosed}
	if len(states) != len(expected) {
		t.Fatalf("expected %d state transitions, got %d: %v", len(expected), len(states), states)
	}
	for i, st := range expected {
		if states[i] != st {
			t.Errorf("state[%d]: expected %s, got %s", i, st, states[i])
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.paths) != 1 || m.paths[0] != "/ws/sess-1" {
		t.Errorf("expected stream url to end with the session id, got %v", m.paths)
	}
}

func TestStreamConnectAfterClose(t *testing.T) {
	m := startMockServer(t)
	s := connectStream(t, m, "sess-1")

	if err := s.Connect(context.Background()); !errors.Is(err, ErrStreamAlreadyOpen) {
		t.Errorf("expected already open, got %v", err)
	}
	s.Close()
	if err := s.Connect(context.Background()); !errors.Is(err, ErrStreamClosed) {
		t.Errorf("expected closed, got %v", err)
	}
}

func TestStreamWriteWhenNotConnected(t *testing.T) {
	s, err := NewStream("sess-1", StreamOptions{Logger: testLogger()})
	if err != nil {
		t.Fatalf("NewStream failed: %v", err)
	}

	if err := s.WriteBinary([]byte{0, 0}); !errors.Is(err, ErrStreamNotConnected) {
		t.Errorf("expected not connected, got %v", err)
	}
	if _, err := s.Receive(0); !errors.Is(err, ErrStreamNotConnected) {
		t.Errorf("expected not connected on receive, got %v", err)
	}

	s.Close()
	if err := s.WriteBinary([]byte{0, 0}); !errors.Is(err, ErrStreamClosed) {
		t.Errorf("expected closed, got %v", err)
	}
	if err := s.WriteText(`{}`); !errors.Is(err, ErrStreamClosed) {
		t.Errorf("expected closed for text, got %v", err)
	}
	if _, err := s.Receive(0); !errors.Is(err, ErrStreamClosed) {
		t.Errorf("expected closed on receive, got %v", err)
	}
}

func TestStreamStopWithoutLoop(t *testing.T) {
	m := startMockServer(t)
	s := connectStream(t, m, "sess-1")

	if err := s.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if err := s.Stop(); err != nil {
		t.Fatalf("second Stop failed: %v", err)
	}
	if s.State() != StateStopping {
		t.Errorf("expected Stopping state, got %s", s.State())
	}

	ev, err := s.Receive(time.Second)
	if ev != nil || err != nil {
		t.Errorf("expected (nil, nil) after Stop, got (%v, %v)", ev, err)
	}

	if err := s.WriteBinary([]byte{1, 2, 3, 4}); err != nil {
		t.Fatalf("writes should be accepted after Stop: %v", err)
	}
	waitFor(t, "binary frame", func() bool { return m.binaryFrames() == 1 })
}

func TestStreamWriteEmptyIsNoop(t *testing.T) {
	m := startMockServer(t)
	s := connectStream(t, m, "sess-1")

	if err := s.WriteBinary(nil); err != nil {
		t.Fatalf("empty write failed: %v", err)
	}
	if err := s.WriteBinary([]byte{1, 2}); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	waitFor(t, "binary frame", func() bool { return m.binaryFrames() == 1 })

	time.Sleep(50 * time.Millisecond)
	if got := m.binaryFrames(); got != 1 {
		t.Errorf("expected exactly 1 frame on the wire, got %d", got)
	}
}

func TestStreamWriteText(t *testing.T) {
	m := startMockServer(t)
	s := connectStream(t, m, "sess-1")

	if err := s.WriteText(`{"type":"ping"}`); err != nil {
		t.Fatalf("WriteText failed: %v", err)
	}
	waitFor(t, "text frame", func() bool {
		m.mu.Lock()
		defer m.mu.Unlock()
		return len(m.texts) == 1 && m.texts[0] == `{"type":"ping"}`
	})
}

// --- Receive ---

func TestStreamReceive(t *testing.T) {
	m := startMockServer(t)
	s := connectStream(t, m, "sess-1")

	m.push(`{"type":"asr_result_partial","data":{"text":"hel"}}`)

	ev, err := s.Receive(2 * time.Second)
	if err != nil {
		t.Fatalf("Receive failed: %v", err)
	}
	if ev == nil || ev.Kind != EventPartialResult || ev.Text != "hel" {
		t.Fatalf("expected partial 'hel', got %+v", ev)
	}
}

func TestStreamReceiveTimeout(t *testing.T) {
	m := startMockServer(t)
	s := connectStream(t, m, "sess-1")

	start := time.Now()
	ev, err := s.Receive(50 * time.Millisecond)
	if ev != nil || err != nil {
		t.Fatalf("expected (nil, nil) on timeout, got (%v, %v)", ev, err)
	}
	if elapsed := time.Since(start); elapsed < 40*time.Millisecond {
		t.Errorf("Receive returned before the timeout: %v", elapsed)
	}

	start = time.Now()
	ev, err = s.Receive(0)
	if ev != nil || err != nil {
		t.Fatalf("expected (nil, nil) from poll, got (%v, %v)", ev, err)
	}
	if elapsed := time.Since(start); elapsed > 20*time.Millisecond {
		t.Errorf("zero timeout should not block, took %v", elapsed)
	}
}

func TestStreamReceiveDecodingError(t *testing.T) {
	m := startMockServer(t)
	s := connectStream(t, m, "sess-1")

	m.push(`not json`, `{"type":"asr_result","data":{"text":"ok"}}`)

	_, err := s.Receive(2 * time.Second)
	if !IsKind(err, ErrorKindDecoding) {
		t.Fatalf("expected decoding error, got %v", err)
	}

	ev, err := s.Receive(2 * time.Second)
	if err != nil {
		t.Fatalf("stream should stay usable after a bad frame: %v", err)
	}
	if ev == nil || ev.Kind != EventFinalResult || ev.Text != "ok" {
		t.Fatalf("expected final 'ok', got %+v", ev)
	}
}

func TestStreamServerClose(t *testing.T) {
	m := startMockServer(t)
	s := connectStream(t, m, "sess-1")

	m.closeConn()

	_, err := s.Receive(2 * time.Second)
	if !IsKind(err, ErrorKindTransport) {
		t.Fatalf("expected transport error, got %v", err)
	}
	if errors.Is(err, ErrStreamClosed) {
		t.Error("a server close should not look like a local close")
	}
	waitFor(t, "Closed state", func() bool { return s.State() == StateClosed })

	if err := s.WriteBinary([]byte{0, 0}); !errors.Is(err, ErrStreamClosed) {
		t.Errorf("expected closed after server close, got %v", err)
	}
}

func TestStreamCloseUnblocksReceive(t *testing.T) {
	m := startMockServer(t)
	s := connectStream(t, m, "sess-1")

	returned := make(chan error, 1)
	go func() {
		_, err := s.Receive(10 * time.Second)
		returned <- err
	}()
	time.Sleep(50 * time.Millisecond)

	start := time.Now()
	s.Close()
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("Close took %v with a pending receive", elapsed)
	}

	select {
	case err := <-returned:
		if err != nil && !errors.Is(err, ErrStreamClosed) {
			t.Errorf("unexpected receive error: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("pending receive was not released by Close")
	}
}

func TestStreamConcurrentWrites(t *testing.T) {
	m := startMockServer(t)
	s := connectStream(t, m, "sess-1")

	sub := s.StartReceiving(func(Event) {})
	defer sub.Cancel()

	const writers, frames = 4, 50
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < frames; j++ {
				if err := s.WriteBinary(make([]byte, 320)); err != nil {
					t.Errorf("WriteBinary failed: %v", err)
					return
				}
			}
		}()
	}
	wg.Wait()

	waitFor(t, "all frames", func() bool { return m.binaryFrames() == writers*frames })

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.bytes != writers*frames*320 {
		t.Errorf("expected %d bytes, got %d", writers*frames*320, m.bytes)
	}
}

func TestStreamKeepAlive(t *testing.T) {
	m := startMockServer(t)
	opts := m.streamOptions()
	opts.KeepAlive = true
	opts.KeepAliveInterval = 20 * time.Millisecond

	s, err := NewStream("sess-1", opts)
	if err != nil {
		t.Fatalf("NewStream failed: %v", err)
	}
	if err := s.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer s.Close()

	waitFor(t, "keepalive pings", func() bool {
		m.mu.Lock()
		defer m.mu.Unlock()
		return m.pings >= 2
	})
}

func TestWaitTimeout(t *testing.T) {
	var wg sync.WaitGroup
	wg.Add(1)
	if waitTimeout(&wg, 20*time.Millisecond) {
		t.Error("expected timeout while the group is busy")
	}
	wg.Done()
	if !waitTimeout(&wg, time.Second) {
		t.Error("expected the wait to complete")
	}
}

// --- Client stream registry ---

func TestOpenStreamOnePerSession(t *testing.T) {
	m := startMockServer(t)
	client := m.client()
	defer client.Close()
	ctx := context.Background()

	first, err := client.OpenStream(ctx, "sess-1")
	if err != nil {
		t.Fatalf("OpenStream failed: %v", err)
	}
	if _, err := client.OpenStream(ctx, "sess-1"); !errors.Is(err, ErrSessionStreamOpen) {
		t.Fatalf("expected one stream per session, got %v", err)
	}

	other, err := client.OpenStream(ctx, "sess-2")
	if err != nil {
		t.Fatalf("OpenStream for another session failed: %v", err)
	}
	if got, ok := client.Stream(other.ID()); !ok || got != other {
		t.Error("expected stream lookup by handle id")
	}

	first.Close()
	if _, ok := client.Stream(first.ID()); ok {
		t.Error("closed stream should be released")
	}

	again, err := client.OpenStream(ctx, "sess-1")
	if err != nil {
		t.Fatalf("reopen after close failed: %v", err)
	}
	if again.ID() == first.ID() {
		t.Error("expected a fresh handle")
	}
}

func TestOpenSessionStream(t *testing.T) {
	m := startMockServer(t)
	client := m.client()
	defer client.Close()

	if _, err := client.OpenSessionStream(context.Background(), nil); !IsKind(err, ErrorKindInvalidInput) {
		t.Errorf("expected invalid input for nil session, got %v", err)
	}

	s, err := client.OpenSessionStream(context.Background(), &SessionDescriptor{TaskID: "t1", SessionID: "s1"})
	if err != nil {
		t.Fatalf("OpenSessionStream failed: %v", err)
	}
	if s.SessionID() != "s1" {
		t.Errorf("expected session s1, got %s", s.SessionID())
	}
}

func TestOpenStreamHandshakeFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
	}))
	t.Cleanup(server.Close)

	client := NewClient(ClientOptions{
		WebSocketURL: "ws" + strings.TrimPrefix(server.URL, "http"),
		Logger:       testLogger(),
	})

	for i := 0; i < 2; i++ {
		s, err := client.OpenStream(context.Background(), "sess-1")
		if s != nil {
			t.Fatal("expected no stream on handshake failure")
		}
		if errors.Is(err, ErrSessionStreamOpen) {
			t.Fatal("failed handshake should release the session slot")
		}
		if !IsKind(err, ErrorKindTransport) {
			t.Fatalf("expected transport error, got %v", err)
		}
		var e *Error
		if !errors.As(err, &e) || e.Code == nil || *e.Code != http.StatusUnauthorized {
			t.Errorf("expected handshake status as code, got %v", err)
		}
	}
}

func TestStreamConnectUnreachable(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := "ws" + strings.TrimPrefix(server.URL, "http")
	server.Close()

	s, err := NewStream("sess-1", StreamOptions{WebSocketURL: url, Logger: testLogger()})
	if err != nil {
		t.Fatalf("NewStream failed: %v", err)
	}
	if err := s.Connect(context.Background()); !IsKind(err, ErrorKindTransport) {
		t.Fatalf("expected transport error, got %v", err)
	}
	if s.State() != StateDisconnected {
		t.Errorf("expected Disconnected after failed connect, got %s", s.State())
	}
}

func TestClientCloseClosesStreams(t *testing.T) {
	m := startMockServer(t)
	client := m.client()

	a, err := client.OpenStream(context.Background(), "sess-1")
	if err != nil {
		t.Fatalf("OpenStream failed: %v", err)
	}
	b, err := client.OpenStream(context.Background(), "sess-2")
	if err != nil {
		t.Fatalf("OpenStream failed: %v", err)
	}

	client.Close()
	if a.State() != StateClosed || b.State() != StateClosed {
		t.Errorf("expected all streams closed, got %s and %s", a.State(), b.State())
	}
}

func TestStreamStopBeforeConnect(t *testing.T) {
	m := startMockServer(t)
	s, err := NewStream("sess-1", m.streamOptions())
	if err != nil {
		t.Fatalf("NewStream failed: %v", err)
	}
	defer s.Close()

	s.Stop()
	if err := s.Connect(context.Background()); !errors.Is(err, ErrStreamClosed) {
		t.Fatalf("expected a stopped stream to refuse Connect, got %v", err)
	}
	if s.State() != StateDisconnected {
		t.Errorf("expected Disconnected, got %s", s.State())
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.paths) != 0 {
		t.Errorf("expected no handshake, got %v", m.paths)
	}
}

func TestStreamCloseForcesRelease(t *testing.T) {
	m := startMockServer(t)
	opts := m.streamOptions()
	opts.CloseWait = 50 * time.Millisecond

	s, err := NewStream("sess-1", opts)
	if err != nil {
		t.Fatalf("NewStream failed: %v", err)
	}
	if err := s.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	// A receive that does not finish before the bound.
	s.receiving.Add(1)

	start := time.Now()
	s.Close()
	elapsed := time.Since(start)
	s.receiving.Done()

	if elapsed < 40*time.Millisecond {
		t.Errorf("Close should wait for the in-flight receive, took %v", elapsed)
	}
	if elapsed > time.Second {
		t.Errorf("Close should be bounded by CloseWait, took %v", elapsed)
	}
	if s.State() != StateClosed {
		t.Errorf("expected Closed state, got %s", s.State())
	}
	if !waitTimeout(&s.receiving, time.Second) {
		t.Error("receive group should drain once the late receive finishes")
	}
}
