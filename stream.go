package dianya

import (
	"context"
	"crypto/tls"
	"errors"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Stream is one bidirectional WebSocket connection scoped to a session.
//
// Writes may be issued from any goroutine while a receive is pending; the
// read and write directions never share a lock. A closed Stream cannot be
// reused.
type Stream struct {
	id        string
	sessionID string
	options   StreamOptions
	logger    *log.Logger
	tlsCache  tls.ClientSessionCache

	mu       sync.RWMutex
	state    State
	conn     *websocket.Conn
	closing  bool
	inbound  chan []byte
	readDone chan struct{}
	readErr  error

	writeMu   sync.Mutex
	receiving sync.WaitGroup

	stopped   chan struct{}
	stopOnce  sync.Once
	done      chan struct{}
	closeOnce sync.Once

	loopMu    sync.Mutex
	loop      *Subscription
	deliverMu sync.Mutex

	onRelease func()
}

// NewStream creates a disconnected stream for sessionID.
func NewStream(sessionID string, options StreamOptions) (*Stream, error) {
	if strings.TrimSpace(sessionID) == "" {
		return nil, NewError(ErrorKindInvalidInput, "session id is required")
	}
	options.applyDefaults()

	id := uuid.NewString()
	return &Stream{
		id:        id,
		sessionID: sessionID,
		options:   options,
		logger:    options.Logger.With("stream", id),
		tlsCache:  tls.NewLRUClientSessionCache(8),
		state:     StateDisconnected,
		stopped:   make(chan struct{}),
		done:      make(chan struct{}),
	}, nil
}

// ID returns the stream's handle id.
func (s *Stream) ID() string {
	return s.id
}

func (s *Stream) SessionID() string {
	return s.sessionID
}

func (s *Stream) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

func (s *Stream) transition(to State) bool {
	s.mu.Lock()
	from := s.state
	if !canTransition(from, to) {
		s.mu.Unlock()
		return false
	}
	s.state = to
	s.mu.Unlock()

	s.logger.Debug("state change", "from", from, "to", to)
	if cb := s.options.OnStateChange; cb != nil {
		cb(from, to)
	}
	return true
}

func (s *Stream) endpoint() (string, error) {
	u, err := url.Parse(s.options.WebSocketURL)
	if err != nil {
		return "", NewErrorWithCause(ErrorKindInvalidInput, "invalid websocket url", err)
	}
	return u.JoinPath(s.sessionID).String(), nil
}

// Connect performs the WebSocket handshake and starts the reader. A failed
// handshake returns the stream to Disconnected and never leaves a
// half-open connection behind.
func (s *Stream) Connect(ctx context.Context) error {
	if s.isStopped() {
		return ErrStreamClosed
	}
	if !s.transition(StateConnecting) {
		if s.State() == StateClosed {
			return ErrStreamClosed
		}
		return ErrStreamAlreadyOpen
	}

	endpoint, err := s.endpoint()
	if err != nil {
		s.transition(StateDisconnected)
		return err
	}

	connCtx, cancel := context.WithTimeout(ctx, s.options.ConnectTimeout)
	defer cancel()

	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: s.options.ConnectTimeout,
		NetDialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			d := net.Dialer{}
			conn, err := d.DialContext(ctx, network, addr)
			if err != nil {
				return nil, err
			}
			if tc, ok := conn.(*net.TCPConn); ok {
				tc.SetNoDelay(true)
			}
			return conn, nil
		},
		TLSClientConfig: &tls.Config{
			ClientSessionCache: s.tlsCache,
		},
	}

	s.logger.Debug("connecting", "url", endpoint)
	conn, resp, err := dialer.DialContext(connCtx, endpoint, s.options.Header)
	if err != nil {
		s.transition(StateDisconnected)
		if resp != nil {
			return NewErrorWithCode(ErrorKindTransport, "handshake rejected: "+err.Error(), resp.StatusCode)
		}
		return NewErrorWithCause(ErrorKindTransport, "failed to connect", err)
	}
	conn.SetReadLimit(s.options.ReadLimit)

	inbound := make(chan []byte, s.options.InboundBufferSize)
	readDone := make(chan struct{})

	s.mu.Lock()
	if s.closing || s.isStopped() {
		s.mu.Unlock()
		conn.Close()
		s.transition(StateDisconnected)
		return ErrStreamClosed
	}
	s.conn = conn
	s.inbound = inbound
	s.readDone = readDone
	s.mu.Unlock()

	if !s.transition(StateConnected) {
		conn.Close()
		return ErrStreamClosed
	}

	go s.readLoop(conn, inbound, readDone)
	if s.options.KeepAlive {
		go s.keepAliveLoop(conn)
	}

	s.logger.Info("stream connected", "session", s.sessionID)
	return nil
}

// writable returns the connection if outbound frames may be sent.
func (s *Stream) writable() (*websocket.Conn, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closing || s.state == StateClosed {
		return nil, ErrStreamClosed
	}
	if !s.state.CanWrite() || s.conn == nil {
		return nil, ErrStreamNotConnected
	}
	return s.conn, nil
}

// WriteBinary sends one audio frame. Empty buffers are dropped.
func (s *Stream) WriteBinary(data []byte) error {
	conn, err := s.writable()
	if err != nil {
		return err
	}
	if len(data) == 0 {
		return nil
	}
	return s.write(conn, websocket.BinaryMessage, data)
}

// WriteText sends one JSON control frame.
func (s *Stream) WriteText(message string) error {
	conn, err := s.writable()
	if err != nil {
		return err
	}
	return s.write(conn, websocket.TextMessage, []byte(message))
}

func (s *Stream) write(conn *websocket.Conn, msgType int, data []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	conn.SetWriteDeadline(time.Now().Add(s.options.WriteTimeout))
	if err := conn.WriteMessage(msgType, data); err != nil {
		return NewErrorWithCause(ErrorKindTransport, "write error", err)
	}
	return nil
}

// Receive waits up to timeout for the next inbound event. It returns
// (nil, nil) on timeout and after Stop. A zero timeout polls once.
// Frames that cannot be decoded yield a DecodingError; the stream stays
// usable.
func (s *Stream) Receive(timeout time.Duration) (*Event, error) {
	raw, err := s.receiveFrame(timeout)
	if err != nil || raw == nil {
		return nil, err
	}
	ev, err := DecodeEvent(raw)
	if err != nil {
		return nil, err
	}
	return &ev, nil
}

func (s *Stream) receiveFrame(timeout time.Duration) ([]byte, error) {
	s.mu.RLock()
	if s.closing {
		s.mu.RUnlock()
		return nil, ErrStreamClosed
	}
	inbound, readDone := s.inbound, s.readDone
	if inbound == nil {
		s.mu.RUnlock()
		return nil, ErrStreamNotConnected
	}
	s.receiving.Add(1)
	s.mu.RUnlock()
	defer s.receiving.Done()

	select {
	case <-s.stopped:
		return nil, nil
	default:
	}

	if timeout <= 0 {
		select {
		case data := <-inbound:
			return data, nil
		default:
		}
		select {
		case <-readDone:
			return nil, s.readError()
		default:
			return nil, nil
		}
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case data := <-inbound:
		return data, nil
	case <-s.stopped:
		return nil, nil
	case <-s.done:
		return nil, ErrStreamClosed
	case <-readDone:
		select {
		case data := <-inbound:
			return data, nil
		default:
		}
		return nil, s.readError()
	case <-timer.C:
		return nil, nil
	}
}

func (s *Stream) readError() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.readErr != nil {
		return s.readErr
	}
	return ErrStreamClosed
}

// readLoop pumps text frames into inbound in arrival order.
func (s *Stream) readLoop(conn *websocket.Conn, inbound chan<- []byte, readDone chan struct{}) {
	defer close(readDone)

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			s.handleReadError(err)
			return
		}

		if msgType != websocket.TextMessage {
			s.logger.Debug("ignoring non-text frame", "type", msgType, "bytes", len(data))
			continue
		}
		s.logger.Debug("frame received", "bytes", len(data))

		select {
		case inbound <- data:
		case <-s.stopped:
		case <-s.done:
			return
		}
	}
}

func (s *Stream) handleReadError(err error) {
	s.mu.Lock()
	local := s.closing
	if local {
		s.readErr = ErrStreamClosed
	} else if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		s.readErr = NewErrorWithCause(ErrorKindTransport, "connection closed by server", err)
	} else {
		s.readErr = NewErrorWithCause(ErrorKindTransport, "read error", err)
	}
	s.mu.Unlock()

	if local {
		return
	}
	s.logger.Error("stream read failed", "error", err)
	s.transition(StateClosed)
}

// keepAliveLoop sends ping frames at regular intervals.
func (s *Stream) keepAliveLoop(conn *websocket.Conn) {
	ticker := time.NewTicker(s.options.KeepAliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			if !s.State().CanWrite() {
				continue
			}
			// Best-effort: a dead connection surfaces through the reader.
			deadline := time.Now().Add(s.options.WriteTimeout)
			if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				s.logger.Debug("keepalive ping failed", "error", err)
			}
		}
	}
}

func (s *Stream) isStopped() bool {
	select {
	case <-s.stopped:
		return true
	default:
		return false
	}
}

// Stop halts the read direction without closing the socket: pending and
// future receives return (nil, nil) and the receive loop is cancelled.
// Writes are still accepted. Calling Stop again is a no-op. A stream stopped
// before it connected can no longer be connected.
func (s *Stream) Stop() error {
	s.stopOnce.Do(func() {
		close(s.stopped)
	})
	s.cancelLoop()
	s.transition(StateStopping)
	return nil
}

// Close stops the stream, waits up to CloseWait for in-flight receives and
// releases the connection. It is idempotent.
//
// Stop releases every pending receive, so the wait normally ends at once.
// If it does not, Close releases the connection after CloseWait and the
// late receive returns ErrStreamClosed once done is closed.
func (s *Stream) Close() error {
	s.closeOnce.Do(func() {
		s.Stop()

		s.mu.Lock()
		s.closing = true
		conn := s.conn
		s.mu.Unlock()

		if !waitTimeout(&s.receiving, s.options.CloseWait) {
			s.logger.Warn("receive still in flight, forcing release", "wait", s.options.CloseWait)
		}
		close(s.done)

		if conn != nil {
			deadline := time.Now().Add(s.options.WriteTimeout)
			msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
			if err := conn.WriteControl(websocket.CloseMessage, msg, deadline); err != nil && !errors.Is(err, websocket.ErrCloseSent) {
				s.logger.Debug("close frame not sent", "error", err)
			}
			conn.Close()
		}

		s.mu.Lock()
		s.conn = nil
		s.mu.Unlock()

		s.transition(StateClosed)
		if s.onRelease != nil {
			s.onRelease()
		}
		s.logger.Info("stream closed", "session", s.sessionID)
	})
	return nil
}

// waitTimeout reports whether wg drained within d. On timeout the waiter
// goroutine lives until wg drains; receives return once done is closed.
func waitTimeout(wg *sync.WaitGroup, d time.Duration) bool {
	ch := make(chan struct{})
	go func() {
		wg.Wait()
		close(ch)
	}()

	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ch:
		return true
	case <-timer.C:
		return false
	}
}
