package dianya

import (
	"context"
	"sync"

	"github.com/charmbracelet/log"
)

// Client is a Dianya transcription API client. It creates and closes
// sessions and owns the registry of streams it opened.
type Client struct {
	options ClientOptions
	logger  *log.Logger

	mu      sync.Mutex
	streams map[string]*Stream // by session id
	handles map[string]*Stream // by stream id
}

// NewClient creates a new client.
func NewClient(options ClientOptions) *Client {
	options.applyDefaults()
	return &Client{
		options: options,
		logger:  options.Logger,
		streams: make(map[string]*Stream),
		handles: make(map[string]*Stream),
	}
}

// OpenStream connects a stream for sessionID. At most one stream may be
// open per session; the slot is released when the stream is closed or the
// handshake fails.
func (c *Client) OpenStream(ctx context.Context, sessionID string) (*Stream, error) {
	stream, err := NewStream(sessionID, c.options.Stream)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	if existing, ok := c.streams[sessionID]; ok && !existing.State().IsTerminal() {
		c.mu.Unlock()
		return nil, ErrSessionStreamOpen
	}
	c.streams[sessionID] = stream
	c.handles[stream.ID()] = stream
	stream.onRelease = func() { c.release(stream) }
	c.mu.Unlock()

	if err := stream.Connect(ctx); err != nil {
		c.release(stream)
		return nil, err
	}
	return stream, nil
}

// OpenSessionStream opens the stream of a session created by CreateSession.
func (c *Client) OpenSessionStream(ctx context.Context, session *SessionDescriptor) (*Stream, error) {
	if session == nil {
		return nil, NewError(ErrorKindInvalidInput, "session is required")
	}
	return c.OpenStream(ctx, session.SessionID)
}

// Stream looks up an open stream by its handle id.
func (c *Client) Stream(id string) (*Stream, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.handles[id]
	return s, ok
}

func (c *Client) release(stream *Stream) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.streams[stream.SessionID()] == stream {
		delete(c.streams, stream.SessionID())
	}
	delete(c.handles, stream.ID())
}

// Close closes every stream opened by the client.
func (c *Client) Close() error {
	c.mu.Lock()
	open := make([]*Stream, 0, len(c.handles))
	for _, s := range c.handles {
		open = append(open, s)
	}
	c.mu.Unlock()

	for _, s := range open {
		s.Close()
	}
	return nil
}
