package dianya

import (
	"net/http"
	"os"
	"time"

	"github.com/charmbracelet/log"
)

const (
	DefaultBaseURL           = "https://api.dianyaai.com/api"
	DefaultWebSocketURL      = "wss://api.dianyaai.com/ws/transcribe"
	DefaultRequestTimeout    = 30 * time.Second
	DefaultCloseTimeout      = 30 * time.Second
	DefaultConnectTimeout    = 30 * time.Second
	DefaultWriteTimeout      = 10 * time.Second
	DefaultReceiveTimeout    = 100 * time.Millisecond
	DefaultCloseWait         = 5 * time.Second
	DefaultKeepAliveInterval = 15 * time.Second
	DefaultInboundBufferSize = 256
	DefaultReadLimit         = 1 << 20
	DefaultModel             = ModelSpeed
)

type ClientOptions struct {
	BaseURL      string
	WebSocketURL string
	HTTPClient   *http.Client
	Logger       *log.Logger

	// RequestTimeout bounds CreateSession.
	RequestTimeout time.Duration
	// CloseTimeout is used by CloseSession when it is called with zero seconds.
	CloseTimeout time.Duration

	Stream StreamOptions
}

type StreamOptions struct {
	WebSocketURL      string
	Header            http.Header
	ConnectTimeout    time.Duration
	WriteTimeout      time.Duration
	ReceiveTimeout    time.Duration // receive loop polling bound
	CloseWait         time.Duration // bounded wait for in-flight receives on Close
	InboundBufferSize int
	ReadLimit         int64
	KeepAlive         bool
	KeepAliveInterval time.Duration
	Logger            *log.Logger

	OnStateChange func(oldState, newState State)
}

func defaultLogger() *log.Logger {
	return log.NewWithOptions(os.Stderr, log.Options{
		Prefix:          "dianya",
		ReportTimestamp: true,
		Level:           log.InfoLevel,
	})
}

func (o *ClientOptions) applyDefaults() {
	if o.BaseURL == "" {
		o.BaseURL = DefaultBaseURL
	}
	if o.WebSocketURL == "" {
		o.WebSocketURL = DefaultWebSocketURL
	}
	if o.HTTPClient == nil {
		o.HTTPClient = &http.Client{}
	}
	if o.Logger == nil {
		o.Logger = defaultLogger()
	}
	if o.RequestTimeout <= 0 {
		o.RequestTimeout = DefaultRequestTimeout
	}
	if o.CloseTimeout <= 0 {
		o.CloseTimeout = DefaultCloseTimeout
	}
	if o.Stream.WebSocketURL == "" {
		o.Stream.WebSocketURL = o.WebSocketURL
	}
	if o.Stream.Logger == nil {
		o.Stream.Logger = o.Logger
	}
	o.Stream.applyDefaults()
}

func (o *StreamOptions) applyDefaults() {
	if o.WebSocketURL == "" {
		o.WebSocketURL = DefaultWebSocketURL
	}
	if o.ConnectTimeout <= 0 {
		o.ConnectTimeout = DefaultConnectTimeout
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = DefaultWriteTimeout
	}
	if o.ReceiveTimeout <= 0 {
		o.ReceiveTimeout = DefaultReceiveTimeout
	}
	if o.CloseWait <= 0 {
		o.CloseWait = DefaultCloseWait
	}
	if o.InboundBufferSize <= 0 {
		o.InboundBufferSize = DefaultInboundBufferSize
	}
	if o.ReadLimit <= 0 {
		o.ReadLimit = DefaultReadLimit
	}
	if o.KeepAliveInterval <= 0 {
		o.KeepAliveInterval = DefaultKeepAliveInterval
	}
	if o.Logger == nil {
		o.Logger = defaultLogger()
	}
}
