// Package backend holds the websocket client for the realtime
// conversational AI backend. It owns the raw connection, decodes the
// inbound stream into protocol.BackendEvent values on a channel, and
// serializes writes, so the session loop never touches the socket.
package backend

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/petrona-ai/callbridge/pkg/bridge/protocol"
)

type Config struct {
	// URL is the full websocket endpoint including the model query param.
	URL    string
	APIKey string
	// DialTimeout bounds the handshake; WriteTimeout bounds each send.
	DialTimeout  time.Duration
	WriteTimeout time.Duration
	// PingInterval paces keepalive pings on the open connection.
	PingInterval time.Duration
	Logger       *slog.Logger
}

type Client struct {
	conn *websocket.Conn

	writeMu      sync.Mutex
	writeTimeout time.Duration
	pingInterval time.Duration
	logger       *slog.Logger

	events    chan protocol.BackendEvent
	closed    chan struct{}
	closeOnce sync.Once

	errMu    sync.Mutex
	closeErr error
}

// Dial opens a realtime session with the backend. The returned client's
// read loop is already running; events arrive on Events until the
// connection drops, at which point the channel is closed.
func Dial(ctx context.Context, cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, fmt.Errorf("backend url is required")
	}
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("backend api key is required")
	}
	if _, err := url.Parse(cfg.URL); err != nil {
		return nil, fmt.Errorf("invalid backend url: %w", err)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	writeTimeout := cfg.WriteTimeout
	if writeTimeout <= 0 {
		writeTimeout = 5 * time.Second
	}
	pingInterval := cfg.PingInterval
	if pingInterval <= 0 {
		pingInterval = 20 * time.Second
	}

	header := http.Header{}
	header.Set("Authorization", "Bearer "+strings.TrimSpace(cfg.APIKey))
	header.Set("OpenAI-Beta", "realtime=v1")

	if cfg.DialTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.DialTimeout)
		defer cancel()
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, cfg.URL, header)
	if err != nil {
		return nil, fmt.Errorf("dial backend: %w", err)
	}

	c := &Client{
		conn:         conn,
		writeTimeout: writeTimeout,
		pingInterval: pingInterval,
		logger:       logger,
		events:       make(chan protocol.BackendEvent, 256),
		closed:       make(chan struct{}),
	}
	go c.readLoop()
	go c.pingLoop()
	return c, nil
}

// pingLoop keeps the realtime connection alive through idle stretches.
// WriteControl is safe concurrently with WriteMessage.
func (c *Client) pingLoop() {
	ticker := time.NewTicker(c.pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.closed:
			return
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, []byte("ping"),
				time.Now().Add(c.writeTimeout)); err != nil {
				return
			}
		}
	}
}

// Events delivers decoded backend events. The channel is closed when the
// read loop exits; Err reports why.
func (c *Client) Events() <-chan protocol.BackendEvent {
	return c.events
}

// Send writes one already-encoded message to the backend. Safe for
// concurrent use.
func (c *Client) Send(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// Close tears the connection down. Idempotent.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		close(c.closed)
		c.writeMu.Lock()
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(2*time.Second))
		c.writeMu.Unlock()
		_ = c.conn.Close()
	})
	return nil
}

// Err reports why the read loop stopped. Nil while the connection is
// still up or after a clean close.
func (c *Client) Err() error {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	return c.closeErr
}

func (c *Client) readLoop() {
	defer close(c.events)
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			c.setCloseErr(err)
			return
		}

		ev, err := protocol.DecodeBackendEvent(data)
		if err != nil {
			// Malformed frames are logged and dropped; one bad frame
			// must not take the call down.
			c.logger.Warn("backend frame dropped", "error", err)
			continue
		}
		if ev == nil {
			continue
		}

		select {
		case c.events <- ev:
		case <-c.closed:
			return
		}
	}
}

func (c *Client) setCloseErr(err error) {
	select {
	case <-c.closed:
		// Deliberate close; don't report the read error it provoked.
		return
	default:
	}
	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) &&
		(closeErr.Code == websocket.CloseNormalClosure || closeErr.Code == websocket.CloseGoingAway) {
		return
	}
	c.errMu.Lock()
	c.closeErr = err
	c.errMu.Unlock()
}
