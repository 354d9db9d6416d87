package session

import (
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/petrona-ai/callbridge/pkg/bridge/protocol"
)

// wsTelephony adapts an upgraded telephony media-stream websocket to the
// TelephonyConn interface. Same split as the backend client: a read loop
// feeding a channel, a mutex-guarded writer.
type wsTelephony struct {
	conn *websocket.Conn

	writeMu      sync.Mutex
	writeTimeout time.Duration
	pingInterval time.Duration
	logger       *slog.Logger

	events    chan protocol.TelephonyEvent
	closed    chan struct{}
	closeOnce sync.Once
}

// NewWSTelephony wraps an already-upgraded websocket, starts reading, and
// keeps the connection alive with periodic pings.
func NewWSTelephony(conn *websocket.Conn, writeTimeout, pingInterval time.Duration, logger *slog.Logger) TelephonyConn {
	if writeTimeout <= 0 {
		writeTimeout = 5 * time.Second
	}
	if pingInterval <= 0 {
		pingInterval = 20 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	t := &wsTelephony{
		conn:         conn,
		writeTimeout: writeTimeout,
		pingInterval: pingInterval,
		logger:       logger,
		events:       make(chan protocol.TelephonyEvent, 256),
		closed:       make(chan struct{}),
	}
	go t.readLoop()
	go t.pingLoop()
	return t
}

func (t *wsTelephony) Events() <-chan protocol.TelephonyEvent {
	return t.events
}

func (t *wsTelephony) SendMedia(streamID, payloadB64 string) error {
	frame, err := protocol.EncodeTelephonyMedia(streamID, payloadB64)
	if err != nil {
		return err
	}
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	_ = t.conn.SetWriteDeadline(time.Now().Add(t.writeTimeout))
	return t.conn.WriteMessage(websocket.TextMessage, frame)
}

func (t *wsTelephony) Close() error {
	t.closeOnce.Do(func() {
		close(t.closed)
		t.writeMu.Lock()
		_ = t.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(2*time.Second))
		t.writeMu.Unlock()
		_ = t.conn.Close()
	})
	return nil
}

// pingLoop keeps idle stretches of the call from tripping proxy idle
// timeouts. WriteControl is safe concurrently with WriteMessage.
func (t *wsTelephony) pingLoop() {
	ticker := time.NewTicker(t.pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-t.closed:
			return
		case <-ticker.C:
			if err := t.conn.WriteControl(websocket.PingMessage, []byte("ping"),
				time.Now().Add(t.writeTimeout)); err != nil {
				return
			}
		}
	}
}

func (t *wsTelephony) readLoop() {
	defer close(t.events)
	for {
		_, data, err := t.conn.ReadMessage()
		if err != nil {
			return
		}
		ev, err := protocol.DecodeTelephonyEvent(data)
		if err != nil {
			t.logger.Warn("telephony frame dropped", "error", err)
			continue
		}
		if ev == nil {
			continue
		}
		select {
		case t.events <- ev:
		case <-t.closed:
			return
		}
	}
}
