package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sync"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	reconnectBaseDelay = 1 * time.Second
	reconnectMaxDelay  = 30 * time.Second
	// A connection that lived this long resets the backoff when it drops.
	stableConnection = 10 * time.Second
	writeTimeout     = 10 * time.Second
	pongTimeout      = 60 * time.Second
	pingInterval     = 30 * time.Second
)

// EventsClient follows the camera service's /ws status feed.
type EventsClient struct {
	url    string
	logger zerolog.Logger

	baseDelay   time.Duration
	maxDelay    time.Duration
	stableAfter time.Duration

	mu         sync.Mutex
	writeMu    sync.Mutex // serialises all conn writes
	conn       *websocket.Conn
	attachedAt time.Time
	// delay is the pause before the next dial; zero until the first
	// failure or drop. It persists across Listen calls.
	delay   time.Duration
	pingCtx context.CancelFunc // cancels the active ping goroutine
}

// NewEventsClient creates a client for the given WebSocket URL.
func NewEventsClient(url string, logger zerolog.Logger) *EventsClient {
	return &EventsClient{
		url:         url,
		logger:      logger,
		baseDelay:   reconnectBaseDelay,
		maxDelay:    reconnectMaxDelay,
		stableAfter: stableConnection,
	}
}

// EventsURL derives ws://host:port/ws from http://host:port.
func EventsURL(baseURL string) string {
	u, err := url.Parse(baseURL)
	if err != nil || u.Host == "" {
		return "ws://127.0.0.1:5000/ws"
	}
	scheme := "ws"
	if u.Scheme == "https" {
		scheme = "wss"
	}
	return (&url.URL{Scheme: scheme, Host: u.Host, Path: u.JoinPath("ws").Path}).String()
}

// --- Bubble Tea messages ---

// EventsConnectedMsg is sent when the WebSocket connects.
type EventsConnectedMsg struct{}

// EventsDisconnectedMsg is sent when the connection drops.
type EventsDisconnectedMsg struct{ Err error }

// CameraStatusMsg delivers a service-side camera snapshot. Seq increases
// for the lifetime of one service process.
type CameraStatusMsg struct {
	Seq    uint64
	Status CameraStatus
}

// EventsErrorMsg wraps a server-side error.
type EventsErrorMsg struct{ Raw json.RawMessage }

// Listen returns a command that connects, retrying with backoff until it
// succeeds or ctx is cancelled. The backoff carries over from earlier
// failed dials and short-lived connections, so a service that accepts and
// then drops the socket is not redialled in a tight loop.
func (c *EventsClient) Listen(ctx context.Context) tea.Cmd {
	return func() tea.Msg {
		for {
			if d := c.pause(); d > 0 {
				select {
				case <-ctx.Done():
					return nil
				case <-time.After(d):
				}
			}

			conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.url, nil)
			if err == nil {
				c.attach(ctx, conn)
				return EventsConnectedMsg{}
			}
			if ctx.Err() != nil {
				return nil
			}
			c.mu.Lock()
			c.backoffLocked()
			retry := c.delay
			c.mu.Unlock()
			c.logger.Debug().Err(err).Dur("retry_in", retry).Msg("events dial failed")
		}
	}
}

func (c *EventsClient) pause() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.delay
}

func (c *EventsClient) backoffLocked() {
	if c.delay < c.baseDelay {
		c.delay = c.baseDelay
		return
	}
	c.delay = min(c.delay*2, c.maxDelay)
}

func (c *EventsClient) attach(ctx context.Context, conn *websocket.Conn) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pingCtx != nil {
		c.pingCtx()
	}
	pingCtx, cancel := context.WithCancel(ctx)
	c.conn = conn
	c.attachedAt = time.Now()
	c.pingCtx = cancel
	go c.pingLoop(pingCtx, conn)
}

// ReadLoop returns a command that reads until the next dispatchable
// message arrives. Start it after EventsConnectedMsg and again after each
// delivered message.
func (c *EventsClient) ReadLoop(ctx context.Context) tea.Cmd {
	return func() tea.Msg {
		c.mu.Lock()
		conn := c.conn
		c.mu.Unlock()
		if conn == nil {
			return EventsDisconnectedMsg{Err: fmt.Errorf("no connection")}
		}

		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pongTimeout))
		})
		conn.SetReadDeadline(time.Now().Add(pongTimeout))

		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				c.detach(conn)
				if ctx.Err() != nil {
					return nil
				}
				return EventsDisconnectedMsg{Err: err}
			}

			var msg WSMessage
			if err := json.Unmarshal(data, &msg); err != nil {
				continue
			}
			if teaMsg := dispatch(msg); teaMsg != nil {
				return teaMsg
			}
		}
	}
}

func (c *EventsClient) detach(conn *websocket.Conn) {
	c.mu.Lock()
	if c.conn == conn {
		c.conn = nil
		if time.Since(c.attachedAt) >= c.stableAfter {
			c.delay = c.baseDelay
		} else {
			c.backoffLocked()
		}
		if c.pingCtx != nil {
			c.pingCtx()
			c.pingCtx = nil
		}
	}
	c.mu.Unlock()
	conn.Close()
}

// Close drops the current connection, if any.
func (c *EventsClient) Close() {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn != nil {
		c.detach(conn)
	}
}

// pingLoop sends periodic pings on conn until ctx is cancelled or the
// connection changes.
func (c *EventsClient) pingLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.mu.Lock()
			cc := c.conn
			c.mu.Unlock()
			if cc != conn {
				return
			}
			c.writeMu.Lock()
			conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			err := conn.WriteMessage(websocket.PingMessage, nil)
			c.writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

func dispatch(msg WSMessage) tea.Msg {
	switch msg.Type {
	case MsgSnapshot:
		var p CameraStatus
		if json.Unmarshal(msg.Payload, &p) == nil {
			return CameraStatusMsg{Seq: msg.Seq, Status: p}
		}
	case MsgError:
		return EventsErrorMsg{Raw: msg.Payload}
	}
	return nil
}
