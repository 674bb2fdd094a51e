package mockcam

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	sendBuffer     = 16
	wsWriteTimeout = 5 * time.Second
)

type wsClient struct {
	conn *websocket.Conn
	send chan []byte
}

func newWSClient(conn *websocket.Conn) *wsClient {
	c := &wsClient{conn: conn, send: make(chan []byte, sendBuffer)}
	go c.writePump()
	return c
}

func (c *wsClient) writePump() {
	defer c.conn.Close()
	for msg := range c.send {
		c.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			// Drain so broadcast never blocks on a dead client.
			for range c.send {
			}
			return
		}
	}
	c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseGoingAway, ""), time.Now().Add(time.Second))
}

// Broadcaster pushes camera snapshots to every /ws client, periodically
// and on demand.
type Broadcaster struct {
	snapshot func() SnapshotPayload
	interval time.Duration
	logger   zerolog.Logger

	mu      sync.RWMutex
	clients map[*wsClient]bool
	seq     uint64
	closed  bool
}

// NewBroadcaster creates a broadcaster. snapshot is called for every
// message sent.
func NewBroadcaster(snapshot func() SnapshotPayload, interval time.Duration, logger zerolog.Logger) *Broadcaster {
	return &Broadcaster{
		snapshot: snapshot,
		interval: interval,
		logger:   logger,
		clients:  make(map[*wsClient]bool),
	}
}

// AddClient registers conn and sends it a snapshot immediately. It
// returns nil if the broadcaster is closed.
func (b *Broadcaster) AddClient(conn *websocket.Conn) *wsClient {
	c := newWSClient(conn)
	data, ok := b.encode()

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(c.send)
		return nil
	}
	b.clients[c] = true
	if ok {
		c.send <- data
	}
	return c
}

// RemoveClient unregisters c and closes its connection.
func (b *Broadcaster) RemoveClient(c *wsClient) {
	b.mu.Lock()
	if _, ok := b.clients[c]; ok {
		delete(b.clients, c)
		close(c.send)
	}
	b.mu.Unlock()
}

// Notify sends a fresh snapshot to every client now.
func (b *Broadcaster) Notify() {
	if data, ok := b.encode(); ok {
		b.broadcast(data)
	}
}

// Run sends periodic snapshots until ctx is done, then disconnects all
// clients.
func (b *Broadcaster) Run(ctx context.Context) error {
	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			b.Close()
			return nil
		case <-ticker.C:
			b.Notify()
		}
	}
}

// Close disconnects every client and refuses new ones.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	for c := range b.clients {
		delete(b.clients, c)
		close(c.send)
	}
}

func (b *Broadcaster) ClientCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients)
}

func (b *Broadcaster) encode() ([]byte, bool) {
	p := b.snapshot()

	b.mu.Lock()
	b.seq++
	seq := b.seq
	p.Clients = len(b.clients)
	b.mu.Unlock()

	data, err := json.Marshal(WSMessage{Type: MsgSnapshot, Seq: seq, Payload: p})
	if err != nil {
		b.logger.Error().Err(err).Msg("snapshot marshal failed")
		return nil, false
	}
	return data, true
}

func (b *Broadcaster) broadcast(data []byte) {
	// Sends happen under the read lock so no channel is closed meanwhile.
	var slow []*wsClient
	b.mu.RLock()
	for c := range b.clients {
		select {
		case c.send <- data:
		default:
			slow = append(slow, c)
		}
	}
	b.mu.RUnlock()

	for _, c := range slow {
		b.logger.Warn().Msg("events client too slow, disconnecting")
		b.RemoveClient(c)
	}
}
