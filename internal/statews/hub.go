package statews

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// ============================================================================
// Hub
// ============================================================================
//
// The hub owns the set of connected clients. Frames are serialized once by
// the broadcaster and fanned out to every client's own queue; a client whose
// queue is full is dropped instead of holding the others back.
//
// ============================================================================

const (
	defaultSendBuf      = 32
	defaultBroadcastBuf = 128
)

type HubConfig struct {
	// SendBuf is the per-client outbound queue size.
	SendBuf int

	// BroadcastBuf is the hub's inbound frame queue size.
	BroadcastBuf int
}

type leave struct {
	client *Client
	reason string
}

type Hub struct {
	logger  *slog.Logger
	sendBuf int

	frames chan []byte
	joins  chan *Client
	leaves chan leave
	done   chan struct{}

	mu    sync.Mutex
	peers map[*Client]struct{}
}

// NewHub constructs a hub. Call Run(ctx) to start it.
func NewHub(logger *slog.Logger, cfg HubConfig) *Hub {
	if cfg.SendBuf <= 0 {
		cfg.SendBuf = defaultSendBuf
	}
	if cfg.BroadcastBuf <= 0 {
		cfg.BroadcastBuf = defaultBroadcastBuf
	}
	return &Hub{
		logger:  logger,
		sendBuf: cfg.SendBuf,
		frames:  make(chan []byte, cfg.BroadcastBuf),
		joins:   make(chan *Client),
		leaves:  make(chan leave, 16),
		done:    make(chan struct{}),
		peers:   make(map[*Client]struct{}),
	}
}

// Run fans out frames until ctx is canceled, then disconnects every client.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	h.logger.Info("state stream hub started")

	for {
		select {
		case <-ctx.Done():
			h.shutdown()
			h.logger.Info("state stream hub stopped")
			return
		case c := <-h.joins:
			h.mu.Lock()
			h.peers[c] = struct{}{}
			n := len(h.peers)
			h.mu.Unlock()
			h.logger.Info("state stream client joined", "remote_addr", c.addr, "clients", n)
		case l := <-h.leaves:
			h.drop(l.client, l.reason)
		case frame := <-h.frames:
			for _, c := range h.deliver(frame) {
				h.drop(c, "slow_client")
			}
		}
	}
}

// Join adds c to the fan-out. It returns false once the hub has stopped.
func (h *Hub) Join(c *Client) bool {
	select {
	case h.joins <- c:
		return true
	case <-h.done:
		c.finish()
		return false
	}
}

// Leave removes c. Leaving twice, or after the hub stopped, is a no-op.
func (h *Hub) Leave(c *Client, reason string) {
	select {
	case h.leaves <- leave{client: c, reason: reason}:
	case <-h.done:
	}
}

// BroadcastBytes queues a serialized frame for every client. It never
// blocks; the frame is dropped when the hub queue is full.
func (h *Hub) BroadcastBytes(frame []byte) {
	select {
	case h.frames <- frame:
	default:
		h.logger.Warn("state stream queue full, frame dropped", "bytes", len(frame))
	}
}

// Len reports the number of connected clients.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.peers)
}

// deliver offers frame to every client and returns the ones that could not
// take it.
func (h *Hub) deliver(frame []byte) []*Client {
	h.mu.Lock()
	defer h.mu.Unlock()
	var full []*Client
	for c := range h.peers {
		if !c.enqueue(frame) {
			full = append(full, c)
		}
	}
	return full
}

func (h *Hub) drop(c *Client, reason string) {
	h.mu.Lock()
	_, ok := h.peers[c]
	delete(h.peers, c)
	n := len(h.peers)
	h.mu.Unlock()
	if !ok {
		return
	}
	c.finish()
	h.logger.Info("state stream client left", "remote_addr", c.addr, "reason", reason, "clients", n)
}

func (h *Hub) shutdown() {
	h.mu.Lock()
	peers := h.peers
	h.peers = make(map[*Client]struct{})
	h.mu.Unlock()
	for c := range peers {
		c.finish()
	}
}

// ============================================================================
// Client
// ============================================================================

const (
	writeWait  = 5 * time.Second
	pongWait   = 30 * time.Second
	pingPeriod = 20 * time.Second
)

// Client is one state stream subscriber. Its write loop drains out; its
// read loop only answers control frames and notices disconnects.
type Client struct {
	hub    *Hub
	conn   *websocket.Conn // nil in hub tests
	out    chan []byte
	addr   string
	logger *slog.Logger

	finished sync.Once
}

// NewClient creates a client whose queue size follows the hub config.
func NewClient(hub *Hub, conn *websocket.Conn, addr string, logger *slog.Logger) *Client {
	size := defaultSendBuf
	if hub != nil {
		size = hub.sendBuf
	}
	return &Client{
		hub:    hub,
		conn:   conn,
		out:    make(chan []byte, size),
		addr:   addr,
		logger: logger,
	}
}

// enqueue offers frame without blocking.
func (c *Client) enqueue(frame []byte) bool {
	select {
	case c.out <- frame:
		return true
	default:
		return false
	}
}

// finish closes the queue, which ends the write loop with a close frame,
// and the connection. Only the first call has an effect.
func (c *Client) finish() {
	c.finished.Do(func() {
		close(c.out)
		if c.conn != nil {
			_ = c.conn.Close()
		}
	})
}

func (c *Client) write(messageType int, data []byte) error {
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(messageType, data)
}

func (c *Client) writeLoop() {
	ping := time.NewTicker(pingPeriod)
	defer ping.Stop()

	for {
		select {
		case frame, ok := <-c.out:
			if !ok {
				_ = c.write(websocket.CloseMessage, nil)
				return
			}
			if err := c.write(websocket.TextMessage, frame); err != nil {
				c.logStop("write", err)
				c.hub.Leave(c, "write_error")
				return
			}
		case <-ping.C:
			if err := c.write(websocket.PingMessage, nil); err != nil {
				c.logStop("ping", err)
				c.hub.Leave(c, "write_error")
				return
			}
		}
	}
}

func (c *Client) readLoop() {
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			c.logStop("read", err)
			c.hub.Leave(c, "disconnected")
			return
		}
	}
}

func (c *Client) logStop(op string, err error) {
	var ce *websocket.CloseError
	switch {
	case errors.Is(err, websocket.ErrCloseSent), errors.Is(err, net.ErrClosed):
	case errors.As(err, &ce):
		c.logger.Debug("state stream "+op+" closed", "remote_addr", c.addr, "code", ce.Code, "reason", ce.Text)
	default:
		c.logger.Debug("state stream "+op+" failed", "remote_addr", c.addr, "error", err)
	}
}
