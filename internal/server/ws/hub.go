// Package ws pushes ledger events to WebSocket subscribers. Events arrive
// over the signal bus channels the bank service publishes to.
package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"math/big"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/settleio/settlebank/internal/domain"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
	sendBufferSize = 64
)

// defaultChannels are subscribed on behalf of every new client.
var defaultChannels = []string{"transfers", "status", "prices"}

// replayCount bounds how many retained transfer events greet a new client.
const replayCount = 20

// StatusSource reports the bank's aggregate state for the greeting frame.
type StatusSource interface {
	Halted() bool
	Totals() (total, cap *big.Int)
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Hub fans bus messages out to connected clients.
type Hub struct {
	mu      sync.RWMutex
	clients map[*Client]bool

	broadcast  chan envelope
	register   chan *Client
	unregister chan *Client

	bus    domain.SignalBus
	status StatusSource
	logger *slog.Logger

	subscribed map[string]bool
	startedAt  time.Time
}

// envelope pairs a bus channel with its payload for fan-out.
type envelope struct {
	Channel string
	Payload []byte
}

func NewHub(bus domain.SignalBus, status StatusSource, logger *slog.Logger) *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan envelope, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		bus:        bus,
		status:     status,
		logger:     logger.With(slog.String("component", "ws_hub")),
		subscribed: make(map[string]bool),
		startedAt:  time.Now(),
	}
}

// Run pumps registrations and broadcasts until ctx is cancelled.
func (h *Hub) Run(ctx context.Context) {
	for _, ch := range defaultChannels {
		h.subscribeToChannel(ctx, ch)
	}

	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			n := len(h.clients)
			h.mu.Unlock()
			h.logger.Info("client connected", slog.Int("total_clients", n))
			h.sendInitialStatus(client)
			h.sendRecentTransfers(ctx, client)

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			n := len(h.clients)
			h.mu.Unlock()
			h.logger.Info("client disconnected", slog.Int("total_clients", n))

		case env := <-h.broadcast:
			h.mu.RLock()
			for client := range h.clients {
				if !client.isSubscribed(env.Channel) {
					continue
				}
				select {
				case client.send <- env.Payload:
				default:
					// Slow consumer, drop the frame.
				}
			}
			h.mu.RUnlock()
		}
	}
}

// subscribeToChannel bridges one bus channel into the broadcast loop.
func (h *Hub) subscribeToChannel(ctx context.Context, channel string) {
	if h.bus == nil || h.subscribed[channel] {
		return
	}
	h.subscribed[channel] = true

	msgs, err := h.bus.Subscribe(ctx, channel)
	if err != nil {
		h.logger.Error("failed to subscribe to bus channel",
			slog.String("channel", channel),
			slog.String("error", err.Error()))
		return
	}

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case payload, ok := <-msgs:
				if !ok {
					return
				}
				select {
				case h.broadcast <- envelope{Channel: channel, Payload: payload}:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
}

// Broadcast pushes a payload to subscribers of a channel directly,
// bypassing the bus. Used when no bus is configured.
func (h *Hub) Broadcast(channel string, payload []byte) {
	select {
	case h.broadcast <- envelope{Channel: channel, Payload: payload}:
	default:
	}
}

func (h *Hub) sendInitialStatus(client *Client) {
	if h.status == nil {
		return
	}
	total, cap := h.status.Totals()
	frame, err := json.Marshal(map[string]any{
		"channel":       "status",
		"halted":        h.status.Halted(),
		"total_balance": total.String(),
		"global_cap":    cap.String(),
		"uptime":        time.Since(h.startedAt).Round(time.Second).String(),
	})
	if err != nil {
		return
	}
	select {
	case client.send <- frame:
	default:
	}
}

// sendRecentTransfers replays the retained transfer stream so a fresh
// client catches up before live frames arrive.
func (h *Hub) sendRecentTransfers(ctx context.Context, client *Client) {
	if h.bus == nil {
		return
	}
	msgs, err := h.bus.StreamRead(ctx, "transfers", "0", replayCount)
	if err != nil {
		h.logger.Warn("transfer stream replay failed", slog.String("error", err.Error()))
		return
	}
	for _, msg := range msgs {
		select {
		case client.send <- msg.Payload:
		default:
			return
		}
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for client := range h.clients {
		close(client.send)
		delete(h.clients, client)
	}
}

// HandleWebSocket upgrades the connection and starts the client pumps.
func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("websocket upgrade failed", slog.String("error", err.Error()))
		return
	}

	client := &Client{
		hub:           h,
		conn:          conn,
		send:          make(chan []byte, sendBufferSize),
		subscriptions: make(map[string]bool),
	}
	for _, ch := range defaultChannels {
		client.subscriptions[ch] = true
	}

	h.register <- client

	go client.writePump()
	go client.readPump()
}

// Client is a single WebSocket connection.
type Client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte

	mu            sync.RWMutex
	subscriptions map[string]bool
}

// subscribeMsg is the only inbound message clients may send.
type subscribeMsg struct {
	Action   string   `json:"action"`
	Channels []string `json:"channels"`
}

func (c *Client) isSubscribed(channel string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.subscriptions["*"] {
		return true
	}
	if c.subscriptions[channel] {
		return true
	}
	// Prefix wildcard, e.g. "transfers.*".
	for sub := range c.subscriptions {
		if strings.HasSuffix(sub, "*") && strings.HasPrefix(channel, strings.TrimSuffix(sub, "*")) {
			return true
		}
	}
	return false
}

func (c *Client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Debug("websocket read error", slog.String("error", err.Error()))
			}
			return
		}

		var msg subscribeMsg
		if err := json.Unmarshal(message, &msg); err != nil {
			continue
		}

		c.mu.Lock()
		switch msg.Action {
		case "subscribe":
			for _, ch := range msg.Channels {
				c.subscriptions[ch] = true
			}
		case "unsubscribe":
			for _, ch := range msg.Channels {
				delete(c.subscriptions, ch)
			}
		}
		c.mu.Unlock()
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
