package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/pimonitor/pimonitor-core/internal/infrastructure/config"
	"github.com/pimonitor/pimonitor-core/internal/infrastructure/logging"
)

// Message types of the feed protocol.
const (
	WSTypeSubscribe   = "subscribe"
	WSTypeUnsubscribe = "unsubscribe"
	WSTypePing        = "ping"
	WSTypePong        = "pong"
	WSTypeEvent       = "event"
	WSTypeResponse    = "response"
	WSTypeError       = "error"
)

// ChannelDeviceChanged carries every registry change as a device.Change
// payload.
const ChannelDeviceChanged = "device.changed"

// wsSendBufferSize is the per-client outbound queue length. A client that
// falls this far behind loses messages rather than stalling the registry.
const wsSendBufferSize = 256

// WSMessage is one frame of the feed protocol in either direction.
type WSMessage struct {
	Type      string `json:"type"`
	ID        string `json:"id,omitempty"`
	EventType string `json:"event_type,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Payload   any    `json:"payload,omitempty"`
}

// WSSubscribePayload lists the channels of a subscribe or unsubscribe.
type WSSubscribePayload struct {
	Channels []string `json:"channels"`
}

// Hub fans registry changes out to connected feed clients.
type Hub struct {
	cfg    config.WebSocketConfig
	logger *logging.Logger

	// snapshot, when set, supplies the current state sent with a
	// successful subscription to ChannelDeviceChanged.
	snapshot func() any

	mu      sync.RWMutex
	clients map[*WSClient]struct{}
}

// WSClient is one feed connection.
type WSClient struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte

	// subject is the token subject when JWT is enabled.
	subject string
	dropped atomic.Int64

	mu            sync.RWMutex
	subscriptions map[string]struct{}
}

var knownChannels = map[string]bool{
	ChannelDeviceChanged: true,
}

// Origins are checked by corsMiddleware before the upgrade.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// NewHub creates a hub. Call Run to tie its lifetime to a context.
func NewHub(cfg config.WebSocketConfig, logger *logging.Logger) *Hub {
	return &Hub{
		cfg:     cfg,
		logger:  logger,
		clients: make(map[*WSClient]struct{}),
	}
}

// Run blocks until ctx is cancelled, then disconnects every client.
func (h *Hub) Run(ctx context.Context) {
	<-ctx.Done()
	h.closeAll()
}

// Register adds a client.
func (h *Hub) Register(client *WSClient) {
	h.mu.Lock()
	h.clients[client] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	h.logger.Debug("feed client connected", "clients", n, "subject", client.subject)
}

// Unregister removes a client. The send channel is closed by whichever
// call actually removed it, so a client can be unregistered twice.
func (h *Hub) Unregister(client *WSClient) {
	h.mu.Lock()
	_, ok := h.clients[client]
	delete(h.clients, client)
	n := len(h.clients)
	h.mu.Unlock()

	if !ok {
		return
	}
	close(client.send)
	if dropped := client.dropped.Load(); dropped > 0 {
		h.logger.Warn("feed client lagged", "dropped", dropped, "subject", client.subject)
	}
	h.logger.Debug("feed client disconnected", "clients", n)
}

// Broadcast queues an event for every client subscribed to channel.
func (h *Hub) Broadcast(channel string, payload any) {
	data, err := json.Marshal(WSMessage{
		Type:      WSTypeEvent,
		EventType: channel,
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		Payload:   payload,
	})
	if err != nil {
		h.logger.Error("encoding feed event", "channel", channel, "error", err)
		return
	}

	h.mu.RLock()
	targets := make([]*WSClient, 0, len(h.clients))
	for c := range h.clients {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	for _, c := range targets {
		if c.isSubscribed(channel) {
			c.trySend(data)
		}
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		close(c.send)
		if c.conn != nil {
			c.conn.Close()
		}
		delete(h.clients, c)
	}
}

// handleWebSocket upgrades the request and starts the client's pumps.
// Tokens, when required, were checked by authMiddleware.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("feed upgrade failed", "error", err, "request_id", r.Context().Value(ctxKeyRequestID))
		return
	}

	client := &WSClient{
		hub:           s.hub,
		conn:          conn,
		send:          make(chan []byte, wsSendBufferSize),
		subscriptions: make(map[string]struct{}),
	}
	if claims, ok := claimsFromContext(r.Context()); ok {
		client.subject = claims.Subject
	}
	s.hub.Register(client)

	go client.writePump(s.wsCfg)
	go client.readPump(s.wsCfg)
}

func keepalive(cfg config.WebSocketConfig) (pingEvery, deadline time.Duration) {
	pingEvery = time.Duration(cfg.PingInterval) * time.Second
	pongWait := time.Duration(cfg.PongTimeout) * time.Second
	return pingEvery, pingEvery + pongWait
}

// readPump owns the read side. Any frame, including a pong, pushes the
// read deadline out.
func (c *WSClient) readPump(cfg config.WebSocketConfig) {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	_, deadline := keepalive(cfg)
	extend := func() error { return c.conn.SetReadDeadline(time.Now().Add(deadline)) }

	c.conn.SetReadLimit(int64(cfg.MaxMessageSize))
	//nolint:errcheck // Best-effort deadline on connection setup
	extend()
	c.conn.SetPongHandler(func(string) error { return extend() })

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("feed read error", "error", err, "subject", c.subject)
			}
			return
		}
		//nolint:errcheck // Best-effort deadline reset
		extend()
		c.handleMessage(data)
	}
}

// writePump owns the write side and sends the keepalive pings.
func (c *WSClient) writePump(cfg config.WebSocketConfig) {
	pingEvery, _ := keepalive(cfg)
	writeWait := time.Duration(cfg.PongTimeout) * time.Second
	ticker := time.NewTicker(pingEvery)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	write := func(kind int, data []byte) error {
		//nolint:errcheck // A missed deadline surfaces as a write error
		c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		return c.conn.WriteMessage(kind, data)
	}

	for {
		select {
		case data, ok := <-c.send:
			if !ok {
				//nolint:errcheck // Best-effort close frame
				write(websocket.CloseMessage, nil)
				return
			}
			if err := write(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			if err := write(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *WSClient) handleMessage(data []byte) {
	var msg WSMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		c.sendError("", "invalid JSON message")
		return
	}

	switch msg.Type {
	case WSTypeSubscribe:
		c.handleSubscribe(msg)
	case WSTypeUnsubscribe:
		c.handleUnsubscribe(msg)
	case WSTypePing:
		c.reply(msg.ID, WSTypePong, nil)
	default:
		c.sendError(msg.ID, "unknown message type: "+msg.Type)
	}
}

// channels decodes the payload of a subscribe or unsubscribe.
func channels(msg WSMessage) ([]string, error) {
	raw, err := json.Marshal(msg.Payload)
	if err != nil {
		return nil, err
	}
	var p WSSubscribePayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, err
	}
	if len(p.Channels) == 0 {
		return nil, fmt.Errorf("no channels given")
	}
	return p.Channels, nil
}

func (c *WSClient) handleSubscribe(msg WSMessage) {
	chans, err := channels(msg)
	if err != nil {
		c.sendError(msg.ID, "invalid subscribe payload: "+err.Error())
		return
	}
	for _, ch := range chans {
		if !knownChannels[ch] {
			c.sendError(msg.ID, "unknown channel: "+ch)
			return
		}
	}

	c.mu.Lock()
	for _, ch := range chans {
		c.subscriptions[ch] = struct{}{}
	}
	c.mu.Unlock()
	c.hub.logger.Debug("feed client subscribed", "channels", chans, "subject", c.subject)

	resp := map[string]any{"subscribed": chans}
	if c.hub.snapshot != nil {
		for _, ch := range chans {
			if ch == ChannelDeviceChanged {
				resp["devices"] = c.hub.snapshot()
			}
		}
	}
	c.reply(msg.ID, WSTypeResponse, resp)
}

func (c *WSClient) handleUnsubscribe(msg WSMessage) {
	chans, err := channels(msg)
	if err != nil {
		c.sendError(msg.ID, "invalid unsubscribe payload: "+err.Error())
		return
	}

	c.mu.Lock()
	for _, ch := range chans {
		delete(c.subscriptions, ch)
	}
	c.mu.Unlock()

	c.reply(msg.ID, WSTypeResponse, map[string]any{"unsubscribed": chans})
}

// trySend queues data without blocking. A full queue drops the message and
// a closed one (client gone mid-broadcast) is ignored.
func (c *WSClient) trySend(data []byte) {
	defer func() {
		recover() //nolint:errcheck // send on a channel closed by Unregister
	}()

	select {
	case c.send <- data:
	default:
		c.dropped.Add(1)
	}
}

func (c *WSClient) isSubscribed(channel string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.subscriptions[channel]
	return ok
}

func (c *WSClient) reply(id, msgType string, payload any) {
	data, err := json.Marshal(WSMessage{
		Type:      msgType,
		ID:        id,
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		Payload:   payload,
	})
	if err != nil {
		return
	}
	c.trySend(data)
}

func (c *WSClient) sendError(id, message string) {
	c.reply(id, WSTypeError, map[string]string{"message": message})
}
