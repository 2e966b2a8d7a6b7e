package api

import (
	"context"
	"encoding/json"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/gray-logic-unibus/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-unibus/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-unibus/internal/unibus/state"
)

// WebSocket message types.
const (
	WSTypeSubscribe   = "subscribe"
	WSTypeUnsubscribe = "unsubscribe"
	WSTypePing        = "ping"
	WSTypePong        = "pong"
	WSTypeEvent       = "event"
	WSTypeResponse    = "response"
	WSTypeError       = "error"
)

// Channels.
const (
	// ChannelStateChanged carries every state slot change.
	ChannelStateChanged = "state.changed"

	// ChannelStateSnapshot is sent once, right after a subscription to
	// ChannelStateChanged that asked for a snapshot.
	ChannelStateSnapshot = "state.snapshot"
)

// wsSendBufferSize is the per-client outbound queue length.
const wsSendBufferSize = 256

// WSMessage is a message sent to a client.
type WSMessage struct {
	Type      string `json:"type"`
	ID        string `json:"id,omitempty"`
	EventType string `json:"event_type,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Payload   any    `json:"payload,omitempty"`
}

// wsRequest is a message received from a client.
type wsRequest struct {
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// WSSubscribePayload is the payload for subscribe and unsubscribe.
// Modules restricts state events to the named modules (e.g. "humidity");
// empty means every module.
type WSSubscribePayload struct {
	Channels []string `json:"channels"`
	Modules  []string `json:"modules,omitempty"`
	Snapshot bool     `json:"snapshot,omitempty"`
}

// moduleFilter is the set of modules a subscription accepts. nil accepts all.
type moduleFilter map[string]struct{}

func newModuleFilter(modules []string) moduleFilter {
	if len(modules) == 0 {
		return nil
	}
	f := make(moduleFilter, len(modules))
	for _, m := range modules {
		f[m] = struct{}{}
	}
	return f
}

func (f moduleFilter) accepts(module string) bool {
	if f == nil {
		return true
	}
	_, ok := f[module]
	return ok
}

// Hub tracks WebSocket clients and fans state events out to them.
type Hub struct {
	cfg      config.WebSocketConfig
	logger   *logging.Logger
	snapshot func() []state.Slot

	mu      sync.RWMutex
	clients map[*WSClient]struct{}
}

// WSClient is one connected WebSocket client.
type WSClient struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte

	mu            sync.RWMutex
	subscriptions map[string]moduleFilter
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Origins are checked by the CORS middleware.
	CheckOrigin: func(_ *http.Request) bool { return true },
}

// NewHub creates a hub. snapshot, when non-nil, supplies the current slots
// for subscriptions that ask for them.
func NewHub(cfg config.WebSocketConfig, logger *logging.Logger, snapshot func() []state.Slot) *Hub {
	return &Hub{
		cfg:      cfg,
		logger:   logger,
		snapshot: snapshot,
		clients:  make(map[*WSClient]struct{}),
	}
}

// Run blocks until ctx is cancelled, then disconnects every client.
func (h *Hub) Run(ctx context.Context) {
	<-ctx.Done()

	h.mu.Lock()
	defer h.mu.Unlock()
	for client := range h.clients {
		close(client.send)
		if client.conn != nil {
			client.conn.Close()
		}
		delete(h.clients, client)
	}
}

// Register adds a client.
func (h *Hub) Register(client *WSClient) {
	h.mu.Lock()
	h.clients[client] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	h.logger.Debug("websocket client connected", "clients", n)
}

// Unregister removes a client. Only the call that actually removes it
// closes its send channel.
func (h *Hub) Unregister(client *WSClient) {
	h.mu.Lock()
	_, existed := h.clients[client]
	delete(h.clients, client)
	n := len(h.clients)
	h.mu.Unlock()

	if existed {
		close(client.send)
	}
	h.logger.Debug("websocket client disconnected", "clients", n)
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Broadcast sends an event on channel to every client subscribed to it
// whose module filter accepts module. The hub lock is released before any
// client lock is taken.
func (h *Hub) Broadcast(channel, module string, payload any) {
	data, err := encodeEvent("", channel, payload)
	if err != nil {
		h.logger.Error("failed to marshal broadcast message", "error", err)
		return
	}

	h.mu.RLock()
	clients := make([]*WSClient, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	h.mu.RUnlock()

	sent := 0
	for _, client := range clients {
		if client.wants(channel, module) {
			client.trySend(data)
			sent++
		}
	}
	if sent > 0 {
		h.logger.Debug("broadcast sent", "channel", channel, "module", module, "recipients", sent)
	}
}

// broadcastChange relays a state store change. It runs on the goroutine
// that updated the store and never blocks on a slow client.
func (s *Server) broadcastChange(c state.Change) {
	if s.hub.ClientCount() == 0 {
		return
	}
	s.hub.Broadcast(ChannelStateChanged, c.Key.Module.String(), newSlotView(c.Key, c.Value))
}

// handleWebSocket upgrades the connection. Clients receive nothing until
// they subscribe.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", "error", err)
		return
	}

	client := &WSClient{
		hub:           s.hub,
		conn:          conn,
		send:          make(chan []byte, wsSendBufferSize),
		subscriptions: make(map[string]moduleFilter),
	}
	s.hub.Register(client)

	go client.writePump()
	go client.readPump()
}

// wsTimings returns the ping interval and pong timeout, falling back to
// 30s and 10s when unset.
func wsTimings(cfg config.WebSocketConfig) (pingInterval, pongWait time.Duration) {
	pingInterval = time.Duration(cfg.PingInterval) * time.Second
	if pingInterval <= 0 {
		pingInterval = 30 * time.Second
	}
	pongWait = time.Duration(cfg.PongTimeout) * time.Second
	if pongWait <= 0 {
		pongWait = 10 * time.Second
	}
	return pingInterval, pongWait
}

func (c *WSClient) readPump() {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	pingInterval, pongWait := wsTimings(c.hub.cfg)
	keepAlive := func() error {
		return c.conn.SetReadDeadline(time.Now().Add(pingInterval + pongWait))
	}

	if c.hub.cfg.MaxMessageSize > 0 {
		c.conn.SetReadLimit(int64(c.hub.cfg.MaxMessageSize))
	}
	keepAlive() //nolint:errcheck // a failed deadline surfaces as a read error
	c.conn.SetPongHandler(func(string) error { return keepAlive() })

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("websocket read error", "error", err)
			} else {
				c.hub.logger.Debug("websocket closed", "error", err)
			}
			return
		}
		// Application messages count as liveness too; some browsers never
		// answer protocol pings.
		keepAlive() //nolint:errcheck // see above
		c.handleMessage(message)
	}
}

func (c *WSClient) writePump() {
	pingInterval, pongWait := wsTimings(c.hub.cfg)
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	write := func(messageType int, data []byte) error {
		if err := c.conn.SetWriteDeadline(time.Now().Add(pongWait)); err != nil {
			return err
		}
		return c.conn.WriteMessage(messageType, data)
	}

	for {
		select {
		case message, ok := <-c.send:
			if !ok {
				write(websocket.CloseMessage, nil) //nolint:errcheck // closing anyway
				return
			}
			if err := write(websocket.TextMessage, message); err != nil {
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
	var req wsRequest
	if err := json.Unmarshal(data, &req); err != nil {
		c.sendError("", "invalid JSON message")
		return
	}

	switch req.Type {
	case WSTypeSubscribe, WSTypeUnsubscribe:
		c.handleSubscription(req)
	case WSTypePing:
		c.sendResponse(req.ID, WSTypePong, nil)
	default:
		c.sendError(req.ID, "unknown message type: "+req.Type)
	}
}

// handleSubscription applies a subscribe or unsubscribe request.
func (c *WSClient) handleSubscription(req wsRequest) {
	var sub WSSubscribePayload
	if err := json.Unmarshal(req.Payload, &sub); err != nil || len(sub.Channels) == 0 {
		c.sendError(req.ID, "invalid "+req.Type+" payload")
		return
	}

	if req.Type == WSTypeUnsubscribe {
		c.mu.Lock()
		for _, ch := range sub.Channels {
			delete(c.subscriptions, ch)
		}
		c.mu.Unlock()
		c.sendResponse(req.ID, WSTypeResponse, map[string]any{"unsubscribed": sub.Channels})
		return
	}

	filter := newModuleFilter(sub.Modules)
	c.mu.Lock()
	for _, ch := range sub.Channels {
		c.subscriptions[ch] = filter
	}
	c.mu.Unlock()

	c.hub.logger.Info("websocket client subscribed", "channels", sub.Channels, "modules", sub.Modules)
	c.sendResponse(req.ID, WSTypeResponse, map[string]any{"subscribed": sub.Channels})

	if sub.Snapshot && c.hub.snapshot != nil && slices.Contains(sub.Channels, ChannelStateChanged) {
		c.sendSnapshot(req.ID, filter)
	}
}

// sendSnapshot sends the current value of every slot the filter accepts.
func (c *WSClient) sendSnapshot(id string, filter moduleFilter) {
	slots := c.hub.snapshot()
	views := make([]slotView, 0, len(slots))
	for _, s := range slots {
		if filter.accepts(s.Key.Module.String()) {
			views = append(views, newSlotView(s.Key, s.Value))
		}
	}

	data, err := encodeEvent(id, ChannelStateSnapshot, views)
	if err != nil {
		c.hub.logger.Error("failed to marshal state snapshot", "error", err)
		return
	}
	c.trySend(data)
}

// trySend queues data without blocking. A full queue drops the message; a
// channel closed by a concurrent Unregister is ignored.
func (c *WSClient) trySend(data []byte) {
	defer func() {
		recover() //nolint:errcheck // send on closed channel
	}()

	select {
	case c.send <- data:
	default:
	}
}

func (c *WSClient) wants(channel, module string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	filter, ok := c.subscriptions[channel]
	return ok && filter.accepts(module)
}

func (c *WSClient) sendResponse(id, msgType string, payload any) {
	data, err := json.Marshal(WSMessage{
		Type:      msgType,
		ID:        id,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Payload:   payload,
	})
	if err != nil {
		return
	}
	c.trySend(data)
}

func (c *WSClient) sendError(id, message string) {
	c.sendResponse(id, WSTypeError, map[string]string{"message": message})
}

func encodeEvent(id, channel string, payload any) ([]byte, error) {
	return json.Marshal(WSMessage{
		Type:      WSTypeEvent,
		ID:        id,
		EventType: channel,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Payload:   payload,
	})
}
