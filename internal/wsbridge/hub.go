// Package wsbridge implements the dashboard-facing websocket bridge
// of spec.md §6.2: it receives ChangedProperty from the host side and
// relays TriggerAction from dashboard clients into the datastore.
// AddDashboard and RmDashboard messages are not handled. Adapted from
// the teacher's
// internal/websocket/hub.go Hub/Client/Run/writePump/readPump shape,
// repurposed from StreamSpace session broadcast (org-scoped) to
// property-delta streaming (no tenancy concept in this domain).
package wsbridge

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/streamspace/pulsehost/internal/datastore"
	"github.com/streamspace/pulsehost/internal/hashkey"
	"github.com/streamspace/pulsehost/internal/logger"
)

// DashboardOrigin is the sentinel plugin id used as the Origin of any
// action a dashboard client triggers directly: the dashboard is not
// itself a plugin, but DataStore.DispatchAction needs some origin id
// to stamp on the outgoing Action.
const DashboardOrigin hashkey.PluginID = 0

// Hub maintains active dashboard websocket connections and relays
// property-change broadcasts to them.
type Hub struct {
	ds *datastore.DataStore

	clients    map[*Client]bool
	broadcast  chan []byte
	register   chan *Client
	unregister chan *Client

	relay Relay // optional, may be nil

	mu sync.RWMutex
}

// Relay is the optional cross-process fan-out boundary (e.g. the
// redis-backed implementation in relay.go). A Hub with a nil Relay
// only broadcasts to clients connected to this process.
type Relay interface {
	Publish(payload []byte)
	Subscribe(deliver func([]byte))
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// NewHub creates a Hub wired to ds for both outbound property
// mirroring (via NotifyChangedProperty) and inbound action dispatch.
func NewHub(ds *datastore.DataStore) *Hub {
	return &Hub{
		ds:         ds,
		clients:    make(map[*Client]bool),
		broadcast:  make(chan []byte, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
	}
}

// SetRelay attaches a cross-process broadcast relay, enabled only
// when PULSEHOST_REDIS_ADDR is configured (see cmd/pulsehost).
func (h *Hub) SetRelay(r Relay) {
	h.relay = r
	if r != nil {
		r.Subscribe(func(payload []byte) { h.localBroadcast(payload) })
	}
}

// Run starts the hub's main loop; intended to run in its own
// goroutine for the lifetime of the process.
func (h *Hub) Run() {
	log := logger.WebSocket()
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			n := len(h.clients)
			h.mu.Unlock()
			log.Info().Str("client", client.id).Int("total", n).Msg("dashboard client connected")

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			n := len(h.clients)
			h.mu.Unlock()
			log.Info().Str("client", client.id).Int("total", n).Msg("dashboard client disconnected")

		case message := <-h.broadcast:
			h.localBroadcast(message)
			if h.relay != nil {
				h.relay.Publish(message)
			}
		}
	}
}

func (h *Hub) localBroadcast(message []byte) {
	h.mu.RLock()
	var stuck []*Client
	for client := range h.clients {
		select {
		case client.send <- message:
		default:
			stuck = append(stuck, client)
		}
	}
	h.mu.RUnlock()

	if len(stuck) > 0 {
		h.mu.Lock()
		for _, client := range stuck {
			if _, ok := h.clients[client]; ok {
				close(client.send)
				delete(h.clients, client)
			}
		}
		h.mu.Unlock()
	}
}

// NotifyChangedProperty implements datastore.WSSender: it marshals the
// change into the dashboard wire envelope and broadcasts it.
func (h *Hub) NotifyChangedProperty(cp datastore.ChangedProperty) {
	v := cp.Cell.Read()
	wv := toWireValue(v)
	payload, err := json.Marshal(outboundEnvelope{
		Type:   outboundPropertyUpdate,
		Plugin: uint64(cp.Handle.Plugin),
		Item:   uint64(cp.Handle.Item),
		Name:   cp.Name,
		Value:  &wv,
	})
	if err != nil {
		logger.WebSocket().Error().Err(err).Msg("marshaling property update")
		return
	}
	h.broadcast <- payload
}

// ClientCount returns the number of dashboard clients connected to
// this process (not counting peers reachable only via the relay).
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Client represents one dashboard websocket connection.
type Client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
	id   string
}

// ServeHTTP upgrades an incoming HTTP request to a websocket
// connection and registers the resulting Client with the hub. Exposed
// directly as an http.HandlerFunc since gorilla/websocket's handshake
// needs one net/http entry point and nothing more of gin's stack
// (spec.md excludes the HTTP server as a collaborator).
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.WebSocket().Error().Err(err).Msg("websocket upgrade failed")
		return
	}

	client := &Client{hub: h, conn: conn, send: make(chan []byte, 256), id: uuid.NewString()}
	h.sendInitialSnapshot(client)
	h.register <- client

	go client.writePump()
	go client.readPump(h.ds)
}

func (h *Hub) sendInitialSnapshot(client *Client) {
	for _, ph := range h.ds.Index().Snapshot() {
		cell, ok := h.ds.Index().Get(ph)
		if !ok {
			continue
		}
		name, _ := h.ds.Index().Name(ph)
		wv := toWireValue(cell.Read())
		payload, err := json.Marshal(outboundEnvelope{
			Type:   outboundPropertyUpdate,
			Plugin: uint64(ph.Plugin),
			Item:   uint64(ph.Item),
			Name:   name,
			Value:  &wv,
		})
		if err == nil {
			client.send <- payload
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) readPump(ds *datastore.DataStore) {
	log := logger.WebSocket()
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Warn().Err(err).Msg("dashboard websocket closed unexpectedly")
			}
			return
		}
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))

		var in inboundEnvelope
		if err := json.Unmarshal(raw, &in); err != nil {
			log.Warn().Err(err).Msg("dropping malformed dashboard message")
			continue
		}
		if in.Type != inboundTriggerAction {
			log.Warn().Str("type", string(in.Type)).Msg("unknown dashboard message type")
			continue
		}

		target := hashkey.PluginID(in.Target)
		if _, err := ds.DispatchAction(target, DashboardOrigin, in.ActionCode, toValues(in.Params)); err != nil {
			log.Warn().Err(err).Msg("dashboard-triggered action dispatch failed")
		}
	}
}
