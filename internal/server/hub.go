// Package server coordinates connection registration, room membership and
// presence for the chat service through the Hub event loop.
package server

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Tyrowin/companychat/internal/chat"
	"github.com/Tyrowin/companychat/internal/logging"
	"github.com/Tyrowin/companychat/internal/metrics"
	"github.com/Tyrowin/companychat/internal/presence"
)

// Hub owns every live connection, the presence registry and the room member
// sets. All of that state is touched only by the Run goroutine; other
// goroutines talk to the hub through its channels.
type Hub struct {
	clients  map[*Client]struct{}
	byID     map[string]*Client
	rooms    map[string]map[*Client]struct{}
	registry *presence.Registry

	register   chan *Client
	unregister chan *Client
	join       chan membership
	leave      chan membership
	broadcast  chan outbound
	unicast    chan outbound
	snapshot   chan snapshotRequest

	connections atomic.Int64
	roomCount   atomic.Int64

	log     *slog.Logger
	metrics *metrics.Metrics

	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

type snapshotRequest struct {
	roomID string
	reply  chan []presence.Entry
}

// NewHub creates a hub. Call Run in its own goroutine before registering
// clients.
func NewHub(log *slog.Logger, m *metrics.Metrics) *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		clients:    make(map[*Client]struct{}),
		byID:       make(map[string]*Client),
		rooms:      make(map[string]map[*Client]struct{}),
		registry:   presence.New(),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		join:       make(chan membership),
		leave:      make(chan membership),
		broadcast:  make(chan outbound),
		unicast:    make(chan outbound),
		snapshot:   make(chan snapshotRequest),
		log:        logging.OrDefault(log),
		metrics:    m,
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
	}
}

// Connections returns the number of registered connections.
func (h *Hub) Connections() int {
	return int(h.connections.Load())
}

// Rooms returns the number of rooms with at least one member.
func (h *Hub) Rooms() int {
	return int(h.roomCount.Load())
}

// Register hands c to the hub, which starts its pumps and joins its
// handshake room, if any. It returns false once the hub is shutting down.
func (h *Hub) Register(c *Client) bool {
	select {
	case h.register <- c:
		return true
	case <-h.ctx.Done():
		return false
	}
}

// Unregister removes c and re-broadcasts presence to the room it was in.
func (h *Hub) Unregister(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.ctx.Done():
	}
}

// Join moves c into roomID, leaving its previous room first. A non-nil
// identity replaces the one registered for c.
func (h *Hub) Join(c *Client, roomID string, identity *chat.Identity) {
	select {
	case h.join <- membership{client: c, roomID: roomID, identity: identity}:
	case <-h.ctx.Done():
	}
}

// Leave removes c from roomID. An empty roomID leaves the current room.
func (h *Hub) Leave(c *Client, roomID string) {
	select {
	case h.leave <- membership{client: c, roomID: roomID}:
	case <-h.ctx.Done():
	}
}

// Broadcast delivers event to every member of roomID, the sender included.
func (h *Hub) Broadcast(roomID, event string, payload any) {
	frame, err := chat.Encode(event, payload)
	if err != nil {
		h.log.Error("Could not encode broadcast", "event", event, "room_id", roomID, "error", err.Error())
		return
	}
	select {
	case h.broadcast <- outbound{target: roomID, payload: frame}:
	case <-h.ctx.Done():
	}
}

// Unicast delivers event to the single connection connID.
func (h *Hub) Unicast(connID, event string, payload any) {
	frame, err := chat.Encode(event, payload)
	if err != nil {
		h.log.Error("Could not encode unicast", "event", event, "conn_id", connID, "error", err.Error())
		return
	}
	select {
	case h.unicast <- outbound{target: connID, payload: frame}:
	case <-h.ctx.Done():
	}
}

// ListByRoom returns a presence snapshot of roomID taken by the hub loop.
func (h *Hub) ListByRoom(ctx context.Context, roomID string) ([]presence.Entry, error) {
	req := snapshotRequest{roomID: roomID, reply: make(chan []presence.Entry, 1)}
	select {
	case h.snapshot <- req:
	case <-h.ctx.Done():
		return nil, h.ctx.Err()
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	select {
	case entries := <-req.reply:
		return entries, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Run starts the hub's main event loop. It returns after Shutdown.
func (h *Hub) Run() {
	defer close(h.done)

	for {
		select {
		case <-h.ctx.Done():
			h.shutdownClients()
			return

		case client := <-h.register:
			if client == nil {
				h.log.Warn("Received nil client registration; skipping")
				continue
			}
			h.handleRegister(client)

		case client := <-h.unregister:
			if roomID, ok := h.remove(client); ok {
				h.log.Info("Client unregistered", "conn_id", client.id, "addr", client.addr, "clients", len(h.clients))
				h.drop(h.announce(roomID))
			}

		case m := <-h.join:
			h.handleJoin(m)

		case m := <-h.leave:
			h.handleLeave(m)

		case msg := <-h.broadcast:
			h.drop(h.deliver(msg.target, msg.payload))

		case msg := <-h.unicast:
			h.handleUnicast(msg)

		case req := <-h.snapshot:
			req.reply <- h.registry.ListByRoom(req.roomID)
		}
	}
}

func (h *Hub) handleRegister(client *Client) {
	client.closed = false
	h.clients[client] = struct{}{}
	h.byID[client.id] = client
	h.registry.Register(client.id, client.identity)
	h.updateGauges()
	h.log.Info("Client registered", "conn_id", client.id, "addr", client.addr, "clients", len(h.clients))

	h.wg.Add(2)
	go func() {
		defer h.wg.Done()
		client.writePump()
	}()
	go func() {
		defer h.wg.Done()
		client.readPump()
	}()

	if client.initialRoom != "" {
		h.handleJoin(membership{client: client, roomID: client.initialRoom})
	}
}

func (h *Hub) handleJoin(m membership) {
	c := m.client
	if _, ok := h.clients[c]; !ok {
		return
	}
	if m.identity != nil {
		h.registry.Register(c.id, *m.identity)
	}

	previous := h.registry.SetRoom(c.id, m.roomID)
	var failed []*Client
	if previous != "" && previous != m.roomID {
		h.removeMember(previous, c)
		failed = append(failed, h.announce(previous)...)
	}

	members, ok := h.rooms[m.roomID]
	if !ok {
		members = make(map[*Client]struct{})
		h.rooms[m.roomID] = members
	}
	members[c] = struct{}{}
	c.setRoom(m.roomID)
	h.updateGauges()
	h.log.Debug("Client joined room", "conn_id", c.id, "room_id", m.roomID, "members", len(members))

	failed = append(failed, h.announce(m.roomID)...)
	h.drop(failed)
}

func (h *Hub) handleLeave(m membership) {
	c := m.client
	if _, ok := h.clients[c]; !ok {
		return
	}
	current := h.registry.Room(c.id)
	if current == "" || (m.roomID != "" && m.roomID != current) {
		return
	}

	h.registry.SetRoom(c.id, "")
	h.removeMember(current, c)
	c.setRoom("")
	h.updateGauges()
	h.log.Debug("Client left room", "conn_id", c.id, "room_id", current)

	h.drop(h.announce(current))
}

func (h *Hub) handleUnicast(msg outbound) {
	c, ok := h.byID[msg.target]
	if !ok {
		return
	}
	if !h.safeSend(c, msg.payload) {
		h.drop([]*Client{c})
		return
	}
	h.metrics.Delivered(1)
}

// announce broadcasts the presence snapshot of roomID to its members and
// returns the members that could not take it.
func (h *Hub) announce(roomID string) []*Client {
	if roomID == "" {
		return nil
	}
	frame, err := chat.Encode(chat.EventPresenceUpdated, chat.PresencePayload{
		RoomID: roomID,
		Users:  presence.PresenceUsers(h.registry.ListByRoom(roomID)),
	})
	if err != nil {
		h.log.Error("Could not encode presence", "room_id", roomID, "error", err.Error())
		return nil
	}
	return h.deliver(roomID, frame)
}

// deliver queues payload on every member of roomID and returns the members
// whose send buffer was full.
func (h *Hub) deliver(roomID string, payload []byte) []*Client {
	members := h.rooms[roomID]
	if len(members) == 0 {
		return nil
	}

	var failed []*Client
	sent := 0
	for c := range members {
		if h.safeSend(c, payload) {
			sent++
			continue
		}
		failed = append(failed, c)
	}
	h.metrics.Delivered(sent)
	h.log.Debug("Broadcast delivered", "room_id", roomID, "clients", sent)
	return failed
}

// drop removes slow consumers exactly like a disconnect. Each removal
// re-broadcasts presence, which may in turn find more slow consumers.
func (h *Hub) drop(clients []*Client) {
	for len(clients) > 0 {
		c := clients[0]
		clients = clients[1:]

		roomID, ok := h.remove(c)
		if !ok {
			continue
		}
		h.metrics.ConnectionDropped()
		h.log.Warn("Client removed due to full send buffer", "conn_id", c.id, "addr", c.addr)
		clients = append(clients, h.announce(roomID)...)
	}
}

// remove forgets c and closes its send channel. It returns the room c was
// in and whether c was still registered.
func (h *Hub) remove(c *Client) (string, bool) {
	if _, ok := h.clients[c]; !ok {
		return "", false
	}
	delete(h.clients, c)
	delete(h.byID, c.id)
	roomID, _ := h.registry.Unregister(c.id)
	if roomID != "" {
		h.removeMember(roomID, c)
	}
	c.closed = true
	close(c.send)
	h.updateGauges()
	return roomID, true
}

func (h *Hub) removeMember(roomID string, c *Client) {
	members, ok := h.rooms[roomID]
	if !ok {
		return
	}
	delete(members, c)
	if len(members) == 0 {
		delete(h.rooms, roomID)
	}
}

func (h *Hub) safeSend(c *Client, payload []byte) bool {
	if c.closed {
		return false
	}
	select {
	case c.send <- payload:
		return true
	default:
		return false
	}
}

func (h *Hub) updateGauges() {
	h.connections.Store(int64(len(h.clients)))
	h.roomCount.Store(int64(len(h.rooms)))
	h.metrics.SetConnections(len(h.clients))
	h.metrics.SetRooms(len(h.rooms))
}

// shutdownClients gracefully closes all active client connections
func (h *Hub) shutdownClients() {
	h.log.Info("Shutting down all client connections...")

	for client := range h.clients {
		client.closed = true
		close(client.send)
		if client.conn != nil {
			if err := client.conn.Close(); err != nil && !isExpectedCloseError(err) {
				h.log.Error("Error closing client connection", "addr", client.addr, "error", err.Error())
			}
		}
	}

	h.log.Info("Closed client connections", "count", len(h.clients))
}

// Shutdown initiates graceful shutdown of the hub and waits for all goroutines to complete.
// It returns after all client connections are closed and goroutines have finished,
// or when the timeout is reached.
func (h *Hub) Shutdown(timeout time.Duration) error {
	h.log.Info("Initiating hub shutdown...")

	h.cancel()
	<-h.done

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		h.log.Info("Hub shutdown completed successfully")
		return nil
	case <-time.After(timeout):
		h.log.Warn("Hub shutdown timeout reached, some goroutines may still be running")
		return context.DeadlineExceeded
	}
}
