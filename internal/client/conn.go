package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Tyrowin/companychat/internal/chat"
	"github.com/Tyrowin/companychat/internal/logging"
)

const writeWait = 10 * time.Second

// Options configure a Conn.
type Options struct {
	// ServerURL is the http(s) base URL of the chat server.
	ServerURL string
	Identity  chat.Identity
	// Token authenticates against the server's directory. When set, the
	// server ignores the claimed identity.
	Token string
	// Origin defaults to ServerURL.
	Origin     string
	HTTPClient *http.Client
	Logger     *slog.Logger
	PendingTTL time.Duration
	// OnEvent, if set, is called with every inbound envelope after it has
	// been applied to the timeline.
	OnEvent func(chat.Envelope)
	// OnEffect, if set, is called for every event with a visible effect.
	OnEffect func(Effect)
}

// Conn is a chat participant connected to one server. It is safe for
// concurrent use.
type Conn struct {
	opts     Options
	base     *url.URL
	id       string
	ws       *websocket.Conn
	http     *http.Client
	log      *slog.Logger
	timeline *Timeline

	writeMu sync.Mutex
	roomMu  sync.RWMutex
	room    string

	// joinMu serializes Join; joining is signalled by handle once the
	// server lists this connection in the room.
	joinMu  sync.Mutex
	waitMu  sync.Mutex
	joining *joinWait

	closing atomic.Bool
	done    chan struct{}
	err     error
}

// Dial opens the websocket and starts the read loop. The connection is not
// in any room until Join.
func Dial(ctx context.Context, opts Options) (*Conn, error) {
	base, err := url.Parse(strings.TrimRight(opts.ServerURL, "/"))
	if err != nil || base.Host == "" {
		return nil, fmt.Errorf("invalid server url %q", opts.ServerURL)
	}

	wsURL := *base
	switch base.Scheme {
	case "https":
		wsURL.Scheme = "wss"
	default:
		wsURL.Scheme = "ws"
	}
	wsURL.Path = base.Path + "/ws"
	q := url.Values{}
	q.Set("userId", opts.Identity.UserID)
	q.Set("userName", opts.Identity.UserName)
	q.Set("userRole", string(opts.Identity.UserRole))
	if opts.Identity.Email != "" {
		q.Set("userEmail", opts.Identity.Email)
	}
	if opts.Token != "" {
		q.Set("token", opts.Token)
	}
	wsURL.RawQuery = q.Encode()

	origin := opts.Origin
	if origin == "" {
		origin = base.Scheme + "://" + base.Host
	}
	header := http.Header{}
	header.Set("Origin", origin)

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	ws, resp, err := dialer.DialContext(ctx, wsURL.String(), header)
	var connID string
	if resp != nil {
		connID = resp.Header.Get(chat.ConnectionIDHeader)
		_ = resp.Body.Close()
	}
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: %w (status %d)", wsURL.Redacted(), err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial %s: %w", wsURL.Redacted(), err)
	}

	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: 10 * time.Second}
	}
	c := &Conn{
		opts:     opts,
		base:     base,
		id:       connID,
		ws:       ws,
		http:     hc,
		log:      logging.OrDefault(opts.Logger).With("server", base.Host),
		timeline: NewTimeline(opts.Identity, opts.PendingTTL),
		done:     make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

type joinWait struct {
	room string
	done chan struct{}
}

// ID returns the connection id the server assigned, as listed in presence
// snapshots.
func (c *Conn) ID() string {
	return c.id
}

// Timeline returns the local view of the current room.
func (c *Conn) Timeline() *Timeline {
	return c.timeline
}

// Room returns the room last joined.
func (c *Conn) Room() string {
	c.roomMu.RLock()
	defer c.roomMu.RUnlock()
	return c.room
}

// Done is closed when the read loop stops.
func (c *Conn) Done() <-chan struct{} {
	return c.done
}

// Err returns why the read loop stopped, or nil for a normal close.
func (c *Conn) Err() error {
	<-c.done
	return c.err
}

// Join subscribes to roomID, waits until the server lists this connection
// in the room and then merges the room history into the timeline. Messages
// broadcast while the history is in flight are kept.
func (c *Conn) Join(ctx context.Context, roomID string) error {
	roomID = chat.NormalizeRoomID(roomID)
	if roomID == "" {
		return fmt.Errorf("%w: roomId is required", chat.ErrValidation)
	}

	c.joinMu.Lock()
	defer c.joinMu.Unlock()

	c.timeline.ResetRoom(roomID, nil)
	c.roomMu.Lock()
	c.room = roomID
	c.roomMu.Unlock()

	w := &joinWait{room: roomID, done: make(chan struct{})}
	c.waitMu.Lock()
	c.joining = w
	c.waitMu.Unlock()
	defer func() {
		c.waitMu.Lock()
		if c.joining == w {
			c.joining = nil
		}
		c.waitMu.Unlock()
	}()

	if err := c.write(chat.EventJoinRoom, chat.JoinRoomPayload{RoomID: roomID}); err != nil {
		return err
	}
	select {
	case <-w.done:
	case <-c.done:
		return errors.New("connection closed while joining")
	case <-ctx.Done():
		return fmt.Errorf("join %s: %w", roomID, ctx.Err())
	}

	history, err := c.History(ctx, roomID)
	if err != nil {
		return err
	}
	c.timeline.Merge(history)
	return nil
}

// joined completes the pending join once p lists this connection in the
// room being joined.
func (c *Conn) joined(p chat.PresencePayload) {
	c.waitMu.Lock()
	defer c.waitMu.Unlock()

	w := c.joining
	if w == nil || p.RoomID != w.room {
		return
	}
	for _, u := range p.Users {
		// Servers that do not send a connection id are confirmed by any
		// snapshot of the room, which only members receive.
		if c.id == "" || u.ConnectionID == c.id {
			close(w.done)
			c.joining = nil
			return
		}
	}
}

// History fetches the latest messages of roomID from the REST API.
func (c *Conn) History(ctx context.Context, roomID string) ([]chat.Message, error) {
	u := *c.base
	u.Path = c.base.Path + "/api/rooms/" + url.PathEscape(roomID) + "/messages"

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), http.NoBody)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch history: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch history: status %d", resp.StatusCode)
	}
	var body struct {
		Messages []chat.Message `json:"messages"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode history: %w", err)
	}
	return body.Messages, nil
}

// Leave unsubscribes from the current room.
func (c *Conn) Leave() error {
	c.roomMu.Lock()
	roomID := c.room
	c.room = ""
	c.roomMu.Unlock()
	return c.write(chat.EventLeaveRoom, chat.LeaveRoomPayload{RoomID: roomID})
}

// Send shows text optimistically and sends it to the current room.
func (c *Conn) Send(text string, replyTo *chat.ReplyTarget) (chat.Message, error) {
	roomID := c.Room()
	if roomID == "" {
		return chat.Message{}, errors.New("not in a room")
	}
	local := c.timeline.AddLocal(Draft{RoomID: roomID, Text: text, ReplyTo: replyTo})
	err := c.write(chat.EventSendMessage, chat.SendMessagePayload{
		Text:        text,
		RoomID:      roomID,
		ReplyTo:     replyTo,
		ClientToken: local.ClientToken,
	})
	if err != nil {
		c.timeline.Fail(local.ClientToken)
		return local, err
	}
	return local, nil
}

// Edit asks the server to replace the text of one of our messages. The
// timeline changes when the server broadcasts the edit.
func (c *Conn) Edit(messageID, text string) error {
	return c.write(chat.EventEditMessage, chat.EditMessagePayload{
		MessageID: messageID,
		NewText:   text,
		RoomID:    c.Room(),
	})
}

// Delete asks the server to delete one of our messages.
func (c *Conn) Delete(messageID string) error {
	return c.write(chat.EventDeleteMessage, chat.DeleteMessagePayload{
		MessageID: messageID,
		RoomID:    c.Room(),
	})
}

// Close sends a close frame and waits for the read loop to stop.
func (c *Conn) Close() error {
	c.closing.Store(true)
	c.writeMu.Lock()
	err := c.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(writeWait))
	c.writeMu.Unlock()

	select {
	case <-c.done:
	case <-time.After(writeWait):
	}
	if cerr := c.ws.Close(); err == nil {
		err = cerr
	}
	if errors.Is(err, websocket.ErrCloseSent) || errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}

func (c *Conn) write(event string, payload any) error {
	frame, err := chat.Encode(event, payload)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.ws.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return c.ws.WriteMessage(websocket.TextMessage, frame)
}

func (c *Conn) readLoop() {
	defer close(c.done)
	for {
		_, frame, err := c.ws.ReadMessage()
		if err != nil {
			if !c.closing.Load() && !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.err = err
			}
			return
		}
		for _, raw := range bytes.Split(frame, []byte{'\n'}) {
			if len(bytes.TrimSpace(raw)) == 0 {
				continue
			}
			var env chat.Envelope
			if err := json.Unmarshal(raw, &env); err != nil {
				c.log.Warn("Dropping undecodable frame", "error", err.Error())
				continue
			}
			c.handle(env)
		}
	}
}

func (c *Conn) handle(env chat.Envelope) {
	effect, err := c.timeline.Apply(env)
	if err != nil {
		c.log.Warn("Could not apply event", "event", env.Event, "error", err.Error())
		return
	}
	if env.Event == chat.EventPresenceUpdated {
		var p chat.PresencePayload
		if env.Decode(&p) == nil {
			c.joined(p)
		}
	}
	if c.opts.OnEvent != nil {
		c.opts.OnEvent(env)
	}
	if effect.Kind != EffectNone && c.opts.OnEffect != nil {
		c.opts.OnEffect(effect)
	}
}
