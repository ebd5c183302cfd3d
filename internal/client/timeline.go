// Package client keeps a chat participant's local view of a room consistent
// with the server's event stream. Timeline merges optimistic local sends
// with their server echoes, orders messages by timestamp and applies edit
// and delete patches; Conn drives a Timeline over a websocket.
package client

import (
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Tyrowin/companychat/internal/chat"
)

// DefaultPendingTTL is how long an optimistic entry waits for its echo.
const DefaultPendingTTL = 30 * time.Second

// EffectKind says what a caller should surface for an applied event.
type EffectKind int

const (
	EffectNone EffectKind = iota
	// EffectNotify is a new message from someone else.
	EffectNotify
	// EffectInterviewHelp is a student asking a professional for help.
	EffectInterviewHelp
	// EffectRejected is the server refusing one of our events.
	EffectRejected
)

// Effect is the user-visible consequence of applying one event.
type Effect struct {
	Kind        EffectKind
	Message     chat.Message
	CompanyName string
	Error       *chat.ErrorPayload
}

// Entry is a message as the local view holds it.
type Entry struct {
	chat.Message
	// Pending is set on optimistic entries until the server echoes them.
	Pending bool
	// Failed is set when the server rejected the send or the echo never
	// arrived in time.
	Failed bool
}

// Draft is a message about to be sent.
type Draft struct {
	RoomID  string
	Text    string
	ReplyTo *chat.ReplyTarget
}

type entry struct {
	Entry
	seq uint64
}

type pending struct {
	e    *entry
	sent time.Time
}

// Timeline is the ordered message list of one room as seen by one user.
// It is safe for concurrent use.
type Timeline struct {
	mu      sync.Mutex
	self    chat.Identity
	room    string
	ttl     time.Duration
	now     func() time.Time
	seq     uint64
	entries []*entry
	byID    map[string]*entry
	byToken map[string]*entry
	pending map[string]pending
	online  []chat.PresenceUser

	// Patches for messages not loaded yet, applied by Merge.
	edits   map[string]chat.MessageEditedPayload
	deleted map[string]struct{}
}

// NewTimeline returns an empty timeline for self. A ttl of zero uses
// DefaultPendingTTL.
func NewTimeline(self chat.Identity, ttl time.Duration) *Timeline {
	if ttl <= 0 {
		ttl = DefaultPendingTTL
	}
	t := &Timeline{self: self, ttl: ttl, now: time.Now}
	t.clear()
	return t
}

func (t *Timeline) clear() {
	t.entries = nil
	t.byID = make(map[string]*entry)
	t.byToken = make(map[string]*entry)
	t.pending = make(map[string]pending)
	t.online = nil
	t.edits = make(map[string]chat.MessageEditedPayload)
	t.deleted = make(map[string]struct{})
}

// Reset discards all local state and rehydrates from history, which the
// server returns oldest first.
func (t *Timeline) Reset(history []chat.Message) {
	t.ResetRoom("", history)
}

// ResetRoom is Reset for a timeline that only accepts messages and presence
// of roomID. Events of other rooms still in flight after a room switch are
// ignored.
func (t *Timeline) ResetRoom(roomID string, history []chat.Message) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.clear()
	t.room = chat.NormalizeRoomID(roomID)
	for _, m := range history {
		if _, dup := t.byID[m.ID]; dup {
			continue
		}
		t.insert(&entry{Entry: Entry{Message: m}})
	}
}

// Merge adds history fetched after the room was joined. Messages already
// received live are kept as they are, and edits or deletes that arrived
// before their message are applied to it.
func (t *Timeline) Merge(history []chat.Message) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, m := range history {
		if t.room != "" && m.RoomID != t.room {
			continue
		}
		if _, gone := t.deleted[m.ID]; gone {
			continue
		}
		if p, ok := t.edits[m.ID]; ok && (m.EditedAt == nil || p.EditedAt.After(*m.EditedAt)) {
			editedAt := p.EditedAt
			m.Text = p.Text
			m.IsEdited = true
			m.EditedAt = &editedAt
		}
		t.applyNew(m)
	}
}

// AddLocal shows draft immediately and returns the optimistic message. Its
// ClientToken must be sent with the message so the echo can be matched.
func (t *Timeline) AddLocal(d Draft) chat.Message {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	m := chat.Message{
		RoomID:          chat.NormalizeRoomID(d.RoomID),
		Text:            d.Text,
		AuthorID:        t.self.UserID,
		AuthorName:      t.self.UserName,
		AuthorRole:      t.self.UserRole,
		AuthorEmail:     t.self.Email,
		Timestamp:       now,
		IsInterviewHelp: chat.IsInterviewHelp(t.self.UserRole, d.Text),
		ClientToken:     uuid.NewString(),
	}
	if d.ReplyTo != nil {
		m.ReplyTo = t.replyRef(*d.ReplyTo)
	}

	e := &entry{Entry: Entry{Message: m, Pending: true}}
	t.insert(e)
	t.byToken[m.ClientToken] = e
	t.pending[m.ClientToken] = pending{e: e, sent: now}
	return m
}

func (t *Timeline) replyRef(target chat.ReplyTarget) *chat.ReplyRef {
	if e, ok := t.byID[target.MessageID]; ok {
		ref := e.Message.Snapshot()
		return &ref
	}
	return &chat.ReplyRef{
		MessageID: target.MessageID,
		Text:      target.Text,
		UserName:  target.UserName,
		UserID:    target.UserID,
	}
}

// Fail marks the optimistic entry for token as failed, for sends that
// never reached the server.
func (t *Timeline) Fail(token string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.fail(token)
}

func (t *Timeline) fail(token string) bool {
	p, ok := t.pending[token]
	if !ok {
		return false
	}
	delete(t.pending, token)
	p.e.Pending = false
	p.e.Failed = true
	return true
}

// Apply merges one server event into the timeline.
func (t *Timeline) Apply(env chat.Envelope) (Effect, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	switch env.Event {
	case chat.EventNewMessage:
		var m chat.Message
		if err := env.Decode(&m); err != nil {
			return Effect{}, fmt.Errorf("decode %s: %w", env.Event, err)
		}
		if t.room != "" && m.RoomID != t.room {
			return Effect{}, nil
		}
		return t.applyNew(m), nil

	case chat.EventMessageEdited:
		var p chat.MessageEditedPayload
		if err := env.Decode(&p); err != nil {
			return Effect{}, fmt.Errorf("decode %s: %w", env.Event, err)
		}
		e, ok := t.byID[p.MessageID]
		switch {
		case !ok:
			t.edits[p.MessageID] = p
		case !e.IsDeleted:
			editedAt := p.EditedAt
			e.Text = p.Text
			e.IsEdited = true
			e.EditedAt = &editedAt
		}
		return Effect{}, nil

	case chat.EventMessageDeleted:
		var p chat.MessageDeletedPayload
		if err := env.Decode(&p); err != nil {
			return Effect{}, fmt.Errorf("decode %s: %w", env.Event, err)
		}
		e, ok := t.byID[p.MessageID]
		switch {
		case !ok:
			t.deleted[p.MessageID] = struct{}{}
		case !e.IsDeleted:
			deletedAt := t.now()
			e.IsDeleted = true
			e.DeletedAt = &deletedAt
		}
		return Effect{}, nil

	case chat.EventInterviewHelp:
		var p chat.InterviewHelpPayload
		if err := env.Decode(&p); err != nil {
			return Effect{}, fmt.Errorf("decode %s: %w", env.Event, err)
		}
		return Effect{Kind: EffectInterviewHelp, Message: p.Message, CompanyName: p.CompanyName}, nil

	case chat.EventPresenceUpdated:
		var p chat.PresencePayload
		if err := env.Decode(&p); err != nil {
			return Effect{}, fmt.Errorf("decode %s: %w", env.Event, err)
		}
		if t.room == "" || p.RoomID == t.room {
			t.online = p.Users
		}
		return Effect{}, nil

	case chat.EventError:
		var p chat.ErrorPayload
		if err := env.Decode(&p); err != nil {
			return Effect{}, fmt.Errorf("decode %s: %w", env.Event, err)
		}
		if p.ClientToken != "" {
			t.fail(p.ClientToken)
		}
		return Effect{Kind: EffectRejected, Error: &p}, nil
	}
	return Effect{}, nil
}

func (t *Timeline) applyNew(m chat.Message) Effect {
	// Echo of a local send, possibly arriving after its token expired.
	if e, ok := t.byToken[m.ClientToken]; ok && m.ClientToken != "" {
		delete(t.pending, m.ClientToken)
		delete(t.byToken, m.ClientToken)
		if _, dup := t.byID[m.ID]; dup {
			t.remove(e)
			return Effect{}
		}
		e.Message = m
		e.Pending = false
		e.Failed = false
		t.byID[m.ID] = e
		t.sort()
		return Effect{}
	}

	if _, dup := t.byID[m.ID]; dup {
		return Effect{}
	}
	t.insert(&entry{Entry: Entry{Message: m}})

	if m.AuthorID == t.self.UserID {
		return Effect{}
	}
	if m.IsInterviewHelp && t.self.UserRole == chat.RoleProfessional {
		return Effect{Kind: EffectInterviewHelp, Message: m}
	}
	return Effect{Kind: EffectNotify, Message: m}
}

// ExpirePending gives up on optimistic entries sent before now minus the
// pending TTL and returns how many were marked failed. A late echo still
// replaces the failed entry.
func (t *Timeline) ExpirePending(now time.Time) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	n := 0
	for token, p := range t.pending {
		if now.Sub(p.sent) >= t.ttl && t.fail(token) {
			n++
		}
	}
	return n
}

func (t *Timeline) insert(e *entry) {
	t.seq++
	e.seq = t.seq
	i, _ := slices.BinarySearchFunc(t.entries, e, compareEntries)
	t.entries = slices.Insert(t.entries, i, e)
	if e.ID != "" {
		t.byID[e.ID] = e
	}
}

func (t *Timeline) remove(e *entry) {
	t.entries = slices.DeleteFunc(t.entries, func(x *entry) bool { return x == e })
}

func (t *Timeline) sort() {
	slices.SortStableFunc(t.entries, compareEntries)
}

// compareEntries orders by timestamp, then by insertion.
func compareEntries(a, b *entry) int {
	if c := a.Timestamp.Compare(b.Timestamp); c != 0 {
		return c
	}
	switch {
	case a.seq < b.seq:
		return -1
	case a.seq > b.seq:
		return 1
	}
	return 0
}

// Entries returns every entry, deleted ones included, in display order.
func (t *Timeline) Entries() []Entry {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]Entry, len(t.entries))
	for i, e := range t.entries {
		out[i] = e.Entry
	}
	return out
}

// Visible returns the entries that are not deleted.
func (t *Timeline) Visible() []Entry {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]Entry, 0, len(t.entries))
	for _, e := range t.entries {
		if !e.IsDeleted {
			out = append(out, e.Entry)
		}
	}
	return out
}

// Online returns the last presence snapshot.
func (t *Timeline) Online() []chat.PresenceUser {
	t.mu.Lock()
	defer t.mu.Unlock()
	return slices.Clone(t.online)
}
