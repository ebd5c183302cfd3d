// Package protocol implements the message lifecycle: validation, mention and
// reply enrichment, persistence, fan-out and the edit/delete state machine.
// It is transport agnostic; the websocket hub and the REST API both call it.
package protocol

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Tyrowin/companychat/internal/chat"
	"github.com/Tyrowin/companychat/internal/directory"
	"github.com/Tyrowin/companychat/internal/logging"
	"github.com/Tyrowin/companychat/internal/metrics"
	"github.com/Tyrowin/companychat/internal/presence"
	"github.com/Tyrowin/companychat/internal/store"
	"github.com/Tyrowin/companychat/internal/validator"
)

// EphemeralPrefix starts the id of every message that could not be persisted.
const EphemeralPrefix = "eph-"

// Broadcaster delivers events to rooms and single connections.
type Broadcaster interface {
	Broadcast(roomID, event string, payload any)
	Unicast(connID, event string, payload any)
	ListByRoom(ctx context.Context, roomID string) ([]presence.Entry, error)
}

// Directory resolves users and companies.
type Directory interface {
	KnownUsers(ctx context.Context, roomID string) ([]chat.Mention, error)
	User(ctx context.Context, idOrEmail string) (directory.User, error)
	Company(ctx context.Context, roomID string) (string, error)
}

// Handler runs the message protocol. Store and Broadcaster are required;
// a nil Directory disables mentions and interview-help notifications.
type Handler struct {
	Store        store.Store
	Directory    Directory
	Broadcaster  Broadcaster
	Validator    *validator.Validator
	Logger       *slog.Logger
	Metrics      *metrics.Metrics
	Now          func() time.Time
	HistoryLimit int
}

// SendRequest creates a new message.
type SendRequest struct {
	Text        string            `json:"text" validate:"required"`
	AuthorID    string            `json:"authorId" validate:"required"`
	AuthorName  string            `json:"authorName" validate:"required"`
	AuthorRole  chat.Role         `json:"authorRole" validate:"required,oneof=professional student system"`
	AuthorEmail string            `json:"authorEmail,omitempty"`
	RoomID      string            `json:"roomId" validate:"required"`
	ReplyTo     *chat.ReplyTarget `json:"replyTo,omitempty"`
	ClientToken string            `json:"clientToken,omitempty"`
}

// EditRequest replaces the text of a message.
type EditRequest struct {
	MessageID   string `json:"messageId" validate:"required"`
	NewText     string `json:"newText" validate:"required"`
	RequesterID string `json:"requesterId" validate:"required"`
}

// DeleteRequest soft deletes a message.
type DeleteRequest struct {
	MessageID   string `json:"messageId" validate:"required"`
	RequesterID string `json:"requesterId" validate:"required"`
}

func (h *Handler) now() time.Time {
	if h.Now != nil {
		return h.Now()
	}
	return time.Now().UTC()
}

func (h *Handler) log() *slog.Logger {
	return logging.OrDefault(h.Logger)
}

func (h *Handler) validate(req any) error {
	v := h.Validator
	if v == nil {
		v = validator.New()
	}
	if errs := v.ValidateStruct(req); len(errs) > 0 {
		return fmt.Errorf("%w: %s", chat.ErrValidation, validator.Summary(errs))
	}
	return nil
}

// reject counts err by class and returns it.
func (h *Handler) reject(err error) error {
	h.Metrics.EventRejected(string(chat.CodeOf(err)))
	return err
}

// Send validates, enriches, persists and broadcasts a new message. A store
// failure does not fail the call: the message is broadcast with an
// ephemeral id instead.
func (h *Handler) Send(ctx context.Context, req SendRequest) (chat.Message, error) {
	req.Text = strings.TrimSpace(req.Text)
	req.RoomID = chat.NormalizeRoomID(req.RoomID)
	if err := h.validate(req); err != nil {
		return chat.Message{}, h.reject(err)
	}

	msg := chat.Message{
		RoomID:      req.RoomID,
		Text:        req.Text,
		AuthorID:    req.AuthorID,
		AuthorName:  req.AuthorName,
		AuthorRole:  req.AuthorRole,
		AuthorEmail: req.AuthorEmail,
		Timestamp:   h.now(),
	}
	msg.Mentions = h.mentions(ctx, msg.RoomID, msg.Text)
	if req.ReplyTo != nil && req.ReplyTo.MessageID != "" {
		msg.ReplyTo = h.replySnapshot(ctx, *req.ReplyTo)
	}
	msg.IsInterviewHelp = chat.IsInterviewHelp(msg.AuthorRole, msg.Text)

	saved, err := h.Store.Create(ctx, msg)
	if err != nil {
		msg.ID = EphemeralPrefix + uuid.NewString()
		msg.Ephemeral = true
		h.log().Warn("Could not persist message, broadcasting ephemeral copy",
			"room_id", msg.RoomID, "message_id", msg.ID, "error", err.Error())
		h.Metrics.MessageAccepted(metrics.ModeEphemeral)
	} else {
		msg = saved
		h.Metrics.MessageAccepted(metrics.ModeDurable)
	}
	msg.ClientToken = req.ClientToken

	h.Broadcaster.Broadcast(msg.RoomID, chat.EventNewMessage, msg)
	if msg.IsInterviewHelp {
		h.notifyProfessionals(ctx, msg)
	}
	return msg, nil
}

func (h *Handler) mentions(ctx context.Context, roomID, text string) []chat.Mention {
	if h.Directory == nil || !strings.Contains(text, "@") {
		return nil
	}
	known, err := h.Directory.KnownUsers(ctx, roomID)
	if err != nil {
		h.log().Error("Could not list known users", "room_id", roomID, "error", err.Error())
		return nil
	}
	return chat.ResolveMentions(text, known)
}

func (h *Handler) replySnapshot(ctx context.Context, target chat.ReplyTarget) *chat.ReplyRef {
	if orig, err := h.Store.Get(ctx, target.MessageID); err == nil {
		ref := orig.Snapshot()
		return &ref
	}
	return &chat.ReplyRef{
		MessageID: target.MessageID,
		Text:      target.Text,
		UserName:  target.UserName,
		UserID:    target.UserID,
	}
}

// notifyProfessionals unicasts an interview-help notification to every
// connection in the room that belongs to a professional of the room's
// company, other than the author.
func (h *Handler) notifyProfessionals(ctx context.Context, msg chat.Message) {
	if h.Directory == nil {
		return
	}
	entries, err := h.Broadcaster.ListByRoom(ctx, msg.RoomID)
	if err != nil {
		h.log().Error("Could not list room members", "room_id", msg.RoomID, "error", err.Error())
		return
	}

	company, err := h.Directory.Company(ctx, msg.RoomID)
	if err != nil {
		company = msg.RoomID
	}
	payload := chat.InterviewHelpPayload{
		Message:     msg,
		CompanyName: company,
		AuthorName:  msg.AuthorName,
	}

	for _, e := range entries {
		if e.Identity.UserID == msg.AuthorID {
			continue
		}
		u, err := h.Directory.User(ctx, e.Identity.UserID)
		if err != nil && e.Identity.Email != "" {
			u, err = h.Directory.User(ctx, e.Identity.Email)
		}
		if err != nil || u.Role != chat.RoleProfessional {
			continue
		}
		if !strings.EqualFold(u.CompanyName, company) && !strings.EqualFold(u.CompanyName, msg.RoomID) {
			continue
		}
		h.Broadcaster.Unicast(e.ConnectionID, chat.EventInterviewHelp, payload)
	}
}

// Edit replaces the text of a live message owned by the requester.
func (h *Handler) Edit(ctx context.Context, req EditRequest) (chat.Message, error) {
	req.NewText = strings.TrimSpace(req.NewText)
	if err := h.validate(req); err != nil {
		return chat.Message{}, h.reject(err)
	}

	msg, err := h.authorize(ctx, req.MessageID, req.RequesterID)
	if err != nil {
		return chat.Message{}, h.reject(err)
	}

	now := h.now()
	msg.Text = req.NewText
	msg.IsEdited = true
	msg.EditedAt = &now
	saved, err := h.Store.Update(ctx, msg)
	if err != nil {
		return chat.Message{}, h.reject(storeError("edit", msg.ID, err))
	}
	h.Metrics.MessageMutated("edit")

	h.Broadcaster.Broadcast(saved.RoomID, chat.EventMessageEdited, chat.MessageEditedPayload{
		MessageID: saved.ID,
		Text:      saved.Text,
		IsEdited:  true,
		EditedAt:  now,
	})
	return saved, nil
}

// Delete soft deletes a live message owned by the requester. Deleted is
// terminal: a second delete fails with chat.ErrInvalidState.
func (h *Handler) Delete(ctx context.Context, req DeleteRequest) (chat.Message, error) {
	if err := h.validate(req); err != nil {
		return chat.Message{}, h.reject(err)
	}

	msg, err := h.authorize(ctx, req.MessageID, req.RequesterID)
	if err != nil {
		return chat.Message{}, h.reject(err)
	}

	now := h.now()
	msg.IsDeleted = true
	msg.DeletedAt = &now
	saved, err := h.Store.Update(ctx, msg)
	if err != nil {
		return chat.Message{}, h.reject(storeError("delete", msg.ID, err))
	}
	h.Metrics.MessageMutated("delete")

	h.Broadcaster.Broadcast(saved.RoomID, chat.EventMessageDeleted, chat.MessageDeletedPayload{
		MessageID: saved.ID,
	})
	return saved, nil
}

// authorize loads a message and checks that requesterID may mutate it.
func (h *Handler) authorize(ctx context.Context, messageID, requesterID string) (chat.Message, error) {
	msg, err := h.Store.Get(ctx, messageID)
	if err != nil {
		return chat.Message{}, storeError("get", messageID, err)
	}
	if msg.AuthorID != requesterID {
		return chat.Message{}, fmt.Errorf("%w: %s is not the author of %s", chat.ErrForbidden, requesterID, messageID)
	}
	if msg.IsDeleted {
		return chat.Message{}, fmt.Errorf("%w: %s", chat.ErrInvalidState, messageID)
	}
	return msg, nil
}

// History returns the most recent live messages of roomID, oldest first.
func (h *Handler) History(ctx context.Context, roomID string) ([]chat.Message, error) {
	roomID = chat.NormalizeRoomID(roomID)
	if roomID == "" {
		return nil, h.reject(fmt.Errorf("%w: roomId is required", chat.ErrValidation))
	}
	limit := h.HistoryLimit
	if limit <= 0 {
		limit = store.DefaultHistoryLimit
	}
	msgs, err := h.Store.History(ctx, roomID, limit)
	if err != nil {
		return nil, h.reject(fmt.Errorf("%w: history %s: %v", chat.ErrPersistenceUnavailable, roomID, err))
	}
	if msgs == nil {
		msgs = []chat.Message{}
	}
	return msgs, nil
}

func storeError(op, id string, err error) error {
	if errors.Is(err, chat.ErrNotFound) {
		return fmt.Errorf("%s %s: %w", op, id, err)
	}
	return fmt.Errorf("%w: %s %s: %v", chat.ErrPersistenceUnavailable, op, id, err)
}
