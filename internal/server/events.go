// Package server translates inbound socket events into protocol calls.
package server

import (
	"context"
	"fmt"

	"github.com/Tyrowin/companychat/internal/chat"
	"github.com/Tyrowin/companychat/internal/protocol"
)

// handleEvent dispatches one inbound envelope. It runs on the client's
// reader goroutine, so events from one connection are handled in order.
func (s *Server) handleEvent(ctx context.Context, c *Client, env chat.Envelope) {
	var err error
	var token, messageID string

	switch env.Event {
	case chat.EventJoinRoom:
		err = s.joinRoom(c, env)
	case chat.EventLeaveRoom:
		err = s.leaveRoom(c, env)
	case chat.EventSendMessage:
		token, err = s.sendMessage(ctx, c, env)
	case chat.EventEditMessage:
		messageID, err = s.editMessage(ctx, c, env)
	case chat.EventDeleteMessage:
		messageID, err = s.deleteMessage(ctx, c, env)
	default:
		err = s.reject(fmt.Errorf("%w: unknown event %q", chat.ErrValidation, env.Event))
	}

	if err != nil {
		c.log.Info("Event rejected", "event", env.Event, "code", chat.CodeOf(err), "error", err.Error())
		c.sendError(env.Event, err, token, messageID)
	}
}

// reject counts errors raised before the protocol handler is reached.
func (s *Server) reject(err error) error {
	s.metrics.EventRejected(string(chat.CodeOf(err)))
	return err
}

func decode(env chat.Envelope, v any) error {
	if err := env.Decode(v); err != nil {
		return fmt.Errorf("%w: malformed %s payload: %v", chat.ErrValidation, env.Event, err)
	}
	return nil
}

func (s *Server) joinRoom(c *Client, env chat.Envelope) error {
	var p chat.JoinRoomPayload
	if err := decode(env, &p); err != nil {
		return s.reject(err)
	}
	roomID := chat.NormalizeRoomID(p.RoomID)
	if roomID == "" {
		return s.reject(fmt.Errorf("%w: roomId is required", chat.ErrValidation))
	}

	var identity *chat.Identity
	if p.Identity != nil && !c.authenticated {
		if !p.Identity.Complete() {
			return s.reject(fmt.Errorf("%w: identity needs userId, userName and userRole", chat.ErrValidation))
		}
		c.identity = *p.Identity
		identity = p.Identity
	}
	s.hub.Join(c, roomID, identity)
	return nil
}

func (s *Server) leaveRoom(c *Client, env chat.Envelope) error {
	var p chat.LeaveRoomPayload
	if err := decode(env, &p); err != nil {
		return s.reject(err)
	}
	s.hub.Leave(c, chat.NormalizeRoomID(p.RoomID))
	return nil
}

// actor resolves the acting user id of an event. Omitted ids default to the
// connection identity; ids that contradict it are forbidden.
func (c *Client) actor(claimed string) (string, error) {
	switch {
	case claimed == "":
		return c.identity.UserID, nil
	case c.identity.UserID != "" && claimed != c.identity.UserID:
		return "", fmt.Errorf("%w: connection is %s, event claims %s", chat.ErrForbidden, c.identity.UserID, claimed)
	default:
		return claimed, nil
	}
}

func (s *Server) sendMessage(ctx context.Context, c *Client, env chat.Envelope) (string, error) {
	var p chat.SendMessagePayload
	if err := decode(env, &p); err != nil {
		return "", s.reject(err)
	}
	authorID, err := c.actor(p.AuthorID)
	if err != nil {
		return p.ClientToken, s.reject(err)
	}

	req := protocol.SendRequest{
		Text:        p.Text,
		AuthorID:    authorID,
		AuthorName:  p.AuthorName,
		AuthorRole:  p.AuthorRole,
		AuthorEmail: p.AuthorEmail,
		RoomID:      p.RoomID,
		ReplyTo:     p.ReplyTo,
		ClientToken: p.ClientToken,
	}
	if c.identity.Complete() {
		// The connection identity is the author; payload fields cannot
		// rename it or change its role.
		req.AuthorName = c.identity.UserName
		req.AuthorRole = c.identity.UserRole
		req.AuthorEmail = c.identity.Email
	} else {
		if req.AuthorName == "" {
			req.AuthorName = c.identity.UserName
		}
		if req.AuthorRole == "" {
			req.AuthorRole = c.identity.UserRole
		}
		if req.AuthorEmail == "" {
			req.AuthorEmail = c.identity.Email
		}
	}
	if req.AuthorRole == chat.RoleSystem {
		return p.ClientToken, s.reject(fmt.Errorf("%w: role %q cannot send from a socket", chat.ErrForbidden, req.AuthorRole))
	}
	if chat.NormalizeRoomID(req.RoomID) == "" {
		req.RoomID = c.Room()
	}

	_, err = s.protocol.Send(ctx, req)
	return p.ClientToken, err
}

func (s *Server) editMessage(ctx context.Context, c *Client, env chat.Envelope) (string, error) {
	var p chat.EditMessagePayload
	if err := decode(env, &p); err != nil {
		return "", s.reject(err)
	}
	requester, err := c.actor(p.RequesterID)
	if err != nil {
		return p.MessageID, s.reject(err)
	}
	_, err = s.protocol.Edit(ctx, protocol.EditRequest{
		MessageID:   p.MessageID,
		NewText:     p.NewText,
		RequesterID: requester,
	})
	return p.MessageID, err
}

func (s *Server) deleteMessage(ctx context.Context, c *Client, env chat.Envelope) (string, error) {
	var p chat.DeleteMessagePayload
	if err := decode(env, &p); err != nil {
		return "", s.reject(err)
	}
	requester, err := c.actor(p.RequesterID)
	if err != nil {
		return p.MessageID, s.reject(err)
	}
	_, err = s.protocol.Delete(ctx, protocol.DeleteRequest{
		MessageID:   p.MessageID,
		RequesterID: requester,
	})
	return p.MessageID, err
}
