// Package server serves the JSON REST API over the message protocol.
package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/Tyrowin/companychat/internal/chat"
	"github.com/Tyrowin/companychat/internal/protocol"
)

func respond(log *slog.Logger, w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Error("Could not encode JSON body", "error", err.Error())
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	type response struct {
		Error string `json:"error"`
	}
	respond(slog.Default(), w, status, response{Error: msg})
}

func (s *Server) respond(w http.ResponseWriter, status int, body any) {
	respond(s.log, w, status, body)
}

// respondError writes err with the status of its error class.
func (s *Server) respondError(w http.ResponseWriter, err error) {
	type response struct {
		Error string    `json:"error"`
		Code  chat.Code `json:"code"`
	}
	status := chat.HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		s.log.Error("Request failed", "error", err.Error())
	} else {
		s.log.Info("Request rejected", "error", err.Error())
	}
	s.respond(w, status, response{Error: err.Error(), Code: chat.CodeOf(err)})
}

func (s *Server) decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		s.log.Info("Could not decode request body", "error", err.Error())
		writeError(w, http.StatusBadRequest, "Could not decode request body")
		return false
	}
	return true
}

func (s *Server) apiListMessages(w http.ResponseWriter, r *http.Request) {
	type response struct {
		Messages []chat.Message `json:"messages"`
	}

	msgs, err := s.protocol.History(r.Context(), r.PathValue("roomID"))
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.respond(w, http.StatusOK, response{Messages: msgs})
}

func (s *Server) apiCreateMessage(w http.ResponseWriter, r *http.Request) {
	var body protocol.SendRequest
	if !s.decodeBody(w, r, &body) {
		return
	}

	msg, err := s.protocol.Send(r.Context(), body)
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.respond(w, http.StatusCreated, msg)
}

func (s *Server) apiEditMessage(w http.ResponseWriter, r *http.Request) {
	type request struct {
		Text        string `json:"text"`
		RequesterID string `json:"requesterId"`
	}

	var body request
	if !s.decodeBody(w, r, &body) {
		return
	}

	msg, err := s.protocol.Edit(r.Context(), protocol.EditRequest{
		MessageID:   r.PathValue("messageID"),
		NewText:     body.Text,
		RequesterID: body.RequesterID,
	})
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.respond(w, http.StatusOK, msg)
}

func (s *Server) apiDeleteMessage(w http.ResponseWriter, r *http.Request) {
	type request struct {
		RequesterID string `json:"requesterId"`
	}

	var body request
	if !s.decodeBody(w, r, &body) {
		return
	}

	msg, err := s.protocol.Delete(r.Context(), protocol.DeleteRequest{
		MessageID:   r.PathValue("messageID"),
		RequesterID: body.RequesterID,
	})
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.respond(w, http.StatusOK, msg)
}

func (s *Server) apiHealth(w http.ResponseWriter, _ *http.Request) {
	type response struct {
		Status      string    `json:"status"`
		Timestamp   time.Time `json:"timestamp"`
		Uptime      float64   `json:"uptime"`
		Connections int       `json:"connections"`
		Rooms       int       `json:"rooms"`
	}
	s.respond(w, http.StatusOK, response{
		Status:      "ok",
		Timestamp:   time.Now().UTC(),
		Uptime:      time.Since(s.started).Seconds(),
		Connections: s.hub.Connections(),
		Rooms:       s.hub.Rooms(),
	})
}
