package main

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	apperrors "ringrelay/internal/errors"
	"ringrelay/internal/service"
)

type sendMessageRequest struct {
	Text  string `json:"text"`
	Image string `json:"image"`
}

func (s *Server) handleSendMessage() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		receiverID, err := pathUserID(r)
		if err != nil {
			s.writeError(w, r, err)
			return
		}

		var req sendMessageRequest
		decoder := json.NewDecoder(r.Body)
		decoder.DisallowUnknownFields()
		if err := decoder.Decode(&req); err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				s.writeError(w, r, apperrors.NewValidationError("body", "", "request body too large"))
				return
			}
			s.writeError(w, r, apperrors.NewValidationError("body", "", "malformed JSON"))
			return
		}

		msg, err := s.services.Messages.SendMessage(r.Context(), service.SendMessageInput{
			SenderID:   identity(r).UserID,
			ReceiverID: receiverID,
			Text:       req.Text,
			Image:      req.Image,
		})
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, msg)
	}
}

func (s *Server) handleConversation() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		otherID, err := pathUserID(r)
		if err != nil {
			s.writeError(w, r, err)
			return
		}

		messages, err := s.services.Messages.Conversation(r.Context(), identity(r).UserID, otherID)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, messages)
	}
}

func (s *Server) handleConversationByID() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conv, err := s.services.Messages.ConversationByID(r.Context(), identity(r).UserID, mux.Vars(r)["conversationId"])
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, conv)
	}
}

func (s *Server) handleCallHistory() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := s.cfg.Calls.HistoryLimit
		if raw := r.URL.Query().Get("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n <= 0 {
				s.writeError(w, r, apperrors.NewValidationError("limit", raw, "must be a positive integer"))
				return
			}
			if n < limit {
				limit = n
			}
		}

		logs, err := s.services.Calls.History(r.Context(), identity(r).UserID, limit)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, logs)
	}
}

func (s *Server) handleFriends() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		friends, err := s.services.Friends.Friends(r.Context(), identity(r).UserID)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, friends)
	}
}

func (s *Server) handleFriendRequests() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		requests, err := s.services.Friends.Requests(r.Context(), identity(r).UserID)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, requests)
	}
}

func (s *Server) handleSendFriendRequest() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		otherID, err := pathUserID(r)
		if err != nil {
			s.writeError(w, r, err)
			return
		}

		if err := s.services.Friends.SendRequest(r.Context(), identity(r).UserID, otherID); err != nil {
			s.writeError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func (s *Server) handleAcceptFriendRequest() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		otherID, err := pathUserID(r)
		if err != nil {
			s.writeError(w, r, err)
			return
		}

		if err := s.services.Friends.Accept(r.Context(), identity(r).UserID, otherID); err != nil {
			s.writeError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

type presenceResponse struct {
	Online  []string `json:"online"`
	Cluster []string `json:"cluster"`
}

// handlePresence returns the local roster and, best effort, the cluster one
func (s *Server) handlePresence() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := presenceResponse{Online: s.services.Presence.OnlineUsers()}

		cluster, err := s.services.Presence.ClusterOnlineUsers(r.Context())
		if err != nil {
			s.logger.WithError(err).Warn("Failed to read cluster presence")
			cluster = resp.Online
		}
		resp.Cluster = cluster

		writeJSON(w, http.StatusOK, resp)
	}
}
