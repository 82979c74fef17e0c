package chatrest

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/streamhive/chat-relay/chat-ws/messagedao"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 200
)

// MessageHistory is the read side of the message store.
type MessageHistory interface {
	Recent(ctx context.Context, roomID string, limit int) ([]messagedao.Message, error)
}

// HistoryMessage is the JSON shape of a single history entry. Blocked
// messages never appear here.
type HistoryMessage struct {
	MessageID string `json:"messageId"`
	UserID    string `json:"userId"`
	Username  string `json:"username"`
	Message   string `json:"message"`
	Sentiment string `json:"sentiment,omitempty"`
	SentAt    string `json:"sentAt"`
}

// HistoryResponse is the body of a history request.
type HistoryResponse struct {
	RoomID   string           `json:"roomId"`
	Messages []HistoryMessage `json:"messages"`
}

// HistoryHandler serves GET /chat/{roomID}/messages?limit=N, returning the
// most recent allowed messages for a room, newest first.
func HistoryHandler(store MessageHistory) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		roomID := chi.URLParam(req, "roomID")
		if roomID == "" {
			http.Error(w, "missing room id", http.StatusBadRequest)
			return
		}

		limit := defaultHistoryLimit
		if raw := req.URL.Query().Get("limit"); raw != "" {
			parsed, err := strconv.Atoi(raw)
			if err != nil || parsed <= 0 {
				http.Error(w, "invalid limit", http.StatusBadRequest)
				return
			}
			limit = parsed
		}
		if limit > maxHistoryLimit {
			limit = maxHistoryLimit
		}

		msgs, err := store.Recent(req.Context(), roomID, limit)
		if err != nil {
			zerolog.Ctx(req.Context()).Error().Err(err).Str("room_id", roomID).Msg("failed to load history")
			http.Error(w, "failed to load history", http.StatusInternalServerError)
			return
		}

		response := HistoryResponse{
			RoomID:   roomID,
			Messages: make([]HistoryMessage, 0, len(msgs)),
		}
		for _, msg := range msgs {
			response.Messages = append(response.Messages, HistoryMessage{
				MessageID: msg.MessageID,
				UserID:    msg.UserID,
				Username:  msg.Username,
				Message:   msg.Body,
				Sentiment: msg.Sentiment,
				SentAt:    time.Unix(msg.SentAt, 0).UTC().Format(time.RFC3339),
			})
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(response)
	}
}
