package chatws

import (
	"encoding/json"
	"fmt"
	"time"
)

// ActionMessage is the only inbound client action.
const ActionMessage = "message"

// Outbound event types.
const (
	EventWelcome           = "welcome"
	EventMessage           = "message"
	EventUserLeft          = "user_left"
	EventModerationBlocked = "moderation_blocked"
	EventError             = "error"
)

// InboundMessage is a client -> server action payload.
type InboundMessage struct {
	Action   string `json:"action"`
	RoomID   string `json:"roomId"`
	UserID   string `json:"userId"`
	Username string `json:"username,omitempty"`
	Message  string `json:"message"`
}

// ParseInbound parses an inbound action payload from the raw socket body.
func ParseInbound(body string) (*InboundMessage, error) {
	var msg InboundMessage
	if err := json.Unmarshal([]byte(body), &msg); err != nil {
		return nil, fmt.Errorf("invalid message payload: %w", err)
	}
	if msg.Action == "" {
		return nil, fmt.Errorf("missing action")
	}
	return &msg, nil
}

// Event is a server -> client message.
type Event struct {
	Type      string `json:"type"`
	MessageID string `json:"messageId,omitempty"`
	RoomID    string `json:"roomId,omitempty"`
	UserID    string `json:"userId,omitempty"`
	Username  string `json:"username,omitempty"`
	Message   string `json:"message,omitempty"`
	Reason    string `json:"reason,omitempty"`
	Sentiment string `json:"sentiment,omitempty"`
	SentAt    string `json:"sentAt"`
}

func sentAt() string {
	return time.Now().UTC().Format(time.RFC3339)
}

// WelcomeEvent greets a newly established connection.
func WelcomeEvent(username string) []byte {
	b, _ := json.Marshal(Event{
		Type:     EventWelcome,
		Username: username,
		Message:  fmt.Sprintf("Welcome to the chat, %v!", username),
		SentAt:   sentAt(),
	})
	return b
}

// MessageEvent is the broadcast form of an accepted chat message.
func MessageEvent(messageID, roomID, userID, username, body, sentiment string) []byte {
	b, _ := json.Marshal(Event{
		Type:      EventMessage,
		MessageID: messageID,
		RoomID:    roomID,
		UserID:    userID,
		Username:  username,
		Message:   body,
		Sentiment: sentiment,
		SentAt:    sentAt(),
	})
	return b
}

// UserLeftEvent notifies a room that a participant disconnected.
func UserLeftEvent(userID, username string) []byte {
	b, _ := json.Marshal(Event{
		Type:     EventUserLeft,
		UserID:   userID,
		Username: username,
		Message:  fmt.Sprintf("%v left the chat", username),
		SentAt:   sentAt(),
	})
	return b
}

// ModerationBlockedEvent tells a sender, privately, why their message was not
// delivered.
func ModerationBlockedEvent(reason string) []byte {
	b, _ := json.Marshal(Event{
		Type:    EventModerationBlocked,
		Reason:  reason,
		Message: fmt.Sprintf("Your message was blocked: %v", reason),
		SentAt:  sentAt(),
	})
	return b
}

// ErrorEvent reports a validation failure back to the sender only.
func ErrorEvent(message string) []byte {
	b, _ := json.Marshal(Event{
		Type:    EventError,
		Message: message,
		SentAt:  sentAt(),
	})
	return b
}
