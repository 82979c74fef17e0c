// Package chatws implements the WebSocket chat relay: connection lifecycle
// handling, message validation and moderation, and room-scoped broadcast
// fan-out. Handlers are stateless; the connection registry in DynamoDB is the
// only shared state.
package chatws

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/aws/aws-lambda-go/events"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	chatcli "github.com/streamhive/chat-relay/chat-cli"
	"github.com/streamhive/chat-relay/chat-ws/connectiondao"
	"github.com/streamhive/chat-relay/chat-ws/messagedao"
	"github.com/streamhive/chat-relay/moderation"
	"github.com/streamhive/chat-relay/publish"
)

// AnonymousUsername is used when a client connects without a username.
const AnonymousUsername = "Anonymous"

// ConnectionStore is the connection registry contract used by the handlers.
type ConnectionStore interface {
	Put(ctx context.Context, conn connectiondao.Connection) error
	Get(ctx context.Context, connectionID string) (*connectiondao.Connection, error)
	Delete(ctx context.Context, connectionID string) error
	QueryByRoom(ctx context.Context, roomID string) ([]connectiondao.Connection, error)
}

// MessageStore persists the moderation audit trail.
type MessageStore interface {
	Put(ctx context.Context, msg messagedao.Message) error
}

// Moderator classifies message text before broadcast.
type Moderator interface {
	Check(ctx context.Context, text string) moderation.Result
}

// AnalyticsPublisher emits chat activity events for downstream reporting.
type AnalyticsPublisher interface {
	Send(ctx context.Context, eventType, roomID string, payload interface{}) error
}

// Handler handles API Gateway WebSocket events for the chat relay.
type Handler struct {
	Connections ConnectionStore
	Messages    MessageStore
	Moderator   Moderator
	Sender      Sender
	Analytics   AnalyticsPublisher // optional
	Metrics     *chatcli.Metrics   // optional
	Logger      zerolog.Logger

	ConnTTL     time.Duration // TTL for connection and message records (default 24 hours)
	MaxBodyLen  int           // max message length in runes (default 500)
	Concurrency int           // max concurrent PostToConnection calls (default 50)
}

// HandleEvent routes an API Gateway WebSocket event to the appropriate handler.
func (h *Handler) HandleEvent(ctx context.Context, req events.APIGatewayWebsocketProxyRequest) (events.APIGatewayProxyResponse, error) {
	logger := h.Logger.With().
		Str("connection_id", req.RequestContext.ConnectionID).
		Str("route", req.RequestContext.RouteKey).
		Logger()

	switch req.RequestContext.RouteKey {
	case "$connect":
		return h.handleConnect(ctx, logger, req)
	case "$disconnect":
		return h.handleDisconnect(ctx, logger, req)
	case "$default":
		return h.handleMessage(ctx, logger, req)
	default:
		logger.Warn().Str("route", req.RequestContext.RouteKey).Msg("unknown route")
		return events.APIGatewayProxyResponse{StatusCode: 400}, nil
	}
}

func (h *Handler) ttl() time.Duration {
	if h.ConnTTL == 0 {
		return 24 * time.Hour
	}
	return h.ConnTTL
}

func endpointOf(req events.APIGatewayWebsocketProxyRequest) string {
	return fmt.Sprintf("https://%s/%s", req.RequestContext.DomainName, req.RequestContext.Stage)
}

func (h *Handler) handleConnect(ctx context.Context, logger zerolog.Logger, req events.APIGatewayWebsocketProxyRequest) (events.APIGatewayProxyResponse, error) {
	connID := req.RequestContext.ConnectionID
	endpoint := endpointOf(req)

	params := req.QueryStringParameters
	userID := params["userId"]
	roomID := params["roomId"]
	if roomID == "" {
		// older clients connect with streamId
		roomID = params["streamId"]
	}
	username := params["username"]
	if username == "" {
		username = AnonymousUsername
	}

	// Identity is caller-supplied and stored as-is; nothing in-band verifies
	// it against an identity provider.
	conn := connectiondao.Connection{
		ConnectionID: connID,
		UserID:       userID,
		Username:     username,
		RoomID:       roomID,
		Endpoint:     endpoint,
		ConnectedAt:  time.Now().Unix(),
		TTL:          time.Now().Add(h.ttl()).Unix(),
	}

	if err := h.Connections.Put(ctx, conn); err != nil {
		logger.Error().Err(err).Msg("failed to store connection")
		return events.APIGatewayProxyResponse{StatusCode: 500}, nil
	}

	if err := h.Sender.Send(ctx, endpoint, connID, WelcomeEvent(username)); err != nil {
		logger.Warn().Err(err).Msg("failed to send welcome message")
	}

	logger.Info().
		Str("user_id", userID).
		Str("room_id", roomID).
		Msg("connection established")
	return events.APIGatewayProxyResponse{StatusCode: 200}, nil
}

func (h *Handler) handleDisconnect(ctx context.Context, logger zerolog.Logger, req events.APIGatewayWebsocketProxyRequest) (events.APIGatewayProxyResponse, error) {
	connID := req.RequestContext.ConnectionID

	conn, err := h.Connections.Get(ctx, connID)
	if err != nil {
		logger.Error().Err(err).Msg("failed to look up connection")
		return events.APIGatewayProxyResponse{StatusCode: 500}, nil
	}
	if conn == nil {
		// duplicate disconnect or TTL raced the event
		logger.Debug().Msg("connection already absent")
		return events.APIGatewayProxyResponse{StatusCode: 200}, nil
	}

	if err := h.Connections.Delete(ctx, connID); err != nil {
		logger.Error().Err(err).Msg("failed to delete connection")
		return events.APIGatewayProxyResponse{StatusCode: 500}, nil
	}

	if conn.RoomID != "" {
		h.broadcast(ctx, logger, conn.RoomID, connID, UserLeftEvent(conn.UserID, conn.Username))
		h.publishAnalytics(ctx, logger, publish.TypeUserLeft, conn.RoomID, map[string]string{
			"userId":   conn.UserID,
			"username": conn.Username,
		})
	}

	logger.Info().
		Str("user_id", conn.UserID).
		Str("room_id", conn.RoomID).
		Msg("connection closed")
	return events.APIGatewayProxyResponse{StatusCode: 200}, nil
}

func (h *Handler) handleMessage(ctx context.Context, logger zerolog.Logger, req events.APIGatewayWebsocketProxyRequest) (events.APIGatewayProxyResponse, error) {
	connID := req.RequestContext.ConnectionID
	endpoint := endpointOf(req)

	msg, err := ParseInbound(req.Body)
	if err != nil {
		logger.Warn().Err(err).Msg("invalid message")
		h.notifySender(ctx, logger, endpoint, connID, ErrorEvent("invalid message payload"))
		return events.APIGatewayProxyResponse{StatusCode: 400}, nil
	}

	if msg.Action != ActionMessage {
		logger.Warn().Str("action", msg.Action).Msg("unhandled action")
		h.notifySender(ctx, logger, endpoint, connID, ErrorEvent(fmt.Sprintf("unknown action %q", msg.Action)))
		return events.APIGatewayProxyResponse{StatusCode: 400}, nil
	}

	body := strings.TrimSpace(msg.Message)
	if body == "" || msg.RoomID == "" || msg.UserID == "" {
		h.notifySender(ctx, logger, endpoint, connID, ErrorEvent("missing required fields: roomId, userId, message"))
		return events.APIGatewayProxyResponse{StatusCode: 400}, nil
	}

	maxLen := h.MaxBodyLen
	if maxLen == 0 {
		maxLen = 500
	}
	if utf8.RuneCountInString(body) > maxLen {
		h.notifySender(ctx, logger, endpoint, connID, ErrorEvent(fmt.Sprintf("message too long (max %v characters)", maxLen)))
		return events.APIGatewayProxyResponse{StatusCode: 400}, nil
	}

	conn, err := h.Connections.Get(ctx, connID)
	if err != nil {
		logger.Error().Err(err).Msg("failed to verify connection")
		return events.APIGatewayProxyResponse{StatusCode: 500}, nil
	}
	if conn == nil {
		h.notifySender(ctx, logger, endpoint, connID, ErrorEvent("connection not found"))
		return events.APIGatewayProxyResponse{StatusCode: 403}, nil
	}
	if conn.RoomID != msg.RoomID || conn.UserID != msg.UserID {
		logger.Warn().
			Str("claimed_room", msg.RoomID).
			Str("registered_room", conn.RoomID).
			Msg("room or user mismatch")
		h.notifySender(ctx, logger, endpoint, connID, ErrorEvent("room or user mismatch"))
		return events.APIGatewayProxyResponse{StatusCode: 403}, nil
	}

	moderationStart := time.Now()
	result := h.Moderator.Check(ctx, body)
	if h.Metrics != nil {
		h.Metrics.Timing(ctx, chatcli.ModerationLatencyMetric, moderationStart)
	}

	now := time.Now()
	record := messagedao.Message{
		MessageID:          uuid.NewString(),
		RoomID:             conn.RoomID,
		UserID:             conn.UserID,
		Username:           conn.Username,
		Body:               body,
		SentAt:             now.Unix(),
		Outcome:            string(result.Outcome),
		Reason:             result.Reason,
		Sentiment:          result.Sentiment,
		NegativeConfidence: result.NegativeConfidence,
		PIIEntities:        result.PIIEntities,
		TTL:                now.Add(h.ttl()).Unix(),
	}

	// Audit before delivery: the record is written regardless of outcome,
	// and broadcast only happens after the write commits.
	if err := h.Messages.Put(ctx, record); err != nil {
		logger.Error().Err(err).Str("message_id", record.MessageID).Msg("failed to store message")
		return events.APIGatewayProxyResponse{StatusCode: 500}, nil
	}

	if result.IsBlocked() {
		logger.Info().
			Str("message_id", record.MessageID).
			Str("reason", result.Reason).
			Msg("message blocked")
		if h.Metrics != nil {
			h.Metrics.Event(ctx, chatcli.MessagesBlockedMetric, map[chatcli.DimensionName]string{chatcli.RoomDimension: conn.RoomID})
		}
		h.notifySender(ctx, logger, endpoint, connID, ModerationBlockedEvent(result.Reason))
		h.publishAnalytics(ctx, logger, publish.TypeMessageBlocked, conn.RoomID, map[string]string{
			"messageId": record.MessageID,
			"userId":    conn.UserID,
			"reason":    result.Reason,
		})
		return events.APIGatewayProxyResponse{StatusCode: 200}, nil
	}

	data := MessageEvent(record.MessageID, record.RoomID, record.UserID, record.Username, record.Body, record.Sentiment)
	h.broadcast(ctx, logger, conn.RoomID, "", data)

	h.publishAnalytics(ctx, logger, publish.TypeMessageSent, conn.RoomID, map[string]string{
		"messageId": record.MessageID,
		"userId":    conn.UserID,
	})

	logger.Info().
		Str("message_id", record.MessageID).
		Str("room_id", conn.RoomID).
		Msg("message broadcast")
	return events.APIGatewayProxyResponse{StatusCode: 200}, nil
}

// notifySender unicasts a private notice back to the sending connection.
// Failures are logged; peers never see another user's rejections.
func (h *Handler) notifySender(ctx context.Context, logger zerolog.Logger, endpoint, connID string, data []byte) {
	if err := h.Sender.Send(ctx, endpoint, connID, data); err != nil {
		logger.Warn().Err(err).Msg("failed to notify sender")
	}
}

func (h *Handler) publishAnalytics(ctx context.Context, logger zerolog.Logger, eventType, roomID string, payload interface{}) {
	if h.Analytics == nil {
		return
	}
	if err := h.Analytics.Send(ctx, eventType, roomID, payload); err != nil {
		logger.Warn().Err(err).Str("event_type", eventType).Msg("failed to publish analytics event")
	}
}
