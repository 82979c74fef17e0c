package chatws

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/rs/zerolog"
	"github.com/tj/assert"

	"github.com/streamhive/chat-relay/chat-ws/connectiondao"
	"github.com/streamhive/chat-relay/chat-ws/messagedao"
	"github.com/streamhive/chat-relay/moderation"
)

type fakeRegistry struct {
	mu     sync.Mutex
	conns  map[string]connectiondao.Connection
	putErr error
	getErr error
}

func newFakeRegistry(conns ...connectiondao.Connection) *fakeRegistry {
	registry := &fakeRegistry{conns: map[string]connectiondao.Connection{}}
	for _, conn := range conns {
		registry.conns[conn.ConnectionID] = conn
	}
	return registry
}

func (f *fakeRegistry) Put(_ context.Context, conn connectiondao.Connection) error {
	if f.putErr != nil {
		return f.putErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.conns[conn.ConnectionID] = conn
	return nil
}

func (f *fakeRegistry) Get(_ context.Context, connectionID string) (*connectiondao.Connection, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	conn, ok := f.conns[connectionID]
	if !ok {
		return nil, nil
	}
	return &conn, nil
}

func (f *fakeRegistry) Delete(_ context.Context, connectionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.conns, connectionID)
	return nil
}

func (f *fakeRegistry) QueryByRoom(_ context.Context, roomID string) ([]connectiondao.Connection, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var conns []connectiondao.Connection
	for _, conn := range f.conns {
		if conn.RoomID == roomID {
			conns = append(conns, conn)
		}
	}
	return connectiondao.FilterExpired(conns, time.Now()), nil
}

type fakeMessages struct {
	mu      sync.Mutex
	records []messagedao.Message
	err     error
}

func (f *fakeMessages) Put(_ context.Context, msg messagedao.Message) error {
	if f.err != nil {
		return f.err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records = append(f.records, msg)
	return nil
}

type fakeSender struct {
	mu   sync.Mutex
	sent map[string][][]byte
	fail map[string]error
}

func newFakeSender() *fakeSender {
	return &fakeSender{sent: map[string][][]byte{}, fail: map[string]error{}}
}

func (f *fakeSender) Send(_ context.Context, _, connectionID string, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.fail[connectionID]; ok {
		return err
	}
	f.sent[connectionID] = append(f.sent[connectionID], data)
	return nil
}

func (f *fakeSender) events(t *testing.T, connectionID string) []Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	var events []Event
	for _, data := range f.sent[connectionID] {
		var event Event
		assert.NoError(t, json.Unmarshal(data, &event))
		events = append(events, event)
	}
	return events
}

type moderatorFunc func(ctx context.Context, text string) moderation.Result

func (f moderatorFunc) Check(ctx context.Context, text string) moderation.Result {
	return f(ctx, text)
}

var allowAll = moderatorFunc(func(context.Context, string) moderation.Result {
	return moderation.Result{Outcome: moderation.Allowed, Reason: "clean", Sentiment: "POSITIVE"}
})

func blockAll(reason string) moderatorFunc {
	return func(context.Context, string) moderation.Result {
		return moderation.Result{Outcome: moderation.Blocked, Reason: reason}
	}
}

func newTestHandler(registry *fakeRegistry, sender *fakeSender, moderator Moderator) (*Handler, *fakeMessages) {
	messages := &fakeMessages{}
	return &Handler{
		Connections: registry,
		Messages:    messages,
		Moderator:   moderator,
		Sender:      sender,
		Logger:      zerolog.Nop(),
	}, messages
}

func wsRequest(route, connID, body string, params map[string]string) events.APIGatewayWebsocketProxyRequest {
	return events.APIGatewayWebsocketProxyRequest{
		Body:                  body,
		QueryStringParameters: params,
		RequestContext: events.APIGatewayWebsocketProxyRequestContext{
			ConnectionID: connID,
			RouteKey:     route,
			DomainName:   "ws.example.com",
			Stage:        "dev",
		},
	}
}

func inbound(roomID, userID, message string) string {
	b, _ := json.Marshal(InboundMessage{
		Action:  ActionMessage,
		RoomID:  roomID,
		UserID:  userID,
		Message: message,
	})
	return string(b)
}

func liveConn(connID, userID, username, roomID string) connectiondao.Connection {
	return connectiondao.Connection{
		ConnectionID: connID,
		UserID:       userID,
		Username:     username,
		RoomID:       roomID,
		Endpoint:     "https://ws.example.com/dev",
		ConnectedAt:  time.Now().Unix(),
		TTL:          time.Now().Add(time.Hour).Unix(),
	}
}

func TestHandleConnect(t *testing.T) {
	ctx := context.Background()

	t.Run("stores the connection and welcomes it", func(t *testing.T) {
		registry := newFakeRegistry()
		sender := newFakeSender()
		handler, _ := newTestHandler(registry, sender, allowAll)

		resp, err := handler.HandleEvent(ctx, wsRequest("$connect", "c1", "", map[string]string{
			"userId":   "u1",
			"username": "Alice",
			"roomId":   "r1",
		}))
		assert.NoError(t, err)
		assert.Equal(t, 200, resp.StatusCode)

		conn := registry.conns["c1"]
		assert.Equal(t, "u1", conn.UserID)
		assert.Equal(t, "Alice", conn.Username)
		assert.Equal(t, "r1", conn.RoomID)
		assert.Equal(t, "https://ws.example.com/dev", conn.Endpoint)
		assert.True(t, conn.TTL > time.Now().Add(23*time.Hour).Unix())
		assert.True(t, conn.TTL < time.Now().Add(25*time.Hour).Unix())

		welcomes := sender.events(t, "c1")
		assert.Len(t, welcomes, 1)
		assert.Equal(t, EventWelcome, welcomes[0].Type)
		assert.Len(t, sender.sent, 1)
	})

	t.Run("streamId is accepted for the room", func(t *testing.T) {
		registry := newFakeRegistry()
		handler, _ := newTestHandler(registry, newFakeSender(), allowAll)

		_, err := handler.HandleEvent(ctx, wsRequest("$connect", "c1", "", map[string]string{
			"userId":   "u1",
			"streamId": "r1",
		}))
		assert.NoError(t, err)
		assert.Equal(t, "r1", registry.conns["c1"].RoomID)
	})

	t.Run("missing context still connects as anonymous", func(t *testing.T) {
		registry := newFakeRegistry()
		sender := newFakeSender()
		handler, _ := newTestHandler(registry, sender, allowAll)

		resp, err := handler.HandleEvent(ctx, wsRequest("$connect", "c1", "", nil))
		assert.NoError(t, err)
		assert.Equal(t, 200, resp.StatusCode)
		assert.Equal(t, AnonymousUsername, registry.conns["c1"].Username)
	})

	t.Run("storage failure returns 500", func(t *testing.T) {
		registry := newFakeRegistry()
		registry.putErr = fmt.Errorf("throttled")
		handler, _ := newTestHandler(registry, newFakeSender(), allowAll)

		resp, err := handler.HandleEvent(ctx, wsRequest("$connect", "c1", "", nil))
		assert.NoError(t, err)
		assert.Equal(t, 500, resp.StatusCode)
	})
}

func TestHandleMessage(t *testing.T) {
	ctx := context.Background()

	setup := func(moderator Moderator) (*Handler, *fakeRegistry, *fakeSender, *fakeMessages) {
		registry := newFakeRegistry(
			liveConn("c1", "u1", "Alice", "r1"),
			liveConn("c2", "u2", "Bob", "r1"),
			liveConn("c3", "u3", "Carol", "r2"),
		)
		sender := newFakeSender()
		handler, messages := newTestHandler(registry, sender, moderator)
		return handler, registry, sender, messages
	}

	t.Run("broadcasts to the sender's room only", func(t *testing.T) {
		handler, _, sender, messages := setup(allowAll)

		resp, err := handler.HandleEvent(ctx, wsRequest("$default", "c1", inbound("r1", "u1", "hello"), nil))
		assert.NoError(t, err)
		assert.Equal(t, 200, resp.StatusCode)

		for _, connID := range []string{"c1", "c2"} {
			received := sender.events(t, connID)
			assert.Len(t, received, 1)
			assert.Equal(t, EventMessage, received[0].Type)
			assert.Equal(t, "hello", received[0].Message)
			assert.Equal(t, "Alice", received[0].Username)
		}
		assert.Len(t, sender.events(t, "c3"), 0)

		assert.Len(t, messages.records, 1)
		record := messages.records[0]
		assert.Equal(t, messagedao.OutcomeAllowed, record.Outcome)
		assert.Equal(t, "r1", record.RoomID)
		assert.Equal(t, "hello", record.Body)
		assert.NotEmpty(t, record.MessageID)
	})

	t.Run("blocked message is persisted but not broadcast", func(t *testing.T) {
		handler, _, sender, messages := setup(blockAll("contains personal information"))

		resp, err := handler.HandleEvent(ctx, wsRequest("$default", "c2", inbound("r1", "u2", "my email is bob@example.com"), nil))
		assert.NoError(t, err)
		assert.Equal(t, 200, resp.StatusCode)

		notices := sender.events(t, "c2")
		assert.Len(t, notices, 1)
		assert.Equal(t, EventModerationBlocked, notices[0].Type)
		assert.Equal(t, "contains personal information", notices[0].Reason)
		assert.Len(t, sender.events(t, "c1"), 0)
		assert.Len(t, sender.events(t, "c3"), 0)

		assert.Len(t, messages.records, 1)
		assert.Equal(t, messagedao.OutcomeBlocked, messages.records[0].Outcome)
	})

	t.Run("empty body is rejected before moderation", func(t *testing.T) {
		handler, _, sender, messages := setup(allowAll)

		resp, err := handler.HandleEvent(ctx, wsRequest("$default", "c1", inbound("r1", "u1", "   "), nil))
		assert.NoError(t, err)
		assert.Equal(t, 400, resp.StatusCode)
		assert.Len(t, messages.records, 0)

		notices := sender.events(t, "c1")
		assert.Len(t, notices, 1)
		assert.Equal(t, EventError, notices[0].Type)
	})

	t.Run("oversized body is rejected", func(t *testing.T) {
		handler, _, _, messages := setup(allowAll)

		resp, err := handler.HandleEvent(ctx, wsRequest("$default", "c1", inbound("r1", "u1", strings.Repeat("x", 501)), nil))
		assert.NoError(t, err)
		assert.Equal(t, 400, resp.StatusCode)
		assert.Len(t, messages.records, 0)
	})

	t.Run("room mismatch is rejected", func(t *testing.T) {
		handler, _, sender, messages := setup(allowAll)

		resp, err := handler.HandleEvent(ctx, wsRequest("$default", "c1", inbound("r2", "u1", "sneaky"), nil))
		assert.NoError(t, err)
		assert.Equal(t, 403, resp.StatusCode)
		assert.Len(t, messages.records, 0)
		assert.Len(t, sender.events(t, "c3"), 0)

		notices := sender.events(t, "c1")
		assert.Len(t, notices, 1)
		assert.Equal(t, EventError, notices[0].Type)
	})

	t.Run("unregistered connection is rejected", func(t *testing.T) {
		handler, _, _, messages := setup(allowAll)

		resp, err := handler.HandleEvent(ctx, wsRequest("$default", "c9", inbound("r1", "u9", "hello"), nil))
		assert.NoError(t, err)
		assert.Equal(t, 403, resp.StatusCode)
		assert.Len(t, messages.records, 0)
	})

	t.Run("invalid payload is rejected", func(t *testing.T) {
		handler, _, _, messages := setup(allowAll)

		resp, err := handler.HandleEvent(ctx, wsRequest("$default", "c1", "{", nil))
		assert.NoError(t, err)
		assert.Equal(t, 400, resp.StatusCode)
		assert.Len(t, messages.records, 0)
	})

	t.Run("stale target is removed and the rest still receive", func(t *testing.T) {
		handler, registry, sender, _ := setup(allowAll)
		sender.fail["c2"] = fmt.Errorf("GoneException: connection is gone (410)")

		resp, err := handler.HandleEvent(ctx, wsRequest("$default", "c1", inbound("r1", "u1", "hello"), nil))
		assert.NoError(t, err)
		assert.Equal(t, 200, resp.StatusCode)

		assert.Len(t, sender.events(t, "c1"), 1)

		_, stillThere := registry.conns["c2"]
		assert.False(t, stillThere)

		conns, err := registry.QueryByRoom(ctx, "r1")
		assert.NoError(t, err)
		assert.Len(t, conns, 1)
		assert.Equal(t, "c1", conns[0].ConnectionID)
	})

	t.Run("persist failure aborts the broadcast", func(t *testing.T) {
		handler, _, sender, messages := setup(allowAll)
		messages.err = fmt.Errorf("throttled")

		resp, err := handler.HandleEvent(ctx, wsRequest("$default", "c1", inbound("r1", "u1", "hello"), nil))
		assert.NoError(t, err)
		assert.Equal(t, 500, resp.StatusCode)
		assert.Len(t, sender.sent, 0)
	})
}

func TestHandleDisconnect(t *testing.T) {
	ctx := context.Background()

	t.Run("removes the record and notifies the room", func(t *testing.T) {
		registry := newFakeRegistry(
			liveConn("c1", "u1", "Alice", "r1"),
			liveConn("c2", "u2", "Bob", "r1"),
			liveConn("c3", "u3", "Carol", "r2"),
		)
		sender := newFakeSender()
		handler, _ := newTestHandler(registry, sender, allowAll)

		resp, err := handler.HandleEvent(ctx, wsRequest("$disconnect", "c1", "", nil))
		assert.NoError(t, err)
		assert.Equal(t, 200, resp.StatusCode)

		_, stillThere := registry.conns["c1"]
		assert.False(t, stillThere)

		notices := sender.events(t, "c2")
		assert.Len(t, notices, 1)
		assert.Equal(t, EventUserLeft, notices[0].Type)
		assert.Equal(t, "Alice", notices[0].Username)

		assert.Len(t, sender.events(t, "c1"), 0)
		assert.Len(t, sender.events(t, "c3"), 0)
	})

	t.Run("second disconnect is a no-op", func(t *testing.T) {
		registry := newFakeRegistry(liveConn("c1", "u1", "Alice", "r1"))
		handler, _ := newTestHandler(registry, newFakeSender(), allowAll)

		resp, err := handler.HandleEvent(ctx, wsRequest("$disconnect", "c1", "", nil))
		assert.NoError(t, err)
		assert.Equal(t, 200, resp.StatusCode)

		resp, err = handler.HandleEvent(ctx, wsRequest("$disconnect", "c1", "", nil))
		assert.NoError(t, err)
		assert.Equal(t, 200, resp.StatusCode)
	})

	t.Run("expired peers are not notified", func(t *testing.T) {
		expired := liveConn("c2", "u2", "Bob", "r1")
		expired.TTL = time.Now().Add(-time.Minute).Unix()
		registry := newFakeRegistry(liveConn("c1", "u1", "Alice", "r1"), expired)
		sender := newFakeSender()
		handler, _ := newTestHandler(registry, sender, allowAll)

		resp, err := handler.HandleEvent(ctx, wsRequest("$disconnect", "c1", "", nil))
		assert.NoError(t, err)
		assert.Equal(t, 200, resp.StatusCode)
		assert.Len(t, sender.sent, 0)
	})
}

func TestHandleEvent(t *testing.T) {
	t.Run("unknown route", func(t *testing.T) {
		handler, _ := newTestHandler(newFakeRegistry(), newFakeSender(), allowAll)
		resp, err := handler.HandleEvent(context.Background(), wsRequest("$invalid", "c1", "", nil))
		assert.NoError(t, err)
		assert.Equal(t, 400, resp.StatusCode)
	})
}
