// Package publish emits chat activity events to the analytics Kinesis stream.
// Delivery is best effort; the chat handlers log and continue when a publish
// fails.
package publish

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/kinesis"
	"github.com/aws/aws-sdk-go/service/kinesis/kinesisiface"
)

// Event types emitted to the analytics stream.
const (
	TypeMessageSent    = "message_sent"
	TypeMessageBlocked = "message_blocked"
	TypeUserLeft       = "user_left"
)

// Envelope is the record format published to the analytics stream.
type Envelope struct {
	Type    string          `json:"type"`
	RoomID  string          `json:"roomId"`
	SentAt  int64           `json:"sentAt"`
	Payload json.RawMessage `json:"payload"`
}

// Publisher publishes chat events to the analytics Kinesis stream.
type Publisher struct {
	client     kinesisiface.KinesisAPI
	streamName string
}

// New creates a new Publisher.
func New(client kinesisiface.KinesisAPI, streamName string) *Publisher {
	return &Publisher{
		client:     client,
		streamName: streamName,
	}
}

// Build creates a new Publisher using the standard stream name for the given
// environment.
func Build(env string) *Publisher {
	sess := session.Must(session.NewSession(aws.NewConfig()))
	client := kinesis.New(sess)
	return New(client, StreamName(env))
}

// StreamName returns the Kinesis stream name for the given environment.
func StreamName(env string) string {
	return env + "-chat-analytics"
}

// Send publishes a chat event. The room is used as the Kinesis partition key
// to preserve ordering within a room.
func (p *Publisher) Send(ctx context.Context, eventType, roomID string, payload interface{}) error {
	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshalling payload: %w", err)
	}

	envelope := Envelope{
		Type:    eventType,
		RoomID:  roomID,
		SentAt:  time.Now().Unix(),
		Payload: payloadBytes,
	}

	data, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("marshalling envelope: %w", err)
	}

	_, err = p.client.PutRecordWithContext(ctx, &kinesis.PutRecordInput{
		StreamName:   aws.String(p.streamName),
		PartitionKey: aws.String(roomID),
		Data:         data,
	})
	if err != nil {
		return fmt.Errorf("publishing to kinesis stream %v: %w", p.streamName, err)
	}

	return nil
}
