package messagedao

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/aws/aws-sdk-go/service/dynamodb/dynamodbiface"
	"github.com/savaki/ddb"
)

// DAO provides access to the chat messages table.
type DAO struct {
	table     *ddb.Table
	api       dynamodbiface.DynamoDBAPI
	tableName string
}

// New creates a new messages DAO.
func New(api dynamodbiface.DynamoDBAPI, tableName string) *DAO {
	return &DAO{
		table:     ddb.New(api).MustTable(tableName, Message{}),
		api:       api,
		tableName: tableName,
	}
}

// Put stores a message record.
func (d *DAO) Put(ctx context.Context, msg Message) error {
	return d.table.Put(msg).RunWithContext(ctx)
}

// QueryByRoom returns the unexpired messages for a room using the RoomIndex GSI.
func (d *DAO) QueryByRoom(ctx context.Context, roomID string) ([]Message, error) {
	var msgs []Message
	err := d.table.Query("#RoomID = ?", roomID).
		IndexName("RoomIndex").
		FindAllWithContext(ctx, &msgs)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages by room %v: %w", roomID, err)
	}
	return filterExpired(msgs, time.Now()), nil
}

// Recent returns up to limit allowed messages for a room, newest first.
// Blocked messages stay in the audit trail but never surface through history.
func (d *DAO) Recent(ctx context.Context, roomID string, limit int) ([]Message, error) {
	msgs, err := d.QueryByRoom(ctx, roomID)
	if err != nil {
		return nil, err
	}
	return MostRecentAllowed(msgs, limit), nil
}

// MostRecentAllowed filters to allowed messages, sorted newest first, capped
// at limit.
func MostRecentAllowed(msgs []Message, limit int) []Message {
	allowed := make([]Message, 0, len(msgs))
	for _, msg := range msgs {
		if msg.Outcome == OutcomeAllowed {
			allowed = append(allowed, msg)
		}
	}
	sort.Slice(allowed, func(i, j int) bool {
		return allowed[i].SentAt > allowed[j].SentAt
	})
	if limit > 0 && len(allowed) > limit {
		allowed = allowed[:limit]
	}
	return allowed
}

func filterExpired(msgs []Message, now time.Time) []Message {
	cutoff := now.Unix()
	live := msgs[:0]
	for _, msg := range msgs {
		if msg.TTL != 0 && msg.TTL <= cutoff {
			continue
		}
		live = append(live, msg)
	}
	return live
}
