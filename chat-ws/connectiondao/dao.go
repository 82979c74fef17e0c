package connectiondao

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go/service/dynamodb/dynamodbiface"
	"github.com/savaki/ddb"
)

// DAO provides access to the chat connections table.
type DAO struct {
	table     *ddb.Table
	api       dynamodbiface.DynamoDBAPI
	tableName string
}

// New creates a new connections DAO.
func New(api dynamodbiface.DynamoDBAPI, tableName string) *DAO {
	return &DAO{
		table:     ddb.New(api).MustTable(tableName, Connection{}),
		api:       api,
		tableName: tableName,
	}
}

// Put stores a connection record.
func (d *DAO) Put(ctx context.Context, conn Connection) error {
	return d.table.Put(conn).RunWithContext(ctx)
}

// Get retrieves a connection record by ID. A missing record returns nil
// rather than an error; disconnects can race TTL expiry.
func (d *DAO) Get(ctx context.Context, connectionID string) (*Connection, error) {
	var conn Connection
	if err := d.table.Get(connectionID).ScanWithContext(ctx, &conn); err != nil {
		if ddb.IsItemNotFoundError(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get connection %v: %w", connectionID, err)
	}
	return &conn, nil
}

// Delete removes a connection record by ID.
func (d *DAO) Delete(ctx context.Context, connectionID string) error {
	return d.table.Delete(connectionID).RunWithContext(ctx)
}

// QueryByRoom returns the live connections for a room using the RoomIndex GSI.
// DynamoDB deletes expired items lazily, so records past their TTL are
// filtered out here to keep them out of broadcast targeting.
func (d *DAO) QueryByRoom(ctx context.Context, roomID string) ([]Connection, error) {
	var conns []Connection
	err := d.table.Query("#RoomID = ?", roomID).
		IndexName("RoomIndex").
		FindAllWithContext(ctx, &conns)
	if err != nil {
		return nil, fmt.Errorf("failed to query connections by room %v: %w", roomID, err)
	}
	return FilterExpired(conns, time.Now()), nil
}

// FilterExpired drops connection records whose TTL has passed.
func FilterExpired(conns []Connection, now time.Time) []Connection {
	cutoff := now.Unix()
	live := conns[:0]
	for _, conn := range conns {
		if conn.TTL != 0 && conn.TTL <= cutoff {
			continue
		}
		live = append(live, conn)
	}
	return live
}
