package connectiondao

// Connection represents a live WebSocket connection stored in DynamoDB.
// Records are immutable once written; they are removed on disconnect or by
// DynamoDB TTL expiry as the backstop for missed disconnect events.
type Connection struct {
	ConnectionID string `dynamodbav:"pk" ddb:"hash"`
	UserID       string `dynamodbav:"user_id"`
	Username     string `dynamodbav:"username"`
	RoomID       string `dynamodbav:"room_id" ddb:"gsi_hash:RoomIndex"`
	Endpoint     string `dynamodbav:"endpoint"`
	ConnectedAt  int64  `dynamodbav:"connected_at"`
	TTL          int64  `dynamodbav:"ttl"`
}
