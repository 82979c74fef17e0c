package messagedao

// Moderation outcomes recorded against a message.
const (
	OutcomeAllowed = "allowed"
	OutcomeBlocked = "blocked"
)

// Message is a chat message persisted for the moderation audit trail. Every
// validated message is written regardless of outcome; only allowed ones are
// ever broadcast.
type Message struct {
	MessageID          string  `dynamodbav:"pk" ddb:"hash"`
	RoomID             string  `dynamodbav:"room_id" ddb:"gsi_hash:RoomIndex"`
	UserID             string  `dynamodbav:"user_id"`
	Username           string  `dynamodbav:"username"`
	Body               string  `dynamodbav:"body"`
	SentAt             int64   `dynamodbav:"sent_at"`
	Outcome            string  `dynamodbav:"moderation_outcome"`
	Reason             string  `dynamodbav:"moderation_reason"`
	Sentiment          string  `dynamodbav:"sentiment,omitempty"`
	NegativeConfidence float64 `dynamodbav:"negative_confidence,omitempty"`
	PIIEntities        int     `dynamodbav:"pii_entities,omitempty"`
	TTL                int64   `dynamodbav:"ttl"`
}
