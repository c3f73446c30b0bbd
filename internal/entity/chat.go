package entity

import "time"

// SessionStatus is the chat session lifecycle; sessions can be closed and
// reopened, so both directions are valid.
type SessionStatus string

const (
	SessionActive SessionStatus = "active"
	SessionClosed SessionStatus = "closed"
)

// CanTransition reports whether the session status toggle is valid.
func (s SessionStatus) CanTransition(next SessionStatus) bool {
	return (s == SessionActive && next == SessionClosed) ||
		(s == SessionClosed && next == SessionActive)
}

// HandledBy names the actor currently answering a session.
type HandledBy string

const (
	HandledByBot   HandledBy = "bot"
	HandledByHuman HandledBy = "human"
)

// SenderRole identifies who authored a chat message.
type SenderRole string

const (
	SenderCustomer SenderRole = "user"
	SenderHuman    SenderRole = "human"
	SenderBot      SenderRole = "bot"
)

// DeliveryStatus tracks message delivery; it is monotonic and never regresses.
type DeliveryStatus string

const (
	DeliverySent      DeliveryStatus = "sent"
	DeliveryDelivered DeliveryStatus = "delivered"
	DeliveryRead      DeliveryStatus = "read"
)

var deliveryRank = map[DeliveryStatus]int{
	DeliverySent:      1,
	DeliveryDelivered: 2,
	DeliveryRead:      3,
}

// Advance returns the later of the two delivery states.
func (s DeliveryStatus) Advance(next DeliveryStatus) DeliveryStatus {
	if deliveryRank[next] > deliveryRank[s] {
		return next
	}
	return s
}

// ChatSession is one customer conversation.
type ChatSession struct {
	ID          string        `json:"id"`
	CustomerID  string        `json:"user_id,omitempty"`
	Channel     string        `json:"channel,omitempty"`
	Status      SessionStatus `json:"status"`
	BotEnabled  bool          `json:"bot_enabled"`
	HandledBy   HandledBy     `json:"handled_by,omitempty"`
	UnreadCount int           `json:"unread_count"`
	LastMessage string        `json:"last_message,omitempty"`
	CreatedAt   time.Time     `json:"created_at,omitempty"`
	UpdatedAt   time.Time     `json:"updated_at,omitempty"`
}

// ChatMessage is one message within a session. The id may still be a
// provisional key while the originating send awaits acknowledgment; the
// correlation id then links the record back to its mutation.
type ChatMessage struct {
	ID            string         `json:"id"`
	SessionID     string         `json:"session_id"`
	SenderRole    SenderRole     `json:"sender_type,omitempty"`
	SenderID      string         `json:"sender_id,omitempty"`
	Text          string         `json:"message_text"`
	Status        DeliveryStatus `json:"delivery_status,omitempty"`
	CorrelationID string         `json:"client_message_id,omitempty"`
	Provisional   bool           `json:"provisional,omitempty"`
	Timestamp     time.Time      `json:"timestamp,omitempty"`
	ReadAt        *time.Time     `json:"read_at,omitempty"`
}
