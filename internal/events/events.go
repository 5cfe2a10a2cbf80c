package events

import (
	"context"
	"time"

	"github.com/google/uuid"
)

const (
	TypeMessageCreated = "message.created"
	TypeUserCreated    = "user.created"
)

// Event is the typed envelope delivered to the worker. Delivery is
// at-least-once; consumers must tolerate redelivery of the same event_id.
type Event struct {
	ID        string    `json:"event_id"`
	Type      string    `json:"type"`
	ChatID    string    `json:"chat_id,omitempty"`
	MessageID string    `json:"message_id,omitempty"`
	UserID    string    `json:"user_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

func NewMessageCreated(chatID, messageID string) Event {
	return Event{
		ID:        uuid.NewString(),
		Type:      TypeMessageCreated,
		ChatID:    chatID,
		MessageID: messageID,
		Timestamp: time.Now(),
	}
}

func NewUserCreated(userID string) Event {
	return Event{
		ID:        uuid.NewString(),
		Type:      TypeUserCreated,
		UserID:    userID,
		Timestamp: time.Now(),
	}
}

// Publisher hands an event to the delivery layer.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}
