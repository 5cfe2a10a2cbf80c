package store

import (
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type ConversationType string

const (
	ConversationDirect ConversationType = "dm"
	ConversationSystem ConversationType = "system"
)

// LastMessage is the denormalized preview kept on a conversation so chat
// lists render without loading the message subcollection.
type LastMessage struct {
	Text      string    `json:"text"`
	SenderID  string    `json:"senderId"`
	Timestamp time.Time `json:"timestamp"`
}

type Conversation struct {
	ID   string           `gorm:"primaryKey;size:64" json:"id"`
	Type ConversationType `gorm:"type:varchar(16);index;not null" json:"type"`

	Participants datatypes.JSONSlice[string] `json:"participants"`

	// Deterministic sorted-pair key. For dm rooms it is the lookup key that
	// makes create-or-get race safe; for assistant rooms it equals the id.
	ParticipantsKey string `gorm:"type:varchar(150);uniqueIndex;not null" json:"-"`

	LastMessage LastMessage `gorm:"embedded;embeddedPrefix:last_message_" json:"lastMessage"`

	CreatedAt time.Time `json:"-"`
	UpdatedAt time.Time `gorm:"index" json:"updatedAt"`
}

func (Conversation) TableName() string { return "conversations" }

func (c *Conversation) HasParticipant(userID string) bool {
	for _, p := range c.Participants {
		if p == userID {
			return true
		}
	}
	return false
}

type Message struct {
	ID             string `gorm:"primaryKey;size:26" json:"id"` // ULID length
	ConversationID string `gorm:"size:64;index;not null" json:"chatId"`

	SenderID string `gorm:"size:64;index;not null" json:"senderId"`
	Text     string `gorm:"type:text" json:"text,omitempty"`
	MediaURL string `gorm:"type:varchar(512)" json:"mediaUrl,omitempty"`

	// Store-assigned creation time; the authoritative sort key. The field is
	// named "timestamp" at every schema boundary.
	Timestamp time.Time `gorm:"column:timestamp;autoCreateTime;index" json:"timestamp"`

	// Handled flips false->true exactly once when an invocation claims the
	// message for answering. Assistant rooms only.
	Handled bool `gorm:"not null;default:false" json:"-"`

	// Citation refs, each "<conversationId>::<messageId>".
	Sources datatypes.JSONSlice[string] `json:"sources,omitempty"`
}

func (Message) TableName() string { return "messages" }

type User struct {
	ID          string    `gorm:"primaryKey;size:64" json:"id"`
	DisplayName string    `gorm:"type:varchar(128)" json:"displayName,omitempty"`
	PhotoURL    string    `gorm:"type:varchar(512)" json:"photoUrl,omitempty"`
	CreatedAt   time.Time `json:"-"`
	UpdatedAt   time.Time `json:"-"`
}

func (User) TableName() string { return "users" }

// PushToken is one registered device token. The unique (user_id, token)
// pair gives arrayUnion semantics: concurrent registrations from several
// devices union instead of overwriting.
type PushToken struct {
	ID        uint64 `gorm:"primaryKey;autoIncrement"`
	UserID    string `gorm:"size:64;index:uniq_user_token,unique,priority:1;not null"`
	Token     string `gorm:"size:255;index:uniq_user_token,unique,priority:2;not null"`
	CreatedAt time.Time
}

func (PushToken) TableName() string { return "user_push_tokens" }

func AutoMigrate(gdb *gorm.DB) error {
	return gdb.AutoMigrate(&Conversation{}, &Message{}, &User{}, &PushToken{})
}
