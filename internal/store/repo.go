package store

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type Repo struct {
	db *gorm.DB
}

func NewRepo(db *gorm.DB) *Repo {
	return &Repo{db: db}
}

func (r *Repo) GetConversation(ctx context.Context, id string) (*Conversation, error) {
	var c Conversation
	if err := r.db.WithContext(ctx).First(&c, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *Repo) CreateConversation(ctx context.Context, c *Conversation) error {
	return r.db.WithContext(ctx).Create(c).Error
}

// GetOrCreateDirectConversation looks a dm room up by its deterministic
// participants key and creates it when absent. The unique index on the key
// makes the create race safe: the loser of a concurrent create re-reads the
// winner's row.
func (r *Repo) GetOrCreateDirectConversation(ctx context.Context, userA, userB string) (conv *Conversation, created bool, err error) {
	key := PairKey(userA, userB)

	var existing Conversation
	findErr := r.db.WithContext(ctx).
		Where("type = ? AND participants_key = ?", ConversationDirect, key).
		First(&existing).Error
	if findErr == nil {
		return &existing, false, nil
	}
	if !errors.Is(findErr, gorm.ErrRecordNotFound) {
		return nil, false, findErr
	}

	id, err := NewID()
	if err != nil {
		return nil, false, err
	}
	now := time.Now()
	c := &Conversation{
		ID:              id,
		Type:            ConversationDirect,
		Participants:    []string{userA, userB},
		ParticipantsKey: key,
		LastMessage: LastMessage{
			Text:      "👋 Say hi!",
			SenderID:  userA,
			Timestamp: now,
		},
		UpdatedAt: now,
	}
	if createErr := r.db.WithContext(ctx).Create(c).Error; createErr != nil {
		// lost the create race; the row must exist now
		if getErr := r.db.WithContext(ctx).
			Where("type = ? AND participants_key = ?", ConversationDirect, key).
			First(&existing).Error; getErr == nil {
			return &existing, false, nil
		}
		return nil, false, createErr
	}
	return c, true, nil
}

// ListConversations returns the given user's rooms, most recently updated
// first.
func (r *Repo) ListConversations(ctx context.Context, userID string, limit int) ([]Conversation, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	var all []Conversation
	if err := r.db.WithContext(ctx).
		Order("updated_at DESC").
		Find(&all).Error; err != nil {
		return nil, err
	}
	// participants is a JSON column; membership is filtered here rather than
	// with driver-specific JSON operators so mysql and sqlite behave alike
	out := make([]Conversation, 0, limit)
	for _, c := range all {
		if c.HasParticipant(userID) {
			out = append(out, c)
			if len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

// UpdateSummary overwrites the conversation's denormalized preview with the
// accepted message and bumps updated_at to its timestamp. Last writer wins;
// the summary is advisory.
func (r *Repo) UpdateSummary(ctx context.Context, conversationID string, last LastMessage) error {
	return r.db.WithContext(ctx).Model(&Conversation{}).
		Where("id = ?", conversationID).
		UpdateColumns(map[string]any{
			"last_message_text":      last.Text,
			"last_message_sender_id": last.SenderID,
			"last_message_timestamp": last.Timestamp,
			"updated_at":             last.Timestamp,
		}).Error
}

func (r *Repo) InsertMessage(ctx context.Context, m *Message) error {
	return r.db.WithContext(ctx).Create(m).Error
}

func (r *Repo) GetMessage(ctx context.Context, conversationID, messageID string) (*Message, error) {
	var m Message
	if err := r.db.WithContext(ctx).
		Where("conversation_id = ? AND id = ?", conversationID, messageID).
		First(&m).Error; err != nil {
		return nil, err
	}
	return &m, nil
}

// ListMessages returns messages in ASC timestamp order (oldest -> newest),
// optionally only those strictly before the given message id.
func (r *Repo) ListMessages(ctx context.Context, conversationID string, limit int, beforeID string) ([]Message, error) {
	if limit <= 0 || limit > 200 {
		limit = 100
	}
	q := r.db.WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		Order("timestamp DESC, id DESC").
		Limit(limit)
	if beforeID != "" {
		q = q.Where("id < ?", beforeID)
	}
	var desc []Message
	if err := q.Find(&desc).Error; err != nil {
		return nil, err
	}
	asc := make([]Message, 0, len(desc))
	for i := len(desc) - 1; i >= 0; i-- {
		asc = append(asc, desc[i])
	}
	return asc, nil
}

// ClaimMessage is the idempotency gate: one conditional UPDATE flips
// handled false->true, so of any number of concurrent deliveries exactly
// one observes accepted=true. Already-claimed messages are left untouched.
func (r *Repo) ClaimMessage(ctx context.Context, conversationID, messageID string) (accepted bool, err error) {
	res := r.db.WithContext(ctx).Model(&Message{}).
		Where("conversation_id = ? AND id = ? AND handled = ?", conversationID, messageID, false).
		Update("handled", true)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// ResolveSource follows a citation ref back to the message it points at.
// Broken refs resolve to gorm.ErrRecordNotFound.
func (r *Repo) ResolveSource(ctx context.Context, ref string) (*Message, error) {
	conversationID, messageID, err := ParseSource(ref)
	if err != nil {
		return nil, err
	}
	return r.GetMessage(ctx, conversationID, messageID)
}

func (r *Repo) UpsertUser(ctx context.Context, u *User) error {
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"display_name", "photo_url", "updated_at"}),
	}).Create(u).Error
}

// EnsureUser creates a bare profile row if none exists, leaving existing
// fields alone.
func (r *Repo) EnsureUser(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).
		Create(&User{ID: id}).Error
}

func (r *Repo) GetUser(ctx context.Context, id string) (*User, error) {
	var u User
	if err := r.db.WithContext(ctx).First(&u, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &u, nil
}

// AddPushTokens unions tokens into the user's registered set. Insert-ignore
// on the unique (user_id, token) pair keeps concurrent registrations from
// different devices additive.
func (r *Repo) AddPushTokens(ctx context.Context, userID string, tokens ...string) error {
	rows := make([]PushToken, 0, len(tokens))
	for _, t := range tokens {
		if t == "" {
			continue
		}
		rows = append(rows, PushToken{UserID: userID, Token: t})
	}
	if len(rows) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&rows).Error
}

func (r *Repo) ListPushTokens(ctx context.Context, userID string) ([]string, error) {
	var rows []PushToken
	if err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("id ASC").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	tokens := make([]string, 0, len(rows))
	for _, row := range rows {
		tokens = append(tokens, row.Token)
	}
	return tokens, nil
}

// ForEachMessage walks every message of every conversation in timestamp
// order. Used by the backfill utility.
func (r *Repo) ForEachMessage(ctx context.Context, fn func(conv *Conversation, msg *Message) error) error {
	var convs []Conversation
	if err := r.db.WithContext(ctx).Order("id ASC").Find(&convs).Error; err != nil {
		return err
	}
	for i := range convs {
		var msgs []Message
		if err := r.db.WithContext(ctx).
			Where("conversation_id = ?", convs[i].ID).
			Order("timestamp ASC, id ASC").
			Find(&msgs).Error; err != nil {
			return err
		}
		for j := range msgs {
			if err := fn(&convs[i], &msgs[j]); err != nil {
				return err
			}
		}
	}
	return nil
}
