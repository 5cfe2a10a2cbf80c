package chat

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/askchat/backend/internal/events"
	"github.com/askchat/backend/internal/store"
)

// ErrNotParticipant rejects reads and writes from users outside a room.
var ErrNotParticipant = errors.New("chat: user is not a participant")

// HandleEvent is the worker's single entry point, dispatching on the
// envelope type.
func (s *Service) HandleEvent(ctx context.Context, ev events.Event) error {
	switch ev.Type {
	case events.TypeMessageCreated:
		return s.HandleMessageCreated(ctx, ev)
	case events.TypeUserCreated:
		return s.HandleUserCreated(ctx, ev)
	default:
		s.log.Warn("unknown event type", "type", ev.Type, "event_id", ev.ID)
		return nil
	}
}

// SendMessage appends a participant-authored message and publishes its
// creation event; the worker picks up summary, fanout and (in assistant
// rooms) the answer from there.
func (s *Service) SendMessage(ctx context.Context, conversationID, senderID, text, mediaURL string) (*store.Message, error) {
	conv, err := s.repo.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if !conv.HasParticipant(senderID) {
		return nil, ErrNotParticipant
	}

	id, err := store.NewID()
	if err != nil {
		return nil, err
	}
	msg := &store.Message{
		ID:             id,
		ConversationID: conversationID,
		SenderID:       senderID,
		Text:           text,
		MediaURL:       mediaURL,
	}
	if err := s.repo.InsertMessage(ctx, msg); err != nil {
		return nil, err
	}
	s.publish(ctx, events.NewMessageCreated(conversationID, msg.ID))
	return msg, nil
}

// CreateOrGetDirectChat resolves the dm room between two users, creating
// it on first request.
func (s *Service) CreateOrGetDirectChat(ctx context.Context, userID, peerID string) (*store.Conversation, error) {
	conv, created, err := s.repo.GetOrCreateDirectConversation(ctx, userID, peerID)
	if err != nil {
		return nil, err
	}
	if created {
		s.log.Info("direct chat created", "chat_id", conv.ID)
	}
	return conv, nil
}

func (s *Service) ListConversations(ctx context.Context, userID string, limit int) ([]store.Conversation, error) {
	return s.repo.ListConversations(ctx, userID, limit)
}

func (s *Service) ListMessages(ctx context.Context, userID, conversationID string, limit int, beforeID string) ([]store.Message, error) {
	conv, err := s.repo.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if !conv.HasParticipant(userID) {
		return nil, ErrNotParticipant
	}
	return s.repo.ListMessages(ctx, conversationID, limit, beforeID)
}

// ResolveSource follows a reply citation back to the message it cites. The
// caller must be a participant of the cited conversation.
func (s *Service) ResolveSource(ctx context.Context, userID, ref string) (*store.Message, error) {
	conversationID, _, err := store.ParseSource(ref)
	if err != nil {
		return nil, err
	}
	conv, err := s.repo.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if !conv.HasParticipant(userID) {
		return nil, ErrNotParticipant
	}
	return s.repo.ResolveSource(ctx, ref)
}

// RegisterPushToken makes sure the profile row exists and unions the
// device token into the user's registered set.
func (s *Service) RegisterPushToken(ctx context.Context, userID, token string) error {
	if err := s.repo.EnsureUser(ctx, userID); err != nil {
		return err
	}
	return s.tokens.AddPushTokens(ctx, userID, token)
}

func (s *Service) UpsertProfile(ctx context.Context, u *store.User) error {
	return s.repo.UpsertUser(ctx, u)
}

// CreateUser registers a profile; first-time creation fires the
// user-created event that drives provisioning. Provisioning itself is
// idempotent, so a racy double publish is harmless.
func (s *Service) CreateUser(ctx context.Context, u *store.User) error {
	_, getErr := s.repo.GetUser(ctx, u.ID)
	if getErr != nil && !errors.Is(getErr, gorm.ErrRecordNotFound) {
		return getErr
	}
	if err := s.repo.UpsertUser(ctx, u); err != nil {
		return err
	}
	if errors.Is(getErr, gorm.ErrRecordNotFound) {
		s.publish(ctx, events.NewUserCreated(u.ID))
	}
	return nil
}

// IsNotFound reports whether err means a missing document.
func IsNotFound(err error) bool {
	return errors.Is(err, gorm.ErrRecordNotFound)
}
