package chat

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/askchat/backend/internal/events"
	"github.com/askchat/backend/internal/store"
)

// HandleUserCreated provisions the new user's assistant conversation and
// greets them. The conversation id is derived from the sorted pair, so the
// operation is idempotent by construction: an existing room is a no-op, and
// the worst a redelivery race can produce is a duplicate greeting.
func (s *Service) HandleUserCreated(ctx context.Context, ev events.Event) error {
	if ev.UserID == "" {
		s.log.Warn("user event without user id", "event_id", ev.ID)
		return nil
	}
	return s.ProvisionAssistantConversation(ctx, ev.UserID)
}

func (s *Service) ProvisionAssistantConversation(ctx context.Context, userID string) error {
	convID := store.PairKey(userID, s.assistantID)

	if _, err := s.repo.GetConversation(ctx, convID); err == nil {
		return nil
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return err
	}

	now := time.Now()
	conv := &store.Conversation{
		ID:              convID,
		Type:            store.ConversationSystem,
		Participants:    []string{userID, s.assistantID},
		ParticipantsKey: convID,
		LastMessage: store.LastMessage{
			Text:      welcomeText,
			SenderID:  s.assistantID,
			Timestamp: now,
		},
		UpdatedAt: now,
	}
	if err := s.repo.CreateConversation(ctx, conv); err != nil {
		// a concurrent provision won the derived id; nothing left to do
		if _, getErr := s.repo.GetConversation(ctx, convID); getErr == nil {
			return nil
		}
		return err
	}

	s.log.Info("assistant conversation provisioned", "chat_id", convID, "user_id", userID)

	if err := s.writeReply(ctx, convID, welcomeText, nil); err != nil {
		s.log.Error("welcome message failed", "chat_id", convID, "err", err)
	}
	return nil
}
