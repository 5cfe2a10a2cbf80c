package chat

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/askchat/backend/internal/askchat"
	"github.com/askchat/backend/internal/events"
	"github.com/askchat/backend/internal/logger"
	"github.com/askchat/backend/internal/push"
	"github.com/askchat/backend/internal/store"
)

// FallbackReply is written whenever the answer service cannot be reached
// for any reason. The end user never sees the underlying failure kind.
const FallbackReply = "Sorry, I couldn’t reach AskChat’s brain. Try again later."

// emptyAnswerReply covers a 2xx response with no answer text.
const emptyAnswerReply = "Sorry, I couldn’t find anything relevant."

const welcomeText = "Hi! I’m AskChat. Ask me anything about your chats and I’ll answer with sources."

const mediaPlaceholder = "📎 Attachment"

const notificationTitle = "New message"

// Asker is the answer-service client surface the pipeline needs.
type Asker interface {
	Ask(ctx context.Context, question string) (*askchat.AskResult, error)
}

// TokenStore reads and unions per-user push tokens. *store.Repo satisfies
// it directly; redisstore.TokenCache decorates it.
type TokenStore interface {
	ListPushTokens(ctx context.Context, userID string) ([]string, error)
	AddPushTokens(ctx context.Context, userID string, tokens ...string) error
}

// Service runs the message pipeline. Each event is handled by one stateless
// invocation; all shared mutable state lives in the store.
type Service struct {
	repo        *store.Repo
	asker       Asker
	push        push.Sender
	tokens      TokenStore
	pub         events.Publisher
	log         *logger.Logger
	assistantID string
}

func NewService(repo *store.Repo, asker Asker, sender push.Sender, tokens TokenStore, pub events.Publisher, log *logger.Logger, assistantID string) *Service {
	return &Service{
		repo:        repo,
		asker:       asker,
		push:        sender,
		tokens:      tokens,
		pub:         pub,
		log:         log,
		assistantID: assistantID,
	}
}

func (s *Service) AssistantID() string { return s.assistantID }

// HandleMessageCreated processes one message-created event. Two independent
// branches: the assistant branch answers questions in assistant rooms, and
// the unconditional branch maintains the conversation summary and fans out
// notifications. A failure in one branch never aborts the other.
//
// The returned error covers only transient store failures worth a
// redelivery; the claim in the assistant branch makes redelivery safe.
func (s *Service) HandleMessageCreated(ctx context.Context, ev events.Event) error {
	msg, err := s.repo.GetMessage(ctx, ev.ChatID, ev.MessageID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			s.log.Warn("message event for unknown message", "chat_id", ev.ChatID, "message_id", ev.MessageID)
			return nil
		}
		return err
	}
	conv, err := s.repo.GetConversation(ctx, ev.ChatID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			s.log.Warn("message event for unknown conversation", "chat_id", ev.ChatID)
			return nil
		}
		return err
	}

	if s.isAssistantQuestion(conv, msg) {
		s.answer(ctx, conv, msg)
	}

	summaryErr := s.updateSummary(ctx, conv.ID, msg)
	s.notify(ctx, conv, msg)

	// a failed summary write is retried via redelivery; the claim keeps the
	// assistant branch from answering twice, duplicate pushes are tolerated
	return summaryErr
}

func (s *Service) isAssistantQuestion(conv *store.Conversation, msg *store.Message) bool {
	if conv.Type != store.ConversationSystem {
		return false
	}
	if msg.Text == "" {
		s.log.Debug("skip: empty text", "chat_id", conv.ID, "message_id", msg.ID)
		return false
	}
	if msg.SenderID == s.assistantID {
		return false
	}
	return true
}

// answer runs claim -> ask -> reply. It never returns an error: every
// failure past the claim collapses into the fallback reply, and claim
// failures just forfeit this delivery.
func (s *Service) answer(ctx context.Context, conv *store.Conversation, msg *store.Message) {
	accepted, err := s.repo.ClaimMessage(ctx, conv.ID, msg.ID)
	if err != nil {
		// non-fatal: a redelivery gets another chance at the claim
		s.log.Warn("claim update failed", "chat_id", conv.ID, "message_id", msg.ID, "err", err)
		return
	}
	if !accepted {
		s.log.Debug("skip: already handled", "chat_id", conv.ID, "message_id", msg.ID)
		return
	}

	text := FallbackReply
	var sources []string

	res, err := s.asker.Ask(ctx, msg.Text)
	switch {
	case err != nil:
		s.logAskFailure(conv.ID, msg.ID, err)
	case res.Answer == "":
		text = emptyAnswerReply
		sources = formatSources(res.Sources)
	default:
		text = res.Answer
		sources = formatSources(res.Sources)
	}

	if err := s.writeReply(ctx, conv.ID, text, sources); err != nil {
		// claim already spent; matches the original's behavior of not
		// re-answering after a failed reply write
		s.log.Error("reply write failed", "chat_id", conv.ID, "message_id", msg.ID, "err", err)
	}
}

func (s *Service) logAskFailure(chatID, messageID string, err error) {
	var be *askchat.BackendError
	switch {
	case errors.Is(err, askchat.ErrNotConfigured):
		s.log.Error("ask skipped: backend not configured", "chat_id", chatID, "message_id", messageID)
	case errors.As(err, &be):
		s.log.Error("ask failed: backend error", "chat_id", chatID, "message_id", messageID, "status", be.Status, "body", be.Body)
	case errors.Is(err, context.DeadlineExceeded):
		s.log.Error("ask failed: timeout", "chat_id", chatID, "message_id", messageID)
	default:
		s.log.Error("ask failed", "chat_id", chatID, "message_id", messageID, "err", err)
	}
}

func formatSources(in []askchat.Source) []string {
	if len(in) == 0 {
		return nil
	}
	out := make([]string, 0, len(in))
	for _, src := range in {
		out = append(out, store.FormatSource(src.ChatID, src.MessageID))
	}
	return out
}

// writeReply appends an assistant-authored message and republishes a
// message-created event so the summary/notification branch runs for the
// reply as well.
func (s *Service) writeReply(ctx context.Context, conversationID, text string, sources []string) error {
	id, err := store.NewID()
	if err != nil {
		return err
	}
	reply := &store.Message{
		ID:             id,
		ConversationID: conversationID,
		SenderID:       s.assistantID,
		Text:           text,
		Sources:        sources,
	}
	if err := s.repo.InsertMessage(ctx, reply); err != nil {
		return err
	}
	s.publish(ctx, events.NewMessageCreated(conversationID, reply.ID))
	return nil
}

func (s *Service) updateSummary(ctx context.Context, conversationID string, msg *store.Message) error {
	text := msg.Text
	if text == "" {
		text = mediaPlaceholder
	}
	err := s.repo.UpdateSummary(ctx, conversationID, store.LastMessage{
		Text:      text,
		SenderID:  msg.SenderID,
		Timestamp: msg.Timestamp,
	})
	if err != nil {
		s.log.Error("summary update failed", "chat_id", conversationID, "message_id", msg.ID, "err", err)
	}
	return err
}

// notify fans a push out to every participant except the sender. Failures
// are isolated per recipient: one expired token never blocks the rest.
func (s *Service) notify(ctx context.Context, conv *store.Conversation, msg *store.Message) {
	body := msg.Text
	if body == "" {
		body = mediaPlaceholder
	}
	data := map[string]string{"chatId": conv.ID}

	for _, uid := range conv.Participants {
		if uid == msg.SenderID || uid == s.assistantID {
			continue
		}
		tokens, err := s.tokens.ListPushTokens(ctx, uid)
		if err != nil {
			s.log.Warn("token load failed", "chat_id", conv.ID, "user_id", uid, "err", err)
			continue
		}
		if len(tokens) == 0 {
			continue
		}
		if err := s.push.Send(ctx, tokens, push.Notification{Title: notificationTitle, Body: body}, data); err != nil {
			s.log.Warn("push delivery failed", "chat_id", conv.ID, "user_id", uid, "err", err)
		}
	}
}

func (s *Service) publish(ctx context.Context, ev events.Event) {
	if s.pub == nil {
		return
	}
	if err := s.pub.Publish(ctx, ev); err != nil {
		s.log.Error("event publish failed", "type", ev.Type, "chat_id", ev.ChatID, "message_id", ev.MessageID, "err", err)
	}
}
