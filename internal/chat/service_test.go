package chat

import (
	"context"
	"errors"
	"testing"

	gormsqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"

	"github.com/askchat/backend/internal/askchat"
	"github.com/askchat/backend/internal/events"
	"github.com/askchat/backend/internal/logger"
	"github.com/askchat/backend/internal/push"
	"github.com/askchat/backend/internal/store"
)

const assistantID = "AskChat"

type fakeAsker struct {
	res   *askchat.AskResult
	err   error
	calls int
}

func (f *fakeAsker) Ask(ctx context.Context, question string) (*askchat.AskResult, error) {
	_ = ctx
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.res, nil
}

type pushCall struct {
	tokens []string
	n      push.Notification
	data   map[string]string
}

type fakePush struct {
	calls     []pushCall
	failToken string
}

func (f *fakePush) Send(ctx context.Context, tokens []string, n push.Notification, data map[string]string) error {
	_ = ctx
	f.calls = append(f.calls, pushCall{tokens: append([]string(nil), tokens...), n: n, data: data})
	for _, t := range tokens {
		if t != "" && t == f.failToken {
			return errors.New("registration token expired")
		}
	}
	return nil
}

type fakePublisher struct {
	published []events.Event
}

func (f *fakePublisher) Publish(ctx context.Context, ev events.Event) error {
	_ = ctx
	f.published = append(f.published, ev)
	return nil
}

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(gormsqlite.Open("file:"+t.Name()+"?mode=memory&cache=shared"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := store.AutoMigrate(db); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

func newTestService(t *testing.T, asker Asker, sender push.Sender) (*Service, *store.Repo, *fakePublisher) {
	t.Helper()
	repo := store.NewRepo(openTestDB(t))
	pub := &fakePublisher{}
	svc := NewService(repo, asker, sender, repo, pub, logger.NewNop(), assistantID)
	return svc, repo, pub
}

func seedAssistantRoom(t *testing.T, repo *store.Repo, userID string) *store.Conversation {
	t.Helper()
	id := store.PairKey(userID, assistantID)
	conv := &store.Conversation{
		ID:              id,
		Type:            store.ConversationSystem,
		Participants:    []string{userID, assistantID},
		ParticipantsKey: id,
	}
	if err := repo.CreateConversation(context.Background(), conv); err != nil {
		t.Fatalf("seed assistant room: %v", err)
	}
	return conv
}

func seedMessage(t *testing.T, repo *store.Repo, conversationID, senderID, text, mediaURL string) *store.Message {
	t.Helper()
	id, err := store.NewID()
	if err != nil {
		t.Fatalf("new id: %v", err)
	}
	msg := &store.Message{ID: id, ConversationID: conversationID, SenderID: senderID, Text: text, MediaURL: mediaURL}
	if err := repo.InsertMessage(context.Background(), msg); err != nil {
		t.Fatalf("seed message: %v", err)
	}
	return msg
}

func roomMessages(t *testing.T, repo *store.Repo, conversationID string) []store.Message {
	t.Helper()
	msgs, err := repo.ListMessages(context.Background(), conversationID, 0, "")
	if err != nil {
		t.Fatalf("list messages: %v", err)
	}
	return msgs
}

func TestAssistantRoom_RepliesOnceUnderRedelivery(t *testing.T) {
	asker := &fakeAsker{res: &askchat.AskResult{Answer: "here is what I found"}}
	svc, repo, _ := newTestService(t, asker, &fakePush{})
	ctx := context.Background()

	conv := seedAssistantRoom(t, repo, "u1")
	question := seedMessage(t, repo, conv.ID, "u1", "what did we decide?", "")

	ev := events.NewMessageCreated(conv.ID, question.ID)
	if err := svc.HandleMessageCreated(ctx, ev); err != nil {
		t.Fatalf("first delivery: %v", err)
	}
	// the platform redelivers the same creation event
	if err := svc.HandleMessageCreated(ctx, ev); err != nil {
		t.Fatalf("second delivery: %v", err)
	}

	msgs := roomMessages(t, repo, conv.ID)
	if len(msgs) != 2 {
		t.Fatalf("expected question + one reply, got %d messages", len(msgs))
	}
	reply := msgs[1]
	if reply.SenderID != assistantID {
		t.Fatalf("reply authored by %q, want %q", reply.SenderID, assistantID)
	}
	if reply.Text != "here is what I found" {
		t.Fatalf("unexpected reply text %q", reply.Text)
	}
	if asker.calls != 1 {
		t.Fatalf("expected one backend call, got %d", asker.calls)
	}

	claimed, err := repo.GetMessage(ctx, conv.ID, question.ID)
	if err != nil {
		t.Fatalf("get question: %v", err)
	}
	if !claimed.Handled {
		t.Fatalf("claim flag should end true")
	}
}

func TestAssistantRoom_FallbackOnFailure(t *testing.T) {
	cases := []struct {
		name string
		err  error
	}{
		{"backend error", &askchat.BackendError{Status: 503, Body: "down"}},
		{"timeout", context.DeadlineExceeded},
		{"not configured", askchat.ErrNotConfigured},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			svc, repo, _ := newTestService(t, &fakeAsker{err: tc.err}, &fakePush{})
			conv := seedAssistantRoom(t, repo, "u1")
			question := seedMessage(t, repo, conv.ID, "u1", "anyone there?", "")

			if err := svc.HandleMessageCreated(context.Background(), events.NewMessageCreated(conv.ID, question.ID)); err != nil {
				t.Fatalf("handle: %v", err)
			}

			msgs := roomMessages(t, repo, conv.ID)
			if len(msgs) != 2 {
				t.Fatalf("expected exactly one fallback reply, got %d messages", len(msgs))
			}
			reply := msgs[1]
			if reply.Text != FallbackReply {
				t.Fatalf("unexpected fallback text %q", reply.Text)
			}
			if reply.SenderID != assistantID {
				t.Fatalf("fallback authored by %q", reply.SenderID)
			}
			if len(reply.Sources) != 0 {
				t.Fatalf("fallback must carry no citations, got %v", reply.Sources)
			}
		})
	}
}

func TestAssistantRoom_CitationRoundTrip(t *testing.T) {
	asker := &fakeAsker{res: &askchat.AskResult{
		Answer: "you agreed on friday",
		Sources: []askchat.Source{
			{ChatID: "A", MessageID: "1", Text: "friday works"},
			{ChatID: "B", MessageID: "2"},
		},
	}}
	svc, repo, _ := newTestService(t, asker, &fakePush{})
	ctx := context.Background()

	// the cited conversations and messages exist independently
	for _, seed := range []struct{ chatID, msgID, text string }{
		{"A", "1", "friday works"},
		{"B", "2", "friday it is"},
	} {
		conv := &store.Conversation{ID: seed.chatID, Type: store.ConversationDirect, Participants: []string{"u1", "u2"}, ParticipantsKey: "u1_u2_" + seed.chatID}
		if err := repo.CreateConversation(ctx, conv); err != nil {
			t.Fatalf("seed conv: %v", err)
		}
		if err := repo.InsertMessage(ctx, &store.Message{ID: seed.msgID, ConversationID: seed.chatID, SenderID: "u2", Text: seed.text}); err != nil {
			t.Fatalf("seed cited message: %v", err)
		}
	}

	room := seedAssistantRoom(t, repo, "u1")
	question := seedMessage(t, repo, room.ID, "u1", "when did we agree to meet?", "")
	if err := svc.HandleMessageCreated(ctx, events.NewMessageCreated(room.ID, question.ID)); err != nil {
		t.Fatalf("handle: %v", err)
	}

	msgs := roomMessages(t, repo, room.ID)
	reply := msgs[len(msgs)-1]
	if len(reply.Sources) != 2 || reply.Sources[0] != "A::1" || reply.Sources[1] != "B::2" {
		t.Fatalf("unexpected citation refs %v", reply.Sources)
	}

	cited, err := repo.ResolveSource(ctx, reply.Sources[0])
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if cited.ConversationID != "A" || cited.ID != "1" || cited.Text != "friday works" {
		t.Fatalf("resolved wrong message %+v", cited)
	}
}

func TestFanout_ExcludesSenderAndSkipsTokenless(t *testing.T) {
	sender := &fakePush{}
	svc, repo, _ := newTestService(t, &fakeAsker{}, sender)
	ctx := context.Background()

	conv := &store.Conversation{
		ID:              "group",
		Type:            store.ConversationDirect,
		Participants:    []string{"u1", "u2", "u3", "u4"},
		ParticipantsKey: "group",
	}
	if err := repo.CreateConversation(ctx, conv); err != nil {
		t.Fatalf("seed conv: %v", err)
	}
	for uid, tok := range map[string]string{"u1": "tok-1", "u2": "tok-2", "u3": "tok-3"} {
		if err := repo.AddPushTokens(ctx, uid, tok); err != nil {
			t.Fatalf("seed tokens: %v", err)
		}
	}
	// u4 has no registered tokens

	msg := seedMessage(t, repo, conv.ID, "u1", "hello all", "")
	if err := svc.HandleMessageCreated(ctx, events.NewMessageCreated(conv.ID, msg.ID)); err != nil {
		t.Fatalf("handle: %v", err)
	}

	if len(sender.calls) != 2 {
		t.Fatalf("expected dispatches to u2 and u3 only, got %d", len(sender.calls))
	}
	seen := map[string]bool{}
	for _, call := range sender.calls {
		for _, tok := range call.tokens {
			seen[tok] = true
		}
		if call.data["chatId"] != conv.ID {
			t.Fatalf("missing deep-link chat id in %v", call.data)
		}
		if call.n.Body != "hello all" {
			t.Fatalf("unexpected body %q", call.n.Body)
		}
	}
	if seen["tok-1"] {
		t.Fatalf("sender must never be notified")
	}
	if !seen["tok-2"] || !seen["tok-3"] {
		t.Fatalf("expected tokens for u2 and u3, saw %v", seen)
	}
}

func TestFanout_IsolatesPerRecipientFailures(t *testing.T) {
	sender := &fakePush{failToken: "tok-2"}
	svc, repo, _ := newTestService(t, &fakeAsker{}, sender)
	ctx := context.Background()

	conv := &store.Conversation{
		ID:              "trio",
		Type:            store.ConversationDirect,
		Participants:    []string{"u1", "u2", "u3"},
		ParticipantsKey: "trio",
	}
	if err := repo.CreateConversation(ctx, conv); err != nil {
		t.Fatalf("seed conv: %v", err)
	}
	_ = repo.AddPushTokens(ctx, "u2", "tok-2") // expired
	_ = repo.AddPushTokens(ctx, "u3", "tok-3")

	msg := seedMessage(t, repo, conv.ID, "u1", "ping", "")
	if err := svc.HandleMessageCreated(ctx, events.NewMessageCreated(conv.ID, msg.ID)); err != nil {
		t.Fatalf("fanout failure must not surface: %v", err)
	}

	var u3Reached bool
	for _, call := range sender.calls {
		for _, tok := range call.tokens {
			if tok == "tok-3" {
				u3Reached = true
			}
		}
	}
	if !u3Reached {
		t.Fatalf("delivery to u3 must survive u2's expired token")
	}
}

func TestDirectRoom_NeverCallsBackend(t *testing.T) {
	asker := &fakeAsker{res: &askchat.AskResult{Answer: "should not appear"}}
	svc, repo, _ := newTestService(t, asker, &fakePush{})
	ctx := context.Background()

	conv, _, err := repo.GetOrCreateDirectConversation(ctx, "u1", "u2")
	if err != nil {
		t.Fatalf("create dm: %v", err)
	}
	msg := seedMessage(t, repo, conv.ID, "u1", "lunch?", "")
	if err := svc.HandleMessageCreated(ctx, events.NewMessageCreated(conv.ID, msg.ID)); err != nil {
		t.Fatalf("handle: %v", err)
	}

	if asker.calls != 0 {
		t.Fatalf("dm messages must not reach the answer service")
	}
	if len(roomMessages(t, repo, conv.ID)) != 1 {
		t.Fatalf("no reply expected in dm rooms")
	}
}

func TestSummary_TracksLatestMessage(t *testing.T) {
	svc, repo, pub := newTestService(t, &fakeAsker{}, &fakePush{})
	ctx := context.Background()

	conv, _, err := repo.GetOrCreateDirectConversation(ctx, "u1", "u2")
	if err != nil {
		t.Fatalf("create dm: %v", err)
	}

	var last *store.Message
	for _, text := range []string{"one", "two", "three"} {
		msg, err := svc.SendMessage(ctx, conv.ID, "u1", text, "")
		if err != nil {
			t.Fatalf("send %q: %v", text, err)
		}
		last = msg
		// drive the worker loop by hand
		ev := pub.published[len(pub.published)-1]
		if err := svc.HandleEvent(ctx, ev); err != nil {
			t.Fatalf("handle %q: %v", text, err)
		}
	}

	got, err := repo.GetConversation(ctx, conv.ID)
	if err != nil {
		t.Fatalf("get conversation: %v", err)
	}
	if got.LastMessage.Text != "three" || got.LastMessage.SenderID != "u1" {
		t.Fatalf("unexpected summary %+v", got.LastMessage)
	}
	stored, err := repo.GetMessage(ctx, conv.ID, last.ID)
	if err != nil {
		t.Fatalf("get last message: %v", err)
	}
	if !got.UpdatedAt.Equal(stored.Timestamp) {
		t.Fatalf("updatedAt %v should equal last message timestamp %v", got.UpdatedAt, stored.Timestamp)
	}
}

func TestMediaMessage_UsesPlaceholder(t *testing.T) {
	sender := &fakePush{}
	svc, repo, _ := newTestService(t, &fakeAsker{}, sender)
	ctx := context.Background()

	conv, _, err := repo.GetOrCreateDirectConversation(ctx, "u1", "u2")
	if err != nil {
		t.Fatalf("create dm: %v", err)
	}
	_ = repo.AddPushTokens(ctx, "u2", "tok-2")

	msg := seedMessage(t, repo, conv.ID, "u1", "", "https://cdn.example/pic.jpg")
	if err := svc.HandleMessageCreated(ctx, events.NewMessageCreated(conv.ID, msg.ID)); err != nil {
		t.Fatalf("handle: %v", err)
	}

	got, err := repo.GetConversation(ctx, conv.ID)
	if err != nil {
		t.Fatalf("get conversation: %v", err)
	}
	if got.LastMessage.Text == "" || got.LastMessage.Text == msg.MediaURL {
		t.Fatalf("summary should use a media placeholder, got %q", got.LastMessage.Text)
	}
	if len(sender.calls) != 1 || sender.calls[0].n.Body != got.LastMessage.Text {
		t.Fatalf("push body should match the placeholder")
	}
}

func TestAssistantReply_RunsSummaryAndFanout(t *testing.T) {
	sender := &fakePush{}
	asker := &fakeAsker{res: &askchat.AskResult{Answer: "final answer"}}
	svc, repo, pub := newTestService(t, asker, sender)
	ctx := context.Background()

	conv := seedAssistantRoom(t, repo, "u1")
	_ = repo.AddPushTokens(ctx, "u1", "tok-1")
	question := seedMessage(t, repo, conv.ID, "u1", "q?", "")

	if err := svc.HandleMessageCreated(ctx, events.NewMessageCreated(conv.ID, question.ID)); err != nil {
		t.Fatalf("handle question: %v", err)
	}

	// the reply's own creation event goes through the same pipeline
	if len(pub.published) != 1 {
		t.Fatalf("expected the reply's creation event, got %d events", len(pub.published))
	}
	if err := svc.HandleEvent(ctx, pub.published[0]); err != nil {
		t.Fatalf("handle reply event: %v", err)
	}

	got, err := repo.GetConversation(ctx, conv.ID)
	if err != nil {
		t.Fatalf("get conversation: %v", err)
	}
	if got.LastMessage.Text != "final answer" || got.LastMessage.SenderID != assistantID {
		t.Fatalf("summary should reflect the assistant reply, got %+v", got.LastMessage)
	}

	var u1Notified bool
	for _, call := range sender.calls {
		for _, tok := range call.tokens {
			if tok == "tok-1" {
				u1Notified = true
			}
		}
	}
	if !u1Notified {
		t.Fatalf("the asking user should be notified of the reply")
	}
	if asker.calls != 1 {
		t.Fatalf("the reply event must not trigger another backend call")
	}
}

func TestProvisioning_Idempotent(t *testing.T) {
	svc, repo, _ := newTestService(t, &fakeAsker{}, &fakePush{})
	ctx := context.Background()

	if err := svc.HandleUserCreated(ctx, events.NewUserCreated("newbie")); err != nil {
		t.Fatalf("first provision: %v", err)
	}
	if err := svc.HandleUserCreated(ctx, events.NewUserCreated("newbie")); err != nil {
		t.Fatalf("second provision: %v", err)
	}

	convID := store.PairKey("newbie", assistantID)
	conv, err := repo.GetConversation(ctx, convID)
	if err != nil {
		t.Fatalf("expected exactly one room at %q: %v", convID, err)
	}
	if conv.Type != store.ConversationSystem {
		t.Fatalf("expected system room, got %q", conv.Type)
	}
	if !conv.HasParticipant("newbie") || !conv.HasParticipant(assistantID) {
		t.Fatalf("unexpected participants %v", conv.Participants)
	}

	msgs := roomMessages(t, repo, convID)
	if len(msgs) != 1 {
		t.Fatalf("expected exactly one welcome message, got %d", len(msgs))
	}
	if msgs[0].SenderID != assistantID {
		t.Fatalf("welcome should come from the assistant, got %q", msgs[0].SenderID)
	}
}

func TestSendMessage_RejectsOutsiders(t *testing.T) {
	svc, repo, _ := newTestService(t, &fakeAsker{}, &fakePush{})
	ctx := context.Background()

	conv, _, err := repo.GetOrCreateDirectConversation(ctx, "u1", "u2")
	if err != nil {
		t.Fatalf("create dm: %v", err)
	}
	if _, err := svc.SendMessage(ctx, conv.ID, "intruder", "hi", ""); !errors.Is(err, ErrNotParticipant) {
		t.Fatalf("expected ErrNotParticipant, got %v", err)
	}
}
