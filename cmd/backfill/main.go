// Backfill pushes the full message history into the retrieval index by
// POSTing every stored message to the AI backend's /embed-message endpoint.
// One-shot; safe to re-run, the index upserts by id.
package main

import (
	"context"
	"time"

	"github.com/askchat/backend/internal/askchat"
	"github.com/askchat/backend/internal/config"
	"github.com/askchat/backend/internal/db"
	"github.com/askchat/backend/internal/logger"
	"github.com/askchat/backend/internal/store"
)

func main() {
	cfg := config.Load()

	log, err := logger.New(cfg.Env)
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	gdb := db.Connect(cfg.DBDSN)
	repo := store.NewRepo(gdb)

	client := askchat.NewClient(cfg.AIBackendURL, cfg.BackendToken)

	ctx := context.Background()
	var count, sent, skipped, failed int

	err = repo.ForEachMessage(ctx, func(conv *store.Conversation, msg *store.Message) error {
		count++

		// assistant replies and media-only messages carry no retrieval signal
		if msg.Text == "" || msg.SenderID == config.AssistantID {
			skipped++
			return nil
		}

		embedErr := client.EmbedMessage(ctx, askchat.EmbedRequest{
			ChatID:    conv.ID,
			MessageID: msg.ID,
			Text:      msg.Text,
			SenderID:  msg.SenderID,
			Timestamp: msg.Timestamp.UnixMilli(),
		})
		if embedErr != nil {
			failed++
			log.Warn("backfill fail", "chat_id", conv.ID, "message_id", msg.ID, "err", embedErr)
			return nil
		}
		sent++

		// polite pacing for large histories
		if sent%100 == 0 {
			log.Info("progress", "count", count, "sent", sent, "skipped", skipped, "failed", failed)
			time.Sleep(200 * time.Millisecond)
		}
		return nil
	})
	if err != nil {
		log.Fatal("backfill walk", "err", err)
	}

	log.Info("backfill done", "count", count, "sent", sent, "skipped", skipped, "failed", failed)
}
